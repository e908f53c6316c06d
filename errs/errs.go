// Package errs defines the error taxonomy shared by all curator packages.
//
// Every error produced by the engine wraps exactly one of the sentinels below
// so callers can classify failures with errors.Is while the message keeps the
// offending identifier (path, signal key, concept id) for support reports.
package errs

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound reports an unknown path, signal, concept, embedding or dataset.
	ErrNotFound = errors.New("not found")
	// ErrAlreadyExists reports re-enrichment without overwrite or duplicate creation.
	ErrAlreadyExists = errors.New("already exists")
	// ErrInvalidArgument reports malformed input or an unsupported operation on a path.
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrDependencyUnavailable reports a missing upstream artifact such as an embedding.
	ErrDependencyUnavailable = errors.New("dependency unavailable")
	// ErrComputationFailure reports an error raised by a signal's own logic.
	ErrComputationFailure = errors.New("computation failure")
)

// Error is a classified error with a human readable message and optional cause.
type Error struct {
	Kind    error
	Message string
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Is matches the error kind sentinel.
func (e *Error) Is(target error) bool { return target == e.Kind }

// Unwrap returns the underlying cause, if any.
func (e *Error) Unwrap() error { return e.cause }

func newError(kind error, cause error, format string, args ...interface{}) error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), cause: cause}
}

// NotFound returns an ErrNotFound error.
func NotFound(format string, args ...interface{}) error {
	return newError(ErrNotFound, nil, format, args...)
}

// AlreadyExists returns an ErrAlreadyExists error.
func AlreadyExists(format string, args ...interface{}) error {
	return newError(ErrAlreadyExists, nil, format, args...)
}

// InvalidArgument returns an ErrInvalidArgument error.
func InvalidArgument(format string, args ...interface{}) error {
	return newError(ErrInvalidArgument, nil, format, args...)
}

// DependencyUnavailable returns an ErrDependencyUnavailable error.
func DependencyUnavailable(format string, args ...interface{}) error {
	return newError(ErrDependencyUnavailable, nil, format, args...)
}

// ComputationFailure wraps an error raised by a signal. When cause already
// carries a classification it is returned with added context only.
func ComputationFailure(cause error, format string, args ...interface{}) error {
	if Classified(cause) {
		return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), cause)
	}
	return newError(ErrComputationFailure, cause, format, args...)
}

// Column attributes a query-time failure to the named output column.
func Column(column string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("column %q: %w", column, err)
}

// Classified reports whether err already wraps one of the taxonomy sentinels.
func Classified(err error) bool {
	for _, kind := range []error{ErrNotFound, ErrAlreadyExists, ErrInvalidArgument, ErrDependencyUnavailable, ErrComputationFailure} {
		if errors.Is(err, kind) {
			return true
		}
	}
	return false
}
