package errs

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassification(t *testing.T) {
	err := NotFound("path %q", "a.b")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNotFound))
	assert.False(t, errors.Is(err, ErrInvalidArgument))
	assert.Contains(t, err.Error(), `"a.b"`)
}

func TestComputationFailureKeepsCause(t *testing.T) {
	cause := errors.New("boom")
	err := ComputationFailure(cause, "signal %s", "pii")
	assert.True(t, errors.Is(err, ErrComputationFailure))
	assert.True(t, errors.Is(err, cause))

	classified := ComputationFailure(InvalidArgument("bad"), "signal %s", "pii")
	assert.True(t, errors.Is(classified, ErrInvalidArgument))
	assert.False(t, errors.Is(classified, ErrComputationFailure))
}

func TestColumnAttribution(t *testing.T) {
	err := Column("score", DependencyUnavailable("embedding"))
	assert.Contains(t, err.Error(), `column "score"`)
	assert.True(t, errors.Is(err, ErrDependencyUnavailable))
	assert.Nil(t, Column("x", nil))
}
