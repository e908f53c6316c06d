package vec

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"

	"modernc.org/sqlite/vtab"

	"github.com/viant/curator/vector"
)

// Source resolves the vector indexes of a dataset named "namespace/name".
type Source interface {
	VectorIndex(ctx context.Context, dataset, path, embedding string) (*vector.Index, error)
	VectorRefs(ctx context.Context, dataset string) ([]vector.Ref, error)
}

// Modules are registered once per process; binding tracks the latest Source.
var binding = struct {
	mu     sync.RWMutex
	source Source
}{}

func bound() (Source, error) {
	binding.mu.RLock()
	defer binding.mu.RUnlock()
	if binding.source == nil {
		return nil, fmt.Errorf("vec: no source registered")
	}
	return binding.source, nil
}

// Bind points both modules at src; the latest binding wins.
func Bind(src Source) {
	binding.mu.Lock()
	binding.source = src
	binding.mu.Unlock()
}

// Register installs curator_knn and curator_vectors on db. Call it before
// the first statement so every pooled connection sees the modules.
func Register(db *sql.DB) error {
	if err := registerModule(db, "curator_knn", &knnModule{}); err != nil {
		return err
	}
	return registerModule(db, "curator_vectors", &vectorsModule{})
}

func registerModule(db *sql.DB, name string, m vtab.Module) error {
	if err := vtab.RegisterModule(db, name, m); err != nil && !strings.Contains(err.Error(), "already registered") {
		return err
	}
	return nil
}

func asString(v vtab.Value, column string) (string, error) {
	switch val := v.(type) {
	case string:
		return val, nil
	case []byte:
		return string(val), nil
	case nil:
		return "", fmt.Errorf("vec: %s is nil", column)
	default:
		return "", fmt.Errorf("vec: unsupported %s type %T", column, v)
	}
}

// parseOptions reads key=value module arguments, unquoting values.
func parseOptions(args []string) map[string]string {
	opts := map[string]string{}
	for _, raw := range args {
		key, val, ok := strings.Cut(strings.TrimSpace(raw), "=")
		if !ok {
			continue
		}
		val = strings.TrimSpace(val)
		if len(val) >= 2 && (val[0] == '\'' || val[0] == '"') && val[len(val)-1] == val[0] {
			val = val[1 : len(val)-1]
		}
		opts[strings.ToLower(strings.TrimSpace(key))] = val
	}
	return opts
}
