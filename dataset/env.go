// Package dataset is the query and enrichment engine over stored datasets:
// it computes signals into new schema branches, resolves column paths, and
// answers row, group and stats queries against the backing store.
package dataset

import (
	"context"
	"strings"
	"sync"

	"github.com/jmoiron/sqlx"

	"github.com/viant/curator/concept"
	"github.com/viant/curator/config"
	"github.com/viant/curator/engine"
	"github.com/viant/curator/errs"
	"github.com/viant/curator/internal/logger"
	"github.com/viant/curator/schema"
	"github.com/viant/curator/store"
	"github.com/viant/curator/tasks"
	"github.com/viant/curator/vec"
	"github.com/viant/curator/vector"
)

// Env bundles the shared services datasets run against.
type Env struct {
	DB       *sqlx.DB
	Config   *config.Config
	Logger   *logger.Logger
	Store    *store.Store
	Vectors  *vector.Repository
	Concepts *concept.Manager
	Tasks    *tasks.Manager

	datasets sync.Map
}

// NewEnv creates every shared table and service on db, registers the
// concept signals and binds the SQL vector modules to the new Env.
func NewEnv(ctx context.Context, db *sqlx.DB, cfg *config.Config, log *logger.Logger) (*Env, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	log = logger.OrNop(log)
	st, err := store.New(ctx, db, log)
	if err != nil {
		return nil, err
	}
	vectors, err := vector.NewRepository(ctx, db, cfg.Vector, log)
	if err != nil {
		return nil, err
	}
	concepts, err := concept.NewStore(ctx, db, log)
	if err != nil {
		return nil, err
	}
	models, err := concept.NewManager(ctx, db, concepts, cfg.Concept, log)
	if err != nil {
		return nil, err
	}
	concept.RegisterSignals(models)
	env := &Env{
		DB:       db,
		Config:   cfg,
		Logger:   log,
		Store:    st,
		Vectors:  vectors,
		Concepts: models,
		Tasks:    tasks.NewManager(cfg.Enrichment.Workers, log),
	}
	vec.Bind(env)
	return env, nil
}

// openRef opens a dataset referenced as "namespace/name".
func (e *Env) openRef(ctx context.Context, ref string) (*Dataset, error) {
	namespace, name, ok := strings.Cut(ref, "/")
	if !ok || namespace == "" || name == "" {
		return nil, errs.InvalidArgument("dataset %q must be namespace/name", ref)
	}
	return Open(ctx, e, namespace, name)
}

// VectorIndex loads the index of embedding computed at path of a dataset.
func (e *Env) VectorIndex(ctx context.Context, dataset, path, embedding string) (*vector.Index, error) {
	d, err := e.openRef(ctx, dataset)
	if err != nil {
		return nil, err
	}
	p, err := schema.ParsePath(path)
	if err != nil {
		return nil, err
	}
	if enrichment, ok := d.Manifest().Enrichment(p, embedding); !ok || !enrichment.VectorIndex {
		return nil, errs.NotFound("vector index for embedding %q at path %q", embedding, path)
	}
	return e.Vectors.Load(ctx, d.vectorRef(p, embedding))
}

// VectorRefs lists the vector indexes of a dataset.
func (e *Env) VectorRefs(ctx context.Context, dataset string) ([]vector.Ref, error) {
	d, err := e.openRef(ctx, dataset)
	if err != nil {
		return nil, err
	}
	var refs []vector.Ref
	for _, enrichment := range d.Manifest().Enrichments {
		if enrichment.VectorIndex {
			refs = append(refs, vector.Ref{Dataset: dataset, Path: enrichment.Path.String(), Embedding: enrichment.Key})
		}
	}
	return refs, nil
}

// OpenEnv opens a SQLite database at dsn and builds an Env on it. The logger
// follows cfg.Log.Mode.
func OpenEnv(ctx context.Context, dsn string, cfg *config.Config) (*Env, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	log, err := logger.New(cfg.Log.Mode)
	if err != nil {
		return nil, err
	}
	db, err := engine.Open(dsn)
	if err != nil {
		return nil, err
	}
	if err = vec.Register(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	env, err := NewEnv(ctx, sqlx.NewDb(db, "sqlite"), cfg, log)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return env, nil
}

// Close stops background jobs and closes the database.
func (e *Env) Close() error {
	e.Tasks.Close()
	e.Logger.Sync()
	return e.DB.Close()
}
