package concept

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/viant/curator/errs"
	"github.com/viant/curator/internal/logger"
)

// Info summarizes a stored concept.
type Info struct {
	Namespace string `db:"namespace" json:"namespace"`
	Name      string `db:"name" json:"name"`
	Version   int    `db:"version" json:"version"`
}

// Edit is a batch of example mutations applied as one concept version.
type Edit struct {
	// Insert adds examples; ids are assigned when empty.
	Insert []Example
	// Update replaces examples by id.
	Update []Example
	// Remove deletes examples by id.
	Remove []string
}

// Store persists concepts in the concepts table, one JSON record per concept.
type Store struct {
	db     *sqlx.DB
	logger *logger.Logger
	mu     sync.Mutex
}

// NewStore creates a store and its table.
func NewStore(ctx context.Context, db *sqlx.DB, log *logger.Logger) (*Store, error) {
	if db == nil {
		return nil, fmt.Errorf("concept: db is nil")
	}
	_, err := db.ExecContext(ctx, `
CREATE TABLE IF NOT EXISTS concepts (
    namespace  TEXT NOT NULL,
    name       TEXT NOT NULL,
    version    INTEGER NOT NULL,
    concept    TEXT NOT NULL,
    updated_at INTEGER NOT NULL,
    PRIMARY KEY (namespace, name)
)`)
	if err != nil {
		return nil, err
	}
	return &Store{db: db, logger: logger.OrNop(log)}, nil
}

// Create adds an empty concept at version 0.
func (s *Store) Create(ctx context.Context, namespace, name string, typ Type, description string) (*Concept, error) {
	if namespace == "" || name == "" {
		return nil, errs.InvalidArgument("concept: namespace and name are required")
	}
	if typ == "" {
		typ = TypeText
	}
	if typ != TypeText && typ != TypeImage {
		return nil, errs.InvalidArgument("concept %s/%s: unknown type %q", namespace, name, typ)
	}
	c := &Concept{Namespace: namespace, Name: name, Type: typ, Description: description, Data: map[string]Example{}}
	data, err := json.Marshal(c)
	if err != nil {
		return nil, err
	}
	res, err := s.db.ExecContext(ctx, `INSERT OR IGNORE INTO concepts(namespace, name, version, concept, updated_at) VALUES(?, ?, ?, ?, ?)`,
		namespace, name, 0, string(data), time.Now().Unix())
	if err != nil {
		return nil, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, errs.AlreadyExists("concept %s/%s", namespace, name)
	}
	s.logger.Info("concept created", "namespace", namespace, "name", name)
	return c, nil
}

// Get returns a concept or ErrNotFound.
func (s *Store) Get(ctx context.Context, namespace, name string) (*Concept, error) {
	return s.get(ctx, s.db, namespace, name)
}

func (s *Store) get(ctx context.Context, q sqlx.QueryerContext, namespace, name string) (*Concept, error) {
	var data string
	err := sqlx.GetContext(ctx, q, &data, `SELECT concept FROM concepts WHERE namespace = ? AND name = ?`, namespace, name)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errs.NotFound("concept %s/%s", namespace, name)
	}
	if err != nil {
		return nil, err
	}
	c := &Concept{}
	if err = json.Unmarshal([]byte(data), c); err != nil {
		return nil, fmt.Errorf("concept %s/%s: %w", namespace, name, err)
	}
	if c.Data == nil {
		c.Data = map[string]Example{}
	}
	return c, nil
}

// Version returns the current version of a concept.
func (s *Store) Version(ctx context.Context, namespace, name string) (int, error) {
	var version int
	err := s.db.GetContext(ctx, &version, `SELECT version FROM concepts WHERE namespace = ? AND name = ?`, namespace, name)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, errs.NotFound("concept %s/%s", namespace, name)
	}
	return version, err
}

// List returns every concept ordered by namespace and name.
func (s *Store) List(ctx context.Context) ([]Info, error) {
	var out []Info
	err := s.db.SelectContext(ctx, &out, `SELECT namespace, name, version FROM concepts ORDER BY namespace, name`)
	return out, err
}

// Delete removes a concept.
func (s *Store) Delete(ctx context.Context, namespace, name string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM concepts WHERE namespace = ? AND name = ?`, namespace, name)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errs.NotFound("concept %s/%s", namespace, name)
	}
	return nil
}

// Edit applies removals, updates then inserts and bumps the version once.
func (s *Store) Edit(ctx context.Context, namespace, name string, edit Edit) (*Concept, error) {
	return s.update(ctx, namespace, name, func(c *Concept) error {
		for _, id := range edit.Remove {
			if _, ok := c.Data[id]; !ok {
				return errs.NotFound("concept %s/%s: example %q", namespace, name, id)
			}
			delete(c.Data, id)
		}
		for _, e := range edit.Update {
			if _, ok := c.Data[e.ID]; !ok {
				return errs.NotFound("concept %s/%s: example %q", namespace, name, e.ID)
			}
			if err := validateExample(c, e); err != nil {
				return err
			}
			c.Data[e.ID] = normalize(e)
		}
		for _, e := range edit.Insert {
			if e.ID == "" {
				e.ID = uuid.NewString()
			}
			if _, ok := c.Data[e.ID]; ok {
				return errs.AlreadyExists("concept %s/%s: example %q", namespace, name, e.ID)
			}
			if err := validateExample(c, e); err != nil {
				return err
			}
			c.Data[e.ID] = normalize(e)
		}
		return nil
	})
}

// MergeDraft folds a draft into main: draft examples replace main examples
// with identical content and lose their draft tag.
func (s *Store) MergeDraft(ctx context.Context, namespace, name, draft string) (*Concept, error) {
	if draft == "" || draft == DefaultDraft {
		return nil, errs.InvalidArgument("concept %s/%s: cannot merge the %s draft", namespace, name, DefaultDraft)
	}
	return s.update(ctx, namespace, name, func(c *Concept) error {
		drafted := map[string]bool{}
		contents := map[string]bool{}
		for id, e := range c.Data {
			if e.DraftName() == draft {
				drafted[id] = true
				contents[e.content()] = true
			}
		}
		if len(drafted) == 0 {
			return errs.NotFound("concept %s/%s: draft %q", namespace, name, draft)
		}
		for id, e := range c.Data {
			if e.DraftName() == DefaultDraft && contents[e.content()] {
				delete(c.Data, id)
			}
		}
		for id := range drafted {
			e := c.Data[id]
			e.Draft = ""
			c.Data[id] = e
		}
		return nil
	})
}

func (s *Store) update(ctx context.Context, namespace, name string, mutate func(c *Concept) error) (*Concept, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()
	current, err := s.get(ctx, tx, namespace, name)
	if err != nil {
		return nil, err
	}
	next := current.clone()
	if err = mutate(next); err != nil {
		return nil, err
	}
	next.Version = current.Version + 1
	data, err := json.Marshal(next)
	if err != nil {
		return nil, err
	}
	if _, err = tx.ExecContext(ctx, `UPDATE concepts SET version = ?, concept = ?, updated_at = ? WHERE namespace = ? AND name = ?`,
		next.Version, string(data), time.Now().Unix(), namespace, name); err != nil {
		return nil, err
	}
	if err = tx.Commit(); err != nil {
		return nil, err
	}
	s.logger.Debug("concept updated", "namespace", namespace, "name", name, "version", next.Version)
	return next, nil
}

func validateExample(c *Concept, e Example) error {
	switch c.Type {
	case TypeText:
		if e.Text == nil {
			return errs.InvalidArgument("concept %s/%s: example %q has no text", c.Namespace, c.Name, e.ID)
		}
	case TypeImage:
		if len(e.Img) == 0 {
			return errs.InvalidArgument("concept %s/%s: example %q has no image", c.Namespace, c.Name, e.ID)
		}
	}
	return nil
}

func normalize(e Example) Example {
	if e.Draft == DefaultDraft {
		e.Draft = ""
	}
	return e
}
