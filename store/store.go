// Package store is the relational backing store of curator datasets on
// SQLite: JSON documents per row, one table per enrichment, a manifest table,
// and a staging cache for resumable enrichment runs. Nested and repeated
// paths compile to json_extract and json_each.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/viant/curator/errs"
	"github.com/viant/curator/internal/logger"
)

// Store issues declarative queries against the backing database.
type Store struct {
	db     *sqlx.DB
	logger *logger.Logger
}

// New creates the shared tables and returns a store.
func New(ctx context.Context, db *sqlx.DB, log *logger.Logger) (*Store, error) {
	for _, ddl := range []string{ManifestTableDDL(), StagingTableDDL()} {
		if _, err := db.ExecContext(ctx, ddl); err != nil {
			return nil, fmt.Errorf("store: %w", err)
		}
	}
	return &Store{db: db, logger: logger.OrNop(log)}, nil
}

// DB returns the underlying database.
func (s *Store) DB() *sqlx.DB { return s.db }

// Begin starts a write transaction.
func (s *Store) Begin(ctx context.Context) (*sqlx.Tx, error) {
	return s.db.BeginTxx(ctx, nil)
}

// ManifestRef names a stored dataset.
type ManifestRef struct {
	Namespace string `db:"namespace"`
	Name      string `db:"name"`
}

// SaveManifest upserts a serialized manifest.
func (s *Store) SaveManifest(ctx context.Context, exec sqlx.ExecerContext, namespace, name string, manifest []byte) error {
	_, err := exec.ExecContext(ctx, `INSERT OR REPLACE INTO curator_manifest(namespace, name, manifest, updated_at) VALUES(?, ?, ?, ?)`,
		namespace, name, string(manifest), time.Now().UnixNano())
	return err
}

// LoadManifest returns a serialized manifest or ErrNotFound.
func (s *Store) LoadManifest(ctx context.Context, namespace, name string) ([]byte, error) {
	var manifest string
	err := s.db.GetContext(ctx, &manifest, `SELECT manifest FROM curator_manifest WHERE namespace = ? AND name = ?`, namespace, name)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errs.NotFound("dataset %s/%s", namespace, name)
	}
	return []byte(manifest), err
}

// ListManifests lists datasets, optionally restricted to a namespace.
func (s *Store) ListManifests(ctx context.Context, namespace string) ([]ManifestRef, error) {
	var refs []ManifestRef
	if namespace == "" {
		err := s.db.SelectContext(ctx, &refs, `SELECT namespace, name FROM curator_manifest ORDER BY namespace, name`)
		return refs, err
	}
	err := s.db.SelectContext(ctx, &refs, `SELECT namespace, name FROM curator_manifest WHERE namespace = ? ORDER BY name`, namespace)
	return refs, err
}

// DeleteManifest removes a manifest row.
func (s *Store) DeleteManifest(ctx context.Context, exec sqlx.ExecerContext, namespace, name string) error {
	_, err := exec.ExecContext(ctx, `DELETE FROM curator_manifest WHERE namespace = ? AND name = ?`, namespace, name)
	return err
}

// CreateTable runs a DDL statement.
func (s *Store) CreateTable(ctx context.Context, exec sqlx.ExecerContext, ddl string) error {
	_, err := exec.ExecContext(ctx, ddl)
	return err
}

// DropTable drops a table when it exists.
func (s *Store) DropTable(ctx context.Context, exec sqlx.ExecerContext, table string) error {
	_, err := exec.ExecContext(ctx, `DROP TABLE IF EXISTS `+QuoteIdent(table))
	return err
}

// Row is a source document.
type Row struct {
	RowID int64  `db:"rowid"`
	ID    string `db:"id"`
	Doc   []byte `db:"doc"`
}

// InsertRows appends source documents in order.
func (s *Store) InsertRows(ctx context.Context, exec sqlx.ExecerContext, prefix string, rows []Row) error {
	stmt := `INSERT INTO ` + QuoteIdent(RowsTable(prefix)) + `(id, doc) VALUES(?, ?)`
	for _, row := range rows {
		if _, err := exec.ExecContext(ctx, stmt, row.ID, string(row.Doc)); err != nil {
			return fmt.Errorf("store: insert row %q: %w", row.ID, err)
		}
	}
	return nil
}

// RowBatch returns up to limit rows after the given rowid in insertion order.
func (s *Store) RowBatch(ctx context.Context, prefix string, after int64, limit int) ([]Row, error) {
	var rows []Row
	err := s.db.SelectContext(ctx, &rows, `SELECT rowid, id, doc FROM `+QuoteIdent(RowsTable(prefix))+` WHERE rowid > ? ORDER BY rowid LIMIT ?`, after, limit)
	return rows, err
}

// CountRows returns the number of source rows.
func (s *Store) CountRows(ctx context.Context, prefix string) (int, error) {
	var n int
	err := s.db.GetContext(ctx, &n, `SELECT COUNT(*) FROM `+QuoteIdent(RowsTable(prefix)))
	return n, err
}

// Value is one enrichment output keyed by row id.
type Value struct {
	ID    string `db:"id"`
	Value []byte `db:"value"`
}

// EnrichmentValues returns the values of an enrichment table for the given
// row ids, or every row when ids is nil.
func (s *Store) EnrichmentValues(ctx context.Context, table string, ids []string) ([]Value, error) {
	var values []Value
	query := `SELECT id, value FROM ` + QuoteIdent(table)
	var args []interface{}
	if ids != nil {
		query += ` WHERE id IN (SELECT value FROM json_each(?))`
		args = append(args, jsonArray(ids))
	}
	err := s.db.SelectContext(ctx, &values, query+` ORDER BY rowid`, args...)
	return values, err
}

// Staged is a cached per-row signal output.
type Staged struct {
	ID      string `db:"id"`
	Value   []byte `db:"value"`
	Vectors []byte `db:"vectors"`
}

// Stage caches outputs of a running enrichment; existing ids are replaced.
func (s *Store) Stage(ctx context.Context, dataset, enrichment string, items []Staged) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	for _, item := range items {
		var value interface{}
		if item.Value != nil {
			value = string(item.Value)
		}
		if _, err = tx.ExecContext(ctx, `INSERT OR REPLACE INTO curator_staging(dataset, enrichment, id, value, vectors) VALUES(?, ?, ?, ?, ?)`,
			dataset, enrichment, item.ID, value, item.Vectors); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// StagedIDs returns the ids already cached for an enrichment.
func (s *Store) StagedIDs(ctx context.Context, dataset, enrichment string) (map[string]bool, error) {
	var ids []string
	if err := s.db.SelectContext(ctx, &ids, `SELECT id FROM curator_staging WHERE dataset = ? AND enrichment = ?`, dataset, enrichment); err != nil {
		return nil, err
	}
	out := make(map[string]bool, len(ids))
	for _, id := range ids {
		out[id] = true
	}
	return out, nil
}

// StagedItems returns cached outputs ordered by id, after the given id.
func (s *Store) StagedItems(ctx context.Context, dataset, enrichment, after string, limit int) ([]Staged, error) {
	var items []Staged
	err := s.db.SelectContext(ctx, &items, `SELECT id, value, vectors FROM curator_staging WHERE dataset = ? AND enrichment = ? AND id > ? ORDER BY id LIMIT ?`,
		dataset, enrichment, after, limit)
	return items, err
}

// CommitStaged copies cached values into an enrichment table.
func (s *Store) CommitStaged(ctx context.Context, exec sqlx.ExecerContext, dataset, enrichment, table string) error {
	_, err := exec.ExecContext(ctx, `INSERT OR REPLACE INTO `+QuoteIdent(table)+`(id, value) SELECT id, value FROM curator_staging WHERE dataset = ? AND enrichment = ? ORDER BY id`,
		dataset, enrichment)
	return err
}

// ClearStaging drops cached outputs of an enrichment, or of the whole
// dataset when enrichment is empty.
func (s *Store) ClearStaging(ctx context.Context, exec sqlx.ExecerContext, dataset, enrichment string) error {
	if enrichment == "" {
		_, err := exec.ExecContext(ctx, `DELETE FROM curator_staging WHERE dataset = ?`, dataset)
		return err
	}
	_, err := exec.ExecContext(ctx, `DELETE FROM curator_staging WHERE dataset = ? AND enrichment = ?`, dataset, enrichment)
	return err
}

// SampleRows returns up to n source rows in random order.
func (s *Store) SampleRows(ctx context.Context, prefix string, n int) ([]Row, error) {
	var rows []Row
	err := s.db.SelectContext(ctx, &rows, `SELECT rowid, id, doc FROM `+QuoteIdent(RowsTable(prefix))+` ORDER BY random() LIMIT ?`, n)
	return rows, err
}
