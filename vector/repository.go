package vector

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/viant/curator/config"
	"github.com/viant/curator/errs"
	"github.com/viant/curator/internal/codec"
	"github.com/viant/curator/internal/logger"
)

const (
	lockStaleAfter = 10 * time.Minute
	lockRetryDelay = 50 * time.Millisecond
)

var lockOwnerID = fmt.Sprintf("pid:%d-%d", os.Getpid(), time.Now().UnixNano())

// Ref names a persisted vector index: the embedding computed at a source path.
type Ref struct {
	Dataset   string `db:"dataset"`
	Path      string `db:"path"`
	Embedding string `db:"embedding"`
}

func (r Ref) String() string { return r.Dataset + "|" + r.Path + "|" + r.Embedding }

// Repository persists vector indexes in the vector_storage table and shares
// loaded indexes between callers; concurrent loads of one ref decode once.
type Repository struct {
	db          *sqlx.DB
	cfg         config.Vector
	compression codec.Compression
	logger      *logger.Logger

	mu    sync.Mutex
	cache map[string]*cacheEntry
}

// NewRepository creates a repository and its tables.
func NewRepository(ctx context.Context, db *sqlx.DB, cfg config.Vector, log *logger.Logger) (*Repository, error) {
	if db == nil {
		return nil, fmt.Errorf("vector: db is nil")
	}
	compression, err := codec.Parse(cfg.Compression)
	if err != nil {
		return nil, err
	}
	r := &Repository{db: db, cfg: cfg, compression: compression, logger: logger.OrNop(log), cache: map[string]*cacheEntry{}}
	if err = r.ensureSchema(ctx); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *Repository) ensureSchema(ctx context.Context) error {
	_, err := r.db.ExecContext(ctx, `
CREATE TABLE IF NOT EXISTS vector_storage (
    dataset    TEXT NOT NULL,
    path       TEXT NOT NULL,
    embedding  TEXT NOT NULL,
    kind       TEXT NOT NULL,
    spans      BLOB NOT NULL,
    store      BLOB NOT NULL,
    updated_at INTEGER NOT NULL,
    PRIMARY KEY (dataset, path, embedding)
)`)
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx, `
CREATE TABLE IF NOT EXISTS vector_storage_locks (
    dataset   TEXT NOT NULL,
    path      TEXT NOT NULL,
    embedding TEXT NOT NULL,
    owner     TEXT NOT NULL,
    locked_at INTEGER NOT NULL,
    PRIMARY KEY (dataset, path, embedding)
)`)
	return err
}

// New creates an empty index whose store kind suits the expected span count
// and dimensionality; writeBatch bounds the vectors added to the store at once.
func (r *Repository) New(spans, dim, writeBatch int) (*Index, string, error) {
	kind := ResolveKind(r.cfg.Store, spans, dim)
	store, err := NewStore(kind, r.cfg)
	if err != nil {
		return nil, "", err
	}
	return NewIndex(store, writeBatch), kind, nil
}

// Save writes idx through exec, which may be a transaction shared with
// other writes. Call Put after the transaction commits.
func (r *Repository) Save(ctx context.Context, exec sqlx.ExecerContext, ref Ref, kind string, idx *Index) error {
	spans, err := idx.MarshalSpans()
	if err != nil {
		return err
	}
	store, err := idx.Store().MarshalBinary()
	if err != nil {
		return err
	}
	if spans, err = codec.Encode(r.compression, spans); err != nil {
		return err
	}
	if store, err = codec.Encode(r.compression, store); err != nil {
		return err
	}
	_, err = exec.ExecContext(ctx, `INSERT OR REPLACE INTO vector_storage(dataset, path, embedding, kind, spans, store, updated_at) VALUES(?, ?, ?, ?, ?, ?, ?)`,
		ref.Dataset, ref.Path, ref.Embedding, kind, spans, store, time.Now().Unix())
	if err != nil {
		return fmt.Errorf("vector: save %s: %w", ref, err)
	}
	r.logger.Debug("vector index saved", "ref", ref.String(), "kind", kind, "keys", idx.Size(), "spans", idx.SpanCount())
	return nil
}

// Put primes the shared cache with an index that was just saved.
func (r *Repository) Put(ref Ref, idx *Index) {
	r.entry(ref.String()).set(idx)
}

// Invalidate drops a cached index so the next Load reads it again.
func (r *Repository) Invalidate(ref Ref) {
	r.mu.Lock()
	delete(r.cache, ref.String())
	r.mu.Unlock()
}

// Delete removes a persisted index through exec. Call Invalidate after commit.
func (r *Repository) Delete(ctx context.Context, exec sqlx.ExecerContext, ref Ref) error {
	_, err := exec.ExecContext(ctx, `DELETE FROM vector_storage WHERE dataset = ? AND path = ? AND embedding = ?`, ref.Dataset, ref.Path, ref.Embedding)
	return err
}

// DeleteDataset removes every index of a dataset through exec.
func (r *Repository) DeleteDataset(ctx context.Context, exec sqlx.ExecerContext, dataset string) error {
	_, err := exec.ExecContext(ctx, `DELETE FROM vector_storage WHERE dataset = ?`, dataset)
	if err != nil {
		return err
	}
	r.mu.Lock()
	for k := range r.cache {
		if len(k) > len(dataset) && k[:len(dataset)+1] == dataset+"|" {
			delete(r.cache, k)
		}
	}
	r.mu.Unlock()
	return nil
}

// Refs lists persisted indexes of a dataset.
func (r *Repository) Refs(ctx context.Context, dataset string) ([]Ref, error) {
	var refs []Ref
	err := r.db.SelectContext(ctx, &refs, `SELECT dataset, path, embedding FROM vector_storage WHERE dataset = ? ORDER BY path, embedding`, dataset)
	return refs, err
}

// Exists reports whether an index is persisted for ref.
func (r *Repository) Exists(ctx context.Context, ref Ref) (bool, error) {
	var n int
	err := r.db.GetContext(ctx, &n, `SELECT COUNT(*) FROM vector_storage WHERE dataset = ? AND path = ? AND embedding = ?`, ref.Dataset, ref.Path, ref.Embedding)
	return n > 0, err
}

// Load returns the shared index for ref, decoding it at most once at a time.
// A missing index yields ErrNotFound.
func (r *Repository) Load(ctx context.Context, ref Ref) (*Index, error) {
	entry := r.entry(ref.String())
	if idx := entry.get(); idx != nil {
		return idx, nil
	}
	for {
		if idx := entry.get(); idx != nil {
			return idx, nil
		}
		if entry.startBuild() {
			break
		}
		if idx := entry.waitForBuild(); idx != nil {
			return idx, nil
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
	}
	defer entry.finishBuild()
	idx, err := r.read(ctx, ref)
	if err != nil {
		return nil, err
	}
	entry.set(idx)
	return idx, nil
}

type storageRow struct {
	Kind  string `db:"kind"`
	Spans []byte `db:"spans"`
	Store []byte `db:"store"`
}

func (r *Repository) read(ctx context.Context, ref Ref) (*Index, error) {
	var row storageRow
	err := r.db.GetContext(ctx, &row, `SELECT kind, spans, store FROM vector_storage WHERE dataset = ? AND path = ? AND embedding = ?`, ref.Dataset, ref.Path, ref.Embedding)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errs.NotFound("vector index for embedding %q at path %q", ref.Embedding, ref.Path)
	}
	if err != nil {
		return nil, err
	}
	store, err := NewStore(row.Kind, r.cfg)
	if err != nil {
		return nil, err
	}
	data, err := codec.Decode(row.Store)
	if err != nil {
		return nil, err
	}
	if err = store.UnmarshalBinary(data); err != nil {
		return nil, err
	}
	spans, err := codec.Decode(row.Spans)
	if err != nil {
		return nil, err
	}
	idx := NewIndex(store, 0)
	if err = idx.restore(spans); err != nil {
		return nil, err
	}
	r.logger.Debug("vector index loaded", "ref", ref.String(), "kind", row.Kind, "keys", idx.Size())
	return idx, nil
}

// Lock takes the cross-connection build lock for ref. A lock older than
// lockStaleAfter is taken over.
func (r *Repository) Lock(ctx context.Context, ref Ref) (func(), error) {
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		owner, err := r.tryLock(ctx, ref)
		if err != nil {
			return nil, err
		}
		if owner == lockOwnerID {
			return func() {
				_, _ = r.db.ExecContext(context.Background(), `DELETE FROM vector_storage_locks WHERE dataset = ? AND path = ? AND embedding = ? AND owner = ?`, ref.Dataset, ref.Path, ref.Embedding, lockOwnerID)
			}, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(lockRetryDelay):
		}
	}
}

func (r *Repository) tryLock(ctx context.Context, ref Ref) (string, error) {
	now := time.Now().Unix()
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return "", err
	}
	defer func() { _ = tx.Rollback() }()
	if _, err = tx.ExecContext(ctx, `INSERT OR IGNORE INTO vector_storage_locks(dataset, path, embedding, owner, locked_at) VALUES(?, ?, ?, ?, ?)`, ref.Dataset, ref.Path, ref.Embedding, lockOwnerID, now); err != nil {
		return "", err
	}
	var lock struct {
		Owner    string `db:"owner"`
		LockedAt int64  `db:"locked_at"`
	}
	if err = tx.GetContext(ctx, &lock, `SELECT owner, locked_at FROM vector_storage_locks WHERE dataset = ? AND path = ? AND embedding = ?`, ref.Dataset, ref.Path, ref.Embedding); err != nil {
		return "", err
	}
	if lock.Owner != lockOwnerID && lock.LockedAt <= time.Now().Add(-lockStaleAfter).Unix() {
		res, err := tx.ExecContext(ctx, `UPDATE vector_storage_locks SET owner = ?, locked_at = ? WHERE dataset = ? AND path = ? AND embedding = ? AND locked_at = ?`, lockOwnerID, now, ref.Dataset, ref.Path, ref.Embedding, lock.LockedAt)
		if err != nil {
			return "", err
		}
		if n, _ := res.RowsAffected(); n > 0 {
			lock.Owner = lockOwnerID
		}
	}
	return lock.Owner, tx.Commit()
}

func (r *Repository) entry(key string) *cacheEntry {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry := r.cache[key]
	if entry == nil {
		entry = newCacheEntry()
		r.cache[key] = entry
	}
	return entry
}

type cacheEntry struct {
	mu       sync.Mutex
	idx      *Index
	building bool
	cond     *sync.Cond
}

func newCacheEntry() *cacheEntry {
	e := &cacheEntry{}
	e.cond = sync.NewCond(&e.mu)
	return e
}

func (e *cacheEntry) get() *Index {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.idx
}

func (e *cacheEntry) set(idx *Index) {
	e.mu.Lock()
	e.idx = idx
	e.mu.Unlock()
}

func (e *cacheEntry) startBuild() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.idx != nil || e.building {
		return false
	}
	e.building = true
	return true
}

func (e *cacheEntry) waitForBuild() *Index {
	e.mu.Lock()
	for e.building {
		e.cond.Wait()
	}
	idx := e.idx
	e.mu.Unlock()
	return idx
}

func (e *cacheEntry) finishBuild() {
	e.mu.Lock()
	e.building = false
	e.cond.Broadcast()
	e.mu.Unlock()
}
