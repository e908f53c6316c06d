package vector

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/viant/curator/config"
	"github.com/viant/curator/engine"
	"github.com/viant/curator/errs"
)

func newRepository(t *testing.T, store string) *Repository {
	db, err := engine.Open(filepath.Join(t.TempDir(), "vectors.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	cfg := config.Default().Vector
	cfg.Store = store
	repo, err := NewRepository(context.Background(), sqlx.NewDb(db, "sqlite"), cfg, nil)
	require.NoError(t, err)
	return repo
}

func TestRepositorySaveLoad(t *testing.T) {
	for _, kind := range []string{config.VectorStoreExact, config.VectorStoreCover} {
		t.Run(kind, func(t *testing.T) {
			ctx := context.Background()
			repo := newRepository(t, kind)
			ref := Ref{Dataset: "local/docs", Path: "text", Embedding: "test_embed"}

			_, err := repo.Load(ctx, ref)
			assert.True(t, errors.Is(err, errs.ErrNotFound))

			idx, resolved, err := repo.New(6, 2, 4)
			require.NoError(t, err)
			assert.Equal(t, kind, resolved)
			require.NoError(t, idx.Add(docEntries([]float32{8, 1}, []float32{9, 7}, []float32{3, 5})))
			require.NoError(t, repo.Save(ctx, repo.db, ref, resolved, idx))
			repo.Invalidate(ref)

			exists, err := repo.Exists(ctx, ref)
			require.NoError(t, err)
			assert.True(t, exists)

			var wg sync.WaitGroup
			loaded := make([]*Index, 4)
			for i := range loaded {
				wg.Add(1)
				go func(i int) {
					defer wg.Done()
					loaded[i], _ = repo.Load(ctx, ref)
				}(i)
			}
			wg.Wait()
			require.NotNil(t, loaded[0])
			for i := 1; i < len(loaded); i++ {
				assert.Same(t, loaded[0], loaded[i])
			}
			results, err := loaded[0].TopK([]float32{1, 0}, 2, nil)
			require.NoError(t, err)
			assert.Equal(t, []string{"b", "a"}, keyIDs(results))

			refs, err := repo.Refs(ctx, ref.Dataset)
			require.NoError(t, err)
			assert.Equal(t, []Ref{ref}, refs)

			require.NoError(t, repo.Delete(ctx, repo.db, ref))
			repo.Invalidate(ref)
			_, err = repo.Load(ctx, ref)
			assert.True(t, errors.Is(err, errs.ErrNotFound))
		})
	}
}

func TestRepositoryLock(t *testing.T) {
	ctx := context.Background()
	repo := newRepository(t, config.VectorStoreExact)
	ref := Ref{Dataset: "d", Path: "p", Embedding: "e"}
	unlock, err := repo.Lock(ctx, ref)
	require.NoError(t, err)
	unlock()
	unlock, err = repo.Lock(ctx, ref)
	require.NoError(t, err)
	unlock()
}
