package dataset

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/viant/curator/config"
	"github.com/viant/curator/errs"
	"github.com/viant/curator/schema"
	"github.com/viant/curator/signal"
	"github.com/viant/curator/tasks"
)

const testEmbedding = "dataset_test_embed"

func newEnv(t *testing.T, configure ...func(cfg *config.Config)) *Env {
	cfg := config.Default()
	cfg.Enrichment.BatchSize = 2
	for _, fn := range configure {
		fn(cfg)
	}
	env, err := OpenEnv(context.Background(), filepath.Join(t.TempDir(), "curator.db"), cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = env.Close() })
	t.Cleanup(signal.Reset)
	require.NoError(t, signal.RegisterEmbedding(testEmbedding, signal.EmbedFunc(func(_ context.Context, s string) ([]float32, error) {
		return []float32{float32(strings.Count(s, "cat")) + 0.1, float32(strings.Count(s, "dog")) + 0.1}, nil
	}), signal.EmbeddingOptions{}))
	return env
}

func animals(t *testing.T, env *Env) *Dataset {
	ds, err := Create(context.Background(), env, "local", "animals", []map[string]interface{}{
		{schema.RowIDKey: "r1", "text": "a cat sat", "age": 34, "tags": []interface{}{"pet", "small"}},
		{schema.RowIDKey: "r2", "text": "dogs bark", "age": 70, "tags": []interface{}{"pet"}},
		{schema.RowIDKey: "r3", "text": "cat cat dog", "age": 12},
		{schema.RowIDKey: "r4", "text": "dog dog", "age": 55, "tags": []interface{}{"wild"}},
		{schema.RowIDKey: "r5", "text": "fish swim", "age": 25},
	}, nil)
	require.NoError(t, err)
	return ds
}

func rowIDs(rows *Rows) []string {
	out := make([]string, len(rows.Rows))
	for i, row := range rows.Rows {
		out[i] = row[schema.RowIDKey].(string)
	}
	return out
}

// flakySignal fails on one input value and counts the values it computed.
type flakySignal struct {
	failOn string
	calls  *atomic.Int64
}

func (s *flakySignal) Name() string          { return "flaky" }
func (s *flakySignal) Kind() signal.Kind     { return signal.KindPlain }
func (s *flakySignal) Fields() *schema.Field { return schema.Scalar(schema.Int32) }
func (s *flakySignal) Compute(ctx context.Context, values []interface{}) ([]interface{}, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out := make([]interface{}, len(values))
	for i, v := range values {
		if v == s.failOn {
			return nil, fmt.Errorf("cannot process %q", v)
		}
		out[i] = len(v.(string))
	}
	s.calls.Add(int64(len(values)))
	return out, nil
}

// shortSignal returns fewer outputs than inputs.
type shortSignal struct{}

func (s *shortSignal) Name() string          { return "short" }
func (s *shortSignal) Kind() signal.Kind     { return signal.KindPlain }
func (s *shortSignal) Fields() *schema.Field { return schema.Scalar(schema.Int32) }
func (s *shortSignal) Compute(_ context.Context, values []interface{}) ([]interface{}, error) {
	return values[1:], nil
}

func TestDatasetLifecycle(t *testing.T) {
	ctx := context.Background()
	env := newEnv(t)
	ds := animals(t, env)

	_, err := Create(ctx, env, "local", "animals", nil, nil)
	assert.True(t, errors.Is(err, errs.ErrAlreadyExists))

	opened, err := Open(ctx, env, "local", "animals")
	require.NoError(t, err)
	assert.Same(t, ds, opened)
	assert.Equal(t, 5, opened.Manifest().NumRows)
	age, err := ds.Schema().GetField(schema.Path{"age"})
	require.NoError(t, err)
	assert.Equal(t, schema.Int64, age.DType)

	refs, err := List(ctx, env, "local")
	require.NoError(t, err)
	require.Len(t, refs, 1)
	assert.Equal(t, "animals", refs[0].Name)

	require.NoError(t, ds.Delete(ctx))
	_, err = Open(ctx, env, "local", "animals")
	assert.True(t, errors.Is(err, errs.ErrNotFound))
}

func TestManifestSurvivesReopen(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	cfg := config.Default()
	env, err := OpenEnv(ctx, filepath.Join(dir, "curator.db"), cfg)
	require.NoError(t, err)
	t.Cleanup(signal.Reset)
	ds := animals(t, env)
	require.NoError(t, ds.ComputeSignal(ctx, &signal.TextStatistics{}, schema.Path{"text"}, ComputeOptions{}))
	require.NoError(t, env.Close())

	env, err = OpenEnv(ctx, filepath.Join(dir, "curator.db"), cfg)
	require.NoError(t, err)
	defer env.Close()
	reopened, err := Open(ctx, env, "local", "animals")
	require.NoError(t, err)
	assert.True(t, reopened.Schema().HasField(schema.Path{"text", "text_statistics", "num_words"}))
}

func TestComputeSignal(t *testing.T) {
	ctx := context.Background()
	env := newEnv(t)
	ds := animals(t, env)
	var mu sync.Mutex
	reported := 0
	require.NoError(t, ds.ComputeSignal(ctx, &signal.TextStatistics{}, schema.Path{"text"}, ComputeOptions{
		Progress: func(done, total int) {
			mu.Lock()
			defer mu.Unlock()
			assert.Equal(t, 5, total)
			reported = max(reported, done)
		},
	}))
	assert.Equal(t, 5, reported)

	field, err := ds.Schema().GetField(schema.Path{"text", "text_statistics"})
	require.NoError(t, err)
	assert.Contains(t, string(field.Signal), `"signal_name":"text_statistics"`)

	rows, err := ds.SelectRows(ctx, Query{Columns: []Column{Col("text")}})
	require.NoError(t, err)
	require.Len(t, rows.Rows, 5)
	assert.EqualValues(t, 3, rows.Rows[0]["text.text_statistics.num_words"])
	assert.Equal(t, "a cat sat", rows.Rows[0]["text"])

	err = ds.ComputeSignal(ctx, &signal.TextStatistics{}, schema.Path{"text"}, ComputeOptions{})
	assert.True(t, errors.Is(err, errs.ErrAlreadyExists))
	require.NoError(t, ds.ComputeSignal(ctx, &signal.TextStatistics{}, schema.Path{"text"}, ComputeOptions{Overwrite: true}))
	assert.Len(t, ds.Manifest().Enrichments, 1)

	err = ds.ComputeSignal(ctx, &signal.PII{}, schema.Path{"text", "text_statistics", "num_words"}, ComputeOptions{})
	assert.True(t, errors.Is(err, errs.ErrInvalidArgument))
	err = ds.ComputeSignal(ctx, &signal.PII{}, schema.Path{"missing"}, ComputeOptions{})
	assert.True(t, errors.Is(err, errs.ErrNotFound))
	err = ds.ComputeSignal(ctx, &shortSignal{}, schema.Path{"text"}, ComputeOptions{})
	assert.True(t, errors.Is(err, errs.ErrInvalidArgument))
}

func TestComputeSignalIsAtomicAndResumes(t *testing.T) {
	ctx := context.Background()
	env := newEnv(t, func(cfg *config.Config) { cfg.Enrichment.Workers = 1 })
	ds := animals(t, env)
	calls := &atomic.Int64{}

	err := ds.ComputeSignal(ctx, &flakySignal{failOn: "cat cat dog", calls: calls}, schema.Path{"text"}, ComputeOptions{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, errs.ErrComputationFailure))
	assert.Empty(t, ds.Manifest().Enrichments)
	assert.False(t, ds.Schema().HasField(schema.Path{"text", "flaky"}))

	calls.Store(0)
	require.NoError(t, ds.ComputeSignal(ctx, &flakySignal{calls: calls}, schema.Path{"text"}, ComputeOptions{}))
	assert.EqualValues(t, 3, calls.Load())

	rows, err := ds.SelectRows(ctx, Query{Columns: []Column{Col("text", "flaky")}})
	require.NoError(t, err)
	var lengths []interface{}
	for _, row := range rows.Rows {
		lengths = append(lengths, row["text.flaky"])
	}
	assert.EqualValues(t, []interface{}{9.0, 9.0, 11.0, 7.0, 9.0}, lengths)
}

func TestComputeSignalCancelled(t *testing.T) {
	env := newEnv(t)
	ds := animals(t, env)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := ds.ComputeSignal(ctx, &signal.TextStatistics{}, schema.Path{"text"}, ComputeOptions{})
	assert.True(t, errors.Is(err, context.Canceled))
	assert.Empty(t, ds.Manifest().Enrichments)
}

func TestComputeSignalOnRepeatedPath(t *testing.T) {
	ctx := context.Background()
	env := newEnv(t)
	ds, err := Create(ctx, env, "local", "docs", []map[string]interface{}{
		{schema.RowIDKey: "a", "paragraphs": []interface{}{"a cat", "one two three"}},
		{schema.RowIDKey: "b", "paragraphs": []interface{}{}},
		{schema.RowIDKey: "c"},
	}, nil)
	require.NoError(t, err)
	require.NoError(t, ds.ComputeSignal(ctx, &signal.TextStatistics{}, schema.Path{"paragraphs", "*"}, ComputeOptions{}))

	rows, err := ds.SelectRows(ctx, Query{})
	require.NoError(t, err)
	require.Len(t, rows.Rows, 3)
	assert.Equal(t, []interface{}{2.0, 3.0}, rows.Rows[0]["paragraphs.*.text_statistics.num_words"])
	assert.Equal(t, []interface{}{}, rows.Rows[1]["paragraphs.*.text_statistics.num_words"])
	assert.Nil(t, rows.Rows[2]["paragraphs.*.text_statistics.num_words"])

	combined, err := ds.SelectRows(ctx, Query{Combine: true, Limit: 1})
	require.NoError(t, err)
	paragraphs := combined.Rows[0]["paragraphs"].([]interface{})
	require.Len(t, paragraphs, 2)
	first := paragraphs[0].(map[string]interface{})
	assert.Equal(t, "a cat", first[schema.ValueKey])
	assert.EqualValues(t, 2, first["text_statistics"].(map[string]interface{})["num_words"])
}

func TestEmbeddingComputedForVectorSignal(t *testing.T) {
	ctx := context.Background()
	env := newEnv(t)
	ds := animals(t, env)
	sim := &signal.SemanticSimilarity{EmbeddingName: testEmbedding, Query: "cat"}
	require.NoError(t, ds.ComputeSignal(ctx, sim, schema.Path{"text"}, ComputeOptions{}))

	m := ds.Manifest()
	require.Len(t, m.Enrichments, 2)
	embedding, ok := m.Enrichment(schema.Path{"text"}, testEmbedding)
	require.True(t, ok)
	assert.True(t, embedding.VectorIndex)

	idx, err := env.Vectors.Load(ctx, ds.vectorRef(schema.Path{"text"}, testEmbedding))
	require.NoError(t, err)
	assert.Equal(t, 5, idx.Size())

	key := signal.MustKey(sim)
	rows, err := ds.SelectRows(ctx, Query{
		Columns:   []Column{Col("text")},
		SortBy:    []schema.Path{{"text", key, "*", "score"}},
		SortOrder: Descending,
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"r1", "r3", "r5", "r2", "r4"}, rowIDs(rows))
	spans := rows.Rows[0]["text."+testEmbedding+".*"].([]interface{})
	require.Len(t, spans, 1)
	assert.NotContains(t, spans[0].(map[string]interface{}), schema.EmbeddingKey)
}

func TestDeleteSignal(t *testing.T) {
	ctx := context.Background()
	env := newEnv(t)
	ds := animals(t, env)
	emb, err := signal.ResolveEmbedding(testEmbedding)
	require.NoError(t, err)
	require.NoError(t, ds.ComputeSignal(ctx, emb, schema.Path{"text"}, ComputeOptions{}))

	root := schema.Path{"text", testEmbedding}
	require.NoError(t, ds.DeleteSignal(ctx, root))
	assert.False(t, ds.Schema().HasField(root))
	_, err = env.Vectors.Load(ctx, ds.vectorRef(schema.Path{"text"}, testEmbedding))
	assert.True(t, errors.Is(err, errs.ErrNotFound))
	assert.True(t, errors.Is(ds.DeleteSignal(ctx, root), errs.ErrNotFound))
}

func TestComputeSignalAsync(t *testing.T) {
	ctx := context.Background()
	env := newEnv(t)
	ds := animals(t, env)
	id := ds.ComputeSignalAsync(&signal.PII{}, schema.Path{"text"}, false)
	job, err := env.Tasks.Wait(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, tasks.Succeeded, job.State)
	assert.True(t, ds.Schema().HasField(schema.Path{"text", "pii", "emails"}))
}

func TestNegativeSource(t *testing.T) {
	ctx := context.Background()
	env := newEnv(t)
	ds := animals(t, env)
	texts, err := ds.NegativeSource(schema.Path{"text"})(ctx, 2)
	require.NoError(t, err)
	assert.Len(t, texts, 2)
	_, err = ds.NegativeSource(schema.Path{"age"})(ctx, 2)
	assert.True(t, errors.Is(err, errs.ErrInvalidArgument))
}
