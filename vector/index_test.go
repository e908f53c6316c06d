package vector

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/viant/curator/config"
	"github.com/viant/curator/errs"
)

// scoreVec ranks by s against the query [1, 0]: cosine is s/sqrt(s^2+100).
func scoreVec(s float32) []float32 { return []float32{s, 10} }

func docEntries(scores ...[]float32) []Entry {
	var entries []Entry
	for i, doc := range scores {
		e := Entry{Key: NewPathKey(string(rune('a' + i)))}
		for j, s := range doc {
			e.Spans = append(e.Spans, Span{Start: j * 10, End: j*10 + 5})
			e.Vectors = append(e.Vectors, scoreVec(s))
		}
		entries = append(entries, e)
	}
	return entries
}

func keyIDs(results []Result) []string {
	var out []string
	for _, r := range results {
		out = append(out, r.Key.RowID)
	}
	return out
}

func forEachKind(t *testing.T, fn func(t *testing.T, idx *Index)) {
	for _, kind := range []string{config.VectorStoreExact, config.VectorStoreCover} {
		t.Run(kind, func(t *testing.T) {
			store, err := NewStore(kind, config.Default().Vector)
			require.NoError(t, err)
			fn(t, NewIndex(store, 2))
		})
	}
}

func TestIndexTopKDedupesToPathKey(t *testing.T) {
	forEachKind(t, func(t *testing.T, idx *Index) {
		require.NoError(t, idx.Add(docEntries([]float32{8, 1}, []float32{9, 7}, []float32{3, 5})))
		assert.Equal(t, 3, idx.Size())
		assert.Equal(t, 6, idx.SpanCount())

		results, err := idx.TopK([]float32{1, 0}, 2, nil)
		require.NoError(t, err)
		assert.Equal(t, []string{"b", "a"}, keyIDs(results))
		assert.Equal(t, Span{Start: 0, End: 5}, results[0].Span)

		restricted, err := idx.TopK([]float32{1, 0}, 2, []PathKey{NewPathKey("a"), NewPathKey("c")})
		require.NoError(t, err)
		assert.Equal(t, []string{"a", "c"}, keyIDs(restricted))

		only, err := idx.TopK([]float32{1, 0}, 5, []PathKey{NewPathKey("c")})
		require.NoError(t, err)
		assert.Equal(t, []string{"c"}, keyIDs(only))
		assert.Equal(t, Span{Start: 10, End: 15}, only[0].Span)
	})
}

func TestIndexTopKExpandsWhenOneKeyCrowdsOut(t *testing.T) {
	forEachKind(t, func(t *testing.T, idx *Index) {
		require.NoError(t, idx.Add(docEntries([]float32{8, 1}, []float32{9, 8.5, 8.7}, []float32{3, 5})))
		results, err := idx.TopK([]float32{1, 0}, 2, nil)
		require.NoError(t, err)
		assert.Equal(t, []string{"b", "a"}, keyIDs(results))

		all, err := idx.TopK([]float32{1, 0}, 10, nil)
		require.NoError(t, err)
		assert.Equal(t, []string{"b", "a", "c"}, keyIDs(all))
		for i := 1; i < len(all); i++ {
			assert.GreaterOrEqual(t, all[i-1].Score, all[i].Score)
		}
	})
}

func TestIndexIsWriteOnce(t *testing.T) {
	forEachKind(t, func(t *testing.T, idx *Index) {
		require.NoError(t, idx.Add(docEntries([]float32{1})))
		err := idx.Add(docEntries([]float32{2}))
		assert.True(t, errors.Is(err, errs.ErrInvalidArgument))
	})
}

func TestIndexGet(t *testing.T) {
	forEachKind(t, func(t *testing.T, idx *Index) {
		nested := Entry{Key: NewPathKey("r1", 0, 2), Spans: []Span{{0, 3}}, Vectors: [][]float32{{0, 2}}}
		empty := Entry{Key: NewPathKey("r2")}
		require.NoError(t, idx.Add([]Entry{nested, empty}))
		got, err := idx.Get([]PathKey{NewPathKey("r1", 0, 2), NewPathKey("r2")})
		require.NoError(t, err)
		require.Len(t, got[0], 1)
		assert.Equal(t, Span{0, 3}, got[0][0].Span)
		assert.InDeltaSlice(t, []float32{0, 1}, got[0][0].Vector, 1e-6)
		assert.Empty(t, got[1])
		assert.True(t, idx.Has(NewPathKey("r1", 0, 2)))

		_, err = idx.Get([]PathKey{NewPathKey("r1")})
		assert.True(t, errors.Is(err, errs.ErrNotFound))
	})
}

func TestPathKeyRoundTrip(t *testing.T) {
	for _, key := range []PathKey{NewPathKey("row"), NewPathKey("row#1", 3, 0)} {
		parsed, err := ParsePathKey(key.String())
		require.NoError(t, err)
		assert.True(t, key.Equal(parsed), key.String())
	}
	pk, idx, ok := splitSpanKey(spanKey(NewPathKey("row#1", 2).String(), 7))
	require.True(t, ok)
	assert.Equal(t, NewPathKey("row#1", 2).String(), pk)
	assert.Equal(t, 7, idx)
}

func TestEmbeddingCodec(t *testing.T) {
	orig := []float32{0.0, 1.5, -2.25, 3.75}
	decoded, err := DecodeEmbedding(EncodeEmbedding(orig))
	require.NoError(t, err)
	assert.Equal(t, orig, decoded)
	_, err = DecodeEmbedding([]byte{1, 2, 3})
	assert.Error(t, err)

	matrix := [][]float32{{1, 2}, {}, {3}}
	got, err := DecodeMatrix(EncodeMatrix(matrix))
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, []float32{1, 2}, got[0])
	assert.Empty(t, got[1])
	assert.Equal(t, []float32{3}, got[2])

	sim, err := CosineSimilarity([]float32{1, 0}, []float32{2, 0})
	require.NoError(t, err)
	assert.InDelta(t, 1.0, sim, 1e-9)
}

func TestResolveKind(t *testing.T) {
	assert.Equal(t, config.VectorStoreExact, ResolveKind(config.VectorStoreAuto, 10, 3))
	assert.Equal(t, config.VectorStoreCover, ResolveKind(config.VectorStoreAuto, 10000, 64))
	assert.Equal(t, config.VectorStoreCover, ResolveKind(config.VectorStoreCover, 1, 1))
}
