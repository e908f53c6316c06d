package signal

import (
	"context"
	"sync"

	"github.com/viant/curator/errs"
	"github.com/viant/curator/schema"
	"github.com/viant/curator/vector"
)

// SemanticSimilarityName is the registry name of the semantic similarity signal.
const SemanticSimilarityName = "semantic_similarity"

// SemanticSimilarity scores every span of an embedding by cosine similarity
// to an embedded query.
type SemanticSimilarity struct {
	EmbeddingName string `json:"embedding"`
	Query         string `json:"query"`

	once  sync.Once
	query []float32
	err   error
}

func (s *SemanticSimilarity) Name() string      { return SemanticSimilarityName }
func (s *SemanticSimilarity) Kind() Kind        { return KindVector }
func (s *SemanticSimilarity) Embedding() string { return s.EmbeddingName }
func (s *SemanticSimilarity) Fields() *schema.Field {
	return SpanFields(schema.Child{Name: "score", Field: schema.Scalar(schema.Float32)})
}

func (s *SemanticSimilarity) queryVector(ctx context.Context) ([]float32, error) {
	s.once.Do(func() {
		if s.EmbeddingName == "" || s.Query == "" {
			s.err = errs.InvalidArgument("semantic_similarity: embedding and query are required")
			return
		}
		embedding, err := ResolveEmbedding(s.EmbeddingName)
		if err != nil {
			s.err = err
			return
		}
		s.query, s.err = embedding.EmbedQuery(ctx, s.Query)
	})
	return s.query, s.err
}

// VectorCompute scores each span of each key.
func (s *SemanticSimilarity) VectorCompute(ctx context.Context, keys []vector.PathKey, idx *vector.Index) ([]interface{}, error) {
	query, err := s.queryVector(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]interface{}, len(keys))
	for i, key := range keys {
		if !idx.Has(key) {
			continue
		}
		spans, err := idx.Get([]vector.PathKey{key})
		if err != nil {
			return nil, err
		}
		items := make([]interface{}, 0, len(spans[0]))
		for _, sv := range spans[0] {
			score, err := vector.CosineSimilarity(query, sv.Vector)
			if err != nil {
				return nil, err
			}
			items = append(items, SpanValue(sv.Span.Start, sv.Span.End, map[string]interface{}{"score": score}))
		}
		out[i] = items
	}
	return out, ctx.Err()
}

// VectorComputeTopK ranks keys by their best span and scores only those.
func (s *SemanticSimilarity) VectorComputeTopK(ctx context.Context, k int, idx *vector.Index, keys []vector.PathKey) ([]Keyed, error) {
	query, err := s.queryVector(ctx)
	if err != nil {
		return nil, err
	}
	results, err := idx.TopK(query, k, keys)
	if err != nil {
		return nil, err
	}
	ranked := make([]vector.PathKey, len(results))
	for i, r := range results {
		ranked[i] = r.Key
	}
	items, err := s.VectorCompute(ctx, ranked, idx)
	if err != nil {
		return nil, err
	}
	out := make([]Keyed, len(results))
	for i, r := range results {
		out[i] = Keyed{Key: r.Key, Item: items[i], Score: r.Score}
	}
	return out, nil
}
