package signal

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/time/rate"

	"github.com/viant/curator/errs"
	"github.com/viant/curator/schema"
	"github.com/viant/curator/vector"
)

// Embedder turns texts into vectors. Retry and backoff are the backend's
// own concern.
type Embedder interface {
	Setup(ctx context.Context) error
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// EmbedFunc adapts a single-text embedding function to Embedder.
type EmbedFunc func(ctx context.Context, text string) ([]float32, error)

func (f EmbedFunc) Setup(context.Context) error { return nil }

func (f EmbedFunc) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		vec, err := f(ctx, text)
		if err != nil {
			return nil, err
		}
		out[i] = vec
	}
	return out, nil
}

// RateLimited wraps an embedder so each Embed call waits for a token.
func RateLimited(embedder Embedder, perSecond float64, burst int) Embedder {
	if burst <= 0 {
		burst = 1
	}
	return &rateLimited{Embedder: embedder, limiter: rate.NewLimiter(rate.Limit(perSecond), burst)}
}

type rateLimited struct {
	Embedder
	limiter *rate.Limiter
}

func (r *rateLimited) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	return r.Embedder.Embed(ctx, texts)
}

// EmbeddingOptions configure a registered embedding.
type EmbeddingOptions struct {
	// ChunkSize splits texts into chunks embedded separately; 0 embeds whole texts.
	ChunkSize    int
	ChunkOverlap int
	// RateLimit caps Embed calls per second; 0 disables limiting.
	RateLimit float64
	Burst     int
}

type embeddingBackend struct {
	embedder Embedder
	once     sync.Once
	err      error
}

func (b *embeddingBackend) setup(ctx context.Context) error {
	b.once.Do(func() { b.err = b.embedder.Setup(ctx) })
	return b.err
}

// RegisterEmbedding registers an embedding signal named name backed by embedder.
func RegisterEmbedding(name string, embedder Embedder, options EmbeddingOptions) error {
	if options.ChunkOverlap > options.ChunkSize && options.ChunkSize > 0 {
		return errs.InvalidArgument("embedding %q: chunk overlap %d exceeds chunk size %d", name, options.ChunkOverlap, options.ChunkSize)
	}
	if options.RateLimit > 0 {
		embedder = RateLimited(embedder, options.RateLimit, options.Burst)
	}
	backend := &embeddingBackend{embedder: embedder}
	Register(name, func() Signal { return &Embedding{name: name, backend: backend, options: options} })
	return nil
}

// Embedding produces a list of spans, each with an embedding vector.
type Embedding struct {
	name    string
	backend *embeddingBackend
	options EmbeddingOptions
}

func (e *Embedding) Name() string { return e.name }
func (e *Embedding) Kind() Kind   { return KindEmbedding }
func (e *Embedding) Fields() *schema.Field {
	return SpanFields(schema.Child{Name: schema.EmbeddingKey, Field: schema.Scalar(schema.Embedding)})
}

func (e *Embedding) Setup(ctx context.Context) error { return e.backend.setup(ctx) }

// Compute chunks every text and embeds all chunks of the batch in one call.
func (e *Embedding) Compute(ctx context.Context, values []interface{}) ([]interface{}, error) {
	if err := e.Setup(ctx); err != nil {
		return nil, err
	}
	type chunkRef struct {
		value int
		span  vector.Span
	}
	var refs []chunkRef
	var texts []string
	for i, v := range values {
		text, ok := v.(string)
		if !ok {
			continue
		}
		var spans []vector.Span
		if e.options.ChunkSize > 0 {
			spans = SplitText(text, e.options.ChunkSize, e.options.ChunkOverlap)
		} else if text != "" {
			spans = []vector.Span{{Start: 0, End: len(text)}}
		}
		for _, s := range spans {
			refs = append(refs, chunkRef{value: i, span: s})
			texts = append(texts, text[s.Start:s.End])
		}
	}
	out := make([]interface{}, len(values))
	for i, v := range values {
		if _, ok := v.(string); ok {
			out[i] = []interface{}{}
		}
	}
	if len(texts) == 0 {
		return out, nil
	}
	vectors, err := e.backend.embedder.Embed(ctx, texts)
	if err != nil {
		return nil, err
	}
	if len(vectors) != len(texts) {
		return nil, fmt.Errorf("embedding %q: backend returned %d vectors for %d texts", e.name, len(vectors), len(texts))
	}
	for j, ref := range refs {
		item := SpanValue(ref.span.Start, ref.span.End, map[string]interface{}{schema.EmbeddingKey: vectors[j]})
		out[ref.value] = append(out[ref.value].([]interface{}), item)
	}
	return out, nil
}

// EmbedQuery embeds a single query text without chunking.
func (e *Embedding) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	if err := e.Setup(ctx); err != nil {
		return nil, err
	}
	vectors, err := e.backend.embedder.Embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(vectors) != 1 {
		return nil, fmt.Errorf("embedding %q: backend returned %d vectors for a query", e.name, len(vectors))
	}
	return vectors[0], nil
}

// ResolveEmbedding returns the registered embedding signal named name.
func ResolveEmbedding(name string) (*Embedding, error) {
	sig, err := Get(name)
	if err != nil {
		return nil, err
	}
	embedding, ok := sig.(*Embedding)
	if !ok {
		return nil, errs.InvalidArgument("signal %q is not an embedding", name)
	}
	return embedding, nil
}

// SpanVectors splits an embedding item into spans and vectors.
func SpanVectors(item interface{}) ([]vector.Span, [][]float32) {
	list, _ := item.([]interface{})
	spans := make([]vector.Span, 0, len(list))
	vecs := make([][]float32, 0, len(list))
	for _, v := range list {
		span, ok := ParseSpanValue(v)
		if !ok {
			continue
		}
		vec, _ := v.(map[string]interface{})[schema.EmbeddingKey].([]float32)
		spans = append(spans, span)
		vecs = append(vecs, vec)
	}
	return spans, vecs
}
