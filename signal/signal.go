// Package signal defines the polymorphic units of computation that enrich a
// dataset: plain signals over values, embedding signals producing spans with
// vectors, splitter signals producing spans, and vector signals scoring the
// spans of a persisted embedding.
package signal

import (
	"context"

	"github.com/viant/curator/schema"
	"github.com/viant/curator/vector"
)

// Kind is the signal variant.
type Kind string

const (
	KindPlain     Kind = "plain"
	KindEmbedding Kind = "embedding"
	KindSplitter  Kind = "splitter"
	KindVector    Kind = "vector"
)

// NameKey is the JSON discriminator of a serialized signal.
const NameKey = "signal_name"

// Signal is an immutable, serializable configuration. Its exported,
// JSON-tagged fields are its arguments; zero values are defaults.
type Signal interface {
	Name() string
	Kind() Kind
	// Fields describes the shape of one output item.
	Fields() *schema.Field
}

// Computer computes one optional item per input value. The returned slice
// must have the same length as values; nil marks a skipped input.
type Computer interface {
	Signal
	Compute(ctx context.Context, values []interface{}) ([]interface{}, error)
}

// VectorComputer scores spans of an embedding persisted for the source path.
type VectorComputer interface {
	Signal
	// Embedding names the embedding signal this signal consumes.
	Embedding() string
	VectorCompute(ctx context.Context, keys []vector.PathKey, idx *vector.Index) ([]interface{}, error)
}

// TopKComputer ranks path keys without scoring the whole index.
type TopKComputer interface {
	VectorComputer
	VectorComputeTopK(ctx context.Context, k int, idx *vector.Index, keys []vector.PathKey) ([]Keyed, error)
}

// Setuper is implemented by signals that need one-time initialization.
type Setuper interface {
	Setup(ctx context.Context) error
}

// Keyed is an item computed for a path key, ranked by Score.
type Keyed struct {
	Key   vector.PathKey
	Item  interface{}
	Score float64
}

// Setup initializes sig when it implements Setuper.
func Setup(ctx context.Context, sig Signal) error {
	if s, ok := sig.(Setuper); ok {
		return s.Setup(ctx)
	}
	return nil
}

// SpanValue builds the stored form of a span with optional metadata.
func SpanValue(start, end int, metadata map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(metadata)+1)
	for k, v := range metadata {
		out[k] = v
	}
	out[schema.SpanKey] = map[string]interface{}{"start": start, "end": end}
	return out
}

// ParseSpanValue extracts the span of a stored span value.
func ParseSpanValue(v interface{}) (vector.Span, bool) {
	m, ok := v.(map[string]interface{})
	if !ok {
		return vector.Span{}, false
	}
	inner, ok := m[schema.SpanKey].(map[string]interface{})
	if !ok {
		return vector.Span{}, false
	}
	start, ok1 := toInt(inner["start"])
	end, ok2 := toInt(inner["end"])
	return vector.Span{Start: start, End: end}, ok1 && ok2
}

func toInt(v interface{}) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		return int(n), true
	}
	return 0, false
}

// SpanFields is the schema of a repeated span with optional metadata children.
func SpanFields(children ...schema.Child) *schema.Field {
	return schema.Repeated(schema.Span(children...))
}
