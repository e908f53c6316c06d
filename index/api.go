package index

import "encoding"

// Match is a scored store key; higher score means more similar.
type Match struct {
	Key   string
	Score float64
}

// Store is a flat key to vector store.
//
// Add upserts and never shrinks the store. Get returns vectors in the order
// of keys, or every vector in insertion order when keys is nil. TopK returns
// min(k, candidates) matches by non-increasing score, where candidates are
// restricted to keys when keys is non-nil. Add is exclusive; Get and TopK may
// run concurrently with each other.
type Store interface {
	Add(keys []string, vectors [][]float32) error
	Get(keys []string) ([][]float32, error)
	Keys() []string
	Size() int
	TopK(query []float32, k int, keys []string) ([]Match, error)
	encoding.BinaryMarshaler
	encoding.BinaryUnmarshaler
}
