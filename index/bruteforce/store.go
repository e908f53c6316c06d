// Package bruteforce provides the exact vector store: vectors are normalized
// to unit length on insert and scored by dot product over a linear scan.
package bruteforce

import (
	"encoding/binary"
	"errors"
	"math"
	"sync"

	"github.com/viant/curator/errs"
	"github.com/viant/curator/index"
)

// Store is an exact linear-scan vector store.
type Store struct {
	mu   sync.RWMutex
	keys *index.Keyspace
	vecs [][]float32
	dim  int
}

// New creates an empty store.
func New() *Store {
	return &Store{keys: index.NewKeyspace()}
}

// Add upserts normalized copies of vectors under keys.
func (s *Store) Add(keys []string, vectors [][]float32) error {
	if len(keys) != len(vectors) {
		return errs.InvalidArgument("bruteforce: keys and vectors length mismatch: %d != %d", len(keys), len(vectors))
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	dim := s.dim
	for i := range vectors {
		if dim == 0 {
			dim = len(vectors[i])
		}
		if len(vectors[i]) != dim || dim == 0 {
			return errs.InvalidArgument("bruteforce: vector %q has dim %d, expected %d", keys[i], len(vectors[i]), dim)
		}
	}
	s.dim = dim
	for i, key := range keys {
		vec := index.Normalize(vectors[i])
		ord, isNew := s.keys.Put(key)
		if isNew {
			s.vecs = append(s.vecs, vec)
		} else {
			s.vecs[ord] = vec
		}
	}
	return nil
}

// Get returns stored vectors for keys, or all vectors when keys is nil.
func (s *Store) Get(keys []string) ([][]float32, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if keys == nil {
		return append([][]float32(nil), s.vecs...), nil
	}
	out := make([][]float32, len(keys))
	for i, key := range keys {
		ord, ok := s.keys.Ordinal(key)
		if !ok {
			return nil, errs.NotFound("vector key %q", key)
		}
		out[i] = s.vecs[ord]
	}
	return out, nil
}

// Keys returns all keys in insertion order.
func (s *Store) Keys() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.keys.Keys()
}

// Size returns the number of stored vectors.
func (s *Store) Size() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.vecs)
}

// Dim returns the vector dimensionality, zero when empty.
func (s *Store) Dim() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.dim
}

// TopK scores every candidate by dot product with the normalized query.
func (s *Store) TopK(query []float32, k int, keys []string) ([]index.Match, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.vecs) == 0 || k <= 0 {
		return nil, nil
	}
	if len(query) != s.dim {
		return nil, errs.InvalidArgument("bruteforce: query dim %d != store dim %d", len(query), s.dim)
	}
	q := index.Normalize(query)
	var candidates []index.Candidate
	if restrict := s.keys.Restrict(keys); restrict != nil {
		candidates = make([]index.Candidate, 0, restrict.GetCardinality())
		it := restrict.Iterator()
		for it.HasNext() {
			ord := it.Next()
			candidates = append(candidates, index.Candidate{Ordinal: ord, Score: index.Dot(q, s.vecs[ord])})
		}
	} else {
		candidates = make([]index.Candidate, len(s.vecs))
		for i, vec := range s.vecs {
			candidates[i] = index.Candidate{Ordinal: uint32(i), Score: index.Dot(q, vec)}
		}
	}
	selected := index.SelectTopK(candidates, k)
	out := make([]index.Match, len(selected))
	for i, c := range selected {
		out[i] = index.Match{Key: s.keys.Key(c.Ordinal), Score: c.Score}
	}
	return out, nil
}

// MarshalBinary stores: dim(uint32), n(uint32), then for each item:
// idLen(uint32), id bytes, vec(float32[dim]).
func (s *Store) MarshalBinary() ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	size := 8
	for i := 0; i < s.keys.Len(); i++ {
		size += 4 + len(s.keys.Key(uint32(i))) + 4*s.dim
	}
	out := make([]byte, 0, size)
	out = binary.LittleEndian.AppendUint32(out, uint32(s.dim))
	out = binary.LittleEndian.AppendUint32(out, uint32(len(s.vecs)))
	for i, vec := range s.vecs {
		key := s.keys.Key(uint32(i))
		out = binary.LittleEndian.AppendUint32(out, uint32(len(key)))
		out = append(out, key...)
		for _, v := range vec {
			out = binary.LittleEndian.AppendUint32(out, math.Float32bits(v))
		}
	}
	return out, nil
}

// UnmarshalBinary replaces the store content from bytes.
func (s *Store) UnmarshalBinary(data []byte) error {
	keys, vecs, err := Decode(data)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.keys, s.vecs, s.dim = index.NewKeyspace(), nil, 0
	s.mu.Unlock()
	if len(keys) == 0 {
		return nil
	}
	return s.Add(keys, vecs)
}

// Decode parses the binary form written by MarshalBinary.
func Decode(data []byte) ([]string, [][]float32, error) {
	if len(data) < 8 {
		return nil, nil, errors.New("bruteforce: invalid data")
	}
	off := 0
	getU32 := func() uint32 { v := binary.LittleEndian.Uint32(data[off : off+4]); off += 4; return v }
	dim := int(getU32())
	n := int(getU32())
	keys := make([]string, n)
	vecs := make([][]float32, n)
	for idx := 0; idx < n; idx++ {
		if off+4 > len(data) {
			return nil, nil, errors.New("bruteforce: truncated")
		}
		keyLen := int(getU32())
		if off+keyLen+4*dim > len(data) {
			return nil, nil, errors.New("bruteforce: truncated entry")
		}
		keys[idx] = string(data[off : off+keyLen])
		off += keyLen
		vec := make([]float32, dim)
		for j := range vec {
			vec[j] = math.Float32frombits(getU32())
		}
		vecs[idx] = vec
	}
	return keys, vecs, nil
}
