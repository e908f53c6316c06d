// Package cover provides the approximate vector store backed by a cover tree.
// Vectors are normalized and indexed by euclidean distance, which ranks unit
// vectors the same way as dot product. Upserts tombstone the previous point;
// a non-zero search budget trades recall for speed once k candidates are held.
package cover

import (
	"bytes"
	"errors"
	"sync"

	"github.com/RoaringBitmap/roaring/v2"

	"github.com/viant/curator/errs"
	"github.com/viant/curator/index"
	"github.com/viant/curator/index/bruteforce"
	"github.com/viant/curator/internal/cover/tree"
)

var magic = []byte("COV1")

// Options tune the cover tree.
type Options struct {
	Base   float32
	Bound  tree.BoundStrategy
	Budget int
}

// Store is a cover-tree vector store.
type Store struct {
	mu      sync.RWMutex
	options Options
	tree    *tree.Tree[string]
	keys    *index.Keyspace
	live    []int32
	dead    *roaring.Bitmap
	dim     int
}

// New creates an empty store.
func New(options Options) *Store {
	s := &Store{options: options}
	s.reset()
	return s
}

func (s *Store) reset() {
	s.tree = tree.NewTree[string](s.options.Base, tree.DistanceFunctionEuclidean)
	s.tree.SetBoundStrategy(s.options.Bound)
	s.keys = index.NewKeyspace()
	s.live = nil
	s.dead = roaring.New()
	s.dim = 0
}

// Add upserts vectors; a replaced key's old point is tombstoned.
func (s *Store) Add(keys []string, vectors [][]float32) error {
	if len(keys) != len(vectors) {
		return errs.InvalidArgument("cover: keys and vectors length mismatch: %d != %d", len(keys), len(vectors))
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	dim := s.dim
	for i := range vectors {
		if dim == 0 {
			dim = len(vectors[i])
		}
		if len(vectors[i]) != dim || dim == 0 {
			return errs.InvalidArgument("cover: vector %q has dim %d, expected %d", keys[i], len(vectors[i]), dim)
		}
	}
	s.dim = dim
	for i, key := range keys {
		idx := s.tree.Insert(key, tree.NewPoint(index.Normalize(vectors[i])...))
		ord, isNew := s.keys.Put(key)
		if isNew {
			s.live = append(s.live, idx)
			continue
		}
		s.dead.Add(uint32(s.live[ord]))
		s.live[ord] = idx
	}
	return nil
}

// Get returns stored vectors for keys, or all vectors when keys is nil.
func (s *Store) Get(keys []string) ([][]float32, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if keys == nil {
		out := make([][]float32, len(s.live))
		for i, idx := range s.live {
			out[i] = s.tree.Point(idx).Vector
		}
		return out, nil
	}
	out := make([][]float32, len(keys))
	for i, key := range keys {
		ord, ok := s.keys.Ordinal(key)
		if !ok {
			return nil, errs.NotFound("vector key %q", key)
		}
		out[i] = s.tree.Point(s.live[ord]).Vector
	}
	return out, nil
}

// Keys returns all keys in first-insertion order.
func (s *Store) Keys() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.keys.Keys()
}

// Size returns the number of live keys.
func (s *Store) Size() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.live)
}

// TopK runs a filtered kNN search and scores matches by dot product.
func (s *Store) TopK(query []float32, k int, keys []string) ([]index.Match, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.live) == 0 || k <= 0 {
		return nil, nil
	}
	if len(query) != s.dim {
		return nil, errs.InvalidArgument("cover: query dim %d != store dim %d", len(query), s.dim)
	}
	var allowed *roaring.Bitmap
	if restrict := s.keys.Restrict(keys); restrict != nil {
		allowed = roaring.New()
		it := restrict.Iterator()
		for it.HasNext() {
			allowed.Add(uint32(s.live[it.Next()]))
		}
	}
	accept := func(p *tree.Point) bool {
		idx := uint32(p.Index())
		if allowed != nil {
			return allowed.Contains(idx)
		}
		return !s.dead.Contains(idx)
	}
	q := index.Normalize(query)
	neighbors := s.tree.Search(tree.NewPoint(q...), k, tree.SearchOptions{Accept: accept, Budget: s.options.Budget})
	out := make([]index.Match, len(neighbors))
	for i, n := range neighbors {
		out[i] = index.Match{Key: s.tree.Value(n.Point), Score: index.Dot(q, n.Point.Vector)}
	}
	return out, nil
}

// MarshalBinary writes the magic followed by the exact store encoding of the
// live vectors; the tree is rebuilt on load.
func (s *Store) MarshalBinary() ([]byte, error) {
	keys := s.Keys()
	vecs, err := s.Get(nil)
	if err != nil {
		return nil, err
	}
	exact := bruteforce.New()
	if len(keys) > 0 {
		if err = exact.Add(keys, vecs); err != nil {
			return nil, err
		}
	}
	data, err := exact.MarshalBinary()
	if err != nil {
		return nil, err
	}
	return append(append([]byte(nil), magic...), data...), nil
}

// UnmarshalBinary replaces the store content and rebuilds the tree.
func (s *Store) UnmarshalBinary(data []byte) error {
	if !bytes.HasPrefix(data, magic) {
		return errors.New("cover: invalid magic")
	}
	keys, vecs, err := bruteforce.Decode(data[len(magic):])
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.reset()
	s.mu.Unlock()
	if len(keys) == 0 {
		return nil
	}
	return s.Add(keys, vecs)
}
