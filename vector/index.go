package vector

import (
	"encoding/json"
	"sync"

	"github.com/viant/curator/errs"
	"github.com/viant/curator/index"
)

// DefaultWriteBatchSize bounds how many span vectors are added to a store at once.
const DefaultWriteBatchSize = 1024

// Entry is one path key with its spans and one vector per span.
type Entry struct {
	Key     PathKey
	Spans   []Span
	Vectors [][]float32
}

// SpanVector is a stored span with its vector.
type SpanVector struct {
	Span   Span
	Vector []float32
}

// Result is a path key ranked by its best-scoring span.
type Result struct {
	Key   PathKey
	Span  Span
	Score float64
}

// Index is the write-once path key to spans map over a vector store.
type Index struct {
	mu         sync.RWMutex
	store      index.Store
	spans      map[string][]Span
	keys       []string
	spanCount  int
	writeBatch int
}

// NewIndex wraps an empty store.
func NewIndex(store index.Store, writeBatch int) *Index {
	if writeBatch <= 0 {
		writeBatch = DefaultWriteBatchSize
	}
	return &Index{store: store, spans: map[string][]Span{}, writeBatch: writeBatch}
}

// Store returns the underlying vector store.
func (x *Index) Store() index.Store { return x.store }

// Add populates an empty index, expanding each path key into one store key
// per span. Store writes are chunked by the write batch size.
func (x *Index) Add(entries []Entry) error {
	x.mu.Lock()
	defer x.mu.Unlock()
	if len(x.keys) > 0 || x.store.Size() > 0 {
		return errs.InvalidArgument("vector: index already populated with %d keys", len(x.keys))
	}
	spans := make(map[string][]Span, len(entries))
	keys := make([]string, 0, len(entries))
	for _, e := range entries {
		if len(e.Spans) != len(e.Vectors) {
			return errs.InvalidArgument("vector: key %q has %d spans but %d vectors", e.Key.String(), len(e.Spans), len(e.Vectors))
		}
		k := e.Key.String()
		if _, ok := spans[k]; ok {
			return errs.InvalidArgument("vector: duplicate key %q", k)
		}
		spans[k] = append([]Span(nil), e.Spans...)
		keys = append(keys, k)
	}
	batchKeys := make([]string, 0, x.writeBatch)
	batchVecs := make([][]float32, 0, x.writeBatch)
	flush := func() error {
		if len(batchKeys) == 0 {
			return nil
		}
		err := x.store.Add(batchKeys, batchVecs)
		batchKeys, batchVecs = batchKeys[:0], batchVecs[:0]
		return err
	}
	count := 0
	for _, e := range entries {
		k := e.Key.String()
		for i, vec := range e.Vectors {
			batchKeys = append(batchKeys, spanKey(k, i))
			batchVecs = append(batchVecs, vec)
			count++
			if len(batchKeys) == x.writeBatch {
				if err := flush(); err != nil {
					return err
				}
			}
		}
	}
	if err := flush(); err != nil {
		return err
	}
	x.spans, x.keys, x.spanCount = spans, keys, count
	return nil
}

// Get returns spans with vectors for each key, in the requested order.
func (x *Index) Get(keys []PathKey) ([][]SpanVector, error) {
	x.mu.RLock()
	defer x.mu.RUnlock()
	out := make([][]SpanVector, len(keys))
	for i, key := range keys {
		k := key.String()
		spans, ok := x.spans[k]
		if !ok {
			return nil, errs.NotFound("vector: path key %q", k)
		}
		if len(spans) == 0 {
			continue
		}
		storeKeys := make([]string, len(spans))
		for j := range spans {
			storeKeys[j] = spanKey(k, j)
		}
		vecs, err := x.store.Get(storeKeys)
		if err != nil {
			return nil, err
		}
		items := make([]SpanVector, len(spans))
		for j := range spans {
			items[j] = SpanVector{Span: spans[j], Vector: vecs[j]}
		}
		out[i] = items
	}
	return out, nil
}

// Has reports whether the key was indexed.
func (x *Index) Has(key PathKey) bool {
	x.mu.RLock()
	defer x.mu.RUnlock()
	_, ok := x.spans[key.String()]
	return ok
}

// Keys returns all path keys in insertion order.
func (x *Index) Keys() []PathKey {
	x.mu.RLock()
	defer x.mu.RUnlock()
	out := make([]PathKey, 0, len(x.keys))
	for _, k := range x.keys {
		key, _ := ParsePathKey(k)
		out = append(out, key)
	}
	return out
}

// Size returns the number of path keys.
func (x *Index) Size() int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return len(x.keys)
}

// SpanCount returns the number of indexed spans.
func (x *Index) SpanCount() int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return x.spanCount
}

// TopK ranks spans and deduplicates them to their path key, keeping the best
// span of each key. When the first k spans cover fewer than k keys the span
// request doubles until k keys are found or every candidate span was ranked.
// A non-nil restrict limits candidates to those path keys.
func (x *Index) TopK(query []float32, k int, restrict []PathKey) ([]Result, error) {
	x.mu.RLock()
	defer x.mu.RUnlock()
	if k <= 0 || x.spanCount == 0 {
		return nil, nil
	}
	var storeKeys []string
	total := x.spanCount
	if restrict != nil {
		storeKeys = make([]string, 0, len(restrict))
		for _, key := range restrict {
			pk := key.String()
			for j := range x.spans[pk] {
				storeKeys = append(storeKeys, spanKey(pk, j))
			}
		}
		total = len(storeKeys)
		if total == 0 {
			return nil, nil
		}
	}
	want := k
	if want > total {
		want = total
	}
	for {
		matches, err := x.store.TopK(query, want, storeKeys)
		if err != nil {
			return nil, err
		}
		results := dedupe(matches, x.spans, k)
		if len(results) >= k || want >= total {
			return results, nil
		}
		want *= 2
		if want > total {
			want = total
		}
	}
}

func dedupe(matches []index.Match, spans map[string][]Span, k int) []Result {
	seen := make(map[string]bool, k)
	results := make([]Result, 0, k)
	for _, m := range matches {
		pk, spanIdx, ok := splitSpanKey(m.Key)
		if !ok || seen[pk] {
			continue
		}
		seen[pk] = true
		key, err := ParsePathKey(pk)
		if err != nil {
			continue
		}
		result := Result{Key: key, Score: m.Score}
		if s := spans[pk]; spanIdx < len(s) {
			result.Span = s[spanIdx]
		}
		results = append(results, result)
		if len(results) == k {
			break
		}
	}
	return results
}

type spanRecord struct {
	Key   string `json:"key"`
	Spans []Span `json:"spans"`
}

// MarshalSpans encodes the path key to spans map in insertion order.
func (x *Index) MarshalSpans() ([]byte, error) {
	x.mu.RLock()
	defer x.mu.RUnlock()
	records := make([]spanRecord, len(x.keys))
	for i, k := range x.keys {
		records[i] = spanRecord{Key: k, Spans: x.spans[k]}
	}
	return json.Marshal(records)
}

// restore attaches a decoded spans map to an already loaded store.
func (x *Index) restore(data []byte) error {
	var records []spanRecord
	if err := json.Unmarshal(data, &records); err != nil {
		return err
	}
	x.mu.Lock()
	defer x.mu.Unlock()
	x.spans = make(map[string][]Span, len(records))
	x.keys = make([]string, len(records))
	x.spanCount = 0
	for i, r := range records {
		x.keys[i] = r.Key
		x.spans[r.Key] = r.Spans
		x.spanCount += len(r.Spans)
	}
	if x.spanCount != x.store.Size() {
		return errs.InvalidArgument("vector: spans map lists %d spans but store holds %d", x.spanCount, x.store.Size())
	}
	return nil
}
