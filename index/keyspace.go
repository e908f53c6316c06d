package index

import (
	"github.com/RoaringBitmap/roaring/v2"
)

// Keyspace assigns dense uint32 ordinals to string keys in insertion order.
type Keyspace struct {
	ordinals map[string]uint32
	keys     []string
}

// NewKeyspace creates an empty keyspace.
func NewKeyspace() *Keyspace {
	return &Keyspace{ordinals: map[string]uint32{}}
}

// Put returns the ordinal for key, assigning the next one when new.
func (k *Keyspace) Put(key string) (uint32, bool) {
	if ord, ok := k.ordinals[key]; ok {
		return ord, false
	}
	ord := uint32(len(k.keys))
	k.ordinals[key] = ord
	k.keys = append(k.keys, key)
	return ord, true
}

// Ordinal looks up a key.
func (k *Keyspace) Ordinal(key string) (uint32, bool) {
	ord, ok := k.ordinals[key]
	return ord, ok
}

// Key returns the key for an ordinal.
func (k *Keyspace) Key(ord uint32) string { return k.keys[ord] }

// Len returns the number of keys.
func (k *Keyspace) Len() int { return len(k.keys) }

// Keys returns a copy of all keys in insertion order.
func (k *Keyspace) Keys() []string { return append([]string(nil), k.keys...) }

// Restrict maps keys to a bitmap of ordinals; unknown keys are ignored.
// A nil keys slice yields nil, meaning unrestricted.
func (k *Keyspace) Restrict(keys []string) *roaring.Bitmap {
	if keys == nil {
		return nil
	}
	bm := roaring.New()
	for _, key := range keys {
		if ord, ok := k.ordinals[key]; ok {
			bm.Add(ord)
		}
	}
	return bm
}
