// Package vector maps path keys (a row id plus repeated-element indices) to
// ordered spans with embeddings on top of an index.Store, answers top-k
// queries deduplicated to path keys, and persists indexes in SQLite.
package vector
