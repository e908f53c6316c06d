// Package index defines the vector store contract shared by the exact and
// approximate backends: keyed upsert, bulk get, restricted top-k by
// similarity, and binary serialization for persistence.
package index
