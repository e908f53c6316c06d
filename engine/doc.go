// Package engine opens SQLite databases through the modernc.org/sqlite
// driver and registers the scalar SQL functions the backing store relies on:
// curate_bin for float binning and vec_cosine / vec_l2 over embedding BLOBs.
package engine
