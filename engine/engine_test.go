package engine

import (
	"database/sql"
	"encoding/binary"
	"math"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestDB(t *testing.T) *sql.DB {
	db, err := Open(filepath.Join(t.TempDir(), "engine.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func blob(v ...float32) []byte {
	out := make([]byte, 0, 4*len(v))
	for _, f := range v {
		out = binary.LittleEndian.AppendUint32(out, math.Float32bits(f))
	}
	return out
}

func TestOpenInMemory(t *testing.T) {
	db, err := Open(Memory)
	require.NoError(t, err)
	defer db.Close()
	_, err = db.Exec("CREATE TABLE t(x INTEGER)")
	require.NoError(t, err)
	_, err = db.Exec("INSERT INTO t(x) VALUES (1),(2),(3)")
	require.NoError(t, err)
	var count int
	require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM t").Scan(&count))
	assert.Equal(t, 3, count)
}

func TestCurateBin(t *testing.T) {
	db := openTestDB(t)
	bins := `[{"name":"young","end":20},{"name":"adult","start":20,"end":50},{"name":"middle-aged","start":50,"end":65},{"name":"senior","start":65}]`
	testCases := []struct {
		value  interface{}
		expect sql.NullString
	}{
		{value: 34, expect: sql.NullString{String: "adult", Valid: true}},
		{value: 17.5, expect: sql.NullString{String: "young", Valid: true}},
		{value: 65, expect: sql.NullString{String: "senior", Valid: true}},
		{value: nil},
		{value: "n/a"},
	}
	for _, testCase := range testCases {
		var got sql.NullString
		require.NoError(t, db.QueryRow(`SELECT curate_bin(?, ?)`, testCase.value, bins).Scan(&got))
		assert.Equal(t, testCase.expect, got, "%v", testCase.value)
	}
	var ignored sql.NullString
	assert.Error(t, db.QueryRow(`SELECT curate_bin(1, '[{"name":"x"}]')`).Scan(&ignored))
}

func TestVectorFunctions(t *testing.T) {
	db := openTestDB(t)
	var sim float64
	require.NoError(t, db.QueryRow(`SELECT vec_cosine(?, ?)`, blob(1, 0), blob(0, 1)).Scan(&sim))
	assert.Equal(t, 0.0, sim)
	require.NoError(t, db.QueryRow(`SELECT vec_cosine(?, ?)`, blob(1, 0), blob(2, 0)).Scan(&sim))
	assert.InDelta(t, 1.0, sim, 1e-9)

	var dist float64
	require.NoError(t, db.QueryRow(`SELECT vec_l2(?, ?)`, blob(0, 0), blob(3, 4)).Scan(&dist))
	assert.InDelta(t, 5.0, dist, 1e-9)

	var null sql.NullFloat64
	require.NoError(t, db.QueryRow(`SELECT vec_cosine(NULL, ?)`, blob(1)).Scan(&null))
	assert.False(t, null.Valid)
}
