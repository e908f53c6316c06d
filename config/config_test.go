package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "curator.yaml")
	data := []byte(`
enrichment:
  batch_size: 32
vector:
  store: cover
  compression: lz4
`)
	require.NoError(t, os.WriteFile(path, data, 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 32, cfg.Enrichment.BatchSize)
	assert.Equal(t, 4, cfg.Enrichment.Workers)
	assert.Equal(t, VectorStoreCover, cfg.Vector.Store)
	assert.Equal(t, "lz4", cfg.Vector.Compression)
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("CURATOR_BATCH_SIZE", "7")
	t.Setenv("CURATOR_VECTOR_STORE", "COVER")
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 7, cfg.Enrichment.BatchSize)
	assert.Equal(t, VectorStoreCover, cfg.Vector.Store)
}

func TestValidate(t *testing.T) {
	cfg := Default()
	cfg.Vector.Store = "faiss"
	assert.Error(t, cfg.Validate())

	cfg = Default()
	cfg.Enrichment.BatchSize = 0
	assert.Error(t, cfg.Validate())

	cfg = Default()
	cfg.Vector.Compression = "brotli"
	assert.Error(t, cfg.Validate())

	assert.NoError(t, Default().Validate())
}
