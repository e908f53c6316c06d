// Package config loads engine settings from YAML with environment overrides.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

const (
	// VectorStoreExact selects the linear-scan vector store.
	VectorStoreExact = "exact"
	// VectorStoreCover selects the approximate cover-tree vector store.
	VectorStoreCover = "cover"
	// VectorStoreAuto picks cover for large, dense embedding sets and exact otherwise.
	VectorStoreAuto = "auto"
)

// Config captures every tunable of the engine.
type Config struct {
	Log        Log        `yaml:"log"`
	Enrichment Enrichment `yaml:"enrichment"`
	Query      Query      `yaml:"query"`
	Vector     Vector     `yaml:"vector"`
	Concept    Concept    `yaml:"concept"`
	Embedding  Embedding  `yaml:"embedding"`
}

type Log struct {
	// Mode is "development", "production" or "nop".
	Mode string `yaml:"mode"`
}

type Enrichment struct {
	// BatchSize is the number of rows handed to a signal per invocation.
	BatchSize int `yaml:"batch_size"`
	// Workers bounds how many batches are computed concurrently.
	Workers int `yaml:"workers"`
	// VectorWriteBatchSize bounds how many vectors are written to a store per chunk.
	VectorWriteBatchSize int `yaml:"vector_write_batch_size"`
}

type Query struct {
	// MaxDistinctGroups is the ceiling above which select_groups reports too_many_distinct.
	MaxDistinctGroups int `yaml:"max_distinct_groups"`
	// DistinctSampleSize is the number of rows sampled to estimate cardinality.
	DistinctSampleSize int `yaml:"distinct_sample_size"`
	// StatsSampleSize is the row count above which distinct counts are approximated.
	StatsSampleSize int `yaml:"stats_sample_size"`
	// AutoBins is the number of equal-width bins used for float columns without bins.
	AutoBins int `yaml:"auto_bins"`
}

type Vector struct {
	Store       string  `yaml:"store"`
	CoverBase   float32 `yaml:"cover_base"`
	CoverBound  string  `yaml:"cover_bound"`
	CoverBudget int     `yaml:"cover_budget"`
	Compression string  `yaml:"compression"`
}

type Concept struct {
	MaxFolds        int   `yaml:"max_folds"`
	NegativeSamples int   `yaml:"negative_samples"`
	Seed            int64 `yaml:"seed"`
}

type Embedding struct {
	// RateLimit is the number of embedding calls per second; 0 disables limiting.
	RateLimit float64 `yaml:"rate_limit"`
	Burst     int     `yaml:"burst"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Log: Log{Mode: "nop"},
		Enrichment: Enrichment{
			BatchSize:            256,
			Workers:              4,
			VectorWriteBatchSize: 1024,
		},
		Query: Query{
			MaxDistinctGroups:  10000,
			DistinctSampleSize: 100000,
			StatsSampleSize:    1000000,
			AutoBins:           15,
		},
		Vector: Vector{
			Store:       VectorStoreExact,
			CoverBase:   1.3,
			CoverBound:  "node",
			Compression: "zstd",
		},
		Concept: Concept{
			MaxFolds: 5,
			Seed:     42,
		},
		Embedding: Embedding{Burst: 1},
	}
}

// Load reads a YAML file on top of the defaults and applies env overrides.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}
	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	if v := strings.TrimSpace(os.Getenv("CURATOR_LOG_MODE")); v != "" {
		c.Log.Mode = v
	}
	c.Enrichment.BatchSize = envInt("CURATOR_BATCH_SIZE", c.Enrichment.BatchSize)
	c.Enrichment.Workers = envInt("CURATOR_WORKERS", c.Enrichment.Workers)
	if v := strings.TrimSpace(os.Getenv("CURATOR_VECTOR_STORE")); v != "" {
		c.Vector.Store = strings.ToLower(v)
	}
}

func envInt(name string, def int) int {
	v := strings.TrimSpace(os.Getenv(name))
	if v == "" {
		return def
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return i
}

// Validate checks settings that would otherwise fail deep inside the engine.
func (c *Config) Validate() error {
	if c.Enrichment.BatchSize <= 0 {
		return fmt.Errorf("config: enrichment.batch_size must be positive, got %d", c.Enrichment.BatchSize)
	}
	if c.Enrichment.Workers <= 0 {
		return fmt.Errorf("config: enrichment.workers must be positive, got %d", c.Enrichment.Workers)
	}
	if c.Enrichment.VectorWriteBatchSize <= 0 {
		return fmt.Errorf("config: enrichment.vector_write_batch_size must be positive, got %d", c.Enrichment.VectorWriteBatchSize)
	}
	switch c.Vector.Store {
	case VectorStoreExact, VectorStoreCover, VectorStoreAuto:
	default:
		return fmt.Errorf("config: unknown vector.store %q", c.Vector.Store)
	}
	switch c.Vector.Compression {
	case "", "none", "lz4", "zstd":
	default:
		return fmt.Errorf("config: unknown vector.compression %q", c.Vector.Compression)
	}
	if c.Query.MaxDistinctGroups <= 0 || c.Query.AutoBins <= 0 {
		return fmt.Errorf("config: query.max_distinct_groups and query.auto_bins must be positive")
	}
	if c.Concept.MaxFolds < 2 {
		return fmt.Errorf("config: concept.max_folds must be at least 2, got %d", c.Concept.MaxFolds)
	}
	return nil
}
