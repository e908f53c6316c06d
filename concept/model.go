package concept

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jmoiron/sqlx"
	"go.opentelemetry.io/otel/attribute"

	"github.com/viant/curator/config"
	"github.com/viant/curator/errs"
	"github.com/viant/curator/index"
	"github.com/viant/curator/internal/logger"
	"github.com/viant/curator/internal/tracing"
	"github.com/viant/curator/signal"
)

// Model holds the per-draft classifiers of a concept for one embedding and
// the concept version they were fitted against. A published Model is never
// mutated; Sync replaces it.
type Model struct {
	Namespace string                 `json:"namespace"`
	Name      string                 `json:"name"`
	Embedding string                 `json:"embedding"`
	Version   int                    `json:"version"`
	Drafts    map[string]*Classifier `json:"drafts"`
	// Vectors caches example embeddings by example id; Contents records the
	// content each vector was computed from.
	Vectors  map[string][]float32 `json:"vectors"`
	Contents map[string]string    `json:"contents"`
}

// Classifier returns the draft's classifier, falling back to main.
func (m *Model) Classifier(draft string) *Classifier {
	if draft == "" {
		draft = DefaultDraft
	}
	if c, ok := m.Drafts[draft]; ok {
		return c
	}
	if c, ok := m.Drafts[DefaultDraft]; ok {
		return c
	}
	return &Classifier{Fallback: true}
}

// Score scores vectors with the draft's classifier after scaling them to
// unit length, the form the vector stores return.
func (m *Model) Score(draft string, vectors [][]float32) []float64 {
	unit := make([][]float32, len(vectors))
	for i, v := range vectors {
		unit[i] = index.Normalize(v)
	}
	return m.Classifier(draft).Score(unit)
}

// NegativeSource draws up to n reference texts used as extra negatives.
type NegativeSource func(ctx context.Context, n int) ([]string, error)

// Manager trains and caches concept models. At most one Sync runs per
// (concept, embedding).
type Manager struct {
	db        *sqlx.DB
	concepts  *Store
	cfg       config.Concept
	logger    *logger.Logger
	negatives NegativeSource

	locks  sync.Map
	mu     sync.RWMutex
	models map[string]*Model
	fits   atomic.Int64
}

// NewManager creates a manager and the concept_models table.
func NewManager(ctx context.Context, db *sqlx.DB, concepts *Store, cfg config.Concept, log *logger.Logger) (*Manager, error) {
	_, err := db.ExecContext(ctx, `
CREATE TABLE IF NOT EXISTS concept_models (
    namespace  TEXT NOT NULL,
    name       TEXT NOT NULL,
    embedding  TEXT NOT NULL,
    version    INTEGER NOT NULL,
    model      TEXT NOT NULL,
    updated_at INTEGER NOT NULL,
    PRIMARY KEY (namespace, name, embedding)
)`)
	if err != nil {
		return nil, err
	}
	return &Manager{
		db:       db,
		concepts: concepts,
		cfg:      cfg,
		logger:   logger.OrNop(log).With("component", "concept"),
		models:   map[string]*Model{},
	}, nil
}

// Concepts returns the backing concept store.
func (m *Manager) Concepts() *Store { return m.concepts }

// SetNegativeSource installs the source of injected negative examples.
func (m *Manager) SetNegativeSource(source NegativeSource) { m.negatives = source }

func modelKey(namespace, name, embedding string) string {
	return namespace + "/" + name + "/" + embedding
}

func (m *Manager) lock(key string) func() {
	v, _ := m.locks.LoadOrStore(key, &sync.Mutex{})
	mu := v.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}

// Model returns the current model, loading it from the database when not
// cached. A model never synced has version -1.
func (m *Manager) Model(ctx context.Context, namespace, name, embedding string) (*Model, error) {
	key := modelKey(namespace, name, embedding)
	m.mu.RLock()
	model, ok := m.models[key]
	m.mu.RUnlock()
	if ok {
		return model, nil
	}
	var data string
	err := m.db.GetContext(ctx, &data, `SELECT model FROM concept_models WHERE namespace = ? AND name = ? AND embedding = ?`, namespace, name, embedding)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		model = &Model{Namespace: namespace, Name: name, Embedding: embedding, Version: -1}
	case err != nil:
		return nil, err
	default:
		model = &Model{}
		if err = json.Unmarshal([]byte(data), model); err != nil {
			return nil, fmt.Errorf("concept model %s: %w", key, err)
		}
	}
	m.mu.Lock()
	if cached, ok := m.models[key]; ok {
		model = cached
	} else {
		m.models[key] = model
	}
	m.mu.Unlock()
	return model, nil
}

// InSync reports whether the model matches the concept's current version.
func (m *Manager) InSync(ctx context.Context, namespace, name, embedding string) (bool, error) {
	version, err := m.concepts.Version(ctx, namespace, name)
	if err != nil {
		return false, err
	}
	model, err := m.Model(ctx, namespace, name, embedding)
	if err != nil {
		return false, err
	}
	return model.Version == version, nil
}

// Sync refits the model when the concept changed since the last sync.
func (m *Manager) Sync(ctx context.Context, namespace, name, embedding string) (model *Model, err error) {
	key := modelKey(namespace, name, embedding)
	unlock := m.lock(key)
	defer unlock()

	c, err := m.concepts.Get(ctx, namespace, name)
	if err != nil {
		return nil, err
	}
	current, err := m.Model(ctx, namespace, name, embedding)
	if err != nil {
		return nil, err
	}
	if current.Version == c.Version {
		return current, nil
	}
	ctx, span := tracing.Start(ctx, "concept.Sync",
		attribute.String("concept", namespace+"/"+name),
		attribute.String("embedding", embedding),
		attribute.Int("version", c.Version))
	defer func() { tracing.End(span, err) }()

	started := time.Now()
	embedder, err := signal.ResolveEmbedding(embedding)
	if err != nil {
		return nil, err
	}
	next := &Model{
		Namespace: namespace, Name: name, Embedding: embedding, Version: c.Version,
		Drafts:   map[string]*Classifier{},
		Vectors:  map[string][]float32{},
		Contents: map[string]string{},
	}
	var pending []Example
	for _, id := range sortedIDs(c.Data) {
		e := c.Data[id]
		if vec, ok := current.Vectors[id]; ok && current.Contents[id] == e.content() {
			next.Vectors[id], next.Contents[id] = vec, e.content()
			continue
		}
		if e.Text == nil {
			continue
		}
		pending = append(pending, e)
	}
	texts := make([]string, len(pending))
	for i, e := range pending {
		texts[i] = *e.Text
	}
	vectors, err := embedTexts(ctx, embedder, texts)
	if err != nil {
		return nil, errs.ComputationFailure(err, "concept %s/%s: embedding %q", namespace, name, embedding)
	}
	for i, e := range pending {
		if vectors[i] != nil {
			next.Vectors[e.ID], next.Contents[e.ID] = vectors[i], e.content()
		}
	}

	negatives, err := m.negativeSamples(ctx, embedder)
	if err != nil {
		return nil, err
	}
	var skipped []string
	for _, draft := range c.Drafts() {
		var samples []sample
		view := DraftView(c, draft)
		for _, id := range sortedIDs(view) {
			if vec, ok := next.Vectors[id]; ok {
				samples = append(samples, sample{vector: vec, label: view[id].Label})
			}
		}
		samples = append(samples, negatives...)
		classifier, err := fitClassifier(ctx, samples, m.cfg.MaxFolds, m.cfg.Seed)
		if err != nil {
			return nil, err
		}
		if classifier.Fallback {
			skipped = append(skipped, draft)
		}
		next.Drafts[draft] = classifier
	}
	if err = m.save(ctx, next); err != nil {
		return nil, err
	}
	m.mu.Lock()
	m.models[key] = next
	m.mu.Unlock()
	m.fits.Add(1)
	m.logger.Info("concept model synced", "namespace", namespace, "name", name, "embedding", embedding,
		"version", next.Version, "examples", len(next.Vectors), "embedded", len(pending),
		"skipped_drafts", skipped, "elapsed", time.Since(started))
	return next, nil
}

func (m *Manager) negativeSamples(ctx context.Context, embedder *signal.Embedding) ([]sample, error) {
	if m.negatives == nil || m.cfg.NegativeSamples <= 0 {
		return nil, nil
	}
	texts, err := m.negatives(ctx, m.cfg.NegativeSamples)
	if err != nil {
		return nil, fmt.Errorf("concept: negative samples: %w", err)
	}
	vectors, err := embedTexts(ctx, embedder, texts)
	if err != nil {
		return nil, errs.ComputationFailure(err, "concept: embedding negative samples")
	}
	var out []sample
	for _, vec := range vectors {
		if vec != nil {
			out = append(out, sample{vector: vec, negative: true})
		}
	}
	return out, nil
}

// embedTexts embeds each text as the mean of its chunk vectors.
func embedTexts(ctx context.Context, embedder *signal.Embedding, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	values := make([]interface{}, len(texts))
	for i, t := range texts {
		values[i] = t
	}
	items, err := embedder.Compute(ctx, values)
	if err != nil {
		return nil, err
	}
	out := make([][]float32, len(texts))
	for i, item := range items {
		_, vecs := signal.SpanVectors(item)
		for j, v := range vecs {
			vecs[j] = index.Normalize(v)
		}
		if avg := mean(vecs); avg != nil {
			out[i] = index.Normalize(avg)
		}
	}
	return out, nil
}

func mean(vecs [][]float32) []float32 {
	if len(vecs) == 0 || len(vecs[0]) == 0 {
		return nil
	}
	if len(vecs) == 1 {
		return vecs[0]
	}
	out := make([]float32, len(vecs[0]))
	for _, v := range vecs {
		for j := range out {
			if j < len(v) {
				out[j] += v[j]
			}
		}
	}
	for j := range out {
		out[j] /= float32(len(vecs))
	}
	return out
}

func (m *Manager) save(ctx context.Context, model *Model) error {
	data, err := json.Marshal(model)
	if err != nil {
		return err
	}
	_, err = m.db.ExecContext(ctx, `INSERT OR REPLACE INTO concept_models(namespace, name, embedding, version, model, updated_at) VALUES(?, ?, ?, ?, ?, ?)`,
		model.Namespace, model.Name, model.Embedding, model.Version, string(data), time.Now().Unix())
	return err
}

// Delete drops the concept and every model trained on it.
func (m *Manager) Delete(ctx context.Context, namespace, name string) error {
	if err := m.concepts.Delete(ctx, namespace, name); err != nil {
		return err
	}
	if _, err := m.db.ExecContext(ctx, `DELETE FROM concept_models WHERE namespace = ? AND name = ?`, namespace, name); err != nil {
		return err
	}
	prefix := namespace + "/" + name + "/"
	m.mu.Lock()
	for key := range m.models {
		if strings.HasPrefix(key, prefix) {
			delete(m.models, key)
		}
	}
	m.mu.Unlock()
	return nil
}
