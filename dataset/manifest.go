package dataset

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/viant/curator/errs"
	"github.com/viant/curator/schema"
	"github.com/viant/curator/signal"
	"github.com/viant/curator/store"
)

// Enrichment records a signal computed over a source leaf.
type Enrichment struct {
	// Path is the source leaf the signal ran on.
	Path schema.Path `json:"path"`
	// Key is the signal's computed key, the child name of its output.
	Key    string          `json:"key"`
	Signal json.RawMessage `json:"signal"`
	Kind   signal.Kind     `json:"kind"`
	Fields *schema.Field   `json:"fields"`
	Table  string          `json:"table"`
	// VectorIndex is set when span vectors were persisted for the path.
	VectorIndex bool      `json:"vector_index,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// Root is the path of the enrichment's output.
func (e Enrichment) Root() schema.Path { return e.Path.Append(e.Key) }

// Manifest is an immutable snapshot of a dataset's schema and enrichments.
type Manifest struct {
	Namespace   string         `json:"namespace"`
	Name        string         `json:"name"`
	Prefix      string         `json:"prefix"`
	Source      *schema.Schema `json:"source"`
	Enrichments []Enrichment   `json:"enrichments"`
	NumRows     int            `json:"num_rows"`
	// Seq numbers enrichment tables.
	Seq int `json:"seq"`

	once sync.Once
	full *schema.Schema
}

// Schema returns the source schema with every enrichment's output attached
// under its source leaf.
func (m *Manifest) Schema() *schema.Schema {
	m.once.Do(func() {
		full := m.Source.Clone()
		for _, e := range m.Enrichments {
			field := e.Fields.Clone()
			field.Signal = e.Signal
			_ = full.SetChild(e.Path, e.Key, field)
		}
		m.full = full
	})
	return m.full
}

func (m *Manifest) clone() *Manifest {
	return &Manifest{
		Namespace:   m.Namespace,
		Name:        m.Name,
		Prefix:      m.Prefix,
		Source:      m.Source,
		Enrichments: append([]Enrichment(nil), m.Enrichments...),
		NumRows:     m.NumRows,
		Seq:         m.Seq,
	}
}

// Enrichment returns the enrichment with key computed over path.
func (m *Manifest) Enrichment(path schema.Path, key string) (Enrichment, bool) {
	for _, e := range m.Enrichments {
		if e.Key == key && e.Path.Equal(path) {
			return e, true
		}
	}
	return Enrichment{}, false
}

func (m *Manifest) without(path schema.Path, key string) {
	kept := m.Enrichments[:0:0]
	for _, e := range m.Enrichments {
		if e.Key == key && e.Path.Equal(path) {
			continue
		}
		kept = append(kept, e)
	}
	m.Enrichments = kept
}

// enrichmentOf returns the enrichment whose output contains path.
func (m *Manifest) enrichmentOf(path schema.Path) (Enrichment, bool) {
	for _, e := range m.Enrichments {
		if path.HasPrefix(e.Root()) {
			return e, true
		}
	}
	return Enrichment{}, false
}

// relative returns the path of a value inside its storage: the row document
// for source paths, the aligned enrichment value otherwise.
func (m *Manifest) relative(path schema.Path) (table string, rel schema.Path, err error) {
	if e, ok := m.enrichmentOf(path); ok {
		rel = append(e.Path.Wildcards(), path[len(e.Root()):]...)
		return e.Table, rel, nil
	}
	if !m.Source.HasField(path) {
		return "", nil, errs.NotFound("path %q", path.String())
	}
	return "", path, nil
}

// column resolves path to a backing store column.
func (m *Manifest) column(path schema.Path) (store.Column, error) {
	table, rel, err := m.relative(path)
	if err != nil {
		return store.Column{}, err
	}
	return toColumn(table, rel), nil
}

func toColumn(table string, rel schema.Path) store.Column {
	steps := make([]store.Step, len(rel))
	for i, seg := range rel {
		if seg == schema.Wildcard {
			steps[i] = store.Step{Wildcard: true}
		} else {
			steps[i] = store.Step{Key: seg}
		}
	}
	return store.Column{Table: table, Steps: steps}
}

// leafPath resolves repeated fields down to their leaf and checks the path
// addresses a value that can be compared.
func (m *Manifest) leafPath(path schema.Path) (schema.Path, *schema.Field, error) {
	field, err := m.Schema().GetField(path)
	if err != nil {
		return nil, nil, err
	}
	resolved := path.Clone()
	for field.IsRepeated() {
		field = field.RepeatedField
		resolved = resolved.Append(schema.Wildcard)
	}
	if !field.IsLeaf() {
		return nil, nil, errs.InvalidArgument("path %q is not a leaf", path.String())
	}
	if field.DType == schema.Map {
		return nil, nil, errs.InvalidArgument("path %q has map type", path.String())
	}
	return resolved, field, nil
}
