package dataset

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/viant/curator/concept"
	"github.com/viant/curator/errs"
	"github.com/viant/curator/internal/logger"
	"github.com/viant/curator/schema"
	"github.com/viant/curator/store"
	"github.com/viant/curator/vector"
)

// Dataset is a named, immutable set of rows plus the enrichments computed
// over them. Readers see a manifest snapshot; writers swap it under mu.
type Dataset struct {
	env      *Env
	logger   *logger.Logger
	mu       sync.Mutex
	manifest atomic.Pointer[Manifest]
}

func datasetKey(namespace, name string) string { return namespace + "/" + name }

// Create stores rows as a new dataset. The schema is inferred when src is
// nil. Rows carrying the row id key keep it; other rows get a generated id.
func Create(ctx context.Context, env *Env, namespace, name string, rows []map[string]interface{}, src *schema.Schema) (*Dataset, error) {
	if namespace == "" || name == "" {
		return nil, errs.InvalidArgument("dataset namespace and name are required")
	}
	if _, err := env.Store.LoadManifest(ctx, namespace, name); err == nil {
		return nil, errs.AlreadyExists("dataset %s/%s", namespace, name)
	}
	var err error
	if src == nil {
		if src, err = schema.Infer(rows); err != nil {
			return nil, err
		}
	} else if err = src.Validate(); err != nil {
		return nil, err
	}
	prefix := "ds_" + strings.ReplaceAll(uuid.NewString(), "-", "")
	records := make([]store.Row, len(rows))
	for i, row := range rows {
		id := uuid.NewString()
		doc := make(map[string]interface{}, len(row))
		for k, v := range row {
			if k == schema.RowIDKey {
				if v != nil {
					id = fmt.Sprint(v)
				}
				continue
			}
			doc[k] = schema.SanitizeValue(v)
		}
		data, err := json.Marshal(doc)
		if err != nil {
			return nil, errs.InvalidArgument("row %d: %v", i, err)
		}
		records[i] = store.Row{ID: id, Doc: data}
	}
	m := &Manifest{Namespace: namespace, Name: name, Prefix: prefix, Source: src, NumRows: len(rows)}
	data, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	tx, err := env.Store.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()
	if err = env.Store.CreateTable(ctx, tx, store.RowsTableDDL(store.RowsTable(prefix))); err != nil {
		return nil, err
	}
	if err = env.Store.InsertRows(ctx, tx, prefix, records); err != nil {
		return nil, errs.InvalidArgument("dataset %s/%s: %v", namespace, name, err)
	}
	if err = env.Store.SaveManifest(ctx, tx, namespace, name, data); err != nil {
		return nil, err
	}
	if err = tx.Commit(); err != nil {
		return nil, err
	}
	env.Logger.Info("dataset created", "namespace", namespace, "name", name, "rows", len(rows))
	d := newDataset(env, m)
	env.datasets.Store(datasetKey(namespace, name), d)
	return d, nil
}

// Open returns the dataset named namespace/name.
func Open(ctx context.Context, env *Env, namespace, name string) (*Dataset, error) {
	if v, ok := env.datasets.Load(datasetKey(namespace, name)); ok {
		return v.(*Dataset), nil
	}
	data, err := env.Store.LoadManifest(ctx, namespace, name)
	if err != nil {
		return nil, err
	}
	m := &Manifest{}
	if err := json.Unmarshal(data, m); err != nil {
		return nil, fmt.Errorf("dataset %s/%s: decode manifest: %w", namespace, name, err)
	}
	v, _ := env.datasets.LoadOrStore(datasetKey(namespace, name), newDataset(env, m))
	return v.(*Dataset), nil
}

// List returns the datasets of a namespace, or of all namespaces when
// namespace is empty.
func List(ctx context.Context, env *Env, namespace string) ([]store.ManifestRef, error) {
	return env.Store.ListManifests(ctx, namespace)
}

func newDataset(env *Env, m *Manifest) *Dataset {
	d := &Dataset{env: env, logger: env.Logger.With("dataset", datasetKey(m.Namespace, m.Name))}
	d.manifest.Store(m)
	return d
}

// Manifest returns the current manifest snapshot.
func (d *Dataset) Manifest() *Manifest { return d.manifest.Load() }

// Schema returns the full schema: source fields plus enrichments.
func (d *Dataset) Schema() *schema.Schema { return d.Manifest().Schema() }

// Delete drops the dataset with every enrichment, cached output and vector
// index.
func (d *Dataset) Delete(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	m := d.Manifest()
	tx, err := d.env.Store.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	if err = d.env.Store.DropTable(ctx, tx, store.RowsTable(m.Prefix)); err != nil {
		return err
	}
	for _, e := range m.Enrichments {
		if err = d.env.Store.DropTable(ctx, tx, e.Table); err != nil {
			return err
		}
	}
	if err = d.env.Store.ClearStaging(ctx, tx, m.Prefix, ""); err != nil {
		return err
	}
	if err = d.env.Vectors.DeleteDataset(ctx, tx, m.Prefix); err != nil {
		return err
	}
	if err = d.env.Store.DeleteManifest(ctx, tx, m.Namespace, m.Name); err != nil {
		return err
	}
	if err = tx.Commit(); err != nil {
		return err
	}
	d.env.datasets.Delete(datasetKey(m.Namespace, m.Name))
	d.logger.Info("dataset deleted")
	return nil
}

// DeleteSignal removes the enrichment rooted at path, the source leaf path
// followed by the enrichment key.
func (d *Dataset) DeleteSignal(ctx context.Context, path schema.Path) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	cur := d.Manifest()
	var target *Enrichment
	for i := range cur.Enrichments {
		if cur.Enrichments[i].Root().Equal(path) {
			target = &cur.Enrichments[i]
			break
		}
	}
	if target == nil {
		return errs.NotFound("enrichment %q", path.String())
	}
	next := cur.clone()
	next.without(target.Path, target.Key)
	data, err := json.Marshal(next)
	if err != nil {
		return err
	}
	tx, err := d.env.Store.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	if err = d.env.Store.DropTable(ctx, tx, target.Table); err != nil {
		return err
	}
	ref := d.vectorRef(target.Path, target.Key)
	if target.VectorIndex {
		if err = d.env.Vectors.Delete(ctx, tx, ref); err != nil {
			return err
		}
	}
	if err = d.env.Store.SaveManifest(ctx, tx, cur.Namespace, cur.Name, data); err != nil {
		return err
	}
	if err = tx.Commit(); err != nil {
		return err
	}
	if target.VectorIndex {
		d.env.Vectors.Invalidate(ref)
	}
	d.manifest.Store(next)
	d.logger.Info("signal deleted", "path", path.String())
	return nil
}

func (d *Dataset) vectorRef(path schema.Path, embedding string) vector.Ref {
	return vector.Ref{Dataset: d.Manifest().Prefix, Path: path.String(), Embedding: embedding}
}

// NegativeSource draws random texts from a string column, for use as
// concept training negatives.
func (d *Dataset) NegativeSource(path schema.Path) concept.NegativeSource {
	return func(ctx context.Context, n int) ([]string, error) {
		m := d.Manifest()
		field, err := m.Source.GetField(path)
		if err != nil {
			return nil, err
		}
		if field.DType != schema.String {
			return nil, errs.InvalidArgument("negative source %q is not a string column", path.String())
		}
		rows, err := d.env.Store.SampleRows(ctx, m.Prefix, n)
		if err != nil {
			return nil, err
		}
		var out []string
		for _, row := range rows {
			var doc interface{}
			if err := json.Unmarshal(row.Doc, &doc); err != nil {
				return nil, err
			}
			for _, v := range scalars(doc, path) {
				if text, ok := v.(string); ok && text != "" {
					out = append(out, text)
				}
			}
		}
		if len(out) > n {
			out = out[:n]
		}
		return out, nil
	}
}
