package dataset

import (
	"context"
	"encoding/json"
	"strconv"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/viant/curator/errs"
	"github.com/viant/curator/internal/tracing"
	"github.com/viant/curator/schema"
	"github.com/viant/curator/signal"
	"github.com/viant/curator/store"
	"github.com/viant/curator/tasks"
	"github.com/viant/curator/vector"
)

// ComputeOptions tune a signal computation.
type ComputeOptions struct {
	// Overwrite replaces an existing enrichment with the same key.
	Overwrite bool
	// Progress receives processed and total row counts.
	Progress tasks.Reporter
}

// stagedVectors is the cached vector payload of one path key.
type stagedVectors struct {
	Indices []int         `json:"indices,omitempty"`
	Spans   []vector.Span `json:"spans"`
	Matrix  []byte        `json:"matrix"`
}

// rowDoc is a decoded source row.
type rowDoc struct {
	id  string
	doc interface{}
}

func decodeRows(rows []store.Row) ([]rowDoc, error) {
	out := make([]rowDoc, len(rows))
	for i, row := range rows {
		out[i].id = row.ID
		if err := json.Unmarshal(row.Doc, &out[i].doc); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// ComputeSignal computes sig over every value at the source leaf path and
// publishes the result as a new schema branch. Outputs are cached per batch,
// so a failed or cancelled run resumes where it stopped; the manifest changes
// only once every row is computed.
func (d *Dataset) ComputeSignal(ctx context.Context, sig signal.Signal, path schema.Path, opts ComputeOptions) (err error) {
	ctx, span := tracing.Start(ctx, "dataset.ComputeSignal",
		attribute.String("signal", sig.Name()), attribute.String("path", path.String()))
	defer func() { tracing.End(span, err) }()

	m := d.Manifest()
	if _, ok := m.enrichmentOf(path); ok {
		return errs.InvalidArgument("path %q is inside an enrichment; signals run on source fields", path.String())
	}
	field, err := m.Source.GetField(path)
	if err != nil {
		return err
	}
	if !field.IsLeaf() {
		return errs.InvalidArgument("path %q is not a leaf", path.String())
	}
	if vc, ok := sig.(signal.VectorComputer); ok {
		if err = d.ensureEmbedding(ctx, vc.Embedding(), path, opts); err != nil {
			return err
		}
	}
	key, err := signal.Key(sig, true)
	if err != nil {
		return err
	}
	if _, ok := m.Enrichment(path, key); ok && !opts.Overwrite {
		return errs.AlreadyExists("enrichment %q at path %q", key, path.String())
	}
	config, err := signal.Marshal(sig)
	if err != nil {
		return err
	}
	if err = signal.Setup(ctx, sig); err != nil {
		return errs.ComputationFailure(err, "signal %q setup", key)
	}
	var idx *vector.Index
	if vc, ok := sig.(signal.VectorComputer); ok {
		if idx, err = d.env.Vectors.Load(ctx, d.vectorRef(path, vc.Embedding())); err != nil {
			return err
		}
	}

	started := time.Now()
	stagingKey := path.String() + "|" + key
	if err = d.computeRows(ctx, sig, key, path, stagingKey, idx, opts.Progress); err != nil {
		return err
	}
	if err = d.commit(ctx, Enrichment{
		Path:   path,
		Key:    key,
		Signal: config,
		Kind:   sig.Kind(),
		Fields: sig.Fields(),
	}, stagingKey, opts.Overwrite); err != nil {
		return err
	}
	d.logger.Info("signal computed", "signal", key, "path", path.String(), "rows", m.NumRows, "elapsed", time.Since(started).String())
	return nil
}

// ComputeSignalAsync runs ComputeSignal as a background job.
func (d *Dataset) ComputeSignalAsync(sig signal.Signal, path schema.Path, overwrite bool) tasks.JobID {
	name := "compute " + sig.Name() + " on " + datasetKey(d.Manifest().Namespace, d.Manifest().Name) + ":" + path.String()
	return d.env.Tasks.Submit(name, func(ctx context.Context, report tasks.Reporter) error {
		return d.ComputeSignal(ctx, sig, path, ComputeOptions{Overwrite: overwrite, Progress: report})
	})
}

// ensureEmbedding computes the named embedding at path unless it is present.
func (d *Dataset) ensureEmbedding(ctx context.Context, name string, path schema.Path, opts ComputeOptions) error {
	embedding, err := signal.ResolveEmbedding(name)
	if err != nil {
		return errs.DependencyUnavailable("embedding %q: %v", name, err)
	}
	key, err := signal.Key(embedding, true)
	if err != nil {
		return err
	}
	if _, ok := d.Manifest().Enrichment(path, key); ok {
		return nil
	}
	d.logger.Info("computing missing embedding", "embedding", key, "path", path.String())
	return d.ComputeSignal(ctx, embedding, path, ComputeOptions{Progress: opts.Progress})
}

// computeRows stages outputs for every row not yet cached.
func (d *Dataset) computeRows(ctx context.Context, sig signal.Signal, key string, path schema.Path, stagingKey string, idx *vector.Index, progress tasks.Reporter) error {
	m := d.Manifest()
	cfg := d.env.Config.Enrichment
	staged, err := d.env.Store.StagedIDs(ctx, m.Prefix, stagingKey)
	if err != nil {
		return err
	}
	if len(staged) > 0 {
		d.logger.Info("resuming signal", "signal", key, "path", path.String(), "cached", len(staged))
	}
	var done atomic.Int64
	done.Store(int64(len(staged)))
	report := func() {
		if progress != nil {
			progress(int(done.Load()), m.NumRows)
		}
	}
	report()

	group, gctx := errgroup.WithContext(ctx)
	group.SetLimit(cfg.Workers)
	var after int64
	var readErr error
	for gctx.Err() == nil {
		rows, err := d.env.Store.RowBatch(gctx, m.Prefix, after, cfg.BatchSize)
		if err != nil {
			readErr = err
			break
		}
		if len(rows) == 0 {
			break
		}
		after = rows[len(rows)-1].RowID
		todo := rows[:0:0]
		for _, row := range rows {
			if !staged[row.ID] {
				todo = append(todo, row)
			}
		}
		if len(todo) == 0 {
			continue
		}
		group.Go(func() error {
			docs, err := decodeRows(todo)
			if err != nil {
				return err
			}
			values, vectors, err := runSignal(gctx, sig, key, path, docs, idx)
			if err != nil {
				return err
			}
			items := make([]store.Staged, len(docs))
			for i, row := range docs {
				items[i].ID = row.id
				if values[i] != nil {
					if items[i].Value, err = json.Marshal(values[i]); err != nil {
						return err
					}
				}
				if len(vectors[i]) > 0 {
					if items[i].Vectors, err = json.Marshal(vectors[i]); err != nil {
						return err
					}
				}
			}
			if err = d.env.Store.Stage(gctx, m.Prefix, stagingKey, items); err != nil {
				return err
			}
			done.Add(int64(len(items)))
			report()
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return err
	}
	if readErr != nil {
		return readErr
	}
	return ctx.Err()
}

// runSignal computes sig over the values at path of each row and shapes the
// outputs back into the wildcard structure of the row. Embedding vectors are
// split off into the second result.
func runSignal(ctx context.Context, sig signal.Signal, key string, path schema.Path, rows []rowDoc, idx *vector.Index) ([]interface{}, [][]stagedVectors, error) {
	var inputs []interface{}
	var keys []vector.PathKey
	for _, row := range rows {
		walk(row.doc, path, nil, func(indices []int, v interface{}) interface{} {
			inputs = append(inputs, v)
			keys = append(keys, vector.NewPathKey(row.id, indices...))
			return nil
		})
	}
	var outputs []interface{}
	var err error
	switch s := sig.(type) {
	case signal.VectorComputer:
		if idx == nil {
			return nil, nil, errs.DependencyUnavailable("signal %q: no vector index for path %q", key, path.String())
		}
		outputs, err = s.VectorCompute(ctx, keys, idx)
	case signal.Computer:
		outputs, err = s.Compute(ctx, inputs)
	default:
		return nil, nil, errs.InvalidArgument("signal %q cannot compute values", key)
	}
	if err != nil {
		return nil, nil, errs.ComputationFailure(err, "signal %q on path %q", key, path.String())
	}
	if len(outputs) != len(inputs) {
		return nil, nil, errs.InvalidArgument("signal %q returned %d outputs for %d inputs", key, len(outputs), len(inputs))
	}
	values := make([]interface{}, len(rows))
	vectors := make([][]stagedVectors, len(rows))
	n := 0
	for i, row := range rows {
		values[i] = walk(row.doc, path, nil, func(indices []int, _ interface{}) interface{} {
			out := outputs[n]
			n++
			if sig.Kind() != signal.KindEmbedding || out == nil {
				return schema.SanitizeValue(out)
			}
			spans, vecs := signal.SpanVectors(out)
			if len(spans) > 0 {
				vectors[i] = append(vectors[i], stagedVectors{Indices: indices, Spans: spans, Matrix: vector.EncodeMatrix(vecs)})
			}
			return stripEmbeddings(out)
		})
	}
	return values, vectors, nil
}

// stripEmbeddings drops vectors from embedding span items.
func stripEmbeddings(v interface{}) interface{} {
	list, ok := v.([]interface{})
	if !ok {
		return nil
	}
	out := make([]interface{}, len(list))
	for i, item := range list {
		m, ok := item.(map[string]interface{})
		if !ok {
			continue
		}
		kept := make(map[string]interface{}, len(m))
		for k, val := range m {
			if k != schema.EmbeddingKey {
				kept[k] = val
			}
		}
		out[i] = schema.SanitizeValue(kept)
	}
	return out
}

// commit publishes staged outputs: the enrichment table, the vector index
// and the manifest change in one transaction.
func (d *Dataset) commit(ctx context.Context, enrichment Enrichment, stagingKey string, overwrite bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	cur := d.Manifest()
	existing, exists := cur.Enrichment(enrichment.Path, enrichment.Key)
	if exists && !overwrite {
		return errs.AlreadyExists("enrichment %q at path %q", enrichment.Key, enrichment.Path.String())
	}
	next := cur.clone()
	next.Seq++
	enrichment.Table = next.Prefix + "__e" + strconv.Itoa(next.Seq)
	enrichment.CreatedAt = time.Now().UTC()

	var idx *vector.Index
	var kind string
	ref := d.vectorRef(enrichment.Path, enrichment.Key)
	if enrichment.Kind == signal.KindEmbedding {
		unlock, err := d.env.Vectors.Lock(ctx, ref)
		if err != nil {
			return err
		}
		defer unlock()
		if idx, kind, err = d.buildIndex(ctx, stagingKey); err != nil {
			return err
		}
		enrichment.VectorIndex = true
	}
	if exists {
		next.without(existing.Path, existing.Key)
	}
	next.Enrichments = append(next.Enrichments, enrichment)
	data, err := json.Marshal(next)
	if err != nil {
		return err
	}

	tx, err := d.env.Store.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	if err = d.env.Store.CreateTable(ctx, tx, store.EnrichmentTableDDL(enrichment.Table)); err != nil {
		return err
	}
	if err = d.env.Store.CommitStaged(ctx, tx, cur.Prefix, stagingKey, enrichment.Table); err != nil {
		return err
	}
	if exists {
		if err = d.env.Store.DropTable(ctx, tx, existing.Table); err != nil {
			return err
		}
	}
	if idx != nil {
		if err = d.env.Vectors.Save(ctx, tx, ref, kind, idx); err != nil {
			return err
		}
	}
	if err = d.env.Store.SaveManifest(ctx, tx, cur.Namespace, cur.Name, data); err != nil {
		return err
	}
	if err = d.env.Store.ClearStaging(ctx, tx, cur.Prefix, stagingKey); err != nil {
		return err
	}
	if err = tx.Commit(); err != nil {
		return err
	}
	if idx != nil {
		d.env.Vectors.Put(ref, idx)
	}
	d.manifest.Store(next)
	return nil
}

// buildIndex assembles the staged span vectors of an embedding.
func (d *Dataset) buildIndex(ctx context.Context, stagingKey string) (*vector.Index, string, error) {
	m := d.Manifest()
	var entries []vector.Entry
	spans, dim := 0, 0
	after := ""
	for {
		items, err := d.env.Store.StagedItems(ctx, m.Prefix, stagingKey, after, d.env.Config.Enrichment.BatchSize)
		if err != nil {
			return nil, "", err
		}
		if len(items) == 0 {
			break
		}
		after = items[len(items)-1].ID
		for _, item := range items {
			if len(item.Vectors) == 0 {
				continue
			}
			var cached []stagedVectors
			if err := json.Unmarshal(item.Vectors, &cached); err != nil {
				return nil, "", err
			}
			for _, c := range cached {
				vecs, err := vector.DecodeMatrix(c.Matrix)
				if err != nil {
					return nil, "", err
				}
				entries = append(entries, vector.Entry{Key: vector.NewPathKey(item.ID, c.Indices...), Spans: c.Spans, Vectors: vecs})
				spans += len(vecs)
				if len(vecs) > 0 {
					dim = len(vecs[0])
				}
			}
		}
	}
	idx, kind, err := d.env.Vectors.New(spans, dim, d.env.Config.Enrichment.VectorWriteBatchSize)
	if err != nil {
		return nil, "", err
	}
	if len(entries) > 0 {
		if err = idx.Add(entries); err != nil {
			return nil, "", err
		}
	}
	return idx, kind, nil
}
