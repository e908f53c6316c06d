package dataset

import (
	"context"
	"encoding/json"
	"sort"

	"go.opentelemetry.io/otel/attribute"

	"github.com/viant/curator/concept"
	"github.com/viant/curator/errs"
	"github.com/viant/curator/internal/tracing"
	"github.com/viant/curator/schema"
	"github.com/viant/curator/signal"
	"github.com/viant/curator/store"
	"github.com/viant/curator/vector"
)

// SortOrder is the direction of a sort.
type SortOrder string

const (
	Ascending  SortOrder = "ASC"
	Descending SortOrder = "DESC"
)

// Column selects a path. With a Signal, the signal is computed over the path
// at query time and the column carries its output.
type Column struct {
	Path   schema.Path
	Signal signal.Signal
	Alias  string
}

// Col is a plain path column.
func Col(segments ...string) Column { return Column{Path: schema.Path(segments)} }

// Filter is a predicate over a path.
type Filter struct {
	Path  schema.Path
	Op    store.Op
	Value interface{}
}

// SearchType selects how a search matches rows.
type SearchType string

const (
	KeywordSearch  SearchType = "keyword"
	SemanticSearch SearchType = "semantic"
	ConceptSearch  SearchType = "concept"
)

// Search is a keyword, semantic or concept search over a string path.
type Search struct {
	Path  schema.Path
	Type  SearchType
	Query string
	// Embedding is required for semantic and concept searches.
	Embedding        string
	ConceptNamespace string
	ConceptName      string
	Draft            string
}

// Query selects rows.
type Query struct {
	// Columns default to every top-level field.
	Columns  []Column
	Searches []Search
	Filters  []Filter
	// SortBy overrides the ordering implied by searches.
	SortBy    []schema.Path
	SortOrder SortOrder
	Limit     int
	Offset    int
	// Combine nests enrichment and computed values under their source
	// leaves instead of returning one flat key per leaf path.
	Combine bool
}

// Rows is a page of selected rows with the total matching count.
type Rows struct {
	Rows  []map[string]interface{}
	Total int
}

// RowsSchema describes the output of a row query.
type RowsSchema struct {
	Schema *schema.Schema
	// UDFs lists the signal columns, including those added by searches.
	UDFs  []Column
	Sorts []SortResult
}

// SortResult is an effective sort of a row query.
type SortResult struct {
	Path  schema.Path
	Order SortOrder
}

type udf struct {
	path   schema.Path
	sig    signal.Signal
	key    string
	alias  string
	search bool
}

func (u *udf) output() schema.Path { return u.path.Append(u.key) }

func (u *udf) name() string {
	if u.alias != "" {
		return u.alias
	}
	return u.output().String()
}

// sub returns the part of path inside the udf output.
func (u *udf) sub(path schema.Path) (schema.Path, bool) {
	if u.alias != "" && len(path) > 0 && path[0] == u.alias {
		return path[1:], true
	}
	if path.HasPrefix(u.output()) {
		return path[len(u.output()):], true
	}
	return nil, false
}

type sortKey struct {
	path  schema.Path
	udf   int
	sub   schema.Path
	table string
	rel   schema.Path
}

type udfFilter struct {
	udf int
	sub schema.Path
	op  store.Op
	arg interface{}
}

type plan struct {
	m          *Manifest
	paths      []schema.Path
	aliases    map[string]schema.Path
	udfs       []*udf
	filters    []store.Filter
	udfFilters []udfFilter
	sorts      []sortKey
	desc       bool
}

func (d *Dataset) plan(q Query) (*plan, error) {
	m := d.Manifest()
	full := m.Schema()
	p := &plan{m: m, aliases: map[string]schema.Path{}}
	switch q.SortOrder {
	case "", Ascending:
	case Descending:
		p.desc = true
	default:
		return nil, errs.InvalidArgument("unknown sort order %q", q.SortOrder)
	}
	if q.Limit < 0 || q.Offset < 0 {
		return nil, errs.InvalidArgument("limit and offset must not be negative")
	}
	columns := q.Columns
	if len(columns) == 0 {
		columns = []Column{Col(schema.Wildcard)}
	}
	for _, c := range columns {
		if c.Signal != nil {
			if _, err := p.addUDF(c.Path, c.Signal, c.Alias, false); err != nil {
				return nil, err
			}
			continue
		}
		if len(c.Path) == 1 && c.Path[0] == schema.Wildcard {
			for _, name := range m.Source.Fields.Names() {
				p.paths = append(p.paths, schema.Path{name})
			}
			continue
		}
		if !full.HasField(c.Path) {
			return nil, errs.NotFound("column %q", c.Path.String())
		}
		if c.Alias != "" {
			if err := p.addAlias(full, c.Alias, c.Path); err != nil {
				return nil, err
			}
		}
		p.paths = append(p.paths, c.Path)
	}
	for _, u := range p.udfs {
		if _, ok := p.aliases[u.alias]; ok && u.alias != "" {
			return nil, errs.InvalidArgument("duplicate column %q", u.alias)
		}
	}

	var implied []schema.Path
	for _, s := range q.Searches {
		scored, err := p.addSearch(s)
		if err != nil {
			return nil, err
		}
		if scored != nil {
			implied = append(implied, scored)
		}
	}

	for _, f := range q.Filters {
		if i, sub, ok := p.udfFor(f.Path); ok {
			sub, field, err := p.udfLeaf(i, sub)
			if err != nil {
				return nil, errs.InvalidArgument("cannot filter by %q: %v", f.Path.String(), err)
			}
			if !field.IsLeaf() && f.Op != store.Exists {
				return nil, errs.InvalidArgument("cannot filter by %q: not a leaf", f.Path.String())
			}
			p.udfFilters = append(p.udfFilters, udfFilter{udf: i, sub: sub, op: f.Op, arg: f.Value})
			continue
		}
		leaf, _, err := m.leafPath(p.resolve(f.Path))
		if err != nil {
			return nil, err
		}
		col, err := m.column(leaf)
		if err != nil {
			return nil, err
		}
		p.filters = append(p.filters, store.Filter{Column: col, Op: f.Op, Value: f.Value})
	}

	sortBy := q.SortBy
	if len(sortBy) == 0 && len(implied) > 0 {
		sortBy = implied[:1]
		p.desc = true
	}
	for _, path := range sortBy {
		key, err := p.sortKey(path)
		if err != nil {
			return nil, err
		}
		p.sorts = append(p.sorts, key)
	}
	return p, nil
}

// addAlias binds alias to a stored path so sorts, filters and flat output
// keys can refer to it.
func (p *plan) addAlias(full *schema.Schema, alias string, path schema.Path) error {
	if _, ok := p.aliases[alias]; ok {
		return errs.InvalidArgument("duplicate column %q", alias)
	}
	if alias == schema.Wildcard || alias == schema.RowIDKey {
		return errs.InvalidArgument("invalid alias %q", alias)
	}
	if full.HasField(schema.Path{alias}) && !path.Equal(schema.Path{alias}) {
		return errs.InvalidArgument("alias %q shadows a field", alias)
	}
	p.aliases[alias] = path
	return nil
}

// resolve replaces a leading alias with the path it is bound to.
func (p *plan) resolve(path schema.Path) schema.Path {
	if len(path) == 0 {
		return path
	}
	bound, ok := p.aliases[path[0]]
	if !ok {
		return path
	}
	return bound.Append(path[1:]...)
}

// outputKey is the flat output key of a stored leaf; the alias bound to the
// longest prefix of leaf replaces that prefix.
func (p *plan) outputKey(leaf schema.Path) string {
	name, best := "", -1
	for alias, bound := range p.aliases {
		if leaf.HasPrefix(bound) && (len(bound) > best || len(bound) == best && alias < name) {
			name, best = alias, len(bound)
		}
	}
	if best < 0 {
		return leaf.String()
	}
	return schema.Path{name}.Append(leaf[best:]...).String()
}

func (p *plan) addUDF(path schema.Path, sig signal.Signal, alias string, search bool) (*udf, error) {
	key, err := signal.Key(sig, false)
	if err != nil {
		return nil, err
	}
	u := &udf{path: path, sig: sig, key: key, alias: alias, search: search}
	if _, ok := p.m.enrichmentOf(path); ok {
		return nil, errs.Column(u.name(), errs.InvalidArgument("signals run on source fields, not %q", path.String()))
	}
	field, err := p.m.Source.GetField(path)
	if err != nil {
		return nil, errs.Column(u.name(), err)
	}
	if !field.IsLeaf() {
		return nil, errs.Column(u.name(), errs.InvalidArgument("path %q is not a leaf", path.String()))
	}
	if vc, ok := sig.(signal.VectorComputer); ok {
		if _, ok := p.m.Enrichment(path, vc.Embedding()); !ok {
			return nil, errs.Column(u.name(), errs.DependencyUnavailable("embedding %q has not been computed for path %q", vc.Embedding(), path.String()))
		}
	}
	for _, other := range p.udfs {
		if other.name() == u.name() {
			if search && other.search {
				return other, nil
			}
			return nil, errs.InvalidArgument("duplicate column %q", u.name())
		}
	}
	p.udfs = append(p.udfs, u)
	return u, nil
}

// addSearch adds the columns and filters of a search and returns the path
// whose scores order the results, if any.
func (p *plan) addSearch(s Search) (schema.Path, error) {
	if s.Query == "" && s.Type != ConceptSearch {
		return nil, errs.InvalidArgument("%s search on %q: query is required", s.Type, s.Path.String())
	}
	switch s.Type {
	case KeywordSearch:
		leaf, field, err := p.m.leafPath(s.Path)
		if err != nil {
			return nil, err
		}
		if field.DType != schema.String {
			return nil, errs.InvalidArgument("keyword search on %q: %s values", s.Path.String(), field.DType)
		}
		col, err := p.m.column(leaf)
		if err != nil {
			return nil, err
		}
		p.filters = append(p.filters, store.Filter{Column: col, Op: store.Contains, Value: s.Query})
		u, err := p.addUDF(leaf, &signal.SubstringSearch{Query: s.Query}, "", true)
		if err != nil {
			return nil, err
		}
		// rows whose spans are all empty are dropped
		spans := leaf.Wildcards().Append(schema.Wildcard)
		p.udfFilters = append(p.udfFilters, udfFilter{udf: p.indexOf(u), sub: spans, op: store.Exists})
		return nil, nil
	case SemanticSearch:
		u, err := p.addUDF(s.Path, &signal.SemanticSimilarity{EmbeddingName: s.Embedding, Query: s.Query}, "", true)
		if err != nil {
			return nil, err
		}
		return u.output().Append(schema.Wildcard, "score"), nil
	case ConceptSearch:
		score, err := newConceptSignal[*concept.ScoreSignal](concept.ScoreSignalName)
		if err != nil {
			return nil, err
		}
		score.Namespace, score.ConceptName, score.EmbeddingName, score.Draft = s.ConceptNamespace, s.ConceptName, s.Embedding, s.Draft
		u, err := p.addUDF(s.Path, score, "", true)
		if err != nil {
			return nil, err
		}
		labels, err := newConceptSignal[*concept.LabelsSignal](concept.LabelsSignalName)
		if err != nil {
			return nil, err
		}
		labels.Namespace, labels.ConceptName, labels.Draft = s.ConceptNamespace, s.ConceptName, s.Draft
		if _, err = p.addUDF(s.Path, labels, "", true); err != nil {
			return nil, err
		}
		return u.output().Append(schema.Wildcard, "score"), nil
	}
	return nil, errs.InvalidArgument("unknown search type %q", s.Type)
}

func newConceptSignal[T signal.Signal](name string) (T, error) {
	var zero T
	sig, err := signal.Get(name)
	if err != nil {
		return zero, errs.DependencyUnavailable("signal %q is not registered", name)
	}
	typed, ok := sig.(T)
	if !ok {
		return zero, errs.DependencyUnavailable("signal %q has unexpected type %T", name, sig)
	}
	return typed, nil
}

func (p *plan) indexOf(u *udf) int {
	for i, other := range p.udfs {
		if other == u {
			return i
		}
	}
	return -1
}

func (p *plan) udfFor(path schema.Path) (int, schema.Path, bool) {
	for i, u := range p.udfs {
		if sub, ok := u.sub(path); ok {
			return i, sub, true
		}
	}
	return -1, nil, false
}

// udfLeaf resolves sub inside the output of udf i, descending through
// repeated fields.
func (p *plan) udfLeaf(i int, sub schema.Path) (schema.Path, *schema.Field, error) {
	u := p.udfs[i]
	wrapper := schema.New(schema.Child{Name: u.key, Field: u.sig.Fields()})
	field, err := wrapper.GetField(append(schema.Path{u.key}, sub...))
	if err != nil {
		return nil, nil, err
	}
	for field.IsRepeated() {
		field = field.RepeatedField
		sub = sub.Append(schema.Wildcard)
	}
	return sub, field, nil
}

func (p *plan) sortKey(path schema.Path) (sortKey, error) {
	if i, sub, ok := p.udfFor(path); ok {
		sub, field, err := p.udfLeaf(i, sub)
		if err != nil {
			return sortKey{}, errs.InvalidArgument("cannot sort by %q: %v", path.String(), err)
		}
		if !field.IsLeaf() || !field.DType.IsSortable() {
			return sortKey{}, errs.InvalidArgument("cannot sort by %q: not a sortable leaf", path.String())
		}
		return sortKey{path: path, udf: i, sub: sub}, nil
	}
	leaf, field, err := p.m.leafPath(p.resolve(path))
	if err != nil {
		return sortKey{}, err
	}
	if !field.DType.IsSortable() {
		return sortKey{}, errs.InvalidArgument("cannot sort by %q: %s values are not sortable", path.String(), field.DType)
	}
	table, rel, err := p.m.relative(leaf)
	if err != nil {
		return sortKey{}, err
	}
	return sortKey{path: path, udf: -1, table: table, rel: rel}, nil
}

func (p *plan) materialize() bool {
	if len(p.udfFilters) > 0 {
		return true
	}
	for _, s := range p.sorts {
		if s.udf >= 0 {
			return true
		}
	}
	return false
}

// topK returns the udf that can rank rows through its vector index.
func (p *plan) topK(q Query) (signal.TopKComputer, bool) {
	if len(p.sorts) != 1 || p.sorts[0].udf < 0 || !p.desc || q.Limit == 0 || len(p.udfFilters) > 0 {
		return nil, false
	}
	if !p.sorts[0].sub.Equal(schema.Path{schema.Wildcard, "score"}) {
		return nil, false
	}
	tk, ok := p.udfs[p.sorts[0].udf].sig.(signal.TopKComputer)
	return tk, ok
}

// tables lists the enrichment tables a row query reads.
func (p *plan) tables() []string {
	var out []string
	seen := map[string]bool{}
	add := func(table string) {
		if table != "" && !seen[table] {
			seen[table] = true
			out = append(out, table)
		}
	}
	for _, e := range p.m.Enrichments {
		if _, ok := p.selects(e); ok {
			add(e.Table)
		}
	}
	for _, s := range p.sorts {
		add(s.table)
	}
	return out
}

// selects reports which parts of an enrichment the requested paths cover;
// a nil result selects the whole value.
func (p *plan) selects(e Enrichment) ([]schema.Path, bool) {
	root := e.Root()
	var subs []schema.Path
	for _, path := range p.paths {
		if root.HasPrefix(path) {
			return nil, true
		}
		if path.HasPrefix(root) {
			subs = append(subs, path[len(root):])
		}
	}
	return subs, len(subs) > 0
}

func (p *plan) storeSorts() []store.Sort {
	out := make([]store.Sort, len(p.sorts))
	for i, s := range p.sorts {
		out[i] = store.Sort{Column: toColumn(s.table, s.rel), Desc: p.desc}
	}
	return out
}

// leaves lists the flat output keys of the requested paths.
func (p *plan) leaves() []schema.Path {
	var out []schema.Path
	for _, entry := range p.m.Schema().Leaves() {
		if entry.Field.DType == schema.Embedding {
			continue
		}
		for _, path := range p.paths {
			if entry.Path.HasPrefix(path) {
				out = append(out, entry.Path)
				break
			}
		}
	}
	return out
}

type resultRow struct {
	id       string
	doc      interface{}
	enriched map[string]interface{}
	udfs     []interface{}
}

func (r *resultRow) source(table string) interface{} {
	if table == "" {
		return r.doc
	}
	return r.enriched[table]
}

func decodeRecords(records []store.Record, udfs int) ([]*resultRow, error) {
	out := make([]*resultRow, len(records))
	for i, rec := range records {
		row := &resultRow{id: rec.ID, enriched: make(map[string]interface{}, len(rec.Values)), udfs: make([]interface{}, udfs)}
		if err := json.Unmarshal(rec.Doc, &row.doc); err != nil {
			return nil, err
		}
		for table, data := range rec.Values {
			var v interface{}
			if err := json.Unmarshal(data, &v); err != nil {
				return nil, err
			}
			row.enriched[table] = v
		}
		out[i] = row
	}
	return out, nil
}

// SelectRows returns a page of rows. Filters and sorts over stored columns
// run in SQL; computed columns are evaluated for the returned page only,
// unless a filter or sort needs them, in which case every matching row is
// computed.
func (d *Dataset) SelectRows(ctx context.Context, q Query) (result *Rows, err error) {
	ctx, span := tracing.Start(ctx, "dataset.SelectRows", attribute.Int("limit", q.Limit), attribute.Int("offset", q.Offset))
	defer func() { tracing.End(span, err) }()
	p, err := d.plan(q)
	if err != nil {
		return nil, err
	}
	if tk, ok := p.topK(q); ok {
		return d.selectTopK(ctx, p, q, tk)
	}
	if p.materialize() {
		return d.selectMaterialized(ctx, p, q)
	}
	sq := store.Query{Prefix: p.m.Prefix, Tables: p.tables(), Filters: p.filters, Sorts: p.storeSorts(), Limit: q.Limit, Offset: q.Offset}
	records, err := d.env.Store.Select(ctx, sq)
	if err != nil {
		return nil, err
	}
	total, err := d.env.Store.Count(ctx, sq)
	if err != nil {
		return nil, err
	}
	rows, err := decodeRecords(records, len(p.udfs))
	if err != nil {
		return nil, err
	}
	if err = d.computeUDFs(ctx, p, rows); err != nil {
		return nil, err
	}
	return &Rows{Rows: p.render(rows, q.Combine), Total: total}, nil
}

func (d *Dataset) selectMaterialized(ctx context.Context, p *plan, q Query) (*Rows, error) {
	records, err := d.env.Store.Select(ctx, store.Query{Prefix: p.m.Prefix, Tables: p.tables(), Filters: p.filters})
	if err != nil {
		return nil, err
	}
	rows, err := decodeRecords(records, len(p.udfs))
	if err != nil {
		return nil, err
	}
	if err = d.computeUDFs(ctx, p, rows); err != nil {
		return nil, err
	}
	kept := rows[:0]
	for _, row := range rows {
		ok := true
		for _, f := range p.udfFilters {
			if !matches(scalars(row.udfs[f.udf], f.sub), f.op, f.arg) {
				ok = false
				break
			}
		}
		if ok {
			kept = append(kept, row)
		}
	}
	keys := make([][]interface{}, len(kept))
	for i, row := range kept {
		keys[i] = make([]interface{}, len(p.sorts))
		for j, s := range p.sorts {
			var values []interface{}
			if s.udf >= 0 {
				values = scalars(row.udfs[s.udf], s.sub)
			} else {
				values = scalars(row.source(s.table), s.rel)
			}
			keys[i][j] = reduce(values, p.desc)
		}
	}
	order := make([]int, len(kept))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		for j := range p.sorts {
			if c := compareKeys(keys[order[a]][j], keys[order[b]][j], p.desc); c != 0 {
				return c < 0
			}
		}
		return false
	})
	page := make([]*resultRow, 0, len(order))
	for i := q.Offset; i < len(order) && (q.Limit == 0 || len(page) < q.Limit); i++ {
		page = append(page, kept[order[i]])
	}
	return &Rows{Rows: p.render(page, q.Combine), Total: len(kept)}, nil
}

// selectTopK ranks rows through the vector index, widening the candidate
// set until enough of them pass the filters.
func (d *Dataset) selectTopK(ctx context.Context, p *plan, q Query, tk signal.TopKComputer) (*Rows, error) {
	u := p.udfs[p.sorts[0].udf]
	idx, err := d.udfIndex(ctx, u)
	if err != nil {
		return nil, errs.Column(u.name(), err)
	}
	if err = signal.Setup(ctx, tk); err != nil {
		return nil, errs.Column(u.name(), err)
	}
	need := q.Offset + q.Limit
	var ordered []string
	for k := need; ; k *= 2 {
		ranked, err := tk.VectorComputeTopK(ctx, k, idx, nil)
		if err != nil {
			return nil, errs.Column(u.name(), errs.ComputationFailure(err, "rank by %q", u.key))
		}
		ids := make([]string, 0, len(ranked))
		seen := map[string]bool{}
		for _, r := range ranked {
			if !seen[r.Key.RowID] {
				seen[r.Key.RowID] = true
				ids = append(ids, r.Key.RowID)
			}
		}
		ordered = ids
		if len(p.filters) > 0 && len(ids) > 0 {
			records, err := d.env.Store.Select(ctx, store.Query{Prefix: p.m.Prefix, Filters: p.filters, IDs: ids})
			if err != nil {
				return nil, err
			}
			pass := make(map[string]bool, len(records))
			for _, rec := range records {
				pass[rec.ID] = true
			}
			ordered = ordered[:0]
			for _, id := range ids {
				if pass[id] {
					ordered = append(ordered, id)
				}
			}
		}
		if len(ordered) >= need || len(ranked) < k {
			break
		}
	}
	total, err := d.env.Store.Count(ctx, store.Query{Prefix: p.m.Prefix, Filters: p.filters})
	if err != nil {
		return nil, err
	}
	if q.Offset >= len(ordered) {
		return &Rows{Rows: []map[string]interface{}{}, Total: total}, nil
	}
	page := ordered[q.Offset:min(need, len(ordered))]
	records, err := d.env.Store.Select(ctx, store.Query{Prefix: p.m.Prefix, Tables: p.tables(), IDs: page})
	if err != nil {
		return nil, err
	}
	position := make(map[string]int, len(page))
	for i, id := range page {
		position[id] = i
	}
	sort.Slice(records, func(a, b int) bool { return position[records[a].ID] < position[records[b].ID] })
	rows, err := decodeRecords(records, len(p.udfs))
	if err != nil {
		return nil, err
	}
	if err = d.computeUDFs(ctx, p, rows); err != nil {
		return nil, err
	}
	return &Rows{Rows: p.render(rows, q.Combine), Total: total}, nil
}

func (d *Dataset) udfIndex(ctx context.Context, u *udf) (*vector.Index, error) {
	vc, ok := u.sig.(signal.VectorComputer)
	if !ok {
		return nil, nil
	}
	idx, err := d.env.Vectors.Load(ctx, d.vectorRef(u.path, vc.Embedding()))
	if err != nil {
		return nil, errs.DependencyUnavailable("embedding %q at path %q: %v", vc.Embedding(), u.path.String(), err)
	}
	return idx, nil
}

// computeUDFs evaluates every signal column over rows in batches.
func (d *Dataset) computeUDFs(ctx context.Context, p *plan, rows []*resultRow) error {
	if len(rows) == 0 {
		return nil
	}
	batch := d.env.Config.Enrichment.BatchSize
	for i, u := range p.udfs {
		if err := signal.Setup(ctx, u.sig); err != nil {
			return errs.Column(u.name(), errs.ComputationFailure(err, "signal %q setup", u.key))
		}
		idx, err := d.udfIndex(ctx, u)
		if err != nil {
			return errs.Column(u.name(), err)
		}
		for start := 0; start < len(rows); start += batch {
			end := min(start+batch, len(rows))
			docs := make([]rowDoc, end-start)
			for j, row := range rows[start:end] {
				docs[j] = rowDoc{id: row.id, doc: row.doc}
			}
			values, _, err := runSignal(ctx, u.sig, u.key, u.path, docs, idx)
			if err != nil {
				return errs.Column(u.name(), err)
			}
			for j, v := range values {
				rows[start+j].udfs[i] = v
			}
		}
	}
	return nil
}

func (p *plan) render(rows []*resultRow, combine bool) []map[string]interface{} {
	out := make([]map[string]interface{}, len(rows))
	if combine {
		for i, row := range rows {
			out[i] = p.combined(row)
		}
		return out
	}
	type flatLeaf struct {
		key   string
		table string
		rel   schema.Path
	}
	var leaves []flatLeaf
	for _, leaf := range p.leaves() {
		table, rel, err := p.m.relative(leaf)
		if err != nil {
			continue
		}
		leaves = append(leaves, flatLeaf{key: p.outputKey(leaf), table: table, rel: rel})
	}
	for i, row := range rows {
		m := make(map[string]interface{}, len(leaves)+len(p.udfs)+1)
		m[schema.RowIDKey] = row.id
		for _, leaf := range leaves {
			m[leaf.key] = extract(row.source(leaf.table), leaf.rel)
		}
		for j, u := range p.udfs {
			m[u.name()] = row.udfs[j]
		}
		out[i] = m
	}
	return out
}

// combined nests the requested values of a row into one document.
func (p *plan) combined(row *resultRow) map[string]interface{} {
	var doc interface{}
	for _, path := range p.paths {
		if _, ok := p.m.enrichmentOf(path); ok {
			continue
		}
		doc = merge(doc, project(row.doc, path))
	}
	for _, e := range p.m.Enrichments {
		subs, ok := p.selects(e)
		if !ok {
			continue
		}
		value := row.enriched[e.Table]
		if subs != nil {
			value = walk(value, e.Path.Wildcards(), nil, func(_ []int, v interface{}) interface{} {
				var picked interface{}
				for _, sub := range subs {
					picked = merge(picked, project(v, sub))
				}
				return picked
			})
		}
		doc = attach(doc, e.Path, e.Key, value)
	}
	for i, u := range p.udfs {
		doc = attach(doc, u.path, u.key, row.udfs[i])
	}
	out, ok := doc.(map[string]interface{})
	if !ok {
		out = map[string]interface{}{}
	}
	out[schema.RowIDKey] = row.id
	return out
}

// SelectRowsSchema describes the output of q without running it.
func (d *Dataset) SelectRowsSchema(ctx context.Context, q Query) (*RowsSchema, error) {
	p, err := d.plan(q)
	if err != nil {
		return nil, err
	}
	paths := append([]schema.Path(nil), p.paths...)
	for _, u := range p.udfs {
		paths = append(paths, u.path)
	}
	out, err := p.m.Schema().Subset(paths)
	if err != nil {
		return nil, err
	}
	result := &RowsSchema{Schema: out}
	for _, u := range p.udfs {
		field := u.sig.Fields().Clone()
		if field.Signal, err = signal.Marshal(u.sig); err != nil {
			return nil, err
		}
		if err = out.SetChild(u.path, u.key, field); err != nil {
			return nil, errs.Column(u.name(), err)
		}
		result.UDFs = append(result.UDFs, Column{Path: u.path, Signal: u.sig, Alias: u.alias})
	}
	order := Ascending
	if p.desc {
		order = Descending
	}
	for _, s := range p.sorts {
		result.Sorts = append(result.Sorts, SortResult{Path: s.path, Order: order})
	}
	return result, nil
}
