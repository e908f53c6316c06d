package dataset

import (
	"context"
	"sort"

	"go.opentelemetry.io/otel/attribute"

	"github.com/viant/curator/errs"
	"github.com/viant/curator/internal/tracing"
	"github.com/viant/curator/schema"
	"github.com/viant/curator/store"
)

// GroupsSortBy orders group counts.
type GroupsSortBy string

const (
	ByCount GroupsSortBy = "count"
	ByValue GroupsSortBy = "value"
)

// GroupsQuery buckets the values of a leaf.
type GroupsQuery struct {
	Path    schema.Path
	Filters []Filter
	// SortBy defaults to count descending.
	SortBy    GroupsSortBy
	SortOrder SortOrder
	Limit     int
	// Bins override the bins of the field.
	Bins []schema.Bin
}

// GroupCount is one bucket; a nil Value counts missing values.
type GroupCount struct {
	Value interface{} `json:"value"`
	Count int         `json:"count"`
}

// Groups is the result of SelectGroups.
type Groups struct {
	// TooManyDistinct is set instead of counts when the leaf has more
	// distinct values than the configured maximum.
	TooManyDistinct bool         `json:"too_many_distinct"`
	Counts          []GroupCount `json:"counts"`
	Bins            []schema.Bin `json:"bins,omitempty"`
}

// SelectGroups counts rows per value of a leaf, or per bin for binned and
// float leaves.
func (d *Dataset) SelectGroups(ctx context.Context, q GroupsQuery) (result *Groups, err error) {
	ctx, span := tracing.Start(ctx, "dataset.SelectGroups", attribute.String("path", q.Path.String()))
	defer func() { tracing.End(span, err) }()
	m := d.Manifest()
	leaf, field, err := m.leafPath(q.Path)
	if err != nil {
		return nil, err
	}
	if field.DType == schema.Embedding || !field.DType.IsSortable() {
		return nil, errs.InvalidArgument("cannot group by %q: %s values", q.Path.String(), field.DType)
	}
	col, err := m.column(leaf)
	if err != nil {
		return nil, err
	}
	filters, err := d.storeFilters(m, q.Filters)
	if err != nil {
		return nil, err
	}
	cfg := d.env.Config.Query
	bins := q.Bins
	if bins == nil {
		bins = field.Bins
	}
	if bins == nil && field.DType.IsFloat() {
		summary, err := d.env.Store.Summarize(ctx, col, m.Prefix)
		if err != nil {
			return nil, err
		}
		if summary.Total == 0 {
			return &Groups{Counts: []GroupCount{}}, nil
		}
		lo, _ := number(summary.Min)
		hi, _ := number(summary.Max)
		bins = schema.AutoBins(lo, hi, cfg.AutoBins)
	}
	if bins != nil {
		if err = schema.ValidateBins(bins); err != nil {
			return nil, err
		}
		bins = schema.NamedBins(bins)
	}
	gq := store.GroupQuery{Prefix: m.Prefix, Column: col, Filters: filters, Bins: bins}
	if bins == nil && !field.Categorical {
		distinct, err := d.env.Store.Distinct(ctx, gq, cfg.DistinctSampleSize)
		if err != nil {
			return nil, err
		}
		if distinct > cfg.MaxDistinctGroups {
			d.logger.Debug("too many distinct values", "path", q.Path.String(), "distinct", distinct)
			return &Groups{TooManyDistinct: true, Counts: []GroupCount{}}, nil
		}
	}
	groups, err := d.env.Store.Groups(ctx, gq)
	if err != nil {
		return nil, err
	}
	counts := make([]GroupCount, len(groups))
	for i, g := range groups {
		value := g.Value
		if field.DType == schema.Bool && value != nil {
			n, _ := number(value)
			value = n != 0
		}
		counts[i] = GroupCount{Value: value, Count: g.Count}
	}
	if err = sortGroups(counts, bins, q.SortBy, q.SortOrder); err != nil {
		return nil, err
	}
	if q.Limit > 0 && len(counts) > q.Limit {
		counts = counts[:q.Limit]
	}
	return &Groups{Counts: counts, Bins: bins}, nil
}

func sortGroups(counts []GroupCount, bins []schema.Bin, by GroupsSortBy, order SortOrder) error {
	if by == "" {
		by = ByCount
	}
	if order == "" {
		order = Ascending
		if by == ByCount {
			order = Descending
		}
	}
	if order != Ascending && order != Descending {
		return errs.InvalidArgument("unknown sort order %q", order)
	}
	desc := order == Descending
	binIndex := make(map[string]int, len(bins))
	for i, b := range bins {
		binIndex[b.Name] = i
	}
	byValue := func(a, b interface{}) int {
		if len(bins) > 0 {
			x, okx := a.(string)
			y, oky := b.(string)
			if okx && oky {
				return binIndex[x] - binIndex[y]
			}
		}
		c, _ := compare(a, b)
		return c
	}
	switch by {
	case ByCount:
		sort.SliceStable(counts, func(i, j int) bool {
			if counts[i].Count != counts[j].Count {
				return (counts[i].Count > counts[j].Count) == desc
			}
			return compareKeys(counts[i].Value, counts[j].Value, false) < 0
		})
	case ByValue:
		sort.SliceStable(counts, func(i, j int) bool {
			a, b := counts[i].Value, counts[j].Value
			if a == nil || b == nil {
				return compareKeys(a, b, false) < 0
			}
			c := byValue(a, b)
			if desc {
				return c > 0
			}
			return c < 0
		})
	default:
		return errs.InvalidArgument("unknown groups sort %q", by)
	}
	return nil
}

func (d *Dataset) storeFilters(m *Manifest, filters []Filter) ([]store.Filter, error) {
	out := make([]store.Filter, 0, len(filters))
	for _, f := range filters {
		leaf, _, err := m.leafPath(f.Path)
		if err != nil {
			return nil, err
		}
		col, err := m.column(leaf)
		if err != nil {
			return nil, err
		}
		out = append(out, store.Filter{Column: col, Op: f.Op, Value: f.Value})
	}
	return out, nil
}

// Stats summarizes the values of a leaf.
type Stats struct {
	TotalCount int `json:"total_count"`
	// ApproxCountDistinct is exact up to the configured sample size.
	ApproxCountDistinct int         `json:"approx_count_distinct"`
	AvgTextLength       *float64    `json:"avg_text_length,omitempty"`
	MinVal              interface{} `json:"min_val,omitempty"`
	MaxVal              interface{} `json:"max_val,omitempty"`
}

// Stats returns the count, distinct count, average text length for strings
// and range for ordinal leaves.
func (d *Dataset) Stats(ctx context.Context, path schema.Path) (result *Stats, err error) {
	ctx, span := tracing.Start(ctx, "dataset.Stats", attribute.String("path", path.String()))
	defer func() { tracing.End(span, err) }()
	m := d.Manifest()
	leaf, field, err := m.leafPath(path)
	if err != nil {
		return nil, err
	}
	if field.DType == schema.Embedding {
		return nil, errs.InvalidArgument("no stats for embedding %q", path.String())
	}
	col, err := m.column(leaf)
	if err != nil {
		return nil, err
	}
	summary, err := d.env.Store.Summarize(ctx, col, m.Prefix)
	if err != nil {
		return nil, err
	}
	sample := d.env.Config.Query.StatsSampleSize
	gq := store.GroupQuery{Prefix: m.Prefix, Column: col}
	out := &Stats{TotalCount: summary.Total}
	if summary.Total <= sample {
		out.ApproxCountDistinct, err = d.env.Store.Distinct(ctx, gq, 0)
	} else {
		var distinct int
		if distinct, err = d.env.Store.Distinct(ctx, gq, sample); err == nil {
			out.ApproxCountDistinct = int(float64(distinct) * float64(summary.Total) / float64(sample))
		}
	}
	if err != nil {
		return nil, err
	}
	if field.DType == schema.String {
		out.AvgTextLength = summary.AvgLength
	}
	if field.DType.IsOrdinal() {
		out.MinVal, out.MaxVal = summary.Min, summary.Max
	}
	return out, nil
}
