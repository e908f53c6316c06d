package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/viant/curator/schema"
)

// Query selects rows with their documents and the requested enrichment
// values.
type Query struct {
	Prefix  string
	Tables  []string
	Filters []Filter
	Sorts   []Sort
	// IDs restricts the result to the given row ids when non-nil.
	IDs    []string
	Limit  int
	Offset int
}

// Record is a selected row.
type Record struct {
	RowID  int64
	ID     string
	Doc    []byte
	Values map[string][]byte
}

// Select runs a row query. Rows without a value for a requested table carry
// no entry for it.
func (s *Store) Select(ctx context.Context, q Query) ([]Record, error) {
	c := newCompiler(q.Prefix)
	columns := []string{"r.rowid", "r.id", "r.doc"}
	for _, table := range q.Tables {
		columns = append(columns, c.source(table))
	}
	where, err := c.where(q.Filters, q.IDs)
	if err != nil {
		return nil, err
	}
	order := c.orderBy(q.Sorts)
	query := "SELECT " + strings.Join(columns, ", ") + " FROM " + c.from() + where + order
	args := c.args
	if q.Limit > 0 || q.Offset > 0 {
		limit := q.Limit
		if limit <= 0 {
			limit = -1
		}
		query += " LIMIT ? OFFSET ?"
		args = append(args, limit, q.Offset)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("store: select: %w", err)
	}
	defer rows.Close()
	var out []Record
	for rows.Next() {
		var rec Record
		var doc string
		values := make([]sql.NullString, len(q.Tables))
		dest := []interface{}{&rec.RowID, &rec.ID, &doc}
		for i := range values {
			dest = append(dest, &values[i])
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, err
		}
		rec.Doc = []byte(doc)
		rec.Values = make(map[string][]byte, len(q.Tables))
		for i, table := range q.Tables {
			if values[i].Valid {
				rec.Values[table] = []byte(values[i].String)
			}
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Count returns the number of rows matching the filters.
func (s *Store) Count(ctx context.Context, q Query) (int, error) {
	c := newCompiler(q.Prefix)
	where, err := c.where(q.Filters, q.IDs)
	if err != nil {
		return 0, err
	}
	var n int
	err = s.db.GetContext(ctx, &n, "SELECT COUNT(*) FROM "+c.from()+where, c.args...)
	return n, err
}

// GroupQuery buckets the values of a leaf column.
type GroupQuery struct {
	Prefix  string
	Column  Column
	Filters []Filter
	Bins    []schema.Bin
}

// Group is one bucket; a nil Value collects missing values.
type Group struct {
	Value interface{}
	Count int
}

// valueSource renders the per-value subquery of a group or stats query. With
// outer set, rows whose arrays are missing still contribute a NULL value.
func (c *compiler) valueSource(col Column, bins []schema.Bin, filters []Filter, outer bool) (string, error) {
	eaches, value := c.expand(col)
	if len(bins) > 0 {
		spec, err := json.Marshal(bins)
		if err != nil {
			return "", err
		}
		value = "curate_bin(" + value + ", " + QuoteLiteral(string(spec)) + ")"
	}
	where, err := c.where(filters, nil)
	if err != nil {
		return "", err
	}
	from := c.from()
	for _, each := range eaches {
		if outer {
			from += " LEFT JOIN " + each + " ON 1"
		} else {
			from += " JOIN " + each
		}
	}
	return "SELECT " + value + " AS v FROM " + from + where, nil
}

// Groups counts rows per distinct value, or per bin name when bins are set.
func (s *Store) Groups(ctx context.Context, q GroupQuery) ([]Group, error) {
	c := newCompiler(q.Prefix)
	source, err := c.valueSource(q.Column, q.Bins, q.Filters, true)
	if err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, "SELECT v, COUNT(*) FROM ("+source+") GROUP BY v", c.args...)
	if err != nil {
		return nil, fmt.Errorf("store: groups: %w", err)
	}
	defer rows.Close()
	var out []Group
	for rows.Next() {
		var g Group
		if err := rows.Scan(&g.Value, &g.Count); err != nil {
			return nil, err
		}
		if b, ok := g.Value.([]byte); ok {
			g.Value = string(b)
		}
		out = append(out, g)
	}
	return out, rows.Err()
}

// Distinct counts distinct non-null values among the first sample values, or
// among all values when sample is not positive.
func (s *Store) Distinct(ctx context.Context, q GroupQuery, sample int) (int, error) {
	c := newCompiler(q.Prefix)
	source, err := c.valueSource(q.Column, q.Bins, q.Filters, false)
	if err != nil {
		return 0, err
	}
	args := c.args
	if sample > 0 {
		source += " LIMIT ?"
		args = append(args, sample)
	}
	var n int
	err = s.db.GetContext(ctx, &n, "SELECT COUNT(DISTINCT v) FROM ("+source+")", args...)
	return n, err
}

// Summary aggregates the non-null values of a column.
type Summary struct {
	Total     int
	AvgLength *float64
	Min       interface{}
	Max       interface{}
}

// Summarize computes count, average text length, and min/max of a column.
func (s *Store) Summarize(ctx context.Context, col Column, prefix string) (*Summary, error) {
	c := newCompiler(prefix)
	source, err := c.valueSource(col, nil, nil, false)
	if err != nil {
		return nil, err
	}
	var avg sql.NullFloat64
	out := &Summary{}
	row := s.db.QueryRowContext(ctx, "SELECT COUNT(v), AVG(LENGTH(v)), MIN(v), MAX(v) FROM ("+source+")", c.args...)
	if err := row.Scan(&out.Total, &avg, &out.Min, &out.Max); err != nil {
		return nil, fmt.Errorf("store: summarize: %w", err)
	}
	if avg.Valid {
		out.AvgLength = &avg.Float64
	}
	for _, v := range []*interface{}{&out.Min, &out.Max} {
		if b, ok := (*v).([]byte); ok {
			*v = string(b)
		}
	}
	return out, nil
}
