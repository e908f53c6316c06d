package vec

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"modernc.org/sqlite/vtab"

	"github.com/viant/curator/vector"
)

const (
	knnDataset = iota
	knnRowID
	knnIndices
	knnSpanStart
	knnSpanEnd
	knnScore
)

const (
	idxScan = iota
	idxMatch
	idxMatchScore
)

type knnModule struct{}

type knnTable struct {
	path      string
	embedding string
}

type knnRow struct {
	key   vector.PathKey
	span  vector.Span
	score float64
}

type knnCursor struct {
	table   *knnTable
	dataset string
	rows    []knnRow
	pos     int
}

func (m *knnModule) Create(ctx vtab.Context, args []string) (vtab.Table, error) {
	return m.connect(ctx, args)
}

func (m *knnModule) Connect(ctx vtab.Context, args []string) (vtab.Table, error) {
	return m.connect(ctx, args)
}

func (m *knnModule) connect(ctx vtab.Context, args []string) (vtab.Table, error) {
	if len(args) < 3 {
		return nil, fmt.Errorf("curator_knn: expected at least 3 args, got %d", len(args))
	}
	opts := parseOptions(args[3:])
	t := &knnTable{path: opts["path"], embedding: opts["embedding"]}
	if t.path == "" || t.embedding == "" {
		return nil, fmt.Errorf("curator_knn: path and embedding options are required")
	}
	if err := ctx.EnableConstraintSupport(); err != nil {
		return nil, fmt.Errorf("curator_knn: EnableConstraintSupport failed: %w", err)
	}
	decl := fmt.Sprintf("CREATE TABLE %s(dataset TEXT, row_id TEXT, indices TEXT, span_start INTEGER, span_end INTEGER, score REAL HIDDEN)", args[2])
	if err := ctx.Declare(decl); err != nil {
		return nil, err
	}
	return t, nil
}

// BestIndex requires dataset equality and pushes down MATCH on row_id and a
// lower score bound.
func (t *knnTable) BestIndex(info *vtab.IndexInfo) error {
	var dataset, match, score *vtab.Constraint
	for i := range info.Constraints {
		c := &info.Constraints[i]
		if !c.Usable {
			continue
		}
		switch {
		case c.Column == knnDataset && c.Op == vtab.OpEQ:
			dataset = c
		case c.Column == knnRowID && c.Op == vtab.OpMATCH:
			match = c
		case c.Column == knnScore && (c.Op == vtab.OpGE || c.Op == vtab.OpGT):
			score = c
		}
	}
	if dataset == nil {
		return fmt.Errorf("curator_knn: dataset constraint required")
	}
	next := 0
	for _, c := range []*vtab.Constraint{dataset, match, score} {
		if c == nil {
			continue
		}
		c.ArgIndex = next
		c.Omit = true
		next++
	}
	switch {
	case match == nil:
		info.IdxNum = idxScan
	case score == nil:
		info.IdxNum = idxMatch
	default:
		info.IdxNum = idxMatchScore
	}
	return nil
}

func (t *knnTable) Open() (vtab.Cursor, error) { return &knnCursor{table: t}, nil }

func (t *knnTable) Disconnect() error { return nil }

func (t *knnTable) Destroy() error { return nil }

func (c *knnCursor) Filter(idxNum int, _ string, vals []vtab.Value) error {
	c.rows, c.pos = nil, 0
	if len(vals) == 0 {
		return fmt.Errorf("curator_knn: dataset argument is required")
	}
	dataset, err := asString(vals[0], "dataset")
	if err != nil {
		return err
	}
	c.dataset = dataset
	src, err := bound()
	if err != nil {
		return err
	}
	idx, err := src.VectorIndex(context.Background(), dataset, c.table.path, c.table.embedding)
	if err != nil {
		return err
	}
	if idxNum == idxScan {
		for _, key := range idx.Keys() {
			c.rows = append(c.rows, knnRow{key: key})
		}
		return nil
	}
	if len(vals) < 2 {
		return fmt.Errorf("curator_knn: MATCH argument is required")
	}
	query, err := decodeMatch(vals[1])
	if err != nil {
		return err
	}
	var minScore *float64
	if idxNum == idxMatchScore {
		if len(vals) < 3 {
			return fmt.Errorf("curator_knn: missing score constraint")
		}
		floor, err := asFloat(vals[2])
		if err != nil {
			return err
		}
		minScore = &floor
	}
	results, err := idx.TopK(query, idx.Size(), nil)
	if err != nil {
		return err
	}
	for _, r := range results {
		if minScore != nil && r.Score < *minScore {
			continue
		}
		c.rows = append(c.rows, knnRow{key: r.Key, span: r.Span, score: r.Score})
	}
	return nil
}

func (c *knnCursor) Next() error {
	if c.pos < len(c.rows) {
		c.pos++
	}
	return nil
}

func (c *knnCursor) Eof() bool { return c.pos >= len(c.rows) }

func (c *knnCursor) Column(col int) (vtab.Value, error) {
	if c.pos < 0 || c.pos >= len(c.rows) {
		return nil, fmt.Errorf("curator_knn: Column out of range (pos=%d,len=%d)", c.pos, len(c.rows))
	}
	row := c.rows[c.pos]
	switch col {
	case knnDataset:
		return c.dataset, nil
	case knnRowID:
		return row.key.RowID, nil
	case knnIndices:
		if len(row.key.Indices) == 0 {
			return nil, nil
		}
		data, err := json.Marshal(row.key.Indices)
		return string(data), err
	case knnSpanStart:
		return int64(row.span.Start), nil
	case knnSpanEnd:
		return int64(row.span.End), nil
	case knnScore:
		return row.score, nil
	}
	return nil, fmt.Errorf("curator_knn: unsupported column %d", col)
}

func (c *knnCursor) Rowid() (int64, error) {
	if c.pos < 0 || c.pos >= len(c.rows) {
		return 0, fmt.Errorf("curator_knn: Rowid out of range (pos=%d,len=%d)", c.pos, len(c.rows))
	}
	return int64(c.pos + 1), nil
}

func (c *knnCursor) Close() error {
	c.rows, c.pos = nil, 0
	return nil
}

func asFloat(v vtab.Value) (float64, error) {
	switch val := v.(type) {
	case float64:
		return val, nil
	case int64:
		return float64(val), nil
	case []byte:
		return parseFloat(string(val))
	case string:
		return parseFloat(val)
	}
	return 0, fmt.Errorf("curator_knn: unsupported score type %T", v)
}

func parseFloat(s string) (float64, error) {
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("curator_knn: cannot parse score %q: %w", s, err)
	}
	return f, nil
}
