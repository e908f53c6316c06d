package vec

import (
	"context"
	"fmt"

	"modernc.org/sqlite/vtab"

	"github.com/viant/curator/vector"
)

type vectorsModule struct{}

type vectorsTable struct{}

type vectorsRow struct {
	ref   vector.Ref
	keys  int
	spans int
}

type vectorsCursor struct {
	rows []vectorsRow
	pos  int
}

func (m *vectorsModule) Create(ctx vtab.Context, args []string) (vtab.Table, error) {
	return m.connect(ctx, args)
}

func (m *vectorsModule) Connect(ctx vtab.Context, args []string) (vtab.Table, error) {
	return m.connect(ctx, args)
}

func (m *vectorsModule) connect(ctx vtab.Context, args []string) (vtab.Table, error) {
	if len(args) < 3 {
		return nil, fmt.Errorf("curator_vectors: need at least 3 args")
	}
	if err := ctx.Declare(fmt.Sprintf("CREATE TABLE %s(dataset TEXT, path TEXT, embedding TEXT, keys INTEGER, spans INTEGER)", args[2])); err != nil {
		return nil, err
	}
	return &vectorsTable{}, nil
}

func (t *vectorsTable) BestIndex(info *vtab.IndexInfo) error {
	for i := range info.Constraints {
		c := &info.Constraints[i]
		if c.Usable && c.Column == 0 && c.Op == vtab.OpEQ {
			c.ArgIndex = 0
			c.Omit = true
			info.IdxNum = 1
			return nil
		}
	}
	return fmt.Errorf("curator_vectors: dataset constraint required")
}

func (t *vectorsTable) Open() (vtab.Cursor, error) { return &vectorsCursor{}, nil }

func (t *vectorsTable) Disconnect() error { return nil }

func (t *vectorsTable) Destroy() error { return nil }

func (c *vectorsCursor) Filter(_ int, _ string, vals []vtab.Value) error {
	c.rows, c.pos = nil, 0
	if len(vals) == 0 {
		return fmt.Errorf("curator_vectors: dataset argument is required")
	}
	dataset, err := asString(vals[0], "dataset")
	if err != nil {
		return err
	}
	src, err := bound()
	if err != nil {
		return err
	}
	ctx := context.Background()
	refs, err := src.VectorRefs(ctx, dataset)
	if err != nil {
		return err
	}
	for _, ref := range refs {
		idx, err := src.VectorIndex(ctx, dataset, ref.Path, ref.Embedding)
		if err != nil {
			return err
		}
		c.rows = append(c.rows, vectorsRow{ref: ref, keys: idx.Size(), spans: idx.SpanCount()})
	}
	return nil
}

func (c *vectorsCursor) Next() error {
	if c.pos < len(c.rows) {
		c.pos++
	}
	return nil
}

func (c *vectorsCursor) Eof() bool { return c.pos >= len(c.rows) }

func (c *vectorsCursor) Column(col int) (vtab.Value, error) {
	if c.pos < 0 || c.pos >= len(c.rows) {
		return nil, fmt.Errorf("curator_vectors: Column out of range")
	}
	row := c.rows[c.pos]
	switch col {
	case 0:
		return row.ref.Dataset, nil
	case 1:
		return row.ref.Path, nil
	case 2:
		return row.ref.Embedding, nil
	case 3:
		return int64(row.keys), nil
	case 4:
		return int64(row.spans), nil
	}
	return nil, nil
}

func (c *vectorsCursor) Rowid() (int64, error) { return int64(c.pos + 1), nil }

func (c *vectorsCursor) Close() error {
	c.rows, c.pos = nil, 0
	return nil
}
