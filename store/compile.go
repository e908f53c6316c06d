package store

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/viant/curator/errs"
)

// Step is one segment of a column address: a JSON object key or a wildcard
// over array elements.
type Step struct {
	Key      string
	Wildcard bool
}

// Column addresses a value inside the rows table documents (empty Table) or
// inside an enrichment table.
type Column struct {
	Table string
	Steps []Step
}

// Repeated reports whether the column crosses an array.
func (c Column) Repeated() bool {
	for _, s := range c.Steps {
		if s.Wildcard {
			return true
		}
	}
	return false
}

// Key appends an object key step.
func (c Column) Key(key string) Column {
	steps := make([]Step, len(c.Steps), len(c.Steps)+1)
	copy(steps, c.Steps)
	return Column{Table: c.Table, Steps: append(steps, Step{Key: key})}
}

// Op is a filter operator.
type Op string

const (
	Equals       Op = "equals"
	NotEqual     Op = "not_equal"
	Greater      Op = "greater"
	GreaterEqual Op = "greater_equal"
	Less         Op = "less"
	LessEqual    Op = "less_equal"
	In           Op = "in"
	Exists       Op = "exists"
	// Contains matches strings containing the value, ignoring ASCII case.
	Contains Op = "contains"
)

var comparisons = map[Op]string{
	Equals:       "=",
	Greater:      ">",
	GreaterEqual: ">=",
	Less:         "<",
	LessEqual:    "<=",
}

// ParseOp validates an operator name.
func ParseOp(name string) (Op, error) {
	op := Op(name)
	switch op {
	case Equals, NotEqual, Greater, GreaterEqual, Less, LessEqual, In, Exists, Contains:
		return op, nil
	}
	return "", errs.InvalidArgument("unknown filter operator %q", name)
}

// Filter is a predicate over a column. A wildcard column matches when any
// element satisfies the predicate.
type Filter struct {
	Column Column
	Op     Op
	Value  interface{}
}

// Sort orders rows by a column; repeated columns reduce to their minimum
// ascending and their maximum descending.
type Sort struct {
	Column Column
	Desc   bool
}

// compiler turns columns into SQL over the rows table aliased r. Enrichment
// tables are LEFT JOINed by row id in first-use order.
type compiler struct {
	rows  string
	joins []string
	alias map[string]string
	seq   int
	args  []interface{}
}

func newCompiler(prefix string) *compiler {
	return &compiler{rows: RowsTable(prefix), alias: map[string]string{}}
}

func (c *compiler) source(table string) string {
	if table == "" {
		return "r.doc"
	}
	alias, ok := c.alias[table]
	if !ok {
		alias = fmt.Sprintf("e%d", len(c.joins)+1)
		c.alias[table] = alias
		c.joins = append(c.joins, table)
	}
	return alias + ".value"
}

func (c *compiler) from() string {
	var b strings.Builder
	b.WriteString(QuoteIdent(c.rows))
	b.WriteString(" r")
	for _, table := range c.joins {
		alias := c.alias[table]
		fmt.Fprintf(&b, " LEFT JOIN %s %s ON %s.id = r.id", QuoteIdent(table), alias, alias)
	}
	return b.String()
}

func jsonPath(keys []string) string {
	var b strings.Builder
	b.WriteString("$")
	for _, key := range keys {
		b.WriteString(`."`)
		b.WriteString(key)
		b.WriteString(`"`)
	}
	return b.String()
}

// expand returns the json_each sources a column iterates and the expression
// of its value within them.
func (c *compiler) expand(col Column) ([]string, string) {
	src := c.source(col.Table)
	var eaches []string
	var keys []string
	document := true
	for _, step := range col.Steps {
		if !step.Wildcard {
			keys = append(keys, step.Key)
			continue
		}
		c.seq++
		alias := fmt.Sprintf("j%d", c.seq)
		eaches = append(eaches, fmt.Sprintf("json_each(%s, %s) AS %s", src, QuoteLiteral(jsonPath(keys)), alias))
		src, keys, document = alias+".value", nil, false
	}
	if len(keys) == 0 && !document {
		return eaches, src
	}
	return eaches, fmt.Sprintf("json_extract(%s, %s)", src, QuoteLiteral(jsonPath(keys)))
}

func (c *compiler) filter(f Filter) (string, error) {
	eaches, value := c.expand(f.Column)
	pred, err := c.predicate(value, f)
	if err != nil {
		return "", err
	}
	if len(eaches) == 0 {
		return pred, nil
	}
	return "EXISTS (SELECT 1 FROM " + strings.Join(eaches, ", ") + " WHERE " + pred + ")", nil
}

func (c *compiler) predicate(value string, f Filter) (string, error) {
	switch f.Op {
	case Exists:
		return value + " IS NOT NULL", nil
	case NotEqual:
		c.args = append(c.args, bindValue(f.Value))
		return value + " IS NOT NULL AND " + value + " <> ?", nil
	case Contains:
		c.args = append(c.args, fmt.Sprint(f.Value))
		return "instr(lower(" + value + "), lower(?)) > 0", nil
	case In:
		list, err := json.Marshal(f.Value)
		if err != nil || len(list) == 0 || list[0] != '[' {
			return "", errs.InvalidArgument("filter %q expects a list, got %T", f.Op, f.Value)
		}
		c.args = append(c.args, string(list))
		return value + " IN (SELECT value FROM json_each(?))", nil
	}
	op, ok := comparisons[f.Op]
	if !ok {
		return "", errs.InvalidArgument("unknown filter operator %q", f.Op)
	}
	if f.Value == nil {
		return "", errs.InvalidArgument("filter %q requires a value", f.Op)
	}
	c.args = append(c.args, bindValue(f.Value))
	return value + " " + op + " ?", nil
}

func (c *compiler) sortExpr(s Sort) string {
	eaches, value := c.expand(s.Column)
	if len(eaches) == 0 {
		return value
	}
	reduce := "MIN"
	if s.Desc {
		reduce = "MAX"
	}
	return "(SELECT " + reduce + "(" + value + ") FROM " + strings.Join(eaches, ", ") + ")"
}

func (c *compiler) orderBy(sorts []Sort) string {
	parts := make([]string, 0, 2*len(sorts)+1)
	for _, s := range sorts {
		expr := c.sortExpr(s)
		dir := "ASC"
		if s.Desc {
			dir = "DESC"
		}
		parts = append(parts, expr+" IS NULL", expr+" "+dir)
	}
	parts = append(parts, "r.rowid")
	return " ORDER BY " + strings.Join(parts, ", ")
}

func (c *compiler) where(filters []Filter, ids []string) (string, error) {
	var conds []string
	for _, f := range filters {
		cond, err := c.filter(f)
		if err != nil {
			return "", err
		}
		conds = append(conds, cond)
	}
	if ids != nil {
		c.args = append(c.args, jsonArray(ids))
		conds = append(conds, "r.id IN (SELECT value FROM json_each(?))")
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), nil
}

// bindValue maps booleans to the integers json_extract yields for them.
func bindValue(v interface{}) interface{} {
	if b, ok := v.(bool); ok {
		if b {
			return 1
		}
		return 0
	}
	return v
}

func jsonArray(ids []string) string {
	if ids == nil {
		ids = []string{}
	}
	data, _ := json.Marshal(ids)
	return string(data)
}
