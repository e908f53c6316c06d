package dataset

import (
	"reflect"
	"strings"

	"github.com/viant/curator/store"
)

// compare orders two scalar values of a compatible kind.
func compare(a, b interface{}) (int, bool) {
	if x, ok := number(a); ok {
		if y, ok := number(b); ok {
			switch {
			case x < y:
				return -1, true
			case x > y:
				return 1, true
			}
			return 0, true
		}
		return 0, false
	}
	if x, ok := a.(string); ok {
		if y, ok := b.(string); ok {
			return strings.Compare(x, y), true
		}
	}
	return 0, false
}

func number(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case int32:
		return float64(n), true
	case bool:
		if n {
			return 1, true
		}
		return 0, true
	}
	return 0, false
}

// matches evaluates a filter over the non-null values at a path; it holds
// when any value satisfies the predicate.
func matches(values []interface{}, op store.Op, operand interface{}) bool {
	if op == store.Exists {
		return len(values) > 0
	}
	for _, v := range values {
		if match(v, op, operand) {
			return true
		}
	}
	return false
}

func match(v interface{}, op store.Op, operand interface{}) bool {
	switch op {
	case store.In:
		list := reflect.ValueOf(operand)
		if list.Kind() != reflect.Slice {
			return false
		}
		for i := 0; i < list.Len(); i++ {
			if c, ok := compare(v, list.Index(i).Interface()); ok && c == 0 {
				return true
			}
		}
		return false
	case store.Contains:
		text, ok := v.(string)
		needle, ok2 := operand.(string)
		return ok && ok2 && strings.Contains(strings.ToLower(text), strings.ToLower(needle))
	}
	c, ok := compare(v, operand)
	if !ok {
		return false
	}
	switch op {
	case store.Equals:
		return c == 0
	case store.NotEqual:
		return c != 0
	case store.Greater:
		return c > 0
	case store.GreaterEqual:
		return c >= 0
	case store.Less:
		return c < 0
	case store.LessEqual:
		return c <= 0
	}
	return false
}

// reduce picks the minimum of values, or the maximum when desc is set.
func reduce(values []interface{}, desc bool) interface{} {
	var best interface{}
	for _, v := range values {
		if best == nil {
			best = v
			continue
		}
		c, ok := compare(v, best)
		if ok && ((desc && c > 0) || (!desc && c < 0)) {
			best = v
		}
	}
	return best
}

// compareKeys orders sort values with nulls last in either direction.
func compareKeys(a, b interface{}, desc bool) int {
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil:
		return 1
	case b == nil:
		return -1
	}
	c, _ := compare(a, b)
	if desc {
		return -c
	}
	return c
}
