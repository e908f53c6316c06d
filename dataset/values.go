package dataset

import (
	"github.com/viant/curator/schema"
)

// walk follows path through v and rebuilds the wildcard structure it
// crosses, calling fn at every addressed position with the element indices.
// A missing array yields nil; a missing key reaches fn with a nil value.
func walk(v interface{}, path schema.Path, indices []int, fn func(indices []int, value interface{}) interface{}) interface{} {
	if len(path) == 0 {
		return fn(indices, v)
	}
	if path[0] == schema.Wildcard {
		list, ok := v.([]interface{})
		if !ok {
			return nil
		}
		out := make([]interface{}, len(list))
		for i, item := range list {
			next := append(append(make([]int, 0, len(indices)+1), indices...), i)
			out[i] = walk(item, path[1:], next, fn)
		}
		return out
	}
	var child interface{}
	if m, ok := v.(map[string]interface{}); ok {
		child = m[path[0]]
	}
	return walk(child, path[1:], indices, fn)
}

func identity(_ []int, v interface{}) interface{} { return v }

// extract returns the value at path with wildcard dimensions as nested lists.
func extract(v interface{}, path schema.Path) interface{} {
	return walk(v, path, nil, identity)
}

// scalars flattens the values at path into a list, skipping nulls.
func scalars(v interface{}, path schema.Path) []interface{} {
	var out []interface{}
	walk(v, path, nil, func(_ []int, value interface{}) interface{} {
		if value != nil {
			out = append(out, value)
		}
		return nil
	})
	return out
}

// project keeps only the part of v along path.
func project(v interface{}, path schema.Path) interface{} {
	if len(path) == 0 || v == nil {
		return v
	}
	if path[0] == schema.Wildcard {
		list, ok := v.([]interface{})
		if !ok {
			return nil
		}
		out := make([]interface{}, len(list))
		for i, item := range list {
			out[i] = project(item, path[1:])
		}
		return out
	}
	m, ok := v.(map[string]interface{})
	if !ok {
		return nil
	}
	child, ok := m[path[0]]
	if !ok {
		return nil
	}
	return map[string]interface{}{path[0]: project(child, path[1:])}
}

// merge overlays src onto dst: maps merge by key, equal-length lists
// element-wise.
func merge(dst, src interface{}) interface{} {
	if dst == nil {
		return src
	}
	if src == nil {
		return dst
	}
	switch d := dst.(type) {
	case map[string]interface{}:
		if s, ok := src.(map[string]interface{}); ok {
			for k, v := range s {
				d[k] = merge(d[k], v)
			}
			return d
		}
	case []interface{}:
		if s, ok := src.([]interface{}); ok && len(s) == len(d) {
			for i := range d {
				d[i] = merge(d[i], s[i])
			}
			return d
		}
	}
	return src
}

// attach places value, aligned to the wildcards of path, under key at the
// leaf addressed by path. The leaf's own value moves under the value key.
func attach(dst interface{}, path schema.Path, key string, value interface{}) interface{} {
	if value == nil {
		return dst
	}
	if len(path) == 0 {
		if m, ok := dst.(map[string]interface{}); ok {
			m[key] = value
			return m
		}
		out := map[string]interface{}{key: value}
		if dst != nil {
			out[schema.ValueKey] = dst
		}
		return out
	}
	if path[0] == schema.Wildcard {
		list, ok := value.([]interface{})
		if !ok {
			return dst
		}
		current, _ := dst.([]interface{})
		if len(current) != len(list) {
			current = make([]interface{}, len(list))
		}
		for i := range list {
			current[i] = attach(current[i], path[1:], key, list[i])
		}
		return current
	}
	m, ok := dst.(map[string]interface{})
	if !ok {
		m = map[string]interface{}{}
	}
	m[path[0]] = attach(m[path[0]], path[1:], key, value)
	return m
}
