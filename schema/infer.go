package schema

import (
	"encoding/json"
	"math"
	"sort"
	"time"

	"github.com/viant/curator/errs"
)

// Infer derives a schema from sample documents. Integers widen to float64
// when both appear; other conflicting types fail with ErrInvalidArgument.
// The reserved row id key is skipped.
func Infer(docs []map[string]interface{}) (*Schema, error) {
	root := &Field{Fields: NewFields()}
	for _, doc := range docs {
		names := make([]string, 0, len(doc))
		for k := range doc {
			names = append(names, k)
		}
		sort.Strings(names)
		for _, k := range names {
			if k == RowIDKey {
				continue
			}
			existing, _ := root.Fields.Get(k)
			merged, err := mergeField(Path{k}, existing, inferValue(doc[k]))
			if err != nil {
				return nil, err
			}
			root.Fields.Set(k, merged)
		}
	}
	s := &Schema{Fields: root.Fields}
	finalizeNulls(s.Fields)
	return s, s.Validate()
}

func inferValue(v interface{}) *Field {
	switch val := v.(type) {
	case nil:
		return Scalar(Null)
	case string:
		return Scalar(String)
	case bool:
		return Scalar(Bool)
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return Scalar(Int64)
	case float32, float64:
		return Scalar(Float64)
	case json.Number:
		if _, err := val.Int64(); err == nil {
			return Scalar(Int64)
		}
		return Scalar(Float64)
	case time.Time:
		return Scalar(Timestamp)
	case time.Duration:
		return Scalar(Interval)
	case []byte:
		return Scalar(Binary)
	case []float32:
		return Scalar(Embedding)
	case map[string]interface{}:
		names := make([]string, 0, len(val))
		for k := range val {
			names = append(names, k)
		}
		sort.Strings(names)
		f := &Field{Fields: NewFields()}
		for _, k := range names {
			f.Fields.Set(k, inferValue(val[k]))
		}
		return f
	case []interface{}:
		var child *Field
		for _, item := range val {
			merged, err := mergeField(nil, child, inferValue(item))
			if err != nil {
				return Scalar(Map)
			}
			child = merged
		}
		if child == nil {
			child = Scalar(Null)
		}
		return Repeated(child)
	case []string:
		return Repeated(Scalar(String))
	case []int:
		return Repeated(Scalar(Int64))
	case []float64:
		return Repeated(Scalar(Float64))
	case []map[string]interface{}:
		items := make([]interface{}, len(val))
		for i := range val {
			items[i] = val[i]
		}
		return inferValue(items)
	}
	return Scalar(Map)
}

func mergeField(at Path, a, b *Field) (*Field, error) {
	switch {
	case a == nil:
		return b, nil
	case b == nil:
		return a, nil
	case a.DType == Null && b.RepeatedField == nil && b.Fields == nil:
		return b, nil
	case b.DType == Null && a.RepeatedField == nil && a.Fields == nil:
		return a, nil
	case a.DType == Null:
		return b, nil
	case b.DType == Null:
		return a, nil
	}
	if a.RepeatedField != nil || b.RepeatedField != nil {
		if a.RepeatedField == nil || b.RepeatedField == nil {
			return nil, errs.InvalidArgument("path %q: cannot merge repeated and non-repeated values", at.String())
		}
		child, err := mergeField(at.Append(Wildcard), a.RepeatedField, b.RepeatedField)
		if err != nil {
			return nil, err
		}
		return Repeated(child), nil
	}
	if a.Fields != nil || b.Fields != nil {
		if a.Fields == nil || b.Fields == nil {
			return nil, errs.InvalidArgument("path %q: cannot merge struct and scalar values", at.String())
		}
		out := &Field{Fields: a.Fields.Clone()}
		for _, name := range b.Fields.Names() {
			bf, _ := b.Fields.Get(name)
			af, _ := out.Fields.Get(name)
			merged, err := mergeField(at.Append(name), af, bf)
			if err != nil {
				return nil, err
			}
			out.Fields.Set(name, merged)
		}
		return out, nil
	}
	if a.DType == b.DType {
		return a, nil
	}
	if a.DType.IsNumeric() && b.DType.IsNumeric() {
		return Scalar(Float64), nil
	}
	return nil, errs.InvalidArgument("path %q: conflicting types %s and %s", at.String(), a.DType, b.DType)
}

// finalizeNulls turns fields that only ever held null into strings.
func finalizeNulls(fields *Fields) {
	for _, name := range fields.Names() {
		f, _ := fields.Get(name)
		finalizeField(f)
	}
}

func finalizeField(f *Field) {
	if f.DType == Null {
		f.DType = String
	}
	if f.Fields != nil {
		finalizeNulls(f.Fields)
	}
	if f.RepeatedField != nil {
		finalizeField(f.RepeatedField)
	}
}

// SanitizeValue prepares a value for JSON storage: NaN and infinities become
// null, float32 slices become []interface{}, nested containers are copied.
func SanitizeValue(v interface{}) interface{} {
	switch val := v.(type) {
	case float64:
		if math.IsNaN(val) || math.IsInf(val, 0) {
			return nil
		}
		return val
	case float32:
		f := float64(val)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return nil
		}
		return f
	case map[string]interface{}:
		out := make(map[string]interface{}, len(val))
		for k, item := range val {
			out[k] = SanitizeValue(item)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(val))
		for i, item := range val {
			out[i] = SanitizeValue(item)
		}
		return out
	case []float64:
		out := make([]interface{}, len(val))
		for i, item := range val {
			out[i] = SanitizeValue(item)
		}
		return out
	case []float32:
		out := make([]interface{}, len(val))
		for i, item := range val {
			out[i] = SanitizeValue(item)
		}
		return out
	case []string:
		out := make([]interface{}, len(val))
		for i, item := range val {
			out[i] = item
		}
		return out
	case []int:
		out := make([]interface{}, len(val))
		for i, item := range val {
			out[i] = item
		}
		return out
	case []map[string]interface{}:
		out := make([]interface{}, len(val))
		for i, item := range val {
			out[i] = SanitizeValue(item)
		}
		return out
	case time.Time:
		return val.UTC().Format(time.RFC3339Nano)
	}
	return v
}
