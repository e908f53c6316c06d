package schema

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/viant/curator/errs"
)

const (
	// ValueKey holds the raw value of a leaf that also carries enrichments.
	ValueKey = "__value__"
	// RowIDKey holds the row identifier in documents and query results.
	RowIDKey = "__rowid__"
	// SpanKey holds the {start, end} offsets of a string span.
	SpanKey = "__span__"
	// EmbeddingKey names the embedding child of an embedding span.
	EmbeddingKey = "embedding"
)

var reservedNames = map[string]bool{ValueKey: true, RowIDKey: true, SpanKey: true, Wildcard: true}

// Field is a schema node: a scalar dtype, a struct, a repeated wrapper, or a
// dtype that additionally carries struct children (a leaf with sub-metadata).
type Field struct {
	DType         DataType        `json:"dtype,omitempty"`
	Fields        *Fields         `json:"fields,omitempty"`
	RepeatedField *Field          `json:"repeated_field,omitempty"`
	Signal        json.RawMessage `json:"signal,omitempty"`
	Bins          []Bin           `json:"bins,omitempty"`
	Categorical   bool            `json:"categorical,omitempty"`
}

// Scalar returns a leaf field of the given type.
func Scalar(dtype DataType) *Field { return &Field{DType: dtype} }

// Repeated wraps child in a repeated field.
func Repeated(child *Field) *Field { return &Field{RepeatedField: child} }

// Child names a struct member for Struct and Span.
type Child struct {
	Name  string
	Field *Field
}

// Struct returns a struct field with ordered children.
func Struct(children ...Child) *Field {
	fields := NewFields()
	for _, c := range children {
		fields.Set(c.Name, c.Field)
	}
	return &Field{Fields: fields}
}

// Span returns a string_span leaf with optional metadata children.
func Span(children ...Child) *Field {
	f := &Field{DType: StringSpan}
	if len(children) > 0 {
		f.Fields = NewFields()
		for _, c := range children {
			f.Fields.Set(c.Name, c.Field)
		}
	}
	return f
}

// IsLeaf reports whether the field carries a value.
func (f *Field) IsLeaf() bool { return f != nil && f.DType != "" }

// IsRepeated reports whether the field is a repeated wrapper.
func (f *Field) IsRepeated() bool { return f != nil && f.RepeatedField != nil }

// HasChildren reports whether the field has struct children.
func (f *Field) HasChildren() bool { return f != nil && f.Fields != nil && f.Fields.Len() > 0 }

// Child returns the named struct child.
func (f *Field) Child(name string) (*Field, bool) {
	if f == nil || f.Fields == nil {
		return nil, false
	}
	return f.Fields.Get(name)
}

// Validate enforces the node invariants recursively.
func (f *Field) Validate() error {
	return f.validate(nil)
}

func (f *Field) validate(at Path) error {
	if f == nil {
		return errs.InvalidArgument("field %q is nil", at.String())
	}
	defined := 0
	if f.DType != "" {
		defined++
		if !f.DType.Valid() {
			return errs.InvalidArgument("field %q: unknown dtype %q", at.String(), f.DType)
		}
	}
	if f.Fields != nil {
		defined++
	}
	if f.RepeatedField != nil {
		defined++
	}
	switch {
	case defined == 0:
		return errs.InvalidArgument("field %q must define one of dtype, fields or repeated_field", at.String())
	case f.RepeatedField != nil && defined > 1:
		return errs.InvalidArgument("field %q: repeated_field cannot be combined with dtype or fields", at.String())
	}
	if f.Categorical && f.DType.IsFloat() {
		return errs.InvalidArgument("field %q: categorical is incompatible with dtype %s", at.String(), f.DType)
	}
	if len(f.Bins) > 0 {
		if err := ValidateBins(f.Bins); err != nil {
			return fmt.Errorf("field %q: %w", at.String(), err)
		}
	}
	if f.Fields != nil {
		for _, name := range f.Fields.Names() {
			if err := validName(name); err != nil {
				return fmt.Errorf("field %q: %w", at.String(), err)
			}
			child, _ := f.Fields.Get(name)
			if err := child.validate(at.Append(name)); err != nil {
				return err
			}
		}
	}
	if f.RepeatedField != nil {
		return f.RepeatedField.validate(at.Append(Wildcard))
	}
	return nil
}

// validName rejects reserved names and names that cannot be addressed by a
// JSON path.
func validName(name string) error {
	switch {
	case reservedNames[name]:
		return errs.InvalidArgument("name %q is reserved", name)
	case name == "":
		return errs.InvalidArgument("name must not be empty")
	case strings.ContainsRune(name, '"'):
		return errs.InvalidArgument("name %q must not contain a double quote", name)
	}
	return nil
}

// Clone deep-copies the field.
func (f *Field) Clone() *Field {
	if f == nil {
		return nil
	}
	out := &Field{DType: f.DType, Categorical: f.Categorical}
	if f.Signal != nil {
		out.Signal = append(json.RawMessage(nil), f.Signal...)
	}
	if f.Bins != nil {
		out.Bins = append([]Bin(nil), f.Bins...)
	}
	if f.Fields != nil {
		out.Fields = f.Fields.Clone()
	}
	out.RepeatedField = f.RepeatedField.Clone()
	return out
}

// Fields is an insertion-ordered map of named child fields.
type Fields struct {
	names  []string
	byName map[string]*Field
}

func NewFields() *Fields { return &Fields{byName: map[string]*Field{}} }

func (f *Fields) Len() int {
	if f == nil {
		return 0
	}
	return len(f.names)
}

func (f *Fields) Names() []string {
	if f == nil {
		return nil
	}
	return append([]string(nil), f.names...)
}

func (f *Fields) Get(name string) (*Field, bool) {
	if f == nil {
		return nil, false
	}
	v, ok := f.byName[name]
	return v, ok
}

// Set adds or replaces a child, keeping the original position on replace.
func (f *Fields) Set(name string, field *Field) {
	if _, ok := f.byName[name]; !ok {
		f.names = append(f.names, name)
	}
	f.byName[name] = field
}

func (f *Fields) Delete(name string) {
	if _, ok := f.byName[name]; !ok {
		return
	}
	delete(f.byName, name)
	for i, n := range f.names {
		if n == name {
			f.names = append(f.names[:i:i], f.names[i+1:]...)
			break
		}
	}
}

func (f *Fields) Clone() *Fields {
	out := NewFields()
	for _, name := range f.names {
		out.Set(name, f.byName[name].Clone())
	}
	return out
}

// MarshalJSON writes children as an object in insertion order.
func (f *Fields) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, name := range f.names {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(name)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		value, err := json.Marshal(f.byName[name])
		if err != nil {
			return nil, err
		}
		buf.Write(value)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON reads an object preserving key order.
func (f *Fields) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return fmt.Errorf("schema: fields must be a JSON object")
	}
	f.names = nil
	f.byName = map[string]*Field{}
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		name, ok := tok.(string)
		if !ok {
			return fmt.Errorf("schema: unexpected field key %v", tok)
		}
		child := &Field{}
		if err := dec.Decode(child); err != nil {
			return fmt.Errorf("schema: field %q: %w", name, err)
		}
		f.Set(name, child)
	}
	_, err = dec.Token()
	return err
}
