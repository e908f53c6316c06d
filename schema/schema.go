// Package schema models nested, semi-structured records: paths with
// wildcard addressing, fields that are scalars, structs, repeated wrappers or
// leaves with sub-metadata, and schemas with memoized leaf indexes.
package schema

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/viant/curator/errs"
)

// Entry pairs a path with the field it addresses.
type Entry struct {
	Path  Path
	Field *Field
}

// Schema is a named collection of top-level fields.
//
// The leaves and all-fields caches are rebuilt lazily; a mutation swaps them
// out rather than editing them, so readers holding a previous result are safe.
type Schema struct {
	Fields *Fields `json:"fields"`

	mu     sync.Mutex
	leaves []Entry
	all    []Entry
}

// New returns a schema with the given top-level fields.
func New(children ...Child) *Schema {
	s := &Schema{Fields: NewFields()}
	for _, c := range children {
		s.Fields.Set(c.Name, c.Field)
	}
	return s
}

// Validate checks every field invariant.
func (s *Schema) Validate() error {
	if s == nil || s.Fields == nil {
		return errs.InvalidArgument("schema has no fields")
	}
	for _, name := range s.Fields.Names() {
		if err := validName(name); err != nil {
			return fmt.Errorf("top-level field: %w", err)
		}
		f, _ := s.Fields.Get(name)
		if err := f.validate(Path{name}); err != nil {
			return err
		}
	}
	return nil
}

// Clone deep-copies the schema without its caches.
func (s *Schema) Clone() *Schema {
	return &Schema{Fields: s.Fields.Clone()}
}

// HasField reports whether path addresses a field.
func (s *Schema) HasField(path Path) bool {
	_, err := s.GetField(path)
	return err == nil
}

// GetField resolves path to a field. A struct lacking the named child, or a
// named segment used against a repeated node, yields ErrNotFound.
func (s *Schema) GetField(path Path) (*Field, error) {
	if len(path) == 0 {
		return nil, errs.InvalidArgument("empty path")
	}
	current, ok := s.Fields.Get(path[0])
	if !ok {
		return nil, errs.NotFound("path %q: field %q", path.String(), path[0])
	}
	for i := 1; i < len(path); i++ {
		seg := path[i]
		if current.RepeatedField != nil {
			if seg != Wildcard {
				return nil, errs.NotFound("path %q: segment %q used on a repeated field", path.String(), seg)
			}
			current = current.RepeatedField
			continue
		}
		child, ok := current.Child(seg)
		if !ok {
			return nil, errs.NotFound("path %q: field %q", path.String(), seg)
		}
		current = child
	}
	return current, nil
}

// Leaves returns every path terminating in a dtype, in breadth-first order.
func (s *Schema) Leaves() []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.leaves == nil {
		s.buildCaches()
	}
	return s.leaves
}

// AllFields returns every path in the schema, leaf or not, breadth-first.
func (s *Schema) AllFields() []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.all == nil {
		s.buildCaches()
	}
	return s.all
}

// Leaf returns the leaf at path.
func (s *Schema) Leaf(path Path) (*Field, bool) {
	for _, e := range s.Leaves() {
		if e.Path.Equal(path) {
			return e.Field, true
		}
	}
	return nil, false
}

func (s *Schema) buildCaches() {
	leaves := []Entry{}
	all := []Entry{}
	queue := make([]Entry, 0, s.Fields.Len())
	for _, name := range s.Fields.Names() {
		f, _ := s.Fields.Get(name)
		queue = append(queue, Entry{Path: Path{name}, Field: f})
	}
	for len(queue) > 0 {
		e := queue[0]
		queue = queue[1:]
		all = append(all, e)
		if e.Field.IsLeaf() {
			leaves = append(leaves, e)
		}
		if e.Field.Fields != nil {
			for _, name := range e.Field.Fields.Names() {
				child, _ := e.Field.Fields.Get(name)
				queue = append(queue, Entry{Path: e.Path.Append(name), Field: child})
			}
		}
		if e.Field.RepeatedField != nil {
			queue = append(queue, Entry{Path: e.Path.Append(Wildcard), Field: e.Field.RepeatedField})
		}
	}
	s.leaves, s.all = leaves, all
}

func (s *Schema) invalidate() {
	s.mu.Lock()
	s.leaves, s.all = nil, nil
	s.mu.Unlock()
}

// SetChild attaches child under the field at parent with the given name,
// replacing any previous child of that name.
func (s *Schema) SetChild(parent Path, name string, child *Field) error {
	if reservedNames[name] {
		return errs.InvalidArgument("child name %q is reserved", name)
	}
	if len(parent) == 0 {
		s.Fields.Set(name, child)
		s.invalidate()
		return nil
	}
	f, err := s.GetField(parent)
	if err != nil {
		return err
	}
	if f.RepeatedField != nil {
		return errs.InvalidArgument("cannot attach %q to repeated field %q", name, parent.String())
	}
	if f.Fields == nil {
		f.Fields = NewFields()
	}
	f.Fields.Set(name, child)
	s.invalidate()
	return nil
}

// RemoveChild removes the named child of the field at parent.
func (s *Schema) RemoveChild(parent Path, name string) error {
	f, err := s.GetField(parent)
	if err != nil {
		return err
	}
	if _, ok := f.Child(name); !ok {
		return errs.NotFound("path %q has no child %q", parent.String(), name)
	}
	f.Fields.Delete(name)
	if f.Fields.Len() == 0 && f.DType != "" {
		f.Fields = nil
	}
	s.invalidate()
	return nil
}

// Subset returns a schema pruned to the given paths; every requested path
// keeps its whole sub-tree.
func (s *Schema) Subset(paths []Path) (*Schema, error) {
	out := &Schema{Fields: NewFields()}
	for _, p := range paths {
		if err := copyPath(s.Fields, out.Fields, p); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func copyPath(src, dst *Fields, p Path) error {
	f, ok := src.Get(p[0])
	if !ok {
		return errs.NotFound("path %q", p.String())
	}
	if len(p) == 1 {
		dst.Set(p[0], f.Clone())
		return nil
	}
	existing, ok := dst.Get(p[0])
	if !ok {
		existing = &Field{DType: f.DType, Signal: f.Signal, Bins: f.Bins, Categorical: f.Categorical}
		dst.Set(p[0], existing)
	}
	rest := p[1:]
	srcField := f
	dstField := existing
	for srcField.RepeatedField != nil && len(rest) > 0 && rest[0] == Wildcard {
		if dstField.RepeatedField == nil {
			dstField.RepeatedField = &Field{DType: srcField.RepeatedField.DType, Signal: srcField.RepeatedField.Signal}
		}
		srcField, dstField = srcField.RepeatedField, dstField.RepeatedField
		rest = rest[1:]
	}
	if len(rest) == 0 {
		*dstField = *srcField.Clone()
		return nil
	}
	if srcField.Fields == nil {
		return errs.NotFound("path %q", p.String())
	}
	if dstField.Fields == nil {
		dstField.Fields = NewFields()
	}
	return copyPath(srcField.Fields, dstField.Fields, rest)
}

// MarshalJSON encodes the schema fields.
func (s *Schema) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Fields *Fields `json:"fields"`
	}{Fields: s.Fields})
}

// UnmarshalJSON decodes a schema and resets its caches.
func (s *Schema) UnmarshalJSON(data []byte) error {
	var aux struct {
		Fields *Fields `json:"fields"`
	}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	if aux.Fields == nil {
		aux.Fields = NewFields()
	}
	s.Fields = aux.Fields
	s.invalidate()
	return nil
}
