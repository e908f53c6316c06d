package schema

import (
	"strings"

	"github.com/viant/curator/errs"
)

const (
	// Wildcard addresses any element of a repeated value.
	Wildcard = "*"
	// Separator joins path segments in their string form.
	Separator = '.'
	quote     = '"'
)

// Path addresses a value inside a record as an ordered list of segments.
type Path []string

// ParsePath parses the dotted string form of a path. Segments that contain
// the separator are quoted, with embedded quotes doubled (CSV style).
func ParsePath(s string) (Path, error) {
	if s == "" {
		return nil, errs.InvalidArgument("empty path")
	}
	var (
		result  Path
		segment strings.Builder
		quoted  bool
		wasQuo  bool
	)
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case quoted:
			if c == quote {
				if i+1 < len(s) && s[i+1] == quote {
					segment.WriteByte(quote)
					i++
					continue
				}
				quoted = false
				continue
			}
			segment.WriteByte(c)
		case c == quote:
			if segment.Len() > 0 {
				return nil, errs.InvalidArgument("path %q: quote inside unquoted segment", s)
			}
			quoted, wasQuo = true, true
		case c == Separator:
			if segment.Len() == 0 && !wasQuo {
				return nil, errs.InvalidArgument("path %q: empty segment", s)
			}
			result = append(result, segment.String())
			segment.Reset()
			wasQuo = false
		default:
			segment.WriteByte(c)
		}
	}
	if quoted {
		return nil, errs.InvalidArgument("path %q: unterminated quote", s)
	}
	if segment.Len() == 0 && !wasQuo {
		return nil, errs.InvalidArgument("path %q: empty segment", s)
	}
	return append(result, segment.String()), nil
}

// MustParsePath parses s and panics on malformed input. Intended for literals.
func MustParsePath(s string) Path {
	p, err := ParsePath(s)
	if err != nil {
		panic(err)
	}
	return p
}

// String renders the path, quoting segments that contain the separator.
func (p Path) String() string {
	var b strings.Builder
	for i, seg := range p {
		if i > 0 {
			b.WriteByte(Separator)
		}
		if seg == "" || strings.ContainsRune(seg, Separator) || strings.ContainsRune(seg, quote) {
			b.WriteByte(quote)
			b.WriteString(strings.ReplaceAll(seg, `"`, `""`))
			b.WriteByte(quote)
			continue
		}
		b.WriteString(seg)
	}
	return b.String()
}

// Equal reports segment-wise equality.
func (p Path) Equal(other Path) bool {
	if len(p) != len(other) {
		return false
	}
	for i := range p {
		if p[i] != other[i] {
			return false
		}
	}
	return true
}

// Match reports whether two paths have the same length and every segment
// that is not a wildcard on either side is equal.
func (p Path) Match(other Path) bool {
	if len(p) != len(other) {
		return false
	}
	for i := range p {
		if p[i] == Wildcard || other[i] == Wildcard {
			continue
		}
		if p[i] != other[i] {
			return false
		}
	}
	return true
}

// HasPrefix reports whether prefix is a leading sub-path of p.
func (p Path) HasPrefix(prefix Path) bool {
	if len(prefix) > len(p) {
		return false
	}
	return p[:len(prefix)].Equal(prefix)
}

// Append returns a new path with segments appended; p is never modified.
func (p Path) Append(segments ...string) Path {
	out := make(Path, 0, len(p)+len(segments))
	out = append(out, p...)
	return append(out, segments...)
}

// Clone returns a copy of the path.
func (p Path) Clone() Path { return p.Append() }

// Repeated returns the number of wildcard segments.
func (p Path) Repeated() int {
	n := 0
	for _, seg := range p {
		if seg == Wildcard {
			n++
		}
	}
	return n
}

// Wildcards returns a path made only of the wildcard segments of p.
func (p Path) Wildcards() Path {
	out := make(Path, 0, p.Repeated())
	for _, seg := range p {
		if seg == Wildcard {
			out = append(out, seg)
		}
	}
	return out
}

// TrimWildcardSuffix removes trailing wildcard segments.
func (p Path) TrimWildcardSuffix() Path {
	end := len(p)
	for end > 0 && p[end-1] == Wildcard {
		end--
	}
	return p[:end]
}
