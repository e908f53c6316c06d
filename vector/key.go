package vector

import (
	"strconv"
	"strings"

	"github.com/viant/curator/errs"
)

const (
	keySeparator  = "\x1f"
	spanSeparator = "#"
)

// Span is a [Start, End) character range inside a text value.
type Span struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

// PathKey identifies a row, or a repeated element inside it, by the row id
// and the indices taken at each repeated level.
type PathKey struct {
	RowID   string
	Indices []int
}

// NewPathKey builds a path key.
func NewPathKey(rowID string, indices ...int) PathKey {
	return PathKey{RowID: rowID, Indices: indices}
}

// String encodes the key for storage; indices are joined with a unit separator.
func (k PathKey) String() string {
	if len(k.Indices) == 0 {
		return k.RowID
	}
	var b strings.Builder
	b.WriteString(k.RowID)
	for _, idx := range k.Indices {
		b.WriteString(keySeparator)
		b.WriteString(strconv.Itoa(idx))
	}
	return b.String()
}

// Equal reports whether two keys address the same element.
func (k PathKey) Equal(other PathKey) bool {
	if k.RowID != other.RowID || len(k.Indices) != len(other.Indices) {
		return false
	}
	for i := range k.Indices {
		if k.Indices[i] != other.Indices[i] {
			return false
		}
	}
	return true
}

// ParsePathKey decodes a string produced by PathKey.String.
func ParsePathKey(s string) (PathKey, error) {
	parts := strings.Split(s, keySeparator)
	key := PathKey{RowID: parts[0]}
	for _, p := range parts[1:] {
		idx, err := strconv.Atoi(p)
		if err != nil {
			return PathKey{}, errs.InvalidArgument("vector: malformed path key %q", s)
		}
		key.Indices = append(key.Indices, idx)
	}
	return key, nil
}

func spanKey(pathKey string, i int) string {
	return pathKey + spanSeparator + strconv.Itoa(i)
}

// splitSpanKey returns the encoded path key and span index of a store key.
func splitSpanKey(key string) (string, int, bool) {
	pos := strings.LastIndex(key, spanSeparator)
	if pos < 0 {
		return "", 0, false
	}
	idx, err := strconv.Atoi(key[pos+1:])
	if err != nil {
		return "", 0, false
	}
	return key[:pos], idx, true
}
