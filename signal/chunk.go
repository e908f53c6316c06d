package signal

import (
	"context"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/viant/curator/errs"
	"github.com/viant/curator/schema"
	"github.com/viant/curator/vector"
)

const (
	// ChunkName is the registry name of the text splitter.
	ChunkName           = "chunk"
	defaultChunkSize    = 400
	defaultChunkOverlap = 50
)

var separators = []string{"\n\n", "\n", " ", ""}

// Chunk splits text into overlapping spans, preferring paragraph, then line,
// then word boundaries. Offsets are byte offsets into the source text.
type Chunk struct {
	ChunkSize    int `json:"chunk_size,omitempty"`
	ChunkOverlap int `json:"chunk_overlap,omitempty"`
}

func (c *Chunk) Name() string          { return ChunkName }
func (c *Chunk) Kind() Kind            { return KindSplitter }
func (c *Chunk) Fields() *schema.Field { return SpanFields() }

func (c *Chunk) params() (int, int, error) {
	size, overlap := c.ChunkSize, c.ChunkOverlap
	if size == 0 {
		size = defaultChunkSize
	}
	if overlap == 0 && c.ChunkSize == 0 {
		overlap = defaultChunkOverlap
	}
	if size < 0 || overlap < 0 || overlap > size {
		return 0, 0, errs.InvalidArgument("chunk: chunk_overlap %d must be within [0, chunk_size %d]", overlap, size)
	}
	return size, overlap, nil
}

// Compute returns a list of chunk spans per text value.
func (c *Chunk) Compute(ctx context.Context, values []interface{}) ([]interface{}, error) {
	size, overlap, err := c.params()
	if err != nil {
		return nil, err
	}
	out := make([]interface{}, len(values))
	for i, v := range values {
		text, ok := v.(string)
		if !ok {
			continue
		}
		spans := SplitText(text, size, overlap)
		items := make([]interface{}, len(spans))
		for j, s := range spans {
			items[j] = SpanValue(s.Start, s.End, nil)
		}
		out[i] = items
	}
	return out, ctx.Err()
}

// SplitText splits text into spans of at most size bytes where possible,
// consecutive spans sharing up to overlap bytes of whole pieces.
func SplitText(text string, size, overlap int) []vector.Span {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	pieces := splitRange(text, 0, len(text), separators, size)
	var out []vector.Span
	for _, s := range mergePieces(pieces, size, overlap) {
		for s.Start < s.End && isSpace(text, s.Start) {
			s.Start++
		}
		for s.End > s.Start {
			r, n := utf8.DecodeLastRuneInString(text[s.Start:s.End])
			if !unicode.IsSpace(r) {
				break
			}
			s.End -= n
		}
		if s.End > s.Start {
			out = append(out, s)
		}
	}
	return out
}

func isSpace(text string, at int) bool {
	r, _ := utf8.DecodeRuneInString(text[at:])
	return unicode.IsSpace(r)
}

func splitRange(text string, start, end int, seps []string, size int) []vector.Span {
	if end-start <= size {
		return []vector.Span{{Start: start, End: end}}
	}
	segment := text[start:end]
	for i, sep := range seps {
		if sep == "" {
			return hardSplit(text, start, end, size)
		}
		if !strings.Contains(segment, sep) {
			continue
		}
		var out []vector.Span
		pos := start
		for pos < end {
			next := strings.Index(text[pos:end], sep)
			pieceEnd := end
			if next >= 0 {
				pieceEnd = pos + next + len(sep)
			}
			out = append(out, splitRange(text, pos, pieceEnd, seps[i+1:], size)...)
			pos = pieceEnd
		}
		return out
	}
	return hardSplit(text, start, end, size)
}

func hardSplit(text string, start, end, size int) []vector.Span {
	var out []vector.Span
	for start < end {
		cut := start + size
		if cut >= end {
			cut = end
		} else {
			for cut > start && !utf8.RuneStart(text[cut]) {
				cut--
			}
			if cut == start {
				_, n := utf8.DecodeRuneInString(text[start:])
				cut = start + n
			}
		}
		out = append(out, vector.Span{Start: start, End: cut})
		start = cut
	}
	return out
}

func mergePieces(pieces []vector.Span, size, overlap int) []vector.Span {
	var out []vector.Span
	var window []vector.Span
	for _, p := range pieces {
		if len(window) > 0 && p.End-window[0].Start > size {
			out = append(out, vector.Span{Start: window[0].Start, End: window[len(window)-1].End})
			for len(window) > 0 && (window[len(window)-1].End-window[0].Start > overlap || p.End-window[0].Start > size) {
				window = window[1:]
			}
		}
		window = append(window, p)
	}
	if len(window) > 0 {
		out = append(out, vector.Span{Start: window[0].Start, End: window[len(window)-1].End})
	}
	return out
}
