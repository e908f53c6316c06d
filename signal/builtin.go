package signal

import (
	"context"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/viant/curator/errs"
	"github.com/viant/curator/schema"
)

const (
	TextStatisticsName  = "text_statistics"
	PIIName             = "pii"
	SubstringSearchName = "substring_search"
)

func init() {
	RegisterBuiltins()
}

// RegisterBuiltins registers the signals that need no external backend.
func RegisterBuiltins() {
	Register(TextStatisticsName, func() Signal { return &TextStatistics{} })
	Register(PIIName, func() Signal { return &PII{} })
	Register(SubstringSearchName, func() Signal { return &SubstringSearch{} })
	Register(ChunkName, func() Signal { return &Chunk{} })
	Register(SemanticSimilarityName, func() Signal { return &SemanticSimilarity{} })
}

// TextStatistics counts characters and words of a text.
type TextStatistics struct{}

func (s *TextStatistics) Name() string { return TextStatisticsName }
func (s *TextStatistics) Kind() Kind   { return KindPlain }
func (s *TextStatistics) Fields() *schema.Field {
	return schema.Struct(
		schema.Child{Name: "num_characters", Field: schema.Scalar(schema.Int32)},
		schema.Child{Name: "num_words", Field: schema.Scalar(schema.Int32)},
		schema.Child{Name: "type_token_ratio", Field: schema.Scalar(schema.Float32)},
	)
}

func (s *TextStatistics) Compute(ctx context.Context, values []interface{}) ([]interface{}, error) {
	out := make([]interface{}, len(values))
	for i, v := range values {
		text, ok := v.(string)
		if !ok {
			continue
		}
		words := strings.Fields(text)
		ratio := 0.0
		if len(words) > 0 {
			types := map[string]bool{}
			for _, w := range words {
				types[strings.ToLower(w)] = true
			}
			ratio = float64(len(types)) / float64(len(words))
		}
		out[i] = map[string]interface{}{
			"num_characters":   utf8.RuneCountInString(text),
			"num_words":        len(words),
			"type_token_ratio": ratio,
		}
	}
	return out, ctx.Err()
}

var (
	emailPattern = regexp.MustCompile(`[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}`)
	ipPattern    = regexp.MustCompile(`\b(?:(?:25[0-5]|2[0-4]\d|1?\d?\d)\.){3}(?:25[0-5]|2[0-4]\d|1?\d?\d)\b`)
)

// PII finds email addresses and IPv4 addresses.
type PII struct{}

func (s *PII) Name() string { return PIIName }
func (s *PII) Kind() Kind   { return KindPlain }
func (s *PII) Fields() *schema.Field {
	return schema.Struct(
		schema.Child{Name: "emails", Field: SpanFields()},
		schema.Child{Name: "ip_addresses", Field: SpanFields()},
	)
}

func (s *PII) Compute(ctx context.Context, values []interface{}) ([]interface{}, error) {
	out := make([]interface{}, len(values))
	for i, v := range values {
		text, ok := v.(string)
		if !ok {
			continue
		}
		out[i] = map[string]interface{}{
			"emails":       matchSpans(emailPattern, text),
			"ip_addresses": matchSpans(ipPattern, text),
		}
	}
	return out, ctx.Err()
}

func matchSpans(re *regexp.Regexp, text string) []interface{} {
	locs := re.FindAllStringIndex(text, -1)
	out := make([]interface{}, len(locs))
	for i, loc := range locs {
		out[i] = SpanValue(loc[0], loc[1], nil)
	}
	return out
}

// SubstringSearch finds case-insensitive occurrences of Query. Spans are
// byte offsets into the original text.
type SubstringSearch struct {
	Query string `json:"query"`
}

func (s *SubstringSearch) Name() string          { return SubstringSearchName }
func (s *SubstringSearch) Kind() Kind            { return KindPlain }
func (s *SubstringSearch) Fields() *schema.Field { return SpanFields() }

func (s *SubstringSearch) Compute(ctx context.Context, values []interface{}) ([]interface{}, error) {
	if s.Query == "" {
		return nil, errs.InvalidArgument("substring_search: query is required")
	}
	needle := foldRunes(s.Query)
	out := make([]interface{}, len(values))
	for i, v := range values {
		text, ok := v.(string)
		if !ok {
			continue
		}
		out[i] = foldedSpans(text, needle)
	}
	return out, ctx.Err()
}

func foldRunes(s string) []rune {
	out := make([]rune, 0, len(s))
	for _, r := range s {
		out = append(out, unicode.ToLower(r))
	}
	return out
}

// foldedSpans finds non-overlapping case-insensitive occurrences of needle,
// comparing rune by rune and reporting byte offsets into text.
func foldedSpans(text string, needle []rune) []interface{} {
	runes := make([]rune, 0, len(text))
	offsets := make([]int, 0, len(text)+1)
	for offset, r := range text {
		runes = append(runes, unicode.ToLower(r))
		offsets = append(offsets, offset)
	}
	offsets = append(offsets, len(text))
	spans := []interface{}{}
	for pos := 0; pos+len(needle) <= len(runes); {
		if !hasRunes(runes[pos:], needle) {
			pos++
			continue
		}
		spans = append(spans, SpanValue(offsets[pos], offsets[pos+len(needle)], nil))
		pos += len(needle)
	}
	return spans
}

func hasRunes(s, prefix []rune) bool {
	for i, r := range prefix {
		if s[i] != r {
			return false
		}
	}
	return true
}
