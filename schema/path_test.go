package schema

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/viant/curator/errs"
)

func TestPathRoundTrip(t *testing.T) {
	testCases := []struct {
		description string
		path        Path
		expect      string
	}{
		{description: "plain", path: Path{"a", "b"}, expect: "a.b"},
		{description: "wildcard", path: Path{"docs", "*", "text"}, expect: "docs.*.text"},
		{description: "separator in segment", path: Path{"a.b", "c"}, expect: `"a.b".c`},
		{description: "quote in segment", path: Path{`say "hi"`}, expect: `"say ""hi"""`},
		{description: "quote and dot", path: Path{`x."y`, "z"}, expect: `"x.""y".z`},
		{description: "empty segment", path: Path{"", "a"}, expect: `"".a`},
	}
	for _, testCase := range testCases {
		rendered := testCase.path.String()
		assert.Equal(t, testCase.expect, rendered, testCase.description)
		parsed, err := ParsePath(rendered)
		require.NoError(t, err, testCase.description)
		assert.Equal(t, testCase.path, parsed, testCase.description)
	}
}

func TestParsePathErrors(t *testing.T) {
	for _, input := range []string{"", "a..b", "a.", `"unterminated`, `ab"c"`} {
		_, err := ParsePath(input)
		require.Error(t, err, input)
		assert.True(t, errors.Is(err, errs.ErrInvalidArgument), input)
	}
}

func TestPathMatch(t *testing.T) {
	assert.True(t, Path{"a", "*", "b"}.Match(Path{"a", "*", "b"}))
	assert.True(t, Path{"a", "*", "b"}.Match(Path{"a", "0", "b"}))
	assert.False(t, Path{"a", "*", "b"}.Match(Path{"a", "*", "c"}))
	assert.False(t, Path{"a", "*"}.Match(Path{"a", "*", "b"}))
}

func TestPathHelpers(t *testing.T) {
	p := Path{"a", "*", "b", "*"}
	assert.Equal(t, 2, p.Repeated())
	assert.Equal(t, Path{"*", "*"}, p.Wildcards())
	assert.Equal(t, Path{"a", "*", "b"}, p.TrimWildcardSuffix())
	assert.True(t, p.HasPrefix(Path{"a", "*"}))
	appended := p[:1].Append("x")
	assert.Equal(t, Path{"a", "x"}, appended)
	assert.Equal(t, Path{"a", "*", "b", "*"}, p)
}
