package schema

import (
	"encoding/json"
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/viant/curator/errs"
)

func testSchema() *Schema {
	return New(
		Child{Name: "title", Field: Scalar(String)},
		Child{Name: "docs", Field: Repeated(Struct(
			Child{Name: "text", Field: Scalar(String)},
			Child{Name: "scores", Field: Repeated(Scalar(Float32))},
		))},
		Child{Name: "meta", Field: Struct(Child{Name: "age", Field: Scalar(Int32)})},
	)
}

func TestGetField(t *testing.T) {
	s := testSchema()
	f, err := s.GetField(Path{"docs", "*", "text"})
	require.NoError(t, err)
	assert.Equal(t, String, f.DType)

	_, err = s.GetField(Path{"docs", "0", "text"})
	assert.True(t, errors.Is(err, errs.ErrNotFound))

	_, err = s.GetField(Path{"meta", "missing"})
	assert.True(t, errors.Is(err, errs.ErrNotFound))
	assert.Contains(t, err.Error(), "missing")

	assert.True(t, s.HasField(Path{"meta"}))
	assert.False(t, s.HasField(Path{"nope"}))
}

func TestLeavesAndAllFields(t *testing.T) {
	s := testSchema()
	var leaves []string
	for _, e := range s.Leaves() {
		leaves = append(leaves, e.Path.String())
	}
	assert.Equal(t, []string{"title", "meta.age", "docs.*.text", "docs.*.scores.*"}, leaves)

	var all []string
	for _, e := range s.AllFields() {
		all = append(all, e.Path.String())
	}
	assert.Equal(t, []string{"title", "docs", "meta", "docs.*", "meta.age", "docs.*.text", "docs.*.scores", "docs.*.scores.*"}, all)
}

func TestCachesInvalidatedOnMutation(t *testing.T) {
	s := testSchema()
	before := s.Leaves()
	require.NoError(t, s.SetChild(Path{"title"}, "len", Struct(Child{Name: "count", Field: Scalar(Int32)})))
	after := s.Leaves()
	assert.Len(t, before, 4)
	assert.Len(t, after, 5)

	title, err := s.GetField(Path{"title"})
	require.NoError(t, err)
	assert.True(t, title.IsLeaf())
	assert.True(t, title.HasChildren())

	require.NoError(t, s.RemoveChild(Path{"title"}, "len"))
	assert.Len(t, s.Leaves(), 4)
	title, _ = s.GetField(Path{"title"})
	assert.False(t, title.HasChildren())
}

func TestFieldValidate(t *testing.T) {
	assert.Error(t, (&Field{}).Validate())
	assert.Error(t, (&Field{DType: String, RepeatedField: Scalar(String)}).Validate())
	assert.Error(t, (&Field{DType: Float32, Categorical: true}).Validate())
	assert.NoError(t, (&Field{DType: Int32, Categorical: true}).Validate())
	assert.NoError(t, Span(Child{Name: "score", Field: Scalar(Float32)}).Validate())
	assert.Error(t, Struct(Child{Name: ValueKey, Field: Scalar(String)}).Validate())

	quoted := Struct(Child{Name: `say "hi"`, Field: Scalar(String)}).Validate()
	assert.True(t, errors.Is(quoted, errs.ErrInvalidArgument))
	assert.Error(t, New(Child{Name: `a"b`, Field: Scalar(String)}).Validate())
	_, err := Infer([]map[string]interface{}{{`a"b`: 1}})
	assert.True(t, errors.Is(err, errs.ErrInvalidArgument))
}

func TestSchemaJSONPreservesOrder(t *testing.T) {
	s := testSchema()
	data, err := json.Marshal(s)
	require.NoError(t, err)

	decoded := &Schema{}
	require.NoError(t, json.Unmarshal(data, decoded))
	assert.Equal(t, []string{"title", "docs", "meta"}, decoded.Fields.Names())
	assert.Len(t, decoded.Leaves(), 4)
}

func TestSubset(t *testing.T) {
	s := testSchema()
	sub, err := s.Subset([]Path{{"docs", "*", "text"}, {"title"}})
	require.NoError(t, err)
	var leaves []string
	for _, e := range sub.Leaves() {
		leaves = append(leaves, e.Path.String())
	}
	assert.ElementsMatch(t, []string{"title", "docs.*.text"}, leaves)
}

func TestBins(t *testing.T) {
	twenty, fifty, sixtyFive := 20.0, 50.0, 65.0
	bins := []Bin{
		{Name: "young", End: &twenty},
		{Name: "adult", Start: &twenty, End: &fifty},
		{Name: "middle-aged", Start: &fifty, End: &sixtyFive},
		{Name: "senior", Start: &sixtyFive},
	}
	require.NoError(t, ValidateBins(bins))
	name, ok := BinFor(bins, 34)
	assert.True(t, ok)
	assert.Equal(t, "adult", name)
	name, _ = BinFor(bins, 65)
	assert.Equal(t, "senior", name)
	_, ok = BinFor(bins, math.NaN())
	assert.False(t, ok)

	assert.Error(t, ValidateBins(bins[:1]))
	gap := []Bin{{Name: "a", End: &twenty}, {Name: "b", Start: &fifty}}
	assert.Error(t, ValidateBins(gap))
	bounded := []Bin{{Name: "a", Start: &twenty, End: &fifty}, {Name: "b", Start: &fifty}}
	assert.Error(t, ValidateBins(bounded))

	unnamed := []Bin{{End: &twenty}, {Start: &twenty, End: &fifty}, {Start: &fifty}}
	require.NoError(t, ValidateBins(unnamed))
	name, _ = BinFor(unnamed, 10)
	assert.Equal(t, "0", name)
	name, _ = BinFor(unnamed, 30)
	assert.Equal(t, "1", name)
	name, _ = BinFor(unnamed, 60)
	assert.Equal(t, "2", name)
	named := NamedBins(unnamed)
	assert.Equal(t, []string{"0", "1", "2"}, []string{named[0].Name, named[1].Name, named[2].Name})
	assert.Empty(t, unnamed[0].Name)

	duplicate := []Bin{{Name: "x", End: &twenty}, {Name: "x", Start: &twenty}}
	err := ValidateBins(duplicate)
	assert.True(t, errors.Is(err, errs.ErrInvalidArgument))
	clash := []Bin{{End: &twenty}, {Name: "0", Start: &twenty}}
	assert.Error(t, ValidateBins(clash))

	auto := AutoBins(0, 10, 5)
	require.NoError(t, ValidateBins(auto))
	assert.Len(t, auto, 5)
	name, _ = BinFor(auto, 3)
	assert.Equal(t, "1", name)
}

func TestInfer(t *testing.T) {
	s, err := Infer([]map[string]interface{}{
		{"text": "hello", "n": 1, "tags": []interface{}{"a"}, "meta": map[string]interface{}{"x": true}},
		{"text": "world", "n": 2.5, "tags": []interface{}{}, "extra": nil},
	})
	require.NoError(t, err)
	n, err := s.GetField(Path{"n"})
	require.NoError(t, err)
	assert.Equal(t, Float64, n.DType)
	tags, err := s.GetField(Path{"tags", "*"})
	require.NoError(t, err)
	assert.Equal(t, String, tags.DType)
	extra, err := s.GetField(Path{"extra"})
	require.NoError(t, err)
	assert.Equal(t, String, extra.DType)

	_, err = Infer([]map[string]interface{}{{"a": "x"}, {"a": true}})
	assert.True(t, errors.Is(err, errs.ErrInvalidArgument))
}

func TestSanitizeValue(t *testing.T) {
	v := SanitizeValue(map[string]interface{}{"a": math.NaN(), "b": []float64{1, math.Inf(1)}})
	m := v.(map[string]interface{})
	assert.Nil(t, m["a"])
	assert.Equal(t, []interface{}{1.0, nil}, m["b"])
}
