package dataset

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/viant/curator/concept"
	"github.com/viant/curator/errs"
	"github.com/viant/curator/schema"
	"github.com/viant/curator/signal"
	"github.com/viant/curator/store"
)

// scoresSignal returns a fixed list of scores per text.
type scoresSignal struct {
	byText map[string][]interface{}
}

func (s *scoresSignal) Name() string          { return "test_scores" }
func (s *scoresSignal) Kind() signal.Kind     { return signal.KindPlain }
func (s *scoresSignal) Fields() *schema.Field { return schema.Repeated(schema.Scalar(schema.Float32)) }
func (s *scoresSignal) Compute(_ context.Context, values []interface{}) ([]interface{}, error) {
	out := make([]interface{}, len(values))
	for i, v := range values {
		if scores, ok := s.byText[v.(string)]; ok {
			out[i] = scores
		}
	}
	return out, nil
}

func TestSelectRowsFiltersAndSorts(t *testing.T) {
	ctx := context.Background()
	env := newEnv(t)
	ds := animals(t, env)

	testCases := []struct {
		description string
		query       Query
		expect      []string
		total       int
	}{
		{description: "insertion order", query: Query{}, expect: []string{"r1", "r2", "r3", "r4", "r5"}, total: 5},
		{description: "sort desc with page", query: Query{SortBy: []schema.Path{{"age"}}, SortOrder: Descending, Limit: 2, Offset: 1}, expect: []string{"r4", "r1"}, total: 5},
		{description: "filter greater", query: Query{Filters: []Filter{{Path: schema.Path{"age"}, Op: store.Greater, Value: 30}}}, expect: []string{"r1", "r2", "r4"}, total: 3},
		{description: "repeated in", query: Query{Filters: []Filter{{Path: schema.Path{"tags"}, Op: store.In, Value: []string{"wild"}}}}, expect: []string{"r4"}, total: 1},
		{description: "exists", query: Query{Filters: []Filter{{Path: schema.Path{"tags"}, Op: store.Exists}}}, expect: []string{"r1", "r2", "r4"}, total: 3},
		{description: "sort by repeated ascending uses minimum", query: Query{SortBy: []schema.Path{{"tags"}}, Limit: 3}, expect: []string{"r1", "r2", "r4"}, total: 5},
	}
	for _, testCase := range testCases {
		rows, err := ds.SelectRows(ctx, testCase.query)
		require.NoError(t, err, testCase.description)
		assert.Equal(t, testCase.expect, rowIDs(rows), testCase.description)
		assert.Equal(t, testCase.total, rows.Total, testCase.description)
	}
}

func TestSelectRowsInvalid(t *testing.T) {
	ctx := context.Background()
	env := newEnv(t)
	ds := animals(t, env)
	require.NoError(t, ds.ComputeSignal(ctx, &signal.PII{}, schema.Path{"text"}, ComputeOptions{}))

	_, err := ds.SelectRows(ctx, Query{SortBy: []schema.Path{{"text", "pii"}}})
	assert.True(t, errors.Is(err, errs.ErrInvalidArgument))
	_, err = ds.SelectRows(ctx, Query{SortBy: []schema.Path{{"text", "pii", "emails"}}})
	assert.True(t, errors.Is(err, errs.ErrInvalidArgument), "spans are not sortable")
	_, err = ds.SelectRows(ctx, Query{Columns: []Column{Col("nope")}})
	assert.True(t, errors.Is(err, errs.ErrNotFound))
	_, err = ds.SelectRows(ctx, Query{SortOrder: "sideways"})
	assert.True(t, errors.Is(err, errs.ErrInvalidArgument))
}

func TestSortByRepeatedEnrichment(t *testing.T) {
	ctx := context.Background()
	env := newEnv(t)
	ds := animals(t, env)
	scores := &scoresSignal{byText: map[string][]interface{}{
		"a cat sat":   {3.0, 10.0},
		"dogs bark":   {5.0},
		"cat cat dog": {1.0, 20.0},
	}}
	require.NoError(t, ds.ComputeSignal(ctx, scores, schema.Path{"text"}, ComputeOptions{}))

	rows, err := ds.SelectRows(ctx, Query{SortBy: []schema.Path{{"text", "test_scores"}}})
	require.NoError(t, err)
	assert.Equal(t, []string{"r3", "r1", "r2", "r4", "r5"}, rowIDs(rows))

	rows, err = ds.SelectRows(ctx, Query{SortBy: []schema.Path{{"text", "test_scores"}}, SortOrder: Descending})
	require.NoError(t, err)
	assert.Equal(t, []string{"r3", "r1", "r2", "r4", "r5"}, rowIDs(rows))

	rows, err = ds.SelectRows(ctx, Query{Filters: []Filter{{Path: schema.Path{"text", "test_scores"}, Op: store.GreaterEqual, Value: 10}}})
	require.NoError(t, err)
	assert.Equal(t, []string{"r1", "r3"}, rowIDs(rows))
}

// nestedScoresSignal returns a fixed list of score lists per text.
type nestedScoresSignal struct {
	byText map[string][]interface{}
}

func (s *nestedScoresSignal) Name() string      { return "test_nested_scores" }
func (s *nestedScoresSignal) Kind() signal.Kind { return signal.KindPlain }
func (s *nestedScoresSignal) Fields() *schema.Field {
	return schema.Repeated(schema.Repeated(schema.Scalar(schema.Float32)))
}
func (s *nestedScoresSignal) Compute(_ context.Context, values []interface{}) ([]interface{}, error) {
	out := make([]interface{}, len(values))
	for i, v := range values {
		out[i] = s.byText[v.(string)]
	}
	return out, nil
}

func TestSortByNestedRepeated(t *testing.T) {
	ctx := context.Background()
	env := newEnv(t)
	nested := map[string][]interface{}{
		"a": {[]interface{}{7.0, 1.0}, []interface{}{1.0, 7.0}},
		"b": {[]interface{}{3.0, 4.0}},
		"c": {[]interface{}{9.0, 0.0}},
	}
	var docs []map[string]interface{}
	for _, id := range []string{"a", "b", "c"} {
		docs = append(docs, map[string]interface{}{schema.RowIDKey: id, "text": id, "scores": nested[id]})
	}
	ds, err := Create(ctx, env, "local", "nested", docs, nil)
	require.NoError(t, err)
	sig := &nestedScoresSignal{byText: nested}

	testCases := []struct {
		description string
		query       Query
	}{
		{description: "stored ascending", query: Query{SortBy: []schema.Path{{"scores"}}}},
		{description: "stored descending", query: Query{SortBy: []schema.Path{{"scores"}}, SortOrder: Descending}},
		{description: "computed ascending", query: Query{
			Columns: []Column{Col("text"), {Path: schema.Path{"text"}, Signal: sig, Alias: "nested"}},
			SortBy:  []schema.Path{{"nested"}},
		}},
		{description: "computed descending", query: Query{
			Columns:   []Column{Col("text"), {Path: schema.Path{"text"}, Signal: sig, Alias: "nested"}},
			SortBy:    []schema.Path{{"nested"}},
			SortOrder: Descending,
		}},
	}
	for _, testCase := range testCases {
		rows, err := ds.SelectRows(ctx, testCase.query)
		require.NoError(t, err, testCase.description)
		assert.Equal(t, []string{"c", "a", "b"}, rowIDs(rows), testCase.description)
	}
}

func TestNotEqualSkipsMissingValues(t *testing.T) {
	ctx := context.Background()
	env := newEnv(t)
	ds, err := Create(ctx, env, "local", "ages", []map[string]interface{}{
		{schema.RowIDKey: "n1", "text": "a cat sat", "age": 34.0},
		{schema.RowIDKey: "n2", "text": "dogs bark", "age": math.NaN()},
		{schema.RowIDKey: "n3", "text": "fish swim", "age": 12.0},
	}, nil)
	require.NoError(t, err)

	rows, err := ds.SelectRows(ctx, Query{Filters: []Filter{{Path: schema.Path{"age"}, Op: store.NotEqual, Value: 34}}})
	require.NoError(t, err)
	assert.Equal(t, []string{"n3"}, rowIDs(rows))
	assert.Equal(t, 1, rows.Total)

	scores := &scoresSignal{byText: map[string][]interface{}{"a cat sat": {3.0}, "fish swim": {5.0}}}
	rows, err = ds.SelectRows(ctx, Query{
		Columns: []Column{Col("text"), {Path: schema.Path{"text"}, Signal: scores, Alias: "scores"}},
		Filters: []Filter{{Path: schema.Path{"scores"}, Op: store.NotEqual, Value: 3}},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"n3"}, rowIDs(rows))
}

func TestEnrichedColumnAlias(t *testing.T) {
	ctx := context.Background()
	env := newEnv(t)
	ds := animals(t, env)
	require.NoError(t, ds.ComputeSignal(ctx, &signal.TextStatistics{}, schema.Path{"text"}, ComputeOptions{}))

	stats := Column{Path: schema.Path{"text", signal.TextStatisticsName}, Alias: "stats"}
	rows, err := ds.SelectRows(ctx, Query{
		Columns: []Column{Col("age"), stats},
		SortBy:  []schema.Path{{"stats", "num_characters"}},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"r4", "r1", "r2", "r5", "r3"}, rowIDs(rows))
	assert.EqualValues(t, 7, rows.Rows[0]["stats.num_characters"])
	assert.EqualValues(t, 55, rows.Rows[0]["age"])
	assert.NotContains(t, rows.Rows[0], "text.text_statistics.num_characters")

	rows, err = ds.SelectRows(ctx, Query{
		Columns: []Column{stats},
		Filters: []Filter{{Path: schema.Path{"stats", "num_characters"}, Op: store.Greater, Value: 9}},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"r3"}, rowIDs(rows))

	schemaOut, err := ds.SelectRowsSchema(ctx, Query{Columns: []Column{stats}, SortBy: []schema.Path{{"stats", "num_words"}}})
	require.NoError(t, err)
	assert.Equal(t, schema.Path{"stats", "num_words"}, schemaOut.Sorts[0].Path)

	_, err = ds.SelectRows(ctx, Query{Columns: []Column{stats, {Path: schema.Path{"text"}, Alias: "stats"}}})
	assert.True(t, errors.Is(err, errs.ErrInvalidArgument))
	_, err = ds.SelectRows(ctx, Query{Columns: []Column{{Path: schema.Path{"text"}, Alias: "age"}}})
	assert.True(t, errors.Is(err, errs.ErrInvalidArgument))
}

func TestCombinedOutput(t *testing.T) {
	ctx := context.Background()
	env := newEnv(t)
	ds := animals(t, env)
	require.NoError(t, ds.ComputeSignal(ctx, &signal.TextStatistics{}, schema.Path{"text"}, ComputeOptions{}))

	rows, err := ds.SelectRows(ctx, Query{Columns: []Column{Col("text"), Col("age")}, Combine: true, Limit: 1})
	require.NoError(t, err)
	row := rows.Rows[0]
	assert.Equal(t, "r1", row[schema.RowIDKey])
	assert.EqualValues(t, 34, row["age"])
	text := row["text"].(map[string]interface{})
	assert.Equal(t, "a cat sat", text[schema.ValueKey])
	assert.EqualValues(t, 3, text["text_statistics"].(map[string]interface{})["num_words"])

	rows, err = ds.SelectRows(ctx, Query{Columns: []Column{Col("text", "text_statistics", "num_words")}, Combine: true, Limit: 1})
	require.NoError(t, err)
	text = rows.Rows[0]["text"].(map[string]interface{})
	assert.NotContains(t, text, schema.ValueKey)
	stats := text["text_statistics"].(map[string]interface{})
	assert.EqualValues(t, map[string]interface{}{"num_words": 3.0}, stats)
	assert.NotContains(t, rows.Rows[0], "age")
}

func TestSignalColumns(t *testing.T) {
	ctx := context.Background()
	env := newEnv(t)
	ds := animals(t, env)

	query := Query{
		Columns:   []Column{Col("text"), {Path: schema.Path{"text"}, Signal: &signal.TextStatistics{}, Alias: "stats"}},
		Filters:   []Filter{{Path: schema.Path{"stats", "num_words"}, Op: store.Greater, Value: 2}},
		SortBy:    []schema.Path{{"stats", "num_characters"}},
		SortOrder: Descending,
	}
	rows, err := ds.SelectRows(ctx, query)
	require.NoError(t, err)
	assert.Equal(t, []string{"r3", "r1"}, rowIDs(rows))
	assert.Equal(t, 2, rows.Total)
	assert.EqualValues(t, 11, rows.Rows[0]["stats"].(map[string]interface{})["num_characters"])

	combined, err := ds.SelectRows(ctx, Query{Columns: []Column{{Path: schema.Path{"text"}, Signal: &signal.TextStatistics{}, Alias: "stats"}}, Combine: true, Limit: 1})
	require.NoError(t, err)
	text := combined.Rows[0]["text"].(map[string]interface{})
	assert.NotContains(t, text, schema.ValueKey)
	assert.Contains(t, text, "text_statistics")

	sim := &signal.SemanticSimilarity{EmbeddingName: testEmbedding, Query: "cat"}
	_, err = ds.SelectRows(ctx, Query{Columns: []Column{{Path: schema.Path{"text"}, Signal: sim}}})
	require.Error(t, err)
	assert.True(t, errors.Is(err, errs.ErrDependencyUnavailable))
	assert.Contains(t, err.Error(), "text.semantic_similarity")
}

func TestKeywordSearch(t *testing.T) {
	ctx := context.Background()
	env := newEnv(t)
	ds := animals(t, env)
	rows, err := ds.SelectRows(ctx, Query{
		Columns:  []Column{Col("text")},
		Searches: []Search{{Path: schema.Path{"text"}, Type: KeywordSearch, Query: "CAT"}},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"r1", "r3"}, rowIDs(rows))
	assert.Equal(t, 2, rows.Total)
	key := "text." + signal.MustKey(&signal.SubstringSearch{Query: "CAT"})
	spans := rows.Rows[1][key].([]interface{})
	require.Len(t, spans, 2)
	span, ok := signal.ParseSpanValue(spans[1])
	require.True(t, ok)
	assert.Equal(t, 4, span.Start)
}

func TestKeywordSearchFoldsCaseAndResolvesLeaves(t *testing.T) {
	ctx := context.Background()
	env := newEnv(t)
	ds, err := Create(ctx, env, "local", "greetings", []map[string]interface{}{
		{schema.RowIDKey: "g1", "text": "İstanbul HELLO", "tags": []interface{}{"Pet", "x"}},
		{schema.RowIDKey: "g2", "text": "hello there", "tags": []interface{}{"a", "b"}},
		{schema.RowIDKey: "g3", "text": "nothing", "n": 1},
	}, nil)
	require.NoError(t, err)

	rows, err := ds.SelectRows(ctx, Query{Searches: []Search{{Path: schema.Path{"text"}, Type: KeywordSearch, Query: "hello"}}})
	require.NoError(t, err)
	assert.Equal(t, []string{"g1", "g2"}, rowIDs(rows))
	assert.Equal(t, 2, rows.Total)
	key := "text." + signal.MustKey(&signal.SubstringSearch{Query: "hello"})
	spans := rows.Rows[0][key].([]interface{})
	require.Len(t, spans, 1)
	span, ok := signal.ParseSpanValue(spans[0])
	require.True(t, ok)
	assert.Equal(t, "HELLO", "İstanbul HELLO"[span.Start:span.End])

	rows, err = ds.SelectRows(ctx, Query{Searches: []Search{{Path: schema.Path{"tags"}, Type: KeywordSearch, Query: "pet"}}})
	require.NoError(t, err)
	assert.Equal(t, []string{"g1"}, rowIDs(rows))
	tagsKey := schema.Path{"tags", schema.Wildcard, signal.MustKey(&signal.SubstringSearch{Query: "pet"})}.String()
	perTag := rows.Rows[0][tagsKey].([]interface{})
	require.Len(t, perTag, 2)
	assert.Len(t, perTag[0], 1)
	assert.Empty(t, perTag[1])

	rows, err = ds.SelectRows(ctx, Query{Searches: []Search{{Path: schema.Path{"tags"}, Type: KeywordSearch, Query: `","`}}})
	require.NoError(t, err)
	assert.Empty(t, rows.Rows)
	assert.Equal(t, 0, rows.Total)

	p, err := ds.plan(Query{Searches: []Search{{Path: schema.Path{"text"}, Type: KeywordSearch, Query: "hello"}}})
	require.NoError(t, err)
	require.Len(t, p.udfFilters, 1)
	assert.Equal(t, store.Exists, p.udfFilters[0].op)
	assert.True(t, p.materialize())

	_, err = ds.SelectRows(ctx, Query{Searches: []Search{{Path: schema.Path{"n"}, Type: KeywordSearch, Query: "1"}}})
	assert.True(t, errors.Is(err, errs.ErrInvalidArgument))
}

func TestSemanticSearch(t *testing.T) {
	ctx := context.Background()
	env := newEnv(t)
	ds := animals(t, env)
	search := Search{Path: schema.Path{"text"}, Type: SemanticSearch, Query: "cat", Embedding: testEmbedding}

	_, err := ds.SelectRows(ctx, Query{Searches: []Search{search}})
	assert.True(t, errors.Is(err, errs.ErrDependencyUnavailable))

	emb, err := signal.ResolveEmbedding(testEmbedding)
	require.NoError(t, err)
	require.NoError(t, ds.ComputeSignal(ctx, emb, schema.Path{"text"}, ComputeOptions{}))

	rows, err := ds.SelectRows(ctx, Query{Columns: []Column{Col("text")}, Searches: []Search{search}})
	require.NoError(t, err)
	assert.Equal(t, []string{"r1", "r3", "r5", "r2", "r4"}, rowIDs(rows))

	top, err := ds.SelectRows(ctx, Query{Columns: []Column{Col("text")}, Searches: []Search{search}, Limit: 2})
	require.NoError(t, err)
	assert.Equal(t, []string{"r1", "r3"}, rowIDs(top))
	assert.Equal(t, 5, top.Total)
	key := "text." + signal.MustKey(&signal.SemanticSimilarity{EmbeddingName: testEmbedding, Query: "cat"})
	scored := top.Rows[0][key].([]interface{})
	require.Len(t, scored, 1)
	assert.InDelta(t, 1.0, scored[0].(map[string]interface{})["score"], 1e-4)

	filtered, err := ds.SelectRows(ctx, Query{
		Searches: []Search{search},
		Filters:  []Filter{{Path: schema.Path{"age"}, Op: store.Greater, Value: 20}},
		Limit:    2,
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"r1", "r5"}, rowIDs(filtered))
	assert.Equal(t, 4, filtered.Total)

	byAge, err := ds.SelectRows(ctx, Query{Searches: []Search{search}, SortBy: []schema.Path{{"age"}}, Limit: 2})
	require.NoError(t, err)
	assert.Equal(t, []string{"r3", "r5"}, rowIDs(byAge))

	described, err := ds.SelectRowsSchema(ctx, Query{Columns: []Column{Col("text")}, Searches: []Search{search}})
	require.NoError(t, err)
	require.Len(t, described.Sorts, 1)
	assert.Equal(t, Descending, described.Sorts[0].Order)
	assert.Equal(t, "text."+signal.MustKey(&signal.SemanticSimilarity{EmbeddingName: testEmbedding, Query: "cat"})+".*.score", described.Sorts[0].Path.String())
	require.Len(t, described.UDFs, 1)
	field, err := described.Schema.GetField(schema.Path{"text", signal.MustKey(&signal.SemanticSimilarity{EmbeddingName: testEmbedding, Query: "cat"})})
	require.NoError(t, err)
	assert.True(t, field.IsRepeated())
}

func TestConceptSearch(t *testing.T) {
	ctx := context.Background()
	env := newEnv(t)
	ds := animals(t, env)
	concepts := env.Concepts.Concepts()
	_, err := concepts.Create(ctx, "local", "feline", concept.TypeText, "")
	require.NoError(t, err)
	text := func(s string) *string { return &s }
	_, err = concepts.Edit(ctx, "local", "feline", concept.Edit{Insert: []concept.Example{
		{Text: text("cat toy"), Label: true},
		{Text: text("cat nap"), Label: true},
		{Text: text("dog bone")},
		{Text: text("dog walk")},
	}})
	require.NoError(t, err)
	emb, err := signal.ResolveEmbedding(testEmbedding)
	require.NoError(t, err)
	require.NoError(t, ds.ComputeSignal(ctx, emb, schema.Path{"text"}, ComputeOptions{}))

	search := Search{Path: schema.Path{"text"}, Type: ConceptSearch, ConceptNamespace: "local", ConceptName: "feline", Embedding: testEmbedding}
	rows, err := ds.SelectRows(ctx, Query{Columns: []Column{Col("text")}, Searches: []Search{search}})
	require.NoError(t, err)
	ids := rowIDs(rows)
	require.Len(t, ids, 5)
	assert.ElementsMatch(t, []string{"r1", "r3"}, ids[:2])
	assert.Equal(t, "r4", ids[4])
	labels := "text." + signal.MustKey(&concept.LabelsSignal{Namespace: "local", ConceptName: "feline"})
	assert.Contains(t, rows.Rows[0], labels)

	top, err := ds.SelectRows(ctx, Query{Searches: []Search{search}, Limit: 1})
	require.NoError(t, err)
	require.Len(t, top.Rows, 1)
	assert.Contains(t, []string{"r1", "r3"}, rowIDs(top)[0])
}
