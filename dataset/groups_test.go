package dataset

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/viant/curator/config"
	"github.com/viant/curator/errs"
	"github.com/viant/curator/schema"
	"github.com/viant/curator/store"
)

func ageBins() []schema.Bin {
	twenty, fifty, sixtyFive := 20.0, 50.0, 65.0
	return []schema.Bin{
		{Name: "young", End: &twenty},
		{Name: "adult", Start: &twenty, End: &fifty},
		{Name: "middle-aged", Start: &fifty, End: &sixtyFive},
		{Name: "senior", Start: &sixtyFive},
	}
}

func TestSelectGroups(t *testing.T) {
	ctx := context.Background()
	env := newEnv(t)
	ds := animals(t, env)

	groups, err := ds.SelectGroups(ctx, GroupsQuery{Path: schema.Path{"age"}, Bins: ageBins()})
	require.NoError(t, err)
	assert.Equal(t, []GroupCount{
		{Value: "adult", Count: 2},
		{Value: "middle-aged", Count: 1},
		{Value: "senior", Count: 1},
		{Value: "young", Count: 1},
	}, groups.Counts)

	groups, err = ds.SelectGroups(ctx, GroupsQuery{Path: schema.Path{"age"}, Bins: ageBins(), SortBy: ByValue})
	require.NoError(t, err)
	var names []interface{}
	for _, g := range groups.Counts {
		names = append(names, g.Value)
	}
	assert.Equal(t, []interface{}{"young", "adult", "middle-aged", "senior"}, names)

	groups, err = ds.SelectGroups(ctx, GroupsQuery{Path: schema.Path{"tags"}})
	require.NoError(t, err)
	assert.Equal(t, []GroupCount{
		{Value: "pet", Count: 2},
		{Value: nil, Count: 2},
		{Value: "small", Count: 1},
		{Value: "wild", Count: 1},
	}, groups.Counts)

	groups, err = ds.SelectGroups(ctx, GroupsQuery{
		Path:    schema.Path{"tags"},
		Filters: []Filter{{Path: schema.Path{"age"}, Op: store.Less, Value: 50}},
		Limit:   1,
	})
	require.NoError(t, err)
	assert.Equal(t, []GroupCount{{Value: nil, Count: 2}}, groups.Counts)

	_, err = ds.SelectGroups(ctx, GroupsQuery{Path: schema.Path{"missing"}})
	assert.True(t, errors.Is(err, errs.ErrNotFound))
}

func TestSelectGroupsMissingAndUnnamedBins(t *testing.T) {
	ctx := context.Background()
	env := newEnv(t)
	ds, err := Create(ctx, env, "local", "ages", []map[string]interface{}{
		{"age": 34.0}, {"age": 70.0}, {"age": 12.0}, {"age": 55.0}, {"age": 25.0}, {"age": math.NaN()},
	}, nil)
	require.NoError(t, err)

	groups, err := ds.SelectGroups(ctx, GroupsQuery{Path: schema.Path{"age"}, Bins: ageBins()})
	require.NoError(t, err)
	assert.Equal(t, []GroupCount{
		{Value: "adult", Count: 2},
		{Value: "middle-aged", Count: 1},
		{Value: "senior", Count: 1},
		{Value: "young", Count: 1},
		{Value: nil, Count: 1},
	}, groups.Counts)

	thirty, sixty := 30.0, 60.0
	unnamed := []schema.Bin{{End: &thirty}, {Start: &thirty, End: &sixty}, {Start: &sixty}}
	groups, err = ds.SelectGroups(ctx, GroupsQuery{Path: schema.Path{"age"}, Bins: unnamed, SortBy: ByValue})
	require.NoError(t, err)
	assert.Equal(t, []GroupCount{
		{Value: "0", Count: 2},
		{Value: "1", Count: 2},
		{Value: "2", Count: 1},
		{Value: nil, Count: 1},
	}, groups.Counts)
	require.Len(t, groups.Bins, 3)
	assert.Equal(t, "2", groups.Bins[2].Name)

	duplicate := []schema.Bin{{Name: "low", End: &thirty}, {Name: "low", Start: &thirty}}
	_, err = ds.SelectGroups(ctx, GroupsQuery{Path: schema.Path{"age"}, Bins: duplicate})
	assert.True(t, errors.Is(err, errs.ErrInvalidArgument))
}

func TestSelectGroupsTooManyDistinct(t *testing.T) {
	ctx := context.Background()
	env := newEnv(t, func(cfg *config.Config) { cfg.Query.MaxDistinctGroups = 3 })
	ds := animals(t, env)
	groups, err := ds.SelectGroups(ctx, GroupsQuery{Path: schema.Path{"text"}})
	require.NoError(t, err)
	assert.True(t, groups.TooManyDistinct)
	assert.Empty(t, groups.Counts)

	groups, err = ds.SelectGroups(ctx, GroupsQuery{Path: schema.Path{"age"}, Bins: ageBins()})
	require.NoError(t, err)
	assert.False(t, groups.TooManyDistinct)
}

func TestSelectGroupsAutoBins(t *testing.T) {
	ctx := context.Background()
	env := newEnv(t)
	ds, err := Create(ctx, env, "local", "scores", []map[string]interface{}{
		{"score": 0.5}, {"score": 1.5}, {"score": 2.5}, {"score": 3.5},
		{"flag": true}, {"flag": false},
	}, nil)
	require.NoError(t, err)

	groups, err := ds.SelectGroups(ctx, GroupsQuery{Path: schema.Path{"score"}})
	require.NoError(t, err)
	assert.Len(t, groups.Bins, env.Config.Query.AutoBins)
	total := 0
	for _, g := range groups.Counts {
		total += g.Count
	}
	assert.Equal(t, 6, total)

	flags, err := ds.SelectGroups(ctx, GroupsQuery{Path: schema.Path{"flag"}, SortBy: ByValue})
	require.NoError(t, err)
	assert.Equal(t, []GroupCount{
		{Value: false, Count: 1},
		{Value: true, Count: 1},
		{Value: nil, Count: 4},
	}, flags.Counts)
}

func TestStats(t *testing.T) {
	ctx := context.Background()
	env := newEnv(t)
	ds := animals(t, env)

	stats, err := ds.Stats(ctx, schema.Path{"text"})
	require.NoError(t, err)
	assert.Equal(t, 5, stats.TotalCount)
	assert.Equal(t, 5, stats.ApproxCountDistinct)
	require.NotNil(t, stats.AvgTextLength)
	assert.InDelta(t, 9.0, *stats.AvgTextLength, 1e-9)
	assert.Nil(t, stats.MinVal)

	stats, err = ds.Stats(ctx, schema.Path{"age"})
	require.NoError(t, err)
	assert.EqualValues(t, 12, stats.MinVal)
	assert.EqualValues(t, 70, stats.MaxVal)
	assert.Nil(t, stats.AvgTextLength)

	stats, err = ds.Stats(ctx, schema.Path{"tags"})
	require.NoError(t, err)
	assert.Equal(t, 4, stats.TotalCount)
	assert.Equal(t, 3, stats.ApproxCountDistinct)
}
