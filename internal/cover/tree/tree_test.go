package tree

import (
	"math/rand"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func randomVectors(n, dim int, seed int64) [][]float32 {
	rng := rand.New(rand.NewSource(seed))
	out := make([][]float32, n)
	for i := range out {
		v := make([]float32, dim)
		for j := range v {
			v[j] = rng.Float32()*2 - 1
		}
		out[i] = v
	}
	return out
}

func bruteForce(vectors [][]float32, query []float32, k int, accept func(int) bool) []int {
	type scored struct {
		idx  int
		dist float32
	}
	q := NewPoint(query...)
	var all []scored
	for i, v := range vectors {
		if accept != nil && !accept(i) {
			continue
		}
		all = append(all, scored{i, EuclideanDistance(q, NewPoint(v...))})
	}
	sort.Slice(all, func(i, j int) bool { return all[i].dist < all[j].dist })
	var out []int
	for i := 0; i < k && i < len(all); i++ {
		out = append(out, all[i].idx)
	}
	return out
}

func TestSearchMatchesBruteForce(t *testing.T) {
	vectors := randomVectors(300, 8, 7)
	tr := NewTree[int](1.3, DistanceFunctionEuclidean)
	for i, v := range vectors {
		assert.EqualValues(t, i, tr.Insert(i, NewPoint(v...)))
	}
	require.Equal(t, 300, tr.Len())
	query := randomVectors(1, 8, 99)[0]

	got := tr.KNearestNeighbors(NewPoint(query...), 5)
	require.Len(t, got, 5)
	var ids []int
	for _, n := range got {
		ids = append(ids, tr.Value(n.Point))
	}
	assert.Equal(t, bruteForce(vectors, query, 5, nil), ids)
	for i := 1; i < len(got); i++ {
		assert.LessOrEqual(t, got[i-1].Distance, got[i].Distance)
	}
}

func TestSearchWithAccept(t *testing.T) {
	vectors := randomVectors(200, 6, 3)
	tr := NewTree[int](1.3, DistanceFunctionEuclidean)
	for i, v := range vectors {
		tr.Insert(i, NewPoint(v...))
	}
	even := func(i int) bool { return i%2 == 0 }
	query := randomVectors(1, 6, 11)[0]
	got := tr.Search(NewPoint(query...), 4, SearchOptions{Accept: func(p *Point) bool { return even(int(p.Index())) }})
	var ids []int
	for _, n := range got {
		ids = append(ids, tr.Value(n.Point))
	}
	assert.Equal(t, bruteForce(vectors, query, 4, even), ids)
}

func TestBudgetStillFillsK(t *testing.T) {
	vectors := randomVectors(150, 4, 5)
	tr := NewTree[int](1.3, DistanceFunctionCosine)
	for i, v := range vectors {
		tr.Insert(i, NewPoint(v...))
	}
	got := tr.Search(NewPoint(vectors[0]...), 10, SearchOptions{Budget: 1})
	assert.Len(t, got, 10)
}

func TestEmptyTree(t *testing.T) {
	tr := NewTree[string](0, "unknown")
	assert.Equal(t, DistanceFunctionCosine, tr.Metric())
	assert.Nil(t, tr.KNearestNeighbors(NewPoint(1, 0), 3))
	assert.Nil(t, tr.Point(0))
}
