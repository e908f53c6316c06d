package index

import (
	"math"
	"sort"
)

// Candidate is an ordinal with its similarity score.
type Candidate struct {
	Ordinal uint32
	Score   float64
}

func better(a, b Candidate) bool {
	if a.Score != b.Score {
		return a.Score > b.Score
	}
	return a.Ordinal < b.Ordinal
}

// SelectTopK partially partitions candidates so the best k come first, then
// sorts only those: O(n + k log k). Ties break on ordinal.
func SelectTopK(candidates []Candidate, k int) []Candidate {
	if k <= 0 || len(candidates) == 0 {
		return nil
	}
	if k < len(candidates) {
		quickselect(candidates, k)
		candidates = candidates[:k]
	}
	sort.Slice(candidates, func(i, j int) bool { return better(candidates[i], candidates[j]) })
	return candidates
}

// quickselect reorders c so that c[:k] holds the k best candidates.
func quickselect(c []Candidate, k int) {
	lo, hi := 0, len(c)-1
	for lo < hi {
		mid := lo + (hi-lo)/2
		pivot := c[mid]
		c[mid], c[hi] = c[hi], c[mid]
		store := lo
		for i := lo; i < hi; i++ {
			if better(c[i], pivot) {
				c[i], c[store] = c[store], c[i]
				store++
			}
		}
		c[store], c[hi] = c[hi], c[store]
		switch {
		case store == k-1 || store == k:
			return
		case store < k:
			lo = store + 1
		default:
			hi = store - 1
		}
	}
}

// Normalize returns a unit-length copy of v; a zero vector stays zero.
func Normalize(v []float32) []float32 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	out := make([]float32, len(v))
	if sum == 0 {
		return out
	}
	inv := 1 / math.Sqrt(sum)
	for i, x := range v {
		out[i] = float32(float64(x) * inv)
	}
	return out
}

// Dot returns the dot product of two equal-length vectors.
func Dot(a, b []float32) float64 {
	var s float64
	for i := range a {
		s += float64(a[i]) * float64(b[i])
	}
	return s
}
