package tree

import "github.com/viant/vec/search"

// DistanceFunction enumerates supported distance metrics for the cover tree.
type DistanceFunction string

const (
	DistanceFunctionCosine    DistanceFunction = "cosine"
	DistanceFunctionEuclidean DistanceFunction = "euclidean"
)

// DistanceFunc computes the distance between two points.
type DistanceFunc func(p1, p2 *Point) float32

// Function resolves the callable distance implementation, or nil.
func (d DistanceFunction) Function() DistanceFunc {
	switch d {
	case DistanceFunctionCosine:
		return CosineDistance
	case DistanceFunctionEuclidean:
		return EuclideanDistance
	}
	return nil
}

// CosineDistance returns 1 - cosine similarity, using cached magnitudes when set.
func CosineDistance(p1, p2 *Point) float32 {
	m1 := p1.Magnitude
	if m1 == 0 {
		m1 = Magnitude(p1.Vector)
	}
	m2 := p2.Magnitude
	if m2 == 0 {
		m2 = Magnitude(p2.Vector)
	}
	if m1 == 0 || m2 == 0 {
		return 1
	}
	return search.Float32s(p1.Vector).CosineDistanceWithMagnitudesNeon(p2.Vector, m1, m2)
}

// EuclideanDistance returns the L2 distance between two points.
func EuclideanDistance(p1, p2 *Point) float32 {
	return search.Float32s(p1.Vector).EuclideanDistance(p2.Vector)
}

// Magnitude returns the L2 norm of v.
func Magnitude(v []float32) float32 {
	if len(v) == 0 {
		return 0
	}
	return search.Float32s(v).Magnitude()
}
