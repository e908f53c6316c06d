package tree

import "math"

// Point is a vector stored in the tree together with its cached magnitude.
type Point struct {
	index     int32
	Magnitude float32
	Vector    []float32
}

// NewPoint constructs an unindexed point for the given vector.
func NewPoint(vector ...float32) *Point {
	return &Point{index: -1, Vector: vector}
}

// Index returns the insertion index assigned by Tree.Insert, or -1.
func (p *Point) Index() int32 {
	if p == nil {
		return -1
	}
	return p.index
}

// Node is a cover-tree node; children live at level-1.
type Node struct {
	level          int32
	baseLevel      float32
	point          *Point
	children       []Node
	radius         float32
	radiusComputed uint64
}

func newNode(point *Point, level int32, base float32) Node {
	return Node{
		level:     level,
		baseLevel: float32(math.Pow(float64(base), float64(level))),
		point:     point,
	}
}

// Neighbor is a kNN candidate.
type Neighbor struct {
	Point    *Point
	Distance float32
}

// neighbors is a max-heap on distance holding the current best k.
type neighbors []Neighbor

func (h neighbors) Len() int           { return len(h) }
func (h neighbors) Less(i, j int) bool { return h[i].Distance > h[j].Distance }
func (h neighbors) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *neighbors) Push(x interface{}) {
	*h = append(*h, x.(Neighbor))
}
func (h *neighbors) Pop() interface{} {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}

type nodeItem struct {
	node       *Node
	lb         float32
	centerDist float32
}

// nodeQueue is a min-heap on lower-bound distance for best-first search.
type nodeQueue []nodeItem

func (q nodeQueue) Len() int            { return len(q) }
func (q nodeQueue) Less(i, j int) bool  { return q[i].lb < q[j].lb }
func (q nodeQueue) Swap(i, j int)       { q[i], q[j] = q[j], q[i] }
func (q *nodeQueue) Push(x interface{}) { *q = append(*q, x.(nodeItem)) }
func (q *nodeQueue) Pop() interface{} {
	old := *q
	n := len(old)
	x := old[n-1]
	*q = old[:n-1]
	return x
}
