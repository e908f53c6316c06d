// Package tree implements a cover tree for cosine and euclidean kNN queries
// with per-query candidate filtering and an optional visit budget.
package tree

import (
	"container/heap"
	"math"
	"sort"
	"sync"
)

// Tree holds values of type T keyed by the vectors they were inserted with.
type Tree[T any] struct {
	root          *Node
	base          float32
	metric        DistanceFunction
	distance      DistanceFunc
	values        []T
	points        []*Point
	version       uint64
	boundStrategy BoundStrategy
	mu            sync.Mutex
}

// BoundStrategy selects which lower-bound radius to use when pruning.
type BoundStrategy int

const (
	// BoundPerNode uses the cached subtree radius.
	BoundPerNode BoundStrategy = iota
	// BoundLevel uses a geometric bound derived from the node level.
	BoundLevel
)

// ParseBoundStrategy maps "node" or "level" to a BoundStrategy.
func ParseBoundStrategy(name string) BoundStrategy {
	if name == "level" {
		return BoundLevel
	}
	return BoundPerNode
}

// Accept reports whether a point may appear in a result.
type Accept func(p *Point) bool

// SearchOptions tune a kNN query.
type SearchOptions struct {
	// Accept restricts results; rejected points are still traversed.
	Accept Accept
	// Budget caps node visits once k results are held. Zero runs an exact
	// depth-first search.
	Budget int
}

// NewTree constructs a cover tree with the provided base and distance metric.
func NewTree[T any](base float32, metric DistanceFunction) *Tree[T] {
	if base <= 1 {
		base = 1.3
	}
	fn := metric.Function()
	if fn == nil {
		metric, fn = DistanceFunctionCosine, CosineDistance
	}
	return &Tree[T]{base: base, metric: metric, distance: fn}
}

// SetBoundStrategy switches the pruning strategy.
func (t *Tree[T]) SetBoundStrategy(s BoundStrategy) {
	t.mu.Lock()
	t.boundStrategy = s
	t.mu.Unlock()
}

// Base returns the level base.
func (t *Tree[T]) Base() float32 { return t.base }

// Metric returns the distance metric.
func (t *Tree[T]) Metric() DistanceFunction { return t.metric }

// Len returns the number of inserted points.
func (t *Tree[T]) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.points)
}

// Insert adds a value/vector pair and returns the assigned index.
func (t *Tree[T]) Insert(value T, point *Point) int32 {
	t.mu.Lock()
	defer t.mu.Unlock()
	point.index = int32(len(t.points))
	t.values = append(t.values, value)
	t.points = append(t.points, point)
	if point.Magnitude == 0 {
		point.Magnitude = Magnitude(point.Vector)
	}
	if t.root == nil {
		node := newNode(point, 0, t.base)
		t.root = &node
	} else {
		t.insert(t.root, point, 0)
	}
	t.version++
	return point.index
}

// Point returns the point stored at index, or nil.
func (t *Tree[T]) Point(index int32) *Point {
	t.mu.Lock()
	defer t.mu.Unlock()
	if index < 0 || int(index) >= len(t.points) {
		return nil
	}
	return t.points[index]
}

// Value returns the value stored for a point.
func (t *Tree[T]) Value(point *Point) T {
	t.mu.Lock()
	defer t.mu.Unlock()
	var zero T
	if idx := point.Index(); idx >= 0 && int(idx) < len(t.values) {
		return t.values[idx]
	}
	return zero
}

func (t *Tree[T]) insert(node *Node, point *Point, level int32) {
	for {
		baseLevel := float32(math.Pow(float64(t.base), float64(level)))
		if t.distance(point, node.point) < baseLevel {
			descended := false
			for i := range node.children {
				child := &node.children[i]
				if t.distance(point, child.point) < baseLevel {
					node = child
					level--
					descended = true
					break
				}
			}
			if !descended {
				node.children = append(node.children, newNode(point, level-1, t.base))
				return
			}
			continue
		}
		level++
		if level > node.level {
			newRoot := newNode(point, level, t.base)
			newRoot.children = append(newRoot.children, *t.root)
			t.root = &newRoot
			return
		}
	}
}

// KNearestNeighbors runs an exact depth-first kNN search.
func (t *Tree[T]) KNearestNeighbors(point *Point, k int) []Neighbor {
	return t.Search(point, k, SearchOptions{})
}

// Search returns up to k accepted neighbors ordered by ascending distance.
func (t *Tree[T]) Search(point *Point, k int, options SearchOptions) []Neighbor {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.root == nil || k <= 0 {
		return nil
	}
	if point.Magnitude == 0 {
		point.Magnitude = Magnitude(point.Vector)
	}
	h := &neighbors{}
	if options.Budget > 0 {
		t.bestFirst(point, k, options, h)
	} else {
		t.depthFirst(t.root, point, k, options.Accept, h)
	}
	result := make([]Neighbor, h.Len())
	for i := len(result) - 1; i >= 0; i-- {
		result[i] = heap.Pop(h).(Neighbor)
	}
	return result
}

func offer(h *neighbors, k int, accept Accept, n Neighbor) {
	if accept != nil && !accept(n.Point) {
		return
	}
	if h.Len() < k {
		heap.Push(h, n)
	} else if n.Distance < (*h)[0].Distance {
		(*h)[0] = n
		heap.Fix(h, 0)
	}
}

func (t *Tree[T]) depthFirst(node *Node, point *Point, k int, accept Accept, h *neighbors) {
	offer(h, k, accept, Neighbor{Point: node.point, Distance: t.distance(point, node.point)})
	if len(node.children) == 0 {
		return
	}
	type childDist struct {
		child *Node
		dist  float32
	}
	cds := make([]childDist, len(node.children))
	for i := range node.children {
		child := &node.children[i]
		cds[i] = childDist{child: child, dist: t.distance(point, child.point)}
	}
	sort.Slice(cds, func(i, j int) bool { return cds[i].dist < cds[j].dist })
	for _, cd := range cds {
		if h.Len() == k && cd.dist-t.boundRadius(cd.child) >= (*h)[0].Distance {
			continue
		}
		t.depthFirst(cd.child, point, k, accept, h)
	}
}

// bestFirst expands nodes by lower bound; the budget only counts visits made
// after the result heap is full, so sparse filters still fill k.
func (t *Tree[T]) bestFirst(point *Point, k int, options SearchOptions, h *neighbors) {
	pq := &nodeQueue{}
	rootDist := t.distance(point, t.root.point)
	heap.Push(pq, nodeItem{node: t.root, lb: rootDist - t.boundRadius(t.root), centerDist: rootDist})
	visits := 0
	for pq.Len() > 0 {
		top := heap.Pop(pq).(nodeItem)
		if h.Len() == k {
			if top.lb >= (*h)[0].Distance {
				return
			}
			if visits++; visits > options.Budget {
				return
			}
		}
		offer(h, k, options.Accept, Neighbor{Point: top.node.point, Distance: top.centerDist})
		for i := range top.node.children {
			child := &top.node.children[i]
			cd := t.distance(point, child.point)
			lb := cd - t.boundRadius(child)
			if h.Len() == k && lb >= (*h)[0].Distance {
				continue
			}
			heap.Push(pq, nodeItem{node: child, lb: lb, centerDist: cd})
		}
	}
}

func (t *Tree[T]) ensureRadius(n *Node) float32 {
	if n.radiusComputed == t.version {
		return n.radius
	}
	maxR := float32(0)
	for i := range n.children {
		child := &n.children[i]
		if d := t.distance(n.point, child.point) + t.ensureRadius(child); d > maxR {
			maxR = d
		}
	}
	n.radius = maxR
	n.radiusComputed = t.version
	return maxR
}

func (t *Tree[T]) boundRadius(n *Node) float32 {
	if t.boundStrategy == BoundLevel {
		return n.baseLevel * t.base / (t.base - 1)
	}
	return t.ensureRadius(n)
}
