// Package octree implements a point-indexed octree used for range queries over tile positions.
// Space is recursively partitioned into octants down to a fixed leaf granularity; leaves hold any
// number of points.
package octree

import (
	"math"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
)

// NodeType represents the possible types of nodes in an octree.
type NodeType uint8

// Each node is either an internal node linking to eight children, an empty leaf, or a filled leaf
// holding the points that fall inside it.
const (
	InternalNode = NodeType(iota)
	LeafNodeEmpty
	LeafNodeFilled
)

// Tree indexes values of type V by position.
type Tree[V comparable] struct {
	root     *node[V]
	leafSize float64
	size     int
}

type entry[V comparable] struct {
	p r3.Vector
	v V
}

type node[V comparable] struct {
	nodeType   NodeType
	center     r3.Vector
	sideLength float64
	children   []*node[V]
	entries    []entry[V]
}

// New creates an empty tree covering the cube at center with the given side length. Nodes whose
// side is at most leafSize are never split. The tree grows automatically when points are set
// outside its current bounds.
func New[V comparable](center r3.Vector, sideLength, leafSize float64) (*Tree[V], error) {
	if sideLength <= 0 {
		return nil, errors.Errorf("invalid side length (%.2f) for octree", sideLength)
	}
	if leafSize <= 0 {
		return nil, errors.Errorf("invalid leaf size (%.2f) for octree", leafSize)
	}
	return &Tree[V]{
		root:     newLeaf[V](center, sideLength),
		leafSize: leafSize,
	}, nil
}

func newLeaf[V comparable](center r3.Vector, side float64) *node[V] {
	return &node[V]{nodeType: LeafNodeEmpty, center: center, sideLength: side}
}

// Size returns the number of stored points.
func (t *Tree[V]) Size() int {
	return t.size
}

// Set inserts value v at p. Inserting the same (p, v) pair twice is a no-op.
func (t *Tree[V]) Set(p r3.Vector, v V) {
	for !t.root.contains(p) {
		t.grow(p)
	}
	if t.root.set(p, v, t.leafSize) {
		t.size++
	}
}

// Remove deletes the (p, v) pair and reports whether it was present.
func (t *Tree[V]) Remove(p r3.Vector, v V) bool {
	if !t.root.contains(p) {
		return false
	}
	if t.root.remove(p, v) {
		t.size--
		return true
	}
	return false
}

// grow doubles the root toward p; the old root becomes one octant of the new one.
func (t *Tree[V]) grow(p r3.Vector) {
	old := t.root
	half := old.sideLength / 2
	shift := func(target, c float64) float64 {
		if target < c {
			return c - half
		}
		return c + half
	}
	center := r3.Vector{X: shift(p.X, old.center.X), Y: shift(p.Y, old.center.Y), Z: shift(p.Z, old.center.Z)}
	root := newLeaf[V](center, old.sideLength*2)
	root.split()
	root.children[root.octant(old.center)] = old
	t.root = root
}

// octant returns the index of the child of n on p's side of the center, in split order.
func (n *node[V]) octant(p r3.Vector) int {
	i := 0
	if p.X >= n.center.X {
		i += 4
	}
	if p.Y >= n.center.Y {
		i += 2
	}
	if p.Z >= n.center.Z {
		i++
	}
	return i
}

// QuerySphere visits every point within radius of center. Returning false stops the walk.
func (t *Tree[V]) QuerySphere(center r3.Vector, radius float64, fn func(p r3.Vector, v V) bool) {
	t.root.walk(func(n *node[V]) bool {
		return n.distanceTo(center) <= radius
	}, func(e entry[V]) bool {
		if e.p.Sub(center).Norm() > radius {
			return true
		}
		return fn(e.p, e.v)
	})
}

// QueryBox visits every point inside the closed box [lo, hi].
func (t *Tree[V]) QueryBox(lo, hi r3.Vector, fn func(p r3.Vector, v V) bool) {
	t.root.walk(func(n *node[V]) bool {
		h := n.sideLength / 2
		return n.center.X+h >= lo.X && n.center.X-h <= hi.X &&
			n.center.Y+h >= lo.Y && n.center.Y-h <= hi.Y &&
			n.center.Z+h >= lo.Z && n.center.Z-h <= hi.Z
	}, func(e entry[V]) bool {
		if e.p.X < lo.X || e.p.X > hi.X || e.p.Y < lo.Y || e.p.Y > hi.Y || e.p.Z < lo.Z || e.p.Z > hi.Z {
			return true
		}
		return fn(e.p, e.v)
	})
}

// Iterate visits every stored point.
func (t *Tree[V]) Iterate(fn func(p r3.Vector, v V) bool) {
	t.root.walk(func(*node[V]) bool { return true }, func(e entry[V]) bool {
		return fn(e.p, e.v)
	})
}

// contains checks the half-open cube [center-h, center+h) so that every point maps to exactly one
// octant.
func (n *node[V]) contains(p r3.Vector) bool {
	h := n.sideLength / 2
	return p.X >= n.center.X-h && p.X < n.center.X+h &&
		p.Y >= n.center.Y-h && p.Y < n.center.Y+h &&
		p.Z >= n.center.Z-h && p.Z < n.center.Z+h
}

// distanceTo returns the distance from p to the node's cube, zero when inside.
func (n *node[V]) distanceTo(p r3.Vector) float64 {
	h := n.sideLength / 2
	axis := func(v, c float64) float64 {
		return math.Max(math.Abs(v-c)-h, 0)
	}
	return r3.Vector{X: axis(p.X, n.center.X), Y: axis(p.Y, n.center.Y), Z: axis(p.Z, n.center.Z)}.Norm()
}

func (n *node[V]) split() {
	q := n.sideLength / 4
	n.children = make([]*node[V], 0, 8)
	for _, dx := range []float64{-q, q} {
		for _, dy := range []float64{-q, q} {
			for _, dz := range []float64{-q, q} {
				center := r3.Vector{X: n.center.X + dx, Y: n.center.Y + dy, Z: n.center.Z + dz}
				n.children = append(n.children, newLeaf[V](center, n.sideLength/2))
			}
		}
	}
	n.nodeType = InternalNode
}

func (n *node[V]) set(p r3.Vector, v V, leafSize float64) bool {
	if n.nodeType == InternalNode {
		for _, child := range n.children {
			if child.contains(p) {
				return child.set(p, v, leafSize)
			}
		}
		panic("octree: internal node without a child containing the point")
	}
	if n.sideLength > leafSize {
		n.split()
		return n.set(p, v, leafSize)
	}
	for _, e := range n.entries {
		if e.v == v && e.p.ApproxEqual(p) {
			return false
		}
	}
	n.entries = append(n.entries, entry[V]{p: p, v: v})
	n.nodeType = LeafNodeFilled
	return true
}

func (n *node[V]) remove(p r3.Vector, v V) bool {
	switch n.nodeType {
	case InternalNode:
		for _, child := range n.children {
			if !child.contains(p) {
				continue
			}
			if !child.remove(p, v) {
				return false
			}
			n.collapse()
			return true
		}
	case LeafNodeFilled:
		for i, e := range n.entries {
			if e.v == v && e.p.ApproxEqual(p) {
				n.entries = append(n.entries[:i], n.entries[i+1:]...)
				if len(n.entries) == 0 {
					n.entries = nil
					n.nodeType = LeafNodeEmpty
				}
				return true
			}
		}
	case LeafNodeEmpty:
	}
	return false
}

// collapse turns an internal node whose children are all empty leaves back into an empty leaf.
func (n *node[V]) collapse() {
	for _, child := range n.children {
		if child.nodeType != LeafNodeEmpty {
			return
		}
	}
	n.children = nil
	n.nodeType = LeafNodeEmpty
}

func (n *node[V]) walk(visit func(*node[V]) bool, fn func(entry[V]) bool) bool {
	if n.nodeType == LeafNodeEmpty || !visit(n) {
		return true
	}
	if n.nodeType == LeafNodeFilled {
		for _, e := range n.entries {
			if !fn(e) {
				return false
			}
		}
		return true
	}
	for _, child := range n.children {
		if !child.walk(visit, fn) {
			return false
		}
	}
	return true
}
