package octree

import (
	"math/rand"
	"sort"
	"testing"

	"github.com/golang/geo/r3"
	"go.viam.com/test"
)

func TestNewValidatesDimensions(t *testing.T) {
	_, err := New[int](r3.Vector{}, 0, 1)
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "invalid side length")

	_, err = New[int](r3.Vector{}, 8, 0)
	test.That(t, err, test.ShouldNotBeNil)
}

func TestSetRemoveAndNodeTypes(t *testing.T) {
	tree, err := New[string](r3.Vector{}, 8, 1)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, tree.root.nodeType, test.ShouldEqual, LeafNodeEmpty)

	tree.Set(r3.Vector{X: 1, Y: 1, Z: 1}, "a")
	tree.Set(r3.Vector{X: 1, Y: 1, Z: 1}, "a")
	tree.Set(r3.Vector{X: 1, Y: 1, Z: 1}, "b")
	test.That(t, tree.Size(), test.ShouldEqual, 2)
	test.That(t, tree.root.nodeType, test.ShouldEqual, InternalNode)

	test.That(t, tree.Remove(r3.Vector{X: 1, Y: 1, Z: 1}, "a"), test.ShouldBeTrue)
	test.That(t, tree.Remove(r3.Vector{X: 1, Y: 1, Z: 1}, "a"), test.ShouldBeFalse)
	test.That(t, tree.Remove(r3.Vector{X: 1, Y: 1, Z: 1}, "b"), test.ShouldBeTrue)
	test.That(t, tree.Size(), test.ShouldEqual, 0)
	test.That(t, tree.root.nodeType, test.ShouldEqual, LeafNodeEmpty)
}

func TestTreeGrowsToFitPoints(t *testing.T) {
	tree, err := New[int](r3.Vector{}, 2, 1)
	test.That(t, err, test.ShouldBeNil)
	far := r3.Vector{X: -100, Y: 37, Z: 5}
	tree.Set(far, 1)
	tree.Set(r3.Vector{}, 2)
	test.That(t, tree.root.contains(far), test.ShouldBeTrue)

	var got []int
	tree.Iterate(func(_ r3.Vector, v int) bool {
		got = append(got, v)
		return true
	})
	sort.Ints(got)
	test.That(t, got, test.ShouldResemble, []int{1, 2})
}

func TestGrowKeepsTheOldRoot(t *testing.T) {
	tree, err := New[int](r3.Vector{X: 0.1, Y: 0.2, Z: 0.3}, 0.7, 0.05)
	test.That(t, err, test.ShouldBeNil)
	near := []r3.Vector{{X: 0.15, Y: 0.25, Z: 0.35}, {X: -0.2, Y: 0.4, Z: 0.1}, {X: 0.3, Y: -0.1, Z: 0.5}}
	for i, p := range near {
		tree.Set(p, i)
	}

	for step, p := range []r3.Vector{{X: 1e3, Y: -7.3, Z: 0.9}, {X: -3.7e4, Y: 1.1e5, Z: -2.9e3}} {
		old := tree.root
		tree.grow(p)
		test.That(t, tree.root.children, test.ShouldHaveLength, 8)
		test.That(t, tree.root.children[tree.root.octant(old.center)] == old, test.ShouldBeTrue)
		tree.Set(p, 10+step)
	}
	test.That(t, tree.Size(), test.ShouldEqual, len(near)+2)

	for i, p := range near {
		var got []int
		tree.QuerySphere(p, 1e-9, func(_ r3.Vector, v int) bool {
			got = append(got, v)
			return true
		})
		test.That(t, got, test.ShouldResemble, []int{i})
	}
}

func TestQueriesMatchBruteForce(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	tree, err := New[int](r3.Vector{}, 16, 2)
	test.That(t, err, test.ShouldBeNil)

	points := make([]r3.Vector, 400)
	for i := range points {
		points[i] = r3.Vector{
			X: float64(rng.Intn(81) - 40),
			Y: float64(rng.Intn(81) - 40),
			Z: float64(rng.Intn(81) - 40),
		}
		tree.Set(points[i], i)
	}
	test.That(t, tree.Size(), test.ShouldEqual, len(points))

	for q := 0; q < 20; q++ {
		center := r3.Vector{X: float64(rng.Intn(61) - 30), Y: float64(rng.Intn(61) - 30), Z: float64(rng.Intn(61) - 30)}
		radius := float64(rng.Intn(25))

		var want, got []int
		for i, p := range points {
			if p.Sub(center).Norm() <= radius {
				want = append(want, i)
			}
		}
		tree.QuerySphere(center, radius, func(_ r3.Vector, v int) bool {
			got = append(got, v)
			return true
		})
		sort.Ints(want)
		sort.Ints(got)
		test.That(t, got, test.ShouldResemble, want)

		lo := center.Sub(r3.Vector{X: radius, Y: radius / 2, Z: radius})
		hi := center.Add(r3.Vector{X: radius / 2, Y: radius, Z: radius})
		want, got = nil, nil
		for i, p := range points {
			if p.X >= lo.X && p.X <= hi.X && p.Y >= lo.Y && p.Y <= hi.Y && p.Z >= lo.Z && p.Z <= hi.Z {
				want = append(want, i)
			}
		}
		tree.QueryBox(lo, hi, func(_ r3.Vector, v int) bool {
			got = append(got, v)
			return true
		})
		sort.Ints(want)
		sort.Ints(got)
		test.That(t, got, test.ShouldResemble, want)
	}
}

func TestQueryStopsEarly(t *testing.T) {
	tree, err := New[int](r3.Vector{}, 16, 1)
	test.That(t, err, test.ShouldBeNil)
	for i := 0; i < 10; i++ {
		tree.Set(r3.Vector{X: float64(i)}, i)
	}
	visits := 0
	tree.QuerySphere(r3.Vector{}, 100, func(r3.Vector, int) bool {
		visits++
		return visits < 3
	})
	test.That(t, visits, test.ShouldEqual, 3)
}
