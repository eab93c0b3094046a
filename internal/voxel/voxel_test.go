package voxel

import (
	"math/rand"
	"testing"

	"go.viam.com/test"
)

func TestTileIDMapping(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	for _, size := range []int{1, 3, 20} {
		for i := 0; i < 2000; i++ {
			p := Vec3i{rng.Intn(401) - 200, rng.Intn(401) - 200, rng.Intn(401) - 200}
			id := TileOf(p, size)
			local := LocalOf(p, size)
			test.That(t, id.Mul(size).Add(local), test.ShouldResemble, p)
			for axis := 0; axis < 3; axis++ {
				test.That(t, local.Axis(axis), test.ShouldBeGreaterThanOrEqualTo, 0)
				test.That(t, local.Axis(axis), test.ShouldBeLessThan, size)
			}
		}
	}

	test.That(t, TileOf(Vec3i{-1, -20, -21}, 20), test.ShouldResemble, TileID{-1, -1, -2})
	test.That(t, LocalOf(Vec3i{-1, -20, -21}, 20), test.ShouldResemble, Vec3i{19, 0, 19})
}

func checkHomogeneity(t *testing.T, store *TileStore) {
	t.Helper()
	minimum, maximum, positive := 0, 0, 0
	for _, s := range store.Samples() {
		if s == SampleMin {
			minimum++
		}
		if s == SampleMax {
			maximum++
		}
		if s.Inside() {
			positive++
		}
	}
	gotMin, gotMax, gotPos := store.Counts()
	test.That(t, gotMin, test.ShouldEqual, minimum)
	test.That(t, gotMax, test.ShouldEqual, maximum)
	test.That(t, gotPos, test.ShouldEqual, positive)
	test.That(t, store.IsEmpty(), test.ShouldEqual, minimum == store.Len())
	test.That(t, store.IsFull(), test.ShouldEqual, maximum == store.Len())
}

func TestTileStoreHomogeneityInvariant(t *testing.T) {
	const size = 4
	store := NewTileStore(size, SampleMin)
	test.That(t, store.IsEmpty(), test.ShouldBeTrue)
	test.That(t, store.State().Kind(), test.ShouldEqual, Empty)

	rng := rand.New(rand.NewSource(11))
	store.StartEdit()
	for i := 0; i < 500; i++ {
		p := Vec3i{rng.Intn(size), rng.Intn(size), rng.Intn(size)}
		values := []Sample{SampleMin, SampleMax, 0, -3, 42}
		store.Set(p, values[rng.Intn(len(values))])
		checkHomogeneity(t, store)
	}
	store.SetFull()
	checkHomogeneity(t, store)
	test.That(t, store.IsFull(), test.ShouldBeTrue)
	store.SetEmpty()
	checkHomogeneity(t, store)
	test.That(t, store.IsEmpty(), test.ShouldBeTrue)
	store.EndEdit()
}

func TestTileStoreEditedBounds(t *testing.T) {
	store := NewTileStore(8, SampleMin)
	store.StartEdit()
	test.That(t, store.Set(Vec3i{1, 2, 3}, SampleMin), test.ShouldBeFalse)
	test.That(t, store.Edited().Valid(), test.ShouldBeFalse)

	test.That(t, store.Set(Vec3i{1, 2, 3}, 10), test.ShouldBeTrue)
	test.That(t, store.Set(Vec3i{5, 0, 4}, -10), test.ShouldBeTrue)
	edited := store.EndEdit()
	test.That(t, edited, test.ShouldResemble, Box{Min: Vec3i{1, 0, 3}, Max: Vec3i{5, 2, 4}})
	test.That(t, store.State().Kind(), test.ShouldEqual, Partial)
	test.That(t, store.State().Store(), test.ShouldEqual, store)
}

func TestTileStoreMutationOutsideSessionPanics(t *testing.T) {
	store := NewTileStore(2, SampleMin)
	test.That(t, func() { store.Set(Vec3i{}, 1) }, test.ShouldPanic)
	test.That(t, func() { store.SetFull() }, test.ShouldPanic)
	test.That(t, func() { store.EndEdit() }, test.ShouldPanic)
	store.StartEdit()
	test.That(t, func() { store.StartEdit() }, test.ShouldPanic)
}

func TestQuantizeRecoversCrossing(t *testing.T) {
	// Surface at 0.3 voxels past x=4: samples at 4 and 5 straddle it.
	s0 := Quantize(4 - 4.3)
	s1 := Quantize(5 - 4.3)
	mu := -float64(s0) / float64(s1-s0)
	test.That(t, mu, test.ShouldAlmostEqual, 0.3, 0.01)
	test.That(t, Quantize(10), test.ShouldEqual, SampleMax)
	test.That(t, Quantize(-10), test.ShouldEqual, SampleMin)
}

func TestTileStateSame(t *testing.T) {
	a := NewTileStore(2, 5)
	test.That(t, EmptyTile().Same(EmptyTile()), test.ShouldBeTrue)
	test.That(t, FullTile().Same(EmptyTile()), test.ShouldBeFalse)
	test.That(t, PartialTile(a).Same(PartialTile(a)), test.ShouldBeTrue)
	test.That(t, PartialTile(a).Same(PartialTile(a.Clone())), test.ShouldBeFalse)
	test.That(t, FullTile().At(Vec3i{}), test.ShouldEqual, SampleMax)
	test.That(t, EmptyTile().At(Vec3i{}), test.ShouldEqual, SampleMin)
}

func TestBoxOperations(t *testing.T) {
	b := InvalidBox().Extend(Vec3i{1, 1, 1}).Extend(Vec3i{-2, 3, 0})
	test.That(t, b, test.ShouldResemble, Box{Min: Vec3i{-2, 1, 0}, Max: Vec3i{1, 3, 1}})
	test.That(t, b.Count(), test.ShouldEqual, 4*3*2)
	test.That(t, TilesOverlapping(b, 2), test.ShouldResemble, Box{Min: Vec3i{-1, 0, 0}, Max: Vec3i{0, 1, 0}})
	test.That(t, b.Intersect(Box{Min: Vec3i{5, 5, 5}, Max: Vec3i{6, 6, 6}}).Valid(), test.ShouldBeFalse)
	visited := 0
	b.Each(func(Vec3i) bool { visited++; return true })
	test.That(t, visited, test.ShouldEqual, b.Count())
}
