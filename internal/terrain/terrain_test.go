package terrain

import (
	"context"
	"testing"
	"time"

	"github.com/golang/geo/r3"
	"github.com/google/uuid"
	"go.uber.org/zap/zaptest"
	"go.viam.com/test"

	"isoterrain/internal/config"
	"isoterrain/internal/container"
	"isoterrain/internal/dispatch"
	"isoterrain/internal/render"
	"isoterrain/internal/shape"
	"isoterrain/internal/voxel"
)

func newTestTerrain(t *testing.T) (*Terrain, *container.Container, *render.Recorder) {
	t.Helper()
	logger := zaptest.NewLogger(t).Sugar()
	d := dispatch.New(4, logger)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		test.That(t, d.Close(ctx), test.ShouldBeNil)
	})
	bounds := voxel.Box{Min: voxel.Vec3i{X: -2, Y: -2, Z: -2}, Max: voxel.Vec3i{X: 2, Y: 2, Z: 2}}
	c := container.New(d, 20, bounds, logger)
	rec := render.NewRecorder()
	cfg := config.TerrainConfig{Levels: 2, Seams: true, FarRadius: []float64{60, 140}}
	return New(cfg, c, rec, d, logger), c, rec
}

func flush(t *testing.T, tr *Terrain) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	test.That(t, tr.Flush(ctx), test.ShouldBeNil)
	tr.Queue().Drain()
}

func visible(rec *render.Recorder, lod int) int {
	n := 0
	for _, m := range rec.Live() {
		if m.Lod == lod && m.Visible {
			n++
		}
	}
	return n
}

func meshes(rec *render.Recorder, lod int) int {
	n := 0
	for _, m := range rec.Live() {
		if m.Lod == lod {
			n++
		}
	}
	return n
}

func TestSphereAcrossLevels(t *testing.T) {
	tr, c, rec := newTestTerrain(t)

	// A sphere on the shared corner of eight tiles gives each of them a surface on both levels.
	c.Edit(shape.At(shape.Sphere{Radius: 5}, 0, 0, 0))
	flush(t, tr)
	test.That(t, meshes(rec, 0), test.ShouldEqual, 8)
	test.That(t, meshes(rec, 1), test.ShouldEqual, 8)
	test.That(t, visible(rec, 0), test.ShouldEqual, 0)

	stats, err := tr.Stats(context.Background())
	test.That(t, err, test.ShouldBeNil)
	test.That(t, stats, test.ShouldHaveLength, 2)
	for _, s := range stats {
		test.That(t, s.Surfaces, test.ShouldEqual, 8)
		test.That(t, s.Triangles, test.ShouldBeGreaterThan, 0)
		test.That(t, s.Visible, test.ShouldEqual, 0)
	}

	// Next to the sphere the fine level draws and covers the coarse one.
	cam := uuid.New()
	tr.AddCamera(cam, r3.Vector{})
	flush(t, tr)
	test.That(t, visible(rec, 0), test.ShouldEqual, 8)
	test.That(t, visible(rec, 1), test.ShouldEqual, 0)

	// Far enough away the coarse level takes over, with a seam toward the finer tiles.
	tr.MoveCamera(cam, r3.Vector{Z: 130})
	flush(t, tr)
	test.That(t, visible(rec, 0), test.ShouldEqual, 0)
	test.That(t, visible(rec, 1), test.ShouldEqual, 8)
	top, ok := rec.Find(1, voxel.TileID{})
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, top.Seams[voxel.FacePosZ], test.ShouldBeTrue)
	test.That(t, top.Seams[voxel.FaceNegZ], test.ShouldBeFalse)

	tr.RemoveCamera(cam)
	flush(t, tr)
	test.That(t, visible(rec, 1), test.ShouldEqual, 0)
	test.That(t, meshes(rec, 1), test.ShouldEqual, 8)
}

func TestRemovedSurfaceDestroysMeshes(t *testing.T) {
	tr, c, rec := newTestTerrain(t)
	c.Edit(shape.At(shape.Sphere{Radius: 5}, 0, 0, 0))
	flush(t, tr)
	test.That(t, rec.Live(), test.ShouldHaveLength, 16)

	req := shape.At(shape.Sphere{Radius: 7}, 0, 0, 0)
	req.Op = shape.Remove
	c.Edit(req)
	flush(t, tr)
	test.That(t, rec.Live(), test.ShouldBeEmpty)
}

func TestCloseDestroysEverything(t *testing.T) {
	tr, c, rec := newTestTerrain(t)
	c.Edit(shape.At(shape.Sphere{Radius: 5}, 0, 0, 0))
	tr.AddCamera(uuid.New(), r3.Vector{})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	test.That(t, tr.Close(ctx), test.ShouldBeNil)
	tr.Queue().Drain()
	test.That(t, rec.Live(), test.ShouldBeEmpty)

	// Later edits still run through the pipeline but reach no mesh.
	c.Edit(shape.At(shape.Sphere{Radius: 5}, 30, 30, 30))
	flush(t, tr)
	test.That(t, rec.Live(), test.ShouldBeEmpty)
	stats, err := tr.Stats(ctx)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, stats[0].Visible, test.ShouldEqual, 0)
}
