// Package visibility decides, per level of detail, which surface tiles and which of their seams
// are shown to a set of cameras. Levels nest: a tile at level k is in range when the camera's far
// sphere reaches its parent cell, and is covered (hidden in favour of finer tiles) when the sphere
// of half the near radius reaches the tile itself. The same half-near sphere picks the seams.
package visibility

import (
	"math"

	"github.com/golang/geo/r3"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"isoterrain/internal/logging"
	"isoterrain/internal/metrics"
	"isoterrain/internal/octree"
	"isoterrain/internal/render"
	"isoterrain/internal/surface"
	"isoterrain/internal/voxel"
)

// Manager is driven from the dispatcher's master; it is not safe for concurrent use.
type Manager struct {
	logger  *zap.SugaredLogger
	lod     int
	span    float64
	near    float64
	far     float64
	queue   *render.Queue
	adapter render.Adapter

	index   *octree.Tree[voxel.TileID]
	tiles   map[voxel.TileID]*tile
	cameras map[uuid.UUID]*camera
}

type tile struct {
	surface *surface.Tile
	mesh    *render.Mesh
	center  r3.Vector

	viewers int
	seams   [6]int

	shown      bool
	shownSeams [6]bool
}

type camera struct {
	pos  r3.Vector
	sees map[voxel.TileID]*[6]bool
}

// New creates the manager of level lod for tiles of size voxels per edge at that level's stride.
// near is zero at the base level; with near = 2*far of the level below, the levels partition space.
func New(lod, size int, near, far float64, queue *render.Queue, adapter render.Adapter, logger *zap.SugaredLogger) *Manager {
	span := float64(size << lod)
	index, err := octree.New[voxel.TileID](r3.Vector{}, span*16, span)
	voxel.Invariant(err == nil, "octree for level %d: %v", lod, err)
	return &Manager{
		logger:  logging.Or(logger),
		lod:     lod,
		span:    span,
		near:    near,
		far:     far,
		queue:   queue,
		adapter: adapter,
		index:   index,
		tiles:   make(map[voxel.TileID]*tile),
		cameras: make(map[uuid.UUID]*camera),
	}
}

func (m *Manager) Lod() int { return m.lod }

// box is the world box of a tile at this level.
func (m *Manager) box(id voxel.TileID) (r3.Vector, r3.Vector) {
	lo := r3.Vector{X: float64(id.X) * m.span, Y: float64(id.Y) * m.span, Z: float64(id.Z) * m.span}
	return lo, lo.Add(r3.Vector{X: m.span, Y: m.span, Z: m.span})
}

// parentBox is the world box of the tile's cell on the doubled grid.
func (m *Manager) parentBox(id voxel.TileID) (r3.Vector, r3.Vector) {
	p := voxel.Vec3i{X: voxel.FloorDiv(id.X, 2), Y: voxel.FloorDiv(id.Y, 2), Z: voxel.FloorDiv(id.Z, 2)}
	lo := r3.Vector{X: float64(p.X), Y: float64(p.Y), Z: float64(p.Z)}.Mul(2 * m.span)
	return lo, lo.Add(r3.Vector{X: 2 * m.span, Y: 2 * m.span, Z: 2 * m.span})
}

// sphereHitsBox reports whether the closed sphere reaches the closed box.
func sphereHitsBox(c r3.Vector, r float64, lo, hi r3.Vector) bool {
	d := r3.Vector{
		X: c.X - math.Max(lo.X, math.Min(c.X, hi.X)),
		Y: c.Y - math.Max(lo.Y, math.Min(c.Y, hi.Y)),
		Z: c.Z - math.Max(lo.Z, math.Min(c.Z, hi.Z)),
	}
	return d.Norm2() <= r*r
}

// want computes what camera pos asks of tile id: whether it is shown and which seams.
func (m *Manager) want(pos r3.Vector, id voxel.TileID) (bool, [6]bool) {
	var seams [6]bool
	if lo, hi := m.parentBox(id); !sphereHitsBox(pos, m.far, lo, hi) {
		return false, seams
	}
	if m.near <= 0 {
		return true, seams
	}
	inner := m.near / 2
	if lo, hi := m.box(id); sphereHitsBox(pos, inner, lo, hi) {
		return false, seams
	}
	for _, f := range voxel.Faces {
		lo, hi := m.box(id.Add(f.Normal()))
		seams[f] = sphereHitsBox(pos, inner, lo, hi)
	}
	return true, seams
}

// candidates lists every tile a camera at pos might see.
func (m *Manager) candidates(pos r3.Vector, fn func(id voxel.TileID)) {
	reach := m.far + 1.5*math.Sqrt(3)*m.span
	m.index.QuerySphere(pos, reach, func(_ r3.Vector, id voxel.TileID) bool {
		fn(id)
		return true
	})
}

// evaluate brings the view of camera cam on tile id in line with its position.
func (m *Manager) evaluate(cam *camera, id voxel.TileID) {
	t := m.tiles[id]
	visible, seams := m.want(cam.pos, id)
	had := cam.sees[id]
	switch {
	case !visible && had == nil:
		return
	case !visible:
		m.drop(cam, id, t)
	default:
		if had == nil {
			had = &[6]bool{}
			cam.sees[id] = had
			t.viewers++
		}
		for f, want := range seams {
			if want != had[f] {
				had[f] = want
				if want {
					t.seams[f]++
				} else {
					t.seams[f]--
				}
			}
		}
	}
	m.sync(t)
}

func (m *Manager) drop(cam *camera, id voxel.TileID, t *tile) {
	had := cam.sees[id]
	if had == nil {
		return
	}
	delete(cam.sees, id)
	t.viewers--
	for f, on := range had {
		if on {
			t.seams[f]--
		}
	}
}

// sync issues the render calls that move a tile from its shown state to its wanted state.
func (m *Manager) sync(t *tile) {
	visible := t.viewers > 0
	switch {
	case visible && !t.shown:
		t.shown = true
		t.mesh.SetVisible(true)
		metrics.VisibleTiles(m.lod, 1)
		for _, f := range voxel.Faces {
			t.shownSeams[f] = t.seams[f] > 0
			t.mesh.SetVisibleLod(f, t.shownSeams[f])
		}
	case !visible && t.shown:
		t.shown = false
		t.mesh.SetVisible(false)
		metrics.VisibleTiles(m.lod, -1)
		for _, f := range voxel.Faces {
			if t.shownSeams[f] {
				t.shownSeams[f] = false
				t.mesh.SetVisibleLod(f, false)
			}
		}
	case visible:
		for _, f := range voxel.Faces {
			if want := t.seams[f] > 0; want != t.shownSeams[f] {
				t.shownSeams[f] = want
				t.mesh.SetVisibleLod(f, want)
			}
		}
	}
}

// AddCamera starts tracking a camera at pos. Adding a known camera moves it.
func (m *Manager) AddCamera(id uuid.UUID, pos r3.Vector) {
	if _, ok := m.cameras[id]; ok {
		m.MoveCamera(id, pos)
		return
	}
	cam := &camera{pos: pos, sees: make(map[voxel.TileID]*[6]bool)}
	m.cameras[id] = cam
	m.candidates(pos, func(t voxel.TileID) { m.evaluate(cam, t) })
}

// MoveCamera re-evaluates every tile the camera saw or may now see.
func (m *Manager) MoveCamera(id uuid.UUID, pos r3.Vector) {
	cam, ok := m.cameras[id]
	if !ok {
		m.logger.Debugw("moving unknown camera", "camera", id)
		return
	}
	cam.pos = pos
	seen := make(map[voxel.TileID]struct{}, len(cam.sees))
	for t := range cam.sees {
		seen[t] = struct{}{}
	}
	m.candidates(pos, func(t voxel.TileID) {
		seen[t] = struct{}{}
	})
	for t := range seen {
		m.evaluate(cam, t)
	}
}

// RemoveCamera stops tracking a camera and withdraws everything it asked for.
func (m *Manager) RemoveCamera(id uuid.UUID) {
	cam, ok := m.cameras[id]
	if !ok {
		return
	}
	delete(m.cameras, id)
	for tid := range cam.sees {
		t := m.tiles[tid]
		m.drop(cam, tid, t)
		m.sync(t)
	}
}

// Apply takes in a surface change-list. New tiles start hidden and are evaluated against every
// camera; removed tiles are destroyed.
func (m *Manager) Apply(changes surface.Changes) {
	for id, s := range changes {
		t, ok := m.tiles[id]
		switch {
		case s == nil && ok:
			for _, cam := range m.cameras {
				m.drop(cam, id, t)
			}
			m.sync(t)
			t.mesh.Destroy()
			m.index.Remove(t.center, id)
			delete(m.tiles, id)
		case s == nil:
		case ok:
			t.surface = s
			t.mesh.SetTileData(s)
		default:
			lo, _ := m.box(id)
			t = &tile{
				surface: s,
				mesh:    m.queue.NewMesh(m.adapter),
				center:  lo.Add(r3.Vector{X: m.span / 2, Y: m.span / 2, Z: m.span / 2}),
			}
			t.mesh.SetTileData(s)
			t.mesh.SetVisible(false)
			m.tiles[id] = t
			m.index.Set(t.center, id)
			for _, cam := range m.cameras {
				m.evaluate(cam, id)
			}
		}
	}
}

// Visible reports whether tile id is shown to any camera.
func (m *Manager) Visible(id voxel.TileID) bool {
	t, ok := m.tiles[id]
	return ok && t.shown
}

// SeamVisible reports whether the seam of tile id toward f is shown.
func (m *Manager) SeamVisible(id voxel.TileID, f voxel.Face) bool {
	t, ok := m.tiles[id]
	return ok && t.shownSeams[f]
}

// Tiles returns the number of tracked surface tiles.
func (m *Manager) Tiles() int { return len(m.tiles) }

// Cameras returns the number of tracked cameras.
func (m *Manager) Cameras() int { return len(m.cameras) }

// Shown returns the number of tiles currently shown.
func (m *Manager) Shown() int {
	n := 0
	for _, t := range m.tiles {
		if t.shown {
			n++
		}
	}
	return n
}

// Reset forgets every camera and destroys every mesh.
func (m *Manager) Reset() {
	for id := range m.cameras {
		m.RemoveCamera(id)
	}
	for id, t := range m.tiles {
		t.mesh.Destroy()
		m.index.Remove(t.center, id)
	}
	m.tiles = make(map[voxel.TileID]*tile)
}
