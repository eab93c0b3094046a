package render

import (
	"sort"
	"sync"

	"isoterrain/internal/surface"
	"isoterrain/internal/voxel"
)

// Recorder is a headless Adapter that keeps the last state of every mesh.
type Recorder struct {
	mu     sync.Mutex
	meshes []*RecordedMesh
}

// RecordedMesh is the state a backend would hold for one tile.
type RecordedMesh struct {
	rec       *Recorder
	Tile      *surface.Tile
	Bounds    surface.Bounds
	Visible   bool
	Seams     [6]bool
	Destroyed bool
	Updates   int
}

func NewRecorder() *Recorder { return &Recorder{} }

func (r *Recorder) NewTileMesh() TileMesh {
	r.mu.Lock()
	defer r.mu.Unlock()
	m := &RecordedMesh{rec: r}
	r.meshes = append(r.meshes, m)
	return m
}

func (m *RecordedMesh) SetTileData(tile *surface.Tile, bounds surface.Bounds) {
	m.rec.mu.Lock()
	defer m.rec.mu.Unlock()
	m.Tile = tile
	m.Bounds = bounds
	m.Updates++
}

func (m *RecordedMesh) SetVisible(visible bool) {
	m.rec.mu.Lock()
	defer m.rec.mu.Unlock()
	m.Visible = visible
}

func (m *RecordedMesh) SetVisibleLod(face voxel.Face, visible bool) {
	m.rec.mu.Lock()
	defer m.rec.mu.Unlock()
	m.Seams[face] = visible
}

func (m *RecordedMesh) Destroy() {
	m.rec.mu.Lock()
	defer m.rec.mu.Unlock()
	m.Destroyed = true
}

// MeshState is a copy of a live mesh's state.
type MeshState struct {
	ID        voxel.TileID
	Lod       int
	Visible   bool
	Seams     [6]bool
	Triangles int
}

// Live returns the state of every mesh that has data and was not destroyed, ordered by level and
// tile id.
func (r *Recorder) Live() []MeshState {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []MeshState
	for _, m := range r.meshes {
		if m.Destroyed || m.Tile == nil {
			continue
		}
		out = append(out, MeshState{
			ID:        m.Tile.ID,
			Lod:       m.Tile.Lod,
			Visible:   m.Visible,
			Seams:     m.Seams,
			Triangles: m.Tile.Triangles(),
		})
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Lod != b.Lod {
			return a.Lod < b.Lod
		}
		if a.ID.Z != b.ID.Z {
			return a.ID.Z < b.ID.Z
		}
		if a.ID.Y != b.ID.Y {
			return a.ID.Y < b.ID.Y
		}
		return a.ID.X < b.ID.X
	})
	return out
}

// Find returns the live state of tile id at lod.
func (r *Recorder) Find(lod int, id voxel.TileID) (MeshState, bool) {
	for _, m := range r.Live() {
		if m.Lod == lod && m.ID == id {
			return m, true
		}
	}
	return MeshState{}, false
}
