// Package render defines the boundary to a graphics backend. The pipeline never calls a backend
// directly: every mesh call is posted to a Queue and executed by whichever goroutine owns the
// device when it drains the queue.
package render

import (
	"isoterrain/internal/dispatch"
	"isoterrain/internal/surface"
	"isoterrain/internal/voxel"
)

// TileMesh is the backend resource of one surface tile.
type TileMesh interface {
	SetTileData(tile *surface.Tile, bounds surface.Bounds)
	SetVisible(visible bool)
	SetVisibleLod(face voxel.Face, visible bool)
	Destroy()
}

// Adapter creates backend meshes.
type Adapter interface {
	NewTileMesh() TileMesh
}

// Queue carries mesh calls from the pipeline to the device owner. Posting never blocks; Drain
// must only be called from a single goroutine.
type Queue struct {
	calls *dispatch.Queue
	ready chan struct{}
}

func NewQueue() *Queue {
	return &Queue{calls: dispatch.NewQueue(), ready: make(chan struct{}, 1)}
}

func (q *Queue) post(fn func()) {
	q.calls.Enqueue(fn)
	select {
	case q.ready <- struct{}{}:
	default:
	}
}

// Ready is signalled after calls have been posted.
func (q *Queue) Ready() <-chan struct{} { return q.ready }

// Drain runs every pending call in posting order and returns how many ran.
func (q *Queue) Drain() int {
	n := 0
	for {
		batch := q.calls.Drain(0)
		if len(batch) == 0 {
			return n
		}
		for _, fn := range batch {
			fn()
		}
		n += len(batch)
	}
}

func (q *Queue) Len() int { return q.calls.Len() }

// Mesh is the pipeline-side handle of a TileMesh. Its methods only post; the backend mesh is
// created and used on the draining goroutine.
type Mesh struct {
	q    *Queue
	mesh TileMesh
}

// NewMesh posts the creation of a backend mesh through adapter.
func (q *Queue) NewMesh(adapter Adapter) *Mesh {
	m := &Mesh{q: q}
	q.post(func() { m.mesh = adapter.NewTileMesh() })
	return m
}

func (m *Mesh) SetTileData(tile *surface.Tile) {
	m.q.post(func() { m.mesh.SetTileData(tile, tile.Bounds) })
}

func (m *Mesh) SetVisible(visible bool) {
	m.q.post(func() { m.mesh.SetVisible(visible) })
}

func (m *Mesh) SetVisibleLod(face voxel.Face, visible bool) {
	m.q.post(func() { m.mesh.SetVisibleLod(face, visible) })
}

func (m *Mesh) Destroy() {
	m.q.post(func() { m.mesh.Destroy() })
}
