// Package terrain assembles the per-level pipeline behind a container: for every level of detail
// an accessor follows the container, an extractor follows the accessor and a visibility manager
// turns the extracted surfaces into render calls for the registered cameras.
package terrain

import (
	"context"
	"fmt"

	"github.com/golang/geo/r3"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"isoterrain/internal/accessor"
	"isoterrain/internal/config"
	"isoterrain/internal/container"
	"isoterrain/internal/dispatch"
	"isoterrain/internal/logging"
	"isoterrain/internal/render"
	"isoterrain/internal/surface"
	"isoterrain/internal/visibility"
	"isoterrain/internal/voxel"
)

// Level is one level of detail: voxels of edge 2^Lod.
type Level struct {
	Lod        int
	Accessor   *accessor.Accessor
	Surface    *surface.Extractor
	Visibility *visibility.Manager
}

// Terrain owns the levels built over one container. Camera calls may come from any goroutine; they
// are applied on the dispatcher's master in call order.
type Terrain struct {
	logger *zap.SugaredLogger
	d      *dispatch.Dispatcher
	src    *container.Container
	queue  *render.Queue
	levels []*Level

	// Master-only.
	closed bool
}

// New builds cfg.Levels levels over src. Render calls for adapter are posted to the returned
// terrain's Queue.
func New(cfg config.TerrainConfig, src *container.Container, adapter render.Adapter, d *dispatch.Dispatcher, logger *zap.SugaredLogger) *Terrain {
	voxel.Invariant(cfg.Levels > 0, "terrain needs at least one level, got %d", cfg.Levels)
	voxel.Invariant(len(cfg.FarRadius) == cfg.Levels, "terrain has %d levels but %d far radii", cfg.Levels, len(cfg.FarRadius))
	logger = logging.Or(logger)
	t := &Terrain{
		logger: logger,
		d:      d,
		src:    src,
		queue:  render.NewQueue(),
	}
	for k := 0; k < cfg.Levels; k++ {
		name := fmt.Sprintf("lod%d", k)
		acc := accessor.New(d, src, k, cfg.Seams, logger.Named("accessor."+name))
		ext := surface.NewExtractor(d, acc, logger.Named("surface."+name))
		vis := visibility.New(k, src.Size(), cfg.Near(k), cfg.FarRadius[k], t.queue, adapter, logger.Named("visibility."+name))
		ext.Subscribe(func(changes surface.Changes) {
			if !t.closed {
				vis.Apply(changes)
			}
			ext.UnlockRead()
		})
		t.levels = append(t.levels, &Level{Lod: k, Accessor: acc, Surface: ext, Visibility: vis})
	}
	logger.Infow("terrain ready", "levels", cfg.Levels, "seams", cfg.Seams, "tileSize", src.Size())
	return t
}

// Queue carries the render calls of every level.
func (t *Terrain) Queue() *render.Queue { return t.queue }

// Container returns the container the levels follow.
func (t *Terrain) Container() *container.Container { return t.src }

// Levels returns the levels, finest first. The pipelines they hold follow their own locking rules.
func (t *Terrain) Levels() []*Level { return t.levels }

func (t *Terrain) each(fn func(m *visibility.Manager)) {
	t.d.Post(func() {
		if t.closed {
			return
		}
		for _, l := range t.levels {
			fn(l.Visibility)
		}
	})
}

// AddCamera registers a camera at pos on every level.
func (t *Terrain) AddCamera(id uuid.UUID, pos r3.Vector) {
	t.each(func(m *visibility.Manager) { m.AddCamera(id, pos) })
}

// MoveCamera updates the position of a registered camera.
func (t *Terrain) MoveCamera(id uuid.UUID, pos r3.Vector) {
	t.each(func(m *visibility.Manager) { m.MoveCamera(id, pos) })
}

// RemoveCamera hides everything the camera alone was seeing.
func (t *Terrain) RemoveCamera(id uuid.UUID) {
	t.each(func(m *visibility.Manager) { m.RemoveCamera(id) })
}

// Idle reports whether the container and every level have settled. Master-only.
func (t *Terrain) Idle() bool {
	if !t.src.Idle() {
		return false
	}
	for _, l := range t.levels {
		if !l.Accessor.Idle() || !l.Surface.Idle() {
			return false
		}
	}
	return true
}

// Flush waits until every queued edit has reached the visibility managers. Render calls may still
// be waiting in the queue.
func (t *Terrain) Flush(ctx context.Context) error {
	return t.d.Await(ctx, t.Idle)
}

// LevelStats summarizes one level.
type LevelStats struct {
	Lod       int
	Samples   int // cached accessor tiles
	Surfaces  int
	Triangles int
	Visible   int
}

// Stats collects per-level counts on the master.
func (t *Terrain) Stats(ctx context.Context) ([]LevelStats, error) {
	var stats []LevelStats
	err := t.d.Do(ctx, func() {
		for _, l := range t.levels {
			s := LevelStats{Lod: l.Lod, Visible: l.Visibility.Shown()}
			l.Accessor.ForEach(func(*accessor.Tile) bool {
				s.Samples++
				return true
			})
			l.Surface.ForEach(func(tile *surface.Tile) bool {
				s.Surfaces++
				s.Triangles += tile.Triangles()
				return true
			})
			stats = append(stats, s)
		}
	})
	return stats, err
}

// Close drains the pipeline, then destroys every mesh and drops every camera. Later camera calls and
// surface changes are ignored. The dispatcher is left running.
func (t *Terrain) Close(ctx context.Context) error {
	if err := t.Flush(ctx); err != nil {
		return err
	}
	return t.d.Do(ctx, func() {
		if t.closed {
			return
		}
		t.closed = true
		for _, l := range t.levels {
			l.Visibility.Reset()
		}
		t.logger.Debugw("terrain closed")
	})
}
