package surface

import (
	"context"

	"go.uber.org/zap"

	"isoterrain/internal/accessor"
	"isoterrain/internal/dispatch"
	"isoterrain/internal/logging"
	"isoterrain/internal/metrics"
	"isoterrain/internal/voxel"
)

// Changes maps tile ids to their new surface; nil means the tile no longer has one.
type Changes map[voxel.TileID]*Tile

// Extractor keeps the surfaces of one level of detail in step with its accessor.
type Extractor struct {
	logger *zap.SugaredLogger
	d      *dispatch.Dispatcher
	pub    *dispatch.Publication[Changes]
	src    *accessor.Accessor

	tiles map[voxel.TileID]*Tile
	busy  int
}

func NewExtractor(d *dispatch.Dispatcher, src *accessor.Accessor, logger *zap.SugaredLogger) *Extractor {
	e := &Extractor{
		logger: logging.Or(logger),
		d:      d,
		pub:    dispatch.NewPublication[Changes](d),
		src:    src,
		tiles:  make(map[voxel.TileID]*Tile),
	}
	src.Subscribe(e.onAccessor)
	return e
}

func (e *Extractor) Lod() int { return e.src.Lod() }

func (e *Extractor) Subscribe(fn func(Changes)) { e.pub.Subscribe(fn) }

func (e *Extractor) UnlockRead() { e.pub.UnlockRead() }

func (e *Extractor) LockRead(ctx context.Context) error { return e.pub.LockRead(ctx) }

// Tile returns the surface of id, or nil. The caller must hold a read lock.
func (e *Extractor) Tile(id voxel.TileID) *Tile { return e.tiles[id] }

// ForEach visits every surface tile under the same rules as Tile.
func (e *Extractor) ForEach(fn func(t *Tile) bool) {
	for _, t := range e.tiles {
		if !fn(t) {
			return
		}
	}
}

// Idle is master-only.
func (e *Extractor) Idle() bool {
	return e.busy == 0 && e.pub.Gate().Idle()
}

func (e *Extractor) onAccessor(changes accessor.Changes) {
	e.busy++
	e.pub.Gate().Write(func(guard dispatch.WriteGuard) {
		e.extract(guard, changes)
	})
}

type extracted struct {
	id   voxel.TileID
	tile *Tile
}

func (e *Extractor) extract(guard dispatch.WriteGuard, changes accessor.Changes) {
	results := make([]extracted, 0, len(changes))
	var pending []*accessor.Tile
	for id, src := range changes {
		if src == nil {
			results = append(results, extracted{id: id})
			continue
		}
		pending = append(pending, src)
	}
	batch := dispatch.NewBatch(len(pending), func() {
		e.commit(guard, results)
	})
	for _, src := range pending {
		dispatch.Submit(e.d, func() extracted {
			return extracted{id: src.ID, tile: Extract(src)}
		}, func(r extracted) {
			results = append(results, r)
			batch.Done()
		})
	}
}

func (e *Extractor) commit(guard dispatch.WriteGuard, results []extracted) {
	lod := e.src.Lod()
	changes := make(Changes, len(results))
	delta := 0
	for _, r := range results {
		prev, had := e.tiles[r.id]
		if had {
			delta -= prev.Triangles()
		}
		if r.tile == nil {
			if had {
				delete(e.tiles, r.id)
				changes[r.id] = nil
			}
			continue
		}
		delta += r.tile.Triangles()
		e.tiles[r.id] = r.tile
		changes[r.id] = r.tile
	}
	e.src.UnlockRead()
	e.busy--
	metrics.TilesRecomputed("surface", lod, len(results))
	metrics.SurfaceTriangles(lod, delta)

	if len(changes) == 0 {
		e.pub.Gate().Release(guard)
		return
	}
	metrics.ChangeList("surface", len(changes))
	e.logger.Debugw("publishing surfaces", "lod", lod, "tiles", len(changes))
	e.pub.Publish(guard, changes)
}
