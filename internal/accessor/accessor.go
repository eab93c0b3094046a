// Package accessor maintains, per level of detail, the halo-padded sample caches that surface
// extraction reads. It follows the container: every container change-list is mapped onto the
// accessor tiles whose samples it touches, those tiles are resampled on the worker pool, and the
// result is published downstream as the accessor's own change-list.
package accessor

import (
	"context"

	"go.uber.org/zap"

	"isoterrain/internal/container"
	"isoterrain/internal/dispatch"
	"isoterrain/internal/logging"
	"isoterrain/internal/metrics"
	"isoterrain/internal/voxel"
)

// Changes maps accessor tile ids to their new contents. A nil tile was removed because it became
// homogeneous. Valid only while the subscriber holds its read lock.
type Changes map[voxel.TileID]*Tile

// Accessor is the sample cache of one level of detail.
type Accessor struct {
	logger *zap.SugaredLogger
	d      *dispatch.Dispatcher
	pub    *dispatch.Publication[Changes]
	src    *container.Container
	lod    int
	seams  bool

	// Written only inside a write phase. Homogeneous tiles are not stored.
	tiles map[voxel.TileID]*Tile

	// Master-only: container notifications not yet committed.
	busy int
}

// New creates the accessor for lod and subscribes it to src. Face planes are sampled when seams is
// set and lod > 0.
func New(d *dispatch.Dispatcher, src *container.Container, lod int, seams bool, logger *zap.SugaredLogger) *Accessor {
	voxel.Invariant(lod >= 0, "negative level of detail %d", lod)
	a := &Accessor{
		logger: logging.Or(logger),
		d:      d,
		pub:    dispatch.NewPublication[Changes](d),
		src:    src,
		lod:    lod,
		seams:  seams,
		tiles:  make(map[voxel.TileID]*Tile),
	}
	src.Subscribe(a.onContainer)
	return a
}

func (a *Accessor) Lod() int { return a.lod }

// Size is the tile edge length in samples.
func (a *Accessor) Size() int { return a.src.Size() }

func (a *Accessor) Subscribe(fn func(Changes)) { a.pub.Subscribe(fn) }

func (a *Accessor) UnlockRead() { a.pub.UnlockRead() }

func (a *Accessor) LockRead(ctx context.Context) error { return a.pub.LockRead(ctx) }

// Tile returns the cached tile id, or nil when it is homogeneous. The caller must hold a read lock.
func (a *Accessor) Tile(id voxel.TileID) *Tile { return a.tiles[id] }

// ForEach visits every cached tile under the same rules as Tile.
func (a *Accessor) ForEach(fn func(t *Tile) bool) {
	for _, t := range a.tiles {
		if !fn(t) {
			return
		}
	}
}

// Idle reports whether no container change is pending and nobody reads the accessor. Master-only.
func (a *Accessor) Idle() bool {
	return a.busy == 0 && a.pub.Gate().Idle()
}

// Flush waits until the accessor has caught up with its container.
func (a *Accessor) Flush(ctx context.Context) error {
	return a.d.Await(ctx, func() bool { return a.src.Idle() && a.Idle() })
}

// affected maps a container change-list onto the accessor tiles that read any changed sample.
func (a *Accessor) affected(changes container.Changes) map[voxel.TileID]struct{} {
	size := a.src.Size()
	out := make(map[voxel.TileID]struct{})
	for id, change := range changes {
		edited := change.Edited
		if !edited.Valid() {
			edited = voxel.TileBox(voxel.TileID{}, size)
		}
		Affected(edited.Translate(id.Mul(size)), size, a.lod).Each(func(t voxel.TileID) bool {
			out[t] = struct{}{}
			return true
		})
	}
	return out
}

// onContainer runs on the master with the container read-locked. The lock is held until the
// resampled tiles are committed.
func (a *Accessor) onContainer(changes container.Changes) {
	ids := a.affected(changes)
	a.busy++
	a.pub.Gate().Write(func(guard dispatch.WriteGuard) {
		a.resample(guard, ids)
	})
}

type resampled struct {
	id   voxel.TileID
	tile *Tile
}

func (a *Accessor) resample(guard dispatch.WriteGuard, ids map[voxel.TileID]struct{}) {
	results := make([]resampled, 0, len(ids))
	batch := dispatch.NewBatch(len(ids), func() {
		a.commit(guard, results)
	})
	for id := range ids {
		dispatch.Submit(a.d, func() resampled {
			return resampled{id: id, tile: Resample(a.src, id, a.lod, a.seams)}
		}, func(r resampled) {
			results = append(results, r)
			batch.Done()
		})
	}
}

func (a *Accessor) commit(guard dispatch.WriteGuard, results []resampled) {
	changes := make(Changes, len(results))
	for _, r := range results {
		_, had := a.tiles[r.id]
		if r.tile.Homogeneous() {
			if had {
				delete(a.tiles, r.id)
				changes[r.id] = nil
			}
			continue
		}
		a.tiles[r.id] = r.tile
		changes[r.id] = r.tile
	}
	a.src.UnlockRead()
	a.busy--
	metrics.TilesRecomputed("accessor", a.lod, len(results))

	if len(changes) == 0 {
		a.pub.Gate().Release(guard)
		return
	}
	metrics.ChangeList("accessor", len(changes))
	a.logger.Debugw("publishing change-list", "lod", a.lod, "tiles", len(changes), "resampled", len(results))
	a.pub.Publish(guard, changes)
}
