// Package container implements the sparse, editable tile map at the head of the pipeline. Edits are
// queued and applied one at a time by the dispatcher's master; every change cycle is published to
// subscribers as a change-list while the container is read-locked.
package container

import (
	"context"

	"go.uber.org/zap"

	"isoterrain/internal/dispatch"
	"isoterrain/internal/logging"
	"isoterrain/internal/shape"
	"isoterrain/internal/voxel"
)

// Change is one entry of a change-list. An Empty state means the tile was removed. Edited is the
// box of changed samples in tile-local coordinates; Seq numbers the last queued operation that
// changed the tile, so tiles of earlier edits carry smaller values.
type Change struct {
	State  voxel.TileState
	Edited voxel.Box
	Seq    uint64
}

// Changes maps tile ids to their change in one cycle. It is only valid while the receiving
// subscriber holds its read lock.
type Changes map[voxel.TileID]Change

// Container maps tile ids to tile states inside a resizable box of tile ids. Ids outside the box
// read as Empty and writes to them are dropped.
type Container struct {
	logger *zap.SugaredLogger
	d      *dispatch.Dispatcher
	pub    *dispatch.Publication[Changes]
	size   int

	// Written only inside a write phase; readable by read-lock holders.
	bounds voxel.Box
	tiles  map[voxel.TileID]voxel.TileState

	// Master-only.
	pending   []op
	requested bool
	cycle     *cycle
	seq       uint64
}

// New creates an empty container of tiles with edge length size, accepting tile ids inside bounds.
func New(d *dispatch.Dispatcher, size int, bounds voxel.Box, logger *zap.SugaredLogger) *Container {
	voxel.Invariant(size > 0, "tile size %d must be positive", size)
	return &Container{
		logger: logging.Or(logger),
		d:      d,
		pub:    dispatch.NewPublication[Changes](d),
		size:   size,
		bounds: bounds,
		tiles:  make(map[voxel.TileID]voxel.TileState),
	}
}

// Size returns the tile edge length in voxels.
func (c *Container) Size() int { return c.size }

// Edit queues req and returns immediately. Edits apply in submission order.
func (c *Container) Edit(req shape.Request) {
	c.enqueue(op{kind: opEdit, req: req})
}

// SetTile replaces one tile out of band. A Partial state hands its store over to the container.
func (c *Container) SetTile(id voxel.TileID, state voxel.TileState) {
	c.enqueue(op{kind: opSet, id: id, state: state})
}

// SetTiles replaces several tiles within a single change cycle.
func (c *Container) SetTiles(tiles map[voxel.TileID]voxel.TileState) {
	ops := make([]op, 0, len(tiles))
	for id, state := range tiles {
		ops = append(ops, op{kind: opSet, id: id, state: state})
	}
	c.enqueue(ops...)
}

// Resize changes the box of accepted tile ids. Tiles falling outside are removed.
func (c *Container) Resize(bounds voxel.Box) {
	c.enqueue(op{kind: opResize, box: bounds})
}

// Subscribe registers fn for every published change-list. fn runs on the master with the container
// read-locked and must arrange for exactly one UnlockRead call.
func (c *Container) Subscribe(fn func(Changes)) {
	c.pub.Subscribe(fn)
}

// UnlockRead releases a read lock taken by a notification or by LockRead.
func (c *Container) UnlockRead() {
	c.pub.UnlockRead()
}

// LockRead blocks until the caller holds a read lock.
func (c *Container) LockRead(ctx context.Context) error {
	return c.pub.LockRead(ctx)
}

// Tile returns the state of id. The caller must hold a read lock or run on the master outside a
// write phase.
func (c *Container) Tile(id voxel.TileID) voxel.TileState {
	return c.tiles[id]
}

// Bounds returns the box of accepted tile ids, under the same rules as Tile.
func (c *Container) Bounds() voxel.Box {
	return c.bounds
}

// ForEach visits every non-empty tile, under the same rules as Tile.
func (c *Container) ForEach(fn func(id voxel.TileID, state voxel.TileState) bool) {
	for id, state := range c.tiles {
		if !fn(id, state) {
			return
		}
	}
}

// Idle reports whether no edit is queued or applying and no subscriber still reads. Master-only.
func (c *Container) Idle() bool {
	return len(c.pending) == 0 && !c.requested && c.cycle == nil && c.pub.Gate().Idle()
}

// Flush waits until every queued edit has been applied and published and all subscribers have
// released the container.
func (c *Container) Flush(ctx context.Context) error {
	return c.d.Await(ctx, c.Idle)
}
