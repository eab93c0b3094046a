package container

import (
	"isoterrain/internal/dispatch"
	"isoterrain/internal/metrics"
	"isoterrain/internal/shape"
	"isoterrain/internal/voxel"
)

type opKind uint8

const (
	opEdit opKind = iota
	opSet
	opResize
	opReplace
)

type op struct {
	kind  opKind
	req   shape.Request
	id    voxel.TileID
	state voxel.TileState
	box   voxel.Box
	tiles map[voxel.TileID]voxel.TileState
}

// cycle is the state of one write phase. Tiles touched by edits keep their edit session open in
// open until the phase ends; whole-tile replacements wait in staged.
type cycle struct {
	guard  dispatch.WriteGuard
	open   map[voxel.TileID]*voxel.TileStore
	staged map[voxel.TileID]voxel.TileState
	edited map[voxel.TileID]voxel.Box
	seq    map[voxel.TileID]uint64
}

func (cy *cycle) markEdited(id voxel.TileID, box voxel.Box, seq uint64) {
	cy.seq[id] = seq
	if prev, ok := cy.edited[id]; ok {
		box = prev.Union(box)
	}
	cy.edited[id] = box
}

type editResult struct {
	id      voxel.TileID
	store   *voxel.TileStore
	changed bool
	seq     uint64
}

func (c *Container) enqueue(ops ...op) {
	c.d.Post(func() { c.push(ops...) })
}

// push appends ops to the queue and requests a write phase if none is running. Master-only.
func (c *Container) push(ops ...op) {
	c.pending = append(c.pending, ops...)
	if c.cycle == nil && !c.requested {
		c.requested = true
		c.pub.Gate().Write(c.begin)
	}
}

func (c *Container) begin(guard dispatch.WriteGuard) {
	c.requested = false
	c.cycle = &cycle{
		guard:  guard,
		open:   make(map[voxel.TileID]*voxel.TileStore),
		staged: make(map[voxel.TileID]voxel.TileState),
		edited: make(map[voxel.TileID]voxel.Box),
		seq:    make(map[voxel.TileID]uint64),
	}
	c.next()
}

// next applies queued operations until an edit goes asynchronous or the queue is empty.
func (c *Container) next() {
	for len(c.pending) > 0 {
		o := c.pending[0]
		c.pending = c.pending[1:]
		c.seq++
		switch o.kind {
		case opEdit:
			if c.dispatchEdit(o.req) {
				return
			}
		case opSet:
			c.applySet(o.id, o.state)
		case opResize:
			c.applyResize(o.box)
		case opReplace:
			c.applyReplace(o.box, o.tiles)
		}
	}
	c.finish()
}

// current is the state of id as seen by the running cycle.
func (c *Container) current(id voxel.TileID) voxel.TileState {
	if store, ok := c.cycle.open[id]; ok {
		return voxel.PartialTile(store)
	}
	if state, ok := c.cycle.staged[id]; ok {
		return state
	}
	return c.tiles[id]
}

// dispatchEdit fans req out to one worker task per affected tile. It reports false when no tile
// is affected and the edit completed synchronously.
func (c *Container) dispatchEdit(req shape.Request) bool {
	ids := voxel.TilesOverlapping(shape.Bounds(req), c.size)
	inside := ids.Intersect(c.bounds)
	if ids.Valid() && inside != ids {
		c.logger.Debugw("edit reaches outside the container", "edit", req, "tiles", ids, "bounds", c.bounds)
	}
	if !inside.Valid() {
		metrics.EditApplied()
		return false
	}

	seq := c.seq
	batch := dispatch.NewBatch(inside.Count(), func() {
		metrics.EditApplied()
		c.next()
	})
	inside.Each(func(id voxel.TileID) bool {
		source := c.current(id)
		dispatch.Submit(c.d, func() editResult {
			store := source.Store()
			if store == nil {
				fill := voxel.SampleMin
				if source.Kind() == voxel.Full {
					fill = voxel.SampleMax
				}
				store = voxel.NewTileStore(c.size, fill)
			}
			if !store.Editing() {
				store.StartEdit()
			}
			changed := shape.Fill(store, id, req)
			return editResult{id: id, store: store, changed: changed, seq: seq}
		}, func(r editResult) {
			c.completeEdit(r)
			batch.Done()
		})
		return true
	})
	return true
}

func (c *Container) completeEdit(r editResult) {
	if _, open := c.cycle.open[r.id]; open {
		if r.changed {
			c.cycle.seq[r.id] = r.seq
		}
		return
	}
	if !r.changed {
		r.store.EndEdit()
		return
	}
	c.cycle.open[r.id] = r.store
	c.cycle.seq[r.id] = r.seq
	delete(c.cycle.staged, r.id)
}

func (c *Container) fullBox() voxel.Box {
	return voxel.TileBox(voxel.TileID{}, c.size)
}

func (c *Container) applySet(id voxel.TileID, state voxel.TileState) {
	if !c.bounds.Contains(id) {
		c.logger.Debugw("dropping tile outside the container", "tile", id, "bounds", c.bounds)
		return
	}
	if store := state.Store(); store != nil {
		voxel.Invariant(store.Size() == c.size, "tile %v has size %d, container uses %d", id, store.Size(), c.size)
		voxel.Invariant(!store.Editing(), "tile %v handed over inside an edit session", id)
		state = store.State()
	}
	if state.Same(c.current(id)) {
		return
	}
	if store, ok := c.cycle.open[id]; ok {
		store.EndEdit()
		delete(c.cycle.open, id)
	}
	c.cycle.staged[id] = state
	c.cycle.markEdited(id, c.fullBox(), c.seq)
}

func (c *Container) applyResize(bounds voxel.Box) {
	c.logger.Debugw("resizing container", "from", c.bounds, "to", bounds)
	c.bounds = bounds
	drop := func(id voxel.TileID) {
		if bounds.Contains(id) || c.current(id).IsEmpty() {
			return
		}
		if store, ok := c.cycle.open[id]; ok {
			store.EndEdit()
			delete(c.cycle.open, id)
		}
		c.cycle.staged[id] = voxel.EmptyTile()
		c.cycle.markEdited(id, c.fullBox(), c.seq)
	}
	for id := range c.tiles {
		drop(id)
	}
	for id := range c.cycle.open {
		drop(id)
	}
	for id := range c.cycle.staged {
		drop(id)
	}
}

func (c *Container) applyReplace(bounds voxel.Box, tiles map[voxel.TileID]voxel.TileState) {
	c.applyResize(bounds)
	var gone []voxel.TileID
	collect := func(id voxel.TileID) {
		if !bounds.Contains(id) {
			return
		}
		if _, keep := tiles[id]; !keep {
			gone = append(gone, id)
		}
	}
	for id := range c.tiles {
		collect(id)
	}
	for id := range c.cycle.open {
		collect(id)
	}
	for id := range c.cycle.staged {
		collect(id)
	}
	for _, id := range gone {
		c.applySet(id, voxel.EmptyTile())
	}
	for id, state := range tiles {
		c.applySet(id, state)
	}
}

// finish closes every edit session, commits the cycle and publishes its change-list.
func (c *Container) finish() {
	cy := c.cycle
	c.cycle = nil

	for id, store := range cy.open {
		cy.markEdited(id, store.EndEdit(), cy.seq[id])
		cy.staged[id] = store.State()
	}

	changes := make(Changes, len(cy.staged))
	for id, state := range cy.staged {
		prev := c.tiles[id]
		if state.IsEmpty() {
			delete(c.tiles, id)
		} else {
			c.tiles[id] = state
		}
		if state.Kind() != voxel.Partial && prev.Same(state) {
			continue
		}
		changes[id] = Change{State: state, Edited: cy.edited[id], Seq: cy.seq[id]}
	}

	if len(changes) == 0 {
		c.pub.Gate().Release(cy.guard)
		return
	}
	metrics.ChangeList("container", len(changes))
	c.logger.Debugw("publishing change-list", "tiles", len(changes))
	c.pub.Publish(cy.guard, changes)
}
