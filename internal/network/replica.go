package network

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"isoterrain/internal/container"
	"isoterrain/internal/logging"
	"isoterrain/internal/voxel"
)

// brackets older than this many cycles behind the newest applied one are abandoned.
const staleCycles = 1024

type bracket struct {
	count int // -1 until a lock or unlock frame arrived
	ended bool
	tiles map[voxel.TileID]voxel.TileState
}

// Replica applies received brackets to a local container. Each complete bracket becomes one
// SetTiles call; a tile is never overwritten by a bracket older than the one that last set it.
// Cycle order only holds within one publisher session: the first frame of a new session discards
// the bookkeeping of the previous one, and late frames of a retired session are dropped.
type Replica struct {
	logger *zap.SugaredLogger
	dst    *container.Container

	mu      sync.Mutex
	session uuid.UUID
	retired map[uuid.UUID]struct{}
	open    map[uint64]*bracket
	applied map[voxel.TileID]uint64
	newest  uint64
}

func NewReplica(dst *container.Container, logger *zap.SugaredLogger) *Replica {
	return &Replica{
		logger:  logging.Or(logger),
		dst:     dst,
		retired: make(map[uuid.UUID]struct{}),
		open:    make(map[uint64]*bracket),
		applied: make(map[voxel.TileID]uint64),
	}
}

// accept switches to session if it is new and reports whether frames of cycle still matter.
func (r *Replica) accept(session uuid.UUID, cycle uint64) bool {
	if session != r.session {
		if _, old := r.retired[session]; old {
			return false
		}
		r.logger.Infow("publisher session changed", "session", session, "previous", r.session, "abandoned", len(r.open))
		r.retired[r.session] = struct{}{}
		r.session = session
		r.open = make(map[uint64]*bracket)
		r.applied = make(map[voxel.TileID]uint64)
		r.newest = 0
	}
	return !r.done(cycle)
}

func (r *Replica) bracket(cycle uint64) *bracket {
	b, ok := r.open[cycle]
	if !ok {
		b = &bracket{count: -1, tiles: make(map[voxel.TileID]voxel.TileState)}
		r.open[cycle] = b
	}
	return b
}

// Handle applies one frame. It is safe for concurrent use.
func (r *Replica) Handle(env Envelope) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	switch env.Type {
	case MessageLockForEdit:
		var m LockForEdit
		if err := decodePayload(env, &m); err != nil {
			return err
		}
		if !r.accept(m.Session, m.Cycle) {
			return nil
		}
		r.bracket(m.Cycle).count = m.Count
		r.complete(m.Cycle)
	case MessageSetTile:
		var m SetTile
		if err := decodePayload(env, &m); err != nil {
			return err
		}
		if !r.accept(m.Session, m.Cycle) {
			return nil
		}
		state, err := m.State(r.dst.Size())
		if err != nil {
			return err
		}
		r.bracket(m.Cycle).tiles[m.ID()] = state
		r.complete(m.Cycle)
	case MessageRemoveTile:
		var m RemoveTile
		if err := decodePayload(env, &m); err != nil {
			return err
		}
		if !r.accept(m.Session, m.Cycle) {
			return nil
		}
		r.bracket(m.Cycle).tiles[m.ID()] = voxel.EmptyTile()
		r.complete(m.Cycle)
	case MessageUnlockForEdit:
		var m UnlockForEdit
		if err := decodePayload(env, &m); err != nil {
			return err
		}
		if !r.accept(m.Session, m.Cycle) {
			return nil
		}
		b := r.bracket(m.Cycle)
		b.count = m.Count
		b.ended = true
		r.complete(m.Cycle)
	default:
		return errors.Errorf("unexpected %s message", env.Type)
	}
	return nil
}

// done reports whether frames of cycle can be dropped.
func (r *Replica) done(cycle uint64) bool {
	_, open := r.open[cycle]
	return !open && cycle+staleCycles < r.newest
}

// complete applies the bracket of cycle once its unlock frame and every tile frame have arrived.
func (r *Replica) complete(cycle uint64) {
	b := r.open[cycle]
	if !b.ended || len(b.tiles) < b.count {
		return
	}
	delete(r.open, cycle)

	tiles := make(map[voxel.TileID]voxel.TileState, len(b.tiles))
	for id, state := range b.tiles {
		if r.applied[id] > cycle {
			continue
		}
		r.applied[id] = cycle
		tiles[id] = state
	}
	if len(tiles) > 0 {
		r.dst.SetTiles(tiles)
	}
	if cycle > r.newest {
		r.newest = cycle
	}
	for c := range r.open {
		if c+staleCycles < r.newest {
			r.logger.Debugw("abandoning incomplete bracket", "cycle", c)
			delete(r.open, c)
		}
	}
}

// Pending returns the number of brackets still waiting for frames.
func (r *Replica) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.open)
}

// Attach serves tile frames arriving on t.
func (r *Replica) Attach(t *UDPTransport) {
	handle := func(_ context.Context, addr *net.UDPAddr, env Envelope) {
		if err := r.Handle(env); err != nil {
			r.logger.Warnw("apply frame", "from", addr, "type", env.Type, "error", err)
		}
	}
	for _, msg := range []MessageType{MessageLockForEdit, MessageSetTile, MessageRemoveTile, MessageUnlockForEdit} {
		t.Register(msg, handle)
	}
}

// Announce sends hello to the publisher at addr now and then every interval until ctx is done.
func Announce(ctx context.Context, t Transport, addr string, hello Hello, interval time.Duration) error {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		if err := t.Send(addr, MessageHello, hello); err != nil {
			return errors.Wrapf(err, "announce to %s", addr)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
