package network

import (
	"context"
	"math"
	"net"
	"time"

	"github.com/golang/geo/r3"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"isoterrain/internal/container"
	"isoterrain/internal/dispatch"
	"isoterrain/internal/logging"
	"isoterrain/internal/octree"
	"isoterrain/internal/voxel"
)

// Receiver is a remote replica and the sphere of space it wants to mirror.
type Receiver struct {
	ID     uuid.UUID
	Addr   string
	Center r3.Vector
	Radius float64
}

type receiver struct {
	Receiver
	seen time.Time
}

// outgoing is one bracket waiting to be sent. A nil encoding marks a removed tile.
type outgoing struct {
	addr  string
	cycle uint64
	ids   []voxel.TileID
	tiles [][]byte
}

// Publisher mirrors the change cycles of a container to its receivers. It must subscribe before the
// container holds tiles; tiles present earlier are never announced. When a receiver moves, tiles
// that enter its interest are sent to it and tiles that leave are removed from it.
type Publisher struct {
	logger    *zap.SugaredLogger
	d         *dispatch.Dispatcher
	src       *container.Container
	transport Transport
	ttl       time.Duration
	session   uuid.UUID

	outbox *dispatch.Queue
	ready  chan struct{}

	// Master-only.
	tiles     *octree.Tree[voxel.TileID]
	receivers map[uuid.UUID]*receiver
	cycle     uint64
}

// NewPublisher subscribes to src. Receivers that stay silent for ttl are dropped; zero keeps them
// forever.
func NewPublisher(d *dispatch.Dispatcher, src *container.Container, transport Transport, ttl time.Duration, logger *zap.SugaredLogger) *Publisher {
	size := float64(src.Size())
	tiles, err := octree.New[voxel.TileID](r3.Vector{}, size*64, size)
	voxel.Invariant(err == nil, "publisher octree: %v", err)
	p := &Publisher{
		logger:    logging.Or(logger),
		d:         d,
		src:       src,
		transport: transport,
		ttl:       ttl,
		session:   uuid.New(),
		outbox:    dispatch.NewQueue(),
		ready:     make(chan struct{}, 1),
		tiles:     tiles,
		receivers: make(map[uuid.UUID]*receiver),
	}
	src.Subscribe(p.onContainer)
	return p
}

func (p *Publisher) center(id voxel.TileID) r3.Vector {
	size := float64(p.src.Size())
	return r3.Vector{X: float64(id.X) + 0.5, Y: float64(id.Y) + 0.5, Z: float64(id.Z) + 0.5}.Mul(size)
}

// covers reports whether the interest sphere of r reaches any voxel of tile id.
func (p *Publisher) covers(r Receiver, id voxel.TileID) bool {
	size := float64(p.src.Size())
	lo := r3.Vector{X: float64(id.X), Y: float64(id.Y), Z: float64(id.Z)}.Mul(size)
	d := r3.Vector{
		X: r.Center.X - math.Max(lo.X, math.Min(r.Center.X, lo.X+size)),
		Y: r.Center.Y - math.Max(lo.Y, math.Min(r.Center.Y, lo.Y+size)),
		Z: r.Center.Z - math.Max(lo.Z, math.Min(r.Center.Z, lo.Z+size)),
	}
	return d.Norm2() <= r.Radius*r.Radius
}

// covered lists the indexed tiles r covers.
func (p *Publisher) covered(r Receiver) map[voxel.TileID]struct{} {
	out := make(map[voxel.TileID]struct{})
	if r.Radius <= 0 {
		return out
	}
	reach := r.Radius + math.Sqrt(3)*float64(p.src.Size())/2
	p.tiles.QuerySphere(r.Center, reach, func(_ r3.Vector, id voxel.TileID) bool {
		if p.covers(r, id) {
			out[id] = struct{}{}
		}
		return true
	})
	return out
}

func (p *Publisher) enqueue(o outgoing) {
	p.outbox.Enqueue(func() { p.send(o) })
	select {
	case p.ready <- struct{}{}:
	default:
	}
}

// onContainer runs on the master with the container read-locked. Tiles are encoded before the lock
// is released; compression and sending happen in Run.
func (p *Publisher) onContainer(changes container.Changes) {
	defer p.src.UnlockRead()
	p.cycle++

	for id, change := range changes {
		if change.State.IsEmpty() {
			p.tiles.Remove(p.center(id), id)
		} else {
			p.tiles.Set(p.center(id), id)
		}
	}
	if len(p.receivers) == 0 {
		return
	}

	encoded := make(map[voxel.TileID][]byte, len(changes))
	for _, r := range p.receivers {
		o := outgoing{addr: r.Addr, cycle: p.cycle}
		for id, change := range changes {
			if !p.covers(r.Receiver, id) {
				continue
			}
			var blob []byte
			if !change.State.IsEmpty() {
				var ok bool
				if blob, ok = encoded[id]; !ok {
					blob = container.EncodeTile(change.State)
					encoded[id] = blob
				}
			}
			o.ids = append(o.ids, id)
			o.tiles = append(o.tiles, blob)
		}
		if len(o.ids) > 0 {
			p.enqueue(o)
		}
	}
}

// Announce registers or refreshes the receiver described by h. Tiles that enter its interest are
// sent as a snapshot bracket.
func (p *Publisher) Announce(ctx context.Context, h Hello, addr string) error {
	if h.Listen != "" {
		addr = h.Listen
	}
	next := Receiver{ID: h.ReceiverID, Addr: addr, Center: r3.Vector{X: h.X, Y: h.Y, Z: h.Z}, Radius: h.Radius}
	if err := p.src.LockRead(ctx); err != nil {
		return err
	}
	defer p.src.UnlockRead()
	return p.d.Do(ctx, func() { p.announce(next) })
}

func (p *Publisher) announce(next Receiver) {
	var before map[voxel.TileID]struct{}
	r, ok := p.receivers[next.ID]
	if ok {
		before = p.covered(r.Receiver)
		r.Receiver = next
	} else {
		r = &receiver{Receiver: next}
		p.receivers[next.ID] = r
		p.logger.Infow("receiver joined", "receiver", next.ID, "addr", next.Addr, "radius", next.Radius)
	}
	r.seen = time.Now()

	after := p.covered(next)
	p.cycle++
	o := outgoing{addr: next.Addr, cycle: p.cycle}
	for id := range after {
		if _, had := before[id]; had {
			continue
		}
		o.ids = append(o.ids, id)
		o.tiles = append(o.tiles, container.EncodeTile(p.src.Tile(id)))
	}
	for id := range before {
		if _, kept := after[id]; !kept {
			o.ids = append(o.ids, id)
			o.tiles = append(o.tiles, nil)
		}
	}
	if len(o.ids) > 0 {
		p.enqueue(o)
	}
}

// Session identifies this publisher's cycle numbering.
func (p *Publisher) Session() uuid.UUID { return p.session }

// Forget drops a receiver.
func (p *Publisher) Forget(id uuid.UUID) {
	p.d.Post(func() { delete(p.receivers, id) })
}

// Receivers returns the number of registered receivers.
func (p *Publisher) Receivers(ctx context.Context) (int, error) {
	var n int
	err := p.d.Do(ctx, func() { n = len(p.receivers) })
	return n, err
}

func (p *Publisher) expire(now time.Time) {
	for id, r := range p.receivers {
		if now.Sub(r.seen) > p.ttl {
			delete(p.receivers, id)
			p.logger.Infow("receiver expired", "receiver", id, "addr", r.Addr)
		}
	}
}

// Handle serves Hello messages from a transport.
func (p *Publisher) Handle(ctx context.Context, addr string, env Envelope) {
	var h Hello
	if err := decodePayload(env, &h); err != nil {
		p.logger.Warnw("bad hello", "from", addr, "error", err)
		return
	}
	if err := p.Announce(ctx, h, addr); err != nil && ctx.Err() == nil {
		p.logger.Warnw("announce receiver", "receiver", h.ReceiverID, "error", err)
	}
}

func (p *Publisher) send(o outgoing) {
	count := len(o.ids)
	if err := p.transport.Send(o.addr, MessageLockForEdit, LockForEdit{Session: p.session, Cycle: o.cycle, Count: count}); err != nil {
		p.logger.Warnw("send lock", "addr", o.addr, "cycle", o.cycle, "error", err)
		return
	}
	for i, id := range o.ids {
		var err error
		if o.tiles[i] == nil {
			err = p.transport.Send(o.addr, MessageRemoveTile, RemoveTile{Session: p.session, Cycle: o.cycle, X: id.X, Y: id.Y, Z: id.Z})
		} else {
			var frame SetTile
			if frame, err = NewSetTile(o.cycle, id, o.tiles[i]); err == nil {
				frame.Session = p.session
				err = p.transport.Send(o.addr, MessageSetTile, frame)
			}
		}
		if err != nil {
			p.logger.Warnw("send tile", "addr", o.addr, "tile", id, "cycle", o.cycle, "error", err)
		}
	}
	if err := p.transport.Send(o.addr, MessageUnlockForEdit, UnlockForEdit{Session: p.session, Cycle: o.cycle, Count: count}); err != nil {
		p.logger.Warnw("send unlock", "addr", o.addr, "cycle", o.cycle, "error", err)
	}
}

// Flush sends every queued bracket on the calling goroutine.
func (p *Publisher) Flush() {
	for {
		batch := p.outbox.Drain(0)
		if len(batch) == 0 {
			return
		}
		for _, fn := range batch {
			fn()
		}
	}
}

// Run sends brackets as they are queued and expires silent receivers until ctx is done.
func (p *Publisher) Run(ctx context.Context) error {
	var tick <-chan time.Time
	if p.ttl > 0 {
		ticker := time.NewTicker(p.ttl / 2)
		defer ticker.Stop()
		tick = ticker.C
	}
	for {
		p.Flush()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-p.ready:
		case now := <-tick:
			p.d.Post(func() { p.expire(now) })
		}
	}
}

// Attach serves Hello messages arriving on t.
func (p *Publisher) Attach(t *UDPTransport) {
	t.Register(MessageHello, func(ctx context.Context, addr *net.UDPAddr, env Envelope) {
		p.Handle(ctx, addr.String(), env)
	})
}
