package network

import (
	"bytes"
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap/zaptest"
	"go.viam.com/test"

	"isoterrain/internal/container"
	"isoterrain/internal/dispatch"
	"isoterrain/internal/shape"
	"isoterrain/internal/voxel"
)

// loopback records every message as the decoded envelope a datagram would carry.
type loopback struct {
	mu     sync.Mutex
	seq    uint64
	frames []Envelope
}

func (l *loopback) Send(addr string, msg MessageType, payload any) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.seq++
	env, err := NewEnvelope(msg, l.seq, payload)
	if err != nil {
		return err
	}
	data, err := Encode(env)
	if err != nil {
		return err
	}
	decoded, err := Decode(data)
	if err != nil {
		return err
	}
	l.frames = append(l.frames, decoded)
	return nil
}

func (l *loopback) take() []Envelope {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := l.frames
	l.frames = nil
	return out
}

func partialTile(t *testing.T) voxel.TileState {
	t.Helper()
	store := voxel.NewTileStore(8, voxel.SampleMin)
	store.StartEdit()
	test.That(t, shape.Fill(store, voxel.TileID{}, shape.At(shape.Sphere{Radius: 3}, 4, 4, 4)), test.ShouldBeTrue)
	store.EndEdit()
	state := store.State()
	test.That(t, state.Kind(), test.ShouldEqual, voxel.Partial)
	return state
}

func TestSetTileRoundTrip(t *testing.T) {
	state := partialTile(t)
	encoded := container.EncodeTile(state)
	frame, err := NewSetTile(3, voxel.TileID{X: -1, Y: 2, Z: 0}, encoded)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, len(frame.Data), test.ShouldBeLessThan, len(encoded))

	got, err := frame.State(8)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, bytes.Equal(container.EncodeTile(got), encoded), test.ShouldBeTrue)
	test.That(t, frame.ID(), test.ShouldResemble, voxel.TileID{X: -1, Y: 2, Z: 0})

	empty, err := NewSetTile(4, voxel.TileID{}, container.EncodeTile(voxel.EmptyTile()))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, empty.Data, test.ShouldBeEmpty)
	got, err = empty.State(8)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, got.IsEmpty(), test.ShouldBeTrue)

	full, err := NewSetTile(5, voxel.TileID{}, container.EncodeTile(voxel.FullTile()))
	test.That(t, err, test.ShouldBeNil)
	got, err = full.State(8)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, got.Kind(), test.ShouldEqual, voxel.Full)

	frame.Data = []byte("not zstd")
	_, err = frame.State(8)
	test.That(t, err, test.ShouldNotBeNil)

	// A payload for another tile size is rejected.
	frame, err = NewSetTile(3, voxel.TileID{}, encoded)
	test.That(t, err, test.ShouldBeNil)
	_, err = frame.State(6)
	test.That(t, err, test.ShouldNotBeNil)
}

type pair struct {
	d      *dispatch.Dispatcher
	src    *container.Container
	dst    *container.Container
	pub    *Publisher
	link   *loopback
	mirror *Replica
}

func newPair(t *testing.T) *pair {
	t.Helper()
	logger := zaptest.NewLogger(t).Sugar()
	d := dispatch.New(4, logger)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		test.That(t, d.Close(ctx), test.ShouldBeNil)
	})
	bounds := voxel.Box{Min: voxel.Vec3i{X: -2, Y: -2, Z: -2}, Max: voxel.Vec3i{X: 2, Y: 2, Z: 2}}
	p := &pair{
		d:    d,
		src:  container.New(d, 20, bounds, logger),
		dst:  container.New(d, 20, bounds, logger),
		link: &loopback{},
	}
	p.pub = NewPublisher(d, p.src, p.link, 0, logger)
	p.mirror = NewReplica(p.dst, logger)
	return p
}

// sync flushes the source, delivers every frame to the replica and flushes the destination.
func (p *pair) sync(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	test.That(t, p.src.Flush(ctx), test.ShouldBeNil)
	p.pub.Flush()
	for _, env := range p.link.take() {
		test.That(t, p.mirror.Handle(env), test.ShouldBeNil)
	}
	test.That(t, p.dst.Flush(ctx), test.ShouldBeNil)
}

func (p *pair) same(t *testing.T, id voxel.TileID) bool {
	t.Helper()
	ctx := context.Background()
	test.That(t, p.src.LockRead(ctx), test.ShouldBeNil)
	defer p.src.UnlockRead()
	test.That(t, p.dst.LockRead(ctx), test.ShouldBeNil)
	defer p.dst.UnlockRead()
	return bytes.Equal(container.EncodeTile(p.src.Tile(id)), container.EncodeTile(p.dst.Tile(id)))
}

func (p *pair) dstEmpty(t *testing.T, id voxel.TileID) bool {
	t.Helper()
	ctx := context.Background()
	test.That(t, p.dst.LockRead(ctx), test.ShouldBeNil)
	defer p.dst.UnlockRead()
	return p.dst.Tile(id).IsEmpty()
}

func TestPublisherMirrorsInterest(t *testing.T) {
	p := newPair(t)
	ctx := context.Background()
	receiver := uuid.New()
	test.That(t, p.pub.Announce(ctx, Hello{ReceiverID: receiver, X: 10, Y: 10, Z: 10, Radius: 20}, "replica:1"), test.ShouldBeNil)
	n, err := p.pub.Receivers(ctx)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, n, test.ShouldEqual, 1)

	near := voxel.TileID{}
	far := voxel.TileID{X: 2, Y: 2, Z: 2}
	p.src.Edit(shape.At(shape.Sphere{Radius: 5}, 10, 10, 10))
	p.src.Edit(shape.At(shape.Sphere{Radius: 5}, 50, 50, 50))
	p.sync(t)
	test.That(t, p.same(t, near), test.ShouldBeTrue)
	test.That(t, p.dstEmpty(t, near), test.ShouldBeFalse)
	test.That(t, p.dstEmpty(t, far), test.ShouldBeTrue)
	test.That(t, p.mirror.Pending(), test.ShouldEqual, 0)

	// Moving the interest over the far tile sends it as a snapshot, and the tile left behind is
	// removed from the replica.
	test.That(t, p.pub.Announce(ctx, Hello{ReceiverID: receiver, X: 50, Y: 50, Z: 50, Radius: 20}, "replica:1"), test.ShouldBeNil)
	p.sync(t)
	test.That(t, p.same(t, far), test.ShouldBeTrue)
	test.That(t, p.dstEmpty(t, far), test.ShouldBeFalse)
	test.That(t, p.dstEmpty(t, near), test.ShouldBeTrue)

	// Removals travel as RemoveTile frames.
	req := shape.At(shape.Sphere{Radius: 7}, 50, 50, 50)
	req.Op = shape.Remove
	p.src.Edit(req)
	p.sync(t)
	test.That(t, p.dstEmpty(t, far), test.ShouldBeTrue)

	// A forgotten receiver gets nothing more.
	p.pub.Forget(receiver)
	p.src.Edit(shape.At(shape.Sphere{Radius: 5}, 50, 50, 50))
	test.That(t, p.src.Flush(ctx), test.ShouldBeNil)
	p.pub.Flush()
	test.That(t, p.link.take(), test.ShouldBeEmpty)
}

func frame(t *testing.T, msg MessageType, payload any) Envelope {
	t.Helper()
	env, err := NewEnvelope(msg, 0, payload)
	test.That(t, err, test.ShouldBeNil)
	return env
}

func TestReplicaOrdersBrackets(t *testing.T) {
	p := newPair(t)
	id := voxel.TileID{}
	full, err := NewSetTile(7, id, container.EncodeTile(voxel.FullTile()))
	test.That(t, err, test.ShouldBeNil)

	// Frames of a bracket may arrive in any order; the unlock alone closes it.
	test.That(t, p.mirror.Handle(frame(t, MessageUnlockForEdit, UnlockForEdit{Cycle: 7, Count: 1})), test.ShouldBeNil)
	test.That(t, p.mirror.Pending(), test.ShouldEqual, 1)
	test.That(t, p.mirror.Handle(frame(t, MessageSetTile, full)), test.ShouldBeNil)
	test.That(t, p.mirror.Pending(), test.ShouldEqual, 0)

	// An older bracket arriving late does not overwrite the newer tile.
	test.That(t, p.mirror.Handle(frame(t, MessageLockForEdit, LockForEdit{Cycle: 4, Count: 1})), test.ShouldBeNil)
	test.That(t, p.mirror.Handle(frame(t, MessageRemoveTile, RemoveTile{Cycle: 4})), test.ShouldBeNil)
	test.That(t, p.mirror.Handle(frame(t, MessageUnlockForEdit, UnlockForEdit{Cycle: 4, Count: 1})), test.ShouldBeNil)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	test.That(t, p.dst.Flush(ctx), test.ShouldBeNil)
	test.That(t, p.dst.LockRead(ctx), test.ShouldBeNil)
	test.That(t, p.dst.Tile(id).Kind(), test.ShouldEqual, voxel.Full)
	p.dst.UnlockRead()

	test.That(t, p.mirror.Handle(frame(t, MessageHello, Hello{})), test.ShouldNotBeNil)
	test.That(t, p.mirror.Handle(Envelope{Type: MessageSetTile, Payload: []byte("{")}), test.ShouldNotBeNil)
}

func TestReplicaFollowsPublisherRestart(t *testing.T) {
	p := newPair(t)
	id := voxel.TileID{}
	first, restarted := uuid.New(), uuid.New()
	bracket := func(session uuid.UUID, cycle uint64, tile any, msg MessageType) {
		test.That(t, p.mirror.Handle(frame(t, MessageLockForEdit, LockForEdit{Session: session, Cycle: cycle, Count: 1})), test.ShouldBeNil)
		test.That(t, p.mirror.Handle(frame(t, msg, tile)), test.ShouldBeNil)
		test.That(t, p.mirror.Handle(frame(t, MessageUnlockForEdit, UnlockForEdit{Session: session, Cycle: cycle, Count: 1})), test.ShouldBeNil)
	}
	kind := func() voxel.Kind {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		test.That(t, p.dst.Flush(ctx), test.ShouldBeNil)
		test.That(t, p.dst.LockRead(ctx), test.ShouldBeNil)
		defer p.dst.UnlockRead()
		return p.dst.Tile(id).Kind()
	}

	full, err := NewSetTile(2000, id, container.EncodeTile(voxel.FullTile()))
	test.That(t, err, test.ShouldBeNil)
	full.Session = first
	bracket(first, 2000, full, MessageSetTile)
	test.That(t, kind(), test.ShouldEqual, voxel.Full)

	// The restarted publisher counts from one again and is still applied.
	bracket(restarted, 1, RemoveTile{Session: restarted, Cycle: 1}, MessageRemoveTile)
	test.That(t, kind(), test.ShouldEqual, voxel.Empty)
	test.That(t, p.mirror.Pending(), test.ShouldEqual, 0)

	// Late frames of the old session no longer apply.
	bracket(first, 2001, full, MessageSetTile)
	test.That(t, kind(), test.ShouldEqual, voxel.Empty)
	test.That(t, p.mirror.Pending(), test.ShouldEqual, 0)
}

func TestPublisherStampsItsSession(t *testing.T) {
	p := newPair(t)
	ctx := context.Background()
	test.That(t, p.pub.Session(), test.ShouldNotEqual, uuid.Nil)
	test.That(t, p.pub.Announce(ctx, Hello{ReceiverID: uuid.New(), X: 10, Y: 10, Z: 10, Radius: 20}, "replica:1"), test.ShouldBeNil)
	p.src.Edit(shape.At(shape.Sphere{Radius: 5}, 10, 10, 10))
	test.That(t, p.src.Flush(ctx), test.ShouldBeNil)
	p.pub.Flush()

	frames := p.link.take()
	test.That(t, frames, test.ShouldHaveLength, 3)
	var lock LockForEdit
	test.That(t, decodePayload(frames[0], &lock), test.ShouldBeNil)
	var tile SetTile
	test.That(t, decodePayload(frames[1], &tile), test.ShouldBeNil)
	var unlock UnlockForEdit
	test.That(t, decodePayload(frames[2], &unlock), test.ShouldBeNil)
	for _, session := range []uuid.UUID{lock.Session, tile.Session, unlock.Session} {
		test.That(t, session, test.ShouldEqual, p.pub.Session())
	}
}

func TestUDPTransportDeliversHello(t *testing.T) {
	logger := zaptest.NewLogger(t).Sugar()
	server, err := Listen("127.0.0.1:0", logger, 0)
	test.That(t, err, test.ShouldBeNil)
	defer server.Close()
	client, err := Listen("127.0.0.1:0", logger, 0)
	test.That(t, err, test.ShouldBeNil)
	defer client.Close()

	got := make(chan Hello, 1)
	server.Register(MessageHello, func(_ context.Context, addr *net.UDPAddr, env Envelope) {
		var h Hello
		if err := decodePayload(env, &h); err == nil {
			got <- h
		}
	})
	ctx, cancel := context.WithCancel(context.Background())
	served := make(chan error, 1)
	go func() { served <- server.Serve(ctx) }()

	hello := Hello{ReceiverID: uuid.New(), Listen: client.Addr(), X: 1, Y: 2, Z: 3, Radius: 40}
	test.That(t, client.Send(server.Addr(), MessageHello, hello), test.ShouldBeNil)
	select {
	case h := <-got:
		test.That(t, h, test.ShouldResemble, hello)
	case <-time.After(5 * time.Second):
		t.Fatal("hello not delivered")
	}
	cancel()
	test.That(t, <-served, test.ShouldEqual, context.Canceled)

	small, err := Listen("127.0.0.1:0", logger, 16)
	test.That(t, err, test.ShouldBeNil)
	defer small.Close()
	test.That(t, small.Send(server.Addr(), MessageHello, hello), test.ShouldNotBeNil)
}
