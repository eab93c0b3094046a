package dispatch

import "context"

// Publication pairs a layer's Gate with its subscribers. Publishing converts the write phase into
// one read lock per subscriber; every notified subscriber must call UnlockRead exactly once, or the
// next write phase of the layer never starts.
type Publication[C any] struct {
	d           *Dispatcher
	gate        Gate
	subscribers []func(C)
}

func NewPublication[C any](d *Dispatcher) *Publication[C] {
	return &Publication[C]{d: d}
}

// Gate exposes the underlying lock. Master-only.
func (p *Publication[C]) Gate() *Gate { return &p.gate }

// Subscribe registers fn for every later publication. It may be called from any goroutine.
func (p *Publication[C]) Subscribe(fn func(C)) {
	p.d.Post(func() { p.subscribers = append(p.subscribers, fn) })
}

// Publish ends the write phase of guard and notifies subscribers with changes. Master-only.
func (p *Publication[C]) Publish(guard WriteGuard, changes C) {
	subs := p.subscribers
	p.gate.Publish(guard, len(subs))
	for _, fn := range subs {
		fn(changes)
	}
}

// UnlockRead releases one read lock. It may be called from any goroutine.
func (p *Publication[C]) UnlockRead() {
	p.d.Post(p.gate.UnlockRead)
}

// LockRead blocks until the caller holds a read lock on the layer. A cancelled wait leaves no lock
// behind.
func (p *Publication[C]) LockRead(ctx context.Context) error {
	granted := make(chan struct{})
	var held, abandoned bool
	p.d.Post(func() {
		p.gate.Read(func() {
			if abandoned {
				p.gate.UnlockRead()
				return
			}
			held = true
			close(granted)
		})
	})
	select {
	case <-granted:
		return nil
	case <-ctx.Done():
		p.d.Post(func() {
			if held {
				p.gate.UnlockRead()
				return
			}
			abandoned = true
		})
		return ctx.Err()
	case <-p.d.stopped:
		return ErrClosed
	}
}
