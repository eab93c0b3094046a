// Package dispatch implements the master/worker split of the pipeline. A single master goroutine
// runs every mutation of shared layer state in posting order; a worker pool runs per-tile
// computation and posts results back to the master.
package dispatch

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/alitto/pond/v2"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"isoterrain/internal/logging"
	"isoterrain/internal/metrics"
)

// ErrClosed is returned by blocking calls once the dispatcher has shut down.
var ErrClosed = errors.New("dispatcher closed")

// Dispatcher owns the master strand and the worker pool.
type Dispatcher struct {
	logger  *zap.SugaredLogger
	mailbox *Queue
	wake    chan struct{}
	stop    chan struct{}
	stopped chan struct{}
	pool    pond.Pool

	// inflight counts worker tasks whose completion has not yet run; master-only.
	inflight int

	closeOnce sync.Once
	closeErr  error
}

// New starts a dispatcher with the given number of workers (NumCPU when <= 0).
func New(workers int, logger *zap.SugaredLogger) *Dispatcher {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	d := &Dispatcher{
		logger:  logging.Or(logger),
		mailbox: NewQueue(),
		wake:    make(chan struct{}, 1),
		stop:    make(chan struct{}),
		stopped: make(chan struct{}),
		pool:    pond.NewPool(workers),
	}
	go d.run()
	return d
}

func (d *Dispatcher) run() {
	defer close(d.stopped)
	for {
		d.drain()
		select {
		case <-d.wake:
		case <-d.stop:
			d.drain()
			return
		}
	}
}

func (d *Dispatcher) drain() {
	for {
		batch := d.mailbox.Drain(0)
		if len(batch) == 0 {
			return
		}
		for _, fn := range batch {
			fn()
		}
	}
}

// Post schedules fn on the master. It never blocks and may be called from any goroutine.
func (d *Dispatcher) Post(fn func()) {
	d.mailbox.Enqueue(fn)
	select {
	case d.wake <- struct{}{}:
	default:
	}
}

// Submit runs work on the pool and posts done with its result back to the master. It must be
// called from the master. A panic inside work is re-raised on the master.
func Submit[R any](d *Dispatcher, work func() R, done func(R)) {
	d.inflight++
	d.pool.Submit(func() {
		defer func() {
			if p := recover(); p != nil {
				d.Post(func() { panic(fmt.Sprintf("worker task panicked: %v", p)) })
			}
		}()
		metrics.WorkerTask()
		result := work()
		d.Post(func() {
			d.inflight--
			done(result)
		})
	})
}

// Do runs fn on the master and waits for it to return.
func (d *Dispatcher) Do(ctx context.Context, fn func()) error {
	finished := make(chan struct{})
	d.Post(func() {
		defer close(finished)
		fn()
	})
	select {
	case <-finished:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-d.stopped:
		return ErrClosed
	}
}

// Await blocks until no worker task is in flight and cond, evaluated on the master, holds.
func (d *Dispatcher) Await(ctx context.Context, cond func() bool) error {
	for {
		var ok bool
		if err := d.Do(ctx, func() { ok = d.inflight == 0 && d.mailbox.Len() == 0 && cond() }); err != nil {
			return err
		}
		if ok {
			return nil
		}
		select {
		case <-time.After(time.Millisecond):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Close drains every in-flight task, then stops the master and the pool. Cancellation is not
// supported by the pipeline, so ctx only bounds how long Close waits.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.closeOnce.Do(func() {
		if err := d.Await(ctx, func() bool { return true }); err != nil {
			d.closeErr = errors.Wrap(err, "drain dispatcher")
		}
		close(d.stop)
		<-d.stopped
		d.pool.StopAndWait()
		d.logger.Debugw("dispatcher stopped")
	})
	return d.closeErr
}

// Batch fires done on the master once n completions have been reported.
type Batch struct {
	pending int
	done    func()
}

// NewBatch creates a barrier over n completions. An empty batch fires immediately.
func NewBatch(n int, done func()) *Batch {
	b := &Batch{pending: n, done: done}
	if n == 0 {
		done()
	}
	return b
}

// Done reports one completion. Master-only.
func (b *Batch) Done() {
	if b.pending <= 0 {
		panic("dispatch: batch completed more times than dispatched")
	}
	b.pending--
	if b.pending == 0 {
		b.done()
	}
}
