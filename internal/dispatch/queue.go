package dispatch

import "sync"

// Queue is an unbounded FIFO of closures. Posting never blocks, so workers and the master itself
// can always hand work to the master.
type Queue struct {
	mu      sync.Mutex
	pending []func()
}

func NewQueue() *Queue {
	return &Queue{}
}

func (q *Queue) Enqueue(fn func()) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.pending = append(q.pending, fn)
}

// Drain removes up to max closures in FIFO order; max <= 0 drains everything.
func (q *Queue) Drain(max int) []func() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.pending) == 0 {
		return nil
	}
	if max <= 0 || max >= len(q.pending) {
		batch := q.pending
		q.pending = nil
		return batch
	}
	batch := append([]func(){}, q.pending[:max]...)
	q.pending = append(q.pending[:0:0], q.pending[max:]...)
	return batch
}

func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}
