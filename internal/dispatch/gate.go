package dispatch

// Gate is the publication lock of one pipeline layer. It is driven exclusively from the master, so
// it needs no mutex: a write phase may span many asynchronous worker round trips, and a writer that
// arrives while readers still hold the layer is deferred until the last UnlockRead.
//
// Requests are served in arrival order; a reader queued behind a waiting writer waits for it.
type Gate struct {
	writing bool
	readers int
	waiters []gateWaiter
}

type gateWaiter struct {
	write func(WriteGuard)
	read  func()
}

// WriteGuard proves that its holder owns the write phase of a Gate. Functions that mutate layer
// state take one as a parameter.
type WriteGuard struct {
	gate *Gate
}

// Valid reports whether the guard still owns the write phase.
func (w WriteGuard) Valid() bool {
	return w.gate != nil && w.gate.writing
}

// Write queues start to run as soon as the gate has neither a writer nor readers.
func (g *Gate) Write(start func(WriteGuard)) {
	g.waiters = append(g.waiters, gateWaiter{write: start})
	g.pump()
}

// Read queues granted to run once no writer holds or precedes it. The reader must call UnlockRead.
func (g *Gate) Read(granted func()) {
	g.waiters = append(g.waiters, gateWaiter{read: granted})
	g.pump()
}

// Publish ends the write phase and hands out the given number of read locks in one step, so no other
// writer can slip in between the edit cycle and its subscribers.
func (g *Gate) Publish(guard WriteGuard, readers int) {
	g.mustOwn(guard)
	if readers < 0 {
		panic("dispatch: negative reader count")
	}
	g.writing = false
	g.readers += readers
	g.pump()
}

// Release ends the write phase without readers.
func (g *Gate) Release(guard WriteGuard) {
	g.Publish(guard, 0)
}

// UnlockRead releases one read lock.
func (g *Gate) UnlockRead() {
	if g.readers <= 0 {
		panic("dispatch: UnlockRead without a matching read lock")
	}
	g.readers--
	g.pump()
}

// Writing reports whether a write phase is active.
func (g *Gate) Writing() bool { return g.writing }

// Readers returns the number of outstanding read locks.
func (g *Gate) Readers() int { return g.readers }

// Idle reports whether the gate is unheld and nobody waits on it.
func (g *Gate) Idle() bool {
	return !g.writing && g.readers == 0 && len(g.waiters) == 0
}

func (g *Gate) mustOwn(guard WriteGuard) {
	if guard.gate != g || !g.writing {
		panic("dispatch: write guard does not own this gate")
	}
}

func (g *Gate) pump() {
	for len(g.waiters) > 0 && !g.writing {
		next := g.waiters[0]
		if next.write != nil {
			if g.readers > 0 {
				return
			}
			g.waiters = g.waiters[1:]
			g.writing = true
			next.write(WriteGuard{gate: g})
			continue
		}
		g.waiters = g.waiters[1:]
		g.readers++
		next.read()
	}
}
