// Package broadcast implements the Broadcast Thread Pool (C8, spec.md
// §4.7): a reusable pool of named worker goroutines that run one broadcast
// task at a time, fanned out across N workers plus the caller, returning
// only once every participant has finished.
package broadcast

import (
	"sync"
	"sync/atomic"
)

// task is the shared record every participant (the N workers plus the
// caller) executes exactly once (spec.md §4.7 step 1).
type task struct {
	fn       func(workerIndex int)
	refCount int64
	done     chan struct{}

	panicMu sync.Mutex
	panics  []any
}

// Pool is a reusable set of worker goroutines, one named pool-<k> per
// index, each owning a single-slot rendezvous channel (spec.md §4.7 step 2).
type Pool struct {
	mu      sync.Mutex
	workers []chan *task

	// broadcastMu serializes Broadcast calls: "one broadcast is in flight
	// at a time per pool" (spec.md §5).
	broadcastMu sync.Mutex
}

// New returns an empty pool; workers are spawned lazily by Broadcast.
func New() *Pool {
	return &Pool{}
}

// ensureWorkers grows the pool to at least n workers, spawning the deficit
// (spec.md §4.7 step 2).
func (p *Pool) ensureWorkers(n int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for len(p.workers) < n {
		ch := make(chan *task) // capacity 0: rendezvous send/receive
		index := len(p.workers) + 1
		p.workers = append(p.workers, ch)
		go runWorker(index, ch)
	}
}

// runWorker is pool-<index>'s loop: it dequeues one task at a time and
// executes it under a panic guard (spec.md §4.7 step 5).
func runWorker(index int, ch chan *task) {
	for t := range ch {
		execute(t, index)
	}
}

// execute runs t.fn for the given participant, catching any panic and
// counting it as a normal completion; the caught panic is retained on t and
// re-raised by Broadcast only after every participant has finished (spec.md
// §4.7 step 5, §4.7 "Panic safety").
func execute(t *task, workerIndex int) {
	defer func() {
		if r := recover(); r != nil {
			t.panicMu.Lock()
			t.panics = append(t.panics, r)
			t.panicMu.Unlock()
		}
		if atomic.AddInt64(&t.refCount, -1) == 0 {
			close(t.done)
		}
	}()
	t.fn(workerIndex)
}

// Broadcast runs f once on each of n additional worker threads plus the
// caller (worker index 0), blocking until all n+1 participants have
// finished (spec.md §4.7). If any participant panicked, Broadcast re-raises
// the first caught panic only after every participant has completed.
func (p *Pool) Broadcast(n int, f func(workerIndex int)) {
	if n < 0 {
		n = 0
	}
	p.broadcastMu.Lock()
	defer p.broadcastMu.Unlock()

	p.ensureWorkers(n)

	t := &task{fn: f, refCount: int64(n + 1), done: make(chan struct{})}

	p.mu.Lock()
	workers := p.workers[:n]
	p.mu.Unlock()

	for _, ch := range workers {
		ch <- t
	}

	execute(t, 0)

	<-t.done

	if len(t.panics) > 0 {
		panic(t.panics[0])
	}
}

// Size reports the number of worker goroutines currently spawned.
func (p *Pool) Size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.workers)
}
