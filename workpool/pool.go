// Package workpool runs submitted functions on a fixed set of worker
// goroutines. A pool with a single worker doubles as a serialized
// execution context: units run one at a time in submission order.
package workpool

import (
	"errors"
	"sync"
	"sync/atomic"
)

var ErrPoolClosed = errors.New("workpool: pool closed")

type Pool struct {
	queue chan func()
	wg    sync.WaitGroup

	submitMu sync.RWMutex
	closed   atomic.Bool
}

// New starts workers goroutines consuming a queue of queueDepth pending
// units. Non-positive arguments are clamped to 1 worker and an unbuffered
// queue.
func New(workers, queueDepth int) *Pool {
	if workers <= 0 {
		workers = 1
	}
	if queueDepth < 0 {
		queueDepth = 0
	}

	p := &Pool{queue: make(chan func(), queueDepth)}
	for i := 0; i < workers; i++ {
		p.wg.Add(1)
		go p.worker()
	}
	return p
}

func (p *Pool) worker() {
	defer p.wg.Done()
	for fn := range p.queue {
		fn()
	}
}

// Submit queues fn for execution, blocking while the queue is full.
// Submitting to a closed pool returns ErrPoolClosed.
func (p *Pool) Submit(fn func()) error {
	p.submitMu.RLock()
	defer p.submitMu.RUnlock()
	if p.closed.Load() {
		return ErrPoolClosed
	}
	p.queue <- fn
	return nil
}

// Len reports the number of queued, not yet started units.
func (p *Pool) Len() int {
	return len(p.queue)
}

// Close stops accepting work, runs everything already queued and waits for
// the workers to finish it.
func (p *Pool) Close() error {
	p.submitMu.Lock()
	already := p.closed.Swap(true)
	p.submitMu.Unlock()
	if already {
		return nil
	}
	close(p.queue)
	p.wg.Wait()
	return nil
}
