package async

import (
	"context"
	"sync"
)

// WorkerPool is a fixed set of goroutines that run events popped from a
// shared, unbounded task queue. Each goroutine runs its own runner, created
// once at pool construction by newRunner — this is how a dedicated,
// non-shared user processor instance and context end up bound to exactly one
// goroutine for the pool's lifetime, which is what lets that context skip
// any form of thread-identity lookup: it only ever sees calls from its own
// goroutine.
//
// The queue is unbounded and Schedule never blocks, matching the driver's
// contract of blocking only inside finalizeAtLeastOne and Flush: a bounded
// buffer would let a burst of simultaneously-dispatchable, distinct-key
// events stall the driver goroutine outside those two points.
type WorkerPool struct {
	mu     sync.Mutex
	items  []*Event
	signal chan struct{}

	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// NewWorkerPool starts size worker goroutines, each running the runner
// returned by newRunner(slot) for slot in [0, size). size <= 0 is treated as 1.
func NewWorkerPool(size int, newRunner func(slot int) func(ctx context.Context, e *Event)) *WorkerPool {
	if size <= 0 {
		size = 1
	}
	p := &WorkerPool{
		signal: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
	for i := 0; i < size; i++ {
		run := newRunner(i)
		p.wg.Add(1)
		go p.loop(run)
	}
	return p
}

func (p *WorkerPool) loop(run func(ctx context.Context, e *Event)) {
	defer p.wg.Done()
	for {
		e, ok := p.waitNext()
		if !ok {
			return
		}
		run(context.Background(), e)
	}
}

func (p *WorkerPool) tryNext() (*Event, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.items) == 0 {
		return nil, false
	}
	e := p.items[0]
	p.items = p.items[1:]
	return e, true
}

func (p *WorkerPool) waitNext() (*Event, bool) {
	for {
		if e, ok := p.tryNext(); ok {
			return e, true
		}
		select {
		case <-p.signal:
		case <-p.done:
			return nil, false
		}
	}
}

// Schedule enqueues e for the next idle worker. Never blocks.
func (p *WorkerPool) Schedule(e *Event) {
	p.mu.Lock()
	p.items = append(p.items, e)
	p.mu.Unlock()

	select {
	case p.signal <- struct{}{}:
	default:
	}
}

// Close stops accepting new work; running tasks are not interrupted. Safe to
// call more than once.
func (p *WorkerPool) Close() {
	p.closeOnce.Do(func() {
		close(p.done)
	})
}

// Wait blocks until every worker goroutine has exited after Close.
func (p *WorkerPool) Wait() {
	p.wg.Wait()
}
