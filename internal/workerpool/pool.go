// Package workerpool runs jobs on a fixed set of goroutines fed by a
// bounded queue.
package workerpool

import (
	"context"
	"sync"
)

// Pool is a fixed-size goroutine pool with a bounded input queue.
type Pool[T, R any] struct {
	queue   chan T
	process func(ctx context.Context, t T) (R, error)
	wg      sync.WaitGroup

	mu     sync.RWMutex
	closed bool
}

// New creates and starts a pool with n goroutines and queue capacity size.
// Workers stop when ctx is done, abandoning anything still queued.
func New[T, R any](ctx context.Context, n, size int, fn func(context.Context, T) (R, error)) *Pool[T, R] {
	if n < 1 {
		n = 1
	}
	p := &Pool[T, R]{
		queue:   make(chan T, size),
		process: fn,
	}
	for i := 0; i < n; i++ {
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			p.run(ctx)
		}()
	}
	return p
}

func (p *Pool[T, R]) run(ctx context.Context) {
	for {
		select {
		case t, ok := <-p.queue:
			if !ok {
				return
			}
			_, _ = p.process(ctx, t)
		case <-ctx.Done():
			return
		}
	}
}

// Submit enqueues a job without blocking (returns false if full or draining).
func (p *Pool[T, R]) Submit(t T) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return false
	}
	select {
	case p.queue <- t:
		return true
	default:
		return false
	}
}

// Drain closes the queue and waits for all workers to finish. Queued jobs
// are still processed unless the pool context is cancelled.
func (p *Pool[T, R]) Drain() {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
		close(p.queue)
	}
	p.mu.Unlock()
	p.wg.Wait()
}

// QueueLen returns how many jobs are currently queued.
func (p *Pool[T, R]) QueueLen() int {
	return len(p.queue)
}

// QueueCap returns the total queue capacity.
func (p *Pool[T, R]) QueueCap() int {
	return cap(p.queue)
}
