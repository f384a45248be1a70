package resolver

import (
	"context"
	"errors"
	"sync"

	"golang.org/x/sync/semaphore"
)

// ErrPoolClosed is returned by Submit after Close.
var ErrPoolClosed = errors.New("worker pool closed")

// Pool runs submitted tasks in the background with at most size tasks
// executing at once. Submit never blocks the caller.
type Pool struct {
	sem    *semaphore.Weighted
	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

// NewPool creates a pool with size worker slots. size < 1 is treated as 1.
func NewPool(size int) *Pool {
	if size < 1 {
		size = 1
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Pool{
		sem:    semaphore.NewWeighted(int64(size)),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Submit schedules task. The task receives a context that is cancelled when
// the pool closes. If the pool closes before a slot frees up, the task never
// runs and onDrop is called instead (when non-nil).
func (p *Pool) Submit(task func(ctx context.Context), onDrop func()) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrPoolClosed
	}

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		if err := p.sem.Acquire(p.ctx, 1); err != nil {
			if onDrop != nil {
				onDrop()
			}
			return
		}
		defer p.sem.Release(1)
		task(p.ctx)
	}()
	return nil
}

// Close stops accepting tasks, cancels the context handed to running tasks,
// and waits for them to return.
func (p *Pool) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	p.mu.Unlock()

	p.cancel()
	p.wg.Wait()
}
