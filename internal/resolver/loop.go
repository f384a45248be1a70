package resolver

import (
	"context"
	"sync"
)

// Executor runs closures on an owning execution context.
type Executor interface {
	// Post queues fn and reports whether it was accepted. An accepted
	// closure is guaranteed to run.
	Post(fn func()) bool
}

// Loop is a single-goroutine event loop. Every closure posted to it runs on
// the goroutine that called Run, one at a time and in posting order. Post
// never blocks.
type Loop struct {
	mu     sync.Mutex
	queue  []func()
	closed bool

	wake     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

// NewLoop creates a stopped-until-Run loop with an unbounded queue.
func NewLoop() *Loop {
	return &Loop{
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
}

// Run executes queued closures until ctx is cancelled or Stop is called.
// Closures accepted before the stop still run before Run returns.
func (l *Loop) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			l.Stop()
			l.drain()
			return
		case <-l.done:
			l.drain()
			return
		case <-l.wake:
			l.drain()
		}
	}
}

// Post queues fn. It returns false once the loop has stopped.
func (l *Loop) Post(fn func()) bool {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return false
	}
	l.queue = append(l.queue, fn)
	l.mu.Unlock()

	select {
	case l.wake <- struct{}{}:
	default:
	}
	return true
}

// Stop rejects further closures and ends Run once the queue is drained.
func (l *Loop) Stop() {
	l.stopOnce.Do(func() {
		l.mu.Lock()
		l.closed = true
		l.mu.Unlock()
		close(l.done)
	})
}

// drain runs everything queued so far, including closures posted by the
// closures it runs.
func (l *Loop) drain() {
	for {
		l.mu.Lock()
		batch := l.queue
		l.queue = nil
		l.mu.Unlock()

		if len(batch) == 0 {
			return
		}
		for _, fn := range batch {
			fn()
		}
	}
}
