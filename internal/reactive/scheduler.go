package reactive

import (
	"context"
	"sync"
	"time"
)

// Scheduler runs deferred work after the current flush.
type Scheduler interface {
	Defer(fn func())
}

// DefaultGrace is the delay used when no scheduler is configured.
const DefaultGrace = 10 * time.Millisecond

// Grace runs deferred functions after Delay on a timer goroutine.
type Grace struct {
	Delay time.Duration
}

// Defer schedules fn.
func (g Grace) Defer(fn func()) {
	time.AfterFunc(g.Delay, fn)
}

// Loop is a thread-safe FIFO task loop.
//
// Tasks posted from any goroutine run either on the goroutine executing Run
// or on a goroutine calling Drain. The queue is unbounded so tasks may post
// further tasks without blocking.
type Loop struct {
	mu     sync.Mutex
	tasks  []func()
	closed bool
	signal chan struct{} // buffered, size 1
}

// NewLoop creates an empty loop.
func NewLoop() *Loop {
	return &Loop{
		tasks:  make([]func(), 0, 16),
		signal: make(chan struct{}, 1),
	}
}

// Post appends fn to the queue. Returns false if the loop is closed.
func (l *Loop) Post(fn func()) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return false
	}
	l.tasks = append(l.tasks, fn)

	// Non-blocking: the buffer of 1 coalesces signals.
	select {
	case l.signal <- struct{}{}:
	default:
	}
	return true
}

// Defer implements Scheduler. Work posted after Close is dropped.
func (l *Loop) Defer(fn func()) {
	l.Post(fn)
}

func (l *Loop) next() (func(), bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if len(l.tasks) == 0 {
		return nil, false
	}
	fn := l.tasks[0]
	l.tasks[0] = nil
	if len(l.tasks) == 1 {
		l.tasks = l.tasks[:0]
	} else {
		l.tasks = l.tasks[1:]
	}
	return fn, true
}

// Drain runs queued tasks on the calling goroutine until the queue is empty,
// including tasks posted while draining. Returns the number of tasks run.
func (l *Loop) Drain() int {
	n := 0
	for {
		fn, ok := l.next()
		if !ok {
			return n
		}
		fn()
		n++
	}
}

// Run processes tasks until ctx is cancelled or the loop is closed and
// empty.
func (l *Loop) Run(ctx context.Context) error {
	for {
		l.Drain()

		l.mu.Lock()
		done := l.closed && len(l.tasks) == 0
		l.mu.Unlock()
		if done {
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-l.signal:
		}
	}
}

// Len returns the number of queued tasks.
func (l *Loop) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.tasks)
}

// Close stops accepting tasks. Queued tasks still run.
func (l *Loop) Close() {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return
	}
	l.closed = true
	select {
	case l.signal <- struct{}{}:
	default:
	}
}
