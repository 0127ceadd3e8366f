// Package watch fans store change notifications out to registered watchers.
//
// Every watcher owns one delivery goroutine, so the callbacks of a single
// watch run in order and never overlap, and a callback may cancel its own
// watch or register new ones without deadlocking the store that notified it.
//
// Signals coalesce: a watcher that is busy when several writes land polls
// once more afterwards, observing the latest state. Watchers re-read state
// on every poll, so no intermediate snapshot is required for correctness.
package watch

import (
	"context"
	"errors"
	"sync"

	mapset "github.com/deckarep/golang-set/v2"
)

// ErrClosed is returned by Watch after Close.
var ErrClosed = errors.New("watch hub closed")

// Poll re-reads watched state and reports it. ctx is cancelled once the
// watch is cancelled; pollers should check it before invoking user callbacks.
type Poll func(ctx context.Context)

// Hub is a registry of watchers.
//
// Thread-safety: all methods are safe for concurrent use.
type Hub struct {
	mu       sync.Mutex
	watchers mapset.Set[*watcher]
	closed   bool
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{
		watchers: mapset.NewThreadUnsafeSet[*watcher](),
	}
}

type watcher struct {
	poll   Poll
	ctx    context.Context
	cancel context.CancelFunc
	signal chan struct{} // buffered, size 1
	done   chan struct{}
}

// Watch registers poll and schedules an initial poll. The returned cancel
// function stops further polls; it is idempotent and safe to call from
// inside poll itself.
func (h *Hub) Watch(poll Poll) (cancel func(), err error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return nil, ErrClosed
	}

	ctx, stop := context.WithCancel(context.Background())
	w := &watcher{
		poll:   poll,
		ctx:    ctx,
		cancel: stop,
		signal: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
	w.signal <- struct{}{}
	h.watchers.Add(w)
	go w.run()

	return func() { h.remove(w) }, nil
}

// Notify asks every watcher to poll again.
func (h *Hub) Notify() {
	h.mu.Lock()
	watchers := h.watchers.ToSlice()
	h.mu.Unlock()

	for _, w := range watchers {
		select {
		case w.signal <- struct{}{}:
		default:
			// A poll is already pending and will observe this change.
		}
	}
}

// Len returns the number of active watchers.
func (h *Hub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.watchers.Cardinality()
}

// Close cancels all watchers and rejects new ones.
func (h *Hub) Close() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true
	watchers := h.watchers.ToSlice()
	h.watchers.Clear()
	h.mu.Unlock()

	for _, w := range watchers {
		w.cancel()
	}
}

// Wait blocks until every watcher registered at call time has exited or
// ctx is done. Used by stores on shutdown and by tests.
func (h *Hub) Wait(ctx context.Context) error {
	h.mu.Lock()
	watchers := h.watchers.ToSlice()
	h.mu.Unlock()

	for _, w := range watchers {
		select {
		case <-w.done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

func (h *Hub) remove(w *watcher) {
	h.mu.Lock()
	h.watchers.Remove(w)
	h.mu.Unlock()
	w.cancel()
}

func (w *watcher) run() {
	defer close(w.done)
	for {
		select {
		case <-w.ctx.Done():
			return
		case <-w.signal:
			if w.ctx.Err() != nil {
				return
			}
			w.poll(w.ctx)
		}
	}
}
