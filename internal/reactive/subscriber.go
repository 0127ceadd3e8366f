package reactive

import (
	"log/slog"
	"sync"
)

// Lifecycle is started when a container gains its first observer and
// stopped when it loses its last one. Start and Stop are never called
// concurrently, and calls alternate: Start, Stop, Start, ...
type Lifecycle interface {
	Start()
	Stop()
}

type options struct {
	sched  Scheduler
	logger *slog.Logger
}

// Option configures a container.
type Option func(*options)

// WithScheduler sets the scheduler used for deferred releases. Defaults to
// Grace{DefaultGrace}.
func WithScheduler(s Scheduler) Option {
	return func(o *options) { o.sched = s }
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

func buildOptions(opts []Option) options {
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.sched == nil {
		o.sched = Grace{Delay: DefaultGrace}
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	return o
}

type listener[T any] struct {
	id uint64
	fn func(T)
}

// Subscriber is an observer-counted value container.
//
// Thread-safety: all methods are safe for concurrent use. Listeners are
// called outside internal locks, in registration order, one Set at a time;
// a listener must not call Set or Update synchronously.
type Subscriber[T any] struct {
	life   Lifecycle
	sched  Scheduler
	logger *slog.Logger

	notifyMu sync.Mutex // serializes Set/Update with listener delivery

	mu        sync.Mutex
	value     T
	loaded    bool
	observers int
	listeners []listener[T]
	nextID    uint64

	lifeMu  sync.Mutex
	running bool
}

// NewSubscriber creates an empty container driven by life. life may be nil
// for a plain value holder.
func NewSubscriber[T any](life Lifecycle, opts ...Option) *Subscriber[T] {
	o := buildOptions(opts)
	return &Subscriber[T]{
		life:   life,
		sched:  o.sched,
		logger: o.logger,
	}
}

// Value returns the current value and whether one has been set.
func (s *Subscriber[T]) Value() (T, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.value, s.loaded
}

// Set stores v and notifies listeners. It never starts or stops the
// lifecycle.
func (s *Subscriber[T]) Set(v T) {
	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()

	s.mu.Lock()
	s.value, s.loaded = v, true
	ls := append([]listener[T](nil), s.listeners...)
	s.mu.Unlock()

	for _, l := range ls {
		l.fn(v)
	}
}

// Update replaces the value with fn(current, loaded) atomically with
// respect to other Set and Update calls.
func (s *Subscriber[T]) Update(fn func(cur T, loaded bool) T) {
	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()

	s.mu.Lock()
	v := fn(s.value, s.loaded)
	s.value, s.loaded = v, true
	ls := append([]listener[T](nil), s.listeners...)
	s.mu.Unlock()

	for _, l := range ls {
		l.fn(v)
	}
}

// Observers returns the current observer count.
func (s *Subscriber[T]) Observers() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.observers
}

// Acquire adds an observer. The first observer starts the lifecycle.
func (s *Subscriber[T]) Acquire() {
	s.mu.Lock()
	s.observers++
	first := s.observers == 1
	s.mu.Unlock()

	if first {
		s.reconcile()
	}
}

// Release removes an observer after the current flush. If no observer
// remains when the deferred release runs, the lifecycle is stopped.
func (s *Subscriber[T]) Release() {
	s.sched.Defer(s.decrement)
}

func (s *Subscriber[T]) decrement() {
	s.mu.Lock()
	if s.observers == 0 {
		s.mu.Unlock()
		s.logger.Warn("release without matching acquire ignored")
		return
	}
	s.observers--
	last := s.observers == 0
	s.mu.Unlock()

	if last {
		s.reconcile()
	}
}

// reconcile brings the lifecycle in line with the observer count. Holding
// lifeMu across Start/Stop keeps them from overlapping; looping handles a
// count that changed while a transition ran.
func (s *Subscriber[T]) reconcile() {
	if s.life == nil {
		return
	}
	s.lifeMu.Lock()
	defer s.lifeMu.Unlock()

	for {
		s.mu.Lock()
		want := s.observers > 0
		s.mu.Unlock()

		if want == s.running {
			return
		}
		if want {
			s.life.Start()
		} else {
			s.life.Stop()
		}
		s.running = want
	}
}

// Observe acquires the container and registers fn as a change listener. If
// a value is already loaded, fn receives it first. The returned release is
// idempotent.
func (s *Subscriber[T]) Observe(fn func(T)) (release func()) {
	s.notifyMu.Lock()
	s.mu.Lock()
	s.nextID++
	id := s.nextID
	s.listeners = append(s.listeners, listener[T]{id: id, fn: fn})
	v, loaded := s.value, s.loaded
	s.mu.Unlock()
	if loaded {
		fn(v)
	}
	s.notifyMu.Unlock()

	s.Acquire()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.removeListener(id)
			s.Release()
		})
	}
}

func (s *Subscriber[T]) removeListener(id uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, l := range s.listeners {
		if l.id == id {
			s.listeners = append(s.listeners[:i:i], s.listeners[i+1:]...)
			return
		}
	}
}
