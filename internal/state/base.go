package state

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/singleflight"

	"github.com/roach88/livestate/internal/auth"
	"github.com/roach88/livestate/internal/canonical"
	"github.com/roach88/livestate/internal/reactive"
)

// source is the strategy a resource kind plugs into Base.
type source interface {
	// resolve computes the backend reference for u. It is pure and runs at
	// most once successfully per resource.
	resolve(u *auth.User) error
	// fetch reads once and assigns the result.
	fetch(ctx context.Context) error
	// listen opens a live subscription bound to ctx.
	listen(ctx context.Context) (func(), error)
}

// Base is the remote resource orchestrator shared by every resource kind.
//
// Thread-safety: all methods are safe for concurrent use.
type Base[T any] struct {
	*reactive.Subscriber[T]

	src    source
	opts   Options
	logger *slog.Logger

	identityOnce sync.Once
	identity     *auth.Future

	refGroup singleflight.Group
	resolved atomic.Bool

	inflight atomic.Int32

	setMu sync.Mutex // orders setData/update against each other

	sessMu  sync.Mutex
	sessID  uint64
	cancel  context.CancelFunc
	unsub   func()
	running sync.WaitGroup
}

func newBase[T any](src source, opts Options) *Base[T] {
	b := &Base[T]{
		src:    src,
		opts:   opts,
		logger: opts.Logger,
	}
	b.Subscriber = reactive.NewSubscriber[T](b, opts.reactiveOptions()...)
	return b
}

// Data returns the current value and whether one has been assigned.
func (b *Base[T]) Data() (T, bool) {
	return b.Value()
}

// Loading reports whether a fetch is in flight.
func (b *Base[T]) Loading() bool {
	return b.inflight.Load() > 0
}

// Listening reports whether the resource runs in listen mode.
func (b *Base[T]) Listening() bool {
	return b.opts.Listen
}

// Name returns the resource name used in logs.
func (b *Base[T]) Name() string {
	return b.opts.Name
}

// Start opens a session: identity, then reference, then fetch or listen,
// on a background goroutine. Called by the container on its first
// observer.
func (b *Base[T]) Start() {
	b.sessMu.Lock()
	ctx, cancel := context.WithCancel(context.Background())
	b.sessID++
	id := b.sessID
	b.cancel = cancel
	b.running.Add(1)
	b.sessMu.Unlock()

	go func() {
		defer b.running.Done()
		b.run(ctx, id)
	}()
}

func (b *Base[T]) run(ctx context.Context, id uint64) {
	if err := b.Resolve(ctx); err != nil {
		b.report(ctx, "resolve", err)
		return
	}

	if !b.opts.Listen {
		// A fetch outlives the session: its result still lands.
		if err := b.fetch(context.WithoutCancel(ctx)); err != nil {
			b.report(ctx, "fetch", err)
		}
		return
	}

	if ctx.Err() != nil {
		return
	}
	unsub, err := b.src.listen(ctx)
	if err != nil {
		b.report(ctx, "listen", err)
		return
	}
	b.sessMu.Lock()
	if b.sessID != id || ctx.Err() != nil {
		b.sessMu.Unlock()
		unsub()
		return
	}
	b.unsub = unsub
	b.sessMu.Unlock()
}

// Stop ends the session and closes its subscription. Idempotent.
func (b *Base[T]) Stop() {
	b.sessMu.Lock()
	cancel, unsub := b.cancel, b.unsub
	b.cancel, b.unsub = nil, nil
	b.sessID++
	b.sessMu.Unlock()

	if cancel != nil {
		cancel()
	}
	if unsub != nil {
		unsub()
	}
}

// Wait blocks until background sessions started so far have finished
// setting up. Used by tests and the CLI.
func (b *Base[T]) Wait() {
	b.running.Wait()
}

// Resolve waits for the identity and computes the reference, once. A
// failed resolution is not cached; the next call retries.
func (b *Base[T]) Resolve(ctx context.Context) error {
	if b.resolved.Load() {
		return nil
	}
	u, err := b.user(ctx)
	if err != nil {
		return err
	}
	_, err, _ = b.refGroup.Do("ref", func() (any, error) {
		if b.resolved.Load() {
			return nil, nil
		}
		if err := b.src.resolve(u); err != nil {
			return nil, err
		}
		b.resolved.Store(true)
		return nil, nil
	})
	if err != nil {
		return fmt.Errorf("resolve reference: %w", err)
	}
	return nil
}

func (b *Base[T]) user(ctx context.Context) (*auth.User, error) {
	b.identityOnce.Do(func() {
		b.identity = auth.Once(b.opts.Auth)
	})
	u, err := b.identity.Wait(ctx)
	if err != nil {
		return nil, fmt.Errorf("wait for identity: %w", err)
	}
	return u, nil
}

// Refetch reads once regardless of mode and returns backend errors.
func (b *Base[T]) Refetch(ctx context.Context) error {
	if err := b.Resolve(ctx); err != nil {
		return err
	}
	if err := b.fetch(ctx); err != nil {
		return fmt.Errorf("refetch: %w", err)
	}
	return nil
}

func (b *Base[T]) fetch(ctx context.Context) error {
	b.inflight.Add(1)
	defer b.inflight.Add(-1)
	return b.src.fetch(ctx)
}

// setData assigns v unless it is identical to the current value.
func (b *Base[T]) setData(v T) {
	b.setMu.Lock()
	defer b.setMu.Unlock()

	if cur, loaded := b.Value(); loaded && sameValue(cur, v) {
		return
	}
	b.Set(v)
}

// update performs a read-modify-write of the value.
func (b *Base[T]) update(fn func(cur T, loaded bool) T) {
	b.setMu.Lock()
	defer b.setMu.Unlock()
	b.Update(fn)
}

func sameValue(a, b any) bool {
	fa, err := canonical.Fingerprint(a)
	if err != nil {
		return false
	}
	fb, err := canonical.Fingerprint(b)
	if err != nil {
		return false
	}
	return fa == fb
}

func (b *Base[T]) report(ctx context.Context, op string, err error) {
	if ctx.Err() != nil && errors.Is(err, context.Canceled) {
		return
	}
	b.logger.Error("resource "+op+" failed", "error", err)
	if b.opts.OnError != nil {
		b.opts.OnError(err)
	}
}
