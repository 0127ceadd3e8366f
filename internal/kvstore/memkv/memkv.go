// Package memkv is an in-memory kvstore.Store.
package memkv

import (
	"context"
	"log/slog"
	"slices"
	"strings"
	"sync"

	"github.com/roach88/livestate/internal/docstore"
	"github.com/roach88/livestate/internal/kvstore"
	"github.com/roach88/livestate/internal/watch"
)

type item struct {
	raw     []byte
	version int64
}

// Store keeps canonical JSON values in a map.
//
// Thread-safety: all methods are safe for concurrent use.
type Store struct {
	mu     sync.RWMutex
	items  map[string]item
	closed bool

	clock  *docstore.Clock
	hub    *watch.Hub
	logger *slog.Logger
}

var _ kvstore.Store = (*Store)(nil)

// New creates an empty store. A nil logger means slog.Default().
func New(logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		items:  make(map[string]item),
		clock:  docstore.NewClock(),
		hub:    watch.NewHub(),
		logger: logger,
	}
}

func (s *Store) Get(ctx context.Context, key string) (kvstore.Entry, error) {
	k, err := kvstore.CleanKey(key)
	if err != nil {
		return kvstore.Entry{}, err
	}
	if err := ctx.Err(); err != nil {
		return kvstore.Entry{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return kvstore.Entry{}, kvstore.ErrClosed
	}
	return s.entryLocked(k)
}

func (s *Store) entryLocked(key string) (kvstore.Entry, error) {
	it, ok := s.items[key]
	if !ok {
		return kvstore.Entry{Key: key, Version: s.clock.Current()}, nil
	}
	v, err := kvstore.Decode(it.raw)
	if err != nil {
		return kvstore.Entry{}, err
	}
	return kvstore.Entry{Key: key, Value: v, Version: it.version, Exists: true}, nil
}

func (s *Store) Put(ctx context.Context, key string, value any) error {
	k, err := kvstore.CleanKey(key)
	if err != nil {
		return err
	}
	raw, err := kvstore.Encode(value)
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return kvstore.ErrClosed
	}
	s.items[k] = item{raw: raw, version: s.clock.Next()}
	s.mu.Unlock()

	s.logger.Debug("key written", "key", k)
	s.hub.Notify()
	return nil
}

func (s *Store) Delete(ctx context.Context, key string) error {
	k, err := kvstore.CleanKey(key)
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return kvstore.ErrClosed
	}
	_, existed := s.items[k]
	if existed {
		delete(s.items, k)
		s.clock.Next()
	}
	s.mu.Unlock()

	if existed {
		s.hub.Notify()
	}
	return nil
}

func (s *Store) List(ctx context.Context, prefix string, opts kvstore.ListOptions) ([]kvstore.Entry, error) {
	p, err := kvstore.CleanKey(prefix)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, kvstore.ErrClosed
	}
	return s.listLocked(p, opts)
}

func (s *Store) listLocked(prefix string, opts kvstore.ListOptions) ([]kvstore.Entry, error) {
	var keys []string
	for k := range s.items {
		if strings.HasPrefix(k, prefix+"/") {
			keys = append(keys, k)
		}
	}
	slices.Sort(keys)

	entries := []kvstore.Entry{}
	for _, k := range keys {
		e, err := s.entryLocked(k)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return opts.Apply(entries), nil
}

func (s *Store) Watch(ctx context.Context, key string, fn func(kvstore.Entry)) (kvstore.Unsubscribe, error) {
	k, err := kvstore.CleanKey(key)
	if err != nil {
		return nil, err
	}
	var (
		last kvstore.Entry
		seen bool
	)
	return s.watch(ctx, func(wctx context.Context) {
		s.mu.RLock()
		if s.closed {
			s.mu.RUnlock()
			return
		}
		e, err := s.entryLocked(k)
		s.mu.RUnlock()
		if err != nil {
			s.logger.Warn("watch read failed", "key", k, "error", err)
			return
		}
		if seen && e.Exists == last.Exists && (!e.Exists || e.Version == last.Version) {
			return
		}
		if wctx.Err() != nil || ctx.Err() != nil {
			return
		}
		last, seen = e, true
		fn(e)
	})
}

func (s *Store) WatchPrefix(ctx context.Context, prefix string, opts kvstore.ListOptions, fn func([]kvstore.Entry)) (kvstore.Unsubscribe, error) {
	p, err := kvstore.CleanKey(prefix)
	if err != nil {
		return nil, err
	}
	var (
		last []kvstore.Entry
		seen bool
	)
	return s.watch(ctx, func(wctx context.Context) {
		s.mu.RLock()
		if s.closed {
			s.mu.RUnlock()
			return
		}
		entries, err := s.listLocked(p, opts)
		s.mu.RUnlock()
		if err != nil {
			s.logger.Warn("watch list failed", "prefix", p, "error", err)
			return
		}
		if seen && kvstore.SameEntries(entries, last) {
			return
		}
		if wctx.Err() != nil || ctx.Err() != nil {
			return
		}
		last, seen = entries, true
		fn(entries)
	})
}

func (s *Store) watch(ctx context.Context, poll watch.Poll) (kvstore.Unsubscribe, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	cancel, err := s.hub.Watch(poll)
	if err != nil {
		return nil, kvstore.ErrClosed
	}
	stop := context.AfterFunc(ctx, cancel)
	return func() {
		stop()
		cancel()
	}, nil
}

// Close cancels every watch.
func (s *Store) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()
	s.hub.Close()
	return nil
}
