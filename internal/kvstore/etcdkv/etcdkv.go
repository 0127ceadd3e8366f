// Package etcdkv is a kvstore.Store backed by etcd.
//
// Keys are stored under an optional namespace prefix. Versions are etcd
// revisions: ModRevision for existing keys, the response header revision
// for missing ones. Watches use etcd's native watch API starting one
// revision after the initial read, so no change between the read and the
// watch is lost.
package etcdkv

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	clientv3 "go.etcd.io/etcd/client/v3"

	"github.com/roach88/livestate/internal/kvstore"
)

// DefaultDialTimeout bounds the initial connection in Dial.
const DefaultDialTimeout = 10 * time.Second

// Store wraps an etcd client.
type Store struct {
	cli       *clientv3.Client
	namespace string
	owned     bool
	logger    *slog.Logger

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
	cancel context.CancelFunc
	ctx    context.Context
}

var _ kvstore.Store = (*Store)(nil)

// Options configures a Store.
type Options struct {
	// Namespace is prepended (with a slash) to every key.
	Namespace string
	Logger    *slog.Logger
	// DialTimeout bounds the initial connection in Dial. Defaults to
	// DefaultDialTimeout.
	DialTimeout time.Duration
}

// New wraps an existing client. Close does not close the client.
func New(cli *clientv3.Client, opts Options) *Store {
	return newStore(cli, false, opts)
}

// Dial connects to the given endpoints. Close closes the client.
func Dial(endpoints []string, opts Options) (*Store, error) {
	timeout := opts.DialTimeout
	if timeout <= 0 {
		timeout = DefaultDialTimeout
	}
	cli, err := clientv3.New(clientv3.Config{
		DialTimeout: timeout,
		Endpoints:   endpoints,
	})
	if err != nil {
		return nil, fmt.Errorf("dial etcd %v: %w", endpoints, err)
	}
	return newStore(cli, true, opts), nil
}

func newStore(cli *clientv3.Client, owned bool, opts Options) *Store {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Store{
		cli:       cli,
		namespace: strings.Trim(opts.Namespace, "/"),
		owned:     owned,
		logger:    logger,
		ctx:       ctx,
		cancel:    cancel,
	}
}

func (s *Store) fullKey(key string) (string, error) {
	k, err := kvstore.CleanKey(key)
	if err != nil {
		return "", err
	}
	if s.namespace == "" {
		return k, nil
	}
	return s.namespace + "/" + k, nil
}

func (s *Store) userKey(full string) string {
	if s.namespace == "" {
		return full
	}
	return strings.TrimPrefix(full, s.namespace+"/")
}

func (s *Store) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *Store) Get(ctx context.Context, key string) (kvstore.Entry, error) {
	e, _, err := s.get(ctx, key)
	return e, err
}

// get returns the entry and the revision it was read at.
func (s *Store) get(ctx context.Context, key string) (kvstore.Entry, int64, error) {
	full, err := s.fullKey(key)
	if err != nil {
		return kvstore.Entry{}, 0, err
	}
	if s.isClosed() {
		return kvstore.Entry{}, 0, kvstore.ErrClosed
	}
	resp, err := s.cli.Get(ctx, full)
	if err != nil {
		return kvstore.Entry{}, 0, fmt.Errorf("get %s: %w", key, err)
	}
	return s.readEntry(full, resp)
}

// readEntry converts a single-key read. The returned revision is the one
// the read was served at, which can be newer than the key's ModRevision.
func (s *Store) readEntry(full string, resp *clientv3.GetResponse) (kvstore.Entry, int64, error) {
	rev := resp.Header.GetRevision()
	if len(resp.Kvs) == 0 {
		return kvstore.Entry{Key: s.userKey(full), Version: rev}, rev, nil
	}
	kv := resp.Kvs[0]
	e, err := s.entry(kv.Key, kv.Value, kv.ModRevision)
	if err != nil {
		return kvstore.Entry{}, 0, err
	}
	return e, rev, nil
}

func (s *Store) entry(key, raw []byte, rev int64) (kvstore.Entry, error) {
	v, err := kvstore.Decode(raw)
	if err != nil {
		return kvstore.Entry{}, fmt.Errorf("key %s: %w", key, err)
	}
	return kvstore.Entry{Key: s.userKey(string(key)), Value: v, Version: rev, Exists: true}, nil
}

func (s *Store) Put(ctx context.Context, key string, value any) error {
	full, err := s.fullKey(key)
	if err != nil {
		return err
	}
	raw, err := kvstore.Encode(value)
	if err != nil {
		return err
	}
	if s.isClosed() {
		return kvstore.ErrClosed
	}
	if _, err := s.cli.Put(ctx, full, string(raw)); err != nil {
		return fmt.Errorf("put %s: %w", key, err)
	}
	s.logger.Debug("key written", "key", full)
	return nil
}

func (s *Store) Delete(ctx context.Context, key string) error {
	full, err := s.fullKey(key)
	if err != nil {
		return err
	}
	if s.isClosed() {
		return kvstore.ErrClosed
	}
	if _, err := s.cli.Delete(ctx, full); err != nil {
		return fmt.Errorf("delete %s: %w", key, err)
	}
	return nil
}

func (s *Store) List(ctx context.Context, prefix string, opts kvstore.ListOptions) ([]kvstore.Entry, error) {
	entries, _, err := s.list(ctx, prefix, opts)
	return entries, err
}

// list returns the listing and the revision it was read at.
func (s *Store) list(ctx context.Context, prefix string, opts kvstore.ListOptions) ([]kvstore.Entry, int64, error) {
	full, err := s.fullKey(prefix)
	if err != nil {
		return nil, 0, err
	}
	if s.isClosed() {
		return nil, 0, kvstore.ErrClosed
	}

	order := clientv3.SortAscend
	if opts.Last {
		order = clientv3.SortDescend
	}
	ops := []clientv3.OpOption{clientv3.WithPrefix(), clientv3.WithSort(clientv3.SortByKey, order)}
	if opts.Limit > 0 {
		ops = append(ops, clientv3.WithLimit(int64(opts.Limit)))
	}
	resp, err := s.cli.Get(ctx, full+"/", ops...)
	if err != nil {
		return nil, 0, fmt.Errorf("list %s: %w", prefix, err)
	}

	entries := make([]kvstore.Entry, 0, len(resp.Kvs))
	for _, kv := range resp.Kvs {
		e, err := s.entry(kv.Key, kv.Value, kv.ModRevision)
		if err != nil {
			return nil, 0, err
		}
		entries = append(entries, e)
	}
	if opts.Last {
		slices.Reverse(entries)
	}
	return entries, resp.Header.Revision, nil
}

func (s *Store) Watch(ctx context.Context, key string, fn func(kvstore.Entry)) (kvstore.Unsubscribe, error) {
	full, err := s.fullKey(key)
	if err != nil {
		return nil, err
	}
	// Watching from the read revision rather than the key's ModRevision
	// keeps the start revision past any compaction.
	initial, rev, err := s.get(ctx, key)
	if err != nil {
		return nil, err
	}

	return s.run(ctx, func(wctx context.Context) {
		fn(initial)
		for resp := range s.cli.Watch(wctx, full, clientv3.WithRev(rev+1)) {
			if err := resp.Err(); err != nil {
				s.logger.Warn("etcd watch failed", "key", full, "error", err)
				return
			}
			for _, ev := range resp.Events {
				var e kvstore.Entry
				switch ev.Type {
				case clientv3.EventTypePut:
					e, err = s.entry(ev.Kv.Key, ev.Kv.Value, ev.Kv.ModRevision)
					if err != nil {
						s.logger.Warn("etcd watch decode failed", "key", full, "error", err)
						continue
					}
				case clientv3.EventTypeDelete:
					e = kvstore.Entry{Key: s.userKey(full), Version: ev.Kv.ModRevision}
				}
				if wctx.Err() != nil {
					return
				}
				fn(e)
			}
		}
	})
}

func (s *Store) WatchPrefix(ctx context.Context, prefix string, opts kvstore.ListOptions, fn func([]kvstore.Entry)) (kvstore.Unsubscribe, error) {
	full, err := s.fullKey(prefix)
	if err != nil {
		return nil, err
	}
	initial, rev, err := s.list(ctx, prefix, opts)
	if err != nil {
		return nil, err
	}

	return s.run(ctx, func(wctx context.Context) {
		fn(initial)
		last := initial
		for resp := range s.cli.Watch(wctx, full+"/", clientv3.WithPrefix(), clientv3.WithRev(rev+1)) {
			if err := resp.Err(); err != nil {
				s.logger.Warn("etcd watch failed", "prefix", full, "error", err)
				return
			}
			entries, _, err := s.list(wctx, prefix, opts)
			if err != nil {
				if wctx.Err() == nil {
					s.logger.Warn("etcd relist failed", "prefix", full, "error", err)
				}
				continue
			}
			if kvstore.SameEntries(entries, last) || wctx.Err() != nil {
				continue
			}
			last = entries
			fn(entries)
		}
	})
}

// run starts a watch goroutine bound to ctx, the returned Unsubscribe and
// the store's lifetime.
func (s *Store) run(ctx context.Context, loop func(wctx context.Context)) (kvstore.Unsubscribe, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, kvstore.ErrClosed
	}
	wctx, cancel := context.WithCancel(ctx)
	stop := context.AfterFunc(s.ctx, cancel)
	s.wg.Add(1)
	s.mu.Unlock()

	go func() {
		defer s.wg.Done()
		defer stop()
		loop(clientv3.WithRequireLeader(wctx))
	}()
	return func() { cancel() }, nil
}

// Close cancels all watches and, when the client was created by Dial,
// closes it.
func (s *Store) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	s.cancel()
	s.wg.Wait()
	if s.owned {
		return s.cli.Close()
	}
	return nil
}
