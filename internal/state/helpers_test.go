package state

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/roach88/livestate/internal/auth"
	"github.com/roach88/livestate/internal/docstore"
	"github.com/roach88/livestate/internal/docstore/memstore"
	"github.com/roach88/livestate/internal/kvstore"
	"github.com/roach88/livestate/internal/kvstore/memkv"
	"github.com/roach88/livestate/internal/reactive"
)

const (
	waitFor = 2 * time.Second
	tick    = 5 * time.Millisecond
)

var errBackend = errors.New("backend unavailable")

func newMemStore(t *testing.T) *memstore.Store {
	t.Helper()
	s := memstore.New()
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func mustDoc(t *testing.T, path string) docstore.DocRef {
	t.Helper()
	ref, err := docstore.Doc(path)
	require.NoError(t, err)
	return ref
}

func put(t *testing.T, s docstore.Store, path string, fields docstore.Fields) {
	t.Helper()
	require.NoError(t, s.SetMerge(context.Background(), mustDoc(t, path), fields))
}

// loop returns a scheduler whose deferred releases run on Drain.
func loop(t *testing.T) *reactive.Loop {
	t.Helper()
	l := reactive.NewLoop()
	t.Cleanup(l.Close)
	return l
}

// gatedStore holds Add calls until the gate is opened.
type gatedStore struct {
	docstore.Store
	entered chan struct{}
	gate    chan struct{}
	addErr  error
}

func newGatedStore(inner docstore.Store) *gatedStore {
	return &gatedStore{
		Store:   inner,
		entered: make(chan struct{}, 8),
		gate:    make(chan struct{}),
	}
}

func (g *gatedStore) Add(ctx context.Context, c docstore.CollectionRef, fields docstore.Fields) (docstore.DocRef, error) {
	g.entered <- struct{}{}
	<-g.gate
	if g.addErr != nil {
		return docstore.DocRef{}, g.addErr
	}
	return g.Store.Add(ctx, c, fields)
}

// slowWatchStore subscribes on every WatchDoc but holds the first one's
// return until the gate is opened.
type slowWatchStore struct {
	docstore.Store
	calls   atomic.Int32
	entered chan struct{}
	gate    chan struct{}
}

func newSlowWatchStore(inner docstore.Store) *slowWatchStore {
	return &slowWatchStore{
		Store:   inner,
		entered: make(chan struct{}),
		gate:    make(chan struct{}),
	}
}

func (s *slowWatchStore) WatchDoc(ctx context.Context, ref docstore.DocRef, fn func(docstore.DocumentSnapshot)) (docstore.Unsubscribe, error) {
	unsub, err := s.Store.WatchDoc(ctx, ref, fn)
	if s.calls.Add(1) == 1 {
		close(s.entered)
		<-s.gate
	}
	return unsub, err
}

// recordingStore keeps every SetMerge payload.
type recordingStore struct {
	docstore.Store
	mu     sync.Mutex
	merges []docstore.Fields
}

func (r *recordingStore) SetMerge(ctx context.Context, ref docstore.DocRef, fields docstore.Fields) error {
	r.mu.Lock()
	r.merges = append(r.merges, fields.Clone())
	r.mu.Unlock()
	return r.Store.SetMerge(ctx, ref, fields)
}

func (r *recordingStore) Merges() []docstore.Fields {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]docstore.Fields(nil), r.merges...)
}

// failingStore fails every read.
type failingStore struct {
	docstore.Store
}

func (failingStore) GetDocs(context.Context, docstore.Query) (docstore.QuerySnapshot, error) {
	return docstore.QuerySnapshot{}, errBackend
}

func (failingStore) GetDoc(context.Context, docstore.DocRef) (docstore.DocumentSnapshot, error) {
	return docstore.DocumentSnapshot{}, errBackend
}

func (failingStore) WatchQuery(context.Context, docstore.Query, func(docstore.QuerySnapshot)) (docstore.Unsubscribe, error) {
	return nil, errBackend
}

// errorSink collects OnError reports.
type errorSink struct {
	mu   sync.Mutex
	errs []error
}

func (e *errorSink) Report(err error) {
	e.mu.Lock()
	e.errs = append(e.errs, err)
	e.mu.Unlock()
}

func (e *errorSink) Len() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.errs)
}

func newMemKV(t *testing.T) *memkv.Store {
	t.Helper()
	s := memkv.New(nil)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func listLimit(n int) kvstore.ListOptions {
	return kvstore.ListOptions{Limit: n}
}

// lateProvider reports nothing until fire is called.
type lateProvider struct {
	mu  sync.Mutex
	fns []func(*auth.User)
}

func (p *lateProvider) OnChange(fn func(*auth.User)) auth.Unsubscribe {
	p.mu.Lock()
	p.fns = append(p.fns, fn)
	p.mu.Unlock()
	return func() {}
}

func (p *lateProvider) fire(u *auth.User) {
	p.mu.Lock()
	fns := append(([]func(*auth.User))(nil), p.fns...)
	p.mu.Unlock()
	for _, fn := range fns {
		fn(u)
	}
}

func staticUser(uid string) auth.Provider {
	return auth.Static{User: &auth.User{UID: uid}}
}
