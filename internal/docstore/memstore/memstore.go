// Package memstore is an in-memory docstore.Store.
//
// It is the default backend for tests, scenarios and the CLI's "memory"
// driver. Writes stamp versions from a docstore.Clock; watches are served by
// a watch.Hub that re-evaluates each watched document or query after every
// write and delivers only when the result changed.
package memstore

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/roach88/livestate/internal/docstore"
	"github.com/roach88/livestate/internal/ids"
	"github.com/roach88/livestate/internal/watch"
)

type record struct {
	fields  docstore.Fields
	version int64
}

// Store is an in-memory document store.
//
// Thread-safety: all methods are safe for concurrent use.
type Store struct {
	mu     sync.RWMutex
	colls  map[string]map[string]record
	closed bool

	clock  *docstore.Clock
	hub    *watch.Hub
	ids    ids.Generator
	logger *slog.Logger
}

var _ docstore.Store = (*Store)(nil)

// Option configures a Store.
type Option func(*Store)

// WithIDGenerator sets the generator used by Add. Defaults to ids.UUIDv7.
func WithIDGenerator(g ids.Generator) Option {
	return func(s *Store) { s.ids = g }
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// New creates an empty store.
func New(opts ...Option) *Store {
	s := &Store{
		colls:  make(map[string]map[string]record),
		clock:  docstore.NewClock(),
		hub:    watch.NewHub(),
		ids:    ids.UUIDv7{},
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) GetDoc(ctx context.Context, ref docstore.DocRef) (docstore.DocumentSnapshot, error) {
	if err := ctx.Err(); err != nil {
		return docstore.DocumentSnapshot{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return docstore.DocumentSnapshot{}, docstore.ErrClosed
	}
	return s.docLocked(ref), nil
}

func (s *Store) docLocked(ref docstore.DocRef) docstore.DocumentSnapshot {
	rec, ok := s.colls[ref.Collection][ref.ID]
	if !ok {
		return docstore.DocumentSnapshot{Ref: ref, Version: s.clock.Current()}
	}
	return docstore.DocumentSnapshot{
		Ref:     ref,
		Fields:  rec.fields.Clone(),
		Version: rec.version,
		Exists:  true,
	}
}

func (s *Store) GetDocs(ctx context.Context, q docstore.Query) (docstore.QuerySnapshot, error) {
	if err := q.Validate(); err != nil {
		return docstore.QuerySnapshot{}, err
	}
	if err := ctx.Err(); err != nil {
		return docstore.QuerySnapshot{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return docstore.QuerySnapshot{}, docstore.ErrClosed
	}
	return s.queryLocked(q), nil
}

func (s *Store) queryLocked(q docstore.Query) docstore.QuerySnapshot {
	coll := s.colls[q.Collection.Path]
	all := make([]docstore.DocumentSnapshot, 0, len(coll))
	for id, rec := range coll {
		all = append(all, docstore.DocumentSnapshot{
			Ref:     docstore.DocRef{Collection: q.Collection.Path, ID: id},
			Fields:  rec.fields,
			Version: rec.version,
			Exists:  true,
		})
	}
	docs := q.Apply(all)
	for i := range docs {
		docs[i].Fields = docs[i].Fields.Clone()
	}
	return docstore.QuerySnapshot{Query: q, Docs: docs, Version: s.clock.Current()}
}

func (s *Store) WatchDoc(ctx context.Context, ref docstore.DocRef, fn func(docstore.DocumentSnapshot)) (docstore.Unsubscribe, error) {
	var (
		last docstore.DocumentSnapshot
		seen bool
	)
	return s.watch(ctx, func(wctx context.Context) {
		s.mu.RLock()
		if s.closed {
			s.mu.RUnlock()
			return
		}
		snap := s.docLocked(ref)
		s.mu.RUnlock()

		if seen && snap.SameState(last) {
			return
		}
		if wctx.Err() != nil || ctx.Err() != nil {
			return
		}
		last, seen = snap, true
		fn(snap)
	})
}

func (s *Store) WatchQuery(ctx context.Context, q docstore.Query, fn func(docstore.QuerySnapshot)) (docstore.Unsubscribe, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}
	var (
		last docstore.QuerySnapshot
		seen bool
	)
	return s.watch(ctx, func(wctx context.Context) {
		s.mu.RLock()
		if s.closed {
			s.mu.RUnlock()
			return
		}
		snap := s.queryLocked(q)
		s.mu.RUnlock()

		if seen && snap.SameResult(last) {
			return
		}
		if wctx.Err() != nil || ctx.Err() != nil {
			return
		}
		last, seen = snap, true
		fn(snap)
	})
}

// watch registers poll with the hub and ties the watch to ctx.
func (s *Store) watch(ctx context.Context, poll watch.Poll) (docstore.Unsubscribe, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	closed := s.closed
	s.mu.RUnlock()
	if closed {
		return nil, docstore.ErrClosed
	}

	cancel, err := s.hub.Watch(poll)
	if err != nil {
		return nil, docstore.ErrClosed
	}
	stop := context.AfterFunc(ctx, cancel)
	return func() {
		stop()
		cancel()
	}, nil
}

func (s *Store) SetMerge(ctx context.Context, ref docstore.DocRef, fields docstore.Fields) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if ref.Collection == "" || ref.ID == "" {
		return fmt.Errorf("%w: unresolved document", docstore.ErrInvalidPath)
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return docstore.ErrClosed
	}
	coll := s.collLocked(ref.Collection)
	coll[ref.ID] = record{
		fields:  docstore.Merge(coll[ref.ID].fields, fields),
		version: s.clock.Next(),
	}
	s.mu.Unlock()

	s.logger.Debug("document written", "path", ref.Path())
	s.hub.Notify()
	return nil
}

func (s *Store) Add(ctx context.Context, c docstore.CollectionRef, fields docstore.Fields) (docstore.DocRef, error) {
	if c.IsZero() {
		return docstore.DocRef{}, fmt.Errorf("%w: unresolved collection", docstore.ErrInvalidPath)
	}
	ref, err := c.Doc(s.ids.Generate())
	if err != nil {
		return docstore.DocRef{}, err
	}
	if err := s.SetMerge(ctx, ref, fields); err != nil {
		return docstore.DocRef{}, err
	}
	return ref, nil
}

func (s *Store) Delete(ctx context.Context, ref docstore.DocRef) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return docstore.ErrClosed
	}
	coll := s.colls[ref.Collection]
	_, existed := coll[ref.ID]
	if existed {
		delete(coll, ref.ID)
		s.clock.Next()
	}
	s.mu.Unlock()

	if existed {
		s.logger.Debug("document deleted", "path", ref.Path())
		s.hub.Notify()
	}
	return nil
}

func (s *Store) Aggregate(ctx context.Context, q docstore.Query, spec docstore.AggregateSpec) (docstore.AggregateResult, error) {
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	snap, err := s.GetDocs(ctx, q)
	if err != nil {
		return nil, err
	}
	return spec.Compute(snap.Docs), nil
}

// Close cancels every watch. Further calls return docstore.ErrClosed.
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

// Len returns the number of documents in collection path.
func (s *Store) Len(path string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.colls[path])
}

// Watchers returns the number of active watches.
func (s *Store) Watchers() int {
	return s.hub.Len()
}

func (s *Store) collLocked(path string) map[string]record {
	coll, ok := s.colls[path]
	if !ok {
		coll = make(map[string]record)
		s.colls[path] = coll
	}
	return coll
}
