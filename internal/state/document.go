package state

import (
	"context"
	"fmt"
	"sync"

	"github.com/roach88/livestate/internal/auth"
	"github.com/roach88/livestate/internal/docstore"
	"github.com/roach88/livestate/internal/schema"
)

// WatchState is the listen-mode state of a Document.
type WatchState int

const (
	// NoRef: nothing is watched.
	NoRef WatchState = iota
	// WatchingQuery: waiting for the query to match a document.
	WatchingQuery
	// WatchingDoc: watching one document.
	WatchingDoc
)

func (s WatchState) String() string {
	switch s {
	case WatchingQuery:
		return "watching-query"
	case WatchingDoc:
		return "watching-doc"
	default:
		return "no-ref"
	}
}

// DocumentOptions configure a Document. Exactly one addressing mode must be
// used: Path (direct), or CollectionPath together with Query (query-first:
// the first match of the query is the document).
type DocumentOptions[T any] struct {
	Options
	Store          docstore.Store
	Path           PathSpec
	CollectionPath PathSpec
	Query          QueryFunc
	Converter      Converter[T]
	// Schema validates the record before Save and SaveField.
	Schema *schema.Schema
}

// Document is a single record kept as *T. A loaded nil pointer means the
// document is confirmed absent (or no reference could be resolved).
type Document[T any] struct {
	*Base[*T]
	opts      DocumentOptions[T]
	conv      Converter[T]
	queryMode bool

	mu       sync.Mutex
	docRef   docstore.DocRef
	hasDoc   bool
	query    docstore.Query
	hasQuery bool

	state       WatchState
	epoch       uint64 // listen session; transitions inside one keep it
	gen         uint64
	sub         func()
	lostID      string
	lostVersion int64
}

// NewDocument validates opts and creates an unstarted document.
func NewDocument[T any](opts DocumentOptions[T]) (*Document[T], error) {
	if opts.Store == nil {
		return nil, configErr("Store", "required")
	}
	queryMode := opts.Path.IsZero()
	switch {
	case !queryMode && (!opts.CollectionPath.IsZero() || opts.Query != nil):
		return nil, configErr("Path", "direct path cannot be combined with CollectionPath or Query")
	case queryMode && (opts.CollectionPath.IsZero() || opts.Query == nil):
		return nil, configErr("Query", "query-first mode requires both CollectionPath and Query")
	}
	conv, err := defaultConverter(opts.Converter)
	if err != nil {
		return nil, err
	}
	opts.Options = opts.Options.withDefaults("document")

	d := &Document[T]{opts: opts, conv: conv, queryMode: queryMode}
	d.Base = newBase[*T](d, opts.Options)
	return d, nil
}

// Ref returns the current document reference: the configured one in direct
// mode, the last matched one in query-first mode.
func (d *Document[T]) Ref() (docstore.DocRef, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.docRef, d.hasDoc
}

// WatchState returns the listen-mode state.
func (d *Document[T]) WatchState() WatchState {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

func (d *Document[T]) resolve(u *auth.User) error {
	if !d.queryMode {
		path := d.opts.Path.Resolve(u)
		if path == "" {
			d.logger.Debug("document path unresolved")
			return nil
		}
		ref, err := docstore.Doc(path)
		if err != nil {
			return err
		}
		d.mu.Lock()
		d.docRef, d.hasDoc = ref, true
		d.mu.Unlock()
		return nil
	}

	path := d.opts.CollectionPath.Resolve(u)
	if path == "" {
		d.logger.Debug("document collection path unresolved")
		return nil
	}
	coll, err := docstore.Collection(path)
	if err != nil {
		return err
	}
	q := docstore.NewQuery(coll, d.opts.Query(u)...).With(docstore.Limit(1))
	d.mu.Lock()
	d.query, d.hasQuery = q, true
	d.mu.Unlock()
	return nil
}

func (d *Document[T]) fetch(ctx context.Context) error {
	d.mu.Lock()
	ref, hasDoc := d.docRef, d.hasDoc
	q, hasQuery := d.query, d.hasQuery
	d.mu.Unlock()

	switch {
	case d.queryMode && hasQuery:
		snap, err := d.opts.Store.GetDocs(ctx, q)
		if err != nil {
			return err
		}
		if snap.Empty() {
			d.setData(nil)
			return nil
		}
		first := snap.Docs[0]
		d.mu.Lock()
		d.docRef, d.hasDoc = first.Ref, true
		d.mu.Unlock()
		return d.assign(first)
	case !d.queryMode && hasDoc:
		snap, err := d.opts.Store.GetDoc(ctx, ref)
		if err != nil {
			return err
		}
		return d.assign(snap)
	default:
		d.setData(nil)
		return nil
	}
}

func (d *Document[T]) assign(snap docstore.DocumentSnapshot) error {
	if !snap.Exists {
		d.setData(nil)
		return nil
	}
	rec, err := d.conv.FromBackend(snap)
	if err != nil {
		return fmt.Errorf("convert %s: %w", snap.Ref, err)
	}
	d.setData(&rec)
	return nil
}

func (d *Document[T]) listen(ctx context.Context) (func(), error) {
	d.mu.Lock()
	if err := ctx.Err(); err != nil {
		d.mu.Unlock()
		return nil, err
	}
	d.epoch++
	epoch := d.epoch
	hasDoc, hasQuery := d.hasDoc, d.hasQuery
	d.mu.Unlock()

	var err error
	switch {
	case hasDoc:
		err = d.watchDoc(ctx)
	case d.queryMode && hasQuery:
		err = d.watchQuery(ctx)
	default:
		d.setData(nil)
		return func() {}, nil
	}
	if err != nil {
		return nil, err
	}
	return func() { d.teardown(epoch) }, nil
}

// teardown closes the current subscription and drops its pending callbacks,
// unless a later listen session has taken over.
func (d *Document[T]) teardown(epoch uint64) {
	d.mu.Lock()
	if d.epoch != epoch {
		d.mu.Unlock()
		return
	}
	sub := d.sub
	d.sub = nil
	d.gen++
	d.state = NoRef
	d.mu.Unlock()

	if sub != nil {
		sub()
	}
}

// switchToLocked detaches the current subscription, returning it for the
// caller to close, and the generation for the next one. Callers hold d.mu.
func (d *Document[T]) switchToLocked(next WatchState) (gen uint64, prev func()) {
	prev = d.sub
	d.sub = nil
	d.gen++
	d.state = next
	return d.gen, prev
}

// adopt stores sub as the current subscription unless a newer one has
// already replaced it.
func (d *Document[T]) adopt(gen uint64, sub func()) {
	d.mu.Lock()
	if d.gen != gen {
		d.mu.Unlock()
		sub()
		return
	}
	d.sub = sub
	d.mu.Unlock()
}

func (d *Document[T]) watchQuery(ctx context.Context) error {
	d.mu.Lock()
	if err := ctx.Err(); err != nil {
		d.mu.Unlock()
		return err
	}
	q := d.query
	gen, prev := d.switchToLocked(WatchingQuery)
	d.mu.Unlock()
	if prev != nil {
		prev()
	}

	sub, err := d.opts.Store.WatchQuery(ctx, q, func(snap docstore.QuerySnapshot) {
		d.onQuery(ctx, gen, snap)
	})
	if err != nil {
		return err
	}
	d.adopt(gen, sub)
	return nil
}

func (d *Document[T]) watchDoc(ctx context.Context) error {
	d.mu.Lock()
	if err := ctx.Err(); err != nil {
		d.mu.Unlock()
		return err
	}
	ref := d.docRef
	gen, prev := d.switchToLocked(WatchingDoc)
	d.mu.Unlock()
	if prev != nil {
		prev()
	}

	sub, err := d.opts.Store.WatchDoc(ctx, ref, func(snap docstore.DocumentSnapshot) {
		d.onDoc(ctx, gen, snap)
	})
	if err != nil {
		return err
	}
	d.adopt(gen, sub)
	return nil
}

func (d *Document[T]) onQuery(ctx context.Context, gen uint64, snap docstore.QuerySnapshot) {
	d.mu.Lock()
	if gen != d.gen || ctx.Err() != nil {
		d.mu.Unlock()
		return
	}
	if snap.Empty() {
		d.mu.Unlock()
		d.setData(nil)
		return
	}
	first := snap.Docs[0]
	if first.Ref.ID == d.lostID && first.Version <= d.lostVersion {
		// Stale match for the document just lost.
		d.mu.Unlock()
		return
	}
	d.lostID, d.lostVersion = "", 0
	d.docRef, d.hasDoc = first.Ref, true
	d.mu.Unlock()

	d.logger.Debug("query matched document", "id", first.Ref.ID)
	if err := d.watchDoc(ctx); err != nil {
		d.report(ctx, "listen", err)
	}
}

func (d *Document[T]) onDoc(ctx context.Context, gen uint64, snap docstore.DocumentSnapshot) {
	d.mu.Lock()
	if gen != d.gen || ctx.Err() != nil {
		d.mu.Unlock()
		return
	}
	if snap.Exists || !d.queryMode {
		d.mu.Unlock()
		if err := d.assign(snap); err != nil {
			d.report(ctx, "convert", err)
		}
		return
	}
	d.lostID, d.lostVersion = snap.Ref.ID, snap.Version
	d.hasDoc = false
	d.mu.Unlock()

	d.logger.Debug("watched document gone, returning to query", "id", snap.Ref.ID)
	d.setData(nil)
	if err := d.watchQuery(ctx); err != nil {
		d.report(ctx, "listen", err)
	}
}

// Save merge-writes the whole current record. Without a reference or value
// it is a logged no-op.
func (d *Document[T]) Save(ctx context.Context) error {
	ref, rec, ok := d.target()
	if !ok {
		return nil
	}
	fields, err := d.conv.ToBackend(*rec)
	if err != nil {
		return fmt.Errorf("save: %w", err)
	}
	if err := d.opts.Schema.Validate(fields); err != nil {
		return fmt.Errorf("save: %w", err)
	}
	if err := d.opts.Store.SetMerge(ctx, ref, fields); err != nil {
		return fmt.Errorf("save: %w", err)
	}
	return nil
}

// SaveField updates one top-level field in memory and merge-writes the full
// record. Without a reference or value it is a logged no-op.
func (d *Document[T]) SaveField(ctx context.Context, key string, update FieldUpdate) error {
	ref, rec, ok := d.target()
	if !ok {
		return nil
	}
	fields, err := d.conv.ToBackend(*rec)
	if err != nil {
		return fmt.Errorf("save %s: %w", key, err)
	}
	prev := fields[key]
	fields[key] = update.apply(prev)
	if err := d.opts.Schema.Validate(fields); err != nil {
		return fmt.Errorf("save %s: %w", key, err)
	}

	next, err := d.conv.FromBackend(docstore.DocumentSnapshot{Ref: ref, Fields: fields, Exists: true})
	if err != nil {
		return fmt.Errorf("save %s: %w", key, err)
	}
	d.setData(&next)

	if err := d.opts.Store.SetMerge(ctx, ref, fields); err != nil {
		return fmt.Errorf("save %s: %w", key, err)
	}
	return nil
}

func (d *Document[T]) target() (docstore.DocRef, *T, bool) {
	ref, ok := d.Ref()
	if !ok {
		d.logger.Warn("save ignored: document reference not resolved")
		return docstore.DocRef{}, nil, false
	}
	rec, _ := d.Data()
	if rec == nil {
		d.logger.Warn("save ignored: no document loaded", "path", ref.Path())
		return docstore.DocRef{}, nil, false
	}
	return ref, rec, true
}
