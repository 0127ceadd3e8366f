package state

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/roach88/livestate/internal/auth"
	"github.com/roach88/livestate/internal/docstore"
	"github.com/roach88/livestate/internal/ids"
	"github.com/roach88/livestate/internal/schema"
)

// CollectionOptions configure a Collection.
type CollectionOptions[T any] struct {
	Options
	Store docstore.Store
	// Path is the collection path. Required.
	Path PathSpec
	// Query adds constraints to the collection query.
	Query     QueryFunc
	Converter Converter[T]
	// Schema validates records before Add.
	Schema *schema.Schema
	// TempIDs generates optimistic placeholder ids. Defaults to ids.Temp.
	TempIDs ids.Generator
}

// Collection is a query result set kept as []T.
//
// Data is nil while no collection reference is resolved and a non-nil
// (possibly empty) slice once results arrived.
type Collection[T any] struct {
	*Base[[]T]
	opts CollectionOptions[T]
	conv Converter[T]

	mu     sync.Mutex
	ref    docstore.CollectionRef
	query  docstore.Query
	hasRef bool
}

// NewCollection validates opts and creates an unstarted collection.
func NewCollection[T any](opts CollectionOptions[T]) (*Collection[T], error) {
	if opts.Store == nil {
		return nil, configErr("Store", "required")
	}
	if opts.Path.IsZero() {
		return nil, configErr("Path", "required")
	}
	conv, err := defaultConverter(opts.Converter)
	if err != nil {
		return nil, err
	}
	if opts.TempIDs == nil {
		opts.TempIDs = ids.Temp{}
	}
	opts.Options = opts.Options.withDefaults("collection")

	c := &Collection[T]{opts: opts, conv: conv}
	c.Base = newBase[[]T](c, opts.Options)
	return c, nil
}

// Ref returns the resolved collection reference.
func (c *Collection[T]) Ref() (docstore.CollectionRef, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ref, c.hasRef
}

func (c *Collection[T]) resolve(u *auth.User) error {
	path := c.opts.Path.Resolve(u)
	if path == "" {
		c.logger.Debug("collection path unresolved")
		return nil
	}
	ref, err := docstore.Collection(path)
	if err != nil {
		return err
	}
	var cs []docstore.Constraint
	if c.opts.Query != nil {
		cs = c.opts.Query(u)
	}

	c.mu.Lock()
	c.ref, c.query, c.hasRef = ref, docstore.NewQuery(ref, cs...), true
	c.mu.Unlock()
	return nil
}

func (c *Collection[T]) currentQuery() (docstore.Query, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.query, c.hasRef
}

func (c *Collection[T]) fetch(ctx context.Context) error {
	q, ok := c.currentQuery()
	if !ok {
		c.setData(nil)
		return nil
	}
	snap, err := c.opts.Store.GetDocs(ctx, q)
	if err != nil {
		return err
	}
	recs, err := c.convert(snap)
	if err != nil {
		return err
	}
	c.setData(recs)
	return nil
}

func (c *Collection[T]) listen(ctx context.Context) (func(), error) {
	q, ok := c.currentQuery()
	if !ok {
		c.setData(nil)
		return func() {}, nil
	}
	unsub, err := c.opts.Store.WatchQuery(ctx, q, func(snap docstore.QuerySnapshot) {
		recs, err := c.convert(snap)
		if err != nil {
			c.report(ctx, "convert", err)
			return
		}
		c.setData(recs)
	})
	if err != nil {
		return nil, err
	}
	return unsub, nil
}

func (c *Collection[T]) convert(snap docstore.QuerySnapshot) ([]T, error) {
	recs := make([]T, 0, len(snap.Docs))
	for _, d := range snap.Docs {
		rec, err := c.conv.FromBackend(d)
		if err != nil {
			return nil, fmt.Errorf("convert %s: %w", d.Ref, err)
		}
		recs = append(recs, rec)
	}
	return recs, nil
}

// Add appends rec optimistically under a temporary id, writes it, and
// replaces the temporary entry in place with the stored id. It returns the
// stored id. Without a resolved reference Add is a logged no-op. If the
// write fails the optimistic entry is removed.
func (c *Collection[T]) Add(ctx context.Context, rec T) (string, error) {
	ref, ok := c.Ref()
	if !ok {
		c.logger.Warn("add ignored: collection reference not resolved")
		return "", nil
	}
	fields, err := c.conv.ToBackend(rec)
	if err != nil {
		return "", fmt.Errorf("add: %w", err)
	}
	if err := c.opts.Schema.Validate(fields); err != nil {
		return "", fmt.Errorf("add: %w", err)
	}

	tempID := c.opts.TempIDs.Generate()
	optimistic, err := c.conv.WithID(rec, tempID)
	if err != nil {
		return "", fmt.Errorf("add: %w", err)
	}
	c.update(func(cur []T, _ bool) []T {
		return append(slices.Clip(cur), optimistic)
	})

	docRef, err := c.opts.Store.Add(ctx, ref, fields)
	if err != nil {
		c.update(func(cur []T, _ bool) []T {
			return slices.DeleteFunc(slices.Clone(cur), func(e T) bool { return c.conv.ID(e) == tempID })
		})
		return "", fmt.Errorf("add: %w", err)
	}

	confirmed, err := c.conv.WithID(rec, docRef.ID)
	if err != nil {
		return docRef.ID, fmt.Errorf("add: %w", err)
	}
	c.update(func(cur []T, _ bool) []T {
		out := slices.Clone(cur)
		for i, e := range out {
			if c.conv.ID(e) == tempID {
				out[i] = confirmed
			}
		}
		return out
	})
	c.logger.Debug("record added", "id", docRef.ID)
	return docRef.ID, nil
}

// Delete removes document id from the collection. The local value is left
// to the next fetch or snapshot. Without a resolved reference Delete is a
// logged no-op.
func (c *Collection[T]) Delete(ctx context.Context, id string) error {
	ref, ok := c.Ref()
	if !ok {
		c.logger.Warn("delete ignored: collection reference not resolved", "id", id)
		return nil
	}
	docRef, err := ref.Doc(id)
	if err != nil {
		return fmt.Errorf("delete: %w", err)
	}
	if err := c.opts.Store.Delete(ctx, docRef); err != nil {
		return fmt.Errorf("delete: %w", err)
	}
	return nil
}
