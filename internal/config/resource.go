package config

import (
	"context"
	"fmt"

	"github.com/roach88/livestate/internal/docstore"
	"github.com/roach88/livestate/internal/kvstore"
	"github.com/roach88/livestate/internal/state"
)

// Resource is a configured resource of any kind. Exactly one of the typed
// fields is set, matching Config.Kind.
type Resource struct {
	Name   string
	Config ResourceConfig

	Collection *state.Collection[state.Record]
	Document   *state.Document[state.Record]
	Aggregate  *state.Aggregate
	Node       *state.Node[any]
	NodeList   *state.NodeList[any]
}

type resourceOptions struct {
	listen  *bool
	onError func(error)
}

// ResourceOption customizes a resource built by Env.Resource.
type ResourceOption func(*resourceOptions)

// Listening overrides the configured listen mode.
func Listening(listen bool) ResourceOption {
	return func(o *resourceOptions) { o.listen = &listen }
}

// OnError receives the resource's background failures.
func OnError(fn func(error)) ResourceOption {
	return func(o *resourceOptions) { o.onError = fn }
}

// Resource builds the named resource. Each call returns a new, unstarted
// instance.
func (e *Env) Resource(name string, opts ...ResourceOption) (*Resource, error) {
	rc, ok := e.Config.Resources[name]
	if !ok {
		return nil, fmt.Errorf("unknown resource %q", name)
	}
	var ro resourceOptions
	for _, opt := range opts {
		opt(&ro)
	}
	if ro.listen != nil {
		rc.Listen = *ro.listen
	}

	base := state.Options{
		Name:      name,
		Auth:      e.Session,
		Listen:    rc.Listen,
		Scheduler: e.sched,
		Logger:    e.logger,
		OnError:   ro.onError,
	}
	query := state.Constraints(rc.Constraints()...)
	r := &Resource{Name: name, Config: rc}

	var err error
	switch rc.Kind {
	case KindCollection:
		r.Collection, err = state.NewCollection[state.Record](state.CollectionOptions[state.Record]{
			Options: base,
			Store:   e.Docs,
			Path:    state.Template(rc.Path),
			Query:   query,
			Schema:  e.schemas[name],
		})
	case KindDocument:
		opts := state.DocumentOptions[state.Record]{
			Options: base,
			Store:   e.Docs,
			Schema:  e.schemas[name],
		}
		if rc.Collection != "" {
			opts.CollectionPath = state.Template(rc.Collection)
			opts.Query = query
		} else {
			opts.Path = state.Template(rc.Path)
		}
		r.Document, err = state.NewDocument[state.Record](opts)
	case KindAggregate:
		r.Aggregate, err = state.NewAggregate(state.AggregateOptions{
			Options: base,
			Store:   e.Docs,
			Path:    state.Template(rc.Path),
			Query:   query,
			Spec:    rc.AggregateSpec(),
		})
	case KindNode:
		r.Node, err = state.NewNode[any](state.NodeOptions[any]{
			Options:  base,
			KV:       e.KV,
			Path:     state.Template(rc.Path),
			Autosave: rc.Autosave,
		})
	case KindNodeList:
		r.NodeList, err = state.NewNodeList[any](state.NodeListOptions{
			Options: base,
			KV:      e.KV,
			Path:    state.Template(rc.Path),
			List:    kvstore.ListOptions{Limit: rc.Limit, Last: rc.Last},
			Keys:    e.keys,
		})
	default:
		err = fmt.Errorf("unknown kind %q", rc.Kind)
	}
	if err != nil {
		return nil, fmt.Errorf("resource %s: %w", name, err)
	}
	return r, nil
}

// Refetch reads the resource once.
func (r *Resource) Refetch(ctx context.Context) error {
	switch {
	case r.Collection != nil:
		return r.Collection.Refetch(ctx)
	case r.Document != nil:
		return r.Document.Refetch(ctx)
	case r.Aggregate != nil:
		return r.Aggregate.Refetch(ctx)
	case r.Node != nil:
		return r.Node.Refetch(ctx)
	default:
		return r.NodeList.Refetch(ctx)
	}
}

// Data returns the current value in a JSON-friendly shape: a missing
// document or node is nil.
func (r *Resource) Data() (any, bool) {
	switch {
	case r.Collection != nil:
		v, ok := r.Collection.Data()
		return plain(v), ok
	case r.Document != nil:
		v, ok := r.Document.Data()
		return plain(v), ok
	case r.Aggregate != nil:
		v, ok := r.Aggregate.Data()
		return plain(v), ok
	case r.Node != nil:
		v, ok := r.Node.Data()
		return plain(v), ok
	default:
		v, ok := r.NodeList.Data()
		return plain(v), ok
	}
}

// Observe attaches fn as an observer; the resource starts on the first.
func (r *Resource) Observe(fn func(any)) (release func()) {
	switch {
	case r.Collection != nil:
		return r.Collection.Observe(func(v []state.Record) { fn(plain(v)) })
	case r.Document != nil:
		return r.Document.Observe(func(v *state.Record) { fn(plain(v)) })
	case r.Aggregate != nil:
		return r.Aggregate.Observe(func(v docstore.AggregateResult) { fn(plain(v)) })
	case r.Node != nil:
		return r.Node.Observe(func(v *any) { fn(plain(v)) })
	default:
		return r.NodeList.Observe(func(v []state.Child[any]) { fn(plain(v)) })
	}
}

// Wait blocks until started sessions have finished setting up.
func (r *Resource) Wait() {
	switch {
	case r.Collection != nil:
		r.Collection.Wait()
	case r.Document != nil:
		r.Document.Wait()
	case r.Aggregate != nil:
		r.Aggregate.Wait()
	case r.Node != nil:
		r.Node.Wait()
	default:
		r.NodeList.Wait()
	}
}

// Add stores a record in a collection and returns its id.
func (r *Resource) Add(ctx context.Context, data map[string]any) (string, error) {
	if r.Collection == nil {
		return "", fmt.Errorf("cannot add to %s (kind %s)", r.Name, r.Config.Kind)
	}
	return r.Collection.Add(ctx, data)
}

// Delete removes document id from a collection.
func (r *Resource) Delete(ctx context.Context, id string) error {
	if r.Collection == nil {
		return fmt.Errorf("cannot delete from %s (kind %s)", r.Name, r.Config.Kind)
	}
	return r.Collection.Delete(ctx, id)
}

// SaveField sets one field of a document or node. Without a loaded value
// it does nothing.
func (r *Resource) SaveField(ctx context.Context, field string, value any) error {
	switch {
	case r.Document != nil:
		return r.Document.SaveField(ctx, field, state.Set(value))
	case r.Node != nil:
		return r.Node.SaveField(ctx, field, state.Set(value))
	}
	return fmt.Errorf("cannot save a field of %s (kind %s)", r.Name, r.Config.Kind)
}

// Push appends a child to a node list and returns its key.
func (r *Resource) Push(ctx context.Context, value any) (string, error) {
	if r.NodeList == nil {
		return "", fmt.Errorf("cannot push to %s (kind %s)", r.Name, r.Config.Kind)
	}
	return r.NodeList.Push(ctx, value)
}

// plain converts typed values to nil, []any, map[string]any and scalars.
func plain(v any) any {
	switch val := v.(type) {
	case nil:
		return nil
	case []state.Record:
		if val == nil {
			return nil
		}
		out := make([]any, len(val))
		for i, rec := range val {
			out[i] = map[string]any(rec)
		}
		return out
	case *state.Record:
		if val == nil {
			return nil
		}
		return map[string]any(*val)
	case docstore.AggregateResult:
		if val == nil {
			return nil
		}
		return map[string]any(val)
	case *any:
		if val == nil {
			return nil
		}
		return *val
	case []state.Child[any]:
		if val == nil {
			return nil
		}
		out := make([]any, len(val))
		for i, c := range val {
			out[i] = map[string]any{"key": c.Key, "value": c.Value}
		}
		return out
	default:
		return v
	}
}
