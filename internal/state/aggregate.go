package state

import (
	"context"
	"sync"

	"github.com/roach88/livestate/internal/auth"
	"github.com/roach88/livestate/internal/docstore"
)

// AggregateOptions configure an Aggregate.
type AggregateOptions struct {
	Options
	Store docstore.Store
	Path  PathSpec
	Query QueryFunc
	Spec  docstore.AggregateSpec
}

// Aggregate computes aggregations over a collection query. It only fetches;
// aggregations have no live form.
type Aggregate struct {
	*Base[docstore.AggregateResult]
	opts AggregateOptions

	mu     sync.Mutex
	query  docstore.Query
	hasRef bool
}

// NewAggregate validates opts and creates an unstarted aggregate.
func NewAggregate(opts AggregateOptions) (*Aggregate, error) {
	if opts.Store == nil {
		return nil, configErr("Store", "required")
	}
	if opts.Path.IsZero() {
		return nil, configErr("Path", "required")
	}
	if opts.Listen {
		return nil, configErr("Listen", "aggregates cannot be listened to")
	}
	if err := opts.Spec.Validate(); err != nil {
		return nil, configErr("Spec", "%v", err)
	}
	opts.Options = opts.Options.withDefaults("aggregate")

	a := &Aggregate{opts: opts}
	a.Base = newBase[docstore.AggregateResult](a, opts.Options)
	return a, nil
}

func (a *Aggregate) resolve(u *auth.User) error {
	path := a.opts.Path.Resolve(u)
	if path == "" {
		return nil
	}
	ref, err := docstore.Collection(path)
	if err != nil {
		return err
	}
	var cs []docstore.Constraint
	if a.opts.Query != nil {
		cs = a.opts.Query(u)
	}
	a.mu.Lock()
	a.query, a.hasRef = docstore.NewQuery(ref, cs...), true
	a.mu.Unlock()
	return nil
}

func (a *Aggregate) fetch(ctx context.Context) error {
	a.mu.Lock()
	q, ok := a.query, a.hasRef
	a.mu.Unlock()
	if !ok {
		a.setData(nil)
		return nil
	}
	res, err := a.opts.Store.Aggregate(ctx, q, a.opts.Spec)
	if err != nil {
		return err
	}
	a.setData(res)
	return nil
}

func (a *Aggregate) listen(context.Context) (func(), error) {
	return nil, configErr("Listen", "aggregates cannot be listened to")
}
