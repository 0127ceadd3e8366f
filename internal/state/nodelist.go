package state

import (
	"context"
	"fmt"
	"sync"

	"github.com/roach88/livestate/internal/auth"
	"github.com/roach88/livestate/internal/ids"
	"github.com/roach88/livestate/internal/kvstore"
)

// Child is one entry of a NodeList.
type Child[T any] struct {
	Key   string `json:"key"`
	Value T      `json:"value"`
}

// NodeListOptions configure a NodeList.
type NodeListOptions struct {
	Options
	KV   kvstore.Store
	Path PathSpec
	// List limits the children kept, in key order.
	List kvstore.ListOptions
	// Keys generates child keys for Push. Defaults to time-ordered UUIDs so
	// pushed children list in insertion order.
	Keys ids.Generator
}

// NodeList is the children of a kvstore key kept as []Child[T], ordered by
// key.
type NodeList[T any] struct {
	*Base[[]Child[T]]
	opts NodeListOptions

	mu     sync.Mutex
	prefix string
	hasRef bool
}

// NewNodeList validates opts and creates an unstarted node list.
func NewNodeList[T any](opts NodeListOptions) (*NodeList[T], error) {
	if opts.KV == nil {
		return nil, configErr("KV", "required")
	}
	if opts.Path.IsZero() {
		return nil, configErr("Path", "required")
	}
	if opts.List.Limit < 0 {
		return nil, configErr("List", "limit must not be negative")
	}
	if opts.Keys == nil {
		opts.Keys = ids.UUIDv7{}
	}
	opts.Options = opts.Options.withDefaults("nodelist")

	l := &NodeList[T]{opts: opts}
	l.Base = newBase[[]Child[T]](l, opts.Options)
	return l, nil
}

// Prefix returns the resolved parent key.
func (l *NodeList[T]) Prefix() (string, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.prefix, l.hasRef
}

func (l *NodeList[T]) resolve(u *auth.User) error {
	path := l.opts.Path.Resolve(u)
	if path == "" {
		return nil
	}
	prefix, err := kvstore.CleanKey(path)
	if err != nil {
		return err
	}
	l.mu.Lock()
	l.prefix, l.hasRef = prefix, true
	l.mu.Unlock()
	return nil
}

func (l *NodeList[T]) fetch(ctx context.Context) error {
	prefix, ok := l.Prefix()
	if !ok {
		l.setData(nil)
		return nil
	}
	entries, err := l.opts.KV.List(ctx, prefix, l.opts.List)
	if err != nil {
		return err
	}
	children, err := l.convert(entries)
	if err != nil {
		return err
	}
	l.setData(children)
	return nil
}

func (l *NodeList[T]) listen(ctx context.Context) (func(), error) {
	prefix, ok := l.Prefix()
	if !ok {
		l.setData(nil)
		return func() {}, nil
	}
	unsub, err := l.opts.KV.WatchPrefix(ctx, prefix, l.opts.List, func(entries []kvstore.Entry) {
		children, err := l.convert(entries)
		if err != nil {
			l.report(ctx, "convert", err)
			return
		}
		l.setData(children)
	})
	if err != nil {
		return nil, err
	}
	return unsub, nil
}

func (l *NodeList[T]) convert(entries []kvstore.Entry) ([]Child[T], error) {
	out := make([]Child[T], 0, len(entries))
	for _, e := range entries {
		v, err := decodeValue[T](e.Value)
		if err != nil {
			return nil, fmt.Errorf("key %s: %w", e.Key, err)
		}
		out = append(out, Child[T]{Key: e.Name(), Value: v})
	}
	return out, nil
}

// Push writes v under a new child key and returns the key. Without a
// resolved prefix it is a logged no-op.
func (l *NodeList[T]) Push(ctx context.Context, v T) (string, error) {
	prefix, ok := l.Prefix()
	if !ok {
		l.logger.Warn("push ignored: node list path not resolved")
		return "", nil
	}
	key := l.opts.Keys.Generate()
	if err := l.opts.KV.Put(ctx, prefix+"/"+key, v); err != nil {
		return "", fmt.Errorf("push: %w", err)
	}
	return key, nil
}

// Remove deletes the child key.
func (l *NodeList[T]) Remove(ctx context.Context, key string) error {
	prefix, ok := l.Prefix()
	if !ok {
		l.logger.Warn("remove ignored: node list path not resolved", "key", key)
		return nil
	}
	child, err := kvstore.CleanKey(prefix + "/" + key)
	if err != nil {
		return fmt.Errorf("remove: %w", err)
	}
	if err := l.opts.KV.Delete(ctx, child); err != nil {
		return fmt.Errorf("remove: %w", err)
	}
	return nil
}
