package state

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/roach88/livestate/internal/auth"
	"github.com/roach88/livestate/internal/kvstore"
)

// NodeOptions configure a Node.
type NodeOptions[T any] struct {
	Options
	KV   kvstore.Store
	Path PathSpec
	// Autosave writes through on every Set.
	Autosave bool
}

// Node is one key of a kvstore kept as *T. A loaded nil pointer means the
// key does not exist.
type Node[T any] struct {
	*Base[*T]
	opts NodeOptions[T]

	mu     sync.Mutex
	key    string
	hasKey bool
}

// NewNode validates opts and creates an unstarted node.
func NewNode[T any](opts NodeOptions[T]) (*Node[T], error) {
	if opts.KV == nil {
		return nil, configErr("KV", "required")
	}
	if opts.Path.IsZero() {
		return nil, configErr("Path", "required")
	}
	opts.Options = opts.Options.withDefaults("node")

	n := &Node[T]{opts: opts}
	n.Base = newBase[*T](n, opts.Options)
	return n, nil
}

// Key returns the resolved key.
func (n *Node[T]) Key() (string, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.key, n.hasKey
}

func (n *Node[T]) resolve(u *auth.User) error {
	path := n.opts.Path.Resolve(u)
	if path == "" {
		return nil
	}
	key, err := kvstore.CleanKey(path)
	if err != nil {
		return err
	}
	n.mu.Lock()
	n.key, n.hasKey = key, true
	n.mu.Unlock()
	return nil
}

func (n *Node[T]) fetch(ctx context.Context) error {
	key, ok := n.Key()
	if !ok {
		n.setData(nil)
		return nil
	}
	e, err := n.opts.KV.Get(ctx, key)
	if err != nil {
		return err
	}
	return n.assign(e)
}

func (n *Node[T]) listen(ctx context.Context) (func(), error) {
	key, ok := n.Key()
	if !ok {
		n.setData(nil)
		return func() {}, nil
	}
	unsub, err := n.opts.KV.Watch(ctx, key, func(e kvstore.Entry) {
		if err := n.assign(e); err != nil {
			n.report(ctx, "convert", err)
		}
	})
	if err != nil {
		return nil, err
	}
	return unsub, nil
}

func (n *Node[T]) assign(e kvstore.Entry) error {
	if !e.Exists {
		n.setData(nil)
		return nil
	}
	v, err := decodeValue[T](e.Value)
	if err != nil {
		return fmt.Errorf("key %s: %w", e.Key, err)
	}
	n.setData(&v)
	return nil
}

// Set replaces the local value and, with Autosave, writes it.
func (n *Node[T]) Set(ctx context.Context, v T) error {
	n.setData(&v)
	if n.opts.Autosave {
		return n.Save(ctx)
	}
	return nil
}

// Save writes the current value. Without a key or value it is a logged
// no-op.
func (n *Node[T]) Save(ctx context.Context) error {
	key, v, ok := n.target()
	if !ok {
		return nil
	}
	if err := n.opts.KV.Put(ctx, key, *v); err != nil {
		return fmt.Errorf("save: %w", err)
	}
	return nil
}

// SaveField updates one field of an object value and writes the whole
// value.
func (n *Node[T]) SaveField(ctx context.Context, field string, update FieldUpdate) error {
	key, v, ok := n.target()
	if !ok {
		return nil
	}
	m, err := toMap(*v)
	if err != nil {
		return fmt.Errorf("save %s: %w", field, err)
	}
	m[field] = update.apply(m[field])
	next, err := fromMap[T](m)
	if err != nil {
		return fmt.Errorf("save %s: %w", field, err)
	}
	n.setData(&next)
	if err := n.opts.KV.Put(ctx, key, next); err != nil {
		return fmt.Errorf("save %s: %w", field, err)
	}
	return nil
}

func (n *Node[T]) target() (string, *T, bool) {
	key, ok := n.Key()
	if !ok {
		n.logger.Warn("save ignored: node key not resolved")
		return "", nil, false
	}
	v, _ := n.Data()
	if v == nil {
		n.logger.Warn("save ignored: no value loaded", "key", key)
		return "", nil, false
	}
	return key, v, true
}

// decodeValue converts a decoded JSON value into T.
func decodeValue[T any](v any) (T, error) {
	var out T
	if direct, ok := v.(T); ok {
		return direct, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return out, fmt.Errorf("encode value: %w", err)
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return out, fmt.Errorf("decode value: %w", err)
	}
	return out, nil
}
