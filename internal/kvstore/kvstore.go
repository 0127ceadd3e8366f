// Package kvstore defines the hierarchical key-value backend used by the node
// resources: a realtime-database style tree of JSON values addressed by
// slash-separated keys.
//
// Values are JSON-like Go values (maps, slices, strings, numbers, booleans,
// nil). Implementations persist them as canonical JSON, so a value read back
// has the shape encoding/json produces.
package kvstore

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrClosed is returned by stores after Close.
var ErrClosed = errors.New("kv store closed")

// ErrInvalidKey is returned for empty or malformed keys.
var ErrInvalidKey = errors.New("invalid key")

// Entry is the state of one key at a point in time. Version is the store
// revision of the last write, or the current revision when the key is
// missing.
type Entry struct {
	Key     string
	Value   any
	Version int64
	Exists  bool
}

// Name returns the last key segment.
func (e Entry) Name() string {
	if i := strings.LastIndexByte(e.Key, '/'); i >= 0 {
		return e.Key[i+1:]
	}
	return e.Key
}

// ListOptions restricts a child listing. Children are ordered by key.
// Limit > 0 keeps the first Limit children, or the last Limit when Last is
// set.
type ListOptions struct {
	Limit int
	Last  bool
}

// Apply trims a key-ordered listing according to the options.
func (o ListOptions) Apply(entries []Entry) []Entry {
	if o.Limit <= 0 || len(entries) <= o.Limit {
		return entries
	}
	if o.Last {
		return entries[len(entries)-o.Limit:]
	}
	return entries[:o.Limit]
}

// Unsubscribe cancels a watch. It is idempotent.
type Unsubscribe func()

// Store is a hierarchical key-value store with change notification.
//
// Callbacks of one watch run in order, never concurrently and never on the
// caller's goroutine.
type Store interface {
	Get(ctx context.Context, key string) (Entry, error)
	Put(ctx context.Context, key string, value any) error
	Delete(ctx context.Context, key string) error

	// List returns the entries below prefix ("rooms/r1" lists
	// "rooms/r1/a", "rooms/r1/b/c", ...), ordered by key.
	List(ctx context.Context, prefix string, opts ListOptions) ([]Entry, error)

	// Watch delivers the key's initial state and every change.
	Watch(ctx context.Context, key string, fn func(Entry)) (Unsubscribe, error)

	// WatchPrefix delivers the listing below prefix initially and after
	// every change to it.
	WatchPrefix(ctx context.Context, prefix string, opts ListOptions, fn func([]Entry)) (Unsubscribe, error)

	Close() error
}

// CleanKey validates key and strips surrounding slashes.
func CleanKey(key string) (string, error) {
	k := strings.Trim(key, "/")
	if k == "" {
		return "", fmt.Errorf("%w: empty key", ErrInvalidKey)
	}
	for _, seg := range strings.Split(k, "/") {
		if seg == "" {
			return "", fmt.Errorf("%w: empty segment in %q", ErrInvalidKey, key)
		}
	}
	return k, nil
}

// SameEntries reports whether two listings hold the same keys at the same
// versions.
func SameEntries(a, b []Entry) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i].Key != b[i].Key || a[i].Version != b[i].Version {
			return false
		}
	}
	return true
}
