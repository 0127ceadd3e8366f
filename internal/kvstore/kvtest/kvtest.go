// Package kvtest is a conformance suite for kvstore.Store implementations.
package kvtest

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/livestate/internal/kvstore"
)

// Factory creates an empty store for one subtest, rooted so that subtests do
// not observe each other's keys. The suite closes it.
type Factory func(t *testing.T) (s kvstore.Store, root string)

const waitTimeout = 5 * time.Second

// Run exercises every Store operation.
func Run(t *testing.T, newStore Factory) {
	tests := []struct {
		name string
		fn   func(t *testing.T, s kvstore.Store, root string)
	}{
		{"GetMissing", testGetMissing},
		{"PutGet", testPutGet},
		{"Delete", testDelete},
		{"ListOrdersAndLimits", testList},
		{"WatchDeliversChanges", testWatch},
		{"WatchPrefixDeliversListings", testWatchPrefix},
		{"UnsubscribeStopsDelivery", testUnsubscribe},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, root := newStore(t)
			t.Cleanup(func() { _ = s.Close() })
			tt.fn(t, s, root)
		})
	}
}

func testGetMissing(t *testing.T, s kvstore.Store, root string) {
	e, err := s.Get(context.Background(), root+"/nothing")
	require.NoError(t, err)
	assert.False(t, e.Exists)
	assert.Nil(t, e.Value)
}

func testPutGet(t *testing.T, s kvstore.Store, root string) {
	ctx := context.Background()
	key := root + "/users/u1"
	require.NoError(t, s.Put(ctx, key, map[string]any{"name": "Ada", "age": 36}))

	e, err := s.Get(ctx, key)
	require.NoError(t, err)
	require.True(t, e.Exists)
	assert.Equal(t, map[string]any{"name": "Ada", "age": float64(36)}, e.Value)
	assert.Equal(t, "u1", e.Name())

	require.NoError(t, s.Put(ctx, key, "replaced"))
	e2, err := s.Get(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, "replaced", e2.Value)
	assert.Greater(t, e2.Version, e.Version)

	_, err = s.Get(ctx, "")
	assert.ErrorIs(t, err, kvstore.ErrInvalidKey)
}

func testDelete(t *testing.T, s kvstore.Store, root string) {
	ctx := context.Background()
	key := root + "/k"
	require.NoError(t, s.Put(ctx, key, 1))
	require.NoError(t, s.Delete(ctx, key))

	e, err := s.Get(ctx, key)
	require.NoError(t, err)
	assert.False(t, e.Exists)
	require.NoError(t, s.Delete(ctx, key))
}

func testList(t *testing.T, s kvstore.Store, root string) {
	ctx := context.Background()
	for _, k := range []string{"c", "a", "b"} {
		require.NoError(t, s.Put(ctx, root+"/msgs/"+k, k))
	}
	require.NoError(t, s.Put(ctx, root+"/msgsx", "sibling"))

	all, err := s.List(ctx, root+"/msgs", kvstore.ListOptions{})
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, names(all))

	first, err := s.List(ctx, root+"/msgs", kvstore.ListOptions{Limit: 2})
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, names(first))

	last, err := s.List(ctx, root+"/msgs", kvstore.ListOptions{Limit: 2, Last: true})
	require.NoError(t, err)
	assert.Equal(t, []string{"b", "c"}, names(last))

	empty, err := s.List(ctx, root+"/none", kvstore.ListOptions{})
	require.NoError(t, err)
	assert.NotNil(t, empty)
	assert.Empty(t, empty)
}

func testWatch(t *testing.T, s kvstore.Store, root string) {
	ctx := context.Background()
	key := root + "/w"
	ch := make(chan kvstore.Entry, 16)

	unsub, err := s.Watch(ctx, key, func(e kvstore.Entry) { ch <- e })
	require.NoError(t, err)
	defer unsub()

	assert.False(t, next(t, ch).Exists)

	require.NoError(t, s.Put(ctx, key, "v1"))
	e := next(t, ch)
	assert.True(t, e.Exists)
	assert.Equal(t, "v1", e.Value)

	require.NoError(t, s.Delete(ctx, key))
	assert.False(t, next(t, ch).Exists)
}

func testWatchPrefix(t *testing.T, s kvstore.Store, root string) {
	ctx := context.Background()
	prefix := root + "/room"
	ch := make(chan []kvstore.Entry, 16)

	unsub, err := s.WatchPrefix(ctx, prefix, kvstore.ListOptions{Limit: 2, Last: true}, func(es []kvstore.Entry) { ch <- es })
	require.NoError(t, err)
	defer unsub()

	assert.Empty(t, next(t, ch))

	for _, k := range []string{"m1", "m2", "m3"} {
		require.NoError(t, s.Put(ctx, prefix+"/"+k, k))
	}
	deadline := time.After(waitTimeout)
	for {
		select {
		case es := <-ch:
			if len(es) == 2 && es[1].Name() == "m3" {
				assert.Equal(t, []string{"m2", "m3"}, names(es))
				return
			}
		case <-deadline:
			t.Fatal("timed out waiting for listing")
		}
	}
}

func testUnsubscribe(t *testing.T, s kvstore.Store, root string) {
	ctx := context.Background()
	key := root + "/u"
	ch := make(chan kvstore.Entry, 16)

	unsub, err := s.Watch(ctx, key, func(e kvstore.Entry) { ch <- e })
	require.NoError(t, err)
	next(t, ch)

	unsub()
	unsub()
	require.NoError(t, s.Put(ctx, key, 1))

	select {
	case e := <-ch:
		t.Fatalf("unexpected delivery after unsubscribe: %+v", e)
	case <-time.After(100 * time.Millisecond):
	}
}

func next[T any](t *testing.T, ch <-chan T) T {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(waitTimeout):
		t.Fatal("timed out waiting for watch delivery")
		var zero T
		return zero
	}
}

func names(es []kvstore.Entry) []string {
	out := make([]string, len(es))
	for i, e := range es {
		out[i] = e.Name()
	}
	return out
}
