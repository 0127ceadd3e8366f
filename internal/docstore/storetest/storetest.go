// Package storetest is a conformance suite for docstore.Store
// implementations.
package storetest

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/livestate/internal/docstore"
)

// Factory creates an empty store for one subtest. The suite closes it.
type Factory func(t *testing.T) docstore.Store

// WaitTimeout bounds how long the suite waits for a watch delivery.
const WaitTimeout = 2 * time.Second

// Run exercises every Store operation against stores built by newStore.
func Run(t *testing.T, newStore Factory) {
	tests := []struct {
		name string
		fn   func(t *testing.T, s docstore.Store)
	}{
		{"GetDocMissing", testGetDocMissing},
		{"SetMergeCreatesAndMerges", testSetMerge},
		{"SnapshotsAreCopies", testSnapshotsAreCopies},
		{"AddGeneratesID", testAdd},
		{"Delete", testDelete},
		{"GetDocsFiltersAndOrders", testGetDocs},
		{"GetDocsInvalidQuery", testGetDocsInvalid},
		{"VersionsIncrease", testVersions},
		{"WatchDocDeliversChanges", testWatchDoc},
		{"WatchQueryDeliversChanges", testWatchQuery},
		{"UnsubscribeStopsDelivery", testUnsubscribe},
		{"WatchContextCancels", testWatchContext},
		{"CallbackMayUnsubscribeItself", testSelfUnsubscribe},
		{"Aggregate", testAggregate},
		{"Close", testClose},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newStore(t)
			t.Cleanup(func() { _ = s.Close() })
			tt.fn(t, s)
		})
	}
}

// Recorder collects watch deliveries for assertions.
type Recorder[T any] struct {
	mu    sync.Mutex
	items []T
	ch    chan T
}

// NewRecorder creates a recorder with room for many pending deliveries.
func NewRecorder[T any]() *Recorder[T] {
	return &Recorder[T]{ch: make(chan T, 64)}
}

// Record is the watch callback.
func (r *Recorder[T]) Record(v T) {
	r.mu.Lock()
	r.items = append(r.items, v)
	r.mu.Unlock()
	r.ch <- v
}

// Next waits for the next delivery.
func (r *Recorder[T]) Next(t *testing.T) T {
	t.Helper()
	select {
	case v := <-r.ch:
		return v
	case <-time.After(WaitTimeout):
		t.Fatalf("timed out waiting for watch delivery")
		var zero T
		return zero
	}
}

// NextMatching skips deliveries until pred holds.
func (r *Recorder[T]) NextMatching(t *testing.T, pred func(T) bool) T {
	t.Helper()
	deadline := time.After(WaitTimeout)
	for {
		select {
		case v := <-r.ch:
			if pred(v) {
				return v
			}
		case <-deadline:
			t.Fatalf("timed out waiting for matching watch delivery")
			var zero T
			return zero
		}
	}
}

// Quiet asserts that nothing is delivered for d.
func (r *Recorder[T]) Quiet(t *testing.T, d time.Duration) {
	t.Helper()
	select {
	case v := <-r.ch:
		t.Fatalf("unexpected watch delivery: %+v", v)
	case <-time.After(d):
	}
}

// Len returns the number of deliveries so far.
func (r *Recorder[T]) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.items)
}

func mustDoc(t *testing.T, path string) docstore.DocRef {
	t.Helper()
	ref, err := docstore.Doc(path)
	require.NoError(t, err)
	return ref
}

func mustCollection(t *testing.T, path string) docstore.CollectionRef {
	t.Helper()
	ref, err := docstore.Collection(path)
	require.NoError(t, err)
	return ref
}

func testGetDocMissing(t *testing.T, s docstore.Store) {
	snap, err := s.GetDoc(context.Background(), mustDoc(t, "users/nobody"))
	require.NoError(t, err)
	assert.False(t, snap.Exists)
	assert.Equal(t, "nobody", snap.ID())
}

func testSetMerge(t *testing.T, s docstore.Store) {
	ctx := context.Background()
	ref := mustDoc(t, "users/u1")

	require.NoError(t, s.SetMerge(ctx, ref, docstore.Fields{
		"name":    "Ada",
		"age":     30,
		"address": map[string]any{"city": "London", "zip": "N1"},
	}))
	require.NoError(t, s.SetMerge(ctx, ref, docstore.Fields{
		"age":     31,
		"address": map[string]any{"city": "Paris"},
	}))

	snap, err := s.GetDoc(ctx, ref)
	require.NoError(t, err)
	require.True(t, snap.Exists)
	assert.Equal(t, "Ada", snap.Fields["name"])
	assertNumber(t, 31, snap.Fields["age"])
	assert.Equal(t, map[string]any{"city": "Paris", "zip": "N1"}, snap.Fields["address"])
}

func testSnapshotsAreCopies(t *testing.T, s docstore.Store) {
	ctx := context.Background()
	ref := mustDoc(t, "users/u1")
	require.NoError(t, s.SetMerge(ctx, ref, docstore.Fields{"tags": []any{"a"}}))

	snap, err := s.GetDoc(ctx, ref)
	require.NoError(t, err)
	snap.Fields["tags"].([]any)[0] = "mutated"
	snap.Fields["extra"] = true

	again, err := s.GetDoc(ctx, ref)
	require.NoError(t, err)
	assert.Equal(t, docstore.Fields{"tags": []any{"a"}}, again.Fields)
}

func testAdd(t *testing.T, s docstore.Store) {
	ctx := context.Background()
	c := mustCollection(t, "todos")

	r1, err := s.Add(ctx, c, docstore.Fields{"title": "one"})
	require.NoError(t, err)
	r2, err := s.Add(ctx, c, docstore.Fields{"title": "two"})
	require.NoError(t, err)

	assert.NotEmpty(t, r1.ID)
	assert.NotEqual(t, r1.ID, r2.ID)
	assert.Equal(t, "todos", r1.Collection)

	snap, err := s.GetDoc(ctx, r1)
	require.NoError(t, err)
	assert.True(t, snap.Exists)
	assert.Equal(t, "one", snap.Fields["title"])
}

func testDelete(t *testing.T, s docstore.Store) {
	ctx := context.Background()
	ref := mustDoc(t, "todos/a")
	require.NoError(t, s.SetMerge(ctx, ref, docstore.Fields{"x": 1}))

	require.NoError(t, s.Delete(ctx, ref))
	snap, err := s.GetDoc(ctx, ref)
	require.NoError(t, err)
	assert.False(t, snap.Exists)

	require.NoError(t, s.Delete(ctx, ref), "deleting a missing doc is not an error")
}

func seedTodos(t *testing.T, s docstore.Store) docstore.CollectionRef {
	t.Helper()
	ctx := context.Background()
	c := mustCollection(t, "todos")
	for id, f := range map[string]docstore.Fields{
		"a": {"owner": "u1", "rank": 2, "tags": []any{"work"}},
		"b": {"owner": "u1", "rank": 1},
		"c": {"owner": "u2", "rank": 3},
		"d": {"owner": "u1"},
		"e": {"owner": "u1", "rank": 2},
	} {
		ref, err := c.Doc(id)
		require.NoError(t, err)
		require.NoError(t, s.SetMerge(ctx, ref, f))
	}
	return c
}

func testGetDocs(t *testing.T, s docstore.Store) {
	ctx := context.Background()
	c := seedTodos(t, s)

	snap, err := s.GetDocs(ctx, docstore.NewQuery(c, docstore.Where("owner", docstore.OpEqual, "u1")))
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "d", "e"}, snap.IDs())

	snap, err = s.GetDocs(ctx, docstore.NewQuery(c,
		docstore.Where("owner", docstore.OpEqual, "u1"),
		docstore.OrderBy("rank", docstore.Desc),
	))
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "e", "b"}, snap.IDs())

	snap, err = s.GetDocs(ctx, docstore.NewQuery(c,
		docstore.OrderBy("rank", docstore.Asc),
		docstore.Limit(2),
	))
	require.NoError(t, err)
	assert.Equal(t, []string{"b", "a"}, snap.IDs())

	snap, err = s.GetDocs(ctx, docstore.NewQuery(c, docstore.Where("owner", docstore.OpIn, []any{"u2"})))
	require.NoError(t, err)
	assert.Equal(t, []string{"c"}, snap.IDs())

	snap, err = s.GetDocs(ctx, docstore.NewQuery(c, docstore.Where("tags", docstore.OpArrayContains, "work")))
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, snap.IDs())

	snap, err = s.GetDocs(ctx, docstore.NewQuery(c, docstore.Where("rank", docstore.OpGreaterEqual, 2)))
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "c", "e"}, snap.IDs())

	snap, err = s.GetDocs(ctx, docstore.NewQuery(mustCollection(t, "empty")))
	require.NoError(t, err)
	assert.True(t, snap.Empty())
	assert.NotNil(t, snap.Docs, "empty result is an empty slice")
}

func testGetDocsInvalid(t *testing.T, s docstore.Store) {
	_, err := s.GetDocs(context.Background(), docstore.NewQuery(mustCollection(t, "todos"), docstore.Where("a", "~", 1)))
	assert.ErrorIs(t, err, docstore.ErrInvalidQuery)
}

func testVersions(t *testing.T, s docstore.Store) {
	ctx := context.Background()
	ref := mustDoc(t, "users/u1")

	require.NoError(t, s.SetMerge(ctx, ref, docstore.Fields{"n": 1}))
	first, err := s.GetDoc(ctx, ref)
	require.NoError(t, err)

	require.NoError(t, s.SetMerge(ctx, ref, docstore.Fields{"n": 2}))
	second, err := s.GetDoc(ctx, ref)
	require.NoError(t, err)

	assert.Greater(t, second.Version, first.Version)

	require.NoError(t, s.Delete(ctx, ref))
	gone, err := s.GetDoc(ctx, ref)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, gone.Version, second.Version)
}

func testWatchDoc(t *testing.T, s docstore.Store) {
	ctx := context.Background()
	ref := mustDoc(t, "users/u1")
	rec := NewRecorder[docstore.DocumentSnapshot]()

	unsub, err := s.WatchDoc(ctx, ref, rec.Record)
	require.NoError(t, err)
	defer unsub()

	initial := rec.Next(t)
	assert.False(t, initial.Exists)

	require.NoError(t, s.SetMerge(ctx, ref, docstore.Fields{"name": "Ada"}))
	created := rec.NextMatching(t, func(s docstore.DocumentSnapshot) bool { return s.Exists })
	assert.Equal(t, "Ada", created.Fields["name"])

	require.NoError(t, s.Delete(ctx, ref))
	deleted := rec.NextMatching(t, func(s docstore.DocumentSnapshot) bool { return !s.Exists })
	assert.Equal(t, "u1", deleted.ID())
}

func testWatchQuery(t *testing.T, s docstore.Store) {
	ctx := context.Background()
	c := mustCollection(t, "todos")
	q := docstore.NewQuery(c, docstore.Where("owner", docstore.OpEqual, "u1"))
	rec := NewRecorder[docstore.QuerySnapshot]()

	unsub, err := s.WatchQuery(ctx, q, rec.Record)
	require.NoError(t, err)
	defer unsub()

	assert.True(t, rec.Next(t).Empty())

	ref, err := c.Doc("a")
	require.NoError(t, err)
	require.NoError(t, s.SetMerge(ctx, ref, docstore.Fields{"owner": "u1"}))
	got := rec.NextMatching(t, func(s docstore.QuerySnapshot) bool { return len(s.Docs) == 1 })
	assert.Equal(t, []string{"a"}, got.IDs())

	require.NoError(t, s.SetMerge(ctx, ref, docstore.Fields{"owner": "u2"}))
	got = rec.NextMatching(t, func(s docstore.QuerySnapshot) bool { return s.Empty() })
	assert.Empty(t, got.IDs())
}

func testUnsubscribe(t *testing.T, s docstore.Store) {
	ctx := context.Background()
	ref := mustDoc(t, "users/u1")
	rec := NewRecorder[docstore.DocumentSnapshot]()

	unsub, err := s.WatchDoc(ctx, ref, rec.Record)
	require.NoError(t, err)
	rec.Next(t)

	unsub()
	unsub()

	require.NoError(t, s.SetMerge(ctx, ref, docstore.Fields{"n": 1}))
	rec.Quiet(t, 100*time.Millisecond)
}

func testWatchContext(t *testing.T, s docstore.Store) {
	ctx, cancel := context.WithCancel(context.Background())
	ref := mustDoc(t, "users/u1")
	rec := NewRecorder[docstore.DocumentSnapshot]()

	unsub, err := s.WatchDoc(ctx, ref, rec.Record)
	require.NoError(t, err)
	defer unsub()
	rec.Next(t)

	cancel()
	require.NoError(t, s.SetMerge(context.Background(), ref, docstore.Fields{"n": 1}))
	rec.Quiet(t, 100*time.Millisecond)
}

func testSelfUnsubscribe(t *testing.T, s docstore.Store) {
	ctx := context.Background()
	ref := mustDoc(t, "users/u1")
	done := make(chan struct{})

	var once sync.Once
	var unsub docstore.Unsubscribe
	var mu sync.Mutex
	mu.Lock()
	u, err := s.WatchDoc(ctx, ref, func(docstore.DocumentSnapshot) {
		mu.Lock()
		defer mu.Unlock()
		unsub()
		once.Do(func() { close(done) })
	})
	require.NoError(t, err)
	unsub = u
	mu.Unlock()

	select {
	case <-done:
	case <-time.After(WaitTimeout):
		t.Fatal("callback did not run")
	}
}

func testAggregate(t *testing.T, s docstore.Store) {
	ctx := context.Background()
	c := seedTodos(t, s)
	q := docstore.NewQuery(c, docstore.Where("owner", docstore.OpEqual, "u1"))

	got, err := s.Aggregate(ctx, q, docstore.AggregateSpec{
		"n":     docstore.Count(),
		"total": docstore.Sum("rank"),
		"mean":  docstore.Average("rank"),
	})
	require.NoError(t, err)
	assert.Equal(t, int64(4), got["n"])
	assert.InDelta(t, 5.0, got["total"], 1e-9)
	assert.InDelta(t, 5.0/3.0, got["mean"], 1e-9)

	_, err = s.Aggregate(ctx, q, docstore.AggregateSpec{})
	assert.ErrorIs(t, err, docstore.ErrInvalidQuery)
}

func testClose(t *testing.T, s docstore.Store) {
	ctx := context.Background()
	rec := NewRecorder[docstore.DocumentSnapshot]()
	_, err := s.WatchDoc(ctx, mustDoc(t, "users/u1"), rec.Record)
	require.NoError(t, err)
	rec.Next(t)

	require.NoError(t, s.Close())
	require.NoError(t, s.Close(), "Close is idempotent")

	_, err = s.GetDoc(ctx, mustDoc(t, "users/u1"))
	assert.ErrorIs(t, err, docstore.ErrClosed)
	err = s.SetMerge(ctx, mustDoc(t, "users/u1"), docstore.Fields{"n": 1})
	assert.ErrorIs(t, err, docstore.ErrClosed)
	_, err = s.WatchQuery(ctx, docstore.NewQuery(mustCollection(t, "users")), func(docstore.QuerySnapshot) {})
	assert.ErrorIs(t, err, docstore.ErrClosed)
}

func assertNumber(t *testing.T, want float64, got any) {
	t.Helper()
	switch n := got.(type) {
	case int:
		assert.Equal(t, want, float64(n))
	case int64:
		assert.Equal(t, want, float64(n))
	case float64:
		assert.Equal(t, want, n)
	default:
		assert.Failf(t, "not a number", "%T %v", got, got)
	}
}
