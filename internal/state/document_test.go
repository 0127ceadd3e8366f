package state

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/livestate/internal/auth"
	"github.com/roach88/livestate/internal/docstore"
)

func newUserDoc(t *testing.T, store docstore.Store, path string, opts Options) *Document[Record] {
	t.Helper()
	d, err := NewDocument[Record](DocumentOptions[Record]{
		Options: opts,
		Store:   store,
		Path:    Path(path),
	})
	require.NoError(t, err)
	return d
}

func newEmailDoc(t *testing.T, store docstore.Store, email string) *Document[Record] {
	t.Helper()
	d, err := NewDocument[Record](DocumentOptions[Record]{
		Options:        Options{Listen: true},
		Store:          store,
		CollectionPath: Path("users"),
		Query:          Constraints(docstore.Where("email", docstore.OpEqual, email)),
	})
	require.NoError(t, err)
	return d
}

func nameOfDoc(d *Document[Record]) any {
	rec, _ := d.Data()
	if rec == nil {
		return nil
	}
	return (*rec)["name"]
}

func TestDocument_MissingIsNil(t *testing.T) {
	d := newUserDoc(t, newMemStore(t), "users/nobody", Options{})

	require.NoError(t, d.Refetch(context.Background()))
	rec, loaded := d.Data()
	assert.True(t, loaded)
	assert.Nil(t, rec)
}

func TestDocument_Fetch(t *testing.T) {
	store := newMemStore(t)
	put(t, store, "users/u1", docstore.Fields{"name": "Alice", "age": 30})

	d := newUserDoc(t, store, "users/u1", Options{})
	release := d.Observe(func(*Record) {})
	defer release()
	d.Wait()

	rec, loaded := d.Data()
	require.True(t, loaded)
	require.NotNil(t, rec)
	assert.Equal(t, Record{"id": "u1", "name": "Alice", "age": 30}, *rec)
}

func TestDocument_DirectListen(t *testing.T) {
	store := newMemStore(t)
	put(t, store, "users/u1", docstore.Fields{"name": "Alice"})

	d := newUserDoc(t, store, "users/u1", Options{Listen: true})
	release := d.Observe(func(*Record) {})
	defer release()

	require.Eventually(t, func() bool { return nameOfDoc(d) == "Alice" }, waitFor, tick)
	assert.Equal(t, WatchingDoc, d.WatchState())

	require.NoError(t, store.Delete(context.Background(), mustDoc(t, "users/u1")))
	require.Eventually(t, func() bool {
		rec, loaded := d.Data()
		return loaded && rec == nil
	}, waitFor, tick)
	assert.Equal(t, WatchingDoc, d.WatchState())

	put(t, store, "users/u1", docstore.Fields{"name": "Alice again"})
	require.Eventually(t, func() bool { return nameOfDoc(d) == "Alice again" }, waitFor, tick)
}

func TestDocument_QueryFirstStateMachine(t *testing.T) {
	store := newMemStore(t)
	put(t, store, "users/u1", docstore.Fields{"email": "a@x", "name": "Alice"})

	d := newEmailDoc(t, store, "a@x")
	assert.Equal(t, NoRef, d.WatchState())

	release := d.Observe(func(*Record) {})

	require.Eventually(t, func() bool { return nameOfDoc(d) == "Alice" }, waitFor, tick)
	require.Eventually(t, func() bool { return d.WatchState() == WatchingDoc }, waitFor, tick)
	ref, ok := d.Ref()
	require.True(t, ok)
	assert.Equal(t, "u1", ref.ID)

	// Changes to the matched document are followed.
	put(t, store, "users/u1", docstore.Fields{"name": "Alicia"})
	require.Eventually(t, func() bool { return nameOfDoc(d) == "Alicia" }, waitFor, tick)

	// Losing it returns to the query.
	require.NoError(t, store.Delete(context.Background(), mustDoc(t, "users/u1")))
	require.Eventually(t, func() bool { return d.WatchState() == WatchingQuery }, waitFor, tick)
	rec, loaded := d.Data()
	assert.True(t, loaded)
	assert.Nil(t, rec)

	// A new match is adopted.
	put(t, store, "users/u2", docstore.Fields{"email": "a@x", "name": "Bob"})
	require.Eventually(t, func() bool { return nameOfDoc(d) == "Bob" }, waitFor, tick)
	require.Eventually(t, func() bool { return d.WatchState() == WatchingDoc }, waitFor, tick)
	ref, _ = d.Ref()
	assert.Equal(t, "u2", ref.ID)

	release()
	require.Eventually(t, func() bool { return d.WatchState() == NoRef }, waitFor, tick)
	require.Eventually(t, func() bool { return store.Watchers() == 0 }, waitFor, tick)
}

func TestDocument_QueryFirstNoMatch(t *testing.T) {
	store := newMemStore(t)
	d := newEmailDoc(t, store, "nobody@x")

	release := d.Observe(func(*Record) {})
	defer release()

	require.Eventually(t, func() bool {
		_, loaded := d.Data()
		return loaded
	}, waitFor, tick)
	rec, _ := d.Data()
	assert.Nil(t, rec)
	assert.Equal(t, WatchingQuery, d.WatchState())
}

func TestDocument_QueryFirstFetch(t *testing.T) {
	store := newMemStore(t)
	put(t, store, "users/u2", docstore.Fields{"email": "a@x", "name": "Bob"})

	d, err := NewDocument[Record](DocumentOptions[Record]{
		Store:          store,
		CollectionPath: Path("users"),
		Query:          Constraints(docstore.Where("email", docstore.OpEqual, "a@x")),
	})
	require.NoError(t, err)

	require.NoError(t, d.Refetch(context.Background()))
	assert.Equal(t, "Bob", nameOfDoc(d))
	ref, ok := d.Ref()
	require.True(t, ok)
	assert.Equal(t, "u2", ref.ID)
}

func TestDocument_IgnoresStaleMatchOfLostDocument(t *testing.T) {
	store := newMemStore(t)
	put(t, store, "users/u1", docstore.Fields{"email": "a@x"})
	d := newEmailDoc(t, store, "a@x")
	ctx := context.Background()
	require.NoError(t, d.Resolve(ctx))

	d.mu.Lock()
	d.lostID, d.lostVersion = "u1", 5
	gen := d.gen
	d.mu.Unlock()

	stale := docstore.QuerySnapshot{Docs: []docstore.DocumentSnapshot{{
		Ref:     mustDoc(t, "users/u1"),
		Fields:  docstore.Fields{"email": "a@x"},
		Version: 5,
		Exists:  true,
	}}}
	d.onQuery(ctx, gen, stale)
	_, hasDoc := d.Ref()
	assert.False(t, hasDoc)
	assert.Zero(t, store.Watchers())

	fresh := stale
	fresh.Docs = []docstore.DocumentSnapshot{stale.Docs[0]}
	fresh.Docs[0].Version = 6
	d.onQuery(ctx, gen, fresh)
	ref, hasDoc := d.Ref()
	assert.True(t, hasDoc)
	assert.Equal(t, "u1", ref.ID)
	assert.Equal(t, WatchingDoc, d.WatchState())

	d.teardown(0)
	assert.Equal(t, NoRef, d.WatchState())
	require.Eventually(t, func() bool { return store.Watchers() == 0 }, waitFor, tick)
}

func TestDocument_StaleSessionKeepsNewSubscription(t *testing.T) {
	mem := newMemStore(t)
	put(t, mem, "users/u1", docstore.Fields{"name": "Alice"})
	store := newSlowWatchStore(mem)
	sched := loop(t)
	d := newUserDoc(t, store, "users/u1", Options{Listen: true, Scheduler: sched})

	release := d.Observe(func(*Record) {})
	<-store.entered

	// The first session is stopped while its watch is still being set up.
	release()
	sched.Drain()
	again := d.Observe(func(*Record) {})
	defer again()
	require.Eventually(t, func() bool { return store.calls.Load() == 2 }, waitFor, tick)

	close(store.gate)
	d.Wait()

	assert.Equal(t, 1, d.Observers())
	assert.Equal(t, WatchingDoc, d.WatchState())
	require.Eventually(t, func() bool { return mem.Watchers() == 1 }, waitFor, tick)

	put(t, mem, "users/u1", docstore.Fields{"name": "Bob"})
	require.Eventually(t, func() bool { return nameOfDoc(d) == "Bob" }, waitFor, tick)
}

func TestDocument_CancelledSessionDoesNotListen(t *testing.T) {
	store := newMemStore(t)
	put(t, store, "users/u1", docstore.Fields{"name": "Alice"})
	provider := &lateProvider{}
	sched := loop(t)
	d := newUserDoc(t, store, "users/u1", Options{Listen: true, Scheduler: sched, Auth: provider})

	// Both sessions wait on the same identity.
	release := d.Observe(func(*Record) {})
	release()
	sched.Drain()
	again := d.Observe(func(*Record) {})
	defer again()

	provider.fire(&auth.User{UID: "u1"})
	d.Wait()

	assert.Equal(t, WatchingDoc, d.WatchState())
	require.Eventually(t, func() bool { return store.Watchers() == 1 }, waitFor, tick)

	put(t, store, "users/u1", docstore.Fields{"name": "Bob"})
	require.Eventually(t, func() bool { return nameOfDoc(d) == "Bob" }, waitFor, tick)
}

func TestDocument_QueryFirstListenStartsOnKnownMatch(t *testing.T) {
	store := newMemStore(t)
	put(t, store, "users/u1", docstore.Fields{"email": "a@x", "name": "Alice"})
	d := newEmailDoc(t, store, "a@x")

	require.NoError(t, d.Refetch(context.Background()))
	_, ok := d.Ref()
	require.True(t, ok)

	release := d.Observe(func(*Record) {})
	defer release()
	d.Wait()

	assert.Equal(t, WatchingDoc, d.WatchState())
	put(t, store, "users/u1", docstore.Fields{"name": "Alicia"})
	require.Eventually(t, func() bool { return nameOfDoc(d) == "Alicia" }, waitFor, tick)
}

func TestDocument_SaveField(t *testing.T) {
	store := &recordingStore{Store: newMemStore(t)}
	put(t, store.Store, "users/u1", docstore.Fields{"name": "Alice", "age": 30})

	d := newUserDoc(t, store, "users/u1", Options{})
	ctx := context.Background()
	require.NoError(t, d.Refetch(ctx))

	require.NoError(t, d.SaveField(ctx, "age", Set(31)))
	merges := store.Merges()
	require.Len(t, merges, 1)
	assert.Equal(t, docstore.Fields{"name": "Alice", "age": 31}, merges[0])

	rec, _ := d.Data()
	require.NotNil(t, rec)
	assert.Equal(t, 31, (*rec)["age"])

	require.NoError(t, d.SaveField(ctx, "visits", UpdateFunc(func(prev any) any {
		n, _ := docstore.Number(prev)
		return n + 1
	})))
	merges = store.Merges()
	require.Len(t, merges, 2)
	assert.Equal(t, float64(1), merges[1]["visits"])

	snap, err := store.GetDoc(ctx, mustDoc(t, "users/u1"))
	require.NoError(t, err)
	assert.Equal(t, 31, snap.Fields["age"])
	assert.Equal(t, float64(1), snap.Fields["visits"])
}

func TestDocument_Save(t *testing.T) {
	store := &recordingStore{Store: newMemStore(t)}
	put(t, store.Store, "users/u1", docstore.Fields{"name": "Alice"})

	d := newUserDoc(t, store, "users/u1", Options{})
	ctx := context.Background()
	require.NoError(t, d.Refetch(ctx))
	require.NoError(t, d.Save(ctx))

	merges := store.Merges()
	require.Len(t, merges, 1)
	assert.Equal(t, docstore.Fields{"name": "Alice"}, merges[0])
}

func TestDocument_SaveWithoutValueIsNoop(t *testing.T) {
	store := &recordingStore{Store: newMemStore(t)}
	ctx := context.Background()

	early := newUserDoc(t, store, "users/u1", Options{})
	require.NoError(t, early.SaveField(ctx, "age", Set(1)))
	require.NoError(t, early.Save(ctx))

	require.NoError(t, early.Refetch(ctx))
	require.NoError(t, early.SaveField(ctx, "age", Set(1)))
	assert.Empty(t, store.Merges())

	rec, loaded := early.Data()
	assert.True(t, loaded)
	assert.Nil(t, rec)
}
