package sqlstore

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/livestate/internal/docstore"
	"github.com/roach88/livestate/internal/docstore/storetest"
	"github.com/roach88/livestate/internal/ids"
)

func openTestStore(t *testing.T, opts ...Option) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "docs.db"), opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestStore_Conformance(t *testing.T) {
	storetest.Run(t, func(t *testing.T) docstore.Store {
		return openTestStore(t)
	})
}

func TestOpen_Pragmas(t *testing.T) {
	s := openTestStore(t)

	assert.NoError(t, s.verifyPragma("journal_mode", "wal"))
	assert.NoError(t, s.verifyPragma("synchronous", "1"))
	assert.NoError(t, s.verifyPragma("busy_timeout", "5000"))
	assert.NoError(t, s.verifyPragma("user_version", "1"))
}

func TestOpen_ResumesClockAndData(t *testing.T) {
	path := filepath.Join(t.TempDir(), "docs.db")
	ctx := context.Background()
	ref := docstore.DocRef{Collection: "users", ID: "u1"}

	s, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, s.SetMerge(ctx, ref, docstore.Fields{"name": "Ada"}))
	require.NoError(t, s.Delete(ctx, docstore.DocRef{Collection: "users", ID: "u1"}))
	require.NoError(t, s.SetMerge(ctx, ref, docstore.Fields{"name": "Ada"}))
	before, err := s.GetDoc(ctx, ref)
	require.NoError(t, err)
	require.NoError(t, s.Close())

	s, err = Open(path)
	require.NoError(t, err)
	defer s.Close()

	after, err := s.GetDoc(ctx, ref)
	require.NoError(t, err)
	assert.Equal(t, before.Fields, after.Fields)
	assert.Equal(t, int64(3), after.Version)

	require.NoError(t, s.SetMerge(ctx, ref, docstore.Fields{"age": 36}))
	next, err := s.GetDoc(ctx, ref)
	require.NoError(t, err)
	assert.Equal(t, int64(4), next.Version)
}

func TestStore_AddUsesGenerator(t *testing.T) {
	s := openTestStore(t, WithIDGenerator(ids.NewFixed("x1")))

	ref, err := s.Add(context.Background(), docstore.CollectionRef{Path: "todos"}, docstore.Fields{"title": "t"})
	require.NoError(t, err)
	assert.Equal(t, docstore.DocRef{Collection: "todos", ID: "x1"}, ref)
}

// Compiled SQL and the in-memory evaluator must agree on every query the
// compiler accepts.
func TestStore_SQLMatchesInMemoryEvaluation(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	c := docstore.CollectionRef{Path: "items"}

	seed := map[string]docstore.Fields{
		"a": {"n": 1, "s": "b", "flag": true, "tags": []any{"x", 2}},
		"b": {"n": 2.5, "s": "a", "flag": false, "tags": []any{"y"}},
		"c": {"n": "3", "s": nil},
		"d": {"n": nil, "s": "c", "flag": true},
		"e": {"s": "a", "nested": map[string]any{"k": "v"}},
		"f": {"n": 2, "s": "a", "tags": []any{}},
	}
	var all []docstore.DocumentSnapshot
	for id, f := range seed {
		ref, err := c.Doc(id)
		require.NoError(t, err)
		require.NoError(t, s.SetMerge(ctx, ref, f))
		snap, err := s.GetDoc(ctx, ref)
		require.NoError(t, err)
		all = append(all, snap)
	}

	queries := []docstore.Query{
		docstore.NewQuery(c),
		docstore.NewQuery(c, docstore.Where("n", docstore.OpEqual, 2)),
		docstore.NewQuery(c, docstore.Where("n", docstore.OpNotEqual, 2)),
		docstore.NewQuery(c, docstore.Where("n", docstore.OpGreater, 1)),
		docstore.NewQuery(c, docstore.Where("n", docstore.OpLessEqual, 2.5)),
		docstore.NewQuery(c, docstore.Where("n", docstore.OpEqual, nil)),
		docstore.NewQuery(c, docstore.Where("s", docstore.OpIn, []any{"a", nil})),
		docstore.NewQuery(c, docstore.Where("s", docstore.OpIn, []any{})),
		docstore.NewQuery(c, docstore.Where("flag", docstore.OpEqual, true)),
		docstore.NewQuery(c, docstore.Where("flag", docstore.OpGreater, false)),
		docstore.NewQuery(c, docstore.Where("tags", docstore.OpArrayContains, 2)),
		docstore.NewQuery(c, docstore.Where("tags", docstore.OpArrayContains, "y")),
		docstore.NewQuery(c, docstore.Where("nested.k", docstore.OpEqual, "v")),
		docstore.NewQuery(c, docstore.OrderBy("n", docstore.Asc)),
		docstore.NewQuery(c, docstore.OrderBy("n", docstore.Desc)),
		docstore.NewQuery(c, docstore.OrderBy("s", docstore.Asc), docstore.OrderBy("n", docstore.Desc)),
		docstore.NewQuery(c, docstore.OrderBy("s", docstore.Asc), docstore.Limit(3)),
		docstore.NewQuery(c, docstore.Where("nested", docstore.OpEqual, map[string]any{"k": "v"})),
	}
	for _, q := range queries {
		t.Run(q.String(), func(t *testing.T) {
			got, err := s.GetDocs(ctx, q)
			require.NoError(t, err)
			want := q.Apply(all)
			assert.Equal(t, docstore.QuerySnapshot{Docs: want}.IDs(), got.IDs())
		})
	}
}

func TestCompileQuery(t *testing.T) {
	c := docstore.CollectionRef{Path: "todos"}
	q := docstore.NewQuery(c,
		docstore.Where("owner", docstore.OpEqual, "u1"),
		docstore.OrderBy("rank", docstore.Desc),
		docstore.Limit(10),
	)

	got, err := compileQuery(q)
	require.NoError(t, err)

	assert.Contains(t, got.SQL, "WHERE collection = ?")
	assert.Contains(t, got.SQL, "json_type(fields, ?) IS NOT NULL")
	assert.Contains(t, got.SQL, "id ASC COLLATE BINARY LIMIT ?")
	assert.NotContains(t, got.SQL, "u1", "values are never interpolated")
	assert.Equal(t, []any{
		"todos",
		`$."owner"`, `$."owner"`, "u1",
		`$."rank"`,
		`$."rank"`, `$."rank"`,
		10,
	}, got.Params)
}

func TestCompileQuery_UnsupportedFallsBack(t *testing.T) {
	c := docstore.CollectionRef{Path: "todos"}

	_, err := compileQuery(docstore.NewQuery(c, docstore.Where("meta", docstore.OpEqual, map[string]any{"a": 1})))
	assert.ErrorIs(t, err, errUnsupported)

	_, err = compileQuery(docstore.NewQuery(c, docstore.Where(`we"ird`, docstore.OpEqual, 1)))
	assert.ErrorIs(t, err, errUnsupported)
}
