package docstore

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollection_Resolve(t *testing.T) {
	c, err := Collection("users/u1/todos")
	require.NoError(t, err)
	assert.Equal(t, "users/u1/todos", c.Path)

	c2, err := Collection("/users/u1/todos/")
	require.NoError(t, err)
	assert.Equal(t, c, c2, "resolving is pure")
}

func TestCollection_RejectsDocumentPath(t *testing.T) {
	_, err := Collection("users/u1")
	assert.ErrorIs(t, err, ErrInvalidPath)

	_, err = Collection("")
	assert.ErrorIs(t, err, ErrInvalidPath)

	_, err = Collection("users//todos")
	assert.ErrorIs(t, err, ErrInvalidPath)
}

func TestDoc_Resolve(t *testing.T) {
	d, err := Doc("users/u1/todos/t1")
	require.NoError(t, err)
	assert.Equal(t, "users/u1/todos", d.Collection)
	assert.Equal(t, "t1", d.ID)
	assert.Equal(t, "users/u1/todos/t1", d.Path())
	assert.Equal(t, CollectionRef{Path: "users/u1/todos"}, d.Parent())

	_, err = Doc("users")
	assert.ErrorIs(t, err, ErrInvalidPath)
}

func TestCollectionRef_Doc(t *testing.T) {
	c := CollectionRef{Path: "todos"}
	d, err := c.Doc("a")
	require.NoError(t, err)
	assert.Equal(t, DocRef{Collection: "todos", ID: "a"}, d)

	_, err = c.Doc("a/b")
	assert.ErrorIs(t, err, ErrInvalidPath)

	_, err = CollectionRef{}.Doc("a")
	assert.ErrorIs(t, err, ErrInvalidPath)
}
