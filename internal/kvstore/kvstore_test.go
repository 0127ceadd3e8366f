package kvstore

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCleanKey(t *testing.T) {
	k, err := CleanKey("/rooms/r1/")
	require.NoError(t, err)
	assert.Equal(t, "rooms/r1", k)

	_, err = CleanKey("")
	assert.ErrorIs(t, err, ErrInvalidKey)

	_, err = CleanKey("rooms//r1")
	assert.ErrorIs(t, err, ErrInvalidKey)
}

func TestListOptions_Apply(t *testing.T) {
	entries := []Entry{{Key: "a"}, {Key: "b"}, {Key: "c"}}

	assert.Len(t, ListOptions{}.Apply(entries), 3)
	assert.Equal(t, []Entry{{Key: "a"}, {Key: "b"}}, ListOptions{Limit: 2}.Apply(entries))
	assert.Equal(t, []Entry{{Key: "b"}, {Key: "c"}}, ListOptions{Limit: 2, Last: true}.Apply(entries))
}

func TestEntry_Name(t *testing.T) {
	assert.Equal(t, "m1", Entry{Key: "rooms/r1/m1"}.Name())
	assert.Equal(t, "root", Entry{Key: "root"}.Name())
}
