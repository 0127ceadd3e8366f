package ids

import (
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUUIDv7_Format(t *testing.T) {
	id := UUIDv7{}.Generate()

	parsed, err := uuid.Parse(id)
	require.NoError(t, err)
	assert.Equal(t, uuid.Version(7), parsed.Version())
	assert.Len(t, id, 36)
}

func TestUUIDv7_Sortable(t *testing.T) {
	gen := UUIDv7{}
	prev := gen.Generate()
	for i := 0; i < 100; i++ {
		next := gen.Generate()
		assert.Less(t, prev, next)
		prev = next
	}
}

func TestTemp_Prefix(t *testing.T) {
	id := Temp{}.Generate()

	assert.True(t, IsTemp(id))
	assert.False(t, IsTemp("abc"))
	assert.False(t, IsTemp(TempPrefix))
}

func TestTemp_Unique(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 1000; i++ {
		id := Temp{}.Generate()
		require.False(t, seen[id], "duplicate temp id %s", id)
		seen[id] = true
	}
}

func TestFixed_Order(t *testing.T) {
	gen := NewFixed("a", "b", "c")

	assert.Equal(t, "a", gen.Generate())
	assert.Equal(t, "b", gen.Generate())
	assert.Equal(t, "c", gen.Generate())
	assert.Panics(t, func() { gen.Generate() })
}

func TestFixed_Concurrent(t *testing.T) {
	gen := NewFixed("1", "2", "3", "4", "5", "6", "7", "8")

	var mu sync.Mutex
	got := make(map[string]bool)
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			id := gen.Generate()
			mu.Lock()
			got[id] = true
			mu.Unlock()
		}()
	}
	wg.Wait()

	assert.Len(t, got, 8)
}

func TestSequence_Order(t *testing.T) {
	gen := NewSequence("doc-")
	assert.Equal(t, "doc-0001", gen.Generate())
	assert.Equal(t, "doc-0002", gen.Generate())
}
