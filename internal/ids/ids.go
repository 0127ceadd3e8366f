// Package ids generates document identifiers and the temporary tokens used
// to tag optimistic entries until the store assigns a real id.
package ids

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
)

// Generator produces unique string identifiers.
// Implemented by UUIDv7 (store ids), Temp (optimistic placeholders),
// Sequence (reproducible runs) and Fixed (tests).
type Generator interface {
	Generate() string
}

// UUIDv7 generates time-sortable UUIDv7 identifiers.
//
// Documents added through a store get ids that sort by creation time,
// which keeps default query ordering stable and readable in traces.
//
// Thread-safety: UUIDv7 is stateless and safe for concurrent use.
type UUIDv7 struct{}

// Generate returns a new UUIDv7 in hyphenated form.
//
// Panics if UUID generation fails (should never happen in practice).
func (UUIDv7) Generate() string {
	return uuid.Must(uuid.NewV7()).String()
}

// TempPrefix marks identifiers that were synthesized locally and have not
// yet been confirmed by a store.
const TempPrefix = "tmp-"

// Temp generates random placeholder identifiers for optimistic inserts.
type Temp struct{}

// Generate returns TempPrefix followed by a random UUIDv4.
func (Temp) Generate() string {
	return TempPrefix + uuid.NewString()
}

// IsTemp reports whether id was produced by Temp.
func IsTemp(id string) bool {
	return len(id) > len(TempPrefix) && id[:len(TempPrefix)] == TempPrefix
}

// Fixed returns predetermined identifiers for testing.
//
// Thread-safety: Fixed is safe for concurrent use via internal mutex.
type Fixed struct {
	mu  sync.Mutex
	ids []string
	idx int
}

// NewFixed creates a generator that returns ids in order.
//
//	gen := NewFixed("a", "b")
//	gen.Generate() // "a"
//	gen.Generate() // "b"
//	gen.Generate() // panic: all ids exhausted
func NewFixed(ids ...string) *Fixed {
	return &Fixed{ids: ids}
}

// Generate returns the next predetermined id.
//
// Panics if all ids have been consumed, so a test that creates more
// documents than it planned for fails loudly.
func (g *Fixed) Generate() string {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.idx >= len(g.ids) {
		panic("ids.Fixed: all ids exhausted")
	}
	id := g.ids[g.idx]
	g.idx++
	return id
}

// Sequence generates prefix0001, prefix0002, ... Zero padding keeps the
// first ten thousand ids in lexical order.
//
// Thread-safety: Sequence is safe for concurrent use.
type Sequence struct {
	prefix string
	n      atomic.Int64
}

// NewSequence creates a sequence starting at 1.
func NewSequence(prefix string) *Sequence {
	return &Sequence{prefix: prefix}
}

// Generate returns the next id.
func (s *Sequence) Generate() string {
	return fmt.Sprintf("%s%04d", s.prefix, s.n.Add(1))
}
