package feed

import (
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/netrunner/regfeed/internal/ir"
)

// IDGenerator mints identities for feeds that have none of their own.
// Implemented by UUIDv7Generator (production) and SequenceGenerator (tests).
type IDGenerator interface {
	Generate() ir.FeedID
}

// UUIDv7Generator mints time-sortable UUIDv7 feed identities.
//
// Thread-safety: UUIDv7Generator is stateless and safe for concurrent use.
type UUIDv7Generator struct{}

// Generate returns a new hyphenated UUIDv7.
// Panics if the random source fails.
func (UUIDv7Generator) Generate() ir.FeedID {
	return ir.FeedID(uuid.Must(uuid.NewV7()).String())
}

// SequenceGenerator returns prefix-1, prefix-2, ... in order.
// Deterministic identities keep golden snapshots stable.
type SequenceGenerator struct {
	mu     sync.Mutex
	prefix string
	n      int
}

// NewSequenceGenerator creates a generator. An empty prefix means "feed".
func NewSequenceGenerator(prefix string) *SequenceGenerator {
	if prefix == "" {
		prefix = "feed"
	}
	return &SequenceGenerator{prefix: prefix}
}

// Generate returns the next identity in the sequence.
func (g *SequenceGenerator) Generate() ir.FeedID {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.n++
	return ir.FeedID(fmt.Sprintf("%s-%d", g.prefix, g.n))
}
