// Package idgen generates the lexicographically sortable unique ids used
// as Resource.uid: a ULID, whose 48-bit millisecond timestamp prefix is
// exactly the "sortable unique id with a millisecond timestamp prefix"
// the resource repository requires on first store.
package idgen

import (
	"crypto/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// Generator produces monotonically increasing ULIDs safe for concurrent
// use. ulid.MonotonicEntropy is not itself safe for concurrent calls, so
// access is serialized with a mutex.
type Generator struct {
	mu      sync.Mutex
	entropy *ulid.MonotonicEntropy
}

// NewGenerator returns a ready-to-use Generator.
func NewGenerator() *Generator {
	return &Generator{entropy: ulid.Monotonic(rand.Reader, 0)}
}

// New returns a new ULID string timestamped at now.
func (g *Generator) New(now time.Time) string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return ulid.MustNew(ulid.Timestamp(now), g.entropy).String()
}
