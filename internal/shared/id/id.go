// Package id generates correlation identifiers for relayed requests.
//
// Correlation ids are ULIDs drawn from monotonic entropy, so ids produced by
// one generator sort in creation order even within the same millisecond.
// That keeps them usable as the "monotonically increasing timestamp" the
// sandbox protocol expects when callers do not supply their own id.
package id

import (
	"crypto/rand"
	"io"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// CorrelationID joins a submitted request to its response message.
type CorrelationID string

// String returns the id as a plain string.
func (id CorrelationID) String() string { return string(id) }

// Generator produces monotonic ULIDs.
type Generator struct {
	mu      sync.Mutex
	entropy io.Reader
	now     func() time.Time
}

// NewGenerator creates a generator backed by crypto/rand.
func NewGenerator() *Generator {
	return NewGeneratorWithEntropy(rand.Reader)
}

// NewGeneratorWithEntropy creates a generator over a custom entropy source.
func NewGeneratorWithEntropy(entropy io.Reader) *Generator {
	return &Generator{
		entropy: ulid.Monotonic(entropy, 0),
		now:     time.Now,
	}
}

// Generate creates a new ULID.
func (g *Generator) Generate() ulid.ULID {
	g.mu.Lock()
	defer g.mu.Unlock()
	return ulid.MustNew(ulid.Timestamp(g.now()), g.entropy)
}

// Correlation creates a new correlation id.
func (g *Generator) Correlation() CorrelationID {
	return CorrelationID(g.Generate().String())
}

// IsValid reports whether id parses as a ULID. Caller-supplied ids need not be
// ULIDs; this only identifies generated ones.
func IsValid(id string) bool {
	_, err := ulid.Parse(id)
	return err == nil
}

// Timestamp returns the creation time encoded in a generated id.
func Timestamp(id string) (time.Time, error) {
	parsed, err := ulid.Parse(id)
	if err != nil {
		return time.Time{}, err
	}
	return ulid.Time(parsed.Time()), nil
}
