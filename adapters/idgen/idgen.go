// Package idgen generates the internal _id of stored documents. These ids
// stay inside the store; the public id of a record is its sequence number.
package idgen

import (
	"strconv"
	"sync/atomic"

	"github.com/google/uuid"
)

// Generator produces unique internal document ids.
type Generator interface {
	New() string
}

// UUID generates random (version 4) UUIDs.
type UUID struct{}

// New returns a new version 4 UUID.
func (UUID) New() string {
	return uuid.NewString()
}

// TimeUUID generates time-ordered (version 7) UUIDs, so primary key inserts
// land at the end of the index.
type TimeUUID struct{}

// New returns a new version 7 UUID, or a version 4 UUID if the clock
// sequence cannot be read.
func (TimeUUID) New() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

// Sequential hands out prefix1, prefix2, ... for deterministic tests.
type Sequential struct {
	prefix  string
	counter atomic.Uint64
}

// NewSequential creates a sequential id generator.
func NewSequential(prefix string) *Sequential {
	return &Sequential{prefix: prefix}
}

// New returns the next id.
func (s *Sequential) New() string {
	return s.prefix + strconv.FormatUint(s.counter.Add(1), 10)
}

// Reset restarts the sequence.
func (s *Sequential) Reset() {
	s.counter.Store(0)
}

var (
	_ Generator = UUID{}
	_ Generator = TimeUUID{}
	_ Generator = (*Sequential)(nil)
)
