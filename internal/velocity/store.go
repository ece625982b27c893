package velocity

import (
	"math"
	"sync/atomic"
)

// Store holds the single published speed estimate. One writer publishes and
// any number of readers load concurrently; the value is kept as IEEE-754 bits
// in one atomic word so a reader can never observe half of an update.
type Store struct {
	bits     atomic.Uint64
	versions atomic.Uint64
}

// NewStore returns a Store holding 0.
func NewStore() *Store {
	return &Store{}
}

// Publish replaces the stored value.
func (s *Store) Publish(v float64) {
	s.bits.Store(math.Float64bits(v))
	s.versions.Add(1)
}

// Load returns the most recently published value at full precision.
func (s *Store) Load() float64 {
	return math.Float64frombits(s.bits.Load())
}

// Version counts publishes since construction. Two loads separated by an
// unchanged version saw the same publish.
func (s *Store) Version() uint64 {
	return s.versions.Load()
}
