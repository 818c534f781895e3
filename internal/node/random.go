package node

import "github.com/iti/rngstream"

// Rand is the randomness the scheduler draws from.
// *math/rand/v2.Rand satisfies it, as do StreamRand and the scripted
// sources in internal/testutil.
type Rand interface {
	// Float64 returns a uniform value in [0,1).
	Float64() float64
	// IntN returns a uniform value in [0,n). n > 0.
	IntN(n int) int
}

// StreamRand adapts an RngStream (one independent stream per node) to Rand.
type StreamRand struct {
	s *rngstream.RngStream
}

// NewStreamRand creates a new named stream. Streams created in the same
// order within a process are reproducible.
func NewStreamRand(name string) *StreamRand {
	return &StreamRand{s: rngstream.New(name)}
}

func (r *StreamRand) Float64() float64 {
	return r.s.RandU01()
}

func (r *StreamRand) IntN(n int) int {
	return r.s.RandInt(0, n-1)
}
