package testutil

import (
	"fmt"
	"sync"
)

// ScriptedRand replays a fixed script of draws. It satisfies node.Rand.
//
// Float64 and IntN consume independent scripts. Running past the end of a
// script panics with the draw count, which points straight at a test whose
// script is shorter than the schedule it drives.
type ScriptedRand struct {
	mu     sync.Mutex
	floats []float64
	ints   []int
}

// NewScriptedRand creates a source that returns floats from Float64 and
// ints from IntN, in order.
func NewScriptedRand(floats []float64, ints []int) *ScriptedRand {
	return &ScriptedRand{
		floats: append([]float64(nil), floats...),
		ints:   append([]int(nil), ints...),
	}
}

func (r *ScriptedRand) Float64() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.floats) == 0 {
		panic("testutil: ScriptedRand float script exhausted")
	}
	v := r.floats[0]
	r.floats = r.floats[1:]
	return v
}

// IntN returns the next scripted int. The value must lie in [0,n).
func (r *ScriptedRand) IntN(n int) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.ints) == 0 {
		panic("testutil: ScriptedRand int script exhausted")
	}
	v := r.ints[0]
	r.ints = r.ints[1:]
	if v < 0 || v >= n {
		panic(fmt.Sprintf("testutil: scripted int %d outside [0,%d)", v, n))
	}
	return v
}

// Remaining returns how many floats and ints are left.
func (r *ScriptedRand) Remaining() (floats, ints int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.floats), len(r.ints)
}
