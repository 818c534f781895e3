package clock

import (
	"math/rand/v2"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClock_New(t *testing.T) {
	c := New()
	assert.Equal(t, int64(0), c.Current(), "new clock should start at 0")
}

func TestClock_NewAt(t *testing.T) {
	assert.Equal(t, int64(100), NewAt(100).Current())
	assert.Equal(t, int64(0), NewAt(-5).Current(), "negative start is clamped")
}

func TestClock_Tick(t *testing.T) {
	c := New()

	assert.Equal(t, int64(1), c.Tick())
	assert.Equal(t, int64(2), c.Tick())
	assert.Equal(t, int64(3), c.Tick())
	assert.Equal(t, int64(3), c.Current())
}

func TestClock_Witness(t *testing.T) {
	tests := []struct {
		name   string
		start  int64
		remote int64
		want   int64
	}{
		{"remote ahead", 3, 5, 6},
		{"local ahead", 7, 2, 8},
		{"equal", 4, 4, 5},
		{"zero both", 0, 0, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewAt(tt.start)
			assert.Equal(t, tt.want, c.Witness(tt.remote))
			assert.Equal(t, tt.want, c.Current())
		})
	}
}

func TestClock_Current_DoesNotAdvance(t *testing.T) {
	c := NewAt(9)
	for i := 0; i < 5; i++ {
		assert.Equal(t, int64(9), c.Current())
	}
}

func TestClock_Monotonic_RandomSequence(t *testing.T) {
	rng := rand.New(rand.NewPCG(1, 2))
	c := New()
	prev := c.Current()

	for i := 0; i < 10000; i++ {
		var got int64
		if rng.IntN(2) == 0 {
			got = c.Tick()
		} else {
			got = c.Witness(rng.Int64N(20000))
		}
		assert.Greater(t, got, prev, "step %d must strictly increase", i)
		prev = got
	}
}

func TestClock_CausalChain(t *testing.T) {
	// A(internal on N0) -> B(send N0->N1) -> C(receive on N1)
	// -> D(internal on N1) -> E(send N1->N2) -> F(receive on N2)
	n0, n1, n2 := NewAt(4), NewAt(0), NewAt(11)

	a := n0.Tick()
	b := n0.Tick()
	c := n1.Witness(b)
	d := n1.Tick()
	e := n1.Tick()
	f := n2.Witness(e)

	chain := []int64{a, b, c, d, e, f}
	for i := 1; i < len(chain); i++ {
		assert.Less(t, chain[i-1], chain[i], "event %d must precede event %d", i-1, i)
	}
}

func TestClock_ThreadSafe(t *testing.T) {
	c := New()
	const goroutines = 50
	const calls = 200

	var wg sync.WaitGroup
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < calls; j++ {
				if (i+j)%2 == 0 {
					c.Tick()
				} else {
					c.Witness(0)
				}
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int64(goroutines*calls), c.Current(), "every update adds exactly one when remote is behind")
}
