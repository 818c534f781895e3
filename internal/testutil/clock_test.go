package testutil

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFakeClock_StartsAtEpoch(t *testing.T) {
	clock := NewFakeClock(time.Time{}, time.Millisecond)
	assert.Equal(t, DefaultEpoch, clock.Peek())
	assert.Equal(t, DefaultEpoch, clock.Now())
}

func TestFakeClock_NowAdvancesByStep(t *testing.T) {
	start := time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)
	clock := NewFakeClock(start, 250*time.Millisecond)

	assert.Equal(t, start, clock.Now())
	assert.Equal(t, start.Add(250*time.Millisecond), clock.Now())
	assert.Equal(t, start.Add(500*time.Millisecond), clock.Now())
	assert.Equal(t, start.Add(750*time.Millisecond), clock.Peek())
}

func TestFakeClock_AdvanceAndReset(t *testing.T) {
	clock := NewFakeClock(time.Time{}, time.Second)

	clock.Advance(time.Minute)
	assert.Equal(t, DefaultEpoch.Add(time.Minute), clock.Now())

	clock.Reset(time.Time{})
	assert.Equal(t, DefaultEpoch, clock.Now())
}

func TestFakeClock_ThreadSafe(t *testing.T) {
	clock := NewFakeClock(time.Time{}, time.Nanosecond)
	const numGoroutines = 50
	const callsPerGoroutine = 100

	var mu sync.Mutex
	seen := make(map[time.Time]bool)

	var wg sync.WaitGroup
	wg.Add(numGoroutines)
	for range numGoroutines {
		go func() {
			defer wg.Done()
			for range callsPerGoroutine {
				ts := clock.Now()
				mu.Lock()
				seen[ts] = true
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	require.Len(t, seen, numGoroutines*callsPerGoroutine)
	assert.Equal(t, DefaultEpoch.Add(numGoroutines*callsPerGoroutine*time.Nanosecond), clock.Peek())
}

func TestFakeClock_Deterministic(t *testing.T) {
	clock1 := NewFakeClock(time.Time{}, 3*time.Millisecond)
	clock2 := NewFakeClock(time.Time{}, 3*time.Millisecond)

	for range 100 {
		assert.Equal(t, clock1.Now(), clock2.Now())
	}
}
