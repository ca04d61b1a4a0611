package clock

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNowStrictlyMonotonic(t *testing.T) {
	c := New()

	prev := c.Now()
	for i := 0; i < 100000; i++ {
		ts := c.Now()
		require.Greater(t, ts, prev)
		prev = ts
	}
}

func TestNowTracksWallClock(t *testing.T) {
	c := New()

	before := time.Now().UnixNano()
	ts := c.Now()
	after := time.Now().UnixNano()

	assert.GreaterOrEqual(t, ts, before)
	assert.LessOrEqual(t, ts, after+1)
}

func TestNowConcurrentNoDuplicates(t *testing.T) {
	c := New()

	const goroutines = 8
	const perGoroutine = 10000

	var mu sync.Mutex
	seen := make(map[int64]struct{}, goroutines*perGoroutine)

	var wg sync.WaitGroup
	for g := 0; g < goroutines; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			local := make([]int64, 0, perGoroutine)
			for i := 0; i < perGoroutine; i++ {
				local = append(local, c.Now())
			}
			mu.Lock()
			for _, ts := range local {
				seen[ts] = struct{}{}
			}
			mu.Unlock()
		}()
	}
	wg.Wait()

	assert.Len(t, seen, goroutines*perGoroutine, "timestamps must be unique")
}
