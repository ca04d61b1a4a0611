// Package clock provides capture timestamps for recorded messages.
package clock

import (
	"sync"
	"time"
)

// Clock issues wall-clock capture timestamps in nanoseconds that are strictly
// monotonic within a process. If the wall clock stalls (two reads in the same
// nanosecond) or steps backwards (NTP adjustment), the returned value is bumped
// past the last issued timestamp so records never go backwards in capture order.
type Clock struct {
	last int64
	mu   sync.Mutex
}

// New creates a capture clock.
func New() *Clock {
	return &Clock{last: time.Now().UnixNano()}
}

// Now returns the current wall-clock time in nanoseconds, strictly greater
// than any previously returned value.
func (c *Clock) Now() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now().UnixNano()
	if now <= c.last {
		now = c.last + 1
	}
	c.last = now
	return now
}
