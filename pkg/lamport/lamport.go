package lamport

import (
	"math"
	"sync"
)

// Clock is a mutex-guarded Lamport counter. A single instance may be shared
// by every session of a process.
type Clock struct {
	mu    sync.Mutex
	local int64
}

func New() *Clock {
	return &Clock{}
}

// Advance merges an observed remote value: local = max(local, observed) + 1.
// The counter saturates at math.MaxInt64 instead of wrapping.
func (c *Clock) Advance(observed int64) int64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.local = inc(max(c.local, observed))
	return c.local
}

// Tick stamps an outbound message.
func (c *Clock) Tick() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.local = inc(c.local)
	return c.local
}

func inc(v int64) int64 {
	if v == math.MaxInt64 {
		return v
	}
	return v + 1
}

func (c *Clock) Now() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.local
}
