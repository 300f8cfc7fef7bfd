// Package eventtest buffers driver events for assertions in tests.
package eventtest

import (
	"sync"
	"time"

	"github.com/juanpablocruz/uap/pkg/event"
)

// Collector is an event.Sink that records everything it is given.
type Collector struct {
	notify chan struct{}

	mu  sync.Mutex
	buf []event.Event
}

func New() *Collector {
	return &Collector{notify: make(chan struct{}, 1)}
}

func (c *Collector) Publish(e event.Event) {
	c.mu.Lock()
	c.buf = append(c.buf, e)
	c.mu.Unlock()
	// coalesce notifications
	select {
	case c.notify <- struct{}{}:
	default:
	}
}

// Snapshot returns a copy of buffered events.
func (c *Collector) Snapshot() []event.Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]event.Event, len(c.buf))
	copy(out, c.buf)
	return out
}

// Of returns the buffered events of type t, in order.
func (c *Collector) Of(t event.Type) []event.Event {
	var out []event.Event
	for _, e := range c.Snapshot() {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

func (c *Collector) Count(t event.Type) int { return len(c.Of(t)) }

func (c *Collector) Reset() {
	c.mu.Lock()
	c.buf = nil
	c.mu.Unlock()
}

// WaitFor waits up to timeout for pred to be satisfied by the buffered events.
func (c *Collector) WaitFor(timeout time.Duration, pred func([]event.Event) bool) bool {
	deadline := time.Now().Add(timeout)
	for {
		if pred(c.Snapshot()) {
			return true
		}
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return false
		}
		select {
		case <-c.notify:
		case <-time.After(remaining):
			return false
		}
	}
}

// WaitType waits until at least n events of type t have been recorded.
func (c *Collector) WaitType(timeout time.Duration, t event.Type, n int) bool {
	return c.WaitFor(timeout, func(evs []event.Event) bool {
		k := 0
		for _, e := range evs {
			if e.Type == t {
				k++
			}
		}
		return k >= n
	})
}
