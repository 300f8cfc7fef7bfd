package lamport

import (
	"math"
	"sync"
	"testing"
)

func TestTickMonotonic(t *testing.T) {
	c := New()
	prev := c.Now()
	for i := 0; i < 1000; i++ {
		n := c.Tick()
		if n <= prev {
			t.Fatalf("clock is not monotonic: %d <= %d", n, prev)
		}
		prev = n
	}
}

func TestAdvance(t *testing.T) {
	cases := []struct {
		local, observed, want int64
	}{
		{0, 0, 1},
		{5, 3, 6},
		{3, 5, 6},
		{10, 10, 11},
		{0, -7, 1},
	}
	for _, tc := range cases {
		c := &Clock{local: tc.local}
		got := c.Advance(tc.observed)
		if got != tc.want {
			t.Fatalf("Advance(%d) from %d = %d want %d", tc.observed, tc.local, got, tc.want)
		}
		if got <= tc.observed || got <= tc.local {
			t.Fatalf("Advance result %d not above inputs (%d,%d)", got, tc.local, tc.observed)
		}
	}
}

func TestAdvanceSequenceStrictlyIncreasing(t *testing.T) {
	c := New()
	prev := c.Now()
	for _, obs := range []int64{100, 2, 50, 500, 499, 0} {
		got := c.Advance(obs)
		if got <= prev || got <= obs {
			t.Fatalf("Advance(%d)=%d prev=%d", obs, got, prev)
		}
		prev = got
	}
}

func TestConcurrentTicks(t *testing.T) {
	c := New()
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 500; j++ {
				c.Tick()
			}
		}()
	}
	wg.Wait()
	if c.Now() != 4000 {
		t.Fatalf("lost updates: %d", c.Now())
	}
}

func TestAdvanceSaturates(t *testing.T) {
	c := New()
	c.Advance(10)
	if got := c.Advance(math.MaxInt64); got != math.MaxInt64 {
		t.Fatalf("Advance(MaxInt64)=%d", got)
	}
	prev := c.Now()
	for _, obs := range []int64{12, math.MaxInt64 - 1, 0} {
		if got := c.Advance(obs); got < prev || got < obs {
			t.Fatalf("clock went back: Advance(%d)=%d prev=%d", obs, got, prev)
		}
	}
	if got := c.Tick(); got != math.MaxInt64 {
		t.Fatalf("Tick after saturation=%d", got)
	}
}
