package session

import (
	"testing"
	"time"
)

var t0 = time.Unix(1_700_000_000, 0)

func TestClassify(t *testing.T) {
	s := New(1, "peer", Established, 5, t0)
	cases := []struct {
		seq     int32
		verdict Verdict
		missing int64
	}{
		{5, InOrder, 0},
		{7, Gap, 2},
		{4, Duplicate, 0},
		{-1, Duplicate, 0},
	}
	for _, tc := range cases {
		v, m := s.Classify(tc.seq)
		if v != tc.verdict || m != tc.missing {
			t.Fatalf("Classify(%d)=(%s,%d) want (%s,%d)", tc.seq, v, m, tc.verdict, tc.missing)
		}
	}
	if s.Expected() != 5 {
		t.Fatalf("Classify mutated expected: %d", s.Expected())
	}
}

func TestAcceptIsMonotone(t *testing.T) {
	s := New(1, "peer", Established, 1, t0)
	s.Accept(1)
	s.Accept(9)
	s.Accept(3)
	if s.Expected() != 10 {
		t.Fatalf("expected=%d want 10", s.Expected())
	}
	if s.Info().Received != 3 {
		t.Fatalf("received=%d", s.Info().Received)
	}
}

func TestAcceptMaxSeqDoesNotWrap(t *testing.T) {
	s := New(1, "peer", Established, 1<<31-1, t0)
	s.Accept(1<<31 - 1)
	if s.Expected() != 1<<31 {
		t.Fatalf("expected=%d", s.Expected())
	}
	if v, _ := s.Classify(1<<31 - 1); v != Duplicate {
		t.Fatalf("replayed max seq classified %s", v)
	}
}

func TestLatency(t *testing.T) {
	s := New(1, "peer", Established, 0, t0)
	if s.AvgLatency() != 0 {
		t.Fatalf("avg of no samples should be 0")
	}
	s.RecordLatency(10 * time.Millisecond)
	s.RecordLatency(20 * time.Millisecond)
	if s.RecordLatency(-time.Second) {
		t.Fatalf("negative sample accepted")
	}
	if got := s.AvgLatency(); got != 15*time.Millisecond {
		t.Fatalf("avg=%s want 15ms", got)
	}
}

func TestIdle(t *testing.T) {
	s := New(1, "peer", Established, 0, t0)
	if s.Idle(t0.Add(29*time.Second), 30*time.Second) {
		t.Fatalf("idle too early")
	}
	s.Touch(t0.Add(10 * time.Second))
	s.Touch(t0.Add(5 * time.Second))
	if s.Idle(t0.Add(39*time.Second), 30*time.Second) {
		t.Fatalf("touch did not refresh activity")
	}
	if !s.Idle(t0.Add(40*time.Second), 30*time.Second) {
		t.Fatalf("expected idle at exactly the timeout")
	}
}

func TestSetStateReturnsPrevious(t *testing.T) {
	s := New(1, "peer", HelloWait, 0, t0)
	if prev := s.SetState(Ready); prev != HelloWait {
		t.Fatalf("prev=%s", prev)
	}
	if s.State() != Ready || s.Info().State != "READY" {
		t.Fatalf("state=%s", s.State())
	}
}

func TestNewID(t *testing.T) {
	seen := map[int32]bool{}
	for i := 0; i < 100; i++ {
		id := NewID()
		if id <= 0 {
			t.Fatalf("non-positive id %d", id)
		}
		seen[id] = true
	}
	if len(seen) < 95 {
		t.Fatalf("ids not random enough: %d distinct", len(seen))
	}
}
