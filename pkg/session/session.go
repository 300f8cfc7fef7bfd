// Package session holds per-session protocol state and the table the server
// keeps them in.
package session

import (
	"sync"
	"time"

	"github.com/juanpablocruz/uap/pkg/transport"
)

type State int

const (
	HelloWait State = iota
	Ready
	ReadyTimer
	Closing
	Closed
	Established
)

func (s State) String() string {
	switch s {
	case HelloWait:
		return "HELLO_WAIT"
	case Ready:
		return "READY"
	case ReadyTimer:
		return "READY_TIMER"
	case Closing:
		return "CLOSING"
	case Closed:
		return "CLOSED"
	case Established:
		return "ESTABLISHED"
	default:
		return "UNKNOWN"
	}
}

// Verdict classifies an incoming sequence number against Expected.
type Verdict int

const (
	InOrder Verdict = iota
	Gap
	Duplicate
)

func (v Verdict) String() string {
	switch v {
	case InOrder:
		return "in_order"
	case Gap:
		return "gap"
	default:
		return "duplicate"
	}
}

// Session is the protocol state of one conversation. ID and Peer never change
// after New. Expected only grows. All accessors are safe for concurrent use;
// mutation is expected to come from a single driver goroutine.
type Session struct {
	ID      int32
	Peer    transport.Addr
	Created time.Time

	mu           sync.Mutex
	state        State
	expected     int64
	lastActivity time.Time

	received   int64
	lost       int64
	duplicates int64

	latencySum time.Duration
	latencyN   int64
}

func New(id int32, peer transport.Addr, state State, expected int64, now time.Time) *Session {
	return &Session{
		ID:           id,
		Peer:         peer,
		Created:      now,
		state:        state,
		expected:     expected,
		lastActivity: now,
	}
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// SetState returns the previous state.
func (s *Session) SetState(st State) State {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev := s.state
	s.state = st
	return prev
}

func (s *Session) Expected() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.expected
}

func (s *Session) LastActivity() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActivity
}

// Touch refreshes last activity. Older timestamps are ignored.
func (s *Session) Touch(now time.Time) {
	s.mu.Lock()
	if now.After(s.lastActivity) {
		s.lastActivity = now
	}
	s.mu.Unlock()
}

// Idle reports whether nothing was seen for at least timeout.
func (s *Session) Idle(now time.Time, timeout time.Duration) bool {
	return now.Sub(s.LastActivity()) >= timeout
}

// Classify compares seq with Expected. For a Gap, missing is the count of
// sequence numbers in [Expected, seq).
func (s *Session) Classify(seq int32) (v Verdict, missing int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := int64(seq)
	switch {
	case n == s.expected:
		return InOrder, 0
	case n > s.expected:
		return Gap, n - s.expected
	default:
		return Duplicate, 0
	}
}

// Accept records delivery of seq and moves Expected past it.
func (s *Session) Accept(seq int32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if next := int64(seq) + 1; next > s.expected {
		s.expected = next
	}
	s.received++
}

func (s *Session) AddLost(n int64) {
	s.mu.Lock()
	s.lost += n
	s.mu.Unlock()
}

func (s *Session) AddDuplicate() {
	s.mu.Lock()
	s.duplicates++
	s.mu.Unlock()
}

// RecordLatency adds a one-way latency sample. Negative samples come from
// clock skew between hosts and are discarded.
func (s *Session) RecordLatency(d time.Duration) bool {
	if d < 0 {
		return false
	}
	s.mu.Lock()
	s.latencySum += d
	s.latencyN++
	s.mu.Unlock()
	return true
}

func (s *Session) AvgLatency() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.latencyN == 0 {
		return 0
	}
	return s.latencySum / time.Duration(s.latencyN)
}

// Info is a point-in-time copy of a session, safe to hand to other goroutines.
type Info struct {
	ID           int32         `json:"id"`
	Peer         string        `json:"peer"`
	State        string        `json:"state"`
	Expected     int64         `json:"expected"`
	Created      time.Time     `json:"created"`
	LastActivity time.Time     `json:"last_activity"`
	Received     int64         `json:"received"`
	Lost         int64         `json:"lost"`
	Duplicates   int64         `json:"duplicates"`
	AvgLatency   time.Duration `json:"avg_latency"`
}

func (s *Session) Info() Info {
	avg := s.AvgLatency()
	s.mu.Lock()
	defer s.mu.Unlock()
	return Info{
		ID:           s.ID,
		Peer:         string(s.Peer),
		State:        s.state.String(),
		Expected:     s.expected,
		Created:      s.Created,
		LastActivity: s.lastActivity,
		Received:     s.received,
		Lost:         s.lost,
		Duplicates:   s.duplicates,
		AvgLatency:   avg,
	}
}
