package session

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// Table maps session ids to live sessions. Insert, lookup and removal are
// atomic with respect to each other.
type Table struct {
	mu       sync.RWMutex
	sessions map[int32]*Session
	peak     int

	totalCreated atomic.Int64
	totalClosed  atomic.Int64
}

// Stats summarizes table activity since creation.
type Stats struct {
	Active       int   `json:"active"`
	Peak         int   `json:"peak"`
	TotalCreated int64 `json:"total_created"`
	TotalClosed  int64 `json:"total_closed"`
}

func NewTable() *Table {
	return &Table{sessions: make(map[int32]*Session)}
}

// Add inserts s unless its id is already present.
func (t *Table) Add(s *Session) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, exists := t.sessions[s.ID]; exists {
		return false
	}
	t.sessions[s.ID] = s
	if n := len(t.sessions); n > t.peak {
		t.peak = n
	}
	t.totalCreated.Add(1)
	return true
}

func (t *Table) Get(id int32) (*Session, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	s, ok := t.sessions[id]
	return s, ok
}

func (t *Table) Remove(id int32) (*Session, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.sessions[id]
	if !ok {
		return nil, false
	}
	delete(t.sessions, id)
	t.totalClosed.Add(1)
	return s, true
}

func (t *Table) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.sessions)
}

// Expired lists sessions idle for at least timeout, ordered by id. They stay
// in the table; the caller retires them.
func (t *Table) Expired(now time.Time, timeout time.Duration) []*Session {
	var out []*Session
	t.ForEach(func(s *Session) {
		if s.Idle(now, timeout) {
			out = append(out, s)
		}
	})
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Drain removes and returns every session, ordered by id.
func (t *Table) Drain() []*Session {
	t.mu.Lock()
	out := make([]*Session, 0, len(t.sessions))
	for id, s := range t.sessions {
		out = append(out, s)
		delete(t.sessions, id)
	}
	t.totalClosed.Add(int64(len(out)))
	t.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// ForEach calls fn for a snapshot of the current sessions. fn may call back
// into the table.
func (t *Table) ForEach(fn func(*Session)) {
	t.mu.RLock()
	list := make([]*Session, 0, len(t.sessions))
	for _, s := range t.sessions {
		list = append(list, s)
	}
	t.mu.RUnlock()
	for _, s := range list {
		fn(s)
	}
}

// Snapshot returns Info for every session, ordered by id.
func (t *Table) Snapshot() []Info {
	var out []Info
	t.ForEach(func(s *Session) { out = append(out, s.Info()) })
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (t *Table) Stats() Stats {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return Stats{
		Active:       len(t.sessions),
		Peak:         t.peak,
		TotalCreated: t.totalCreated.Load(),
		TotalClosed:  t.totalClosed.Load(),
	}
}
