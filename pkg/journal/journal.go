// Package journal records protocol events to a msgpack stream and reads them
// back for offline reports.
package journal

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/juanpablocruz/uap/pkg/event"
)

// Writer appends events to a journal. It is an event.Sink and an eventbus
// subscriber. The first write error sticks and is returned by Close.
type Writer struct {
	ch chan event.Event

	mu    sync.Mutex
	bw    *bufio.Writer
	enc   *msgpack.Encoder
	close func() error
	err   error
	n     int
}

func NewWriter(w io.Writer) *Writer {
	bw := bufio.NewWriter(w)
	return &Writer{
		ch:    make(chan event.Event, 256),
		bw:    bw,
		enc:   msgpack.NewEncoder(bw),
		close: func() error { return nil },
	}
}

// Create truncates or creates path and returns a Writer over it.
func Create(path string) (*Writer, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("journal: %w", err)
	}
	w := NewWriter(f)
	w.close = f.Close
	return w, nil
}

func (w *Writer) Channel() chan event.Event { return w.ch }
func (w *Writer) OnEvent(e event.Event)     { w.Publish(e) }

func (w *Writer) Publish(e event.Event) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.err != nil {
		return
	}
	if err := w.enc.Encode(&e); err != nil {
		w.err = err
		return
	}
	w.n++
}

// Len is the number of events written so far.
func (w *Writer) Len() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.n
}

func (w *Writer) Flush() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.err != nil {
		return w.err
	}
	return w.bw.Flush()
}

func (w *Writer) Close() error {
	ferr := w.Flush()
	cerr := w.close()
	return errors.Join(ferr, cerr)
}

// Read decodes every event in r.
func Read(r io.Reader) ([]event.Event, error) {
	br := bufio.NewReader(r)
	dec := msgpack.NewDecoder(br)
	var out []event.Event
	for {
		if _, err := br.Peek(1); err != nil {
			if errors.Is(err, io.EOF) {
				return out, nil
			}
			return out, fmt.Errorf("journal: %w", err)
		}
		var e event.Event
		if err := dec.Decode(&e); err != nil {
			return out, fmt.Errorf("journal: event %d: %w", len(out), err)
		}
		out = append(out, e)
	}
}

func ReadFile(path string) ([]event.Event, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("journal: %w", err)
	}
	defer f.Close()
	return Read(f)
}

// SessionSummary folds the events of one session.
type SessionSummary struct {
	Origin     event.Origin
	Session    int32
	Peer       string
	Opened     time.Time
	Closed     time.Time
	Received   int64
	Lost       int64
	Duplicates int64
	Errors     int
	Reason     string
	AvgLatency time.Duration
}

type Report struct {
	Events   int
	ByType   map[event.Type]int
	Sessions []SessionSummary
}

// Summarize builds a report from events in journal order.
func Summarize(events []event.Event) Report {
	type key struct {
		o  event.Origin
		id int32
	}
	rep := Report{Events: len(events), ByType: map[event.Type]int{}}
	byKey := map[key]*SessionSummary{}
	var order []key

	for _, e := range events {
		rep.ByType[e.Type]++
		k := key{e.Origin, e.Session}
		s, ok := byKey[k]
		if !ok {
			s = &SessionSummary{Origin: e.Origin, Session: e.Session, Peer: e.Peer, Opened: e.Time}
			byKey[k] = s
			order = append(order, k)
		}
		switch e.Type {
		case event.MessageReceived:
			s.Received++
		case event.LostPacket:
			s.Lost += max(e.Count, 1)
		case event.DuplicatePacket:
			s.Duplicates++
		case event.ProtocolError, event.ResponseTimeout, event.SendFailed:
			s.Errors++
		case event.SessionClosed:
			s.Closed = e.Time
			s.Reason = e.Reason
			s.AvgLatency = e.AvgLatency
		}
	}
	for _, k := range order {
		rep.Sessions = append(rep.Sessions, *byKey[k])
	}
	sort.SliceStable(rep.Sessions, func(i, j int) bool {
		a, b := rep.Sessions[i], rep.Sessions[j]
		if a.Origin != b.Origin {
			return a.Origin > b.Origin
		}
		return a.Session < b.Session
	})
	return rep
}

// Types returns the event types seen, sorted.
func (r Report) Types() []event.Type {
	out := make([]event.Type, 0, len(r.ByType))
	for t := range r.ByType {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
