package journal

import (
	"bytes"
	"path/filepath"
	"testing"
	"time"

	"github.com/juanpablocruz/uap/pkg/event"
)

var t0 = time.Unix(1_700_000_000, 0).UTC()

func sample() []event.Event {
	return []event.Event{
		{Time: t0, Origin: event.Server, Type: event.SessionCreated, Session: 4, Peer: "10.0.0.1:5000"},
		{Time: t0.Add(time.Millisecond), Origin: event.Server, Type: event.MessageReceived, Session: 4, Seq: 1, Payload: []byte("a")},
		{Time: t0.Add(2 * time.Millisecond), Origin: event.Server, Type: event.LostPacket, Session: 4, Seq: 2, Count: 1},
		{Time: t0.Add(2 * time.Millisecond), Origin: event.Server, Type: event.LostPacket, Session: 4, Seq: 3, Count: 5},
		{Time: t0.Add(3 * time.Millisecond), Origin: event.Server, Type: event.MessageReceived, Session: 4, Seq: 8, Payload: []byte("b")},
		{Time: t0.Add(4 * time.Millisecond), Origin: event.Server, Type: event.DuplicatePacket, Session: 4, Seq: 1},
		{Time: t0.Add(5 * time.Millisecond), Origin: event.Server, Type: event.SessionClosed, Session: 4, Reason: "peer_goodbye", AvgLatency: 2 * time.Millisecond},
		{Time: t0, Origin: event.Server, Type: event.SessionCreated, Session: 1},
	}
}

func TestWriteRead(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)
	for _, e := range sample() {
		w.Publish(e)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	got, err := Read(&buf)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(got) != len(sample()) || w.Len() != len(got) {
		t.Fatalf("read %d events, wrote %d", len(got), w.Len())
	}
	e := got[1]
	if e.Type != event.MessageReceived || string(e.Payload) != "a" || e.Session != 4 || !e.Time.Equal(t0.Add(time.Millisecond)) {
		t.Fatalf("event=%+v", e)
	}
	if got[6].AvgLatency != 2*time.Millisecond {
		t.Fatalf("latency=%s", got[6].AvgLatency)
	}
}

func TestCreateAndReadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.mpk")
	w, err := Create(path)
	if err != nil {
		t.Fatal(err)
	}
	w.Publish(sample()[0])
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}
	got, err := ReadFile(path)
	if err != nil || len(got) != 1 {
		t.Fatalf("got %d err=%v", len(got), err)
	}
}

func TestReadTruncated(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)
	w.Publish(sample()[1])
	w.Publish(sample()[1])
	_ = w.Close()
	b := buf.Bytes()
	got, err := Read(bytes.NewReader(b[:len(b)-3]))
	if err == nil {
		t.Fatalf("truncated journal read without error")
	}
	if len(got) != 1 {
		t.Fatalf("decoded %d complete events before the error", len(got))
	}
}

func TestSummarize(t *testing.T) {
	rep := Summarize(sample())
	if rep.Events != 8 || rep.ByType[event.LostPacket] != 2 {
		t.Fatalf("report=%+v", rep)
	}
	if len(rep.Sessions) != 2 || rep.Sessions[0].Session != 1 {
		t.Fatalf("sessions=%+v", rep.Sessions)
	}
	s := rep.Sessions[1]
	if s.Received != 2 || s.Lost != 6 || s.Duplicates != 1 || s.Reason != "peer_goodbye" || s.Peer != "10.0.0.1:5000" {
		t.Fatalf("summary=%+v", s)
	}
	if s.Closed.Sub(s.Opened) != 5*time.Millisecond {
		t.Fatalf("duration=%s", s.Closed.Sub(s.Opened))
	}
	types := rep.Types()
	if len(types) != 5 || types[0] != event.DuplicatePacket {
		t.Fatalf("types=%v", types)
	}
}
