package event

import (
	"strings"
	"testing"
	"time"
)

func TestTeeSkipsNil(t *testing.T) {
	var a, b []Event
	s := Tee(SinkFunc(func(e Event) { a = append(a, e) }), nil, SinkFunc(func(e Event) { b = append(b, e) }))
	s.Publish(Event{Type: SessionCreated, Session: 1})
	if len(a) != 1 || len(b) != 1 {
		t.Fatalf("tee delivered a=%d b=%d", len(a), len(b))
	}
}

func TestString(t *testing.T) {
	cases := []struct {
		e    Event
		want string
	}{
		{Event{Type: MessageReceived, Session: 7, Seq: 3, Payload: []byte("hi")}, `[7] #3 "hi"`},
		{Event{Type: LostPacket, Session: 7, Seq: 4}, "[7] lost packet #4"},
		{Event{Type: LostPacket, Session: 7, Seq: 4, Count: 10}, "[7] lost 10 packets from #4"},
		{Event{Type: SessionClosed, Session: 7, Reason: "timeout", AvgLatency: time.Millisecond}, "[7] session closed (timeout), avg latency 1ms"},
	}
	for _, tc := range cases {
		if got := tc.e.String(); got != tc.want {
			t.Fatalf("String()=%q want %q", got, tc.want)
		}
	}
	if !strings.Contains(Event{Type: SessionCreated, Session: 1}.String(), "session_created") {
		t.Fatalf("default formatting lost the type")
	}
}
