// Package event defines the structured notifications the protocol drivers
// emit. Drivers never format output; console, metrics, journal and admin
// collaborators consume these values.
package event

import (
	"fmt"
	"time"
)

type Type string

const (
	SessionCreated  Type = "session_created"
	MessageReceived Type = "message_received"
	LostPacket      Type = "lost_packet"
	DuplicatePacket Type = "duplicate_packet"
	ProtocolError   Type = "protocol_error"
	SessionClosed   Type = "session_closed"
	SessionTimedOut Type = "session_timed_out"

	StateChange     Type = "state_change"
	ResponseTimeout Type = "response_timeout"
	SendFailed      Type = "send_failed"
)

// Origin tells which side of the protocol produced the event.
type Origin string

const (
	Server Origin = "server"
	Client Origin = "client"
)

type Event struct {
	Time    time.Time `msgpack:"time" json:"time"`
	Origin  Origin    `msgpack:"origin" json:"origin"`
	Type    Type      `msgpack:"type" json:"type"`
	Session int32     `msgpack:"session" json:"session"`
	Peer    string    `msgpack:"peer,omitempty" json:"peer,omitempty"`
	Seq     int32     `msgpack:"seq" json:"seq"`

	// Count is the number of sequence numbers a LostPacket event covers.
	Count int64 `msgpack:"count,omitempty" json:"count,omitempty"`

	Payload []byte `msgpack:"payload,omitempty" json:"payload,omitempty"`
	Reason  string `msgpack:"reason,omitempty" json:"reason,omitempty"`

	From string `msgpack:"from,omitempty" json:"from,omitempty"`
	To   string `msgpack:"to,omitempty" json:"to,omitempty"`

	AvgLatency time.Duration `msgpack:"avg_latency,omitempty" json:"avg_latency,omitempty"`
	Received   int64         `msgpack:"received,omitempty" json:"received,omitempty"`
	Lost       int64         `msgpack:"lost,omitempty" json:"lost,omitempty"`
	Duplicates int64         `msgpack:"duplicates,omitempty" json:"duplicates,omitempty"`
}

func (e Event) GetType() string { return string(e.Type) }

func (e Event) String() string {
	switch e.Type {
	case MessageReceived:
		return fmt.Sprintf("[%d] #%d %q", e.Session, e.Seq, e.Payload)
	case LostPacket:
		if e.Count > 1 {
			return fmt.Sprintf("[%d] lost %d packets from #%d", e.Session, e.Count, e.Seq)
		}
		return fmt.Sprintf("[%d] lost packet #%d", e.Session, e.Seq)
	case DuplicatePacket:
		return fmt.Sprintf("[%d] duplicate packet #%d", e.Session, e.Seq)
	case ProtocolError:
		return fmt.Sprintf("[%d] protocol error: %s", e.Session, e.Reason)
	case SessionClosed:
		return fmt.Sprintf("[%d] session closed (%s), avg latency %s", e.Session, e.Reason, e.AvgLatency)
	case SessionTimedOut:
		return fmt.Sprintf("[%d] session timed out", e.Session)
	case StateChange:
		return fmt.Sprintf("[%d] %s -> %s", e.Session, e.From, e.To)
	case ResponseTimeout:
		return fmt.Sprintf("[%d] no response in %s", e.Session, e.From)
	case SendFailed:
		return fmt.Sprintf("[%d] not sent: %s", e.Session, e.Reason)
	default:
		return fmt.Sprintf("[%d] %s", e.Session, e.Type)
	}
}

// Sink receives events from a driver. Publish is called from the driver's
// event loop and should not block for long.
type Sink interface {
	Publish(Event)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(Event)

func (f SinkFunc) Publish(e Event) { f(e) }

// Discard drops every event.
var Discard Sink = SinkFunc(func(Event) {})

type multi []Sink

func (m multi) Publish(e Event) {
	for _, s := range m {
		s.Publish(e)
	}
}

// Tee fans an event out to every non-nil sink in order.
func Tee(sinks ...Sink) Sink {
	out := make(multi, 0, len(sinks))
	for _, s := range sinks {
		if s != nil {
			out = append(out, s)
		}
	}
	if len(out) == 1 {
		return out[0]
	}
	return out
}
