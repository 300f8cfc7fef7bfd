// Package client drives the UAP client state machine:
//
//	HELLO_WAIT -> READY <-> READY_TIMER -> CLOSING -> CLOSED
//
// One response timer is armed at a time. Operator input is only consumed in
// READY, so lines typed while a reply is outstanding queue up.
package client

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/juanpablocruz/uap/pkg/event"
	"github.com/juanpablocruz/uap/pkg/lamport"
	"github.com/juanpablocruz/uap/pkg/protoport"
	"github.com/juanpablocruz/uap/pkg/session"
	"github.com/juanpablocruz/uap/pkg/transport"
	"github.com/juanpablocruz/uap/pkg/wire"
)

// Close reasons carried by the final session_closed event.
const (
	ReasonLocal           = "local"
	ReasonPeerGoodbye     = "peer_goodbye"
	ReasonHelloTimeout    = "hello_timeout"
	ReasonResponseTimeout = "response_timeout"
	ReasonClosingTimeout  = "closing_timeout"
)

// Command is one unit of operator input. Quit, or a closed channel, ends the
// session.
type Command struct {
	Data []byte
	Quit bool
}

type Client struct {
	ep     transport.EndpointIF
	ms     protoport.WireMessenger
	server transport.Addr

	id      int32
	clock   *lamport.Clock
	sink    event.Sink
	log     *slog.Logger
	timeout time.Duration
	now     func() time.Time

	sess *session.Session

	// next outbound sequence number
	seq int32
	// seq of the DATA awaiting ALIVE
	awaiting int32
	// local send timestamps by seq, for latency samples
	sentAt map[int32]int64

	timer  *time.Timer
	timerC <-chan time.Time

	reason string
}

func New(ep transport.EndpointIF, server transport.Addr, opts ...Option) *Client {
	c := &Client{
		ep:      ep,
		server:  server,
		clock:   lamport.New(),
		sink:    event.Discard,
		log:     slog.Default(),
		timeout: DefaultResponseTimeout,
		now:     time.Now,
		sentAt:  make(map[int32]int64),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	if c.id == 0 {
		c.id = session.NewID()
	}
	c.log = c.log.With("component", "uap_client", "session", c.id)
	c.ms = protoport.WireMessenger{EP: ep, OnMalformed: func(_ transport.Addr, err error) {
		c.log.Debug("malformed", "err", err)
	}}
	c.sess = session.New(c.id, server, session.HelloWait, 0, c.now())
	return c
}

func (c *Client) ID() int32             { return c.id }
func (c *Client) State() session.State  { return c.sess.State() }
func (c *Client) Session() session.Info { return c.sess.Info() }

// Reason reports why the session closed; empty while it is open.
func (c *Client) Reason() string { return c.reason }

// Run performs the whole session: HELLO, data exchange driven by cmds, and
// teardown. It returns once CLOSED is reached. Cancelling ctx is treated as
// quit, so GOODBYE is still sent and the CLOSING wait still runs.
func (c *Client) Run(ctx context.Context, cmds <-chan Command) error {
	rctx, rcancel := context.WithCancel(context.Background())
	in := make(chan protoport.Message, 16)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer close(in)
		for {
			_, m, ok := c.ms.Recv(rctx)
			if !ok {
				return
			}
			select {
			case in <- m:
			case <-rctx.Done():
				return
			}
		}
	}()
	defer func() {
		rcancel()
		wg.Wait()
	}()

	c.timer = time.NewTimer(c.timeout)
	c.stopTimer()
	defer c.timer.Stop()

	c.send(wire.HELLO, nil)
	c.startTimer()

	done := ctx.Done()
	for c.sess.State() != session.Closed {
		var input <-chan Command
		if c.sess.State() == session.Ready {
			input = cmds
		}
		select {
		case <-done:
			done = nil
			c.log.Info("interrupted", "state", c.sess.State())
			c.quit(ReasonLocal)
		case cmd, ok := <-input:
			if !ok || cmd.Quit {
				c.quit(ReasonLocal)
				continue
			}
			c.sendData(cmd.Data)
		case m, ok := <-in:
			if !ok {
				c.log.Warn("transport_closed", "state", c.sess.State())
				if c.reason == "" {
					c.reason = ReasonLocal
				}
				c.finish()
				continue
			}
			c.HandleMessage(m)
		case <-c.timerC:
			c.timerC = nil
			c.onTimeout()
		}
	}
	return nil
}

// HandleMessage applies one decoded inbound message to the state machine.
func (c *Client) HandleMessage(m protoport.Message) {
	h := m.Header
	if h.SessionID != c.id {
		c.log.Debug("foreign_session", "got", h.SessionID)
		return
	}
	c.clock.Advance(h.LogicalClock)
	c.log.Debug("recv", "cmd", h.Command, "seq", h.Seq, "clock", h.LogicalClock, "ts", h.Timestamp)

	state := c.sess.State()
	switch h.Command {
	case wire.HELLO:
		if state != session.HelloWait {
			return
		}
		c.stopTimer()
		c.sample(h)
		c.sess.Accept(h.Seq)
		c.transition(session.Ready)
	case wire.ALIVE:
		if v, _ := c.sess.Classify(h.Seq); v == session.Duplicate {
			c.sess.AddDuplicate()
			c.emit(event.Event{Type: event.DuplicatePacket, Seq: h.Seq})
			return
		}
		if state != session.ReadyTimer || h.Seq < c.awaiting {
			return
		}
		c.stopTimer()
		c.sample(h)
		c.sess.Accept(h.Seq)
		c.transition(session.Ready)
	case wire.GOODBYE:
		switch state {
		case session.Closing:
			c.stopTimer()
			c.finish()
		case session.HelloWait, session.Ready, session.ReadyTimer:
			c.stopTimer()
			c.log.Info("server_goodbye", "state", state)
			c.reason = ReasonPeerGoodbye
			c.finish()
		}
	}
}

// sendData stays in READY, with the sequence number unused, when payload
// cannot be carried in one datagram.
func (c *Client) sendData(payload []byte) {
	if n := wire.HeaderSize + len(payload); n > wire.MaxDatagram {
		err := fmt.Errorf("%w: %d bytes", wire.ErrPayloadTooLarge, n)
		c.log.Warn("send_rejected", "seq", c.seq, "err", err)
		c.emit(event.Event{Type: event.SendFailed, Seq: c.seq, Reason: err.Error()})
		return
	}
	c.awaiting = c.send(wire.DATA, payload)
	c.transition(session.ReadyTimer)
	c.startTimer()
}

// quit moves any non-terminal state to CLOSING.
func (c *Client) quit(reason string) {
	switch c.sess.State() {
	case session.HelloWait, session.Ready, session.ReadyTimer:
		c.reason = reason
		c.stopTimer()
		c.send(wire.GOODBYE, nil)
		c.transition(session.Closing)
		c.startTimer()
	}
}

func (c *Client) onTimeout() {
	state := c.sess.State()
	c.log.Error("response_timeout", "state", state, "timeout", c.timeout)
	c.emit(event.Event{Type: event.ResponseTimeout, From: state.String()})
	switch state {
	case session.HelloWait:
		c.quit(ReasonHelloTimeout)
	case session.ReadyTimer:
		c.quit(ReasonResponseTimeout)
	case session.Closing:
		if c.reason == ReasonLocal {
			c.reason = ReasonClosingTimeout
		}
		c.finish()
	}
}

func (c *Client) finish() {
	c.transition(session.Closed)
	info := c.sess.Info()
	c.log.Info("session_closed", "reason", c.reason, "sent", c.seq, "avg_latency", info.AvgLatency)
	c.emit(event.Event{
		Type:       event.SessionClosed,
		Reason:     c.reason,
		AvgLatency: info.AvgLatency,
		Received:   info.Received,
		Duplicates: info.Duplicates,
	})
}

// send stamps and transmits one message, returning the sequence number it
// carried.
func (c *Client) send(cmd wire.Command, payload []byte) int32 {
	seq := c.seq
	c.seq++
	ts := c.now().UnixMicro()
	h := wire.NewHeader(cmd, seq, c.id, c.clock.Tick(), ts)
	c.sentAt[seq] = ts
	c.log.Debug("send", "cmd", cmd, "seq", seq, "clock", h.LogicalClock, "ts", ts)
	if err := c.ms.Send(c.server, protoport.Message{Header: h, Payload: payload}); err != nil {
		c.log.Warn("send_err", "cmd", cmd, "seq", seq, "err", err)
	}
	return seq
}

// sample records reply.timestamp minus the local send time of the message it
// answers.
func (c *Client) sample(h wire.Header) {
	sent, ok := c.sentAt[h.Seq]
	// anything sent before an answered message will not be answered later
	for seq := range c.sentAt {
		if seq <= h.Seq {
			delete(c.sentAt, seq)
		}
	}
	if ok {
		c.sess.RecordLatency(time.Duration(h.Timestamp-sent) * time.Microsecond)
	}
}

func (c *Client) transition(to session.State) {
	from := c.sess.SetState(to)
	if from == to {
		return
	}
	c.log.Debug("state", "from", from, "to", to)
	c.emit(event.Event{Type: event.StateChange, From: from.String(), To: to.String()})
}

func (c *Client) startTimer() {
	c.stopTimer()
	c.timer.Reset(c.timeout)
	c.timerC = c.timer.C
}

func (c *Client) stopTimer() {
	if !c.timer.Stop() {
		select {
		case <-c.timer.C:
		default:
		}
	}
	c.timerC = nil
}

func (c *Client) emit(e event.Event) {
	e.Time = c.now()
	e.Origin = event.Client
	e.Session = c.id
	e.Peer = string(c.server)
	c.sink.Publish(e)
}
