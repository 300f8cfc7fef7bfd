// Package server implements the UAP server state machine: session admission,
// per-session sequencing, inactivity sweeping and shutdown.
//
// All FSM evaluation happens on a single serialized loop. The receive
// goroutine only decodes datagrams and hands them over.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/juanpablocruz/uap/pkg/event"
	"github.com/juanpablocruz/uap/pkg/lamport"
	"github.com/juanpablocruz/uap/pkg/protoport"
	"github.com/juanpablocruz/uap/pkg/session"
	"github.com/juanpablocruz/uap/pkg/transport"
	"github.com/juanpablocruz/uap/pkg/wire"
)

const tracerName = "github.com/juanpablocruz/uap/pkg/server"

// Close reasons carried by session_closed events.
const (
	ReasonPeerGoodbye   = "peer_goodbye"
	ReasonTimeout       = "timeout"
	ReasonProtocolError = "protocol_error"
	ReasonShutdown      = "shutdown"
)

var ErrTransportClosed = errors.New("server: transport closed")

type inbound struct {
	from transport.Addr
	msg  protoport.Message
	at   time.Time
}

type Server struct {
	ep    transport.FromEndpoint
	ms    protoport.WireMessenger
	table *session.Table
	clock *lamport.Clock
	sink  event.Sink
	log   *slog.Logger

	tracer trace.Tracer
	spans  map[int32]trace.Span

	timeout    time.Duration
	sweepEvery time.Duration
	maxLost    int
	now        func() time.Time

	// mu serializes FSM evaluation.
	mu sync.Mutex

	malformed atomic.Int64
}

func New(ep transport.FromEndpoint, opts ...Option) *Server {
	s := &Server{
		ep:         ep,
		table:      session.NewTable(),
		clock:      lamport.New(),
		sink:       event.Discard,
		log:        slog.Default(),
		spans:      make(map[int32]trace.Span),
		timeout:    DefaultInactivityTimeout,
		sweepEvery: DefaultSweepInterval,
		maxLost:    DefaultMaxLostEvents,
		now:        time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	if s.sweepEvery <= 0 {
		s.sweepEvery = DefaultSweepInterval
	}
	if s.tracer == nil {
		s.tracer = otel.Tracer(tracerName)
	}
	s.log = s.log.With("component", "uap_server")
	s.ms = protoport.WireMessenger{EP: ep, OnMalformed: s.dropMalformed}
	return s
}

func (s *Server) Table() *session.Table { return s.table }
func (s *Server) Clock() *lamport.Clock { return s.clock }
func (s *Server) Addr() transport.Addr  { return s.ep.LocalAddr() }

// Malformed counts datagrams dropped by the decoder.
func (s *Server) Malformed() int64 { return s.malformed.Load() }

// Run serves until ctx is cancelled or the endpoint closes. On return every
// session has been sent GOODBYE and the receive goroutine has exited; the
// caller still owns the endpoint and closes it afterwards.
func (s *Server) Run(ctx context.Context) error {
	rctx, rcancel := context.WithCancel(ctx)
	in := make(chan inbound, 64)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer close(in)
		for {
			from, m, ok := s.ms.Recv(rctx)
			if !ok {
				return
			}
			select {
			case in <- inbound{from: from, msg: m, at: s.now()}:
			case <-rctx.Done():
				return
			}
		}
	}()
	defer func() {
		rcancel()
		wg.Wait()
	}()

	t := time.NewTicker(s.sweepEvery)
	defer t.Stop()

	s.log.Info("listening", "addr", s.ep.LocalAddr(), "inactivity_timeout", s.timeout)
	for {
		select {
		case <-ctx.Done():
			s.Shutdown()
			return nil
		case d, ok := <-in:
			if !ok {
				s.Shutdown()
				if ctx.Err() != nil {
					return nil
				}
				return ErrTransportClosed
			}
			s.HandleMessage(d.from, d.msg, d.at)
		case <-t.C:
			s.Sweep(s.now())
		}
	}
}

// HandleDatagram decodes b and feeds it to the state machine. Malformed
// datagrams are dropped without reply.
func (s *Server) HandleDatagram(from transport.Addr, b []byte, now time.Time) {
	h, payload, err := wire.Decode(b)
	if err != nil {
		s.dropMalformed(from, err)
		return
	}
	s.HandleMessage(from, protoport.Message{Header: h, Payload: payload}, now)
}

func (s *Server) HandleMessage(from transport.Addr, m protoport.Message, now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	h := m.Header
	s.clock.Advance(h.LogicalClock)
	s.log.Debug("recv", "cmd", h.Command, "session", h.SessionID, "seq", h.Seq,
		"clock", h.LogicalClock, "ts", h.Timestamp, "peer", from)

	sess, ok := s.table.Get(h.SessionID)
	if !ok {
		if h.Command == wire.HELLO {
			s.admit(from, h, now)
			return
		}
		s.log.Debug("unknown_session", "cmd", h.Command, "session", h.SessionID, "peer", from)
		return
	}

	sess.Touch(now)
	sess.RecordLatency(now.Sub(time.UnixMicro(h.Timestamp)))

	switch h.Command {
	case wire.HELLO:
		s.protocolError(sess, h, "HELLO on established session")
	case wire.DATA:
		s.handleData(sess, h, m.Payload)
	case wire.GOODBYE:
		s.reply(sess, wire.GOODBYE, h.Seq)
		s.retire(sess, ReasonPeerGoodbye)
	default:
		s.log.Debug("ignored", "cmd", h.Command, "session", sess.ID)
	}
}

func (s *Server) admit(from transport.Addr, h wire.Header, now time.Time) {
	sess := session.New(h.SessionID, from, session.Established, int64(h.Seq)+1, now)
	if !s.table.Add(sess) {
		return
	}
	sess.RecordLatency(now.Sub(time.UnixMicro(h.Timestamp)))

	_, span := s.tracer.Start(context.Background(), "uap.session",
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(
			attribute.Int("uap.session_id", int(sess.ID)),
			attribute.String("net.peer.addr", string(from)),
		))
	s.spans[sess.ID] = span

	s.reply(sess, wire.HELLO, h.Seq)
	s.log.Info("session_created", "session", sess.ID, "peer", from)
	s.emit(sess, event.Event{Type: event.SessionCreated, Seq: h.Seq})
}

func (s *Server) handleData(sess *session.Session, h wire.Header, payload []byte) {
	verdict, missing := sess.Classify(h.Seq)
	switch verdict {
	case session.Duplicate:
		sess.AddDuplicate()
		s.spanEvent(sess.ID, "duplicate", attribute.Int("uap.seq", int(h.Seq)))
		s.log.Debug("duplicate_packet", "session", sess.ID, "seq", h.Seq, "expected", sess.Expected())
		s.emit(sess, event.Event{Type: event.DuplicatePacket, Seq: h.Seq})
		return
	case session.Gap:
		s.reportLost(sess, sess.Expected(), missing)
	}

	sess.Accept(h.Seq)
	s.emit(sess, event.Event{Type: event.MessageReceived, Seq: h.Seq, Payload: payload})
	s.reply(sess, wire.ALIVE, h.Seq)
}

// reportLost emits one event per missing sequence number up to maxLost, then
// one aggregated event covering the remainder.
func (s *Server) reportLost(sess *session.Session, first, missing int64) {
	sess.AddLost(missing)
	s.spanEvent(sess.ID, "lost", attribute.Int64("uap.first_seq", first), attribute.Int64("uap.count", missing))
	s.log.Debug("lost_packets", "session", sess.ID, "first", first, "count", missing)

	individual := min(missing, int64(max(s.maxLost, 0)))
	for i := int64(0); i < individual; i++ {
		s.emit(sess, event.Event{Type: event.LostPacket, Seq: int32(first + i), Count: 1})
	}
	if rest := missing - individual; rest > 0 {
		s.emit(sess, event.Event{Type: event.LostPacket, Seq: int32(first + individual), Count: rest})
	}
}

func (s *Server) protocolError(sess *session.Session, h wire.Header, reason string) {
	s.log.Warn("protocol_error", "session", sess.ID, "cmd", h.Command, "seq", h.Seq, "reason", reason)
	if span, ok := s.spans[sess.ID]; ok {
		span.SetStatus(codes.Error, reason)
	}
	s.emit(sess, event.Event{Type: event.ProtocolError, Seq: h.Seq, Reason: reason})
	s.reply(sess, wire.GOODBYE, h.Seq)
	s.retire(sess, ReasonProtocolError)
}

// Sweep retires every session idle for at least the inactivity timeout,
// sending each exactly one GOODBYE.
func (s *Server) Sweep(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	expired := s.table.Expired(now, s.timeout)
	for _, sess := range expired {
		s.reply(sess, wire.GOODBYE, lastAccepted(sess))
		s.log.Info("session_timed_out", "session", sess.ID, "idle", now.Sub(sess.LastActivity()))
		s.emit(sess, event.Event{Type: event.SessionTimedOut})
		s.retire(sess, ReasonTimeout)
	}
	return len(expired)
}

// Shutdown sends GOODBYE to every live session and forgets them.
func (s *Server) Shutdown() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, sess := range s.table.Drain() {
		s.reply(sess, wire.GOODBYE, lastAccepted(sess))
		s.closed(sess, ReasonShutdown)
	}
	s.log.Info("shutdown", "malformed", s.malformed.Load())
}

func (s *Server) retire(sess *session.Session, reason string) {
	if _, ok := s.table.Remove(sess.ID); !ok {
		return
	}
	s.closed(sess, reason)
}

func (s *Server) closed(sess *session.Session, reason string) {
	info := sess.Info()
	s.log.Info("session_closed", "session", sess.ID, "reason", reason,
		"received", info.Received, "lost", info.Lost, "duplicates", info.Duplicates,
		"avg_latency", info.AvgLatency)
	s.emit(sess, event.Event{
		Type:       event.SessionClosed,
		Reason:     reason,
		AvgLatency: info.AvgLatency,
		Received:   info.Received,
		Lost:       info.Lost,
		Duplicates: info.Duplicates,
	})
	if span, ok := s.spans[sess.ID]; ok {
		span.SetAttributes(
			attribute.String("uap.close_reason", reason),
			attribute.Int64("uap.received", info.Received),
			attribute.Int64("uap.lost", info.Lost),
		)
		span.End()
		delete(s.spans, sess.ID)
	}
}

// reply stamps and sends cmd to the session's peer. Send failures are logged
// and otherwise ignored.
func (s *Server) reply(sess *session.Session, cmd wire.Command, seq int32) {
	h := wire.NewHeader(cmd, seq, sess.ID, s.clock.Tick(), s.now().UnixMicro())
	if err := s.ms.Send(sess.Peer, protoport.Message{Header: h}); err != nil {
		s.log.Warn("send_err", "cmd", cmd, "session", sess.ID, "peer", sess.Peer, "err", err)
	}
}

func (s *Server) emit(sess *session.Session, e event.Event) {
	e.Time = s.now()
	e.Origin = event.Server
	e.Session = sess.ID
	e.Peer = string(sess.Peer)
	s.sink.Publish(e)
}

func (s *Server) spanEvent(id int32, name string, attrs ...attribute.KeyValue) {
	if span, ok := s.spans[id]; ok {
		span.AddEvent(name, trace.WithAttributes(attrs...))
	}
}

func (s *Server) dropMalformed(from transport.Addr, err error) {
	s.malformed.Add(1)
	s.log.Debug("malformed", "peer", from, "err", err)
}

// lastAccepted is the sequence number an unsolicited GOODBYE echoes.
func lastAccepted(sess *session.Session) int32 {
	return int32(sess.Expected() - 1)
}

func (s *Server) String() string {
	st := s.table.Stats()
	return fmt.Sprintf("uap server %s: %d active, %d total", s.ep.LocalAddr(), st.Active, st.TotalCreated)
}
