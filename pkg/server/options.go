package server

import (
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/juanpablocruz/uap/pkg/event"
	"github.com/juanpablocruz/uap/pkg/lamport"
	"github.com/juanpablocruz/uap/pkg/session"
)

const (
	DefaultInactivityTimeout = 30 * time.Second
	DefaultSweepInterval     = time.Second
	// DefaultMaxLostEvents caps individual lost-packet events per gap; the
	// rest of the gap is reported as one aggregated event.
	DefaultMaxLostEvents = 256
)

// Option configures a Server in New.
type Option func(*Server)

func WithSink(s event.Sink) Option {
	return func(srv *Server) { srv.sink = s }
}
func WithLogger(l *slog.Logger) Option {
	return func(srv *Server) { srv.log = l }
}
func WithInactivityTimeout(d time.Duration) Option {
	return func(srv *Server) { srv.timeout = d }
}
func WithSweepInterval(d time.Duration) Option {
	return func(srv *Server) { srv.sweepEvery = d }
}
func WithClock(c *lamport.Clock) Option {
	return func(srv *Server) { srv.clock = c }
}
func WithTable(t *session.Table) Option {
	return func(srv *Server) { srv.table = t }
}
func WithTracer(t trace.Tracer) Option {
	return func(srv *Server) { srv.tracer = t }
}
func WithMaxLostEvents(n int) Option {
	return func(srv *Server) { srv.maxLost = n }
}

// WithNow overrides the wall clock used by the Run loop.
func WithNow(now func() time.Time) Option {
	return func(srv *Server) { srv.now = now }
}
