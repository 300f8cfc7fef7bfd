package client

import (
	"log/slog"
	"time"

	"github.com/juanpablocruz/uap/pkg/event"
	"github.com/juanpablocruz/uap/pkg/lamport"
)

const DefaultResponseTimeout = 10 * time.Second

type Option func(*Client)

// WithSessionID fixes the session id instead of drawing a random one.
func WithSessionID(id int32) Option {
	return func(c *Client) { c.id = id }
}
func WithResponseTimeout(d time.Duration) Option {
	return func(c *Client) { c.timeout = d }
}
func WithSink(s event.Sink) Option {
	return func(c *Client) { c.sink = s }
}
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.log = l }
}
func WithClock(clk *lamport.Clock) Option {
	return func(c *Client) { c.clock = clk }
}
func WithNow(now func() time.Time) Option {
	return func(c *Client) { c.now = now }
}
