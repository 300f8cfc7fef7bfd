// Package config holds the settings for the uap commands, their defaults and
// validation.
package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"time"
)

const (
	// defaults for when not provided
	InactivityTimeout = 30 * time.Second
	SweepInterval     = time.Second
	ResponseTimeout   = 10 * time.Second
	MaxLostEvents     = 256

	SimClients  = 3
	SimMessages = 20

	EnvInactivityTimeout = "UAP_INACTIVITY_TIMEOUT"
	EnvResponseTimeout   = "UAP_RESPONSE_TIMEOUT"
)

var ErrInvalid = errors.New("invalid config")

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalid, fmt.Sprintf(format, args...))
}

type Log struct {
	Debug bool
	JSON  bool
}

type Server struct {
	Port              int
	InactivityTimeout time.Duration
	SweepInterval     time.Duration
	MaxLostEvents     int

	// Admin is the listen address of the HTTP admin surface; empty disables it.
	Admin   string
	Journal string
	Log     Log
}

func (c *Server) ApplyDefaults() {
	if c.InactivityTimeout == 0 {
		c.InactivityTimeout = InactivityTimeout
	}
	if c.SweepInterval == 0 {
		c.SweepInterval = SweepInterval
	}
	if c.MaxLostEvents == 0 {
		c.MaxLostEvents = MaxLostEvents
	}
}

func (c *Server) Validate() error {
	if c == nil {
		return invalid("nil config")
	}
	if err := validPort(c.Port, true); err != nil {
		return err
	}
	if c.InactivityTimeout <= 0 {
		return invalid("InactivityTimeout=%s", c.InactivityTimeout)
	}
	if c.SweepInterval <= 0 || c.SweepInterval > c.InactivityTimeout {
		return invalid("SweepInterval=%s must be in (0, InactivityTimeout=%s]", c.SweepInterval, c.InactivityTimeout)
	}
	if c.MaxLostEvents < 0 {
		return invalid("MaxLostEvents=%d", c.MaxLostEvents)
	}
	if c.Admin != "" {
		if _, _, err := net.SplitHostPort(c.Admin); err != nil {
			return invalid("Admin=%q: %v", c.Admin, err)
		}
	}
	return nil
}

// ListenAddr is the UDP bind address for Port.
func (c *Server) ListenAddr() string {
	return net.JoinHostPort("", strconv.Itoa(c.Port))
}

type Client struct {
	Host            string
	Port            int
	SessionID       int32
	ResponseTimeout time.Duration
	TUI             bool
	// Feed is a script of payloads sent instead of reading stdin.
	Feed    string
	Journal string
	Log     Log
}

func (c *Client) ApplyDefaults() {
	if c.ResponseTimeout == 0 {
		c.ResponseTimeout = ResponseTimeout
	}
}

func (c *Client) Validate() error {
	if c == nil {
		return invalid("nil config")
	}
	if c.Host == "" {
		return invalid("Host=%q", c.Host)
	}
	if err := validPort(c.Port, false); err != nil {
		return err
	}
	if c.SessionID < 0 {
		return invalid("SessionID=%d", c.SessionID)
	}
	if c.ResponseTimeout <= 0 {
		return invalid("ResponseTimeout=%s", c.ResponseTimeout)
	}
	if c.TUI && c.Feed != "" {
		return invalid("TUI and Feed are exclusive")
	}
	return nil
}

// ServerAddr is the "host:port" the client sends to.
func (c *Client) ServerAddr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// Sim configures the in-memory chaos simulation.
type Sim struct {
	Clients  int
	Messages int

	Loss    float64
	Dup     float64
	Reorder float64
	Delay   time.Duration
	Jitter  time.Duration
	Seed    int64

	ResponseTimeout   time.Duration
	InactivityTimeout time.Duration
	// Feed replaces the generated messages with a script every client plays.
	Feed    string
	Journal string
	Log     Log
}

func (c *Sim) ApplyDefaults() {
	if c.Clients == 0 {
		c.Clients = SimClients
	}
	if c.Messages == 0 {
		c.Messages = SimMessages
	}
	if c.ResponseTimeout == 0 {
		c.ResponseTimeout = 500 * time.Millisecond
	}
	if c.InactivityTimeout == 0 {
		c.InactivityTimeout = 5 * time.Second
	}
}

func (c *Sim) Validate() error {
	if c == nil {
		return invalid("nil config")
	}
	if c.Clients < 1 {
		return invalid("Clients=%d", c.Clients)
	}
	if c.Messages < 0 {
		return invalid("Messages=%d", c.Messages)
	}
	for name, p := range map[string]float64{"Loss": c.Loss, "Dup": c.Dup, "Reorder": c.Reorder} {
		if p < 0 || p > 1 {
			return invalid("%s=%v must be within [0,1]", name, p)
		}
	}
	if c.Delay < 0 || c.Jitter < 0 {
		return invalid("Delay=%s Jitter=%s", c.Delay, c.Jitter)
	}
	if c.ResponseTimeout <= 0 || c.InactivityTimeout <= 0 {
		return invalid("ResponseTimeout=%s InactivityTimeout=%s", c.ResponseTimeout, c.InactivityTimeout)
	}
	return nil
}

// DurationFromEnv overrides *d with the named environment variable when it is
// set. A malformed value is an error rather than silently ignored.
func DurationFromEnv(name string, d *time.Duration) error {
	v, ok := os.LookupEnv(name)
	if !ok || v == "" {
		return nil
	}
	parsed, err := time.ParseDuration(v)
	if err != nil {
		return invalid("%s=%q: %v", name, v, err)
	}
	*d = parsed
	return nil
}

func validPort(p int, allowZero bool) error {
	if p < 0 || p > 65535 || (p == 0 && !allowZero) {
		return invalid("Port=%d", p)
	}
	return nil
}
