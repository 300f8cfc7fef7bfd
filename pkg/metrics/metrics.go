// Package metrics exports protocol events as Prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/juanpablocruz/uap/pkg/event"
)

type Config struct {
	Namespace   string
	Subsystem   string
	ConstLabels prometheus.Labels
	Buckets     []float64
	Registry    prometheus.Registerer
	Buffer      int
}

type Option func(*Config)

func WithNamespace(ns string) Option {
	return func(c *Config) { c.Namespace = ns }
}
func WithSubsystem(s string) Option {
	return func(c *Config) { c.Subsystem = s }
}
func WithConstLabels(l prometheus.Labels) Option {
	return func(c *Config) { c.ConstLabels = l }
}
func WithRegistry(r prometheus.Registerer) Option {
	return func(c *Config) { c.Registry = r }
}
func WithBuckets(b []float64) Option {
	return func(c *Config) { c.Buckets = b }
}

func defaultConfig() Config {
	return Config{
		Namespace: "uap",
		Buckets:   []float64{.0005, .001, .0025, .005, .01, .025, .05, .1, .25, .5, 1},
		Registry:  prometheus.DefaultRegisterer,
		Buffer:    256,
	}
}

// Collector turns events into counters. It is an eventbus subscriber and can
// also be used directly as an event.Sink.
type Collector struct {
	ch  chan event.Event
	cfg Config

	sessionsCreated prometheus.Counter
	sessionsClosed  *prometheus.CounterVec
	activeSessions  prometheus.Gauge
	messages        prometheus.Counter
	payloadBytes    prometheus.Counter
	lost            prometheus.Counter
	duplicates      prometheus.Counter
	protocolErrors  prometheus.Counter
	timeouts        *prometheus.CounterVec
	latency         prometheus.Histogram
}

func New(opts ...Option) *Collector {
	cfg := defaultConfig()
	for _, o := range opts {
		o(&cfg)
	}
	f := promauto.With(cfg.Registry)
	counter := func(name, help string) prometheus.Counter {
		return f.NewCounter(prometheus.CounterOpts{
			Namespace: cfg.Namespace, Subsystem: cfg.Subsystem, ConstLabels: cfg.ConstLabels,
			Name: name, Help: help,
		})
	}
	return &Collector{
		ch:  make(chan event.Event, cfg.Buffer),
		cfg: cfg,

		sessionsCreated: counter("sessions_created_total", "Sessions admitted"),
		sessionsClosed: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: cfg.Namespace, Subsystem: cfg.Subsystem, ConstLabels: cfg.ConstLabels,
			Name: "sessions_closed_total", Help: "Sessions retired, by reason",
		}, []string{"reason"}),
		activeSessions: f.NewGauge(prometheus.GaugeOpts{
			Namespace: cfg.Namespace, Subsystem: cfg.Subsystem, ConstLabels: cfg.ConstLabels,
			Name: "active_sessions", Help: "Sessions currently established",
		}),
		messages:       counter("messages_received_total", "DATA messages delivered in order"),
		payloadBytes:   counter("payload_bytes_total", "Payload bytes delivered"),
		lost:           counter("lost_packets_total", "Sequence numbers skipped by gaps"),
		duplicates:     counter("duplicate_packets_total", "Duplicate or stale messages discarded"),
		protocolErrors: counter("protocol_errors_total", "Sessions closed for protocol violations"),
		timeouts: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: cfg.Namespace, Subsystem: cfg.Subsystem, ConstLabels: cfg.ConstLabels,
			Name: "timeouts_total", Help: "Inactivity and response timeouts",
		}, []string{"kind"}),
		latency: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: cfg.Namespace, Subsystem: cfg.Subsystem, ConstLabels: cfg.ConstLabels,
			Name: "session_avg_latency_seconds", Help: "Average one-way latency per closed session",
			Buckets: cfg.Buckets,
		}),
	}
}

func (c *Collector) Channel() chan event.Event { return c.ch }

// WatchMalformed exports fn as malformed_datagrams_total. Dropped datagrams
// never become events, so the count is read from the driver at scrape time.
func (c *Collector) WatchMalformed(fn func() int64) {
	promauto.With(c.cfg.Registry).NewCounterFunc(prometheus.CounterOpts{
		Namespace: c.cfg.Namespace, Subsystem: c.cfg.Subsystem, ConstLabels: c.cfg.ConstLabels,
		Name: "malformed_datagrams_total", Help: "Datagrams dropped by the decoder",
	}, func() float64 { return float64(fn()) })
}

// WatchDropped exports fn as dropped_events_total: events the fan-out
// discarded because a consumer fell behind.
func (c *Collector) WatchDropped(fn func() int64) {
	promauto.With(c.cfg.Registry).NewCounterFunc(prometheus.CounterOpts{
		Namespace: c.cfg.Namespace, Subsystem: c.cfg.Subsystem, ConstLabels: c.cfg.ConstLabels,
		Name: "dropped_events_total", Help: "Events discarded because the event queue was full",
	}, func() float64 { return float64(fn()) })
}

func (c *Collector) Publish(e event.Event) { c.OnEvent(e) }

func (c *Collector) OnEvent(e event.Event) {
	switch e.Type {
	case event.SessionCreated:
		c.sessionsCreated.Inc()
		if e.Origin == event.Server {
			c.activeSessions.Inc()
		}
	case event.SessionClosed:
		c.sessionsClosed.WithLabelValues(e.Reason).Inc()
		if e.Origin == event.Server {
			c.activeSessions.Dec()
		}
		if e.AvgLatency > 0 {
			c.latency.Observe(e.AvgLatency.Seconds())
		}
	case event.MessageReceived:
		c.messages.Inc()
		c.payloadBytes.Add(float64(len(e.Payload)))
	case event.LostPacket:
		n := e.Count
		if n < 1 {
			n = 1
		}
		c.lost.Add(float64(n))
	case event.DuplicatePacket:
		c.duplicates.Inc()
	case event.ProtocolError:
		c.protocolErrors.Inc()
	case event.SessionTimedOut:
		c.timeouts.WithLabelValues("inactivity").Inc()
	case event.ResponseTimeout:
		c.timeouts.WithLabelValues("response").Inc()
	}
}
