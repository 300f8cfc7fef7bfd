// Package eventbus fans protocol events out to independent consumers such as
// the console printer, metrics and the journal. Each subscriber is drained by
// its own worker.
package eventbus

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/juanpablocruz/uap/pkg/event"
)

// Subscriber consumes events on its own channel.
// The bus starts a goroutine that reads from Channel() and calls OnEvent for
// each event. Subscribers must not close the channel.
type Subscriber interface {
	OnEvent(event.Event)
	Channel() chan event.Event
}

type Option func(*Bus)

// WithPublishBuffer sets the internal publish queue capacity.
func WithPublishBuffer(n int) Option {
	return func(b *Bus) {
		if n < 1 {
			n = 1
		}
		b.pubCh = make(chan delivery, n)
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(b *Bus) { b.log = l }
}

// WithDropWhenFull makes Publish discard an event instead of waiting when the
// publish queue is full. Discarded events are counted by Dropped.
func WithDropWhenFull() Option {
	return func(b *Bus) { b.dropWhenFull = true }
}

// Bus implements event.Sink.
type Bus struct {
	subsMu sync.RWMutex
	subs   map[Subscriber]struct{}

	pubCh chan delivery

	// lifeMu orders Publish against Stop closing pubCh.
	lifeMu    sync.RWMutex
	startOnce sync.Once
	stopOnce  sync.Once
	started   atomic.Bool

	ctx    context.Context
	cancel context.CancelFunc

	fanoutWG sync.WaitGroup
	subsWG   sync.WaitGroup

	// one count per (event, subscriber) delivery
	procWG sync.WaitGroup

	dropWhenFull bool
	dropped      atomic.Int64

	log *slog.Logger
}

type delivery struct {
	ev      event.Event
	targets []Subscriber
}

func New(opts ...Option) *Bus {
	b := &Bus{
		subs:  make(map[Subscriber]struct{}),
		pubCh: make(chan delivery, 1024),
		log:   slog.Default(),
	}
	for _, o := range opts {
		o(b)
	}
	return b
}

// Subscribe registers s. If the bus is already started a worker is spun up
// immediately.
func (b *Bus) Subscribe(s Subscriber) {
	b.subsMu.Lock()
	if _, exists := b.subs[s]; exists {
		b.subsMu.Unlock()
		return
	}
	b.subs[s] = struct{}{}
	b.subsMu.Unlock()

	if b.started.Load() {
		b.startSubscriberWorker(s)
	}
}

// Publish enqueues ev for the current snapshot of subscribers. It blocks when
// the publish queue is full unless the bus was built WithDropWhenFull. Events
// published before Start or after Stop are dropped.
func (b *Bus) Publish(ev event.Event) {
	b.lifeMu.RLock()
	defer b.lifeMu.RUnlock()
	if !b.started.Load() {
		return
	}

	b.subsMu.RLock()
	targets := make([]Subscriber, 0, len(b.subs))
	for s := range b.subs {
		targets = append(targets, s)
	}
	b.subsMu.RUnlock()

	if len(targets) == 0 {
		return
	}

	d := delivery{ev: ev, targets: targets}
	b.procWG.Add(len(targets))
	if !b.dropWhenFull {
		b.pubCh <- d
		return
	}
	select {
	case b.pubCh <- d:
	default:
		b.procWG.Add(-len(targets))
		if b.dropped.Add(1) == 1 {
			b.log.Warn("event_queue_full", "event", ev.Type)
		}
	}
}

// Dropped counts events discarded because the publish queue was full.
func (b *Bus) Dropped() int64 { return b.dropped.Load() }

// Start launches the fanout loop and subscriber workers. Idempotent.
func (b *Bus) Start() {
	b.startOnce.Do(func() {
		b.ctx, b.cancel = context.WithCancel(context.Background())
		b.started.Store(true)

		b.subsMu.RLock()
		for s := range b.subs {
			b.startSubscriberWorker(s)
		}
		b.subsMu.RUnlock()

		b.fanoutWG.Add(1)
		go func() {
			defer b.fanoutWG.Done()
			for d := range b.pubCh {
				for _, s := range d.targets {
					select {
					case s.Channel() <- d.ev:
					case <-b.ctx.Done():
						b.procWG.Done()
					}
				}
			}
		}()
	})
}

// Stop drains queued events, waits for every OnEvent to return and shuts the
// workers down. Idempotent. A stopped bus cannot be restarted.
func (b *Bus) Stop() {
	b.stopOnce.Do(func() {
		b.lifeMu.Lock()
		wasStarted := b.started.Swap(false)
		close(b.pubCh)
		b.lifeMu.Unlock()
		if !wasStarted {
			return
		}

		b.fanoutWG.Wait()
		b.procWG.Wait()

		b.cancel()
		b.subsWG.Wait()
	})
}

// WaitForProcessing blocks until every event published so far has been
// handled by its subscribers.
func (b *Bus) WaitForProcessing() {
	b.procWG.Wait()
}

func (b *Bus) startSubscriberWorker(s Subscriber) {
	ch := s.Channel()
	b.subsWG.Add(1)
	go func() {
		defer b.subsWG.Done()
		for {
			select {
			case ev, ok := <-ch:
				if !ok {
					return
				}
				b.handleEvent(s, ev)
			case <-b.ctx.Done():
				return
			}
		}
	}()
}

func (b *Bus) handleEvent(s Subscriber, ev event.Event) {
	defer b.procWG.Done()
	defer func() {
		if r := recover(); r != nil {
			b.log.Error("subscriber_panic", "event", ev.Type, "panic", r)
		}
	}()
	s.OnEvent(ev)
}

// Func is a Subscriber backed by a function and a buffered channel.
type Func struct {
	ch chan event.Event
	fn func(event.Event)
}

func NewFunc(buffer int, fn func(event.Event)) *Func {
	return &Func{ch: make(chan event.Event, buffer), fn: fn}
}

func (f *Func) OnEvent(e event.Event)     { f.fn(e) }
func (f *Func) Channel() chan event.Event { return f.ch }
