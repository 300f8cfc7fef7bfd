package transport

import (
	"context"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"
)

// ChaosConfig describes the impairments a ChaosEP applies to a link.
type ChaosConfig struct {
	// Probabilities [0..1]
	Loss    float64 // drop datagram
	Dup     float64 // deliver a second copy
	Reorder float64 // hold back by an extra delay so later datagrams overtake

	BaseDelay time.Duration
	Jitter    time.Duration // +/- uniformly
	MaxQueue  int           // inbound queue cap

	Up bool

	// Seed 0 means time.Now().UnixNano().
	Seed int64
}

// ChaosEP wraps an endpoint so outbound datagrams suffer loss, duplication,
// reordering and delay. Inbound datagrams are passed through a bounded queue.
type ChaosEP struct {
	under EndpointIF

	in     chan envelope
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	timers sync.WaitGroup

	up atomic.Bool

	cfgMu sync.RWMutex
	cfg   ChaosConfig

	rngMu sync.Mutex
	rng   *rand.Rand

	dropped    atomic.Int64
	duplicated atomic.Int64
	reordered  atomic.Int64
}

// ChaosStats counts the impairments applied so far.
type ChaosStats struct {
	Dropped    int64
	Duplicated int64
	Reordered  int64
}

func WrapChaos(under EndpointIF, cfg ChaosConfig) *ChaosEP {
	if cfg.MaxQueue <= 0 {
		cfg.MaxQueue = 1024
	}
	if cfg.Seed == 0 {
		cfg.Seed = time.Now().UnixNano()
	}
	cfg.Loss, cfg.Dup, cfg.Reorder = clamp01(cfg.Loss), clamp01(cfg.Dup), clamp01(cfg.Reorder)
	cep := &ChaosEP{
		under: under,
		in:    make(chan envelope, cfg.MaxQueue),
		cfg:   cfg,
		rng:   rand.New(rand.NewSource(cfg.Seed)),
	}
	cep.up.Store(cfg.Up)

	cep.ctx, cep.cancel = context.WithCancel(context.Background())
	cep.wg.Add(1)
	go cep.pumpRecv()
	return cep
}

// Close stops the pump, waits for pending delayed deliveries and closes the
// wrapped endpoint.
func (c *ChaosEP) Close() {
	c.cancel()
	c.wg.Wait()
	c.timers.Wait()
	c.under.Close()
}

func (c *ChaosEP) LocalAddr() Addr {
	return c.under.LocalAddr()
}

func (c *ChaosEP) Recv(ctx context.Context) ([]byte, bool) {
	_, b, ok := c.RecvFrom(ctx)
	return b, ok
}

func (c *ChaosEP) RecvFrom(ctx context.Context) (Addr, []byte, bool) {
	select {
	case <-ctx.Done():
		return "", nil, false
	case <-c.ctx.Done():
		return "", nil, false
	case env := <-c.in:
		return env.from, env.data, true
	}
}

func (c *ChaosEP) Send(to Addr, datagram []byte) error {
	if !c.up.Load() {
		return context.Canceled
	}
	cfg := c.getCfg()

	if c.roll() < cfg.Loss {
		c.dropped.Add(1)
		return nil
	}

	extra := time.Duration(0)
	if c.roll() < cfg.Reorder {
		c.reordered.Add(1)
		extra = c.delayWithJitter(cfg) + time.Millisecond
	}
	err := c.deliver(to, clone(datagram), c.delayWithJitter(cfg)+extra)

	if c.roll() < cfg.Dup {
		c.duplicated.Add(1)
		_ = c.deliver(to, clone(datagram), c.delayWithJitter(cfg))
	}
	return err
}

func (c *ChaosEP) deliver(to Addr, b []byte, delay time.Duration) error {
	if delay <= 0 {
		return c.under.Send(to, b)
	}
	c.timers.Add(1)
	time.AfterFunc(delay, func() {
		defer c.timers.Done()
		if c.ctx.Err() != nil {
			return
		}
		_ = c.under.Send(to, b)
	})
	return nil
}

func (c *ChaosEP) pumpRecv() {
	defer c.wg.Done()
	fe, hasFrom := c.under.(FromEndpoint)
	for {
		var (
			from Addr
			b    []byte
			ok   bool
		)
		if hasFrom {
			from, b, ok = fe.RecvFrom(c.ctx)
		} else {
			b, ok = c.under.Recv(c.ctx)
		}
		if !ok {
			return
		}
		if !c.up.Load() {
			c.dropped.Add(1)
			continue
		}
		select {
		case c.in <- envelope{from: from, data: b}:
		default:
			c.dropped.Add(1)
		}
	}
}

// --- controls ---

func (c *ChaosEP) SetUp(up bool)        { c.up.Store(up) }
func (c *ChaosEP) SetLoss(p float64)    { c.cfgMu.Lock(); c.cfg.Loss = clamp01(p); c.cfgMu.Unlock() }
func (c *ChaosEP) SetDup(p float64)     { c.cfgMu.Lock(); c.cfg.Dup = clamp01(p); c.cfgMu.Unlock() }
func (c *ChaosEP) SetReorder(p float64) { c.cfgMu.Lock(); c.cfg.Reorder = clamp01(p); c.cfgMu.Unlock() }
func (c *ChaosEP) SetBaseDelay(d time.Duration) {
	c.cfgMu.Lock()
	c.cfg.BaseDelay = d
	c.cfgMu.Unlock()
}
func (c *ChaosEP) SetJitter(d time.Duration) { c.cfgMu.Lock(); c.cfg.Jitter = d; c.cfgMu.Unlock() }
func (c *ChaosEP) GetConfig() ChaosConfig {
	cfg := c.getCfg()
	cfg.Up = c.up.Load()
	return cfg
}

func (c *ChaosEP) Stats() ChaosStats {
	return ChaosStats{
		Dropped:    c.dropped.Load(),
		Duplicated: c.duplicated.Load(),
		Reordered:  c.reordered.Load(),
	}
}

func (c *ChaosEP) getCfg() ChaosConfig { c.cfgMu.RLock(); defer c.cfgMu.RUnlock(); return c.cfg }

func (c *ChaosEP) delayWithJitter(cfg ChaosConfig) time.Duration {
	if cfg.Jitter <= 0 {
		return cfg.BaseDelay
	}
	c.rngMu.Lock()
	defer c.rngMu.Unlock()
	j := time.Duration(c.rng.Int63n(int64(cfg.Jitter)*2)) - cfg.Jitter
	return cfg.BaseDelay + j
}

func (c *ChaosEP) roll() float64 {
	c.rngMu.Lock()
	x := c.rng.Float64()
	c.rngMu.Unlock()
	return x
}

func clamp01(f float64) float64 {
	if f < 0 {
		return 0
	}
	if f > 1 {
		return 1
	}
	return f
}

func clone(b []byte) []byte {
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
