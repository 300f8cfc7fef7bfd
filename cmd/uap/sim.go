package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"github.com/juanpablocruz/uap/internal/config"
	"github.com/juanpablocruz/uap/internal/console"
	"github.com/juanpablocruz/uap/internal/feed"
	"github.com/juanpablocruz/uap/pkg/client"
	"github.com/juanpablocruz/uap/pkg/event"
	"github.com/juanpablocruz/uap/pkg/journal"
	"github.com/juanpablocruz/uap/pkg/server"
	"github.com/juanpablocruz/uap/pkg/transport"
)

const simServerAddr transport.Addr = "server"

func simCmd(root *rootOptions) *cobra.Command {
	var cfg config.Sim

	cmd := &cobra.Command{
		Use:   "sim",
		Short: "Run a server and clients over an impaired in-memory network",
		Long: `Run one server and several clients in process. Datagrams travel over
an in-memory switch that can drop, duplicate, reorder and delay them.
When every client has closed, a per-session summary is printed.

Examples:
  uap sim
  uap sim --clients 10 --messages 100 --loss 0.05 --reorder 0.1
  uap sim --dup 0.2 --delay 5ms --jitter 2ms --seed 42 --journal sim.journal`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg.Log = root.log
			cfg.ApplyDefaults()
			if err := cfg.Validate(); err != nil {
				return err
			}
			rep, err := runSim(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			return console.RenderReport(cmd.OutOrStdout(), rep)
		},
	}

	f := cmd.Flags()
	f.IntVar(&cfg.Clients, "clients", config.SimClients, "Number of concurrent clients")
	f.IntVar(&cfg.Messages, "messages", config.SimMessages, "DATA messages each client sends")
	f.Float64Var(&cfg.Loss, "loss", 0, "Drop probability [0..1]")
	f.Float64Var(&cfg.Dup, "dup", 0, "Duplicate probability [0..1]")
	f.Float64Var(&cfg.Reorder, "reorder", 0, "Reorder probability [0..1]")
	f.DurationVar(&cfg.Delay, "delay", 0, "Base one-way delay")
	f.DurationVar(&cfg.Jitter, "jitter", 0, "Delay jitter (+/-)")
	f.Int64Var(&cfg.Seed, "seed", 0, "Random seed; 0 picks one from the clock")
	f.DurationVar(&cfg.ResponseTimeout, "response-timeout", 0, "Client response timeout (default 500ms)")
	f.DurationVar(&cfg.InactivityTimeout, "inactivity-timeout", 0, "Server inactivity timeout (default 5s)")
	f.StringVar(&cfg.Feed, "feed", "", "Have every client send the payloads scripted in this file")
	f.StringVar(&cfg.Journal, "journal", "", "Record events to this file")

	return cmd
}

// recorder keeps every event of a simulation in publish order.
type recorder struct {
	mu     sync.Mutex
	events []event.Event
}

func (r *recorder) Publish(e event.Event) {
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
}

func (r *recorder) all() []event.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]event.Event(nil), r.events...)
}

func chaosConfig(cfg config.Sim, seed int64) transport.ChaosConfig {
	return transport.ChaosConfig{
		Up:        true,
		Loss:      cfg.Loss,
		Dup:       cfg.Dup,
		Reorder:   cfg.Reorder,
		BaseDelay: cfg.Delay,
		Jitter:    cfg.Jitter,
		Seed:      seed,
	}
}

// runSim drives cfg.Clients sessions to completion and summarizes them.
func runSim(ctx context.Context, cfg config.Sim) (journal.Report, error) {
	log := slog.Default()
	if ctx == nil {
		ctx = context.Background()
	}

	var script []feed.Item
	if cfg.Feed != "" {
		var err error
		if script, err = feed.ReadFile(cfg.Feed); err != nil {
			return journal.Report{}, err
		}
	}

	rec := &recorder{}
	var jw *journal.Writer
	if cfg.Journal != "" {
		var err error
		if jw, err = journal.Create(cfg.Journal); err != nil {
			return journal.Report{}, err
		}
	}
	sink := event.Tee(rec, sinkOf(jw))

	sw := transport.NewSwitch()
	sep, err := sw.Listen(simServerAddr)
	if err != nil {
		if jw != nil {
			jw.Close()
		}
		return journal.Report{}, err
	}
	seed := func(i int64) int64 {
		if cfg.Seed == 0 {
			return 0
		}
		return cfg.Seed + i
	}
	srvEP := transport.WrapChaos(sep, chaosConfig(cfg, seed(0)))
	defer srvEP.Close()

	srv := server.New(srvEP,
		server.WithSink(sink),
		server.WithLogger(log),
		server.WithInactivityTimeout(cfg.InactivityTimeout),
		server.WithSweepInterval(simSweepInterval(cfg.InactivityTimeout)),
	)
	sctx, stopServer := context.WithCancel(ctx)
	srvDone := make(chan error, 1)
	go func() { srvDone <- srv.Run(sctx) }()

	var (
		wg   sync.WaitGroup
		eps  = make([]*transport.ChaosEP, cfg.Clients)
		errs = make([]error, cfg.Clients)
	)
	for i := 0; i < cfg.Clients; i++ {
		addr := transport.Addr(fmt.Sprintf("client-%02d", i))
		cep, err := sw.Listen(addr)
		if err != nil {
			stopServer()
			<-srvDone
			return journal.Report{}, err
		}
		eps[i] = transport.WrapChaos(cep, chaosConfig(cfg, seed(int64(i)+1)))
		c := client.New(eps[i], simServerAddr,
			client.WithSessionID(int32(i+1)),
			client.WithResponseTimeout(cfg.ResponseTimeout),
			client.WithSink(sink),
			client.WithLogger(log),
		)

		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			cctx, cancel := context.WithCancel(ctx)
			defer cancel()
			items := script
			if items == nil {
				items = generate(string(addr), cfg.Messages)
			}
			errs[i] = c.Run(ctx, feed.Commands(cctx, items))
		}(i)
	}
	wg.Wait()

	stopServer()
	srvErr := <-srvDone
	for _, ep := range eps {
		st := ep.Stats()
		log.Debug("chaos_stats", "endpoint", ep.LocalAddr(), "dropped", st.Dropped, "duplicated", st.Duplicated, "reordered", st.Reordered)
		ep.Close()
	}

	var jerr error
	if jw != nil {
		jerr = jw.Close()
	}
	if err := errors.Join(append(errs, srvErr, jerr)...); err != nil {
		return journal.Report{}, err
	}
	return journal.Summarize(rec.all()), nil
}

// simSweepInterval sweeps four times per inactivity timeout, but no more
// often than once a millisecond.
func simSweepInterval(inactivity time.Duration) time.Duration {
	return min(config.SweepInterval, max(inactivity/4, time.Millisecond))
}

func generate(name string, n int) []feed.Item {
	items := make([]feed.Item, n)
	for i := range items {
		items[i].Payload = []byte(fmt.Sprintf("%s message %d", name, i))
	}
	return items
}
