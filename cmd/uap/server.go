package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/juanpablocruz/uap/internal/admin"
	"github.com/juanpablocruz/uap/internal/config"
	"github.com/juanpablocruz/uap/internal/console"
	"github.com/juanpablocruz/uap/pkg/eventbus"
	"github.com/juanpablocruz/uap/pkg/journal"
	"github.com/juanpablocruz/uap/pkg/metrics"
	"github.com/juanpablocruz/uap/pkg/server"
	"github.com/juanpablocruz/uap/pkg/transport"
)

func serverCmd(root *rootOptions) *cobra.Command {
	var (
		cfg         config.Server
		interactive bool
	)

	cmd := &cobra.Command{
		Use:   "server PORT",
		Short: "Serve UAP sessions on a UDP port",
		Long: `Serve UAP sessions on a UDP port.

Every received message is printed. Type q (or close stdin) to say
GOODBYE to every client and exit.

Examples:
  uap server 4242
  uap server 4242 --admin :9090 --journal server.journal
  UAP_INACTIVITY_TIMEOUT=1m uap server 4242`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			port, err := parsePort(args[0])
			if err != nil {
				return err
			}
			cfg.Port = port
			cfg.Log = root.log
			if !cmd.Flags().Changed("inactivity-timeout") {
				if err := config.DurationFromEnv(config.EnvInactivityTimeout, &cfg.InactivityTimeout); err != nil {
					return err
				}
			}
			cfg.ApplyDefaults()
			if err := cfg.Validate(); err != nil {
				return err
			}
			var stdin io.Reader
			if interactive {
				stdin = cmd.InOrStdin()
			}
			return runServer(cmd.Context(), cfg, stdin, cmd.OutOrStdout())
		},
	}

	f := cmd.Flags()
	f.DurationVar(&cfg.InactivityTimeout, "inactivity-timeout", config.InactivityTimeout, "Retire sessions idle this long (env "+config.EnvInactivityTimeout+")")
	f.DurationVar(&cfg.SweepInterval, "sweep-interval", config.SweepInterval, "How often idle sessions are looked for")
	f.IntVar(&cfg.MaxLostEvents, "max-lost-events", config.MaxLostEvents, "Per-gap cap on individual lost packet events")
	f.StringVar(&cfg.Admin, "admin", "", "Serve metrics, sessions and live events on this HTTP address")
	f.StringVar(&cfg.Journal, "journal", "", "Record events to this file")
	f.BoolVarP(&interactive, "interactive", "i", true, "Read q from stdin to shut down")

	return cmd
}

func runServer(ctx context.Context, cfg config.Server, stdin io.Reader, out io.Writer) error {
	log := slog.Default()

	ep, err := transport.ListenUDP(cfg.ListenAddr())
	if err != nil {
		return fmt.Errorf("listen %s: %w", cfg.ListenAddr(), err)
	}
	defer ep.Close()

	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	// A slow consumer loses events rather than stalling the session loop.
	bus := eventbus.New(eventbus.WithLogger(log), eventbus.WithDropWhenFull())
	bus.Subscribe(console.NewPrinter(out))
	mc := metrics.New(metrics.WithRegistry(reg))
	bus.Subscribe(mc)

	var jw *journal.Writer
	if cfg.Journal != "" {
		if jw, err = journal.Create(cfg.Journal); err != nil {
			return err
		}
		bus.Subscribe(jw)
	}
	var hub *admin.Hub
	if cfg.Admin != "" {
		hub = admin.NewHub(log)
		bus.Subscribe(hub)
	}
	bus.Start()

	srv := server.New(ep,
		server.WithSink(bus),
		server.WithLogger(log),
		server.WithInactivityTimeout(cfg.InactivityTimeout),
		server.WithSweepInterval(cfg.SweepInterval),
		server.WithMaxLostEvents(cfg.MaxLostEvents),
	)
	mc.WatchMalformed(srv.Malformed)
	mc.WatchDropped(bus.Dropped)

	var (
		wg       sync.WaitGroup
		adminErr error
	)
	if hub != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := admin.Serve(ctx, cfg.Admin, admin.NewRouter(srv.Table(), reg, hub), log); err != nil {
				adminErr = fmt.Errorf("admin: %w", err)
				stop()
			}
		}()
	}
	if stdin != nil {
		// Not joined: a blocked stdin read must not hold up exit.
		go console.WaitQuit(stdin, stop)
	}
	pterm.Info.WithWriter(out).Printfln("listening on %s, type q to quit", ep.LocalAddr())

	runErr := srv.Run(ctx)
	stop()
	wg.Wait()

	bus.Stop()
	if hub != nil {
		hub.Close()
	}
	var jerr error
	if jw != nil {
		jerr = jw.Close()
		log.Info("journal_written", "path", cfg.Journal, "events", jw.Len())
	}
	st := srv.Table().Stats()
	log.Info("server_stopped", "sessions", st.TotalCreated, "peak", st.Peak, "malformed", srv.Malformed(), "dropped_events", bus.Dropped())
	return errors.Join(runErr, adminErr, jerr)
}
