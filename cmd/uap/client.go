package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/juanpablocruz/uap/internal/config"
	"github.com/juanpablocruz/uap/internal/console"
	"github.com/juanpablocruz/uap/internal/feed"
	"github.com/juanpablocruz/uap/internal/tui"
	"github.com/juanpablocruz/uap/pkg/client"
	"github.com/juanpablocruz/uap/pkg/event"
	"github.com/juanpablocruz/uap/pkg/journal"
	"github.com/juanpablocruz/uap/pkg/session"
	"github.com/juanpablocruz/uap/pkg/transport"
)

func clientCmd(root *rootOptions) *cobra.Command {
	var cfg config.Client

	cmd := &cobra.Command{
		Use:   "client HOST PORT",
		Short: "Open a session and send stdin lines as DATA",
		Long: `Open a session with a UAP server and send each line typed as a
DATA message. Type q (or close stdin) to say GOODBYE.

Examples:
  uap client localhost 4242
  uap client 10.0.0.7 4242 --session-id 1234 --response-timeout 3s
  uap client localhost 4242 --tui`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			port, err := parsePort(args[1])
			if err != nil {
				return err
			}
			cfg.Host = args[0]
			cfg.Port = port
			cfg.Log = root.log
			if !cmd.Flags().Changed("response-timeout") {
				if err := config.DurationFromEnv(config.EnvResponseTimeout, &cfg.ResponseTimeout); err != nil {
					return err
				}
			}
			cfg.ApplyDefaults()
			if err := cfg.Validate(); err != nil {
				return err
			}
			return runClient(cmd.Context(), cfg, cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}

	f := cmd.Flags()
	f.DurationVar(&cfg.ResponseTimeout, "response-timeout", config.ResponseTimeout, "Give up when the server is silent this long (env "+config.EnvResponseTimeout+")")
	f.Int32Var(&cfg.SessionID, "session-id", 0, "Session id to use (default random)")
	f.BoolVar(&cfg.TUI, "tui", false, "Run the interactive terminal UI")
	f.StringVar(&cfg.Feed, "feed", "", "Send the payloads scripted in this file instead of reading stdin")
	f.StringVar(&cfg.Journal, "journal", "", "Record events to this file")

	return cmd
}

func runClient(ctx context.Context, cfg config.Client, stdin io.Reader, out io.Writer) error {
	log := slog.Default()

	ep, err := transport.ListenUDP(":0")
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	defer ep.Close()

	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	var script []feed.Item
	if cfg.Feed != "" {
		if script, err = feed.ReadFile(cfg.Feed); err != nil {
			return err
		}
	}

	var jw *journal.Writer
	if cfg.Journal != "" {
		if jw, err = journal.Create(cfg.Journal); err != nil {
			return err
		}
	}

	id := cfg.SessionID
	if id == 0 {
		id = session.NewID()
	}
	opts := []client.Option{
		client.WithSessionID(id),
		client.WithResponseTimeout(cfg.ResponseTimeout),
		client.WithLogger(log),
	}

	var runErr error
	if cfg.TUI {
		ui := tui.NewSession(id, teaOptions(stdin, out)...)
		c := client.New(ep, transport.Addr(cfg.ServerAddr()), append(opts, client.WithSink(event.Tee(ui, sinkOf(jw))))...)
		runErr = ui.Run(ctx, c)
		pterm.Info.WithWriter(out).Printfln("session %d closed (%s)", id, c.Reason())
	} else {
		p := console.NewPrinter(out)
		p.Verbose = cfg.Log.Debug
		c := client.New(ep, transport.Addr(cfg.ServerAddr()), append(opts, client.WithSink(event.Tee(p, sinkOf(jw))))...)
		pterm.Info.WithWriter(out).Printfln("session %d to %s, type q to quit", id, cfg.ServerAddr())
		var cmds <-chan client.Command
		if script != nil {
			cmds = feed.Commands(ctx, script)
		} else {
			cmds = console.ReadCommands(stdin)
		}
		runErr = c.Run(ctx, cmds)
		info := c.Session()
		pterm.Info.WithWriter(out).Printfln("session %d closed (%s), avg latency %s", id, c.Reason(), info.AvgLatency)
	}

	var jerr error
	if jw != nil {
		jerr = jw.Close()
	}
	return errors.Join(runErr, jerr)
}

// sinkOf keeps a nil writer from becoming a non-nil interface.
func sinkOf(jw *journal.Writer) event.Sink {
	if jw == nil {
		return nil
	}
	return jw
}

func teaOptions(in io.Reader, out io.Writer) []tea.ProgramOption {
	return []tea.ProgramOption{tea.WithInput(in), tea.WithOutput(out)}
}
