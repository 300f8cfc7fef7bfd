// Command uap runs the UAP session protocol: a UDP server that tracks many
// client sessions, an interactive client, a chaos simulation and a journal
// reader.
package main

import (
	"fmt"
	"os"
	"strconv"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/juanpablocruz/uap/internal/config"
	"github.com/juanpablocruz/uap/internal/console"
)

// Version information set at build time.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

type rootOptions struct {
	log config.Log
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		pterm.Error.WithWriter(os.Stderr).Println(err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	root := &cobra.Command{
		Use:   "uap",
		Short: "UDP session protocol server, client and tools",
		Long: `uap speaks a small session protocol over UDP.

A client opens a session with HELLO, sends numbered DATA messages that
the server acknowledges with ALIVE, and leaves with GOODBYE. The server
reports lost and duplicate packets and retires idle sessions.

Examples:
  uap server 4242
  uap client localhost 4242
  uap sim --clients 5 --loss 0.1
  uap journal events.journal`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, _ []string) {
			console.SetupLogger(opts.log, cmd.ErrOrStderr())
		},
	}

	root.PersistentFlags().BoolVar(&opts.log.Debug, "debug", false, "Enable debug logging")
	root.PersistentFlags().BoolVar(&opts.log.JSON, "log-json", false, "Emit logs as JSON")

	root.AddCommand(
		serverCmd(opts),
		clientCmd(opts),
		simCmd(opts),
		journalCmd(),
		versionCmd(),
	)
	return root
}

func parsePort(s string) (int, error) {
	p, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("port %q: %w", s, err)
	}
	return p, nil
}
