package main

import (
	"fmt"
	"strings"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/juanpablocruz/uap/internal/console"
	"github.com/juanpablocruz/uap/pkg/event"
	"github.com/juanpablocruz/uap/pkg/journal"
)

func journalCmd() *cobra.Command {
	var (
		list  bool
		types []string
	)

	cmd := &cobra.Command{
		Use:   "journal FILE",
		Short: "Summarize an event journal",
		Long: `Read a journal written with --journal and print event counts and a
per-session summary.

Examples:
  uap journal server.journal
  uap journal sim.journal --list --type lost_packet,duplicate_packet`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			events, err := journal.ReadFile(args[0])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			pterm.DefaultSection.WithWriter(out).Println("Journal " + args[0])

			if list {
				want := map[event.Type]bool{}
				for _, t := range types {
					want[event.Type(strings.TrimSpace(t))] = true
				}
				for _, e := range events {
					if len(want) > 0 && !want[e.Type] {
						continue
					}
					fmt.Fprintf(out, "%s %-6s %s\n", e.Time.Format("15:04:05.000000"), e.Origin, e)
				}
				fmt.Fprintln(out)
			}
			return console.RenderReport(out, journal.Summarize(events))
		},
	}

	cmd.Flags().BoolVarP(&list, "list", "l", false, "Print every event before the summary")
	cmd.Flags().StringSliceVarP(&types, "type", "t", nil, "Only list these event types")

	return cmd
}
