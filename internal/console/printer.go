package console

import (
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/pterm/pterm"

	"github.com/juanpablocruz/uap/pkg/event"
	"github.com/juanpablocruz/uap/pkg/journal"
)

// Printer renders events for an operator. It is an eventbus subscriber.
type Printer struct {
	ch chan event.Event

	info    *pterm.PrefixPrinter
	warn    *pterm.PrefixPrinter
	errp    *pterm.PrefixPrinter
	success *pterm.PrefixPrinter
	out     io.Writer

	// Verbose also prints client state changes.
	Verbose bool
}

func NewPrinter(w io.Writer) *Printer {
	return &Printer{
		ch:      make(chan event.Event, 256),
		info:    pterm.Info.WithWriter(w),
		warn:    pterm.Warning.WithWriter(w),
		errp:    pterm.Error.WithWriter(w),
		success: pterm.Success.WithWriter(w),
		out:     w,
	}
}

func (p *Printer) Channel() chan event.Event { return p.ch }
func (p *Printer) Publish(e event.Event)     { p.OnEvent(e) }

func (p *Printer) OnEvent(e event.Event) {
	switch e.Type {
	case event.MessageReceived:
		fmt.Fprintf(p.out, "[%d] #%d: %s\n", e.Session, e.Seq, e.Payload)
	case event.SessionCreated:
		p.success.Println(fmt.Sprintf("[%d] session created (%s)", e.Session, e.Peer))
	case event.LostPacket, event.DuplicatePacket:
		p.warn.Println(e.String())
	case event.ProtocolError, event.ResponseTimeout, event.SendFailed:
		p.errp.Println(e.String())
	case event.SessionTimedOut:
		p.warn.Println(e.String())
	case event.SessionClosed:
		p.info.Println(e.String())
	case event.StateChange:
		if p.Verbose {
			p.info.Println(e.String())
		}
	}
}

// RenderReport prints a journal report as two tables.
func RenderReport(w io.Writer, rep journal.Report) error {
	types := [][]string{{"Event", "Count"}}
	for _, t := range rep.Types() {
		types = append(types, []string{string(t), strconv.Itoa(rep.ByType[t])})
	}
	if err := pterm.DefaultTable.WithHasHeader().WithWriter(w).WithData(types).Render(); err != nil {
		return err
	}
	fmt.Fprintln(w)
	return RenderSessions(w, rep.Sessions)
}

func RenderSessions(w io.Writer, sessions []journal.SessionSummary) error {
	rows := [][]string{{"Origin", "Session", "Peer", "Received", "Lost", "Dup", "Errors", "Duration", "Avg latency", "Closed"}}
	for _, s := range sessions {
		dur := "-"
		if !s.Closed.IsZero() {
			dur = s.Closed.Sub(s.Opened).Round(time.Millisecond).String()
		}
		reason := s.Reason
		if reason == "" {
			reason = "open"
		}
		rows = append(rows, []string{
			string(s.Origin),
			strconv.Itoa(int(s.Session)),
			s.Peer,
			strconv.FormatInt(s.Received, 10),
			strconv.FormatInt(s.Lost, 10),
			strconv.FormatInt(s.Duplicates, 10),
			strconv.Itoa(s.Errors),
			dur,
			s.AvgLatency.String(),
			reason,
		})
	}
	return pterm.DefaultTable.WithHasHeader().WithWriter(w).WithData(rows).Render()
}
