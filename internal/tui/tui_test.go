package tui

import (
	"errors"
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/juanpablocruz/uap/pkg/client"
	"github.com/juanpablocruz/uap/pkg/event"
)

func typeLine(t *testing.T, m Model, s string) Model {
	t.Helper()
	m.input.SetValue(s)
	next, _ := m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	return next.(Model)
}

func TestEnterQueuesData(t *testing.T) {
	cmds := make(chan client.Command, 4)
	m := NewModel(7, cmds)
	m = typeLine(t, m, "hello")

	select {
	case c := <-cmds:
		if c.Quit || string(c.Data) != "hello" {
			t.Fatalf("command=%+v", c)
		}
	default:
		t.Fatalf("no command queued")
	}
	if m.input.Value() != "" {
		t.Fatalf("input not cleared: %q", m.input.Value())
	}
	if m.sent != 1 {
		t.Fatalf("sent=%d", m.sent)
	}
}

func TestQuitTokenQueuesQuit(t *testing.T) {
	cmds := make(chan client.Command, 4)
	m := NewModel(7, cmds)
	m = typeLine(t, m, " q ")

	c := <-cmds
	if !c.Quit {
		t.Fatalf("want quit, got %+v", c)
	}
	if !m.quitting {
		t.Fatalf("model not quitting")
	}
	if !strings.Contains(m.View(), "closing") {
		t.Fatalf("view does not show closing:\n%s", m.View())
	}
}

func TestCtrlCTwiceExits(t *testing.T) {
	cmds := make(chan client.Command, 4)
	m := NewModel(7, cmds)
	next, cmd := m.Update(tea.KeyMsg{Type: tea.KeyCtrlC})
	if cmd != nil {
		t.Fatalf("first ctrl+c should wait for the session to close")
	}
	if c := <-cmds; !c.Quit {
		t.Fatalf("want quit, got %+v", c)
	}
	_, cmd = next.Update(tea.KeyMsg{Type: tea.KeyCtrlC})
	if cmd == nil {
		t.Fatalf("second ctrl+c should exit")
	}
	if _, ok := cmd().(tea.QuitMsg); !ok {
		t.Fatalf("second ctrl+c did not quit")
	}
}

func TestFullQueueDrops(t *testing.T) {
	cmds := make(chan client.Command, 1)
	m := NewModel(7, cmds)
	m = typeLine(t, m, "a")
	m = typeLine(t, m, "b")
	if m.sent != 1 || m.dropped != 1 {
		t.Fatalf("sent=%d dropped=%d", m.sent, m.dropped)
	}
	if !strings.Contains(strings.Join(m.Lines(), "\n"), "dropped") {
		t.Fatalf("drop not reported: %v", m.Lines())
	}
}

func TestEventsUpdateStateAndLog(t *testing.T) {
	m := NewModel(7, make(chan client.Command, 1))
	now := time.Now()
	next, _ := m.Update(EventMsg(event.Event{Time: now, Type: event.StateChange, Session: 7, From: "HELLO_WAIT", To: "READY"}))
	next, _ = next.Update(EventMsg(event.Event{Time: now, Type: event.LostPacket, Session: 7, Seq: 3}))
	m = next.(Model)

	if m.state != "READY" {
		t.Fatalf("state=%q", m.state)
	}
	lines := m.Lines()
	if len(lines) != 2 {
		t.Fatalf("lines=%d", len(lines))
	}
	if !strings.Contains(lines[1], "lost packet #3") {
		t.Fatalf("line=%q", lines[1])
	}
}

func TestDoneQuits(t *testing.T) {
	m := NewModel(7, make(chan client.Command, 1))
	next, cmd := m.Update(DoneMsg{Reason: "peer_goodbye"})
	m = next.(Model)
	if !m.done || m.reason != "peer_goodbye" {
		t.Fatalf("done=%v reason=%q", m.done, m.reason)
	}
	if cmd == nil {
		t.Fatalf("done should quit the program")
	}
	if _, ok := cmd().(tea.QuitMsg); !ok {
		t.Fatalf("done did not quit")
	}

	next, _ = NewModel(7, make(chan client.Command, 1)).Update(DoneMsg{Reason: "local", Err: errors.New("boom")})
	if ls := next.(Model).Lines(); !strings.Contains(ls[len(ls)-1], "boom") {
		t.Fatalf("error not shown: %v", ls)
	}
}

func TestLogIsBounded(t *testing.T) {
	m := NewModel(7, make(chan client.Command, 1))
	for i := 0; i < maxLines+50; i++ {
		m.appendLine("x")
	}
	if len(m.Lines()) != maxLines {
		t.Fatalf("lines=%d want %d", len(m.Lines()), maxLines)
	}
}
