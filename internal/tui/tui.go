// Package tui is the interactive terminal front end for a client session.
// Typed lines become DATA payloads and protocol events scroll above the
// prompt.
package tui

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/juanpablocruz/uap/pkg/client"
	"github.com/juanpablocruz/uap/pkg/event"
)

const (
	queueSize = 256
	maxLines  = 500
)

// EventMsg carries a protocol event into the program loop.
type EventMsg event.Event

// DoneMsg reports that the client reached CLOSED.
type DoneMsg struct {
	Reason string
	Err    error
}

var (
	titleStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("63"))
	dimStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
	errStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	okStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	promptStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("63")).Bold(true)
	panelStyle  = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("62"))
)

// Model is the bubbletea model of one client session.
type Model struct {
	cmds chan<- client.Command

	input textinput.Model
	log   viewport.Model
	lines []string

	session int32
	state   string
	sent    int
	dropped int

	width, height int

	quitting bool
	done     bool
	reason   string
}

// NewModel returns a model that forwards input to cmds. cmds should be
// buffered; a full queue drops the line and says so.
func NewModel(session int32, cmds chan<- client.Command) Model {
	ti := textinput.New()
	ti.Placeholder = "message, or q to quit"
	ti.Prompt = promptStyle.Render("> ")
	ti.CharLimit = 4096
	ti.Focus()

	vp := viewport.New(80, 12)
	vp.Style = lipgloss.NewStyle()

	return Model{
		cmds:    cmds,
		input:   ti,
		log:     vp,
		session: session,
		state:   "HELLO_WAIT",
		width:   80,
		height:  20,
	}
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(
		tea.SetWindowTitle(fmt.Sprintf("uap session %d", m.session)),
		textinput.Blink,
	)
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC, tea.KeyEsc:
			if m.quitting || m.done {
				return m, tea.Quit
			}
			m.requestQuit()
			return m, nil
		case tea.KeyEnter:
			line := m.input.Value()
			m.input.SetValue("")
			if m.done {
				return m, tea.Quit
			}
			if strings.TrimSpace(line) == "q" {
				m.requestQuit()
				return m, nil
			}
			m.enqueue(client.Command{Data: []byte(line)})
			return m, nil
		case tea.KeyPgUp, tea.KeyPgDown:
			var cmd tea.Cmd
			m.log, cmd = m.log.Update(msg)
			return m, cmd
		}
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		m.layout()
	case EventMsg:
		e := event.Event(msg)
		if e.Type == event.StateChange {
			m.state = e.To
		}
		m.appendLine(formatEvent(e))
	case DoneMsg:
		m.done = true
		m.reason = msg.Reason
		m.state = "CLOSED"
		line := okStyle.Render("session closed: " + msg.Reason)
		if msg.Err != nil {
			line = errStyle.Render("session failed: " + msg.Err.Error())
		}
		m.appendLine(line)
		return m, tea.Quit
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	cmds = append(cmds, cmd)
	return m, tea.Batch(cmds...)
}

func (m Model) View() string {
	var b strings.Builder
	b.WriteString(titleStyle.Render(fmt.Sprintf("UAP session %d", m.session)))
	b.WriteString(dimStyle.Render(fmt.Sprintf("  state %s  sent %d", m.state, m.sent)))
	if m.dropped > 0 {
		b.WriteString(errStyle.Render(fmt.Sprintf("  dropped %d", m.dropped)))
	}
	b.WriteString("\n")
	b.WriteString(panelStyle.Width(max(m.width-2, 10)).Render(m.log.View()))
	b.WriteString("\n")
	if m.done {
		b.WriteString(dimStyle.Render("closed (" + m.reason + ")"))
	} else if m.quitting {
		b.WriteString(dimStyle.Render("closing..."))
	} else {
		b.WriteString(m.input.View())
	}
	b.WriteString("\n")
	return b.String()
}

// Lines returns the event log shown so far.
func (m Model) Lines() []string { return append([]string(nil), m.lines...) }

func (m *Model) enqueue(c client.Command) bool {
	select {
	case m.cmds <- c:
		if !c.Quit {
			m.sent++
		}
		return true
	default:
		m.dropped++
		m.appendLine(errStyle.Render("input queue full, line dropped"))
		return false
	}
}

func (m *Model) requestQuit() {
	if m.enqueue(client.Command{Quit: true}) {
		m.quitting = true
		m.input.Blur()
	}
}

func (m *Model) appendLine(s string) {
	m.lines = append(m.lines, s)
	if len(m.lines) > maxLines {
		m.lines = m.lines[len(m.lines)-maxLines:]
	}
	m.log.SetContent(strings.Join(m.lines, "\n"))
	m.log.GotoBottom()
}

func (m *Model) layout() {
	m.log.Width = max(m.width-4, 10)
	// title, two border rows, prompt
	m.log.Height = max(m.height-5, 3)
	m.input.Width = max(m.width-4, 10)
}

func formatEvent(e event.Event) string {
	ts := dimStyle.Render(e.Time.Format("15:04:05.000"))
	line := e.String()
	switch e.Type {
	case event.ProtocolError, event.ResponseTimeout, event.SendFailed, event.LostPacket:
		line = errStyle.Render(line)
	case event.StateChange, event.DuplicatePacket:
		line = dimStyle.Render(line)
	}
	return ts + " " + line
}

// Session binds a bubbletea program to a client. It is the client's event
// sink and the source of its commands.
type Session struct {
	prog *tea.Program
	cmds chan client.Command
}

func NewSession(id int32, opts ...tea.ProgramOption) *Session {
	cmds := make(chan client.Command, queueSize)
	return &Session{
		prog: tea.NewProgram(NewModel(id, cmds), opts...),
		cmds: cmds,
	}
}

// Publish forwards e to the program. It blocks until the program loop has
// started and returns immediately once it has exited.
func (s *Session) Publish(e event.Event) { s.prog.Send(EventMsg(e)) }

func (s *Session) Commands() <-chan client.Command { return s.cmds }

// Run drives c until its session closes or the UI exits. Leaving the UI early
// cancels the client, which still says GOODBYE before returning.
func (s *Session) Run(ctx context.Context, c *client.Client) error {
	cctx, cancel := context.WithCancel(ctx)
	defer cancel()

	errc := make(chan error, 1)
	go func() {
		err := c.Run(cctx, s.cmds)
		s.prog.Send(DoneMsg{Reason: c.Reason(), Err: err})
		errc <- err
	}()

	_, perr := s.prog.Run()
	cancel()
	cerr := <-errc
	if perr != nil {
		return fmt.Errorf("tui: %w", perr)
	}
	return cerr
}
