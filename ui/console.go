// Package ui holds terminal styling and the interactive console.
package ui

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"factorio-server-manager/notify"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// Submitter hands a command line to the dispatcher. done receives the
// outcome once the command finished.
type Submitter func(line string, sink notify.Sink, done chan<- error) error

// OutputMsg adds or replaces a message in the console log.
type OutputMsg struct {
	Ref  notify.MessageRef
	Text string
	Edit bool
}

type commandDoneMsg struct{ err error }

// ProgramSink is a notify.Sink that forwards deliveries into a running
// tea.Program.
type ProgramSink struct {
	next atomic.Int64

	mu   sync.Mutex
	send func(tea.Msg)
}

// Attach routes deliveries to p.
func (s *ProgramSink) Attach(p *tea.Program) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.send = p.Send
}

func (s *ProgramSink) deliver(msg tea.Msg) {
	s.mu.Lock()
	send := s.send
	s.mu.Unlock()
	if send != nil {
		send(msg)
	}
}

// Send implements notify.Sink.
func (s *ProgramSink) Send(_ context.Context, text string) (notify.MessageRef, error) {
	ref := notify.MessageRef(fmt.Sprint(s.next.Add(1)))
	s.deliver(OutputMsg{Ref: ref, Text: text})
	return ref, nil
}

// Edit implements notify.Sink.
func (s *ProgramSink) Edit(_ context.Context, ref notify.MessageRef, text string) error {
	s.deliver(OutputMsg{Ref: ref, Text: text, Edit: true})
	return nil
}

type entry struct {
	ref  notify.MessageRef
	text string
}

// ConsoleModel is the bubbletea model of the interactive console.
type ConsoleModel struct {
	input   textinput.Model
	view    viewport.Model
	spinner spinner.Model
	submit  Submitter
	sink    notify.Sink
	prefix  string

	entries []entry
	running int
	history []string
	histPos int
}

// NewConsole returns a console submitting lines through submit. Output
// arrives through sink as OutputMsg.
func NewConsole(submit Submitter, sink notify.Sink, prefix string) ConsoleModel {
	in := textinput.New()
	in.Placeholder = "help"
	in.Prompt = prefix
	in.Focus()

	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = lipgloss.NewStyle().Foreground(ColorSpinner)

	return ConsoleModel{
		input:   in,
		view:    viewport.New(80, 20),
		spinner: s,
		submit:  submit,
		sink:    sink,
		prefix:  prefix,
	}
}

func (m ConsoleModel) Init() tea.Cmd {
	return tea.Batch(textinput.Blink, m.spinner.Tick)
}

func (m ConsoleModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKey(msg)

	case tea.WindowSizeMsg:
		m.view.Width = msg.Width
		m.view.Height = max(msg.Height-3, 1)
		m.input.Width = max(msg.Width-len(m.prefix)-1, 10)
		m.refresh()

	case OutputMsg:
		m.apply(msg)
		m.refresh()

	case commandDoneMsg:
		m.running--
		if msg.err != nil && !strings.Contains(m.lastText(), notify.MarkFailure) {
			m.entries = append(m.entries, entry{text: notify.MarkFailure + "   " + msg.err.Error()})
		}
		m.refresh()

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m ConsoleModel) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "ctrl+c", "esc":
		return m, tea.Quit
	case "up":
		if m.histPos > 0 {
			m.histPos--
			m.input.SetValue(m.history[m.histPos])
		}
		return m, nil
	case "down":
		if m.histPos < len(m.history)-1 {
			m.histPos++
			m.input.SetValue(m.history[m.histPos])
		} else {
			m.histPos = len(m.history)
			m.input.SetValue("")
		}
		return m, nil
	case "pgup", "pgdown":
		var cmd tea.Cmd
		m.view, cmd = m.view.Update(msg)
		return m, cmd
	case "enter":
		line := strings.TrimSpace(m.input.Value())
		m.input.SetValue("")
		if line == "" {
			return m, nil
		}
		if line == "quit" || line == "exit" {
			return m, tea.Quit
		}
		m.history = append(m.history, line)
		m.histPos = len(m.history)
		m.entries = append(m.entries, entry{text: Colorize("> "+line, ColorMuted)})
		m.running++
		m.refresh()
		return m, m.run(line)
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m ConsoleModel) run(line string) tea.Cmd {
	submit, sink := m.submit, m.sink
	return func() tea.Msg {
		done := make(chan error, 1)
		if err := submit(line, sink, done); err != nil {
			return commandDoneMsg{err: err}
		}
		return commandDoneMsg{err: <-done}
	}
}

func (m *ConsoleModel) apply(msg OutputMsg) {
	if msg.Edit {
		for i := len(m.entries) - 1; i >= 0; i-- {
			if m.entries[i].ref == msg.Ref {
				m.entries[i].text = msg.Text
				return
			}
		}
	}
	m.entries = append(m.entries, entry{ref: msg.Ref, text: msg.Text})
}

func (m ConsoleModel) lastText() string {
	if len(m.entries) == 0 {
		return ""
	}
	return m.entries[len(m.entries)-1].text
}

func (m *ConsoleModel) refresh() {
	lines := make([]string, len(m.entries))
	for i, e := range m.entries {
		lines[i] = RenderStatus(e.text)
	}
	m.view.SetContent(strings.Join(lines, "\n"))
	m.view.GotoBottom()
}

// Transcript is the plain text of every entry, for tests and logs.
func (m ConsoleModel) Transcript() []string {
	out := make([]string, len(m.entries))
	for i, e := range m.entries {
		out[i] = e.text
	}
	return out
}

// Running is the number of commands in flight.
func (m ConsoleModel) Running() int { return m.running }

func (m ConsoleModel) View() string {
	status := Colorize("pgup/pgdown: scroll  ↑/↓: history  esc: quit", ColorMuted)
	if m.running > 0 {
		status = fmt.Sprintf("%s %d running  %s", m.spinner.View(), m.running, status)
	}
	return m.view.View() + "\n" + m.input.View() + "\n" + status
}
