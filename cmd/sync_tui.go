package cmd

import (
	"context"
	"fmt"
	"strings"
	"time"

	"factorio-server-manager/catalog"
	"factorio-server-manager/notify"
	"factorio-server-manager/ui"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// progressInterval spaces reporter deliveries in the terminal view.
const progressInterval = 200 * time.Millisecond

// SyncProgressMsg represents a progress update from a catalog sync
type SyncProgressMsg struct {
	Type    string // "status", "step", "error", "summary", "done"
	Step    string
	Message string
}

// syncStep is one catalog sync run by the sync command.
type syncStep struct {
	name string
	run  func(ctx context.Context, r *notify.Reporter) (catalog.SyncStats, error)
}

func catalogSteps(store *catalog.Store, game, mods bool) []syncStep {
	var steps []syncStep
	if game {
		steps = append(steps, syncStep{"game releases", store.SyncGameReleases})
	}
	if mods {
		steps = append(steps, syncStep{"mods", store.SyncMods})
	}
	return steps
}

// chanSink turns reporter deliveries into status messages of one step.
type chanSink struct {
	step string
	ch   chan<- SyncProgressMsg
}

func (s chanSink) Send(_ context.Context, text string) (notify.MessageRef, error) {
	s.ch <- SyncProgressMsg{Type: "status", Step: s.step, Message: text}
	return notify.MessageRef(s.step), nil
}

func (s chanSink) Edit(_ context.Context, _ notify.MessageRef, text string) error {
	s.ch <- SyncProgressMsg{Type: "status", Step: s.step, Message: text}
	return nil
}

// runSteps runs every step in order and reports their outcome on ch. A
// failed step does not prevent the next one.
func runSteps(ctx context.Context, steps []syncStep, ch chan<- SyncProgressMsg) {
	failed := 0
	for _, step := range steps {
		r := notify.NewReporter(chanSink{step: step.name, ch: ch}, progressInterval, nil)
		stats, err := step.run(ctx, r)
		r.Flush()
		if err != nil {
			failed++
			ch <- SyncProgressMsg{Type: "error", Step: step.name, Message: err.Error()}
			continue
		}
		ch <- SyncProgressMsg{Type: "step", Step: step.name, Message: stats.String()}
	}
	ch <- SyncProgressMsg{Type: "summary", Message: fmt.Sprintf("%d of %d syncs succeeded", len(steps)-failed, len(steps))}
}

// SyncModel controls the UI for the sync command
type SyncModel struct {
	spinner      spinner.Model
	progressChan chan SyncProgressMsg
	steps        []syncStep
	ctx          context.Context

	status    string
	completed []string
	errors    []string
	summary   string
	done      bool
}

func initialSyncModel(ctx context.Context, steps []syncStep) SyncModel {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = lipgloss.NewStyle().Foreground(ui.ColorSpinner)

	return SyncModel{
		spinner:      s,
		progressChan: make(chan SyncProgressMsg, 100),
		steps:        steps,
		ctx:          ctx,
		status:       "Initializing...",
	}
}

func (m SyncModel) Init() tea.Cmd {
	return tea.Batch(
		m.spinner.Tick,
		m.startSync(),
		m.waitForActivity(),
	)
}

func (m SyncModel) startSync() tea.Cmd {
	return func() tea.Msg {
		go func() {
			defer close(m.progressChan)
			runSteps(m.ctx, m.steps, m.progressChan)
		}()
		return nil
	}
}

func (m SyncModel) waitForActivity() tea.Cmd {
	return func() tea.Msg {
		msg, ok := <-m.progressChan
		if !ok {
			return SyncProgressMsg{Type: "done"}
		}
		return msg
	}
}

func (m SyncModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if msg.String() == "q" || msg.String() == "ctrl+c" {
			return m, tea.Quit
		}
		if m.done {
			return m, tea.Quit
		}

	case spinner.TickMsg:
		if m.done {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case SyncProgressMsg:
		switch msg.Type {
		case "done":
			m.done = true
			m.status = "Finished"
			return m, tea.Quit
		case "status":
			m.status = firstLine(msg.Message)
		case "step":
			m.completed = append(m.completed, fmt.Sprintf("%s: %s", msg.Step, msg.Message))
		case "error":
			m.errors = append(m.errors, fmt.Sprintf("%s: %s", msg.Step, msg.Message))
		case "summary":
			m.summary = msg.Message
		}
		return m, m.waitForActivity()
	}

	return m, nil
}

func firstLine(s string) string {
	line, _, _ := strings.Cut(s, "\n")
	return line
}

func (m SyncModel) View() string {
	var symbol string
	if m.done {
		symbol = ui.Colorize("✓", ui.ColorSuccess)
	} else {
		symbol = m.spinner.View()
	}

	s := fmt.Sprintf("\n %s %s\n\n", symbol, m.status)

	if len(m.errors) > 0 {
		s += ui.Colorize("Errors:", ui.ColorError) + "\n"
		for _, e := range m.errors {
			s += fmt.Sprintf("  • %s\n", e)
		}
		s += "\n"
	}

	if len(m.completed) > 0 {
		s += ui.Colorize("Completed:", ui.ColorSuccess) + "\n"
		for _, c := range m.completed {
			s += fmt.Sprintf("  • %s\n", c)
		}
		s += "\n"
	}

	if m.done && m.summary != "" {
		s += lipgloss.NewStyle().Bold(true).Render(m.summary) + "\n"
	}

	return s
}
