package ui

import (
	"context"
	"errors"
	"strings"
	"testing"

	"factorio-server-manager/notify"

	tea "github.com/charmbracelet/bubbletea"
)

func typeLine(m ConsoleModel, line string) (ConsoleModel, tea.Cmd) {
	m.input.SetValue(line)
	next, cmd := m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	return next.(ConsoleModel), cmd
}

// TestConsoleSubmitsLines tests that a line is echoed and handed to the submitter
func TestConsoleSubmitsLines(t *testing.T) {
	var got []string
	submit := func(line string, sink notify.Sink, done chan<- error) error {
		got = append(got, line)
		done <- nil
		return nil
	}
	m := NewConsole(submit, &ProgramSink{}, "!")

	m, cmd := typeLine(m, "  list profiles ")
	if cmd == nil {
		t.Fatal("enter should return a command running the line")
	}
	if m.Running() != 1 {
		t.Fatalf("running = %d, want 1", m.Running())
	}
	if !strings.Contains(m.Transcript()[0], "> list profiles") {
		t.Fatalf("line not echoed: %q", m.Transcript())
	}

	msg := cmd()
	if len(got) != 1 || got[0] != "list profiles" {
		t.Fatalf("submitted %q", got)
	}
	next, _ := m.Update(msg)
	m = next.(ConsoleModel)
	if m.Running() != 0 {
		t.Fatalf("running = %d after completion", m.Running())
	}
}

// TestConsoleIgnoresBlankLines tests that empty input does nothing
func TestConsoleIgnoresBlankLines(t *testing.T) {
	m := NewConsole(func(string, notify.Sink, chan<- error) error {
		t.Fatal("blank line submitted")
		return nil
	}, &ProgramSink{}, "!")

	m, cmd := typeLine(m, "   ")
	if cmd != nil || len(m.Transcript()) != 0 {
		t.Fatal("blank line should be ignored")
	}
}

// TestConsoleQuit tests the quit words
func TestConsoleQuit(t *testing.T) {
	for _, word := range []string{"quit", "exit"} {
		m := NewConsole(nil, &ProgramSink{}, "!")
		_, cmd := typeLine(m, word)
		if cmd == nil {
			t.Fatalf("%s should quit", word)
		}
		if _, ok := cmd().(tea.QuitMsg); !ok {
			t.Fatalf("%s should return tea.Quit", word)
		}
	}
}

// TestConsoleOutputEdits tests that edits replace the message they refer to
func TestConsoleOutputEdits(t *testing.T) {
	m := NewConsole(nil, &ProgramSink{}, "!")

	steps := []OutputMsg{
		{Ref: "1", Text: "🟡 Downloading..."},
		{Ref: "2", Text: "other"},
		{Ref: "1", Text: "🟢 Downloaded", Edit: true},
		{Ref: "9", Text: "unknown edit", Edit: true},
	}
	for _, msg := range steps {
		next, _ := m.Update(msg)
		m = next.(ConsoleModel)
	}

	want := []string{"🟢 Downloaded", "other", "unknown edit"}
	got := m.Transcript()
	if strings.Join(got, "|") != strings.Join(want, "|") {
		t.Fatalf("transcript = %q, want %q", got, want)
	}
}

// TestConsoleReportsSubmitErrors tests that a refused submission is shown
func TestConsoleReportsSubmitErrors(t *testing.T) {
	m := NewConsole(func(string, notify.Sink, chan<- error) error {
		return errors.New("queue full")
	}, &ProgramSink{}, "!")

	m, cmd := typeLine(m, "build")
	next, _ := m.Update(cmd())
	m = next.(ConsoleModel)

	lines := m.Transcript()
	last := lines[len(lines)-1]
	if !strings.HasPrefix(last, notify.MarkFailure) || !strings.Contains(last, "queue full") {
		t.Fatalf("unexpected last line %q", last)
	}
}

// TestConsoleHistory tests browsing earlier lines with the arrow keys
func TestConsoleHistory(t *testing.T) {
	submit := func(_ string, _ notify.Sink, done chan<- error) error {
		done <- nil
		return nil
	}
	m := NewConsole(submit, &ProgramSink{}, "!")
	m, _ = typeLine(m, "info")
	m, _ = typeLine(m, "build")

	next, _ := m.Update(tea.KeyMsg{Type: tea.KeyUp})
	m = next.(ConsoleModel)
	if m.input.Value() != "build" {
		t.Fatalf("up = %q, want build", m.input.Value())
	}
	next, _ = m.Update(tea.KeyMsg{Type: tea.KeyUp})
	m = next.(ConsoleModel)
	if m.input.Value() != "info" {
		t.Fatalf("up twice = %q, want info", m.input.Value())
	}
	next, _ = m.Update(tea.KeyMsg{Type: tea.KeyDown})
	m = next.(ConsoleModel)
	next, _ = m.Update(tea.KeyMsg{Type: tea.KeyDown})
	m = next.(ConsoleModel)
	if m.input.Value() != "" {
		t.Fatalf("down past the end = %q, want empty", m.input.Value())
	}
}

// TestProgramSinkWithoutProgram tests that deliveries before Attach are dropped
func TestProgramSinkWithoutProgram(t *testing.T) {
	s := &ProgramSink{}
	ref1, err := s.Send(context.Background(), "a")
	if err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	ref2, _ := s.Send(context.Background(), "b")
	if ref1 == ref2 {
		t.Fatal("references should be unique")
	}
	if err := s.Edit(context.Background(), ref1, "c"); err != nil {
		t.Fatalf("Edit failed: %v", err)
	}
}

// TestRenderStatus tests that unmarked text is left alone
func TestRenderStatus(t *testing.T) {
	if got := RenderStatus("plain\ntext"); got != "plain\ntext" {
		t.Fatalf("RenderStatus changed plain text: %q", got)
	}
	if _, ok := StatusColor(notify.MarkSuccess + " ok"); !ok {
		t.Fatal("success marker not recognised")
	}
	out := RenderStatus(notify.MarkFailure + " boom\ndetail")
	if !strings.HasSuffix(out, "\ndetail") {
		t.Fatalf("only the first line should be styled: %q", out)
	}
}
