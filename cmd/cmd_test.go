package cmd

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"factorio-server-manager/catalog"
	"factorio-server-manager/command"
	"factorio-server-manager/notify"
	"factorio-server-manager/profile"

	tea "github.com/charmbracelet/bubbletea"
)

// TestWriterSink tests that edits are printed only when the text changes
func TestWriterSink(t *testing.T) {
	var buf bytes.Buffer
	sink := newWriterSink(&buf)
	ctx := context.Background()

	ref, err := sink.Send(ctx, "🟡 Working...")
	if err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	if err := sink.Edit(ctx, ref, "🟡 Working..."); err != nil {
		t.Fatalf("Edit failed: %v", err)
	}
	if err := sink.Edit(ctx, ref, "🟢 Done\n"); err != nil {
		t.Fatalf("Edit failed: %v", err)
	}

	want := "🟡 Working...\n🟢 Done\n"
	if buf.String() != want {
		t.Fatalf("output = %q, want %q", buf.String(), want)
	}

	other, _ := sink.Send(ctx, "second")
	if other == ref {
		t.Fatal("Send should return a fresh reference")
	}
}

// TestReadLines tests that blank lines are skipped and errors stop reading
func TestReadLines(t *testing.T) {
	var got []string
	in := strings.NewReader("info\n\n   \n  list profiles  \nbuild\n")
	err := readLines(context.Background(), in, func(line string) error {
		got = append(got, line)
		return nil
	})
	if err != nil {
		t.Fatalf("readLines failed: %v", err)
	}
	if strings.Join(got, "|") != "info|list profiles|build" {
		t.Fatalf("unexpected lines: %q", got)
	}

	boom := errors.New("queue closed")
	err = readLines(context.Background(), strings.NewReader("a\nb\n"), func(string) error { return boom })
	if !errors.Is(err, boom) {
		t.Fatalf("expected submit error, got %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err = readLines(ctx, strings.NewReader("a\n"), func(string) error { return nil })
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context error, got %v", err)
	}
}

func echoDispatcher(t *testing.T) *command.Dispatcher {
	t.Helper()
	reg := command.NewRegistry()
	reg.Register(command.Descriptor{
		Path:    []string{"echo"},
		MaxArgs: command.Unlimited,
		Handler: func(c *command.Context) error {
			c.Reporter.Done("%s", strings.Join(c.Args, " "))
			return nil
		},
	})
	reg.Register(command.Descriptor{
		Path:      []string{"secret"},
		OwnerOnly: true,
		Handler:   func(c *command.Context) error { return nil },
	})
	return command.NewDispatcher(command.DispatcherOptions{
		Registry: reg,
		Sessions: profile.NewSessions(),
		Prefix:   "!",
		Owner:    "owner",
	})
}

// TestConsoleSubmitter tests that console lines reach the dispatcher as the configured author
func TestConsoleSubmitter(t *testing.T) {
	d := echoDispatcher(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = d.Run(ctx) }()

	submit := consoleSubmitter(ctx, d, "owner")
	rec := &notify.Recorder{}

	done := make(chan error, 1)
	if err := submit("echo hello world", rec, done); err != nil {
		t.Fatalf("submit failed: %v", err)
	}
	if err := <-done; err != nil {
		t.Fatalf("command failed: %v", err)
	}
	if !strings.Contains(rec.Last(), "hello world") {
		t.Fatalf("unexpected output %q", rec.Last())
	}

	done = make(chan error, 1)
	if err := submit("secret", rec, done); err != nil {
		t.Fatalf("submit failed: %v", err)
	}
	if err := <-done; err != nil {
		t.Fatalf("owner should be allowed, got %v", err)
	}

	stranger := consoleSubmitter(ctx, d, "someone")
	done = make(chan error, 1)
	if err := stranger("secret", rec, done); err != nil {
		t.Fatalf("submit failed: %v", err)
	}
	if err := <-done; err == nil {
		t.Fatal("owner-only command should be refused to other authors")
	}
}

func fakeStep(name string, stats catalog.SyncStats, err error) syncStep {
	return syncStep{name: name, run: func(_ context.Context, r *notify.Reporter) (catalog.SyncStats, error) {
		r.Running("Syncing %s...", name)
		return stats, err
	}}
}

// TestRunStepsReportsEveryStep tests that a failing step does not stop the next one
func TestRunStepsReportsEveryStep(t *testing.T) {
	ch := make(chan SyncProgressMsg, 100)
	runSteps(context.Background(), []syncStep{
		fakeStep("game releases", catalog.SyncStats{}, errors.New("site down")),
		fakeStep("mods", catalog.SyncStats{Added: 3}, nil),
	}, ch)
	close(ch)

	var kinds []string
	var last SyncProgressMsg
	for msg := range ch {
		if msg.Type != "status" {
			kinds = append(kinds, msg.Type+":"+msg.Step)
		}
		last = msg
	}
	if strings.Join(kinds, ",") != "error:game releases,step:mods,summary:" {
		t.Fatalf("unexpected events %v", kinds)
	}
	if last.Message != "1 of 2 syncs succeeded" {
		t.Fatalf("unexpected summary %q", last.Message)
	}
}

// TestSyncModelUpdate tests the sync view state transitions
func TestSyncModelUpdate(t *testing.T) {
	m := initialSyncModel(context.Background(), nil)

	next, _ := m.Update(SyncProgressMsg{Type: "status", Step: "mods", Message: "🟡 Obtaining page 1 of 3...\n```log\n```"})
	m = next.(SyncModel)
	if m.status != "🟡 Obtaining page 1 of 3..." {
		t.Fatalf("status should keep the first line, got %q", m.status)
	}

	next, _ = m.Update(SyncProgressMsg{Type: "step", Step: "mods", Message: "1 added"})
	m = next.(SyncModel)
	next, _ = m.Update(SyncProgressMsg{Type: "error", Step: "game releases", Message: "boom"})
	m = next.(SyncModel)
	next, _ = m.Update(SyncProgressMsg{Type: "summary", Message: "1 of 2 syncs succeeded"})
	m = next.(SyncModel)

	if len(m.completed) != 1 || len(m.errors) != 1 {
		t.Fatalf("unexpected state: completed=%v errors=%v", m.completed, m.errors)
	}

	next, cmd := m.Update(SyncProgressMsg{Type: "done"})
	m = next.(SyncModel)
	if !m.done {
		t.Fatal("model should be done")
	}
	if cmd == nil {
		t.Fatal("done should quit the program")
	}
	if _, ok := cmd().(tea.QuitMsg); !ok {
		t.Fatal("done should return tea.Quit")
	}

	view := m.View()
	for _, want := range []string{"mods: 1 added", "game releases: boom", "1 of 2 syncs succeeded"} {
		if !strings.Contains(view, want) {
			t.Fatalf("view is missing %q:\n%s", want, view)
		}
	}
}

// TestCatalogSteps tests the step selection flags
func TestCatalogSteps(t *testing.T) {
	store := &catalog.Store{}
	if n := len(catalogSteps(store, true, true)); n != 2 {
		t.Fatalf("expected 2 steps, got %d", n)
	}
	steps := catalogSteps(store, false, true)
	if len(steps) != 1 || steps[0].name != "mods" {
		t.Fatalf("unexpected steps %+v", steps)
	}
	if n := len(catalogSteps(store, false, false)); n != 0 {
		t.Fatalf("expected no steps, got %d", n)
	}
}

// TestReadManifest tests reading from a file and from stdin
func TestReadManifest(t *testing.T) {
	data, err := readManifest("-", strings.NewReader("name: base\n"))
	if err != nil || string(data) != "name: base\n" {
		t.Fatalf("stdin manifest = %q, %v", data, err)
	}
	if _, err := readManifest(t.TempDir()+"/missing.yaml", nil); err == nil {
		t.Fatal("expected an error for a missing file")
	}
}
