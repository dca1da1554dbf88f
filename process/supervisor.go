// Package process owns the single game server process and the one-shot
// world generation run.
package process

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"factorio-server-manager/domain"
	"factorio-server-manager/logger"
	"factorio-server-manager/metrics"
	"factorio-server-manager/notify"

	"go.uber.org/zap"
)

const (
	// DefaultGrace is how long a started server must stay alive to count as running.
	DefaultGrace = 3 * time.Second

	// OutputTail is how much of each output stream a failure report carries.
	OutputTail = 1500

	stopTimeout = 10 * time.Second
)

// Target describes the profile a process runs for.
type Target struct {
	Name        string
	Dir         string
	InstallPath string
	// Save is the save file inside Dir, DefaultSaveName when empty.
	Save string
}

// Executable is the game binary of the install.
func (t Target) Executable() string {
	return filepath.Join(t.InstallPath, domain.ExecutableRelativePath)
}

// ConfigPath returns the profile override of a config file if present,
// else the example file packaged with the game.
func (t Target) ConfigPath(name string) string {
	override := filepath.Join(t.Dir, name+".json")
	if _, err := os.Stat(override); err == nil {
		return override
	}
	return filepath.Join(t.InstallPath, domain.DefaultConfigDir, name+".example.json")
}

// State is a snapshot of the server slot.
type State struct {
	Running bool
	Profile string
}

func (s State) String() string {
	if s.Running {
		return "running " + s.Profile
	}
	return "idle"
}

type handle struct {
	cmd     *exec.Cmd
	profile string
	done    chan struct{}
	err     error
	stdout  *tailBuffer
	stderr  *tailBuffer
}

// Supervisor guards the server slot. At most one server runs at a time.
type Supervisor struct {
	grace time.Duration
	log   *zap.SugaredLogger

	mu     sync.Mutex
	handle *handle
}

// NewSupervisor returns an idle Supervisor. grace <= 0 uses DefaultGrace.
func NewSupervisor(grace time.Duration, log *zap.SugaredLogger) *Supervisor {
	if grace <= 0 {
		grace = DefaultGrace
	}
	return &Supervisor{grace: grace, log: logger.OrNop(log)}
}

// Status reports the slot state. A server that exited on its own is idle.
func (s *Supervisor) Status() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.handle == nil {
		return State{}
	}
	return State{Running: true, Profile: s.handle.profile}
}

// Start launches the server for t and waits out the grace period.
func (s *Supervisor) Start(t Target, r *notify.Reporter) error {
	if t.InstallPath == "" {
		return fmt.Errorf("%w: run build first", domain.ErrGameNotInstalled)
	}
	exe := t.Executable()
	if _, err := os.Stat(exe); err != nil {
		return fmt.Errorf("%w: %s is missing", domain.ErrGameNotInstalled, exe)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.handle != nil {
		return fmt.Errorf("%w: profile %s owns the server, stop it first", domain.ErrProcessAlreadyRunning, s.handle.profile)
	}

	save := t.Save
	if save == "" {
		save = domain.DefaultSaveName
	}
	savePath := filepath.Join(t.Dir, save)
	if _, err := os.Stat(savePath); err != nil {
		return fmt.Errorf("%w: save %s, run build first", domain.ErrNotFound, save)
	}

	args := []string{
		"--start-server", savePath,
		"--server-settings", t.ConfigPath("server-settings"),
		"--console-log", filepath.Join(t.Dir, domain.ServerLogFile),
		"--mod-directory", filepath.Join(t.Dir, domain.ModDirectory),
	}
	h := &handle{
		cmd:     exec.Command(exe, args...),
		profile: t.Name,
		done:    make(chan struct{}),
		stdout:  newTailBuffer(OutputTail),
		stderr:  newTailBuffer(OutputTail),
	}
	h.cmd.Dir = t.Dir
	h.cmd.Stdout = h.stdout
	h.cmd.Stderr = h.stderr

	r.Running("Starting server for **%s**...", t.Name)
	s.log.Infow("Starting server", zap.String("profile", t.Name), zap.Strings("args", args))
	if err := h.cmd.Start(); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrProcessFailed, err)
	}
	go func() {
		h.err = h.cmd.Wait()
		close(h.done)
	}()

	select {
	case <-h.done:
		s.log.Errorw("Server exited during startup", zap.String("profile", t.Name), zap.Error(h.err))
		return fmt.Errorf("%w: server exited during startup (%v)\n%s", domain.ErrProcessFailed, h.err, outputReport(h.stdout, h.stderr))
	case <-time.After(s.grace):
	}

	s.handle = h
	metrics.SetServerRunning(true)
	go s.reap(h)
	r.Success("Server for **%s** is running", t.Name)
	return nil
}

// reap clears the slot when the process exits on its own.
func (s *Supervisor) reap(h *handle) {
	<-h.done
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.handle == h {
		s.log.Warnw("Server exited", zap.String("profile", h.profile), zap.Error(h.err))
		s.handle = nil
		metrics.SetServerRunning(false)
	}
}

// Stop terminates the running server. It returns false when idle.
func (s *Supervisor) Stop() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	h := s.handle
	if h == nil {
		return false
	}
	select {
	case <-h.done:
		// Exited on its own; reap clears the slot.
		s.handle = nil
		metrics.SetServerRunning(false)
		return false
	default:
	}

	if err := h.cmd.Process.Signal(syscall.SIGTERM); err != nil && !errors.Is(err, os.ErrProcessDone) {
		s.log.Warnw("SIGTERM failed, interrupting", zap.Error(err))
		_ = h.cmd.Process.Signal(os.Interrupt)
	}
	select {
	case <-h.done:
	case <-time.After(stopTimeout):
		s.log.Warnw("Server ignored SIGTERM, killing", zap.String("profile", h.profile))
		_ = h.cmd.Process.Kill()
		<-h.done
	}

	s.log.Infow("Server stopped", zap.String("profile", h.profile))
	s.handle = nil
	metrics.SetServerRunning(false)
	return true
}

// StopIfOwned stops the server when profile owns it.
func (s *Supervisor) StopIfOwned(profile string) bool {
	if st := s.Status(); !st.Running || st.Profile != profile {
		return false
	}
	return s.Stop()
}

// BuildWorld generates the default save of t unless it already exists. It
// does not take the server slot.
func (s *Supervisor) BuildWorld(ctx context.Context, t Target, r *notify.Reporter) error {
	savePath := filepath.Join(t.Dir, domain.DefaultSaveName)
	if _, err := os.Stat(savePath); err == nil {
		r.Success("Map already exists, skipping generation")
		return nil
	}
	if t.InstallPath == "" {
		return fmt.Errorf("%w: run build first", domain.ErrGameNotInstalled)
	}

	r.Running("Generating map for **%s**...", t.Name)
	stdout, stderr := newTailBuffer(OutputTail), newTailBuffer(OutputTail)
	cmd := exec.CommandContext(ctx, t.Executable(),
		"--create", savePath,
		"--map-gen-settings", t.ConfigPath("map-gen-settings"),
		"--map-settings", t.ConfigPath("map-settings"),
		"--console-log", filepath.Join(t.Dir, domain.MapGenerationLogFile),
		"--mod-directory", filepath.Join(t.Dir, domain.ModDirectory),
	)
	cmd.Dir = t.Dir
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	if err := cmd.Run(); err != nil {
		s.log.Errorw("Map generation failed", zap.String("profile", t.Name), zap.Error(err))
		return fmt.Errorf("%w: map generation: %v\n%s", domain.ErrProcessFailed, err, outputReport(stdout, stderr))
	}

	s.log.Infow("Map generated", zap.String("profile", t.Name), zap.String("save", savePath))
	r.Success("Map generated for **%s**", t.Name)
	return nil
}

func outputReport(stdout, stderr *tailBuffer) string {
	return fmt.Sprintf("stdout:\n```\n%s\n```\nstderr:\n```\n%s\n```",
		notify.Tail(stdout.String(), OutputTail), notify.Tail(stderr.String(), OutputTail))
}
