package cmd

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"factorio-server-manager/access"
	"factorio-server-manager/catalog"
	"factorio-server-manager/command"
	"factorio-server-manager/config"
	"factorio-server-manager/db"
	"factorio-server-manager/factorio"
	"factorio-server-manager/fetch"
	"factorio-server-manager/logger"
	"factorio-server-manager/notify"
	"factorio-server-manager/process"
	"factorio-server-manager/profile"
	"factorio-server-manager/web"

	"go.uber.org/zap"
)

// app is everything a command needs, wired from one configuration.
type app struct {
	cfg          config.Config
	client       *factorio.Client
	catalog      *catalog.Store
	orchestrator *profile.Orchestrator
	registry     *command.Registry
	dispatcher   *command.Dispatcher
	web          *web.Server
}

// bootstrap handles shared initialization logic for commands.
func bootstrap(path string) *app {
	cfg, err := config.LoadConfig(path)
	if err != nil {
		logger.Log.Fatalw("Failed to load configuration", zap.Error(err))
	}

	db.InitDatabase(cfg.DatabasePath)
	logger.Log.Infow("Database initialized", zap.String("path", cfg.DatabasePath))

	client, err := factorio.NewClient(cfg)
	if err != nil {
		logger.Log.Fatalw("Failed to create Factorio client", zap.Error(err))
	}

	return wire(cfg, client)
}

func wire(cfg config.Config, client *factorio.Client) *app {
	store := catalog.New(db.DB, client, logger.Named("catalog"))
	fetcher := fetch.New(client, store, cfg.BinDir(), logger.Named("fetch"))
	supervisor := process.NewSupervisor(cfg.StartGrace, logger.Named("process"))
	sessions := profile.NewSessions()

	o := profile.New(profile.Options{
		Catalog:     store,
		Fetcher:     fetcher,
		Supervisor:  supervisor,
		Remote:      client,
		Sessions:    sessions,
		ProfilesDir: cfg.ProfilesDir(),
		PublicURL:   cfg.PublicURL,
		Log:         logger.Named("profile"),
	})
	acl := access.New(db.DB, logger.Named("access"))
	reg := command.NewDefaultRegistry(o, acl, cfg.CommandPrefix)

	return &app{
		cfg:          cfg,
		client:       client,
		catalog:      store,
		orchestrator: o,
		registry:     reg,
		dispatcher: command.NewDispatcher(command.DispatcherOptions{
			Registry:       reg,
			Access:         acl,
			Sessions:       sessions,
			Prefix:         cfg.CommandPrefix,
			Owner:          cfg.BotOwner,
			Workers:        cfg.Workers,
			ReportInterval: cfg.ReportInterval,
			Log:            logger.Named("dispatch"),
		}),
		web: web.NewServer(o, cfg.HTTPAddr, logger.Named("web")),
	}
}

// shutdown stops a server left running by this process.
func (a *app) shutdown() {
	if a.orchestrator.Stop() {
		logger.Log.Info("Stopped the game server on exit")
	}
}

// writerSink prints every delivery as a new block. Edits are printed again
// since a plain stream cannot rewrite earlier output.
type writerSink struct {
	mu   sync.Mutex
	w    io.Writer
	next int
	last map[notify.MessageRef]string
}

func newWriterSink(w io.Writer) *writerSink {
	return &writerSink{w: w, last: make(map[notify.MessageRef]string)}
}

func (s *writerSink) Send(_ context.Context, text string) (notify.MessageRef, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.next++
	ref := notify.MessageRef(fmt.Sprint(s.next))
	s.last[ref] = text
	return ref, s.print(text)
}

func (s *writerSink) Edit(_ context.Context, ref notify.MessageRef, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.last[ref] == text {
		return nil
	}
	s.last[ref] = text
	return s.print(text)
}

func (s *writerSink) print(text string) error {
	_, err := fmt.Fprintln(s.w, strings.TrimRight(text, "\n"))
	return err
}
