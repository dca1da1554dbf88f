package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"factorio-server-manager/command"
	"factorio-server-manager/logger"
	"factorio-server-manager/notify"
	"factorio-server-manager/ui"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// consoleConversation is the one conversation every console line belongs to.
const consoleConversation = "console"

var consoleCmd = &cobra.Command{
	Use:   "console",
	Short: "Open the interactive console",
	Long: `Opens a terminal console where commands are typed one per line. The link
server runs alongside so edit and download links work.`,
	Args: cobra.NoArgs,
	Run: func(_ *cobra.Command, _ []string) {
		runConsole()
	},
}

func init() {
	rootCmd.AddCommand(consoleCmd)
}

func consoleSubmitter(ctx context.Context, d *command.Dispatcher, author string) ui.Submitter {
	return func(line string, sink notify.Sink, done chan<- error) error {
		_, err := d.Submit(ctx, command.Request{
			Conversation: consoleConversation,
			Author:       author,
			Text:         line,
			Sink:         sink,
			Done:         done,
		})
		return err
	}
}

func runConsole() {
	a := bootstrap(configPath)
	defer a.shutdown()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return a.dispatcher.Run(ctx) })
	g.Go(func() error { return a.web.Run(ctx) })

	sink := &ui.ProgramSink{}
	// Commands are submitted as the owner; the console is a local operator.
	model := ui.NewConsole(consoleSubmitter(ctx, a.dispatcher, a.cfg.BotOwner), sink, a.cfg.CommandPrefix)
	p := tea.NewProgram(model, tea.WithAltScreen(), tea.WithContext(ctx))
	sink.Attach(p)

	if _, err := p.Run(); err != nil && !errors.Is(err, tea.ErrProgramKilled) {
		logger.Log.Errorw("Console failed", zap.Error(err))
		fmt.Fprintf(os.Stderr, "Error running console: %v\n", err)
	}
	cancel()
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Log.Errorw("Background task failed", zap.Error(err))
	}
}
