package cmd

import (
	"bufio"
	"context"
	"errors"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"factorio-server-manager/command"
	"factorio-server-manager/logger"
	"factorio-server-manager/notify"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var serveAuthor string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Read commands from stdin and serve links until interrupted",
	Long: `Reads one command per line from standard input and prints progress to
standard output. The link server runs until SIGINT or SIGTERM.`,
	Args: cobra.NoArgs,
	Run: func(_ *cobra.Command, _ []string) {
		a := bootstrap(configPath)
		defer a.shutdown()

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		author := serveAuthor
		if author == "" {
			author = a.cfg.BotOwner
		}
		if err := serve(ctx, a, os.Stdin, newWriterSink(os.Stdout), author); err != nil {
			logger.Log.Fatalw("Serve failed", zap.Error(err))
		}
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringVar(&serveAuthor, "author", "", "author submitted with every line (defaults to BOT_OWNER)")
}

func serve(ctx context.Context, a *app, in io.Reader, sink notify.Sink, author string) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return a.dispatcher.Run(ctx) })
	g.Go(func() error { return a.web.Run(ctx) })
	g.Go(func() error {
		err := readLines(ctx, in, func(line string) error {
			_, err := a.dispatcher.Submit(ctx, command.Request{
				Conversation: "stdin",
				Author:       author,
				Text:         line,
				Sink:         sink,
			})
			return err
		})
		if err != nil {
			return err
		}
		logger.Log.Info("Input closed, serving links until interrupted")
		return nil
	})

	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// readLines calls submit for every non-blank line of in until EOF.
func readLines(ctx context.Context, in io.Reader, submit func(string) error) error {
	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if err := submit(line); err != nil {
			return err
		}
	}
	return scanner.Err()
}
