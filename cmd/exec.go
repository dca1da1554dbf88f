package cmd

import (
	"context"
	"os"
	"strings"

	"factorio-server-manager/command"
	"factorio-server-manager/logger"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var execProfile string

var execCmd = &cobra.Command{
	Use:   "exec <command...>",
	Short: "Run a single command and wait for it to finish",
	Example: `  factorio-server-manager exec create profile base 1.1
  factorio-server-manager exec -p base build`,
	Args: cobra.MinimumNArgs(1),
	Run: func(_ *cobra.Command, args []string) {
		a := bootstrap(configPath)
		ctx := context.Background()
		if execProfile != "" {
			sess := a.orchestrator.Sessions().Get("cli")
			if _, err := a.orchestrator.SwapProfile(ctx, sess, execProfile); err != nil {
				logger.Log.Fatalw("Failed to select profile", zap.String("profile", execProfile), zap.Error(err))
			}
		}
		err := a.dispatcher.Handle(ctx, command.Request{
			Conversation: "cli",
			Author:       a.cfg.BotOwner,
			Text:         strings.Join(args, " "),
			Sink:         newWriterSink(os.Stdout),
		})
		if err != nil {
			// The failure was already printed by the reporter.
			os.Exit(1)
		}
	},
}

func init() {
	rootCmd.AddCommand(execCmd)
	execCmd.Flags().StringVarP(&execProfile, "profile", "p", "", "profile to select before running the command")
}
