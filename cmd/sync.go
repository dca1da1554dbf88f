package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"factorio-server-manager/logger"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	syncGameOnly bool
	syncModsOnly bool
)

// syncCmd represents the sync command
var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Synchronise the local catalog with the download site and mod portal",
	Long: `Fetches the game release archive and the mod portal listing and stores
whatever changed. Release lists of single mods are fetched on demand.`,
	Args: cobra.NoArgs,
	Run: func(_ *cobra.Command, _ []string) {
		logger.Log.Info("Running sync command...")
		a := bootstrap(configPath)

		game, mods := !syncModsOnly, !syncGameOnly
		steps := catalogSteps(a.catalog, game, mods)
		if len(steps) == 0 {
			fmt.Fprintln(os.Stderr, "--game and --mods exclude each other")
			os.Exit(2)
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		p := tea.NewProgram(initialSyncModel(ctx, steps))
		final, err := p.Run()
		if err != nil {
			logger.Log.Fatalw("Sync view failed", zap.Error(err))
		}
		if m, ok := final.(SyncModel); ok && len(m.errors) > 0 {
			os.Exit(1)
		}
	},
}

func init() {
	rootCmd.AddCommand(syncCmd)
	syncCmd.Flags().BoolVar(&syncGameOnly, "game", false, "only sync game releases")
	syncCmd.Flags().BoolVar(&syncModsOnly, "mods", false, "only sync the mod list")
}
