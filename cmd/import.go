package cmd

import (
	"context"
	"fmt"
	"io"
	"os"

	"factorio-server-manager/logger"
	"factorio-server-manager/notify"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var importCmd = &cobra.Command{
	Use:   "import <file>",
	Short: "Create a profile from an exported YAML manifest",
	Long: `Creates the profile described by the manifest and installs its mods. Use
"-" to read the manifest from stdin. Mods that cannot be installed are listed
as warnings and skipped.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		data, err := readManifest(args[0], cmd.InOrStdin())
		if err != nil {
			logger.Log.Fatalw("Failed to read manifest", zap.String("file", args[0]), zap.Error(err))
		}

		a := bootstrap(configPath)
		out := cmd.OutOrStdout()
		r := notify.NewReporter(newWriterSink(out), a.cfg.ReportInterval, logger.Named("import"))
		warnings, err := a.orchestrator.ImportProfile(context.Background(), a.orchestrator.Sessions().Get("cli"), data, r)
		r.Flush()
		if err != nil {
			logger.Log.Fatalw("Failed to import profile", zap.Error(err))
		}
		for _, w := range warnings {
			fmt.Fprintf(out, "warning: %s\n", w)
		}
	},
}

func init() {
	rootCmd.AddCommand(importCmd)
}

func readManifest(name string, stdin io.Reader) ([]byte, error) {
	if name == "-" {
		return io.ReadAll(stdin)
	}
	return os.ReadFile(name)
}
