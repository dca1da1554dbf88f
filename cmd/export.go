package cmd

import (
	"context"
	"os"

	"factorio-server-manager/logger"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var exportOutput string

var exportCmd = &cobra.Command{
	Use:   "export <profile>",
	Short: "Write a profile's game version and mod list as YAML",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		a := bootstrap(configPath)
		data, err := a.orchestrator.ExportProfile(context.Background(), args[0])
		if err != nil {
			logger.Log.Fatalw("Failed to export profile", zap.String("profile", args[0]), zap.Error(err))
		}

		if exportOutput == "" || exportOutput == "-" {
			_, _ = cmd.OutOrStdout().Write(data)
			return
		}
		if err := os.WriteFile(exportOutput, data, 0644); err != nil {
			logger.Log.Fatalw("Failed to write export", zap.String("file", exportOutput), zap.Error(err))
		}
		logger.Log.Infow("Profile exported", zap.String("profile", args[0]), zap.String("file", exportOutput))
	},
}

func init() {
	rootCmd.AddCommand(exportCmd)
	exportCmd.Flags().StringVarP(&exportOutput, "output", "o", "", "file to write (defaults to stdout)")
}
