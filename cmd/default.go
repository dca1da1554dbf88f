package cmd

import (
	"github.com/spf13/cobra"
)

func init() {
	// Running the binary without a subcommand opens the console.
	rootCmd.Args = cobra.NoArgs
	rootCmd.Run = func(cmd *cobra.Command, args []string) {
		consoleCmd.Run(consoleCmd, args)
	}
}
