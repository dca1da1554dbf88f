package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

var configPath string

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "factorio-server-manager",
	Short: "Provision, build and run dedicated Factorio servers from short commands",
	Long: `factorio-server-manager keeps a local catalog of game releases and portal
mods, assembles server profiles from them and supervises the single running
game server. Commands are typed in the console or piped in with serve.`,
}

// Execute adds all child commands to the root command and runs it.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", ".", "directory holding the .env file")
}
