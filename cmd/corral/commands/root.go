// Package commands implements the corral CLI.
package commands

import (
	"github.com/spf13/cobra"
)

// cfgFile is the --config flag shared by every subcommand
var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "corral",
	Short: "Corral - node-local service deployment grid",
	Long: `Corral runs one grid node: a lifecycle gateway, a service deployment
registry and the canonical services facade, exposed through an admin API.

Use "corral [command] --help" for more information about a command.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: config/corral.yaml)")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(versionCmd)

	rootCmd.CompletionOptions.DisableDefaultCmd = true
}
