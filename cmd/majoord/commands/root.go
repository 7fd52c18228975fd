// Package commands implements the majoord CLI.
package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

// Build metadata, set by main.
var (
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
)

var configFile string

var rootCmd = &cobra.Command{
	Use:   "majoord",
	Short: "Majoor asset manager daemon",
	Long: `majoord indexes a media generation pipeline's output directory and
serves the asset browsing API under /mjr/am.

Configuration is read from $XDG_CONFIG_HOME/majoor/config.yaml, overridable
with --config and MAJOOR_* environment variables.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("majoord %s (commit: %s, built: %s)\n", Version, Commit, Date)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "Path to config file (default: $XDG_CONFIG_HOME/majoor/config.yaml)")
	rootCmd.AddCommand(versionCmd)
}

// Execute runs the CLI.
func Execute() error {
	return rootCmd.Execute()
}
