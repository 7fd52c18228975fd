// Package commands implements the majoorctl CLI.
package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/majoor-app/majoor/pkg/apiclient"
)

// Build metadata, set by main.
var (
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
)

var (
	serverURL string
	token     string
)

var rootCmd = &cobra.Command{
	Use:   "majoorctl",
	Short: "Operator CLI for a majoord server",
	Long: `majoorctl talks to a running majoord instance over its HTTP API.

The server URL defaults to http://127.0.0.1:8188 and can be overridden with
--server or MAJOORCTL_SERVER. A write token (--token or MAJOORCTL_TOKEN) is
required for mutating commands when the server enforces one.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("majoorctl %s (commit: %s, built: %s)\n", Version, Commit, Date)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "", "Server base URL (default: http://127.0.0.1:8188)")
	rootCmd.PersistentFlags().StringVar(&token, "token", "", "Write token for mutating commands")
	rootCmd.AddCommand(versionCmd)
}

// Execute runs the CLI.
func Execute() error {
	return rootCmd.Execute()
}

// client builds the API client from flags and environment.
func client() *apiclient.Client {
	url := serverURL
	if url == "" {
		url = os.Getenv("MAJOORCTL_SERVER")
	}
	if url == "" {
		url = "http://127.0.0.1:8188"
	}
	c := apiclient.New(url)
	tok := token
	if tok == "" {
		tok = os.Getenv("MAJOORCTL_TOKEN")
	}
	if tok != "" {
		c = c.WithToken(tok)
	}
	return c
}
