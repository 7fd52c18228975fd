package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/majoor-app/majoor/pkg/config"
)

var initForce bool

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a starter configuration file",
	Long: `Write the default configuration to the config path so it can be
edited before the first start.

Examples:
  majoord init
  majoord init --config /etc/majoor/config.yaml
  majoord init --force`,
	RunE: runInit,
}

func init() {
	initCmd.Flags().BoolVar(&initForce, "force", false, "Overwrite an existing config file")
	rootCmd.AddCommand(initCmd)
}

func runInit(cmd *cobra.Command, args []string) error {
	path := configFile
	if path == "" {
		path = config.DefaultConfigPath()
	}
	if _, err := os.Stat(path); err == nil && !initForce {
		return fmt.Errorf("config file already exists at %s (use --force to overwrite)", path)
	}
	if err := config.Save(config.Default(), path); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	fmt.Printf("Configuration file created at: %s\n", path)
	fmt.Println("Edit it, then start the server with: majoord serve")
	return nil
}
