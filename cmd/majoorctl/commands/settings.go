package commands

import (
	"fmt"
	"os"
	"sort"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
)

var settingsCmd = &cobra.Command{
	Use:   "settings",
	Short: "Show the settings store",
	RunE: func(cmd *cobra.Command, args []string) error {
		page, err := client().Settings()
		if err != nil {
			return err
		}
		keys := make([]string, 0, len(page.Settings))
		for k := range page.Settings {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		table := tablewriter.NewWriter(os.Stdout)
		table.SetHeader([]string{"Key", "Value"})
		table.SetBorder(false)
		for _, k := range keys {
			table.Append([]string{k, page.Settings[k]})
		}
		table.Render()
		fmt.Printf("settings version %d\n", page.Version)
		return nil
	},
}

var settingsSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Write one settings key",
	Long: `Write one settings key.

Examples:
  majoorctl settings set security.allow_delete true
  majoorctl settings set metadata.sidecar_sync true`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := client().SetSetting(args[0], args[1]); err != nil {
			return err
		}
		fmt.Printf("%s = %s\n", args[0], args[1])
		return nil
	},
}

func init() {
	settingsCmd.AddCommand(settingsSetCmd)
	rootCmd.AddCommand(settingsCmd)
}
