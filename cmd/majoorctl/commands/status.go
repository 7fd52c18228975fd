package commands

import (
	"os"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show server status",
	Long: `Display the server overview: roots, queue depths, and whether a
maintenance operation is in progress.

Examples:
  majoorctl status
  majoorctl status --server http://10.0.0.5:8188`,
	RunE: runStatus,
}

var countersCmd = &cobra.Command{
	Use:   "counters",
	Short: "Show index counters",
	RunE:  runCounters,
}

func init() {
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(countersCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	st, err := client().Status()
	if err != nil {
		return err
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"Field", "Value"})
	table.SetBorder(false)
	table.Append([]string{"Version", st.Version})
	table.Append([]string{"Uptime", st.Uptime})
	table.Append([]string{"Output root", st.OutputRoot})
	table.Append([]string{"Input root", orDash(st.InputRoot)})
	table.Append([]string{"Custom roots", itoa(st.CustomRoots)})
	table.Append([]string{"Watcher pending", itoa(st.WatcherPending)})
	table.Append([]string{"Enrichment queue", itoa(st.EnrichmentQueue)})
	table.Append([]string{"Maintenance", boolWord(st.MaintenanceActive, "active", "idle")})
	table.Render()
	return nil
}

func runCounters(cmd *cobra.Command, args []string) error {
	c, err := client().Counters()
	if err != nil {
		return err
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"Counter", "Value"})
	table.SetBorder(false)
	table.Append([]string{"Assets total", i64toa(c.AssetsTotal)})
	for source, n := range c.AssetsBySource {
		table.Append([]string{"Assets " + source, i64toa(n)})
	}
	table.Append([]string{"Journal rows", i64toa(c.JournalRows)})
	table.Append([]string{"Enrichment queue", itoa(c.EnrichmentQueue)})
	table.Append([]string{"Watcher pending", itoa(c.WatcherPending)})
	table.Append([]string{"Sidecar queue", itoa(c.SidecarQueue)})
	table.Render()
	return nil
}
