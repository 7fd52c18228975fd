package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

var (
	scanScope  string
	scanRootID string
	scanFull   bool
)

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Trigger a scan",
	Long: `Run a synchronous scan of one scope and print its stats.

Examples:
  majoorctl scan
  majoorctl scan --scope input
  majoorctl scan --scope custom --root-id 6f1f...
  majoorctl scan --full`,
	RunE: runScan,
}

func init() {
	scanCmd.Flags().StringVar(&scanScope, "scope", "output", "Scope: output, input, custom")
	scanCmd.Flags().StringVar(&scanRootID, "root-id", "", "Custom root id (custom scope)")
	scanCmd.Flags().BoolVar(&scanFull, "full", false, "Ignore the journal and revisit every file")
	rootCmd.AddCommand(scanCmd)
}

func runScan(cmd *cobra.Command, args []string) error {
	stats, err := client().Scan(scanScope, scanRootID, !scanFull)
	if err != nil {
		return err
	}
	fmt.Printf("scanned %d: %d added, %d updated, %d skipped, %d errors in %.2fs\n",
		stats.Scanned, stats.Added, stats.Updated, stats.Skipped, stats.Errors, stats.Duration)
	return nil
}
