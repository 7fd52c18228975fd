package commands

import (
	"fmt"

	"github.com/manifoldco/promptui"
	"github.com/spf13/cobra"
)

var backupCmd = &cobra.Command{
	Use:   "backup",
	Short: "Snapshot the index database",
	RunE: func(cmd *cobra.Command, args []string) error {
		res, err := client().BackupSave()
		if err != nil {
			return err
		}
		fmt.Printf("backup saved: %s\n", res.Backup)
		for _, name := range res.Backups {
			fmt.Printf("  %s\n", name)
		}
		return nil
	},
}

var restoreCmd = &cobra.Command{
	Use:   "restore <backup-name>",
	Short: "Restore the index database from a backup",
	Long: `Replace the live index database with a named backup. Workers stop,
the files are swapped, and a rescan reconciles anything newer than the
backup.

Example:
  majoorctl restore assets-20260824-153000.sqlite`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := confirm(fmt.Sprintf("Restore %s over the live database", args[0])); err != nil {
			return err
		}
		if err := client().BackupRestore(args[0]); err != nil {
			return err
		}
		fmt.Println("restore complete")
		return nil
	},
}

var forceDeleteCmd = &cobra.Command{
	Use:   "force-delete",
	Short: "Drop and recreate the index database",
	Long: `Delete the index database files and recreate an empty schema. All
ratings and tags not mirrored to sidecars are lost. A rescan repopulates
the index afterwards.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := confirm("Drop the index database and rescan from scratch"); err != nil {
			return err
		}
		if err := client().ForceDelete(); err != nil {
			return err
		}
		fmt.Println("index database reset")
		return nil
	},
}

var cleanupCmd = &cobra.Command{
	Use:   "cleanup-case-duplicates",
	Short: "Collapse case-variant duplicate index rows",
	RunE: func(cmd *cobra.Command, args []string) error {
		res, err := client().CleanupCaseDuplicates()
		if err != nil {
			return err
		}
		fmt.Printf("%d groups collapsed, %d rows deleted\n", res.Groups, res.Deleted)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(backupCmd)
	rootCmd.AddCommand(restoreCmd)
	rootCmd.AddCommand(forceDeleteCmd)
	rootCmd.AddCommand(cleanupCmd)
}

// confirm prompts before a destructive operation.
func confirm(action string) error {
	prompt := promptui.Prompt{
		Label:     action,
		IsConfirm: true,
	}
	if _, err := prompt.Run(); err != nil {
		return fmt.Errorf("aborted")
	}
	return nil
}
