package cmd

import (
	"errors"
	"fmt"
	"path/filepath"
	"strconv"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/user/hostaudit/pkg/backup"
	"github.com/user/hostaudit/pkg/report"
)

var backupsCmd = &cobra.Command{
	Use:   "backups",
	Short: "List, prune and restore file snapshots taken before fixes",
}

var backupsListCmd = &cobra.Command{
	Use:   "list [path]",
	Short: "List snapshots, optionally of one file",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store := backup.NewOsStore(cfg.BackupDir)
		var (
			snaps []backup.Snapshot
			err   error
		)
		if len(args) == 1 {
			snaps, err = store.List(filepath.Clean(args[0]))
		} else {
			snaps, err = store.All()
		}
		if err != nil {
			return err
		}
		if len(snaps) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No snapshots.")
			return nil
		}

		var rows [][]string
		for _, s := range snaps {
			state := "file"
			if s.Absent {
				state = "absent"
			}
			rows = append(rows, []string{s.ID, s.Path, s.CapturedAt.Local().Format("2006-01-02 15:04:05"), state, strconv.FormatUint(uint64(s.Mode.Perm()), 8)})
		}
		table := tablewriter.NewWriter(cmd.OutOrStdout())
		table.Header([]string{"ID", "Path", "Captured", "State", "Mode"})
		if err := table.Bulk(rows); err != nil {
			return err
		}
		return table.Render()
	},
}

var backupsPruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Keep only the newest snapshots of every file",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		keep, _ := cmd.Flags().GetInt("keep")
		if keep < 1 {
			return usageError(errors.New("--keep must be at least 1"))
		}
		n, err := backup.NewOsStore(cfg.BackupDir).Prune(keep)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Removed %d snapshots.\n", n)
		return nil
	},
}

var backupsRestoreCmd = &cobra.Command{
	Use:   "restore <path>",
	Short: "Restore a file from its newest snapshot (or --id)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, _ := cmd.Flags().GetString("id")
		yes, _ := cmd.Flags().GetBool("yes")
		path := filepath.Clean(args[0])
		store := backup.NewOsStore(cfg.BackupDir)

		snap, err := store.Latest(path)
		if id != "" {
			snap, err = store.Load(id)
		}
		if errors.Is(err, backup.ErrSnapshotNotFound) {
			return usageError(err)
		}
		if err != nil {
			return err
		}
		if snap.Path != path {
			return usageError(fmt.Errorf("snapshot %s belongs to %s, not %s", snap.ID, snap.Path, path))
		}
		if snap.Payload == nil && !snap.Absent {
			if snap, err = store.Load(snap.ID); err != nil {
				return err
			}
		}

		if !yes {
			fmt.Fprintf(cmd.OutOrStdout(), "Restore %s from snapshot %s taken %s? [y/N] ",
				path, snap.ID, snap.CapturedAt.Local().Format("2006-01-02 15:04:05"))
			var answer string
			_, _ = fmt.Fscanln(cmd.InOrStdin(), &answer)
			if answer != "y" && answer != "yes" {
				fmt.Fprintln(cmd.OutOrStdout(), "Not restored.")
				return exitWith(report.ExitAborted)
			}
		}
		if err := store.Restore(snap); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Restored %s from %s.\n", path, snap.ID)
		return nil
	},
}

func init() {
	backupsPruneCmd.Flags().Int("keep", 5, "Snapshots to keep per file")
	backupsRestoreCmd.Flags().String("id", "", "Snapshot ID to restore instead of the newest")
	backupsRestoreCmd.Flags().BoolP("yes", "y", false, "Restore without asking")

	backupsCmd.AddCommand(backupsListCmd, backupsPruneCmd, backupsRestoreCmd)
	rootCmd.AddCommand(backupsCmd)
}
