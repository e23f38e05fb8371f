package main

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/untoldecay/checkpoint/internal/backup"
	"github.com/untoldecay/checkpoint/internal/errs"
	"github.com/untoldecay/checkpoint/internal/lockfile"
	"github.com/untoldecay/checkpoint/internal/ui"
)

var nowCmd = &cobra.Command{
	Use:   "now",
	Short: "Back up the current project immediately",
	Long: `Run one backup of the project containing the working directory.

A manual run bypasses the change-skip and the minimum interval with
--force, but never bypasses the operation lock, the drive marker, or a
critically full disk.

EXAMPLES:
  checkpoint now
  checkpoint now --force
  checkpoint now --db-only --local-only
  checkpoint now --dry-run`,
	Run: func(cmd *cobra.Command, args []string) {
		force, _ := cmd.Flags().GetBool("force")
		localOnly, _ := cmd.Flags().GetBool("local-only")
		dbOnly, _ := cmd.Flags().GetBool("db-only")
		dryRun, _ := cmd.Flags().GetBool("dry-run")

		entry, err := currentProject()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(exitConfig)
		}
		st, err := openStore(entry)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(exitConfig)
		}
		log := openLogger(st, true)
		defer log.Close()

		exec := newExecutor(entry, st, log)
		rec, err := exec.Run(rootCtx, backup.CauseManual, backup.Opts{
			Force:     force,
			LocalOnly: localOnly,
			DBOnly:    dbOnly,
			DryRun:    dryRun,
		})
		if err != nil {
			var contended *lockfile.ErrContended
			if errors.As(err, &contended) {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				os.Exit(exitLocked)
			}
			desc, fix := errs.Describe(errs.CodeOf(err))
			fmt.Fprintln(os.Stderr, ui.Fail("Backup failed: "+desc))
			fmt.Fprintln(os.Stderr, ui.Muted("  "+fix))
			os.Exit(exitBackup)
		}

		switch rec.Outcome {
		case backup.OutcomeSkipped:
			fmt.Println(ui.Muted("Nothing to do: " + rec.SkipReason))
		case backup.OutcomePartial:
			fmt.Println(ui.Warn(fmt.Sprintf("Backup partial: %d files, %d databases, %d bytes (see log)",
				rec.FilesChanged, len(rec.Databases), rec.BytesWritten)))
			os.Exit(exitBackup)
		case backup.OutcomeFailed:
			fmt.Println(ui.Fail("Backup failed: " + rec.Error))
			os.Exit(exitBackup)
		default:
			fmt.Println(ui.Pass(fmt.Sprintf("Backup complete: %d files, %d databases, %d bytes in %s",
				rec.FilesChanged, len(rec.Databases), rec.BytesWritten,
				rec.End.Sub(rec.Start).Round(time.Millisecond))))
		}
	},
}

func init() {
	nowCmd.Flags().Bool("force", false, "Back up even when no changes were detected")
	nowCmd.Flags().Bool("local-only", false, "Skip cloud and remote mirroring")
	nowCmd.Flags().Bool("db-only", false, "Dump databases only, skip the file phase")
	nowCmd.Flags().Bool("dry-run", false, "Report what would be backed up without writing")
	rootCmd.AddCommand(nowCmd)
}
