package main

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/olebedev/when"
	"github.com/olebedev/when/rules/common"
	"github.com/olebedev/when/rules/en"
	"github.com/spf13/cobra"

	"github.com/untoldecay/checkpoint/internal/lockfile"
	"github.com/untoldecay/checkpoint/internal/retention"
	"github.com/untoldecay/checkpoint/internal/ui"
)

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Run retention for the current project now",
	Long: `Plan and optionally apply retention for the current project's
backup artifacts.

By default the plan is previewed. --execute applies it. --age and --size
override the configured policy for this run only.

The retention floor (retention.keep_minimum) always holds: the newest
artifacts are never deleted, whatever the rules say.

EXAMPLES:
  checkpoint cleanup
  checkpoint cleanup --age "2 weeks ago" --execute
  checkpoint cleanup --size 500 --execute`,
	Run: func(cmd *cobra.Command, args []string) {
		execute, _ := cmd.Flags().GetBool("execute")
		preview, _ := cmd.Flags().GetBool("preview")
		ageSpec, _ := cmd.Flags().GetString("age")
		sizeMB, _ := cmd.Flags().GetInt("size")

		if execute && preview {
			fmt.Fprintln(os.Stderr, "Error: --execute and --preview are mutually exclusive")
			os.Exit(exitGeneric)
		}

		entry, st, err := projectState()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(exitConfig)
		}
		backupDir := backupDirFor(entry)

		dbPolicy := retention.PolicyFor("databases")
		filePolicy := retention.PolicyFor("files")
		days := 0
		if ageSpec != "" {
			days, err = parseAgeDays(ageSpec)
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				os.Exit(exitGeneric)
			}
		}
		overridePolicies(&dbPolicy, &filePolicy, days, sizeMB)

		floor := retention.Floor()
		now := time.Now()
		var plans []retention.Plan
		if arts, err := retention.ScanFiles(filepath.Join(backupDir, "databases")); err == nil {
			plans = append(plans, retention.PlanBucket("databases", arts, dbPolicy, floor, now))
		}
		if snaps, err := retention.ScanSnapshots(filepath.Join(backupDir, "archived")); err == nil {
			plans = append(plans, retention.PlanBucket("files", snaps, filePolicy, floor, now))
		}

		total := 0
		var freed int64
		for _, plan := range plans {
			for _, a := range plan.Delete {
				fmt.Printf("  %s  %s  (%d KB)\n", ui.Muted(plan.Bucket), a.Path, a.Size/1024)
			}
			total += len(plan.Delete)
			freed += plan.BytesFreed()
		}
		if total == 0 {
			fmt.Println(ui.Muted("Nothing to prune"))
			return
		}
		fmt.Printf("%d artifacts, %d MB\n", total, freed/(1024*1024))

		if !execute {
			fmt.Println(ui.Muted("Preview only. Re-run with --execute to delete."))
			return
		}
		if ui.IsTerminal() && !ui.PromptYesNo(fmt.Sprintf("Delete %d artifacts?", total), false) {
			fmt.Println(ui.Muted("Aborted"))
			return
		}

		lock, err := lockfile.Acquire(st.ProjectDir(), "cleanup")
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(exitLocked)
		}
		defer func() { _ = lock.Release() }()

		for _, plan := range plans {
			for _, applyErr := range retention.Apply(plan) {
				fmt.Fprintln(os.Stderr, ui.Warn(applyErr.Error()))
			}
		}
		fmt.Println(ui.Pass(fmt.Sprintf("Pruned %d artifacts, freed %d MB", total, freed/(1024*1024))))
	},
}

// overridePolicies applies the --age and --size flags on top of the
// configured policy for both buckets, for this run only.
func overridePolicies(dbPolicy, filePolicy *retention.Policy, days, sizeMB int) {
	if days > 0 {
		dbPolicy.TimeBasedDays, dbPolicy.TimeRuleOn = days, true
		filePolicy.TimeBasedDays, filePolicy.TimeRuleOn = days, true
	}
	if sizeMB > 0 {
		dbPolicy.SizeBasedMB = int64(sizeMB)
		filePolicy.SizeBasedMB = int64(sizeMB)
	}
}

// parseAgeDays turns "--age" input into a day count. Both natural
// language ("2 weeks ago") and plain day counts ("14") are accepted.
func parseAgeDays(spec string) (int, error) {
	var days int
	if _, err := fmt.Sscanf(spec, "%d", &days); err == nil && days > 0 {
		return days, nil
	}
	w := when.New(nil)
	w.Add(en.All...)
	w.Add(common.All...)
	result, err := w.Parse(spec, time.Now())
	if err != nil || result == nil {
		return 0, fmt.Errorf("cannot parse age %q (try \"2 weeks ago\" or a day count)", spec)
	}
	age := time.Since(result.Time)
	if age <= 0 {
		return 0, fmt.Errorf("age %q is in the future", spec)
	}
	return int(age.Hours() / 24), nil
}

func init() {
	cleanupCmd.Flags().Bool("execute", false, "Apply the retention plan")
	cleanupCmd.Flags().Bool("preview", false, "Only show the plan (default)")
	cleanupCmd.Flags().String("age", "", "Delete artifacts older than this (natural language or days)")
	cleanupCmd.Flags().Int("size", 0, "Cap each bucket at this many MB for this run")
	rootCmd.AddCommand(cleanupCmd)
}
