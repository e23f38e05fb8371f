package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/untoldecay/checkpoint/internal/backup"
	"github.com/untoldecay/checkpoint/internal/project"
	"github.com/untoldecay/checkpoint/internal/scheduler"
	"github.com/untoldecay/checkpoint/internal/state"
	"github.com/untoldecay/checkpoint/internal/ui"
)

// projectStatus is the machine-readable status of one project. The
// menu-bar UI consumes this via --json, so field names are stable.
type projectStatus struct {
	ID           string     `json:"id"`
	Root         string     `json:"root"`
	BackupDir    string     `json:"backup_dir"`
	LastBackup   *time.Time `json:"last_backup,omitempty"`
	Watcher      string     `json:"watcher"`
	Agent        string     `json:"agent"`
	HeartbeatAge string     `json:"heartbeat_age,omitempty"`
	Paused       bool       `json:"paused"`
	LastOutcome  string     `json:"last_outcome,omitempty"`
	LastError    string     `json:"last_error,omitempty"`
	Health       string     `json:"health"`
	Detail       string     `json:"detail,omitempty"`
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show backup health for every registered project",
	Run: func(cmd *cobra.Command, args []string) {
		verbose, _ := cmd.Flags().GetBool("verbose")

		reg, err := project.NewRegistry()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(exitConfig)
		}
		entries, err := reg.List()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(exitConfig)
		}

		statuses := make([]projectStatus, 0, len(entries))
		unhealthy := false
		for _, entry := range entries {
			ps := statusFor(entry)
			if ps.Health == "fail" {
				unhealthy = true
			}
			statuses = append(statuses, ps)
		}

		if jsonOutput {
			out, _ := json.MarshalIndent(statuses, "", "  ")
			fmt.Println(string(out))
		} else {
			rows := make([]ui.ProjectRow, 0, len(statuses))
			for _, ps := range statuses {
				var last time.Time
				if ps.LastBackup != nil {
					last = *ps.LastBackup
				}
				rows = append(rows, ui.ProjectRow{
					ID:         ps.ID,
					Root:       ps.Root,
					LastBackup: last,
					Daemon:     ps.Watcher,
					Health:     ps.Health,
					Detail:     ps.Detail,
				})
			}
			fmt.Println(ui.RenderProjectTable(rows, ui.GetWidth()))
			if verbose {
				for _, ps := range statuses {
					printVerbose(ps)
				}
			}
		}

		if unhealthy {
			os.Exit(exitDegraded)
		}
	},
}

func statusFor(entry project.Entry) projectStatus {
	ps := projectStatus{ID: entry.ID, Root: entry.Root, BackupDir: backupDirFor(entry), Health: "ok"}

	st, err := state.New(state.DefaultRoot(), entry.ID)
	if err != nil {
		ps.Health = "fail"
		ps.Detail = err.Error()
		return ps
	}
	ps.Paused = st.Paused()

	if t := st.LastBackupTime(); !t.IsZero() {
		ps.LastBackup = &t
	}
	ps.Watcher = daemonState(st, state.WatcherPIDFile, scheduler.Marker("watch", entry.ID))
	ps.Agent = daemonState(st, state.DaemonPIDFile, scheduler.Marker("agent", entry.ID))
	if age, ok := st.HeartbeatAge(); ok {
		ps.HeartbeatAge = age.Round(time.Second).String()
		if ps.Watcher == "running" && age > 3*time.Minute {
			ps.Watcher = "stale"
		}
	}

	// The executor checkpoint carries the last run's outcome and error.
	if rec, ok := readRecord(ps.BackupDir); ok {
		ps.LastOutcome = string(rec.Outcome)
		ps.LastError = rec.Error
		switch rec.Outcome {
		case backup.OutcomeFailed:
			ps.Health = "fail"
			ps.Detail = rec.Error
		case backup.OutcomePartial:
			ps.Health = "warn"
			ps.Detail = "last backup partial"
		}
	}

	if ps.Health == "ok" && ps.LastBackup == nil && !ps.Paused {
		ps.Health = "warn"
		ps.Detail = "never backed up"
	}
	return ps
}

func daemonState(st *state.Store, pidFile, marker string) string {
	if _, alive := scheduler.DaemonAlive(st, pidFile, marker); alive {
		return "running"
	}
	return "stopped"
}

func readRecord(backupDir string) (backup.Record, bool) {
	var rec backup.Record
	data, err := os.ReadFile(filepath.Join(backupDir, ".backup-state")) // #nosec G304 -- fixed name under the backup dir
	if err != nil {
		return rec, false
	}
	if err := json.Unmarshal(data, &rec); err != nil {
		return rec, false
	}
	return rec, true
}

func printVerbose(ps projectStatus) {
	fmt.Println(ui.Accent(ps.ID))
	fmt.Printf("  root:        %s\n", ps.Root)
	fmt.Printf("  destination: %s\n", ps.BackupDir)
	fmt.Printf("  watcher:     %s    agent: %s\n", ps.Watcher, ps.Agent)
	if ps.HeartbeatAge != "" {
		fmt.Printf("  heartbeat:   %s ago\n", ps.HeartbeatAge)
	}
	if ps.LastOutcome != "" {
		fmt.Printf("  last run:    %s\n", ps.LastOutcome)
	}
	if ps.LastError != "" {
		fmt.Println("  " + ui.Fail("error: "+ps.LastError))
	}
	if ps.Paused {
		fmt.Println("  " + ui.Warn("backups are paused"))
	}
	fmt.Println()
}

func init() {
	statusCmd.Flags().BoolVar(&jsonOutput, "json", false, "Emit machine-readable JSON")
	statusCmd.Flags().Bool("verbose", false, "Show per-project details")
	rootCmd.AddCommand(statusCmd)
}
