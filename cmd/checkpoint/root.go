package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/untoldecay/checkpoint/internal/backup"
	"github.com/untoldecay/checkpoint/internal/config"
	"github.com/untoldecay/checkpoint/internal/debounce"
	"github.com/untoldecay/checkpoint/internal/logging"
	"github.com/untoldecay/checkpoint/internal/notify"
	"github.com/untoldecay/checkpoint/internal/project"
	"github.com/untoldecay/checkpoint/internal/state"
)

// version is stamped at build time via -ldflags.
var version = "dev"

// Exit codes shared by the verbs. Stable: scripts and the menu-bar UI
// key off them.
const (
	exitOK       = 0
	exitGeneric  = 1
	exitConfig   = 2
	exitPlatform = 3
	exitLocked   = 5
	exitDegraded = 6
	exitBackup   = 7
)

var (
	rootCtx    context.Context
	jsonOutput bool
)

var rootCmd = &cobra.Command{
	Use:           "checkpoint",
	Short:         "Per-project automated backups",
	Long: `checkpoint watches your projects and backs them up continuously:
changed files, critical dotfiles, and every database it can discover,
with compression, optional encryption, verification, and retention.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return config.Initialize()
	},
}

// Execute runs the CLI, returning the process exit code.
func Execute(ctx context.Context) int {
	rootCtx = ctx
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return exitGeneric
	}
	return exitOK
}

// currentProject resolves the project containing the working directory.
// Registered projects keep their recorded identity; anything else gets a
// synthesized entry so ad-hoc use never requires registration first.
func currentProject() (project.Entry, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return project.Entry{}, err
	}
	reg, err := project.NewRegistry()
	if err == nil {
		if entry, found, err := reg.FindByRoot(cwd); err == nil && found {
			return entry, nil
		}
	}
	return project.Entry{ID: project.IDForRoot(cwd), Root: cwd}, nil
}

// backupDirFor resolves the backup destination for a project: the
// registry entry, then backup.dir, then the per-user default.
func backupDirFor(entry project.Entry) string {
	if entry.BackupDir != "" {
		return entry.BackupDir
	}
	if dir := config.GetPath("backup.dir"); dir != "" {
		return dir
	}
	home, err := os.UserHomeDir()
	if err != nil {
		home = os.TempDir()
	}
	return filepath.Join(home, ".checkpoint", "backups", entry.ID)
}

func openStore(entry project.Entry) (*state.Store, error) {
	return state.New(state.DefaultRoot(), entry.ID)
}

// openLogger opens the shared rotating log, echoing to stderr when the
// command runs in the foreground.
func openLogger(st *state.Store, echo bool) *logging.Logger {
	log, err := logging.Open(filepath.Join(st.LogDir(), "backup.log"), echo)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: cannot open log file: %v\n", err)
		return logging.Discard()
	}
	return log
}

func newNotifier(st *state.Store, log *logging.Logger) *notify.Notifier {
	sink, err := notify.NewPlatformSink()
	if err != nil {
		log.Warnf("notifications unavailable: %v", err)
		return nil
	}
	return &notify.Notifier{
		Sink:          sink,
		StampDir:      filepath.Join(st.Root(), "notify-stamps"),
		QuietHours:    config.GetString("notify.quiet_hours"),
		RenotifyAfter: time.Duration(config.GetInt("notify.renotify_hours")) * time.Hour,
		Log:           log,
	}
}

func newExecutor(entry project.Entry, st *state.Store, log *logging.Logger) *backup.Executor {
	return &backup.Executor{
		ProjectID: entry.ID,
		Root:      entry.Root,
		BackupDir: backupDirFor(entry),
		Settings:  backup.SettingsFromConfig(),
		State:     st,
		Log:       log,
		Notifier:  newNotifier(st, log),
	}
}

func gatesFor(st *state.Store) debounce.Gates {
	return debounce.Gates{
		State:             st,
		DriveVerification: config.GetBool("drive.verification_enabled"),
		DriveMarker:       config.GetPath("drive.marker_file"),
		Interval:          config.GetDuration("backup.interval"),
	}
}
