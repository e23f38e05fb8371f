package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/untoldecay/checkpoint/internal/config"
	"github.com/untoldecay/checkpoint/internal/platform"
	"github.com/untoldecay/checkpoint/internal/project"
	"github.com/untoldecay/checkpoint/internal/scheduler"
	"github.com/untoldecay/checkpoint/internal/state"
	"github.com/untoldecay/checkpoint/internal/ui"
	"github.com/untoldecay/checkpoint/internal/watcher"
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Manage the file watcher for the current project",
}

var watchStartCmd = &cobra.Command{
	Use:   "start",
	Short: "Install and start the watcher daemon",
	Run: func(cmd *cobra.Command, args []string) {
		foreground, _ := cmd.Flags().GetBool("foreground")
		entry, st, err := projectState()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(exitConfig)
		}

		if _, alive := scheduler.DaemonAlive(st, state.WatcherPIDFile, scheduler.Marker("watch", entry.ID)); alive {
			fmt.Fprintln(os.Stderr, ui.Warn("Watcher already running for "+entry.ID))
			os.Exit(exitGeneric)
		}

		if foreground {
			os.Exit(runWatchLoop())
		}

		mgr, err := platform.NewManager()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(exitPlatform)
		}
		exe, err := os.Executable()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(exitPlatform)
		}
		agent := platform.Agent{ProjectID: entry.ID, Kind: "watch"}
		err = mgr.InstallAgent(agent, exe, []string{"watch", "run"},
			map[string]string{"CHECKPOINT_PROJECT_ROOT": entry.Root},
			platform.Schedule{KeepAlive: true})
		if err == nil {
			err = mgr.StartAgent(agent)
		}
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(exitPlatform)
		}
		fmt.Println(ui.Pass("Watcher started for " + entry.ID))
	},
}

var watchStopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the watcher daemon",
	Run: func(cmd *cobra.Command, args []string) {
		entry, st, err := projectState()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(exitConfig)
		}
		if _, alive := scheduler.DaemonAlive(st, state.WatcherPIDFile, scheduler.Marker("watch", entry.ID)); !alive {
			fmt.Fprintln(os.Stderr, ui.Muted("Watcher is not running for "+entry.ID))
			os.Exit(exitGeneric)
		}
		mgr, err := platform.NewManager()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(exitPlatform)
		}
		agent := platform.Agent{ProjectID: entry.ID, Kind: "watch"}
		if err := mgr.StopAgent(agent); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(exitPlatform)
		}
		_ = st.RemovePID(state.WatcherPIDFile)
		fmt.Println(ui.Pass("Watcher stopped for " + entry.ID))
	},
}

var watchStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Report whether the watcher daemon is running",
	Run: func(cmd *cobra.Command, args []string) {
		entry, st, err := projectState()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(exitConfig)
		}
		pid, alive := scheduler.DaemonAlive(st, state.WatcherPIDFile, scheduler.Marker("watch", entry.ID))
		if !alive {
			fmt.Println(ui.Muted("Watcher not running for " + entry.ID))
			return
		}
		age, ok := st.HeartbeatAge()
		beat := "no heartbeat"
		if ok {
			beat = "last heartbeat " + age.Round(time.Second).String() + " ago"
		}
		fmt.Println(ui.Pass(fmt.Sprintf("Watcher running for %s (pid %d, %s)", entry.ID, pid, beat)))
	},
}

// watchRunCmd is the daemon body launchd/systemd executes. Hidden: users
// go through "watch start".
var watchRunCmd = &cobra.Command{
	Use:    "run",
	Hidden: true,
	Run: func(cmd *cobra.Command, args []string) {
		os.Exit(runWatchLoop())
	},
}

func runWatchLoop() int {
	entry, st, err := projectState()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return exitConfig
	}
	log := openLogger(st, false).WithPrefix("watch")
	defer log.Close()

	exec := newExecutor(entry, st, log)
	daemon := &scheduler.WatchDaemon{
		ProjectID:     entry.ID,
		Root:          entry.Root,
		Version:       version,
		Debounce:      config.GetDuration("backup.debounce_seconds"),
		IdleThreshold: config.GetDuration("backup.session_idle_threshold"),
		WatchOpts: watcher.Options{
			Excludes:     config.GetStringSlice("watch.exclude"),
			PollInterval: config.GetDuration("watch.poll_interval"),
			Log:          log,
		},
		State: st,
		Gates: gatesFor(st),
		Run:   exec.Run,
		Log:   log,
	}
	if err := daemon.Loop(rootCtx); err != nil {
		log.Errorf("watch daemon: %v", err)
		return exitGeneric
	}
	return exitOK
}

// projectState resolves the project and opens its state store. The
// CHECKPOINT_PROJECT_ROOT override lets installed agents run outside the
// project working directory.
func projectState() (entry project.Entry, st *state.Store, err error) {
	if root := os.Getenv("CHECKPOINT_PROJECT_ROOT"); root != "" {
		if chErr := os.Chdir(root); chErr != nil {
			return entry, nil, chErr
		}
	}
	entry, err = currentProject()
	if err != nil {
		return entry, nil, err
	}
	st, err = openStore(entry)
	return entry, st, err
}

func init() {
	watchStartCmd.Flags().Bool("foreground", false, "Run the watcher in the foreground instead of installing an agent")
	watchCmd.AddCommand(watchStartCmd)
	watchCmd.AddCommand(watchStopCmd)
	watchCmd.AddCommand(watchStatusCmd)
	watchCmd.AddCommand(watchRunCmd)
	rootCmd.AddCommand(watchCmd)
}
