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
)

var scheduleCmd = &cobra.Command{
	Use:   "schedule",
	Short: "Install or remove the periodic backup agent",
	Long: `Manage the interval-based backup agent for the current project.

The agent is the fallback when no watcher runs: it backs up on a fixed
interval, sweeps retention daily, and keeps an eye on the daemon fleet.
It is installed into the host's service manager (launchd or systemd
user units).

EXAMPLES:
  checkpoint schedule --install
  checkpoint schedule --install --interval 30m
  checkpoint schedule --remove`,
	Run: func(cmd *cobra.Command, args []string) {
		install, _ := cmd.Flags().GetBool("install")
		remove, _ := cmd.Flags().GetBool("remove")
		interval, _ := cmd.Flags().GetDuration("interval")

		if install == remove {
			fmt.Fprintln(os.Stderr, "Error: exactly one of --install or --remove is required")
			os.Exit(exitGeneric)
		}
		entry, _, err := projectState()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(exitConfig)
		}
		mgr, err := platform.NewManager()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(exitPlatform)
		}
		agent := platform.Agent{ProjectID: entry.ID, Kind: "agent"}

		if remove {
			if err := mgr.RemoveAgent(agent); err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				os.Exit(exitPlatform)
			}
			fmt.Println(ui.Pass("Periodic agent removed for " + entry.ID))
			return
		}

		env := agentEnv(entry.Root, interval)
		if interval <= 0 {
			interval = config.GetDuration("backup.interval")
		}
		exe, err := os.Executable()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(exitPlatform)
		}
		err = mgr.InstallAgent(agent, exe, []string{"schedule", "run"}, env,
			platform.Schedule{KeepAlive: true})
		if err == nil {
			err = mgr.StartAgent(agent)
		}
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(exitPlatform)
		}
		fmt.Println(ui.Pass(fmt.Sprintf("Periodic agent installed for %s (every %v)", entry.ID, interval)))
	},
}

// agentEnv builds the unit environment for the agent body. An explicit
// --interval rides along as a config override so the installed agent
// actually honors it.
func agentEnv(root string, interval time.Duration) map[string]string {
	env := map[string]string{"CHECKPOINT_PROJECT_ROOT": root}
	if interval > 0 {
		env["CHECKPOINT_BACKUP_INTERVAL"] = interval.String()
	}
	return env
}

// scheduleRunCmd is the agent body the service manager executes.
var scheduleRunCmd = &cobra.Command{
	Use:    "run",
	Hidden: true,
	Run: func(cmd *cobra.Command, args []string) {
		entry, st, err := projectState()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(exitConfig)
		}
		log := openLogger(st, false).WithPrefix("agent")
		defer log.Close()

		exec := newExecutor(entry, st, log)

		// The fleet watchdog rides this agent's supervision ticker, so a
		// crashed watcher is revived within minutes, not at the next daily
		// sweep. Platform manager absence just disables restarts, not the
		// agent itself.
		var watchdog *scheduler.Watchdog
		if reg, regErr := project.NewRegistry(); regErr == nil {
			mgr, _ := platform.NewManager()
			watchdog = &scheduler.Watchdog{
				Registry:  reg,
				StateRoot: state.DefaultRoot(),
				Version:   version,
				Manager:   mgr,
				Notifier:  newNotifier(st, log),
				Log:       log,
			}
		}

		agent := &scheduler.Agent{
			ProjectID: entry.ID,
			Version:   version,
			Interval:  config.GetDuration("backup.interval"),
			State:     st,
			Gates:     gatesFor(st),
			Run:       exec.Run,
			Sweep:     exec.Sweep,
			Log:       log,
		}
		if watchdog != nil {
			agent.Supervise = watchdog.Sweep
		}
		if err := agent.Loop(rootCtx); err != nil {
			log.Errorf("periodic agent: %v", err)
			os.Exit(exitGeneric)
		}
	},
}

func init() {
	scheduleCmd.Flags().Bool("install", false, "Install the periodic agent")
	scheduleCmd.Flags().Bool("remove", false, "Remove the periodic agent")
	scheduleCmd.Flags().Duration("interval", 0, "Backup interval (defaults to backup.interval)")
	scheduleCmd.AddCommand(scheduleRunCmd)
	rootCmd.AddCommand(scheduleCmd)
}
