package scheduler

import (
	"context"
	"fmt"
	"strings"
	"time"

	"golang.org/x/mod/semver"

	"github.com/untoldecay/checkpoint/internal/errs"
	"github.com/untoldecay/checkpoint/internal/logging"
	"github.com/untoldecay/checkpoint/internal/notify"
	"github.com/untoldecay/checkpoint/internal/platform"
	"github.com/untoldecay/checkpoint/internal/project"
	"github.com/untoldecay/checkpoint/internal/state"
)

// missedBeats is how many heartbeat intervals may pass before a daemon
// is declared dead.
const missedBeats = 3

// escalateAfter is how many consecutive failed restarts trigger a
// critical notification instead of another silent retry.
const escalateAfter = 3

// Watchdog sweeps every registered project, restarting daemons whose
// heartbeat went stale or whose recorded version predates the installed
// binary.
type Watchdog struct {
	Registry  *project.Registry
	StateRoot string
	Version   string
	Manager   platform.Manager
	Notifier  *notify.Notifier
	Log       *logging.Logger

	failures map[string]int
}

// Sweep examines every registered project once. It is safe to call from
// a cron schedule; state is kept across calls for escalation counting.
func (w *Watchdog) Sweep(ctx context.Context) {
	entries, err := w.Registry.List()
	if err != nil {
		w.Log.Errorf("watchdog: reading registry: %v", err)
		return
	}
	if w.failures == nil {
		w.failures = make(map[string]int)
	}
	for _, entry := range entries {
		select {
		case <-ctx.Done():
			return
		default:
		}
		w.checkProject(entry)
	}
}

func (w *Watchdog) checkProject(entry project.Entry) {
	st, err := state.New(w.StateRoot, entry.ID)
	if err != nil {
		w.Log.Errorf("watchdog: %s: %v", entry.ID, err)
		return
	}

	for _, kind := range []string{"watch", "agent"} {
		pidFile := state.WatcherPIDFile
		if kind == "agent" {
			pidFile = state.DaemonPIDFile
		}
		marker := Marker(kind, entry.ID)
		pid, expected := DaemonExpected(st, pidFile, marker)
		if !expected {
			// Nothing claims this daemon; it was never started or exited
			// cleanly. The watchdog only revives daemons that died.
			continue
		}

		if _, alive := DaemonAlive(st, pidFile, marker); !alive {
			w.Log.Warnf("watchdog: %s %s daemon (pid %d) is dead", entry.ID, kind, pid)
			w.restart(entry, st, kind, pidFile)
			continue
		}

		if stale, age := heartbeatStale(st); stale {
			w.Log.Warnf("watchdog: %s %s daemon (pid %d) heartbeat is %v old", entry.ID, kind, pid, age.Round(time.Second))
			w.restart(entry, st, kind, pidFile)
			continue
		}

		if w.versionStale(st.Version()) {
			w.Log.Infof("watchdog: %s %s daemon runs %s, installed %s; restarting", entry.ID, kind, st.Version(), w.Version)
			w.restart(entry, st, kind, pidFile)
		}
	}
}

func heartbeatStale(st *state.Store) (bool, time.Duration) {
	age, ok := st.HeartbeatAge()
	if !ok {
		return false, 0
	}
	return age > missedBeats*heartbeatEvery, age
}

// versionStale compares the daemon's recorded version against the
// installed one. Unparseable or missing versions never force a restart.
func (w *Watchdog) versionStale(running string) bool {
	if w.Version == "" || running == "" {
		return false
	}
	installed := canonical(w.Version)
	current := canonical(running)
	if !semver.IsValid(installed) || !semver.IsValid(current) {
		return false
	}
	return semver.Compare(current, installed) < 0
}

func canonical(v string) string {
	if !strings.HasPrefix(v, "v") {
		v = "v" + v
	}
	return v
}

// restart stops and restarts the platform agent for one daemon kind.
// Consecutive failures escalate to a critical notification; success
// resets the counter and clears any standing fault.
func (w *Watchdog) restart(entry project.Entry, st *state.Store, kind, pidFile string) {
	key := entry.ID + "/" + kind
	agent := platform.Agent{ProjectID: entry.ID, Kind: kind}

	err := w.restartAgent(agent, st, pidFile)
	if err == nil {
		w.Log.Infof("watchdog: restarted %s for %s", kind, entry.ID)
		w.failures[key] = 0
		if w.Notifier != nil {
			w.Notifier.ClearFault(entry.ID, string(errs.CategoryDaemon))
		}
		return
	}

	w.failures[key]++
	w.Log.Errorf("watchdog: restart %s for %s failed (%d consecutive): %v", kind, entry.ID, w.failures[key], err)
	if w.failures[key] >= escalateAfter && w.Notifier != nil {
		sendErr := w.Notifier.Send(notify.Notification{
			Urgency:   notify.Critical,
			Title:     "Checkpoint daemon down",
			Body:      fmt.Sprintf("The %s daemon for %s failed to restart %d times. Backups are not running.", kind, entry.ID, w.failures[key]),
			ProjectID: entry.ID,
			Category:  string(errs.CategoryDaemon),
		})
		if sendErr != nil {
			w.Log.Warnf("watchdog: notification: %v", sendErr)
		}
	}
}

func (w *Watchdog) restartAgent(agent platform.Agent, st *state.Store, pidFile string) error {
	if w.Manager == nil {
		return errs.New(errs.CodeCapNoManager, "no service manager")
	}
	if err := w.Manager.StopAgent(agent); err != nil {
		w.Log.Warnf("watchdog: stopping %s: %v", agent.Label(), err)
	}
	// A dead daemon may leave its PID file behind; clear it so the
	// replacement can claim the slot.
	_ = st.RemovePID(pidFile)
	return w.Manager.StartAgent(agent)
}
