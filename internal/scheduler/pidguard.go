// Package scheduler runs the long-lived per-project processes: the file
// watcher daemon, the periodic backup agent, and the fleet watchdog that
// keeps both alive across every registered project.
package scheduler

import (
	"fmt"
	"os"
	"strings"

	"github.com/untoldecay/checkpoint/internal/errs"
	"github.com/untoldecay/checkpoint/internal/platform"
	"github.com/untoldecay/checkpoint/internal/state"
)

// Marker returns the command-line token identifying a daemon kind for a
// project. It is stored in the PID file and matched against the live
// process's command line, so a recycled PID belonging to an unrelated
// process is never mistaken for ours.
func Marker(kind, projectID string) string {
	return fmt.Sprintf("checkpoint-%s:%s", kind, projectID)
}

// DaemonAlive reports whether the PID recorded in the named file belongs
// to a live process whose command line carries the expected marker.
func DaemonAlive(st *state.Store, pidFile, marker string) (int, bool) {
	pid, recorded := st.ReadPID(pidFile)
	if pid <= 0 || recorded != marker {
		return 0, false
	}
	if !platform.PIDAlive(pid) {
		return 0, false
	}
	cmdline := platform.CmdlineByPID(pid)
	if cmdline != "" && !strings.Contains(cmdline, marker) && !strings.Contains(cmdline, "checkpoint") {
		return 0, false
	}
	return pid, true
}

// DaemonExpected reports whether the PID file claims the daemon slot
// for marker, alive or not. Clean shutdown removes the file, so a
// claimed slot with a dead PID means the daemon crashed.
func DaemonExpected(st *state.Store, pidFile, marker string) (int, bool) {
	pid, recorded := st.ReadPID(pidFile)
	return pid, pid > 0 && recorded == marker
}

// claimPIDFile writes this process's PID, refusing when a live daemon
// already owns the file. Stale files from dead processes are replaced.
func claimPIDFile(st *state.Store, pidFile, marker string) error {
	if pid, alive := DaemonAlive(st, pidFile, marker); alive {
		return errs.New(errs.CodeDaemonRunning, fmt.Sprintf("pid %d", pid))
	}
	return st.WritePID(pidFile, os.Getpid(), marker)
}
