//go:build unix

package platform

import (
	"os"
	"syscall"
)

// PIDAlive reports whether a process with the given PID exists. Signal 0
// probes without delivering anything; EPERM still means the PID is live.
func PIDAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	err = proc.Signal(syscall.Signal(0))
	if err == nil {
		return true
	}
	return err == syscall.EPERM
}
