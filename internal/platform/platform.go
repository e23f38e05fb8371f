// Package platform is the single place that branches on the host OS. It
// exposes daemon-manager operations, filesystem primitives, process
// inspection, and disk statistics behind a uniform interface; no other
// package may inspect runtime.GOOS.
package platform

import (
	"fmt"
	"os"
	"runtime"
	"time"
)

// AgentStatus is the tri-state result of StatusAgent.
type AgentStatus string

const (
	StatusRunning AgentStatus = "running"
	StatusStopped AgentStatus = "stopped"
	StatusUnknown AgentStatus = "unknown"
)

// Schedule declares when the service manager should run an agent: either
// on a fixed interval, or kept alive (restarted whenever it exits).
type Schedule struct {
	Interval  time.Duration
	KeepAlive bool
}

// Agent identifies one installed per-project agent.
type Agent struct {
	ProjectID string
	Kind      string // "watch" or "agent"
}

// Label returns the service-manager label for the agent.
func (a Agent) Label() string {
	return fmt.Sprintf("com.checkpoint.%s.%s", a.Kind, a.ProjectID)
}

// Manager installs and controls per-project agents through the host's
// service manager (launchd on darwin, systemd user units on linux).
type Manager interface {
	InstallAgent(agent Agent, executable string, args []string, env map[string]string, sched Schedule) error
	RemoveAgent(agent Agent) error
	StartAgent(agent Agent) error
	StopAgent(agent Agent) error
	StatusAgent(agent Agent) (AgentStatus, error)
}

// NewManager returns the service manager for this host, or a capability
// error when the platform has none. The per-OS implementation lives in
// the agent_* files.
func NewManager() (Manager, error) {
	return newManager()
}

// OS returns the host OS name for logs and status output.
func OS() string { return runtime.GOOS }

// MTime returns a file's modification time in Unix seconds, 0 if absent.
func MTime(path string) int64 {
	st, err := os.Stat(path)
	if err != nil {
		return 0
	}
	return st.ModTime().Unix()
}

// Size returns a file's size in bytes, 0 if absent.
func Size(path string) int64 {
	st, err := os.Stat(path)
	if err != nil {
		return 0
	}
	return st.Size()
}
