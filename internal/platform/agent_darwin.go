//go:build darwin

package platform

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/untoldecay/checkpoint/internal/errs"
)

// launchdManager maps agent operations onto launchd user agents: a plist
// under ~/Library/LaunchAgents controlled with launchctl.
type launchdManager struct {
	agentsDir string
}

func newManager() (Manager, error) {
	if _, err := exec.LookPath("launchctl"); err != nil {
		return nil, errs.Wrap(errs.CodeCapNoManager, err, "launchctl not found")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, err
	}
	return &launchdManager{agentsDir: filepath.Join(home, "Library", "LaunchAgents")}, nil
}

func (m *launchdManager) plistPath(agent Agent) string {
	return filepath.Join(m.agentsDir, agent.Label()+".plist")
}

func (m *launchdManager) InstallAgent(agent Agent, executable string, args []string, env map[string]string, sched Schedule) error {
	if err := os.MkdirAll(m.agentsDir, 0o755); err != nil {
		return errs.Wrap(errs.CodePermWrite, err, "creating LaunchAgents directory")
	}

	var b strings.Builder
	b.WriteString("<?xml version=\"1.0\" encoding=\"UTF-8\"?>\n")
	b.WriteString("<!DOCTYPE plist PUBLIC \"-//Apple//DTD PLIST 1.0//EN\" \"http://www.apple.com/DTDs/PropertyList-1.0.dtd\">\n")
	b.WriteString("<plist version=\"1.0\">\n<dict>\n")
	fmt.Fprintf(&b, "  <key>Label</key><string>%s</string>\n", agent.Label())
	b.WriteString("  <key>ProgramArguments</key>\n  <array>\n")
	fmt.Fprintf(&b, "    <string>%s</string>\n", executable)
	for _, a := range args {
		fmt.Fprintf(&b, "    <string>%s</string>\n", a)
	}
	b.WriteString("  </array>\n")
	if len(env) > 0 {
		b.WriteString("  <key>EnvironmentVariables</key>\n  <dict>\n")
		for k, val := range env {
			fmt.Fprintf(&b, "    <key>%s</key><string>%s</string>\n", k, val)
		}
		b.WriteString("  </dict>\n")
	}
	if sched.KeepAlive {
		b.WriteString("  <key>KeepAlive</key><true/>\n")
	} else if sched.Interval > 0 {
		fmt.Fprintf(&b, "  <key>StartInterval</key><integer>%d</integer>\n", int(sched.Interval.Seconds()))
	}
	b.WriteString("  <key>RunAtLoad</key><true/>\n")
	b.WriteString("</dict>\n</plist>\n")

	path := m.plistPath(agent)
	if err := os.WriteFile(path, []byte(b.String()), 0o644); err != nil {
		return errs.Wrap(errs.CodePermWrite, err, "writing plist")
	}
	if out, err := exec.Command("launchctl", "load", "-w", path).CombinedOutput(); err != nil {
		return errs.Wrap(errs.CodeCapNoManager, err, strings.TrimSpace(string(out)))
	}
	return nil
}

func (m *launchdManager) RemoveAgent(agent Agent) error {
	path := m.plistPath(agent)
	// Unload before removing; an already-unloaded agent is fine.
	_ = exec.Command("launchctl", "unload", path).Run()
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return errs.Wrap(errs.CodePermWrite, err, "removing plist")
	}
	return nil
}

func (m *launchdManager) StartAgent(agent Agent) error {
	if out, err := exec.Command("launchctl", "start", agent.Label()).CombinedOutput(); err != nil {
		return errs.Wrap(errs.CodeCapNoManager, err, strings.TrimSpace(string(out)))
	}
	return nil
}

func (m *launchdManager) StopAgent(agent Agent) error {
	if out, err := exec.Command("launchctl", "stop", agent.Label()).CombinedOutput(); err != nil {
		return errs.Wrap(errs.CodeCapNoManager, err, strings.TrimSpace(string(out)))
	}
	return nil
}

func (m *launchdManager) StatusAgent(agent Agent) (AgentStatus, error) {
	out, err := exec.Command("launchctl", "list", agent.Label()).Output()
	if err != nil {
		if _, statErr := os.Stat(m.plistPath(agent)); statErr == nil {
			return StatusStopped, nil
		}
		return StatusUnknown, nil
	}
	// launchctl list prints a PID line when the job is running.
	if strings.Contains(string(out), "\"PID\"") {
		return StatusRunning, nil
	}
	return StatusStopped, nil
}
