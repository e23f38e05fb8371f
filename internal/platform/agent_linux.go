//go:build linux

package platform

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/untoldecay/checkpoint/internal/errs"
)

// systemdManager maps agent operations onto systemd user units. Interval
// schedules become a timer unit; keep-alive becomes Restart=always.
type systemdManager struct {
	unitDir string
}

func newManager() (Manager, error) {
	if _, err := exec.LookPath("systemctl"); err != nil {
		return nil, errs.Wrap(errs.CodeCapNoManager, err, "systemctl not found")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, err
	}
	return &systemdManager{unitDir: filepath.Join(home, ".config", "systemd", "user")}, nil
}

func (m *systemdManager) unitName(agent Agent) string { return agent.Label() + ".service" }
func (m *systemdManager) timerName(agent Agent) string { return agent.Label() + ".timer" }

func (m *systemdManager) InstallAgent(agent Agent, executable string, args []string, env map[string]string, sched Schedule) error {
	if err := os.MkdirAll(m.unitDir, 0o755); err != nil {
		return errs.Wrap(errs.CodePermWrite, err, "creating systemd user directory")
	}

	var b strings.Builder
	b.WriteString("[Unit]\n")
	fmt.Fprintf(&b, "Description=checkpoint %s agent for %s\n\n", agent.Kind, agent.ProjectID)
	b.WriteString("[Service]\n")
	fmt.Fprintf(&b, "ExecStart=%s %s\n", executable, strings.Join(args, " "))
	for k, val := range env {
		fmt.Fprintf(&b, "Environment=%s=%s\n", k, val)
	}
	if sched.KeepAlive {
		b.WriteString("Restart=always\nRestartSec=5\n")
	} else {
		b.WriteString("Type=oneshot\n")
	}
	b.WriteString("\n[Install]\nWantedBy=default.target\n")

	unitPath := filepath.Join(m.unitDir, m.unitName(agent))
	if err := os.WriteFile(unitPath, []byte(b.String()), 0o644); err != nil {
		return errs.Wrap(errs.CodePermWrite, err, "writing unit file")
	}

	if !sched.KeepAlive && sched.Interval > 0 {
		var tb strings.Builder
		tb.WriteString("[Unit]\n")
		fmt.Fprintf(&tb, "Description=checkpoint %s timer for %s\n\n", agent.Kind, agent.ProjectID)
		tb.WriteString("[Timer]\n")
		fmt.Fprintf(&tb, "OnUnitActiveSec=%ds\nOnBootSec=60s\n\n", int(sched.Interval.Seconds()))
		tb.WriteString("[Install]\nWantedBy=timers.target\n")
		timerPath := filepath.Join(m.unitDir, m.timerName(agent))
		if err := os.WriteFile(timerPath, []byte(tb.String()), 0o644); err != nil {
			return errs.Wrap(errs.CodePermWrite, err, "writing timer file")
		}
	}

	if out, err := exec.Command("systemctl", "--user", "daemon-reload").CombinedOutput(); err != nil {
		return errs.Wrap(errs.CodeCapNoManager, err, strings.TrimSpace(string(out)))
	}
	target := m.unitName(agent)
	if !sched.KeepAlive && sched.Interval > 0 {
		target = m.timerName(agent)
	}
	if out, err := exec.Command("systemctl", "--user", "enable", "--now", target).CombinedOutput(); err != nil {
		return errs.Wrap(errs.CodeCapNoManager, err, strings.TrimSpace(string(out)))
	}
	return nil
}

func (m *systemdManager) RemoveAgent(agent Agent) error {
	_ = exec.Command("systemctl", "--user", "disable", "--now", m.timerName(agent)).Run()
	_ = exec.Command("systemctl", "--user", "disable", "--now", m.unitName(agent)).Run()
	for _, name := range []string{m.unitName(agent), m.timerName(agent)} {
		if err := os.Remove(filepath.Join(m.unitDir, name)); err != nil && !os.IsNotExist(err) {
			return errs.Wrap(errs.CodePermWrite, err, "removing unit file")
		}
	}
	_ = exec.Command("systemctl", "--user", "daemon-reload").Run()
	return nil
}

func (m *systemdManager) StartAgent(agent Agent) error {
	if out, err := exec.Command("systemctl", "--user", "start", m.unitName(agent)).CombinedOutput(); err != nil {
		return errs.Wrap(errs.CodeCapNoManager, err, strings.TrimSpace(string(out)))
	}
	return nil
}

func (m *systemdManager) StopAgent(agent Agent) error {
	if out, err := exec.Command("systemctl", "--user", "stop", m.unitName(agent)).CombinedOutput(); err != nil {
		return errs.Wrap(errs.CodeCapNoManager, err, strings.TrimSpace(string(out)))
	}
	return nil
}

func (m *systemdManager) StatusAgent(agent Agent) (AgentStatus, error) {
	out, err := exec.Command("systemctl", "--user", "is-active", m.unitName(agent)).Output()
	status := strings.TrimSpace(string(out))
	switch status {
	case "active", "activating":
		return StatusRunning, nil
	case "inactive", "failed", "deactivating":
		return StatusStopped, nil
	}
	if err != nil {
		return StatusUnknown, nil
	}
	return StatusUnknown, nil
}
