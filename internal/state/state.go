// Package state owns every mutable state file checkpoint persists: backup
// time markers, session markers, heartbeats, PID files, and the global
// pause sentinel. It is the only package that writes state; other
// components read and request updates through it.
//
// Layout per user (overridable via CHECKPOINT_STATE_ROOT):
//
//	<state_root>/
//	  projects/<project-id>/
//	    last-backup-time
//	    current-session-time
//	    daemon.heartbeat
//	    backup-watcher.pid
//	    backup-daemon.pid
//	  .checkpoint-paused
//	  logs/backup.log{,.1..5}
package state

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// File names within a project state directory.
const (
	LastBackupFile  = "last-backup-time"
	SessionFile     = "current-session-time"
	HeartbeatFile   = "daemon.heartbeat"
	WatcherPIDFile  = "backup-watcher.pid"
	DaemonPIDFile   = "backup-daemon.pid"
	VersionFile     = "daemon.version"
	PauseSentinel   = ".checkpoint-paused"
)

// Store reads and writes state files for one project.
type Store struct {
	root      string
	projectID string
}

// DefaultRoot returns the per-user state root.
func DefaultRoot() string {
	if env := os.Getenv("CHECKPOINT_STATE_ROOT"); env != "" {
		return env
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), "checkpoint-state")
	}
	return filepath.Join(home, ".local", "state", "checkpoint")
}

// New creates a store rooted at root for the given project id, creating
// the project directory if needed.
func New(root, projectID string) (*Store, error) {
	s := &Store{root: root, projectID: projectID}
	if err := os.MkdirAll(s.ProjectDir(), 0o750); err != nil {
		return nil, fmt.Errorf("creating state directory: %w", err)
	}
	return s, nil
}

// Root returns the state root directory.
func (s *Store) Root() string { return s.root }

// ProjectDir returns this project's state directory.
func (s *Store) ProjectDir() string {
	return filepath.Join(s.root, "projects", s.projectID)
}

// LogDir returns the shared log directory.
func (s *Store) LogDir() string { return filepath.Join(s.root, "logs") }

// --- timestamp files ---

// readUnix reads a decimal Unix-seconds file, returning zero when the
// file is absent or malformed.
func (s *Store) readUnix(name string) time.Time {
	data, err := os.ReadFile(filepath.Join(s.ProjectDir(), name)) // #nosec G304 -- name is a package constant under the state dir
	if err != nil {
		return time.Time{}
	}
	secs, err := strconv.ParseInt(strings.TrimSpace(string(data)), 10, 64)
	if err != nil || secs <= 0 {
		return time.Time{}
	}
	return time.Unix(secs, 0)
}

// writeUnix atomically writes a decimal Unix-seconds file.
func (s *Store) writeUnix(name string, t time.Time) error {
	return atomicWrite(filepath.Join(s.ProjectDir(), name), []byte(fmt.Sprintf("%d\n", t.Unix())))
}

// LastBackupTime returns when the last successful backup finished, or the
// zero time when none is recorded.
func (s *Store) LastBackupTime() time.Time { return s.readUnix(LastBackupFile) }

// SetLastBackupTime records a successful backup. The marker is monotonic:
// attempts to rewind it are ignored.
func (s *Store) SetLastBackupTime(t time.Time) error {
	if prev := s.LastBackupTime(); !prev.IsZero() && t.Before(prev) {
		return nil
	}
	return s.writeUnix(LastBackupFile, t)
}

// SessionTime returns the last recorded activity timestamp.
func (s *Store) SessionTime() time.Time { return s.readUnix(SessionFile) }

// TouchSession refreshes the session marker to t.
func (s *Store) TouchSession(t time.Time) error { return s.writeUnix(SessionFile, t) }

// --- heartbeat ---

// Heartbeat bumps the heartbeat file's mtime, creating it if absent.
func (s *Store) Heartbeat() error {
	path := filepath.Join(s.ProjectDir(), HeartbeatFile)
	now := time.Now()
	if err := os.Chtimes(path, now, now); err == nil {
		return nil
	}
	return atomicWrite(path, []byte{})
}

// HeartbeatAge returns how long ago the heartbeat was bumped, and whether
// a heartbeat exists at all.
func (s *Store) HeartbeatAge() (time.Duration, bool) {
	st, err := os.Stat(filepath.Join(s.ProjectDir(), HeartbeatFile))
	if err != nil {
		return 0, false
	}
	return time.Since(st.ModTime()), true
}

// --- daemon version ---

// WriteVersion records the version of the daemon serving this project so
// the watchdog can restart stale daemons after an upgrade.
func (s *Store) WriteVersion(v string) error {
	return atomicWrite(filepath.Join(s.ProjectDir(), VersionFile), []byte(v+"\n"))
}

// Version returns the recorded daemon version, "" if absent.
func (s *Store) Version() string {
	data, err := os.ReadFile(filepath.Join(s.ProjectDir(), VersionFile)) // #nosec G304 -- fixed name under the state dir
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}

// --- PID files ---

// WritePID records "<pid>\n<marker>\n" for the named agent. The marker is
// matched against the live process's command line to guard against PID
// reuse.
func (s *Store) WritePID(name string, pid int, marker string) error {
	body := fmt.Sprintf("%d\n%s\n", pid, marker)
	return atomicWrite(filepath.Join(s.ProjectDir(), name), []byte(body))
}

// ReadPID returns the recorded PID and command marker for the named
// agent. pid is 0 when the file is absent or malformed.
func (s *Store) ReadPID(name string) (pid int, marker string) {
	data, err := os.ReadFile(filepath.Join(s.ProjectDir(), name)) // #nosec G304 -- name is a package constant under the state dir
	if err != nil {
		return 0, ""
	}
	lines := strings.SplitN(strings.TrimSpace(string(data)), "\n", 2)
	pid, err = strconv.Atoi(strings.TrimSpace(lines[0]))
	if err != nil {
		return 0, ""
	}
	if len(lines) > 1 {
		marker = strings.TrimSpace(lines[1])
	}
	return pid, marker
}

// RemovePID deletes the named PID file. Missing files are not an error.
func (s *Store) RemovePID(name string) error {
	err := os.Remove(filepath.Join(s.ProjectDir(), name))
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// --- pause sentinel ---

// Paused reports whether the system-wide pause sentinel exists.
func (s *Store) Paused() bool {
	_, err := os.Stat(filepath.Join(s.root, PauseSentinel))
	return err == nil
}

// Pause creates the sentinel suppressing all new backups.
func (s *Store) Pause() error {
	return atomicWrite(filepath.Join(s.root, PauseSentinel), []byte{})
}

// Resume removes the sentinel. Missing sentinel is not an error.
func (s *Store) Resume() error {
	err := os.Remove(filepath.Join(s.root, PauseSentinel))
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// atomicWrite writes data via temp-then-rename in the target directory.
func atomicWrite(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, ".state-*.tmp")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return err
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return err
	}
	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return err
	}
	return nil
}
