// Package debounce decides when a stream of change events becomes a
// backup: a trailing-edge quiet timer, the pre-dispatch gates, and
// session-idle detection.
package debounce

import (
	"os"
	"sync"
	"time"

	"github.com/untoldecay/checkpoint/internal/state"
)

// Debouncer coalesces bursts of triggers into one callback after a
// quiet period. Each Trigger restarts the timer; the callback fires
// only once the triggers stop for the full duration.
type Debouncer struct {
	mu       sync.Mutex
	duration time.Duration
	fn       func()
	timer    *time.Timer
}

// NewDebouncer creates a debouncer that calls fn after duration of
// quiet following the last Trigger.
func NewDebouncer(duration time.Duration, fn func()) *Debouncer {
	return &Debouncer{duration: duration, fn: fn}
}

// Trigger restarts the quiet timer.
func (d *Debouncer) Trigger() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = time.AfterFunc(d.duration, d.fn)
}

// Cancel stops any pending callback.
func (d *Debouncer) Cancel() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
}

// Reason says why a dispatch was declined. ReasonNone means all gates
// passed.
type Reason string

const (
	ReasonNone         Reason = ""
	ReasonPaused       Reason = "paused"
	ReasonDriveMissing Reason = "drive_missing"
	ReasonInterval     Reason = "interval"
)

// Gates evaluates the pre-dispatch checks in their fixed order: pause
// sentinel, drive marker, backup interval. The lock is not a gate here;
// the executor acquires it and fails fast on contention.
type Gates struct {
	State *state.Store

	// DriveVerification requires DriveMarker to exist before any backup.
	DriveVerification bool
	DriveMarker       string

	// Interval is the minimum spacing between automatic backups.
	Interval time.Duration

	// Now is the clock, overridable in tests.
	Now func() time.Time
}

// Check returns the first gate that declines, or ReasonNone. The
// interval gate is skipped when bypassInterval is set (force and
// new-session triggers).
func (g *Gates) Check(bypassInterval bool) Reason {
	if g.State.Paused() {
		return ReasonPaused
	}
	if g.DriveVerification {
		// No marker configured means the drive cannot be verified;
		// verification-on fails closed rather than silently passing.
		if g.DriveMarker == "" {
			return ReasonDriveMissing
		}
		if _, err := os.Stat(g.DriveMarker); err != nil {
			return ReasonDriveMissing
		}
	}
	if !bypassInterval && g.Interval > 0 {
		last := g.State.LastBackupTime()
		if !last.IsZero() && g.now().Sub(last) < g.Interval {
			return ReasonInterval
		}
	}
	return ReasonNone
}

func (g *Gates) now() time.Time {
	if g.Now != nil {
		return g.Now()
	}
	return time.Now()
}

// SessionMonitor detects the start of a new work session against the
// session marker file. A gap longer than the idle threshold means the
// developer came back, which warrants an immediate backup attempt.
type SessionMonitor struct {
	State         *state.Store
	IdleThreshold time.Duration
	Now           func() time.Time
}

// Observe records activity at the current instant and reports whether
// it begins a new session. The very first observation of a project is
// not a new session; there is nothing to catch up on yet.
func (m *SessionMonitor) Observe() (newSession bool, err error) {
	now := m.now()
	prev := m.State.SessionTime()
	if !prev.IsZero() && now.Sub(prev) > m.IdleThreshold {
		newSession = true
	}
	return newSession, m.State.TouchSession(now)
}

func (m *SessionMonitor) now() time.Time {
	if m.Now != nil {
		return m.Now()
	}
	return time.Now()
}
