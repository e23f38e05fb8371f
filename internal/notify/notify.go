// Package notify delivers user-facing alerts through the platform's
// notification sink, subject to quiet hours and repeat suppression.
package notify

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/untoldecay/checkpoint/internal/logging"
)

// Urgency orders notifications by how loudly they should interrupt.
type Urgency string

const (
	Critical Urgency = "critical"
	High     Urgency = "high"
	Medium   Urgency = "medium"
	Low      Urgency = "low"
)

// Notification is one alert.
type Notification struct {
	Urgency   Urgency
	Title     string
	Body      string
	ProjectID string
	Category  string
}

// Sink delivers a notification to the user.
type Sink interface {
	Deliver(n Notification) error
}

// Notifier applies delivery policy before handing a notification to the
// sink: quiet hours suppress non-critical alerts, and a repeated fault
// in the same (project, category) re-notifies only after RenotifyAfter.
type Notifier struct {
	Sink Sink

	// StampDir holds one mtime file per (project, category) recording
	// the last delivery, shared across processes.
	StampDir string

	// QuietHours is a daily "HH-HH" window; empty means none.
	QuietHours string

	RenotifyAfter time.Duration
	Now           func() time.Time
	Log           *logging.Logger
}

// Send delivers n unless policy suppresses it. Suppression is not an
// error; delivery failures are.
func (nf *Notifier) Send(n Notification) error {
	now := nf.now()
	if n.Urgency != Critical && inQuietHours(nf.QuietHours, now) {
		nf.logf("suppressed %s notification for %s (quiet hours %s)", n.Urgency, n.ProjectID, nf.QuietHours)
		return nil
	}
	if nf.RenotifyAfter > 0 && nf.StampDir != "" {
		if age, ok := nf.stampAge(n); ok && age < nf.RenotifyAfter {
			nf.logf("suppressed repeat %s/%s notification (last sent %v ago)", n.ProjectID, n.Category, age.Round(time.Second))
			return nil
		}
	}
	if err := nf.Sink.Deliver(n); err != nil {
		return fmt.Errorf("delivering notification: %w", err)
	}
	nf.touchStamp(n)
	return nil
}

// ClearFault forgets the repeat-suppression stamp for a (project,
// category), so the next occurrence notifies immediately.
func (nf *Notifier) ClearFault(projectID, category string) {
	if nf.StampDir == "" {
		return
	}
	_ = os.Remove(nf.stampPath(Notification{ProjectID: projectID, Category: category}))
}

func (nf *Notifier) stampPath(n Notification) string {
	name := fmt.Sprintf("%s-%s", n.ProjectID, n.Category)
	return filepath.Join(nf.StampDir, name)
}

func (nf *Notifier) stampAge(n Notification) (time.Duration, bool) {
	st, err := os.Stat(nf.stampPath(n))
	if err != nil {
		return 0, false
	}
	return nf.now().Sub(st.ModTime()), true
}

func (nf *Notifier) touchStamp(n Notification) {
	if nf.StampDir == "" {
		return
	}
	if err := os.MkdirAll(nf.StampDir, 0o750); err != nil {
		return
	}
	path := nf.stampPath(n)
	now := nf.now()
	if err := os.Chtimes(path, now, now); err != nil {
		_ = os.WriteFile(path, []byte{}, 0o644)
	}
}

func (nf *Notifier) now() time.Time {
	if nf.Now != nil {
		return nf.Now()
	}
	return time.Now()
}

func (nf *Notifier) logf(format string, args ...any) {
	if nf.Log != nil {
		nf.Log.Infof(format, args...)
	}
}

// inQuietHours reports whether t falls in the daily HH-HH window. The
// window may wrap midnight ("22-8"). Malformed specs read as no window.
func inQuietHours(spec string, t time.Time) bool {
	start, end, ok := parseQuietHours(spec)
	if !ok {
		return false
	}
	h := t.Hour()
	if start == end {
		return false
	}
	if start < end {
		return h >= start && h < end
	}
	return h >= start || h < end
}

func parseQuietHours(spec string) (start, end int, ok bool) {
	parts := strings.SplitN(strings.TrimSpace(spec), "-", 2)
	if len(parts) != 2 {
		return 0, 0, false
	}
	start, err := strconv.Atoi(strings.TrimSpace(parts[0]))
	if err != nil || start < 0 || start > 23 {
		return 0, 0, false
	}
	end, err = strconv.Atoi(strings.TrimSpace(parts[1]))
	if err != nil || end < 0 || end > 23 {
		return 0, 0, false
	}
	return start, end, true
}
