package scheduler

import (
	"context"
	"time"

	"github.com/untoldecay/checkpoint/internal/backup"
	"github.com/untoldecay/checkpoint/internal/debounce"
	"github.com/untoldecay/checkpoint/internal/logging"
	"github.com/untoldecay/checkpoint/internal/state"
	"github.com/untoldecay/checkpoint/internal/watcher"
)

// BackupFunc runs one backup attempt. Daemons depend on this signature
// rather than on the executor so tests can substitute a recorder.
type BackupFunc func(ctx context.Context, cause backup.Cause, opts backup.Opts) (backup.Record, error)

// heartbeatEvery is how often an idle daemon proves liveness. The
// watchdog tolerates three missed beats before declaring it dead.
const heartbeatEvery = time.Minute

// WatchDaemon ties the file watcher, the session monitor, and the
// debouncer to the backup executor for one project.
type WatchDaemon struct {
	ProjectID     string
	Root          string
	Version       string
	Debounce      time.Duration
	IdleThreshold time.Duration
	WatchOpts     watcher.Options

	State *state.Store
	Gates debounce.Gates
	Run   BackupFunc
	Log   *logging.Logger
}

// Loop claims the watcher PID file and processes change events until the
// context is cancelled. Subscription loss degrades to a watcher restart;
// two consecutive losses fall back to polling.
func (d *WatchDaemon) Loop(ctx context.Context) error {
	marker := Marker("watch", d.ProjectID)
	if err := claimPIDFile(d.State, state.WatcherPIDFile, marker); err != nil {
		return err
	}
	defer func() { _ = d.State.RemovePID(state.WatcherPIDFile) }()

	if d.Version != "" {
		_ = d.State.WriteVersion(d.Version)
	}
	_ = d.State.Heartbeat()

	monitor := &debounce.SessionMonitor{State: d.State, IdleThreshold: d.IdleThreshold}
	deb := debounce.NewDebouncer(d.Debounce, func() { d.fire(ctx, backup.CauseWatcher) })
	defer deb.Cancel()

	w, err := watcher.New(d.Root, d.WatchOpts)
	if err != nil {
		return err
	}
	if err := w.Start(ctx); err != nil {
		return err
	}
	defer func() {
		if w != nil {
			_ = w.Close()
		}
	}()
	d.Log.Infof("watching %s (%s backend)", d.Root, w.Backend())

	beat := time.NewTicker(heartbeatEvery)
	defer beat.Stop()

	losses := 0
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-beat.C:
			_ = d.State.Heartbeat()
		case <-w.Events():
			_ = d.State.Heartbeat()
			newSession, err := monitor.Observe()
			if err != nil {
				d.Log.Warnf("session marker: %v", err)
			}
			if newSession {
				// Returning after an idle gap backs up immediately
				// rather than waiting out the debounce window.
				d.Log.Infof("new session detected after idle gap")
				deb.Cancel()
				d.fire(ctx, backup.CauseSession)
				continue
			}
			deb.Trigger()
		case err := <-w.Errors():
			d.Log.Warnf("watch degraded: %v", err)
			_ = w.Close()
			losses++
			w, err = d.restartWatcher(ctx, losses >= 2)
			if err != nil {
				return err
			}
		}
	}
}

// restartWatcher rebuilds the watch after subscription loss. A second
// consecutive loss gives up on notification and pins the polling
// backend for the rest of this daemon's life.
func (d *WatchDaemon) restartWatcher(ctx context.Context, forcePoll bool) (*watcher.Watcher, error) {
	opts := d.WatchOpts
	if forcePoll {
		opts.ForcePoll = true
		opts.ForceNative = false
		d.Log.Warnf("repeated subscription loss; pinning the polling backend")
	}
	w, err := watcher.New(d.Root, opts)
	if err == nil {
		if err = w.Start(ctx); err == nil {
			d.Log.Infof("watch restarted (%s backend)", w.Backend())
			return w, nil
		}
		_ = w.Close()
	}
	return nil, err
}

func (d *WatchDaemon) fire(ctx context.Context, cause backup.Cause) {
	// A session-start backup skips the interval gate: coming back after
	// an idle gap deserves an immediate checkpoint.
	if reason := d.Gates.Check(cause == backup.CauseSession); reason != debounce.ReasonNone {
		d.Log.Infof("backup gated: %s", reason)
		return
	}
	rec, err := d.Run(ctx, cause, backup.Opts{})
	if err != nil {
		d.Log.Errorf("backup: %v", err)
		return
	}
	if rec.Outcome == backup.OutcomeSkipped && rec.SkipReason != "" {
		d.Log.Infof("backup skipped: %s", rec.SkipReason)
	}
}
