package scheduler

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/untoldecay/checkpoint/internal/backup"
	"github.com/untoldecay/checkpoint/internal/debounce"
	"github.com/untoldecay/checkpoint/internal/logging"
	"github.com/untoldecay/checkpoint/internal/state"
)

// superviseEvery is the fleet-health cadence. It has to be much shorter
// than the heartbeat staleness threshold or a crashed watcher stays
// down for the whole gap.
const superviseEvery = 2 * time.Minute

// Agent is the periodic fallback: it backs up on a fixed interval even
// when no watcher is running, sweeps retention daily, and hosts the
// fleet supervision on its own short cadence.
type Agent struct {
	ProjectID string
	Version   string
	Interval  time.Duration

	State *state.Store
	Gates debounce.Gates
	Run   BackupFunc
	Sweep func()
	Log   *logging.Logger

	// Supervise runs the fleet health check every SuperviseEvery
	// (default 2m). Left nil when no service manager exists.
	Supervise      func(context.Context)
	SuperviseEvery time.Duration
}

// Loop claims the agent PID file and ticks until the context is
// cancelled. The heartbeat is bumped before and after each attempt so a
// slow backup never reads as a dead daemon.
func (a *Agent) Loop(ctx context.Context) error {
	marker := Marker("agent", a.ProjectID)
	if err := claimPIDFile(a.State, state.DaemonPIDFile, marker); err != nil {
		return err
	}
	defer func() { _ = a.State.RemovePID(state.DaemonPIDFile) }()

	if a.Version != "" {
		_ = a.State.WriteVersion(a.Version)
	}
	_ = a.State.Heartbeat()

	c := cron.New()
	if a.Sweep != nil {
		if _, err := c.AddFunc("@daily", a.Sweep); err != nil {
			return err
		}
		c.Start()
		defer c.Stop()
	}

	interval := a.Interval
	if interval <= 0 {
		interval = time.Hour
	}
	tick := time.NewTicker(interval)
	defer tick.Stop()
	beat := time.NewTicker(heartbeatEvery)
	defer beat.Stop()

	guardEvery := a.SuperviseEvery
	if guardEvery <= 0 {
		guardEvery = superviseEvery
	}
	guard := time.NewTicker(guardEvery)
	defer guard.Stop()

	a.Log.Infof("periodic agent started for %s (every %v)", a.ProjectID, interval)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-beat.C:
			_ = a.State.Heartbeat()
		case <-guard.C:
			if a.Supervise != nil {
				a.Supervise(ctx)
			}
		case <-tick.C:
			a.attempt(ctx)
		}
	}
}

func (a *Agent) attempt(ctx context.Context) {
	_ = a.State.Heartbeat()
	defer func() { _ = a.State.Heartbeat() }()

	if reason := a.Gates.Check(false); reason != debounce.ReasonNone {
		a.Log.Infof("interval backup gated: %s", reason)
		return
	}
	rec, err := a.Run(ctx, backup.CauseInterval, backup.Opts{})
	if err != nil {
		a.Log.Errorf("interval backup: %v", err)
		return
	}
	if rec.Outcome == backup.OutcomeSkipped && rec.SkipReason != "" {
		a.Log.Infof("interval backup skipped: %s", rec.SkipReason)
	}
}
