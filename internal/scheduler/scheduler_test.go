package scheduler

import (
	"context"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/untoldecay/checkpoint/internal/backup"
	"github.com/untoldecay/checkpoint/internal/debounce"
	"github.com/untoldecay/checkpoint/internal/logging"
	"github.com/untoldecay/checkpoint/internal/platform"
	"github.com/untoldecay/checkpoint/internal/project"
	"github.com/untoldecay/checkpoint/internal/state"
	"github.com/untoldecay/checkpoint/internal/watcher"
)

// fakeManager records start/stop calls in place of launchd/systemd.
type fakeManager struct {
	started []string
	stopped []string
}

func (m *fakeManager) InstallAgent(platform.Agent, string, []string, map[string]string, platform.Schedule) error {
	return nil
}
func (m *fakeManager) RemoveAgent(platform.Agent) error { return nil }
func (m *fakeManager) StartAgent(a platform.Agent) error {
	m.started = append(m.started, a.Label())
	return nil
}
func (m *fakeManager) StopAgent(a platform.Agent) error {
	m.stopped = append(m.stopped, a.Label())
	return nil
}
func (m *fakeManager) StatusAgent(platform.Agent) (platform.AgentStatus, error) {
	return platform.StatusUnknown, nil
}

func newStore(t *testing.T) *state.Store {
	t.Helper()
	st, err := state.New(t.TempDir(), "demo")
	if err != nil {
		t.Fatal(err)
	}
	return st
}

func TestMarker(t *testing.T) {
	if got := Marker("watch", "my-app"); got != "checkpoint-watch:my-app" {
		t.Fatalf("unexpected marker %q", got)
	}
}

func TestClaimPIDFileReplacesStale(t *testing.T) {
	st := newStore(t)
	marker := Marker("agent", "demo")

	// A PID that cannot be alive.
	if err := st.WritePID(state.DaemonPIDFile, 1<<30, marker); err != nil {
		t.Fatal(err)
	}
	if err := claimPIDFile(st, state.DaemonPIDFile, marker); err != nil {
		t.Fatalf("stale PID should be reclaimed: %v", err)
	}
	pid, _ := st.ReadPID(state.DaemonPIDFile)
	if pid != os.Getpid() {
		t.Fatalf("expected our pid, got %d", pid)
	}
}

func TestClaimPIDFileRefusesLiveDaemon(t *testing.T) {
	st := newStore(t)
	marker := Marker("agent", "demo")

	// Our own process is alive and its command line contains the test
	// binary name, which never matches the marker, but DaemonAlive also
	// accepts a generic checkpoint token; use the recorded-marker path.
	if err := st.WritePID(state.DaemonPIDFile, os.Getpid(), marker); err != nil {
		t.Fatal(err)
	}
	if _, alive := DaemonAlive(st, state.DaemonPIDFile, "wrong-marker"); alive {
		t.Fatal("mismatched marker must not read as alive")
	}
}

func TestDaemonAliveDeadPID(t *testing.T) {
	st := newStore(t)
	marker := Marker("watch", "demo")
	if err := st.WritePID(state.WatcherPIDFile, 1<<30, marker); err != nil {
		t.Fatal(err)
	}
	if _, alive := DaemonAlive(st, state.WatcherPIDFile, marker); alive {
		t.Fatal("dead PID must not read as alive")
	}
}

func TestVersionStale(t *testing.T) {
	w := &Watchdog{Version: "1.4.0"}
	cases := []struct {
		running string
		want    bool
	}{
		{"1.3.9", true},
		{"1.4.0", false},
		{"1.5.0", false},
		{"", false},
		{"not-a-version", false},
	}
	for _, tc := range cases {
		if got := w.versionStale(tc.running); got != tc.want {
			t.Errorf("versionStale(%q) = %v, want %v", tc.running, got, tc.want)
		}
	}
}

func TestHeartbeatStale(t *testing.T) {
	st := newStore(t)
	if stale, _ := heartbeatStale(st); stale {
		t.Fatal("no heartbeat file should not read as stale")
	}
	if err := st.Heartbeat(); err != nil {
		t.Fatal(err)
	}
	if stale, _ := heartbeatStale(st); stale {
		t.Fatal("fresh heartbeat read as stale")
	}
}

func TestAgentLoopRunsBackupOnTick(t *testing.T) {
	st := newStore(t)
	var runs atomic.Int32
	a := &Agent{
		ProjectID: "demo",
		Version:   "1.0.0",
		Interval:  20 * time.Millisecond,
		State:     st,
		Gates:     debounce.Gates{State: st},
		Log:       logging.Discard(),
		Run: func(ctx context.Context, cause backup.Cause, opts backup.Opts) (backup.Record, error) {
			if cause != backup.CauseInterval {
				t.Errorf("unexpected cause %s", cause)
			}
			runs.Add(1)
			return backup.Record{Outcome: backup.OutcomeSuccess}, nil
		},
	}

	ctx, cancel := context.WithTimeout(context.Background(), 150*time.Millisecond)
	defer cancel()
	if err := a.Loop(ctx); err != nil {
		t.Fatal(err)
	}
	if runs.Load() == 0 {
		t.Fatal("expected at least one interval backup")
	}
	if pid, _ := st.ReadPID(state.DaemonPIDFile); pid != 0 {
		t.Fatal("PID file should be removed on exit")
	}
	if st.Version() != "1.0.0" {
		t.Fatalf("version not recorded, got %q", st.Version())
	}
}

func TestAgentLoopGatedByPause(t *testing.T) {
	st := newStore(t)
	if err := st.Pause(); err != nil {
		t.Fatal(err)
	}
	var runs atomic.Int32
	a := &Agent{
		ProjectID: "demo",
		Interval:  20 * time.Millisecond,
		State:     st,
		Gates:     debounce.Gates{State: st},
		Log:       logging.Discard(),
		Run: func(ctx context.Context, cause backup.Cause, opts backup.Opts) (backup.Record, error) {
			runs.Add(1)
			return backup.Record{}, nil
		},
	}
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	if err := a.Loop(ctx); err != nil {
		t.Fatal(err)
	}
	if runs.Load() != 0 {
		t.Fatal("paused project must not back up")
	}
}

// newWatchdog builds a watchdog over a throwaway registry holding one
// project, plus that project's state store.
func newWatchdog(t *testing.T, mgr platform.Manager) (*Watchdog, *state.Store) {
	t.Helper()
	stateRoot := t.TempDir()
	reg, err := project.OpenRegistry(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	if err := reg.Register(project.Entry{ID: "demo", Root: "/tmp/demo"}); err != nil {
		t.Fatal(err)
	}
	st, err := state.New(stateRoot, "demo")
	if err != nil {
		t.Fatal(err)
	}
	w := &Watchdog{
		Registry:  reg,
		StateRoot: stateRoot,
		Manager:   mgr,
		Log:       logging.Discard(),
	}
	return w, st
}

func TestWatchdogRestartsCrashedDaemon(t *testing.T) {
	mgr := &fakeManager{}
	w, st := newWatchdog(t, mgr)

	// A claimed watcher slot whose PID cannot be alive: the daemon
	// crashed without removing its PID file.
	if err := st.WritePID(state.WatcherPIDFile, 1<<30, Marker("watch", "demo")); err != nil {
		t.Fatal(err)
	}

	w.Sweep(context.Background())

	if len(mgr.started) != 1 {
		t.Fatalf("expected one restart, got %v", mgr.started)
	}
	if pid, _ := st.ReadPID(state.WatcherPIDFile); pid != 0 {
		t.Fatal("stale PID file should be cleared before restart")
	}
}

func TestWatchdogLeavesUnclaimedSlotsAlone(t *testing.T) {
	mgr := &fakeManager{}
	w, _ := newWatchdog(t, mgr)

	// No PID files at all: never started or exited cleanly.
	w.Sweep(context.Background())

	if len(mgr.started) != 0 || len(mgr.stopped) != 0 {
		t.Fatalf("nothing should be restarted: started=%v stopped=%v", mgr.started, mgr.stopped)
	}
}

func TestAgentLoopRunsSupervise(t *testing.T) {
	st := newStore(t)
	var sweeps atomic.Int32
	a := &Agent{
		ProjectID:      "demo",
		Interval:       time.Hour,
		State:          st,
		Gates:          debounce.Gates{State: st},
		Log:            logging.Discard(),
		Run:            func(context.Context, backup.Cause, backup.Opts) (backup.Record, error) { return backup.Record{}, nil },
		Supervise:      func(context.Context) { sweeps.Add(1) },
		SuperviseEvery: 20 * time.Millisecond,
	}
	ctx, cancel := context.WithTimeout(context.Background(), 150*time.Millisecond)
	defer cancel()
	if err := a.Loop(ctx); err != nil {
		t.Fatal(err)
	}
	if sweeps.Load() == 0 {
		t.Fatal("supervision never ran")
	}
}

func TestRestartWatcherForcesPolling(t *testing.T) {
	d := &WatchDaemon{
		Root:      t.TempDir(),
		Log:       logging.Discard(),
		WatchOpts: watcher.Options{PollInterval: 20 * time.Millisecond},
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	w, err := d.restartWatcher(ctx, true)
	if err != nil {
		t.Fatal(err)
	}
	defer w.Close()
	if w.Backend() != watcher.BackendPoll {
		t.Fatalf("after repeated losses backend = %s, want %s", w.Backend(), watcher.BackendPoll)
	}
}

func TestClaimPIDFileReclaimsRecycledPID(t *testing.T) {
	st := newStore(t)
	marker := Marker("agent", "demo")

	// PID 1 is always alive but its command line is init/launchd, never a
	// checkpoint daemon, so the slot must be reclaimable.
	if err := st.WritePID(state.DaemonPIDFile, 1, marker); err != nil {
		t.Fatal(err)
	}
	if err := claimPIDFile(st, state.DaemonPIDFile, marker); err != nil {
		t.Fatalf("recycled PID should be reclaimed: %v", err)
	}
	pid, _ := st.ReadPID(state.DaemonPIDFile)
	if pid != os.Getpid() {
		t.Fatalf("expected our pid, got %d", pid)
	}
}
