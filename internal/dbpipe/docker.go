package dbpipe

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/untoldecay/checkpoint/internal/errs"
	"github.com/untoldecay/checkpoint/internal/logging"
	"github.com/untoldecay/checkpoint/internal/platform"
)

// DockerLifecycle coordinates "we started Docker" across concurrent
// project backups. Whoever starts Docker writes a flag in the user
// cache dir; every pipeline registers as a consumer while dumping; the
// last consumer out stops Docker, but only when the flag says we
// started it.
type DockerLifecycle struct {
	CacheDir  string
	AutoStart bool
	StopAfter bool
	Log       *logging.Logger
}

// NewDockerLifecycle builds the lifecycle manager against the user's
// cache directory.
func NewDockerLifecycle(autoStart, stopAfter bool, log *logging.Logger) (*DockerLifecycle, error) {
	cache, err := os.UserCacheDir()
	if err != nil {
		return nil, fmt.Errorf("resolving cache directory: %w", err)
	}
	dir := filepath.Join(cache, "checkpoint")
	if err := os.MkdirAll(filepath.Join(dir, "docker-consumers"), 0o750); err != nil {
		return nil, err
	}
	return &DockerLifecycle{CacheDir: dir, AutoStart: autoStart, StopAfter: stopAfter, Log: log}, nil
}

func (d *DockerLifecycle) flagPath() string {
	return filepath.Join(d.CacheDir, "docker-started")
}

func (d *DockerLifecycle) consumerPath(pid int) string {
	return filepath.Join(d.CacheDir, "docker-consumers", strconv.Itoa(pid))
}

// Running probes the daemon.
func (d *DockerLifecycle) Running(ctx context.Context) bool {
	docker, err := exec.LookPath("docker")
	if err != nil {
		return false
	}
	return exec.CommandContext(ctx, docker, "info").Run() == nil
}

// Acquire makes sure Docker is up, registering the caller as a
// consumer. The returned release must run when the caller's dumps are
// done; it stops Docker when this process was the last consumer and the
// flag records that checkpoint started it.
func (d *DockerLifecycle) Acquire(ctx context.Context) (release func(), err error) {
	if _, err := exec.LookPath("docker"); err != nil {
		return nil, errs.Wrap(errs.CodeCapNoDocker, err, "docker not installed")
	}

	if !d.Running(ctx) {
		// A flag left behind by a crash means nothing once Docker is
		// down; it must not authorize a future shutdown we don't own.
		if d.flagExists() {
			d.logf("removing orphaned docker-started flag")
			_ = os.Remove(d.flagPath())
		}
		if !d.AutoStart {
			return nil, errs.New(errs.CodeCapNoDocker, "docker is not running and auto-start is disabled")
		}
		if err := d.start(ctx); err != nil {
			return nil, err
		}
		if err := os.WriteFile(d.flagPath(), []byte(strconv.Itoa(os.Getpid())+"\n"), 0o644); err != nil {
			d.logf("cannot record docker-started flag: %v", err)
		}
	}

	pid := os.Getpid()
	if err := os.WriteFile(d.consumerPath(pid), []byte{}, 0o644); err != nil {
		d.logf("cannot register docker consumer: %v", err)
	}

	return func() { d.release(pid) }, nil
}

func (d *DockerLifecycle) release(pid int) {
	_ = os.Remove(d.consumerPath(pid))

	if !d.flagExists() {
		return
	}
	// Honor the flag only when Docker is genuinely up; otherwise it is
	// stale bookkeeping.
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if !d.Running(ctx) {
		_ = os.Remove(d.flagPath())
		return
	}
	if d.liveConsumers() > 0 {
		return
	}
	if d.StopAfter {
		d.logf("stopping docker (last consumer, started by checkpoint)")
		d.stop(ctx)
	}
	_ = os.Remove(d.flagPath())
}

func (d *DockerLifecycle) flagExists() bool {
	_, err := os.Stat(d.flagPath())
	return err == nil
}

// liveConsumers counts registered consumers whose PID is still alive,
// reaping dead ones.
func (d *DockerLifecycle) liveConsumers() int {
	entries, err := os.ReadDir(filepath.Join(d.CacheDir, "docker-consumers"))
	if err != nil {
		return 0
	}
	alive := 0
	for _, e := range entries {
		pid, err := strconv.Atoi(e.Name())
		if err != nil {
			continue
		}
		if platform.PIDAlive(pid) {
			alive++
		} else {
			_ = os.Remove(d.consumerPath(pid))
		}
	}
	return alive
}

// start launches the Docker daemon and waits for readiness.
func (d *DockerLifecycle) start(ctx context.Context) error {
	d.logf("starting docker")
	var err error
	switch runtime.GOOS {
	case "darwin":
		err = exec.CommandContext(ctx, "open", "-a", "Docker").Run()
	case "linux":
		err = exec.CommandContext(ctx, "systemctl", "start", "docker").Run()
	default:
		return errs.New(errs.CodeCapNoDocker, "no docker start strategy on "+runtime.GOOS)
	}
	if err != nil {
		return errs.Wrap(errs.CodeCapNoDocker, err, "starting docker")
	}

	probe := func() error {
		if d.Running(ctx) {
			return nil
		}
		return fmt.Errorf("docker not ready")
	}
	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewConstantBackOff(2*time.Second), 30), ctx)
	if err := backoff.Retry(probe, policy); err != nil {
		return errs.Wrap(errs.CodeCapNoDocker, err, "docker did not become ready")
	}
	return nil
}

func (d *DockerLifecycle) stop(ctx context.Context) {
	var err error
	switch runtime.GOOS {
	case "darwin":
		err = exec.CommandContext(ctx, "osascript", "-e", `quit app "Docker"`).Run()
	case "linux":
		err = exec.CommandContext(ctx, "systemctl", "stop", "docker").Run()
	}
	if err != nil {
		d.logf("stopping docker: %v", err)
	}
}

func (d *DockerLifecycle) logf(format string, args ...any) {
	if d.Log != nil {
		d.Log.Infof(format, args...)
	}
}

// ensureDocker is the pipeline hook used before docker dumps.
func (p *Pipeline) ensureDocker(ctx context.Context) (func(), error) {
	if p.Docker == nil {
		lc, err := NewDockerLifecycle(p.Opts.AutoStartDocker, p.Opts.StopDockerAfter, p.Log)
		if err != nil {
			return nil, err
		}
		p.Docker = lc
	}
	return p.Docker.Acquire(ctx)
}
