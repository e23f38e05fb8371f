package dbpipe

import (
	"context"
	"fmt"
	"os/exec"
	"runtime"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// serviceName maps an engine to its host service.
func serviceName(e Engine) string {
	switch e {
	case EnginePostgres:
		return "postgresql"
	case EngineMySQL:
		return "mysql"
	case EngineMongo:
		if runtime.GOOS == "darwin" {
			return "mongodb-community"
		}
		return "mongod"
	}
	return ""
}

// engineReady probes a local engine with its own client tool. A missing
// probe tool reads as ready; the dump attempt will produce the real
// diagnostic.
func engineReady(ctx context.Context, desc Descriptor) bool {
	switch desc.Engine {
	case EnginePostgres:
		tool, err := exec.LookPath("pg_isready")
		if err != nil {
			return true
		}
		return exec.CommandContext(ctx, tool, "-h", desc.Host, "-p", strconv.Itoa(desc.Port)).Run() == nil
	case EngineMySQL:
		tool, err := exec.LookPath("mysqladmin")
		if err != nil {
			return true
		}
		return exec.CommandContext(ctx, tool, "ping", "-h", desc.Host, "--silent").Run() == nil
	case EngineMongo:
		tool, err := exec.LookPath("mongosh")
		if err != nil {
			return true
		}
		return exec.CommandContext(ctx, tool, "--quiet", "--host", desc.Host,
			"--eval", "db.runCommand({ping:1})").Run() == nil
	}
	return true
}

// ensureLocalEngine transiently starts a stopped local engine when
// auto-start is enabled. The release stops the engine again only if we
// started it and stop-after is configured, so concurrent projects never
// fight over a service the user had running.
func (p *Pipeline) ensureLocalEngine(ctx context.Context, desc Descriptor) (release func(), err error) {
	noop := func() {}
	if engineReady(ctx, desc) {
		return noop, nil
	}
	if !p.Opts.AutoStartLocal {
		// Leave the failure to the dump tool; absent-database handling
		// downgrades it to skipped where appropriate.
		return noop, nil
	}

	svc := serviceName(desc.Engine)
	if svc == "" {
		return noop, nil
	}
	p.logf("starting local %s service for dump", desc.Engine)
	if err := startService(ctx, svc); err != nil {
		return noop, err
	}

	probe := func() error {
		if engineReady(ctx, desc) {
			return nil
		}
		return fmt.Errorf("%s not ready", desc.Engine)
	}
	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewConstantBackOff(time.Second), 10), ctx)
	if err := backoff.Retry(probe, policy); err != nil {
		return noop, fmt.Errorf("%s did not become ready: %w", desc.Engine, err)
	}

	if !p.Opts.StopLocalAfter {
		return noop, nil
	}
	return func() {
		p.logf("stopping local %s service (we started it)", desc.Engine)
		stopCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		_ = stopService(stopCtx, svc)
	}, nil
}

func startService(ctx context.Context, svc string) error {
	if runtime.GOOS == "darwin" {
		if brew, err := exec.LookPath("brew"); err == nil {
			return exec.CommandContext(ctx, brew, "services", "start", svc).Run()
		}
	}
	return exec.CommandContext(ctx, "systemctl", "start", svc).Run()
}

func stopService(ctx context.Context, svc string) error {
	if runtime.GOOS == "darwin" {
		if brew, err := exec.LookPath("brew"); err == nil {
			return exec.CommandContext(ctx, brew, "services", "stop", svc).Run()
		}
	}
	return exec.CommandContext(ctx, "systemctl", "stop", svc).Run()
}
