package dbpipe

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/untoldecay/checkpoint/internal/errs"
	"github.com/untoldecay/checkpoint/internal/fsutil"
	"github.com/untoldecay/checkpoint/internal/logging"
)

// Outcome is the per-database result of a dump attempt.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailed  Outcome = "failed"
	OutcomeSkipped Outcome = "skipped"
)

// DumpResult records one dump attempt.
type DumpResult struct {
	Descriptor Descriptor
	Outcome    Outcome
	Path       string
	Bytes      int64
	Reason     string
	Err        error
}

// Options is the pipeline configuration, read once per run from config.
type Options struct {
	Timeout       time.Duration
	CompressLevel int

	BackupRemote bool
	BackupDocker bool

	AutoStartLocal  bool
	StopLocalAfter  bool
	AutoStartDocker bool
	StopDockerAfter bool

	UseCredStore  bool
	CredStorePath string
}

// Pipeline dumps every database discovery finds.
type Pipeline struct {
	Opts   Options
	Log    *logging.Logger
	Docker *DockerLifecycle

	// acquireDocker overrides the docker lifetime in tests.
	acquireDocker func(context.Context) (func(), error)
}

// Run discovers and dumps all databases of a project into destDir.
// Docker is acquired once for the whole batch: releasing between two
// docker dumps would stop and restart the daemon mid-run when
// stop-after-backup is on.
func (p *Pipeline) Run(ctx context.Context, root, destDir string) []DumpResult {
	descs := Discover(root)
	if len(descs) == 0 {
		return nil
	}
	if err := os.MkdirAll(destDir, 0o750); err != nil {
		p.logf("cannot create database backup dir: %v", err)
		return nil
	}

	var release func()
	var acquireErr error
	acquired := false
	ensure := func(ctx context.Context) error {
		if !acquired {
			acquired = true
			release, acquireErr = p.acquire(ctx)
		}
		return acquireErr
	}
	defer func() {
		if release != nil {
			release()
		}
	}()

	results := make([]DumpResult, 0, len(descs))
	for _, desc := range descs {
		results = append(results, p.dumpOne(ctx, desc, destDir, ensure))
	}
	return results
}

func (p *Pipeline) acquire(ctx context.Context) (func(), error) {
	if p.acquireDocker != nil {
		return p.acquireDocker(ctx)
	}
	return p.ensureDocker(ctx)
}

// dumpOne applies the dump decision and mechanics for one descriptor.
// ensureDocker must make Docker available for the rest of the batch.
func (p *Pipeline) dumpOne(ctx context.Context, desc Descriptor, destDir string, ensureDocker func(context.Context) error) DumpResult {
	if skip, reason := p.shouldSkip(desc); skip {
		p.logf("skipping %s: %s", desc, reason)
		return DumpResult{Descriptor: desc, Outcome: OutcomeSkipped, Reason: reason}
	}

	if desc.Password == "" && p.Opts.UseCredStore && desc.Kind != KindSQLite {
		if pw, ok := lookupCredential(p.Opts.CredStorePath, desc.Engine, desc.Database); ok {
			desc.Password = pw
		}
	}

	timeout := p.Opts.Timeout
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	switch desc.Kind {
	case KindDocker:
		if err := ensureDocker(ctx); err != nil {
			return DumpResult{Descriptor: desc, Outcome: OutcomeFailed, Err: err}
		}
	case KindNetwork:
		if desc.IsLocal {
			release, err := p.ensureLocalEngine(ctx, desc)
			if err != nil {
				return DumpResult{Descriptor: desc, Outcome: OutcomeFailed,
					Err: errs.Wrap(errs.CodeDBConnFailed, err, desc.String())}
			}
			defer release()
		}
	}

	res := p.dump(ctx, desc, destDir)
	if errors.Is(ctx.Err(), context.DeadlineExceeded) && res.Outcome == OutcomeFailed {
		res.Err = errs.Wrap(errs.CodeDBTimeout, res.Err, desc.String())
	}
	if res.Outcome == OutcomeSuccess {
		p.logf("dumped %s (%d bytes) to %s", desc, res.Bytes, filepath.Base(res.Path))
	} else if res.Err != nil {
		p.logf("dump %s: %s: %v", res.Outcome, desc, res.Err)
	}
	return res
}

func (p *Pipeline) shouldSkip(desc Descriptor) (bool, string) {
	switch desc.Kind {
	case KindSQLite:
		return false, ""
	case KindDocker:
		if !p.Opts.BackupDocker {
			return true, "docker databases disabled"
		}
		return false, ""
	default:
		if !desc.IsLocal && !p.Opts.BackupRemote {
			return true, "remote databases disabled"
		}
		return false, ""
	}
}

// artifactPath builds <engine>_<db>_<YYYYMMDD_HHMMSS>_<pid><ext>.gz.
func artifactPath(destDir string, desc Descriptor, ext string) string {
	name := fmt.Sprintf("%s_%s_%s_%d%s.gz",
		desc.Engine, sanitize(desc.Database),
		time.Now().Format("20060102_150405"), os.Getpid(), ext)
	return filepath.Join(destDir, name)
}

func sanitize(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		}
		return '_'
	}, s)
}

func (p *Pipeline) dump(ctx context.Context, desc Descriptor, destDir string) DumpResult {
	switch {
	case desc.Kind == KindSQLite:
		return p.dumpSQLite(ctx, desc, destDir)
	case desc.Engine == EngineMongo && desc.Kind == KindNetwork:
		return p.dumpMongoHost(ctx, desc, destDir)
	default:
		return p.dumpStreaming(ctx, desc, destDir)
	}
}

// dumpStreaming runs the engine's dump tool and gzips its stdout.
func (p *Pipeline) dumpStreaming(ctx context.Context, desc Descriptor, destDir string) DumpResult {
	cmd, ext, err := p.dumpCommand(ctx, desc)
	if err != nil {
		return DumpResult{Descriptor: desc, Outcome: OutcomeFailed, Err: err}
	}
	dest := artifactPath(destDir, desc, ext)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return DumpResult{Descriptor: desc, Outcome: OutcomeFailed, Err: err}
	}
	var stderr strings.Builder
	cmd.Stderr = &stderr

	if err := cmd.Start(); err != nil {
		return DumpResult{Descriptor: desc, Outcome: OutcomeFailed,
			Err: errs.Wrap(errs.CodeDBDumpFailed, err, "starting dump tool")}
	}
	bytes, gzErr := fsutil.GzipStream(stdout, dest, p.level())
	waitErr := cmd.Wait()
	if gzErr != nil || waitErr != nil {
		_ = os.Remove(dest)
		err := gzErr
		if err == nil {
			err = waitErr
		}
		return p.classifyFailure(desc, err, stderr.String())
	}
	if err := fsutil.VerifyOrRemove(dest); err != nil {
		return DumpResult{Descriptor: desc, Outcome: OutcomeFailed,
			Err: errs.Wrap(errs.CodeDBDumpFailed, err, "dump failed verification")}
	}
	return DumpResult{Descriptor: desc, Outcome: OutcomeSuccess, Path: dest, Bytes: bytes}
}

// classifyFailure maps dump-tool failures onto the taxonomy. A database
// that simply does not exist on this machine is skipped, not failed;
// the cloud copy is authoritative for secondary machines.
func (p *Pipeline) classifyFailure(desc Descriptor, err error, stderr string) DumpResult {
	low := strings.ToLower(stderr)
	switch {
	case strings.Contains(low, "does not exist") || strings.Contains(low, "unknown database"):
		return DumpResult{Descriptor: desc, Outcome: OutcomeSkipped,
			Reason: "database absent on this machine"}
	case strings.Contains(low, "connection refused") || strings.Contains(low, "could not connect") ||
		strings.Contains(low, "can't connect"):
		return DumpResult{Descriptor: desc, Outcome: OutcomeFailed,
			Err: errs.Wrap(errs.CodeDBConnFailed, err, strings.TrimSpace(firstLine(stderr)))}
	default:
		return DumpResult{Descriptor: desc, Outcome: OutcomeFailed,
			Err: errs.Wrap(errs.CodeDBDumpFailed, err, strings.TrimSpace(firstLine(stderr)))}
	}
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}

// dumpCommand builds the external dump invocation for network and
// docker descriptors. Passwords travel via environment (or stdin for
// mongodump), never argv.
func (p *Pipeline) dumpCommand(ctx context.Context, desc Descriptor) (*exec.Cmd, string, error) {
	switch desc.Engine {
	case EnginePostgres:
		if desc.Kind == KindDocker {
			args := []string{"exec", "-e", "PGPASSWORD", desc.Container,
				"pg_dump", "-U", desc.User, "--no-password", desc.Database}
			cmd, err := p.command(ctx, "docker", args...)
			if err != nil {
				return nil, "", err
			}
			cmd.Env = append(os.Environ(), "PGPASSWORD="+desc.Password)
			return cmd, ".sql", nil
		}
		args := []string{"-h", desc.Host, "-p", strconv.Itoa(desc.Port), "--no-password"}
		if desc.User != "" {
			args = append(args, "-U", desc.User)
		}
		args = append(args, desc.Database)
		cmd, err := p.command(ctx, "pg_dump", args...)
		if err != nil {
			return nil, "", err
		}
		env := os.Environ()
		if desc.Password != "" {
			env = append(env, "PGPASSWORD="+desc.Password)
		}
		if !desc.IsLocal || desc.SSLMode == "require" {
			env = append(env, "PGSSLMODE=require")
		}
		cmd.Env = env
		return cmd, ".sql", nil

	case EngineMySQL:
		if desc.Kind == KindDocker {
			args := []string{"exec", "-e", "MYSQL_PWD", desc.Container,
				"mysqldump", "-u", desc.User, desc.Database}
			cmd, err := p.command(ctx, "docker", args...)
			if err != nil {
				return nil, "", err
			}
			cmd.Env = append(os.Environ(), "MYSQL_PWD="+desc.Password)
			return cmd, ".sql", nil
		}
		args := []string{"-h", desc.Host, "-P", strconv.Itoa(desc.Port), "--single-transaction"}
		if desc.User != "" {
			args = append(args, "-u", desc.User)
		}
		if !desc.IsLocal {
			args = append(args, "--ssl-mode=REQUIRED")
		}
		args = append(args, desc.Database)
		cmd, err := p.command(ctx, "mysqldump", args...)
		if err != nil {
			return nil, "", err
		}
		env := os.Environ()
		if desc.Password != "" {
			env = append(env, "MYSQL_PWD="+desc.Password)
		}
		cmd.Env = env
		return cmd, ".sql", nil

	case EngineMongo:
		// Docker mongo streams an archive; host mongo goes through
		// dumpMongoHost instead.
		args := []string{"exec", "-i", desc.Container,
			"mongodump", "--archive", "--db", desc.Database}
		if desc.User != "" {
			args = append(args, "--username", desc.User, "--authenticationDatabase", "admin")
		}
		cmd, err := p.command(ctx, "docker", args...)
		if err != nil {
			return nil, "", err
		}
		if desc.Password != "" {
			// mongodump reads the password from stdin when --username is
			// given without --password.
			cmd.Stdin = strings.NewReader(desc.Password + "\n")
		}
		return cmd, ".archive", nil
	}
	return nil, "", errs.New(errs.CodeDBDumpFailed, fmt.Sprintf("no dump strategy for %s", desc.Engine))
}

// command resolves the tool and builds an exec.Cmd; a missing binary is
// a capability error.
func (p *Pipeline) command(ctx context.Context, tool string, args ...string) (*exec.Cmd, error) {
	path, err := exec.LookPath(tool)
	if err != nil {
		return nil, errs.Wrap(errs.CodeDBToolMissing, err, tool)
	}
	return exec.CommandContext(ctx, path, args...), nil // #nosec G204 -- tool name is a fixed engine client
}

// dumpMongoHost runs mongodump into a temp directory and tars it.
func (p *Pipeline) dumpMongoHost(ctx context.Context, desc Descriptor, destDir string) DumpResult {
	tmpDir, err := os.MkdirTemp("", "checkpoint-mongo-*")
	if err != nil {
		return DumpResult{Descriptor: desc, Outcome: OutcomeFailed, Err: err}
	}
	defer os.RemoveAll(tmpDir)

	args := []string{"--host", desc.Host, "--port", strconv.Itoa(desc.Port),
		"--db", desc.Database, "--out", tmpDir}
	if desc.User != "" {
		args = append(args, "--username", desc.User, "--authenticationDatabase", "admin")
	}
	if !desc.IsLocal {
		args = append(args, "--ssl")
	}
	cmd, err := p.command(ctx, "mongodump", args...)
	if err != nil {
		return DumpResult{Descriptor: desc, Outcome: OutcomeFailed, Err: err}
	}
	if desc.Password != "" {
		cmd.Stdin = strings.NewReader(desc.Password + "\n")
	}
	var stderr strings.Builder
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return p.classifyFailure(desc, err, stderr.String())
	}

	dest := artifactPath(destDir, desc, ".tar")
	bytes, err := fsutil.TarGzDir(tmpDir, dest, p.level())
	if err != nil {
		_ = os.Remove(dest)
		return DumpResult{Descriptor: desc, Outcome: OutcomeFailed,
			Err: errs.Wrap(errs.CodeDBDumpFailed, err, "archiving mongodump output")}
	}
	if err := fsutil.VerifyOrRemove(dest); err != nil {
		return DumpResult{Descriptor: desc, Outcome: OutcomeFailed,
			Err: errs.Wrap(errs.CodeDBDumpFailed, err, "dump failed verification")}
	}
	return DumpResult{Descriptor: desc, Outcome: OutcomeSuccess, Path: dest, Bytes: bytes}
}

func (p *Pipeline) level() int {
	if p.Opts.CompressLevel == 0 {
		return 6
	}
	return p.Opts.CompressLevel
}

func (p *Pipeline) logf(format string, args ...any) {
	if p.Log != nil {
		p.Log.Infof(format, args...)
	}
}
