// Package backup runs one backup of one project: locking, pre-flight,
// change detection, critical-file capture, database dumps, snapshot
// archiving, compression, optional encryption, verification, mirroring,
// and retention.
package backup

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/untoldecay/checkpoint/internal/dbpipe"
	"github.com/untoldecay/checkpoint/internal/errs"
	"github.com/untoldecay/checkpoint/internal/fsutil"
	"github.com/untoldecay/checkpoint/internal/lockfile"
	"github.com/untoldecay/checkpoint/internal/logging"
	"github.com/untoldecay/checkpoint/internal/notify"
	"github.com/untoldecay/checkpoint/internal/platform"
	"github.com/untoldecay/checkpoint/internal/retention"
	"github.com/untoldecay/checkpoint/internal/state"
)

// Cause records what triggered a backup.
type Cause string

const (
	CauseWatcher  Cause = "watcher"
	CauseSession  Cause = "session"
	CauseInterval Cause = "interval"
	CauseManual   Cause = "manual"
)

// Outcome is the overall result of one backup attempt.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomePartial Outcome = "partial"
	OutcomeFailed  Outcome = "failed"
	OutcomeSkipped Outcome = "skipped"
)

// compressionFloor is the size below which files are stored as-is; gzip
// overhead exceeds the win on tiny files.
const compressionFloor = 512

// DBOutcome is the per-database slice of a Record.
type DBOutcome struct {
	Engine   string `json:"engine"`
	Database string `json:"database"`
	Outcome  string `json:"outcome"`
	Bytes    int64  `json:"bytes,omitempty"`
	Detail   string `json:"detail,omitempty"`
}

// Record is the persisted result of one backup attempt.
type Record struct {
	ProjectID    string      `json:"project_id"`
	Cause        Cause       `json:"cause"`
	Start        time.Time   `json:"start"`
	End          time.Time   `json:"end"`
	Outcome      Outcome     `json:"outcome"`
	BytesWritten int64       `json:"bytes_written"`
	FilesChanged int         `json:"files_changed"`
	Databases    []DBOutcome `json:"databases,omitempty"`
	SkipReason   string      `json:"skip_reason,omitempty"`
	Error        string      `json:"error,omitempty"`
}

// Opts are the per-invocation switches.
type Opts struct {
	Force     bool
	LocalOnly bool
	DBOnly    bool
	DryRun    bool
}

// Executor runs backups for one project.
type Executor struct {
	ProjectID string
	Root      string
	BackupDir string
	Settings  Settings
	State     *state.Store
	Log       *logging.Logger
	Notifier  *notify.Notifier
}

// Run performs one backup attempt. The lock is released on every exit
// path; pre-flight declines (pause, drive, no changes) end as skipped
// or a categorized error, never as a half-written backup.
func (e *Executor) Run(ctx context.Context, cause Cause, opts Opts) (Record, error) {
	rec := Record{ProjectID: e.ProjectID, Cause: cause, Start: time.Now()}
	finish := func(outcome Outcome, err error) (Record, error) {
		rec.End = time.Now()
		rec.Outcome = outcome
		if err != nil {
			rec.Error = err.Error()
		}
		e.persistRecord(rec)
		return rec, err
	}

	lock, err := lockfile.Acquire(e.State.ProjectDir(), "backup")
	if err != nil {
		return finish(OutcomeFailed, err)
	}
	defer func() { _ = lock.Release() }()

	if skip, reason, err := e.preflight(); err != nil {
		return finish(OutcomeFailed, err)
	} else if skip {
		rec.SkipReason = reason
		return finish(OutcomeSkipped, nil)
	}

	excludes := e.Settings.excludeSet()
	lastBackup := e.State.LastBackupTime()

	var changed []string
	if !opts.DBOnly {
		changed, err = DetectChanges(e.Root, excludes, lastBackup)
		if err != nil {
			return finish(OutcomeFailed, errs.Wrap(errs.CodePermRead, err, "detecting changes"))
		}
		if len(changed) == 0 && !opts.Force {
			rec.SkipReason = "no changes"
			return finish(OutcomeSkipped, nil)
		}
		changed = mergeUnique(changed, CriticalFiles(e.Root, e.Settings.Capture, excludes))
	}
	rec.FilesChanged = len(changed)

	if opts.DryRun {
		e.logf("dry-run: %d files would be backed up, %d databases discovered",
			len(changed), len(dbpipe.Discover(e.Root)))
		return finish(OutcomeSkipped, nil)
	}

	failures := 0
	successes := 0

	var artifacts []string

	pipeline := &dbpipe.Pipeline{Opts: e.Settings.Pipeline, Log: e.Log}
	dbResults := pipeline.Run(ctx, e.Root, filepath.Join(e.BackupDir, "databases"))
	for _, r := range dbResults {
		out := DBOutcome{
			Engine:   string(r.Descriptor.Engine),
			Database: r.Descriptor.Database,
			Outcome:  string(r.Outcome),
			Bytes:    r.Bytes,
		}
		switch r.Outcome {
		case dbpipe.OutcomeSuccess:
			successes++
			rec.BytesWritten += r.Bytes
			artifacts = append(artifacts, r.Path)
		case dbpipe.OutcomeFailed:
			failures++
			if r.Err != nil {
				out.Detail = r.Err.Error()
			}
		case dbpipe.OutcomeSkipped:
			out.Detail = r.Reason
		}
		rec.Databases = append(rec.Databases, out)
	}

	if !opts.DBOnly && len(changed) > 0 {
		staged, archived, fileFailures := e.filePhase(changed, rec.Start)
		rec.BytesWritten += staged
		failures += fileFailures
		if staged > 0 {
			successes++
		}
		artifacts = append(artifacts, archived...)
	}

	if e.Settings.EncryptionEnabled {
		encrypted, err := e.encryptArtifacts(artifacts)
		if err != nil {
			failures++
			e.logf("encryption: %v", err)
		}
		artifacts = encrypted
	}

	if !opts.LocalOnly {
		failures += e.mirrorPhase(ctx, artifacts)
	}

	outcome := OutcomeSuccess
	switch {
	case failures > 0 && successes > 0:
		outcome = OutcomePartial
	case failures > 0 && successes == 0:
		outcome = OutcomeFailed
	}

	if outcome == OutcomeSuccess || outcome == OutcomePartial {
		if err := e.State.SetLastBackupTime(time.Now()); err != nil {
			e.logf("recording backup time: %v", err)
		}
		e.runRetention()
	}
	return finish(outcome, nil)
}

// preflight revalidates the pause sentinel and drive marker and checks
// destination disk health. Pause reads as an expected condition; the
// others are categorized errors.
func (e *Executor) preflight() (skip bool, reason string, err error) {
	if e.State.Paused() {
		return true, "paused", nil
	}
	if e.Settings.DriveVerification {
		// Verification with no marker configured fails closed.
		if _, statErr := os.Stat(e.Settings.DriveMarker); e.Settings.DriveMarker == "" || statErr != nil {
			err := errs.New(errs.CodeDriveUnmounted, e.Settings.DriveMarker)
			e.alert(notify.Critical, "Backup drive not mounted", err)
			return false, "", err
		}
	}
	if mkErr := os.MkdirAll(e.BackupDir, 0o750); mkErr != nil {
		return false, "", errs.Wrap(errs.CodePermWrite, mkErr, "creating backup directory")
	}
	usedPct, free, duErr := platform.DiskUsage(e.BackupDir)
	if duErr == nil {
		if usedPct >= e.Settings.CriticalPercent {
			err := errs.New(errs.CodeDiskCritical,
				fmt.Sprintf("disk %d%% used, %d MB free", usedPct, free/(1024*1024)))
			_, fix := errs.Describe(errs.CodeDiskCritical)
			e.logf("disk critical: %s (%s)", err.Msg, fix)
			e.alert(notify.Critical, "Backup disk critically full", err)
			return false, "", err
		}
		if usedPct >= e.Settings.WarnPercent {
			e.warnf("disk %d%% used on %s", usedPct, e.BackupDir)
			e.alert(notify.Medium, "Backup disk filling up",
				errs.New(errs.CodeDiskFull, fmt.Sprintf("%d%% used", usedPct)))
		}
	}
	return false, "", nil
}

// filePhase stages changed files into files/ (the latest-tree mirror),
// archiving prior versions into archived/<timestamp>/ and compressing
// the archived snapshot. Returns bytes staged, the snapshot's artifact
// paths, and the per-file failure count.
func (e *Executor) filePhase(changed []string, start time.Time) (bytes int64, artifacts []string, failures int) {
	filesDir := filepath.Join(e.BackupDir, "files")
	archiveDir := filepath.Join(e.BackupDir, "archived", start.Format("20060102_150405"))
	archivedAny := false

	for _, rel := range changed {
		src := filepath.Join(e.Root, rel)
		dst := filepath.Join(filesDir, rel)

		// A prior version moves into the snapshot before being replaced.
		if _, err := os.Stat(dst); err == nil {
			old := filepath.Join(archiveDir, rel)
			if err := os.MkdirAll(filepath.Dir(old), 0o750); err == nil {
				if err := os.Rename(dst, old); err != nil {
					if err := fsutil.CopyFile(dst, old); err == nil {
						_ = os.Remove(dst)
					}
				}
				archivedAny = true
			}
		}

		st, err := os.Lstat(src)
		if err != nil {
			// Vanished mid-run; the next backup picks it up.
			continue
		}
		if st.Mode()&os.ModeSymlink != 0 {
			switch e.Settings.SymlinkPolicy {
			case "skip":
				continue
			case "preserve":
				if link, err := os.Readlink(src); err == nil {
					_ = os.MkdirAll(filepath.Dir(dst), 0o750)
					_ = os.Remove(dst)
					if err := os.Symlink(link, dst); err != nil {
						failures++
					}
				}
				continue
			}
		}
		if err := fsutil.CopyFile(src, dst); err != nil {
			e.warnf("staging %s: %v", rel, err)
			failures++
			continue
		}
		bytes += st.Size()
	}

	if archivedAny {
		failures += e.compressSnapshot(archiveDir)
		artifacts = append(artifacts, snapshotArtifacts(archiveDir)...)
	}
	return bytes, artifacts, failures
}

// compressSnapshot gzips every file in the archived snapshot above the
// size floor, verifying each artifact and deleting it on failure.
func (e *Executor) compressSnapshot(archiveDir string) (failures int) {
	_ = filepath.Walk(archiveDir, func(path string, info os.FileInfo, err error) error {
		if err != nil || info.IsDir() || !info.Mode().IsRegular() {
			return nil
		}
		if info.Size() < compressionFloor {
			return nil
		}
		gzPath := path + ".gz"
		if _, err := fsutil.GzipFile(path, gzPath, e.Settings.CompressLevel); err != nil {
			e.warnf("compressing %s: %v", path, err)
			failures++
			return nil
		}
		if err := fsutil.VerifyOrRemove(gzPath); err != nil {
			e.warnf("verification failed for %s: %v", gzPath, err)
			failures++
			return nil
		}
		_ = os.Remove(path)
		return nil
	})
	return failures
}

func snapshotArtifacts(archiveDir string) []string {
	var out []string
	_ = filepath.Walk(archiveDir, func(path string, info os.FileInfo, err error) error {
		if err == nil && !info.IsDir() && info.Mode().IsRegular() {
			out = append(out, path)
		}
		return nil
	})
	return out
}

// encryptArtifacts wraps every artifact with the configured recipients.
// Artifacts that fail encryption stay plaintext and are reported.
func (e *Executor) encryptArtifacts(artifacts []string) ([]string, error) {
	recipients, err := LoadRecipients(e.Settings.EncryptionKeyFile)
	if err != nil {
		return artifacts, err
	}
	out := make([]string, 0, len(artifacts))
	var firstErr error
	for _, path := range artifacts {
		encPath, err := EncryptFile(path, recipients)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			out = append(out, path)
			continue
		}
		out = append(out, encPath)
	}
	return out, firstErr
}

// mirrorPhase copies artifacts to the cloud folder and the remote URI.
// Mirror failures are non-fatal per artifact.
func (e *Executor) mirrorPhase(ctx context.Context, artifacts []string) (failures int) {
	if e.Settings.CloudDir != "" {
		if len(artifacts) > 0 {
			for _, err := range mirrorCloud(e.BackupDir, e.Settings.CloudDir, artifacts) {
				e.warnf("cloud mirror: %v", err)
				failures++
			}
		}
		// The latest tree goes up too, so the cloud folder alone is
		// enough to restore from.
		filesDir := filepath.Join(e.BackupDir, "files")
		if _, err := os.Stat(filesDir); err == nil {
			if err := fsutil.CopyTree(filesDir, filepath.Join(e.Settings.CloudDir, "files"), e.Settings.SymlinkPolicy); err != nil {
				e.warnf("cloud mirror: %v", err)
				failures++
			}
		}
	}
	if e.Settings.RemoteURI != "" {
		if err := mirrorRemote(ctx, e.Settings.MirrorCommand, e.BackupDir, e.Settings.RemoteURI); err != nil {
			e.warnf("remote mirror: %v", err)
			failures++
		}
	}
	return failures
}

// Sweep runs retention immediately without a backup, so pruning happens
// even on projects that have gone idle.
func (e *Executor) Sweep() {
	lock, err := lockfile.Acquire(e.State.ProjectDir(), "cleanup")
	if err != nil {
		e.warnf("retention sweep: %v", err)
		return
	}
	defer func() { _ = lock.Release() }()
	e.runRetention()
}

// runRetention prunes both buckets under the configured policies.
func (e *Executor) runRetention() {
	now := time.Now()
	floor := e.Settings.RetentionFloor

	dbArtifacts, err := retention.ScanFiles(filepath.Join(e.BackupDir, "databases"))
	if err == nil {
		plan := retention.PlanBucket("databases", dbArtifacts, e.Settings.DBPolicy, floor, now)
		e.applyRetention(plan)
	}
	snaps, err := retention.ScanSnapshots(filepath.Join(e.BackupDir, "archived"))
	if err == nil {
		plan := retention.PlanBucket("files", snaps, e.Settings.FilePolicy, floor, now)
		e.applyRetention(plan)
	}
}

func (e *Executor) applyRetention(plan retention.Plan) {
	if len(plan.Delete) == 0 {
		return
	}
	e.logf("retention: pruning %d artifacts from %s (%d MB)",
		len(plan.Delete), plan.Bucket, plan.BytesFreed()/(1024*1024))
	for _, err := range retention.Apply(plan) {
		e.warnf("retention: %v", err)
	}
}

// persistRecord appends the record to the backup log and refreshes the
// executor checkpoint file.
func (e *Executor) persistRecord(rec Record) {
	e.logf("backup %s cause=%s files=%d dbs=%d bytes=%d duration=%s",
		rec.Outcome, rec.Cause, rec.FilesChanged, len(rec.Databases),
		rec.BytesWritten, rec.End.Sub(rec.Start).Round(time.Millisecond))

	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return
	}
	_ = os.WriteFile(filepath.Join(e.BackupDir, ".backup-state"), data, 0o644)
}

func (e *Executor) alert(urgency notify.Urgency, title string, err error) {
	if e.Notifier == nil {
		return
	}
	desc, fix := errs.Describe(errs.CodeOf(err))
	body := fmt.Sprintf("%s. %s", desc, fix)
	sendErr := e.Notifier.Send(notify.Notification{
		Urgency:   urgency,
		Title:     title,
		Body:      body,
		ProjectID: e.ProjectID,
		Category:  string(errs.CategoryOf(err)),
	})
	if sendErr != nil {
		e.warnf("notification: %v", sendErr)
	}
}

func (e *Executor) logf(format string, args ...any) {
	if e.Log != nil {
		e.Log.Infof(format, args...)
	}
}

func (e *Executor) warnf(format string, args ...any) {
	if e.Log != nil {
		e.Log.Warnf(format, args...)
	}
}

func mergeUnique(a, b []string) []string {
	seen := make(map[string]bool, len(a))
	for _, s := range a {
		seen[s] = true
	}
	for _, s := range b {
		if !seen[s] {
			seen[s] = true
			a = append(a, s)
		}
	}
	return a
}
