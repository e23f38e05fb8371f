package backup

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/untoldecay/checkpoint/internal/errs"
	"github.com/untoldecay/checkpoint/internal/fsutil"
)

// mirrorCloud copies artifacts into the local cloud folder, preserving
// their backup-root-relative layout. Per-artifact failures are
// collected; the caller downgrades the run to partial.
func mirrorCloud(backupRoot, cloudDir string, artifacts []string) []error {
	var errors []error
	if _, err := os.Stat(cloudDir); err != nil {
		return []error{errs.Wrap(errs.CodeConfCloudPath, err, cloudDir)}
	}
	for _, path := range artifacts {
		rel, err := filepath.Rel(backupRoot, path)
		if err != nil {
			rel = filepath.Base(path)
		}
		if err := fsutil.CopyFile(path, filepath.Join(cloudDir, rel)); err != nil {
			errors = append(errors, errs.Wrap(errs.CodeNetUnreachable, err, "mirroring "+rel))
		}
	}
	return errors
}

// mirrorRemote hands the whole backup tree to the configured copy
// command with the destination URI appended. The command is opaque; a
// non-zero exit is one mirror failure for the run.
func mirrorRemote(ctx context.Context, mirrorCommand, backupRoot, remoteURI string) error {
	fields := strings.Fields(mirrorCommand)
	if len(fields) == 0 {
		return errs.New(errs.CodeConfInvalid, "backup.mirror_command is empty")
	}
	tool, err := exec.LookPath(fields[0])
	if err != nil {
		return errs.Wrap(errs.CodeNetAgentDown, err, fields[0]+" not installed")
	}
	args := append(fields[1:], backupRoot, remoteURI)
	cmd := exec.CommandContext(ctx, tool, args...) // #nosec G204 -- mirror command comes from config by design
	out, err := cmd.CombinedOutput()
	if err != nil {
		msg := strings.TrimSpace(string(out))
		if msg == "" {
			msg = err.Error()
		}
		return errs.Wrap(errs.CodeNetUnreachable, err, msg)
	}
	return nil
}
