package dbpipe

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"strings"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"

	"github.com/untoldecay/checkpoint/internal/errs"
	"github.com/untoldecay/checkpoint/internal/fsutil"
)

// dumpSQLite snapshots a SQLite file with VACUUM INTO, which uses the
// engine's own consistent-read path, then compresses and verifies the
// copy.
func (p *Pipeline) dumpSQLite(ctx context.Context, desc Descriptor, destDir string) DumpResult {
	tmpDir, err := os.MkdirTemp("", "checkpoint-sqlite-*")
	if err != nil {
		return DumpResult{Descriptor: desc, Outcome: OutcomeFailed, Err: err}
	}
	defer os.RemoveAll(tmpDir)
	snapshot := filepath.Join(tmpDir, "snapshot.db")

	db, err := sql.Open("sqlite3", "file:"+desc.Path+"?mode=ro")
	if err != nil {
		return DumpResult{Descriptor: desc, Outcome: OutcomeFailed,
			Err: errs.Wrap(errs.CodeDBDumpFailed, err, "opening sqlite database")}
	}
	defer db.Close()

	if _, err := db.ExecContext(ctx, "VACUUM INTO ?", snapshot); err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "locked") {
			return DumpResult{Descriptor: desc, Outcome: OutcomeFailed,
				Err: errs.Wrap(errs.CodeDBLocked, err, desc.Path)}
		}
		return DumpResult{Descriptor: desc, Outcome: OutcomeFailed,
			Err: errs.Wrap(errs.CodeDBDumpFailed, err, "vacuum into snapshot")}
	}

	dest := artifactPath(destDir, desc, ".db")
	bytes, err := fsutil.GzipFile(snapshot, dest, p.level())
	if err != nil {
		_ = os.Remove(dest)
		return DumpResult{Descriptor: desc, Outcome: OutcomeFailed, Err: err}
	}
	if err := fsutil.VerifyOrRemove(dest); err != nil {
		return DumpResult{Descriptor: desc, Outcome: OutcomeFailed,
			Err: errs.Wrap(errs.CodeDBDumpFailed, err, "snapshot failed verification")}
	}
	return DumpResult{Descriptor: desc, Outcome: OutcomeSuccess, Path: dest, Bytes: bytes}
}
