// Package fsutil holds the file plumbing shared by the backup executor
// and the database pipeline: gzip compression with verification, tar
// archives, and retried copies.
package fsutil

import (
	"archive/tar"
	"compress/gzip"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/untoldecay/checkpoint/internal/errs"
)

// GzipFile compresses src to dst at the given level. The destination is
// written via temp-then-rename so a crash never leaves a half-written
// artifact under the final name.
func GzipFile(src, dst string, level int) (int64, error) {
	in, err := os.Open(src) // #nosec G304 -- paths come from the executor's own staging
	if err != nil {
		return 0, errs.Wrap(errs.CodePermRead, err, "opening source for compression")
	}
	defer in.Close()

	n, err := writeGzip(in, dst, level)
	if err != nil {
		return 0, err
	}
	return n, nil
}

// GzipStream compresses everything read from r into dst.
func GzipStream(r io.Reader, dst string, level int) (int64, error) {
	return writeGzip(r, dst, level)
}

func writeGzip(r io.Reader, dst string, level int) (int64, error) {
	tmp, err := os.CreateTemp(filepath.Dir(dst), ".gz-*.tmp")
	if err != nil {
		return 0, errs.Wrap(errs.CodePermWrite, err, "creating temp artifact")
	}
	tmpPath := tmp.Name()
	cleanup := func() {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
	}

	gz, err := gzip.NewWriterLevel(tmp, level)
	if err != nil {
		cleanup()
		return 0, err
	}
	n, err := io.Copy(gz, r)
	if err != nil {
		cleanup()
		return 0, fmt.Errorf("compressing: %w", err)
	}
	if err := gz.Close(); err != nil {
		cleanup()
		return 0, err
	}
	if err := tmp.Sync(); err != nil {
		cleanup()
		return 0, err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return 0, err
	}
	if err := os.Rename(tmpPath, dst); err != nil {
		_ = os.Remove(tmpPath)
		return 0, err
	}
	return n, nil
}

// VerifyGzip fully decompresses path and requires non-empty content.
// This is the integrity check every compressed artifact must pass
// before it counts as a backup.
func VerifyGzip(path string) error {
	f, err := os.Open(path) // #nosec G304 -- verifying our own artifact
	if err != nil {
		return err
	}
	defer f.Close()
	gz, err := gzip.NewReader(f)
	if err != nil {
		return fmt.Errorf("gzip header: %w", err)
	}
	defer gz.Close()
	n, err := io.Copy(io.Discard, gz)
	if err != nil {
		return fmt.Errorf("gzip body: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("artifact is empty")
	}
	return nil
}

// VerifyOrRemove runs VerifyGzip and deletes the artifact on failure.
// An artifact is either verified or absent.
func VerifyOrRemove(path string) error {
	if err := VerifyGzip(path); err != nil {
		_ = os.Remove(path)
		return err
	}
	return nil
}

// TarGzDir archives the directory tree at src into dst as .tar.gz.
func TarGzDir(src, dst string, level int) (int64, error) {
	pr, pw := io.Pipe()
	go func() {
		tw := tar.NewWriter(pw)
		err := filepath.WalkDir(src, func(path string, d fs.DirEntry, walkErr error) error {
			if walkErr != nil {
				return walkErr
			}
			info, err := d.Info()
			if err != nil {
				return err
			}
			rel, err := filepath.Rel(src, path)
			if err != nil {
				return err
			}
			if rel == "." {
				return nil
			}
			hdr, err := tar.FileInfoHeader(info, "")
			if err != nil {
				return err
			}
			hdr.Name = filepath.ToSlash(rel)
			if err := tw.WriteHeader(hdr); err != nil {
				return err
			}
			if !info.Mode().IsRegular() {
				return nil
			}
			f, err := os.Open(path) // #nosec G304 -- archiving our own dump directory
			if err != nil {
				return err
			}
			_, err = io.Copy(tw, f)
			_ = f.Close()
			return err
		})
		if err == nil {
			err = tw.Close()
		}
		_ = pw.CloseWithError(err)
	}()
	return GzipStream(pr, dst, level)
}

// CopyFile copies src to dst preserving permissions, retrying up to 3
// times on transient failures. A size mismatch after copy is an error.
func CopyFile(src, dst string) error {
	op := func() error {
		if err := copyOnce(src, dst); err != nil {
			if os.IsNotExist(err) {
				return backoff.Permanent(errs.Wrap(errs.CodeFileVanished, err, src))
			}
			return err
		}
		return nil
	}
	policy := backoff.WithMaxRetries(backoff.NewConstantBackOff(200*time.Millisecond), 3)
	return backoff.Retry(op, policy)
}

func copyOnce(src, dst string) error {
	in, err := os.Open(src) // #nosec G304 -- executor copies files it enumerated
	if err != nil {
		return err
	}
	defer in.Close()
	st, err := in.Stat()
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(dst), 0o750); err != nil {
		return err
	}
	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, st.Mode().Perm())
	if err != nil {
		return err
	}
	n, err := io.Copy(out, in)
	if closeErr := out.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		_ = os.Remove(dst)
		return err
	}
	if n != st.Size() {
		_ = os.Remove(dst)
		return errs.New(errs.CodeFileSizeDrift,
			fmt.Sprintf("%s: copied %d of %d bytes", src, n, st.Size()))
	}
	return nil
}

// CopyTree mirrors the regular files under src into dst, preserving
// relative layout. Symlink handling follows policy: "follow" copies the
// target content, "preserve" recreates the link, "skip" ignores it.
func CopyTree(src, dst, symlinkPolicy string) error {
	return filepath.WalkDir(src, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)
		if d.IsDir() {
			return os.MkdirAll(target, 0o750)
		}
		if d.Type()&fs.ModeSymlink != 0 {
			switch symlinkPolicy {
			case "skip":
				return nil
			case "preserve":
				link, err := os.Readlink(path)
				if err != nil {
					return err
				}
				_ = os.Remove(target)
				return os.Symlink(link, target)
			}
			// follow: fall through to a content copy.
		}
		return CopyFile(path, target)
	})
}
