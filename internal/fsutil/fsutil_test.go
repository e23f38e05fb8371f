package fsutil

import (
	"bytes"
	"compress/gzip"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestGzipFileRoundTrip(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "dump.sql")
	dst := filepath.Join(dir, "dump.sql.gz")
	content := strings.Repeat("INSERT INTO t VALUES (1);\n", 100)
	if err := os.WriteFile(src, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	n, err := GzipFile(src, dst, gzip.DefaultCompression)
	if err != nil {
		t.Fatal(err)
	}
	if n != int64(len(content)) {
		t.Errorf("compressed %d bytes, want %d", n, len(content))
	}
	if err := VerifyGzip(dst); err != nil {
		t.Errorf("verification failed: %v", err)
	}
}

func TestVerifyGzipRejectsGarbage(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.gz")
	if err := os.WriteFile(path, []byte("not gzip at all"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := VerifyGzip(path); err == nil {
		t.Error("garbage passed verification")
	}
}

func TestVerifyGzipRejectsEmpty(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "empty.gz")
	if _, err := GzipStream(bytes.NewReader(nil), path, gzip.DefaultCompression); err != nil {
		t.Fatal(err)
	}
	if err := VerifyGzip(path); err == nil {
		t.Error("empty artifact passed verification")
	}
}

func TestVerifyOrRemoveDeletesBadArtifact(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.gz")
	if err := os.WriteFile(path, []byte("junk"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := VerifyOrRemove(path); err == nil {
		t.Fatal("expected verification failure")
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Error("failed artifact left on disk")
	}
}

func TestTarGzDir(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "dumpdir")
	if err := os.MkdirAll(filepath.Join(src, "app"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(src, "app", "users.bson"), []byte("data"), 0o644); err != nil {
		t.Fatal(err)
	}
	dst := filepath.Join(dir, "dump.tar.gz")
	if _, err := TarGzDir(src, dst, gzip.DefaultCompression); err != nil {
		t.Fatal(err)
	}
	if err := VerifyGzip(dst); err != nil {
		t.Errorf("tar.gz failed verification: %v", err)
	}
}

func TestCopyFilePreservesContentAndMode(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "script.sh")
	dst := filepath.Join(dir, "out", "script.sh")
	if err := os.WriteFile(src, []byte("#!/bin/sh\n"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := CopyFile(src, dst); err != nil {
		t.Fatal(err)
	}
	data, err := os.ReadFile(dst)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "#!/bin/sh\n" {
		t.Errorf("content = %q", data)
	}
	st, err := os.Stat(dst)
	if err != nil {
		t.Fatal(err)
	}
	if st.Mode().Perm() != 0o755 {
		t.Errorf("mode = %v, want 0755", st.Mode().Perm())
	}
}

func TestCopyFileMissingSource(t *testing.T) {
	dir := t.TempDir()
	err := CopyFile(filepath.Join(dir, "gone"), filepath.Join(dir, "dst"))
	if err == nil {
		t.Error("copy of missing source succeeded")
	}
}

func TestCopyTreeSymlinkPolicies(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src")
	if err := os.MkdirAll(src, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(src, "real.txt"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.Symlink("real.txt", filepath.Join(src, "link.txt")); err != nil {
		t.Skipf("symlinks unavailable: %v", err)
	}

	skip := filepath.Join(dir, "skip")
	if err := CopyTree(src, skip, "skip"); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Lstat(filepath.Join(skip, "link.txt")); !os.IsNotExist(err) {
		t.Error("skip policy copied the symlink")
	}

	preserve := filepath.Join(dir, "preserve")
	if err := CopyTree(src, preserve, "preserve"); err != nil {
		t.Fatal(err)
	}
	if st, err := os.Lstat(filepath.Join(preserve, "link.txt")); err != nil || st.Mode()&os.ModeSymlink == 0 {
		t.Error("preserve policy did not recreate the symlink")
	}

	follow := filepath.Join(dir, "follow")
	if err := CopyTree(src, follow, "follow"); err != nil {
		t.Fatal(err)
	}
	data, err := os.ReadFile(filepath.Join(follow, "link.txt"))
	if err != nil || string(data) != "x" {
		t.Error("follow policy did not copy link target content")
	}
}
