package platform

import (
	"os"
	"path/filepath"
	"testing"
)

func TestAgentLabel(t *testing.T) {
	a := Agent{ProjectID: "a1b2c3d4", Kind: "watcher"}
	if got := a.Label(); got != "com.checkpoint.watcher.a1b2c3d4" {
		t.Errorf("Label() = %q", got)
	}
}

func TestMTimeAndSize(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "f")
	if err := os.WriteFile(path, []byte("hello"), 0o644); err != nil {
		t.Fatal(err)
	}
	if MTime(path) == 0 {
		t.Error("MTime returned 0 for existing file")
	}
	if got := Size(path); got != 5 {
		t.Errorf("Size = %d, want 5", got)
	}
	if MTime(filepath.Join(dir, "missing")) != 0 {
		t.Error("MTime should be 0 for missing file")
	}
	if Size(filepath.Join(dir, "missing")) != 0 {
		t.Error("Size should be 0 for missing file")
	}
}

func TestPIDAliveSelf(t *testing.T) {
	if !PIDAlive(os.Getpid()) {
		t.Error("own PID should be alive")
	}
	if PIDAlive(-1) {
		t.Error("negative PID should not be alive")
	}
}
