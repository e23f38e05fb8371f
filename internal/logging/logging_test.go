package logging

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestRotateIfOversizeShiftsChain(t *testing.T) {
	dir := t.TempDir()
	logPath := filepath.Join(dir, "backup.log")

	// Pre-existing chain: current oversize log, plus .1 and .2
	if err := os.WriteFile(logPath, []byte(strings.Repeat("x", 128)), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(logPath+".1", []byte("one"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(logPath+".2", []byte("two"), 0o644); err != nil {
		t.Fatal(err)
	}

	if err := RotateIfOversize(logPath, 100); err != nil {
		t.Fatalf("RotateIfOversize: %v", err)
	}

	if _, err := os.Stat(logPath); !os.IsNotExist(err) {
		t.Error("current log should have been rotated away")
	}
	got, err := os.ReadFile(logPath + ".1")
	if err != nil {
		t.Fatalf("reading .1: %v", err)
	}
	if len(got) != 128 {
		t.Errorf(".1 should hold the old current log, got %d bytes", len(got))
	}
	if b, _ := os.ReadFile(logPath + ".2"); string(b) != "one" {
		t.Errorf(".2 = %q, want %q", b, "one")
	}
	if b, _ := os.ReadFile(logPath + ".3"); string(b) != "two" {
		t.Errorf(".3 = %q, want %q", b, "two")
	}
}

func TestRotateIfOversizeDropsOldest(t *testing.T) {
	dir := t.TempDir()
	logPath := filepath.Join(dir, "backup.log")

	if err := os.WriteFile(logPath, []byte(strings.Repeat("x", 64)), 0o644); err != nil {
		t.Fatal(err)
	}
	for i := 1; i <= 5; i++ {
		if err := os.WriteFile(logPath+"."+string(rune('0'+i)), []byte{byte(i)}, 0o644); err != nil {
			t.Fatal(err)
		}
	}

	if err := RotateIfOversize(logPath, 10); err != nil {
		t.Fatalf("RotateIfOversize: %v", err)
	}

	// Old .5 must be gone; old .4 became the new .5
	b, err := os.ReadFile(logPath + ".5")
	if err != nil {
		t.Fatal(err)
	}
	if b[0] != 4 {
		t.Errorf(".5 should hold old .4 content, got %v", b)
	}
	if _, err := os.Stat(logPath + ".6"); !os.IsNotExist(err) {
		t.Error("rotation must never create a .6")
	}
}

func TestRotateIfOversizeUndersizeNoop(t *testing.T) {
	dir := t.TempDir()
	logPath := filepath.Join(dir, "backup.log")
	if err := os.WriteFile(logPath, []byte("small"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := RotateIfOversize(logPath, 1024); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(logPath + ".1"); !os.IsNotExist(err) {
		t.Error("undersize log must not rotate")
	}
}

func TestLoggerWritesLeveledLines(t *testing.T) {
	dir := t.TempDir()
	logPath := filepath.Join(dir, "backup.log")

	log, err := Open(logPath, false)
	if err != nil {
		t.Fatal(err)
	}
	log.Infof("backup started for %s", "demo")
	log.WithPrefix("watcher").Warnf("subscription lost")
	if err := log.Close(); err != nil {
		t.Fatal(err)
	}

	data, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatal(err)
	}
	text := string(data)
	if !strings.Contains(text, "[INFO] backup started for demo") {
		t.Errorf("missing info line in %q", text)
	}
	if !strings.Contains(text, "[WARN] watcher: subscription lost") {
		t.Errorf("missing prefixed warn line in %q", text)
	}
}
