package watcher

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func waitEvent(t *testing.T, w *Watcher, timeout time.Duration) bool {
	t.Helper()
	select {
	case <-w.Events():
		return true
	case <-time.After(timeout):
		return false
	}
}

func TestFsnotifyBackendDeliversEvents(t *testing.T) {
	dir := t.TempDir()
	w, err := New(dir, Options{})
	if err != nil {
		t.Fatal(err)
	}
	defer w.Close()
	if w.Backend() != BackendFsnotify {
		t.Skipf("fsnotify unavailable, backend %s", w.Backend())
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := w.Start(ctx); err != nil {
		t.Fatal(err)
	}

	// Synthetic catch-up event arrives first.
	if !waitEvent(t, w, 2*time.Second) {
		t.Fatal("no startup event")
	}

	if err := os.WriteFile(filepath.Join(dir, "main.go"), []byte("package main\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if !waitEvent(t, w, 2*time.Second) {
		t.Fatal("no event after file write")
	}
}

func TestFsnotifyWatchesNewDirectories(t *testing.T) {
	dir := t.TempDir()
	w, err := New(dir, Options{})
	if err != nil {
		t.Fatal(err)
	}
	defer w.Close()
	if w.Backend() != BackendFsnotify {
		t.Skipf("fsnotify unavailable, backend %s", w.Backend())
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := w.Start(ctx); err != nil {
		t.Fatal(err)
	}
	if !waitEvent(t, w, 2*time.Second) {
		t.Fatal("no startup event")
	}

	sub := filepath.Join(dir, "pkg")
	if err := os.Mkdir(sub, 0o755); err != nil {
		t.Fatal(err)
	}
	if !waitEvent(t, w, 2*time.Second) {
		t.Fatal("no event after mkdir")
	}
	// Give the new subscription a moment to land.
	time.Sleep(100 * time.Millisecond)

	if err := os.WriteFile(filepath.Join(sub, "pkg.go"), []byte("package pkg\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if !waitEvent(t, w, 2*time.Second) {
		t.Fatal("no event from new subdirectory")
	}
}

func TestPollingDetectsChanges(t *testing.T) {
	dir := t.TempDir()
	w, err := New(dir, Options{PollInterval: 20 * time.Millisecond, ForcePoll: true})
	if err != nil {
		t.Fatal(err)
	}
	defer w.Close()
	if w.Backend() != BackendPoll {
		t.Fatalf("ForcePoll ignored, backend = %s", w.Backend())
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := w.Start(ctx); err != nil {
		t.Fatal(err)
	}
	if !waitEvent(t, w, time.Second) {
		t.Fatal("no startup event")
	}

	time.Sleep(30 * time.Millisecond)
	if err := os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	if !waitEvent(t, w, time.Second) {
		t.Fatal("polling missed the change")
	}
}

func TestPollingSkipsExcludedDirectories(t *testing.T) {
	dir := t.TempDir()
	deps := filepath.Join(dir, "node_modules")
	if err := os.Mkdir(deps, 0o755); err != nil {
		t.Fatal(err)
	}

	w, err := New(dir, Options{PollInterval: 20 * time.Millisecond, ForcePoll: true})
	if err != nil {
		t.Fatal(err)
	}
	defer w.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := w.Start(ctx); err != nil {
		t.Fatal(err)
	}
	if !waitEvent(t, w, time.Second) {
		t.Fatal("no startup event")
	}

	time.Sleep(30 * time.Millisecond)
	if err := os.WriteFile(filepath.Join(deps, "dep.js"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	if waitEvent(t, w, 200*time.Millisecond) {
		t.Fatal("change inside excluded directory produced an event")
	}
}

func TestUserExcludesMerge(t *testing.T) {
	dir := t.TempDir()
	w, err := New(dir, Options{Excludes: []string{"generated"}})
	if err != nil {
		t.Fatal(err)
	}
	defer w.Close()
	if !w.excludes["generated"] {
		t.Error("user exclude not merged")
	}
	if !w.excludes["node_modules"] {
		t.Error("default excludes lost when merging")
	}
}

func TestDefaultExcludesCopy(t *testing.T) {
	got := DefaultExcludes()
	got[0] = "mutated"
	if DefaultExcludes()[0] == "mutated" {
		t.Error("DefaultExcludes returned shared backing array")
	}
}
