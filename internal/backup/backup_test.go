package backup

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"filippo.io/age"

	"github.com/untoldecay/checkpoint/internal/logging"
	"github.com/untoldecay/checkpoint/internal/state"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestDetectChangesWalk(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "main.go"), "package main")
	writeFile(t, filepath.Join(root, "node_modules", "pkg", "index.js"), "x")
	writeFile(t, filepath.Join(root, "src", "app.go"), "package src")

	excludes := map[string]bool{"node_modules": true}
	changed, err := DetectChanges(root, excludes, time.Time{})
	if err != nil {
		t.Fatal(err)
	}
	got := strings.Join(changed, ",")
	if !strings.Contains(got, "main.go") || !strings.Contains(got, filepath.Join("src", "app.go")) {
		t.Fatalf("expected main.go and src/app.go, got %v", changed)
	}
	for _, rel := range changed {
		if strings.Contains(rel, "node_modules") {
			t.Fatalf("excluded path reported: %s", rel)
		}
	}
}

func TestDetectChangesSince(t *testing.T) {
	root := t.TempDir()
	old := filepath.Join(root, "old.txt")
	writeFile(t, old, "old")
	past := time.Now().Add(-2 * time.Hour)
	if err := os.Chtimes(old, past, past); err != nil {
		t.Fatal(err)
	}
	writeFile(t, filepath.Join(root, "new.txt"), "new")

	changed, err := DetectChanges(root, nil, time.Now().Add(-time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	if len(changed) != 1 || changed[0] != "new.txt" {
		t.Fatalf("expected only new.txt, got %v", changed)
	}
}

func TestPathExcluded(t *testing.T) {
	excludes := map[string]bool{"vendor": true}
	if !pathExcluded(filepath.Join("vendor", "lib", "a.go"), excludes) {
		t.Fatal("vendor subpath should be excluded")
	}
	if pathExcluded(filepath.Join("src", "vendor.go"), excludes) {
		t.Fatal("vendor.go is not the vendor directory")
	}
}

func TestCriticalFiles(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, ".env"), "SECRET=1")
	writeFile(t, filepath.Join(root, ".env.local"), "SECRET=2")
	writeFile(t, filepath.Join(root, "deploy", "server.pem"), "cert")
	writeFile(t, filepath.Join(root, "NOTES.md"), "notes")
	writeFile(t, filepath.Join(root, ".vscode", "settings.json"), "{}")
	writeFile(t, filepath.Join(root, ".claude", "settings.json"), "{}")
	writeFile(t, filepath.Join(root, "main.go"), "package main")

	flags := CaptureFlags{Env: true, Credentials: true, IDE: true, Notes: true, AIArtifacts: true}
	got := CriticalFiles(root, flags, nil)

	want := []string{
		".env", ".env.local",
		filepath.Join("deploy", "server.pem"),
		"NOTES.md",
		filepath.Join(".vscode", "settings.json"),
		filepath.Join(".claude", "settings.json"),
	}
	set := make(map[string]bool)
	for _, rel := range got {
		set[rel] = true
	}
	for _, rel := range want {
		if !set[rel] {
			t.Errorf("missing %s from %v", rel, got)
		}
	}
	if set["main.go"] {
		t.Error("main.go is not a critical file")
	}
}

func TestCriticalFilesFlagsOff(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, ".env"), "SECRET=1")
	writeFile(t, filepath.Join(root, ".vscode", "settings.json"), "{}")

	got := CriticalFiles(root, CaptureFlags{Notes: true}, nil)
	if len(got) != 0 {
		t.Fatalf("expected nothing with env/ide capture off, got %v", got)
	}
}

func newRecipientFile(t *testing.T) string {
	t.Helper()
	id, err := age.GenerateX25519Identity()
	if err != nil {
		t.Fatal(err)
	}
	keyFile := filepath.Join(t.TempDir(), "recipients.txt")
	writeFile(t, keyFile, "# team key\n\n"+id.Recipient().String()+"\n")
	return keyFile
}

func TestLoadRecipients(t *testing.T) {
	keyFile := newRecipientFile(t)

	recipients, err := LoadRecipients(keyFile)
	if err != nil {
		t.Fatal(err)
	}
	if len(recipients) != 1 {
		t.Fatalf("expected 1 recipient, got %d", len(recipients))
	}
}

func TestLoadRecipientsEmpty(t *testing.T) {
	dir := t.TempDir()
	keyFile := filepath.Join(dir, "recipients.txt")
	writeFile(t, keyFile, "# only comments\n")
	if _, err := LoadRecipients(keyFile); err == nil {
		t.Fatal("expected error for recipient-free key file")
	}
}

func TestEncryptFile(t *testing.T) {
	recipients, err := LoadRecipients(newRecipientFile(t))
	if err != nil {
		t.Fatal(err)
	}

	plain := filepath.Join(t.TempDir(), "dump.sql.gz")
	writeFile(t, plain, "pretend this is a compressed dump")

	encPath, err := EncryptFile(plain, recipients)
	if err != nil {
		t.Fatal(err)
	}
	if encPath != plain+".age" {
		t.Fatalf("unexpected artifact path %s", encPath)
	}
	if _, err := os.Stat(plain); !os.IsNotExist(err) {
		t.Fatal("plaintext should be removed after encryption")
	}
	data, err := os.ReadFile(encPath)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(string(data), ageHeader) {
		t.Fatal("encrypted artifact missing age header")
	}
}

func TestMirrorCloudMissingDir(t *testing.T) {
	errs := mirrorCloud(t.TempDir(), "/nonexistent/cloud", []string{"a"})
	if len(errs) != 1 {
		t.Fatalf("expected one error, got %v", errs)
	}
}

func TestMirrorCloudPreservesLayout(t *testing.T) {
	backupRoot := t.TempDir()
	cloud := t.TempDir()
	artifact := filepath.Join(backupRoot, "databases", "pg_app.sql.gz")
	writeFile(t, artifact, "dump")

	if errs := mirrorCloud(backupRoot, cloud, []string{artifact}); len(errs) != 0 {
		t.Fatalf("mirror errors: %v", errs)
	}
	if _, err := os.Stat(filepath.Join(cloud, "databases", "pg_app.sql.gz")); err != nil {
		t.Fatalf("mirrored artifact missing: %v", err)
	}
}

func newTestExecutor(t *testing.T) (*Executor, string) {
	t.Helper()
	root := t.TempDir()
	stateRoot := t.TempDir()
	st, err := state.New(stateRoot, "demo")
	if err != nil {
		t.Fatal(err)
	}
	backupDir := filepath.Join(t.TempDir(), "backups")
	return &Executor{
		ProjectID: "demo",
		Root:      root,
		BackupDir: backupDir,
		Settings: Settings{
			WarnPercent:     101,
			CriticalPercent: 101,
			CompressLevel:   6,
			SymlinkPolicy:   "skip",
		},
		State: st,
		Log:   logging.Discard(),
	}, root
}

func TestRunSkipsWhenPaused(t *testing.T) {
	e, _ := newTestExecutor(t)
	if err := e.State.Pause(); err != nil {
		t.Fatal(err)
	}
	rec, err := e.Run(context.Background(), CauseManual, Opts{Force: true})
	if err != nil {
		t.Fatal(err)
	}
	if rec.Outcome != OutcomeSkipped || rec.SkipReason != "paused" {
		t.Fatalf("expected paused skip, got %+v", rec)
	}
}

func TestRunSkipsWhenNoChanges(t *testing.T) {
	e, _ := newTestExecutor(t)
	if err := e.State.SetLastBackupTime(time.Now().Add(time.Minute)); err != nil {
		t.Fatal(err)
	}
	rec, err := e.Run(context.Background(), CauseInterval, Opts{})
	if err != nil {
		t.Fatal(err)
	}
	if rec.Outcome != OutcomeSkipped || rec.SkipReason != "no changes" {
		t.Fatalf("expected no-changes skip, got %+v", rec)
	}
}

func TestRunFailsWhenDriveMissing(t *testing.T) {
	e, _ := newTestExecutor(t)
	e.Settings.DriveVerification = true
	e.Settings.DriveMarker = filepath.Join(t.TempDir(), ".checkpoint-drive")

	rec, err := e.Run(context.Background(), CauseManual, Opts{Force: true})
	if err == nil {
		t.Fatal("expected drive error")
	}
	if rec.Outcome != OutcomeFailed {
		t.Fatalf("expected failed outcome, got %s", rec.Outcome)
	}
}

func TestRunForceBypassesNoChanges(t *testing.T) {
	e, root := newTestExecutor(t)
	writeFile(t, filepath.Join(root, "app.go"), "package app")
	if err := e.State.SetLastBackupTime(time.Now().Add(time.Minute)); err != nil {
		t.Fatal(err)
	}

	rec, err := e.Run(context.Background(), CauseManual, Opts{Force: true, LocalOnly: true})
	if err != nil {
		t.Fatal(err)
	}
	if rec.Outcome == OutcomeSkipped {
		t.Fatalf("force should run despite no recent changes, got %+v", rec)
	}
}

func TestRunStagesAndArchives(t *testing.T) {
	e, root := newTestExecutor(t)
	writeFile(t, filepath.Join(root, "app.go"), "package app // v1")

	rec, err := e.Run(context.Background(), CauseManual, Opts{LocalOnly: true})
	if err != nil {
		t.Fatal(err)
	}
	if rec.Outcome != OutcomeSuccess {
		t.Fatalf("first run: %+v", rec)
	}
	staged := filepath.Join(e.BackupDir, "files", "app.go")
	if _, err := os.Stat(staged); err != nil {
		t.Fatalf("staged file missing: %v", err)
	}
	first := e.State.LastBackupTime()
	if first.IsZero() {
		t.Fatal("last backup time not recorded")
	}

	// Second run replaces the staged copy and archives the old one.
	time.Sleep(10 * time.Millisecond)
	writeFile(t, filepath.Join(root, "app.go"), "package app // v2 with more bytes")
	rec2, err := e.Run(context.Background(), CauseWatcher, Opts{Force: true, LocalOnly: true})
	if err != nil {
		t.Fatal(err)
	}
	if rec2.Outcome != OutcomeSuccess {
		t.Fatalf("second run: %+v", rec2)
	}
	entries, err := os.ReadDir(filepath.Join(e.BackupDir, "archived"))
	if err != nil || len(entries) == 0 {
		t.Fatalf("expected an archived snapshot, err=%v entries=%v", err, entries)
	}
	if !e.State.LastBackupTime().After(first.Add(-time.Second)) {
		t.Fatal("last backup time went backwards")
	}
}

func TestRunDryRun(t *testing.T) {
	e, root := newTestExecutor(t)
	writeFile(t, filepath.Join(root, "app.go"), "package app")

	rec, err := e.Run(context.Background(), CauseManual, Opts{DryRun: true})
	if err != nil {
		t.Fatal(err)
	}
	if rec.Outcome != OutcomeSkipped {
		t.Fatalf("dry run must not write, got %+v", rec)
	}
	if _, err := os.Stat(filepath.Join(e.BackupDir, "files")); !os.IsNotExist(err) {
		t.Fatal("dry run staged files")
	}
	if rec.FilesChanged == 0 {
		t.Fatal("dry run should still report the change count")
	}
}

func TestRunWritesRecordFile(t *testing.T) {
	e, root := newTestExecutor(t)
	writeFile(t, filepath.Join(root, "app.go"), "package app")

	if _, err := e.Run(context.Background(), CauseManual, Opts{LocalOnly: true}); err != nil {
		t.Fatal(err)
	}
	data, err := os.ReadFile(filepath.Join(e.BackupDir, ".backup-state"))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), `"outcome": "success"`) {
		t.Fatalf("record file missing outcome: %s", data)
	}
}
