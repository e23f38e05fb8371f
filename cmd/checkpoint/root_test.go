package main

import (
	"strings"
	"testing"
	"time"

	"github.com/untoldecay/checkpoint/internal/project"
)

func TestAgentEnvCarriesInterval(t *testing.T) {
	env := agentEnv("/work/app", 30*time.Minute)
	if env["CHECKPOINT_PROJECT_ROOT"] != "/work/app" {
		t.Fatalf("project root missing: %v", env)
	}
	// The installed agent re-reads config; the flag must ride along as
	// an env override or it silently falls back to backup.interval.
	if env["CHECKPOINT_BACKUP_INTERVAL"] != "30m0s" {
		t.Fatalf("interval override missing: %v", env)
	}
	if _, ok := agentEnv("/work/app", 0)["CHECKPOINT_BACKUP_INTERVAL"]; ok {
		t.Fatal("no --interval given, env override must be absent")
	}
}

func TestBackupDirForPrefersRegistryEntry(t *testing.T) {
	entry := project.Entry{ID: "demo", BackupDir: "/mnt/backups/demo"}
	if got := backupDirFor(entry); got != "/mnt/backups/demo" {
		t.Fatalf("expected registry dir, got %s", got)
	}
}

func TestBackupDirForDefault(t *testing.T) {
	entry := project.Entry{ID: "demo"}
	got := backupDirFor(entry)
	if !strings.Contains(got, ".checkpoint") || !strings.HasSuffix(got, "demo") {
		t.Fatalf("unexpected default backup dir %s", got)
	}
}

func TestExitCodesAreStable(t *testing.T) {
	// The menu-bar UI and shell hooks depend on these values.
	if exitOK != 0 || exitConfig != 2 || exitPlatform != 3 || exitLocked != 5 || exitDegraded != 6 || exitBackup != 7 {
		t.Fatal("exit code mapping changed")
	}
}
