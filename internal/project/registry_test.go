package project

import (
	"os"
	"path/filepath"
	"testing"
)

func TestSlug(t *testing.T) {
	cases := []struct{ in, want string }{
		{"MyApp", "myapp"},
		{"my app 2", "my-app-2"},
		{"client_site (old)", "client-site-old"},
		{"--weird--", "weird"},
	}
	for _, c := range cases {
		if got := Slug(c.in); got != c.want {
			t.Errorf("Slug(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}

func TestRegisterAndList(t *testing.T) {
	r, err := OpenRegistry(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}

	if err := r.Register(Entry{Root: "/home/dev/myapp", BackupDir: "/backups/myapp"}); err != nil {
		t.Fatal(err)
	}
	entries, err := r.List()
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Fatalf("got %d entries, want 1", len(entries))
	}
	if entries[0].ID != "myapp" {
		t.Errorf("ID = %q, want myapp", entries[0].ID)
	}
	if entries[0].RegisteredAt.IsZero() {
		t.Error("RegisteredAt not defaulted")
	}
}

func TestRegisterReplacesSameRoot(t *testing.T) {
	r, err := OpenRegistry(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	if err := r.Register(Entry{Root: "/home/dev/myapp", BackupDir: "/old"}); err != nil {
		t.Fatal(err)
	}
	if err := r.Register(Entry{Root: "/home/dev/myapp", BackupDir: "/new"}); err != nil {
		t.Fatal(err)
	}
	entries, err := r.List()
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Fatalf("got %d entries, want 1", len(entries))
	}
	if entries[0].BackupDir != "/new" {
		t.Errorf("BackupDir = %q, want /new", entries[0].BackupDir)
	}
}

func TestUnregister(t *testing.T) {
	r, err := OpenRegistry(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	if err := r.Register(Entry{Root: "/home/dev/a"}); err != nil {
		t.Fatal(err)
	}
	if err := r.Register(Entry{Root: "/home/dev/b"}); err != nil {
		t.Fatal(err)
	}
	if err := r.Unregister("a"); err != nil {
		t.Fatal(err)
	}
	entries, err := r.List()
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 || entries[0].ID != "b" {
		t.Errorf("unexpected entries after unregister: %+v", entries)
	}
	// Unknown ID is a no-op.
	if err := r.Unregister("nope"); err != nil {
		t.Fatal(err)
	}
}

func TestCorruptedRegistryReadsEmpty(t *testing.T) {
	dir := t.TempDir()
	r, err := OpenRegistry(dir)
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "registry.json"), []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}
	entries, err := r.List()
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		t.Errorf("corrupted registry produced entries: %+v", entries)
	}
}

func TestGetAndFindByRoot(t *testing.T) {
	r, err := OpenRegistry(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	if err := r.Register(Entry{Root: "/home/dev/site"}); err != nil {
		t.Fatal(err)
	}
	e, ok, err := r.Get("site")
	if err != nil || !ok {
		t.Fatalf("Get: ok=%v err=%v", ok, err)
	}
	if e.Root != "/home/dev/site" {
		t.Errorf("Root = %q", e.Root)
	}
	_, ok, err = r.Get("missing")
	if err != nil || ok {
		t.Errorf("Get(missing): ok=%v err=%v", ok, err)
	}
	e, ok, err = r.FindByRoot("/home/dev/site")
	if err != nil || !ok || e.ID != "site" {
		t.Errorf("FindByRoot: %+v ok=%v err=%v", e, ok, err)
	}
}
