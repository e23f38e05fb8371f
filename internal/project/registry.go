// Package project maintains the user-wide registry of backed-up
// projects. The watchdog and status dashboard enumerate projects from
// here; registration happens through the CLI.
package project

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/gofrs/flock"
)

// Entry is one registered project.
type Entry struct {
	ID           string    `json:"id"`
	Root         string    `json:"root"`
	BackupDir    string    `json:"backup_dir"`
	RegisteredAt time.Time `json:"registered_at"`
}

// Registry manages the registry file at ~/.checkpoint/registry.json.
// Cross-process safety comes from an exclusive file lock around every
// read-modify-write; in-process callers additionally serialize on mu.
type Registry struct {
	path     string
	lockPath string
	mu       sync.Mutex
}

// NewRegistry opens the user's registry, creating ~/.checkpoint if
// needed.
func NewRegistry() (*Registry, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("resolving home directory: %w", err)
	}
	return OpenRegistry(filepath.Join(home, ".checkpoint"))
}

// OpenRegistry opens a registry rooted at dir.
func OpenRegistry(dir string) (*Registry, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("creating registry directory: %w", err)
	}
	return &Registry{
		path:     filepath.Join(dir, "registry.json"),
		lockPath: filepath.Join(dir, "registry.lock"),
	}, nil
}

// Slug derives a stable project identifier from a directory name:
// lowercase, runs of non-alphanumerics collapsed to single dashes.
func Slug(name string) string {
	var b strings.Builder
	dash := false
	for _, r := range strings.ToLower(name) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
			dash = false
			continue
		}
		if !dash && b.Len() > 0 {
			b.WriteByte('-')
			dash = true
		}
	}
	return strings.TrimSuffix(b.String(), "-")
}

// IDForRoot returns the registry identifier a project at root would get.
func IDForRoot(root string) string {
	return Slug(filepath.Base(root))
}

func (r *Registry) withLock(fn func() error) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	fl := flock.New(r.lockPath)
	if err := fl.Lock(); err != nil {
		return fmt.Errorf("locking registry: %w", err)
	}
	defer func() { _ = fl.Unlock() }()

	return fn()
}

// readLocked loads all entries. Missing, empty, or corrupted files read
// as empty; a corrupted registry just means projects re-register.
func (r *Registry) readLocked() ([]Entry, error) {
	data, err := os.ReadFile(r.path)
	if err != nil {
		if os.IsNotExist(err) {
			return []Entry{}, nil
		}
		return nil, fmt.Errorf("reading registry: %w", err)
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		return []Entry{}, nil
	}
	var entries []Entry
	if err := json.Unmarshal(data, &entries); err != nil {
		return []Entry{}, nil
	}
	return entries, nil
}

// writeLocked stores all entries atomically.
func (r *Registry) writeLocked(entries []Entry) error {
	if entries == nil {
		entries = []Entry{}
	}
	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding registry: %w", err)
	}

	dir := filepath.Dir(r.path)
	tmp, err := os.CreateTemp(dir, "registry-*.json.tmp")
	if err != nil {
		return fmt.Errorf("creating temp registry: %w", err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("writing temp registry: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("syncing temp registry: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return err
	}
	if err := os.Rename(tmpPath, r.path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("replacing registry: %w", err)
	}
	return nil
}

// Register adds or replaces a project. An existing entry with the same
// ID or root is superseded.
func (r *Registry) Register(entry Entry) error {
	if entry.ID == "" {
		entry.ID = IDForRoot(entry.Root)
	}
	if entry.RegisteredAt.IsZero() {
		entry.RegisteredAt = time.Now()
	}
	return r.withLock(func() error {
		entries, err := r.readLocked()
		if err != nil {
			return err
		}
		filtered := entries[:0]
		for _, e := range entries {
			if e.ID != entry.ID && e.Root != entry.Root {
				filtered = append(filtered, e)
			}
		}
		filtered = append(filtered, entry)
		return r.writeLocked(filtered)
	})
}

// Unregister removes a project by ID. Removing an unknown ID is not an
// error.
func (r *Registry) Unregister(id string) error {
	return r.withLock(func() error {
		entries, err := r.readLocked()
		if err != nil {
			return err
		}
		filtered := entries[:0]
		for _, e := range entries {
			if e.ID != id {
				filtered = append(filtered, e)
			}
		}
		return r.writeLocked(filtered)
	})
}

// List returns all registered projects.
func (r *Registry) List() ([]Entry, error) {
	var entries []Entry
	err := r.withLock(func() error {
		var readErr error
		entries, readErr = r.readLocked()
		return readErr
	})
	return entries, err
}

// Get returns the entry for id, or false when unregistered.
func (r *Registry) Get(id string) (Entry, bool, error) {
	entries, err := r.List()
	if err != nil {
		return Entry{}, false, err
	}
	for _, e := range entries {
		if e.ID == id {
			return e, true, nil
		}
	}
	return Entry{}, false, nil
}

// FindByRoot returns the entry whose root matches the given directory.
func (r *Registry) FindByRoot(root string) (Entry, bool, error) {
	entries, err := r.List()
	if err != nil {
		return Entry{}, false, err
	}
	for _, e := range entries {
		if e.Root == root {
			return e, true, nil
		}
	}
	return Entry{}, false, nil
}
