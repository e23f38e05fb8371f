// Package lockfile provides advisory per-(project, operation) locks built
// on flock. The OS releases flocks when the holder dies, so stale locks
// from crashed processes are reclaimed automatically; the PID recorded in
// the lock file is informational for diagnostics.
package lockfile

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
)

// Lock is a held advisory lock. Release it on every exit path.
type Lock struct {
	name string
	fl   *flock.Flock
}

// ErrContended is returned by Acquire when another process holds the lock.
type ErrContended struct {
	Name string
	PID  int
}

func (e *ErrContended) Error() string {
	if e.PID > 0 {
		return fmt.Sprintf("operation %q is locked by PID %d", e.Name, e.PID)
	}
	return fmt.Sprintf("operation %q is locked by another process", e.Name)
}

func lockPath(dir, name string) string {
	return filepath.Join(dir, name+".lock")
}

// Acquire attempts to take the named operation lock without blocking.
// On contention it returns *ErrContended carrying the holder's PID when
// readable.
func Acquire(dir, name string) (*Lock, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, err
	}
	path := lockPath(dir, name)
	fl := flock.New(path)
	ok, err := fl.TryLock()
	if err != nil {
		return nil, fmt.Errorf("acquiring %s lock: %w", name, err)
	}
	if !ok {
		return nil, &ErrContended{Name: name, PID: holderPID(path)}
	}
	// Record our PID for diagnostics. Failure here is non-fatal: the
	// flock itself is the source of truth.
	_ = os.WriteFile(path, []byte(fmt.Sprintf("%d\n", os.Getpid())), 0o640)
	return &Lock{name: name, fl: fl}, nil
}

// AcquireBlocking waits for the named lock until ctx is done, polling the
// way the flock package recommends for context-aware acquisition.
func AcquireBlocking(ctx context.Context, dir, name string) (*Lock, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, err
	}
	path := lockPath(dir, name)
	fl := flock.New(path)
	ok, err := fl.TryLockContext(ctx, 100*time.Millisecond)
	if err != nil {
		return nil, fmt.Errorf("waiting for %s lock: %w", name, err)
	}
	if !ok {
		return nil, &ErrContended{Name: name, PID: holderPID(path)}
	}
	_ = os.WriteFile(path, []byte(fmt.Sprintf("%d\n", os.Getpid())), 0o640)
	return &Lock{name: name, fl: fl}, nil
}

// Release unlocks. Safe to call once on any exit path; the lock file is
// left in place for the next acquirer.
func (l *Lock) Release() error {
	if l == nil || l.fl == nil {
		return nil
	}
	return l.fl.Unlock()
}

// Name returns the operation name this lock guards.
func (l *Lock) Name() string { return l.name }

// holderPID best-effort reads the PID recorded in the lock file.
func holderPID(path string) int {
	data, err := os.ReadFile(path) // #nosec G304 -- path is under the project state directory
	if err != nil {
		return 0
	}
	var pid int
	if _, err := fmt.Sscanf(string(data), "%d", &pid); err != nil {
		return 0
	}
	return pid
}
