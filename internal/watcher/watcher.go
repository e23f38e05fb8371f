// Package watcher emits coalesced change events for one project tree.
// It prefers filesystem notification and degrades to mtime polling; the
// consumer (the debouncer) only needs to know that something changed,
// so events carry no paths.
package watcher

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/untoldecay/checkpoint/internal/logging"
)

// Backend identifies how changes are being detected.
type Backend string

const (
	BackendFsnotify Backend = "fsnotify"
	BackendPoll     Backend = "poll"
)

// ErrSubscriptionLost signals that the native subscription broke
// (watch limit, deleted subtree). The supervisor restarts the watcher.
type ErrSubscriptionLost struct {
	Cause error
}

func (e *ErrSubscriptionLost) Error() string {
	return fmt.Sprintf("watch subscription lost: %v", e.Cause)
}

func (e *ErrSubscriptionLost) Unwrap() error { return e.Cause }

// defaultExcludes are directory names never worth backing up: dependency
// stores, build outputs, VCS internals, IDE and tool caches, and the
// backup destination itself.
var defaultExcludes = []string{
	"node_modules", ".git", ".svn", ".hg",
	"vendor", "target", "dist", "build", "out", "bin", "obj",
	"__pycache__", ".pytest_cache", ".mypy_cache", ".tox",
	".venv", "venv", ".idea", ".vscode", ".cache", ".gradle",
	".next", ".nuxt", ".terraform", "coverage", "tmp", "backups",
}

// DefaultExcludes returns a copy of the built-in exclusion list.
func DefaultExcludes() []string {
	out := make([]string, len(defaultExcludes))
	copy(out, defaultExcludes)
	return out
}

// Options tunes a Watcher. Zero values select the defaults.
type Options struct {
	// Excludes are merged with the default exclusion list.
	Excludes []string
	// PollInterval is the polling-backend period (default 30s).
	PollInterval time.Duration
	// ForceNative disables the polling fallback: construction fails if
	// filesystem notification is unavailable.
	ForceNative bool
	// ForcePoll selects the polling backend outright. The supervisor
	// sets it after repeated subscription losses.
	ForcePoll bool
	Log       *logging.Logger
}

// Watcher monitors one project root and delivers opaque change events.
// Events may be produced faster than consumed; the channel holds one
// pending event and further ones coalesce into it.
type Watcher struct {
	root     string
	excludes map[string]bool
	backend  Backend

	fsw          *fsnotify.Watcher
	pollInterval time.Duration
	marker       time.Time

	events chan struct{}
	errs   chan error
	cancel context.CancelFunc
	wg     sync.WaitGroup
	log    *logging.Logger
}

// New builds a Watcher for root. The fsnotify backend is preferred;
// when it cannot be initialized the watcher falls back to polling
// unless CHECKPOINT_WATCHER_FALLBACK is "false" or "0" (or
// opts.ForceNative is set), in which case construction fails.
func New(root string, opts Options) (*Watcher, error) {
	if opts.PollInterval <= 0 {
		opts.PollInterval = 30 * time.Second
	}
	w := &Watcher{
		root:         root,
		excludes:     make(map[string]bool),
		pollInterval: opts.PollInterval,
		marker:       time.Now(),
		events:       make(chan struct{}, 1),
		errs:         make(chan error, 1),
		log:          opts.Log,
	}
	for _, pat := range defaultExcludes {
		w.excludes[pat] = true
	}
	for _, pat := range opts.Excludes {
		if pat != "" {
			w.excludes[pat] = true
		}
	}

	if opts.ForcePoll {
		w.backend = BackendPoll
		return w, nil
	}

	fallbackEnv := os.Getenv("CHECKPOINT_WATCHER_FALLBACK")
	fallbackDisabled := opts.ForceNative || fallbackEnv == "false" || fallbackEnv == "0"

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		if fallbackDisabled {
			return nil, fmt.Errorf("fsnotify unavailable and fallback disabled: %w", err)
		}
		w.logf("fsnotify unavailable (%v), falling back to polling every %v", err, w.pollInterval)
		w.backend = BackendPoll
		return w, nil
	}
	w.fsw = fsw
	w.backend = BackendFsnotify
	return w, nil
}

// Backend reports the detection backend chosen at construction.
func (w *Watcher) Backend() Backend { return w.backend }

// Events delivers change events. The channel is never closed while the
// watcher runs; consumers stop via their own context.
func (w *Watcher) Events() <-chan struct{} { return w.events }

// Errors delivers recoverable failures (subscription loss). The
// supervisor should restart the watcher when one arrives.
func (w *Watcher) Errors() <-chan error { return w.errs }

// Start subscribes (or arms the poll ticker) and begins delivering
// events until the context is cancelled or Close is called. One
// synthetic event is emitted once subscriptions are complete, so the
// consumer can catch up on anything changed during setup.
func (w *Watcher) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	w.cancel = cancel

	if w.backend == BackendPoll {
		w.startPolling(ctx)
		w.emit()
		return nil
	}

	if err := w.subscribeTree(w.root); err != nil {
		w.fsw.Close()
		cancel()
		return err
	}

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		for {
			select {
			case event, ok := <-w.fsw.Events:
				if !ok {
					w.reportLost(fmt.Errorf("event channel closed"))
					return
				}
				w.handleEvent(event)
			case err, ok := <-w.fsw.Errors:
				if !ok {
					w.reportLost(fmt.Errorf("error channel closed"))
					return
				}
				w.logf("watch error: %v", err)
				w.reportLost(err)
				return
			case <-ctx.Done():
				return
			}
		}
	}()

	// Synthetic catch-up event: subscription setup on a large tree can
	// take long enough to lose real events.
	w.emit()
	return nil
}

func (w *Watcher) handleEvent(event fsnotify.Event) {
	base := filepath.Base(event.Name)
	if w.excludes[base] {
		return
	}
	if event.Op&fsnotify.Create != 0 {
		// New directories need their own subscription.
		if st, err := os.Stat(event.Name); err == nil && st.IsDir() {
			if err := w.subscribeTree(event.Name); err != nil {
				w.logf("failed to watch new directory %s: %v", event.Name, err)
			}
		}
	}
	if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) != 0 {
		w.emit()
	}
}

// subscribeTree adds root and every non-excluded directory beneath it.
func (w *Watcher) subscribeTree(root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if path != root && w.excludes[d.Name()] {
			return filepath.SkipDir
		}
		if err := w.fsw.Add(path); err != nil {
			return &ErrSubscriptionLost{Cause: err}
		}
		return nil
	})
}

// startPolling walks the tree each tick and emits when any file's
// mtime passed the marker.
func (w *Watcher) startPolling(ctx context.Context) {
	w.logf("polling %s every %v", w.root, w.pollInterval)
	ticker := time.NewTicker(w.pollInterval)
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if w.scanNewer() {
					w.emit()
				}
			case <-ctx.Done():
				return
			}
		}
	}()
}

// scanNewer reports whether any non-excluded file changed after the
// marker, advancing the marker when it did.
func (w *Watcher) scanNewer() bool {
	changed := false
	now := time.Now()
	_ = filepath.WalkDir(w.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			if path != w.root && w.excludes[d.Name()] {
				return filepath.SkipDir
			}
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		if info.ModTime().After(w.marker) {
			changed = true
		}
		return nil
	})
	if changed {
		w.marker = now
	}
	return changed
}

// emit delivers one event without blocking; a pending undelivered
// event absorbs further ones.
func (w *Watcher) emit() {
	select {
	case w.events <- struct{}{}:
	default:
	}
}

func (w *Watcher) reportLost(cause error) {
	select {
	case w.errs <- &ErrSubscriptionLost{Cause: cause}:
	default:
	}
}

func (w *Watcher) logf(format string, args ...any) {
	if w.log != nil {
		w.log.Infof(format, args...)
	}
}

// Close stops event delivery and releases the subscription.
func (w *Watcher) Close() error {
	if w.cancel != nil {
		w.cancel()
	}
	w.wg.Wait()
	if w.fsw != nil {
		return w.fsw.Close()
	}
	return nil
}
