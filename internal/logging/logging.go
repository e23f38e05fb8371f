// Package logging provides the size-bounded rotating log used by the
// watcher, the periodic agent, and the executor. Each log line carries a
// timestamp and a level so the status command can parse recent failures.
package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"
)

// DefaultMaxSizeMB bounds a log file before rotation kicks in.
const DefaultMaxSizeMB = 10

// maxRotated is how many numbered rotations are kept (.1 through .5).
const maxRotated = 5

// Logger writes timestamped lines to a rotating file, optionally echoing
// to stderr for foreground runs.
type Logger struct {
	mu     sync.Mutex
	out    io.WriteCloser
	echo   bool
	prefix string
}

// Open creates a logger writing to path. An oversize log left behind by a
// previous run is rotated into the numbered chain before the first write.
func Open(path string, echo bool) (*Logger, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, fmt.Errorf("creating log directory: %w", err)
	}
	if err := RotateIfOversize(path, DefaultMaxSizeMB*1024*1024); err != nil {
		// Rotation failure is not fatal; lumberjack still bounds the file.
		fmt.Fprintf(os.Stderr, "Warning: log rotation failed: %v\n", err)
	}
	return &Logger{
		out: &lumberjack.Logger{
			Filename:   path,
			MaxSize:    DefaultMaxSizeMB,
			MaxBackups: maxRotated,
			Compress:   false,
		},
		echo: echo,
	}, nil
}

// Discard returns a logger that drops every line, for tests and for
// commands that run before the log file is available.
func Discard() *Logger {
	return &Logger{out: nopCloser{io.Discard}}
}

type nopCloser struct{ io.Writer }

func (nopCloser) Close() error { return nil }

// WithPrefix returns a logger sharing the same output with lines tagged
// by the given component name.
func (l *Logger) WithPrefix(prefix string) *Logger {
	return &Logger{out: l.out, echo: l.echo, prefix: prefix}
}

func (l *Logger) write(level, format string, args ...interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()
	ts := time.Now().Format("2006-01-02 15:04:05")
	var line string
	if l.prefix != "" {
		line = fmt.Sprintf("%s [%s] %s: %s\n", ts, level, l.prefix, fmt.Sprintf(format, args...))
	} else {
		line = fmt.Sprintf("%s [%s] %s\n", ts, level, fmt.Sprintf(format, args...))
	}
	_, _ = io.WriteString(l.out, line)
	if l.echo {
		fmt.Fprint(os.Stderr, line)
	}
}

// Infof logs an informational line.
func (l *Logger) Infof(format string, args ...interface{}) { l.write("INFO", format, args...) }

// Warnf logs a warning line.
func (l *Logger) Warnf(format string, args ...interface{}) { l.write("WARN", format, args...) }

// Errorf logs an error line.
func (l *Logger) Errorf(format string, args ...interface{}) { l.write("ERROR", format, args...) }

// Close releases the underlying file.
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.out.Close()
}

// RotateIfOversize shifts path into the numbered rotation chain
// (path → path.1, path.1 → path.2, …) when it exceeds maxBytes. The
// oldest rotation (.5) is dropped. A fresh file is created by the next
// write. Renames are best-effort: a concurrent writer within the small
// rotation window may lose at most a handful of lines.
func RotateIfOversize(path string, maxBytes int64) error {
	st, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	if st.Size() <= maxBytes {
		return nil
	}

	// Shift oldest-first so each rename target is free.
	oldest := fmt.Sprintf("%s.%d", path, maxRotated)
	_ = os.Remove(oldest)
	for i := maxRotated - 1; i >= 1; i-- {
		from := fmt.Sprintf("%s.%d", path, i)
		if _, err := os.Stat(from); err != nil {
			continue
		}
		if err := os.Rename(from, fmt.Sprintf("%s.%d", path, i+1)); err != nil {
			return err
		}
	}
	return os.Rename(path, path+".1")
}
