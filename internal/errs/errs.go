// Package errs defines the error taxonomy shared by every checkpoint
// component. Errors carry a stable code, a category, and a one-line
// suggested fix so the status command and notifications can surface
// actionable messages without string matching.
package errs

import (
	"errors"
	"fmt"
)

// Category groups error codes by failure domain.
type Category string

const (
	CategoryPerm       Category = "PERM"
	CategoryDisk       Category = "DISK"
	CategoryConf       Category = "CONF"
	CategoryDB         Category = "DB"
	CategoryNet        Category = "NET"
	CategoryFile       Category = "FILE"
	CategoryCapability Category = "CAPABILITY"
	CategoryDaemon     Category = "DAEMON"
	CategoryUnknown    Category = "UNKNOWN"
)

// Well-known error codes. The status command and exit-code mapping key
// off these, so they are stable strings, not iota values.
const (
	CodeDiskFull       = "EDISK001"
	CodeDriveUnmounted = "EDISK002"
	CodeDiskCritical   = "EDISK003"
	CodePermRead       = "EPERM001"
	CodePermWrite      = "EPERM002"
	CodeConfInvalid    = "ECONF001"
	CodeConfCloudPath  = "ECONF002"
	CodeDBToolMissing  = "EDB001"
	CodeDBConnFailed   = "EDB002"
	CodeDBDumpFailed   = "EDB003"
	CodeDBTimeout      = "EDB_TIMEOUT"
	CodeDBLocked       = "EDB005"
	CodeNetUnreachable = "ENET001"
	CodeNetAgentDown   = "ENET002"
	CodeFileVanished   = "EFILE001"
	CodeFileSizeDrift  = "EFILE002"
	CodeCapNoManager   = "ECAP001"
	CodeCapNoWatcher   = "ECAP002"
	CodeCapNoDocker    = "ECAP003"
	CodeDaemonRunning  = "EDMN001"
	CodeDaemonDead     = "EDMN002"
	CodeUnknown        = "EUNKNOWN"
)

// hints maps codes to a short human description and a suggested fix.
var hints = map[string][2]string{
	CodeDiskFull:       {"Backup destination is full", "Free space or increase quota — df -h $BACKUP_DIR"},
	CodeDriveUnmounted: {"Backup drive not mounted", "Mount the drive or disable drive.verification_enabled"},
	CodeDiskCritical:   {"Disk usage above critical threshold", "Run 'checkpoint cleanup --preview' to see what can be pruned"},
	CodePermRead:       {"Permission denied reading source", "Check ownership of the project directory"},
	CodePermWrite:      {"Permission denied writing destination", "Check ownership of the backup directory"},
	CodeConfInvalid:    {"Invalid or missing configuration", "Run 'checkpoint config validate'"},
	CodeConfCloudPath:  {"Cloud folder path is unreachable", "Verify backup.cloud_dir points at a mounted sync folder"},
	CodeDBToolMissing:  {"Database dump tool not installed", "Install the engine client tools (pg_dump, mysqldump, mongodump)"},
	CodeDBConnFailed:   {"Database connection failed", "Check the engine is running and credentials are valid"},
	CodeDBDumpFailed:   {"Database dump process failed", "Inspect the backup log for the dump tool's stderr"},
	CodeDBTimeout:      {"Database dump timed out", "Raise database.dump_timeout or check engine load"},
	CodeDBLocked:       {"Database file is locked", "Close the application holding the database open"},
	CodeNetUnreachable: {"Cloud sync destination unreachable", "Check network connectivity and the remote URI"},
	CodeNetAgentDown:   {"Cloud sync agent not running", "Start the sync client (Dropbox/Drive) and retry"},
	CodeFileVanished:   {"Source file vanished mid-copy", "Transient; the next run will pick it up"},
	CodeFileSizeDrift:  {"Size mismatch after copy", "Transient; the copy is retried automatically"},
	CodeCapNoManager:   {"No service manager available on this platform", "Install launchd/systemd or run 'checkpoint watch start' manually"},
	CodeCapNoWatcher:   {"Native file watching unavailable", "Polling fallback is active; raise watch.poll_interval if CPU-bound"},
	CodeCapNoDocker:    {"Docker is not available", "Install Docker or disable database.backup_docker"},
	CodeDaemonRunning:  {"A daemon is already running for this project", "Run 'checkpoint watch status' or stop the existing daemon first"},
	CodeDaemonDead:     {"Daemon stopped responding", "Run 'checkpoint watch start' or check the backup log"},
	CodeUnknown:        {"Unexpected error", "See the raw diagnostic in the backup log"},
}

// Error is a categorized checkpoint error.
type Error struct {
	Code     string
	Category Category
	Msg      string
	Err      error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Msg)
}

func (e *Error) Unwrap() error { return e.Err }

// New creates a categorized error. The category is derived from the code
// prefix when it matches a known family.
func New(code, msg string) *Error {
	return &Error{Code: code, Category: categoryFor(code), Msg: msg}
}

// Wrap creates a categorized error around an underlying cause.
func Wrap(code string, err error, msg string) *Error {
	return &Error{Code: code, Category: categoryFor(code), Msg: msg, Err: err}
}

func categoryFor(code string) Category {
	switch {
	case len(code) >= 5 && code[:5] == "EDISK":
		return CategoryDisk
	case len(code) >= 5 && code[:5] == "EPERM":
		return CategoryPerm
	case len(code) >= 5 && code[:5] == "ECONF":
		return CategoryConf
	case len(code) >= 3 && code[:3] == "EDB":
		return CategoryDB
	case len(code) >= 4 && code[:4] == "ENET":
		return CategoryNet
	case len(code) >= 5 && code[:5] == "EFILE":
		return CategoryFile
	case len(code) >= 4 && code[:4] == "ECAP":
		return CategoryCapability
	case len(code) >= 4 && code[:4] == "EDMN":
		return CategoryDaemon
	default:
		return CategoryUnknown
	}
}

// Describe returns the human description and suggested fix for a code.
func Describe(code string) (desc, fix string) {
	if h, ok := hints[code]; ok {
		return h[0], h[1]
	}
	h := hints[CodeUnknown]
	return h[0], h[1]
}

// CodeOf extracts the checkpoint error code from err, or EUNKNOWN.
func CodeOf(err error) string {
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Code
	}
	return CodeUnknown
}

// CategoryOf extracts the category from err, or UNKNOWN.
func CategoryOf(err error) Category {
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Category
	}
	return CategoryUnknown
}

// IsCapability reports whether err is a capability error (platform
// facility absent). Callers use this to distinguish "can't ever work
// here" from transient failures.
func IsCapability(err error) bool {
	return CategoryOf(err) == CategoryCapability
}
