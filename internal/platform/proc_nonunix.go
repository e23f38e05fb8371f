//go:build !unix

package platform

import (
	"fmt"
	"runtime"

	"github.com/untoldecay/checkpoint/internal/errs"
)

// PIDAlive reports whether a process with the given PID exists.
func PIDAlive(pid int) bool { return false }

// DiskUsage returns the used percentage and free bytes of the filesystem
// containing path.
func DiskUsage(path string) (usedPercent int, freeBytes uint64, err error) {
	return 0, 0, errs.New(errs.CodeCapNoManager,
		fmt.Sprintf("disk statistics unsupported on %s", runtime.GOOS))
}
