//go:build !darwin && !linux

package platform

import (
	"fmt"
	"runtime"

	"github.com/untoldecay/checkpoint/internal/errs"
)

// CmdlineByPID returns the command line of a live process.
func CmdlineByPID(pid int) string { return "" }

func newManager() (Manager, error) {
	return nil, errs.New(errs.CodeCapNoManager,
		fmt.Sprintf("no service manager support on %s", runtime.GOOS))
}
