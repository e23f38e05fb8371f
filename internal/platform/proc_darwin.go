//go:build darwin

package platform

import (
	"os/exec"
	"strconv"
	"strings"
)

// CmdlineByPID returns the command line of a live process, or "" when the
// process does not exist or cannot be inspected.
func CmdlineByPID(pid int) string {
	out, err := exec.Command("ps", "-o", "command=", "-p", strconv.Itoa(pid)).Output()
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(out))
}
