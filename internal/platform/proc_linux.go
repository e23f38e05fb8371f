//go:build linux

package platform

import (
	"os"
	"strconv"
	"strings"
)

// CmdlineByPID returns the command line of a live process, or "" when the
// process does not exist or cannot be inspected.
func CmdlineByPID(pid int) string {
	data, err := os.ReadFile("/proc/" + strconv.Itoa(pid) + "/cmdline")
	if err != nil {
		return ""
	}
	return strings.TrimRight(strings.ReplaceAll(string(data), "\x00", " "), " ")
}
