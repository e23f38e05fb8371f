//go:build unix

package platform

import "golang.org/x/sys/unix"

// DiskUsage returns the used percentage and free bytes of the filesystem
// containing path.
func DiskUsage(path string) (usedPercent int, freeBytes uint64, err error) {
	var st unix.Statfs_t
	if err := unix.Statfs(path, &st); err != nil {
		return 0, 0, err
	}
	total := st.Blocks * uint64(st.Bsize)
	free := st.Bavail * uint64(st.Bsize) // #nosec G115 -- Bavail is non-negative on all supported platforms
	if total == 0 {
		return 0, 0, nil
	}
	used := total - free
	return int(used * 100 / total), free, nil
}
