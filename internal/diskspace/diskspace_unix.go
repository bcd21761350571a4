//go:build !windows

package diskspace

import "syscall"

// free reports the bytes available to unprivileged callers on dir's
// filesystem. Bavail excludes blocks reserved for root, which is what a
// build process can actually use.
func free(dir string) (int64, bool) {
	var stat syscall.Statfs_t
	if err := syscall.Statfs(dir, &stat); err != nil {
		return 0, false
	}
	return int64(stat.Bavail) * int64(stat.Bsize), true
}
