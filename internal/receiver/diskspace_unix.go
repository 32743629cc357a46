//go:build linux || darwin || freebsd || openbsd || netbsd

package receiver

import "syscall"

// availableDiskSpace reports free bytes on the filesystem containing
// path, via statfs.
func availableDiskSpace(path string) (int64, error) {
	var stat syscall.Statfs_t
	if err := syscall.Statfs(path, &stat); err != nil {
		return 0, err
	}
	return int64(stat.Bavail) * int64(stat.Bsize), nil
}
