//go:build darwin

package restore

import "syscall"

// freeSpace returns the number of free bytes available on the filesystem
// containing path.
func freeSpace(path string) (int64, error) {
	var stat syscall.Statfs_t
	if err := syscall.Statfs(path, &stat); err != nil {
		return 0, err
	}
	return int64(stat.Bavail) * int64(stat.Bsize), nil
}
