//go:build !windows

package download

import (
	"fmt"
	"syscall"
)

// availableSpace returns the bytes available to this process on the filesystem holding path
func availableSpace(path string) (uint64, error) {
	var stat syscall.Statfs_t
	if err := syscall.Statfs(path, &stat); err != nil {
		return 0, fmt.Errorf("failed to stat filesystem: %w", err)
	}
	return stat.Bavail * uint64(stat.Bsize), nil
}
