//go:build linux || darwin

package modelstore

import (
	"errors"

	"golang.org/x/sys/unix"
)

var errFreeSpaceUnsupported = errors.New("free space check unsupported")

// freeBytes returns the space available to unprivileged writers under dir.
func freeBytes(dir string) (uint64, error) {
	var st unix.Statfs_t
	if err := unix.Statfs(dir, &st); err != nil {
		return 0, err
	}
	return uint64(st.Bavail) * uint64(st.Bsize), nil
}
