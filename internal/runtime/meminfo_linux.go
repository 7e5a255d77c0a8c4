//go:build linux

package runtime

import (
	"errors"

	"golang.org/x/sys/unix"
)

var errMemProbeUnsupported = errors.New("memory probe unsupported")

// availableMemory counts free and buffer RAM as reclaimable for the model.
func availableMemory() (uint64, error) {
	var si unix.Sysinfo_t
	if err := unix.Sysinfo(&si); err != nil {
		return 0, err
	}
	unit := uint64(si.Unit)
	if unit == 0 {
		unit = 1
	}
	return (uint64(si.Freeram) + uint64(si.Bufferram)) * unit, nil
}
