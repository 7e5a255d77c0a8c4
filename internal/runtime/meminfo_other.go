//go:build !linux

package runtime

import "errors"

var errMemProbeUnsupported = errors.New("memory probe unsupported")

func availableMemory() (uint64, error) {
	return 0, errMemProbeUnsupported
}
