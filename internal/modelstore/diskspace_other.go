//go:build !linux && !darwin

package modelstore

import "errors"

var errFreeSpaceUnsupported = errors.New("free space check unsupported")

func freeBytes(string) (uint64, error) {
	return 0, errFreeSpaceUnsupported
}
