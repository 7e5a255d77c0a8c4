package modelstore

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"nku/internal/logging"
)

const (
	// Magic is the four-byte signature every GGUF artifact starts with.
	Magic = "GGUF"
	// DefaultMinSizeBytes rejects truncated downloads and placeholder files.
	DefaultMinSizeBytes int64 = 64 << 20
)

// Validate reports whether path holds a usable artifact. It fails closed:
// size and header are checked first, and the file is hashed only when both
// pass and expectedHash is non-empty.
func Validate(path string, minSizeBytes int64, expectedHash string) bool {
	if err := check(path, minSizeBytes, expectedHash); err != nil {
		logging.ModelStoreDebug("validation failed for %s: %v", path, err)
		return false
	}
	return true
}

var (
	errTooSmall     = errors.New("file below minimum size")
	errBadHeader    = errors.New("magic header mismatch")
	errHashMismatch = errors.New("sha256 mismatch")
)

func check(path string, minSizeBytes int64, expectedHash string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if !info.Mode().IsRegular() {
		return fmt.Errorf("%s is not a regular file", path)
	}
	if info.Size() < minSizeBytes {
		return fmt.Errorf("%w: %d < %d", errTooSmall, info.Size(), minSizeBytes)
	}

	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	header := make([]byte, len(Magic))
	if _, err := io.ReadFull(f, header); err != nil {
		return fmt.Errorf("read header: %w", err)
	}
	if !bytes.Equal(header, []byte(Magic)) {
		return errBadHeader
	}

	if expectedHash == "" {
		return nil
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return err
	}
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return fmt.Errorf("hash: %w", err)
	}
	if !strings.EqualFold(hex.EncodeToString(h.Sum(nil)), strings.TrimSpace(expectedHash)) {
		return errHashMismatch
	}
	return nil
}
