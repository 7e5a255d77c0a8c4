package modelstore

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"

	"nku/internal/logging"
)

// Download fetches d into the cache directory and returns the final path.
// On any failure the temporary file is removed and nothing is left at the
// final name.
func (s *Store) Download(ctx context.Context, d Descriptor) (string, error) {
	if err := checkName(d.Name); err != nil {
		return "", err
	}
	if d.URL == "" {
		return "", fmt.Errorf("no download URL for %s", d.Name)
	}
	if s.opts.CacheDir == "" {
		return "", fmt.Errorf("no cache directory configured")
	}
	if err := os.MkdirAll(s.opts.CacheDir, 0755); err != nil {
		return "", fmt.Errorf("failed to create cache directory: %w", err)
	}

	if err := s.preflight(d); err != nil {
		return "", err
	}

	tmp, err := os.CreateTemp(s.opts.CacheDir, d.Name+".*.part")
	if err != nil {
		return "", fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			tmp.Close()
			if rmErr := os.Remove(tmpPath); rmErr != nil && !os.IsNotExist(rmErr) {
				logging.ModelStoreWarn("failed to remove temp file %s: %v", tmpPath, rmErr)
			}
		}
	}()

	logging.ModelStore("downloading %s", d.Name)
	timer := logging.StartTimer(logging.CategoryModelStore, "download "+d.Name)

	resp, err := s.client.R().
		SetContext(ctx).
		SetDoNotParseResponse(true).
		Get(d.URL)
	if err != nil {
		return "", fmt.Errorf("download %s: %w", d.Name, err)
	}
	body := resp.RawBody()
	defer body.Close()

	if resp.StatusCode() != http.StatusOK {
		return "", fmt.Errorf("%w: %d", ErrBadStatus, resp.StatusCode())
	}

	written, err := io.Copy(tmp, body)
	if err != nil {
		return "", fmt.Errorf("download %s: %w", d.Name, err)
	}
	if err := tmp.Sync(); err != nil {
		return "", fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("close temp file: %w", err)
	}
	timer.Stop()
	logging.ModelStoreDebug("downloaded %d bytes for %s", written, d.Name)

	hash := d.SHA256
	if hash == "" {
		hash = s.opts.ExpectedHash
	}
	if !Validate(tmpPath, s.opts.MinSizeBytes, hash) {
		return "", fmt.Errorf("%w: %s", ErrValidationFailed, d.Name)
	}

	final := filepath.Join(s.opts.CacheDir, d.Name)
	if err := os.Rename(tmpPath, final); err != nil {
		return "", fmt.Errorf("failed to move artifact into place: %w", err)
	}
	committed = true
	logging.ModelStore("artifact %s ready at %s", d.Name, final)
	return final, nil
}

func (s *Store) preflight(d Descriptor) error {
	free, err := s.freeSpace(s.opts.CacheDir)
	if err != nil {
		if err == errFreeSpaceUnsupported {
			logging.ModelStoreDebug("free space check unavailable on this platform")
			return nil
		}
		return fmt.Errorf("free space check: %w", err)
	}
	need := d.SizeBytes + s.opts.HeadroomBytes
	if need > 0 && free < uint64(need) {
		logging.ModelStoreWarn("not enough space for %s: need %d bytes, have %d", d.Name, need, free)
		return fmt.Errorf("%w: need %d bytes, have %d", ErrInsufficientSpace, need, free)
	}
	return nil
}
