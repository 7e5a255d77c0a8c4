// Package modelstore locates, validates and downloads the reasoning model
// artifact.
//
// Resolution walks three tiers in order: the local cache directory, the
// bundled install directory, then sideload directories. A file is only
// returned after it passes Validate. Downloads stream to a temporary file in
// the cache directory and are renamed into place only after validation, so
// the final name never points at a partial artifact.
package modelstore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/go-resty/resty/v2"
	"golang.org/x/sync/singleflight"

	"nku/internal/logging"
)

var (
	ErrNotFound          = errors.New("model artifact not found")
	ErrInsufficientSpace = errors.New("insufficient disk space for download")
	ErrValidationFailed  = errors.New("downloaded artifact failed validation")
	ErrBadStatus         = errors.New("unexpected download response status")
)

// Descriptor describes an artifact that can be downloaded.
type Descriptor struct {
	Name      string `json:"name" yaml:"name"`
	URL       string `json:"url" yaml:"url"`
	SizeBytes int64  `json:"size_bytes" yaml:"size_bytes"`
	SHA256    string `json:"sha256,omitempty" yaml:"sha256,omitempty"`
}

// Options configures a Store.
type Options struct {
	CacheDir     string
	BundledDir   string
	SideloadDirs []string

	MinSizeBytes int64
	// ExpectedHash pins the artifact digest when a descriptor does not.
	ExpectedHash string

	HeadroomBytes   int64
	MaxRedirects    int
	DownloadTimeout time.Duration
}

// Store resolves and downloads artifacts. Safe for concurrent use.
type Store struct {
	opts   Options
	cache  *ValidationCache
	client *resty.Client
	group  singleflight.Group

	freeSpace func(dir string) (uint64, error)
}

// New builds a store. A nil cache gets an in-memory one.
func New(opts Options, cache *ValidationCache) *Store {
	if opts.MinSizeBytes <= 0 {
		opts.MinSizeBytes = DefaultMinSizeBytes
	}
	if opts.MaxRedirects <= 0 {
		opts.MaxRedirects = 5
	}
	if opts.DownloadTimeout <= 0 {
		opts.DownloadTimeout = 30 * time.Minute
	}
	if cache == nil {
		cache = NewValidationCache()
	}

	client := resty.New().
		SetTimeout(opts.DownloadTimeout).
		SetRedirectPolicy(resty.FlexibleRedirectPolicy(opts.MaxRedirects)).
		SetHeader("User-Agent", "nku-modelstore")

	return &Store{
		opts:      opts,
		cache:     cache,
		client:    client,
		freeSpace: freeBytes,
	}
}

// Cache exposes the validation cache for the sideload watcher.
func (s *Store) Cache() *ValidationCache { return s.cache }

// Options returns the store configuration.
func (s *Store) Options() Options { return s.opts }

// Resolve returns the path of a valid artifact named name, or ErrNotFound.
// Concurrent calls for the same name share one resolution.
func (s *Store) Resolve(ctx context.Context, name string) (string, error) {
	if err := checkName(name); err != nil {
		return "", err
	}
	ch := s.group.DoChan(name, func() (interface{}, error) {
		return s.resolve(name)
	})
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(string), nil
	}
}

func (s *Store) resolve(name string) (string, error) {
	timer := logging.StartTimer(logging.CategoryModelStore, "resolve "+name)
	defer timer.Stop()

	if s.opts.CacheDir != "" {
		p := filepath.Join(s.opts.CacheDir, name)
		if _, err := os.Stat(p); err == nil {
			if Validate(p, s.opts.MinSizeBytes, s.opts.ExpectedHash) {
				logging.ModelStore("resolved %s from cache dir", name)
				return p, nil
			}
			logging.ModelStoreWarn("cached artifact %s failed validation, ignoring", p)
		}
	}

	if s.opts.BundledDir != "" {
		p := filepath.Join(s.opts.BundledDir, name)
		if _, err := os.Stat(p); err == nil {
			if s.cache.ValidateCached(p, s.opts.MinSizeBytes, s.opts.ExpectedHash) {
				logging.ModelStore("resolved %s from bundled pack", name)
				return p, nil
			}
			logging.ModelStoreWarn("bundled artifact %s failed validation, ignoring", p)
		}
	}

	for _, dir := range s.opts.SideloadDirs {
		p := filepath.Join(dir, name)
		if _, err := os.Stat(p); err != nil {
			continue
		}
		if s.cache.ValidateCached(p, s.opts.MinSizeBytes, s.opts.ExpectedHash) {
			logging.ModelStore("resolved %s from sideload dir %s", name, dir)
			return p, nil
		}
		logging.ModelStoreDebug("sideload candidate %s rejected", p)
	}

	return "", fmt.Errorf("%w: %s", ErrNotFound, name)
}

func checkName(name string) error {
	if name == "" || name == "." || name == ".." || filepath.Base(name) != name {
		return fmt.Errorf("invalid artifact name %q", name)
	}
	return nil
}
