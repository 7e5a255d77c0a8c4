package modelstore

import (
	"os"
	"sync"
	"time"

	"nku/internal/logging"
)

// CacheEntry records the outcome of validating one file at a given size and
// modification time.
type CacheEntry struct {
	SizeBytes int64
	ModTime   time.Time
	Valid     bool
}

// CacheBacking persists cache entries across process restarts.
type CacheBacking interface {
	LoadAll() (map[string]CacheEntry, error)
	Save(path string, e CacheEntry) error
	Delete(path string) error
}

// ValidationCache avoids re-hashing unchanged sideloaded files. An entry is
// only trusted while the file's size and modification time still match.
type ValidationCache struct {
	mu      sync.RWMutex
	entries map[string]CacheEntry
	backing CacheBacking
}

// NewValidationCache returns an in-memory cache.
func NewValidationCache() *ValidationCache {
	return &ValidationCache{entries: make(map[string]CacheEntry)}
}

// NewPersistentValidationCache loads existing entries from backing and
// writes every change through to it.
func NewPersistentValidationCache(backing CacheBacking) (*ValidationCache, error) {
	entries, err := backing.LoadAll()
	if err != nil {
		return nil, err
	}
	if entries == nil {
		entries = make(map[string]CacheEntry)
	}
	logging.ModelStoreDebug("validation cache loaded %d entries", len(entries))
	return &ValidationCache{entries: entries, backing: backing}, nil
}

// Lookup returns the cached verdict if size and mtime match exactly.
func (c *ValidationCache) Lookup(path string, size int64, modTime time.Time) (valid, ok bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, found := c.entries[path]
	if !found || e.SizeBytes != size || !e.ModTime.Equal(modTime) {
		return false, false
	}
	return e.Valid, true
}

// Put records a verdict.
func (c *ValidationCache) Put(path string, e CacheEntry) {
	c.mu.Lock()
	c.entries[path] = e
	c.mu.Unlock()
	if c.backing != nil {
		if err := c.backing.Save(path, e); err != nil {
			logging.ModelStoreWarn("persist cache entry for %s: %v", path, err)
		}
	}
}

// Invalidate drops the entry for path.
func (c *ValidationCache) Invalidate(path string) {
	c.mu.Lock()
	_, existed := c.entries[path]
	delete(c.entries, path)
	c.mu.Unlock()
	if existed && c.backing != nil {
		if err := c.backing.Delete(path); err != nil {
			logging.ModelStoreWarn("delete cache entry for %s: %v", path, err)
		}
	}
}

// Len returns the number of entries.
func (c *ValidationCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// ValidateCached validates path, consulting and refreshing the cache.
func (c *ValidationCache) ValidateCached(path string, minSizeBytes int64, expectedHash string) bool {
	info, err := os.Stat(path)
	if err != nil {
		c.Invalidate(path)
		return false
	}
	if valid, ok := c.Lookup(path, info.Size(), info.ModTime()); ok {
		logging.ModelStoreDebug("validation cache hit for %s: valid=%v", path, valid)
		return valid
	}

	valid := Validate(path, minSizeBytes, expectedHash)
	c.Put(path, CacheEntry{SizeBytes: info.Size(), ModTime: info.ModTime(), Valid: valid})
	return valid
}
