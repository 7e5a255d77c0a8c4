package modelstore

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// SQLiteCacheStore persists validation cache entries in a small SQLite file.
type SQLiteCacheStore struct {
	db     *sql.DB
	dbPath string
	mu     sync.Mutex
}

// OpenSQLiteCacheStore creates or opens the database at dbPath.
func OpenSQLiteCacheStore(dbPath string) (*SQLiteCacheStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	store := &SQLiteCacheStore{db: db, dbPath: dbPath}
	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return store, nil
}

func (s *SQLiteCacheStore) initSchema() error {
	_, err := s.db.Exec(`
	CREATE TABLE IF NOT EXISTS validation_cache (
		path TEXT PRIMARY KEY,
		size_bytes INTEGER NOT NULL,
		mod_time_ns INTEGER NOT NULL,
		valid INTEGER NOT NULL,
		checked_at DATETIME NOT NULL
	);`)
	return err
}

// Close closes the database connection.
func (s *SQLiteCacheStore) Close() error {
	return s.db.Close()
}

// Path returns the database file path.
func (s *SQLiteCacheStore) Path() string {
	return s.dbPath
}

// LoadAll reads every entry.
func (s *SQLiteCacheStore) LoadAll() (map[string]CacheEntry, error) {
	rows, err := s.db.Query(`SELECT path, size_bytes, mod_time_ns, valid FROM validation_cache`)
	if err != nil {
		return nil, fmt.Errorf("failed to query cache: %w", err)
	}
	defer rows.Close()

	out := make(map[string]CacheEntry)
	for rows.Next() {
		var (
			path  string
			size  int64
			mtime int64
			valid int
		)
		if err := rows.Scan(&path, &size, &mtime, &valid); err != nil {
			return nil, fmt.Errorf("failed to scan cache row: %w", err)
		}
		out[path] = CacheEntry{SizeBytes: size, ModTime: time.Unix(0, mtime), Valid: valid != 0}
	}
	return out, rows.Err()
}

// Save upserts one entry.
func (s *SQLiteCacheStore) Save(path string, e CacheEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	valid := 0
	if e.Valid {
		valid = 1
	}
	_, err := s.db.Exec(`
		INSERT INTO validation_cache (path, size_bytes, mod_time_ns, valid, checked_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(path) DO UPDATE SET
			size_bytes = excluded.size_bytes,
			mod_time_ns = excluded.mod_time_ns,
			valid = excluded.valid,
			checked_at = excluded.checked_at`,
		path, e.SizeBytes, e.ModTime.UnixNano(), valid, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to save cache entry: %w", err)
	}
	return nil
}

// Delete removes one entry.
func (s *SQLiteCacheStore) Delete(path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.db.Exec(`DELETE FROM validation_cache WHERE path = ?`, path); err != nil {
		return fmt.Errorf("failed to delete cache entry: %w", err)
	}
	return nil
}
