package cache

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"time"

	_ "github.com/glebarez/go-sqlite"
)

type SQLiteCache struct {
	db         *sql.DB
	writeMutex *sync.Mutex
}

// NewSQLiteCache creates a new cache with the given filename as the db.
// If file name is empty, a new in-memory db is opened.
func NewSQLiteCache(filename string) (SQLiteCache, error) {
	if filename == "" {
		filename = "file::memory:?cache=shared"
	}
	db, err := sql.Open("sqlite", filename)
	if err != nil {
		return SQLiteCache{}, err
	}
	for _, stmt := range []string{
		`CREATE TABLE IF NOT EXISTS edge_cache (
			key TEXT PRIMARY KEY,
			expires INTEGER,
			bytes BLOB
		)`,
		"CREATE INDEX IF NOT EXISTS edge_cache_expires_idx ON edge_cache (expires)",
		"PRAGMA journal_mode=WAL",
	} {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return SQLiteCache{}, err
		}
	}
	return SQLiteCache{
		db:         db,
		writeMutex: &sync.Mutex{},
	}, nil
}

func (s SQLiteCache) Get(ctx context.Context, key string) (Entry, bool, error) {
	var expires int64
	var bytes []byte
	err := s.db.QueryRowContext(ctx, "SELECT expires, bytes FROM edge_cache WHERE key = ?", key).Scan(&expires, &bytes)
	if errors.Is(err, sql.ErrNoRows) {
		return Entry{}, false, nil
	}
	if err != nil {
		return Entry{}, false, err
	}
	if expires != 0 && !time.Now().Before(time.Unix(0, expires)) {
		return Entry{}, false, s.Purge(ctx, key)
	}
	entry, err := bytesToEntry(bytes)
	if err != nil {
		return Entry{}, false, err
	}
	return entry, true, nil
}

func (s SQLiteCache) Put(ctx context.Context, entry Entry) error {
	bytes, err := entryToBytes(entry)
	if err != nil {
		return err
	}
	var expires int64
	if !entry.Expires.IsZero() {
		expires = entry.Expires.UnixNano()
	}
	s.writeMutex.Lock()
	defer s.writeMutex.Unlock()
	_, err = s.db.ExecContext(ctx, "INSERT OR REPLACE INTO edge_cache (key, expires, bytes) VALUES (?, ?, ?)",
		entry.Key, expires, bytes)
	return err
}

func (s SQLiteCache) Purge(ctx context.Context, key string) error {
	s.writeMutex.Lock()
	defer s.writeMutex.Unlock()
	_, err := s.db.ExecContext(ctx, "DELETE FROM edge_cache WHERE key = ?", key)
	return err
}

func (s SQLiteCache) PurgePrefix(ctx context.Context, prefix string) (int, error) {
	s.writeMutex.Lock()
	defer s.writeMutex.Unlock()
	// LIKE is case-insensitive in SQLite, compare the prefix exactly instead
	result, err := s.db.ExecContext(ctx, "DELETE FROM edge_cache WHERE substr(key, 1, length(?1)) = ?1", prefix)
	if err != nil {
		return 0, err
	}
	n, err := result.RowsAffected()
	return int(n), err
}

// Evict removes all entries past their expiry.
func (s SQLiteCache) Evict(ctx context.Context) (int, error) {
	s.writeMutex.Lock()
	defer s.writeMutex.Unlock()
	result, err := s.db.ExecContext(ctx, "DELETE FROM edge_cache WHERE expires > 0 AND expires <= ?", time.Now().UnixNano())
	if err != nil {
		return 0, err
	}
	n, err := result.RowsAffected()
	return int(n), err
}

func (s SQLiteCache) Close() error {
	return s.db.Close()
}
