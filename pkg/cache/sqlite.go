package cache

import (
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"
)

// SQLiteStore persists cache entries in a single SQLite database file. Each
// row records the cache version it was written under; Load only returns
// rows matching the requested version, so a version bump invalidates all
// prior entries without an explicit cleanup pass.
type SQLiteStore struct {
	db   *sql.DB
	path string
}

const cacheSchema = `
CREATE TABLE IF NOT EXISTS cache_entries (
	name     TEXT PRIMARY KEY,
	version  INTEGER NOT NULL,
	revision INTEGER NOT NULL,
	value    BLOB NOT NULL
);
`

// OpenSQLiteStore opens (creating if needed) a cache database at path.
func OpenSQLiteStore(path string) (*SQLiteStore, error) {
	dsn := fmt.Sprintf("file:%s?_busy_timeout=5000&_journal_mode=WAL", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open cache store: %w", err)
	}
	if _, err := db.Exec(cacheSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("init cache schema: %w", err)
	}
	return &SQLiteStore{db: db, path: path}, nil
}

// Close releases the underlying database handle.
func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Path returns the database file location.
func (s *SQLiteStore) Path() string { return s.path }

// Put upserts one entry. Write-through failures are deliberately dropped:
// the in-memory cache stays authoritative and a broken disk cache only
// costs recomputation after the next restart.
func (s *SQLiteStore) Put(key string, version int, revision int64, value []byte) {
	_, _ = s.db.Exec(`
		INSERT INTO cache_entries (name, version, revision, value)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET
			version = excluded.version,
			revision = excluded.revision,
			value = excluded.value
	`, key, version, revision, value)
}

// Remove deletes one entry.
func (s *SQLiteStore) Remove(key string) {
	_, _ = s.db.Exec(`DELETE FROM cache_entries WHERE name = ?`, key)
}

// RemoveAll deletes every entry.
func (s *SQLiteStore) RemoveAll() {
	_, _ = s.db.Exec(`DELETE FROM cache_entries`)
}

// Load returns the values and revisions of all rows written under the
// given version. Rows with any other version are ignored and purged.
func (s *SQLiteStore) Load(version int) (map[string][]byte, map[string]int64, error) {
	rows, err := s.db.Query(
		`SELECT name, revision, value FROM cache_entries WHERE version = ?`, version)
	if err != nil {
		return nil, nil, fmt.Errorf("load cache entries: %w", err)
	}
	defer rows.Close()

	values := make(map[string][]byte)
	revisions := make(map[string]int64)
	for rows.Next() {
		var (
			name     string
			revision int64
			value    []byte
		)
		if err := rows.Scan(&name, &revision, &value); err != nil {
			return nil, nil, fmt.Errorf("scan cache entry: %w", err)
		}
		values[name] = value
		revisions[name] = revision
	}
	if err := rows.Err(); err != nil {
		return nil, nil, fmt.Errorf("iterate cache entries: %w", err)
	}

	// Stale versions are dead weight from here on.
	_, _ = s.db.Exec(`DELETE FROM cache_entries WHERE version != ?`, version)

	return values, revisions, nil
}
