// Package memory is the persistent key-value store injected into the
// system prompt and exposed to the LLM via the memory tools.
package memory

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS memory (
    key TEXT PRIMARY KEY,
    value TEXT NOT NULL,
    category TEXT DEFAULT 'general',
    created_at TEXT NOT NULL,
    updated_at TEXT NOT NULL,
    source TEXT DEFAULT ''
);
`

// Entry is one stored memory.
type Entry struct {
	Key       string
	Value     string
	Category  string
	CreatedAt string
	UpdatedAt string
	Source    string
}

// Store is a SQLite-backed memory store. Safe for concurrent use.
type Store struct {
	db *sql.DB
}

// Open creates or opens the memory database at path.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("memory: create data dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("memory: open db: %w", err)
	}
	if _, err := db.Exec(`PRAGMA journal_mode=WAL`); err != nil {
		db.Close()
		return nil, fmt.Errorf("memory: enable wal: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("memory: init schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the database.
func (s *Store) Close() error { return s.db.Close() }

// Set upserts a key-value pair.
func (s *Store) Set(key, value, category, source string) error {
	if category == "" {
		category = "general"
	}
	now := time.Now().UTC().Format(time.RFC3339Nano)
	_, err := s.db.Exec(`
		INSERT INTO memory (key, value, category, created_at, updated_at, source)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			value = excluded.value,
			category = excluded.category,
			updated_at = excluded.updated_at,
			source = excluded.source`,
		key, value, category, now, now, source)
	if err != nil {
		return fmt.Errorf("memory: set %q: %w", key, err)
	}
	return nil
}

// Get retrieves an entry by key. Returns nil when absent.
func (s *Store) Get(key string) (*Entry, error) {
	var e Entry
	err := s.db.QueryRow(`
		SELECT key, value, category, created_at, updated_at, source
		FROM memory WHERE key = ?`, key).
		Scan(&e.Key, &e.Value, &e.Category, &e.CreatedAt, &e.UpdatedAt, &e.Source)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("memory: get %q: %w", key, err)
	}
	return &e, nil
}

// Delete removes an entry. Reports whether one existed.
func (s *Store) Delete(key string) (bool, error) {
	res, err := s.db.Exec(`DELETE FROM memory WHERE key = ?`, key)
	if err != nil {
		return false, fmt.Errorf("memory: delete %q: %w", key, err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// Search matches the query against keys and values, most recently
// updated first.
func (s *Store) Search(query string) ([]Entry, error) {
	pattern := "%" + query + "%"
	rows, err := s.db.Query(`
		SELECT key, value, category, created_at, updated_at, source
		FROM memory WHERE key LIKE ? OR value LIKE ?
		ORDER BY updated_at DESC`, pattern, pattern)
	if err != nil {
		return nil, fmt.Errorf("memory: search %q: %w", query, err)
	}
	defer rows.Close()
	return scanEntries(rows)
}

// ListCategory returns all entries in a category, most recently
// updated first.
func (s *Store) ListCategory(category string) ([]Entry, error) {
	rows, err := s.db.Query(`
		SELECT key, value, category, created_at, updated_at, source
		FROM memory WHERE category = ?
		ORDER BY updated_at DESC`, category)
	if err != nil {
		return nil, fmt.Errorf("memory: list category %q: %w", category, err)
	}
	defer rows.Close()
	return scanEntries(rows)
}

// Clear deletes all entries and returns the count removed.
func (s *Store) Clear() (int64, error) {
	res, err := s.db.Exec(`DELETE FROM memory`)
	if err != nil {
		return 0, fmt.Errorf("memory: clear: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// ExportContext renders memories as "[category] key: value" lines for
// the system prompt, most recently updated first, stopping before
// maxTokens*4 characters. When the budget cuts the list a final line
// notes how many entries were dropped.
func (s *Store) ExportContext(maxTokens int) (string, error) {
	rows, err := s.db.Query(`SELECT key, value, category FROM memory ORDER BY updated_at DESC, key`)
	if err != nil {
		return "", fmt.Errorf("memory: export: %w", err)
	}
	defer rows.Close()

	maxChars := maxTokens * 4
	var out []byte
	total := 0
	truncated := 0
	for rows.Next() {
		var key, value, category string
		if err := rows.Scan(&key, &value, &category); err != nil {
			return "", fmt.Errorf("memory: export scan: %w", err)
		}
		line := fmt.Sprintf("[%s] %s: %s", category, key, value)
		if truncated > 0 || total+len(line)+1 > maxChars {
			truncated++
			continue
		}
		if len(out) > 0 {
			out = append(out, '\n')
		}
		out = append(out, line...)
		total += len(line) + 1
	}
	if err := rows.Err(); err != nil {
		return "", fmt.Errorf("memory: export: %w", err)
	}
	if truncated > 0 {
		if len(out) > 0 {
			out = append(out, '\n')
		}
		out = append(out, fmt.Sprintf("... (%d more memories truncated)", truncated)...)
	}
	return string(out), nil
}

func scanEntries(rows *sql.Rows) ([]Entry, error) {
	var out []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.Key, &e.Value, &e.Category, &e.CreatedAt, &e.UpdatedAt, &e.Source); err != nil {
			return nil, fmt.Errorf("memory: scan: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
