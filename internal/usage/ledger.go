// Package usage records when cache entries were generated and how often they
// were served, in a small sqlite database kept beside the entries.
package usage

import (
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// FileName is the ledger database inside the cache directory.
const FileName = ".usage.db"

// Record is the ledger row for one entry file.
type Record struct {
	Name       string
	Basename   string
	CreatedAt  time.Time
	AccessedAt time.Time
	Hits       int
	GenerateMS int64
}

// Summary aggregates all rows.
type Summary struct {
	Entries   int
	TotalHits int
	Oldest    *time.Time
	Newest    *time.Time
}

// Ledger is safe for use by one process; database/sql serialises access.
type Ledger struct {
	db   *sql.DB
	path string
	now  func() time.Time
}

// Open opens or creates the ledger in dir.
func Open(dir string) (*Ledger, error) {
	path := filepath.Join(dir, FileName)
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open usage database: %w", err)
	}

	l := &Ledger{db: db, path: path, now: time.Now}
	if err := l.configurePragmas(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to configure pragmas: %w", err)
	}
	if err := l.createTables(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}
	return l, nil
}

func (l *Ledger) configurePragmas() error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 2000",
	}
	for _, pragma := range pragmas {
		if _, err := l.db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to execute pragma '%s': %w", pragma, err)
		}
	}
	return nil
}

func (l *Ledger) createTables() error {
	query := `
	CREATE TABLE IF NOT EXISTS entries (
		name        TEXT PRIMARY KEY,
		basename    TEXT NOT NULL DEFAULT '',
		created_at  INTEGER NOT NULL,
		accessed_at INTEGER NOT NULL,
		hits        INTEGER NOT NULL DEFAULT 0,
		generate_ms INTEGER NOT NULL DEFAULT 0
	);
	CREATE INDEX IF NOT EXISTS idx_entries_basename ON entries (basename);
	`
	_, err := l.db.Exec(query)
	return err
}

// Path returns the database file path.
func (l *Ledger) Path() string { return l.path }

// RecordGenerate stores a freshly generated entry, resetting its hit count.
func (l *Ledger) RecordGenerate(name, basename string, took time.Duration) error {
	now := l.now().Unix()
	query := `
	INSERT OR REPLACE INTO entries (name, basename, created_at, accessed_at, hits, generate_ms)
	VALUES (?, ?, ?, ?, 0, ?)
	`
	if _, err := l.db.Exec(query, name, basename, now, now, took.Milliseconds()); err != nil {
		return fmt.Errorf("failed to record generation: %w", err)
	}
	return nil
}

// RecordHit counts one lookup hit. Entries the ledger has never seen are
// added with the hit as their first access.
func (l *Ledger) RecordHit(name, basename string) error {
	now := l.now().Unix()
	query := `
	INSERT INTO entries (name, basename, created_at, accessed_at, hits)
	VALUES (?, ?, ?, ?, 1)
	ON CONFLICT(name) DO UPDATE SET hits = hits + 1, accessed_at = excluded.accessed_at
	`
	if _, err := l.db.Exec(query, name, basename, now, now); err != nil {
		return fmt.Errorf("failed to record hit: %w", err)
	}
	return nil
}

// Get returns the row for name.
func (l *Ledger) Get(name string) (*Record, error) {
	var r Record
	var created, accessed int64
	err := l.db.QueryRow(
		"SELECT name, basename, created_at, accessed_at, hits, generate_ms FROM entries WHERE name = ?", name,
	).Scan(&r.Name, &r.Basename, &created, &accessed, &r.Hits, &r.GenerateMS)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("usage record %q not found", name)
		}
		return nil, fmt.Errorf("failed to query usage record: %w", err)
	}
	r.CreatedAt = time.Unix(created, 0)
	r.AccessedAt = time.Unix(accessed, 0)
	return &r, nil
}

// Forget drops the rows for names.
func (l *Ledger) Forget(names ...string) error {
	for _, name := range names {
		if _, err := l.db.Exec("DELETE FROM entries WHERE name = ?", name); err != nil {
			return fmt.Errorf("failed to forget %q: %w", name, err)
		}
	}
	return nil
}

// ForgetAll empties the ledger.
func (l *Ledger) ForgetAll() error {
	if _, err := l.db.Exec("DELETE FROM entries"); err != nil {
		return fmt.Errorf("failed to clear usage records: %w", err)
	}
	return nil
}

// Retain drops every row whose name is not in keep.
func (l *Ledger) Retain(keep []string) error {
	rows, err := l.db.Query("SELECT name FROM entries")
	if err != nil {
		return fmt.Errorf("failed to list usage records: %w", err)
	}
	want := make(map[string]bool, len(keep))
	for _, k := range keep {
		want[k] = true
	}
	var stale []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			rows.Close()
			return fmt.Errorf("failed to scan usage record: %w", err)
		}
		if !want[name] {
			stale = append(stale, name)
		}
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return fmt.Errorf("failed to list usage records: %w", err)
	}
	if err := rows.Close(); err != nil {
		return err
	}
	return l.Forget(stale...)
}

// Summary aggregates the ledger.
func (l *Ledger) Summary() (*Summary, error) {
	var s Summary
	var oldest, newest sql.NullInt64
	err := l.db.QueryRow(
		"SELECT COUNT(*), COALESCE(SUM(hits), 0), MIN(created_at), MAX(created_at) FROM entries",
	).Scan(&s.Entries, &s.TotalHits, &oldest, &newest)
	if err != nil {
		return nil, fmt.Errorf("failed to summarize usage: %w", err)
	}
	if oldest.Valid {
		t := time.Unix(oldest.Int64, 0)
		s.Oldest = &t
	}
	if newest.Valid {
		t := time.Unix(newest.Int64, 0)
		s.Newest = &t
	}
	return &s, nil
}

func (l *Ledger) Close() error {
	return l.db.Close()
}
