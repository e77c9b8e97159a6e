package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// DefaultLimit is the number of entries List returns when limit <= 0.
const DefaultLimit = 50

// MaxLimit caps the number of entries List returns.
const MaxLimit = 1000

const schema = `
CREATE TABLE IF NOT EXISTS snapshots (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	panel TEXT NOT NULL,
	taken_at INTEGER NOT NULL,
	data TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_snapshots_panel_taken ON snapshots(panel, taken_at DESC, id DESC);
`

// Entry is one recorded snapshot.
type Entry struct {
	Panel string         `json:"panel"`
	At    time.Time      `json:"at"`
	Data  map[string]any `json:"data"`
}

// Store records snapshots in a SQLite database.
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the SQLite database at path. Use
// ":memory:" for a throwaway database.
func Open(path string) (*Store, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create history directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open history database: %w", err)
	}

	// single writer; also keeps ":memory:" on one connection
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if path != ":memory:" {
		if _, err := db.Exec("PRAGMA journal_mode=WAL;"); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
		}
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create history schema: %w", err)
	}

	return &Store{db: db}, nil
}

// Append records data as the panel's snapshot at time at.
func (s *Store) Append(ctx context.Context, panel string, at time.Time, data map[string]any) error {
	if panel == "" {
		return errors.New("panel name cannot be empty")
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to encode snapshot: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		"INSERT INTO snapshots (panel, taken_at, data) VALUES (?, ?, ?)",
		panel, at.UnixMilli(), string(raw),
	)
	if err != nil {
		return fmt.Errorf("failed to insert snapshot: %w", err)
	}
	return nil
}

// List returns up to limit of the panel's entries, newest first.
// A limit <= 0 means DefaultLimit; limits above MaxLimit are capped.
func (s *Store) List(ctx context.Context, panel string, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = DefaultLimit
	}
	if limit > MaxLimit {
		limit = MaxLimit
	}

	rows, err := s.db.QueryContext(ctx,
		"SELECT taken_at, data FROM snapshots WHERE panel = ? ORDER BY taken_at DESC, id DESC LIMIT ?",
		panel, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query history: %w", err)
	}
	defer rows.Close()

	entries := []Entry{}
	for rows.Next() {
		var (
			takenAt int64
			raw     string
		)
		if err := rows.Scan(&takenAt, &raw); err != nil {
			return nil, fmt.Errorf("failed to scan history row: %w", err)
		}
		var data map[string]any
		if err := json.Unmarshal([]byte(raw), &data); err != nil {
			return nil, fmt.Errorf("failed to decode snapshot: %w", err)
		}
		entries = append(entries, Entry{
			Panel: panel,
			At:    time.UnixMilli(takenAt).UTC(),
			Data:  data,
		})
	}
	return entries, rows.Err()
}

// Prune deletes the panel's entries beyond the newest keep.
func (s *Store) Prune(ctx context.Context, panel string, keep int) (int64, error) {
	if keep < 0 {
		return 0, errors.New("keep cannot be negative")
	}
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM snapshots WHERE panel = ? AND id NOT IN (
			SELECT id FROM snapshots WHERE panel = ? ORDER BY taken_at DESC, id DESC LIMIT ?
		)`, panel, panel, keep)
	if err != nil {
		return 0, fmt.Errorf("failed to prune history: %w", err)
	}
	return res.RowsAffected()
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}
