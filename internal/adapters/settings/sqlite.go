package settings

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3" // registers the sqlite3 driver

	"github.com/jobrunner/mapshell/internal/ports/output"
)

const schema = `
CREATE TABLE IF NOT EXISTS settings (
	category   TEXT    NOT NULL,
	key        TEXT    NOT NULL,
	value      TEXT    NOT NULL,
	updated_at INTEGER NOT NULL,
	PRIMARY KEY (category, key)
)`

// SQLite is a SettingsStore persisted in a SQLite database. Values are
// stored as JSON and cached in memory; after a restart numbers read back as
// float64.
type SQLite struct {
	db *sql.DB

	mu     sync.RWMutex
	values map[string]map[string]any
}

var _ output.SettingsStore = (*SQLite)(nil)

// OpenSQLite opens or creates the settings database at path and loads every
// stored value.
func OpenSQLite(path string) (*SQLite, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, fmt.Errorf("creating settings directory: %w", err)
	}

	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("opening settings database: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("creating settings table: %w", err)
	}

	s := &SQLite{db: db, values: make(map[string]map[string]any)}
	if err := s.load(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLite) load() error {
	rows, err := s.db.Query(`SELECT category, key, value FROM settings`)
	if err != nil {
		return fmt.Errorf("reading settings: %w", err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var category, key, raw string
		if err := rows.Scan(&category, &key, &raw); err != nil {
			return fmt.Errorf("reading settings: %w", err)
		}
		var v any
		if err := json.Unmarshal([]byte(raw), &v); err != nil {
			continue
		}
		set(s.values, category, key, v)
	}
	return rows.Err()
}

// Value implements output.SettingsStore.
func (s *SQLite) Value(category, key string, def any) any {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if v, ok := s.values[category][key]; ok {
		return v
	}
	return def
}

// SetValue implements output.SettingsStore. The value must be JSON
// serializable.
func (s *SQLite) SetValue(category, key string, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encoding setting %s.%s: %w", category, key, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, err = s.db.Exec(
		`INSERT INTO settings (category, key, value, updated_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT (category, key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		category, key, string(raw), time.Now().Unix(),
	)
	if err != nil {
		return fmt.Errorf("storing setting %s.%s: %w", category, key, err)
	}
	set(s.values, category, key, value)
	return nil
}

// Category implements output.SettingsStore.
func (s *SQLite) Category(category string) (map[string]any, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]any, len(s.values[category]))
	maps.Copy(out, s.values[category])
	return out, nil
}

// ResetCategory implements output.SettingsStore.
func (s *SQLite) ResetCategory(category string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.db.Exec(`DELETE FROM settings WHERE category = ?`, category); err != nil {
		return fmt.Errorf("resetting settings %s: %w", category, err)
	}
	delete(s.values, category)
	return nil
}

// Close closes the database.
func (s *SQLite) Close() error {
	return s.db.Close()
}
