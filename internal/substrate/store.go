// Package substrate implements the persistent pattern memory that survives
// engine instances. This file persists the substrate in SQLite.
package substrate

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"recap/internal/logging"
)

// Store persists a substrate snapshot in a single SQLite database.
type Store struct {
	db   *sql.DB
	path string
}

// NewStore opens (or creates) the database at path and initializes the
// schema. ":memory:" works for tests.
func NewStore(path string) (*Store, error) {
	timer := logging.StartTimer(logging.CategorySubstrate, "NewStore")
	defer timer.Stop()

	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("failed to create directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		logging.SubstrateDebug("failed to set sqlite busy_timeout: %v", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		logging.SubstrateDebug("failed to set sqlite journal_mode=WAL: %v", err)
	}

	store := &Store{db: db, path: path}
	if err := store.initialize(); err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

func (st *Store) initialize() error {
	schema := []string{
		`CREATE TABLE IF NOT EXISTS patterns (
			name TEXT PRIMARY KEY,
			content TEXT NOT NULL,
			strength REAL NOT NULL,
			survival_count INTEGER NOT NULL,
			mutations TEXT,
			first_seen TEXT NOT NULL,
			last_active TEXT NOT NULL,
			content_hash TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS topology (
			a TEXT NOT NULL,
			b TEXT NOT NULL,
			PRIMARY KEY (a, b)
		)`,
		`CREATE TABLE IF NOT EXISTS cycles (
			id TEXT PRIMARY KEY,
			started_at TEXT NOT NULL,
			ended_at TEXT,
			absorbed INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS trajectory (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			level INTEGER NOT NULL,
			recorded_at TEXT NOT NULL
		)`,
	}
	for _, stmt := range schema {
		if _, err := st.db.Exec(stmt); err != nil {
			return fmt.Errorf("failed to initialize schema: %w", err)
		}
	}
	return nil
}

// Save writes the full substrate snapshot, replacing any previous one.
func (st *Store) Save(s *Substrate) error {
	timer := logging.StartTimer(logging.CategorySubstrate, "Save")
	defer timer.Stop()

	tx, err := st.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	for _, table := range []string{"patterns", "topology", "cycles", "trajectory"} {
		if _, err := tx.Exec("DELETE FROM " + table); err != nil {
			return fmt.Errorf("failed to clear %s: %w", table, err)
		}
	}

	for _, p := range s.Patterns() {
		mutations, err := json.Marshal(p.Mutations)
		if err != nil {
			return fmt.Errorf("failed to encode mutations for %s: %w", p.Name, err)
		}
		_, err = tx.Exec(
			`INSERT INTO patterns (name, content, strength, survival_count, mutations, first_seen, last_active, content_hash)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			p.Name, p.Content, p.Strength, p.SurvivalCount, string(mutations),
			p.FirstSeen.Format(time.RFC3339Nano), p.LastActive.Format(time.RFC3339Nano), p.ContentHash,
		)
		if err != nil {
			return fmt.Errorf("failed to save pattern %s: %w", p.Name, err)
		}
	}

	s.mu.RLock()
	for a, peers := range s.topology {
		for b := range peers {
			if _, err := tx.Exec("INSERT INTO topology (a, b) VALUES (?, ?)", a, b); err != nil {
				s.mu.RUnlock()
				return fmt.Errorf("failed to save topology edge: %w", err)
			}
		}
	}
	s.mu.RUnlock()

	for _, c := range s.Cycles() {
		_, err := tx.Exec(
			"INSERT INTO cycles (id, started_at, ended_at, absorbed) VALUES (?, ?, ?, ?)",
			c.ID, c.StartedAt.Format(time.RFC3339Nano), c.EndedAt.Format(time.RFC3339Nano), c.Absorbed,
		)
		if err != nil {
			return fmt.Errorf("failed to save cycle %s: %w", c.ID, err)
		}
	}

	for _, level := range s.Trajectory() {
		_, err := tx.Exec(
			"INSERT INTO trajectory (level, recorded_at) VALUES (?, ?)",
			level, time.Now().Format(time.RFC3339Nano),
		)
		if err != nil {
			return fmt.Errorf("failed to save trajectory: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit: %w", err)
	}
	logging.Substrate("saved substrate: %d patterns", s.Len())
	return nil
}

// Load reads the stored snapshot into a fresh substrate.
func (st *Store) Load() (*Substrate, error) {
	timer := logging.StartTimer(logging.CategorySubstrate, "Load")
	defer timer.Stop()

	s := NewSubstrate()

	rows, err := st.db.Query("SELECT name, content, strength, survival_count, mutations, first_seen, last_active, content_hash FROM patterns")
	if err != nil {
		return nil, fmt.Errorf("failed to load patterns: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var p Pattern
		var mutations, firstSeen, lastActive string
		if err := rows.Scan(&p.Name, &p.Content, &p.Strength, &p.SurvivalCount, &mutations, &firstSeen, &lastActive, &p.ContentHash); err != nil {
			return nil, fmt.Errorf("failed to scan pattern: %w", err)
		}
		if mutations != "" {
			if err := json.Unmarshal([]byte(mutations), &p.Mutations); err != nil {
				return nil, fmt.Errorf("failed to decode mutations for %s: %w", p.Name, err)
			}
		}
		p.FirstSeen, _ = time.Parse(time.RFC3339Nano, firstSeen)
		p.LastActive, _ = time.Parse(time.RFC3339Nano, lastActive)
		s.patterns[p.Name] = &p
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("pattern rows: %w", err)
	}

	edges, err := st.db.Query("SELECT a, b FROM topology")
	if err != nil {
		return nil, fmt.Errorf("failed to load topology: %w", err)
	}
	defer edges.Close()
	for edges.Next() {
		var a, b string
		if err := edges.Scan(&a, &b); err != nil {
			return nil, fmt.Errorf("failed to scan edge: %w", err)
		}
		s.edgeLocked(a, b)
	}
	if err := edges.Err(); err != nil {
		return nil, fmt.Errorf("topology rows: %w", err)
	}

	cycles, err := st.db.Query("SELECT id, started_at, ended_at, absorbed FROM cycles")
	if err != nil {
		return nil, fmt.Errorf("failed to load cycles: %w", err)
	}
	defer cycles.Close()
	for cycles.Next() {
		var c InstanceCycle
		var started, ended string
		if err := cycles.Scan(&c.ID, &started, &ended, &c.Absorbed); err != nil {
			return nil, fmt.Errorf("failed to scan cycle: %w", err)
		}
		c.StartedAt, _ = time.Parse(time.RFC3339Nano, started)
		c.EndedAt, _ = time.Parse(time.RFC3339Nano, ended)
		s.cycles = append(s.cycles, &c)
	}
	if err := cycles.Err(); err != nil {
		return nil, fmt.Errorf("cycle rows: %w", err)
	}

	levels, err := st.db.Query("SELECT level FROM trajectory ORDER BY seq")
	if err != nil {
		return nil, fmt.Errorf("failed to load trajectory: %w", err)
	}
	defer levels.Close()
	for levels.Next() {
		var level int
		if err := levels.Scan(&level); err != nil {
			return nil, fmt.Errorf("failed to scan trajectory: %w", err)
		}
		s.trajectory = append(s.trajectory, level)
	}
	if err := levels.Err(); err != nil {
		return nil, fmt.Errorf("trajectory rows: %w", err)
	}

	logging.Substrate("loaded substrate: %d patterns", s.Len())
	return s, nil
}

// Close closes the underlying database.
func (st *Store) Close() error {
	return st.db.Close()
}
