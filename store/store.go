// Package store journals the top-level forms a session has accepted so the
// global environment can be rebuilt by replaying them.
package store

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// Entry kinds.
const (
	KindEval       = "eval"
	KindDefinitial = "definitial"
)

type Entry struct {
	Seq       int64
	Kind      string
	Name      string // set for definitial entries
	Source    string
	CreatedAt string
}

type Store struct {
	db *sql.DB
}

const schema = `CREATE TABLE IF NOT EXISTS forms (
	seq        INTEGER PRIMARY KEY AUTOINCREMENT,
	kind       TEXT NOT NULL,
	name       TEXT NOT NULL DEFAULT '',
	source     TEXT NOT NULL DEFAULT '',
	created_at TEXT NOT NULL
)`

// Open opens (or creates) the journal database at path.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping %s: %w", path, err)
	}
	// sqlite allows one writer; keep database/sql from opening more.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Append records entries in a single transaction.
func (s *Store) Append(entries ...Entry) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	now := time.Now().UTC().Format(time.RFC3339)
	for i, e := range entries {
		if e.Kind == "" || (e.Source == "" && e.Name == "") {
			tx.Rollback()
			return fmt.Errorf("entry %d: missing kind or source", i)
		}
		createdAt := e.CreatedAt
		if createdAt == "" {
			createdAt = now
		}
		if _, err := tx.Exec(
			`INSERT INTO forms (kind, name, source, created_at) VALUES (?, ?, ?, ?)`,
			e.Kind, e.Name, e.Source, createdAt,
		); err != nil {
			tx.Rollback()
			return fmt.Errorf("entry %d: %w", i, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// Entries returns every journaled form in insertion order.
func (s *Store) Entries() ([]Entry, error) {
	rows, err := s.db.Query(`SELECT seq, kind, name, source, created_at FROM forms ORDER BY seq`)
	if err != nil {
		return nil, fmt.Errorf("query: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.Seq, &e.Kind, &e.Name, &e.Source, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan: %w", err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// Truncate removes every entry.
func (s *Store) Truncate() error {
	if _, err := s.db.Exec(`DELETE FROM forms`); err != nil {
		return fmt.Errorf("truncate: %w", err)
	}
	return nil
}

func (s *Store) Close() error {
	return s.db.Close()
}
