// Package history persists finished runs to a local SQLite database so
// past results survive the process. The store keeps one row per run plus
// one row per test outcome; the CLI lists recent runs from it.
package history

import (
	"database/sql"
	_ "embed"
	stderrors "errors"
	"os"
	"path/filepath"
	"strings"
	"time"

	sqlite "modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/odvcencio/bowline/pkg/errors"
)

//go:embed schema.sql
var schemaSQL string

// DefaultFile is the database filename used when no path is configured.
const DefaultFile = "bowline-history.db"

// Store wraps the SQLite database holding run history.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) the history database at dbPath and applies the
// schema. The parent directory is created with private permissions.
func Open(dbPath string) (*Store, error) {
	dbPath = strings.TrimSpace(dbPath)
	if dbPath == "" {
		return nil, errors.New(errors.ErrCodeHistoryWrite, "history database path cannot be empty")
	}

	if dbPath != ":memory:" {
		if dir := filepath.Dir(dbPath); dir != "" && dir != "." {
			if err := os.MkdirAll(dir, 0o700); err != nil {
				return nil, errors.Wrap(err, errors.ErrCodeHistoryWrite, "cannot create history directory").
					WithContext("dir", dir)
			}
		}
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeHistoryWrite, "cannot open history database").
			WithContext("path", dbPath)
	}

	// SQLite allows one writer but many readers under WAL; size the pool
	// for concurrent reads from `history` commands during a run.
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(0)

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, errors.Wrap(err, errors.ErrCodeHistoryWrite, "cannot configure history database").
				WithContext("pragma", pragma)
		}
	}

	if err := migrate(db); err != nil {
		db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// migration is a single versioned schema change applied after the base schema.
type migration struct {
	version int
	name    string
	apply   func(db *sql.DB) error
}

// migrations is the ordered list of schema changes. Version 1 is the base
// schema itself, applied idempotently from schemaSQL.
var migrations = []migration{
	{1, "initial_schema", func(db *sql.DB) error { return nil }},
}

func migrate(db *sql.DB) error {
	if _, err := db.Exec(schemaSQL); err != nil {
		return errors.Wrap(err, errors.ErrCodeHistoryWrite, "cannot apply history schema")
	}

	current, err := schemaVersion(db)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeHistoryRead, "cannot read history schema version")
	}

	for _, m := range migrations {
		if m.version <= current {
			continue
		}
		if err := m.apply(db); err != nil {
			return errors.Wrap(err, errors.ErrCodeHistoryWrite, "history migration failed").
				WithContext("version", m.version).
				WithContext("name", m.name)
		}
		if _, err := db.Exec(
			"INSERT INTO schema_migrations (version, name) VALUES (?, ?)",
			m.version, m.name,
		); err != nil {
			return errors.Wrap(err, errors.ErrCodeHistoryWrite, "cannot record history migration").
				WithContext("version", m.version)
		}
	}
	return nil
}

func schemaVersion(db *sql.DB) (int, error) {
	var version int
	err := db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&version)
	if err != nil {
		if strings.Contains(err.Error(), "no such table") {
			return 0, nil
		}
		return 0, err
	}
	return version, nil
}

// isBusyError reports whether err is a transient SQLITE_BUSY/LOCKED error
// worth retrying.
func isBusyError(err error) bool {
	if err == nil {
		return false
	}
	var sqliteErr *sqlite.Error
	if stderrors.As(err, &sqliteErr) {
		code := sqliteErr.Code()
		return code == sqlite3.SQLITE_BUSY || code == sqlite3.SQLITE_LOCKED
	}
	return false
}

// withBusyRetry runs fn, retrying with exponential backoff when the
// database is locked by a concurrent writer.
func withBusyRetry(fn func() error) error {
	const maxRetries = 3
	baseDelay := 100 * time.Millisecond

	var err error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		err = fn()
		if err == nil {
			return nil
		}
		if isBusyError(err) && attempt < maxRetries {
			time.Sleep(baseDelay * time.Duration(1<<uint(attempt)))
			continue
		}
		return err
	}
	return err
}
