// Package history records finished linking attempts in a local SQLite
// database.
package history

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// Store is an open history database.
type Store struct {
	path string
	conn *sql.DB
}

// Open opens the database at DefaultPath.
func Open() (*Store, error) { return OpenAt(DefaultPath()) }

// OpenAt opens or creates the database at path and applies migrations.
// A file SQLite rejects as corrupt is moved aside with its WAL and shared
// memory files, and an empty database takes its place.
func OpenAt(path string) (*Store, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, errors.New("history path is required")
	}
	path = filepath.Clean(path)
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("create history dir: %w", err)
	}

	conn, err := connect(path)
	if err != nil && isCorruptSQLiteError(err) {
		if qerr := quarantine(path, time.Now()); qerr != nil {
			return nil, fmt.Errorf("history db unreadable (%v): %w", err, qerr)
		}
		conn, err = connect(path)
	}
	if err != nil {
		return nil, err
	}
	return &Store{path: path, conn: conn}, nil
}

// quarantine renames path and its sidecar files to a timestamped
// ".corrupt." name.
func quarantine(path string, now time.Time) error {
	dest := path + ".corrupt." + now.UTC().Format("20060102T150405Z")
	for _, suffix := range []string{"", "-wal", "-shm"} {
		err := os.Rename(path+suffix, dest+suffix)
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			return err
		}
	}
	return nil
}

// Close closes the database.
func (s *Store) Close() error {
	if s == nil || s.conn == nil {
		return nil
	}
	return s.conn.Close()
}

// Path is the database file location.
func (s *Store) Path() string {
	if s == nil {
		return ""
	}
	return s.path
}

// DefaultPath is $NEXUSLINK_HOME/data/history.db, falling back to
// ~/.nexuslink/data/history.db.
func DefaultPath() string {
	if home := os.Getenv("NEXUSLINK_HOME"); home != "" {
		return filepath.Join(home, "data", "history.db")
	}

	dir, err := os.UserHomeDir()
	if err != nil {
		dir = "."
	}
	return filepath.Join(dir, ".nexuslink", "data", "history.db")
}

// connect opens a single-connection pool. The pragmas ride in the DSN so
// the driver applies them to every connection it makes.
func connect(path string) (*sql.DB, error) {
	dsn := "file:" + filepath.ToSlash(path) +
		"?mode=rwc&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	conn, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open history db: %w", err)
	}
	conn.SetMaxOpenConns(1)

	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("open history db: %w", err)
	}
	if err := runMigrations(conn); err != nil {
		conn.Close()
		return nil, err
	}
	return conn, nil
}

func isCorruptSQLiteError(err error) bool {
	msg := strings.ToLower(err.Error())
	for _, marker := range []string{"file is not a database", "malformed", "not a database"} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}
