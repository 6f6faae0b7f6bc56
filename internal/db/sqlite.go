// Package db implements the SQLite audit log: every command sent through the
// session pool, the lifecycle of each RCON session and health alerts.
package db

import (
	"database/sql"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"sync"

	"github.com/rs/zerolog/log"
	_ "modernc.org/sqlite"
)

// Pragma is one SQLite setting applied to every pooled connection, e.g.
// {"busy_timeout", "5000"}.
type Pragma struct {
	Name  string
	Value string
}

// Database is a single-writer SQLite handle. Writes are serialized; reads
// go straight to the pool.
type Database struct {
	mu   sync.Mutex
	db   *sql.DB
	path string
}

// NewDatabase opens or creates the database at dbPath. The pragmas are
// encoded into the DSN so the driver reapplies them on every connection.
func NewDatabase(dbPath string, pragmas ...Pragma) (*Database, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	sqlDB, err := sql.Open("sqlite", dsn(dbPath, pragmas))
	if err != nil {
		return nil, fmt.Errorf("failed to open database %s: %w", dbPath, err)
	}
	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetMaxIdleConns(1)

	if err := sqlDB.Ping(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("database ping failed: %w", err)
	}

	log.Info().
		Str("component", "db").
		Str("path", dbPath).
		Int("pragmas", len(pragmas)).
		Msg("database opened")
	return &Database{db: sqlDB, path: dbPath}, nil
}

func dsn(dbPath string, pragmas []Pragma) string {
	if len(pragmas) == 0 {
		return dbPath
	}
	q := url.Values{}
	for _, p := range pragmas {
		q.Add("_pragma", fmt.Sprintf("%s(%s)", p.Name, p.Value))
	}
	return "file:" + dbPath + "?" + q.Encode()
}

// Pragma reads the current value of a setting.
func (d *Database) Pragma(name string) (string, error) {
	var v string
	if err := d.db.QueryRow("PRAGMA " + name).Scan(&v); err != nil {
		return "", fmt.Errorf("read pragma %s: %w", name, err)
	}
	return v, nil
}

// Close closes the database connection.
func (d *Database) Close() error {
	return d.db.Close()
}

// Path returns the database file path.
func (d *Database) Path() string {
	return d.path
}

// Exec runs a write statement under the writer lock.
func (d *Database) Exec(query string, args ...interface{}) (sql.Result, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.db.Exec(query, args...)
}

// Query runs a read.
func (d *Database) Query(query string, args ...interface{}) (*sql.Rows, error) {
	return d.db.Query(query, args...)
}

// Transaction runs fn in a transaction under the writer lock, rolling back
// when fn fails.
func (d *Database) Transaction(fn func(tx *sql.Tx) error) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	tx, err := d.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}
