// Package sqlite is the development profile store driver.
//
// SQLite is supported on a best-effort basis for development and testing
// only. It serves the profile document store; vector search requires
// Postgres with pgvector and is deliberately not implemented here.
package sqlite

import (
	"context"
	"database/sql"

	"github.com/pkg/errors"

	// Import the SQLite driver.
	_ "modernc.org/sqlite"
)

// DB wraps the single-connection SQLite handle.
type DB struct {
	db *sql.DB
}

// NewDB opens the database file at dsn.
func NewDB(dsn string) (*DB, error) {
	if dsn == "" {
		return nil, errors.New("dsn required")
	}

	// WAL journal mode, no foreign keys, generous busy timeout. With the
	// modernc.org/sqlite driver each pragma is prefixed with `_pragma=`.
	sqliteDB, err := sql.Open("sqlite", dsn+"?_pragma=foreign_keys(0)&_pragma=busy_timeout(10000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open db with dsn: %s", dsn)
	}

	// A single connection is optimal for SQLite with WAL.
	sqliteDB.SetMaxOpenConns(1)
	sqliteDB.SetMaxIdleConns(1)
	sqliteDB.SetConnMaxLifetime(0)
	sqliteDB.SetConnMaxIdleTime(0)

	return &DB{db: sqliteDB}, nil
}

func (d *DB) GetDB() *sql.DB {
	return d.db
}

func (d *DB) Close() error {
	return d.db.Close()
}

// Migrate creates the profile table when it does not exist. Idempotent.
func (d *DB) Migrate(ctx context.Context) error {
	_, err := d.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS user_profile (
			user_id TEXT PRIMARY KEY,
			doc TEXT NOT NULL,
			updated_at INTEGER NOT NULL
		)`)
	return errors.Wrap(err, "failed to migrate schema")
}
