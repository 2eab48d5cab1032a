// Package postgres is the production storage driver. It backs both the
// vector store (pgvector) and the profile document store on one database.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/pkg/errors"

	// Import the Postgres driver.
	_ "github.com/lib/pq"

	"github.com/hrygo/mnemo/store"
)

// DB wraps the shared connection pool.
type DB struct {
	db  *sql.DB
	dim int
}

// NewDB opens a Postgres connection pool. dim is the embedding dimension the
// vector column is declared with; it must match the model adapter.
func NewDB(dsn string, dim int) (*DB, error) {
	if dsn == "" {
		return nil, errors.New("dsn required")
	}
	if dim <= 0 {
		return nil, errors.New("embedding dimension required")
	}

	pgDB, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open postgres")
	}
	pgDB.SetMaxOpenConns(25)
	pgDB.SetMaxIdleConns(5)
	pgDB.SetConnMaxLifetime(30 * time.Minute)

	return &DB{db: pgDB, dim: dim}, nil
}

// Records exposes the vector-store role of the shared connection.
type Records struct{ *DB }

// Profiles exposes the profile-document role of the shared connection.
type Profiles struct{ *DB }

// Records returns the store.VectorStore view of the database.
func (d *DB) Records() *Records { return &Records{d} }

// Profiles returns the store.ProfileDocStore view of the database.
func (d *DB) Profiles() *Profiles { return &Profiles{d} }

var (
	_ store.VectorStore     = (*Records)(nil)
	_ store.ProfileDocStore = (*Profiles)(nil)
)

func (d *DB) GetDB() *sql.DB {
	return d.db
}

func (d *DB) Close() error {
	return d.db.Close()
}

// Migrate creates the schema when it does not exist. Idempotent.
func (d *DB) Migrate(ctx context.Context) error {
	stmts := []string{
		`CREATE EXTENSION IF NOT EXISTS vector`,
		fmt.Sprintf(`
			CREATE TABLE IF NOT EXISTS memory_record (
				id TEXT PRIMARY KEY,
				embedding vector(%d),
				user_id TEXT NOT NULL,
				chat_id TEXT NOT NULL DEFAULT '',
				turn_id TEXT NOT NULL DEFAULT '',
				role TEXT NOT NULL,
				seq INTEGER NOT NULL DEFAULT 0,
				created_at BIGINT NOT NULL,
				kind TEXT NOT NULL,
				content TEXT NOT NULL,
				has_artifact BOOLEAN NOT NULL DEFAULT FALSE,
				artifact_url TEXT NOT NULL DEFAULT ''
			)`, d.dim),
		`CREATE INDEX IF NOT EXISTS idx_memory_record_user ON memory_record (user_id, kind)`,
		`CREATE INDEX IF NOT EXISTS idx_memory_record_chat ON memory_record (user_id, chat_id)`,
		`CREATE TABLE IF NOT EXISTS user_profile (
			user_id TEXT PRIMARY KEY,
			doc JSONB NOT NULL,
			updated_at BIGINT NOT NULL
		)`,
	}
	for _, stmt := range stmts {
		if _, err := d.db.ExecContext(ctx, stmt); err != nil {
			return errors.Wrap(err, "failed to migrate schema")
		}
	}
	return nil
}

func placeholder(n int) string {
	return fmt.Sprintf("$%d", n)
}

func placeholders(n int) string {
	list := make([]string, n)
	for i := range list {
		list[i] = placeholder(i + 1)
	}
	return strings.Join(list, ", ")
}
