// Package sqlite implements the repository interfaces on SQLite via
// database/sql and the pure-Go modernc.org/sqlite driver.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite" // registers the "sqlite" driver

	"github.com/tourneyhub/identity/internal/repository"
)

// compile-time check that *DB implements repository.Store
var _ repository.Store = (*DB)(nil)

// querier is the subset of database/sql shared by *sql.DB and *sql.Tx, so
// the same store code runs inside and outside a transaction.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// DB wraps a sql.DB connection pool and provides repository methods.
type DB struct {
	conn *sql.DB
}

// New opens (or creates) the database at dbPath and runs migrations.
// Use ":memory:" for tests.
func New(dbPath string) (*DB, error) {
	conn, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("sqlite: opening database: %w", err)
	}

	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: pinging database: %w", err)
	}

	// WAL keeps reads concurrent with writes; foreign keys are off by
	// default in SQLite and we rely on them for view_as.viewer cleanup.
	if _, err := conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: setting WAL mode: %w", err)
	}
	if _, err := conn.Exec("PRAGMA foreign_keys=ON"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: enabling foreign keys: %w", err)
	}

	db := &DB{conn: conn}
	if err := db.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: running migrations: %w", err)
	}
	return db, nil
}

// Close closes the database connection pool.
func (db *DB) Close() error {
	return db.conn.Close()
}

// Users returns the non-transactional user store.
func (db *DB) Users() repository.UserRepository {
	return &UserStore{q: db.conn}
}

// WithTx runs fn against a transaction-backed user store. fn returning nil
// commits; any error (or panic) rolls back, so no partial write from fn is
// ever observable.
func (db *DB) WithTx(ctx context.Context, fn func(repository.UserRepository) error) error {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite: beginning transaction: %w", err)
	}
	defer tx.Rollback() // no-op after a successful Commit

	if err := fn(&UserStore{q: tx}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sqlite: committing transaction: %w", err)
	}
	return nil
}

func (db *DB) migrate() error {
	// Every external-id column is UNIQUE: at most one user may hold a given
	// (provider, external id) pair, and the constraint is what decides the
	// winner when two registrations race for the same identity.
	_, err := db.conn.Exec(`
		CREATE TABLE IF NOT EXISTS users (
			id                     TEXT PRIMARY KEY,
			display_source         TEXT NOT NULL,
			racetime_id            TEXT UNIQUE,
			racetime_display_name  TEXT,
			racetime_discriminator INTEGER,
			racetime_pronouns      TEXT,
			discord_id             INTEGER UNIQUE,
			discord_display_name   TEXT,
			discord_discriminator  INTEGER,
			discord_username       TEXT,
			challonge_id           TEXT UNIQUE,
			startgg_id             TEXT UNIQUE,
			created_at             DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at             DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		);
	`)
	if err != nil {
		return fmt.Errorf("creating users table: %w", err)
	}

	// view_as.view_as deliberately carries no foreign key: resolution must
	// detect a mapping whose target has been deleted and report it as a
	// data-integrity violation rather than have the schema mask it.
	_, err = db.conn.Exec(`
		CREATE TABLE IF NOT EXISTS view_as (
			viewer  TEXT PRIMARY KEY REFERENCES users(id) ON DELETE CASCADE,
			view_as TEXT NOT NULL
		);
	`)
	if err != nil {
		return fmt.Errorf("creating view_as table: %w", err)
	}

	return nil
}
