// Package sqlstore implements storage.Store on a relational backend. Two
// dialects are supported: embedded SQLite (the test and single-node backend)
// and PostgreSQL (the server backend). All SQL is written with ? placeholders
// and rebound per dialect via sqlx.
package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog"

	"github.com/ceruleanworks/foreman/internal/storage"

	// Database drivers. SQLite is the wasm build, no cgo required.
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
)

type dialect int

const (
	dialectSQLite dialect = iota
	dialectPostgres
)

// Store is the sqlx-backed storage implementation.
type Store struct {
	queries
	db  *sqlx.DB
	log zerolog.Logger
}

var _ storage.Store = (*Store)(nil)

// Open connects to the backend selected by cfg.URL, applies pending
// migrations, and returns a ready store.
func Open(ctx context.Context, cfg storage.Config, log zerolog.Logger) (*Store, error) {
	driverName, dsn, d := resolveDSN(cfg.URL)

	db, err := sqlx.ConnectContext(ctx, driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if d == dialectSQLite {
		// A single connection serializes writers and keeps in-memory
		// databases coherent across the pool.
		db.SetMaxOpenConns(1)
	}

	if err := runMigrations(db, d, cfg.MigrationDir); err != nil {
		_ = db.Close()
		return nil, err
	}

	s := &Store{db: db, log: log}
	s.queries = queries{ext: db, d: d}
	return s, nil
}

// resolveDSN maps a configured URL onto (driver, dsn, dialect).
func resolveDSN(url string) (string, string, dialect) {
	if strings.HasPrefix(url, "postgres://") || strings.HasPrefix(url, "postgresql://") {
		return "pgx", url, dialectPostgres
	}
	dsn := url
	if !strings.HasPrefix(dsn, "file:") && dsn != ":memory:" {
		dsn = "file:" + dsn
	}
	// IMMEDIATE write transactions take the write lock up front, which
	// serializes concurrent writers without deadlocking them.
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	dsn += sep + "_txlock=immediate&_pragma=busy_timeout(10000)&_pragma=foreign_keys(1)"
	return "sqlite3", dsn, dialectSQLite
}

// RunInTx executes fn within a database transaction. On SQLite the
// transaction opens in IMMEDIATE mode (see resolveDSN); on PostgreSQL the
// default isolation applies and row locks come from LockTask/LockProject.
func (s *Store) RunInTx(ctx context.Context, fn func(tx storage.Tx) error) (err error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	q := &queries{ext: tx, d: s.d}
	if err := fn(q); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	committed = true
	return nil
}

// Close closes the underlying connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB exposes the underlying pool for extensions and the CLI's migrate
// command. Direct access bypasses the storage layer; use with caution.
func (s *Store) DB() *sqlx.DB {
	return s.db
}

// queries implements every read and mutation over either the pool or an
// open transaction.
type queries struct {
	ext sqlx.ExtContext
	d   dialect
}

// rebind converts ? placeholders to the dialect's form.
func (q *queries) rebind(query string) string {
	if q.d == dialectPostgres {
		return sqlx.Rebind(sqlx.DOLLAR, query)
	}
	return query
}

// forUpdate returns the row-lock suffix where the dialect supports one.
// SQLite needs none: the IMMEDIATE transaction already holds the write lock.
func (q *queries) forUpdate() string {
	if q.d == dialectPostgres {
		return " FOR UPDATE"
	}
	return ""
}

func (q *queries) get(ctx context.Context, dest any, query string, args ...any) error {
	return sqlx.GetContext(ctx, q.ext, dest, q.rebind(query), args...)
}

func (q *queries) selectAll(ctx context.Context, dest any, query string, args ...any) error {
	return sqlx.SelectContext(ctx, q.ext, dest, q.rebind(query), args...)
}

func (q *queries) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return q.ext.ExecContext(ctx, q.rebind(query), args...)
}

// isUniqueViolation detects a uniqueness constraint failure on either
// dialect.
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") ||
		strings.Contains(msg, "constraint failed: UNIQUE") ||
		strings.Contains(msg, "duplicate key value violates unique constraint")
}

// wrapErr normalizes driver errors: missing rows map to storage.ErrNotFound,
// uniqueness failures to storage.ErrDuplicate, everything else is wrapped
// with the failing operation.
func wrapErr(op string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, sql.ErrNoRows):
		return fmt.Errorf("%s: %w", op, storage.ErrNotFound)
	case isUniqueViolation(err):
		return fmt.Errorf("%s: %w", op, storage.ErrDuplicate)
	default:
		return fmt.Errorf("%s: %w", op, err)
	}
}

// mustAffect verifies an UPDATE touched a row, mapping zero rows to
// storage.ErrNotFound.
func mustAffect(op string, res sql.Result, err error) error {
	if err != nil {
		return wrapErr(op, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return wrapErr(op, err)
	}
	if n == 0 {
		return fmt.Errorf("%s: %w", op, storage.ErrNotFound)
	}
	return nil
}
