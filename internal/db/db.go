// Package db is the SQLite GraphStore. Stops, cluster roles, membership
// edges and dependent relationships live in one database file whose schema
// is managed by embedded golang-migrate migrations.
package db

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"

	_ "modernc.org/sqlite"

	"github.com/banshee-data/transit-hubs/internal/stops"
	"github.com/banshee-data/transit-hubs/internal/unify"
)

// Options configures relationship handling.
type Options struct {
	UsageRelationship     string   // counted as usage by root selection
	RedirectRelationships []string // moved to roots by redirection
}

// DB is a SQLite connection pool plus the relationship kinds the store
// works with.
type DB struct {
	*sql.DB
	path      string
	usageKind string
	kinds     unify.KindSet
}

// Compile-time checks.
var (
	_ unify.GraphStore  = (*DB)(nil)
	_ unify.RunRecorder = (*DB)(nil)
)

var pragmas = []string{
	"busy_timeout(5000)",
	"journal_mode(WAL)",
	"synchronous(NORMAL)",
	"temp_store(MEMORY)",
	"foreign_keys(1)",
}

func dsn(path string) string {
	q := url.Values{}
	for _, p := range pragmas {
		q.Add("_pragma", p)
	}
	q.Set("_txlock", "immediate")
	return "file:" + path + "?" + q.Encode()
}

// OpenDB opens the database without touching the schema. Every pooled
// connection gets the same pragmas.
func OpenDB(path string) (*DB, error) {
	sqlDB, err := sql.Open("sqlite", dsn(path))
	if err != nil {
		return nil, err
	}
	if err := sqlDB.Ping(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	db := &DB{DB: sqlDB, path: path}
	if err := db.SetOptions(Options{}); err != nil {
		sqlDB.Close()
		return nil, err
	}
	return db, nil
}

// NewDB opens the database and applies all pending migrations.
func NewDB(path string, opts Options) (*DB, error) {
	db, err := OpenDB(path)
	if err != nil {
		return nil, err
	}
	if err := db.SetOptions(opts); err != nil {
		db.Close()
		return nil, err
	}
	fsys, err := getMigrationsFS()
	if err != nil {
		db.Close()
		return nil, err
	}
	if err := db.MigrateUp(fsys); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

// SetOptions validates and applies relationship kinds. Empty fields fall
// back to STOPS_AT.
func (db *DB) SetOptions(opts Options) error {
	if opts.UsageRelationship == "" {
		opts.UsageRelationship = "STOPS_AT"
	}
	if !stops.ValidRelationshipKind(opts.UsageRelationship) {
		return &stops.PreconditionError{Field: "usage relationship", Value: opts.UsageRelationship, Reason: "must match ^[A-Z][A-Z0-9_]*$"}
	}
	if len(opts.RedirectRelationships) == 0 {
		opts.RedirectRelationships = []string{opts.UsageRelationship}
	}
	kinds, err := unify.NewKindSet(opts.RedirectRelationships...)
	if err != nil {
		return err
	}
	db.usageKind = opts.UsageRelationship
	db.kinds = kinds
	return nil
}

// Path returns the database file path.
func (db *DB) Path() string { return db.path }

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// withTx runs fn in a transaction, committing only if fn succeeds.
func (db *DB) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func (db *DB) String() string {
	return fmt.Sprintf("sqlite(%s, usage %s, redirect %v)", db.path, db.usageKind, db.kinds.Sorted())
}
