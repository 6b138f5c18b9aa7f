// Package dbx provides one query/upsert/transaction surface over the two
// dashboard backends: an embedded SQLite file and a hosted Postgres database.
//
// Callers write SQL in a neutral dialect with `?` positional placeholders;
// dbx rewrites them to `$1…$n` for Postgres and injects the right conflict
// clause when building upserts. The backend is selected at open time from the
// environment: DATABASE_URL (or a Railway deployment) means Postgres,
// otherwise a local SQLite file.
//
// Usage:
//
//	db, err := dbx.Open()
//	db.Upsert(ctx, "stores", row, []string{"id"})
//
// In tests:
//
//	db := dbx.OpenMemory(t)
package dbx

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"
)

// Dialect identifies the backend SQL flavor.
type Dialect int

const (
	DialectSQLite Dialect = iota
	DialectPostgres
)

func (d Dialect) String() string {
	if d == DialectPostgres {
		return "postgres"
	}
	return "sqlite"
}

type config struct {
	sqlitePath  string
	postgresDSN string
	busyTimeout int
	mkdirAll    bool
	logger      *slog.Logger
}

func defaults() config {
	return config{
		sqlitePath:  "dashboard.db",
		busyTimeout: 10_000,
		logger:      slog.Default(),
	}
}

// Option customises Open behaviour.
type Option func(*config)

// WithSQLitePath sets the embedded database file. Default: "dashboard.db".
func WithSQLitePath(path string) Option { return func(c *config) { c.sqlitePath = path } }

// WithPostgresDSN forces the hosted backend regardless of environment.
func WithPostgresDSN(dsn string) Option { return func(c *config) { c.postgresDSN = dsn } }

// WithBusyTimeout sets PRAGMA busy_timeout in milliseconds (SQLite only).
func WithBusyTimeout(ms int) Option { return func(c *config) { c.busyTimeout = ms } }

// WithMkdirAll creates parent directories of the SQLite path before opening.
func WithMkdirAll() Option { return func(c *config) { c.mkdirAll = true } }

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option { return func(c *config) { c.logger = l } }

// DB wraps the backend connection with dialect-aware helpers.
type DB struct {
	SQL     *sql.DB
	dialect Dialect
	log     *slog.Logger
}

// Open selects and opens the backend. DATABASE_URL (or RAILWAY_ENVIRONMENT
// with DATABASE_URL set by the platform) selects Postgres and supplies its
// DSN; otherwise the embedded SQLite file is used with production pragmas.
func Open(opts ...Option) (*DB, error) {
	cfg := defaults()
	for _, o := range opts {
		o(&cfg)
	}

	dsn := cfg.postgresDSN
	if dsn == "" {
		dsn = os.Getenv("DATABASE_URL")
	}
	if dsn == "" && os.Getenv("RAILWAY_ENVIRONMENT") != "" {
		// Railway injects DATABASE_URL on linked services; an empty value
		// here means the database plugin is not attached.
		return nil, fmt.Errorf("dbx: RAILWAY_ENVIRONMENT set but DATABASE_URL is empty")
	}

	if dsn != "" {
		db, err := sql.Open("pgx", dsn)
		if err != nil {
			return nil, fmt.Errorf("dbx: open postgres: %w", err)
		}
		if err := db.Ping(); err != nil {
			db.Close()
			return nil, fmt.Errorf("dbx: ping postgres: %w", err)
		}
		cfg.logger.Info("dbx: backend selected", "dialect", "postgres")
		return &DB{SQL: db, dialect: DialectPostgres, log: cfg.logger}, nil
	}

	if cfg.mkdirAll && cfg.sqlitePath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(cfg.sqlitePath), 0o755); err != nil {
			return nil, fmt.Errorf("dbx: mkdir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", cfg.sqlitePath)
	if err != nil {
		return nil, fmt.Errorf("dbx: open sqlite: %w", err)
	}
	pragmas := []string{
		"PRAGMA foreign_keys = ON",
		"PRAGMA journal_mode = WAL",
		fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.busyTimeout),
		"PRAGMA synchronous = NORMAL",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("dbx: %s: %w", p, err)
		}
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("dbx: ping sqlite: %w", err)
	}
	cfg.logger.Info("dbx: backend selected", "dialect", "sqlite", "path", cfg.sqlitePath)
	return &DB{SQL: db, dialect: DialectSQLite, log: cfg.logger}, nil
}

// OpenMemory opens an in-memory SQLite database for testing.
// MaxOpenConns(1) ensures all queries hit the same in-memory database
// (each connection to ":memory:" creates a separate one).
func OpenMemory(t testing.TB) *DB {
	t.Helper()
	db, err := Open(WithSQLitePath(":memory:"))
	if err != nil {
		t.Fatalf("dbx.OpenMemory: %v", err)
	}
	db.SQL.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })
	return db
}

// Dialect reports the active backend flavor.
func (d *DB) Dialect() Dialect { return d.dialect }

// Close closes the underlying connection pool.
func (d *DB) Close() error { return d.SQL.Close() }

// Exec runs a statement written with `?` placeholders. Implicit commit.
func (d *DB) Exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	res, err := d.SQL.ExecContext(ctx, Rewrite(d.dialect, query), args...)
	if err != nil {
		return nil, fmt.Errorf("dbx: exec: %w", err)
	}
	return res, nil
}

// Query runs a fetch-all query written with `?` placeholders.
func (d *DB) Query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	rows, err := d.SQL.QueryContext(ctx, Rewrite(d.dialect, query), args...)
	if err != nil {
		return nil, fmt.Errorf("dbx: query: %w", err)
	}
	return rows, nil
}

// QueryRow runs a fetch-one query written with `?` placeholders.
func (d *DB) QueryRow(ctx context.Context, query string, args ...any) *sql.Row {
	return d.SQL.QueryRowContext(ctx, Rewrite(d.dialect, query), args...)
}

// Upsert inserts row into table, replacing every non-key column on conflict
// with keyCols. Column order is sorted so the generated SQL is deterministic.
func (d *DB) Upsert(ctx context.Context, table string, row map[string]any, keyCols []string) error {
	query, args := UpsertSQL(d.dialect, table, row, keyCols)
	if _, err := d.SQL.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("dbx: upsert %s: %w", table, err)
	}
	return nil
}

// Tx runs fn inside one explicit transaction. Rollback on error or panic,
// commit otherwise. The contract is all-or-nothing.
func (d *DB) Tx(ctx context.Context, fn func(tx *Tx) error) error {
	sqlTx, err := d.SQL.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("dbx: begin: %w", err)
	}
	tx := &Tx{tx: sqlTx, dialect: d.dialect}
	defer func() {
		if p := recover(); p != nil {
			sqlTx.Rollback()
			panic(p)
		}
	}()
	if err := fn(tx); err != nil {
		// Rollback on an already-finished tx returns sql.ErrTxDone; ignore.
		sqlTx.Rollback()
		return err
	}
	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("dbx: commit: %w", err)
	}
	return nil
}

// Tx exposes the adapter surface inside a transaction.
type Tx struct {
	tx      *sql.Tx
	dialect Dialect
}

// Exec runs a statement inside the transaction.
func (t *Tx) Exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	res, err := t.tx.ExecContext(ctx, Rewrite(t.dialect, query), args...)
	if err != nil {
		return nil, fmt.Errorf("dbx: tx exec: %w", err)
	}
	return res, nil
}

// Query runs a fetch-all query inside the transaction.
func (t *Tx) Query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	rows, err := t.tx.QueryContext(ctx, Rewrite(t.dialect, query), args...)
	if err != nil {
		return nil, fmt.Errorf("dbx: tx query: %w", err)
	}
	return rows, nil
}

// QueryRow runs a fetch-one query inside the transaction.
func (t *Tx) QueryRow(ctx context.Context, query string, args ...any) *sql.Row {
	return t.tx.QueryRowContext(ctx, Rewrite(t.dialect, query), args...)
}

// Upsert inserts row inside the transaction with the same contract as DB.Upsert.
func (t *Tx) Upsert(ctx context.Context, table string, row map[string]any, keyCols []string) error {
	query, args := UpsertSQL(t.dialect, table, row, keyCols)
	if _, err := t.tx.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("dbx: tx upsert %s: %w", table, err)
	}
	return nil
}

// UpsertSQL builds the dialect-specific insert-or-update statement and its
// argument list. Exposed for tests; callers use DB.Upsert / Tx.Upsert.
func UpsertSQL(dialect Dialect, table string, row map[string]any, keyCols []string) (string, []any) {
	cols := make([]string, 0, len(row))
	for c := range row {
		cols = append(cols, c)
	}
	sort.Strings(cols)

	keys := make(map[string]bool, len(keyCols))
	for _, k := range keyCols {
		keys[k] = true
	}

	args := make([]any, 0, len(cols))
	marks := make([]string, 0, len(cols))
	for i, c := range cols {
		args = append(args, row[c])
		if dialect == DialectPostgres {
			marks = append(marks, fmt.Sprintf("$%d", i+1))
		} else {
			marks = append(marks, "?")
		}
	}

	excluded := "excluded"
	if dialect == DialectPostgres {
		excluded = "EXCLUDED"
	}
	var sets []string
	for _, c := range cols {
		if keys[c] {
			continue
		}
		sets = append(sets, fmt.Sprintf("%s = %s.%s", c, excluded, c))
	}

	var b strings.Builder
	fmt.Fprintf(&b, "INSERT INTO %s (%s) VALUES (%s) ON CONFLICT (%s) ",
		table, strings.Join(cols, ", "), strings.Join(marks, ", "), strings.Join(keyCols, ", "))
	if len(sets) == 0 {
		b.WriteString("DO NOTHING")
	} else {
		fmt.Fprintf(&b, "DO UPDATE SET %s", strings.Join(sets, ", "))
	}
	return b.String(), args
}
