package dbx

import (
	"context"
	"fmt"
	"strings"
)

// Schema creates the dashboard tables. The DDL sticks to TEXT/INTEGER/REAL so
// the same statements run on both backends. supplier_metrics is created in its
// post-migration shape (range columns in the primary key); databases that
// predate the range columns are rebuilt by migrateSupplierRange.
const schema = `
CREATE TABLE IF NOT EXISTS stores (
    id              TEXT PRIMARY KEY,
    name            TEXT NOT NULL,
    shop_handle     TEXT NOT NULL DEFAULT '',
    shop_token      TEXT NOT NULL DEFAULT '',
    portal_url      TEXT NOT NULL DEFAULT '',
    portal_user     TEXT NOT NULL DEFAULT '',
    portal_pass     TEXT NOT NULL DEFAULT '',
    source_currency TEXT NOT NULL DEFAULT 'MXN',
    target_currency TEXT NOT NULL DEFAULT 'BRL',
    is_custom       INTEGER NOT NULL DEFAULT 0,
    created_at      INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS product_metrics (
    store_id         TEXT NOT NULL,
    date             TEXT NOT NULL,
    product          TEXT NOT NULL,
    total_orders     INTEGER NOT NULL DEFAULT 0,
    processed_orders INTEGER NOT NULL DEFAULT 0,
    delivered_orders INTEGER NOT NULL DEFAULT 0,
    total_value      REAL NOT NULL DEFAULT 0,
    product_url      TEXT NOT NULL DEFAULT '',
    image_url        TEXT NOT NULL DEFAULT '',
    PRIMARY KEY (store_id, date, product)
);

CREATE TABLE IF NOT EXISTS supplier_metrics (
    store_id        TEXT NOT NULL,
    date            TEXT NOT NULL,
    product         TEXT NOT NULL,
    provider        TEXT NOT NULL DEFAULT '',
    stock           INTEGER NOT NULL DEFAULT 0,
    orders_count    INTEGER NOT NULL DEFAULT 0,
    orders_value    REAL NOT NULL DEFAULT 0,
    transit_count   INTEGER NOT NULL DEFAULT 0,
    transit_value   REAL NOT NULL DEFAULT 0,
    delivered_count INTEGER NOT NULL DEFAULT 0,
    delivered_value REAL NOT NULL DEFAULT 0,
    profit          REAL NOT NULL DEFAULT 0,
    date_start      TEXT NOT NULL DEFAULT '',
    date_end        TEXT NOT NULL DEFAULT '',
    PRIMARY KEY (store_id, date_start, date_end, product)
);

CREATE TABLE IF NOT EXISTS product_effectiveness (
    store_id      TEXT NOT NULL,
    product       TEXT NOT NULL,
    effectiveness REAL NOT NULL DEFAULT 0,
    updated_at    INTEGER NOT NULL DEFAULT 0,
    PRIMARY KEY (store_id, product)
);

CREATE TABLE IF NOT EXISTS custom_product_data (
    store_id    TEXT NOT NULL,
    product     TEXT NOT NULL,
    supplier_id TEXT NOT NULL DEFAULT '',
    provider    TEXT NOT NULL DEFAULT '',
    updated_at  INTEGER NOT NULL DEFAULT 0,
    PRIMARY KEY (store_id, product)
);

CREATE TABLE IF NOT EXISTS ingest_log (
    id           TEXT PRIMARY KEY,
    store_id     TEXT NOT NULL,
    kind         TEXT NOT NULL,
    window_start TEXT NOT NULL,
    window_end   TEXT NOT NULL,
    status       TEXT NOT NULL,
    error        TEXT NOT NULL DEFAULT '',
    rows         INTEGER NOT NULL DEFAULT 0,
    duration_ms  INTEGER NOT NULL DEFAULT 0,
    started_at   INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_ingest_log_store ON ingest_log(store_id, started_at DESC);
CREATE INDEX IF NOT EXISTS idx_product_metrics_date ON product_metrics(store_id, date);
`

// statements splits the schema into per-statement execs. The pgx stdlib
// driver wants single statements, and the split keeps failure logs readable.
func statements() []string {
	var out []string
	for _, s := range strings.Split(schema, ";") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// EnsureSchema creates missing tables and applies additive migrations.
// Running it repeatedly is a no-op on a current database. Column-level DDL
// failures are logged and skipped (best-effort), table creation is not.
func EnsureSchema(ctx context.Context, db *DB) error {
	for _, stmt := range statements() {
		if _, err := db.SQL.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("dbx: ensure schema: %w", err)
		}
	}

	// Columns added after the initial release. Pre-existing tables get them
	// here; fresh tables already carry them from the CREATE.
	additive := []struct{ table, column, ddl string }{
		{"stores", "is_custom", "ALTER TABLE stores ADD COLUMN is_custom INTEGER NOT NULL DEFAULT 0"},
		{"stores", "created_at", "ALTER TABLE stores ADD COLUMN created_at INTEGER NOT NULL DEFAULT 0"},
		{"product_metrics", "image_url", "ALTER TABLE product_metrics ADD COLUMN image_url TEXT NOT NULL DEFAULT ''"},
	}
	for _, a := range additive {
		ok, err := db.columnExists(ctx, a.table, a.column)
		if err != nil {
			db.log.Warn("dbx: column check failed", "table", a.table, "column", a.column, "error", err)
			continue
		}
		if ok {
			continue
		}
		if err := db.addColumn(ctx, a.ddl); err != nil {
			db.log.Warn("dbx: add column failed", "table", a.table, "column", a.column, "error", err)
		}
	}

	if err := migrateSupplierRange(ctx, db); err != nil {
		return err
	}
	return nil
}

// columnExists checks the backend catalog for a column.
func (d *DB) columnExists(ctx context.Context, table, column string) (bool, error) {
	var count int
	var err error
	if d.dialect == DialectPostgres {
		err = d.SQL.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM information_schema.columns WHERE table_name = $1 AND column_name = $2`,
			table, column).Scan(&count)
	} else {
		err = d.SQL.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM pragma_table_info(?) WHERE name = ?`,
			table, column).Scan(&count)
	}
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func (d *DB) addColumn(ctx context.Context, ddl string) error {
	if d.dialect == DialectPostgres {
		// Postgres supports IF NOT EXISTS on ADD COLUMN; rewrite the neutral DDL.
		ddl = rewriteAddColumn(ddl)
	}
	_, err := d.SQL.ExecContext(ctx, ddl)
	return err
}

func rewriteAddColumn(ddl string) string {
	return strings.Replace(ddl, "ADD COLUMN ", "ADD COLUMN IF NOT EXISTS ", 1)
}

// migrateSupplierRange widens supplier_metrics with date_start/date_end so a
// row can represent a range instead of a single day. Existing rows are
// backfilled with date_start = date_end = date.
//
// SQLite cannot widen a primary key in place, so the table is rebuilt through
// a shadow table inside one transaction. Postgres adds the columns and
// backfills with an UPDATE.
func migrateSupplierRange(ctx context.Context, db *DB) error {
	ok, err := db.columnExists(ctx, "supplier_metrics", "date_start")
	if err != nil {
		return fmt.Errorf("dbx: supplier range check: %w", err)
	}
	if ok {
		return nil
	}

	if db.dialect == DialectPostgres {
		stmts := []string{
			`ALTER TABLE supplier_metrics ADD COLUMN IF NOT EXISTS date_start TEXT NOT NULL DEFAULT ''`,
			`ALTER TABLE supplier_metrics ADD COLUMN IF NOT EXISTS date_end TEXT NOT NULL DEFAULT ''`,
			`UPDATE supplier_metrics SET date_start = date, date_end = date WHERE date_start = ''`,
		}
		for _, s := range stmts {
			if _, err := db.SQL.ExecContext(ctx, s); err != nil {
				return fmt.Errorf("dbx: supplier range migration: %w", err)
			}
		}
		db.log.Info("dbx: supplier_metrics range columns added")
		return nil
	}

	err = db.Tx(ctx, func(tx *Tx) error {
		stmts := []string{
			`CREATE TABLE supplier_metrics_new (
				store_id        TEXT NOT NULL,
				date            TEXT NOT NULL,
				product         TEXT NOT NULL,
				provider        TEXT NOT NULL DEFAULT '',
				stock           INTEGER NOT NULL DEFAULT 0,
				orders_count    INTEGER NOT NULL DEFAULT 0,
				orders_value    REAL NOT NULL DEFAULT 0,
				transit_count   INTEGER NOT NULL DEFAULT 0,
				transit_value   REAL NOT NULL DEFAULT 0,
				delivered_count INTEGER NOT NULL DEFAULT 0,
				delivered_value REAL NOT NULL DEFAULT 0,
				profit          REAL NOT NULL DEFAULT 0,
				date_start      TEXT NOT NULL DEFAULT '',
				date_end        TEXT NOT NULL DEFAULT '',
				PRIMARY KEY (store_id, date_start, date_end, product)
			)`,
			`INSERT INTO supplier_metrics_new
				(store_id, date, product, provider, stock, orders_count, orders_value,
				 transit_count, transit_value, delivered_count, delivered_value, profit,
				 date_start, date_end)
			 SELECT store_id, date, product, provider, stock, orders_count, orders_value,
				 transit_count, transit_value, delivered_count, delivered_value, profit,
				 date, date
			 FROM supplier_metrics`,
			`DROP TABLE supplier_metrics`,
			`ALTER TABLE supplier_metrics_new RENAME TO supplier_metrics`,
		}
		for _, s := range stmts {
			if _, err := tx.Exec(ctx, s); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("dbx: supplier range rebuild: %w", err)
	}
	db.log.Info("dbx: supplier_metrics rebuilt with range columns")
	return nil
}
