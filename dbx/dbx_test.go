package dbx

import (
	"context"
	"testing"
)

func openSchemaDB(t *testing.T) *DB {
	t.Helper()
	db := OpenMemory(t)
	if err := EnsureSchema(context.Background(), db); err != nil {
		t.Fatalf("ensure schema: %v", err)
	}
	return db
}

func TestUpsertSQLShape(t *testing.T) {
	// WHAT: generated upsert SQL is deterministic and dialect-correct.
	// WHY: the conflict clause is the whole contract; both spellings matter.
	row := map[string]any{"id": "s1", "name": "Acme", "is_custom": 0}

	q, args := UpsertSQL(DialectSQLite, "stores", row, []string{"id"})
	want := "INSERT INTO stores (id, is_custom, name) VALUES (?, ?, ?) " +
		"ON CONFLICT (id) DO UPDATE SET is_custom = excluded.is_custom, name = excluded.name"
	if q != want {
		t.Errorf("sqlite:\n got %q\nwant %q", q, want)
	}
	if len(args) != 3 || args[0] != "s1" {
		t.Errorf("args: got %v", args)
	}

	q, _ = UpsertSQL(DialectPostgres, "stores", row, []string{"id"})
	want = "INSERT INTO stores (id, is_custom, name) VALUES ($1, $2, $3) " +
		"ON CONFLICT (id) DO UPDATE SET is_custom = EXCLUDED.is_custom, name = EXCLUDED.name"
	if q != want {
		t.Errorf("postgres:\n got %q\nwant %q", q, want)
	}
}

func TestUpsertKeyOnlyRow(t *testing.T) {
	// WHAT: a row with only key columns emits DO NOTHING.
	// WHY: DO UPDATE SET with an empty assignment list is a syntax error.
	q, _ := UpsertSQL(DialectSQLite, "t", map[string]any{"id": 1}, []string{"id"})
	want := "INSERT INTO t (id) VALUES (?) ON CONFLICT (id) DO NOTHING"
	if q != want {
		t.Errorf("got %q, want %q", q, want)
	}
}

func TestUpsertInsertThenUpdate(t *testing.T) {
	// WHAT: after Upsert the row is present exactly once with the incoming
	// non-key values, on both the insert and the conflict path.
	// WHY: idempotent ingestion rewrites go through this contract.
	db := openSchemaDB(t)
	ctx := context.Background()

	row := map[string]any{
		"store_id": "acme", "product": "Widget",
		"effectiveness": 0.5, "updated_at": int64(1),
	}
	if err := db.Upsert(ctx, "product_effectiveness", row, []string{"store_id", "product"}); err != nil {
		t.Fatalf("insert path: %v", err)
	}

	row["effectiveness"] = 0.9
	row["updated_at"] = int64(2)
	if err := db.Upsert(ctx, "product_effectiveness", row, []string{"store_id", "product"}); err != nil {
		t.Fatalf("update path: %v", err)
	}

	var count int
	var eff float64
	err := db.QueryRow(ctx,
		`SELECT COUNT(*) FROM product_effectiveness WHERE store_id = ? AND product = ?`,
		"acme", "Widget").Scan(&count)
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 1 {
		t.Fatalf("row count: got %d, want 1", count)
	}
	err = db.QueryRow(ctx,
		`SELECT effectiveness FROM product_effectiveness WHERE store_id = ? AND product = ?`,
		"acme", "Widget").Scan(&eff)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if eff != 0.9 {
		t.Errorf("effectiveness: got %v, want 0.9", eff)
	}
}

func TestTxRollbackOnError(t *testing.T) {
	// WHAT: an error inside Tx rolls back every statement.
	// WHY: the cascade delete contract is all-or-nothing.
	db := openSchemaDB(t)
	ctx := context.Background()

	if _, err := db.Exec(ctx,
		`INSERT INTO stores (id, name, created_at) VALUES (?, ?, ?)`, "s1", "Acme", 1); err != nil {
		t.Fatalf("seed: %v", err)
	}

	errBoom := context.Canceled // any sentinel works
	err := db.Tx(ctx, func(tx *Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM stores WHERE id = ?`, "s1"); err != nil {
			return err
		}
		return errBoom
	})
	if err != errBoom {
		t.Fatalf("tx error: got %v, want %v", err, errBoom)
	}

	var count int
	if err := db.QueryRow(ctx, `SELECT COUNT(*) FROM stores WHERE id = ?`, "s1").Scan(&count); err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 1 {
		t.Errorf("store deleted despite rollback")
	}
}
