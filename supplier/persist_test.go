package supplier

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/hazyhaar/vitrine/dbx"
)

func openPersistDB(t *testing.T) *dbx.DB {
	t.Helper()
	db := dbx.OpenMemory(t)
	if err := dbx.EnsureSchema(context.Background(), db); err != nil {
		t.Fatalf("ensure schema: %v", err)
	}
	return db
}

func TestPersistUpsertsRange(t *testing.T) {
	// WHAT: Persist writes one row per metric keyed on the date range, with
	// date mirroring date_start, and re-persisting updates in place.
	// WHY: the range columns are authoritative after the migration; the
	// legacy date column must stay consistent for single-day reads.
	db := openPersistDB(t)
	ctx := context.Background()

	metrics := []Metric{
		{Product: "Widget", Provider: "DropCo", Stock: 40, OrdersCount: 5, OrdersValue: 200, Profit: 80},
		{Product: "Gadget", Provider: "DropCo", Stock: 3, OrdersCount: 1, OrdersValue: 25, Profit: 10},
	}
	n, err := Persist(ctx, db, "acme", "2024-01-01", "2024-01-07", metrics)
	if err != nil {
		t.Fatalf("persist: %v", err)
	}
	if n != 2 {
		t.Errorf("rows: got %d, want 2", n)
	}

	var date, dateStart, dateEnd string
	var stock int
	err = db.QueryRow(ctx,
		`SELECT date, date_start, date_end, stock FROM supplier_metrics
		 WHERE store_id = ? AND product = ?`, "acme", "Widget").
		Scan(&date, &dateStart, &dateEnd, &stock)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if dateStart != "2024-01-01" || dateEnd != "2024-01-07" || date != dateStart {
		t.Errorf("dates: got date=%s start=%s end=%s", date, dateStart, dateEnd)
	}
	if stock != 40 {
		t.Errorf("stock: got %d", stock)
	}

	// Same window again: update, not duplicate.
	metrics[0].Stock = 35
	if _, err := Persist(ctx, db, "acme", "2024-01-01", "2024-01-07", metrics[:1]); err != nil {
		t.Fatalf("re-persist: %v", err)
	}
	var count int
	db.QueryRow(ctx,
		`SELECT COUNT(*) FROM supplier_metrics WHERE store_id = ? AND product = ?`,
		"acme", "Widget").Scan(&count)
	if count != 1 {
		t.Errorf("duplicate rows after re-persist: %d", count)
	}
	db.QueryRow(ctx,
		`SELECT stock FROM supplier_metrics WHERE store_id = ? AND product = ?`,
		"acme", "Widget").Scan(&stock)
	if stock != 35 {
		t.Errorf("stock not updated: got %d", stock)
	}
}

func TestLogRun(t *testing.T) {
	// WHAT: LogRun records ok and error outcomes under kind 'supplier'.
	// WHY: scrape failures must show up in the run history.
	db := openPersistDB(t)
	ctx := context.Background()

	LogRun(ctx, db, "acme", "2024-01-01", "2024-01-07", 2, time.Now(), nil)
	LogRun(ctx, db, "acme", "2024-01-01", "2024-01-07", 0, time.Now(), errors.New("timeout"))

	var ok, failed int
	db.QueryRow(ctx,
		`SELECT COUNT(*) FROM ingest_log WHERE store_id = ? AND kind = 'supplier' AND status = 'ok'`,
		"acme").Scan(&ok)
	db.QueryRow(ctx,
		`SELECT COUNT(*) FROM ingest_log WHERE store_id = ? AND kind = 'supplier' AND status = 'error'`,
		"acme").Scan(&failed)
	if ok != 1 || failed != 1 {
		t.Errorf("ingest_log: got ok=%d error=%d, want 1/1", ok, failed)
	}
}
