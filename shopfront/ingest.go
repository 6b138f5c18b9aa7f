package shopfront

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hazyhaar/vitrine/dbx"
)

// Source yields a store's catalog lookups and windowed orders. *Client
// implements it; tests substitute a fixture.
type Source interface {
	Products(ctx context.Context) (urls, images map[string]string, err error)
	Orders(ctx context.Context, start, end string) ([]Order, error)
}

// Ingester runs storefront pulls and persists the aggregates.
type Ingester struct {
	db  *dbx.DB
	log *slog.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewIngester creates an Ingester. logger may be nil.
func NewIngester(db *dbx.DB, logger *slog.Logger) *Ingester {
	if logger == nil {
		logger = slog.Default()
	}
	return &Ingester{db: db, log: logger, locks: make(map[string]*sync.Mutex)}
}

// lockKey serializes runs per (store, date). The first write of a run is a
// destructive delete; two interleaved runs for the same key would tear the
// row set. Different keys run freely.
func (g *Ingester) lockKey(key string) func() {
	g.mu.Lock()
	l := g.locks[key]
	if l == nil {
		l = &sync.Mutex{}
		g.locks[key] = l
	}
	g.mu.Unlock()
	l.Lock()
	return l.Unlock
}

// Run ingests orders for the closed [start, end] window of one store and
// replaces the (store, date) row set, where date is the window end. It
// returns the number of product rows written.
//
// Both fetch phases complete before any write: a transport or GraphQL
// failure surfaces with prior rows intact.
func (g *Ingester) Run(ctx context.Context, src Source, storeID, start, end string) (int, error) {
	date := dateOnly(end)
	startedAt := time.Now()

	unlock := g.lockKey(storeID + "|" + date)
	defer unlock()

	rows, err := g.run(ctx, src, storeID, start, end, date)
	g.logRun(ctx, storeID, "orders", start, end, rows, startedAt, err)
	return rows, err
}

func (g *Ingester) run(ctx context.Context, src Source, storeID, start, end, date string) (int, error) {
	urls, images, err := src.Products(ctx)
	if err != nil {
		return 0, fmt.Errorf("products: %w", err)
	}
	orders, err := src.Orders(ctx, start, end)
	if err != nil {
		return 0, fmt.Errorf("orders: %w", err)
	}
	aggs := Aggregate(orders)

	for title, a := range aggs {
		if a.Delivered < 0 || a.Delivered > a.Processed || a.Processed > a.Total {
			return 0, fmt.Errorf("shopfront: aggregate for %q violates delivered<=processed<=total (%d/%d/%d)",
				title, a.Delivered, a.Processed, a.Total)
		}
	}

	err = g.db.Tx(ctx, func(tx *dbx.Tx) error {
		// The fresh result is authoritative for the window: products absent
		// from it must disappear from the row set.
		if _, err := tx.Exec(ctx,
			`DELETE FROM product_metrics WHERE store_id = ? AND date = ?`, storeID, date); err != nil {
			return err
		}
		for title, a := range aggs {
			row := map[string]any{
				"store_id":         storeID,
				"date":             date,
				"product":          title,
				"total_orders":     a.Total,
				"processed_orders": a.Processed,
				"delivered_orders": a.Delivered,
				"total_value":      a.Value,
				"product_url":      urls[title],
				"image_url":        images[title],
			}
			if err := tx.Upsert(ctx, "product_metrics", row, []string{"store_id", "date", "product"}); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	g.log.Info("shopfront: window ingested",
		"store_id", storeID, "date", date, "products", len(aggs), "orders", len(orders))
	return len(aggs), nil
}

// logRun records the outcome in ingest_log. Best-effort: a logging failure
// never fails the ingestion itself.
func (g *Ingester) logRun(ctx context.Context, storeID, kind, start, end string, rows int, startedAt time.Time, runErr error) {
	status, errMsg := "ok", ""
	if runErr != nil {
		status, errMsg = "error", runErr.Error()
	}
	_, err := g.db.Exec(ctx,
		`INSERT INTO ingest_log (id, store_id, kind, window_start, window_end, status, error, rows, duration_ms, started_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		uuid.NewString(), storeID, kind, start, end, status, errMsg, rows,
		time.Since(startedAt).Milliseconds(), startedAt.UnixMilli())
	if err != nil {
		g.log.Warn("shopfront: ingest_log write failed", "store_id", storeID, "error", err)
	}
}

// dateOnly truncates a timestamp-ish string to YYYY-MM-DD.
func dateOnly(s string) string {
	if len(s) > 10 {
		return s[:10]
	}
	return s
}
