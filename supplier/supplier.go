// Package supplier extracts fulfillment metrics from the logistics portal.
// The portal has no API, so a headless browser logs in, applies the date
// range, and reads the product report table. The browser is scoped to one
// Scrape call and is shut down on every exit path.
package supplier

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/hazyhaar/vitrine/dbx"
)

// Portal holds the credentials of one store's supplier account.
type Portal struct {
	URL  string
	User string
	Pass string
}

// Metric is one product row of the portal's report.
type Metric struct {
	Product        string  `json:"product"`
	Provider       string  `json:"provider"`
	Stock          int     `json:"stock"`
	OrdersCount    int     `json:"orders_count"`
	OrdersValue    float64 `json:"orders_value"`
	TransitCount   int     `json:"transit_count"`
	TransitValue   float64 `json:"transit_value"`
	DeliveredCount int     `json:"delivered_count"`
	DeliveredValue float64 `json:"delivered_value"`
	Profit         float64 `json:"profit"`
}

// Persist upserts scraped metrics for the [start, end] window. Rows are keyed
// on (store, date_start, date_end, product); date_start is authoritative and
// the legacy date column mirrors it for single-day compatibility reads.
// It returns the number of rows written.
func Persist(ctx context.Context, db *dbx.DB, storeID, start, end string, metrics []Metric) (int, error) {
	err := db.Tx(ctx, func(tx *dbx.Tx) error {
		for _, m := range metrics {
			row := map[string]any{
				"store_id":        storeID,
				"date":            start,
				"date_start":      start,
				"date_end":        end,
				"product":         m.Product,
				"provider":        m.Provider,
				"stock":           m.Stock,
				"orders_count":    m.OrdersCount,
				"orders_value":    m.OrdersValue,
				"transit_count":   m.TransitCount,
				"transit_value":   m.TransitValue,
				"delivered_count": m.DeliveredCount,
				"delivered_value": m.DeliveredValue,
				"profit":          m.Profit,
			}
			if err := tx.Upsert(ctx, "supplier_metrics", row,
				[]string{"store_id", "date_start", "date_end", "product"}); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("supplier: persist: %w", err)
	}
	return len(metrics), nil
}

// LogRun records a scrape outcome in ingest_log. Best-effort.
func LogRun(ctx context.Context, db *dbx.DB, storeID, start, end string, rows int, startedAt time.Time, runErr error) {
	status, errMsg := "ok", ""
	if runErr != nil {
		status, errMsg = "error", runErr.Error()
	}
	db.Exec(ctx,
		`INSERT INTO ingest_log (id, store_id, kind, window_start, window_end, status, error, rows, duration_ms, started_at)
		 VALUES (?, ?, 'supplier', ?, ?, ?, ?, ?, ?, ?)`,
		uuid.NewString(), storeID, start, end, status, errMsg, rows,
		time.Since(startedAt).Milliseconds(), startedAt.UnixMilli())
}
