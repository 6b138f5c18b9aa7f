package shopfront

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hazyhaar/vitrine/dbx"
)

// fakeSource replays fixed catalog and order data.
type fakeSource struct {
	urls   map[string]string
	images map[string]string
	orders []Order
	err    error
}

func (f *fakeSource) Products(ctx context.Context) (map[string]string, map[string]string, error) {
	if f.err != nil {
		return nil, nil, f.err
	}
	return f.urls, f.images, nil
}

func (f *fakeSource) Orders(ctx context.Context, start, end string) ([]Order, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.orders, nil
}

func openIngester(t *testing.T) (*Ingester, *dbx.DB) {
	t.Helper()
	db := dbx.OpenMemory(t)
	if err := dbx.EnsureSchema(context.Background(), db); err != nil {
		t.Fatalf("ensure schema: %v", err)
	}
	return NewIngester(db, nil), db
}

type metricRow struct {
	total, processed, delivered int
	value                       float64
	url                         string
}

func fetchMetric(t *testing.T, db *dbx.DB, store, date, product string) (metricRow, bool) {
	t.Helper()
	var m metricRow
	err := db.QueryRow(context.Background(),
		`SELECT total_orders, processed_orders, delivered_orders, total_value, product_url
		 FROM product_metrics WHERE store_id = ? AND date = ? AND product = ?`,
		store, date, product).
		Scan(&m.total, &m.processed, &m.delivered, &m.value, &m.url)
	if err != nil {
		return metricRow{}, false
	}
	return m, true
}

func TestRunPersistsAggregates(t *testing.T) {
	// WHAT: a run writes one row per product with the rolled-up counters and
	// the URL/image lookups applied; unknown titles get empty strings.
	// WHY: persisted rows are what every read endpoint serves.
	ing, db := openIngester(t)
	src := &fakeSource{
		urls:   map[string]string{"Widget": "/products/widget-gg"},
		images: map[string]string{"Widget": "https://cdn.test/w.png"},
		orders: []Order{
			{ID: "A", Lines: []Line{
				{Title: "Widget", Quantity: 2, Value: 10.00},
				{Title: "Gadget", Quantity: 1, Value: 25.00},
			}},
			{ID: "B", Lines: []Line{{Title: "Widget", Quantity: 3, Value: 30.00}}},
		},
	}

	rows, err := ing.Run(context.Background(), src, "acme", "2024-01-01", "2024-01-01")
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if rows != 2 {
		t.Errorf("rows written: got %d, want 2", rows)
	}

	w, ok := fetchMetric(t, db, "acme", "2024-01-01", "Widget")
	if !ok {
		t.Fatal("Widget row missing")
	}
	if w.total != 5 || w.processed != 5 || w.delivered != 5 || w.value != 40.00 {
		t.Errorf("Widget: got %+v", w)
	}
	if w.url != "/products/widget-gg" {
		t.Errorf("Widget url: got %q", w.url)
	}

	g, ok := fetchMetric(t, db, "acme", "2024-01-01", "Gadget")
	if !ok {
		t.Fatal("Gadget row missing")
	}
	if g.total != 1 || g.value != 25.00 {
		t.Errorf("Gadget: got %+v", g)
	}
	if g.url != "" {
		t.Errorf("Gadget url should be empty, got %q", g.url)
	}
}

func TestRerunReplacesWindow(t *testing.T) {
	// WHAT: re-running the same window removes products absent from the new
	// result and updates the rest.
	// WHY: the storefront result is authoritative for its window.
	ing, db := openIngester(t)
	ctx := context.Background()

	first := &fakeSource{orders: []Order{
		{ID: "A", Lines: []Line{
			{Title: "Widget", Quantity: 2, Value: 10.00},
			{Title: "Gadget", Quantity: 1, Value: 25.00},
		}},
		{ID: "B", Lines: []Line{{Title: "Widget", Quantity: 3, Value: 30.00}}},
	}}
	if _, err := ing.Run(ctx, first, "acme", "2024-01-01", "2024-01-01"); err != nil {
		t.Fatalf("first run: %v", err)
	}

	second := &fakeSource{orders: []Order{
		{ID: "C", Lines: []Line{{Title: "Widget", Quantity: 3, Value: 30.00}}},
	}}
	if _, err := ing.Run(ctx, second, "acme", "2024-01-01", "2024-01-01"); err != nil {
		t.Fatalf("second run: %v", err)
	}

	if _, ok := fetchMetric(t, db, "acme", "2024-01-01", "Gadget"); ok {
		t.Error("Gadget row should be gone after rerun")
	}
	w, ok := fetchMetric(t, db, "acme", "2024-01-01", "Widget")
	if !ok {
		t.Fatal("Widget row missing after rerun")
	}
	if w.total != 3 || w.value != 30.00 {
		t.Errorf("Widget after rerun: got total=%d value=%v, want 3/30.00", w.total, w.value)
	}
}

func TestFailedFetchPreservesPriorRows(t *testing.T) {
	// WHAT: a fetch failure surfaces before the destructive delete runs.
	// WHY: prior successful state must survive a dead storefront.
	ing, db := openIngester(t)
	ctx := context.Background()

	good := &fakeSource{orders: []Order{
		{ID: "A", Lines: []Line{{Title: "Widget", Quantity: 1, Value: 5.00}}},
	}}
	if _, err := ing.Run(ctx, good, "acme", "2024-01-01", "2024-01-01"); err != nil {
		t.Fatalf("seed run: %v", err)
	}

	bad := &fakeSource{err: errors.New("storefront down")}
	if _, err := ing.Run(ctx, bad, "acme", "2024-01-01", "2024-01-01"); err == nil {
		t.Fatal("expected error from failed fetch")
	}

	if _, ok := fetchMetric(t, db, "acme", "2024-01-01", "Widget"); !ok {
		t.Error("prior row destroyed by failed run")
	}
}

func TestRunWritesIngestLog(t *testing.T) {
	// WHAT: every run leaves an ingest_log row with its status.
	// WHY: the UI's run history reads from this table.
	ing, db := openIngester(t)
	ctx := context.Background()

	ing.Run(ctx, &fakeSource{}, "acme", "2024-01-01", "2024-01-01")
	ing.Run(ctx, &fakeSource{err: errors.New("boom")}, "acme", "2024-01-02", "2024-01-02")

	var ok, failed int
	db.QueryRow(ctx, `SELECT COUNT(*) FROM ingest_log WHERE store_id = ? AND status = 'ok'`, "acme").Scan(&ok)
	db.QueryRow(ctx, `SELECT COUNT(*) FROM ingest_log WHERE store_id = ? AND status = 'error'`, "acme").Scan(&failed)
	if ok != 1 || failed != 1 {
		t.Errorf("ingest_log: got ok=%d error=%d, want 1/1", ok, failed)
	}
}

// gatedSource blocks inside Orders until released, so a test can hold one
// run mid-fetch while a second run contends for the same key.
type gatedSource struct {
	fakeSource
	entered chan struct{}
	release chan struct{}
}

func (g *gatedSource) Orders(ctx context.Context, start, end string) ([]Order, error) {
	close(g.entered)
	<-g.release
	return g.fakeSource.Orders(ctx, start, end)
}

func TestConcurrentSameKeyRunsSerialize(t *testing.T) {
	// WHAT: two concurrent runs for the same (store, date) execute one after
	// the other; the second does not even start fetching while the first
	// holds the key, and the final row set is exactly the later run's result.
	// WHY: the first write of a run is a destructive delete; interleaving two
	// runs for one key would tear the row set.
	ing, db := openIngester(t)
	ctx := context.Background()

	first := &gatedSource{
		fakeSource: fakeSource{orders: []Order{
			{ID: "A", Lines: []Line{{Title: "Widget", Quantity: 2, Value: 10.00}}},
		}},
		entered: make(chan struct{}),
		release: make(chan struct{}),
	}
	var secondStarted atomic.Bool
	second := &gatedSource{
		fakeSource: fakeSource{orders: []Order{
			{ID: "B", Lines: []Line{{Title: "Gadget", Quantity: 3, Value: 30.00}}},
		}},
		entered: make(chan struct{}),
		release: make(chan struct{}),
	}
	close(second.release)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		if _, err := ing.Run(ctx, first, "acme", "2024-01-01", "2024-01-01"); err != nil {
			t.Errorf("first run: %v", err)
		}
	}()
	<-first.entered // first run holds the key, blocked mid-fetch

	wg.Add(1)
	go func() {
		defer wg.Done()
		secondStarted.Store(true)
		if _, err := ing.Run(ctx, second, "acme", "2024-01-01", "2024-01-01"); err != nil {
			t.Errorf("second run: %v", err)
		}
	}()

	// Give the second goroutine time to reach Run and block on the key.
	for !secondStarted.Load() {
		time.Sleep(time.Millisecond)
	}
	time.Sleep(20 * time.Millisecond)
	select {
	case <-second.entered:
		t.Fatal("second run started fetching while first held the key")
	default:
	}

	close(first.release)
	wg.Wait()

	// The second run ran entirely after the first: its result is the final
	// authoritative row set.
	if _, ok := fetchMetric(t, db, "acme", "2024-01-01", "Widget"); ok {
		t.Error("first run's row survived the second run's rewrite")
	}
	g, ok := fetchMetric(t, db, "acme", "2024-01-01", "Gadget")
	if !ok {
		t.Fatal("second run's row missing")
	}
	if g.total != 3 || g.value != 30.00 {
		t.Errorf("Gadget: got %+v", g)
	}
}
