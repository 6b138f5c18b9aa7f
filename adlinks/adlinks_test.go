package adlinks

import (
	"context"
	"reflect"
	"testing"

	"github.com/hazyhaar/vitrine/dbx"
)

func TestClassify(t *testing.T) {
	// WHAT: suffix tokens map to their channels, case-insensitively;
	// anything else is Facebook.
	// WHY: the token table is the whole classification contract.
	cases := []struct {
		url  string
		want string
	}{
		{"https://shop.test/products/abc-gg", Google},
		{"https://shop.test/products/x-goog-y", Google},
		{"/products/ABC-GG", Google},
		{"https://shop.test/products/ttk123", TikTok},
		{"https://shop.test/products/tktk-z", TikTok},
		{"https://shop.test/products/widget", Facebook},
		{"/products/plain", Facebook},
		// Tokens in earlier path segments do not count; only the suffix does.
		{"https://gg.test/products/widget", Facebook},
	}
	for _, c := range cases {
		if got := Classify(c.url); got != c.want {
			t.Errorf("Classify(%q): got %s, want %s", c.url, got, c.want)
		}
	}
}

func TestCategories(t *testing.T) {
	// WHAT: the persisted URLs of a window produce the sorted set of
	// channel labels, skipping empty URLs.
	// WHY: the UI only shows channel tabs that have data behind them.
	db := dbx.OpenMemory(t)
	ctx := context.Background()
	if err := dbx.EnsureSchema(ctx, db); err != nil {
		t.Fatalf("ensure schema: %v", err)
	}

	seed := []struct{ product, url string }{
		{"W1", "/products/widget-gg"},
		{"W2", "/products/widget-ttk"},
		{"W3", "/products/widget"},
		{"W4", ""},
	}
	for _, s := range seed {
		if _, err := db.Exec(ctx,
			`INSERT INTO product_metrics (store_id, date, product, product_url) VALUES (?, ?, ?, ?)`,
			"acme", "2024-01-01", s.product, s.url); err != nil {
			t.Fatalf("seed: %v", err)
		}
	}

	got, err := Categories(ctx, db, "acme", "2024-01-01", "2024-01-01")
	if err != nil {
		t.Fatalf("categories: %v", err)
	}
	want := []string{Facebook, Google, TikTok}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestCategoriesOutsideWindow(t *testing.T) {
	// WHAT: rows outside the window contribute nothing.
	// WHY: the channel tabs are scoped to the selected window.
	db := dbx.OpenMemory(t)
	ctx := context.Background()
	if err := dbx.EnsureSchema(ctx, db); err != nil {
		t.Fatalf("ensure schema: %v", err)
	}
	if _, err := db.Exec(ctx,
		`INSERT INTO product_metrics (store_id, date, product, product_url) VALUES (?, ?, ?, ?)`,
		"acme", "2023-12-31", "W1", "/products/widget-gg"); err != nil {
		t.Fatalf("seed: %v", err)
	}

	got, err := Categories(ctx, db, "acme", "2024-01-01", "2024-01-31")
	if err != nil {
		t.Fatalf("categories: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("got %v, want empty", got)
	}
}
