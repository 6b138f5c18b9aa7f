// Package adlinks classifies product links into ad-channel buckets so the UI
// knows which channel tabs are relevant for a store and window. The channel
// is encoded as a token suffix on the product URL's final path segment.
package adlinks

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/hazyhaar/vitrine/dbx"
)

// Channel labels.
const (
	Google   = "Google"
	TikTok   = "TikTok"
	Facebook = "Facebook"
)

// Classify buckets one URL by the lowercase suffix after the final '/'.
// Google tokens: gg, goog. TikTok tokens: ttk, tktk. Everything else is
// Facebook, the default channel.
func Classify(url string) string {
	suffix := url
	if i := strings.LastIndexByte(url, '/'); i >= 0 {
		suffix = url[i+1:]
	}
	suffix = strings.ToLower(suffix)
	switch {
	case strings.Contains(suffix, "gg"), strings.Contains(suffix, "goog"):
		return Google
	case strings.Contains(suffix, "ttk"), strings.Contains(suffix, "tktk"):
		return TikTok
	default:
		return Facebook
	}
}

// Categories reads every distinct product URL persisted for the store in the
// closed [start, end] window and returns the sorted set of channel labels
// present. Empty URLs are skipped.
func Categories(ctx context.Context, db *dbx.DB, storeID, start, end string) ([]string, error) {
	rows, err := db.Query(ctx,
		`SELECT DISTINCT product_url FROM product_metrics
		 WHERE store_id = ? AND date >= ? AND date <= ? AND product_url != ''`,
		storeID, start, end)
	if err != nil {
		return nil, fmt.Errorf("adlinks: query urls: %w", err)
	}
	defer rows.Close()

	seen := make(map[string]bool)
	for rows.Next() {
		var url string
		if err := rows.Scan(&url); err != nil {
			return nil, fmt.Errorf("adlinks: scan: %w", err)
		}
		seen[Classify(url)] = true
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	out := make([]string, 0, len(seen))
	for c := range seen {
		out = append(out, c)
	}
	sort.Strings(out)
	return out, nil
}
