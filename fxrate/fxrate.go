// Package fxrate resolves currency conversion rates from a public rates API.
//
// The resolver is deliberately forgiving: any transport, status, or parsing
// failure falls back to a rate of 1.0 so a dead rates endpoint never blocks
// the dashboard. Successful lookups are memoized per Client; the fallback is
// not, so a recovered endpoint serves real rates on the next call.
package fxrate

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

const defaultBaseURL = "https://open.er-api.com/v6"

// Client fetches and memoizes from→to rates.
type Client struct {
	base string
	http *http.Client
	log  *slog.Logger

	mu   sync.Mutex
	memo map[string]float64
}

// Option customises the client.
type Option func(*Client)

// WithBaseURL overrides the rates endpoint (tests point it at a fixture).
func WithBaseURL(base string) Option {
	return func(c *Client) { c.base = strings.TrimRight(base, "/") }
}

// WithHTTPClient overrides the HTTP client. Default timeout: 30s.
func WithHTTPClient(h *http.Client) Option { return func(c *Client) { c.http = h } }

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option { return func(c *Client) { c.log = l } }

// New creates a rate client.
func New(opts ...Option) *Client {
	c := &Client{
		base: defaultBaseURL,
		http: &http.Client{Timeout: 30 * time.Second},
		log:  slog.Default(),
		memo: make(map[string]float64),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

type ratesResponse struct {
	Result string             `json:"result"`
	Rates  map[string]float64 `json:"rates"`
}

// Rate returns the from→to conversion rate, or 1.0 when the pair is equal,
// unknown, or the endpoint cannot be reached. It never returns an error.
func (c *Client) Rate(ctx context.Context, from, to string) float64 {
	from = strings.ToUpper(strings.TrimSpace(from))
	to = strings.ToUpper(strings.TrimSpace(to))
	if from == "" || to == "" || from == to {
		return 1.0
	}

	key := from + "/" + to
	c.mu.Lock()
	if r, ok := c.memo[key]; ok {
		c.mu.Unlock()
		return r
	}
	c.mu.Unlock()

	rate, ok := c.fetch(ctx, from, to)
	if !ok {
		// The fallback is not a rate; memoizing it would pin conversions at
		// 1.0 long after the endpoint recovers.
		return rate
	}

	c.mu.Lock()
	c.memo[key] = rate
	c.mu.Unlock()
	return rate
}

func (c *Client) fetch(ctx context.Context, from, to string) (float64, bool) {
	url := fmt.Sprintf("%s/latest/%s", c.base, from)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		c.log.Warn("fxrate: request build failed", "pair", from+"/"+to, "error", err)
		return 1.0, false
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		c.log.Warn("fxrate: fetch failed, falling back to 1.0", "pair", from+"/"+to, "error", err)
		return 1.0, false
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		c.log.Warn("fxrate: non-200 from rates endpoint", "pair", from+"/"+to, "status", resp.StatusCode)
		return 1.0, false
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		c.log.Warn("fxrate: read body failed", "pair", from+"/"+to, "error", err)
		return 1.0, false
	}

	var parsed ratesResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		c.log.Warn("fxrate: decode failed", "pair", from+"/"+to, "error", err)
		return 1.0, false
	}
	if parsed.Result != "success" {
		c.log.Warn("fxrate: endpoint reported failure", "pair", from+"/"+to, "result", parsed.Result)
		return 1.0, false
	}
	rate, ok := parsed.Rates[to]
	if !ok || rate <= 0 {
		c.log.Warn("fxrate: target currency missing from rates", "pair", from+"/"+to)
		return 1.0, false
	}
	return rate, true
}

// Convert scales amount by the from→to rate using decimal arithmetic so
// float drift does not accumulate across summed monetary values.
func (c *Client) Convert(ctx context.Context, amount float64, from, to string) float64 {
	rate := c.Rate(ctx, from, to)
	if rate == 1.0 {
		return amount
	}
	out, _ := decimal.NewFromFloat(amount).
		Mul(decimal.NewFromFloat(rate)).
		Round(2).
		Float64()
	return out
}
