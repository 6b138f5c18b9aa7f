// Package shopfront pulls products and orders from a storefront GraphQL API
// and rolls them up into per-(store, date, product) aggregates.
//
// The write step is destructive by design: the storefront result is
// authoritative for its window, so ingestion deletes the (store, date) row set
// before upserting the fresh aggregates. The delete only happens after both
// fetch phases succeed, so a failed run leaves prior rows intact.
package shopfront

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

const pageSize = 50

// Client talks to one store's GraphQL endpoint.
type Client struct {
	endpoint string
	token    string
	http     *http.Client
	log      *slog.Logger
}

// Option customises the client.
type Option func(*Client)

// WithEndpoint overrides the derived endpoint URL (tests point it at a fixture).
func WithEndpoint(url string) Option { return func(c *Client) { c.endpoint = url } }

// WithHTTPClient overrides the HTTP client. Default timeout: 30s.
func WithHTTPClient(h *http.Client) Option { return func(c *Client) { c.http = h } }

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option { return func(c *Client) { c.log = l } }

// New creates a client for the store identified by its handle. The access
// token is sent on every request.
func New(handle, token string, opts ...Option) *Client {
	c := &Client{
		endpoint: fmt.Sprintf("https://%s.myshopify.com/admin/api/2024-01/graphql.json", handle),
		token:    token,
		http:     &http.Client{Timeout: 30 * time.Second},
		log:      slog.Default(),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

type gqlRequest struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables,omitempty"`
}

type gqlError struct {
	Message string `json:"message"`
}

type gqlEnvelope struct {
	Data   json.RawMessage `json:"data"`
	Errors []gqlError      `json:"errors"`
}

// do posts one GraphQL query and decodes data into out. A non-2xx status or
// a non-empty errors array aborts with the first message; the caller treats
// that as a page failure and surfaces it.
func (c *Client) do(ctx context.Context, query string, variables map[string]any, out any) error {
	payload, err := json.Marshal(gqlRequest{Query: query, Variables: variables})
	if err != nil {
		return fmt.Errorf("shopfront: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("shopfront: new request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Shopify-Access-Token", c.token)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("shopfront: http: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 10*1024*1024))
	if err != nil {
		return fmt.Errorf("shopfront: read body: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("shopfront: http %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var env gqlEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return fmt.Errorf("shopfront: decode: %w", err)
	}
	if len(env.Errors) > 0 {
		return fmt.Errorf("shopfront: graphql: %s", env.Errors[0].Message)
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return fmt.Errorf("shopfront: decode data: %w", err)
	}
	return nil
}
