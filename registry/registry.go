// Package registry manages store configuration records: the list of shops the
// dashboard tracks, their storefront and supplier-portal credentials, and the
// cascade that removes a store with every dependent row.
package registry

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hazyhaar/vitrine/dbx"
)

// ErrNotFound is returned when no store matches the given id.
var ErrNotFound = errors.New("registry: store not found")

// Store is a configured shop. Credentials are stored as-is; the dashboard is
// a single-operator tool and the database file is the trust boundary.
type Store struct {
	ID             string `json:"id"`
	Name           string `json:"name"`
	ShopHandle     string `json:"shop_handle"`
	ShopToken      string `json:"-"`
	PortalURL      string `json:"portal_url"`
	PortalUser     string `json:"portal_user"`
	PortalPass     string `json:"-"`
	SourceCurrency string `json:"source_currency"`
	TargetCurrency string `json:"target_currency"`
	IsCustom       bool   `json:"is_custom"`
	CreatedAt      int64  `json:"created_at"`
}

// Ref is the (id, name) pair the sidebar selector lists.
type Ref struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Registry exposes CRUD over stores plus the admin cascade delete.
type Registry struct {
	db  *dbx.DB
	log *slog.Logger
}

// New creates a Registry. logger may be nil.
func New(db *dbx.DB, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{db: db, log: logger}
}

// List returns (id, name) pairs ordered by name.
func (r *Registry) List(ctx context.Context) ([]Ref, error) {
	rows, err := r.db.Query(ctx, `SELECT id, name FROM stores ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	refs := []Ref{}
	for rows.Next() {
		var ref Ref
		if err := rows.Scan(&ref.ID, &ref.Name); err != nil {
			return nil, fmt.Errorf("registry: scan: %w", err)
		}
		refs = append(refs, ref)
	}
	return refs, rows.Err()
}

// Get fetches the full record by id.
func (r *Registry) Get(ctx context.Context, id string) (*Store, error) {
	var s Store
	var isCustom int
	err := r.db.QueryRow(ctx,
		`SELECT id, name, shop_handle, shop_token, portal_url, portal_user, portal_pass,
		        source_currency, target_currency, is_custom, created_at
		 FROM stores WHERE id = ?`, id).
		Scan(&s.ID, &s.Name, &s.ShopHandle, &s.ShopToken, &s.PortalURL, &s.PortalUser,
			&s.PortalPass, &s.SourceCurrency, &s.TargetCurrency, &isCustom, &s.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("registry: get: %w", err)
	}
	s.IsCustom = isCustom != 0
	return &s, nil
}

// Create registers a new store. An empty ID gets a fresh opaque one; currency
// codes are uppercased and default to MXN (source) and BRL (target).
func (r *Registry) Create(ctx context.Context, s *Store) error {
	if strings.TrimSpace(s.Name) == "" {
		return fmt.Errorf("registry: store name is required")
	}
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	s.SourceCurrency = normalizeCurrency(s.SourceCurrency, "MXN")
	s.TargetCurrency = normalizeCurrency(s.TargetCurrency, "BRL")
	if s.CreatedAt == 0 {
		s.CreatedAt = time.Now().UnixMilli()
	}

	isCustom := 0
	if s.IsCustom {
		isCustom = 1
	}
	row := map[string]any{
		"id":              s.ID,
		"name":            s.Name,
		"shop_handle":     s.ShopHandle,
		"shop_token":      s.ShopToken,
		"portal_url":      strings.TrimRight(s.PortalURL, "/"),
		"portal_user":     s.PortalUser,
		"portal_pass":     s.PortalPass,
		"source_currency": s.SourceCurrency,
		"target_currency": s.TargetCurrency,
		"is_custom":       isCustom,
		"created_at":      s.CreatedAt,
	}
	if err := r.db.Upsert(ctx, "stores", row, []string{"id"}); err != nil {
		return err
	}
	r.log.Info("registry: store created", "id", s.ID, "name", s.Name)
	return nil
}

// dependentTables lists every table keyed on store_id, in delete order.
var dependentTables = []string{
	"product_metrics",
	"supplier_metrics",
	"product_effectiveness",
	"custom_product_data",
	"ingest_log",
}

// Delete removes a store and every dependent row in one transaction.
// The message reports per-table counts and the grand total of dependent rows.
// An unknown id yields (false, "not found") and no side effects: the whole
// transaction rolls back, orphans included.
func (r *Registry) Delete(ctx context.Context, id string) (bool, string) {
	var parts []string
	var total int64

	err := r.db.Tx(ctx, func(tx *dbx.Tx) error {
		for _, table := range dependentTables {
			res, err := tx.Exec(ctx, fmt.Sprintf(`DELETE FROM %s WHERE store_id = ?`, table), id)
			if err != nil {
				return err
			}
			n, _ := res.RowsAffected()
			parts = append(parts, fmt.Sprintf("%s=%d", table, n))
			total += n
		}
		res, err := tx.Exec(ctx, `DELETE FROM stores WHERE id = ?`, id)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return ErrNotFound
		}
		return nil
	})
	if errors.Is(err, ErrNotFound) {
		return false, "not found"
	}
	if err != nil {
		r.log.Error("registry: cascade delete failed", "id", id, "error", err)
		return false, err.Error()
	}

	msg := fmt.Sprintf("deleted store %s: %s, total %d rows", id, strings.Join(parts, " "), total)
	r.log.Info("registry: store deleted", "id", id, "dependent_rows", total)
	return true, msg
}

func normalizeCurrency(code, def string) string {
	code = strings.ToUpper(strings.TrimSpace(code))
	if len(code) != 3 {
		return def
	}
	return code
}
