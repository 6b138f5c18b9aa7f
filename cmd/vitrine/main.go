// Entry point for the vitrine dashboard service. One binary: chi router, JWT
// cookie sessions, the ingest pipelines, and the SPA shell.
package main

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/joho/godotenv"

	"github.com/hazyhaar/vitrine/adlinks"
	"github.com/hazyhaar/vitrine/auth"
	"github.com/hazyhaar/vitrine/config"
	"github.com/hazyhaar/vitrine/dbx"
	"github.com/hazyhaar/vitrine/fxrate"
	"github.com/hazyhaar/vitrine/registry"
	"github.com/hazyhaar/vitrine/shopfront"
	"github.com/hazyhaar/vitrine/supplier"
)

//go:embed static
var staticFS embed.FS

func main() {
	_ = godotenv.Load()

	port := env("PORT", "8080")
	secretInput := os.Getenv("SESSION_SECRET")
	if secretInput == "" {
		slog.Error("SESSION_SECRET is required")
		os.Exit(1)
	}
	jwtSecret := auth.DeriveSecret(secretInput)

	// Logging.
	var lvl slog.Level
	switch env("LOG_LEVEL", "info") {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
	slog.SetDefault(logger)

	// Signal context.
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// Accounts (YAML file, or the built-in pair).
	accounts, err := config.Load(env("ACCOUNTS_FILE", ""))
	if err != nil {
		slog.Error("accounts", "error", err)
		os.Exit(1)
	}

	// Database. DATABASE_URL selects postgres; otherwise local sqlite.
	db, err := dbx.Open(
		dbx.WithSQLitePath(env("SQLITE_PATH", "dashboard.db")),
		dbx.WithMkdirAll(),
		dbx.WithLogger(logger),
	)
	if err != nil {
		slog.Error("open db", "error", err)
		os.Exit(1)
	}
	defer db.Close()
	if err := dbx.EnsureSchema(ctx, db); err != nil {
		slog.Error("schema", "error", err)
		os.Exit(1)
	}

	reg := registry.New(db, logger)
	fx := fxrate.New(fxrate.WithLogger(logger))
	ingester := shopfront.NewIngester(db, logger)
	scraper := supplier.NewScraper(supplier.Config{
		ControlURL: env("BROWSER_URL", ""),
		Logger:     logger,
	})

	// Router.
	r := chi.NewRouter()
	r.Use(auth.Middleware(jwtSecret)) // Soft parse on all routes.

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, 200, map[string]string{"status": "ok"})
	})

	// Public auth endpoints.
	r.Post("/api/auth/login", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Username string `json:"username"`
			Password string `json:"password"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, 400, err)
			return
		}
		account := accounts.Authenticate(req.Username, req.Password)
		if account == nil {
			writeJSON(w, 401, map[string]string{"error": "invalid credentials"})
			return
		}
		token, err := auth.GenerateToken(jwtSecret, account.Username, account.Role, 24*time.Hour)
		if err != nil {
			writeError(w, 500, err)
			return
		}
		secure := r.TLS != nil || r.Header.Get("X-Forwarded-Proto") == "https"
		auth.SetTokenCookie(w, token, secure)
		writeJSON(w, 200, map[string]string{"username": account.Username, "role": account.Role})
	})

	r.Post("/api/auth/logout", func(w http.ResponseWriter, _ *http.Request) {
		auth.ClearTokenCookie(w)
		writeJSON(w, 200, map[string]string{"status": "ok"})
	})

	// SPA shell and static assets (no auth, the login page lives in the SPA).
	r.Get("/", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		f, err := staticFS.Open("static/index.html")
		if err != nil {
			http.Error(w, "not found", 404)
			return
		}
		defer f.Close()
		io.Copy(w, f)
	})
	r.Handle("/static/*", http.FileServer(http.FS(staticFS)))

	// All API endpoints require a valid session.
	r.Group(func(r chi.Router) {
		r.Use(requireSession)

		r.Get("/api/auth/me", func(w http.ResponseWriter, r *http.Request) {
			c := auth.GetClaims(r.Context())
			writeJSON(w, 200, map[string]string{"username": c.Username, "role": c.Role})
		})

		r.Get("/api/stores", func(w http.ResponseWriter, r *http.Request) {
			list, err := reg.List(r.Context())
			if err != nil {
				writeError(w, 500, err)
				return
			}
			writeJSON(w, 200, list)
		})

		r.Post("/api/stores", func(w http.ResponseWriter, r *http.Request) {
			var req struct {
				ID             string `json:"id"`
				Name           string `json:"name"`
				ShopHandle     string `json:"shop_handle"`
				ShopToken      string `json:"shop_token"`
				PortalURL      string `json:"portal_url"`
				PortalUser     string `json:"portal_user"`
				PortalPass     string `json:"portal_pass"`
				SourceCurrency string `json:"source_currency"`
				TargetCurrency string `json:"target_currency"`
				IsCustom       bool   `json:"is_custom"`
			}
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				writeError(w, 400, err)
				return
			}
			if req.Name == "" {
				writeJSON(w, 400, map[string]string{"error": "name is required"})
				return
			}
			s := &registry.Store{
				ID:             req.ID,
				Name:           req.Name,
				ShopHandle:     req.ShopHandle,
				ShopToken:      req.ShopToken,
				PortalURL:      req.PortalURL,
				PortalUser:     req.PortalUser,
				PortalPass:     req.PortalPass,
				SourceCurrency: req.SourceCurrency,
				TargetCurrency: req.TargetCurrency,
				IsCustom:       req.IsCustom,
			}
			if err := reg.Create(r.Context(), s); err != nil {
				writeError(w, 500, err)
				return
			}
			writeJSON(w, 201, s)
		})

		r.Get("/api/stores/{id}", func(w http.ResponseWriter, r *http.Request) {
			s, err := reg.Get(r.Context(), chi.URLParam(r, "id"))
			if err != nil {
				writeStoreError(w, err)
				return
			}
			writeJSON(w, 200, s)
		})

		// Destructive. One gesture: the caller proves intent by echoing the
		// store name in ?confirm=.
		r.With(requireAdmin).Delete("/api/stores/{id}", func(w http.ResponseWriter, r *http.Request) {
			id := chi.URLParam(r, "id")
			s, err := reg.Get(r.Context(), id)
			if err != nil {
				writeStoreError(w, err)
				return
			}
			if r.URL.Query().Get("confirm") != s.Name {
				writeJSON(w, 400, map[string]string{"error": "confirm must match the store name"})
				return
			}
			deleted, msg := reg.Delete(r.Context(), id)
			code := 200
			if !deleted {
				code = 404
			}
			writeJSON(w, code, map[string]any{"deleted": deleted, "message": msg})
		})

		r.Post("/api/stores/{id}/ingest/orders", func(w http.ResponseWriter, r *http.Request) {
			id := chi.URLParam(r, "id")
			start, end, err := decodeWindow(r)
			if err != nil {
				writeError(w, 400, err)
				return
			}
			s, err := reg.Get(r.Context(), id)
			if err != nil {
				writeStoreError(w, err)
				return
			}
			if s.ShopHandle == "" || s.ShopToken == "" {
				writeJSON(w, 400, map[string]string{"error": "store has no storefront credentials"})
				return
			}
			src := shopfront.New(s.ShopHandle, s.ShopToken, shopfront.WithLogger(logger))
			rows, err := ingester.Run(r.Context(), src, id, start, end)
			if err != nil {
				writeError(w, 502, err)
				return
			}
			writeJSON(w, 200, map[string]any{"status": "ok", "rows": rows})
		})

		r.Post("/api/stores/{id}/ingest/supplier", func(w http.ResponseWriter, r *http.Request) {
			id := chi.URLParam(r, "id")
			start, end, err := decodeWindow(r)
			if err != nil {
				writeError(w, 400, err)
				return
			}
			s, err := reg.Get(r.Context(), id)
			if err != nil {
				writeStoreError(w, err)
				return
			}
			if s.PortalURL == "" {
				writeJSON(w, 400, map[string]string{"error": "store has no portal configured"})
				return
			}
			startedAt := time.Now()
			portal := supplier.Portal{URL: s.PortalURL, User: s.PortalUser, Pass: s.PortalPass}
			metrics, err := scraper.Scrape(r.Context(), portal, start, end)
			if err != nil {
				supplier.LogRun(r.Context(), db, id, start, end, 0, startedAt, err)
				writeError(w, 502, err)
				return
			}
			rows, err := supplier.Persist(r.Context(), db, id, start, end, metrics)
			supplier.LogRun(r.Context(), db, id, start, end, rows, startedAt, err)
			if err != nil {
				writeError(w, 500, err)
				return
			}
			writeJSON(w, 200, map[string]any{"status": "ok", "rows": rows})
		})

		r.Get("/api/stores/{id}/metrics/products", func(w http.ResponseWriter, r *http.Request) {
			id := chi.URLParam(r, "id")
			start, end, err := queryWindow(r)
			if err != nil {
				writeError(w, 400, err)
				return
			}
			s, err := reg.Get(r.Context(), id)
			if err != nil {
				writeStoreError(w, err)
				return
			}
			scale := 1.0
			if r.URL.Query().Get("convert") == "1" && s.SourceCurrency != s.TargetCurrency {
				scale = fx.Rate(r.Context(), s.SourceCurrency, s.TargetCurrency)
			}
			list, err := listProductMetrics(r.Context(), db, id, start, end, scale)
			if err != nil {
				writeError(w, 500, err)
				return
			}
			writeJSON(w, 200, list)
		})

		r.Get("/api/stores/{id}/metrics/supplier", func(w http.ResponseWriter, r *http.Request) {
			id := chi.URLParam(r, "id")
			start, end, err := queryWindow(r)
			if err != nil {
				writeError(w, 400, err)
				return
			}
			s, err := reg.Get(r.Context(), id)
			if err != nil {
				writeStoreError(w, err)
				return
			}
			scale := 1.0
			if r.URL.Query().Get("convert") == "1" && s.SourceCurrency != s.TargetCurrency {
				scale = fx.Rate(r.Context(), s.SourceCurrency, s.TargetCurrency)
			}
			list, err := listSupplierMetrics(r.Context(), db, id, start, end, scale)
			if err != nil {
				writeError(w, 500, err)
				return
			}
			writeJSON(w, 200, list)
		})

		r.Get("/api/stores/{id}/channels", func(w http.ResponseWriter, r *http.Request) {
			start, end, err := queryWindow(r)
			if err != nil {
				writeError(w, 400, err)
				return
			}
			cats, err := adlinks.Categories(r.Context(), db, chi.URLParam(r, "id"), start, end)
			if err != nil {
				writeError(w, 500, err)
				return
			}
			writeJSON(w, 200, map[string]any{"channels": cats})
		})

		r.Get("/api/stores/{id}/effectiveness", func(w http.ResponseWriter, r *http.Request) {
			list, err := listEffectiveness(r.Context(), db, chi.URLParam(r, "id"))
			if err != nil {
				writeError(w, 500, err)
				return
			}
			writeJSON(w, 200, list)
		})

		r.Put("/api/stores/{id}/effectiveness/{product}", func(w http.ResponseWriter, r *http.Request) {
			var req struct {
				Effectiveness float64 `json:"effectiveness"`
			}
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				writeError(w, 400, err)
				return
			}
			if req.Effectiveness < 0 || req.Effectiveness > 100 {
				writeJSON(w, 400, map[string]string{"error": "effectiveness must be between 0 and 100"})
				return
			}
			err := db.Upsert(r.Context(), "product_effectiveness", map[string]any{
				"store_id":      chi.URLParam(r, "id"),
				"product":       chi.URLParam(r, "product"),
				"effectiveness": req.Effectiveness,
				"updated_at":    time.Now().UnixMilli(),
			}, []string{"store_id", "product"})
			if err != nil {
				writeError(w, 500, err)
				return
			}
			writeJSON(w, 200, map[string]string{"status": "ok"})
		})

		r.Get("/api/stores/{id}/custom", func(w http.ResponseWriter, r *http.Request) {
			list, err := listCustomData(r.Context(), db, chi.URLParam(r, "id"))
			if err != nil {
				writeError(w, 500, err)
				return
			}
			writeJSON(w, 200, list)
		})

		r.Put("/api/stores/{id}/custom/{product}", func(w http.ResponseWriter, r *http.Request) {
			id := chi.URLParam(r, "id")
			s, err := reg.Get(r.Context(), id)
			if err != nil {
				writeStoreError(w, err)
				return
			}
			if !s.IsCustom {
				writeJSON(w, 400, map[string]string{"error": "store is not custom"})
				return
			}
			var req struct {
				SupplierID string `json:"supplier_id"`
				Provider   string `json:"provider"`
			}
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				writeError(w, 400, err)
				return
			}
			err = db.Upsert(r.Context(), "custom_product_data", map[string]any{
				"store_id":    id,
				"product":     chi.URLParam(r, "product"),
				"supplier_id": req.SupplierID,
				"provider":    req.Provider,
				"updated_at":  time.Now().UnixMilli(),
			}, []string{"store_id", "product"})
			if err != nil {
				writeError(w, 500, err)
				return
			}
			writeJSON(w, 200, map[string]string{"status": "ok"})
		})

		r.Get("/api/stores/{id}/rate", func(w http.ResponseWriter, r *http.Request) {
			s, err := reg.Get(r.Context(), chi.URLParam(r, "id"))
			if err != nil {
				writeStoreError(w, err)
				return
			}
			rate := fx.Rate(r.Context(), s.SourceCurrency, s.TargetCurrency)
			writeJSON(w, 200, map[string]any{
				"from": s.SourceCurrency,
				"to":   s.TargetCurrency,
				"rate": rate,
			})
		})

		r.Get("/api/stores/{id}/ingest/log", func(w http.ResponseWriter, r *http.Request) {
			limit := queryInt(r, "limit", 50)
			list, err := listIngestLog(r.Context(), db, chi.URLParam(r, "id"), limit)
			if err != nil {
				writeError(w, 500, err)
				return
			}
			writeJSON(w, 200, list)
		})
	})

	// HTTP server.
	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      120 * time.Second, // ingest endpoints wait on scraping
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		slog.Info("server starting", "port", port, "dialect", db.Dialect().String())
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	slog.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown", "error", err)
	}
	slog.Info("server stopped")
}

// --- Auth middleware ---

// requireSession returns 401 JSON when no valid claims are in context.
// auth.Middleware (applied globally) does the soft parsing.
func requireSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if auth.GetClaims(r.Context()) == nil {
			writeJSON(w, 401, map[string]string{"error": "not authenticated"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c := auth.GetClaims(r.Context())
		if c == nil || c.Role != config.RoleAdmin {
			writeJSON(w, 403, map[string]string{"error": "administrator required"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

// --- Metric read queries ---

func listProductMetrics(ctx context.Context, db *dbx.DB, storeID, start, end string, scale float64) ([]map[string]any, error) {
	rows, err := db.Query(ctx, `
        SELECT date, product, total_orders, processed_orders, delivered_orders,
               total_value, product_url, image_url
        FROM product_metrics
        WHERE store_id = ? AND date >= ? AND date <= ?
        ORDER BY date, product`, storeID, start, end)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	list := []map[string]any{}
	for rows.Next() {
		var date, product, productURL, imageURL string
		var total, processed, delivered int64
		var value float64
		if err := rows.Scan(&date, &product, &total, &processed, &delivered, &value, &productURL, &imageURL); err != nil {
			return nil, err
		}
		list = append(list, map[string]any{
			"date":             date,
			"product":          product,
			"total_orders":     total,
			"processed_orders": processed,
			"delivered_orders": delivered,
			"total_value":      round2(value * scale),
			"product_url":      productURL,
			"image_url":        imageURL,
		})
	}
	return list, rows.Err()
}

func listSupplierMetrics(ctx context.Context, db *dbx.DB, storeID, start, end string, scale float64) ([]map[string]any, error) {
	rows, err := db.Query(ctx, `
        SELECT product, provider, stock, orders_count, orders_value,
               transit_count, transit_value, delivered_count, delivered_value, profit
        FROM supplier_metrics
        WHERE store_id = ? AND date_start = ? AND date_end = ?
        ORDER BY product`, storeID, start, end)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	list := []map[string]any{}
	for rows.Next() {
		var product, provider string
		var stock, ordersCount, transitCount, deliveredCount int64
		var ordersValue, transitValue, deliveredValue, profit float64
		if err := rows.Scan(&product, &provider, &stock, &ordersCount, &ordersValue,
			&transitCount, &transitValue, &deliveredCount, &deliveredValue, &profit); err != nil {
			return nil, err
		}
		list = append(list, map[string]any{
			"product":         product,
			"provider":        provider,
			"stock":           stock,
			"orders_count":    ordersCount,
			"orders_value":    round2(ordersValue * scale),
			"transit_count":   transitCount,
			"transit_value":   round2(transitValue * scale),
			"delivered_count": deliveredCount,
			"delivered_value": round2(deliveredValue * scale),
			"profit":          round2(profit * scale),
		})
	}
	return list, rows.Err()
}

func listEffectiveness(ctx context.Context, db *dbx.DB, storeID string) ([]map[string]any, error) {
	rows, err := db.Query(ctx, `
        SELECT product, effectiveness, updated_at
        FROM product_effectiveness
        WHERE store_id = ?
        ORDER BY product`, storeID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	list := []map[string]any{}
	for rows.Next() {
		var product string
		var eff float64
		var updatedAt int64
		if err := rows.Scan(&product, &eff, &updatedAt); err != nil {
			return nil, err
		}
		list = append(list, map[string]any{
			"product": product, "effectiveness": eff, "updated_at": updatedAt,
		})
	}
	return list, rows.Err()
}

func listCustomData(ctx context.Context, db *dbx.DB, storeID string) ([]map[string]any, error) {
	rows, err := db.Query(ctx, `
        SELECT product, supplier_id, provider, updated_at
        FROM custom_product_data
        WHERE store_id = ?
        ORDER BY product`, storeID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	list := []map[string]any{}
	for rows.Next() {
		var product, supplierID, provider string
		var updatedAt int64
		if err := rows.Scan(&product, &supplierID, &provider, &updatedAt); err != nil {
			return nil, err
		}
		list = append(list, map[string]any{
			"product": product, "supplier_id": supplierID,
			"provider": provider, "updated_at": updatedAt,
		})
	}
	return list, rows.Err()
}

func listIngestLog(ctx context.Context, db *dbx.DB, storeID string, limit int) ([]map[string]any, error) {
	rows, err := db.Query(ctx, `
        SELECT id, kind, window_start, window_end, status, error, rows, duration_ms, started_at
        FROM ingest_log
        WHERE store_id = ?
        ORDER BY started_at DESC
        LIMIT ?`, storeID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	list := []map[string]any{}
	for rows.Next() {
		var id, kind, winStart, winEnd, status, errMsg string
		var n, durationMs, startedAt int64
		if err := rows.Scan(&id, &kind, &winStart, &winEnd, &status, &errMsg, &n, &durationMs, &startedAt); err != nil {
			return nil, err
		}
		list = append(list, map[string]any{
			"id": id, "kind": kind, "window_start": winStart, "window_end": winEnd,
			"status": status, "error": errMsg, "rows": n,
			"duration_ms": durationMs, "started_at": startedAt,
		})
	}
	return list, rows.Err()
}

// --- Helpers ---

func decodeWindow(r *http.Request) (start, end string, err error) {
	var req struct {
		Start string `json:"start"`
		End   string `json:"end"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return "", "", err
	}
	return checkWindow(req.Start, req.End)
}

func queryWindow(r *http.Request) (start, end string, err error) {
	return checkWindow(r.URL.Query().Get("start"), r.URL.Query().Get("end"))
}

func checkWindow(start, end string) (string, string, error) {
	if start == "" || end == "" {
		return "", "", errors.New("start and end are required")
	}
	for _, d := range []string{start, end} {
		if _, err := time.Parse("2006-01-02", d); err != nil {
			return "", "", fmt.Errorf("bad date %q (want YYYY-MM-DD)", d)
		}
	}
	if end < start {
		return "", "", errors.New("end is before start")
	}
	return start, end, nil
}

func writeStoreError(w http.ResponseWriter, err error) {
	if errors.Is(err, registry.ErrNotFound) {
		writeJSON(w, 404, map[string]string{"error": "store not found"})
		return
	}
	writeError(w, 500, err)
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

func env(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]string{"error": err.Error()})
}

func queryInt(r *http.Request, key string, def int) int {
	s := r.URL.Query().Get(key)
	if s == "" {
		return def
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return v
}
