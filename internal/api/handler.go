package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/querylens/querylens/internal/analytics"
	"github.com/querylens/querylens/internal/auth"
	"github.com/querylens/querylens/internal/catalog"
	"github.com/querylens/querylens/internal/config"
	"github.com/querylens/querylens/internal/engine"
	"github.com/querylens/querylens/internal/observability"
)

type ReadinessCheck func(ctx context.Context) error

// Engine is the slice of engine.Service the HTTP layer calls.
type Engine interface {
	IngestDataset(ctx context.Context, in engine.IngestInput) (catalog.Dataset, error)
	ListDatasets(ctx context.Context, userID string) ([]catalog.Dataset, error)
	GetDataset(ctx context.Context, userID string, datasetID int64) (catalog.Dataset, error)
	DescribeDataset(ctx context.Context, userID string, datasetID int64) (engine.DatasetSchema, error)
	DeleteDataset(ctx context.Context, userID string, datasetID int64) error
	OpenDatasetSource(ctx context.Context, userID string, datasetID int64) (io.ReadCloser, catalog.Dataset, error)
	Ask(ctx context.Context, in engine.AskInput) (engine.AskResult, error)
	Replay(ctx context.Context, userID string, queryID int64) (engine.ReplayResult, error)
	QueryHistory(ctx context.Context, userID string, datasetID int64) ([]engine.QuerySummary, error)
	AnalyticsOverview(ctx context.Context, userID string) (analytics.Overview, error)
	QueryVolume(ctx context.Context, userID string) ([]analytics.VolumePoint, error)
	PerformanceHistogram(ctx context.Context, userID string) ([]analytics.Bucket, error)
	RecentQueries(ctx context.Context, userID string) ([]analytics.RecentQuery, error)
	SaveReport(ctx context.Context, in engine.SaveReportInput) (catalog.Report, error)
	ListReports(ctx context.Context, userID string) ([]catalog.Report, error)
}

var _ Engine = (*engine.Service)(nil)

type Dependencies struct {
	Logger            *slog.Logger
	Readiness         ReadinessCheck
	AuthMiddleware    func(http.Handler) http.Handler
	DependencyTimeout time.Duration
	Engine            Engine
}

type route struct {
	pattern string
	handle  func(deps Dependencies, cfg config.Config, w http.ResponseWriter, r *http.Request)
}

var protectedRoutes = []route{
	{"POST /v1/datasets", handleIngestDataset},
	{"GET /v1/datasets", handleListDatasets},
	{"GET /v1/datasets/{id}", handleGetDataset},
	{"DELETE /v1/datasets/{id}", handleDeleteDataset},
	{"GET /v1/datasets/{id}/schema", handleDescribeDataset},
	{"GET /v1/datasets/{id}/source", handleDatasetSource},
	{"POST /v1/datasets/{id}/ask", handleAsk},
	{"GET /v1/datasets/{id}/queries", handleQueryHistory},
	{"POST /v1/queries/{id}/replay", handleReplay},
	{"GET /v1/analytics/overview", handleAnalyticsOverview},
	{"GET /v1/analytics/query-volume", handleQueryVolume},
	{"GET /v1/analytics/performance", handlePerformance},
	{"GET /v1/analytics/recent-queries", handleRecentQueries},
	{"POST /v1/reports", handleSaveReport},
	{"GET /v1/reports", handleListReports},
}

func NewHandler(cfg config.Config, deps Dependencies) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /v1/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "service": cfg.Service.Name})
	})

	mux.HandleFunc("GET /v1/ready", func(w http.ResponseWriter, r *http.Request) {
		if deps.Readiness == nil {
			writeJSON(w, http.StatusOK, map[string]any{"status": "ready"})
			return
		}
		timeout := deps.DependencyTimeout
		if timeout <= 0 {
			timeout = 2 * time.Second
		}
		ctx, cancel := context.WithTimeout(r.Context(), timeout)
		defer cancel()
		if err := deps.Readiness(ctx); err != nil {
			writeError(r.Context(), w, http.StatusServiceUnavailable, "NOT_READY", err.Error(), true, nil)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"status": "ready"})
	})

	mux.Handle("GET /v1/metrics", promhttp.Handler())

	protected := http.NewServeMux()
	for _, rt := range protectedRoutes {
		handle := rt.handle
		protected.HandleFunc(rt.pattern, func(w http.ResponseWriter, r *http.Request) {
			if deps.Engine == nil {
				writeError(r.Context(), w, http.StatusNotImplemented, "ENGINE_NOT_CONFIGURED", "query engine is not configured", false, nil)
				return
			}
			handle(deps, cfg, w, r)
		})
	}

	var protectedHandler http.Handler = protected
	if cfg.Auth.Required {
		if deps.AuthMiddleware == nil {
			if deps.Logger != nil {
				deps.Logger.Error("auth required but auth middleware missing")
			}
			protectedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				writeError(r.Context(), w, http.StatusInternalServerError, "AUTH_MIDDLEWARE_MISSING", "auth middleware is required by configuration", false, nil)
			})
		} else {
			protectedHandler = deps.AuthMiddleware(protectedHandler)
		}
	}
	for _, rt := range protectedRoutes {
		mux.Handle(rt.pattern, protectedHandler)
	}

	middlewares := []func(http.Handler) http.Handler{
		observability.TraceMiddleware,
		observability.MetricsMiddleware,
	}
	if deps.Logger != nil {
		middlewares = append(middlewares, observability.LoggingMiddleware(deps.Logger))
	}
	return chain(mux, middlewares...)
}

func CheckCatalogDSN(cfg config.Config) ReadinessCheck {
	return func(_ context.Context) error {
		if cfg.Catalog.DSN == "" {
			return errors.New("catalog dsn is not configured")
		}
		return nil
	}
}

func CombineReadinessChecks(checks ...ReadinessCheck) ReadinessCheck {
	filtered := make([]ReadinessCheck, 0, len(checks))
	for _, check := range checks {
		if check != nil {
			filtered = append(filtered, check)
		}
	}
	return func(ctx context.Context) error {
		for _, check := range filtered {
			if err := check(ctx); err != nil {
				return err
			}
		}
		return nil
	}
}

func chain(base http.Handler, middlewares ...func(http.Handler) http.Handler) http.Handler {
	wrapped := base
	for i := len(middlewares) - 1; i >= 0; i-- {
		wrapped = middlewares[i](wrapped)
	}
	return wrapped
}

// userFromRequest prefers the authenticated identity and falls back to the
// X-User-ID header when auth is disabled.
func userFromRequest(r *http.Request) (string, error) {
	if identity, ok := auth.IdentityFromContext(r.Context()); ok {
		if strings.TrimSpace(identity.UserID) != "" {
			return identity.UserID, nil
		}
	}
	userID := strings.TrimSpace(r.Header.Get(auth.UserHeader))
	if userID == "" {
		return "", fmt.Errorf("user context is required")
	}
	return userID, nil
}

func requireRole(r *http.Request, role string) error {
	identity, ok := auth.IdentityFromContext(r.Context())
	if !ok {
		return nil
	}
	if identity.HasRole(role) {
		return nil
	}
	return fmt.Errorf("missing required role %q", role)
}

// authorize resolves the caller and checks role; it writes the error response
// itself and reports whether the handler may continue.
func authorize(w http.ResponseWriter, r *http.Request, role string) (string, bool) {
	userID, err := userFromRequest(r)
	if err != nil {
		writeError(r.Context(), w, http.StatusUnauthorized, "USER_REQUIRED", err.Error(), false, nil)
		return "", false
	}
	if err := requireRole(r, role); err != nil {
		writeError(r.Context(), w, http.StatusForbidden, "FORBIDDEN", err.Error(), false, nil)
		return "", false
	}
	return userID, true
}

func pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	raw := strings.TrimSpace(r.PathValue("id"))
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_INPUT", "id must be a positive integer", false, map[string]any{"id": raw})
		return 0, false
	}
	return id, true
}

func decodeJSON(w http.ResponseWriter, r *http.Request, target any) bool {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(target); err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_JSON", "invalid request body", false, map[string]any{"details": err.Error()})
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(ctx context.Context, w http.ResponseWriter, status int, code, message string, retryable bool, extra map[string]any) {
	writeJSON(w, status, map[string]any{
		"error_code": code,
		"message":    message,
		"retryable":  retryable,
		"context":    extra,
		"trace_id":   observability.TraceIDFromContext(ctx),
	})
}
