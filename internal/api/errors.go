package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/querylens/querylens/internal/engine"
	"github.com/querylens/querylens/internal/nl2sql"
	"github.com/querylens/querylens/internal/sqlguard"
)

// writeServiceError maps engine failures onto the error envelope so a client
// can tell a bad file from unsafe SQL from a query that failed at run time.
func writeServiceError(deps Dependencies, w http.ResponseWriter, r *http.Request, err error) {
	ctx := r.Context()
	var tooLarge *http.MaxBytesError
	var rejection *sqlguard.RejectionError
	switch {
	case errors.As(err, &tooLarge):
		writeError(ctx, w, http.StatusRequestEntityTooLarge, "PAYLOAD_TOO_LARGE", "upload exceeds the size limit", false, map[string]any{"limit_bytes": tooLarge.Limit})
	case errors.As(err, &rejection):
		writeError(ctx, w, http.StatusUnprocessableEntity, "UNSAFE_SQL", "generated SQL was rejected by the safety policy", false, map[string]any{"reason": rejection.Reason})
	case errors.Is(err, sqlguard.ErrUnsafeSQL):
		writeError(ctx, w, http.StatusUnprocessableEntity, "UNSAFE_SQL", "generated SQL was rejected by the safety policy", false, nil)
	case errors.Is(err, engine.ErrInvalidInput):
		writeError(ctx, w, http.StatusBadRequest, "INVALID_INPUT", err.Error(), false, nil)
	case errors.Is(err, engine.ErrIngestion):
		writeError(ctx, w, http.StatusBadRequest, "INGESTION_FAILED", err.Error(), false, nil)
	case errors.Is(err, engine.ErrStorageConflict):
		writeError(ctx, w, http.StatusConflict, "STORAGE_CONFLICT", err.Error(), true, nil)
	case errors.Is(err, nl2sql.ErrGeneration):
		writeError(ctx, w, http.StatusBadGateway, "GENERATION_FAILED", "the model did not produce usable SQL", true, map[string]any{"details": err.Error()})
	case errors.Is(err, engine.ErrExecution):
		writeError(ctx, w, http.StatusUnprocessableEntity, "EXECUTION_FAILED", "the generated query failed to execute", false, map[string]any{"details": err.Error()})
	case errors.Is(err, engine.ErrNotFound):
		writeError(ctx, w, http.StatusNotFound, "NOT_FOUND", "resource not found", false, nil)
	case errors.Is(err, context.DeadlineExceeded):
		writeError(ctx, w, http.StatusGatewayTimeout, "TIMEOUT", "request timed out", true, nil)
	case errors.Is(err, context.Canceled):
		writeError(ctx, w, 499, "CANCELED", "request canceled", true, nil)
	default:
		if deps.Logger != nil {
			deps.Logger.ErrorContext(ctx, "request failed", slog.String("path", r.URL.Path), slog.Any("error", err))
		}
		writeError(ctx, w, http.StatusInternalServerError, "INTERNAL", "internal error", true, nil)
	}
}
