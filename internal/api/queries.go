package api

import (
	"net/http"
	"time"

	"github.com/querylens/querylens/internal/auth"
	"github.com/querylens/querylens/internal/config"
	"github.com/querylens/querylens/internal/engine"
)

type askRequest struct {
	Question string `json:"question"`
}

type queryResultResponse struct {
	QueryID    int64            `json:"query_id"`
	SQL        string           `json:"sql"`
	Columns    []string         `json:"columns"`
	Rows       []map[string]any `json:"rows"`
	DurationMs float64          `json:"duration_ms"`
}

type querySummaryResponse struct {
	QueryID      int64     `json:"query_id"`
	DatasetID    int64     `json:"dataset_id"`
	Question     string    `json:"question"`
	SQL          string    `json:"sql"`
	DurationMs   *float64  `json:"duration_ms"`
	ErrorMessage *string   `json:"error_message,omitempty"`
	Status       string    `json:"status"`
	CreatedAt    time.Time `json:"created_at"`
}

func newQueryResultResponse(queryID int64, sql string, columns []string, rows []map[string]any, durationMs float64) queryResultResponse {
	if columns == nil {
		columns = []string{}
	}
	if rows == nil {
		rows = []map[string]any{}
	}
	return queryResultResponse{QueryID: queryID, SQL: sql, Columns: columns, Rows: rows, DurationMs: durationMs}
}

func handleAsk(deps Dependencies, _ config.Config, w http.ResponseWriter, r *http.Request) {
	userID, ok := authorize(w, r, auth.RoleQueryReader)
	if !ok {
		return
	}
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req askRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	result, err := deps.Engine.Ask(r.Context(), engine.AskInput{UserID: userID, DatasetID: id, Question: req.Question})
	if err != nil {
		writeServiceError(deps, w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newQueryResultResponse(result.QueryID, result.SQL, result.Columns, result.Rows, result.DurationMs))
}

func handleReplay(deps Dependencies, _ config.Config, w http.ResponseWriter, r *http.Request) {
	userID, ok := authorize(w, r, auth.RoleQueryReader)
	if !ok {
		return
	}
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	result, err := deps.Engine.Replay(r.Context(), userID, id)
	if err != nil {
		writeServiceError(deps, w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newQueryResultResponse(result.QueryID, result.SQL, result.Columns, result.Rows, result.DurationMs))
}

func handleQueryHistory(deps Dependencies, _ config.Config, w http.ResponseWriter, r *http.Request) {
	userID, ok := authorize(w, r, auth.RoleQueryReader)
	if !ok {
		return
	}
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	history, err := deps.Engine.QueryHistory(r.Context(), userID, id)
	if err != nil {
		writeServiceError(deps, w, r, err)
		return
	}
	out := make([]querySummaryResponse, 0, len(history))
	for _, item := range history {
		out = append(out, querySummaryResponse{
			QueryID:      item.QueryID,
			DatasetID:    item.DatasetID,
			Question:     item.Question,
			SQL:          item.SQL,
			DurationMs:   item.DurationMs,
			ErrorMessage: item.ErrorMessage,
			Status:       item.Status,
			CreatedAt:    item.CreatedAt,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"queries": out})
}
