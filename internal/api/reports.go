package api

import (
	"net/http"
	"time"

	"github.com/querylens/querylens/internal/auth"
	"github.com/querylens/querylens/internal/catalog"
	"github.com/querylens/querylens/internal/config"
	"github.com/querylens/querylens/internal/engine"
)

type saveReportRequest struct {
	SQL        string   `json:"sql"`
	DurationMs *float64 `json:"duration_ms"`
	Status     string   `json:"status"`
}

type reportResponse struct {
	ReportID   int64     `json:"report_id"`
	SQL        string    `json:"sql"`
	DurationMs *float64  `json:"duration_ms"`
	Status     string    `json:"status"`
	CreatedAt  time.Time `json:"created_at"`
}

func toReportResponse(rep catalog.Report) reportResponse {
	return reportResponse{
		ReportID:   rep.ReportID,
		SQL:        rep.SQL,
		DurationMs: rep.DurationMs,
		Status:     rep.Status,
		CreatedAt:  rep.CreatedAt,
	}
}

func handleSaveReport(deps Dependencies, _ config.Config, w http.ResponseWriter, r *http.Request) {
	userID, ok := authorize(w, r, auth.RoleQueryReader)
	if !ok {
		return
	}
	var req saveReportRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	report, err := deps.Engine.SaveReport(r.Context(), engine.SaveReportInput{
		UserID:     userID,
		SQL:        req.SQL,
		DurationMs: req.DurationMs,
		Status:     req.Status,
	})
	if err != nil {
		writeServiceError(deps, w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toReportResponse(report))
}

func handleListReports(deps Dependencies, _ config.Config, w http.ResponseWriter, r *http.Request) {
	userID, ok := authorize(w, r, auth.RoleQueryReader)
	if !ok {
		return
	}
	reports, err := deps.Engine.ListReports(r.Context(), userID)
	if err != nil {
		writeServiceError(deps, w, r, err)
		return
	}
	out := make([]reportResponse, 0, len(reports))
	for _, rep := range reports {
		out = append(out, toReportResponse(rep))
	}
	writeJSON(w, http.StatusOK, map[string]any{"reports": out})
}
