package api

import (
	"net/http"

	"github.com/querylens/querylens/internal/analytics"
	"github.com/querylens/querylens/internal/auth"
	"github.com/querylens/querylens/internal/config"
)

func handleAnalyticsOverview(deps Dependencies, _ config.Config, w http.ResponseWriter, r *http.Request) {
	userID, ok := authorize(w, r, auth.RoleQueryReader)
	if !ok {
		return
	}
	overview, err := deps.Engine.AnalyticsOverview(r.Context(), userID)
	if err != nil {
		writeServiceError(deps, w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, overview)
}

func handleQueryVolume(deps Dependencies, _ config.Config, w http.ResponseWriter, r *http.Request) {
	userID, ok := authorize(w, r, auth.RoleQueryReader)
	if !ok {
		return
	}
	points, err := deps.Engine.QueryVolume(r.Context(), userID)
	if err != nil {
		writeServiceError(deps, w, r, err)
		return
	}
	if points == nil {
		points = []analytics.VolumePoint{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"days": points})
}

func handlePerformance(deps Dependencies, _ config.Config, w http.ResponseWriter, r *http.Request) {
	userID, ok := authorize(w, r, auth.RoleQueryReader)
	if !ok {
		return
	}
	buckets, err := deps.Engine.PerformanceHistogram(r.Context(), userID)
	if err != nil {
		writeServiceError(deps, w, r, err)
		return
	}
	if buckets == nil {
		buckets = []analytics.Bucket{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"buckets": buckets})
}

func handleRecentQueries(deps Dependencies, _ config.Config, w http.ResponseWriter, r *http.Request) {
	userID, ok := authorize(w, r, auth.RoleQueryReader)
	if !ok {
		return
	}
	recent, err := deps.Engine.RecentQueries(r.Context(), userID)
	if err != nil {
		writeServiceError(deps, w, r, err)
		return
	}
	if recent == nil {
		recent = []analytics.RecentQuery{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"queries": recent})
}
