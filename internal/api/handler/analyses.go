package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	mw "github.com/Ariatd/medaix-backend/internal/api/middleware"
	"github.com/Ariatd/medaix-backend/internal/api/response"
	"github.com/Ariatd/medaix-backend/internal/cache"
	"github.com/Ariatd/medaix-backend/internal/store"
	"github.com/Ariatd/medaix-backend/pkg/models"
)

const dashboardCacheTTL = 30 * time.Second

// NewListAnalysesHandler returns the handler for GET /api/v1/analyses.
func NewListAnalysesHandler(st store.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := mw.GetUserID(r)
		if !ok {
			response.Error(w, http.StatusUnauthorized, "INVALID_TOKEN", "Missing user", nil)
			return
		}

		page, limit := parsePagination(r)
		results, total, err := st.ListResults(r.Context(), store.ResultFilter{
			UserID: userID,
			Status: r.URL.Query().Get("status"),
			Page:   page,
			Limit:  limit,
		})
		if err != nil {
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to list analyses", nil)
			return
		}

		for _, res := range results {
			res.ConfidenceLevel = models.ConfidenceLevelFor(res.ConfidenceScore)
		}

		response.Collection(w, results, response.PaginationMeta{
			Page:    page,
			Limit:   limit,
			Total:   total,
			HasNext: page*limit < total,
		})
	}
}

type dashboardPayload struct {
	TotalAnalyses  int                      `json:"total_analyses"`
	SuccessRate    int                      `json:"success_rate"`
	RecentAnalyses []*models.AnalysisResult `json:"recent_analyses"`
}

// NewDashboardHandler returns the handler for GET /api/v1/analyses/dashboard.
// The aggregate is cached briefly per user; dashboards poll aggressively.
func NewDashboardHandler(st store.Store, ca cache.Cache) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := mw.GetUserID(r)
		if !ok {
			response.Error(w, http.StatusUnauthorized, "INVALID_TOKEN", "Missing user", nil)
			return
		}

		key := cache.DashboardKey(userID)
		if cached, found, _ := ca.Get(r.Context(), key); found {
			var payload dashboardPayload
			if err := json.Unmarshal(cached, &payload); err == nil {
				response.JSON(w, payload)
				return
			}
		}

		results, total, err := st.ListResults(r.Context(), store.ResultFilter{
			UserID: userID,
			Page:   1,
			Limit:  maxPageLimit,
		})
		if err != nil {
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to build dashboard", nil)
			return
		}

		completed := 0
		for _, res := range results {
			res.ConfidenceLevel = models.ConfidenceLevelFor(res.ConfidenceScore)
			if res.Status == models.ResultStatusCompleted {
				completed++
			}
		}

		successRate := 0
		if len(results) > 0 {
			successRate = int(float64(completed)/float64(len(results))*100 + 0.5)
		}

		recent := results
		if len(recent) > 3 {
			recent = recent[:3]
		}

		payload := dashboardPayload{
			TotalAnalyses:  total,
			SuccessRate:    successRate,
			RecentAnalyses: recent,
		}

		if encoded, err := json.Marshal(payload); err == nil {
			_ = ca.Set(r.Context(), key, encoded, dashboardCacheTTL)
		}

		response.JSON(w, payload)
	}
}

// NewGetAnalysisHandler returns the handler for GET /api/v1/analyses/{id}.
// The path parameter is tried as a result ID first and then as an image ID,
// so clients can poll with the only identifier the upload response gave them.
func NewGetAnalysisHandler(st store.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := mw.GetUserID(r)
		if !ok {
			response.Error(w, http.StatusUnauthorized, "INVALID_TOKEN", "Missing user", nil)
			return
		}

		id, err := uuid.Parse(chi.URLParam(r, "id"))
		if err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid analysis ID", nil)
			return
		}

		result, err := st.GetResultByID(r.Context(), id)
		if errors.Is(err, store.ErrNotFound) {
			result, err = st.GetResultByImageID(r.Context(), id)
		}
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				response.Error(w, http.StatusNotFound, "NOT_FOUND", "Analysis not found", nil)
				return
			}
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to fetch analysis", nil)
			return
		}
		if result.UserID != userID {
			response.Error(w, http.StatusNotFound, "NOT_FOUND", "Analysis not found", nil)
			return
		}

		result.ConfidenceLevel = models.ConfidenceLevelFor(result.ConfidenceScore)
		response.JSON(w, result)
	}
}
