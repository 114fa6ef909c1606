package handler

import (
	"encoding/json"
	"fmt"
	"net/http"

	mw "github.com/Ariatd/medaix-backend/internal/api/middleware"
	"github.com/Ariatd/medaix-backend/internal/api/response"
	"github.com/Ariatd/medaix-backend/internal/quota"
	"github.com/Ariatd/medaix-backend/internal/store"
)

// NewUserTokensHandler returns the handler for GET /api/v1/user/tokens.
// Reading through the gate applies any pending midnight reset first.
func NewUserTokensHandler(gate quota.Gate) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := mw.GetUserID(r)
		if !ok {
			response.Error(w, http.StatusUnauthorized, "INVALID_TOKEN", "Missing user", nil)
			return
		}

		user, err := gate.TokenStatus(r.Context(), userID)
		if err != nil {
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to fetch token status", nil)
			return
		}

		response.JSON(w, map[string]any{
			"tokens_total":          user.TokensTotal,
			"tokens_used_today":     user.TokensUsedToday,
			"is_pro":                user.IsPro,
			"token_last_reset_date": user.TokenLastResetDate,
		})
	}
}

// NewCanAnalyzeHandler returns the handler for GET /api/v1/user/can-analyze.
func NewCanAnalyzeHandler(gate quota.Gate) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := mw.GetUserID(r)
		if !ok {
			response.Error(w, http.StatusUnauthorized, "INVALID_TOKEN", "Missing user", nil)
			return
		}

		decision, err := gate.CanAdmit(r.Context(), userID)
		if err != nil {
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to check quota", nil)
			return
		}

		response.JSON(w, decision)
	}
}

// NewGrantTokensHandler returns the handler for POST /api/v1/user/grant-tokens.
func NewGrantTokensHandler(st store.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := mw.GetUserID(r)
		if !ok {
			response.Error(w, http.StatusUnauthorized, "INVALID_TOKEN", "Missing user", nil)
			return
		}

		var req struct {
			Amount int `json:"amount"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid JSON body", nil)
			return
		}
		if req.Amount < 1 {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Amount must be at least 1", nil)
			return
		}

		balance, err := st.GrantTokens(r.Context(), userID, req.Amount)
		if err != nil {
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to grant tokens", nil)
			return
		}

		response.JSON(w, map[string]any{
			"message":      fmt.Sprintf("Granted %d tokens", req.Amount),
			"tokens_total": balance,
		})
	}
}

// NewSetProHandler returns the handler for POST /api/v1/user/upgrade-pro and
// its downgrade counterpart.
func NewSetProHandler(st store.Store, pro bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := mw.GetUserID(r)
		if !ok {
			response.Error(w, http.StatusUnauthorized, "INVALID_TOKEN", "Missing user", nil)
			return
		}

		if err := st.SetPro(r.Context(), userID, pro); err != nil {
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to update plan", nil)
			return
		}

		message := "Upgraded to Pro"
		if !pro {
			message = "Downgraded from Pro"
		}
		response.JSON(w, map[string]any{"message": message, "is_pro": pro})
	}
}
