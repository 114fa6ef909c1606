package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	mw "github.com/Ariatd/medaix-backend/internal/api/middleware"
	"github.com/Ariatd/medaix-backend/internal/api/response"
)

// Dependencies holds all handler and middleware dependencies for the router.
type Dependencies struct {
	Auth      *mw.Auth
	RateLimit *mw.RateLimit

	HealthHandler http.HandlerFunc

	UploadHandler      http.HandlerFunc
	ListImagesHandler  http.HandlerFunc
	GetImageHandler    http.HandlerFunc
	ImageStatusHandler http.HandlerFunc
	DeleteImageHandler http.HandlerFunc

	ListAnalysesHandler http.HandlerFunc
	DashboardHandler    http.HandlerFunc
	GetAnalysisHandler  http.HandlerFunc

	UserTokensHandler   http.HandlerFunc
	CanAnalyzeHandler   http.HandlerFunc
	GrantTokensHandler  http.HandlerFunc
	UpgradeProHandler   http.HandlerFunc
	DowngradeProHandler http.HandlerFunc

	CreateKeyHandler http.HandlerFunc
	ListKeysHandler  http.HandlerFunc
	RevokeKeyHandler http.HandlerFunc
}

// NewRouter builds the Chi router with middleware stack and all routes.
func NewRouter(deps Dependencies) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(mw.Logger)
	r.Use(mw.Recovery)

	// Public health check
	r.Get("/api/v1/health", orNotImplemented(deps.HealthHandler))

	// Protected routes
	r.Group(func(r chi.Router) {
		r.Use(deps.Auth.Authenticate)
		r.Use(deps.RateLimit.Limit)

		r.Post("/api/v1/upload/image", orNotImplemented(deps.UploadHandler))

		r.Get("/api/v1/upload/images", orNotImplemented(deps.ListImagesHandler))
		r.Get("/api/v1/upload/image/{imageID}", orNotImplemented(deps.GetImageHandler))
		r.Get("/api/v1/upload/image/{imageID}/status", orNotImplemented(deps.ImageStatusHandler))
		r.Delete("/api/v1/upload/image/{imageID}", orNotImplemented(deps.DeleteImageHandler))

		r.Get("/api/v1/analyses", orNotImplemented(deps.ListAnalysesHandler))
		r.Get("/api/v1/analyses/dashboard", orNotImplemented(deps.DashboardHandler))
		r.Get("/api/v1/analyses/{id}", orNotImplemented(deps.GetAnalysisHandler))

		r.Get("/api/v1/user/tokens", orNotImplemented(deps.UserTokensHandler))
		r.Get("/api/v1/user/can-analyze", orNotImplemented(deps.CanAnalyzeHandler))
		r.Post("/api/v1/user/grant-tokens", orNotImplemented(deps.GrantTokensHandler))
		r.Post("/api/v1/user/upgrade-pro", orNotImplemented(deps.UpgradeProHandler))
		r.Post("/api/v1/user/downgrade-pro", orNotImplemented(deps.DowngradeProHandler))

		// Admin routes
		r.Group(func(r chi.Router) {
			r.Use(deps.Auth.RequireScope("admin"))

			r.Post("/api/v1/admin/keys", orNotImplemented(deps.CreateKeyHandler))
			r.Get("/api/v1/admin/keys", orNotImplemented(deps.ListKeysHandler))
			r.Delete("/api/v1/admin/keys/{keyID}", orNotImplemented(deps.RevokeKeyHandler))
		})
	})

	return r
}

// orNotImplemented returns the handler if non-nil, or a 501 placeholder.
func orNotImplemented(h http.HandlerFunc) http.HandlerFunc {
	if h != nil {
		return h
	}
	return func(w http.ResponseWriter, r *http.Request) {
		response.Error(w, http.StatusNotImplemented, "NOT_IMPLEMENTED", "Endpoint not yet implemented", nil)
	}
}
