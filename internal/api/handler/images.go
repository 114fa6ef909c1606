package handler

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	mw "github.com/Ariatd/medaix-backend/internal/api/middleware"
	"github.com/Ariatd/medaix-backend/internal/api/response"
	"github.com/Ariatd/medaix-backend/internal/cache"
	"github.com/Ariatd/medaix-backend/internal/storage"
	"github.com/Ariatd/medaix-backend/internal/store"
	"github.com/Ariatd/medaix-backend/pkg/models"
)

const (
	defaultPageLimit = 20
	maxPageLimit     = 100
)

// NewListImagesHandler returns the handler for GET /api/v1/upload/images.
func NewListImagesHandler(st store.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := mw.GetUserID(r)
		if !ok {
			response.Error(w, http.StatusUnauthorized, "INVALID_TOKEN", "Missing user", nil)
			return
		}

		page, limit := parsePagination(r)
		images, total, err := st.ListImages(r.Context(), store.ImageFilter{
			UserID:    userID,
			ProjectID: parseOptionalUUID(r.URL.Query().Get("project_id")),
			Page:      page,
			Limit:     limit,
		})
		if err != nil {
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to list images", nil)
			return
		}

		response.Collection(w, images, response.PaginationMeta{
			Page:    page,
			Limit:   limit,
			Total:   total,
			HasNext: page*limit < total,
		})
	}
}

// NewGetImageHandler returns the handler for GET /api/v1/upload/image/{imageID}.
func NewGetImageHandler(st store.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := mw.GetUserID(r)
		if !ok {
			response.Error(w, http.StatusUnauthorized, "INVALID_TOKEN", "Missing user", nil)
			return
		}

		img, ok := fetchOwnedImage(w, r, st, userID)
		if !ok {
			return
		}
		response.JSON(w, img)
	}
}

// NewImageStatusHandler returns the handler for GET
// /api/v1/upload/image/{imageID}/status. The cache is the fast path for clients
// polling an in-flight analysis; the database is authoritative.
func NewImageStatusHandler(st store.Store, ca cache.Cache) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		imageID, err := uuid.Parse(chi.URLParam(r, "imageID"))
		if err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid image ID", nil)
			return
		}

		if status, ok, _ := ca.GetAnalysisStatus(r.Context(), imageID); ok {
			response.JSON(w, map[string]any{"image_id": imageID, "analysis_status": status})
			return
		}

		img, err := st.GetImage(r.Context(), imageID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				response.Error(w, http.StatusNotFound, "NOT_FOUND", "Image not found", nil)
				return
			}
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to fetch image", nil)
			return
		}

		_ = ca.SetAnalysisStatus(r.Context(), imageID, img.AnalysisStatus, 30*time.Minute)
		response.JSON(w, map[string]any{"image_id": imageID, "analysis_status": img.AnalysisStatus})
	}
}

// NewDeleteImageHandler returns the handler for DELETE /api/v1/upload/image/{imageID}.
func NewDeleteImageHandler(st store.Store, files storage.FileStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := mw.GetUserID(r)
		if !ok {
			response.Error(w, http.StatusUnauthorized, "INVALID_TOKEN", "Missing user", nil)
			return
		}

		img, ok := fetchOwnedImage(w, r, st, userID)
		if !ok {
			return
		}

		if err := files.Remove(img.FilePath); err != nil {
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to delete image file", nil)
			return
		}
		if err := st.DeleteImage(r.Context(), img.ID); err != nil {
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to delete image record", nil)
			return
		}

		response.JSON(w, map[string]any{"deleted": true, "id": img.ID})
	}
}

// fetchOwnedImage resolves {imageID} and enforces ownership. A foreign image
// reads as not found rather than forbidden.
func fetchOwnedImage(w http.ResponseWriter, r *http.Request, st store.Store, userID uuid.UUID) (*models.Image, bool) {
	imageID, err := uuid.Parse(chi.URLParam(r, "imageID"))
	if err != nil {
		response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid image ID", nil)
		return nil, false
	}

	img, err := st.GetImage(r.Context(), imageID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			response.Error(w, http.StatusNotFound, "NOT_FOUND", "Image not found", nil)
			return nil, false
		}
		response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to fetch image", nil)
		return nil, false
	}
	if img.UserID != userID {
		response.Error(w, http.StatusNotFound, "NOT_FOUND", "Image not found", nil)
		return nil, false
	}
	return img, true
}

func parsePagination(r *http.Request) (page, limit int) {
	page, _ = strconv.Atoi(r.URL.Query().Get("page"))
	if page < 1 {
		page = 1
	}
	limit, _ = strconv.Atoi(r.URL.Query().Get("limit"))
	if limit < 1 {
		limit = defaultPageLimit
	}
	if limit > maxPageLimit {
		limit = maxPageLimit
	}
	return page, limit
}
