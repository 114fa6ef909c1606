// Package handler contains the HTTP handlers for the MedAIx API. Handlers
// depend on narrow interfaces so tests can run without real infrastructure.
package handler

import (
	"bytes"
	"encoding/json"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	mw "github.com/Ariatd/medaix-backend/internal/api/middleware"
	"github.com/Ariatd/medaix-backend/internal/api/response"
	"github.com/Ariatd/medaix-backend/internal/storage"
	"github.com/Ariatd/medaix-backend/internal/store"
	"github.com/Ariatd/medaix-backend/pkg/models"
)

var allowedMimeTypes = map[string]bool{
	"image/jpeg":               true,
	"image/png":                true,
	"image/gif":                true,
	"image/tiff":               true,
	"application/dicom":        true,
	"application/octet-stream": true,
}

// Scheduler dispatches an analysis run without blocking the caller.
type Scheduler interface {
	Schedule(image *models.Image, content []byte)
}

// NewUploadHandler returns the handler for POST /api/v1/upload/image. The
// image record is created with status pending and the analysis run is
// scheduled in the background; the response does not wait for it.
func NewUploadHandler(st store.Store, files storage.FileStore, scheduler Scheduler, maxUploadBytes int64) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := mw.GetUserID(r)
		if !ok {
			response.Error(w, http.StatusUnauthorized, "INVALID_TOKEN", "Missing user", nil)
			return
		}

		r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
		if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
			response.Error(w, http.StatusRequestEntityTooLarge, "FILE_TOO_LARGE",
				fmt.Sprintf("Upload exceeds the %d byte limit", maxUploadBytes), nil)
			return
		}

		file, header, err := r.FormFile("image")
		if err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "No file uploaded", nil)
			return
		}
		defer file.Close()

		content, err := io.ReadAll(file)
		if err != nil {
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to read upload", nil)
			return
		}

		mimeType := header.Header.Get("Content-Type")
		if !allowedMimeTypes[mimeType] {
			response.Error(w, http.StatusBadRequest, "INVALID_FILE_TYPE",
				"Invalid file type. Only images and DICOM files are allowed.", nil)
			return
		}

		if err := ensureUser(r, st, userID); err != nil {
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to resolve user", nil)
			return
		}

		imageID := uuid.New()
		fileName := fmt.Sprintf("%s_%s", imageID, header.Filename)

		path, err := files.Save(fileName, content)
		if err != nil {
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to store file", nil)
			return
		}

		now := time.Now().UTC()
		img := &models.Image{
			ID:               imageID,
			UserID:           userID,
			ProjectID:        parseOptionalUUID(r.FormValue("project_id")),
			FileName:         fileName,
			OriginalFileName: header.Filename,
			FilePath:         path,
			FileSize:         int64(len(content)),
			MimeType:         mimeType,
			ImageType:        imageTypeFor(mimeType, header.Filename),
			AnalysisStatus:   models.ImageStatusPending,
			Tags:             parseTags(r.FormValue("tags")),
			Description:      optionalString(r.FormValue("description")),
			CreatedAt:        now,
			UpdatedAt:        now,
		}

		if width, height, ok := decodeDimensions(content); ok {
			img.Width = &width
			img.Height = &height
		}

		if err := st.CreateImage(r.Context(), img); err != nil {
			_ = files.Remove(path)
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to create image record", nil)
			return
		}

		scheduler.Schedule(img, content)

		response.Created(w, img)
	}
}

// ensureUser upserts the account so first-time uploaders get the initial
// prepaid token grant.
func ensureUser(r *http.Request, st store.Store, userID uuid.UUID) error {
	now := time.Now().UTC()
	_, err := st.UpsertUser(r.Context(), &models.User{
		ID:                 userID,
		Email:              fmt.Sprintf("user-%s@medaix.local", userID),
		Name:               fmt.Sprintf("User %s", userID),
		Role:               "researcher",
		TokensTotal:        models.InitialTokenGrant,
		TokenLastResetDate: now,
		CreatedAt:          now,
		UpdatedAt:          now,
	})
	return err
}

func imageTypeFor(mimeType, fileName string) string {
	lower := strings.ToLower(fileName)
	if strings.Contains(mimeType, "dicom") ||
		strings.HasSuffix(lower, ".dcm") ||
		strings.HasSuffix(lower, ".dicom") {
		return models.ImageTypeDicom
	}
	return models.ImageTypeStandard
}

// decodeDimensions is best-effort: DICOM and TIFF payloads are stored without
// dimensions rather than rejected.
func decodeDimensions(content []byte) (int, int, bool) {
	cfg, _, err := image.DecodeConfig(bytes.NewReader(content))
	if err != nil {
		return 0, 0, false
	}
	return cfg.Width, cfg.Height, true
}

func parseTags(raw string) []string {
	if raw == "" {
		return []string{}
	}
	var tags []string
	if err := json.Unmarshal([]byte(raw), &tags); err != nil {
		return []string{}
	}
	return tags
}

func parseOptionalUUID(raw string) *uuid.UUID {
	if raw == "" {
		return nil
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return nil
	}
	return &id
}

func optionalString(raw string) *string {
	if raw == "" {
		return nil
	}
	return &raw
}
