package models

import (
	"time"

	"github.com/google/uuid"
)

const (
	ImageStatusPending    = "pending"
	ImageStatusProcessing = "processing"
	ImageStatusCompleted  = "completed"
	ImageStatusFailed     = "failed"
)

const (
	ImageTypeStandard = "standard"
	ImageTypeDicom    = "dicom"
)

// Image represents one uploaded medical image and its analysis lifecycle.
// AnalysisStatus is the single source of truth for whether the image's
// analysis is done; only the pipeline and the abandonment sweeper mutate it.
type Image struct {
	ID                    uuid.UUID  `db:"id"                      json:"id"`
	UserID                uuid.UUID  `db:"user_id"                 json:"user_id"`
	ProjectID             *uuid.UUID `db:"project_id"              json:"project_id,omitempty"`
	FileName              string     `db:"file_name"               json:"file_name"`
	OriginalFileName      string     `db:"original_file_name"      json:"original_file_name"`
	FilePath              string     `db:"file_path"               json:"-"`
	FileSize              int64      `db:"file_size"               json:"file_size"`
	MimeType              string     `db:"mime_type"               json:"mime_type"`
	Width                 *int       `db:"width"                   json:"width,omitempty"`
	Height                *int       `db:"height"                  json:"height,omitempty"`
	ImageType             string     `db:"image_type"              json:"image_type"`
	AnalysisStatus        string     `db:"analysis_status"         json:"analysis_status"`
	Tags                  []string   `db:"tags"                    json:"tags"`
	Description           *string    `db:"description"             json:"description,omitempty"`
	ProcessingStartedAt   *time.Time `db:"processing_started_at"   json:"processing_started_at,omitempty"`
	ProcessingCompletedAt *time.Time `db:"processing_completed_at" json:"processing_completed_at,omitempty"`
	CreatedAt             time.Time  `db:"created_at"              json:"created_at"`
	UpdatedAt             time.Time  `db:"updated_at"              json:"updated_at"`
}
