package models

import (
	"time"

	"github.com/google/uuid"
)

const (
	ResultStatusPending    = "pending"
	ResultStatusProcessing = "processing"
	ResultStatusCompleted  = "completed"
	ResultStatusFailed     = "failed"
)

const (
	ConfidenceLow      = "low"
	ConfidenceMedium   = "medium"
	ConfidenceHigh     = "high"
	ConfidenceVeryHigh = "very_high"
)

const (
	ArtifactNone        = "none"
	ArtifactMinimal     = "minimal"
	ArtifactModerate    = "moderate"
	ArtifactSignificant = "significant"
)

// AnalysisResult is the authoritative analysis record for one image. Re-running
// the pipeline for the same image overwrites the stored record via an upsert
// keyed by the result ID.
type AnalysisResult struct {
	ID                    uuid.UUID               `json:"id"`
	ImageID               uuid.UUID               `json:"image_id"`
	UserID                uuid.UUID               `json:"user_id"`
	ProjectID             *uuid.UUID              `json:"project_id,omitempty"`
	Status                string                  `json:"status"`
	ConfidenceScore       float64                 `json:"confidence_score"`
	ConfidenceLevel       string                  `json:"confidence_level"`
	Findings              []Finding               `json:"findings"`
	Recommendations       []string                `json:"recommendations"`
	DifferentialDiagnosis []DifferentialDiagnosis `json:"differential_diagnosis"`
	SeverityAssessment    SeverityAssessment      `json:"severity_assessment"`
	RegionsOfInterest     []RegionOfInterest      `json:"regions_of_interest"`
	QualityMetrics        QualityMetrics          `json:"quality_metrics"`
	HeatmapURL            *string                 `json:"heatmap_url,omitempty"`
	ProcessingSeconds     int                     `json:"processing_time_seconds"`
	SecondaryVerification *SecondaryVerification  `json:"secondary_verification,omitempty"`
	Metadata              ResultMetadata          `json:"metadata"`
	CreatedAt             time.Time               `json:"created_at"`
	UpdatedAt             time.Time               `json:"updated_at"`
}

// Finding is a single structured observation within an analysis.
type Finding struct {
	Description string       `json:"description"`
	Confidence  float64      `json:"confidence"`
	Region      string       `json:"region"`
	Severity    string       `json:"severity"`
	BoundingBox *BoundingBox `json:"bounding_box,omitempty"`
}

// BoundingBox holds fractional coordinates in [0,1] relative to image dimensions.
type BoundingBox struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// DifferentialDiagnosis is one ranked candidate condition. Lists of these are
// always sorted descending by probability.
type DifferentialDiagnosis struct {
	Condition   string  `json:"condition"`
	Probability float64 `json:"probability"`
}

// SeverityAssessment is the overall clinical-severity judgment for the image.
type SeverityAssessment struct {
	OverallSeverity    string   `json:"overall_severity"`
	AffectedRegions    []string `json:"affected_regions"`
	UrgencyLevel       string   `json:"urgency_level"`
	RecommendedActions []string `json:"recommended_actions"`
}

// RegionOfInterest marks a spatial area of attention with its own confidence.
type RegionOfInterest struct {
	ID          uuid.UUID `json:"id"`
	X           float64   `json:"x"`
	Y           float64   `json:"y"`
	Width       float64   `json:"width"`
	Height      float64   `json:"height"`
	Confidence  float64   `json:"confidence"`
	Description string    `json:"description"`
}

// QualityMetrics describe the input image's fitness for analysis, not the
// diagnostic outcome. All scores are normalized to [0,1]; ArtifactLevel is an
// ordinal tier (none, minimal, moderate, significant).
type QualityMetrics struct {
	ImageQuality  float64 `json:"image_quality"`
	Completeness  float64 `json:"completeness"`
	Clarity       float64 `json:"clarity"`
	ArtifactLevel string  `json:"artifact_level"`
}

// SecondaryVerification records the escalation stage: both component scores
// and the blended final score the pipeline computed from them.
type SecondaryVerification struct {
	Performed           bool    `json:"performed"`
	OriginalConfidence  float64 `json:"original_confidence"`
	SecondaryConfidence float64 `json:"secondary_confidence"`
	FinalConfidence     float64 `json:"final_confidence"`
	VerificationMethod  string  `json:"verification_method"`
	Notes               string  `json:"notes"`
}

// ConfidenceThresholds are the three threshold values actually applied to a
// run. Secondary is zero whenever no secondary verification ran.
type ConfidenceThresholds struct {
	Primary   float64 `json:"primary"`
	Secondary float64 `json:"secondary"`
	Final     float64 `json:"final"`
}

// ResultMetadata carries algorithm and provenance details for a result.
type ResultMetadata struct {
	AlgorithmVersion     string               `json:"algorithm_version"`
	ModelUsed            string               `json:"model_used"`
	ProcessingNode       string               `json:"processing_node"`
	BatchID              uuid.UUID            `json:"batch_id"`
	ConfidenceThresholds ConfidenceThresholds `json:"confidence_thresholds"`
}
