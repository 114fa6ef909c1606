// Package models contains shared data models used across the MedAIx codebase.
package models

import (
	"context"

	"github.com/google/uuid"
)

// PrimaryScorer produces the initial confidence-scored draft for one image.
// Never call a concrete scorer directly — always inject this interface.
//
// Implementations must not fail for a well-formed image: an internal scoring
// problem surfaces as an explicit zero-confidence draft, not an error. The
// error return exists for transport-level faults (e.g. a remote model node
// being unreachable); the pipeline converts those into a failed result.
type PrimaryScorer interface {
	Score(ctx context.Context, req ScoreRequest) (*PrimaryScore, error)
	// Name returns the scorer identifier (e.g. "standin", "remote").
	Name() string
}

// SecondaryVerifier is the independent, more expensive second stage, invoked
// only when the primary score lands in the ambiguous band. It must not mutate
// the primary draft; blending is the pipeline's job.
type SecondaryVerifier interface {
	Verify(ctx context.Context, req ScoreRequest) (*Verification, error)
	Name() string
}

// ScoreRequest is the input handed to both scoring stages.
type ScoreRequest struct {
	ImageID  uuid.UUID
	Content  []byte
	MimeType string
}

// PrimaryScore is the candidate result draft produced by the primary scorer.
type PrimaryScore struct {
	ConfidenceScore       float64
	Findings              []Finding
	Recommendations       []string
	DifferentialDiagnosis []DifferentialDiagnosis
	SeverityAssessment    SeverityAssessment
	RegionsOfInterest     []RegionOfInterest
	QualityMetrics        QualityMetrics
}

// Verification is the secondary verifier's independent judgment.
type Verification struct {
	Score  float64
	Method string
	Notes  string
}
