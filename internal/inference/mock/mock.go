package mock

import (
	"context"

	"github.com/Ariatd/medaix-backend/internal/inference/remote"
	"github.com/Ariatd/medaix-backend/pkg/models"
)

// Scorer satisfies models.PrimaryScorer for testing.
type Scorer struct {
	Name_     string
	ScoreFunc func(ctx context.Context, req models.ScoreRequest) (*models.PrimaryScore, error)
}

func (m *Scorer) Name() string { return m.Name_ }

func (m *Scorer) Score(ctx context.Context, req models.ScoreRequest) (*models.PrimaryScore, error) {
	if m.ScoreFunc != nil {
		return m.ScoreFunc(ctx, req)
	}
	return &models.PrimaryScore{}, nil
}

// Verifier satisfies models.SecondaryVerifier for testing.
type Verifier struct {
	Name_      string
	VerifyFunc func(ctx context.Context, req models.ScoreRequest) (*models.Verification, error)
}

func (m *Verifier) Name() string { return m.Name_ }

func (m *Verifier) Verify(ctx context.Context, req models.ScoreRequest) (*models.Verification, error) {
	if m.VerifyFunc != nil {
		return m.VerifyFunc(ctx, req)
	}
	return &models.Verification{}, nil
}

// NewScorer returns a Scorer producing a fixed-confidence draft with one
// finding, enough body for pipeline branch assertions.
func NewScorer(confidence float64) *Scorer {
	return &Scorer{
		Name_: "mock",
		ScoreFunc: func(_ context.Context, _ models.ScoreRequest) (*models.PrimaryScore, error) {
			return &models.PrimaryScore{
				ConfidenceScore: confidence,
				Findings: []models.Finding{
					{Description: "Mock finding", Confidence: confidence, Region: "Primary", Severity: "normal"},
				},
				Recommendations: []string{"Routine follow-up recommended"},
				DifferentialDiagnosis: []models.DifferentialDiagnosis{
					{Condition: "Normal Variant", Probability: 0.9},
					{Condition: "Benign Finding", Probability: 0.1},
				},
				SeverityAssessment: models.SeverityAssessment{
					OverallSeverity:    "normal",
					AffectedRegions:    []string{},
					UrgencyLevel:       "routine",
					RecommendedActions: []string{"Continue routine monitoring"},
				},
				RegionsOfInterest: []models.RegionOfInterest{},
				QualityMetrics: models.QualityMetrics{
					ImageQuality:  0.9,
					Completeness:  0.95,
					Clarity:       0.85,
					ArtifactLevel: models.ArtifactMinimal,
				},
			}, nil
		},
	}
}

// NewVerifier returns a Verifier producing a fixed secondary confidence.
func NewVerifier(confidence float64) *Verifier {
	return &Verifier{
		Name_: "mock-ensemble",
		VerifyFunc: func(_ context.Context, _ models.ScoreRequest) (*models.Verification, error) {
			return &models.Verification{
				Score:  confidence,
				Method: "Ensemble Model (ResNet + EfficientNet)",
				Notes:  "Secondary verification confirms primary analysis with high confidence",
			}, nil
		},
	}
}

// NewFailingScorer returns a Scorer that always returns the given error.
func NewFailingScorer(err error) *Scorer {
	return &Scorer{
		Name_: "mock-failing",
		ScoreFunc: func(_ context.Context, _ models.ScoreRequest) (*models.PrimaryScore, error) {
			return nil, err
		},
	}
}

// NewFailingVerifier returns a Verifier that always returns the given error.
func NewFailingVerifier(err error) *Verifier {
	return &Verifier{
		Name_: "mock-failing",
		VerifyFunc: func(_ context.Context, _ models.ScoreRequest) (*models.Verification, error) {
			return nil, err
		},
	}
}

// NewTimeoutScorer returns a Scorer that blocks until context is cancelled.
func NewTimeoutScorer() *Scorer {
	return &Scorer{
		Name_: "mock-timeout",
		ScoreFunc: func(ctx context.Context, _ models.ScoreRequest) (*models.PrimaryScore, error) {
			<-ctx.Done()
			return nil, remote.ErrInferenceTimeout
		},
	}
}

// Compile-time checks.
var _ models.PrimaryScorer = (*Scorer)(nil)
var _ models.SecondaryVerifier = (*Verifier)(nil)
