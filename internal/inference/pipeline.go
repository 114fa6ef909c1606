package inference

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/Ariatd/medaix-backend/internal/cache"
	"github.com/Ariatd/medaix-backend/internal/quota"
	"github.com/Ariatd/medaix-backend/internal/store"
	"github.com/Ariatd/medaix-backend/pkg/models"
)

const (
	algorithmVersion = "v2.1.0"
	modelUsed        = "MedAIx-CNN-v3"
	processingNode   = "medaix-cluster-1"

	// Weights for blending primary and secondary confidence in the
	// escalation branch.
	primaryWeight   = 0.4
	secondaryWeight = 0.6

	statusCacheTTL = 30 * time.Minute
)

// AdmissionDeniedError is returned when the quota gate declines a run. It is
// a business rejection, not a fault: no result is created and the image stays
// pending.
type AdmissionDeniedError struct {
	Reason string
}

func (e *AdmissionDeniedError) Error() string {
	return fmt.Sprintf("analysis not admitted: %s", e.Reason)
}

// HeatmapFunc attaches a heatmap reference to a finished run. Best-effort: a
// failure is logged and the result stays valid without a heatmap.
type HeatmapFunc func(ctx context.Context, imageID uuid.UUID) (string, error)

// DefaultHeatmap returns the API path where the heatmap for an image is served.
func DefaultHeatmap(_ context.Context, imageID uuid.UUID) (string, error) {
	return fmt.Sprintf("/api/v1/analyses/%s/heatmap", imageID), nil
}

// Pipeline orchestrates one analysis run: admission through the quota gate,
// primary scoring, threshold branching with optional secondary verification,
// and a single terminal persistence write.
type Pipeline struct {
	primary  models.PrimaryScorer
	verifier models.SecondaryVerifier
	gate     quota.Gate
	store    store.Store
	cache    cache.Cache
	heatmap  HeatmapFunc
}

// NewPipeline creates a Pipeline. A nil heatmap falls back to DefaultHeatmap.
func NewPipeline(primary models.PrimaryScorer, verifier models.SecondaryVerifier, gate quota.Gate, st store.Store, ca cache.Cache, heatmap HeatmapFunc) *Pipeline {
	if heatmap == nil {
		heatmap = DefaultHeatmap
	}
	return &Pipeline{
		primary:  primary,
		verifier: verifier,
		gate:     gate,
		store:    st,
		cache:    ca,
		heatmap:  heatmap,
	}
}

// Schedule dispatches a run in a background goroutine so the upload handler
// can return immediately. Outcomes are logged; callers poll for the result.
func (p *Pipeline) Schedule(image *models.Image, content []byte) {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				slog.Error("panic in scheduled analysis", "image_id", image.ID, "error", r)
			}
		}()

		if _, err := p.Run(context.Background(), image, content); err != nil {
			var denied *AdmissionDeniedError
			if errors.As(err, &denied) {
				slog.Info("analysis declined by quota gate", "image_id", image.ID, "user_id", image.UserID, "reason", denied.Reason)
				return
			}
			slog.Error("analysis run failed", "image_id", image.ID, "error", err)
		}
	}()
}

// Run executes one full analysis for an image and returns the final result.
//
// Admission is checked first: a denied run returns AdmissionDeniedError with
// no result created and the image left pending. Once admitted, the run always
// produces exactly one terminal result, either from a threshold branch or from
// the catch-all fault conversion. Persistence failures are logged and the
// computed result is still returned.
func (p *Pipeline) Run(ctx context.Context, image *models.Image, content []byte) (*models.AnalysisResult, error) {
	start := time.Now()
	batchID := uuid.New()

	decision, err := p.gate.CanAdmit(ctx, image.UserID)
	if err != nil {
		return nil, fmt.Errorf("checking admission: %w", err)
	}
	if !decision.Allowed {
		return nil, &AdmissionDeniedError{Reason: decision.Reason}
	}

	slog.Info("analysis admitted", "image_id", image.ID, "user_id", image.UserID, "batch_id", batchID, "scorer", p.primary.Name())

	p.setImageStatus(ctx, image.ID, models.ImageStatusProcessing)

	result := p.evaluate(ctx, image, content, batchID)
	result.ProcessingSeconds = elapsedSeconds(start)

	p.persist(ctx, image.ID, result)

	if result.Status == models.ResultStatusCompleted {
		if err := p.gate.AccountForCompletion(ctx, image.UserID); err != nil {
			slog.Error("accounting for completed analysis failed", "image_id", image.ID, "user_id", image.UserID, "error", err)
		}
	}

	slog.Info("analysis finished",
		"image_id", image.ID,
		"status", result.Status,
		"confidence", result.ConfidenceScore,
		"seconds", result.ProcessingSeconds,
	)
	return result, nil
}

// evaluate runs the scoring stages and resolves the threshold branch. It never
// fails: scorer errors and panics are converted into the minimal failed result
// so the branching logic stays total.
func (p *Pipeline) evaluate(ctx context.Context, image *models.Image, content []byte, batchID uuid.UUID) (result *models.AnalysisResult) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("panic during scoring", "image_id", image.ID, "error", r)
			result = p.faultResult(ctx, image, batchID)
		}
	}()

	req := models.ScoreRequest{ImageID: image.ID, Content: content, MimeType: image.MimeType}

	draft, err := p.primary.Score(ctx, req)
	if err != nil {
		slog.Error("primary scoring failed", "image_id", image.ID, "scorer", p.primary.Name(), "error", err)
		return p.faultResult(ctx, image, batchID)
	}

	primaryScore := models.ClampScore(draft.ConfidenceScore)
	result = p.baseResult(ctx, image, batchID, draft)

	switch {
	case primaryScore < models.ThresholdLow:
		// Reject: the draft survives as the body of a failed result, with
		// a quality penalty marking the image as suspect.
		slog.Info("low confidence, rejecting", "image_id", image.ID, "confidence", primaryScore)
		result.Status = models.ResultStatusFailed
		result.ConfidenceScore = primaryScore
		result.QualityMetrics.ImageQuality = math.Max(0, result.QualityMetrics.ImageQuality-0.2)
		result.Metadata.ConfidenceThresholds = models.ConfidenceThresholds{Primary: primaryScore}

	case primaryScore < models.ThresholdMedium:
		slog.Info("ambiguous confidence, escalating to secondary verification", "image_id", image.ID, "confidence", primaryScore)
		verification, err := p.verifier.Verify(ctx, req)
		if err != nil {
			slog.Error("secondary verification failed", "image_id", image.ID, "verifier", p.verifier.Name(), "error", err)
			return p.faultResult(ctx, image, batchID)
		}

		secondaryScore := models.ClampScore(verification.Score)
		finalScore := models.Round2(primaryScore*primaryWeight + secondaryScore*secondaryWeight)

		result.Status = models.ResultStatusCompleted
		result.ConfidenceScore = finalScore
		result.SecondaryVerification = &models.SecondaryVerification{
			Performed:           true,
			OriginalConfidence:  primaryScore,
			SecondaryConfidence: secondaryScore,
			FinalConfidence:     finalScore,
			VerificationMethod:  verification.Method,
			Notes:               verification.Notes,
		}
		result.Metadata.ConfidenceThresholds = models.ConfidenceThresholds{
			Primary:   primaryScore,
			Secondary: secondaryScore,
			Final:     finalScore,
		}

	default:
		// Accept outright. High scores above the caution band are
		// indistinguishable in the stored record except by level label.
		slog.Info("confidence accepted", "image_id", image.ID, "confidence", primaryScore, "level", models.ConfidenceLevelFor(primaryScore))
		result.Status = models.ResultStatusCompleted
		result.ConfidenceScore = primaryScore
		result.Metadata.ConfidenceThresholds = models.ConfidenceThresholds{
			Primary: primaryScore,
			Final:   primaryScore,
		}
	}

	result.ConfidenceLevel = models.ConfidenceLevelFor(result.ConfidenceScore)

	if url, err := p.heatmap(ctx, image.ID); err != nil {
		slog.Warn("heatmap generation failed", "image_id", image.ID, "error", err)
	} else {
		result.HeatmapURL = &url
	}

	return result
}

// baseResult assembles the result shell shared by all threshold branches,
// carrying the primary draft's findings unchanged. The result ID is reused
// from any previous run for this image so a re-run updates in place.
func (p *Pipeline) baseResult(ctx context.Context, image *models.Image, batchID uuid.UUID, draft *models.PrimaryScore) *models.AnalysisResult {
	now := time.Now().UTC()
	return &models.AnalysisResult{
		ID:                    p.resultID(ctx, image.ID),
		ImageID:               image.ID,
		UserID:                image.UserID,
		ProjectID:             image.ProjectID,
		Findings:              draft.Findings,
		Recommendations:       draft.Recommendations,
		DifferentialDiagnosis: draft.DifferentialDiagnosis,
		SeverityAssessment:    draft.SeverityAssessment,
		RegionsOfInterest:     draft.RegionsOfInterest,
		QualityMetrics:        draft.QualityMetrics,
		Metadata: models.ResultMetadata{
			AlgorithmVersion: algorithmVersion,
			ModelUsed:        modelUsed,
			ProcessingNode:   processingNode,
			BatchID:          batchID,
		},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// faultResult is the catch-all conversion for technical faults: a minimal
// failed record with zero confidence and a retry recommendation rather than an
// unhandled error.
func (p *Pipeline) faultResult(ctx context.Context, image *models.Image, batchID uuid.UUID) *models.AnalysisResult {
	now := time.Now().UTC()
	return &models.AnalysisResult{
		ID:                    p.resultID(ctx, image.ID),
		ImageID:               image.ID,
		UserID:                image.UserID,
		ProjectID:             image.ProjectID,
		Status:                models.ResultStatusFailed,
		ConfidenceScore:       0,
		ConfidenceLevel:       models.ConfidenceLow,
		Findings:              []models.Finding{},
		Recommendations:       []string{"Please retry with a clearer image"},
		DifferentialDiagnosis: []models.DifferentialDiagnosis{},
		SeverityAssessment: models.SeverityAssessment{
			OverallSeverity:    "normal",
			AffectedRegions:    []string{},
			UrgencyLevel:       "routine",
			RecommendedActions: []string{"Retry analysis"},
		},
		RegionsOfInterest: []models.RegionOfInterest{},
		QualityMetrics: models.QualityMetrics{
			ArtifactLevel: models.ArtifactSignificant,
		},
		Metadata: models.ResultMetadata{
			AlgorithmVersion: algorithmVersion,
			ModelUsed:        modelUsed,
			ProcessingNode:   processingNode,
			BatchID:          batchID,
		},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// resultID returns the existing result ID for the image if one is stored, so
// the upsert overwrites rather than duplicating, and a fresh ID otherwise.
func (p *Pipeline) resultID(ctx context.Context, imageID uuid.UUID) uuid.UUID {
	existing, err := p.store.GetResultByImageID(ctx, imageID)
	if err == nil {
		return existing.ID
	}
	if !errors.Is(err, store.ErrNotFound) {
		slog.Warn("looking up prior result failed, using fresh id", "image_id", imageID, "error", err)
	}
	return uuid.New()
}

// persist is the run's single terminal write attempt. Failures are logged;
// the in-memory result is still handed back to the caller even though the
// stored state may now lag.
func (p *Pipeline) persist(ctx context.Context, imageID uuid.UUID, result *models.AnalysisResult) {
	if err := p.store.UpsertResult(ctx, result); err != nil {
		slog.Error("persisting analysis result failed", "image_id", imageID, "result_id", result.ID, "error", err)
	}

	imageStatus := models.ImageStatusCompleted
	if result.Status == models.ResultStatusFailed {
		imageStatus = models.ImageStatusFailed
	}
	p.setImageStatus(ctx, imageID, imageStatus)
}

func (p *Pipeline) setImageStatus(ctx context.Context, imageID uuid.UUID, status string) {
	if err := p.store.SetImageStatus(ctx, imageID, status); err != nil {
		slog.Error("updating image status failed", "image_id", imageID, "status", status, "error", err)
	}
	_ = p.cache.SetAnalysisStatus(ctx, imageID, status, statusCacheTTL)
}

// GetResult fetches the stored result for an image. The confidence level is
// recomputed from the stored score so the label can never drift from it.
func (p *Pipeline) GetResult(ctx context.Context, imageID uuid.UUID) (*models.AnalysisResult, error) {
	result, err := p.store.GetResultByImageID(ctx, imageID)
	if err != nil {
		return nil, err
	}
	result.ConfidenceLevel = models.ConfidenceLevelFor(result.ConfidenceScore)
	return result, nil
}

func elapsedSeconds(start time.Time) int {
	return int(math.Round(time.Since(start).Seconds()))
}
