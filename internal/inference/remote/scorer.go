// Package remote implements the scoring stages against a model-serving HTTP
// endpoint. The endpoint owns the actual inference; this client only moves
// bytes and classifies transport failures.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/Ariatd/medaix-backend/internal/config"
	"github.com/Ariatd/medaix-backend/pkg/models"
	"github.com/google/uuid"
)

type scoreRequest struct {
	ImageID  uuid.UUID `json:"image_id"`
	Model    string    `json:"model"`
	MimeType string    `json:"mime_type"`
	Content  []byte    `json:"content"`
}

type scoreResponse struct {
	ConfidenceScore       float64                        `json:"confidence_score"`
	Findings              []models.Finding               `json:"findings"`
	Recommendations       []string                       `json:"recommendations"`
	DifferentialDiagnosis []models.DifferentialDiagnosis `json:"differential_diagnosis"`
	SeverityAssessment    models.SeverityAssessment      `json:"severity_assessment"`
	RegionsOfInterest     []models.RegionOfInterest      `json:"regions_of_interest"`
	QualityMetrics        models.QualityMetrics          `json:"quality_metrics"`
}

type verifyResponse struct {
	Score  float64 `json:"score"`
	Method string  `json:"method"`
	Notes  string  `json:"notes"`
}

// Scorer implements models.PrimaryScorer against a remote inference node.
type Scorer struct {
	cfg    config.RemoteScorerConfig
	client *http.Client
}

func NewScorer(cfg config.RemoteScorerConfig, timeout time.Duration) *Scorer {
	return &Scorer{cfg: cfg, client: &http.Client{Timeout: timeout}}
}

func (s *Scorer) Name() string { return "remote" }

func (s *Scorer) Score(ctx context.Context, req models.ScoreRequest) (*models.PrimaryScore, error) {
	var resp scoreResponse
	if err := postJSON(ctx, s.client, s.cfg.BaseURL+"/v1/score", scoreRequest{
		ImageID:  req.ImageID,
		Model:    s.cfg.Model,
		MimeType: req.MimeType,
		Content:  req.Content,
	}, &resp); err != nil {
		return nil, err
	}

	return &models.PrimaryScore{
		ConfidenceScore:       models.ClampScore(resp.ConfidenceScore),
		Findings:              resp.Findings,
		Recommendations:       resp.Recommendations,
		DifferentialDiagnosis: resp.DifferentialDiagnosis,
		SeverityAssessment:    resp.SeverityAssessment,
		RegionsOfInterest:     resp.RegionsOfInterest,
		QualityMetrics:        resp.QualityMetrics,
	}, nil
}

// Verifier implements models.SecondaryVerifier against the same node's
// ensemble endpoint.
type Verifier struct {
	cfg    config.RemoteScorerConfig
	client *http.Client
}

func NewVerifier(cfg config.RemoteScorerConfig, timeout time.Duration) *Verifier {
	return &Verifier{cfg: cfg, client: &http.Client{Timeout: timeout}}
}

func (v *Verifier) Name() string { return "remote-ensemble" }

func (v *Verifier) Verify(ctx context.Context, req models.ScoreRequest) (*models.Verification, error) {
	var resp verifyResponse
	if err := postJSON(ctx, v.client, v.cfg.BaseURL+"/v1/verify", scoreRequest{
		ImageID:  req.ImageID,
		Model:    v.cfg.Model,
		MimeType: req.MimeType,
		Content:  req.Content,
	}, &resp); err != nil {
		return nil, err
	}

	return &models.Verification{
		Score:  models.ClampScore(resp.Score),
		Method: resp.Method,
		Notes:  resp.Notes,
	}, nil
}

func postJSON(ctx context.Context, client *http.Client, url string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encoding request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(httpReq)
	if err != nil {
		return classifyError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: status %d", ErrInvalidResponse, resp.StatusCode)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidResponse, err)
	}
	return nil
}

// classifyError maps transport-level errors to sentinel errors.
func classifyError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("%w: %v", ErrInferenceTimeout, err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return fmt.Errorf("%w: %v", ErrInferenceTimeout, err)
		}
	}
	return fmt.Errorf("%w: %v", ErrScorerUnavailable, err)
}

var _ models.PrimaryScorer = (*Scorer)(nil)
var _ models.SecondaryVerifier = (*Verifier)(nil)
