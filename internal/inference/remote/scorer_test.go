package remote

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/Ariatd/medaix-backend/internal/config"
	"github.com/Ariatd/medaix-backend/pkg/models"
)

// --- helpers ---

func inferenceServer(t *testing.T, handler http.HandlerFunc) *httptest.Server {
	t.Helper()
	return httptest.NewServer(handler)
}

func remoteConfig(baseURL string) config.RemoteScorerConfig {
	return config.RemoteScorerConfig{BaseURL: baseURL, Model: "medaix-cnn-v3"}
}

func sampleRequest() models.ScoreRequest {
	return models.ScoreRequest{
		ImageID:  uuid.New(),
		Content:  []byte("image-bytes"),
		MimeType: "image/png",
	}
}

// --- Score tests ---

func TestScore_ValidResponse(t *testing.T) {
	req := sampleRequest()

	ts := inferenceServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/score" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		if r.Method != http.MethodPost {
			t.Errorf("unexpected method: %s", r.Method)
		}

		var body scoreRequest
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Fatalf("decoding request: %v", err)
		}
		if body.ImageID != req.ImageID {
			t.Errorf("unexpected image ID: %s", body.ImageID)
		}
		if body.Model != "medaix-cnn-v3" {
			t.Errorf("unexpected model: %s", body.Model)
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(scoreResponse{
			ConfidenceScore: 87.5,
			Findings: []models.Finding{
				{Description: "clear margins", Confidence: 87.5, Region: "upper left", Severity: "low"},
			},
			Recommendations: []string{"No immediate action required"},
			QualityMetrics:  models.QualityMetrics{ImageQuality: 0.9, ArtifactLevel: "minimal"},
		})
	})
	defer ts.Close()

	s := NewScorer(remoteConfig(ts.URL), 5*time.Second)

	score, err := s.Score(context.Background(), req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if score.ConfidenceScore != 87.5 {
		t.Errorf("unexpected score: %v", score.ConfidenceScore)
	}
	if len(score.Findings) != 1 {
		t.Fatalf("expected 1 finding, got %d", len(score.Findings))
	}
	if score.Findings[0].Region != "upper left" {
		t.Errorf("unexpected region: %s", score.Findings[0].Region)
	}
}

func TestScore_ClampsOutOfRangeScore(t *testing.T) {
	ts := inferenceServer(t, func(w http.ResponseWriter, _ *http.Request) {
		json.NewEncoder(w).Encode(scoreResponse{ConfidenceScore: 132.4})
	})
	defer ts.Close()

	s := NewScorer(remoteConfig(ts.URL), 5*time.Second)

	score, err := s.Score(context.Background(), sampleRequest())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if score.ConfidenceScore != 100 {
		t.Errorf("expected clamped score 100, got %v", score.ConfidenceScore)
	}
}

func TestScore_Non200IsInvalidResponse(t *testing.T) {
	ts := inferenceServer(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})
	defer ts.Close()

	s := NewScorer(remoteConfig(ts.URL), 5*time.Second)

	_, err := s.Score(context.Background(), sampleRequest())
	if !errors.Is(err, ErrInvalidResponse) {
		t.Errorf("expected ErrInvalidResponse, got %v", err)
	}
}

func TestScore_MalformedBodyIsInvalidResponse(t *testing.T) {
	ts := inferenceServer(t, func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte("not json"))
	})
	defer ts.Close()

	s := NewScorer(remoteConfig(ts.URL), 5*time.Second)

	_, err := s.Score(context.Background(), sampleRequest())
	if !errors.Is(err, ErrInvalidResponse) {
		t.Errorf("expected ErrInvalidResponse, got %v", err)
	}
}

func TestScore_UnreachableNodeIsUnavailable(t *testing.T) {
	s := NewScorer(remoteConfig("http://127.0.0.1:1"), time.Second)

	_, err := s.Score(context.Background(), sampleRequest())
	if !errors.Is(err, ErrScorerUnavailable) {
		t.Errorf("expected ErrScorerUnavailable, got %v", err)
	}
}

func TestScore_SlowNodeIsTimeout(t *testing.T) {
	block := make(chan struct{})
	ts := inferenceServer(t, func(w http.ResponseWriter, _ *http.Request) {
		<-block
	})
	defer ts.Close()
	defer close(block)

	s := NewScorer(remoteConfig(ts.URL), 50*time.Millisecond)

	_, err := s.Score(context.Background(), sampleRequest())
	if !errors.Is(err, ErrInferenceTimeout) {
		t.Errorf("expected ErrInferenceTimeout, got %v", err)
	}
}

// --- Verify tests ---

func TestVerify_ValidResponse(t *testing.T) {
	ts := inferenceServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/verify" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		json.NewEncoder(w).Encode(verifyResponse{
			Score:  78.2,
			Method: "Ensemble Model (ResNet + EfficientNet)",
			Notes:  "Secondary verification confirms primary analysis with high confidence",
		})
	})
	defer ts.Close()

	v := NewVerifier(remoteConfig(ts.URL), 5*time.Second)

	ver, err := v.Verify(context.Background(), sampleRequest())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ver.Score != 78.2 {
		t.Errorf("unexpected score: %v", ver.Score)
	}
	if ver.Method != "Ensemble Model (ResNet + EfficientNet)" {
		t.Errorf("unexpected method: %s", ver.Method)
	}
}

func TestVerify_CancelledContextIsTimeout(t *testing.T) {
	block := make(chan struct{})
	ts := inferenceServer(t, func(w http.ResponseWriter, _ *http.Request) {
		<-block
	})
	defer ts.Close()
	defer close(block)

	v := NewVerifier(remoteConfig(ts.URL), 5*time.Second)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := v.Verify(ctx, sampleRequest())
	if !errors.Is(err, ErrInferenceTimeout) {
		t.Errorf("expected ErrInferenceTimeout, got %v", err)
	}
}
