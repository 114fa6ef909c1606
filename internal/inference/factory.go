package inference

import (
	"fmt"

	"github.com/Ariatd/medaix-backend/internal/config"
	"github.com/Ariatd/medaix-backend/internal/inference/remote"
	"github.com/Ariatd/medaix-backend/internal/inference/standin"
	"github.com/Ariatd/medaix-backend/pkg/models"
)

// NewPrimaryScorer constructs the configured primary scorer.
// Called once at server startup.
func NewPrimaryScorer(cfg config.ScorerConfig) (models.PrimaryScorer, error) {
	switch cfg.Provider {
	case "standin":
		return standin.NewScorer(), nil
	case "remote":
		return remote.NewScorer(cfg.Remote, cfg.InferenceTimeout), nil
	default:
		return nil, fmt.Errorf("unknown scorer provider %q: must be one of standin, remote", cfg.Provider)
	}
}

// NewSecondaryVerifier constructs the configured secondary verifier.
func NewSecondaryVerifier(cfg config.ScorerConfig) (models.SecondaryVerifier, error) {
	switch cfg.Provider {
	case "standin":
		return standin.NewVerifier(), nil
	case "remote":
		return remote.NewVerifier(cfg.Remote, cfg.InferenceTimeout), nil
	default:
		return nil, fmt.Errorf("unknown scorer provider %q: must be one of standin, remote", cfg.Provider)
	}
}
