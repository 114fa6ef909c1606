package store

import (
	"context"
	"errors"
	"time"

	"github.com/Ariatd/medaix-backend/pkg/models"
	"github.com/google/uuid"
)

var ErrNotFound = errors.New("resource not found")
var ErrDuplicateKey = errors.New("duplicate key violation")

// Store is the data access interface. All database operations go through here.
type Store interface {
	Ping(ctx context.Context) error

	// Users and quota counters. Token mutations are atomic conditional
	// updates so concurrent runs for the same user cannot lose writes.
	GetUser(ctx context.Context, id uuid.UUID) (*models.User, error)
	UpsertUser(ctx context.Context, user *models.User) (*models.User, error)
	ResetDailyTokensIfStale(ctx context.Context, id uuid.UUID, boundary time.Time) error
	DeductPrepaidToken(ctx context.Context, id uuid.UUID) (bool, error)
	IncrementDailyUsage(ctx context.Context, id uuid.UUID) (int, error)
	GrantTokens(ctx context.Context, id uuid.UUID, amount int) (int, error)
	SetPro(ctx context.Context, id uuid.UUID, pro bool) error

	GetAPIKeyByPrefix(ctx context.Context, prefix string) ([]*models.APIKey, error)
	UpdateAPIKeyLastUsed(ctx context.Context, id uuid.UUID) error
	CreateAPIKey(ctx context.Context, key *models.APIKey) error
	ListAPIKeys(ctx context.Context, userID uuid.UUID) ([]*models.APIKey, error)
	RevokeAPIKey(ctx context.Context, id uuid.UUID, userID uuid.UUID) error

	CreateImage(ctx context.Context, image *models.Image) error
	GetImage(ctx context.Context, id uuid.UUID) (*models.Image, error)
	ListImages(ctx context.Context, filter ImageFilter) ([]*models.Image, int, error)
	DeleteImage(ctx context.Context, id uuid.UUID) error
	SetImageStatus(ctx context.Context, id uuid.UUID, status string) error
	ListAbandonedImages(ctx context.Context, cutoff time.Time) ([]*models.Image, error)

	UpsertResult(ctx context.Context, result *models.AnalysisResult) error
	GetResultByID(ctx context.Context, id uuid.UUID) (*models.AnalysisResult, error)
	GetResultByImageID(ctx context.Context, imageID uuid.UUID) (*models.AnalysisResult, error)
	ListResults(ctx context.Context, filter ResultFilter) ([]*models.AnalysisResult, int, error)
}

type ImageFilter struct {
	UserID    uuid.UUID
	ProjectID *uuid.UUID
	Page      int
	Limit     int
}

type ResultFilter struct {
	UserID uuid.UUID
	Status string
	Page   int
	Limit  int
}
