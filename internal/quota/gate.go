// Package quota is the admission-control collaborator for analysis runs.
// Pro accounts are unlimited; everyone else spends prepaid tokens first and
// then a small daily free allowance that resets at local midnight. The reset
// is detected lazily on the next read — there is no background timer.
package quota

import (
	"context"
	"fmt"
	"time"

	"github.com/Ariatd/medaix-backend/internal/store"
	"github.com/Ariatd/medaix-backend/pkg/models"
	"github.com/google/uuid"
)

// Decision is the outcome of an admission check. A denied decision is a
// business outcome, not an error: Reason is surfaced to the caller.
type Decision struct {
	Allowed bool   `json:"allowed"`
	Reason  string `json:"reason,omitempty"`
}

// Gate decides whether a requester may start a new analysis and accounts for
// usage once one completes.
type Gate interface {
	CanAdmit(ctx context.Context, userID uuid.UUID) (Decision, error)
	AccountForCompletion(ctx context.Context, userID uuid.UUID) error
	TokenStatus(ctx context.Context, userID uuid.UUID) (*models.User, error)
}

// StoreGate implements Gate over the injected store. All counter mutations go
// through the store's atomic conditional updates, so concurrent runs for the
// same user cannot overdraw the allowance.
type StoreGate struct {
	store          store.Store
	dailyFreeLimit int
	now            func() time.Time
}

// NewStoreGate creates a StoreGate with the given daily free-run limit.
func NewStoreGate(st store.Store, dailyFreeLimit int) *StoreGate {
	return &StoreGate{
		store:          st,
		dailyFreeLimit: dailyFreeLimit,
		now:            time.Now,
	}
}

// CanAdmit must be called before the pipeline starts primary scoring.
func (g *StoreGate) CanAdmit(ctx context.Context, userID uuid.UUID) (Decision, error) {
	user, err := g.freshUser(ctx, userID)
	if err != nil {
		return Decision{}, err
	}

	if user.IsPro {
		return Decision{Allowed: true}, nil
	}
	if user.TokensTotal > 0 {
		return Decision{Allowed: true}, nil
	}
	if user.TokensUsedToday >= g.dailyFreeLimit {
		return Decision{
			Allowed: false,
			Reason:  "Daily free analyses limit reached. Upgrade to Pro or wait until tomorrow.",
		}, nil
	}
	return Decision{Allowed: true}, nil
}

// AccountForCompletion consumes one unit of quota after a run finished
// successfully. The pipeline calls it at most once per admitted run; the gate
// itself does not deduplicate.
func (g *StoreGate) AccountForCompletion(ctx context.Context, userID uuid.UUID) error {
	user, err := g.freshUser(ctx, userID)
	if err != nil {
		return err
	}

	if user.IsPro {
		return nil
	}

	deducted, err := g.store.DeductPrepaidToken(ctx, userID)
	if err != nil {
		return fmt.Errorf("deduct prepaid token: %w", err)
	}
	if deducted {
		return nil
	}

	if _, err := g.store.IncrementDailyUsage(ctx, userID); err != nil {
		return fmt.Errorf("increment daily usage: %w", err)
	}
	return nil
}

// TokenStatus returns the user's quota counters after applying any pending
// daily reset.
func (g *StoreGate) TokenStatus(ctx context.Context, userID uuid.UUID) (*models.User, error) {
	return g.freshUser(ctx, userID)
}

// TimeUntilReset reports how long until the next daily counter reset.
func (g *StoreGate) TimeUntilReset() time.Duration {
	now := g.now()
	return g.dayBoundary(now).Add(24 * time.Hour).Sub(now)
}

// freshUser loads the user, lazily zeroing the daily counter if the last reset
// happened before today's local midnight.
func (g *StoreGate) freshUser(ctx context.Context, userID uuid.UUID) (*models.User, error) {
	boundary := g.dayBoundary(g.now())
	if err := g.store.ResetDailyTokensIfStale(ctx, userID, boundary); err != nil {
		return nil, err
	}

	user, err := g.store.GetUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	return user, nil
}

func (g *StoreGate) dayBoundary(t time.Time) time.Time {
	local := t.Local()
	return time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, local.Location())
}

var _ Gate = (*StoreGate)(nil)
