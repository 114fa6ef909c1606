// Package cleanup removes abandoned uploads. An image still pending after the
// grace period never had an admitted analysis run (quota rejection or a crash
// before scoring), so its file and record are deleted.
package cleanup

import (
	"context"
	"log/slog"
	"time"

	"github.com/Ariatd/medaix-backend/internal/storage"
	"github.com/Ariatd/medaix-backend/internal/store"
)

// Sweeper periodically deletes images that stayed pending past the grace
// period. Deletion is gated on the pipeline never having started processing,
// so an admitted but slow run is left alone.
type Sweeper struct {
	store       store.Store
	files       storage.FileStore
	gracePeriod time.Duration
	interval    time.Duration
}

// NewSweeper creates a Sweeper.
func NewSweeper(st store.Store, files storage.FileStore, gracePeriod, interval time.Duration) *Sweeper {
	return &Sweeper{
		store:       st,
		files:       files,
		gracePeriod: gracePeriod,
		interval:    interval,
	}
}

// Run sweeps on the configured interval until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Sweep(ctx)
		}
	}
}

// Sweep performs one pass. Per-image failures are logged and do not stop the
// rest of the pass.
func (s *Sweeper) Sweep(ctx context.Context) {
	cutoff := time.Now().UTC().Add(-s.gracePeriod)

	images, err := s.store.ListAbandonedImages(ctx, cutoff)
	if err != nil {
		slog.Error("listing abandoned images failed", "error", err)
		return
	}

	for _, image := range images {
		if err := s.files.Remove(image.FilePath); err != nil {
			slog.Warn("removing abandoned image file failed", "image_id", image.ID, "path", image.FilePath, "error", err)
		}
		if err := s.store.DeleteImage(ctx, image.ID); err != nil {
			slog.Error("deleting abandoned image record failed", "image_id", image.ID, "error", err)
			continue
		}
		slog.Info("deleted abandoned image", "image_id", image.ID, "uploaded_at", image.CreatedAt)
	}
}
