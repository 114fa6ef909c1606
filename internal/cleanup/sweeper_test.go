package cleanup

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ariatd/medaix-backend/internal/store"
	"github.com/Ariatd/medaix-backend/pkg/models"
)

type sweepStore struct {
	store.Store

	mu        sync.Mutex
	abandoned []*models.Image
	listErr   error
	deleteErr error
	deleted   []uuid.UUID
}

func (s *sweepStore) ListAbandonedImages(_ context.Context, _ time.Time) ([]*models.Image, error) {
	return s.abandoned, s.listErr
}

func (s *sweepStore) DeleteImage(_ context.Context, id uuid.UUID) error {
	if s.deleteErr != nil {
		return s.deleteErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deleted = append(s.deleted, id)
	return nil
}

type sweepFiles struct {
	mu        sync.Mutex
	removed   []string
	removeErr error
}

func (f *sweepFiles) Save(fileName string, _ []byte) (string, error) { return fileName, nil }
func (f *sweepFiles) Read(_ string) ([]byte, error)                  { return nil, nil }

func (f *sweepFiles) Remove(path string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.removed = append(f.removed, path)
	return f.removeErr
}

func pendingImage(age time.Duration) *models.Image {
	return &models.Image{
		ID:             uuid.New(),
		UserID:         uuid.New(),
		FilePath:       "/tmp/uploads/x.png",
		AnalysisStatus: models.ImageStatusPending,
		CreatedAt:      time.Now().UTC().Add(-age),
	}
}

func TestSweep_DeletesFileAndRecord(t *testing.T) {
	img := pendingImage(2 * time.Minute)
	st := &sweepStore{abandoned: []*models.Image{img}}
	files := &sweepFiles{}

	NewSweeper(st, files, time.Minute, time.Second).Sweep(context.Background())

	require.Len(t, st.deleted, 1)
	assert.Equal(t, img.ID, st.deleted[0])
	assert.Equal(t, []string{img.FilePath}, files.removed)
}

func TestSweep_FileRemovalFailureStillDeletesRecord(t *testing.T) {
	img := pendingImage(2 * time.Minute)
	st := &sweepStore{abandoned: []*models.Image{img}}
	files := &sweepFiles{removeErr: errors.New("disk gone")}

	NewSweeper(st, files, time.Minute, time.Second).Sweep(context.Background())

	assert.Len(t, st.deleted, 1)
}

func TestSweep_ListFailureIsLoggedNotFatal(t *testing.T) {
	st := &sweepStore{listErr: errors.New("db down")}
	files := &sweepFiles{}

	NewSweeper(st, files, time.Minute, time.Second).Sweep(context.Background())

	assert.Empty(t, st.deleted)
	assert.Empty(t, files.removed)
}

func TestRun_StopsOnContextCancel(t *testing.T) {
	st := &sweepStore{}
	sw := NewSweeper(st, &sweepFiles{}, time.Minute, 5*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		sw.Run(ctx)
		close(done)
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("sweeper did not stop after context cancellation")
	}
}
