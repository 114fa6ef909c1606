package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	mw "github.com/Ariatd/medaix-backend/internal/api/middleware"
	"github.com/Ariatd/medaix-backend/internal/quota"
	"github.com/Ariatd/medaix-backend/internal/store"
	"github.com/Ariatd/medaix-backend/pkg/models"
)

// ─── mocks ───────────────────────────────────────────────────────────────────

type fakeStore struct {
	store.Store

	users     map[uuid.UUID]*models.User
	images    map[uuid.UUID]*models.Image
	results   map[uuid.UUID]*models.AnalysisResult
	deleted   []uuid.UUID
	granted   int
	proChange *bool
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		users:   make(map[uuid.UUID]*models.User),
		images:  make(map[uuid.UUID]*models.Image),
		results: make(map[uuid.UUID]*models.AnalysisResult),
	}
}

func (s *fakeStore) UpsertUser(_ context.Context, u *models.User) (*models.User, error) {
	if existing, ok := s.users[u.ID]; ok {
		return existing, nil
	}
	s.users[u.ID] = u
	return u, nil
}

func (s *fakeStore) CreateImage(_ context.Context, img *models.Image) error {
	s.images[img.ID] = img
	return nil
}

func (s *fakeStore) GetImage(_ context.Context, id uuid.UUID) (*models.Image, error) {
	if img, ok := s.images[id]; ok {
		return img, nil
	}
	return nil, store.ErrNotFound
}

func (s *fakeStore) ListImages(_ context.Context, f store.ImageFilter) ([]*models.Image, int, error) {
	var out []*models.Image
	for _, img := range s.images {
		if img.UserID == f.UserID {
			out = append(out, img)
		}
	}
	return out, len(out), nil
}

func (s *fakeStore) DeleteImage(_ context.Context, id uuid.UUID) error {
	delete(s.images, id)
	s.deleted = append(s.deleted, id)
	return nil
}

func (s *fakeStore) GetResultByID(_ context.Context, id uuid.UUID) (*models.AnalysisResult, error) {
	if r, ok := s.results[id]; ok {
		return r, nil
	}
	return nil, store.ErrNotFound
}

func (s *fakeStore) GetResultByImageID(_ context.Context, imageID uuid.UUID) (*models.AnalysisResult, error) {
	for _, r := range s.results {
		if r.ImageID == imageID {
			return r, nil
		}
	}
	return nil, store.ErrNotFound
}

func (s *fakeStore) ListResults(_ context.Context, f store.ResultFilter) ([]*models.AnalysisResult, int, error) {
	var out []*models.AnalysisResult
	for _, r := range s.results {
		if r.UserID == f.UserID {
			out = append(out, r)
		}
	}
	return out, len(out), nil
}

func (s *fakeStore) GrantTokens(_ context.Context, _ uuid.UUID, amount int) (int, error) {
	s.granted += amount
	return s.granted, nil
}

func (s *fakeStore) SetPro(_ context.Context, _ uuid.UUID, pro bool) error {
	s.proChange = &pro
	return nil
}

type fakeFiles struct {
	saved   map[string][]byte
	removed []string
}

func newFakeFiles() *fakeFiles { return &fakeFiles{saved: make(map[string][]byte)} }

func (f *fakeFiles) Save(fileName string, content []byte) (string, error) {
	f.saved[fileName] = content
	return "/uploads/" + fileName, nil
}
func (f *fakeFiles) Read(_ string) ([]byte, error) { return nil, nil }
func (f *fakeFiles) Remove(path string) error {
	f.removed = append(f.removed, path)
	return nil
}

type fakeScheduler struct {
	scheduled []*models.Image
}

func (f *fakeScheduler) Schedule(img *models.Image, _ []byte) {
	f.scheduled = append(f.scheduled, img)
}

type fakeGate struct {
	decision quota.Decision
	user     *models.User
}

func (g *fakeGate) CanAdmit(_ context.Context, _ uuid.UUID) (quota.Decision, error) {
	return g.decision, nil
}
func (g *fakeGate) AccountForCompletion(_ context.Context, _ uuid.UUID) error { return nil }
func (g *fakeGate) TokenStatus(_ context.Context, _ uuid.UUID) (*models.User, error) {
	return g.user, nil
}

// ─── helpers ─────────────────────────────────────────────────────────────────

func authed(r *http.Request, userID uuid.UUID) *http.Request {
	return r.WithContext(mw.SetUserID(r.Context(), userID))
}

func withURLParam(r *http.Request, key, value string) *http.Request {
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add(key, value)
	return r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, rctx))
}

func multipartUpload(t *testing.T, fieldName, fileName, mimeType string, content []byte) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", `form-data; name="`+fieldName+`"; filename="`+fileName+`"`)
	header.Set("Content-Type", mimeType)
	part, err := w.CreatePart(header)
	require.NoError(t, err)
	_, err = part.Write(content)
	require.NoError(t, err)
	require.NoError(t, w.Close())

	return &buf, w.FormDataContentType()
}

func decodeData(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	data, ok := body["data"].(map[string]any)
	require.True(t, ok, "expected data envelope, got %s", w.Body.String())
	return data
}

// ─── upload ──────────────────────────────────────────────────────────────────

func TestUpload_CreatesPendingImageAndSchedules(t *testing.T) {
	st := newFakeStore()
	files := newFakeFiles()
	sched := &fakeScheduler{}
	h := NewUploadHandler(st, files, sched, 50*1024*1024)

	body, contentType := multipartUpload(t, "image", "chest.dcm", "application/dicom", []byte("dicom-bytes"))
	req := httptest.NewRequest("POST", "/api/v1/upload/image", body)
	req.Header.Set("Content-Type", contentType)
	w := httptest.NewRecorder()

	userID := uuid.New()
	h(w, authed(req, userID))

	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	data := decodeData(t, w)
	assert.Equal(t, "pending", data["analysis_status"])
	assert.Equal(t, "dicom", data["image_type"])

	require.Len(t, sched.scheduled, 1)
	img := sched.scheduled[0]
	assert.Equal(t, userID, img.UserID)
	assert.Equal(t, models.ImageStatusPending, img.AnalysisStatus)
	assert.Len(t, files.saved, 1)

	// First-time uploader gets the initial token grant.
	user := st.users[userID]
	require.NotNil(t, user)
	assert.Equal(t, models.InitialTokenGrant, user.TokensTotal)
}

func TestUpload_RejectsDisallowedMimeType(t *testing.T) {
	h := NewUploadHandler(newFakeStore(), newFakeFiles(), &fakeScheduler{}, 50*1024*1024)

	body, contentType := multipartUpload(t, "image", "notes.txt", "text/plain", []byte("hello"))
	req := httptest.NewRequest("POST", "/api/v1/upload/image", body)
	req.Header.Set("Content-Type", contentType)
	w := httptest.NewRecorder()

	h(w, authed(req, uuid.New()))

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "INVALID_FILE_TYPE")
}

func TestUpload_RejectsMissingFile(t *testing.T) {
	h := NewUploadHandler(newFakeStore(), newFakeFiles(), &fakeScheduler{}, 50*1024*1024)

	body, contentType := multipartUpload(t, "wrong_field", "x.png", "image/png", []byte("x"))
	req := httptest.NewRequest("POST", "/api/v1/upload/image", body)
	req.Header.Set("Content-Type", contentType)
	w := httptest.NewRecorder()

	h(w, authed(req, uuid.New()))

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestUpload_RequiresAuth(t *testing.T) {
	h := NewUploadHandler(newFakeStore(), newFakeFiles(), &fakeScheduler{}, 50*1024*1024)

	req := httptest.NewRequest("POST", "/api/v1/upload/image", nil)
	w := httptest.NewRecorder()
	h(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

// ─── images ──────────────────────────────────────────────────────────────────

func TestGetImage_OwnershipEnforced(t *testing.T) {
	st := newFakeStore()
	owner := uuid.New()
	img := &models.Image{ID: uuid.New(), UserID: owner, AnalysisStatus: models.ImageStatusPending}
	st.images[img.ID] = img

	h := NewGetImageHandler(st)

	// Owner sees the image.
	req := httptest.NewRequest("GET", "/api/v1/upload/image/"+img.ID.String(), nil)
	req = withURLParam(authed(req, owner), "imageID", img.ID.String())
	w := httptest.NewRecorder()
	h(w, req)
	assert.Equal(t, http.StatusOK, w.Code)

	// A different user gets 404, not 403.
	req = httptest.NewRequest("GET", "/api/v1/upload/image/"+img.ID.String(), nil)
	req = withURLParam(authed(req, uuid.New()), "imageID", img.ID.String())
	w = httptest.NewRecorder()
	h(w, req)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestDeleteImage_RemovesFileAndRecord(t *testing.T) {
	st := newFakeStore()
	files := newFakeFiles()
	owner := uuid.New()
	img := &models.Image{ID: uuid.New(), UserID: owner, FilePath: "/uploads/x.png"}
	st.images[img.ID] = img

	h := NewDeleteImageHandler(st, files)

	req := httptest.NewRequest("DELETE", "/api/v1/upload/image/"+img.ID.String(), nil)
	req = withURLParam(authed(req, owner), "imageID", img.ID.String())
	w := httptest.NewRecorder()
	h(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []string{"/uploads/x.png"}, files.removed)
	assert.Equal(t, []uuid.UUID{img.ID}, st.deleted)
}

// ─── analyses ────────────────────────────────────────────────────────────────

func TestGetAnalysis_FallsBackToImageID(t *testing.T) {
	st := newFakeStore()
	owner := uuid.New()
	result := &models.AnalysisResult{
		ID:              uuid.New(),
		ImageID:         uuid.New(),
		UserID:          owner,
		Status:          models.ResultStatusCompleted,
		ConfidenceScore: 91.5,
	}
	st.results[result.ID] = result

	h := NewGetAnalysisHandler(st)

	for _, id := range []uuid.UUID{result.ID, result.ImageID} {
		req := httptest.NewRequest("GET", "/api/v1/analyses/"+id.String(), nil)
		req = withURLParam(authed(req, owner), "id", id.String())
		w := httptest.NewRecorder()
		h(w, req)

		require.Equal(t, http.StatusOK, w.Code)
		data := decodeData(t, w)
		assert.Equal(t, result.ID.String(), data["id"])
		// Level is recomputed from the stored score.
		assert.Equal(t, models.ConfidenceVeryHigh, data["confidence_level"])
	}
}

func TestGetAnalysis_NotFound(t *testing.T) {
	h := NewGetAnalysisHandler(newFakeStore())

	id := uuid.New()
	req := httptest.NewRequest("GET", "/api/v1/analyses/"+id.String(), nil)
	req = withURLParam(authed(req, uuid.New()), "id", id.String())
	w := httptest.NewRecorder()
	h(w, req)

	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestGetAnalysis_ForeignResultReadsAsNotFound(t *testing.T) {
	st := newFakeStore()
	result := &models.AnalysisResult{ID: uuid.New(), ImageID: uuid.New(), UserID: uuid.New()}
	st.results[result.ID] = result

	h := NewGetAnalysisHandler(st)

	req := httptest.NewRequest("GET", "/api/v1/analyses/"+result.ID.String(), nil)
	req = withURLParam(authed(req, uuid.New()), "id", result.ID.String())
	w := httptest.NewRecorder()
	h(w, req)

	assert.Equal(t, http.StatusNotFound, w.Code)
}

// ─── user ────────────────────────────────────────────────────────────────────

func TestCanAnalyze_PassesGateDecisionThrough(t *testing.T) {
	gate := &fakeGate{decision: quota.Decision{
		Allowed: false,
		Reason:  "Daily free analyses limit reached. Upgrade to Pro or wait until tomorrow.",
	}}
	h := NewCanAnalyzeHandler(gate)

	req := httptest.NewRequest("GET", "/api/v1/user/can-analyze", nil)
	w := httptest.NewRecorder()
	h(w, authed(req, uuid.New()))

	require.Equal(t, http.StatusOK, w.Code)
	data := decodeData(t, w)
	assert.Equal(t, false, data["allowed"])
	assert.Contains(t, data["reason"], "Daily free analyses limit reached")
}

func TestUserTokens(t *testing.T) {
	gate := &fakeGate{user: &models.User{
		TokensTotal:        12,
		TokensUsedToday:    1,
		IsPro:              false,
		TokenLastResetDate: time.Now(),
	}}
	h := NewUserTokensHandler(gate)

	req := httptest.NewRequest("GET", "/api/v1/user/tokens", nil)
	w := httptest.NewRecorder()
	h(w, authed(req, uuid.New()))

	require.Equal(t, http.StatusOK, w.Code)
	data := decodeData(t, w)
	assert.Equal(t, float64(12), data["tokens_total"])
	assert.Equal(t, float64(1), data["tokens_used_today"])
	assert.Equal(t, false, data["is_pro"])
}

func TestGrantTokens_ValidatesAmount(t *testing.T) {
	h := NewGrantTokensHandler(newFakeStore())

	req := httptest.NewRequest("POST", "/api/v1/user/grant-tokens", bytes.NewBufferString(`{"amount":0}`))
	w := httptest.NewRecorder()
	h(w, authed(req, uuid.New()))

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestGrantTokens(t *testing.T) {
	st := newFakeStore()
	h := NewGrantTokensHandler(st)

	req := httptest.NewRequest("POST", "/api/v1/user/grant-tokens", bytes.NewBufferString(`{"amount":10}`))
	w := httptest.NewRecorder()
	h(w, authed(req, uuid.New()))

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 10, st.granted)
	data := decodeData(t, w)
	assert.Equal(t, float64(10), data["tokens_total"])
}

func TestSetPro_UpgradeAndDowngrade(t *testing.T) {
	st := newFakeStore()

	req := httptest.NewRequest("POST", "/api/v1/user/upgrade-pro", nil)
	w := httptest.NewRecorder()
	NewSetProHandler(st, true)(w, authed(req, uuid.New()))
	require.Equal(t, http.StatusOK, w.Code)
	require.NotNil(t, st.proChange)
	assert.True(t, *st.proChange)

	req = httptest.NewRequest("POST", "/api/v1/user/downgrade-pro", nil)
	w = httptest.NewRecorder()
	NewSetProHandler(st, false)(w, authed(req, uuid.New()))
	require.Equal(t, http.StatusOK, w.Code)
	assert.False(t, *st.proChange)
}

// ─── keys ────────────────────────────────────────────────────────────────────

func TestCreateKey_ReturnsRawKeyOnce(t *testing.T) {
	st := newFakeStore()
	h := NewCreateKeyHandler(&keyStore{fakeStore: st})

	req := httptest.NewRequest("POST", "/api/v1/admin/keys", bytes.NewBufferString(`{"name":"ci","scopes":["read"]}`))
	w := httptest.NewRecorder()
	h(w, authed(req, uuid.New()))

	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	data := decodeData(t, w)
	key, _ := data["key"].(string)
	assert.True(t, len(key) > keyPrefixLen)
	assert.Contains(t, key, "mxk_")
}

type keyStore struct {
	*fakeStore
	created []*models.APIKey
}

func (s *keyStore) CreateAPIKey(_ context.Context, key *models.APIKey) error {
	s.created = append(s.created, key)
	return nil
}
