package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/Ariatd/medaix-backend/pkg/models"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore implements the Store interface using pgx/v5.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgresStore.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Ping checks database connectivity.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// --- Users ---

const userColumns = `id, email, name, role, is_pro, tokens_total, tokens_used_today, token_last_reset_date, created_at, updated_at`

func scanUser(row pgx.Row) (*models.User, error) {
	var u models.User
	err := row.Scan(&u.ID, &u.Email, &u.Name, &u.Role, &u.IsPro, &u.TokensTotal,
		&u.TokensUsedToday, &u.TokenLastResetDate, &u.CreatedAt, &u.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

func (s *PostgresStore) GetUser(ctx context.Context, id uuid.UUID) (*models.User, error) {
	u, err := scanUser(s.pool.QueryRow(ctx,
		`SELECT `+userColumns+` FROM users WHERE id = $1`, id))
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("get user: %w", err)
	}
	return u, err
}

func (s *PostgresStore) UpsertUser(ctx context.Context, user *models.User) (*models.User, error) {
	u, err := scanUser(s.pool.QueryRow(ctx,
		`INSERT INTO users (id, email, name, role, is_pro, tokens_total, tokens_used_today, token_last_reset_date, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		 ON CONFLICT (id) DO UPDATE SET updated_at = NOW()
		 RETURNING `+userColumns,
		user.ID, user.Email, user.Name, user.Role, user.IsPro, user.TokensTotal,
		user.TokensUsedToday, user.TokenLastResetDate, user.CreatedAt, user.UpdatedAt))
	if err != nil {
		return nil, fmt.Errorf("upsert user: %w", err)
	}
	return u, nil
}

// ResetDailyTokensIfStale zeroes the daily counter if the last reset happened
// before the given day boundary. The WHERE clause makes concurrent resets a
// no-op rather than a lost update.
func (s *PostgresStore) ResetDailyTokensIfStale(ctx context.Context, id uuid.UUID, boundary time.Time) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE users SET tokens_used_today = 0, token_last_reset_date = $2, updated_at = NOW()
		 WHERE id = $1 AND token_last_reset_date < $2`, id, boundary)
	if err != nil {
		return fmt.Errorf("reset daily tokens: %w", err)
	}
	return nil
}

// DeductPrepaidToken decrements the prepaid balance. Returns false when the
// balance was already zero; the conditional update keeps concurrent deductions
// from driving the balance negative.
func (s *PostgresStore) DeductPrepaidToken(ctx context.Context, id uuid.UUID) (bool, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE users SET tokens_total = tokens_total - 1, updated_at = NOW()
		 WHERE id = $1 AND tokens_total > 0`, id)
	if err != nil {
		return false, fmt.Errorf("deduct prepaid token: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (s *PostgresStore) IncrementDailyUsage(ctx context.Context, id uuid.UUID) (int, error) {
	var used int
	err := s.pool.QueryRow(ctx,
		`UPDATE users SET tokens_used_today = tokens_used_today + 1, updated_at = NOW()
		 WHERE id = $1 RETURNING tokens_used_today`, id).Scan(&used)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, ErrNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("increment daily usage: %w", err)
	}
	return used, nil
}

func (s *PostgresStore) GrantTokens(ctx context.Context, id uuid.UUID, amount int) (int, error) {
	var total int
	err := s.pool.QueryRow(ctx,
		`UPDATE users SET tokens_total = tokens_total + $2, updated_at = NOW()
		 WHERE id = $1 RETURNING tokens_total`, id, amount).Scan(&total)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, ErrNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("grant tokens: %w", err)
	}
	return total, nil
}

func (s *PostgresStore) SetPro(ctx context.Context, id uuid.UUID, pro bool) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE users SET is_pro = $2, updated_at = NOW() WHERE id = $1`, id, pro)
	if err != nil {
		return fmt.Errorf("set pro: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// --- API Keys ---

func (s *PostgresStore) GetAPIKeyByPrefix(ctx context.Context, prefix string) ([]*models.APIKey, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, user_id, name, key_hash, key_prefix, scopes, last_used_at, deleted_at, created_at, updated_at
		 FROM api_keys WHERE key_prefix = $1 AND deleted_at IS NULL`, prefix)
	if err != nil {
		return nil, fmt.Errorf("get api key by prefix: %w", err)
	}
	defer rows.Close()

	var keys []*models.APIKey
	for rows.Next() {
		var k models.APIKey
		if err := rows.Scan(&k.ID, &k.UserID, &k.Name, &k.KeyHash, &k.KeyPrefix, &k.Scopes,
			&k.LastUsedAt, &k.DeletedAt, &k.CreatedAt, &k.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan api key: %w", err)
		}
		keys = append(keys, &k)
	}
	return keys, rows.Err()
}

func (s *PostgresStore) UpdateAPIKeyLastUsed(ctx context.Context, id uuid.UUID) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE api_keys SET last_used_at = NOW(), updated_at = NOW() WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("update api key last used: %w", err)
	}
	return nil
}

func (s *PostgresStore) CreateAPIKey(ctx context.Context, key *models.APIKey) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO api_keys (id, user_id, name, key_hash, key_prefix, scopes, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		key.ID, key.UserID, key.Name, key.KeyHash, key.KeyPrefix, key.Scopes, key.CreatedAt, key.UpdatedAt)
	if err != nil {
		if isDuplicateKeyError(err) {
			return ErrDuplicateKey
		}
		return fmt.Errorf("create api key: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListAPIKeys(ctx context.Context, userID uuid.UUID) ([]*models.APIKey, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, user_id, name, key_hash, key_prefix, scopes, last_used_at, deleted_at, created_at, updated_at
		 FROM api_keys WHERE user_id = $1 AND deleted_at IS NULL ORDER BY created_at DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("list api keys: %w", err)
	}
	defer rows.Close()

	var keys []*models.APIKey
	for rows.Next() {
		var k models.APIKey
		if err := rows.Scan(&k.ID, &k.UserID, &k.Name, &k.KeyHash, &k.KeyPrefix, &k.Scopes,
			&k.LastUsedAt, &k.DeletedAt, &k.CreatedAt, &k.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan api key: %w", err)
		}
		keys = append(keys, &k)
	}
	return keys, rows.Err()
}

func (s *PostgresStore) RevokeAPIKey(ctx context.Context, id uuid.UUID, userID uuid.UUID) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE api_keys SET deleted_at = NOW(), updated_at = NOW()
		 WHERE id = $1 AND user_id = $2 AND deleted_at IS NULL`, id, userID)
	if err != nil {
		return fmt.Errorf("revoke api key: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// --- Images ---

const imageColumns = `id, user_id, project_id, file_name, original_file_name, file_path, file_size,
	 mime_type, width, height, image_type, analysis_status, tags, description,
	 processing_started_at, processing_completed_at, created_at, updated_at`

func scanImage(row pgx.Row) (*models.Image, error) {
	var img models.Image
	err := row.Scan(&img.ID, &img.UserID, &img.ProjectID, &img.FileName, &img.OriginalFileName,
		&img.FilePath, &img.FileSize, &img.MimeType, &img.Width, &img.Height, &img.ImageType,
		&img.AnalysisStatus, &img.Tags, &img.Description,
		&img.ProcessingStartedAt, &img.ProcessingCompletedAt, &img.CreatedAt, &img.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &img, nil
}

func (s *PostgresStore) CreateImage(ctx context.Context, image *models.Image) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO images (id, user_id, project_id, file_name, original_file_name, file_path, file_size,
		   mime_type, width, height, image_type, analysis_status, tags, description, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`,
		image.ID, image.UserID, image.ProjectID, image.FileName, image.OriginalFileName,
		image.FilePath, image.FileSize, image.MimeType, image.Width, image.Height,
		image.ImageType, image.AnalysisStatus, image.Tags, image.Description,
		image.CreatedAt, image.UpdatedAt)
	if err != nil {
		if isDuplicateKeyError(err) {
			return ErrDuplicateKey
		}
		return fmt.Errorf("create image: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetImage(ctx context.Context, id uuid.UUID) (*models.Image, error) {
	img, err := scanImage(s.pool.QueryRow(ctx,
		`SELECT `+imageColumns+` FROM images WHERE id = $1`, id))
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("get image: %w", err)
	}
	return img, err
}

func (s *PostgresStore) ListImages(ctx context.Context, filter ImageFilter) ([]*models.Image, int, error) {
	where := `user_id = $1`
	args := []any{filter.UserID}
	if filter.ProjectID != nil {
		where += ` AND project_id = $2`
		args = append(args, *filter.ProjectID)
	}

	var total int
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM images WHERE `+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count images: %w", err)
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}
	page := filter.Page
	if page <= 0 {
		page = 1
	}
	offset := (page - 1) * limit

	query := fmt.Sprintf(`SELECT `+imageColumns+` FROM images WHERE %s ORDER BY created_at DESC LIMIT $%d OFFSET $%d`,
		where, len(args)+1, len(args)+2)
	args = append(args, limit, offset)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list images: %w", err)
	}
	defer rows.Close()

	var images []*models.Image
	for rows.Next() {
		img, err := scanImage(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan image: %w", err)
		}
		images = append(images, img)
	}
	return images, total, rows.Err()
}

func (s *PostgresStore) DeleteImage(ctx context.Context, id uuid.UUID) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM images WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete image: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

var validImageTransitions = map[string][]string{
	models.ImageStatusPending:    {models.ImageStatusProcessing, models.ImageStatusFailed},
	models.ImageStatusProcessing: {models.ImageStatusCompleted, models.ImageStatusFailed},
}

// SetImageStatus advances the image lifecycle and stamps the processing
// started/completed timestamps for the corresponding transitions.
func (s *PostgresStore) SetImageStatus(ctx context.Context, id uuid.UUID, status string) error {
	var currentStatus string
	err := s.pool.QueryRow(ctx, `SELECT analysis_status FROM images WHERE id = $1`, id).Scan(&currentStatus)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("get image status: %w", err)
	}

	valid := false
	for _, allowed := range validImageTransitions[currentStatus] {
		if allowed == status {
			valid = true
			break
		}
	}
	if !valid {
		return fmt.Errorf("invalid image status transition: %s -> %s", currentStatus, status)
	}

	now := time.Now().UTC()
	query := `UPDATE images SET analysis_status = $2, updated_at = $3`
	args := []any{id, status, now}

	switch status {
	case models.ImageStatusProcessing:
		query += fmt.Sprintf(", processing_started_at = $%d", len(args)+1)
		args = append(args, now)
	case models.ImageStatusCompleted:
		query += fmt.Sprintf(", processing_completed_at = $%d", len(args)+1)
		args = append(args, now)
	}

	query += " WHERE id = $1"

	if _, err := s.pool.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("set image status: %w", err)
	}
	return nil
}

// ListAbandonedImages returns images still pending past the cutoff whose
// pipeline run was never admitted. Gating on processing_started_at IS NULL
// keeps the sweeper away from slow but in-flight runs.
func (s *PostgresStore) ListAbandonedImages(ctx context.Context, cutoff time.Time) ([]*models.Image, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+imageColumns+` FROM images
		 WHERE analysis_status = $1 AND processing_started_at IS NULL AND created_at < $2`,
		models.ImageStatusPending, cutoff)
	if err != nil {
		return nil, fmt.Errorf("list abandoned images: %w", err)
	}
	defer rows.Close()

	var images []*models.Image
	for rows.Next() {
		img, err := scanImage(rows)
		if err != nil {
			return nil, fmt.Errorf("scan image: %w", err)
		}
		images = append(images, img)
	}
	return images, rows.Err()
}

// --- Analysis Results ---

// resultDoc is the JSONB payload holding the structured sub-records of a result.
type resultDoc struct {
	Findings              []models.Finding               `json:"findings"`
	Recommendations       []string                       `json:"recommendations"`
	DifferentialDiagnosis []models.DifferentialDiagnosis `json:"differential_diagnosis"`
	SeverityAssessment    models.SeverityAssessment      `json:"severity_assessment"`
	RegionsOfInterest     []models.RegionOfInterest      `json:"regions_of_interest"`
	QualityMetrics        models.QualityMetrics          `json:"quality_metrics"`
	SecondaryVerification *models.SecondaryVerification  `json:"secondary_verification,omitempty"`
	Metadata              models.ResultMetadata          `json:"metadata"`
}

// UpsertResult writes an analysis result keyed by result ID. A second call with
// the same ID fully replaces the mutable fields of the prior record.
func (s *PostgresStore) UpsertResult(ctx context.Context, result *models.AnalysisResult) error {
	doc, err := json.Marshal(resultDoc{
		Findings:              result.Findings,
		Recommendations:       result.Recommendations,
		DifferentialDiagnosis: result.DifferentialDiagnosis,
		SeverityAssessment:    result.SeverityAssessment,
		RegionsOfInterest:     result.RegionsOfInterest,
		QualityMetrics:        result.QualityMetrics,
		SecondaryVerification: result.SecondaryVerification,
		Metadata:              result.Metadata,
	})
	if err != nil {
		return fmt.Errorf("marshal result doc: %w", err)
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO analysis_results (id, image_id, user_id, project_id, status, confidence_score,
		   processing_time_seconds, heatmap_url, doc, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		 ON CONFLICT (id) DO UPDATE SET
		   status = EXCLUDED.status,
		   confidence_score = EXCLUDED.confidence_score,
		   processing_time_seconds = EXCLUDED.processing_time_seconds,
		   heatmap_url = EXCLUDED.heatmap_url,
		   doc = EXCLUDED.doc,
		   updated_at = NOW()`,
		result.ID, result.ImageID, result.UserID, result.ProjectID, result.Status,
		result.ConfidenceScore, result.ProcessingSeconds, result.HeatmapURL, doc,
		result.CreatedAt, result.UpdatedAt)
	if err != nil {
		return fmt.Errorf("upsert analysis result: %w", err)
	}
	return nil
}

const resultColumns = `id, image_id, user_id, project_id, status, confidence_score,
	 processing_time_seconds, heatmap_url, doc, created_at, updated_at`

func scanResult(row pgx.Row) (*models.AnalysisResult, error) {
	var r models.AnalysisResult
	var doc []byte
	err := row.Scan(&r.ID, &r.ImageID, &r.UserID, &r.ProjectID, &r.Status, &r.ConfidenceScore,
		&r.ProcessingSeconds, &r.HeatmapURL, &doc, &r.CreatedAt, &r.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	var d resultDoc
	if err := json.Unmarshal(doc, &d); err != nil {
		return nil, fmt.Errorf("unmarshal result doc: %w", err)
	}
	r.Findings = d.Findings
	r.Recommendations = d.Recommendations
	r.DifferentialDiagnosis = d.DifferentialDiagnosis
	r.SeverityAssessment = d.SeverityAssessment
	r.RegionsOfInterest = d.RegionsOfInterest
	r.QualityMetrics = d.QualityMetrics
	r.SecondaryVerification = d.SecondaryVerification
	r.Metadata = d.Metadata
	return &r, nil
}

func (s *PostgresStore) GetResultByID(ctx context.Context, id uuid.UUID) (*models.AnalysisResult, error) {
	r, err := scanResult(s.pool.QueryRow(ctx,
		`SELECT `+resultColumns+` FROM analysis_results WHERE id = $1`, id))
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("get analysis result: %w", err)
	}
	return r, err
}

func (s *PostgresStore) GetResultByImageID(ctx context.Context, imageID uuid.UUID) (*models.AnalysisResult, error) {
	r, err := scanResult(s.pool.QueryRow(ctx,
		`SELECT `+resultColumns+` FROM analysis_results WHERE image_id = $1
		 ORDER BY updated_at DESC LIMIT 1`, imageID))
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("get analysis result by image: %w", err)
	}
	return r, err
}

func (s *PostgresStore) ListResults(ctx context.Context, filter ResultFilter) ([]*models.AnalysisResult, int, error) {
	where := `user_id = $1`
	args := []any{filter.UserID}
	if filter.Status != "" {
		where += ` AND status = $2`
		args = append(args, filter.Status)
	}

	var total int
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM analysis_results WHERE `+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count analysis results: %w", err)
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}
	page := filter.Page
	if page <= 0 {
		page = 1
	}
	offset := (page - 1) * limit

	query := fmt.Sprintf(`SELECT `+resultColumns+` FROM analysis_results WHERE %s ORDER BY created_at DESC LIMIT $%d OFFSET $%d`,
		where, len(args)+1, len(args)+2)
	args = append(args, limit, offset)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list analysis results: %w", err)
	}
	defer rows.Close()

	var results []*models.AnalysisResult
	for rows.Next() {
		r, err := scanResult(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan analysis result: %w", err)
		}
		results = append(results, r)
	}
	return results, total, rows.Err()
}

// isDuplicateKeyError checks if a pgx error is a unique constraint violation.
func isDuplicateKeyError(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505" // unique_violation
	}
	return false
}
