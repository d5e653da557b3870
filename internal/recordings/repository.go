package recordings

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/screenbug/backend/internal/models"
	"github.com/screenbug/backend/pkg/database"
)

// ErrNotFound is returned when no recording has the requested id.
var ErrNotFound = errors.New("recording not found")

const recordingColumns = `id, title, storage_path, content_type, size_bytes, status, created_at, updated_at`

// Repository handles recording persistence.
type Repository struct {
	db database.DBTX
}

// NewRepository creates a recordings repository.
func NewRepository(db database.DBTX) *Repository {
	return &Repository{db: db}
}

// Create inserts a new recording at status pending_capture_upload.
func (r *Repository) Create(ctx context.Context, in models.NewRecording) (*models.Recording, error) {
	const q = `INSERT INTO recordings (title, storage_path, content_type, size_bytes, status)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING ` + recordingColumns
	var title *string
	if in.Title != "" {
		title = &in.Title
	}
	rec, err := scanRecording(r.db.QueryRow(ctx, q, title, in.StoragePath, in.ContentType, in.SizeBytes, string(models.RecordingStatusPendingCaptureUpload)))
	if err != nil {
		return nil, fmt.Errorf("insert recording: %w", err)
	}
	return rec, nil
}

// GetByID returns a recording by ID.
func (r *Repository) GetByID(ctx context.Context, id uuid.UUID) (*models.Recording, error) {
	const q = `SELECT ` + recordingColumns + ` FROM recordings WHERE id = $1`
	rec, err := scanRecording(r.db.QueryRow(ctx, q, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get recording: %w", err)
	}
	return rec, nil
}

// List returns recordings newest first.
func (r *Repository) List(ctx context.Context, limit, offset int) ([]models.Recording, error) {
	const q = `SELECT ` + recordingColumns + ` FROM recordings ORDER BY created_at DESC LIMIT $1 OFFSET $2`
	rows, err := r.db.Query(ctx, q, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list recordings: %w", err)
	}
	defer rows.Close()
	list := []models.Recording{}
	for rows.Next() {
		rec, err := scanRecording(rows)
		if err != nil {
			return nil, fmt.Errorf("scan recording: %w", err)
		}
		list = append(list, *rec)
	}
	return list, rows.Err()
}

// AdvanceStatus moves a recording to next, which must immediately follow its current status.
// The update is a single compare-and-set on the predecessor status, so concurrent callers
// cannot both advance from the same state.
func (r *Repository) AdvanceStatus(ctx context.Context, id uuid.UUID, next models.RecordingStatus) error {
	prev, ok := next.Previous()
	if !ok {
		return fmt.Errorf("%w: nothing precedes %q", models.ErrInvalidTransition, next)
	}
	const q = `UPDATE recordings SET status = $1, updated_at = NOW() WHERE id = $2 AND status = $3`
	tag, err := r.db.Exec(ctx, q, string(next), id, string(prev))
	if err != nil {
		return fmt.Errorf("advance status: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}
	cur, err := r.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if err := models.ValidateTransition(cur.Status, next); err != nil {
		return err
	}
	// cur is the predecessor again only if the row was rewritten between the two statements.
	return fmt.Errorf("%w: %s changed concurrently", models.ErrInvalidTransition, id)
}

func scanRecording(row pgx.Row) (*models.Recording, error) {
	var rec models.Recording
	var status string
	err := row.Scan(&rec.ID, &rec.Title, &rec.StoragePath, &rec.ContentType, &rec.SizeBytes, &status, &rec.CreatedAt, &rec.UpdatedAt)
	if err != nil {
		return nil, err
	}
	rec.Status = models.RecordingStatus(status)
	return &rec, nil
}
