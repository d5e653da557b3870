package reports

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/screenbug/backend/internal/models"
	"github.com/screenbug/backend/pkg/database"
)

var (
	// ErrNotFound is returned when no bug report has the requested id.
	ErrNotFound = errors.New("bug report not found")
	// ErrDuplicateReport is returned when the recording already owns a bug report.
	ErrDuplicateReport = errors.New("bug report already exists for recording")
)

const (
	reportColumns         = `id, recording_id, title, raw_markdown, severity, external_issue_refs, created_at, updated_at`
	recordingIDConstraint = "bug_reports_recording_id_key"
)

// Repository handles bug report persistence.
type Repository struct {
	db database.DBTX
}

// NewRepository creates a bug reports repository.
func NewRepository(db database.DBTX) *Repository {
	return &Repository{db: db}
}

// Insert stores a new bug report. A second report for the same recording fails with ErrDuplicateReport.
func (r *Repository) Insert(ctx context.Context, in models.NewBugReport) (*models.BugReport, error) {
	const q = `INSERT INTO bug_reports (recording_id, title, raw_markdown, severity)
		VALUES ($1, $2, $3, $4)
		RETURNING ` + reportColumns
	var severity *string
	if in.Severity != "" {
		s := string(in.Severity)
		severity = &s
	}
	rep, err := scanReport(r.db.QueryRow(ctx, q, in.RecordingID, in.Title, in.RawMarkdown, severity))
	if err != nil {
		if database.IsUniqueViolation(err, recordingIDConstraint) {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateReport, in.RecordingID)
		}
		return nil, fmt.Errorf("insert bug report: %w", err)
	}
	return rep, nil
}

// GetByID returns a bug report by ID.
func (r *Repository) GetByID(ctx context.Context, id uuid.UUID) (*models.BugReport, error) {
	const q = `SELECT ` + reportColumns + ` FROM bug_reports WHERE id = $1`
	rep, err := scanReport(r.db.QueryRow(ctx, q, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get bug report: %w", err)
	}
	return rep, nil
}

// GetByRecordingID returns the bug report owned by a recording.
func (r *Repository) GetByRecordingID(ctx context.Context, recordingID uuid.UUID) (*models.BugReport, error) {
	const q = `SELECT ` + reportColumns + ` FROM bug_reports WHERE recording_id = $1`
	rep, err := scanReport(r.db.QueryRow(ctx, q, recordingID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get bug report by recording: %w", err)
	}
	return rep, nil
}

// List returns report summaries newest first, each with its recording's status.
func (r *Repository) List(ctx context.Context, limit, offset int) ([]models.BugReportSummary, error) {
	const q = `SELECT b.id, b.recording_id, b.title, b.severity, r.status, b.created_at
		FROM bug_reports b JOIN recordings r ON r.id = b.recording_id
		ORDER BY b.created_at DESC LIMIT $1 OFFSET $2`
	rows, err := r.db.Query(ctx, q, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list bug reports: %w", err)
	}
	defer rows.Close()
	list := []models.BugReportSummary{}
	for rows.Next() {
		var s models.BugReportSummary
		var severity *string
		var status string
		if err := rows.Scan(&s.ID, &s.RecordingID, &s.Title, &severity, &status, &s.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan bug report: %w", err)
		}
		s.Severity = toSeverity(severity)
		s.RecordingStatus = models.RecordingStatus(status)
		list = append(list, s)
	}
	return list, rows.Err()
}

// Update applies a partial edit and bumps updated_at.
func (r *Repository) Update(ctx context.Context, id uuid.UUID, u models.BugReportUpdate) (*models.BugReport, error) {
	const q = `UPDATE bug_reports SET
			title = COALESCE($1, title),
			raw_markdown = COALESCE($2, raw_markdown),
			severity = COALESCE($3, severity),
			updated_at = NOW()
		WHERE id = $4
		RETURNING ` + reportColumns
	var severity *string
	if u.Severity != nil {
		s := string(*u.Severity)
		severity = &s
	}
	rep, err := scanReport(r.db.QueryRow(ctx, q, u.Title, u.RawMarkdown, severity, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("update bug report: %w", err)
	}
	return rep, nil
}

// SetExternalRef records an issue-tracker reference (e.g. "github" → {"number": 12}) on the report.
// Other keys already present are kept.
func (r *Repository) SetExternalRef(ctx context.Context, id uuid.UUID, tracker string, ref json.RawMessage) (*models.BugReport, error) {
	const q = `UPDATE bug_reports SET
			external_issue_refs = external_issue_refs || jsonb_build_object($1::text, $2::jsonb),
			updated_at = NOW()
		WHERE id = $3
		RETURNING ` + reportColumns
	rep, err := scanReport(r.db.QueryRow(ctx, q, tracker, string(ref), id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("set external ref: %w", err)
	}
	return rep, nil
}

func scanReport(row pgx.Row) (*models.BugReport, error) {
	var rep models.BugReport
	var severity *string
	err := row.Scan(&rep.ID, &rep.RecordingID, &rep.Title, &rep.RawMarkdown, &severity, &rep.ExternalIssueRefs, &rep.CreatedAt, &rep.UpdatedAt)
	if err != nil {
		return nil, err
	}
	rep.Severity = toSeverity(severity)
	return &rep, nil
}

func toSeverity(s *string) *models.Severity {
	if s == nil {
		return nil
	}
	sev, ok := models.ParseSeverity(*s)
	if !ok {
		return nil
	}
	return &sev
}
