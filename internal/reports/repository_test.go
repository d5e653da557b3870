package reports

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/screenbug/backend/internal/models"
)

var reportCols = []string{"id", "recording_id", "title", "raw_markdown", "severity", "external_issue_refs", "created_at", "updated_at"}

func newMock(t *testing.T) pgxmock.PgxPoolIface {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	return mock
}

func strPtr(s string) *string { return &s }

func TestInsert(t *testing.T) {
	mock := newMock(t)
	repo := NewRepository(mock)
	id, recID := uuid.New(), uuid.New()
	now := time.Now()

	mock.ExpectQuery("INSERT INTO bug_reports").
		WithArgs(recID, "Checkout crash", "## Steps", pgxmock.AnyArg()).
		WillReturnRows(pgxmock.NewRows(reportCols).
			AddRow(id, recID, "Checkout crash", "## Steps", strPtr("Major"), json.RawMessage(`{}`), now, now))

	rep, err := repo.Insert(context.Background(), models.NewBugReport{
		RecordingID: recID, Title: "Checkout crash", RawMarkdown: "## Steps", Severity: models.SeverityMajor,
	})
	require.NoError(t, err)
	assert.Equal(t, id, rep.ID)
	require.NotNil(t, rep.Severity)
	assert.Equal(t, models.SeverityMajor, *rep.Severity)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertDuplicateRecording(t *testing.T) {
	mock := newMock(t)
	repo := NewRepository(mock)
	recID := uuid.New()

	mock.ExpectQuery("INSERT INTO bug_reports").
		WillReturnError(&pgconn.PgError{Code: "23505", ConstraintName: "bug_reports_recording_id_key"})

	_, err := repo.Insert(context.Background(), models.NewBugReport{RecordingID: recID, Title: "t", RawMarkdown: "m"})
	assert.ErrorIs(t, err, ErrDuplicateReport)
}

func TestGetByIDNotFound(t *testing.T) {
	mock := newMock(t)
	repo := NewRepository(mock)

	mock.ExpectQuery("FROM bug_reports WHERE id").WillReturnError(pgx.ErrNoRows)

	_, err := repo.GetByID(context.Background(), uuid.New())
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestListJoinsRecordingStatus(t *testing.T) {
	mock := newMock(t)
	repo := NewRepository(mock)
	now := time.Now()

	mock.ExpectQuery("FROM bug_reports b JOIN recordings r").WithArgs(50, 0).
		WillReturnRows(pgxmock.NewRows([]string{"id", "recording_id", "title", "severity", "status", "created_at"}).
			AddRow(uuid.New(), uuid.New(), "A", strPtr("critical"), "report_finalized", now).
			AddRow(uuid.New(), uuid.New(), "B", (*string)(nil), "report_finalized", now))

	list, err := repo.List(context.Background(), 50, 0)
	require.NoError(t, err)
	require.Len(t, list, 2)
	require.NotNil(t, list[0].Severity)
	assert.Equal(t, models.SeverityCritical, *list[0].Severity)
	assert.Nil(t, list[1].Severity)
	assert.Equal(t, models.RecordingStatusReportFinalized, list[1].RecordingStatus)
}

func TestUpdateAndExternalRef(t *testing.T) {
	mock := newMock(t)
	repo := NewRepository(mock)
	id, recID := uuid.New(), uuid.New()
	now := time.Now()
	title := "Renamed"
	sev := models.SeverityCritical

	mock.ExpectQuery("UPDATE bug_reports SET").
		WithArgs(&title, (*string)(nil), strPtr("Critical"), id).
		WillReturnRows(pgxmock.NewRows(reportCols).
			AddRow(id, recID, title, "md", strPtr("Critical"), json.RawMessage(`{}`), now, now))

	rep, err := repo.Update(context.Background(), id, models.BugReportUpdate{Title: &title, Severity: &sev})
	require.NoError(t, err)
	assert.Equal(t, "Renamed", rep.Title)

	mock.ExpectQuery("external_issue_refs = external_issue_refs").
		WithArgs("github", `{"number":12}`, id).
		WillReturnRows(pgxmock.NewRows(reportCols).
			AddRow(id, recID, title, "md", strPtr("Critical"), json.RawMessage(`{"github":{"number":12}}`), now, now))

	rep, err = repo.SetExternalRef(context.Background(), id, "github", json.RawMessage(`{"number":12}`))
	require.NoError(t, err)
	assert.JSONEq(t, `{"github":{"number":12}}`, string(rep.ExternalIssueRefs))
	assert.NoError(t, mock.ExpectationsWereMet())
}
