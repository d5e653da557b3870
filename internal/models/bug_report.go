package models

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Severity is the AI-assigned bug severity.
type Severity string

const (
	SeverityCritical Severity = "Critical"
	SeverityMajor    Severity = "Major"
	SeverityMinor    Severity = "Minor"
)

// ParseSeverity normalizes s (any case) to a known severity.
func ParseSeverity(s string) (Severity, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "critical":
		return SeverityCritical, true
	case "major":
		return SeverityMajor, true
	case "minor":
		return SeverityMinor, true
	}
	return "", false
}

// DefaultReportTitle is used when the recording has no title.
const DefaultReportTitle = "Untitled Bug Report"

// BugReport is the AI-derived analysis for one recording.
type BugReport struct {
	ID                uuid.UUID       `json:"id"`
	RecordingID       uuid.UUID       `json:"recording_id"`
	Title             string          `json:"title"`
	RawMarkdown       string          `json:"raw_markdown"`
	Severity          *Severity       `json:"severity,omitempty"`
	ExternalIssueRefs json.RawMessage `json:"external_issue_refs,omitempty"`
	CreatedAt         time.Time       `json:"created_at"`
	UpdatedAt         time.Time       `json:"updated_at"`
}

// NewBugReport holds the fields supplied when a bug report is inserted.
type NewBugReport struct {
	RecordingID uuid.UUID
	Title       string
	RawMarkdown string
	Severity    Severity
}

// BugReportUpdate is a partial edit of a bug report; nil fields are left unchanged.
type BugReportUpdate struct {
	Title       *string   `json:"title,omitempty"`
	RawMarkdown *string   `json:"raw_markdown,omitempty"`
	Severity    *Severity `json:"severity,omitempty"`
}

// BugReportSummary is a list row: report plus its recording's status.
type BugReportSummary struct {
	ID              uuid.UUID       `json:"id"`
	RecordingID     uuid.UUID       `json:"recording_id"`
	Title           string          `json:"title"`
	Severity        *Severity       `json:"severity,omitempty"`
	RecordingStatus RecordingStatus `json:"recording_status"`
	CreatedAt       time.Time       `json:"created_at"`
}
