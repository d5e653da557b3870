package models

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ErrInvalidTransition is returned when a status change skips or reverses the recording lifecycle.
var ErrInvalidTransition = errors.New("invalid status transition")

// RecordingStatus represents the recording lifecycle. It only moves forward.
type RecordingStatus string

const (
	RecordingStatusPendingCaptureUpload RecordingStatus = "pending_capture_upload"
	RecordingStatusAnalysisStarted      RecordingStatus = "analysis_started"
	RecordingStatusReportFinalized      RecordingStatus = "report_finalized"
)

var statusOrder = []RecordingStatus{
	RecordingStatusPendingCaptureUpload,
	RecordingStatusAnalysisStarted,
	RecordingStatusReportFinalized,
}

func (s RecordingStatus) index() int {
	for i, st := range statusOrder {
		if st == s {
			return i
		}
	}
	return -1
}

// Valid reports whether s is one of the known statuses.
func (s RecordingStatus) Valid() bool { return s.index() >= 0 }

// Next returns the status immediately following s, if any.
func (s RecordingStatus) Next() (RecordingStatus, bool) {
	i := s.index()
	if i < 0 || i == len(statusOrder)-1 {
		return "", false
	}
	return statusOrder[i+1], true
}

// Previous returns the status that must immediately precede s, if any.
func (s RecordingStatus) Previous() (RecordingStatus, bool) {
	i := s.index()
	if i <= 0 {
		return "", false
	}
	return statusOrder[i-1], true
}

// CanAdvanceTo reports whether next immediately follows s.
func (s RecordingStatus) CanAdvanceTo(next RecordingStatus) bool {
	n, ok := s.Next()
	return ok && n == next
}

// ValidateTransition returns ErrInvalidTransition (wrapped with both statuses) unless next immediately follows from.
func ValidateTransition(from, next RecordingStatus) error {
	if !from.CanAdvanceTo(next) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, next)
	}
	return nil
}

// Recording is one captured screen recording stored in the artifact store.
type Recording struct {
	ID          uuid.UUID       `json:"id"`
	Title       *string         `json:"title,omitempty"`
	StoragePath string          `json:"storage_path"`
	ContentType string          `json:"content_type"`
	SizeBytes   int64           `json:"size_bytes"`
	Status      RecordingStatus `json:"status"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// NewRecording holds the fields supplied when a recording row is created.
type NewRecording struct {
	Title       string
	StoragePath string
	ContentType string
	SizeBytes   int64
}
