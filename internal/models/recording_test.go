package models

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordingStatusTransitions(t *testing.T) {
	tests := []struct {
		name string
		from RecordingStatus
		to   RecordingStatus
		ok   bool
	}{
		{"pending to started", RecordingStatusPendingCaptureUpload, RecordingStatusAnalysisStarted, true},
		{"started to finalized", RecordingStatusAnalysisStarted, RecordingStatusReportFinalized, true},
		{"skip", RecordingStatusPendingCaptureUpload, RecordingStatusReportFinalized, false},
		{"backward", RecordingStatusReportFinalized, RecordingStatusAnalysisStarted, false},
		{"same", RecordingStatusAnalysisStarted, RecordingStatusAnalysisStarted, false},
		{"from terminal", RecordingStatusReportFinalized, RecordingStatusReportFinalized, false},
		{"unknown", RecordingStatus("uploaded"), RecordingStatusAnalysisStarted, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.ok, tt.from.CanAdvanceTo(tt.to))
			err := ValidateTransition(tt.from, tt.to)
			if tt.ok {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrInvalidTransition))
		})
	}
}

func TestRecordingStatusNext(t *testing.T) {
	next, ok := RecordingStatusPendingCaptureUpload.Next()
	require.True(t, ok)
	assert.Equal(t, RecordingStatusAnalysisStarted, next)

	_, ok = RecordingStatusReportFinalized.Next()
	assert.False(t, ok)
	assert.False(t, RecordingStatus("bogus").Valid())
}

func TestParseSeverity(t *testing.T) {
	for in, want := range map[string]Severity{
		"critical": SeverityCritical,
		"MAJOR":    SeverityMajor,
		" Minor ":  SeverityMinor,
	} {
		got, ok := ParseSeverity(in)
		require.True(t, ok, in)
		assert.Equal(t, want, got)
	}
	_, ok := ParseSeverity("blocker")
	assert.False(t, ok)
}
