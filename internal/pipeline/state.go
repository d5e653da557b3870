package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// State is the orchestrator state of one run.
type State string

const (
	StateIdle       State = "idle"
	StateCapturing  State = "capturing"
	StateUploading  State = "uploading"
	StateDelivering State = "delivering"
	StateAnalyzing  State = "analyzing"
	StateSaving     State = "saving"
	StateSuccess    State = "success"
	StateError      State = "error"
)

// Terminal reports whether no transition leaves s.
func (s State) Terminal() bool { return s == StateSuccess || s == StateError }

var transitions = map[State][]State{
	StateIdle: {StateCapturing, StateUploading},
	// Capturing only ends via Uploading; a failed capture is reported through Error.
	StateCapturing: {StateUploading},
	StateUploading: {StateDelivering},
	// Delivering goes straight to Saving when an earlier run already saved the report.
	StateDelivering: {StateAnalyzing, StateSaving},
	StateAnalyzing:  {StateSaving},
	StateSaving:     {StateSuccess},
}

// CanTransition reports whether a run may move from s to next. Error is reachable from every non-terminal state.
func (s State) CanTransition(next State) bool {
	if s.Terminal() {
		return false
	}
	if next == StateError {
		return true
	}
	for _, t := range transitions[s] {
		if t == next {
			return true
		}
	}
	return false
}

// Error kinds. Every failed run returns a *StageError wrapping exactly one of these.
var (
	ErrCapture     = errors.New("capture error")
	ErrTransport   = errors.New("transport error")
	ErrDelivery    = errors.New("delivery error")
	ErrAnalysis    = errors.New("analysis error")
	ErrPersistence = errors.New("persistence error")
	// ErrAlreadyFinalized is returned when analysis is requested for a recording that already has its report.
	ErrAlreadyFinalized = errors.New("recording already has a finalized report")
)

// StageError is the terminal error of a run: the state it failed in and why.
type StageError struct {
	Stage State
	Err   error
}

func (e *StageError) Error() string { return fmt.Sprintf("%s failed: %v", e.Stage, e.Err) }
func (e *StageError) Unwrap() error { return e.Err }

func stageErr(stage State, kind, err error) *StageError {
	return &StageError{Stage: stage, Err: fmt.Errorf("%w: %w", kind, err)}
}

// FailedStage returns the stage a run failed in, if err came from the orchestrator.
func FailedStage(err error) (State, bool) {
	var se *StageError
	if errors.As(err, &se) {
		return se.Stage, true
	}
	return "", false
}

// Event is one state change of a run.
type Event struct {
	RunID       uuid.UUID  `json:"run_id"`
	RecordingID *uuid.UUID `json:"recording_id,omitempty"`
	ReportID    *uuid.UUID `json:"report_id,omitempty"`
	State       State      `json:"state"`
	// Stage and Error are set when State is error.
	Stage State     `json:"stage,omitempty"`
	Error string    `json:"error,omitempty"`
	At    time.Time `json:"at"`
}

// Observer receives run events in order. It must not block for long; the run waits for it.
type Observer interface {
	Observe(ctx context.Context, ev Event)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(ctx context.Context, ev Event)

// Observe implements Observer.
func (f ObserverFunc) Observe(ctx context.Context, ev Event) { f(ctx, ev) }

type runIDKey struct{}

// WithRunID makes the orchestrator use id for the run started with ctx.
func WithRunID(ctx context.Context, id uuid.UUID) context.Context {
	return context.WithValue(ctx, runIDKey{}, id)
}

// RunIDFromContext returns the run id set by WithRunID.
func RunIDFromContext(ctx context.Context) (uuid.UUID, bool) {
	id, ok := ctx.Value(runIDKey{}).(uuid.UUID)
	return id, ok
}
