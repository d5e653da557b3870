// Package delivery hands recorded media to the model endpoint, either as a staged file reference
// or inline in the inference request.
package delivery

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Kind says how a payload reaches the model.
type Kind string

const (
	KindReference Kind = "reference"
	KindInline    Kind = "inline"
)

var (
	// ErrDelivery marks a terminal delivery failure: every configured strategy was abandoned.
	ErrDelivery = errors.New("delivery failed")
	// ErrUpload is returned when the file-staging upload call fails.
	ErrUpload = errors.New("file upload failed")
	// ErrNotReady is returned when a staged file is still processing when the poll cap is reached.
	ErrNotReady = errors.New("file not active within poll cap")
	// ErrFileFailed is returned when a staged file reaches a terminal state other than active.
	ErrFileFailed = errors.New("file processing failed")
	// ErrTooLarge is returned when media exceeds the inline size bound.
	ErrTooLarge = errors.New("media too large for inline delivery")
)

// Payload is delivered media ready to be attached to an inference request.
type Payload struct {
	Kind     Kind
	MIMEType string
	// URI and Name are set for reference payloads.
	URI  string
	Name string
	// Data is set for inline payloads.
	Data []byte
}

// Strategy is one way of delivering media.
type Strategy interface {
	Name() Kind
	Deliver(ctx context.Context, data []byte, mimeType string) (*Payload, error)
}

// Mode selects which strategies a Transport uses.
type Mode string

const (
	// ModeFallback tries the reference strategy and falls back to inline once.
	ModeFallback Mode = "fallback"
	// ModeReference uses only the reference strategy.
	ModeReference Mode = "reference"
	// ModeInline uses only the inline strategy.
	ModeInline Mode = "inline"
)

// ParseMode parses a configured mode; empty means fallback.
func ParseMode(s string) (Mode, error) {
	switch m := Mode(strings.ToLower(strings.TrimSpace(s))); m {
	case "":
		return ModeFallback, nil
	case ModeFallback, ModeReference, ModeInline:
		return m, nil
	}
	return "", fmt.Errorf("unknown delivery mode %q", s)
}

// StrategyError records which strategy was abandoned and why.
type StrategyError struct {
	Strategy Kind
	Err      error
}

func (e *StrategyError) Error() string { return fmt.Sprintf("%s strategy: %v", e.Strategy, e.Err) }
func (e *StrategyError) Unwrap() error { return e.Err }
