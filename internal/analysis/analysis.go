// Package analysis issues the single inference call that turns delivered media into a bug report draft.
package analysis

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/screenbug/backend/internal/delivery"
)

// Prompt is the fixed instruction sent with every recording.
const Prompt = `Analyze this screen recording video and generate a structured bug report in markdown format.

Please extract:
1. **Steps to Reproduce**: An ordered list of the key user interactions shown in the video that lead to the issue.
2. **Actual Result**: Use a minimal bulleted list to describe what actually happened (error messages, visual glitches, unexpected behavior).
3. **Expected Result**: Use a minimal bulleted list to describe what should have happened.
4. **Visual Symptoms**: Any error dialogs, UI glitches, crashes, or other visual indicators of the problem.
5. **Severity**: Classify as "Critical", "Major", or "Minor" with a brief justification.

Format your response as markdown with clear sections. Keep the Actual and Expected results extremely concise.`

var (
	// ErrModelCall wraps a failed or malformed model response.
	ErrModelCall = errors.New("model call failed")
	// ErrEmptyResponse is returned when the model produced no text.
	ErrEmptyResponse = errors.New("model returned empty text")
)

// Generator runs one generation request against the model endpoint.
type Generator interface {
	Generate(ctx context.Context, prompt string, media *delivery.Payload) (string, error)
}

// Invoker performs exactly one generation call per Analyze. It never retries.
type Invoker struct {
	gen Generator
	log *zap.Logger
}

// NewInvoker creates an invoker over gen.
func NewInvoker(gen Generator, log *zap.Logger) *Invoker {
	if log == nil {
		log = zap.NewNop()
	}
	return &Invoker{gen: gen, log: log}
}

// Analyze returns the model's generated text for media.
func (i *Invoker) Analyze(ctx context.Context, media *delivery.Payload) (string, error) {
	if media == nil {
		return "", fmt.Errorf("%w: no media", ErrModelCall)
	}
	text, err := i.gen.Generate(ctx, Prompt, media)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrModelCall, err)
	}
	if strings.TrimSpace(text) == "" {
		return "", ErrEmptyResponse
	}
	i.log.Info("analysis complete", zap.String("delivery", string(media.Kind)), zap.Int("chars", len(text)))
	return text, nil
}
