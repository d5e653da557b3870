package analysis

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/screenbug/backend/internal/delivery"
)

type fakeGenerator struct {
	text   string
	err    error
	calls  int
	prompt string
	media  *delivery.Payload
}

func (f *fakeGenerator) Generate(_ context.Context, prompt string, media *delivery.Payload) (string, error) {
	f.calls++
	f.prompt = prompt
	f.media = media
	return f.text, f.err
}

func TestAnalyze(t *testing.T) {
	gen := &fakeGenerator{text: "## Steps\nSeverity: Major"}
	inv := NewInvoker(gen, nil)
	media := &delivery.Payload{Kind: delivery.KindInline, MIMEType: "video/webm", Data: []byte("v")}

	text, err := inv.Analyze(context.Background(), media)
	require.NoError(t, err)
	assert.Equal(t, "## Steps\nSeverity: Major", text)
	assert.Equal(t, 1, gen.calls)
	assert.Equal(t, Prompt, gen.prompt)
	assert.Same(t, media, gen.media)
}

func TestAnalyzeFailures(t *testing.T) {
	media := &delivery.Payload{Kind: delivery.KindReference, URI: "https://files/x", MIMEType: "video/webm"}
	tests := []struct {
		name string
		gen  *fakeGenerator
		want error
	}{
		{"empty text", &fakeGenerator{text: ""}, ErrEmptyResponse},
		{"whitespace only", &fakeGenerator{text: " \n\t"}, ErrEmptyResponse},
		{"endpoint error", &fakeGenerator{err: errors.New("503 unavailable")}, ErrModelCall},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewInvoker(tt.gen, nil).Analyze(context.Background(), media)
			assert.ErrorIs(t, err, tt.want)
			assert.Equal(t, 1, tt.gen.calls)
		})
	}
}

func TestAnalyzeWithoutMedia(t *testing.T) {
	gen := &fakeGenerator{text: "x"}
	_, err := NewInvoker(gen, nil).Analyze(context.Background(), nil)
	assert.ErrorIs(t, err, ErrModelCall)
	assert.Zero(t, gen.calls)
}

func TestPromptAsksForSeverity(t *testing.T) {
	assert.Contains(t, Prompt, `**Severity**: Classify as "Critical", "Major", or "Minor"`)
}
