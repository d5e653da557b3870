// Package gemini adapts the Gemini API to the delivery and analysis ports.
package gemini

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"google.golang.org/genai"

	"github.com/screenbug/backend/internal/delivery"
)

// DefaultModel is used when no model is configured.
const DefaultModel = "gemini-2.5-flash"

// ErrNoCandidates is returned when a response carries no usable candidate.
var ErrNoCandidates = errors.New("response has no candidates")

// Config holds Gemini client settings.
type Config struct {
	APIKey string
	Model  string
}

// Client implements delivery.FileStager and analysis.Generator on the Gemini API.
type Client struct {
	files  *genai.Files
	models *genai.Models
	model  string
	log    *zap.Logger
}

// New creates a Gemini API client.
func New(ctx context.Context, cfg Config, log *zap.Logger) (*Client, error) {
	if log == nil {
		log = zap.NewNop()
	}
	if cfg.APIKey == "" {
		return nil, errors.New("gemini api key is required")
	}
	gc, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}
	model := cfg.Model
	if model == "" {
		model = DefaultModel
	}
	log.Info("gemini client ready", zap.String("model", model))
	return &Client{files: gc.Files, models: gc.Models, model: model, log: log}, nil
}

// Model returns the configured model id.
func (c *Client) Model() string { return c.model }

// Upload stages media with the Files API.
func (c *Client) Upload(ctx context.Context, data []byte, mimeType string) (*delivery.StagedFile, error) {
	f, err := c.files.Upload(ctx, bytes.NewReader(data), &genai.UploadFileConfig{MIMEType: mimeType})
	if err != nil {
		return nil, err
	}
	return stagedFile(f), nil
}

// Get returns the current state of a staged file.
func (c *Client) Get(ctx context.Context, name string) (*delivery.StagedFile, error) {
	f, err := c.files.Get(ctx, name, nil)
	if err != nil {
		return nil, err
	}
	return stagedFile(f), nil
}

// Generate sends prompt and media in one GenerateContent call and returns the concatenated text.
func (c *Client) Generate(ctx context.Context, prompt string, media *delivery.Payload) (string, error) {
	part, err := mediaPart(media)
	if err != nil {
		return "", err
	}
	contents := []*genai.Content{
		genai.NewContentFromParts([]*genai.Part{genai.NewPartFromText(prompt), part}, genai.RoleUser),
	}
	resp, err := c.models.GenerateContent(ctx, c.model, contents, nil)
	if err != nil {
		return "", err
	}
	return responseText(resp)
}

func mediaPart(p *delivery.Payload) (*genai.Part, error) {
	switch p.Kind {
	case delivery.KindReference:
		return genai.NewPartFromURI(p.URI, p.MIMEType), nil
	case delivery.KindInline:
		return genai.NewPartFromBytes(p.Data, p.MIMEType), nil
	}
	return nil, fmt.Errorf("unsupported payload kind %q", p.Kind)
}

func stagedFile(f *genai.File) *delivery.StagedFile {
	return &delivery.StagedFile{
		Name:     f.Name,
		URI:      f.URI,
		MIMEType: f.MIMEType,
		State:    delivery.FileState(f.State),
	}
}

// responseText joins the non-thought text parts of the first candidate.
func responseText(resp *genai.GenerateContentResponse) (string, error) {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0] == nil || resp.Candidates[0].Content == nil {
		if resp != nil && resp.PromptFeedback != nil && resp.PromptFeedback.BlockReason != "" {
			return "", fmt.Errorf("%w: prompt blocked (%s)", ErrNoCandidates, resp.PromptFeedback.BlockReason)
		}
		return "", ErrNoCandidates
	}
	var b strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if part == nil || part.Thought {
			continue
		}
		b.WriteString(part.Text)
	}
	return b.String(), nil
}
