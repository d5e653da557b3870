package gemini

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/genai"

	"github.com/screenbug/backend/internal/delivery"
)

func TestMediaPart(t *testing.T) {
	ref, err := mediaPart(&delivery.Payload{Kind: delivery.KindReference, URI: "https://files/abc", MIMEType: "video/webm"})
	require.NoError(t, err)
	require.NotNil(t, ref.FileData)
	assert.Equal(t, "https://files/abc", ref.FileData.FileURI)
	assert.Equal(t, "video/webm", ref.FileData.MIMEType)

	inline, err := mediaPart(&delivery.Payload{Kind: delivery.KindInline, Data: []byte("v"), MIMEType: "video/webm"})
	require.NoError(t, err)
	require.NotNil(t, inline.InlineData)
	assert.Equal(t, []byte("v"), inline.InlineData.Data)

	_, err = mediaPart(&delivery.Payload{Kind: "multipart"})
	assert.Error(t, err)
}

func TestStagedFileState(t *testing.T) {
	f := stagedFile(&genai.File{Name: "files/1", URI: "u", MIMEType: "video/webm", State: genai.FileStateActive})
	assert.Equal(t, delivery.FileStateActive, f.State)
	assert.Equal(t, delivery.FileStateProcessing, stagedFile(&genai.File{State: genai.FileStateProcessing}).State)
	assert.Equal(t, delivery.FileStateFailed, stagedFile(&genai.File{State: genai.FileStateFailed}).State)
}

func TestResponseText(t *testing.T) {
	resp := &genai.GenerateContentResponse{Candidates: []*genai.Candidate{{
		Content: &genai.Content{Parts: []*genai.Part{
			{Text: "thinking...", Thought: true},
			{Text: "## Steps\n"},
			{Text: "Severity: Minor"},
		}},
	}}}
	text, err := responseText(resp)
	require.NoError(t, err)
	assert.Equal(t, "## Steps\nSeverity: Minor", text)

	_, err = responseText(&genai.GenerateContentResponse{})
	assert.ErrorIs(t, err, ErrNoCandidates)

	_, err = responseText(&genai.GenerateContentResponse{PromptFeedback: &genai.GenerateContentResponsePromptFeedback{BlockReason: genai.BlockedReasonSafety}})
	assert.ErrorIs(t, err, ErrNoCandidates)
}
