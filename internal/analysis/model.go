package analysis

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"google.golang.org/genai"
)

// Model runs the fall prompt against one image and returns the raw reply text.
type Model interface {
	Analyze(ctx context.Context, mimeType string, image []byte) (string, error)
}

// VertexModel calls a Gemini model through Vertex AI.
type VertexModel struct {
	client *genai.Client
	model  string
}

// NewVertexModel connects with application default credentials.
func NewVertexModel(ctx context.Context, project, location, model string) (*VertexModel, error) {
	if project == "" {
		return nil, errors.New("vertex: project id is required")
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		Project:  project,
		Location: location,
		Backend:  genai.BackendVertexAI,
	})
	if err != nil {
		return nil, fmt.Errorf("vertex client: %w", err)
	}
	return &VertexModel{client: client, model: model}, nil
}

func (v *VertexModel) Analyze(ctx context.Context, mimeType string, image []byte) (string, error) {
	contents := []*genai.Content{{
		Role: "user",
		Parts: []*genai.Part{
			{Text: Prompt},
			{InlineData: &genai.Blob{MIMEType: mimeType, Data: image}},
		},
	}}

	resp, err := v.client.Models.GenerateContent(ctx, v.model, contents, &genai.GenerateContentConfig{
		ResponseMIMEType: "application/json",
	})
	if err != nil {
		return "", fmt.Errorf("generate content: %w", err)
	}
	return replyText(resp)
}

// replyText joins the text parts of the first candidate.
func replyText(resp *genai.GenerateContentResponse) (string, error) {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return "", errors.New("model returned no candidates")
	}
	var sb strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if part == nil || part.Thought {
			continue
		}
		sb.WriteString(part.Text)
	}
	if sb.Len() == 0 {
		return "", errors.New("model returned no text")
	}
	return sb.String(), nil
}
