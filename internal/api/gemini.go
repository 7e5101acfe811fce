package api

import (
	"context"

	"google.golang.org/genai"

	"github.com/ShayCichocki/verifix/internal/errkind"
)

// DefaultGeminiModel is used when no model is configured.
const DefaultGeminiModel = "gemini-2.5-flash"

// GeminiReasoner asks a Gemini model for a JSON action object.
type GeminiReasoner struct {
	client *genai.Client
	model  string
}

// NewGeminiReasoner creates a reasoner backed by the Gemini API.
func NewGeminiReasoner(ctx context.Context, apiKey, model string) (*GeminiReasoner, error) {
	if apiKey == "" {
		return nil, errkind.New(errkind.MissingCredential, "gemini client", ErrNoCredential)
	}
	if model == "" {
		model = DefaultGeminiModel
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, errkind.New(errkind.ExternalService, "gemini client", err)
	}
	return &GeminiReasoner{client: client, model: model}, nil
}

// Name implements Reasoner.
func (r *GeminiReasoner) Name() string {
	return "gemini/" + r.model
}

// Next implements Reasoner.
func (r *GeminiReasoner) Next(ctx context.Context, prompt Prompt) (string, error) {
	resp, err := r.client.Models.GenerateContent(ctx, r.model, geminiContents(prompt), &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(prompt.System, genai.RoleUser),
		ResponseMIMEType:  "application/json",
	})
	if err != nil {
		if ctxErr := errkind.FromContext(ctx, "gemini request"); ctxErr != nil {
			return "", ctxErr
		}
		return "", errkind.New(errkind.ExternalService, "gemini request", err)
	}
	return resp.Text(), nil
}

func geminiContents(p Prompt) []*genai.Content {
	contents := []*genai.Content{
		genai.NewContentFromText(p.Task, genai.RoleUser),
	}
	for _, x := range p.History {
		contents = append(contents,
			genai.NewContentFromText(x.Response, genai.RoleModel),
			genai.NewContentFromText(x.Feedback(), genai.RoleUser),
		)
	}
	return contents
}
