package api

import (
	"context"

	"github.com/sashabaranov/go-openai"

	"github.com/ShayCichocki/verifix/internal/errkind"
)

// DefaultOpenAIModel is used when no model is configured.
const DefaultOpenAIModel = openai.GPT4o

// OpenAIReasoner asks a chat completion model for a JSON action object.
type OpenAIReasoner struct {
	client *openai.Client
	model  string
}

// NewOpenAIReasoner creates a reasoner backed by the OpenAI chat API.
func NewOpenAIReasoner(apiKey, model, baseURL string) (*OpenAIReasoner, error) {
	if apiKey == "" {
		return nil, errkind.New(errkind.MissingCredential, "openai client", ErrNoCredential)
	}
	if model == "" {
		model = DefaultOpenAIModel
	}
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return &OpenAIReasoner{
		client: openai.NewClientWithConfig(cfg),
		model:  model,
	}, nil
}

// Name implements Reasoner.
func (r *OpenAIReasoner) Name() string {
	return "openai/" + r.model
}

// Next implements Reasoner.
func (r *OpenAIReasoner) Next(ctx context.Context, prompt Prompt) (string, error) {
	req := openai.ChatCompletionRequest{
		Model:    r.model,
		Messages: openAIMessages(prompt),
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
	}
	resp, err := r.client.CreateChatCompletion(ctx, req)
	if err != nil {
		if ctxErr := errkind.FromContext(ctx, "openai request"); ctxErr != nil {
			return "", ctxErr
		}
		return "", errkind.New(errkind.ExternalService, "openai request", err)
	}
	if len(resp.Choices) == 0 {
		return "", errkind.Errorf(errkind.ExternalService, "openai request", "response contained no choices")
	}
	return resp.Choices[0].Message.Content, nil
}

func openAIMessages(p Prompt) []openai.ChatCompletionMessage {
	messages := []openai.ChatCompletionMessage{
		{Role: openai.ChatMessageRoleSystem, Content: p.System},
		{Role: openai.ChatMessageRoleUser, Content: p.Task},
	}
	for _, x := range p.History {
		messages = append(messages,
			openai.ChatCompletionMessage{Role: openai.ChatMessageRoleAssistant, Content: x.Response},
			openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: x.Feedback()},
		)
	}
	return messages
}
