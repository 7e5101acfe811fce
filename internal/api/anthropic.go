package api

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/bedrock"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/aws/aws-sdk-go-v2/config"

	"github.com/ShayCichocki/verifix/internal/errkind"
)

// DefaultAnthropicModel is used when no model is configured.
const DefaultAnthropicModel = anthropic.ModelClaudeSonnet4_5_20250929

// AnthropicConfig contains configuration for the Anthropic reasoner.
type AnthropicConfig struct {
	// Model is the Claude model to use.
	Model anthropic.Model
	// APIKey is the Anthropic API key. Required unless UseAWSBedrock is set.
	APIKey string
	// UseAWSBedrock routes requests through AWS Bedrock instead of the direct API.
	UseAWSBedrock bool
	// AWSRegion is the AWS region for Bedrock (e.g., "us-west-2").
	AWSRegion string
	// AWSProfile is the optional AWS profile name to use.
	AWSProfile string
	// MaxTokens bounds each reply.
	MaxTokens int64
}

// AnthropicReasoner calls the Messages API with the tool registry and forces
// exactly one tool call per turn.
type AnthropicReasoner struct {
	inner     anthropic.Client
	model     anthropic.Model
	maxTokens int64
	tracker   *TokenTracker
}

// NewAnthropicReasoner creates a reasoner backed by the Anthropic SDK.
func NewAnthropicReasoner(ctx context.Context, cfg AnthropicConfig) (*AnthropicReasoner, error) {
	var opts []option.RequestOption

	if cfg.UseAWSBedrock {
		var loadOpts []func(*config.LoadOptions) error
		if cfg.AWSRegion != "" {
			loadOpts = append(loadOpts, config.WithRegion(cfg.AWSRegion))
		}
		if cfg.AWSProfile != "" {
			loadOpts = append(loadOpts, config.WithSharedConfigProfile(cfg.AWSProfile))
		}
		opts = append(opts, bedrock.WithLoadDefaultConfig(ctx, loadOpts...))
	} else {
		if cfg.APIKey == "" {
			return nil, errkind.New(errkind.MissingCredential, "anthropic client", ErrNoCredential)
		}
		opts = append(opts, option.WithAPIKey(cfg.APIKey))
	}

	model := cfg.Model
	if model == "" {
		model = DefaultAnthropicModel
	}
	if cfg.UseAWSBedrock {
		model = translateModelForBedrock(model)
	}

	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 8192
	}

	return &AnthropicReasoner{
		inner:     anthropic.NewClient(opts...),
		model:     model,
		maxTokens: maxTokens,
		tracker:   NewTokenTracker(),
	}, nil
}

// Name implements Reasoner.
func (r *AnthropicReasoner) Name() string {
	return "anthropic/" + string(r.model)
}

// Tracker returns the token tracker for this reasoner.
func (r *AnthropicReasoner) Tracker() *TokenTracker {
	return r.tracker
}

// Next implements Reasoner.
func (r *AnthropicReasoner) Next(ctx context.Context, prompt Prompt) (string, error) {
	resp, err := r.inner.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     r.model,
		MaxTokens: r.maxTokens,
		System: []anthropic.TextBlockParam{
			{Text: prompt.System},
		},
		Messages: anthropicMessages(prompt),
		Tools:    ToolDefinitions(),
		ToolChoice: anthropic.ToolChoiceUnionParam{
			OfAny: &anthropic.ToolChoiceAnyParam{
				DisableParallelToolUse: anthropic.Bool(true),
			},
		},
	})
	if err != nil {
		if ctxErr := errkind.FromContext(ctx, "anthropic request"); ctxErr != nil {
			return "", ctxErr
		}
		return "", errkind.New(errkind.ExternalService, "anthropic request", err)
	}
	r.tracker.Add(resp.Usage.InputTokens, resp.Usage.OutputTokens)

	var text strings.Builder
	for _, block := range resp.Content {
		switch variant := block.AsAny().(type) {
		case anthropic.ToolUseBlock:
			return normaliseToolCall(variant.Name, variant.Input)
		case anthropic.TextBlock:
			text.WriteString(variant.Text)
		}
	}
	return text.String(), nil
}

// anthropicMessages replays the transcript as native tool_use/tool_result pairs.
// Malformed turns are replayed as plain text.
func anthropicMessages(p Prompt) []anthropic.MessageParam {
	messages := []anthropic.MessageParam{
		anthropic.NewUserMessage(anthropic.NewTextBlock(p.Task)),
	}
	for _, x := range p.History {
		if x.Action == nil || x.CallID == "" {
			reply := x.Response
			if strings.TrimSpace(reply) == "" {
				reply = "(empty reply)"
			}
			messages = append(messages,
				anthropic.NewAssistantMessage(anthropic.NewTextBlock(reply)),
				anthropic.NewUserMessage(anthropic.NewTextBlock(x.Feedback())),
			)
			continue
		}
		messages = append(messages,
			anthropic.NewAssistantMessage(
				anthropic.NewToolUseBlock(x.CallID, x.Action.Args(), string(x.Action.Tool()))),
			anthropic.NewUserMessage(
				anthropic.NewToolResultBlock(x.CallID, x.Result, x.IsError)),
		)
	}
	return messages
}

// normaliseToolCall renders a native tool call as the action envelope.
func normaliseToolCall(name string, input json.RawMessage) (string, error) {
	if len(input) == 0 {
		input = json.RawMessage("{}")
	}
	b, err := json.Marshal(envelope{Tool: name, Args: input})
	if err != nil {
		return "", fmt.Errorf("encode tool call: %w", err)
	}
	return string(b), nil
}

// translateModelForBedrock converts standard Anthropic model names to Bedrock inference profile format.
// Bedrock uses cross-region inference profiles: us.anthropic.{model}-v1:0
func translateModelForBedrock(model anthropic.Model) anthropic.Model {
	bedrockModels := map[anthropic.Model]string{
		anthropic.ModelClaudeSonnet4_20250514:   "us.anthropic.claude-sonnet-4-20250514-v1:0",
		anthropic.ModelClaudeSonnet4_5_20250929: "us.anthropic.claude-sonnet-4-5-20250929-v1:0",
		anthropic.ModelClaudeHaiku4_5_20251001:  "us.anthropic.claude-haiku-4-5-20251001-v1:0",
		anthropic.ModelClaudeOpus4_1_20250805:   "us.anthropic.claude-opus-4-1-20250805-v1:0",
		anthropic.ModelClaudeOpus4_5_20251101:   "us.anthropic.claude-opus-4-5-20251101-v1:0",
	}

	if bedrockModel, ok := bedrockModels[model]; ok {
		return anthropic.Model(bedrockModel)
	}
	return model
}

// TokenTracker tracks token usage across API calls.
type TokenTracker struct {
	mu        sync.Mutex
	inputTok  int64
	outputTok int64
	calls     int
}

// NewTokenTracker creates a new token tracker.
func NewTokenTracker() *TokenTracker {
	return &TokenTracker{}
}

// Add records token usage from an API call.
func (t *TokenTracker) Add(input, output int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.inputTok += input
	t.outputTok += output
	t.calls++
}

// Total returns the total input and output tokens tracked.
func (t *TokenTracker) Total() (input, output int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.inputTok, t.outputTok
}

// Calls returns the number of API calls made.
func (t *TokenTracker) Calls() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.calls
}
