package api

import (
	"context"
	"errors"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"

	"github.com/ShayCichocki/verifix/internal/errkind"
)

// ErrNoCredential is returned when a provider that needs an API key has none.
var ErrNoCredential = errors.New("no API key configured")

// Provider names a reasoning service backend.
type Provider string

const (
	ProviderAnthropic Provider = "anthropic"
	ProviderBedrock   Provider = "bedrock"
	ProviderOpenAI    Provider = "openai"
	ProviderGemini    Provider = "gemini"
)

// Valid returns true if the provider is supported.
func (p Provider) Valid() bool {
	switch p {
	case ProviderAnthropic, ProviderBedrock, ProviderOpenAI, ProviderGemini:
		return true
	default:
		return false
	}
}

// NeedsAPIKey reports whether the provider authenticates with an API key.
func (p Provider) NeedsAPIKey() bool {
	return p != ProviderBedrock
}

// ReasonerConfig selects and configures a provider.
type ReasonerConfig struct {
	Provider   Provider
	Model      string
	APIKey     string
	BaseURL    string
	AWSRegion  string
	AWSProfile string
}

// NewReasoner builds the reasoner for cfg.Provider.
func NewReasoner(ctx context.Context, cfg ReasonerConfig) (Reasoner, error) {
	switch cfg.Provider {
	case ProviderAnthropic, "":
		return NewAnthropicReasoner(ctx, AnthropicConfig{
			Model:  anthropic.Model(cfg.Model),
			APIKey: cfg.APIKey,
		})
	case ProviderBedrock:
		return NewAnthropicReasoner(ctx, AnthropicConfig{
			Model:         anthropic.Model(cfg.Model),
			UseAWSBedrock: true,
			AWSRegion:     cfg.AWSRegion,
			AWSProfile:    cfg.AWSProfile,
		})
	case ProviderOpenAI:
		return NewOpenAIReasoner(cfg.APIKey, cfg.Model, cfg.BaseURL)
	case ProviderGemini:
		return NewGeminiReasoner(ctx, cfg.APIKey, cfg.Model)
	default:
		return nil, errkind.New(errkind.Config, "reasoner", fmt.Errorf("unknown provider %q", cfg.Provider))
	}
}
