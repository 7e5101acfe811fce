package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/ShayCichocki/verifix/internal/errkind"
)

// ErrNoAPIKey is returned when no API key is configured.
var ErrNoAPIKey = errors.New("no API key configured")

// KeySource represents where an API key was loaded from.
type KeySource string

const (
	KeySourceEnv    KeySource = "environment"
	KeySourceConfig KeySource = "config_file"
	KeySourceAWS    KeySource = "aws"
	KeySourceNone   KeySource = "none"
)

// Credential is the resolved reasoning-service secret for a provider.
type Credential struct {
	Provider string
	Key      string
	Source   KeySource
}

// EnvVars returns the environment variables checked for a provider's key,
// in order. Bedrock authenticates through the AWS chain and has none.
func EnvVars(provider string) []string {
	switch provider {
	case "anthropic":
		return []string{"ANTHROPIC_API_KEY"}
	case "openai":
		return []string{"OPENAI_API_KEY"}
	case "gemini":
		return []string{"GEMINI_API_KEY", "GOOGLE_API_KEY"}
	default:
		return nil
	}
}

// ResolveCredential returns the credential for the configured provider.
// A missing key is an errkind.MissingCredential error wrapping ErrNoAPIKey.
// A malformed key fails the same way, unless the provider points at a custom
// base URL whose keys need not follow the vendor format.
func ResolveCredential(cfg *Config) (Credential, error) {
	provider := cfg.Agent.Provider
	if provider == "bedrock" {
		return Credential{Provider: provider, Source: KeySourceAWS}, nil
	}
	key, source := lookupKey(cfg, provider)
	if key == "" {
		return Credential{Provider: provider, Source: KeySourceNone}, errkind.New(errkind.MissingCredential, "resolve credential",
			fmt.Errorf("%w for %s (set %s)", ErrNoAPIKey, provider, strings.Join(EnvVars(provider), " or ")))
	}
	if baseURL(cfg, provider) == "" {
		if err := ValidateAPIKey(provider, key); err != nil {
			return Credential{Provider: provider, Source: source}, errkind.New(errkind.MissingCredential, "resolve credential",
				fmt.Errorf("%s key from %s: %w", provider, source, err))
		}
	}
	return Credential{Provider: provider, Key: key, Source: source}, nil
}

// GetAPIKeySource returns where the provider's API key was sourced from.
func GetAPIKeySource(cfg *Config, provider string) KeySource {
	_, source := lookupKey(cfg, provider)
	return source
}

func baseURL(cfg *Config, provider string) string {
	switch provider {
	case "anthropic":
		return cfg.Providers.Anthropic.BaseURL
	case "openai":
		return cfg.Providers.OpenAI.BaseURL
	case "gemini":
		return cfg.Providers.Gemini.BaseURL
	}
	return ""
}

func lookupKey(cfg *Config, provider string) (string, KeySource) {
	for _, name := range EnvVars(provider) {
		if key := os.Getenv(name); key != "" {
			return key, KeySourceEnv
		}
	}

	if cfg == nil {
		return "", KeySourceNone
	}
	var configured string
	switch provider {
	case "anthropic":
		configured = cfg.Providers.Anthropic.APIKey
	case "openai":
		configured = cfg.Providers.OpenAI.APIKey
	case "gemini":
		configured = cfg.Providers.Gemini.APIKey
	}
	// Expand any remaining env var references
	key := os.ExpandEnv(configured)
	if key != "" && !strings.HasPrefix(key, "${") {
		return key, KeySourceConfig
	}
	return "", KeySourceNone
}

// ValidateAPIKey performs basic validation on an API key.
// It checks format but does not verify the key with the provider.
func ValidateAPIKey(provider, key string) error {
	if key == "" {
		return ErrNoAPIKey
	}

	switch provider {
	case "anthropic":
		if !strings.HasPrefix(key, "sk-ant-") {
			return errors.New("invalid API key format: expected 'sk-ant-' prefix")
		}
	case "openai":
		if !strings.HasPrefix(key, "sk-") {
			return errors.New("invalid API key format: expected 'sk-' prefix")
		}
	}

	// Keys should be reasonably long
	if len(key) < 20 {
		return errors.New("invalid API key format: key too short")
	}

	return nil
}

// MaskAPIKey returns a masked version of the API key for display.
// Shows the first 7 characters and last 4 characters.
func MaskAPIKey(key string) string {
	if key == "" {
		return "(not set)"
	}

	if len(key) <= 15 {
		return "***"
	}

	return key[:7] + "..." + key[len(key)-4:]
}

// IsSecretKey reports whether a config key holds a credential.
func IsSecretKey(key string) bool {
	return strings.HasSuffix(strings.ToLower(key), "api_key")
}
