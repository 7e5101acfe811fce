// Package config handles configuration loading and management for verifix.
// It supports XDG config paths, project-level overrides, and environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"

	"github.com/ShayCichocki/verifix/internal/errkind"
)

// ProjectConfigName is the per-repository override file.
const ProjectConfigName = ".verifix.yaml"

// EnvPrefix prefixes every environment override, e.g. VERIFIX_AGENT_MODEL.
const EnvPrefix = "VERIFIX"

// Config holds all configuration for verifix.
type Config struct {
	Run         RunConfig         `mapstructure:"run"`
	Validation  ValidationConfig  `mapstructure:"validation"`
	Remediation RemediationConfig `mapstructure:"remediation"`
	Patch       PatchConfig       `mapstructure:"patch"`
	Agent       AgentConfig       `mapstructure:"agent"`
	Artifacts   ArtifactsConfig   `mapstructure:"artifacts"`
	Providers   ProvidersConfig   `mapstructure:"providers"`
}

// RunConfig selects what a run does.
type RunConfig struct {
	Strategy string `mapstructure:"strategy" validate:"oneof=patch agent both none"`
	TaskFile string `mapstructure:"task_file"`
}

// ValidationConfig controls the test executor.
type ValidationConfig struct {
	TestCommand string        `mapstructure:"test_command" validate:"required"`
	Timeout     time.Duration `mapstructure:"timeout" validate:"gt=0"`
	// Markers are the whole-word failure markers counted per line.
	Markers []string `mapstructure:"markers" validate:"dive,required"`
}

// RemediationConfig controls dependency repair.
type RemediationConfig struct {
	MaxAttempts int               `mapstructure:"max_attempts" validate:"gte=1,lte=20"`
	Policy      string            `mapstructure:"policy" validate:"oneof=install reinstall stub"`
	Python      string            `mapstructure:"python" validate:"required"`
	Timeout     time.Duration     `mapstructure:"timeout" validate:"gt=0"`
	Aliases     map[string]string `mapstructure:"aliases"`
}

// PatchConfig controls the deterministic patch applier.
type PatchConfig struct {
	Include string `mapstructure:"include"`
}

// AgentConfig controls the tool-dispatch loop.
type AgentConfig struct {
	Provider          string        `mapstructure:"provider" validate:"oneof=anthropic bedrock openai gemini"`
	Model             string        `mapstructure:"model"`
	MaxIterations     int           `mapstructure:"max_iterations" validate:"gte=1"`
	RequestsPerMinute int           `mapstructure:"requests_per_minute" validate:"gte=0"`
	RequestTimeout    time.Duration `mapstructure:"request_timeout" validate:"gt=0"`
	BashTimeout       time.Duration `mapstructure:"bash_timeout" validate:"gt=0"`
	// Protected lists repository globs the agent's file tools may not modify.
	Protected []string `mapstructure:"protected" validate:"dive,required"`
}

// ArtifactsConfig controls where run output goes. Relative paths resolve
// against the repository.
type ArtifactsConfig struct {
	Dir       string `mapstructure:"dir"`
	HistoryDB string `mapstructure:"history_db"`
	// Metrics toggles the Prometheus text file.
	Metrics bool `mapstructure:"metrics"`
}

// ProvidersConfig holds per-provider credentials and endpoints.
type ProvidersConfig struct {
	Anthropic KeyConfig     `mapstructure:"anthropic"`
	OpenAI    KeyConfig     `mapstructure:"openai"`
	Gemini    KeyConfig     `mapstructure:"gemini"`
	Bedrock   BedrockConfig `mapstructure:"bedrock"`
}

// KeyConfig holds an API key and optional endpoint override.
type KeyConfig struct {
	APIKey  string `mapstructure:"api_key"`
	BaseURL string `mapstructure:"base_url"`
}

// BedrockConfig holds AWS settings for the Bedrock provider.
type BedrockConfig struct {
	Region  string `mapstructure:"region"`
	Profile string `mapstructure:"profile"`
}

var validate = validator.New()

// Validate checks field constraints. Failures are errkind.Config errors.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s failed %q (value %v)", fe.Namespace(), fe.Tag(), fe.Value()))
			}
			return errkind.Errorf(errkind.Config, "validate config", "%s", strings.Join(msgs, "; "))
		}
		return errkind.New(errkind.Config, "validate config", err)
	}
	return nil
}

// Load loads configuration from XDG paths, project overrides, and environment variables.
// Precedence (highest to lowest):
// 1. Environment variables (VERIFIX_*, plus the provider key variables)
// 2. Project config (.verifix.yaml in repoPath or a parent)
// 3. User config (~/.config/verifix/config.yaml)
// 4. Built-in defaults
func Load(repoPath string) (*Config, error) {
	v, err := NewViper(repoPath)
	if err != nil {
		return nil, err
	}
	return decode(v)
}

// NewViper builds the layered viper instance Load decodes.
func NewViper(repoPath string) (*viper.Viper, error) {
	v := viper.New()

	setDefaults(v)

	// Load user config from XDG path
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(getUserConfigDir())

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, errkind.New(errkind.Config, "read user config", err)
		}
	}

	// Load project config if present
	if projectConfig := findProjectConfig(repoPath); projectConfig != "" {
		projectViper := viper.New()
		projectViper.SetConfigFile(projectConfig)
		if err := projectViper.ReadInConfig(); err != nil {
			return nil, errkind.New(errkind.Config, "read project config", err)
		}
		if err := v.MergeConfigMap(projectViper.AllSettings()); err != nil {
			return nil, errkind.New(errkind.Config, "merge project config", err)
		}
	}

	// Environment variable overrides
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Provider keys also come from their conventional variables.
	_ = v.BindEnv("providers.anthropic.api_key", "VERIFIX_PROVIDERS_ANTHROPIC_API_KEY", "ANTHROPIC_API_KEY")
	_ = v.BindEnv("providers.openai.api_key", "VERIFIX_PROVIDERS_OPENAI_API_KEY", "OPENAI_API_KEY")
	_ = v.BindEnv("providers.gemini.api_key", "VERIFIX_PROVIDERS_GEMINI_API_KEY", "GEMINI_API_KEY", "GOOGLE_API_KEY")
	_ = v.BindEnv("providers.bedrock.region", "VERIFIX_PROVIDERS_BEDROCK_REGION", "AWS_REGION")
	_ = v.BindEnv("providers.bedrock.profile", "VERIFIX_PROVIDERS_BEDROCK_PROFILE", "AWS_PROFILE")

	return v, nil
}

// LoadFromPath loads configuration from a specific path (for testing).
func LoadFromPath(path string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, errkind.New(errkind.Config, "read config", fmt.Errorf("%s: %w", path, err))
	}
	return decode(v)
}

func decode(v *viper.Viper) (*Config, error) {
	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, errkind.New(errkind.Config, "unmarshal config", err)
	}

	// Expand ${VAR} references
	cfg.Providers.Anthropic.APIKey = expandEnv(cfg.Providers.Anthropic.APIKey)
	cfg.Providers.OpenAI.APIKey = expandEnv(cfg.Providers.OpenAI.APIKey)
	cfg.Providers.Gemini.APIKey = expandEnv(cfg.Providers.Gemini.APIKey)

	return cfg, nil
}

// Set writes a single key to the user config file, creating it if needed.
func Set(key string, value any) error {
	if !IsKnownKey(key) {
		return errkind.Errorf(errkind.Config, "set config", "unknown key %q", key)
	}
	dir := getUserConfigDir()
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	path := GetUserConfigPath()

	v := viper.New()
	v.SetConfigFile(path)
	if _, err := os.Stat(path); err == nil {
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("reading %s: %w", path, err)
		}
	}
	v.Set(key, value)
	return v.WriteConfigAs(path)
}

// Keys returns every known configuration key, sorted.
func Keys() []string {
	v := viper.New()
	setDefaults(v)
	keys := v.AllKeys()
	sort.Strings(keys)
	return keys
}

// IsKnownKey reports whether key is a configuration key.
func IsKnownKey(key string) bool {
	key = strings.ToLower(key)
	if strings.HasPrefix(key, "remediation.aliases.") {
		return true
	}
	for _, k := range Keys() {
		if k == key {
			return true
		}
	}
	return false
}

// GetUserConfigPath returns the path to the user config file.
func GetUserConfigPath() string {
	return filepath.Join(getUserConfigDir(), "config.yaml")
}

// GetProjectConfigPath returns the path to the project config file if it exists.
func GetProjectConfigPath(repoPath string) string {
	return findProjectConfig(repoPath)
}

// setDefaults configures default values.
func setDefaults(v *viper.Viper) {
	v.SetDefault("run.strategy", "patch")
	v.SetDefault("run.task_file", "")

	v.SetDefault("validation.test_command", "python -m pytest openlibrary/tests/core/test_imports.py -vv")
	v.SetDefault("validation.timeout", "10m")
	v.SetDefault("validation.markers", []string{"FAILED", "ERROR"})

	v.SetDefault("remediation.max_attempts", 3)
	v.SetDefault("remediation.policy", "reinstall")
	v.SetDefault("remediation.python", "python")
	v.SetDefault("remediation.timeout", "5m")
	v.SetDefault("remediation.aliases", map[string]string{})

	v.SetDefault("patch.include", "**/*.py")

	v.SetDefault("agent.provider", "anthropic")
	v.SetDefault("agent.model", "")
	v.SetDefault("agent.max_iterations", 10)
	v.SetDefault("agent.requests_per_minute", 0)
	v.SetDefault("agent.request_timeout", "2m")
	v.SetDefault("agent.bash_timeout", "2m")
	v.SetDefault("agent.protected", []string{".git/**", ".verifix/**"})

	v.SetDefault("artifacts.dir", ".verifix/artifacts")
	v.SetDefault("artifacts.history_db", "")
	v.SetDefault("artifacts.metrics", true)

	v.SetDefault("providers.anthropic.api_key", "")
	v.SetDefault("providers.anthropic.base_url", "")
	v.SetDefault("providers.openai.api_key", "")
	v.SetDefault("providers.openai.base_url", "")
	v.SetDefault("providers.gemini.api_key", "")
	v.SetDefault("providers.gemini.base_url", "")
	v.SetDefault("providers.bedrock.region", "")
	v.SetDefault("providers.bedrock.profile", "")
}

// getUserConfigDir returns the XDG config directory for verifix.
func getUserConfigDir() string {
	// Check XDG_CONFIG_HOME first
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "verifix")
	}

	// Fall back to ~/.config/verifix
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", ".config", "verifix")
	}
	return filepath.Join(home, ".config", "verifix")
}

// GetUserDataDir returns the directory for persistent run history.
func GetUserDataDir() string {
	if xdgData := os.Getenv("XDG_DATA_HOME"); xdgData != "" {
		return filepath.Join(xdgData, "verifix")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", ".local", "share", "verifix")
	}
	return filepath.Join(home, ".local", "share", "verifix")
}

// findProjectConfig searches for .verifix.yaml in start and its parents.
// An empty start searches from the working directory.
func findProjectConfig(start string) string {
	dir := start
	if dir == "" {
		cwd, err := os.Getwd()
		if err != nil {
			return ""
		}
		dir = cwd
	}
	dir, err := filepath.Abs(dir)
	if err != nil {
		return ""
	}

	for {
		configPath := filepath.Join(dir, ProjectConfigName)
		if _, err := os.Stat(configPath); err == nil {
			return configPath
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}

	return ""
}

// expandEnv expands ${VAR} references in a string.
func expandEnv(s string) string {
	return os.ExpandEnv(s)
}

// Default returns a Config with default values.
func Default() *Config {
	return &Config{
		Run: RunConfig{
			Strategy: "patch",
		},
		Validation: ValidationConfig{
			TestCommand: "python -m pytest openlibrary/tests/core/test_imports.py -vv",
			Timeout:     10 * time.Minute,
			Markers:     []string{"FAILED", "ERROR"},
		},
		Remediation: RemediationConfig{
			MaxAttempts: 3,
			Policy:      "reinstall",
			Python:      "python",
			Timeout:     5 * time.Minute,
			Aliases:     map[string]string{},
		},
		Patch: PatchConfig{
			Include: "**/*.py",
		},
		Agent: AgentConfig{
			Provider:       "anthropic",
			MaxIterations:  10,
			RequestTimeout: 2 * time.Minute,
			BashTimeout:    2 * time.Minute,
			Protected:      []string{".git/**", ".verifix/**"},
		},
		Artifacts: ArtifactsConfig{
			Dir:     ".verifix/artifacts",
			Metrics: true,
		},
	}
}
