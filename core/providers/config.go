package providers

import (
	"fmt"
	"time"
)

// BaseConfig contains configuration common to all providers.
type BaseConfig struct {
	// APIKey is the authentication key for the provider.
	APIKey string `json:"api_key" yaml:"api_key"`

	// Model is the model to use.
	Model string `json:"model" yaml:"model"`

	// MaxTokens is the default maximum tokens to generate.
	MaxTokens int `json:"max_tokens" yaml:"max_tokens"`

	// Temperature is the default sampling temperature.
	Temperature float64 `json:"temperature" yaml:"temperature"`

	// ContextWindowCap optionally lowers the advertised context window, for
	// cost control. Zero means no cap.
	ContextWindowCap int `json:"context_window_cap,omitempty" yaml:"context_window_cap,omitempty"`

	// Timeout for API requests.
	Timeout time.Duration `json:"timeout" yaml:"timeout"`
}

// DefaultBaseConfig returns sensible defaults.
func DefaultBaseConfig() BaseConfig {
	return BaseConfig{
		MaxTokens:   8192,
		Temperature: 0.7,
		Timeout:     5 * time.Minute,
	}
}

// Validate checks the base configuration.
func (c *BaseConfig) Validate() error {
	if c.APIKey == "" {
		return fmt.Errorf("api_key is required")
	}
	if c.MaxTokens <= 0 {
		return fmt.Errorf("max_tokens must be positive")
	}
	if c.Temperature < 0 || c.Temperature > 2 {
		return fmt.Errorf("temperature must be between 0 and 2")
	}
	return nil
}

// AnthropicConfig contains Anthropic-specific configuration.
type AnthropicConfig struct {
	BaseConfig `json:",inline" yaml:",inline"`

	// BaseURL overrides the default API endpoint.
	BaseURL string `json:"base_url,omitempty" yaml:"base_url,omitempty"`

	// SummaryModel is used for summarization calls; defaults to a small
	// model so compression stays cheap.
	SummaryModel string `json:"summary_model,omitempty" yaml:"summary_model,omitempty"`
}

// DefaultAnthropicConfig returns Anthropic defaults.
func DefaultAnthropicConfig() AnthropicConfig {
	base := DefaultBaseConfig()
	base.Model = "claude-sonnet-4-5-20250901"
	return AnthropicConfig{
		BaseConfig:   base,
		SummaryModel: "claude-haiku-4-5-20251001",
	}
}

// Validate checks Anthropic-specific configuration.
func (c *AnthropicConfig) Validate() error {
	if err := c.BaseConfig.Validate(); err != nil {
		return fmt.Errorf("anthropic config: %w", err)
	}
	return nil
}

// OpenAIConfig contains OpenAI-specific configuration.
type OpenAIConfig struct {
	BaseConfig `json:",inline" yaml:",inline"`

	// BaseURL overrides the default API endpoint (Azure, proxies).
	BaseURL string `json:"base_url,omitempty" yaml:"base_url,omitempty"`

	// Organization ID for OpenAI.
	Organization string `json:"organization,omitempty" yaml:"organization,omitempty"`

	// Project ID for OpenAI.
	Project string `json:"project,omitempty" yaml:"project,omitempty"`

	// EmbeddingModel is used by the embeddings surface.
	EmbeddingModel string `json:"embedding_model,omitempty" yaml:"embedding_model,omitempty"`

	// EmbeddingDimensions is the dimensionality of the embedding model.
	EmbeddingDimensions int `json:"embedding_dimensions,omitempty" yaml:"embedding_dimensions,omitempty"`
}

// DefaultOpenAIConfig returns OpenAI defaults.
func DefaultOpenAIConfig() OpenAIConfig {
	base := DefaultBaseConfig()
	base.Model = "gpt-4o"
	return OpenAIConfig{
		BaseConfig:          base,
		EmbeddingModel:      "text-embedding-3-small",
		EmbeddingDimensions: 1536,
	}
}

// Validate checks OpenAI-specific configuration.
func (c *OpenAIConfig) Validate() error {
	if err := c.BaseConfig.Validate(); err != nil {
		return fmt.Errorf("openai config: %w", err)
	}
	return nil
}

// contextWindow resolves the effective context window: the advertised size
// for the model, lowered by the configured cap when one is set.
func (c *BaseConfig) contextWindow(advertised int) int {
	if c.ContextWindowCap > 0 && c.ContextWindowCap < advertised {
		return c.ContextWindowCap
	}
	return advertised
}

var modelContextWindows = map[string]int{
	"claude-opus-4-5-20251101":   200000,
	"claude-sonnet-4-5-20250901": 1000000,
	"claude-haiku-4-5-20251001":  200000,
	"gpt-4o":                     128000,
	"gpt-4o-mini":                128000,
}

const defaultContextWindow = 128000

func advertisedContextWindow(model string) int {
	if window, ok := modelContextWindows[model]; ok {
		return window
	}
	return defaultContextWindow
}
