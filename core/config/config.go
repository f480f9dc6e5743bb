// Package config loads the application configuration from defaults, an
// optional YAML file, an optional .env file, and process environment
// variables, in that precedence order (later sources win).
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config is the full application configuration.
type Config struct {
	Provider  ProviderConfig  `yaml:"provider"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	Context   ContextConfig   `yaml:"context"`
	Memory    MemoryConfig    `yaml:"memory"`
	Agent     AgentConfig     `yaml:"agent"`
	Workspace WorkspaceConfig `yaml:"workspace"`
	Tools     ToolsConfig     `yaml:"tools"`
}

// ProviderConfig selects and authenticates the chat backend.
type ProviderConfig struct {
	// Name selects the backend: "anthropic" or "openai".
	Name string `yaml:"name" env:"REVERIE_PROVIDER"`

	Model        string `yaml:"model" env:"REVERIE_MODEL"`
	SummaryModel string `yaml:"summary_model" env:"REVERIE_SUMMARY_MODEL"`

	AnthropicAPIKey string `yaml:"anthropic_api_key" env:"ANTHROPIC_API_KEY"`
	OpenAIAPIKey    string `yaml:"openai_api_key" env:"OPENAI_API_KEY"`
	BaseURL         string `yaml:"base_url" env:"REVERIE_BASE_URL"`
}

// EmbeddingConfig selects the embedding backend for the memory engine.
type EmbeddingConfig struct {
	// Backend is "openai" or "voyage".
	Backend string `yaml:"backend" env:"REVERIE_EMBED_BACKEND"`

	Model        string `yaml:"model" env:"REVERIE_EMBED_MODEL"`
	VoyageAPIKey string `yaml:"voyage_api_key" env:"VOYAGE_API_KEY"`

	// CacheSize bounds the embedding LRU cache (entries).
	CacheSize int `yaml:"cache_size" env:"REVERIE_EMBED_CACHE_SIZE"`
}

// ContextConfig tunes the context-window manager.
type ContextConfig struct {
	// Limit caps the provider-advertised context window (0 means use the
	// advertised size).
	Limit int `yaml:"limit" env:"REVERIE_CONTEXT_LIMIT"`

	CompressionThreshold float64 `yaml:"compression_threshold" env:"REVERIE_COMPRESSION_THRESHOLD"`
	KeepRecent           int     `yaml:"keep_recent" env:"REVERIE_KEEP_RECENT"`
}

// MemoryConfig tunes the semantic memory engine.
type MemoryConfig struct {
	DBPath        string  `yaml:"db_path" env:"REVERIE_MEMORY_DB"`
	ChunkCeiling  int     `yaml:"chunk_ceiling" env:"REVERIE_CHUNK_CEILING"`
	RecallLimit   int     `yaml:"recall_limit" env:"REVERIE_RECALL_LIMIT"`
	MinSimilarity float64 `yaml:"min_similarity" env:"REVERIE_MIN_SIMILARITY"`

	SimilarityWeight float64 `yaml:"similarity_weight"`
	SalienceWeight   float64 `yaml:"salience_weight"`
	RecencyWeight    float64 `yaml:"recency_weight"`
}

// AgentConfig tunes the turn loop.
type AgentConfig struct {
	MaxIterations    int     `yaml:"max_iterations" env:"REVERIE_MAX_ITERATIONS"`
	MaxTokens        int     `yaml:"max_tokens" env:"REVERIE_MAX_TOKENS"`
	AutonomousRecall bool    `yaml:"autonomous_recall" env:"REVERIE_AUTONOMOUS_RECALL"`
	Temperature      float64 `yaml:"temperature" env:"REVERIE_TEMPERATURE"`
}

// WorkspaceConfig locates the workspace text store.
type WorkspaceConfig struct {
	Root string `yaml:"root" env:"REVERIE_WORKSPACE"`
}

// ToolsConfig gates the tool surface with glob patterns.
type ToolsConfig struct {
	Allow []string `yaml:"allow" env:"REVERIE_TOOLS_ALLOW" envSeparator:","`
	Deny  []string `yaml:"deny" env:"REVERIE_TOOLS_DENY" envSeparator:","`
}

// Default returns the built-in defaults. The workspace root defaults to
// ~/.reverie.
func Default() Config {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	root := filepath.Join(home, ".reverie")
	return Config{
		Provider: ProviderConfig{
			Name:  "anthropic",
			Model: "claude-sonnet-4-5-20250901",
		},
		Embedding: EmbeddingConfig{
			Backend:   "openai",
			Model:     "text-embedding-3-small",
			CacheSize: 2048,
		},
		Context: ContextConfig{
			CompressionThreshold: 0.8,
			KeepRecent:           20,
		},
		Memory: MemoryConfig{
			DBPath:           filepath.Join(root, "memory.db"),
			ChunkCeiling:     2000,
			RecallLimit:      8,
			MinSimilarity:    0.25,
			SimilarityWeight: 0.7,
			SalienceWeight:   0.2,
			RecencyWeight:    0.1,
		},
		Agent: AgentConfig{
			MaxIterations:    100,
			AutonomousRecall: true,
		},
		Workspace: WorkspaceConfig{Root: root},
	}
}

// Load builds the configuration: defaults, then the YAML file at path (when
// it exists), then .env, then process environment. Path may be empty to
// skip the YAML layer.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return cfg, fmt.Errorf("parse %s: %w", path, err)
			}
		case !os.IsNotExist(err):
			return cfg, fmt.Errorf("read %s: %w", path, err)
		}
	}

	// .env feeds the process environment; a missing file is not an error.
	_ = godotenv.Load()

	if err := env.Parse(&cfg); err != nil {
		return cfg, fmt.Errorf("parse environment: %w", err)
	}

	return cfg, cfg.Validate()
}

// Validate rejects configurations that cannot start.
func (c Config) Validate() error {
	switch c.Provider.Name {
	case "anthropic", "openai":
	default:
		return fmt.Errorf("unknown provider %q", c.Provider.Name)
	}
	switch c.Embedding.Backend {
	case "openai", "voyage":
	default:
		return fmt.Errorf("unknown embedding backend %q", c.Embedding.Backend)
	}
	if c.Context.CompressionThreshold < 0 || c.Context.CompressionThreshold >= 1 {
		return fmt.Errorf("compression threshold %v out of range (0,1)", c.Context.CompressionThreshold)
	}
	if c.Agent.MaxIterations < 1 {
		return fmt.Errorf("max iterations must be at least 1")
	}
	if c.Workspace.Root == "" {
		return fmt.Errorf("workspace root is required")
	}
	return nil
}
