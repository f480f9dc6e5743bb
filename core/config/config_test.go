package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	assert.NoError(t, cfg.Validate())
	assert.Equal(t, "anthropic", cfg.Provider.Name)
	assert.Equal(t, 100, cfg.Agent.MaxIterations)
	assert.NotEmpty(t, cfg.Workspace.Root)
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, Default().Provider.Name, cfg.Provider.Name)
}

func TestLoadYAMLOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
provider:
  name: openai
  model: gpt-4o-mini
agent:
  max_iterations: 12
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "openai", cfg.Provider.Name)
	assert.Equal(t, "gpt-4o-mini", cfg.Provider.Model)
	assert.Equal(t, 12, cfg.Agent.MaxIterations)
	// Untouched sections keep their defaults.
	assert.Equal(t, Default().Memory.RecallLimit, cfg.Memory.RecallLimit)
}

func TestEnvOverridesYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
provider:
  model: from-yaml
`), 0o644))

	t.Setenv("REVERIE_MODEL", "from-env")
	t.Setenv("REVERIE_MAX_ITERATIONS", "7")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "from-env", cfg.Provider.Model)
	assert.Equal(t, 7, cfg.Agent.MaxIterations)
}

func TestValidateRejectsBadValues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"unknown provider", func(c *Config) { c.Provider.Name = "gemini" }},
		{"unknown embedding backend", func(c *Config) { c.Embedding.Backend = "local" }},
		{"threshold too high", func(c *Config) { c.Context.CompressionThreshold = 1.5 }},
		{"zero iterations", func(c *Config) { c.Agent.MaxIterations = 0 }},
		{"empty workspace", func(c *Config) { c.Workspace.Root = "" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}
