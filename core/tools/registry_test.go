package tools

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adalundhe/reverie/core/providers"
)

// fakeTool is a scriptable executor for registry tests.
type fakeTool struct {
	name   string
	result Result
	err    error
	calls  int
}

func (f *fakeTool) Definition() providers.ToolDefinition {
	return providers.ToolDefinition{
		Name:        f.name,
		Description: "test tool",
		Parameters:  map[string]any{"type": "object"},
	}
}

func (f *fakeTool) Execute(ctx context.Context, session SessionContext, args map[string]any) (Result, error) {
	f.calls++
	if f.err != nil {
		return Result{}, f.err
	}
	return f.result, nil
}

func TestRegistryExecute(t *testing.T) {
	registry, err := NewRegistry(DefaultRegistryConfig())
	require.NoError(t, err)

	tool := &fakeTool{name: "calc", result: Ok("4")}
	registry.Register(tool)

	result, err := registry.Execute(context.Background(), SessionContext{SessionID: "s1"}, "calc", nil)
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, "4", result.Output)
	assert.Equal(t, 1, tool.calls)
}

func TestRegistryUnknownTool(t *testing.T) {
	registry, err := NewRegistry(DefaultRegistryConfig())
	require.NoError(t, err)

	result, err := registry.Execute(context.Background(), SessionContext{}, "missing", nil)
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.Contains(t, result.Output, "unknown tool")
}

func TestRegistryToolErrorBecomesFailedResult(t *testing.T) {
	registry, err := NewRegistry(DefaultRegistryConfig())
	require.NoError(t, err)
	registry.Register(&fakeTool{name: "flaky", err: errors.New("disk on fire")})

	result, err := registry.Execute(context.Background(), SessionContext{}, "flaky", nil)
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.Equal(t, "Error: disk on fire", result.Output)
}

func TestRegistryCancelledContextPropagates(t *testing.T) {
	registry, err := NewRegistry(DefaultRegistryConfig())
	require.NoError(t, err)
	registry.Register(&fakeTool{name: "slow", err: context.Canceled})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = registry.Execute(ctx, SessionContext{}, "slow", nil)
	assert.Error(t, err)
}

func TestRegistryGlobGating(t *testing.T) {
	tests := []struct {
		name    string
		config  RegistryConfig
		tool    string
		allowed bool
	}{
		{"empty config allows", RegistryConfig{}, "anything", true},
		{"deny wins", RegistryConfig{Deny: []string{"memory_*"}}, "memory_save", false},
		{"deny leaves others", RegistryConfig{Deny: []string{"memory_*"}}, "read_doc", true},
		{"allow list gates", RegistryConfig{Allow: []string{"read_*"}}, "write_doc", false},
		{"allow list admits", RegistryConfig{Allow: []string{"read_*"}}, "read_doc", true},
		{"deny beats allow", RegistryConfig{Allow: []string{"*"}, Deny: []string{"restart"}}, "restart", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			registry, err := NewRegistry(tt.config)
			require.NoError(t, err)
			registry.Register(&fakeTool{name: tt.tool, result: Ok("done")})

			result, err := registry.Execute(context.Background(), SessionContext{}, tt.tool, nil)
			require.NoError(t, err)
			assert.Equal(t, tt.allowed, result.Success)

			defs := registry.Definitions()
			if tt.allowed {
				require.Len(t, defs, 1)
				assert.Equal(t, tt.tool, defs[0].Name)
			} else {
				assert.Empty(t, defs)
			}
		})
	}
}

func TestRegistryInvalidPattern(t *testing.T) {
	_, err := NewRegistry(RegistryConfig{Allow: []string{"[unclosed"}})
	assert.Error(t, err)
}

func TestRegistryDefinitionsSorted(t *testing.T) {
	registry, err := NewRegistry(DefaultRegistryConfig())
	require.NoError(t, err)
	registry.Register(&fakeTool{name: "zeta"})
	registry.Register(&fakeTool{name: "alpha"})
	registry.Register(&fakeTool{name: "mid"})

	defs := registry.Definitions()
	require.Len(t, defs, 3)
	assert.Equal(t, "alpha", defs[0].Name)
	assert.Equal(t, "mid", defs[1].Name)
	assert.Equal(t, "zeta", defs[2].Name)
}
