package tools

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/gobwas/glob"

	"github.com/adalundhe/reverie/core/providers"
)

// =============================================================================
// Registry Configuration
// =============================================================================

// RegistryConfig gates which registered tools are visible. Patterns use glob
// syntax ("memory_*", "write_*"). Deny wins over allow; an empty allow list
// permits everything not denied.
type RegistryConfig struct {
	Allow []string `yaml:"allow" json:"allow"`
	Deny  []string `yaml:"deny" json:"deny"`
}

// DefaultRegistryConfig permits every registered tool.
func DefaultRegistryConfig() RegistryConfig {
	return RegistryConfig{}
}

// =============================================================================
// Registry
// =============================================================================

// Registry owns the set of registered tools for one agent instance. It is
// safe for concurrent use.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Executor
	allow []glob.Glob
	deny  []glob.Glob
}

// NewRegistry creates a registry with the given gating config. Invalid glob
// patterns are rejected.
func NewRegistry(config RegistryConfig) (*Registry, error) {
	allow, err := compilePatterns(config.Allow)
	if err != nil {
		return nil, fmt.Errorf("invalid allow pattern: %w", err)
	}
	deny, err := compilePatterns(config.Deny)
	if err != nil {
		return nil, fmt.Errorf("invalid deny pattern: %w", err)
	}
	return &Registry{
		tools: make(map[string]Executor),
		allow: allow,
		deny:  deny,
	}, nil
}

func compilePatterns(patterns []string) ([]glob.Glob, error) {
	compiled := make([]glob.Glob, 0, len(patterns))
	for _, pattern := range patterns {
		g, err := glob.Compile(pattern)
		if err != nil {
			return nil, fmt.Errorf("%q: %w", pattern, err)
		}
		compiled = append(compiled, g)
	}
	return compiled, nil
}

// Register adds a tool. Re-registering a name replaces the previous tool.
func (r *Registry) Register(tool Executor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[tool.Definition().Name] = tool
}

// permitted applies deny-then-allow gating to a tool name.
func (r *Registry) permitted(name string) bool {
	for _, g := range r.deny {
		if g.Match(name) {
			return false
		}
	}
	if len(r.allow) == 0 {
		return true
	}
	for _, g := range r.allow {
		if g.Match(name) {
			return true
		}
	}
	return false
}

// Definitions returns the schemas of all permitted tools, sorted by name so
// the advertised list is stable across calls.
func (r *Registry) Definitions() []providers.ToolDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()

	defs := make([]providers.ToolDefinition, 0, len(r.tools))
	for name, tool := range r.tools {
		if r.permitted(name) {
			defs = append(defs, tool.Definition())
		}
	}
	sort.Slice(defs, func(i, j int) bool { return defs[i].Name < defs[j].Name })
	return defs
}

// Execute runs the named tool. Unknown or gated tool names produce a failed
// Result rather than an error so the model can correct itself.
func (r *Registry) Execute(ctx context.Context, session SessionContext, name string, args map[string]any) (Result, error) {
	r.mu.RLock()
	tool, ok := r.tools[name]
	permitted := r.permitted(name)
	r.mu.RUnlock()

	if !ok || !permitted {
		return Failure(fmt.Sprintf("unknown tool: %s", name)), nil
	}

	result, err := tool.Execute(ctx, session, args)
	if err != nil {
		if ctx.Err() != nil {
			return Result{}, err
		}
		// Tool errors are fed back to the model as failed results so it
		// can recover; only cancellation aborts the turn.
		return Failure("Error: " + err.Error()), nil
	}
	return result, nil
}
