// Package tools defines the agent's tool surface: the executor contract,
// the per-call session context, and the registry that gates which tools a
// session may invoke.
package tools

import (
	"context"

	"github.com/adalundhe/reverie/core/providers"
)

// =============================================================================
// Tool Contract
// =============================================================================

// SessionContext carries per-call session state into a tool execution.
type SessionContext struct {
	// SessionID identifies the conversation invoking the tool.
	SessionID string

	// WorkspaceRoot is the session's workspace directory.
	WorkspaceRoot string
}

// Result is the outcome of one tool execution. Output is always fed back to
// the model, whether or not the call succeeded.
type Result struct {
	// Success is false when the tool ran but failed; the model sees the
	// failure text in Output and can recover.
	Success bool

	// Output is the text returned to the model.
	Output string

	// ImagePath points at a local image the tool produced, if any.
	ImagePath string

	// ImageURL points at a remote image the tool produced, if any.
	ImageURL string

	// RestartRequested signals that the process should restart after this
	// turn completes.
	RestartRequested bool
}

// Failure builds a failed Result with the given explanation.
func Failure(output string) Result {
	return Result{Success: false, Output: output}
}

// Success builds a successful Result with the given output.
func Ok(output string) Result {
	return Result{Success: true, Output: output}
}

// Executor is one callable tool.
type Executor interface {
	// Definition returns the provider-neutral schema advertised to the
	// model.
	Definition() providers.ToolDefinition

	// Execute runs the tool. Failures an agent can recover from belong in
	// Result with Success false; an error return means the call itself
	// could not be made.
	Execute(ctx context.Context, session SessionContext, args map[string]any) (Result, error)
}

// =============================================================================
// Argument Helpers
// =============================================================================

// StringArg extracts a string argument, returning "" when absent or not a
// string.
func StringArg(args map[string]any, key string) string {
	value, ok := args[key].(string)
	if !ok {
		return ""
	}
	return value
}

// FloatArg extracts a numeric argument. JSON unmarshals numbers as float64.
func FloatArg(args map[string]any, key string, fallback float64) float64 {
	value, ok := args[key].(float64)
	if !ok {
		return fallback
	}
	return value
}
