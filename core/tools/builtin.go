package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/adalundhe/reverie/core/memory"
	"github.com/adalundhe/reverie/core/providers"
	"github.com/adalundhe/reverie/core/workspace"
)

// =============================================================================
// Workspace Document Tools
// =============================================================================

var workspaceDocs = []string{
	workspace.DocIdentity,
	workspace.DocUser,
	workspace.DocQuickMemory,
	workspace.DocSkills,
}

// ReadDocTool reads one of the well-known workspace documents.
type ReadDocTool struct {
	Store *workspace.Store
}

func (t *ReadDocTool) Definition() providers.ToolDefinition {
	return providers.ToolDefinition{
		Name:        "read_doc",
		Description: "Read a workspace document. Valid names: " + strings.Join(workspaceDocs, ", "),
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"name": map[string]any{
					"type":        "string",
					"description": "Document filename",
				},
			},
			"required": []string{"name"},
		},
	}
}

func (t *ReadDocTool) Execute(ctx context.Context, session SessionContext, args map[string]any) (Result, error) {
	name := StringArg(args, "name")
	if name == "" {
		return Failure("missing required argument: name"), nil
	}
	text, err := t.Store.ReadDoc(name)
	if err != nil {
		return Failure(fmt.Sprintf("read %s: %v", name, err)), nil
	}
	if text == "" {
		return Ok(fmt.Sprintf("(%s is empty)", name)), nil
	}
	return Ok(text), nil
}

// WriteDocTool overwrites one of the well-known workspace documents. The
// agent uses it to maintain its identity, user notes, and quick memory.
type WriteDocTool struct {
	Store *workspace.Store
}

func (t *WriteDocTool) Definition() providers.ToolDefinition {
	return providers.ToolDefinition{
		Name:        "write_doc",
		Description: "Overwrite a workspace document. Valid names: " + strings.Join(workspaceDocs, ", "),
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"name": map[string]any{
					"type":        "string",
					"description": "Document filename",
				},
				"content": map[string]any{
					"type":        "string",
					"description": "New document content",
				},
			},
			"required": []string{"name", "content"},
		},
	}
}

func (t *WriteDocTool) Execute(ctx context.Context, session SessionContext, args map[string]any) (Result, error) {
	name := StringArg(args, "name")
	if name == "" {
		return Failure("missing required argument: name"), nil
	}
	content, ok := args["content"].(string)
	if !ok {
		return Failure("missing required argument: content"), nil
	}
	if err := t.Store.WriteDoc(name, content); err != nil {
		return Failure(fmt.Sprintf("write %s: %v", name, err)), nil
	}
	return Ok(fmt.Sprintf("wrote %d bytes to %s", len(content), name)), nil
}

// AppendDocTool appends to a workspace document instead of overwriting it,
// for running notes like skills.md.
type AppendDocTool struct {
	Store *workspace.Store
}

func (t *AppendDocTool) Definition() providers.ToolDefinition {
	return providers.ToolDefinition{
		Name:        "append_doc",
		Description: "Append to a workspace document without overwriting it. Valid names: " + strings.Join(workspaceDocs, ", "),
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"name": map[string]any{
					"type":        "string",
					"description": "Document filename",
				},
				"content": map[string]any{
					"type":        "string",
					"description": "Content to append",
				},
			},
			"required": []string{"name", "content"},
		},
	}
}

func (t *AppendDocTool) Execute(ctx context.Context, session SessionContext, args map[string]any) (Result, error) {
	name := StringArg(args, "name")
	if name == "" {
		return Failure("missing required argument: name"), nil
	}
	content, ok := args["content"].(string)
	if !ok {
		return Failure("missing required argument: content"), nil
	}
	if err := t.Store.AppendDoc(name, content); err != nil {
		return Failure(fmt.Sprintf("append %s: %v", name, err)), nil
	}
	return Ok(fmt.Sprintf("appended %d bytes to %s", len(content), name)), nil
}

// ListDocsTool lists the documents currently in the workspace.
type ListDocsTool struct {
	Store *workspace.Store
}

func (t *ListDocsTool) Definition() providers.ToolDefinition {
	return providers.ToolDefinition{
		Name:        "list_docs",
		Description: "List the documents in the workspace",
		Parameters: map[string]any{
			"type":       "object",
			"properties": map[string]any{},
		},
	}
}

func (t *ListDocsTool) Execute(ctx context.Context, session SessionContext, args map[string]any) (Result, error) {
	names, err := t.Store.ListDocs()
	if err != nil {
		return Failure(fmt.Sprintf("list docs: %v", err)), nil
	}
	if len(names) == 0 {
		return Ok("(workspace is empty)"), nil
	}
	return Ok(strings.Join(names, "\n")), nil
}

// =============================================================================
// Memory Tools
// =============================================================================

// MemorySaveTool stores text in long-term memory with caller-chosen
// salience.
type MemorySaveTool struct {
	Engine *memory.Engine
}

func (t *MemorySaveTool) Definition() providers.ToolDefinition {
	return providers.ToolDefinition{
		Name:        "memory_save",
		Description: "Save important information to long-term memory so it can be recalled in future conversations",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"text": map[string]any{
					"type":        "string",
					"description": "The information to remember",
				},
				"salience": map[string]any{
					"type":        "number",
					"description": "Importance from 0.0 to 1.0 (default 0.8)",
				},
			},
			"required": []string{"text"},
		},
	}
}

func (t *MemorySaveTool) Execute(ctx context.Context, session SessionContext, args map[string]any) (Result, error) {
	text := strings.TrimSpace(StringArg(args, "text"))
	if text == "" {
		return Failure("missing required argument: text"), nil
	}
	salience := FloatArg(args, "salience", 0.8)

	ids, err := t.Engine.Add(ctx, text, memory.Metadata{
		Role:     "assistant",
		Type:     memory.TypeManual,
		Salience: salience,
	})
	if err != nil {
		return Failure(fmt.Sprintf("memory save failed: %v", err)), nil
	}
	if len(ids) == 1 {
		return Ok("saved 1 memory entry"), nil
	}
	return Ok(fmt.Sprintf("saved %d memory entries", len(ids))), nil
}

// MemorySearchTool queries long-term memory without mutating recall counts.
type MemorySearchTool struct {
	Engine *memory.Engine
}

func (t *MemorySearchTool) Definition() providers.ToolDefinition {
	return providers.ToolDefinition{
		Name:        "memory_search",
		Description: "Search long-term memory for entries related to a query",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"query": map[string]any{
					"type":        "string",
					"description": "What to look for",
				},
			},
			"required": []string{"query"},
		},
	}
}

func (t *MemorySearchTool) Execute(ctx context.Context, session SessionContext, args map[string]any) (Result, error) {
	query := strings.TrimSpace(StringArg(args, "query"))
	if query == "" {
		return Failure("missing required argument: query"), nil
	}

	opts := memory.DefaultRecallOptions()
	opts.MarkAsRecalled = false
	recalled, err := t.Engine.Recall(ctx, []string{query}, opts)
	if err != nil {
		return Failure(fmt.Sprintf("memory search failed: %v", err)), nil
	}
	if len(recalled) == 0 {
		return Ok("no matching memories found"), nil
	}

	var b strings.Builder
	for _, r := range recalled {
		fmt.Fprintf(&b, "- [%.2f] %s\n", r.Similarity, r.Entry.Text)
	}
	return Ok(strings.TrimRight(b.String(), "\n")), nil
}

// =============================================================================
// Process Control
// =============================================================================

// RestartTool requests a process restart after the current turn completes.
// The agent writes a resume marker so the next process can pick the
// conversation back up.
type RestartTool struct{}

func (t *RestartTool) Definition() providers.ToolDefinition {
	return providers.ToolDefinition{
		Name:        "restart",
		Description: "Restart the agent process after this turn. Use when a configuration change requires a fresh start.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"note": map[string]any{
					"type":        "string",
					"description": "Short note about why the restart was requested, shown on resume",
				},
			},
		},
	}
}

func (t *RestartTool) Execute(ctx context.Context, session SessionContext, args map[string]any) (Result, error) {
	output := "restart scheduled for end of turn"
	if note := strings.TrimSpace(StringArg(args, "note")); note != "" {
		output = fmt.Sprintf("%s: %s", output, note)
	}
	return Result{
		Success:          true,
		Output:           output,
		RestartRequested: true,
	}, nil
}
