package tools

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adalundhe/reverie/core/memory"
	"github.com/adalundhe/reverie/core/providers"
	"github.com/adalundhe/reverie/core/workspace"
)

func testWorkspace(t *testing.T) *workspace.Store {
	t.Helper()
	store, err := workspace.NewStore(t.TempDir(), nil)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestWriteThenReadDoc(t *testing.T) {
	store := testWorkspace(t)
	ctx := context.Background()
	session := SessionContext{SessionID: "s1", WorkspaceRoot: store.Root()}

	write := &WriteDocTool{Store: store}
	result, err := write.Execute(ctx, session, map[string]any{
		"name":    workspace.DocUser,
		"content": "prefers short answers",
	})
	require.NoError(t, err)
	assert.True(t, result.Success)

	read := &ReadDocTool{Store: store}
	result, err = read.Execute(ctx, session, map[string]any{"name": workspace.DocUser})
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, "prefers short answers", result.Output)
}

func TestAppendDocTool(t *testing.T) {
	store := testWorkspace(t)
	ctx := context.Background()

	appendTool := &AppendDocTool{Store: store}
	for _, line := range []string{"- weather lookups", "- reminders"} {
		result, err := appendTool.Execute(ctx, SessionContext{}, map[string]any{
			"name":    workspace.DocSkills,
			"content": line,
		})
		require.NoError(t, err)
		assert.True(t, result.Success)
	}

	text, err := store.ReadDoc(workspace.DocSkills)
	require.NoError(t, err)
	assert.Equal(t, "- weather lookups\n- reminders", text)
}

func TestListDocsTool(t *testing.T) {
	store := testWorkspace(t)
	ctx := context.Background()

	list := &ListDocsTool{Store: store}
	result, err := list.Execute(ctx, SessionContext{}, map[string]any{})
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Contains(t, result.Output, "empty")

	require.NoError(t, store.WriteDoc(workspace.DocIdentity, "x"))
	result, err = list.Execute(ctx, SessionContext{}, map[string]any{})
	require.NoError(t, err)
	assert.Equal(t, workspace.DocIdentity, result.Output)
}

func TestReadDocMissingIsEmpty(t *testing.T) {
	store := testWorkspace(t)

	read := &ReadDocTool{Store: store}
	result, err := read.Execute(context.Background(), SessionContext{}, map[string]any{
		"name": workspace.DocSkills,
	})
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Contains(t, result.Output, "empty")
}

func TestDocToolsRejectBadArgs(t *testing.T) {
	store := testWorkspace(t)
	ctx := context.Background()

	read := &ReadDocTool{Store: store}
	result, err := read.Execute(ctx, SessionContext{}, map[string]any{})
	require.NoError(t, err)
	assert.False(t, result.Success)

	// Path traversal is rejected by the workspace store.
	result, err = read.Execute(ctx, SessionContext{}, map[string]any{"name": "../etc/passwd"})
	require.NoError(t, err)
	assert.False(t, result.Success)
}

func TestMemorySaveTool(t *testing.T) {
	engine, err := memory.NewEngine(memory.DefaultEngineConfig(), providers.NewHashEmbedder(64), nil)
	require.NoError(t, err)
	defer engine.Close()

	save := &MemorySaveTool{Engine: engine}
	result, err := save.Execute(context.Background(), SessionContext{}, map[string]any{
		"text":     "the user is allergic to peanuts",
		"salience": 0.95,
	})
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, 1, engine.Count())

	result, err = save.Execute(context.Background(), SessionContext{}, map[string]any{"text": "   "})
	require.NoError(t, err)
	assert.False(t, result.Success)
}

func TestMemorySearchTool(t *testing.T) {
	engine, err := memory.NewEngine(memory.DefaultEngineConfig(), providers.NewHashEmbedder(64), nil)
	require.NoError(t, err)
	defer engine.Close()

	_, err = engine.Add(context.Background(), "standup happens at nine thirty", memory.Metadata{})
	require.NoError(t, err)

	search := &MemorySearchTool{Engine: engine}
	result, err := search.Execute(context.Background(), SessionContext{}, map[string]any{
		"query": "standup meeting nine thirty",
	})
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Contains(t, result.Output, "nine thirty")
}

func TestRestartTool(t *testing.T) {
	restart := &RestartTool{}
	result, err := restart.Execute(context.Background(), SessionContext{}, map[string]any{
		"note": "config change",
	})
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.True(t, result.RestartRequested)
	assert.Contains(t, result.Output, "config change")
}
