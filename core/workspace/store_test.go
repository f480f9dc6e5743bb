package workspace

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adalundhe/reverie/core/chat"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := NewStore(t.TempDir(), nil)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestReadDocMissing(t *testing.T) {
	store := newTestStore(t)
	text, err := store.ReadDoc(DocIdentity)
	require.NoError(t, err)
	assert.Equal(t, "", text)
}

func TestWriteAndReadDoc(t *testing.T) {
	store := newTestStore(t)

	require.NoError(t, store.WriteDoc(DocQuickMemory, "remember the milk"))
	text, err := store.ReadDoc(DocQuickMemory)
	require.NoError(t, err)
	assert.Equal(t, "remember the milk", text)
}

func TestAppendDoc(t *testing.T) {
	store := newTestStore(t)

	require.NoError(t, store.AppendDoc(DocSkills, "- can fetch weather"))
	require.NoError(t, store.AppendDoc(DocSkills, "- can set reminders"))

	text, err := store.ReadDoc(DocSkills)
	require.NoError(t, err)
	assert.Equal(t, "- can fetch weather\n- can set reminders", text)
}

func TestListDocs(t *testing.T) {
	store := newTestStore(t)

	names, err := store.ListDocs()
	require.NoError(t, err)
	assert.Empty(t, names)

	require.NoError(t, store.WriteDoc(DocUser, "u"))
	require.NoError(t, store.WriteDoc(DocIdentity, "i"))

	names, err = store.ListDocs()
	require.NoError(t, err)
	assert.Equal(t, []string{DocIdentity, DocUser}, names)
}

func TestReadDocPicksUpExternalEdit(t *testing.T) {
	store := newTestStore(t)
	require.NoError(t, store.WriteDoc(DocUser, "v1"))

	// Simulate a user editing the file outside the process.
	path := filepath.Join(store.Root(), DocUser)
	require.NoError(t, os.WriteFile(path, []byte("v2"), 0o644))

	require.Eventually(t, func() bool {
		text, err := store.ReadDoc(DocUser)
		return err == nil && text == "v2"
	}, 3*time.Second, 20*time.Millisecond, "watcher should invalidate the cache")
}

func TestValidateDocName(t *testing.T) {
	store := newTestStore(t)

	for _, name := range []string{"", "../secrets", "a/b.md", `a\b.md`} {
		_, err := store.ReadDoc(name)
		assert.Error(t, err, "name %q should be rejected", name)
		assert.Error(t, store.WriteDoc(name, "x"))
	}
}

func TestTurnLogAppendAndLoad(t *testing.T) {
	store := newTestStore(t)

	require.NoError(t, store.AppendTurn("s1", chat.NewUserMessage("hello")))
	require.NoError(t, store.AppendTurn("s1", chat.NewAssistantMessage("hi")))

	turns, err := store.LoadAllTurns("s1")
	require.NoError(t, err)
	require.Len(t, turns, 2)
	assert.Equal(t, chat.RoleUser, turns[0].Role)
	assert.Equal(t, "hello", turns[0].Content)
	assert.Equal(t, chat.RoleAssistant, turns[1].Role)
}

func TestLoadAllTurnsMissingSession(t *testing.T) {
	store := newTestStore(t)
	turns, err := store.LoadAllTurns("never-seen")
	require.NoError(t, err)
	assert.Nil(t, turns)
}

func TestLoadAllTurnsSkipsCorruptLines(t *testing.T) {
	store := newTestStore(t)
	require.NoError(t, store.AppendTurn("s1", chat.NewUserMessage("valid")))

	path := filepath.Join(store.Root(), "history", "s1.jsonl")
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	require.NoError(t, err)
	_, err = f.WriteString("{not json\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())
	require.NoError(t, store.AppendTurn("s1", chat.NewAssistantMessage("also valid")))

	turns, err := store.LoadAllTurns("s1")
	require.NoError(t, err)
	assert.Len(t, turns, 2)
}

func TestRewriteAllTurns(t *testing.T) {
	store := newTestStore(t)
	for i := 0; i < 5; i++ {
		require.NoError(t, store.AppendTurn("s1", chat.NewUserMessage("old")))
	}

	replacement := []chat.Message{
		chat.NewAssistantMessage("[Earlier conversation summary: it was long]"),
		chat.NewUserMessage("latest"),
	}
	require.NoError(t, store.RewriteAllTurns("s1", replacement))

	turns, err := store.LoadAllTurns("s1")
	require.NoError(t, err)
	require.Len(t, turns, 2)
	assert.Contains(t, turns[0].Content, "Earlier conversation summary")
}

func TestClearTurns(t *testing.T) {
	store := newTestStore(t)
	require.NoError(t, store.AppendTurn("s1", chat.NewUserMessage("hello")))
	require.NoError(t, store.ClearTurns("s1"))

	turns, err := store.LoadAllTurns("s1")
	require.NoError(t, err)
	assert.Empty(t, turns)

	// Clearing an already-clear session is fine.
	require.NoError(t, store.ClearTurns("s1"))
}

func TestListSessions(t *testing.T) {
	store := newTestStore(t)
	require.NoError(t, store.AppendTurn("alpha", chat.NewUserMessage("a")))
	require.NoError(t, store.AppendTurn("beta", chat.NewUserMessage("b")))

	sessions, err := store.ListSessions()
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"alpha", "beta"}, sessions)
}

func TestResumeMarkerConsumedOnce(t *testing.T) {
	store := newTestStore(t)

	note, err := store.ConsumeResumeMarker("s1")
	require.NoError(t, err)
	assert.Equal(t, "", note)

	require.NoError(t, store.WriteResumeMarker("s1", "mid-task restart"))

	note, err = store.ConsumeResumeMarker("s1")
	require.NoError(t, err)
	assert.Equal(t, "mid-task restart", note)

	note, err = store.ConsumeResumeMarker("s1")
	require.NoError(t, err)
	assert.Equal(t, "", note)
}
