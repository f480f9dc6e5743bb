package agent

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/adalundhe/reverie/core/chat"
	"github.com/adalundhe/reverie/core/providers"
	"github.com/adalundhe/reverie/core/workspace"
)

// =============================================================================
// System Prompt Assembly
// =============================================================================

// promptSection renders one titled block when its body is non-empty.
func promptSection(b *strings.Builder, title, body string) {
	body = strings.TrimSpace(body)
	if body == "" {
		return
	}
	fmt.Fprintf(b, "## %s\n\n%s\n\n", title, body)
}

// buildSystemPrompt assembles the per-turn system prompt from the workspace
// documents, the compressed recall digest, and the advertised tool surface.
// Missing documents simply omit their section.
func buildSystemPrompt(store *workspace.Store, recalled string, tools []providers.ToolDefinition) string {
	var b strings.Builder

	identity, _ := store.ReadDoc(workspace.DocIdentity)
	if strings.TrimSpace(identity) == "" {
		identity = "You are a helpful assistant with persistent memory across conversations."
	}
	b.WriteString(strings.TrimSpace(identity))
	b.WriteString("\n\n")

	user, _ := store.ReadDoc(workspace.DocUser)
	promptSection(&b, "About the user", user)

	quick, _ := store.ReadDoc(workspace.DocQuickMemory)
	promptSection(&b, "Quick memory", quick)

	promptSection(&b, "Recalled memories", recalled)

	skills, _ := store.ReadDoc(workspace.DocSkills)
	promptSection(&b, "Skills", skills)

	promptSection(&b, "Workspace",
		fmt.Sprintf("Your file tools operate only inside the workspace directory at %s. "+
			"Paths outside it are rejected.", store.Root()))

	if len(tools) > 0 {
		names := make([]string, 0, len(tools))
		for _, t := range tools {
			names = append(names, t.Name)
		}
		promptSection(&b, "Connected tools", strings.Join(names, ", "))
	}

	return strings.TrimSpace(b.String())
}

// recentContextDigest joins the text of the most recent messages into one
// recall cue, capped so a long turn does not dominate the embedding.
func recentContextDigest(history []chat.Message, maxMessages, maxBytes int) string {
	if maxMessages <= 0 || len(history) == 0 {
		return ""
	}
	start := len(history) - maxMessages
	if start < 0 {
		start = 0
	}

	var parts []string
	for _, msg := range history[start:] {
		text := strings.TrimSpace(msg.Content)
		if text == "" || msg.Role == chat.RoleSystem {
			continue
		}
		parts = append(parts, text)
	}

	digest := strings.Join(parts, "\n")
	if len(digest) > maxBytes {
		digest = digest[:maxBytes]
		for len(digest) > 0 && !utf8.ValidString(digest) {
			digest = digest[:len(digest)-1]
		}
	}
	return digest
}
