// Package window manages a session's context-window budget: summarization
// based compression when history approaches the limit, then hard pruning of
// the oldest messages when it still will not fit.
package window

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/adalundhe/reverie/core/chat"
	"github.com/adalundhe/reverie/core/providers"
	"github.com/adalundhe/reverie/core/tokens"
)

const (
	// minContextLimit is the safety floor for any resolved context limit.
	minContextLimit = 1024

	// minKeepRecent is the floor for the verbatim-retained tail.
	minKeepRecent = 4

	// minCompressBatch is the smallest slice worth summarizing.
	minCompressBatch = 5

	// summaryPrefix marks the synthetic message produced by compression.
	// The prefixed message is pinned: pruning never drops it.
	summaryPrefix = "[Earlier conversation summary: "
	summarySuffix = "]"
)

// Config configures the manager.
type Config struct {
	// ContextLimit is the resolved token budget; use ResolveLimit.
	ContextLimit int

	// CompressionThreshold is the fraction of the limit at which
	// compression fires (default 0.8).
	CompressionThreshold float64

	// KeepRecent is how many trailing messages stay verbatim during
	// compression (default 20, floored at 4).
	KeepRecent int

	// PruneTarget is the fraction of the limit pruning aims under
	// (default 0.85).
	PruneTarget float64

	// MinRetained is the message-count floor pruning will not cross
	// (default 4).
	MinRetained int
}

// DefaultConfig returns defaults for the given resolved context limit.
func DefaultConfig(contextLimit int) Config {
	return Config{
		ContextLimit:         contextLimit,
		CompressionThreshold: 0.8,
		KeepRecent:           20,
		PruneTarget:          0.85,
		MinRetained:          4,
	}
}

// ResolveLimit computes the effective context limit: the provider-advertised
// window lowered by an optional caller cap, floored at the safety minimum.
func ResolveLimit(advertised, cap int) int {
	limit := advertised
	if cap > 0 && cap < limit {
		limit = cap
	}
	if limit < minContextLimit {
		limit = minContextLimit
	}
	return limit
}

// AdaptiveKeepRecent scales the verbatim tail down for capped windows: a
// tight budget cannot afford 20 verbatim messages.
func AdaptiveKeepRecent(keepRecent, contextLimit int, capped bool) int {
	if keepRecent <= 0 {
		keepRecent = 20
	}
	if capped {
		scaled := contextLimit / 2048
		if scaled < keepRecent {
			keepRecent = scaled
		}
	}
	if keepRecent < minKeepRecent {
		keepRecent = minKeepRecent
	}
	return keepRecent
}

// Result reports what Apply did.
type Result struct {
	// Compressed is true when a summary replaced older history.
	Compressed bool

	// Pruned is how many messages hard pruning dropped.
	Pruned int

	// Changed is true when history was mutated and the persisted log
	// should be rewritten.
	Changed bool
}

// Manager applies the two context-budget mechanisms in order. It never
// fails the turn: provider errors during summarization are logged and
// compression is skipped.
type Manager struct {
	config     Config
	provider   providers.Provider
	accountant *tokens.Accountant
	logger     *slog.Logger
}

// NewManager creates a manager.
func NewManager(config Config, provider providers.Provider, accountant *tokens.Accountant, logger *slog.Logger) *Manager {
	defaults := DefaultConfig(config.ContextLimit)
	if config.CompressionThreshold <= 0 || config.CompressionThreshold >= 1 {
		config.CompressionThreshold = defaults.CompressionThreshold
	}
	if config.KeepRecent < minKeepRecent {
		config.KeepRecent = defaults.KeepRecent
	}
	if config.PruneTarget <= 0 || config.PruneTarget >= 1 {
		config.PruneTarget = defaults.PruneTarget
	}
	if config.MinRetained <= 0 {
		config.MinRetained = defaults.MinRetained
	}
	if config.ContextLimit < minContextLimit {
		config.ContextLimit = minContextLimit
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		config:     config,
		provider:   provider,
		accountant: accountant,
		logger:     logger,
	}
}

// Apply runs compression then pruning over history and returns the possibly
// rewritten history. Running Apply twice with no new messages is a no-op
// the second time.
func (m *Manager) Apply(ctx context.Context, history []chat.Message) ([]chat.Message, Result) {
	var result Result

	history, compressed := m.compress(ctx, history)
	result.Compressed = compressed

	history, pruned := m.prune(history)
	result.Pruned = pruned

	result.Changed = compressed || pruned > 0
	return history, result
}

// compress replaces everything except the last KeepRecent messages with a
// synthetic summary message once estimated history tokens cross the
// threshold.
func (m *Manager) compress(ctx context.Context, history []chat.Message) ([]chat.Message, bool) {
	threshold := int(float64(m.config.ContextLimit) * m.config.CompressionThreshold)
	if m.accountant.Count(history) < threshold {
		return history, false
	}

	keep := m.config.KeepRecent
	if len(history) <= keep {
		return history, false
	}

	toCompress := history[:len(history)-keep]
	toKeep := history[len(history)-keep:]
	if len(toCompress) < minCompressBatch {
		return history, false
	}

	summary, err := m.provider.Summarize(ctx, toCompress)
	if err != nil {
		m.logger.Warn("history summarization failed, leaving context as-is", "error", err)
		return history, false
	}
	summary = strings.TrimSpace(summary)
	if summary == "" {
		return history, false
	}

	compacted := make([]chat.Message, 0, len(toKeep)+1)
	compacted = append(compacted, chat.NewAssistantMessage(summaryPrefix+summary+summarySuffix))
	compacted = append(compacted, toKeep...)

	m.logger.Info("compressed conversation history",
		"summarized", len(toCompress), "kept", len(toKeep))
	return compacted, true
}

// prune drops the oldest non-pinned messages while history still exceeds
// the context limit, stopping at the prune target or the retained floor.
// The caller's slice is never mutated: pruning works on a copy, so the
// input stays valid if the pruned history is not persisted.
func (m *Manager) prune(history []chat.Message) ([]chat.Message, int) {
	if m.accountant.Count(history) < m.config.ContextLimit {
		return history, 0
	}

	target := int(float64(m.config.ContextLimit) * m.config.PruneTarget)
	pruned := 0

	remaining := make([]chat.Message, len(history))
	copy(remaining, history)

	for len(remaining) > m.config.MinRetained && m.accountant.Count(remaining) >= target {
		idx := 0
		if IsSummaryMessage(remaining[0]) {
			if len(remaining) <= m.config.MinRetained+1 {
				break
			}
			idx = 1
		}
		remaining = append(remaining[:idx], remaining[idx+1:]...)
		pruned++
	}

	if pruned == 0 {
		return history, 0
	}

	m.logger.Info("pruned conversation history", "dropped", pruned, "remaining", len(remaining))
	return remaining, pruned
}

// IsSummaryMessage reports whether a message is the synthetic compression
// summary.
func IsSummaryMessage(msg chat.Message) bool {
	return msg.Role == chat.RoleAssistant && strings.HasPrefix(msg.Content, summaryPrefix)
}

// SummaryMessage builds the synthetic summary message; exposed for tests.
func SummaryMessage(summary string) chat.Message {
	return chat.NewAssistantMessage(fmt.Sprintf("%s%s%s", summaryPrefix, summary, summarySuffix))
}
