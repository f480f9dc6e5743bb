package memory

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/adalundhe/reverie/core/providers"
	"github.com/adalundhe/reverie/core/tokens"
)

// CompressorConfig configures recall-result compression.
type CompressorConfig struct {
	// CriticalCount is how many top-scoring entries render with full
	// detail (default 5).
	CriticalCount int

	// PerEntryCap bounds a critical entry's rendered text in bytes
	// (default 600).
	PerEntryCap int

	// RelatedCap bounds a related-tier entry's rendered text in bytes
	// (default 160).
	RelatedCap int

	// RawCeilingTokens bounds the raw rendering; derived from the session
	// context limit by the caller (default 2000).
	RawCeilingTokens int

	// CompressedCeilingTokens is the budget the final digest must fit
	// (default 500).
	CompressedCeilingTokens int
}

// DefaultCompressorConfig returns the default compressor configuration.
func DefaultCompressorConfig() CompressorConfig {
	return CompressorConfig{
		CriticalCount:           5,
		PerEntryCap:             600,
		RelatedCap:              160,
		RawCeilingTokens:        2000,
		CompressedCeilingTokens: 500,
	}
}

// CompressorConfigForContext scales the compression budgets to a resolved
// context limit: the raw rendering may use up to a tenth of the window and
// the final digest a quarter of that, clamped so tight windows still get a
// usable recall block and huge windows do not flood the prompt.
func CompressorConfigForContext(contextLimit int) CompressorConfig {
	cfg := DefaultCompressorConfig()

	raw := contextLimit / 10
	if raw < 256 {
		raw = 256
	}
	if raw > cfg.RawCeilingTokens {
		raw = cfg.RawCeilingTokens
	}
	cfg.RawCeilingTokens = raw
	cfg.CompressedCeilingTokens = raw / 4
	return cfg
}

// Compressor renders recalled entries into a prompt section bounded by a
// token budget, summarizing through the provider when the raw rendering is
// too large. It never fails: every error path degrades to a local
// heuristic compression.
type Compressor struct {
	config     CompressorConfig
	provider   providers.Provider
	accountant *tokens.Accountant
	logger     *slog.Logger
}

// NewCompressor creates a compressor.
func NewCompressor(config CompressorConfig, provider providers.Provider, accountant *tokens.Accountant, logger *slog.Logger) *Compressor {
	defaults := DefaultCompressorConfig()
	if config.CriticalCount <= 0 {
		config.CriticalCount = defaults.CriticalCount
	}
	if config.PerEntryCap <= 0 {
		config.PerEntryCap = defaults.PerEntryCap
	}
	if config.RelatedCap <= 0 {
		config.RelatedCap = defaults.RelatedCap
	}
	if config.RawCeilingTokens <= 0 {
		config.RawCeilingTokens = defaults.RawCeilingTokens
	}
	if config.CompressedCeilingTokens <= 0 {
		config.CompressedCeilingTokens = defaults.CompressedCeilingTokens
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Compressor{
		config:     config,
		provider:   provider,
		accountant: accountant,
		logger:     logger,
	}
}

const memorySummarizePrompt = "Compress these recalled memories into a dense digest. " +
	"Preserve exact numbers, dates, file paths, IDs, and decisions. Drop adjectives and filler. " +
	"Output plain statements, one per line."

// Compress renders recalled entries under the compressed token ceiling.
func (c *Compressor) Compress(ctx context.Context, recalled []Recalled) string {
	if len(recalled) == 0 {
		return ""
	}

	raw := c.render(recalled)
	raw = c.accountant.TruncateToLimit(raw, c.config.RawCeilingTokens)

	if c.accountant.CountText(raw) <= c.config.CompressedCeilingTokens {
		return raw
	}

	digest, err := c.provider.SummarizeText(ctx, raw, providers.SummarizeOptions{
		SystemPrompt: memorySummarizePrompt,
		MaxTokens:    c.config.CompressedCeilingTokens,
	})
	if err != nil || strings.TrimSpace(digest) == "" {
		if err != nil {
			c.logger.Warn("recall compression via provider failed, using heuristic", "error", err)
		}
		return c.heuristic(raw)
	}
	return c.accountant.TruncateToLimit(digest, c.config.CompressedCeilingTokens)
}

// render lays out a critical tier (full detail) and a related tier (terse).
func (c *Compressor) render(recalled []Recalled) string {
	var b strings.Builder

	critical := recalled
	var related []Recalled
	if len(recalled) > c.config.CriticalCount {
		critical = recalled[:c.config.CriticalCount]
		related = recalled[c.config.CriticalCount:]
	}

	for _, r := range critical {
		text := capText(r.Entry.Text, c.config.PerEntryCap)
		fmt.Fprintf(&b, "- [%.2f] %s (%s, %s)\n",
			r.CombinedScore, text, r.Entry.Role, r.Entry.Timestamp.Format("2006-01-02"))
	}

	if len(related) > 0 {
		b.WriteString("Related:\n")
		for _, r := range related {
			fmt.Fprintf(&b, "- %s\n", capText(r.Entry.Text, c.config.RelatedCap))
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

// heuristic is the local fallback: keep top lines, strip bracketed score
// tags, hard-truncate to the ceiling.
func (c *Compressor) heuristic(raw string) string {
	lines := strings.Split(raw, "\n")
	var b strings.Builder
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" || line == "Related:" {
			continue
		}
		if idx := strings.Index(line, "] "); strings.HasPrefix(line, "- [") && idx >= 0 {
			line = "- " + line[idx+2:]
		}
		b.WriteString(line)
		b.WriteByte('\n')
		if c.accountant.CountText(b.String()) > c.config.CompressedCeilingTokens {
			break
		}
	}
	return c.accountant.TruncateToLimit(strings.TrimRight(b.String(), "\n"), c.config.CompressedCeilingTokens)
}

func capText(text string, max int) string {
	text = strings.ReplaceAll(text, "\n", " ")
	if len(text) <= max {
		return text
	}
	cut := max
	for cut > 0 && text[cut]&0xC0 == 0x80 {
		cut--
	}
	return text[:cut] + "…"
}
