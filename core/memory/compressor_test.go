package memory

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adalundhe/reverie/core/providers"
	"github.com/adalundhe/reverie/core/tokens"
)

func recalledEntry(text string, score float64) Recalled {
	return Recalled{
		Entry: Entry{
			Text:      text,
			Role:      "user",
			Timestamp: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		},
		Similarity:    score,
		CombinedScore: score,
	}
}

func TestCompressorConfigForContext(t *testing.T) {
	tests := []struct {
		name           string
		limit          int
		wantRaw        int
		wantCompressed int
	}{
		{"tight window floors the budget", 1024, 256, 64},
		{"mid window scales", 8192, 819, 204},
		{"large window caps at the default", 200000, 2000, 500},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := CompressorConfigForContext(tt.limit)
			assert.Equal(t, tt.wantRaw, cfg.RawCeilingTokens)
			assert.Equal(t, tt.wantCompressed, cfg.CompressedCeilingTokens)
		})
	}
}

func TestCompressEmpty(t *testing.T) {
	c := NewCompressor(DefaultCompressorConfig(), providers.NewScriptedProvider(), tokens.NewAccountant(tokens.DefaultConfig()), nil)
	assert.Equal(t, "", c.Compress(context.Background(), nil))
}

func TestCompressSmallSetReturnsRendering(t *testing.T) {
	provider := providers.NewScriptedProvider()
	provider.SummarizeErr = errors.New("must not be called")
	c := NewCompressor(DefaultCompressorConfig(), provider, tokens.NewAccountant(tokens.DefaultConfig()), nil)

	out := c.Compress(context.Background(), []Recalled{
		recalledEntry("the user prefers tabs over spaces", 0.9),
		recalledEntry("standup moved to 9:30", 0.6),
	})

	assert.Contains(t, out, "tabs over spaces")
	assert.Contains(t, out, "9:30")
}

func TestCompressTiersRelatedEntries(t *testing.T) {
	c := NewCompressor(DefaultCompressorConfig(), providers.NewScriptedProvider(), tokens.NewAccountant(tokens.DefaultConfig()), nil)

	recalled := make([]Recalled, 0, 7)
	for _, text := range []string{
		"first", "second", "third", "fourth", "fifth", "sixth", "seventh",
	} {
		recalled = append(recalled, recalledEntry("fact "+text, 0.5))
	}

	out := c.Compress(context.Background(), recalled)
	assert.Contains(t, out, "Related:")
	assert.Contains(t, out, "fact seventh")
}

func TestCompressUsesProviderOverBudget(t *testing.T) {
	provider := providers.NewScriptedProvider()
	provider.SummaryText = "dense digest of recalled facts"

	config := DefaultCompressorConfig()
	config.CompressedCeilingTokens = 20
	c := NewCompressor(config, provider, tokens.NewAccountant(tokens.DefaultConfig()), nil)

	var recalled []Recalled
	for i := 0; i < 5; i++ {
		recalled = append(recalled, recalledEntry(strings.Repeat("a detailed recollection of events ", 20), 0.8))
	}

	out := c.Compress(context.Background(), recalled)
	assert.Equal(t, "dense digest of recalled facts", out)
}

func TestCompressFallsBackOnProviderFailure(t *testing.T) {
	provider := providers.NewScriptedProvider()
	provider.SummarizeErr = errors.New("provider down")

	config := DefaultCompressorConfig()
	config.CompressedCeilingTokens = 40
	accountant := tokens.NewAccountant(tokens.DefaultConfig())
	c := NewCompressor(config, provider, accountant, nil)

	var recalled []Recalled
	for i := 0; i < 5; i++ {
		recalled = append(recalled, recalledEntry(strings.Repeat("notable details worth keeping around ", 15), 0.8))
	}

	out := c.Compress(context.Background(), recalled)
	require.NotEmpty(t, out)
	assert.NotContains(t, out, "- [0.80]", "heuristic output strips score tags")
	assert.LessOrEqual(t, accountant.CountText(out), config.CompressedCeilingTokens)
}
