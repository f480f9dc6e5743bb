package memory

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplitTextShortInputSingleChunk(t *testing.T) {
	chunks := SplitText("one short thought.", 2000)
	require.Len(t, chunks, 1)
	assert.Equal(t, "one short thought.", chunks[0])
}

func TestSplitTextEmptyInput(t *testing.T) {
	assert.Nil(t, SplitText("", 2000))
	assert.Nil(t, SplitText("   \n\t  ", 2000))
}

func TestSplitTextRespectsCeiling(t *testing.T) {
	var b strings.Builder
	for i := 0; i < 120; i++ {
		b.WriteString("This sentence pads the text toward the ceiling. ")
	}

	chunks := SplitText(b.String(), 200)
	require.Greater(t, len(chunks), 1)
	for i, chunk := range chunks {
		assert.LessOrEqual(t, len(chunk), 200, "chunk %d over ceiling", i)
		assert.NotEmpty(t, strings.TrimSpace(chunk))
	}
}

func TestSplitTextPrefersSentenceBoundaries(t *testing.T) {
	text := "First sentence here. Second sentence here. Third sentence here."
	chunks := SplitText(text, 25)

	for _, chunk := range chunks {
		assert.True(t, strings.HasSuffix(chunk, "."), "chunk %q should end at a sentence boundary", chunk)
	}
}

func TestSplitTextNeverSplitsWords(t *testing.T) {
	text := strings.Repeat("alpha beta gamma delta epsilon ", 40)
	chunks := SplitText(text, 64)

	words := map[string]bool{"alpha": true, "beta": true, "gamma": true, "delta": true, "epsilon": true}
	for _, chunk := range chunks {
		for _, word := range strings.Fields(chunk) {
			assert.True(t, words[word], "word %q was split mid-word", word)
		}
	}
}

func TestSplitTextOverlongWord(t *testing.T) {
	word := strings.Repeat("x", 500)
	chunks := SplitText(word, 100)

	require.NotEmpty(t, chunks)
	var rejoined strings.Builder
	for _, chunk := range chunks {
		assert.LessOrEqual(t, len(chunk), 100)
		rejoined.WriteString(chunk)
	}
	assert.Equal(t, word, rejoined.String())
}

func TestSplitTextRoundTrip(t *testing.T) {
	// Mixed sentence lengths, a list, quotes, and multibyte text: rejoining
	// the chunks must reproduce the input modulo whitespace, with no words
	// dropped or doubled.
	text := "Deploys happen every Tuesday at noon. The staging cluster lives in " +
		"us-east-1 and mirrors production almost exactly!\n" +
		"- rotate the API key quarterly\n" +
		"- the on-call rotation is posted in the team channel\n" +
		"\"Did the migration finish?\" was still unanswered on Friday. " +
		"メモリの設定は重要です。 Keep the summary under two hundred tokens " +
		"whenever possible, and prefer plain language over shorthand."

	normalize := func(s string) string {
		return strings.Join(strings.Fields(s), " ")
	}

	for _, ceiling := range []int{40, 80, 200} {
		chunks := SplitText(text, ceiling)
		require.NotEmpty(t, chunks, "ceiling %d", ceiling)
		assert.Equal(t, normalize(text), normalize(strings.Join(chunks, " ")),
			"ceiling %d must preserve content", ceiling)
	}
}

func TestSplitTextMultibyteSafe(t *testing.T) {
	text := strings.Repeat("日本語のテキストです。", 60)
	chunks := SplitText(text, 50)

	for _, chunk := range chunks {
		assert.True(t, utf8.ValidString(chunk))
		assert.LessOrEqual(t, len(chunk), 50)
	}
}

func TestSplitTextNewlinesAreBoundaries(t *testing.T) {
	text := "- item one\n- item two\n- item three"
	chunks := SplitText(text, 12)

	assert.Contains(t, chunks, "- item one")
	assert.Contains(t, chunks, "- item two")
	assert.Contains(t, chunks, "- item three")
}
