package memory

import (
	"strings"
	"unicode/utf8"
)

// SplitText splits text into chunks of at most ceiling bytes, cutting on
// sentence boundaries first and word boundaries inside oversized sentences.
// Chunks are never empty or whitespace-only, word order is preserved, and
// sentence-terminal punctuation stays attached to its sentence. A single
// word longer than the ceiling is the only case that splits mid-word.
func SplitText(text string, ceiling int) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	if ceiling <= 0 || len(text) <= ceiling {
		return []string{text}
	}

	var chunks []string
	var current strings.Builder

	flush := func() {
		chunk := strings.TrimSpace(current.String())
		if chunk != "" {
			chunks = append(chunks, chunk)
		}
		current.Reset()
	}

	for _, sentence := range splitSentences(text) {
		if len(sentence) > ceiling {
			// Oversized sentence: flush what we have, then pack its words.
			flush()
			for _, piece := range splitWords(sentence, ceiling) {
				chunks = append(chunks, piece)
			}
			continue
		}

		if current.Len() > 0 && current.Len()+1+len(sentence) > ceiling {
			flush()
		}
		if current.Len() > 0 {
			current.WriteByte(' ')
		}
		current.WriteString(sentence)
	}
	flush()

	return chunks
}

// sentence terminators; the terminator (plus any closing quote) stays with
// its sentence.
func isSentenceTerminator(r rune) bool {
	switch r {
	case '.', '!', '?', '…':
		return true
	}
	return false
}

// splitSentences cuts text at sentence boundaries, keeping terminal
// punctuation attached. Newlines also act as boundaries so list items and
// log lines chunk cleanly.
func splitSentences(text string) []string {
	var sentences []string
	start := 0
	runes := []rune(text)
	bytePos := make([]int, len(runes)+1)
	pos := 0
	for i, r := range runes {
		bytePos[i] = pos
		pos += utf8.RuneLen(r)
	}
	bytePos[len(runes)] = pos

	flushTo := func(end int) {
		s := strings.TrimSpace(text[bytePos[start]:bytePos[end]])
		if s != "" {
			sentences = append(sentences, s)
		}
		start = end
	}

	for i := 0; i < len(runes); i++ {
		r := runes[i]
		if r == '\n' {
			flushTo(i + 1)
			continue
		}
		if !isSentenceTerminator(r) {
			continue
		}
		// Consume runs of terminators ("...", "?!") and trailing quotes.
		end := i + 1
		for end < len(runes) && (isSentenceTerminator(runes[end]) || runes[end] == '"' || runes[end] == '\'') {
			end++
		}
		// Only a real boundary when followed by whitespace or end of text.
		if end < len(runes) && !isSpace(runes[end]) {
			continue
		}
		flushTo(end)
		i = end - 1
	}
	flushTo(len(runes))

	return sentences
}

func isSpace(r rune) bool {
	return r == ' ' || r == '\t' || r == '\n' || r == '\r'
}

// splitWords packs words into pieces of at most ceiling bytes, splitting a
// word mid-run only when the word alone exceeds the ceiling.
func splitWords(sentence string, ceiling int) []string {
	var pieces []string
	var current strings.Builder

	flush := func() {
		piece := strings.TrimSpace(current.String())
		if piece != "" {
			pieces = append(pieces, piece)
		}
		current.Reset()
	}

	for _, word := range strings.Fields(sentence) {
		if len(word) > ceiling {
			flush()
			for len(word) > ceiling {
				cut := runeSafeCut(word, ceiling)
				pieces = append(pieces, word[:cut])
				word = word[cut:]
			}
			if word != "" {
				current.WriteString(word)
			}
			continue
		}

		if current.Len() > 0 && current.Len()+1+len(word) > ceiling {
			flush()
		}
		if current.Len() > 0 {
			current.WriteByte(' ')
		}
		current.WriteString(word)
	}
	flush()

	return pieces
}

func runeSafeCut(s string, max int) int {
	cut := max
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	if cut == 0 {
		cut = max
	}
	return cut
}
