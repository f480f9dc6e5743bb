package tokens

import (
	"log/slog"
	"sync"
	"unicode/utf8"

	"github.com/pkoukk/tiktoken-go"

	"github.com/adalundhe/reverie/core/chat"
)

// messageOverheadTokens approximates the per-message framing cost
// (role markers, separators) that providers bill beyond raw content.
const messageOverheadTokens = 4

// Config configures the accountant.
type Config struct {
	// Encoding names the tiktoken encoding (default: cl100k_base).
	Encoding string

	// FallbackCharsPerToken is used when the tokenizer cannot be
	// initialized (default: 4).
	FallbackCharsPerToken int
}

// DefaultConfig returns the default accountant configuration.
func DefaultConfig() Config {
	return Config{
		Encoding:              "cl100k_base",
		FallbackCharsPerToken: 4,
	}
}

// Accountant estimates token costs for messages and strings, and truncates
// strings to a token budget. All methods are pure and safe for concurrent
// use. The tokenizer is initialized lazily on first use; if initialization
// fails the accountant degrades to a chars-per-token heuristic.
type Accountant struct {
	config Config

	initOnce sync.Once
	encoder  *tiktoken.Tiktoken
}

// NewAccountant creates an accountant with the given configuration.
func NewAccountant(config Config) *Accountant {
	if config.Encoding == "" {
		config.Encoding = DefaultConfig().Encoding
	}
	if config.FallbackCharsPerToken <= 0 {
		config.FallbackCharsPerToken = DefaultConfig().FallbackCharsPerToken
	}
	return &Accountant{config: config}
}

func (a *Accountant) init() *tiktoken.Tiktoken {
	a.initOnce.Do(func() {
		enc, err := tiktoken.GetEncoding(a.config.Encoding)
		if err != nil {
			slog.Warn("tokenizer init failed, using character heuristic",
				"encoding", a.config.Encoding, "error", err)
			return
		}
		a.encoder = enc
	})
	return a.encoder
}

// CountText estimates the token cost of a single string.
func (a *Accountant) CountText(text string) int {
	if text == "" {
		return 0
	}
	if enc := a.init(); enc != nil {
		return len(enc.Encode(text, nil, nil))
	}
	return a.charsToTokens(len(text))
}

// Count estimates the token cost of a message list, including tool call
// payloads, reasoning text, and per-message framing overhead.
func (a *Accountant) Count(messages []chat.Message) int {
	total := 0
	for _, msg := range messages {
		total += a.countMessage(msg)
	}
	return total
}

func (a *Accountant) countMessage(msg chat.Message) int {
	tokens := messageOverheadTokens
	tokens += a.CountText(msg.Content)
	tokens += a.CountText(msg.Reasoning)
	for _, call := range msg.ToolCalls {
		tokens += a.CountText(call.Name)
		tokens += a.CountText(call.Arguments)
	}
	return tokens
}

// TruncateToLimit cuts text so that it costs at most maxTokens tokens,
// preferring a token boundary and never splitting inside a multi-byte rune.
func (a *Accountant) TruncateToLimit(text string, maxTokens int) string {
	if maxTokens <= 0 {
		return ""
	}
	if text == "" {
		return text
	}

	if enc := a.init(); enc != nil {
		ids := enc.Encode(text, nil, nil)
		if len(ids) <= maxTokens {
			return text
		}
		return trimInvalidSuffix(enc.Decode(ids[:maxTokens]))
	}

	maxBytes := maxTokens * a.config.FallbackCharsPerToken
	if len(text) <= maxBytes {
		return text
	}
	return cutAtRuneBoundary(text, maxBytes)
}

func (a *Accountant) charsToTokens(chars int) int {
	per := a.config.FallbackCharsPerToken
	return (chars + per - 1) / per
}

// trimInvalidSuffix drops trailing bytes left over when a token boundary
// falls inside a multi-byte rune.
func trimInvalidSuffix(s string) string {
	for len(s) > 0 {
		r, size := utf8.DecodeLastRuneInString(s)
		if r != utf8.RuneError || size > 1 {
			return s
		}
		s = s[:len(s)-size]
	}
	return s
}

// cutAtRuneBoundary truncates s to at most maxBytes bytes without splitting
// a rune.
func cutAtRuneBoundary(s string, maxBytes int) string {
	if len(s) <= maxBytes {
		return s
	}
	cut := maxBytes
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}
