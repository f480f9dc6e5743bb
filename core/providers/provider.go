package providers

import (
	"context"
	"time"

	"github.com/adalundhe/reverie/core/chat"
)

// Provider is the chat/summarize surface of an LLM backend. Chat streams
// partial output through the handler before returning the complete response;
// cancellation is cooperative through ctx.
type Provider interface {
	Name() string
	Model() string

	// ContextWindow returns the advertised context size in tokens for the
	// configured model.
	ContextWindow() int

	Chat(ctx context.Context, req *ChatRequest, handler StreamHandler) (*ChatResponse, error)

	// Summarize condenses a conversation slice into a short prose summary.
	Summarize(ctx context.Context, messages []chat.Message) (string, error)

	// SummarizeText condenses free text under explicit instructions, used by
	// the memory recall compressor.
	SummarizeText(ctx context.Context, text string, opts SummarizeOptions) (string, error)
}

// Embedder turns text into a vector. May be backed by a different provider
// than the chat backend.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)

	// Dimensions returns the embedding dimensionality.
	Dimensions() int
}

// StreamHandler receives chunks as they arrive. Returning an error aborts
// the stream.
type StreamHandler func(chunk *StreamChunk) error

// SummarizeOptions adjusts a SummarizeText call.
type SummarizeOptions struct {
	// SystemPrompt overrides the default summarization instruction.
	SystemPrompt string

	// MaxTokens bounds the summary length (0 means provider default).
	MaxTokens int
}

// ToolDefinition describes a callable tool in provider-neutral form.
// Parameters is a JSON-schema object.
type ToolDefinition struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

// ChatRequest is one provider call.
type ChatRequest struct {
	Messages     []chat.Message   `json:"messages"`
	SystemPrompt string           `json:"system_prompt,omitempty"`
	Tools        []ToolDefinition `json:"tools,omitempty"`
	MaxTokens    int              `json:"max_tokens,omitempty"`
	Temperature  *float64         `json:"temperature,omitempty"`
}

// ChatResponse is the complete result of a provider call. Message carries
// the assistant text, any reasoning, and any requested tool calls.
type ChatResponse struct {
	Message    chat.Message `json:"message"`
	StopReason StopReason   `json:"stop_reason"`
	Usage      Usage        `json:"usage"`
}

// StopReason indicates why generation ended.
type StopReason string

const (
	StopReasonEndTurn   StopReason = "end_turn"
	StopReasonMaxTokens StopReason = "max_tokens"
	StopReasonToolUse   StopReason = "tool_use"
	StopReasonError     StopReason = "error"
)

// Usage reports token consumption for one call.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
	TotalTokens  int `json:"total_tokens"`
}

// ChunkType identifies what a stream chunk carries.
type ChunkType string

const (
	ChunkTypeStart     ChunkType = "start"
	ChunkTypeText      ChunkType = "text"
	ChunkTypeReasoning ChunkType = "reasoning"
	ChunkTypeToolStart ChunkType = "tool_start"
	ChunkTypeToolDelta ChunkType = "tool_delta"
	ChunkTypeEnd       ChunkType = "end"
	ChunkTypeError     ChunkType = "error"
)

// StreamChunk is one increment of a streaming response.
type StreamChunk struct {
	Type       ChunkType      `json:"type"`
	Text       string         `json:"text,omitempty"`
	ToolCall   *ToolCallChunk `json:"tool_call,omitempty"`
	StopReason StopReason     `json:"stop_reason,omitempty"`
	Usage      *Usage         `json:"usage,omitempty"`
	Timestamp  time.Time      `json:"timestamp"`
}

// ToolCallChunk carries incremental tool call data.
type ToolCallChunk struct {
	ID             string `json:"id,omitempty"`
	Name           string `json:"name,omitempty"`
	ArgumentsDelta string `json:"arguments_delta,omitempty"`
}
