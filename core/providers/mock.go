package providers

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/adalundhe/reverie/core/chat"
)

// ScriptedResponse is one step of a ScriptedProvider's script.
type ScriptedResponse struct {
	// Response is returned when Err is nil.
	Response *ChatResponse

	// Err, when set, is returned instead of a response.
	Err error

	// StreamText, when set, is emitted as text chunks before returning.
	StreamText []string
}

// ScriptedProvider is an in-memory Provider for tests: it replays a script
// of responses in order and records every request it receives.
type ScriptedProvider struct {
	mu       sync.Mutex
	script   []ScriptedResponse
	requests []*ChatRequest
	index    int

	// SummaryText is returned by Summarize and SummarizeText.
	SummaryText string

	// SummarizeErr, when set, fails summarization calls.
	SummarizeErr error

	// Window is the advertised context size (default 8192).
	Window int
}

// NewScriptedProvider creates a provider that replays the given script. When
// the script runs out, further calls return a plain end-turn response.
func NewScriptedProvider(script ...ScriptedResponse) *ScriptedProvider {
	return &ScriptedProvider{script: script, SummaryText: "summary"}
}

// Name returns the provider identifier.
func (p *ScriptedProvider) Name() string { return "scripted" }

// Model returns a fixed test model name.
func (p *ScriptedProvider) Model() string { return "scripted-v1" }

// ContextWindow returns the configured window.
func (p *ScriptedProvider) ContextWindow() int {
	if p.Window > 0 {
		return p.Window
	}
	return 8192
}

// Requests returns a copy of every request seen so far.
func (p *ScriptedProvider) Requests() []*ChatRequest {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]*ChatRequest, len(p.requests))
	copy(out, p.requests)
	return out
}

// Chat replays the next scripted step.
func (p *ScriptedProvider) Chat(ctx context.Context, req *ChatRequest, handler StreamHandler) (*ChatResponse, error) {
	p.mu.Lock()
	p.requests = append(p.requests, req)
	var step ScriptedResponse
	if p.index < len(p.script) {
		step = p.script[p.index]
		p.index++
	} else {
		step = ScriptedResponse{Response: &ChatResponse{
			Message:    chat.NewAssistantMessage("ok"),
			StopReason: StopReasonEndTurn,
		}}
	}
	p.mu.Unlock()

	if handler != nil {
		if err := handler(&StreamChunk{Type: ChunkTypeStart, Timestamp: time.Now()}); err != nil {
			return nil, err
		}
		for _, text := range step.StreamText {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			if err := handler(&StreamChunk{Type: ChunkTypeText, Text: text, Timestamp: time.Now()}); err != nil {
				return nil, err
			}
		}
	}

	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	if step.Err != nil {
		return nil, step.Err
	}

	resp := step.Response
	if resp == nil {
		resp = &ChatResponse{
			Message:    chat.NewAssistantMessage(strings.Join(step.StreamText, "")),
			StopReason: StopReasonEndTurn,
		}
	}
	if handler != nil {
		if err := handler(&StreamChunk{Type: ChunkTypeEnd, StopReason: resp.StopReason, Timestamp: time.Now()}); err != nil {
			return nil, err
		}
	}
	return resp, nil
}

// Summarize returns the configured summary text.
func (p *ScriptedProvider) Summarize(ctx context.Context, messages []chat.Message) (string, error) {
	if p.SummarizeErr != nil {
		return "", p.SummarizeErr
	}
	return p.SummaryText, nil
}

// SummarizeText returns the configured summary text.
func (p *ScriptedProvider) SummarizeText(ctx context.Context, text string, opts SummarizeOptions) (string, error) {
	if p.SummarizeErr != nil {
		return "", p.SummarizeErr
	}
	return p.SummaryText, nil
}

// HashEmbedder is a deterministic local Embedder for tests: a normalized
// bag-of-words vector over hashed tokens, so texts sharing words score a
// higher cosine similarity than unrelated texts.
type HashEmbedder struct {
	Dim int

	// Err, when set, fails every Embed call.
	Err error
}

// NewHashEmbedder creates a hash embedder of the given dimensionality.
func NewHashEmbedder(dim int) *HashEmbedder {
	if dim <= 0 {
		dim = 64
	}
	return &HashEmbedder{Dim: dim}
}

// Embed returns a deterministic unit vector derived from the text's words.
func (e *HashEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	if e.Err != nil {
		return nil, e.Err
	}
	vector := make([]float32, e.Dim)
	for _, word := range strings.Fields(strings.ToLower(text)) {
		h := fnv.New32a()
		h.Write([]byte(strings.Trim(word, ".,!?;:\"'")))
		vector[h.Sum32()%uint32(e.Dim)] += 1
	}

	var norm float64
	for _, v := range vector {
		norm += float64(v) * float64(v)
	}
	if norm == 0 {
		vector[0] = 1
		return vector, nil
	}
	scale := float32(1 / math.Sqrt(norm))
	for i := range vector {
		vector[i] *= scale
	}
	return vector, nil
}

// Dimensions returns the configured dimensionality.
func (e *HashEmbedder) Dimensions() int { return e.Dim }

var _ Provider = (*ScriptedProvider)(nil)
var _ Embedder = (*HashEmbedder)(nil)
var _ Embedder = (*CachedEmbedder)(nil)
var _ Provider = (*AnthropicProvider)(nil)
var _ Provider = (*OpenAIProvider)(nil)
var _ Embedder = (*OpenAIProvider)(nil)
var _ Embedder = (*VoyageEmbedder)(nil)
