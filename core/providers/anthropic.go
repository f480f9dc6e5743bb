package providers

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/adalundhe/reverie/core/chat"
)

// AnthropicProvider implements Provider for Anthropic's Claude models.
type AnthropicProvider struct {
	client *anthropic.Client
	config AnthropicConfig
	logger *slog.Logger
}

// NewAnthropicProvider creates an Anthropic provider with the given
// configuration.
func NewAnthropicProvider(config AnthropicConfig, logger *slog.Logger) (*AnthropicProvider, error) {
	if config.Model == "" {
		config.Model = DefaultAnthropicConfig().Model
	}
	if config.MaxTokens == 0 {
		config.MaxTokens = DefaultAnthropicConfig().MaxTokens
	}
	if config.SummaryModel == "" {
		config.SummaryModel = DefaultAnthropicConfig().SummaryModel
	}
	if logger == nil {
		logger = slog.Default()
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	opts := []option.RequestOption{
		option.WithAPIKey(config.APIKey),
	}
	if config.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(config.BaseURL))
	}

	client := anthropic.NewClient(opts...)

	return &AnthropicProvider{
		client: &client,
		config: config,
		logger: logger,
	}, nil
}

// Name returns the provider identifier.
func (p *AnthropicProvider) Name() string {
	return "anthropic"
}

// Model returns the configured chat model.
func (p *AnthropicProvider) Model() string {
	return p.config.Model
}

// ContextWindow returns the effective context window for the configured
// model, honoring any configured cap.
func (p *AnthropicProvider) ContextWindow() int {
	return p.config.contextWindow(advertisedContextWindow(p.config.Model))
}

// Chat performs a streaming completion, forwarding chunks to handler before
// returning the accumulated response.
func (p *AnthropicProvider) Chat(ctx context.Context, req *ChatRequest, handler StreamHandler) (*ChatResponse, error) {
	if handler == nil {
		handler = func(*StreamChunk) error { return nil }
	}
	params := p.buildParams(req)

	stream := p.client.Messages.NewStreaming(ctx, params)

	if err := handler(&StreamChunk{Type: ChunkTypeStart, Timestamp: time.Now()}); err != nil {
		return nil, err
	}

	var (
		text       strings.Builder
		reasoning  strings.Builder
		inputTok   int
		outputTok  int
		stopReason StopReason
	)
	toolCalls := newToolCallAccumulator()

	for stream.Next() {
		event := stream.Current()

		switch ev := event.AsAny().(type) {
		case anthropic.MessageStartEvent:
			if ev.Message.Usage.InputTokens > 0 {
				inputTok = int(ev.Message.Usage.InputTokens)
			}

		case anthropic.ContentBlockStartEvent:
			if ev.ContentBlock.Type == "tool_use" {
				tb := ev.ContentBlock.AsAny().(anthropic.ToolUseBlock)
				toolCalls.start(ev.Index, tb.ID, tb.Name)
				if err := handler(&StreamChunk{
					Type:      ChunkTypeToolStart,
					ToolCall:  &ToolCallChunk{ID: tb.ID, Name: tb.Name},
					Timestamp: time.Now(),
				}); err != nil {
					return nil, err
				}
			}

		case anthropic.ContentBlockDeltaEvent:
			switch delta := ev.Delta.AsAny().(type) {
			case anthropic.TextDelta:
				text.WriteString(delta.Text)
				if err := handler(&StreamChunk{
					Type:      ChunkTypeText,
					Text:      delta.Text,
					Timestamp: time.Now(),
				}); err != nil {
					return nil, err
				}
			case anthropic.ThinkingDelta:
				reasoning.WriteString(delta.Thinking)
				if err := handler(&StreamChunk{
					Type:      ChunkTypeReasoning,
					Text:      delta.Thinking,
					Timestamp: time.Now(),
				}); err != nil {
					return nil, err
				}
			case anthropic.InputJSONDelta:
				id := toolCalls.appendArgs(ev.Index, delta.PartialJSON)
				if id != "" && delta.PartialJSON != "" {
					if err := handler(&StreamChunk{
						Type:      ChunkTypeToolDelta,
						ToolCall:  &ToolCallChunk{ID: id, ArgumentsDelta: delta.PartialJSON},
						Timestamp: time.Now(),
					}); err != nil {
						return nil, err
					}
				}
			}

		case anthropic.MessageDeltaEvent:
			if ev.Usage.OutputTokens > 0 {
				outputTok = int(ev.Usage.OutputTokens)
			}
			if ev.Delta.StopReason != "" {
				stopReason = convertAnthropicStopReason(ev.Delta.StopReason)
			}
		}
	}

	if err := stream.Err(); err != nil {
		_ = handler(&StreamChunk{Type: ChunkTypeError, Text: err.Error(), Timestamp: time.Now()})
		return nil, fmt.Errorf("anthropic chat: %w", err)
	}

	if stopReason == "" {
		stopReason = StopReasonEndTurn
	}

	usage := Usage{
		InputTokens:  inputTok,
		OutputTokens: outputTok,
		TotalTokens:  inputTok + outputTok,
	}
	if err := handler(&StreamChunk{
		Type:       ChunkTypeEnd,
		StopReason: stopReason,
		Usage:      &usage,
		Timestamp:  time.Now(),
	}); err != nil {
		return nil, err
	}

	msg := chat.Message{
		Role:      chat.RoleAssistant,
		Content:   text.String(),
		Reasoning: reasoning.String(),
		ToolCalls: toolCalls.finish(),
		Timestamp: time.Now(),
	}
	return &ChatResponse{Message: msg, StopReason: stopReason, Usage: usage}, nil
}

const defaultSummarizePrompt = "You summarize conversations. Produce a concise prose summary that " +
	"preserves decisions, facts, numbers, names, file paths, and open tasks. Do not editorialize."

// Summarize condenses a conversation slice using the cheaper summary model.
func (p *AnthropicProvider) Summarize(ctx context.Context, messages []chat.Message) (string, error) {
	return p.SummarizeText(ctx, renderTranscript(messages), SummarizeOptions{})
}

// SummarizeText condenses free text under explicit instructions.
func (p *AnthropicProvider) SummarizeText(ctx context.Context, text string, opts SummarizeOptions) (string, error) {
	system := opts.SystemPrompt
	if system == "" {
		system = defaultSummarizePrompt
	}
	maxTokens := opts.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 1024
	}

	msg, err := p.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(p.config.SummaryModel),
		MaxTokens: int64(maxTokens),
		System: []anthropic.TextBlockParam{
			{Text: system},
		},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(text)),
		},
	})
	if err != nil {
		return "", fmt.Errorf("anthropic summarize: %w", err)
	}

	var out strings.Builder
	for _, block := range msg.Content {
		if tb, ok := block.AsAny().(anthropic.TextBlock); ok {
			out.WriteString(tb.Text)
		}
	}
	return out.String(), nil
}

func (p *AnthropicProvider) buildParams(req *ChatRequest) anthropic.MessageNewParams {
	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = p.config.MaxTokens
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(p.config.Model),
		MaxTokens: int64(maxTokens),
		Messages:  p.convertMessages(req.Messages),
		Tools:     convertTools(req.Tools),
	}

	if req.SystemPrompt != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.SystemPrompt}}
	}

	if req.Temperature != nil {
		params.Temperature = anthropic.Float(*req.Temperature)
	} else if p.config.Temperature > 0 {
		params.Temperature = anthropic.Float(p.config.Temperature)
	}

	return params
}

func (p *AnthropicProvider) convertMessages(messages []chat.Message) []anthropic.MessageParam {
	result := make([]anthropic.MessageParam, 0, len(messages))

	for _, msg := range messages {
		switch msg.Role {
		case chat.RoleUser:
			result = append(result, anthropic.NewUserMessage(p.convertUserBlocks(msg)...))

		case chat.RoleSystem:
			// Anthropic has no mid-conversation system role; fold into a
			// user message so spliced memory/system notices survive.
			result = append(result, anthropic.NewUserMessage(
				anthropic.NewTextBlock(msg.Content),
			))

		case chat.RoleAssistant:
			if len(msg.ToolCalls) > 0 {
				blocks := make([]anthropic.ContentBlockParamUnion, 0, len(msg.ToolCalls)+1)
				if msg.Content != "" {
					blocks = append(blocks, anthropic.NewTextBlock(msg.Content))
				}
				for _, tc := range msg.ToolCalls {
					blocks = append(blocks, anthropic.ContentBlockParamUnion{
						OfToolUse: &anthropic.ToolUseBlockParam{
							ID:    tc.ID,
							Name:  tc.Name,
							Input: tc.Arguments,
						},
					})
				}
				result = append(result, anthropic.NewAssistantMessage(blocks...))
			} else {
				result = append(result, anthropic.NewAssistantMessage(
					anthropic.NewTextBlock(msg.Content),
				))
			}

		case chat.RoleTool:
			result = append(result, anthropic.NewUserMessage(
				anthropic.NewToolResultBlock(msg.ToolCallID, msg.Content, false),
			))
		}
	}

	return result
}

// convertUserBlocks expands a user message's parts into content blocks,
// inlining local image files as base64.
func (p *AnthropicProvider) convertUserBlocks(msg chat.Message) []anthropic.ContentBlockParamUnion {
	if len(msg.Parts) == 0 {
		return []anthropic.ContentBlockParamUnion{anthropic.NewTextBlock(msg.Content)}
	}

	blocks := make([]anthropic.ContentBlockParamUnion, 0, len(msg.Parts))
	for _, part := range msg.Parts {
		switch part.Type {
		case chat.PartTypeText:
			if part.Text != "" {
				blocks = append(blocks, anthropic.NewTextBlock(part.Text))
			}
		case chat.PartTypeImage:
			block, err := encodeImageBlock(part.ImageRef)
			if err != nil {
				p.logger.Warn("skipping unreadable image part", "ref", part.ImageRef, "error", err)
				continue
			}
			blocks = append(blocks, block)
		}
	}
	if len(blocks) == 0 {
		blocks = append(blocks, anthropic.NewTextBlock(msg.Content))
	}
	return blocks
}

func encodeImageBlock(ref string) (anthropic.ContentBlockParamUnion, error) {
	data, err := os.ReadFile(ref)
	if err != nil {
		return anthropic.ContentBlockParamUnion{}, err
	}
	mediaType := imageMediaType(ref)
	encoded := base64.StdEncoding.EncodeToString(data)
	return anthropic.NewImageBlockBase64(mediaType, encoded), nil
}

func imageMediaType(ref string) string {
	switch strings.ToLower(filepath.Ext(ref)) {
	case ".png":
		return "image/png"
	case ".gif":
		return "image/gif"
	case ".webp":
		return "image/webp"
	default:
		return "image/jpeg"
	}
}

func convertTools(tools []ToolDefinition) []anthropic.ToolUnionParam {
	result := make([]anthropic.ToolUnionParam, len(tools))
	for i, tool := range tools {
		result[i] = anthropic.ToolUnionParam{
			OfTool: &anthropic.ToolParam{
				Name:        tool.Name,
				Description: anthropic.String(tool.Description),
				InputSchema: anthropic.ToolInputSchemaParam{
					Type:       "object",
					Properties: tool.Parameters["properties"],
					Required:   requiredFields(tool.Parameters),
				},
			},
		}
	}
	return result
}

func requiredFields(params map[string]any) []string {
	req, ok := params["required"].([]any)
	if !ok {
		return nil
	}
	result := make([]string, 0, len(req))
	for _, r := range req {
		if s, ok := r.(string); ok {
			result = append(result, s)
		}
	}
	return result
}

func convertAnthropicStopReason(reason anthropic.StopReason) StopReason {
	switch reason {
	case anthropic.StopReasonMaxTokens:
		return StopReasonMaxTokens
	case anthropic.StopReasonToolUse:
		return StopReasonToolUse
	default:
		return StopReasonEndTurn
	}
}

// renderTranscript flattens messages into a role-prefixed transcript for
// summarization.
func renderTranscript(messages []chat.Message) string {
	var b strings.Builder
	for _, msg := range messages {
		if msg.Content == "" {
			continue
		}
		b.WriteString(string(msg.Role))
		b.WriteString(": ")
		b.WriteString(msg.Content)
		b.WriteString("\n")
	}
	return b.String()
}

// toolCallAccumulator assembles streamed tool calls by content block index.
type toolCallAccumulator struct {
	order []int64
	byIdx map[int64]*accumulatedCall
}

type accumulatedCall struct {
	id   string
	name string
	args strings.Builder
}

func newToolCallAccumulator() *toolCallAccumulator {
	return &toolCallAccumulator{byIdx: make(map[int64]*accumulatedCall)}
}

func (a *toolCallAccumulator) start(index int64, id, name string) {
	if _, exists := a.byIdx[index]; exists {
		return
	}
	a.byIdx[index] = &accumulatedCall{id: id, name: name}
	a.order = append(a.order, index)
}

func (a *toolCallAccumulator) appendArgs(index int64, delta string) string {
	call, ok := a.byIdx[index]
	if !ok {
		return ""
	}
	call.args.WriteString(delta)
	return call.id
}

func (a *toolCallAccumulator) finish() []chat.ToolCall {
	if len(a.order) == 0 {
		return nil
	}
	calls := make([]chat.ToolCall, 0, len(a.order))
	for _, idx := range a.order {
		call := a.byIdx[idx]
		args := call.args.String()
		if args == "" {
			args = "{}"
		}
		calls = append(calls, chat.ToolCall{ID: call.id, Name: call.name, Arguments: args})
	}
	return calls
}
