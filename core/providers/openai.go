package providers

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/responses"
	"github.com/openai/openai-go/shared"

	"github.com/adalundhe/reverie/core/chat"
)

// OpenAIProvider implements Provider and Embedder for OpenAI models.
type OpenAIProvider struct {
	client *openai.Client
	config OpenAIConfig
	logger *slog.Logger
}

// NewOpenAIProvider creates an OpenAI provider with the given configuration.
func NewOpenAIProvider(config OpenAIConfig, logger *slog.Logger) (*OpenAIProvider, error) {
	defaults := DefaultOpenAIConfig()
	if config.Model == "" {
		config.Model = defaults.Model
	}
	if config.MaxTokens == 0 {
		config.MaxTokens = defaults.MaxTokens
	}
	if config.EmbeddingModel == "" {
		config.EmbeddingModel = defaults.EmbeddingModel
	}
	if config.EmbeddingDimensions == 0 {
		config.EmbeddingDimensions = defaults.EmbeddingDimensions
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
	if config.Organization != "" {
		opts = append(opts, option.WithHeader("OpenAI-Organization", config.Organization))
	}
	if config.Project != "" {
		opts = append(opts, option.WithHeader("OpenAI-Project", config.Project))
	}

	client := openai.NewClient(opts...)

	return &OpenAIProvider{
		client: &client,
		config: config,
		logger: logger,
	}, nil
}

// Name returns the provider identifier.
func (p *OpenAIProvider) Name() string {
	return "openai"
}

// Model returns the configured chat model.
func (p *OpenAIProvider) Model() string {
	return p.config.Model
}

// ContextWindow returns the effective context window for the configured
// model, honoring any configured cap.
func (p *OpenAIProvider) ContextWindow() int {
	return p.config.contextWindow(advertisedContextWindow(p.config.Model))
}

// Chat performs a streaming completion, forwarding chunks to handler before
// returning the accumulated response.
func (p *OpenAIProvider) Chat(ctx context.Context, req *ChatRequest, handler StreamHandler) (*ChatResponse, error) {
	if handler == nil {
		handler = func(*StreamChunk) error { return nil }
	}
	params := p.buildParams(req)

	stream := p.client.Responses.NewStreaming(ctx, params)

	if err := handler(&StreamChunk{Type: ChunkTypeStart, Timestamp: time.Now()}); err != nil {
		return nil, err
	}

	var (
		text       strings.Builder
		stopReason StopReason
		usage      Usage
		completed  bool
	)
	toolNames := make(map[string]string)
	toolArgs := make(map[string]*strings.Builder)
	var toolOrder []string

	for stream.Next() {
		event := stream.Current()

		switch ev := event.AsAny().(type) {
		case responses.ResponseTextDeltaEvent:
			if ev.Delta == "" {
				continue
			}
			text.WriteString(ev.Delta)
			if err := handler(&StreamChunk{
				Type:      ChunkTypeText,
				Text:      ev.Delta,
				Timestamp: time.Now(),
			}); err != nil {
				return nil, err
			}

		case responses.ResponseOutputItemAddedEvent:
			if ev.Item.Type != "function_call" {
				continue
			}
			if _, exists := toolArgs[ev.Item.ID]; !exists {
				toolArgs[ev.Item.ID] = &strings.Builder{}
				toolOrder = append(toolOrder, ev.Item.ID)
			}
			toolNames[ev.Item.ID] = ev.Item.Name
			if err := handler(&StreamChunk{
				Type:      ChunkTypeToolStart,
				ToolCall:  &ToolCallChunk{ID: ev.Item.ID, Name: ev.Item.Name},
				Timestamp: time.Now(),
			}); err != nil {
				return nil, err
			}

		case responses.ResponseFunctionCallArgumentsDeltaEvent:
			builder, exists := toolArgs[ev.ItemID]
			if !exists {
				builder = &strings.Builder{}
				toolArgs[ev.ItemID] = builder
				toolOrder = append(toolOrder, ev.ItemID)
			}
			if ev.Delta != "" {
				builder.WriteString(ev.Delta)
				if err := handler(&StreamChunk{
					Type:      ChunkTypeToolDelta,
					ToolCall:  &ToolCallChunk{ID: ev.ItemID, ArgumentsDelta: ev.Delta},
					Timestamp: time.Now(),
				}); err != nil {
					return nil, err
				}
			}

		case responses.ResponseCompletedEvent:
			completed = true
			usage = convertOpenAIUsage(ev.Response)
			stopReason = convertOpenAIStopReason(ev.Response)

		case responses.ResponseIncompleteEvent:
			completed = true
			usage = convertOpenAIUsage(ev.Response)
			stopReason = convertIncompleteReason(ev.Response.IncompleteDetails.Reason)

		case responses.ResponseErrorEvent:
			_ = handler(&StreamChunk{Type: ChunkTypeError, Text: ev.Message, Timestamp: time.Now()})
			return nil, fmt.Errorf("openai chat: %s", ev.Message)
		}
	}

	if err := stream.Err(); err != nil {
		_ = handler(&StreamChunk{Type: ChunkTypeError, Text: err.Error(), Timestamp: time.Now()})
		return nil, fmt.Errorf("openai chat: %w", err)
	}

	if !completed || stopReason == "" {
		stopReason = StopReasonEndTurn
	}

	var toolCalls []chat.ToolCall
	for _, id := range toolOrder {
		args := toolArgs[id].String()
		if args == "" {
			args = "{}"
		}
		toolCalls = append(toolCalls, chat.ToolCall{ID: id, Name: toolNames[id], Arguments: args})
	}
	if len(toolCalls) > 0 && stopReason == StopReasonEndTurn {
		stopReason = StopReasonToolUse
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
		ToolCalls: toolCalls,
		Timestamp: time.Now(),
	}
	return &ChatResponse{Message: msg, StopReason: stopReason, Usage: usage}, nil
}

// Summarize condenses a conversation slice.
func (p *OpenAIProvider) Summarize(ctx context.Context, messages []chat.Message) (string, error) {
	return p.SummarizeText(ctx, renderTranscript(messages), SummarizeOptions{})
}

// SummarizeText condenses free text under explicit instructions.
func (p *OpenAIProvider) SummarizeText(ctx context.Context, text string, opts SummarizeOptions) (string, error) {
	system := opts.SystemPrompt
	if system == "" {
		system = defaultSummarizePrompt
	}
	maxTokens := opts.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 1024
	}

	input := responses.ResponseInputParam{
		responses.ResponseInputItemParamOfMessage(system, responses.EasyInputMessageRoleSystem),
		responses.ResponseInputItemParamOfMessage(text, responses.EasyInputMessageRoleUser),
	}

	result, err := p.client.Responses.New(ctx, responses.ResponseNewParams{
		Model:           shared.ResponsesModel(p.config.Model),
		Input:           responses.ResponseNewParamsInputUnion{OfInputItemList: input},
		MaxOutputTokens: openai.Int(int64(maxTokens)),
	})
	if err != nil {
		return "", fmt.Errorf("openai summarize: %w", err)
	}
	return result.OutputText(), nil
}

// Embed returns the embedding vector for text.
func (p *OpenAIProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	result, err := p.client.Embeddings.New(ctx, openai.EmbeddingNewParams{
		Model: openai.EmbeddingModel(p.config.EmbeddingModel),
		Input: openai.EmbeddingNewParamsInputUnion{
			OfArrayOfStrings: []string{text},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("openai embed: %w", err)
	}
	if len(result.Data) == 0 {
		return nil, fmt.Errorf("openai embed: empty response")
	}

	raw := result.Data[0].Embedding
	vector := make([]float32, len(raw))
	for i, v := range raw {
		vector[i] = float32(v)
	}
	return vector, nil
}

// Dimensions returns the embedding dimensionality.
func (p *OpenAIProvider) Dimensions() int {
	return p.config.EmbeddingDimensions
}

func (p *OpenAIProvider) buildParams(req *ChatRequest) responses.ResponseNewParams {
	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = p.config.MaxTokens
	}

	params := responses.ResponseNewParams{
		Model: shared.ResponsesModel(p.config.Model),
		Input: responses.ResponseNewParamsInputUnion{
			OfInputItemList: p.convertMessages(req.Messages, req.SystemPrompt),
		},
		MaxOutputTokens: openai.Int(int64(maxTokens)),
	}

	if req.Temperature != nil {
		params.Temperature = openai.Float(*req.Temperature)
	} else if p.config.Temperature > 0 {
		params.Temperature = openai.Float(p.config.Temperature)
	}

	if len(req.Tools) > 0 {
		params.Tools = convertOpenAITools(req.Tools)
	}

	return params
}

func (p *OpenAIProvider) convertMessages(messages []chat.Message, systemPrompt string) responses.ResponseInputParam {
	result := make(responses.ResponseInputParam, 0, len(messages)+1)

	if systemPrompt != "" {
		result = append(result, responses.ResponseInputItemParamOfMessage(systemPrompt, responses.EasyInputMessageRoleSystem))
	}

	for _, msg := range messages {
		switch msg.Role {
		case chat.RoleSystem:
			result = append(result, responses.ResponseInputItemParamOfMessage(msg.Content, responses.EasyInputMessageRoleSystem))
		case chat.RoleUser:
			if msg.HasImages() {
				// The responses adapter is text-only; the turn loop strips
				// images on a capability retry.
				p.logger.Debug("dropping image parts for text-only request")
			}
			result = append(result, responses.ResponseInputItemParamOfMessage(msg.Content, responses.EasyInputMessageRoleUser))
		case chat.RoleAssistant:
			result = append(result, responses.ResponseInputItemParamOfMessage(msg.Content, responses.EasyInputMessageRoleAssistant))
		case chat.RoleTool:
			result = append(result, responses.ResponseInputItemParamOfFunctionCallOutput(msg.ToolCallID, msg.Content))
		}
	}

	return result
}

func convertOpenAITools(tools []ToolDefinition) []responses.ToolUnionParam {
	result := make([]responses.ToolUnionParam, len(tools))
	for i, tool := range tools {
		result[i] = responses.ToolParamOfFunction(tool.Name, ensureObjectSchema(tool.Parameters), true)
		if tool.Description != "" {
			desc := openai.String(tool.Description)
			function := result[i].OfFunction
			function.Description = desc
			result[i].OfFunction = function
		}
	}
	return result
}

func ensureObjectSchema(params map[string]any) map[string]any {
	if params == nil {
		return map[string]any{"type": "object"}
	}
	if _, hasType := params["type"]; !hasType {
		params["type"] = "object"
	}
	return params
}

func convertOpenAIUsage(result responses.Response) Usage {
	return Usage{
		InputTokens:  int(result.Usage.InputTokens),
		OutputTokens: int(result.Usage.OutputTokens),
		TotalTokens:  int(result.Usage.TotalTokens),
	}
}

func convertOpenAIStopReason(result responses.Response) StopReason {
	if result.IncompleteDetails.Reason != "" {
		return convertIncompleteReason(result.IncompleteDetails.Reason)
	}
	if result.Error.Message != "" {
		return StopReasonError
	}
	return StopReasonEndTurn
}

func convertIncompleteReason(reason string) StopReason {
	switch reason {
	case "max_output_tokens":
		return StopReasonMaxTokens
	case "content_filter":
		return StopReasonError
	default:
		return StopReasonEndTurn
	}
}
