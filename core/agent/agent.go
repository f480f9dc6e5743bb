// Package agent implements the per-session turn loop: the state machine
// that appends user turns, recalls memory, assembles the prompt, iterates
// provider calls against the tool surface, and terminates with a final
// answer, a cancellation, or an iteration-limit fallback.
package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/adalundhe/reverie/core/chat"
	"github.com/adalundhe/reverie/core/events"
	"github.com/adalundhe/reverie/core/memory"
	"github.com/adalundhe/reverie/core/providers"
	"github.com/adalundhe/reverie/core/tools"
	"github.com/adalundhe/reverie/core/window"
	"github.com/adalundhe/reverie/core/workspace"
	"github.com/google/uuid"
)

// =============================================================================
// Configuration
// =============================================================================

// Config configures one agent session.
type Config struct {
	// MaxIterations bounds the tool-call loop within one turn (default
	// 100).
	MaxIterations int

	// MaxTokens bounds each provider response (0 means provider default).
	MaxTokens int

	// Temperature, when non-nil, overrides the provider default.
	Temperature *float64

	// AutonomousRecall enables an extra memory recall from tool output
	// between iterations.
	AutonomousRecall bool

	// RecallDigestMessages is how many trailing history messages feed the
	// recall context cue (default 6).
	RecallDigestMessages int
}

// DefaultConfig returns turn-loop defaults.
func DefaultConfig() Config {
	return Config{
		MaxIterations:        100,
		RecallDigestMessages: 6,
	}
}

const (
	cancelledSuffix = "[cancelled]"

	rebootingResponse = "Restarting now. I will pick this conversation back up in a moment."

	exhaustedResponse = "I was unable to finish this request within the allowed number of " +
		"tool-call iterations. Here is where I stopped; please rephrase or narrow the request."

	recallDigestBytes = 2000
)

// ProcessOptions adjusts one ProcessMessage call.
type ProcessOptions struct {
	// ChannelID tags the originating channel for observers.
	ChannelID string

	// ImageRefs are filesystem paths or URLs attached to the user turn.
	ImageRefs []string

	// DisableTools hides the tool surface from the provider for this turn.
	DisableTools bool
}

// =============================================================================
// Agent
// =============================================================================

// Agent drives one session. History mutation is serialized by a per-session
// mutex; provider, tool, and embedding calls run without holding it. Busy
// accounting uses an idempotent counter so overlapping ProcessMessage calls
// are individually trackable.
type Agent struct {
	sessionID string
	config    Config

	provider   providers.Provider
	registry   *tools.Registry
	store      *workspace.Store
	engine     *memory.Engine
	compressor *memory.Compressor
	window     *window.Manager
	bus        *events.Bus
	logger     *slog.Logger

	// historyMu guards history and its persistence.
	historyMu sync.Mutex
	history   []chat.Message
	loaded    bool

	// stateMu guards busy accounting, cancellation, and notifications.
	stateMu   sync.Mutex
	busyCount int
	idleCh    chan struct{}
	cancels   map[uint64]context.CancelFunc
	turnSeq   uint64

	notifications []string
}

// NewAgent creates the turn loop for one session.
func NewAgent(
	sessionID string,
	config Config,
	provider providers.Provider,
	registry *tools.Registry,
	store *workspace.Store,
	engine *memory.Engine,
	compressor *memory.Compressor,
	windowManager *window.Manager,
	bus *events.Bus,
	logger *slog.Logger,
) *Agent {
	defaults := DefaultConfig()
	if config.MaxIterations <= 0 {
		config.MaxIterations = defaults.MaxIterations
	}
	if config.RecallDigestMessages <= 0 {
		config.RecallDigestMessages = defaults.RecallDigestMessages
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Agent{
		sessionID:  sessionID,
		config:     config,
		provider:   provider,
		registry:   registry,
		store:      store,
		engine:     engine,
		compressor: compressor,
		window:     windowManager,
		bus:        bus,
		logger:     logger.With("session", sessionID),
	}
}

// SessionID returns the session this agent owns.
func (a *Agent) SessionID() string {
	return a.sessionID
}

// =============================================================================
// Busy Tracking And Cancellation
// =============================================================================

// beginTurn increments the busy counter and derives the turn's cancellation
// context from the caller's. The returned turn ID tags log lines and busy
// events so overlapping turns are individually trackable.
func (a *Agent) beginTurn(ctx context.Context) (context.Context, string, func()) {
	turnID := uuid.NewString()
	turnCtx, cancel := context.WithCancel(ctx)

	a.stateMu.Lock()
	a.turnSeq++
	seq := a.turnSeq
	if a.cancels == nil {
		a.cancels = make(map[uint64]context.CancelFunc)
	}
	a.cancels[seq] = cancel
	a.busyCount++
	wasIdle := a.busyCount == 1
	if wasIdle {
		a.idleCh = make(chan struct{})
	}
	a.stateMu.Unlock()

	if wasIdle {
		a.emit(events.TypeBusyChange, map[string]any{"busy": true, "turn": turnID})
	}

	end := func() {
		cancel()
		a.stateMu.Lock()
		delete(a.cancels, seq)
		a.busyCount--
		nowIdle := a.busyCount == 0
		if nowIdle && a.idleCh != nil {
			close(a.idleCh)
			a.idleCh = nil
		}
		a.stateMu.Unlock()

		if nowIdle {
			a.emit(events.TypeBusyChange, map[string]any{"busy": false, "turn": turnID})
		}
	}
	return turnCtx, turnID, end
}

// CancelProcessing signals every in-flight turn's cancellation context. It
// is a no-op when the session is idle. In-flight provider and tool calls
// are not forcibly killed; the loop stops at its next check point.
func (a *Agent) CancelProcessing() {
	a.stateMu.Lock()
	cancels := make([]context.CancelFunc, 0, len(a.cancels))
	for _, cancel := range a.cancels {
		cancels = append(cancels, cancel)
	}
	a.stateMu.Unlock()

	for _, cancel := range cancels {
		cancel()
	}
}

// IsProcessing reports whether any turn is in flight.
func (a *Agent) IsProcessing() bool {
	a.stateMu.Lock()
	defer a.stateMu.Unlock()
	return a.busyCount > 0
}

// WaitForIdle blocks until the busy counter returns to zero. Multiple
// concurrent waiters are all released.
func (a *Agent) WaitForIdle(ctx context.Context) error {
	a.stateMu.Lock()
	if a.busyCount == 0 {
		a.stateMu.Unlock()
		return nil
	}
	idle := a.idleCh
	a.stateMu.Unlock()

	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// InjectNotification queues text to be delivered as a synthetic user turn
// at the next loop iteration of an in-flight turn, or at the start of the
// next turn.
func (a *Agent) InjectNotification(text string) {
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}
	a.stateMu.Lock()
	a.notifications = append(a.notifications, text)
	a.stateMu.Unlock()
}

// drainNotifications removes and returns all queued notifications.
func (a *Agent) drainNotifications() []string {
	a.stateMu.Lock()
	defer a.stateMu.Unlock()
	drained := a.notifications
	a.notifications = nil
	return drained
}

// =============================================================================
// History
// =============================================================================

// loadHistoryLocked loads the persisted turn log on first touch. Caller
// holds historyMu. A pending resume marker from a pre-restart turn is
// consumed into the notification queue.
func (a *Agent) loadHistoryLocked() error {
	if a.loaded {
		return nil
	}
	history, err := a.store.LoadAllTurns(a.sessionID)
	if err != nil {
		return fmt.Errorf("load history: %w", err)
	}
	a.history = history
	a.loaded = true

	note, err := a.store.ConsumeResumeMarker(a.sessionID)
	if err != nil {
		a.logger.Warn("resume marker read failed", "error", err)
	} else if note != "" {
		a.InjectNotification("The process restarted as requested. Resume note: " + note)
	}
	return nil
}

// appendAndPersist appends a message to history and the turn log. Turn log
// failures propagate; silent history loss is unacceptable.
func (a *Agent) appendAndPersist(msg chat.Message) error {
	a.historyMu.Lock()
	defer a.historyMu.Unlock()
	if err := a.store.AppendTurn(a.sessionID, msg); err != nil {
		return fmt.Errorf("persist turn: %w", err)
	}
	a.history = append(a.history, msg)
	return nil
}

// snapshotHistory copies the message list for use outside historyMu.
func (a *Agent) snapshotHistory() []chat.Message {
	a.historyMu.Lock()
	defer a.historyMu.Unlock()
	snapshot := make([]chat.Message, len(a.history))
	copy(snapshot, a.history)
	return snapshot
}

// GetHistory returns a copy of the session history.
func (a *Agent) GetHistory() []chat.Message {
	a.historyMu.Lock()
	defer a.historyMu.Unlock()
	if err := a.loadHistoryLocked(); err != nil {
		a.logger.Warn("history load failed", "error", err)
	}
	snapshot := make([]chat.Message, len(a.history))
	copy(snapshot, a.history)
	return snapshot
}

// ClearHistory drops in-memory and persisted history for the session.
func (a *Agent) ClearHistory() error {
	a.historyMu.Lock()
	defer a.historyMu.Unlock()
	if err := a.store.ClearTurns(a.sessionID); err != nil {
		return err
	}
	a.history = nil
	a.loaded = true
	return nil
}

// ClearMemory wipes the long-term memory store.
func (a *Agent) ClearMemory() error {
	return a.engine.Clear()
}

// =============================================================================
// Turn Loop
// =============================================================================

// ProcessMessage runs one full turn and returns the final assistant text.
// Cancellation is not an error: the partial text is finalized with a
// cancellation suffix and returned. Provider errors (other than a one-shot
// image-capability retry) end the turn with the error surfaced as the final
// response text. Persistence failures propagate.
func (a *Agent) ProcessMessage(ctx context.Context, text string, opts ProcessOptions) (string, error) {
	turnCtx, turnID, endTurn := a.beginTurn(ctx)
	defer endTurn()

	a.logger.Debug("turn started", "session", a.sessionID, "turn", turnID)

	a.historyMu.Lock()
	if err := a.loadHistoryLocked(); err != nil {
		a.historyMu.Unlock()
		return "", err
	}

	managed, result := a.window.Apply(turnCtx, a.history)
	if result.Changed {
		if err := a.store.RewriteAllTurns(a.sessionID, managed); err != nil {
			a.historyMu.Unlock()
			return "", fmt.Errorf("persist managed history: %w", err)
		}
		a.history = managed
	}
	a.historyMu.Unlock()

	if result.Changed {
		a.emit(events.TypeSystem, map[string]any{
			"event":      "context_window",
			"compressed": result.Compressed,
			"pruned":     result.Pruned,
		})
	}

	userMsg := chat.NewUserMessage(text, opts.ImageRefs...)
	if err := a.appendAndPersist(userMsg); err != nil {
		return "", err
	}
	a.emitMessage(userMsg, opts.ChannelID)
	a.engine.AutoAdd(userMsg)

	recalled := a.recallForTurn(turnCtx, text)
	systemPrompt := a.systemPrompt(recalled, opts.DisableTools)

	return a.iterate(turnCtx, systemPrompt, opts)
}

// recallForTurn runs memory recall cued by the user text plus a digest of
// recent context, and compresses the results into a prompt-sized block.
// Recall failures degrade to an empty block.
func (a *Agent) recallForTurn(ctx context.Context, userText string) string {
	cues := []string{userText}
	digest := recentContextDigest(a.snapshotHistory(), a.config.RecallDigestMessages, recallDigestBytes)
	if digest != "" {
		cues = append(cues, digest)
	}

	recalled, err := a.engine.Recall(ctx, cues, memory.DefaultRecallOptions())
	if err != nil {
		a.logger.Warn("memory recall failed", "error", err)
		return ""
	}
	if len(recalled) == 0 {
		return ""
	}

	compressed := a.compressor.Compress(ctx, recalled)
	a.emit(events.TypeMemoryUpdate, map[string]any{
		"recalled": len(recalled),
		"summary":  compressed,
	})
	return compressed
}

// systemPrompt assembles the turn's system prompt.
func (a *Agent) systemPrompt(recalled string, disableTools bool) string {
	var defs []providers.ToolDefinition
	if !disableTools {
		defs = a.registry.Definitions()
	}
	return buildSystemPrompt(a.store, recalled, defs)
}

// iterate is the bounded provider/tool loop.
func (a *Agent) iterate(turnCtx context.Context, systemPrompt string, opts ProcessOptions) (string, error) {
	var toolDefs []providers.ToolDefinition
	if !opts.DisableTools {
		toolDefs = a.registry.Definitions()
	}

	session := tools.SessionContext{
		SessionID:     a.sessionID,
		WorkspaceRoot: a.store.Root(),
	}

	stripImages := false
	retriedCapability := false
	var partial strings.Builder

	for iteration := 0; iteration < a.config.MaxIterations; iteration++ {
		if turnCtx.Err() != nil {
			return a.finalizeCancelled(partial.String(), opts.ChannelID)
		}

		if err := a.deliverNotifications(opts.ChannelID); err != nil {
			return "", err
		}

		messages := a.snapshotHistory()
		if stripImages {
			messages = chat.StripImages(messages)
		}

		partial.Reset()
		req := &providers.ChatRequest{
			Messages:     messages,
			SystemPrompt: systemPrompt,
			Tools:        toolDefs,
			MaxTokens:    a.config.MaxTokens,
			Temperature:  a.config.Temperature,
		}
		resp, err := a.provider.Chat(turnCtx, req, a.streamHandler(&partial))

		if turnCtx.Err() != nil {
			return a.finalizeCancelled(partial.String(), opts.ChannelID)
		}
		if err != nil {
			if providers.IsCapabilityError(err) && !retriedCapability {
				retriedCapability = true
				stripImages = true
				a.logger.Warn("provider rejected image content, retrying without images", "error", err)
				continue
			}
			return a.finalizeProviderError(err, opts.ChannelID)
		}

		if len(resp.Message.ToolCalls) == 0 {
			final := resp.Message
			if err := a.appendAndPersist(final); err != nil {
				return "", err
			}
			a.emitMessage(final, opts.ChannelID)
			a.engine.AutoAdd(final)
			return final.Content, nil
		}

		// The tool-call request is persisted inside runToolCalls, so the
		// accumulated stream text must not be finalized a second time if
		// cancellation lands between tool executions.
		partial.Reset()
		restart, err := a.runToolCalls(turnCtx, session, resp.Message, opts)
		if err != nil {
			return "", err
		}
		if turnCtx.Err() != nil {
			return a.finalizeCancelled(partial.String(), opts.ChannelID)
		}
		if restart {
			return a.finalizeRestart(opts.ChannelID)
		}
	}

	return a.finalizeText(exhaustedResponse, opts.ChannelID)
}

// streamHandler forwards text chunks to observers and accumulates partial
// text for cancellation finalization.
func (a *Agent) streamHandler(partial *strings.Builder) providers.StreamHandler {
	return func(chunk *providers.StreamChunk) error {
		switch chunk.Type {
		case providers.ChunkTypeText:
			partial.WriteString(chunk.Text)
			a.emit(events.TypeStream, map[string]any{"text": chunk.Text})
		case providers.ChunkTypeReasoning:
			a.emit(events.TypeStream, map[string]any{"reasoning": chunk.Text})
		}
		return nil
	}
}

// deliverNotifications appends queued notifications as synthetic user turns.
func (a *Agent) deliverNotifications(channelID string) error {
	for _, note := range a.drainNotifications() {
		msg := chat.NewUserMessage("[notification] " + note)
		if err := a.appendAndPersist(msg); err != nil {
			return err
		}
		a.emitMessage(msg, channelID)
	}
	return nil
}

// runToolCalls persists the assistant's tool request, executes each call in
// sequence with cancellation checks between, and appends the results. A
// failing tool does not abort the turn. Returns whether a restart was
// requested.
func (a *Agent) runToolCalls(turnCtx context.Context, session tools.SessionContext, assistant chat.Message, opts ProcessOptions) (bool, error) {
	if err := a.appendAndPersist(assistant); err != nil {
		return false, err
	}
	a.engine.AutoAdd(assistant)

	restart := false
	var toolOutputs []string

	for _, call := range assistant.ToolCalls {
		if turnCtx.Err() != nil {
			return restart, nil
		}

		a.emit(events.TypeToolCall, map[string]any{
			"id":   call.ID,
			"name": call.Name,
			"args": call.Arguments,
		})

		result := a.executeCall(turnCtx, session, call)
		if turnCtx.Err() != nil {
			return restart, nil
		}

		toolMsg := chat.NewToolMessage(call.ID, call.Name, result.Output)
		if result.ImagePath != "" || result.ImageURL != "" {
			ref := result.ImagePath
			if ref == "" {
				ref = result.ImageURL
			}
			toolMsg.Parts = []chat.ContentPart{
				{Type: chat.PartTypeText, Text: result.Output},
				{Type: chat.PartTypeImage, ImageRef: ref},
			}
		}
		if err := a.appendAndPersist(toolMsg); err != nil {
			return false, err
		}
		a.engine.AutoAdd(toolMsg)

		a.emit(events.TypeToolResult, map[string]any{
			"id":      call.ID,
			"name":    call.Name,
			"success": result.Success,
			"output":  result.Output,
		})

		if result.Success && result.Output != "" {
			toolOutputs = append(toolOutputs, result.Output)
		}
		if result.RestartRequested {
			restart = true
		}
	}

	if a.config.AutonomousRecall && !restart && len(toolOutputs) > 0 {
		a.autonomousRecall(turnCtx, toolOutputs)
	}
	return restart, nil
}

// executeCall decodes one tool call's arguments and runs it through the
// registry. Malformed arguments become a failed result the model can see.
func (a *Agent) executeCall(turnCtx context.Context, session tools.SessionContext, call chat.ToolCall) tools.Result {
	args := map[string]any{}
	if strings.TrimSpace(call.Arguments) != "" {
		if err := json.Unmarshal([]byte(call.Arguments), &args); err != nil {
			return tools.Failure(fmt.Sprintf("Error: invalid tool arguments: %v", err))
		}
	}

	result, err := a.registry.Execute(turnCtx, session, call.Name, args)
	if err != nil {
		// Only cancellation escapes the registry as an error.
		return tools.Failure("Error: " + err.Error())
	}
	return result
}

// autonomousRecall recalls memory cued by fresh tool output and splices the
// digest into history as a system message before the next provider call.
func (a *Agent) autonomousRecall(turnCtx context.Context, toolOutputs []string) {
	cue := strings.Join(toolOutputs, "\n")
	if len(cue) > recallDigestBytes {
		cue = cue[:recallDigestBytes]
	}

	recalled, err := a.engine.Recall(turnCtx, []string{cue}, memory.DefaultRecallOptions())
	if err != nil || len(recalled) == 0 {
		if err != nil {
			a.logger.Warn("autonomous recall failed", "error", err)
		}
		return
	}

	compressed := a.compressor.Compress(turnCtx, recalled)
	if compressed == "" {
		return
	}

	msg := chat.NewSystemMessage("Additional recalled memories relevant to the current work:\n" + compressed)
	if err := a.appendAndPersist(msg); err != nil {
		a.logger.Warn("autonomous recall persist failed", "error", err)
		return
	}
	a.emit(events.TypeMemoryUpdate, map[string]any{
		"recalled": len(recalled),
		"summary":  compressed,
		"trigger":  "autonomous",
	})
}

// =============================================================================
// Turn Finalization
// =============================================================================

// finalizeText persists a final assistant message and emits it.
func (a *Agent) finalizeText(text, channelID string) (string, error) {
	msg := chat.NewAssistantMessage(text)
	if err := a.appendAndPersist(msg); err != nil {
		return "", err
	}
	a.emitMessage(msg, channelID)
	a.engine.AutoAdd(msg)
	return text, nil
}

// finalizeCancelled finalizes the partial streamed text with the
// cancellation suffix. Cancellation is a terminal state, not an error.
func (a *Agent) finalizeCancelled(partial, channelID string) (string, error) {
	text := strings.TrimSpace(partial)
	if text == "" {
		text = cancelledSuffix
	} else {
		text = text + "\n\n" + cancelledSuffix
	}

	final, err := a.finalizeText(text, channelID)
	if err != nil {
		return "", err
	}
	a.emit(events.TypeCancelled, nil)
	return final, nil
}

// finalizeProviderError surfaces a terminal provider error as the final
// response text.
func (a *Agent) finalizeProviderError(provErr error, channelID string) (string, error) {
	a.logger.Error("provider call failed", "error", provErr)
	return a.finalizeText("Error: "+provErr.Error(), channelID)
}

// finalizeRestart ends the turn with the fixed rebooting response and
// writes the resume marker for the next process.
func (a *Agent) finalizeRestart(channelID string) (string, error) {
	if err := a.store.WriteResumeMarker(a.sessionID, "restart requested by tool"); err != nil {
		a.logger.Warn("resume marker write failed", "error", err)
	}
	return a.finalizeText(rebootingResponse, channelID)
}

// =============================================================================
// Events
// =============================================================================

func (a *Agent) emit(eventType events.Type, data map[string]any) {
	if a.bus == nil {
		return
	}
	a.bus.Publish(events.New(eventType, a.sessionID, data))
}

func (a *Agent) emitMessage(msg chat.Message, channelID string) {
	data := map[string]any{
		"role":    string(msg.Role),
		"content": msg.Content,
	}
	if channelID != "" {
		data["channel"] = channelID
	}
	a.emit(events.TypeMessage, data)
}
