package agent

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adalundhe/reverie/core/chat"
	"github.com/adalundhe/reverie/core/events"
	"github.com/adalundhe/reverie/core/memory"
	"github.com/adalundhe/reverie/core/providers"
	"github.com/adalundhe/reverie/core/tokens"
	"github.com/adalundhe/reverie/core/tools"
	"github.com/adalundhe/reverie/core/window"
	"github.com/adalundhe/reverie/core/workspace"
)

// =============================================================================
// Fixtures
// =============================================================================

type fixture struct {
	agent    *Agent
	provider *providers.ScriptedProvider
	store    *workspace.Store
	engine   *memory.Engine
	bus      *events.Bus
	registry *tools.Registry
}

// echoTool returns its "text" argument, doubling as a cancellation hook via
// the optional gate.
type echoTool struct {
	mu      sync.Mutex
	calls   int
	restart bool
}

func (e *echoTool) Definition() providers.ToolDefinition {
	return providers.ToolDefinition{
		Name:        "echo",
		Description: "echo text back",
		Parameters:  map[string]any{"type": "object"},
	}
}

func (e *echoTool) Execute(ctx context.Context, session tools.SessionContext, args map[string]any) (tools.Result, error) {
	e.mu.Lock()
	e.calls++
	e.mu.Unlock()
	return tools.Result{
		Success:          true,
		Output:           tools.StringArg(args, "text"),
		RestartRequested: e.restart,
	}, nil
}

func (e *echoTool) callCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calls
}

func newFixture(t *testing.T, provider *providers.ScriptedProvider, mutate func(*Config)) (*fixture, *echoTool) {
	t.Helper()

	store, err := workspace.NewStore(t.TempDir(), nil)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	engine, err := memory.NewEngine(memory.DefaultEngineConfig(), providers.NewHashEmbedder(64), nil)
	require.NoError(t, err)
	t.Cleanup(func() { engine.Close() })

	registry, err := tools.NewRegistry(tools.DefaultRegistryConfig())
	require.NoError(t, err)
	echo := &echoTool{}
	registry.Register(echo)

	accountant := tokens.NewAccountant(tokens.DefaultConfig())
	compressor := memory.NewCompressor(memory.DefaultCompressorConfig(), provider, accountant, nil)
	windowManager := window.NewManager(window.DefaultConfig(100000), provider, accountant, nil)
	bus := events.NewBus(64)
	t.Cleanup(bus.Close)

	config := DefaultConfig()
	if mutate != nil {
		mutate(&config)
	}

	agent := NewAgent("test-session", config, provider, registry, store, engine, compressor, windowManager, bus, nil)
	return &fixture{
		agent:    agent,
		provider: provider,
		store:    store,
		engine:   engine,
		bus:      bus,
		registry: registry,
	}, echo
}

func toolCallResponse(id, name, args string) providers.ScriptedResponse {
	msg := chat.NewAssistantMessage("")
	msg.ToolCalls = []chat.ToolCall{{ID: id, Name: name, Arguments: args}}
	return providers.ScriptedResponse{Response: &providers.ChatResponse{
		Message:    msg,
		StopReason: providers.StopReasonToolUse,
	}}
}

func textResponse(text string) providers.ScriptedResponse {
	return providers.ScriptedResponse{Response: &providers.ChatResponse{
		Message:    chat.NewAssistantMessage(text),
		StopReason: providers.StopReasonEndTurn,
	}}
}

// =============================================================================
// Turn Loop
// =============================================================================

func TestProcessMessageSimpleAnswer(t *testing.T) {
	f, _ := newFixture(t, providers.NewScriptedProvider(textResponse("4")), nil)

	final, err := f.agent.ProcessMessage(context.Background(), "what is 2+2", ProcessOptions{})
	require.NoError(t, err)
	assert.Equal(t, "4", final)

	history := f.agent.GetHistory()
	require.Len(t, history, 2)
	assert.Equal(t, chat.RoleUser, history[0].Role)
	assert.Equal(t, chat.RoleAssistant, history[1].Role)

	// Both turns were persisted to the log.
	persisted, err := f.store.LoadAllTurns("test-session")
	require.NoError(t, err)
	assert.Len(t, persisted, 2)
}

func TestProcessMessageToolIteration(t *testing.T) {
	script := providers.NewScriptedProvider(
		toolCallResponse("call-1", "echo", `{"text":"pong"}`),
		textResponse("the tool said pong"),
	)
	f, echo := newFixture(t, script, nil)

	final, err := f.agent.ProcessMessage(context.Background(), "ping the tool", ProcessOptions{})
	require.NoError(t, err)
	assert.Equal(t, "the tool said pong", final)
	assert.Equal(t, 1, echo.callCount())

	history := f.agent.GetHistory()
	require.Len(t, history, 4)
	assert.Equal(t, chat.RoleTool, history[2].Role)
	assert.Equal(t, "pong", history[2].Content)
	require.NoError(t, chat.ValidateToolResponse(history[1], history[2]))

	// The second provider call saw the tool result.
	requests := script.Requests()
	require.Len(t, requests, 2)
	last := requests[1].Messages
	assert.Equal(t, chat.RoleTool, last[len(last)-1].Role)
}

func TestProcessMessageAdvertisesTools(t *testing.T) {
	f, _ := newFixture(t, providers.NewScriptedProvider(textResponse("ok")), nil)

	_, err := f.agent.ProcessMessage(context.Background(), "hello", ProcessOptions{})
	require.NoError(t, err)

	requests := f.provider.Requests()
	require.Len(t, requests, 1)
	require.Len(t, requests[0].Tools, 1)
	assert.Equal(t, "echo", requests[0].Tools[0].Name)
	assert.Contains(t, requests[0].SystemPrompt, "echo")
}

func TestProcessMessageUnknownToolRecovers(t *testing.T) {
	script := providers.NewScriptedProvider(
		toolCallResponse("call-1", "no_such_tool", `{}`),
		textResponse("recovered"),
	)
	f, _ := newFixture(t, script, nil)

	final, err := f.agent.ProcessMessage(context.Background(), "go", ProcessOptions{})
	require.NoError(t, err)
	assert.Equal(t, "recovered", final)

	history := f.agent.GetHistory()
	require.Len(t, history, 4)
	assert.Contains(t, history[2].Content, "unknown tool")
}

func TestProcessMessageIterationExhaustion(t *testing.T) {
	script := providers.NewScriptedProvider(
		toolCallResponse("call-1", "echo", `{"text":"a"}`),
		toolCallResponse("call-2", "echo", `{"text":"b"}`),
		toolCallResponse("call-3", "echo", `{"text":"c"}`),
	)
	f, echo := newFixture(t, script, func(c *Config) { c.MaxIterations = 2 })

	final, err := f.agent.ProcessMessage(context.Background(), "loop forever", ProcessOptions{})
	require.NoError(t, err)
	assert.Equal(t, exhaustedResponse, final)
	assert.Equal(t, 2, echo.callCount())
}

func TestProcessMessageProviderErrorSurfaced(t *testing.T) {
	script := providers.NewScriptedProvider(providers.ScriptedResponse{Err: errors.New("backend melted")})
	f, _ := newFixture(t, script, nil)

	final, err := f.agent.ProcessMessage(context.Background(), "hello", ProcessOptions{})
	require.NoError(t, err)
	assert.Contains(t, final, "backend melted")

	history := f.agent.GetHistory()
	assert.Equal(t, final, history[len(history)-1].Content)
}

func TestProcessMessageCapabilityRetryStripsImages(t *testing.T) {
	script := providers.NewScriptedProvider(
		providers.ScriptedResponse{Err: providers.ErrVisionUnsupported},
		textResponse("described without seeing"),
	)
	f, _ := newFixture(t, script, nil)

	final, err := f.agent.ProcessMessage(context.Background(), "describe this",
		ProcessOptions{ImageRefs: []string{"/tmp/photo.png"}})
	require.NoError(t, err)
	assert.Equal(t, "described without seeing", final)

	requests := script.Requests()
	require.Len(t, requests, 2)
	for _, msg := range requests[1].Messages {
		assert.False(t, msg.HasImages(), "retry must strip image content")
	}
}

func TestProcessMessageRestartRequest(t *testing.T) {
	script := providers.NewScriptedProvider(toolCallResponse("call-1", "echo", `{"text":"bye"}`))
	f, echo := newFixture(t, script, nil)
	echo.restart = true

	final, err := f.agent.ProcessMessage(context.Background(), "please restart", ProcessOptions{})
	require.NoError(t, err)
	assert.Equal(t, rebootingResponse, final)

	// The resume marker is picked up by the next agent for this session.
	note, err := f.store.ConsumeResumeMarker("test-session")
	require.NoError(t, err)
	assert.NotEmpty(t, note)
}

func TestProcessMessageDeliversNotifications(t *testing.T) {
	f, _ := newFixture(t, providers.NewScriptedProvider(textResponse("noted")), nil)

	f.agent.InjectNotification("build finished")
	_, err := f.agent.ProcessMessage(context.Background(), "status?", ProcessOptions{})
	require.NoError(t, err)

	requests := f.provider.Requests()
	require.Len(t, requests, 1)
	var found bool
	for _, msg := range requests[0].Messages {
		if msg.Role == chat.RoleUser && msg.Content == "[notification] build finished" {
			found = true
		}
	}
	assert.True(t, found, "notification should appear as a synthetic user turn")
}

func TestProcessMessageRecallsMemoryIntoPrompt(t *testing.T) {
	f, _ := newFixture(t, providers.NewScriptedProvider(textResponse("Biscuit")), nil)

	_, err := f.engine.Add(context.Background(), "the cat is named Biscuit", memory.Metadata{Salience: 0.9})
	require.NoError(t, err)

	_, err = f.agent.ProcessMessage(context.Background(), "what is the cat named again", ProcessOptions{})
	require.NoError(t, err)

	requests := f.provider.Requests()
	require.Len(t, requests, 1)
	assert.Contains(t, requests[0].SystemPrompt, "Biscuit")
}

// =============================================================================
// Cancellation And Busy Tracking
// =============================================================================

// gate blocks Chat until released, to hold a turn in flight.
type gatedProvider struct {
	*providers.ScriptedProvider
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

func newGatedProvider(script ...providers.ScriptedResponse) *gatedProvider {
	return &gatedProvider{
		ScriptedProvider: providers.NewScriptedProvider(script...),
		entered:          make(chan struct{}, 8),
		release:          make(chan struct{}),
	}
}

func (g *gatedProvider) Chat(ctx context.Context, req *providers.ChatRequest, handler providers.StreamHandler) (*providers.ChatResponse, error) {
	g.entered <- struct{}{}
	select {
	case <-g.release:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return g.ScriptedProvider.Chat(ctx, req, handler)
}

func (g *gatedProvider) Release() {
	g.once.Do(func() { close(g.release) })
}

func TestCancelProcessing(t *testing.T) {
	gated := newGatedProvider(textResponse("never returned"))
	f, _ := newFixture(t, providers.NewScriptedProvider(), nil)
	agent := NewAgent("cancel-session", DefaultConfig(), gated, f.registry, f.store, f.engine,
		memory.NewCompressor(memory.DefaultCompressorConfig(), gated, tokens.NewAccountant(tokens.DefaultConfig()), nil),
		window.NewManager(window.DefaultConfig(100000), gated, tokens.NewAccountant(tokens.DefaultConfig()), nil),
		f.bus, nil)

	type outcome struct {
		final string
		err   error
	}
	done := make(chan outcome, 1)
	go func() {
		final, err := agent.ProcessMessage(context.Background(), "long task", ProcessOptions{})
		done <- outcome{final, err}
	}()

	<-gated.entered
	assert.True(t, agent.IsProcessing())
	agent.CancelProcessing()

	select {
	case result := <-done:
		require.NoError(t, result.err)
		assert.True(t, strings.HasSuffix(result.final, "[cancelled]"))
	case <-time.After(5 * time.Second):
		t.Fatal("cancelled turn never returned")
	}
	assert.False(t, agent.IsProcessing())
}

func TestCancelIsNoOpWhenIdle(t *testing.T) {
	f, _ := newFixture(t, providers.NewScriptedProvider(), nil)
	f.agent.CancelProcessing()
	assert.False(t, f.agent.IsProcessing())
}

func TestWaitForIdleMultipleWaiters(t *testing.T) {
	gated := newGatedProvider(textResponse("done"))
	f, _ := newFixture(t, providers.NewScriptedProvider(), nil)
	agent := NewAgent("idle-session", DefaultConfig(), gated, f.registry, f.store, f.engine,
		memory.NewCompressor(memory.DefaultCompressorConfig(), gated, tokens.NewAccountant(tokens.DefaultConfig()), nil),
		window.NewManager(window.DefaultConfig(100000), gated, tokens.NewAccountant(tokens.DefaultConfig()), nil),
		f.bus, nil)

	// Idle agent: waiters return immediately.
	require.NoError(t, agent.WaitForIdle(context.Background()))

	go func() {
		_, _ = agent.ProcessMessage(context.Background(), "work", ProcessOptions{})
	}()
	<-gated.entered

	var wg sync.WaitGroup
	waiterDone := make(chan struct{})
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, agent.WaitForIdle(context.Background()))
		}()
	}
	go func() {
		wg.Wait()
		close(waiterDone)
	}()

	// Waiters must still be blocked while the turn is in flight.
	select {
	case <-waiterDone:
		t.Fatal("waiters released while busy")
	case <-time.After(50 * time.Millisecond):
	}

	gated.Release()
	select {
	case <-waiterDone:
	case <-time.After(5 * time.Second):
		t.Fatal("waiters never released")
	}
	assert.False(t, agent.IsProcessing())
}

func TestWaitForIdleContextCancel(t *testing.T) {
	gated := newGatedProvider(textResponse("done"))
	f, _ := newFixture(t, providers.NewScriptedProvider(), nil)
	agent := NewAgent("ctx-session", DefaultConfig(), gated, f.registry, f.store, f.engine,
		memory.NewCompressor(memory.DefaultCompressorConfig(), gated, tokens.NewAccountant(tokens.DefaultConfig()), nil),
		window.NewManager(window.DefaultConfig(100000), gated, tokens.NewAccountant(tokens.DefaultConfig()), nil),
		f.bus, nil)

	go func() {
		_, _ = agent.ProcessMessage(context.Background(), "work", ProcessOptions{})
	}()
	<-gated.entered

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	assert.Error(t, agent.WaitForIdle(ctx))

	gated.Release()
	require.NoError(t, agent.WaitForIdle(context.Background()))
}

// stagedProvider blocks each Chat call until one release token arrives, so
// overlapping turns can be finished one at a time.
type stagedProvider struct {
	*providers.ScriptedProvider
	entered chan struct{}
	release chan struct{}
}

func newStagedProvider(script ...providers.ScriptedResponse) *stagedProvider {
	return &stagedProvider{
		ScriptedProvider: providers.NewScriptedProvider(script...),
		entered:          make(chan struct{}, 8),
		release:          make(chan struct{}, 8),
	}
}

func (s *stagedProvider) Chat(ctx context.Context, req *providers.ChatRequest, handler providers.StreamHandler) (*providers.ChatResponse, error) {
	s.entered <- struct{}{}
	select {
	case <-s.release:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return s.ScriptedProvider.Chat(ctx, req, handler)
}

func (s *stagedProvider) ReleaseOne() {
	s.release <- struct{}{}
}

func TestIsProcessingSpansOverlappingTurns(t *testing.T) {
	staged := newStagedProvider(textResponse("first"), textResponse("second"))
	f, _ := newFixture(t, providers.NewScriptedProvider(), nil)
	agent := NewAgent("overlap-session", DefaultConfig(), staged, f.registry, f.store, f.engine,
		memory.NewCompressor(memory.DefaultCompressorConfig(), staged, tokens.NewAccountant(tokens.DefaultConfig()), nil),
		window.NewManager(window.DefaultConfig(100000), staged, tokens.NewAccountant(tokens.DefaultConfig()), nil),
		f.bus, nil)

	turnDone := make(chan struct{}, 2)
	for _, text := range []string{"first request", "second request"} {
		go func() {
			_, _ = agent.ProcessMessage(context.Background(), text, ProcessOptions{})
			turnDone <- struct{}{}
		}()
	}
	<-staged.entered
	<-staged.entered
	assert.True(t, agent.IsProcessing())

	// Finish one turn; the busy counter must stay up for the other.
	staged.ReleaseOne()
	select {
	case <-turnDone:
	case <-time.After(5 * time.Second):
		t.Fatal("released turn never finished")
	}
	assert.True(t, agent.IsProcessing(), "still busy while the second turn is in flight")

	waiter := make(chan error, 1)
	go func() { waiter <- agent.WaitForIdle(context.Background()) }()
	select {
	case <-waiter:
		t.Fatal("WaitForIdle released with a turn still in flight")
	case <-time.After(50 * time.Millisecond):
	}

	staged.ReleaseOne()
	select {
	case <-turnDone:
	case <-time.After(5 * time.Second):
		t.Fatal("second turn never finished")
	}
	select {
	case err := <-waiter:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("WaitForIdle never released")
	}
	assert.False(t, agent.IsProcessing())
}

// =============================================================================
// Events And Control Surface
// =============================================================================

func TestProcessMessageEmitsLifecycleEvents(t *testing.T) {
	script := providers.NewScriptedProvider(
		toolCallResponse("call-1", "echo", `{"text":"hi"}`),
		textResponse("all done"),
	)
	f, _ := newFixture(t, script, nil)

	sub := f.bus.Subscribe(events.TypeBusyChange, events.TypeMessage, events.TypeToolCall, events.TypeToolResult)
	defer sub.Cancel()

	_, err := f.agent.ProcessMessage(context.Background(), "hello", ProcessOptions{ChannelID: "cli"})
	require.NoError(t, err)

	seen := make(map[events.Type]int)
	deadline := time.After(2 * time.Second)
	for {
		if seen[events.TypeBusyChange] >= 2 && seen[events.TypeToolCall] >= 1 &&
			seen[events.TypeToolResult] >= 1 && seen[events.TypeMessage] >= 2 {
			break
		}
		select {
		case event := <-sub.C:
			seen[event.Type]++
		case <-deadline:
			t.Fatalf("missing lifecycle events, saw %v", seen)
		}
	}
}

func TestClearHistory(t *testing.T) {
	f, _ := newFixture(t, providers.NewScriptedProvider(textResponse("hi")), nil)

	_, err := f.agent.ProcessMessage(context.Background(), "hello", ProcessOptions{})
	require.NoError(t, err)
	require.NotEmpty(t, f.agent.GetHistory())

	require.NoError(t, f.agent.ClearHistory())
	assert.Empty(t, f.agent.GetHistory())

	persisted, err := f.store.LoadAllTurns("test-session")
	require.NoError(t, err)
	assert.Empty(t, persisted)
}

func TestRegistrySessions(t *testing.T) {
	f, _ := newFixture(t, providers.NewScriptedProvider(), nil)

	registry := NewRegistry(DefaultRegistryConfig(), func(sessionID string) *Agent {
		return f.agent
	})

	a := registry.GetOrCreate("alpha")
	b := registry.GetOrCreate("alpha")
	assert.Same(t, a, b)

	registry.GetOrCreate("beta")
	assert.Equal(t, []string{"alpha", "beta"}, registry.Sessions())

	registry.Remove("alpha")
	assert.Nil(t, registry.Get("alpha"))
	assert.Equal(t, []string{"beta"}, registry.Sessions())
}
