package cmd

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/adalundhe/reverie/core/agent"
	"github.com/adalundhe/reverie/core/config"
	"github.com/adalundhe/reverie/core/events"
	"github.com/adalundhe/reverie/core/memory"
	"github.com/adalundhe/reverie/core/providers"
	"github.com/adalundhe/reverie/core/tokens"
	"github.com/adalundhe/reverie/core/tools"
	"github.com/adalundhe/reverie/core/window"
	"github.com/adalundhe/reverie/core/workspace"
)

// =============================================================================
// Application Wiring
// =============================================================================

// app holds the wired component graph behind every subcommand.
type app struct {
	cfg        config.Config
	logger     *slog.Logger
	provider   providers.Provider
	embedder   providers.Embedder
	store      *workspace.Store
	engine     *memory.Engine
	compressor *memory.Compressor
	accountant *tokens.Accountant
	bus        *events.Bus
	sessions   *agent.Registry
}

// buildApp loads configuration and wires every component. Callers must
// Close.
func buildApp() (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))

	provider, err := buildProvider(cfg, logger)
	if err != nil {
		return nil, err
	}

	embedder, err := buildEmbedder(cfg)
	if err != nil {
		return nil, err
	}
	if cfg.Embedding.CacheSize > 0 {
		embedder, err = providers.NewCachedEmbedder(embedder, cfg.Embedding.CacheSize)
		if err != nil {
			return nil, err
		}
	}

	store, err := workspace.NewStore(cfg.Workspace.Root, logger)
	if err != nil {
		return nil, err
	}

	engineCfg := memory.DefaultEngineConfig()
	engineCfg.DBPath = cfg.Memory.DBPath
	engineCfg.EntryCeiling = cfg.Memory.ChunkCeiling
	engineCfg.DefaultLimit = cfg.Memory.RecallLimit
	engineCfg.MinSimilarity = cfg.Memory.MinSimilarity
	engineCfg.SimilarityWeight = cfg.Memory.SimilarityWeight
	engineCfg.SalienceWeight = cfg.Memory.SalienceWeight
	engineCfg.DecayWeight = cfg.Memory.RecencyWeight
	engine, err := memory.NewEngine(engineCfg, embedder, logger)
	if err != nil {
		store.Close()
		return nil, err
	}

	accountant := tokens.NewAccountant(tokens.DefaultConfig())
	limit := window.ResolveLimit(provider.ContextWindow(), cfg.Context.Limit)
	compressor := memory.NewCompressor(memory.CompressorConfigForContext(limit), provider, accountant, logger)
	bus := events.NewBus(256)

	registry, err := buildTools(cfg, store, engine)
	if err != nil {
		engine.Close()
		store.Close()
		return nil, err
	}

	windowCfg := window.DefaultConfig(limit)
	if cfg.Context.CompressionThreshold > 0 {
		windowCfg.CompressionThreshold = cfg.Context.CompressionThreshold
	}
	windowCfg.KeepRecent = window.AdaptiveKeepRecent(cfg.Context.KeepRecent, limit, cfg.Context.Limit > 0)
	windowManager := window.NewManager(windowCfg, provider, accountant, logger)

	agentCfg := agent.DefaultConfig()
	agentCfg.MaxIterations = cfg.Agent.MaxIterations
	agentCfg.MaxTokens = cfg.Agent.MaxTokens
	agentCfg.AutonomousRecall = cfg.Agent.AutonomousRecall
	if cfg.Agent.Temperature > 0 {
		temp := cfg.Agent.Temperature
		agentCfg.Temperature = &temp
	}

	sessions := agent.NewRegistry(agent.DefaultRegistryConfig(), func(sessionID string) *agent.Agent {
		return agent.NewAgent(
			sessionID, agentCfg,
			provider, registry, store, engine, compressor, windowManager, bus, logger,
		)
	})

	return &app{
		cfg:        cfg,
		logger:     logger,
		provider:   provider,
		embedder:   embedder,
		store:      store,
		engine:     engine,
		compressor: compressor,
		accountant: accountant,
		bus:        bus,
		sessions:   sessions,
	}, nil
}

func (a *app) Close() {
	a.bus.Close()
	if err := a.engine.Close(); err != nil {
		a.logger.Warn("memory engine close failed", "error", err)
	}
	if err := a.store.Close(); err != nil {
		a.logger.Warn("workspace close failed", "error", err)
	}
}

func buildProvider(cfg config.Config, logger *slog.Logger) (providers.Provider, error) {
	switch cfg.Provider.Name {
	case "anthropic":
		pc := providers.DefaultAnthropicConfig()
		pc.APIKey = cfg.Provider.AnthropicAPIKey
		pc.BaseURL = cfg.Provider.BaseURL
		if cfg.Provider.Model != "" {
			pc.Model = cfg.Provider.Model
		}
		if cfg.Provider.SummaryModel != "" {
			pc.SummaryModel = cfg.Provider.SummaryModel
		}
		if cfg.Context.Limit > 0 {
			pc.ContextWindowCap = cfg.Context.Limit
		}
		return providers.NewAnthropicProvider(pc, logger)
	case "openai":
		pc := providers.DefaultOpenAIConfig()
		pc.APIKey = cfg.Provider.OpenAIAPIKey
		pc.BaseURL = cfg.Provider.BaseURL
		if cfg.Provider.Model != "" {
			pc.Model = cfg.Provider.Model
		}
		if cfg.Context.Limit > 0 {
			pc.ContextWindowCap = cfg.Context.Limit
		}
		return providers.NewOpenAIProvider(pc, logger)
	default:
		return nil, fmt.Errorf("unknown provider %q", cfg.Provider.Name)
	}
}

func buildEmbedder(cfg config.Config) (providers.Embedder, error) {
	switch cfg.Embedding.Backend {
	case "openai":
		pc := providers.DefaultOpenAIConfig()
		pc.APIKey = cfg.Provider.OpenAIAPIKey
		if cfg.Embedding.Model != "" {
			pc.EmbeddingModel = cfg.Embedding.Model
		}
		return providers.NewOpenAIProvider(pc, nil)
	case "voyage":
		vc := providers.DefaultVoyageConfig()
		vc.APIKey = cfg.Embedding.VoyageAPIKey
		if cfg.Embedding.Model != "" {
			vc.Model = providers.VoyageModel(cfg.Embedding.Model)
		}
		return providers.NewVoyageEmbedder(vc)
	default:
		return nil, fmt.Errorf("unknown embedding backend %q", cfg.Embedding.Backend)
	}
}

func buildTools(cfg config.Config, store *workspace.Store, engine *memory.Engine) (*tools.Registry, error) {
	registry, err := tools.NewRegistry(tools.RegistryConfig{
		Allow: cfg.Tools.Allow,
		Deny:  cfg.Tools.Deny,
	})
	if err != nil {
		return nil, err
	}
	registry.Register(&tools.ReadDocTool{Store: store})
	registry.Register(&tools.WriteDocTool{Store: store})
	registry.Register(&tools.AppendDocTool{Store: store})
	registry.Register(&tools.ListDocsTool{Store: store})
	registry.Register(&tools.MemorySaveTool{Engine: engine})
	registry.Register(&tools.MemorySearchTool{Engine: engine})
	registry.Register(&tools.RestartTool{})
	return registry, nil
}
