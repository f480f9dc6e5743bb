package agent

import (
	"hash/fnv"
	"sort"
	"sync"
)

// =============================================================================
// Session Registry
// =============================================================================

// Factory builds the agent for a session on first use.
type Factory func(sessionID string) *Agent

// Registry maps session IDs to their agents. Sessions are stored in a
// sharded map so cross-session work never contends on one lock.
type Registry struct {
	shards    []*registryShard
	numShards int
	factory   Factory
}

type registryShard struct {
	mu     sync.RWMutex
	agents map[string]*Agent
}

// RegistryConfig configures the session registry.
type RegistryConfig struct {
	// NumShards controls sharding for concurrent access (default: 16).
	NumShards int
}

// DefaultRegistryConfig returns default registry configuration.
func DefaultRegistryConfig() RegistryConfig {
	return RegistryConfig{NumShards: 16}
}

// NewRegistry creates a session registry backed by the given factory.
func NewRegistry(cfg RegistryConfig, factory Factory) *Registry {
	if cfg.NumShards <= 0 {
		cfg.NumShards = 16
	}
	shards := make([]*registryShard, cfg.NumShards)
	for i := range shards {
		shards[i] = &registryShard{agents: make(map[string]*Agent)}
	}
	return &Registry{
		shards:    shards,
		numShards: cfg.NumShards,
		factory:   factory,
	}
}

func (r *Registry) shard(sessionID string) *registryShard {
	h := fnv.New32a()
	h.Write([]byte(sessionID))
	return r.shards[int(h.Sum32())%r.numShards]
}

// Get returns the session's agent, or nil when none exists.
func (r *Registry) Get(sessionID string) *Agent {
	shard := r.shard(sessionID)
	shard.mu.RLock()
	defer shard.mu.RUnlock()
	return shard.agents[sessionID]
}

// GetOrCreate returns the session's agent, creating it on first use.
func (r *Registry) GetOrCreate(sessionID string) *Agent {
	shard := r.shard(sessionID)

	shard.mu.RLock()
	agent := shard.agents[sessionID]
	shard.mu.RUnlock()
	if agent != nil {
		return agent
	}

	shard.mu.Lock()
	defer shard.mu.Unlock()
	if agent := shard.agents[sessionID]; agent != nil {
		return agent
	}
	agent = r.factory(sessionID)
	shard.agents[sessionID] = agent
	return agent
}

// Remove drops the session's agent from the registry.
func (r *Registry) Remove(sessionID string) {
	shard := r.shard(sessionID)
	shard.mu.Lock()
	defer shard.mu.Unlock()
	delete(shard.agents, sessionID)
}

// Sessions returns the IDs of all live sessions, sorted.
func (r *Registry) Sessions() []string {
	var ids []string
	for _, shard := range r.shards {
		shard.mu.RLock()
		for id := range shard.agents {
			ids = append(ids, id)
		}
		shard.mu.RUnlock()
	}
	sort.Strings(ids)
	return ids
}
