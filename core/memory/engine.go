package memory

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/coder/hnsw"
	"github.com/oklog/ulid/v2"
	"github.com/viterin/vek/vek32"

	"github.com/adalundhe/reverie/core/chat"
	"github.com/adalundhe/reverie/core/providers"
)

// =============================================================================
// Engine configuration
// =============================================================================

// EngineConfig configures the semantic memory engine. The scoring weights
// are policy, not correctness invariants; callers tune them freely.
type EngineConfig struct {
	// EntryCeiling is the maximum entry text size in bytes; longer inputs
	// are chunked (default 2000).
	EntryCeiling int

	// DBPath is the sqlite file backing the engine. Empty disables
	// persistence (in-memory only).
	DBPath string

	// SimilarityWeight, SalienceWeight and DecayWeight blend the combined
	// score. Similarity dominates so recency never fully overrides a
	// strong match.
	SimilarityWeight float64
	SalienceWeight   float64
	DecayWeight      float64

	// DecayRate is the exponential decay rate per hour of entry age.
	DecayRate float64

	// MinSimilarity excludes entries below this cosine similarity.
	MinSimilarity float64

	// DedupeThreshold collapses entries whose embeddings are mutually more
	// similar than this to the highest-scoring one.
	DedupeThreshold float64

	// DefaultLimit caps recall results when the query does not set one.
	DefaultLimit int

	// AutoQueueSize bounds the background ingestion queue (default 256).
	AutoQueueSize int
}

// DefaultEngineConfig returns the default engine configuration.
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		EntryCeiling:     2000,
		SimilarityWeight: 0.7,
		SalienceWeight:   0.2,
		DecayWeight:      0.1,
		DecayRate:        0.01,
		MinSimilarity:    0.25,
		DedupeThreshold:  0.95,
		DefaultLimit:     8,
		AutoQueueSize:    256,
	}
}

// RecallOptions adjusts one recall query.
type RecallOptions struct {
	// Limit caps the result count (0 means the engine default).
	Limit int

	// MinSimilarity overrides the engine threshold when > 0.
	MinSimilarity float64

	// MarkAsRecalled controls the mutating side effect: when true (the
	// default), returned entries' RecallCount increments and
	// LastRecalledAt updates.
	MarkAsRecalled bool
}

// DefaultRecallOptions returns the default (mutating) recall options.
func DefaultRecallOptions() RecallOptions {
	return RecallOptions{MarkAsRecalled: true}
}

// =============================================================================
// Engine
// =============================================================================

// Engine stores embedded text fragments and recalls them by multi-cue
// similarity blended with salience and recency. Safe for concurrent use by
// multiple sessions.
type Engine struct {
	config   EngineConfig
	embedder providers.Embedder
	logger   *slog.Logger

	mu      sync.RWMutex
	entries map[string]*Entry
	graph   *hnsw.Graph[string]
	db      *store

	queue     chan chat.Message
	queueWg   sync.WaitGroup
	queueOnce sync.Once
	closed    chan struct{}

	// nowFn is swappable in tests.
	nowFn func() time.Time

	ulidMu      sync.Mutex
	ulidEntropy *ulid.MonotonicEntropy
}

// NewEngine creates an engine, loading any persisted entries from DBPath.
func NewEngine(config EngineConfig, embedder providers.Embedder, logger *slog.Logger) (*Engine, error) {
	defaults := DefaultEngineConfig()
	if config.EntryCeiling <= 0 {
		config.EntryCeiling = defaults.EntryCeiling
	}
	if config.SimilarityWeight <= 0 {
		config.SimilarityWeight = defaults.SimilarityWeight
	}
	if config.SalienceWeight < 0 {
		config.SalienceWeight = defaults.SalienceWeight
	}
	if config.DecayWeight < 0 {
		config.DecayWeight = defaults.DecayWeight
	}
	if config.DecayRate <= 0 {
		config.DecayRate = defaults.DecayRate
	}
	if config.MinSimilarity <= 0 {
		config.MinSimilarity = defaults.MinSimilarity
	}
	if config.DedupeThreshold <= 0 {
		config.DedupeThreshold = defaults.DedupeThreshold
	}
	if config.DefaultLimit <= 0 {
		config.DefaultLimit = defaults.DefaultLimit
	}
	if config.AutoQueueSize <= 0 {
		config.AutoQueueSize = defaults.AutoQueueSize
	}
	if logger == nil {
		logger = slog.Default()
	}

	e := &Engine{
		config:      config,
		embedder:    embedder,
		logger:      logger,
		entries:     make(map[string]*Entry),
		graph:       hnsw.NewGraph[string](),
		queue:       make(chan chat.Message, config.AutoQueueSize),
		closed:      make(chan struct{}),
		nowFn:       time.Now,
		ulidEntropy: ulid.Monotonic(rand.New(rand.NewSource(time.Now().UnixNano())), 0),
	}

	if config.DBPath != "" {
		db, err := openStore(config.DBPath)
		if err != nil {
			return nil, err
		}
		e.db = db

		persisted, err := db.loadAll()
		if err != nil {
			db.close()
			return nil, err
		}
		for i := range persisted {
			entry := persisted[i]
			e.entries[entry.ID] = &entry
			e.graph.Add(hnsw.MakeNode(entry.ID, entry.Vector))
		}
	}

	e.queueWg.Add(1)
	go e.ingestLoop()

	return e, nil
}

// Close drains the background queue and closes the persistence store.
func (e *Engine) Close() error {
	e.queueOnce.Do(func() {
		close(e.closed)
	})
	e.queueWg.Wait()
	if e.db != nil {
		return e.db.close()
	}
	return nil
}

// Count returns the number of stored entries.
func (e *Engine) Count() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.entries)
}

func (e *Engine) newID() string {
	e.ulidMu.Lock()
	defer e.ulidMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(e.nowFn()), e.ulidEntropy).String()
}

// =============================================================================
// Ingestion
// =============================================================================

// Add embeds and stores text, chunking it when longer than the entry
// ceiling. Returns the IDs of the created entries in original text order.
func (e *Engine) Add(ctx context.Context, text string, meta Metadata) ([]string, error) {
	chunks := SplitText(text, e.config.EntryCeiling)
	if len(chunks) == 0 {
		return nil, nil
	}
	if meta.Type == "" {
		meta.Type = TypeManual
	}
	if meta.Salience < 0 {
		meta.Salience = 0
	}
	if meta.Salience > 1 {
		meta.Salience = 1
	}

	ids := make([]string, 0, len(chunks))
	for _, chunk := range chunks {
		vector, err := e.embedder.Embed(ctx, chunk)
		if err != nil {
			return ids, fmt.Errorf("embed memory entry: %w", err)
		}

		entry := &Entry{
			ID:        e.newID(),
			Text:      chunk,
			Vector:    vector,
			Timestamp: e.nowFn(),
			Role:      meta.Role,
			Type:      meta.Type,
			Salience:  meta.Salience,
		}

		e.mu.Lock()
		e.entries[entry.ID] = entry
		e.graph.Add(hnsw.MakeNode(entry.ID, vector))
		e.mu.Unlock()

		if e.db != nil {
			if err := e.db.insert(*entry); err != nil {
				e.logger.Warn("memory persistence failed", "id", entry.ID, "error", err)
			}
		}
		ids = append(ids, entry.ID)
	}
	return ids, nil
}

// AutoAdd queues a conversation message for unattended ingestion. It never
// blocks the calling turn: when the queue is full the message is dropped
// with a log line, and ingestion failures are logged, not raised.
func (e *Engine) AutoAdd(msg chat.Message) {
	if msg.Content == "" {
		return
	}
	select {
	case <-e.closed:
		return
	default:
	}
	select {
	case e.queue <- msg:
	default:
		e.logger.Warn("memory auto-ingest queue full, dropping message", "role", msg.Role)
	}
}

func (e *Engine) ingestLoop() {
	defer e.queueWg.Done()
	for {
		select {
		case msg := <-e.queue:
			e.ingestOne(msg)
		case <-e.closed:
			// Drain whatever is already queued before shutting down.
			for {
				select {
				case msg := <-e.queue:
					e.ingestOne(msg)
				default:
					return
				}
			}
		}
	}
}

func (e *Engine) ingestOne(msg chat.Message) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if _, err := e.Add(ctx, msg.Content, Metadata{
		Role: string(msg.Role),
		Type: TypeAuto,
	}); err != nil {
		e.logger.Warn("memory auto-ingest failed", "role", msg.Role, "error", err)
	}
}

// Clear removes every entry from memory and from the persistence store.
func (e *Engine) Clear() error {
	e.mu.Lock()
	e.entries = make(map[string]*Entry)
	e.graph = hnsw.NewGraph[string]()
	e.mu.Unlock()

	if e.db != nil {
		return e.db.clear()
	}
	return nil
}

// =============================================================================
// Recall
// =============================================================================

// candidateMultiplier widens the ANN search so that salience and decay can
// promote entries that similarity alone would rank just outside the limit.
const candidateMultiplier = 4

// Recall scores stored entries against multiple cues and returns the best
// matches ordered by combined score descending, ties broken by more recent
// timestamp. Unless opts.MarkAsRecalled is false, returned entries'
// RecallCount increments and LastRecalledAt updates. Recall failures are
// returned as errors but callers are expected to degrade to no results.
func (e *Engine) Recall(ctx context.Context, cues []string, opts RecallOptions) ([]Recalled, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = e.config.DefaultLimit
	}
	minSim := opts.MinSimilarity
	if minSim <= 0 {
		minSim = e.config.MinSimilarity
	}

	cueVectors := make([][]float32, 0, len(cues))
	for _, cue := range cues {
		if cue == "" {
			continue
		}
		vector, err := e.embedder.Embed(ctx, cue)
		if err != nil {
			return nil, fmt.Errorf("embed recall cue: %w", err)
		}
		cueVectors = append(cueVectors, vector)
	}
	if len(cueVectors) == 0 {
		return nil, nil
	}

	e.mu.RLock()
	candidates := e.collectCandidates(cueVectors, limit*candidateMultiplier)
	now := e.nowFn()

	scored := make([]Recalled, 0, len(candidates))
	for id := range candidates {
		entry := e.entries[id]
		if entry == nil {
			continue
		}
		similarity := bestSimilarity(cueVectors, entry.Vector)
		if similarity < minSim {
			continue
		}
		scored = append(scored, Recalled{
			Entry:         *entry,
			Similarity:    similarity,
			CombinedScore: e.combinedScore(similarity, entry, now),
		})
	}
	e.mu.RUnlock()

	sort.SliceStable(scored, func(i, j int) bool {
		if scored[i].CombinedScore != scored[j].CombinedScore {
			return scored[i].CombinedScore > scored[j].CombinedScore
		}
		return scored[i].Entry.Timestamp.After(scored[j].Entry.Timestamp)
	})

	scored = e.dedupe(scored)
	if len(scored) > limit {
		scored = scored[:limit]
	}

	if opts.MarkAsRecalled {
		e.markRecalled(scored, now)
	}
	return scored, nil
}

// collectCandidates unions ANN neighborhoods for every cue. Small stores
// are scanned exhaustively so approximate search never hides an entry from
// a near-empty memory. Caller holds at least a read lock.
func (e *Engine) collectCandidates(cueVectors [][]float32, k int) map[string]struct{} {
	candidates := make(map[string]struct{})
	if len(e.entries) <= k {
		for id := range e.entries {
			candidates[id] = struct{}{}
		}
		return candidates
	}
	for _, vector := range cueVectors {
		for _, node := range e.graph.Search(vector, k) {
			candidates[node.Key] = struct{}{}
		}
	}
	return candidates
}

func bestSimilarity(cueVectors [][]float32, vector []float32) float64 {
	best := math.Inf(-1)
	for _, cue := range cueVectors {
		if len(cue) != len(vector) {
			continue
		}
		sim := float64(vek32.CosineSimilarity(cue, vector))
		if sim > best {
			best = sim
		}
	}
	if math.IsInf(best, -1) {
		return 0
	}
	return best
}

// combinedScore blends similarity with a salience term and an exponential
// time-decay term. Similarity carries the dominant weight so a stale but
// highly similar entry still outranks a fresh weak match.
func (e *Engine) combinedScore(similarity float64, entry *Entry, now time.Time) float64 {
	ageHours := now.Sub(entry.Timestamp).Hours()
	if ageHours < 0 {
		ageHours = 0
	}
	recency := math.Exp(-e.config.DecayRate * ageHours)
	return e.config.SimilarityWeight*similarity +
		e.config.SalienceWeight*entry.Salience +
		e.config.DecayWeight*recency
}

// dedupe collapses entries whose embeddings are mutually more similar than
// the dedupe threshold down to the highest-scoring one. Input is ordered by
// score descending, so the first of any cluster wins.
func (e *Engine) dedupe(scored []Recalled) []Recalled {
	if len(scored) < 2 {
		return scored
	}
	kept := make([]Recalled, 0, len(scored))
	for _, candidate := range scored {
		duplicate := false
		for _, winner := range kept {
			if len(winner.Entry.Vector) != len(candidate.Entry.Vector) {
				continue
			}
			sim := float64(vek32.CosineSimilarity(winner.Entry.Vector, candidate.Entry.Vector))
			if sim > e.config.DedupeThreshold {
				duplicate = true
				break
			}
		}
		if !duplicate {
			kept = append(kept, candidate)
		}
	}
	return kept
}

func (e *Engine) markRecalled(scored []Recalled, now time.Time) {
	e.mu.Lock()
	for i := range scored {
		entry := e.entries[scored[i].Entry.ID]
		if entry == nil {
			continue
		}
		entry.RecallCount++
		recalledAt := now
		entry.LastRecalledAt = &recalledAt
		scored[i].Entry = *entry
	}
	e.mu.Unlock()

	if e.db == nil {
		return
	}
	for i := range scored {
		entry := scored[i].Entry
		if entry.LastRecalledAt == nil {
			continue
		}
		if err := e.db.updateRecall(entry.ID, entry.RecallCount, *entry.LastRecalledAt); err != nil {
			e.logger.Warn("recall bookkeeping persistence failed", "id", entry.ID, "error", err)
		}
	}
}
