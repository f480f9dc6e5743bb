package memory

import (
	"time"
)

// EntryType distinguishes how an entry was created.
type EntryType string

const (
	// TypeAuto marks entries persisted unattended from conversation turns.
	TypeAuto EntryType = "auto"

	// TypeManual marks entries saved explicitly (memory_save tool, CLI).
	TypeManual EntryType = "manual"
)

// Entry is one stored unit of semantic memory. Text never exceeds the
// engine's configured ceiling; longer inputs are chunked at ingestion.
type Entry struct {
	ID     string    `json:"id"`
	Text   string    `json:"text"`
	Vector []float32 `json:"-"`

	Timestamp time.Time `json:"timestamp"`
	Role      string    `json:"role,omitempty"`
	Type      EntryType `json:"type"`

	// Salience is the caller-assigned importance in [0,1], independent of
	// any query.
	Salience float64 `json:"salience"`

	// RecallCount and LastRecalledAt are mutated by default-mode recall.
	RecallCount    int        `json:"recall_count"`
	LastRecalledAt *time.Time `json:"last_recalled_at,omitempty"`
}

// Metadata carries caller-supplied attributes for ingestion.
type Metadata struct {
	Role     string
	Type     EntryType
	Salience float64
}

// Recalled is an ephemeral recall result: an entry plus its query scores.
type Recalled struct {
	Entry Entry `json:"entry"`

	// Similarity is the best cosine similarity across all cues.
	Similarity float64 `json:"similarity"`

	// CombinedScore blends similarity with salience and time decay; recall
	// results order by it descending.
	CombinedScore float64 `json:"combined_score"`
}
