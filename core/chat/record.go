package chat

import (
	"encoding/json"
	"time"
)

// Record is the persisted turn-log shape: one JSON object per line in the
// append-only session log.
type Record struct {
	Role       Role       `json:"role"`
	Content    string     `json:"content"`
	Reasoning  string     `json:"reasoning,omitempty"`
	Name       string     `json:"name,omitempty"`
	ToolCallID string     `json:"toolCallId,omitempty"`
	ToolCalls  []ToolCall `json:"toolCalls,omitempty"`
	Timestamp  time.Time  `json:"timestamp"`
}

// ToRecord converts a message into its turn-log representation. Image parts
// are not persisted to the log; the concatenated text body is.
func (m Message) ToRecord() Record {
	return Record{
		Role:       m.Role,
		Content:    m.Content,
		Reasoning:  m.Reasoning,
		Name:       m.ToolName,
		ToolCallID: m.ToolCallID,
		ToolCalls:  m.ToolCalls,
		Timestamp:  m.Timestamp,
	}
}

// ToMessage converts a persisted record back into a message.
func (r Record) ToMessage() Message {
	return Message{
		Role:       r.Role,
		Content:    r.Content,
		Reasoning:  r.Reasoning,
		ToolName:   r.Name,
		ToolCallID: r.ToolCallID,
		ToolCalls:  r.ToolCalls,
		Timestamp:  r.Timestamp,
	}
}

// MarshalLine serializes the record as a single JSON line without a trailing
// newline.
func (r Record) MarshalLine() ([]byte, error) {
	return json.Marshal(r)
}

// UnmarshalLine parses one JSON line of the turn log.
func UnmarshalLine(line []byte) (Record, error) {
	var r Record
	if err := json.Unmarshal(line, &r); err != nil {
		return Record{}, err
	}
	return r, nil
}
