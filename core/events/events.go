package events

import "time"

// Type identifies a session lifecycle event.
type Type string

const (
	TypeMessage      Type = "message"
	TypeStream       Type = "stream"
	TypeToolCall     Type = "tool_call"
	TypeToolResult   Type = "tool_result"
	TypeSystem       Type = "system"
	TypeBusyChange   Type = "busy_change"
	TypeMemoryUpdate Type = "memory_update"
	TypeCancelled    Type = "cancelled"
)

// Event is one observable occurrence in a session's lifecycle.
type Event struct {
	Type      Type           `json:"type"`
	SessionID string         `json:"session_id"`
	Timestamp time.Time      `json:"timestamp"`
	Data      map[string]any `json:"data,omitempty"`
}

// New builds an event stamped with the current time.
func New(eventType Type, sessionID string, data map[string]any) Event {
	return Event{
		Type:      eventType,
		SessionID: sessionID,
		Timestamp: time.Now(),
		Data:      data,
	}
}
