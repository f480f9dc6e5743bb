package chat

import (
	"errors"
	"time"
)

// Role identifies the author of a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
	RoleTool      Role = "tool"
)

// ContentPartType identifies what kind of content a part carries.
type ContentPartType string

const (
	PartTypeText  ContentPartType = "text"
	PartTypeImage ContentPartType = "image"
)

// ContentPart is one element of a multi-part message body. Text parts carry
// plain text; image parts carry a reference (path or URL) to image data that
// the provider adapter resolves at request time.
type ContentPart struct {
	Type ContentPartType `json:"type"`

	// Text is set when Type is PartTypeText.
	Text string `json:"text,omitempty"`

	// ImageRef is a filesystem path or URL when Type is PartTypeImage.
	ImageRef string `json:"image_ref,omitempty"`
}

// ToolCall is a tool invocation requested by an assistant message.
type ToolCall struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// Message is one turn unit in a session's history.
//
// Content holds the plain-text body. Parts, when non-empty, is the ordered
// multi-part body and takes precedence over Content for providers that
// understand images; Content always holds the concatenated text so that
// token accounting and persistence never need to walk parts.
type Message struct {
	Role      Role          `json:"role"`
	Content   string        `json:"content"`
	Parts     []ContentPart `json:"parts,omitempty"`
	Reasoning string        `json:"reasoning,omitempty"`

	// ToolCallID and ToolName are set when Role is RoleTool.
	ToolCallID string `json:"tool_call_id,omitempty"`
	ToolName   string `json:"tool_name,omitempty"`

	// ToolCalls is set when Role is RoleAssistant and the model requested
	// tool execution.
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`

	Timestamp time.Time `json:"timestamp"`
}

// NewUserMessage builds a user message, attaching image references as parts
// when any are given.
func NewUserMessage(text string, imageRefs ...string) Message {
	msg := Message{
		Role:      RoleUser,
		Content:   text,
		Timestamp: time.Now(),
	}
	if len(imageRefs) > 0 {
		msg.Parts = append(msg.Parts, ContentPart{Type: PartTypeText, Text: text})
		for _, ref := range imageRefs {
			msg.Parts = append(msg.Parts, ContentPart{Type: PartTypeImage, ImageRef: ref})
		}
	}
	return msg
}

// NewAssistantMessage builds an assistant message with plain text content.
func NewAssistantMessage(text string) Message {
	return Message{Role: RoleAssistant, Content: text, Timestamp: time.Now()}
}

// NewSystemMessage builds a system message.
func NewSystemMessage(text string) Message {
	return Message{Role: RoleSystem, Content: text, Timestamp: time.Now()}
}

// NewToolMessage builds a tool result message bound to a tool call.
func NewToolMessage(callID, toolName, output string) Message {
	return Message{
		Role:       RoleTool,
		Content:    output,
		ToolCallID: callID,
		ToolName:   toolName,
		Timestamp:  time.Now(),
	}
}

// HasImages reports whether any part of the message is an image reference.
func (m Message) HasImages() bool {
	for _, part := range m.Parts {
		if part.Type == PartTypeImage {
			return true
		}
	}
	return false
}

// WithoutImages returns a copy of the message with image parts removed.
// Used for the single narrowed retry after a vision capability error.
func (m Message) WithoutImages() Message {
	if !m.HasImages() {
		return m
	}
	out := m
	out.Parts = nil
	for _, part := range m.Parts {
		if part.Type != PartTypeImage {
			out.Parts = append(out.Parts, part)
		}
	}
	return out
}

// StripImages removes image parts from every message in the slice.
func StripImages(messages []Message) []Message {
	out := make([]Message, len(messages))
	for i, msg := range messages {
		out[i] = msg.WithoutImages()
	}
	return out
}

var (
	// ErrOrphanToolMessage indicates a tool message whose tool_call_id was
	// not issued by the immediately preceding assistant message.
	ErrOrphanToolMessage = errors.New("tool message does not match a tool call from the preceding assistant message")
)

// ValidateToolResponse checks the invariant that a tool message references
// exactly one tool call issued by the immediately preceding assistant
// message. prev is the message directly before the tool message.
func ValidateToolResponse(prev Message, tool Message) error {
	if tool.Role != RoleTool {
		return nil
	}
	if prev.Role != RoleAssistant {
		return ErrOrphanToolMessage
	}
	for _, call := range prev.ToolCalls {
		if call.ID == tool.ToolCallID {
			return nil
		}
	}
	return ErrOrphanToolMessage
}
