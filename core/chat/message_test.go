package chat

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewUserMessageWithImages(t *testing.T) {
	msg := NewUserMessage("look at this", "/tmp/photo.png")

	assert.Equal(t, RoleUser, msg.Role)
	assert.Equal(t, "look at this", msg.Content)
	require.Len(t, msg.Parts, 2)
	assert.Equal(t, PartTypeText, msg.Parts[0].Type)
	assert.Equal(t, PartTypeImage, msg.Parts[1].Type)
	assert.True(t, msg.HasImages())
}

func TestNewUserMessagePlain(t *testing.T) {
	msg := NewUserMessage("hello")
	assert.Empty(t, msg.Parts)
	assert.False(t, msg.HasImages())
}

func TestWithoutImages(t *testing.T) {
	msg := NewUserMessage("caption", "/tmp/a.png", "/tmp/b.png")
	stripped := msg.WithoutImages()

	assert.False(t, stripped.HasImages())
	assert.Equal(t, "caption", stripped.Content)
	// Original is untouched.
	assert.True(t, msg.HasImages())
}

func TestStripImages(t *testing.T) {
	messages := []Message{
		NewUserMessage("first", "/tmp/a.png"),
		NewAssistantMessage("second"),
		NewUserMessage("third", "/tmp/b.png"),
	}

	stripped := StripImages(messages)
	require.Len(t, stripped, 3)
	for _, msg := range stripped {
		assert.False(t, msg.HasImages())
	}
	assert.True(t, messages[0].HasImages())
}

func TestValidateToolResponse(t *testing.T) {
	assistant := NewAssistantMessage("")
	assistant.ToolCalls = []ToolCall{{ID: "call-1", Name: "calc", Arguments: "{}"}}

	tests := []struct {
		name    string
		prev    Message
		tool    Message
		wantErr error
	}{
		{
			name: "matching call",
			prev: assistant,
			tool: NewToolMessage("call-1", "calc", "4"),
		},
		{
			name:    "orphan after user message",
			prev:    NewUserMessage("hi"),
			tool:    NewToolMessage("call-1", "calc", "4"),
			wantErr: ErrOrphanToolMessage,
		},
		{
			name:    "unknown call id",
			prev:    assistant,
			tool:    NewToolMessage("call-9", "calc", "4"),
			wantErr: ErrOrphanToolMessage,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateToolResponse(tt.prev, tt.tool)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestRecordRoundTrip(t *testing.T) {
	msg := NewAssistantMessage("using the calculator")
	msg.Reasoning = "they asked for arithmetic"
	msg.ToolCalls = []ToolCall{{ID: "call-1", Name: "calc", Arguments: `{"a":2,"b":2}`}}

	line, err := msg.ToRecord().MarshalLine()
	require.NoError(t, err)

	record, err := UnmarshalLine(line)
	require.NoError(t, err)

	back := record.ToMessage()
	assert.Equal(t, msg.Role, back.Role)
	assert.Equal(t, msg.Content, back.Content)
	assert.Equal(t, msg.Reasoning, back.Reasoning)
	assert.Equal(t, msg.ToolCalls, back.ToolCalls)
}
