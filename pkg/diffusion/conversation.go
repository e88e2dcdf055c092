package diffusion

import (
	"encoding/json"
	"time"
)

// MessageRole identifies the speaker of a ConversationMessage.
type MessageRole string

const (
	RoleSystem    MessageRole = "system"
	RoleUser      MessageRole = "user"
	RoleAssistant MessageRole = "assistant"
)

// ToolCall is one function invocation requested by the assistant, whether
// parsed from a native tool_calls array or a fenced json:action block.
type ToolCall struct {
	ID         string          `json:"id,omitempty"`
	Type       string          `json:"type"`
	Parameters json.RawMessage `json:"parameters,omitempty"`
	// Result is filled in when Type names a backend tool (internal/toolexec
	// intercepts it synchronously); left nil for frontend actions.
	Result json.RawMessage `json:"result,omitempty"`
}

// ConversationMessage is one turn of assistant chat history.
type ConversationMessage struct {
	Role      MessageRole `json:"role"`
	Content   string      `json:"content"`
	Thinking  string      `json:"thinking,omitempty"`
	ToolCalls []ToolCall  `json:"tool_calls,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}
