package assistant

import (
	"context"
	"encoding/json"
)

// Message is a provider-agnostic chat turn. System messages are stripped
// out by the provider and sent through its own system-prompt field.
type Message struct {
	Role    string
	Content string
}

// ToolSpec describes one tool the assistant may call, in JSON-schema
// terms so either provider's native format can be derived from it.
type ToolSpec struct {
	Name        string
	Description string
	Schema      json.RawMessage // JSON schema object for the tool's parameters
}

// ChatRequest is what Client hands to a Provider after building the
// system prompt and replaying history.
type ChatRequest struct {
	System      string
	Messages    []Message
	Tools       []ToolSpec
	Model       string
	Temperature float64
	MaxTokens   int
}

// NativeToolCall is one function call the provider's own tool-calling
// protocol returned, before the fenced-block fallback is even considered.
type NativeToolCall struct {
	ID        string
	Name      string
	Arguments json.RawMessage
}

// ChatResult is a provider's complete (non-streaming) answer.
type ChatResult struct {
	Content   string
	Thinking  string
	ToolCalls []NativeToolCall
}

// StreamChunk is one increment of a streaming response. Exactly one of
// Content/Thinking/ToolCall is set per chunk that isn't Done or an error.
type StreamChunk struct {
	Content  string
	Thinking string
	ToolCall *NativeToolCall
	Done     bool
	Err      error
}

// Provider is the seam between the Assistant Client and a specific
// remote chat-completion API. Two implementations are wired: one for an
// Anthropic-compatible endpoint (native tool-calling via content blocks)
// and one for an OpenAI/Ollama-compatible endpoint (native tool-calling
// via the `tools`/`tool_calls` wire fields).
type Provider interface {
	Name() string
	SupportsTools() bool
	Complete(ctx context.Context, req ChatRequest) (ChatResult, error)
	Stream(ctx context.Context, req ChatRequest) (<-chan StreamChunk, error)
}
