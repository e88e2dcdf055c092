package assistant

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/fszontagh/sdcpp-orchestrator/pkg/diffusion"
)

// ToolExecutor is the local seam Client depends on instead of importing
// internal/toolexec directly, which would cycle back through
// jobqueue/lifecycle/registry/catalog. The toolBridge in cmd/server adapts
// a concrete *toolexec.Executor (plus toolexec.IsBackendTool) to this shape.
type ToolExecutor interface {
	IsBackendTool(name string) bool
	Execute(name string, params json.RawMessage) (json.RawMessage, error)
}

// Action is one normalized tool call, native or fenced-block, after
// backend-tool interception. Result is set only for backend tools; a
// frontend action is passed through with Result left nil for the UI to
// perform and report back separately.
type Action struct {
	ID         string          `json:"id"`
	Type       string          `json:"type"`
	Parameters json.RawMessage `json:"parameters"`
	Result     json.RawMessage `json:"result,omitempty"`
	Error      string          `json:"error,omitempty"`
}

// ChatResponse is the non-streaming answer surfaced to the HTTP layer.
type ChatResponse struct {
	Content  string   `json:"content"`
	Thinking string   `json:"thinking,omitempty"`
	Actions  []Action `json:"actions,omitempty"`
}

// StreamEvent mirrors the SSE kinds spec §6 names: content, thinking,
// tool_call, done, error.
type StreamEvent struct {
	Kind     string
	Content  string
	Thinking string
	Action   *Action
	Err      error
}

// Client ties a Provider, persisted History, and the backend tool bridge
// into the single entry point the HTTP layer calls.
type Client struct {
	provider     Provider
	history      *History
	executor     ToolExecutor
	systemPrompt string
	model        string
	temperature  float64
	maxTokens    int
	logger       *slog.Logger
}

// NewClient builds a Client. executor may be nil, in which case every
// action is treated as frontend-only (useful for tests).
func NewClient(provider Provider, history *History, executor ToolExecutor, systemPrompt, model string, temperature float64, maxTokens int, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		provider:     provider,
		history:      history,
		executor:     executor,
		systemPrompt: systemPrompt,
		model:        model,
		temperature:  temperature,
		maxTokens:    maxTokens,
		logger:       logger,
	}
}

func (c *Client) replayMessages(userMessage string) []Message {
	past := c.history.Messages()
	out := make([]Message, 0, len(past)+1)
	for _, m := range past {
		if m.Role == "system" {
			continue
		}
		out = append(out, Message{Role: string(m.Role), Content: m.Content})
	}
	out = append(out, Message{Role: "user", Content: userMessage})
	return out
}

func (c *Client) buildRequest(userMessage, contextJSON string) ChatRequest {
	return ChatRequest{
		System:      BuildSystem(c.systemPrompt, contextJSON),
		Messages:    c.replayMessages(userMessage),
		Tools:       ToolSpecs(),
		Model:       c.model,
		Temperature: c.temperature,
		MaxTokens:   c.maxTokens,
	}
}

// normalizeActions converts the provider's tool calls into one Action
// stream, then intercepts backend-tool ones synchronously. The two
// extraction paths are either/or: the fenced-block fallback is only
// consulted when the provider returned no native tool calls.
func (c *Client) normalizeActions(content string, native []NativeToolCall) (string, []Action) {
	cleaned := content
	var fenced []NativeToolCall
	if len(native) == 0 {
		cleaned, fenced = ExtractFencedToolCalls(content)
	}

	actions := make([]Action, 0, len(native)+len(fenced))
	for _, call := range native {
		actions = append(actions, Action{ID: call.ID, Type: call.Name, Parameters: call.Arguments})
	}
	for _, call := range fenced {
		actions = append(actions, Action{ID: call.ID, Type: call.Name, Parameters: call.Arguments})
	}

	for i := range actions {
		if c.executor == nil || !c.executor.IsBackendTool(actions[i].Type) {
			continue
		}
		result, err := c.executor.Execute(actions[i].Type, actions[i].Parameters)
		if err != nil {
			actions[i].Error = err.Error()
			continue
		}
		actions[i].Result = result
	}

	return cleaned, actions
}

// Chat performs one non-streaming turn: build the request, call the
// provider, intercept backend tools, persist both sides of the turn.
func (c *Client) Chat(ctx context.Context, userMessage, contextJSON string) (ChatResponse, error) {
	req := c.buildRequest(userMessage, contextJSON)

	result, err := c.provider.Complete(ctx, req)
	if err != nil {
		return ChatResponse{}, fmt.Errorf("assistant chat: %w", err)
	}

	content, actions := c.normalizeActions(result.Content, result.ToolCalls)

	if err := c.persistTurn(userMessage, content, result.Thinking, actions); err != nil {
		c.logger.Error("persist assistant turn", "error", err)
	}

	return ChatResponse{Content: content, Thinking: result.Thinking, Actions: actions}, nil
}

// ChatStream performs one streaming turn, relaying the provider's chunks
// as StreamEvents and intercepting backend tool calls as they complete.
// The returned channel is closed after a "done" or "error" event.
func (c *Client) ChatStream(ctx context.Context, userMessage, contextJSON string) (<-chan StreamEvent, error) {
	req := c.buildRequest(userMessage, contextJSON)

	chunks, err := c.provider.Stream(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("assistant chat stream: %w", err)
	}

	out := make(chan StreamEvent)
	go func() {
		defer close(out)

		var content, thinking string
		var actions []Action

		for chunk := range chunks {
			switch {
			case chunk.Err != nil:
				out <- StreamEvent{Kind: "error", Err: chunk.Err}
				return
			case chunk.ToolCall != nil:
				action := Action{ID: chunk.ToolCall.ID, Type: chunk.ToolCall.Name, Parameters: chunk.ToolCall.Arguments}
				if c.executor != nil && c.executor.IsBackendTool(action.Type) {
					result, execErr := c.executor.Execute(action.Type, action.Parameters)
					if execErr != nil {
						action.Error = execErr.Error()
					} else {
						action.Result = result
					}
				}
				actions = append(actions, action)
				out <- StreamEvent{Kind: "tool_call", Action: &action}
			case chunk.Content != "":
				content += chunk.Content
				out <- StreamEvent{Kind: "content", Content: chunk.Content}
			case chunk.Thinking != "":
				thinking += chunk.Thinking
				out <- StreamEvent{Kind: "thinking", Thinking: chunk.Thinking}
			case chunk.Done:
				cleanedContent, fencedActions := c.normalizeActions(content, nil)
				actions = append(actions, fencedActions...)
				if err := c.persistTurn(userMessage, cleanedContent, thinking, actions); err != nil {
					c.logger.Error("persist assistant turn", "error", err)
				}
				out <- StreamEvent{Kind: "done"}
				return
			}
		}
	}()
	return out, nil
}

func (c *Client) persistTurn(userMessage, content, thinking string, actions []Action) error {
	toolCalls := make([]diffusion.ToolCall, 0, len(actions))
	for _, a := range actions {
		toolCalls = append(toolCalls, diffusion.ToolCall{
			ID: a.ID, Type: a.Type, Parameters: a.Parameters, Result: a.Result,
		})
	}
	now := time.Now().UTC()
	if err := c.history.Append(diffusion.ConversationMessage{Role: "user", Content: userMessage, Timestamp: now}); err != nil {
		return err
	}
	return c.history.Append(diffusion.ConversationMessage{
		Role: "assistant", Content: content, Thinking: thinking, ToolCalls: toolCalls, Timestamp: now,
	})
}

// Clear wipes the conversation from memory and disk.
func (c *Client) Clear() error {
	return c.history.Reset()
}

// History exposes the persisted conversation for the HTTP surface.
func (c *Client) History() []diffusion.ConversationMessage {
	return c.history.Messages()
}

// ProviderInfo reports which provider implementation is wired, the model
// it targets, and whether it advertises native tool-calling.
func (c *Client) ProviderInfo() (providerName, model string, supportsTools bool) {
	return c.provider.Name(), c.model, c.provider.SupportsTools()
}
