// Package promptenhance is the much smaller sibling of internal/assistant:
// a non-tool-calling chat client used only to rewrite a generation prompt
// before it is enqueued. It shares the assistant's provider seam but
// keeps its own short-lived history file, since the original source
// tracked prompt-enhancement turns separately from full assistant chat.
package promptenhance

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"time"

	"github.com/fszontagh/sdcpp-orchestrator/internal/assistant"
	"github.com/fszontagh/sdcpp-orchestrator/pkg/diffusion"
)

const systemPrompt = `You rewrite image/video generation prompts to be more descriptive and effective, without changing the user's intent. Reply with only the rewritten prompt, no commentary, no markdown, no quotes.`

// Enhancer rewrites prompts through a chat-completion endpoint. It never
// advertises tools: a rewritten prompt is always plain text.
type Enhancer struct {
	provider assistant.Provider
	history  *assistant.History
	model    string
	logger   *slog.Logger
}

// New builds an Enhancer. historyPath is typically ollama_history.json,
// distinct from the Assistant Client's assistant_history.json.
func New(provider assistant.Provider, historyPath string, maxTurns int, model string, logger *slog.Logger) *Enhancer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Enhancer{
		provider: provider,
		history:  assistant.NewHistory(historyPath, maxTurns, logger),
		model:    model,
		logger:   logger,
	}
}

// Load recovers any persisted prompt-enhancement history from a prior run.
func (e *Enhancer) Load() error {
	return e.history.Load()
}

// Enhance rewrites prompt and persists the turn. On any provider error the
// original prompt is returned unchanged: a failed enhancement must never
// block a generation request.
func (e *Enhancer) Enhance(ctx context.Context, prompt string) (string, error) {
	req := assistant.ChatRequest{
		System:   systemPrompt,
		Messages: []assistant.Message{{Role: "user", Content: prompt}},
		Model:    e.model,
	}

	result, err := e.provider.Complete(ctx, req)
	if err != nil {
		return prompt, fmt.Errorf("promptenhance: %w", err)
	}

	rewritten := strings.TrimSpace(result.Content)
	if rewritten == "" {
		rewritten = prompt
	}

	if err := e.history.Append(entry("user", prompt)); err != nil {
		e.logger.Error("persist prompt-enhancement turn", "error", err)
	}
	if err := e.history.Append(entry("assistant", rewritten)); err != nil {
		e.logger.Error("persist prompt-enhancement turn", "error", err)
	}

	return rewritten, nil
}

// Clear wipes the prompt-enhancement history from memory and disk.
func (e *Enhancer) Clear() error {
	return e.history.Reset()
}

func entry(role, content string) diffusion.ConversationMessage {
	return diffusion.ConversationMessage{Role: diffusion.MessageRole(role), Content: content, Timestamp: time.Now().UTC()}
}
