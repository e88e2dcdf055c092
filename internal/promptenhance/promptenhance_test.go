package promptenhance

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/fszontagh/sdcpp-orchestrator/internal/assistant"
)

type fakeProvider struct {
	content string
	err     error
}

func (f *fakeProvider) Name() string       { return "fake" }
func (f *fakeProvider) SupportsTools() bool { return false }

func (f *fakeProvider) Complete(context.Context, assistant.ChatRequest) (assistant.ChatResult, error) {
	if f.err != nil {
		return assistant.ChatResult{}, f.err
	}
	return assistant.ChatResult{Content: f.content}, nil
}

func (f *fakeProvider) Stream(context.Context, assistant.ChatRequest) (<-chan assistant.StreamChunk, error) {
	return nil, errors.New("not used")
}

func TestEnhanceRewritesPrompt(t *testing.T) {
	provider := &fakeProvider{content: "a majestic cat, golden hour lighting, highly detailed"}
	e := New(provider, filepath.Join(t.TempDir(), "ollama_history.json"), 5, "llama3", nil)
	if err := e.Load(); err != nil {
		t.Fatalf("load: %v", err)
	}

	rewritten, err := e.Enhance(context.Background(), "a cat")
	if err != nil {
		t.Fatalf("enhance: %v", err)
	}
	if rewritten != provider.content {
		t.Fatalf("expected rewritten prompt, got %q", rewritten)
	}
}

func TestEnhanceFallsBackToOriginalOnError(t *testing.T) {
	provider := &fakeProvider{err: errors.New("endpoint down")}
	e := New(provider, filepath.Join(t.TempDir(), "ollama_history.json"), 5, "llama3", nil)

	rewritten, err := e.Enhance(context.Background(), "a cat")
	if err == nil {
		t.Fatalf("expected error to be returned alongside fallback")
	}
	if rewritten != "a cat" {
		t.Fatalf("expected original prompt on failure, got %q", rewritten)
	}
}

func TestEnhanceEmptyReplyFallsBackToOriginal(t *testing.T) {
	provider := &fakeProvider{content: "   "}
	e := New(provider, filepath.Join(t.TempDir(), "ollama_history.json"), 5, "llama3", nil)

	rewritten, err := e.Enhance(context.Background(), "a cat")
	if err != nil {
		t.Fatalf("enhance: %v", err)
	}
	if rewritten != "a cat" {
		t.Fatalf("expected fallback to original prompt, got %q", rewritten)
	}
}
