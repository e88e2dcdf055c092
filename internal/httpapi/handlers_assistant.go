package httpapi

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/fszontagh/sdcpp-orchestrator/internal/assistant"
	"github.com/fszontagh/sdcpp-orchestrator/internal/config"
)

// currentAssistant returns the live client, or nil when the assistant is
// disabled or unconfigured.
func (s *Server) currentAssistant() *assistant.Client {
	s.assistantMu.RLock()
	defer s.assistantMu.RUnlock()
	return s.assistant
}

type chatRequest struct {
	Message string `json:"message"`
	Context string `json:"context,omitempty"` // compact JSON state block the UI provides
}

func (s *Server) handleAssistantChat(w http.ResponseWriter, r *http.Request) {
	client := s.currentAssistant()
	if client == nil {
		writeError(w, http.StatusBadRequest, "assistant is not enabled")
		return
	}
	var req chatRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Message == "" {
		writeError(w, http.StatusBadRequest, "message is required")
		return
	}

	resp, err := client.Chat(r.Context(), req.Message, req.Context)
	if err != nil {
		writeError(w, http.StatusBadGateway, "%v", err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleAssistantChatStream relays the assistant's streaming turn as
// Server-Sent Events of kinds content, thinking, tool_call, done, error.
func (s *Server) handleAssistantChatStream(w http.ResponseWriter, r *http.Request) {
	client := s.currentAssistant()
	if client == nil {
		writeError(w, http.StatusBadRequest, "assistant is not enabled")
		return
	}
	var req chatRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Message == "" {
		writeError(w, http.StatusBadRequest, "message is required")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	events, err := client.ChatStream(r.Context(), req.Message, req.Context)
	if err != nil {
		writeError(w, http.StatusBadGateway, "%v", err)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	writeSSE := func(kind string, data any) {
		payload, err := json.Marshal(data)
		if err != nil {
			return
		}
		fmt.Fprintf(w, "event: %s\ndata: %s\n\n", kind, payload)
		flusher.Flush()
	}

	for ev := range events {
		switch ev.Kind {
		case "content":
			writeSSE("content", map[string]string{"content": ev.Content})
		case "thinking":
			writeSSE("thinking", map[string]string{"thinking": ev.Thinking})
		case "tool_call":
			writeSSE("tool_call", ev.Action)
		case "done":
			writeSSE("done", map[string]bool{"done": true})
		case "error":
			writeSSE("error", errorBody{Error: ev.Err.Error()})
		}
	}
}

func (s *Server) handleAssistantHistory(w http.ResponseWriter, r *http.Request) {
	client := s.currentAssistant()
	if client == nil {
		writeError(w, http.StatusBadRequest, "assistant is not enabled")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": client.History()})
}

func (s *Server) handleAssistantClearHistory(w http.ResponseWriter, r *http.Request) {
	client := s.currentAssistant()
	if client == nil {
		writeError(w, http.StatusBadRequest, "assistant is not enabled")
		return
	}
	if err := client.Clear(); err != nil {
		writeError(w, http.StatusInternalServerError, "%v", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"cleared": true})
}

// assistantSettingsView is the settings document with the API key masked;
// the stored key is write-only through this surface.
func assistantSettingsView(cfg config.AssistantConfig) map[string]any {
	masked := ""
	if cfg.APIKey != "" {
		masked = "********"
	}
	return map[string]any{
		"enabled":               cfg.Enabled,
		"endpoint":              cfg.Endpoint,
		"api_key":               masked,
		"model":                 cfg.Model,
		"temperature":           cfg.Temperature,
		"max_tokens":            cfg.MaxTokens,
		"timeout_seconds":       cfg.TimeoutSeconds,
		"system_prompt":         cfg.SystemPrompt,
		"max_history_turns":     cfg.MaxHistoryTurns,
		"proactive_suggestions": cfg.ProactiveSuggestions,
	}
}

func (s *Server) handleGetAssistantSettings(w http.ResponseWriter, r *http.Request) {
	s.assistantMu.RLock()
	cfg := s.assistantCfg
	s.assistantMu.RUnlock()
	writeJSON(w, http.StatusOK, assistantSettingsView(cfg))
}

func (s *Server) handlePutAssistantSettings(w http.ResponseWriter, r *http.Request) {
	var incoming config.AssistantConfig
	if !decodeBody(w, r, &incoming) {
		return
	}
	if incoming.Enabled && incoming.Endpoint == "" {
		writeError(w, http.StatusBadRequest, "endpoint is required when the assistant is enabled")
		return
	}

	s.assistantMu.Lock()
	if incoming.APIKey == "" || incoming.APIKey == "********" {
		incoming.APIKey = s.assistantCfg.APIKey
	}
	s.assistantCfg = incoming
	if s.deps.AssistantFactory != nil {
		s.assistant = s.deps.AssistantFactory(incoming)
	}
	cfg := s.assistantCfg
	s.assistantMu.Unlock()

	writeJSON(w, http.StatusOK, assistantSettingsView(cfg))
}

func (s *Server) handleAssistantStatus(w http.ResponseWriter, r *http.Request) {
	s.assistantMu.RLock()
	cfg := s.assistantCfg
	client := s.assistant
	s.assistantMu.RUnlock()

	writeJSON(w, http.StatusOK, map[string]any{
		"enabled":    cfg.Enabled,
		"configured": client != nil,
		"endpoint":   cfg.Endpoint,
		"model":      cfg.Model,
	})
}

func (s *Server) handleAssistantModelInfo(w http.ResponseWriter, r *http.Request) {
	client := s.currentAssistant()
	if client == nil {
		writeError(w, http.StatusBadRequest, "assistant is not enabled")
		return
	}
	provider, model, supportsTools := client.ProviderInfo()
	writeJSON(w, http.StatusOK, map[string]any{
		"provider":      provider,
		"model":         model,
		"supports_tools": supportsTools,
	})
}

func (s *Server) handleEnhancePrompt(w http.ResponseWriter, r *http.Request) {
	if s.deps.Enhancer == nil {
		writeError(w, http.StatusBadRequest, "prompt enhancement is not enabled")
		return
	}
	var req struct {
		Prompt string `json:"prompt"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Prompt == "" {
		writeError(w, http.StatusBadRequest, "prompt is required")
		return
	}
	rewritten, err := s.deps.Enhancer.Enhance(r.Context(), req.Prompt)
	if err != nil {
		// the enhancer returns the original prompt on failure so the
		// caller can still generate; surface that rather than a 5xx
		s.logger.Warn("prompt enhancement failed", "error", err)
	}
	writeJSON(w, http.StatusOK, map[string]string{"prompt": rewritten})
}
