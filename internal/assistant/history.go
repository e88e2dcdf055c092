package assistant

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/fszontagh/sdcpp-orchestrator/pkg/diffusion"
)

// historyDocVersion is bumped whenever the persisted shape changes
// incompatibly; History refuses to load a file with a higher version.
const historyDocVersion = 1

type historyDoc struct {
	Version int                            `json:"version"`
	Items   []diffusion.ConversationMessage `json:"items"`
}

// History is the assistant's conversation log, persisted to a single JSON
// file and pruned to the most recent N turns on every append, matching
// the job store's load-whole-file/atomic-save shape.
type History struct {
	mu       sync.Mutex
	path     string
	maxTurns int
	items    []diffusion.ConversationMessage
	logger   *slog.Logger
}

// NewHistory builds an empty History. Call Load to recover a prior run's
// persisted conversation, if any.
func NewHistory(path string, maxTurns int, logger *slog.Logger) *History {
	if logger == nil {
		logger = slog.Default()
	}
	if maxTurns <= 0 {
		maxTurns = 20
	}
	return &History{path: path, maxTurns: maxTurns, logger: logger}
}

// Load reads the persisted file, if any. A missing file is not an error:
// it means no conversation has happened yet.
func (h *History) Load() error {
	raw, err := os.ReadFile(h.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read assistant history: %w", err)
	}
	var doc historyDoc
	if err := json.Unmarshal(raw, &doc); err != nil {
		return fmt.Errorf("parse assistant history: %w", err)
	}
	if doc.Version > historyDocVersion {
		return fmt.Errorf("assistant history version %d is newer than supported %d", doc.Version, historyDocVersion)
	}

	h.mu.Lock()
	h.items = doc.Items
	h.mu.Unlock()
	return nil
}

// Append adds a message and prunes to the most recent maxTurns*2 entries
// (one user + one assistant message per turn), then persists.
func (h *History) Append(msg diffusion.ConversationMessage) error {
	h.mu.Lock()
	h.items = append(h.items, msg)
	limit := h.maxTurns * 2
	if limit > 0 && len(h.items) > limit {
		h.items = h.items[len(h.items)-limit:]
	}
	items := make([]diffusion.ConversationMessage, len(h.items))
	copy(items, h.items)
	h.mu.Unlock()

	return h.save(items)
}

// Messages returns a clone of the current conversation, oldest first.
func (h *History) Messages() []diffusion.ConversationMessage {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]diffusion.ConversationMessage, len(h.items))
	copy(out, h.items)
	return out
}

// Reset clears the conversation and persists the empty state.
func (h *History) Reset() error {
	h.mu.Lock()
	h.items = nil
	h.mu.Unlock()
	return h.save(nil)
}

func (h *History) save(items []diffusion.ConversationMessage) error {
	if items == nil {
		items = []diffusion.ConversationMessage{}
	}
	raw, err := json.MarshalIndent(historyDoc{Version: historyDocVersion, Items: items}, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal assistant history: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(h.path), 0o755); err != nil {
		return fmt.Errorf("create assistant history dir: %w", err)
	}
	tmp := h.path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o644); err != nil {
		return fmt.Errorf("write assistant history: %w", err)
	}
	if err := os.Rename(tmp, h.path); err != nil {
		return fmt.Errorf("persist assistant history: %w", err)
	}
	return nil
}
