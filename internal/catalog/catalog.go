// Package catalog loads the hot-reloadable architecture preset file (C8)
// and answers id/alias/substring lookups against an immutable snapshot.
package catalog

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/fszontagh/sdcpp-orchestrator/pkg/diffusion"
)

const pollInterval = 2 * time.Second

// Catalog holds the currently loaded set of architecture presets. Readers
// always see a fully-built snapshot; reload swaps it in atomically.
type Catalog struct {
	path   string
	logger *slog.Logger

	snapshot atomic.Pointer[snapshot]

	watcher    *fsnotify.Watcher
	stopOnce   sync.Once
	stopCh     chan struct{}
	doneCh     chan struct{}
}

type snapshot struct {
	presets []diffusion.ArchitecturePreset
	byID    map[string]*diffusion.ArchitecturePreset
	byAlias map[string]*diffusion.ArchitecturePreset
	modTime time.Time
}

type fileFormat struct {
	Architectures []diffusion.ArchitecturePreset `json:"architectures"`
}

// Load reads path once, synchronously, so startup fails fast on a bad
// file rather than serving an empty catalog.
func Load(path string, logger *slog.Logger) (*Catalog, error) {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Catalog{
		path:   path,
		logger: logger,
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}
	if err := c.reload(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Catalog) reload() error {
	info, err := os.Stat(c.path)
	if err != nil {
		return fmt.Errorf("stat architecture catalog: %w", err)
	}
	raw, err := os.ReadFile(c.path)
	if err != nil {
		return fmt.Errorf("read architecture catalog: %w", err)
	}

	var doc fileFormat
	if err := json.Unmarshal(raw, &doc); err != nil {
		return fmt.Errorf("parse architecture catalog: %w", err)
	}

	snap := &snapshot{
		presets: doc.Architectures,
		byID:    make(map[string]*diffusion.ArchitecturePreset, len(doc.Architectures)),
		byAlias: make(map[string]*diffusion.ArchitecturePreset, len(doc.Architectures)),
		modTime: info.ModTime(),
	}
	for i := range doc.Architectures {
		p := &doc.Architectures[i]
		snap.byID[p.ID] = p
		for _, alias := range p.Aliases {
			snap.byAlias[strings.ToLower(alias)] = p
		}
	}

	c.snapshot.Store(snap)
	c.logger.Info("architecture catalog loaded", "path", c.path, "count", len(doc.Architectures))
	return nil
}

// All returns every loaded preset.
func (c *Catalog) All() []diffusion.ArchitecturePreset {
	snap := c.snapshot.Load()
	if snap == nil {
		return nil
	}
	out := make([]diffusion.ArchitecturePreset, len(snap.presets))
	copy(out, snap.presets)
	return out
}

// Lookup resolves query against exact id, then lowercased alias, then a
// case-insensitive substring match: id and query in either direction, or
// the query inside the display name.
func (c *Catalog) Lookup(query string) (diffusion.ArchitecturePreset, bool) {
	snap := c.snapshot.Load()
	if snap == nil || query == "" {
		return diffusion.ArchitecturePreset{}, false
	}

	if p, ok := snap.byID[query]; ok {
		return *p, true
	}
	if p, ok := snap.byAlias[strings.ToLower(query)]; ok {
		return *p, true
	}

	lower := strings.ToLower(query)
	for _, p := range snap.presets {
		if strings.Contains(strings.ToLower(p.ID), lower) || strings.Contains(lower, strings.ToLower(p.ID)) {
			return p, true
		}
		if strings.Contains(strings.ToLower(p.DisplayName), lower) {
			return p, true
		}
	}
	return diffusion.ArchitecturePreset{}, false
}

// Watch starts the background reload goroutine: an fsnotify watcher on
// the catalog file's directory triggers an immediate check, and a 2s
// poll catches changes the watcher misses (network filesystems, editors
// that replace-by-rename outside the watched directory).
func (c *Catalog) Watch() error {
	dir := filepath.Dir(c.path)
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create catalog watcher: %w", err)
	}
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return fmt.Errorf("watch catalog dir %q: %w", dir, err)
	}
	c.watcher = watcher

	go c.watchLoop()
	return nil
}

func (c *Catalog) watchLoop() {
	defer close(c.doneCh)
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	checkAndReload := func() {
		info, err := os.Stat(c.path)
		if err != nil {
			return
		}
		snap := c.snapshot.Load()
		if snap != nil && !info.ModTime().After(snap.modTime) {
			return
		}
		if err := c.reload(); err != nil {
			c.logger.Warn("architecture catalog reload failed", "error", err)
		}
	}

	for {
		select {
		case <-c.stopCh:
			if c.watcher != nil {
				c.watcher.Close()
			}
			return
		case <-ticker.C:
			checkAndReload()
		case event, ok := <-c.watcher.Events:
			if !ok {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 {
				checkAndReload()
			}
		case err, ok := <-c.watcher.Errors:
			if !ok {
				continue
			}
			c.logger.Warn("architecture catalog watch error", "error", err)
		}
	}
}

// Stop halts the watch goroutine, if started.
func (c *Catalog) Stop() {
	c.stopOnce.Do(func() {
		close(c.stopCh)
	})
}
