// Package registry discovers model files on disk and indexes them by kind
// (C2). Scans are triggered explicitly (startup, after a convert job, or
// via the admin API) rather than on every read, since walking the model
// directories is not cheap enough for a hot path.
package registry

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/fszontagh/sdcpp-orchestrator/internal/config"
	"github.com/fszontagh/sdcpp-orchestrator/pkg/diffusion"
)

// acceptedExtensions are the file suffixes a scan will index, without the
// leading dot.
var acceptedExtensions = map[string]struct{}{
	"safetensors": {},
	"gguf":        {},
	"ckpt":        {},
	"pt":          {},
	"pth":         {},
}

// Registry holds the current on-disk index for every model kind. It is
// safe for concurrent use; Scan rebuilds the whole index and swaps it
// in under a single lock so readers never observe a half-built index.
type Registry struct {
	logger *slog.Logger
	roots  map[diffusion.Kind]string

	mu       sync.RWMutex
	byKind   map[diffusion.Kind]map[string]*diffusion.ModelDescriptor
}

// New builds a Registry from the configured path roots. Roots that are
// empty strings are skipped silently on every scan, matching the
// "absent roots are silently skipped" rule.
func New(paths config.PathsConfig, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		logger: logger,
		roots: map[diffusion.Kind]string{
			diffusion.KindCheckpoint: paths.Checkpoints,
			diffusion.KindDiffusion:  paths.DiffusionModels,
			diffusion.KindVAE:        paths.VAE,
			diffusion.KindLoRA:       paths.LoRA,
			diffusion.KindCLIP:       paths.Clip,
			diffusion.KindT5:         paths.T5,
			diffusion.KindEmbedding:  paths.Embeddings,
			diffusion.KindControlNet: paths.ControlNet,
			diffusion.KindLLM:        paths.LLM,
			diffusion.KindESRGAN:     paths.ESRGAN,
			diffusion.KindTAESD:      paths.TAESD,
		},
		byKind: make(map[diffusion.Kind]map[string]*diffusion.ModelDescriptor),
	}
}

// Root returns the configured root directory for kind, or "" if unset.
func (r *Registry) Root(kind diffusion.Kind) string {
	return r.roots[kind]
}

// Scan walks every configured root and rebuilds the index. It preserves
// previously-computed hashes for files whose size is unchanged, so a
// rescan after a convert job doesn't force every existing file to be
// rehashed.
func (r *Registry) Scan() error {
	r.mu.RLock()
	previous := r.byKind
	r.mu.RUnlock()

	next := make(map[diffusion.Kind]map[string]*diffusion.ModelDescriptor, len(diffusion.AllKinds))
	for _, kind := range diffusion.AllKinds {
		root := r.roots[kind]
		bucket := make(map[string]*diffusion.ModelDescriptor)
		if root == "" {
			next[kind] = bucket
			continue
		}
		if _, err := os.Stat(root); err != nil {
			r.logger.Debug("registry root missing, skipping", "kind", kind, "root", root)
			next[kind] = bucket
			continue
		}

		err := filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
			if err != nil {
				return err
			}
			if info.IsDir() {
				return nil
			}
			ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), ".")
			if _, ok := acceptedExtensions[ext]; !ok {
				return nil
			}
			rel, err := filepath.Rel(root, path)
			if err != nil {
				rel = filepath.Base(path)
			}
			rel = filepath.ToSlash(rel)

			desc := &diffusion.ModelDescriptor{
				Name:      rel,
				Path:      path,
				Kind:      kind,
				Extension: ext,
				Size:      info.Size(),
			}
			if prevBucket, ok := previous[kind]; ok {
				if prevDesc, ok := prevBucket[rel]; ok && prevDesc.Size == desc.Size {
					desc.Hash = prevDesc.Hash
				}
			}
			bucket[rel] = desc
			return nil
		})
		if err != nil {
			return fmt.Errorf("scan %s root %q: %w", kind, root, err)
		}
		next[kind] = bucket
	}

	r.mu.Lock()
	r.byKind = next
	r.mu.Unlock()
	return nil
}

// List returns descriptors matching filter, sorted by name.
func (r *Registry) List(filter diffusion.ModelFilter) []diffusion.ModelDescriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()

	kinds := diffusion.AllKinds
	if filter.Kind != "" {
		kinds = []diffusion.Kind{filter.Kind}
	}

	ext := strings.ToLower(strings.TrimPrefix(filter.Extension, "."))
	search := strings.ToLower(filter.Search)

	var out []diffusion.ModelDescriptor
	for _, kind := range kinds {
		for _, desc := range r.byKind[kind] {
			if ext != "" && strings.ToLower(desc.Extension) != ext {
				continue
			}
			if search != "" && !strings.Contains(strings.ToLower(desc.Name), search) {
				continue
			}
			out = append(out, *desc)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Get looks up a single descriptor by kind and exact name. The bool
// reports ordinary absence, never an error.
func (r *Registry) Get(kind diffusion.Kind, name string) (diffusion.ModelDescriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	bucket, ok := r.byKind[kind]
	if !ok {
		return diffusion.ModelDescriptor{}, false
	}
	desc, ok := bucket[name]
	if !ok {
		return diffusion.ModelDescriptor{}, false
	}
	return *desc, true
}

// Hash computes (and caches) the SHA-256 digest of the named file. If the
// file has vanished since the last scan, the read error is returned
// verbatim rather than masked.
func (r *Registry) Hash(kind diffusion.Kind, name string) (string, error) {
	r.mu.RLock()
	bucket, ok := r.byKind[kind]
	var desc *diffusion.ModelDescriptor
	if ok {
		desc, ok = bucket[name]
	}
	r.mu.RUnlock()
	if !ok {
		return "", fmt.Errorf("model not found: kind=%s name=%s", kind, name)
	}
	if desc.Hash != "" {
		return desc.Hash, nil
	}

	f, err := os.Open(desc.Path)
	if err != nil {
		return "", fmt.Errorf("hash %s: %w", desc.Path, err)
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("hash %s: %w", desc.Path, err)
	}
	sum := hex.EncodeToString(h.Sum(nil))

	r.mu.Lock()
	if bucket, ok := r.byKind[kind]; ok {
		if live, ok := bucket[name]; ok {
			live.Hash = sum
		}
	}
	r.mu.Unlock()

	return sum, nil
}

// CountByKind returns the number of indexed files per kind, used by the
// model-count summary endpoint.
func (r *Registry) CountByKind() map[diffusion.Kind]int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[diffusion.Kind]int, len(r.byKind))
	for kind, bucket := range r.byKind {
		out[kind] = len(bucket)
	}
	return out
}
