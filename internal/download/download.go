// Package download fetches model files from civitai, huggingface, or a
// raw URL onto disk, reporting byte-level progress, and probes the same
// repositories for metadata. The worker treats it as an injected
// collaborator: the queue only cares about "URL -> file on disk with
// progress".
package download

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/fszontagh/sdcpp-orchestrator/internal/config"
	"github.com/fszontagh/sdcpp-orchestrator/pkg/diffusion"
)

const (
	civitaiBase     = "https://civitai.com/api/v1"
	civitaiDownload = "https://civitai.com/api/download/models"
	huggingfaceBase = "https://huggingface.co"
)

// Client downloads model files into the configured per-kind directories.
// The three endpoint fields default to the real remotes and are
// overwritten in tests with an httptest server.
type Client struct {
	http   *http.Client
	dirs   map[diffusion.Kind]string
	logger *slog.Logger

	civitaiAPI string
	civitaiDL  string
	hfBase     string
}

// New builds a Client. paths supplies the target directory per model
// kind, the same roots the registry scans.
func New(paths config.PathsConfig, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		http:       &http.Client{Timeout: 0}, // model files are large; rely on ctx for cancellation
		logger:     logger,
		civitaiAPI: civitaiBase,
		civitaiDL:  civitaiDownload,
		hfBase:     huggingfaceBase,
		dirs: map[diffusion.Kind]string{
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
	}
}

// Download resolves params into a source URL and target path, then
// streams the file to disk through a temp file, calling onProgress with
// (downloaded, total) at chunk boundaries. Supported params:
//
//	source:     "civitai" | "huggingface" | "url"
//	model_type: registry kind selecting the target directory
//	filename:   target file name (required for huggingface and url)
//	version_id: civitai model-version id
//	repo_id:    huggingface repo, e.g. "org/model"
//	revision:   huggingface revision, default "main"
//	url:        raw source URL when source is "url"
func (c *Client) Download(ctx context.Context, params map[string]any, onProgress func(downloaded, total int64)) (string, error) {
	source, _ := params["source"].(string)
	modelType, _ := params["model_type"].(string)
	filename, _ := params["filename"].(string)

	dir, ok := c.dirs[diffusion.Kind(modelType)]
	if !ok || dir == "" {
		return "", fmt.Errorf("download: no directory configured for model_type %q", modelType)
	}

	var srcURL string
	switch source {
	case "civitai":
		versionID, ok := numericParam(params, "version_id")
		if !ok {
			return "", fmt.Errorf("download: civitai source requires version_id")
		}
		srcURL = fmt.Sprintf("%s/%d", c.civitaiDL, versionID)
		if filename == "" {
			filename = fmt.Sprintf("civitai-%d.safetensors", versionID)
		}
	case "huggingface":
		repoID, _ := params["repo_id"].(string)
		if repoID == "" || filename == "" {
			return "", fmt.Errorf("download: huggingface source requires repo_id and filename")
		}
		revision, _ := params["revision"].(string)
		if revision == "" {
			revision = "main"
		}
		srcURL = fmt.Sprintf("%s/%s/resolve/%s/%s",
			c.hfBase, repoID, url.PathEscape(revision), filename)
	case "url":
		srcURL, _ = params["url"].(string)
		if srcURL == "" || filename == "" {
			return "", fmt.Errorf("download: url source requires url and filename")
		}
	default:
		return "", fmt.Errorf("download: unknown source %q", source)
	}

	target := filepath.Join(dir, filepath.Base(filename))
	if err := c.fetch(ctx, srcURL, target, onProgress); err != nil {
		return "", err
	}
	return target, nil
}

// fetch streams srcURL into target via a temp file so a failed or
// interrupted download never leaves a partial file under a scan root.
func (c *Client) fetch(ctx context.Context, srcURL, target string, onProgress func(downloaded, total int64)) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srcURL, nil)
	if err != nil {
		return fmt.Errorf("download request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("download %s: %w", srcURL, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("download %s: unexpected status %s", srcURL, resp.Status)
	}

	tmp := target + ".part"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("create %s: %w", tmp, err)
	}

	total := resp.ContentLength
	var downloaded int64
	buf := make([]byte, 1<<20)
	lastReport := time.Time{}
	for {
		n, readErr := resp.Body.Read(buf)
		if n > 0 {
			if _, werr := f.Write(buf[:n]); werr != nil {
				f.Close()
				os.Remove(tmp)
				return fmt.Errorf("write %s: %w", tmp, werr)
			}
			downloaded += int64(n)
			if onProgress != nil && time.Since(lastReport) >= 100*time.Millisecond {
				onProgress(downloaded, total)
				lastReport = time.Now()
			}
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			f.Close()
			os.Remove(tmp)
			return fmt.Errorf("download %s: %w", srcURL, readErr)
		}
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("close %s: %w", tmp, err)
	}
	if onProgress != nil {
		onProgress(downloaded, total)
	}
	if err := os.Rename(tmp, target); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("persist %s: %w", target, err)
	}
	c.logger.Info("model downloaded", "url", srcURL, "path", target, "bytes", downloaded)
	return nil
}

// numericParam reads an int-ish param that may arrive as float64 (JSON
// body), int, or a digit string (query param).
func numericParam(params map[string]any, key string) (int64, bool) {
	switch v := params[key].(type) {
	case float64:
		return int64(v), true
	case int:
		return int64(v), true
	case int64:
		return v, true
	case string:
		var n int64
		if _, err := fmt.Sscanf(v, "%d", &n); err == nil {
			return n, true
		}
	}
	return 0, false
}
