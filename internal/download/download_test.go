package download

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/fszontagh/sdcpp-orchestrator/internal/config"
)

func newTestClient(t *testing.T, handler http.Handler) (*Client, string) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	dir := t.TempDir()
	c := New(config.PathsConfig{Checkpoints: dir, LoRA: dir}, nil)
	c.civitaiAPI = server.URL
	c.civitaiDL = server.URL + "/download"
	c.hfBase = server.URL
	return c, dir
}

func TestDownloadHuggingFaceWritesFileAndReportsProgress(t *testing.T) {
	payload := []byte("safetensors-bytes")
	c, dir := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/org/model/resolve/main/weights.safetensors" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Length", fmt.Sprint(len(payload)))
		w.Write(payload)
	}))

	var lastDownloaded, lastTotal int64
	path, err := c.Download(context.Background(), map[string]any{
		"source":     "huggingface",
		"repo_id":    "org/model",
		"filename":   "weights.safetensors",
		"model_type": "checkpoint",
	}, func(downloaded, total int64) {
		lastDownloaded, lastTotal = downloaded, total
	})
	if err != nil {
		t.Fatalf("download: %v", err)
	}
	if path != filepath.Join(dir, "weights.safetensors") {
		t.Fatalf("path = %q", path)
	}
	got, err := os.ReadFile(path)
	if err != nil || string(got) != string(payload) {
		t.Fatalf("file contents = %q err = %v", got, err)
	}
	if lastDownloaded != int64(len(payload)) || lastTotal != int64(len(payload)) {
		t.Fatalf("progress = %d/%d", lastDownloaded, lastTotal)
	}
	if _, err := os.Stat(path + ".part"); !os.IsNotExist(err) {
		t.Fatalf("temp file left behind")
	}
}

func TestDownloadFailureLeavesNoPartialFile(t *testing.T) {
	c, dir := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusForbidden)
	}))

	_, err := c.Download(context.Background(), map[string]any{
		"source": "url", "url": c.hfBase + "/file", "filename": "x.safetensors", "model_type": "checkpoint",
	}, nil)
	if err == nil {
		t.Fatalf("expected error")
	}
	entries, _ := os.ReadDir(dir)
	if len(entries) != 0 {
		t.Fatalf("directory not empty: %v", entries)
	}
}

func TestDownloadRejectsUnknownModelType(t *testing.T) {
	c, _ := newTestClient(t, http.NotFoundHandler())
	_, err := c.Download(context.Background(), map[string]any{
		"source": "huggingface", "repo_id": "a/b", "filename": "f", "model_type": "flux-capacitor",
	}, nil)
	if err == nil {
		t.Fatalf("expected error for unknown model_type")
	}
}

func TestProbeCivitaiPicksRequestedVersion(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/models/42" {
			http.NotFound(w, r)
			return
		}
		fmt.Fprint(w, `{
			"id": 42, "name": "Example", "type": "Checkpoint",
			"modelVersions": [
				{"id": 100, "name": "v2", "baseModel": "SDXL 1.0",
				 "files": [{"name": "v2.safetensors", "sizeKB": 10.5, "type": "Model",
				            "hashes": {"SHA256": "ABCDEF"}}]},
				{"id": 99, "name": "v1", "baseModel": "SDXL 1.0", "files": []}
			]
		}`)
	}))

	meta, err := c.ProbeCivitai(context.Background(), 42, 100)
	if err != nil {
		t.Fatalf("probe: %v", err)
	}
	if meta.VersionID != 100 || meta.VersionName != "v2" {
		t.Fatalf("version = %d %q", meta.VersionID, meta.VersionName)
	}
	if len(meta.Files) != 1 || meta.Files[0].SHA256 != "abcdef" {
		t.Fatalf("files = %+v", meta.Files)
	}

	if _, err := c.ProbeCivitai(context.Background(), 42, 12345); err == nil {
		t.Fatalf("expected error for unknown version")
	}
}

func TestProbeHuggingFaceFiltersByFilename(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/models/org/model/revision/main" {
			http.NotFound(w, r)
			return
		}
		fmt.Fprint(w, `{"siblings": [
			{"rfilename": "README.md", "size": 100},
			{"rfilename": "weights.safetensors", "lfs": {"sha256": "deadbeef", "size": 5000}}
		]}`)
	}))

	meta, err := c.ProbeHuggingFace(context.Background(), "org/model", "weights.safetensors", "")
	if err != nil {
		t.Fatalf("probe: %v", err)
	}
	if len(meta.Files) != 1 {
		t.Fatalf("files = %+v", meta.Files)
	}
	if meta.Files[0].SHA256 != "deadbeef" || meta.Files[0].Size != 5000 {
		t.Fatalf("file = %+v", meta.Files[0])
	}

	if _, err := c.ProbeHuggingFace(context.Background(), "org/model", "missing.bin", ""); err == nil {
		t.Fatalf("expected error for missing filename")
	}
}
