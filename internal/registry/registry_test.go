package registry

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/fszontagh/sdcpp-orchestrator/internal/config"
	"github.com/fszontagh/sdcpp-orchestrator/pkg/diffusion"
)

func writeFile(t *testing.T, dir, name string, size int) {
	t.Helper()
	full := filepath.Join(dir, name)
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(full, make([]byte, size), 0o644); err != nil {
		t.Fatalf("write file: %v", err)
	}
}

func TestScanIndexesAcceptedExtensionsOnly(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "sd_xl_base.safetensors", 10)
	writeFile(t, dir, "subdir/sd15.ckpt", 20)
	writeFile(t, dir, "readme.txt", 5)

	r := New(config.PathsConfig{Checkpoints: dir}, nil)
	if err := r.Scan(); err != nil {
		t.Fatalf("scan: %v", err)
	}

	got := r.List(diffusion.ModelFilter{Kind: diffusion.KindCheckpoint})
	if len(got) != 2 {
		t.Fatalf("expected 2 checkpoint descriptors, got %d: %+v", len(got), got)
	}
	if got[0].Name != "sd_xl_base.safetensors" {
		t.Fatalf("unexpected first entry name: %q", got[0].Name)
	}
	if got[1].Name != "subdir/sd15.ckpt" {
		t.Fatalf("expected relative subdirectory path preserved, got %q", got[1].Name)
	}
}

func TestScanSkipsAbsentRoots(t *testing.T) {
	r := New(config.PathsConfig{}, nil)
	if err := r.Scan(); err != nil {
		t.Fatalf("scan with no configured roots should not error: %v", err)
	}
	if got := r.List(diffusion.ModelFilter{}); len(got) != 0 {
		t.Fatalf("expected empty listing, got %d", len(got))
	}
}

func TestListFilterBySearchAndExtension(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "anime_style.safetensors", 1)
	writeFile(t, dir, "realistic.gguf", 1)

	r := New(config.PathsConfig{Checkpoints: dir}, nil)
	if err := r.Scan(); err != nil {
		t.Fatalf("scan: %v", err)
	}

	got := r.List(diffusion.ModelFilter{Search: "ANIME"})
	if len(got) != 1 || got[0].Name != "anime_style.safetensors" {
		t.Fatalf("search filter failed, got %+v", got)
	}

	got = r.List(diffusion.ModelFilter{Extension: ".gguf"})
	if len(got) != 1 || got[0].Name != "realistic.gguf" {
		t.Fatalf("extension filter failed, got %+v", got)
	}
}

func TestGetReturnsFalseForMissingEntry(t *testing.T) {
	r := New(config.PathsConfig{}, nil)
	if _, ok := r.Get(diffusion.KindCheckpoint, "nope.safetensors"); ok {
		t.Fatalf("expected absence, not found")
	}
}

func TestHashComputesAndCaches(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "model.safetensors", 64)

	r := New(config.PathsConfig{Checkpoints: dir}, nil)
	if err := r.Scan(); err != nil {
		t.Fatalf("scan: %v", err)
	}

	sum, err := r.Hash(diffusion.KindCheckpoint, "model.safetensors")
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	if len(sum) != 64 {
		t.Fatalf("expected 64 hex chars for sha256, got %d", len(sum))
	}

	desc, ok := r.Get(diffusion.KindCheckpoint, "model.safetensors")
	if !ok || desc.Hash != sum {
		t.Fatalf("expected hash cached on descriptor, got %+v", desc)
	}
}

func TestHashReturnsErrorForVanishedFile(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "gone.safetensors", 4)

	r := New(config.PathsConfig{Checkpoints: dir}, nil)
	if err := r.Scan(); err != nil {
		t.Fatalf("scan: %v", err)
	}
	if err := os.Remove(filepath.Join(dir, "gone.safetensors")); err != nil {
		t.Fatalf("remove: %v", err)
	}

	if _, err := r.Hash(diffusion.KindCheckpoint, "gone.safetensors"); err == nil {
		t.Fatalf("expected error hashing vanished file")
	}
}
