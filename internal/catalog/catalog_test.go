package catalog

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

const sampleCatalog = `{
  "architectures": [
    {
      "id": "sdxl",
      "display_name": "Stable Diffusion XL",
      "aliases": ["sd-xl", "xl"],
      "requiredComponents": {"checkpoint": "main"},
      "optionalComponents": {"vae": "refiner vae"}
    },
    {
      "id": "flux",
      "display_name": "Flux.1 Dev",
      "aliases": ["flux1", "flux-dev"],
      "requiredComponents": {"diffusion": "main", "t5": "text encoder"}
    }
  ]
}`

func writeCatalog(t *testing.T, dir, body string) string {
	t.Helper()
	path := filepath.Join(dir, "model_architectures.json")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write catalog: %v", err)
	}
	return path
}

func TestLoadAndLookupByIDAliasAndSubstring(t *testing.T) {
	dir := t.TempDir()
	path := writeCatalog(t, dir, sampleCatalog)

	c, err := Load(path, nil)
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if p, ok := c.Lookup("sdxl"); !ok || p.DisplayName != "Stable Diffusion XL" {
		t.Fatalf("exact id lookup failed: %+v ok=%v", p, ok)
	}
	if p, ok := c.Lookup("XL"); !ok || p.ID != "sdxl" {
		t.Fatalf("alias lookup failed: %+v ok=%v", p, ok)
	}
	if p, ok := c.Lookup("flux-dev"); !ok || p.ID != "flux" {
		t.Fatalf("alias lookup for flux failed: %+v ok=%v", p, ok)
	}
	if p, ok := c.Lookup("sdxl-turbo"); !ok || p.ID != "sdxl" {
		t.Fatalf("id substring lookup failed: %+v ok=%v", p, ok)
	}
	if p, ok := c.Lookup("stable diffusion"); !ok || p.ID != "sdxl" {
		t.Fatalf("display-name substring lookup failed: %+v ok=%v", p, ok)
	}
	if _, ok := c.Lookup("does-not-exist"); ok {
		t.Fatalf("expected no match for unrelated query")
	}
}

func TestAllReturnsEveryPreset(t *testing.T) {
	dir := t.TempDir()
	path := writeCatalog(t, dir, sampleCatalog)

	c, err := Load(path, nil)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got := c.All(); len(got) != 2 {
		t.Fatalf("expected 2 presets, got %d", len(got))
	}
}

func TestLoadFailsOnMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.json"), nil); err == nil {
		t.Fatalf("expected error loading nonexistent catalog")
	}
}

func TestReloadPicksUpMtimeChange(t *testing.T) {
	dir := t.TempDir()
	path := writeCatalog(t, dir, sampleCatalog)

	c, err := Load(path, nil)
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	updated := `{"architectures":[{"id":"sdxl","display_name":"Renamed","requiredComponents":{"checkpoint":"main"}}]}`
	if err := os.WriteFile(path, []byte(updated), 0o644); err != nil {
		t.Fatalf("rewrite: %v", err)
	}
	// Ensure the mtime strictly advances on filesystems with coarse
	// timestamp resolution.
	future := time.Now().Add(time.Second)
	if err := os.Chtimes(path, future, future); err != nil {
		t.Fatalf("chtimes: %v", err)
	}

	if err := c.reload(); err != nil {
		t.Fatalf("reload: %v", err)
	}
	p, ok := c.Lookup("sdxl")
	if !ok || p.DisplayName != "Renamed" {
		t.Fatalf("expected reload to pick up new display name, got %+v", p)
	}
}
