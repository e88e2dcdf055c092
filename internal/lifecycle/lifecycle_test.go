package lifecycle

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/fszontagh/sdcpp-orchestrator/internal/config"
	"github.com/fszontagh/sdcpp-orchestrator/internal/registry"
	"github.com/fszontagh/sdcpp-orchestrator/internal/sdruntime"
	"github.com/fszontagh/sdcpp-orchestrator/pkg/diffusion"
)

type fakeContext struct {
	arch string
	comp map[string]string
}

func (f *fakeContext) Architecture() string          { return f.arch }
func (f *fakeContext) Components() map[string]string { return f.comp }
func (f *fakeContext) Close() error                  { return nil }

type fakeUpscalerContext struct{ closeErr error }

func (f *fakeUpscalerContext) Close() error { return f.closeErr }

type fakeEngine struct {
	loadErr     error
	loadCalls   int
	upscaleErr  error
}

func (f *fakeEngine) LoadModel(ctx context.Context, params sdruntime.LoadParams, onProgress sdruntime.ProgressFunc) (sdruntime.Context, error) {
	f.loadCalls++
	if onProgress != nil {
		onProgress(1, 2)
		onProgress(2, 2)
	}
	if f.loadErr != nil {
		return nil, f.loadErr
	}
	return &fakeContext{arch: "sdxl", comp: map[string]string{"vae": "baked-in"}}, nil
}

func (f *fakeEngine) LoadUpscaler(ctx context.Context, params sdruntime.UpscalerLoadParams, onProgress sdruntime.ProgressFunc) (sdruntime.UpscalerContext, error) {
	if f.upscaleErr != nil {
		return nil, f.upscaleErr
	}
	return &fakeUpscalerContext{}, nil
}

func (f *fakeEngine) Generate(ctx context.Context, loaded sdruntime.Context, req sdruntime.GenerateRequest, onProgress sdruntime.ProgressFunc, onPreview sdruntime.PreviewFunc) (sdruntime.GenerateResult, error) {
	return sdruntime.GenerateResult{}, nil
}

func (f *fakeEngine) Upscale(ctx context.Context, loaded sdruntime.UpscalerContext, req sdruntime.UpscaleRequest, onProgress sdruntime.ProgressFunc) (sdruntime.GenerateResult, error) {
	return sdruntime.GenerateResult{}, nil
}

func (f *fakeEngine) Convert(ctx context.Context, req sdruntime.ConvertRequest) error { return nil }

func newTestRegistry(t *testing.T) *registry.Registry {
	t.Helper()
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "sdxl_base.safetensors"), []byte("x"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	reg := registry.New(config.PathsConfig{Checkpoints: dir}, nil)
	if err := reg.Scan(); err != nil {
		t.Fatalf("scan: %v", err)
	}
	return reg
}

func TestLoadSucceedsAndPublishesStatus(t *testing.T) {
	reg := newTestRegistry(t)
	engine := &fakeEngine{}
	lc := New(engine, reg, nil, nil)

	err := lc.Load(context.Background(), diffusion.ModelLoadParams{
		ModelName: "sdxl_base.safetensors",
		ModelKind: diffusion.KindCheckpoint,
	})
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	status := lc.Status()
	if !status.Loaded || status.Loading {
		t.Fatalf("expected loaded=true loading=false, got %+v", status)
	}
	if status.Architecture != "sdxl" {
		t.Fatalf("expected cached architecture sdxl, got %q", status.Architecture)
	}
	if status.LoadStep != 2 || status.LoadTotal != 2 {
		t.Fatalf("expected final progress counters cached, got %+v", status)
	}
}

func TestLoadFailsValidationWithoutTouchingEngine(t *testing.T) {
	reg := newTestRegistry(t)
	engine := &fakeEngine{}
	lc := New(engine, reg, nil, nil)

	err := lc.Load(context.Background(), diffusion.ModelLoadParams{
		ModelName: "does-not-exist.safetensors",
		ModelKind: diffusion.KindCheckpoint,
	})
	if err == nil {
		t.Fatalf("expected validation error")
	}
	if engine.loadCalls != 0 {
		t.Fatalf("engine must not be called when validation fails, got %d calls", engine.loadCalls)
	}
	status := lc.Status()
	if status.Loaded {
		t.Fatalf("expected not loaded after validation failure")
	}
	if status.LastError == "" {
		t.Fatalf("expected last_error to be populated")
	}
}

func TestLoadDoesNotUnloadCurrentModelOnValidationFailure(t *testing.T) {
	reg := newTestRegistry(t)
	engine := &fakeEngine{}
	lc := New(engine, reg, nil, nil)

	if err := lc.Load(context.Background(), diffusion.ModelLoadParams{
		ModelName: "sdxl_base.safetensors",
		ModelKind: diffusion.KindCheckpoint,
	}); err != nil {
		t.Fatalf("initial load: %v", err)
	}

	err := lc.Load(context.Background(), diffusion.ModelLoadParams{
		ModelName: "missing.safetensors",
		ModelKind: diffusion.KindCheckpoint,
	})
	if err == nil {
		t.Fatalf("expected second load to fail validation")
	}

	status := lc.Status()
	if !status.Loaded || status.ModelName != "sdxl_base.safetensors" {
		t.Fatalf("expected original model to remain loaded, got %+v", status)
	}
}

func TestLoadFailureClearsCachedNames(t *testing.T) {
	reg := newTestRegistry(t)
	engine := &fakeEngine{loadErr: errors.New("native load exploded")}
	lc := New(engine, reg, nil, nil)

	err := lc.Load(context.Background(), diffusion.ModelLoadParams{
		ModelName: "sdxl_base.safetensors",
		ModelKind: diffusion.KindCheckpoint,
	})
	if err == nil {
		t.Fatalf("expected load error")
	}
	status := lc.Status()
	if status.Loaded || status.Architecture != "" {
		t.Fatalf("expected cleared state after native load failure, got %+v", status)
	}
	if status.LastError == "" {
		t.Fatalf("expected last_error populated")
	}
}

func TestWithContextRequiresLoadedModel(t *testing.T) {
	reg := newTestRegistry(t)
	lc := New(&fakeEngine{}, reg, nil, nil)

	err := lc.WithContext(func(sdruntime.Context) error { return nil })
	if err == nil {
		t.Fatalf("expected error calling WithContext before any load")
	}
}

func TestUnloadClearsState(t *testing.T) {
	reg := newTestRegistry(t)
	lc := New(&fakeEngine{}, reg, nil, nil)

	if err := lc.Load(context.Background(), diffusion.ModelLoadParams{
		ModelName: "sdxl_base.safetensors",
		ModelKind: diffusion.KindCheckpoint,
	}); err != nil {
		t.Fatalf("load: %v", err)
	}
	if err := lc.Unload(); err != nil {
		t.Fatalf("unload: %v", err)
	}
	if lc.Status().Loaded {
		t.Fatalf("expected unloaded state")
	}
}

func TestUpscalerSlotIndependentOfMainModel(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "realesrgan.safetensors"), []byte("x"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	reg := registry.New(config.PathsConfig{ESRGAN: dir}, nil)
	if err := reg.Scan(); err != nil {
		t.Fatalf("scan: %v", err)
	}
	lc := New(&fakeEngine{}, reg, nil, nil)

	if err := lc.LoadUpscaler(context.Background(), diffusion.UpscalerLoadParams{ModelName: "realesrgan.safetensors"}); err != nil {
		t.Fatalf("load upscaler: %v", err)
	}
	if !lc.UpscalerStatus().Loaded {
		t.Fatalf("expected upscaler loaded")
	}
	if lc.Status().Loaded {
		t.Fatalf("main model slot must remain unaffected")
	}
}

func TestLoadOptionsFlowShiftSentinel(t *testing.T) {
	opts := loadOptions(diffusion.ModelLoadParams{})
	if v, present := opts["flow_shift"]; present {
		t.Fatalf("default flow_shift = %v, want the key omitted so the library auto-detects", v)
	}

	shift := 3.5
	opts = loadOptions(diffusion.ModelLoadParams{FlowShift: &shift})
	if opts["flow_shift"] != 3.5 {
		t.Fatalf("explicit flow_shift = %v, want 3.5", opts["flow_shift"])
	}
}
