// Package lifecycle owns the single model-loading slot (C3): validating
// a load request against the registry, swapping the native context, and
// answering status queries without ever blocking on an in-flight load or
// inference call.
package lifecycle

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/fszontagh/sdcpp-orchestrator/internal/eventbus"
	"github.com/fszontagh/sdcpp-orchestrator/internal/registry"
	"github.com/fszontagh/sdcpp-orchestrator/internal/sdruntime"
	"github.com/fszontagh/sdcpp-orchestrator/pkg/diffusion"
)

// satelliteField pairs a ModelLoadParams path field with the registry
// kind it must resolve against.
type satelliteField struct {
	name  string
	value string
	kind  diffusion.Kind
}

// Lifecycle is the single main-model inference slot plus the independent
// upscaler slot. Both slots may be resident at once.
type Lifecycle struct {
	engine   sdruntime.Engine
	registry *registry.Registry
	bus      *eventbus.Bus
	logger   *slog.Logger

	mu  sync.Mutex // guards ctx; the cached names below are guarded by namesMu
	ctx sdruntime.Context

	loaded  atomic.Bool
	loading atomic.Bool

	namesMu       sync.RWMutex
	modelName     string
	modelKind     diffusion.Kind
	architecture  string
	components    map[string]string
	options       map[string]any
	loadingName   string
	lastError     string
	loadStep      atomic.Int32
	loadTotal     atomic.Int32

	upMu       sync.Mutex
	upCtx      sdruntime.UpscalerContext
	upLoaded   atomic.Bool
	upNamesMu  sync.RWMutex
	upName     string
	upLastErr  string
}

// New builds a Lifecycle. engine is the native-library seam; it is never
// nil in production but may be a fake in tests.
func New(engine sdruntime.Engine, reg *registry.Registry, bus *eventbus.Bus, logger *slog.Logger) *Lifecycle {
	if logger == nil {
		logger = slog.Default()
	}
	return &Lifecycle{engine: engine, registry: reg, bus: bus, logger: logger}
}

// Status answers without blocking on an in-flight load or inference
// call: loaded/loading are atomics, and the cached strings are only
// mutated under namesMu by Load/Unload, never held during the long
// native call itself.
func (l *Lifecycle) Status() diffusion.LoadedSnapshot {
	l.namesMu.RLock()
	defer l.namesMu.RUnlock()

	snap := diffusion.LoadedSnapshot{
		Loaded:       l.loaded.Load(),
		Loading:      l.loading.Load(),
		ModelName:    l.modelName,
		ModelKind:    l.modelKind,
		Architecture: l.architecture,
		LoadStep:     int(l.loadStep.Load()),
		LoadTotal:    int(l.loadTotal.Load()),
		LastError:    l.lastError,
	}
	if l.loading.Load() {
		snap.ModelName = l.loadingName
	}
	if l.components != nil {
		snap.Components = make(map[string]string, len(l.components))
		for k, v := range l.components {
			snap.Components[k] = v
		}
	}
	if l.options != nil {
		snap.Options = make(map[string]any, len(l.options))
		for k, v := range l.options {
			snap.Options[k] = v
		}
	}
	return snap
}

// satelliteFields lists every optional path field a load references,
// paired with the registry kind used to validate it.
func satelliteFields(p diffusion.ModelLoadParams) []satelliteField {
	return []satelliteField{
		{"vae", p.VAE, diffusion.KindVAE},
		{"clip_l", p.ClipL, diffusion.KindCLIP},
		{"clip_g", p.ClipG, diffusion.KindCLIP},
		{"clip_vision", p.ClipVision, diffusion.KindCLIP},
		{"t5xxl", p.T5XXL, diffusion.KindT5},
		{"controlnet", p.ControlNet, diffusion.KindControlNet},
		{"llm", p.LLM, diffusion.KindLLM},
		{"llm_vision", p.LLMVision, diffusion.KindLLM},
		{"taesd", p.TAESD, diffusion.KindTAESD},
		{"high_noise_diffusion_model", p.HighNoiseDiffusionModel, diffusion.KindDiffusion},
	}
}

// validate resolves the main model and every referenced satellite
// against the registry, accumulating every miss rather than failing on
// the first one. photo_maker and lora_dir are not registry-backed (the
// former has no dedicated kind, the latter is a directory) so they are
// checked directly on disk when set.
func (l *Lifecycle) validate(p diffusion.ModelLoadParams) (resolved map[string]string, err error) {
	var problems []string
	resolved = make(map[string]string)

	if p.ModelName == "" {
		problems = append(problems, "model_name is required")
	} else if desc, ok := l.registry.Get(p.ModelKind, p.ModelName); !ok {
		problems = append(problems, fmt.Sprintf("main model not found: kind=%s name=%q searched in %q", p.ModelKind, p.ModelName, l.registry.Root(p.ModelKind)))
	} else {
		resolved["main"] = desc.Path
	}

	for _, sat := range satelliteFields(p) {
		if sat.value == "" {
			continue
		}
		desc, ok := l.registry.Get(sat.kind, sat.value)
		if !ok {
			problems = append(problems, fmt.Sprintf("%s not found: kind=%s name=%q searched in %q", sat.name, sat.kind, sat.value, l.registry.Root(sat.kind)))
			continue
		}
		resolved[sat.name] = desc.Path
	}

	if p.PhotoMaker != "" {
		if _, err2 := os.Stat(p.PhotoMaker); err2 != nil {
			problems = append(problems, fmt.Sprintf("photo_maker not found: %q", p.PhotoMaker))
		} else {
			resolved["photo_maker"] = p.PhotoMaker
		}
	}
	if p.LoraDir != "" {
		if info, err2 := os.Stat(p.LoraDir); err2 != nil || !info.IsDir() {
			problems = append(problems, fmt.Sprintf("lora_dir not found or not a directory: %q", p.LoraDir))
		} else {
			resolved["lora_dir"] = p.LoraDir
		}
	}

	if len(problems) > 0 {
		return nil, &ValidationError{Problems: problems}
	}
	return resolved, nil
}

// ValidationError reports every missing referenced file at once, so the
// caller sees the full multi-line list instead of fixing one item per
// attempt. It is the caller's error (HTTP 400); anything else out of
// Load is a native failure.
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	return "model load validation failed:\n  " + strings.Join(e.Problems, "\n  ")
}

// Load implements the seven-step protocol from the component design: set
// loading flags, validate before touching the GPU, swap, construct
// native params, install a progress hook, call native load, clear
// loading flags on both the success and failure paths.
func (l *Lifecycle) Load(ctx context.Context, params diffusion.ModelLoadParams) error {
	l.loading.Store(true)
	l.namesMu.Lock()
	l.loadingName = params.ModelName
	l.loadStep.Store(0)
	l.loadTotal.Store(0)
	l.lastError = ""
	l.namesMu.Unlock()
	defer l.loading.Store(false)

	resolved, err := l.validate(params)
	if err != nil {
		l.namesMu.Lock()
		l.lastError = err.Error()
		l.namesMu.Unlock()
		l.publish(diffusion.EventModelLoadFailed, map[string]string{"error": err.Error()})
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.ctx != nil {
		if cerr := l.ctx.Close(); cerr != nil {
			l.logger.Warn("closing previous model context", "error", cerr)
		}
		l.ctx = nil
	}
	l.loaded.Store(false)
	l.namesMu.Lock()
	l.architecture = ""
	l.components = nil
	l.namesMu.Unlock()

	nativeParams := sdruntime.LoadParams{
		MainPath: resolved["main"],
		Paths:    resolved,
		Options:  loadOptions(params),
	}

	onProgress := func(step, total int) {
		l.loadStep.Store(int32(step))
		l.loadTotal.Store(int32(total))
		l.publish(diffusion.EventModelLoadingProgress, map[string]int{"step": step, "total": total})
	}

	nativeCtx, err := l.engine.LoadModel(ctx, nativeParams, onProgress)
	if err != nil {
		l.namesMu.Lock()
		l.architecture = ""
		l.components = nil
		l.lastError = err.Error()
		l.namesMu.Unlock()
		l.publish(diffusion.EventModelLoadFailed, map[string]string{"error": err.Error()})
		return fmt.Errorf("load model: %w", err)
	}

	l.ctx = nativeCtx
	l.loaded.Store(true)
	l.namesMu.Lock()
	l.modelName = params.ModelName
	l.modelKind = params.ModelKind
	l.architecture = nativeCtx.Architecture()
	l.components = nativeCtx.Components()
	l.options = loadOptions(params)
	l.namesMu.Unlock()

	l.publish(diffusion.EventModelLoaded, l.Status())
	return nil
}

// Unload frees the current context, if any.
func (l *Lifecycle) Unload() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.ctx == nil {
		return nil
	}
	err := l.ctx.Close()
	l.ctx = nil
	l.loaded.Store(false)
	l.namesMu.Lock()
	l.modelName = ""
	l.architecture = ""
	l.components = nil
	l.options = nil
	l.namesMu.Unlock()
	l.publish(diffusion.EventModelUnloaded, nil)
	if err != nil {
		return fmt.Errorf("unload model: %w", err)
	}
	return nil
}

// WithContext holds the slot mutex for the duration of fn, which is
// expected to be a long-running native inference call. No other Load,
// Unload, or WithContext call may proceed until fn returns; Status
// remains answerable throughout because it never touches this mutex.
func (l *Lifecycle) WithContext(fn func(sdruntime.Context) error) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.ctx == nil || !l.loaded.Load() {
		return fmt.Errorf("no model loaded")
	}
	return fn(l.ctx)
}

func loadOptions(p diffusion.ModelLoadParams) map[string]any {
	nThreads := p.NThreads
	if nThreads <= 0 {
		nThreads = runtime.NumCPU()
	}
	opts := map[string]any{
		"n_threads":                 nThreads,
		"keep_clip_on_cpu":          p.KeepClipOnCPU,
		"keep_vae_on_cpu":           p.KeepVAEOnCPU,
		"keep_controlnet_on_cpu":    p.KeepControlNetOnCPU,
		"flash_attn":                p.FlashAttn,
		"offload_to_cpu":            p.OffloadToCPU,
		"enable_mmap":               p.EnableMmap,
		"vae_decode_only":           p.VAEDecodeOnly,
		"vae_conv_direct":           p.VAEConvDirect,
		"diffusion_conv_direct":     p.DiffusionConvDirect,
		"tae_preview_only":          p.TAEPreviewOnly,
		"free_params_immediately":   p.FreeParamsImmediately,
		"weight_type":               p.WeightType,
		"tensor_type_rules":         p.TensorTypeRules,
		"rng_type":                  defaultString(p.RNGType, "std_default"),
		"sampler_rng_type":          p.SamplerRNGType,
		"prediction":                p.Prediction,
		"lora_apply_mode":           defaultString(p.LoraApplyMode, "at_runtime"),
		"vae_tiling":                p.VAETiling,
		"vae_tile_size_x":           p.VAETileSizeX,
		"vae_tile_size_y":           p.VAETileSizeY,
		"vae_tile_overlap":          p.VAETileOverlap,
		"force_sdxl_vae_conv_scale": p.ForceSDXLVAEConvScale,
		"chroma_use_dit_mask":       p.ChromaUseDitMask,
		"chroma_use_t5_mask":        p.ChromaUseT5Mask,
		"chroma_t5_mask_pad":        p.ChromaT5MaskPad,
	}
	// The unset sentinel for flow_shift is infinity (library
	// auto-detect). Infinity is not representable in the JSON this map
	// ends up in (status snapshots, persisted model_settings), so an
	// omitted field stays omitted here and the native binding translates
	// the absent key to the library's INFINITY sentinel.
	if p.FlowShift != nil {
		opts["flow_shift"] = *p.FlowShift
	}
	return opts
}

func defaultString(v, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}

func (l *Lifecycle) publish(eventType diffusion.EventType, data any) {
	if l.bus != nil {
		l.bus.Broadcast(eventType, "", data)
	}
}
