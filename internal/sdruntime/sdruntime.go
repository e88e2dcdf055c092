// Package sdruntime defines the seam between the orchestrator and the
// native image/video diffusion library. The library itself is out of
// scope: these interfaces exist so internal/lifecycle and the worker can
// be written, tested, and wired against a fake implementation without
// linking any native code.
package sdruntime

import "context"

// ProgressFunc is installed during a model load or an inference call and
// invoked by the native side with the current step and total.
type ProgressFunc func(step, total int)

// PreviewFunc is installed during inference when preview mode is enabled.
// The frame bytes are raw RGB, 3 bytes per pixel; resizing and JPEG encoding happen in
// the worker, not here.
type PreviewFunc func(step, frameCount, width, height int, isNoisy bool, frame []byte)

// Context represents one loaded model: the native handle plus the
// metadata the library reports back after a successful load.
type Context interface {
	// Architecture is the family label the library detected, e.g. "sdxl".
	Architecture() string
	// Components reports the component kind -> resolved file name map
	// the library actually used (may differ from the request if the
	// library substitutes defaults).
	Components() map[string]string
	// Close releases every GPU/CPU resource tied to this context.
	Close() error
}

// UpscalerContext is the upscaler's equivalent of Context.
type UpscalerContext interface {
	Close() error
}

// Engine is the native library surface the orchestrator drives. A real
// implementation wraps cgo calls into the linked library; tests use a
// fake that records calls and returns canned results.
type Engine interface {
	// LoadModel constructs a native context from params, reporting
	// progress through onProgress. It must not be called concurrently
	// with itself or with any other Engine method for the same slot;
	// callers serialize via internal/lifecycle's slot mutex.
	LoadModel(ctx context.Context, params LoadParams, onProgress ProgressFunc) (Context, error)

	// LoadUpscaler is the upscaler-slot equivalent of LoadModel.
	LoadUpscaler(ctx context.Context, params UpscalerLoadParams, onProgress ProgressFunc) (UpscalerContext, error)

	// Generate runs one txt2img/img2img/txt2vid call against an already
	// loaded Context. onPreview may be nil when preview mode is off.
	Generate(ctx context.Context, loaded Context, req GenerateRequest, onProgress ProgressFunc, onPreview PreviewFunc) (GenerateResult, error)

	// Upscale runs one upscale call against an already loaded
	// UpscalerContext.
	Upscale(ctx context.Context, loaded UpscalerContext, req UpscaleRequest, onProgress ProgressFunc) (GenerateResult, error)

	// Convert performs an offline model format conversion, independent of
	// both slots.
	Convert(ctx context.Context, req ConvertRequest) error
}

// LoadParams mirrors pkg/diffusion.ModelLoadParams after file references
// have been resolved to absolute paths by internal/lifecycle's
// validation step.
type LoadParams struct {
	MainPath string
	Paths    map[string]string // component kind -> resolved absolute path
	Options  map[string]any    // every toggle/enum field, passed through verbatim
}

// UpscalerLoadParams mirrors pkg/diffusion.UpscalerLoadParams with a
// resolved path.
type UpscalerLoadParams struct {
	ModelPath string
	NThreads  int
	TileSize  int
}

// GenerateRequest carries a fully-materialized (defaults applied)
// generation request.
type GenerateRequest struct {
	JobType string
	Params  map[string]any
}

// UpscaleRequest carries a fully-materialized upscale request.
type UpscaleRequest struct {
	InputPath string
	Params    map[string]any
}

// ConvertRequest carries a model-format conversion request.
type ConvertRequest struct {
	InputPath  string
	OutputPath string
	OutputType string
}

// GenerateResult lists the files written by a generation or upscale call.
type GenerateResult struct {
	OutputPaths []string
}
