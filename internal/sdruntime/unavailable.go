package sdruntime

import "context"

// UnavailableEngine is the Engine wired when the binary was built
// without the native diffusion library. Every call fails with the same
// explanation, so the rest of the server (registry, queue, settings,
// assistant, downloads) keeps working and generation jobs fail cleanly
// instead of crashing.
type UnavailableEngine struct {
	Reason string
}

// NewUnavailableEngine returns an engine whose every call fails with
// reason.
func NewUnavailableEngine(reason string) *UnavailableEngine {
	if reason == "" {
		reason = "native diffusion library not linked into this build"
	}
	return &UnavailableEngine{Reason: reason}
}

func (e *UnavailableEngine) err() error { return &EngineUnavailableError{Reason: e.Reason} }

func (e *UnavailableEngine) LoadModel(context.Context, LoadParams, ProgressFunc) (Context, error) {
	return nil, e.err()
}

func (e *UnavailableEngine) LoadUpscaler(context.Context, UpscalerLoadParams, ProgressFunc) (UpscalerContext, error) {
	return nil, e.err()
}

func (e *UnavailableEngine) Generate(context.Context, Context, GenerateRequest, ProgressFunc, PreviewFunc) (GenerateResult, error) {
	return GenerateResult{}, e.err()
}

func (e *UnavailableEngine) Upscale(context.Context, UpscalerContext, UpscaleRequest, ProgressFunc) (GenerateResult, error) {
	return GenerateResult{}, e.err()
}

func (e *UnavailableEngine) Convert(context.Context, ConvertRequest) error {
	return e.err()
}

// EngineUnavailableError distinguishes "no native library" from a real
// native failure.
type EngineUnavailableError struct {
	Reason string
}

func (e *EngineUnavailableError) Error() string { return e.Reason }
