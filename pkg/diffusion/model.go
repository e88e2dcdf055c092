// Package diffusion holds the wire types shared across the orchestration
// server: model descriptors, jobs, events, architecture presets, and
// conversation messages. Handlers, the worker, and the tool executor all
// import this package rather than each other's internal types.
package diffusion

// Kind identifies the role a model file plays. A single checkpoint
// directory and a single diffusion-model directory both exist because
// the underlying library keeps two distinct loading paths (UNet-style
// checkpoints vs. the newer diffusion-only transformer checkpoints).
type Kind string

const (
	KindCheckpoint  Kind = "checkpoint"
	KindDiffusion   Kind = "diffusion"
	KindVAE         Kind = "vae"
	KindLoRA        Kind = "lora"
	KindCLIP        Kind = "clip"
	KindT5          Kind = "t5"
	KindEmbedding   Kind = "embedding"
	KindControlNet  Kind = "controlnet"
	KindLLM         Kind = "llm"
	KindESRGAN      Kind = "esrgan"
	KindTAESD       Kind = "taesd"
)

// AllKinds lists every recognized model kind, in scan order.
var AllKinds = []Kind{
	KindCheckpoint, KindDiffusion, KindVAE, KindLoRA, KindCLIP, KindT5,
	KindEmbedding, KindControlNet, KindLLM, KindESRGAN, KindTAESD,
}

// ModelDescriptor is an immutable record of a discovered model file.
// Descriptors are replaced wholesale on rescan; nothing mutates one in
// place except Hash, which fills in the lazily-computed digest.
type ModelDescriptor struct {
	Name      string `json:"name"`      // relative path from the kind's root; stable key
	Path      string `json:"path"`      // absolute filesystem path
	Kind      Kind   `json:"kind"`
	Extension string `json:"extension"` // without leading dot
	Size      int64  `json:"size"`
	Hash      string `json:"hash,omitempty"`
}

// ModelFilter narrows a registry listing.
type ModelFilter struct {
	Kind      Kind   // zero value means "all kinds"
	Extension string // dot optional, exact match, case-insensitive
	Search    string // substring match against Name, case-insensitive
}

// LoadedSnapshot is a read of what is currently resident on the main
// inference slot. It is safe to copy by value.
type LoadedSnapshot struct {
	Loaded       bool           `json:"loaded"`
	Loading      bool           `json:"loading"`
	ModelName    string         `json:"model_name,omitempty"`
	ModelKind    Kind           `json:"model_kind,omitempty"`
	Architecture string         `json:"architecture,omitempty"`
	Components   map[string]string `json:"components,omitempty"` // component kind -> loaded name
	Options      map[string]any `json:"options,omitempty"`       // the exact load params supplied
	LoadStep     int            `json:"load_step"`
	LoadTotal    int            `json:"load_total"`
	LastError    string         `json:"last_error,omitempty"`
}

// Clone returns a deep-enough copy suitable for embedding in a Job record.
func (s LoadedSnapshot) Clone() LoadedSnapshot {
	out := s
	if s.Components != nil {
		out.Components = make(map[string]string, len(s.Components))
		for k, v := range s.Components {
			out.Components[k] = v
		}
	}
	if s.Options != nil {
		out.Options = make(map[string]any, len(s.Options))
		for k, v := range s.Options {
			out.Options[k] = v
		}
	}
	return out
}

// ModelLoadParams is the request body for POST /models/load. Field names
// mirror the original native context-parameter record so the "replay a
// job's exact configuration" invariant holds without translation.
type ModelLoadParams struct {
	ModelName string `json:"model_name"`
	ModelKind Kind   `json:"model_kind"`

	VAE                     string `json:"vae,omitempty"`
	ClipL                   string `json:"clip_l,omitempty"`
	ClipG                   string `json:"clip_g,omitempty"`
	ClipVision              string `json:"clip_vision,omitempty"`
	T5XXL                   string `json:"t5xxl,omitempty"`
	ControlNet              string `json:"controlnet,omitempty"`
	LLM                     string `json:"llm,omitempty"`
	LLMVision               string `json:"llm_vision,omitempty"`
	TAESD                   string `json:"taesd,omitempty"`
	HighNoiseDiffusionModel string `json:"high_noise_diffusion_model,omitempty"`
	PhotoMaker              string `json:"photo_maker,omitempty"`
	LoraDir                 string `json:"lora_dir,omitempty"`

	NThreads              int      `json:"n_threads,omitempty"`
	KeepClipOnCPU         bool     `json:"keep_clip_on_cpu"`
	KeepVAEOnCPU          bool     `json:"keep_vae_on_cpu"`
	KeepControlNetOnCPU   bool     `json:"keep_controlnet_on_cpu"`
	FlashAttn             bool     `json:"flash_attn"`
	OffloadToCPU          bool     `json:"offload_to_cpu"`
	EnableMmap            bool     `json:"enable_mmap"`
	VAEDecodeOnly         bool     `json:"vae_decode_only"`
	VAEConvDirect         bool     `json:"vae_conv_direct"`
	DiffusionConvDirect   bool     `json:"diffusion_conv_direct"`
	TAEPreviewOnly        bool     `json:"tae_preview_only"`
	FreeParamsImmediately bool     `json:"free_params_immediately"`
	FlowShift             *float64 `json:"flow_shift,omitempty"` // nil means "library auto-detect"
	WeightType            string   `json:"weight_type,omitempty"`
	TensorTypeRules       string   `json:"tensor_type_rules,omitempty"`

	RNGType          string `json:"rng_type,omitempty"`          // std_default | cuda | cpu
	SamplerRNGType   string `json:"sampler_rng_type,omitempty"`
	Prediction       string `json:"prediction,omitempty"`        // empty => auto
	LoraApplyMode    string `json:"lora_apply_mode,omitempty"`   // default: at_runtime

	VAETiling              bool    `json:"vae_tiling"`
	VAETileSizeX           int     `json:"vae_tile_size_x,omitempty"`
	VAETileSizeY           int     `json:"vae_tile_size_y,omitempty"`
	VAETileOverlap         float64 `json:"vae_tile_overlap,omitempty"`
	ForceSDXLVAEConvScale  bool    `json:"force_sdxl_vae_conv_scale"`

	ChromaUseDitMask bool `json:"chroma_use_dit_mask"`
	ChromaUseT5Mask  bool `json:"chroma_use_t5_mask"`
	ChromaT5MaskPad  int  `json:"chroma_t5_mask_pad,omitempty"`
}

// UpscalerLoadParams is the request body for POST /upscaler/load.
type UpscalerLoadParams struct {
	ModelName string `json:"model_name"`
	NThreads  int    `json:"n_threads,omitempty"`
	TileSize  int    `json:"tile_size,omitempty"`
}
