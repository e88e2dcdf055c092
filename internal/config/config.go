// Package config loads and validates the server's JSON configuration file.
package config

import "fmt"

// Config is the top-level, struct-of-structs configuration document
// described in spec §6.
type Config struct {
	Server    ServerConfig    `json:"server"`
	Paths     PathsConfig     `json:"paths"`
	SDDefaults SDDefaultsConfig `json:"sd_defaults"`
	Preview   PreviewConfig   `json:"preview"`
	Assistant AssistantConfig `json:"assistant"`
	RecycleBin RecycleBinConfig `json:"recycle_bin"`
}

// ServerConfig controls listener binding.
type ServerConfig struct {
	Host    string `json:"host"`
	Port    int    `json:"port"`
	WSPort  int    `json:"ws_port"`
	Threads int    `json:"threads"`
}

// PathsConfig names the roots the Model Registry scans, plus output and
// web UI locations. Every field except Output and WebUI must exist and be
// a directory; absent roots among the model kinds are silently skipped by
// the registry, but a *configured* path that doesn't exist is a validation
// error (spec §6).
type PathsConfig struct {
	Checkpoints     string `json:"checkpoints"`
	DiffusionModels string `json:"diffusion_models"`
	VAE             string `json:"vae"`
	LoRA            string `json:"lora"`
	Clip            string `json:"clip"`
	T5              string `json:"t5"`
	Embeddings      string `json:"embeddings"`
	ControlNet      string `json:"controlnet"`
	LLM             string `json:"llm"`
	ESRGAN          string `json:"esrgan"`
	TAESD           string `json:"taesd"`
	Output          string `json:"output"`
	WebUI           string `json:"webui"`
}

// SDDefaultsConfig seeds ModelLoadParams fields the caller omits.
type SDDefaultsConfig struct {
	NThreads      int  `json:"n_threads"`
	KeepClipOnCPU bool `json:"keep_clip_on_cpu"`
	KeepVAEOnCPU  bool `json:"keep_vae_on_cpu"`
	FlashAttn     bool `json:"flash_attn"`
	OffloadToCPU  bool `json:"offload_to_cpu"`
}

// PreviewConfig controls the worker's live-preview callback.
type PreviewConfig struct {
	Enabled  bool   `json:"enabled"`
	Mode     string `json:"mode"` // none | proj | tae | vae
	Interval int    `json:"interval"`
	MaxSize  int    `json:"max_size"`
	Quality  int    `json:"quality"`
}

// AssistantConfig configures the chat-completion bridge (C10).
type AssistantConfig struct {
	Enabled              bool    `json:"enabled"`
	Endpoint             string  `json:"endpoint"`
	APIKey               string  `json:"api_key"`
	Model                string  `json:"model"`
	Temperature          float64 `json:"temperature"`
	MaxTokens            int     `json:"max_tokens"`
	TimeoutSeconds       int     `json:"timeout_seconds"`
	SystemPrompt         string  `json:"system_prompt"`
	MaxHistoryTurns      int     `json:"max_history_turns"`
	ProactiveSuggestions bool    `json:"proactive_suggestions"`
}

// RecycleBinConfig controls the job store's soft-delete tombstone policy.
type RecycleBinConfig struct {
	Enabled         bool `json:"enabled"`
	RetentionMinutes int `json:"retention_minutes"`
}

// applyDefaults fills in zero-valued fields the way the original source's
// struct defaults do, before Validate runs.
func (c *Config) applyDefaults() {
	if c.Server.Host == "" {
		c.Server.Host = "0.0.0.0"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Server.WSPort == 0 {
		c.Server.WSPort = 8081
	}
	if c.Server.Threads == 0 {
		c.Server.Threads = 8
	}
	if c.SDDefaults.NThreads == 0 {
		c.SDDefaults.NThreads = -1
	}
	if c.Preview.Mode == "" {
		c.Preview.Mode = "tae"
	}
	if c.Preview.Interval == 0 {
		c.Preview.Interval = 1
	}
	if c.Preview.MaxSize == 0 {
		c.Preview.MaxSize = 256
	}
	if c.Preview.Quality == 0 {
		c.Preview.Quality = 75
	}
	if c.Assistant.Temperature == 0 {
		c.Assistant.Temperature = 0.7
	}
	if c.Assistant.MaxTokens == 0 {
		c.Assistant.MaxTokens = 2000
	}
	if c.Assistant.TimeoutSeconds == 0 {
		c.Assistant.TimeoutSeconds = 120
	}
	if c.Assistant.MaxHistoryTurns == 0 {
		c.Assistant.MaxHistoryTurns = 20
	}
}

// Validate checks the invariants spec §6 requires before the server
// starts. It never mutates the config.
func (c *Config) Validate() error {
	var missing []string
	for label, p := range map[string]string{
		"checkpoints":      c.Paths.Checkpoints,
		"diffusion_models": c.Paths.DiffusionModels,
		"vae":              c.Paths.VAE,
		"lora":             c.Paths.LoRA,
		"clip":             c.Paths.Clip,
		"t5":               c.Paths.T5,
		"embeddings":       c.Paths.Embeddings,
		"controlnet":       c.Paths.ControlNet,
		"llm":              c.Paths.LLM,
		"esrgan":           c.Paths.ESRGAN,
		"taesd":            c.Paths.TAESD,
	} {
		if p == "" {
			continue
		}
		if !isDir(p) {
			missing = append(missing, fmt.Sprintf("paths.%s=%q is not a directory", label, p))
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("invalid config: %v", missing)
	}
	if c.Paths.Output == "" {
		return fmt.Errorf("invalid config: paths.output is required")
	}
	if c.Server.Port == c.Server.WSPort {
		return fmt.Errorf("invalid config: server.port and server.ws_port must differ")
	}
	for name, port := range map[string]int{"server.port": c.Server.Port, "server.ws_port": c.Server.WSPort} {
		if port < 1 || port > 65535 {
			return fmt.Errorf("invalid config: %s=%d out of range [1,65535]", name, port)
		}
	}
	switch c.Preview.Mode {
	case "none", "proj", "tae", "vae":
	default:
		return fmt.Errorf("invalid config: preview.mode=%q must be one of none|proj|tae|vae", c.Preview.Mode)
	}
	return nil
}
