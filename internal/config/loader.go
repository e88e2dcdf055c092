package config

import (
	"encoding/json"
	"fmt"
	"os"
)

// Load reads, env-expands, and validates the config file at path. The
// output directory is created if missing, matching spec §6's "output is
// created if missing" rule — every other declared path must already
// exist.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	expanded := os.ExpandEnv(string(data))

	var cfg Config
	if err := json.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	cfg.applyDefaults()

	if cfg.Paths.Output != "" {
		if err := os.MkdirAll(cfg.Paths.Output, 0o755); err != nil {
			return nil, fmt.Errorf("create output dir %s: %w", cfg.Paths.Output, err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func isDir(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}
