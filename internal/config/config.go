// Package config loads the configuration surface: defaults assigned at
// construction, then overridden field-by-field from `KOVAL_`-prefixed
// environment variables, plus an optional static TOML overlay.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
)

// Config is the root, immutable-after-load configuration.
type Config struct {
	OpenAIBaseURL string `toml:"openai_base_url"`
	OpenAIAPIKey  string `toml:"openai_api_key"`
	Model         string `toml:"model"`
	MaxWorkers    int    `toml:"max_workers"`
}

func defaults() Config {
	return Config{
		OpenAIBaseURL: "http://localhost:4000/v1",
		OpenAIAPIKey:  "sk-1234",
		Model:         "gpt-4o",
		MaxWorkers:    4,
	}
}

// Load builds a Config from defaults, an optional static TOML file
// (additive, loaded first so env vars still win), and finally KOVAL_*
// environment variable overrides. A malformed max_workers value or an
// unreadable-but-present TOML file is a fatal ConfigError.
func Load(tomlPath string) (Config, error) {
	cfg := defaults()

	if tomlPath != "" {
		if _, err := os.Stat(tomlPath); err == nil {
			if _, err := toml.DecodeFile(tomlPath, &cfg); err != nil {
				return Config{}, fmt.Errorf("config: failed to parse %s: %w", tomlPath, err)
			}
		}
	}

	if err := applyEnvOverrides(&cfg); err != nil {
		return Config{}, err
	}

	cfg.OpenAIBaseURL = strings.TrimRight(cfg.OpenAIBaseURL, "/")
	return cfg, nil
}

// applyEnvOverrides applies KOVAL_-prefixed environment variable overrides,
// one table-driven setter per field.
func applyEnvOverrides(cfg *Config) error {
	if v := os.Getenv("KOVAL_OPENAI_BASE_URL"); v != "" {
		cfg.OpenAIBaseURL = v
	}
	if v := os.Getenv("KOVAL_OPENAI_API_KEY"); v != "" {
		cfg.OpenAIAPIKey = v
	}
	if v := os.Getenv("KOVAL_MODEL"); v != "" {
		cfg.Model = v
	}
	if v := os.Getenv("KOVAL_MAX_WORKERS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("config: KOVAL_MAX_WORKERS=%q is not a valid integer: %w", v, err)
		}
		cfg.MaxWorkers = n
	}
	return nil
}

// DataDir returns the directory koval uses for logs: ~/.config/koval.
func DataDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", "koval"), nil
}
