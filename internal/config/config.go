// Package config loads the engine configuration from YAML with environment
// overrides for secrets. Guardrail strictness lives here, not in code, so a
// shop can loosen or tighten matching per board family.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"boardbrain/internal/resolver"
)

// Config is the full engine configuration.
type Config struct {
	// DataDir is the root for all databases and caches.
	DataDir string `yaml:"data_dir"`

	Boardview BoardviewConfig `yaml:"boardview"`
	Resolver  resolver.Config `yaml:"resolver"`
	LLM       LLMConfig       `yaml:"llm"`

	// Verbose enables debug logging.
	Verbose bool `yaml:"verbose"`
}

// BoardviewConfig controls boardview ingest.
type BoardviewConfig struct {
	// DropDir is watched for new or changed boardview files; the file
	// name (minus extension) is the board id.
	DropDir string `yaml:"drop_dir"`
}

// LLMConfig configures the plan collaborator.
type LLMConfig struct {
	// APIKeyEnv names the environment variable holding the API key.
	APIKeyEnv      string `yaml:"api_key_env"`
	Model          string `yaml:"model"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

// Default returns the configuration used when no file is present.
func Default() Config {
	return Config{
		DataDir: "data",
		Boardview: BoardviewConfig{
			DropDir: filepath.Join("data", "boardviews"),
		},
		Resolver: resolver.DefaultConfig(),
		LLM: LLMConfig{
			APIKeyEnv:      "GEMINI_API_KEY",
			Model:          "gemini-2.0-flash",
			TimeoutSeconds: 60,
		},
	}
}

// Load reads the YAML config at path, falling back to defaults when the
// file does not exist. Fields absent from the file keep their defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return cfg, nil
	}
	if err != nil {
		return cfg, fmt.Errorf("failed to read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("failed to parse config: %w", err)
	}
	if cfg.Resolver.Threshold <= 0 || cfg.Resolver.Threshold > 1 {
		return cfg, fmt.Errorf("resolver threshold %v is out of range (0,1]", cfg.Resolver.Threshold)
	}
	return cfg, nil
}

// APIKey resolves the collaborator API key from the environment.
func (c Config) APIKey() string {
	return os.Getenv(c.LLM.APIKeyEnv)
}

// LLMTimeout returns the collaborator timeout as a duration.
func (c Config) LLMTimeout() time.Duration {
	return time.Duration(c.LLM.TimeoutSeconds) * time.Second
}

// TruthDBPath is where the per-board truth caches live.
func (c Config) TruthDBPath() string {
	return filepath.Join(c.DataDir, "truth.db")
}

// CaseDBPath is where plans, requested measurements, and readings live.
func (c Config) CaseDBPath() string {
	return filepath.Join(c.DataDir, "cases.db")
}
