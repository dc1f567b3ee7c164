package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "data", cfg.DataDir)
	assert.InDelta(t, 0.97, cfg.Resolver.Threshold, 1e-9)
	assert.Equal(t, "PPBUS_AON", cfg.Resolver.Aliases["PPBUS_G3H"])
}

func TestLoadOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	body := `
data_dir: /var/lib/boardbrain
verbose: true
resolver:
  threshold: 0.9
  tie_margin: 0.05
  max_suggestions: 3
llm:
  model: gemini-2.5-pro
  timeout_seconds: 30
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/var/lib/boardbrain", cfg.DataDir)
	assert.True(t, cfg.Verbose)
	assert.InDelta(t, 0.9, cfg.Resolver.Threshold, 1e-9)
	assert.Equal(t, 3, cfg.Resolver.MaxSuggestions)
	assert.Equal(t, "gemini-2.5-pro", cfg.LLM.Model)
	assert.Equal(t, 30*time.Second, cfg.LLMTimeout())
	assert.Equal(t, filepath.Join("/var/lib/boardbrain", "truth.db"), cfg.TruthDBPath())
}

func TestLoadRejectsBadThreshold(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("resolver:\n  threshold: 1.5\n"), 0644))
	_, err := Load(path)
	assert.Error(t, err)
}
