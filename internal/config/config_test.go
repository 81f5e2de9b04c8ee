package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())

	assert.True(t, cfg.Input.OrderByPages)
	assert.Equal(t, "gpt-4o", cfg.Extraction.Model)
	assert.Equal(t, 4000, cfg.Extraction.MaxTokens)
	assert.Equal(t, 1500*time.Millisecond, cfg.Extraction.CallInterval)
	assert.Equal(t, 3, cfg.Extraction.Retry.MaxAttempts)
	assert.Equal(t, 5, cfg.Checkpoint.Interval)
	assert.Equal(t, 3, cfg.Rounds.Overrides["Canton"]["FY 18-19"])
}

func TestLoadYAMLAndEnv(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "sk-test")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("EXTRACTION_API_KEY", "")

	path := filepath.Join(t.TempDir(), "config.yaml")
	yml := `
input:
  root: /data/districts
  districts: [Acme, Canton]
  limit_pdfs_per_round: 2
  order_by_pages: false
extraction:
  model: gpt-4o-mini
  call_interval: 500ms
checkpoint:
  driver: sqlite
  path: /tmp/ckpt.db
  interval: 2
`
	require.NoError(t, os.WriteFile(path, []byte(yml), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "/data/districts", cfg.Input.Root)
	assert.Equal(t, []string{"Acme", "Canton"}, cfg.Input.Districts)
	assert.Equal(t, 2, cfg.Input.LimitPDFsPerRound)
	assert.False(t, cfg.Input.OrderByPages)
	assert.Equal(t, "gpt-4o-mini", cfg.Extraction.Model)
	assert.Equal(t, 500*time.Millisecond, cfg.Extraction.CallInterval)
	assert.Equal(t, "sqlite", cfg.Checkpoint.Driver)
	assert.Equal(t, 2, cfg.Checkpoint.Interval)
	assert.Equal(t, "sk-test", cfg.APIKey)
	assert.Equal(t, "debug", cfg.Logging.Level)
	// untouched defaults survive a partial file
	assert.Equal(t, 4000, cfg.Extraction.MaxTokens)
}

func TestLoadFallsBackToExtractionKey(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "")
	t.Setenv("EXTRACTION_API_KEY", "sk-alt")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "sk-alt", cfg.APIKey)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty root", func(c *Config) { c.Input.Root = "" }},
		{"negative limit", func(c *Config) { c.Input.LimitDistricts = -1 }},
		{"override out of range", func(c *Config) { c.Rounds.Overrides["Canton"]["FY 20-21"] = 5 }},
		{"bad quality", func(c *Config) { c.Extraction.ImageQuality = 0 }},
		{"no attempts", func(c *Config) { c.Extraction.Retry.MaxAttempts = 0 }},
		{"bad checkpoint driver", func(c *Config) { c.Checkpoint.Driver = "postgres" }},
		{"zero interval", func(c *Config) { c.Checkpoint.Interval = 0 }},
		{"bad cache driver", func(c *Config) { c.Cache.Driver = "memcached" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}
