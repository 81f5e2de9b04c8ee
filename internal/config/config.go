// Package config provides configuration loading for the procurement extractor.
// Supports YAML files, .env files, environment variables, and programmatic overrides.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the extractor.
type Config struct {
	Input      InputConfig      `yaml:"input"`
	Rounds     RoundsConfig     `yaml:"rounds"`
	Output     OutputConfig     `yaml:"output"`
	Extraction ExtractionConfig `yaml:"extraction"`
	Checkpoint CheckpointConfig `yaml:"checkpoint"`
	Cache      CacheConfig      `yaml:"cache"`
	Logging    LoggingConfig    `yaml:"logging"`

	// APIKey is read from the environment at load time, never from YAML.
	APIKey string `yaml:"-"`
}

// InputConfig describes where district folders live and which ones to visit.
type InputConfig struct {
	Root              string   `yaml:"root"`
	Districts         []string `yaml:"districts"`
	LimitDistricts    int      `yaml:"limit_districts"`
	LimitPDFsPerRound int      `yaml:"limit_pdfs_per_round"`
	OrderByPages      bool     `yaml:"order_by_pages"`
}

// RoundsConfig holds district-specific round folder aliases,
// district -> folder name -> round.
type RoundsConfig struct {
	Overrides map[string]map[string]int `yaml:"overrides"`
}

// OutputConfig holds report output settings.
type OutputConfig struct {
	Dir  string `yaml:"dir"`
	XLSX bool   `yaml:"xlsx"`
}

// ExtractionConfig holds the multimodal API and rendering settings.
type ExtractionConfig struct {
	BaseURL      string        `yaml:"base_url"`
	Model        string        `yaml:"model"`
	MaxTokens    int           `yaml:"max_tokens"`
	Temperature  float64       `yaml:"temperature"`
	ImageQuality int           `yaml:"image_quality"`
	DPI          float64       `yaml:"dpi"`
	Timeout      time.Duration `yaml:"timeout"`
	CallInterval time.Duration `yaml:"call_interval"`
	Retry        RetryConfig   `yaml:"retry"`
}

// RetryConfig holds retry settings for API calls.
type RetryConfig struct {
	MaxAttempts    int           `yaml:"max_attempts"`
	InitialBackoff time.Duration `yaml:"initial_backoff"`
	Multiplier     float64       `yaml:"multiplier"`
	MaxBackoff     time.Duration `yaml:"max_backoff"`
}

// CheckpointConfig holds resume/checkpoint settings.
type CheckpointConfig struct {
	Driver   string `yaml:"driver"` // file or sqlite
	Path     string `yaml:"path"`
	Interval int    `yaml:"interval"` // districts between checkpoints
}

// CacheConfig holds response cache settings.
type CacheConfig struct {
	Driver     string        `yaml:"driver"` // none, memory or redis
	TTL        time.Duration `yaml:"ttl"`
	MaxEntries int           `yaml:"max_entries"`
	Redis      RedisConfig   `yaml:"redis"`
}

// RedisConfig holds Redis-specific settings.
type RedisConfig struct {
	Addr      string `yaml:"addr"`
	Password  string `yaml:"password"`
	DB        int    `yaml:"db"`
	KeyPrefix string `yaml:"key_prefix"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	File   string `yaml:"file"`
}

// LoadDotEnv loads .env files from the working directory and its parents.
// Missing files are ignored.
func LoadDotEnv() {
	_ = godotenv.Load()
	_ = godotenv.Load("../.env")
	_ = godotenv.Load("../../.env")
}

// Load reads configuration from a YAML file and applies environment overrides.
// An empty path yields the defaults.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}

		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return cfg, nil
}

// DefaultConfig returns a configuration with defaults matching a full run.
func DefaultConfig() *Config {
	return &Config{
		Input: InputConfig{
			Root:         "Districts",
			OrderByPages: true,
		},
		Rounds: RoundsConfig{
			Overrides: map[string]map[string]int{
				"Canton": {
					"FY 16-17": 1,
					"FY 17-18": 2,
					"FY 18-19": 3,
				},
			},
		},
		Output: OutputConfig{
			Dir:  "results",
			XLSX: true,
		},
		Extraction: ExtractionConfig{
			BaseURL:      "https://api.openai.com/v1/chat/completions",
			Model:        "gpt-4o",
			MaxTokens:    4000,
			Temperature:  0,
			ImageQuality: 85,
			DPI:          108,
			Timeout:      120 * time.Second,
			CallInterval: 1500 * time.Millisecond,
			Retry: RetryConfig{
				MaxAttempts:    3,
				InitialBackoff: 2 * time.Second,
				Multiplier:     1.5,
				MaxBackoff:     30 * time.Second,
			},
		},
		Checkpoint: CheckpointConfig{
			Driver:   "file",
			Path:     "results/checkpoint.json",
			Interval: 5,
		},
		Cache: CacheConfig{
			Driver:     "none",
			TTL:        30 * 24 * time.Hour,
			MaxEntries: 10000,
			Redis: RedisConfig{
				Addr:      "localhost:6379",
				KeyPrefix: "procurement:",
			},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
			File:   "processing.log",
		},
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Input.Root) == "" {
		return fmt.Errorf("input root is required")
	}

	if c.Input.LimitDistricts < 0 || c.Input.LimitPDFsPerRound < 0 {
		return fmt.Errorf("limits must not be negative")
	}

	for district, aliases := range c.Rounds.Overrides {
		for folder, round := range aliases {
			if round < 1 || round > 4 {
				return fmt.Errorf("round override %s/%s: round %d out of range 1-4", district, folder, round)
			}
		}
	}

	if c.Output.Dir == "" {
		return fmt.Errorf("output dir is required")
	}

	if c.Extraction.BaseURL == "" {
		return fmt.Errorf("extraction base_url is required")
	}

	if c.Extraction.Model == "" {
		return fmt.Errorf("extraction model is required")
	}

	if c.Extraction.ImageQuality < 1 || c.Extraction.ImageQuality > 100 {
		return fmt.Errorf("image_quality must be between 1 and 100")
	}

	if c.Extraction.DPI <= 0 {
		return fmt.Errorf("dpi must be positive")
	}

	if c.Extraction.CallInterval < 0 {
		return fmt.Errorf("call_interval must not be negative")
	}

	if c.Extraction.Retry.MaxAttempts < 1 {
		return fmt.Errorf("retry max_attempts must be at least 1")
	}

	if c.Extraction.Retry.Multiplier < 1 {
		return fmt.Errorf("retry multiplier must be at least 1")
	}

	if c.Checkpoint.Driver != "file" && c.Checkpoint.Driver != "sqlite" {
		return fmt.Errorf("invalid checkpoint driver: %s", c.Checkpoint.Driver)
	}

	if c.Checkpoint.Interval < 1 {
		return fmt.Errorf("checkpoint interval must be at least 1")
	}

	switch c.Cache.Driver {
	case "none", "memory", "redis":
	default:
		return fmt.Errorf("invalid cache driver: %s", c.Cache.Driver)
	}

	return nil
}

// applyEnvOverrides applies environment variable overrides to config.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("OPENAI_API_KEY"); v != "" {
		cfg.APIKey = v
	}

	if v := os.Getenv("EXTRACTION_API_KEY"); v != "" && cfg.APIKey == "" {
		cfg.APIKey = v
	}

	if v := os.Getenv("DISTRICTS_ROOT"); v != "" {
		cfg.Input.Root = v
	}

	if v := os.Getenv("RESULTS_DIR"); v != "" {
		cfg.Output.Dir = v
	}

	if v := os.Getenv("EXTRACTION_BASE_URL"); v != "" {
		cfg.Extraction.BaseURL = v
	}

	if v := os.Getenv("EXTRACTION_MODEL"); v != "" {
		cfg.Extraction.Model = v
	}

	if v := os.Getenv("CALL_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Extraction.CallInterval = d
		}
	}

	if v := os.Getenv("CHECKPOINT_INTERVAL"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Checkpoint.Interval = n
		}
	}

	if v := os.Getenv("REDIS_URL"); v != "" {
		cfg.Cache.Driver = "redis"
		cfg.Cache.Redis.Addr = strings.TrimPrefix(v, "redis://")
	}

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}

	if v := os.Getenv("LOG_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}
}
