package config

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Config holds all configuration for the TTS server.
// Defaults mirror the constants the service has always shipped with, so an
// empty environment yields a fully working configuration.
type Config struct {
	// Server configuration
	Port string `envconfig:"PORT" default:"8080"`

	// Scratch directory holding generated audio artifacts. Created at
	// startup if missing.
	ScratchDir string `envconfig:"SCRATCH_DIR" default:"static"`

	// Synthesis limits and defaults
	MaxTextLength int     `envconfig:"MAX_TEXT_LENGTH" default:"3000"` // in runes
	SampleRate    int     `envconfig:"SAMPLE_RATE" default:"24000"`    // output WAV sample rate in Hz
	DefaultVoice  string  `envconfig:"DEFAULT_VOICE" default:"af_heart"`
	DefaultLang   string  `envconfig:"DEFAULT_LANG" default:"f"`
	DefaultSpeed  float64 `envconfig:"DEFAULT_SPEED" default:"1.0"`

	// SynthesisTimeoutSec bounds a single synthesis attempt. The retry
	// attempt gets its own budget of the same length.
	SynthesisTimeoutSec int `envconfig:"SYNTHESIS_TIMEOUT" default:"60"`

	// CleanupDelaySec is how long an artifact survives after a download
	// request before it is deleted.
	CleanupDelaySec int `envconfig:"CLEANUP_DELAY" default:"300"`

	// EngineCommand is the synthesis engine binary resolved on PATH.
	EngineCommand string `envconfig:"ENGINE_COMMAND" default:"kokoro"`

	// SynthesisConcurrency caps concurrent synthesis runs. 0 means
	// unbounded; sizing is a deployment decision.
	SynthesisConcurrency int `envconfig:"SYNTHESIS_CONCURRENCY" default:"0"`

	// Observability configuration
	LogLevel       string `envconfig:"LOG_LEVEL" default:"info"`   // debug, info, warn, error
	LogPretty      bool   `envconfig:"LOG_PRETTY" default:"false"` // pretty print logs (for development)
	MetricsEnabled bool   `envconfig:"METRICS_ENABLED" default:"true"`
}

// SynthesisTimeout returns the per-attempt synthesis budget.
func (c *Config) SynthesisTimeout() time.Duration {
	return time.Duration(c.SynthesisTimeoutSec) * time.Second
}

// CleanupDelay returns the grace period before a downloaded artifact is deleted.
func (c *Config) CleanupDelay() time.Duration {
	return time.Duration(c.CleanupDelaySec) * time.Second
}

// Load reads configuration from environment variables.
// It first attempts to load from a .env file if one exists, then from the
// environment.
func Load() (*Config, error) {
	// Try to load .env file (ignore error if it doesn't exist)
	_ = godotenv.Load()

	return LoadFromEnv()
}

// LoadFromEnv loads configuration directly from environment variables
// without attempting to load a .env file (useful for containerized deployments).
func LoadFromEnv() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) validate() error {
	if c.MaxTextLength <= 0 {
		return fmt.Errorf("MAX_TEXT_LENGTH must be positive, got %d", c.MaxTextLength)
	}
	if c.SampleRate <= 0 {
		return fmt.Errorf("SAMPLE_RATE must be positive, got %d", c.SampleRate)
	}
	if c.SynthesisTimeoutSec <= 0 {
		return fmt.Errorf("SYNTHESIS_TIMEOUT must be positive, got %d", c.SynthesisTimeoutSec)
	}
	if c.CleanupDelaySec < 0 {
		return fmt.Errorf("CLEANUP_DELAY must not be negative, got %d", c.CleanupDelaySec)
	}
	if c.SynthesisConcurrency < 0 {
		return fmt.Errorf("SYNTHESIS_CONCURRENCY must not be negative, got %d", c.SynthesisConcurrency)
	}
	if c.EngineCommand == "" {
		return fmt.Errorf("ENGINE_COMMAND must not be empty")
	}
	return nil
}

// GetEnv returns the value of an environment variable or a default value.
func GetEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
