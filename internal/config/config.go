// Package config loads converter settings from the environment.
package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Prefix is the environment variable prefix, e.g. XPLANEGEN_WORKERS.
const Prefix = "XPLANEGEN"

// Config holds all converter configuration.
type Config struct {
	OutputRoot   string        `envconfig:"OUTPUT_ROOT" default:"./out"`
	Workers      int           `envconfig:"WORKERS" default:"0"`
	LineBuffer   int           `envconfig:"LINE_BUFFER" default:"4096"`
	MaxLineBytes int           `envconfig:"MAX_LINE_BYTES" default:"1048576"`
	Codec        string        `envconfig:"CODEC" default:"gzip"`
	Retention    time.Duration `envconfig:"RETENTION" default:"0s"`
	MetricsAddr  string        `envconfig:"METRICS_ADDR"`

	// Embedded so its keys share the top-level prefix (XPLANEGEN_LOG_LEVEL).
	LogConfig
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level       string `envconfig:"LOG_LEVEL" default:"info"`
	Development bool   `envconfig:"LOG_DEV" default:"false"`
}

// Load reads configuration from the environment and validates it.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(Prefix, &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects values the converter cannot run with. CODEC accepts the
// DEFLATE-family codecs gzip and zlib, plus zstd as an opt-in extension whose
// artifacts plain DEFLATE readers cannot open.
func (c *Config) Validate() error {
	switch {
	case c.OutputRoot == "":
		return fmt.Errorf("invalid config: output root is required")
	case c.Workers < 0:
		return fmt.Errorf("invalid config: workers must not be negative")
	case c.LineBuffer < 0:
		return fmt.Errorf("invalid config: line buffer must not be negative")
	case c.MaxLineBytes < 0:
		return fmt.Errorf("invalid config: max line bytes must not be negative")
	case c.Retention < 0:
		return fmt.Errorf("invalid config: retention must not be negative")
	}
	switch c.Codec {
	case "gzip", "zlib", "zstd":
	default:
		return fmt.Errorf("invalid config: unknown codec %q (want gzip, zlib, or zstd as a non-DEFLATE extension)", c.Codec)
	}
	return nil
}
