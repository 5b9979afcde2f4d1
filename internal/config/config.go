package config

import (
	"errors"
	"fmt"
	"time"
)

// Config holds app configuration
type Config struct {
	// Manifest is the JSON, YAML or TOML file describing the bundle
	Manifest string `mapstructure:"manifest"`

	// Root is the host directory the bundle is installed into
	Root string `mapstructure:"root"`

	// Concurrency bounds how many ZIP entries are written at once
	Concurrency int `mapstructure:"concurrency"`

	// BlobThreshold is the payload size in bytes above which files are
	// written through the large-blob path
	BlobThreshold int `mapstructure:"blob_threshold"`

	FastInflate bool          `mapstructure:"fast_inflate"`
	HTTPTimeout time.Duration `mapstructure:"http_timeout"`

	Verbose      bool   `mapstructure:"verbose"`
	Progress     bool   `mapstructure:"progress"`
	DryRun       bool   `mapstructure:"dry_run"`
	LogLevel     string `mapstructure:"log_level"`
	LogOutputDir string `mapstructure:"log_output_dir"`
}

// Validate checks the settings the install command depends on.
func (c *Config) Validate() error {
	if c.Manifest == "" {
		return errors.New("no manifest given")
	}
	if c.Root == "" && !c.DryRun {
		return errors.New("no install root given")
	}
	if c.Concurrency < 1 {
		return fmt.Errorf("concurrency must be at least 1, got %d", c.Concurrency)
	}
	if c.BlobThreshold < 0 {
		return fmt.Errorf("blob threshold must not be negative, got %d", c.BlobThreshold)
	}
	return nil
}
