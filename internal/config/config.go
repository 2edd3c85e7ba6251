// Package config provides configuration parsing and validation for the
// StegoChannel client.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/quietpost/stegochannel/internal/beacon"
)

// Config represents the complete client configuration.
type Config struct {
	App     AppConfig     `yaml:"app"`
	Beacon  BeaconConfig  `yaml:"beacon"`
	Posts   PostsConfig   `yaml:"posts"`
	Metrics MetricsConfig `yaml:"metrics"`
}

// AppConfig contains general client settings.
type AppConfig struct {
	DataDir   string `yaml:"data_dir"`   // Directory for persistent state
	LogLevel  string `yaml:"log_level"`  // debug, info, warn, error
	LogFormat string `yaml:"log_format"` // text, json
}

// BeaconConfig configures the upstream beacon endpoints. The date beacon
// needs no configuration.
type BeaconConfig struct {
	BTCBaseURL  string `yaml:"btc_url"`
	NISTBaseURL string `yaml:"nist_url"`

	// FetchTimeoutSeconds bounds a single upstream request.
	FetchTimeoutSeconds int `yaml:"fetch_timeout_seconds"`
}

// FetchTimeout returns the configured timeout as a duration.
func (b BeaconConfig) FetchTimeout() time.Duration {
	return time.Duration(b.FetchTimeoutSeconds) * time.Second
}

// PostsConfig configures the post source used by the CLI. The file source
// reads a JSON array; network adapters are configured outside the core.
type PostsConfig struct {
	File string `yaml:"file"`
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Listen  string `yaml:"listen"`
}

// Default returns a configuration with every field at its default.
func Default() *Config {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	return &Config{
		App: AppConfig{
			DataDir:   filepath.Join(home, ".stegochannel"),
			LogLevel:  "info",
			LogFormat: "text",
		},
		Beacon: BeaconConfig{
			BTCBaseURL:          beacon.DefaultBTCBaseURL,
			NISTBaseURL:         beacon.DefaultNISTBaseURL,
			FetchTimeoutSeconds: int(beacon.DefaultFetchTimeout / time.Second),
		},
		Metrics: MetricsConfig{
			Enabled: false,
			Listen:  "127.0.0.1:9311",
		},
	}
}

// Load reads and validates a configuration file. Missing fields fall back
// to defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(data)
}

// Parse parses configuration bytes, applies defaults and validates.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyDefaults fills fields an explicit document left empty.
func (c *Config) applyDefaults() {
	d := Default()
	if c.App.DataDir == "" {
		c.App.DataDir = d.App.DataDir
	}
	if c.App.LogLevel == "" {
		c.App.LogLevel = d.App.LogLevel
	}
	if c.App.LogFormat == "" {
		c.App.LogFormat = d.App.LogFormat
	}
	if c.Beacon.BTCBaseURL == "" {
		c.Beacon.BTCBaseURL = d.Beacon.BTCBaseURL
	}
	if c.Beacon.NISTBaseURL == "" {
		c.Beacon.NISTBaseURL = d.Beacon.NISTBaseURL
	}
	if c.Beacon.FetchTimeoutSeconds <= 0 {
		c.Beacon.FetchTimeoutSeconds = d.Beacon.FetchTimeoutSeconds
	}
	if c.Metrics.Listen == "" {
		c.Metrics.Listen = d.Metrics.Listen
	}
}

// Validate checks the configuration for invalid values.
func (c *Config) Validate() error {
	if !isValidLogLevel(c.App.LogLevel) {
		return fmt.Errorf("invalid log_level: %s (must be debug, info, warn, or error)", c.App.LogLevel)
	}
	if !isValidLogFormat(c.App.LogFormat) {
		return fmt.Errorf("invalid log_format: %s (must be text or json)", c.App.LogFormat)
	}
	if c.App.DataDir == "" {
		return fmt.Errorf("app.data_dir is required")
	}
	return nil
}

// String returns a YAML rendering of the config for debugging. The config
// holds no secrets; channel keys live in the sealed store.
func (c *Config) String() string {
	data, _ := yaml.Marshal(c)
	return string(data)
}

func isValidLogLevel(level string) bool {
	switch level {
	case "debug", "info", "warn", "error":
		return true
	default:
		return false
	}
}

func isValidLogFormat(format string) bool {
	switch format {
	case "text", "json":
		return true
	default:
		return false
	}
}
