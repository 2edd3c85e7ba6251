package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	if cfg.App.LogLevel != "info" || cfg.App.LogFormat != "text" {
		t.Errorf("defaults = %s/%s", cfg.App.LogLevel, cfg.App.LogFormat)
	}
	if cfg.App.DataDir == "" {
		t.Error("empty default data dir")
	}
	if cfg.Beacon.FetchTimeout() != 10*time.Second {
		t.Errorf("default fetch timeout = %v", cfg.Beacon.FetchTimeout())
	}
	if cfg.Metrics.Enabled {
		t.Error("metrics enabled by default")
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Default().Validate() error = %v", err)
	}
}

func TestParse_AppliesDefaults(t *testing.T) {
	cfg, err := Parse([]byte("app:\n  log_level: debug\n"))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if cfg.App.LogLevel != "debug" {
		t.Errorf("log level = %s", cfg.App.LogLevel)
	}
	if cfg.App.LogFormat != "text" {
		t.Errorf("log format default not applied: %s", cfg.App.LogFormat)
	}
	if cfg.Beacon.BTCBaseURL == "" {
		t.Error("beacon URL default not applied")
	}
}

func TestParse_Invalid(t *testing.T) {
	tests := []string{
		"app:\n  log_level: loud\n",
		"app:\n  log_format: xml\n",
		"app: [not, a, map]\n",
	}
	for _, doc := range tests {
		if _, err := Parse([]byte(doc)); err == nil {
			t.Errorf("Parse(%q) succeeded", doc)
		}
	}
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	doc := `
app:
  data_dir: /tmp/stego-test
  log_level: warn
  log_format: json
beacon:
  btc_url: https://esplora.example/api
  fetch_timeout_seconds: 3
posts:
  file: ./timeline.json
metrics:
  enabled: true
  listen: 127.0.0.1:9999
`
	if err := os.WriteFile(path, []byte(doc), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.App.DataDir != "/tmp/stego-test" {
		t.Errorf("data dir = %s", cfg.App.DataDir)
	}
	if cfg.Beacon.BTCBaseURL != "https://esplora.example/api" {
		t.Errorf("btc url = %s", cfg.Beacon.BTCBaseURL)
	}
	if cfg.Beacon.FetchTimeout() != 3*time.Second {
		t.Errorf("fetch timeout = %v", cfg.Beacon.FetchTimeout())
	}
	if cfg.Posts.File != "./timeline.json" {
		t.Errorf("posts file = %s", cfg.Posts.File)
	}
	if !cfg.Metrics.Enabled || cfg.Metrics.Listen != "127.0.0.1:9999" {
		t.Errorf("metrics = %+v", cfg.Metrics)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Error("Load(absent) succeeded")
	}
}

func TestString_RendersYAML(t *testing.T) {
	s := Default().String()
	if !strings.Contains(s, "log_level") {
		t.Errorf("String() = %q", s)
	}
}
