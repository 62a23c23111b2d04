package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/habridge/bridge-server/internal/config"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	if cfg.Port != "8098" {
		t.Errorf("Port = %q, want 8098", cfg.Port)
	}
	if cfg.ClaudeModel != "claude-sonnet-4-20250514" {
		t.Errorf("ClaudeModel = %q", cfg.ClaudeModel)
	}
	if cfg.MaxTokens != 4096 {
		t.Errorf("MaxTokens = %d, want 4096", cfg.MaxTokens)
	}
	if cfg.MaxToolIterations != 8 {
		t.Errorf("MaxToolIterations = %d, want 8", cfg.MaxToolIterations)
	}
	if cfg.RequestTimeout != 120*time.Second {
		t.Errorf("RequestTimeout = %v, want 120s", cfg.RequestTimeout)
	}
	if cfg.HomeAssistantURL != "http://localhost:8123" {
		t.Errorf("HomeAssistantURL = %q", cfg.HomeAssistantURL)
	}
	if cfg.BridgeAPIKey != "" {
		t.Errorf("BridgeAPIKey = %q, want empty by default", cfg.BridgeAPIKey)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("PORT", "9000")
	t.Setenv("BRIDGE_API_KEY", "env-secret")
	t.Setenv("MAX_TOOL_ITERATIONS", "3")
	t.Setenv("HA_TIMEOUT", "5s")

	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	if cfg.Port != "9000" {
		t.Errorf("Port = %q, want 9000", cfg.Port)
	}
	if cfg.BridgeAPIKey != "env-secret" {
		t.Errorf("BridgeAPIKey = %q, want env-secret", cfg.BridgeAPIKey)
	}
	if cfg.MaxToolIterations != 3 {
		t.Errorf("MaxToolIterations = %d, want 3", cfg.MaxToolIterations)
	}
	if cfg.HATimeout != 5*time.Second {
		t.Errorf("HATimeout = %v, want 5s", cfg.HATimeout)
	}
}

func TestLoad_ConfigFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bridge.yaml")
	yaml := `
bridge_api_key: file-secret
location: Lisbon
max_tool_iterations: 4
`
	if err := os.WriteFile(path, []byte(yaml), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("BRIDGE_CONFIG", path)

	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	if cfg.BridgeAPIKey != "file-secret" {
		t.Errorf("BridgeAPIKey = %q, want file-secret", cfg.BridgeAPIKey)
	}
	if cfg.Location != "Lisbon" {
		t.Errorf("Location = %q, want Lisbon", cfg.Location)
	}
	if cfg.MaxToolIterations != 4 {
		t.Errorf("MaxToolIterations = %d, want 4", cfg.MaxToolIterations)
	}
}

func TestLoad_MissingConfigFile(t *testing.T) {
	t.Setenv("BRIDGE_CONFIG", filepath.Join(t.TempDir(), "absent.yaml"))

	if _, err := config.Load(); err == nil {
		t.Error("Load() error = nil, want failure for missing config file")
	}
}

func TestLoad_IterationFloor(t *testing.T) {
	t.Setenv("MAX_TOOL_ITERATIONS", "0")

	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.MaxToolIterations != 1 {
		t.Errorf("MaxToolIterations = %d, want floor of 1", cfg.MaxToolIterations)
	}
}
