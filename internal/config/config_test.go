package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.DefaultProfile != "default" {
		t.Errorf("Expected default profile 'default', got '%s'", cfg.DefaultProfile)
	}

	if cfg.MaxRetries != 3 {
		t.Errorf("Expected max retries 3, got %d", cfg.MaxRetries)
	}

	if cfg.RetryBaseDelay != 1000 {
		t.Errorf("Expected retry base delay 1000, got %d", cfg.RetryBaseDelay)
	}

	if cfg.Concurrency != 4 {
		t.Errorf("Expected concurrency 4, got %d", cfg.Concurrency)
	}

	if cfg.DeleteGateThreshold != 0.5 {
		t.Errorf("Expected delete gate threshold 0.5, got %g", cfg.DeleteGateThreshold)
	}

	if cfg.DeleteGateMinTracked != 10 {
		t.Errorf("Expected delete gate min tracked 10, got %d", cfg.DeleteGateMinTracked)
	}

	if cfg.LogLevel != "normal" {
		t.Errorf("Expected log level 'normal', got '%s'", cfg.LogLevel)
	}

	if !cfg.ColorOutput {
		t.Error("Expected color output enabled by default")
	}

	if err := cfg.Validate(); err != nil {
		t.Errorf("Default config must validate, got: %v", err)
	}
}

func TestConfigValidation(t *testing.T) {
	mutate := func(fn func(*Config)) *Config {
		cfg := DefaultConfig()
		fn(cfg)
		return cfg
	}

	tests := []struct {
		name      string
		config    *Config
		wantError bool
	}{
		{"valid default config", DefaultConfig(), false},
		{"max retries zero", mutate(func(c *Config) { c.MaxRetries = 0 }), false},
		{"max retries too high", mutate(func(c *Config) { c.MaxRetries = 11 }), true},
		{"negative max retries", mutate(func(c *Config) { c.MaxRetries = -1 }), true},
		{"retry base delay too low", mutate(func(c *Config) { c.RetryBaseDelay = 50 }), true},
		{"retry base delay too high", mutate(func(c *Config) { c.RetryBaseDelay = 70000 }), true},
		{"request timeout zero", mutate(func(c *Config) { c.RequestTimeout = 0 }), true},
		{"request timeout too high", mutate(func(c *Config) { c.RequestTimeout = 3700 }), true},
		{"concurrency zero", mutate(func(c *Config) { c.Concurrency = 0 }), true},
		{"concurrency too high", mutate(func(c *Config) { c.Concurrency = 128 }), true},
		{"gate threshold zero", mutate(func(c *Config) { c.DeleteGateThreshold = 0 }), true},
		{"gate threshold above one", mutate(func(c *Config) { c.DeleteGateThreshold = 1.5 }), true},
		{"gate threshold one", mutate(func(c *Config) { c.DeleteGateThreshold = 1 }), false},
		{"negative gate min tracked", mutate(func(c *Config) { c.DeleteGateMinTracked = -1 }), true},
		{"invalid log level", mutate(func(c *Config) { c.LogLevel = "loud" }), true},
		{"debug log level", mutate(func(c *Config) { c.LogLevel = "debug" }), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if tt.wantError && err == nil {
				t.Error("Expected validation error, got nil")
			}
			if !tt.wantError && err != nil {
				t.Errorf("Expected no error, got: %v", err)
			}
		})
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv(EnvPrefix+"CONFIG_DIR", t.TempDir())
	t.Setenv(EnvPrefix+"DEFAULT_PROFILE", "work")
	t.Setenv(EnvPrefix+"MAX_RETRIES", "5")
	t.Setenv(EnvPrefix+"DELETE_GATE_THRESHOLD", "0.25")
	t.Setenv(EnvPrefix+"COLOR_OUTPUT", "no")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.DefaultProfile != "work" {
		t.Errorf("Expected profile 'work', got '%s'", cfg.DefaultProfile)
	}
	if cfg.MaxRetries != 5 {
		t.Errorf("Expected max retries 5, got %d", cfg.MaxRetries)
	}
	if cfg.DeleteGateThreshold != 0.25 {
		t.Errorf("Expected gate threshold 0.25, got %g", cfg.DeleteGateThreshold)
	}
	if cfg.ColorOutput {
		t.Error("Expected color output disabled via env")
	}
}

func TestLoadPrecedence(t *testing.T) {
	dir := t.TempDir()
	t.Setenv(EnvPrefix+"CONFIG_DIR", dir)

	fileCfg := DefaultConfig()
	fileCfg.DefaultProfile = "from-file"
	fileCfg.Concurrency = 8
	if err := fileCfg.Save(); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	// Env wins over the file; the file wins over defaults
	t.Setenv(EnvPrefix+"DEFAULT_PROFILE", "from-env")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.DefaultProfile != "from-env" {
		t.Errorf("Expected env to override file, got '%s'", cfg.DefaultProfile)
	}
	if cfg.Concurrency != 8 {
		t.Errorf("Expected file to override defaults, got %d", cfg.Concurrency)
	}
	if cfg.MaxRetries != 3 {
		t.Errorf("Expected untouched fields to keep defaults, got %d", cfg.MaxRetries)
	}
}

func TestLoadRejectsInvalidFile(t *testing.T) {
	dir := t.TempDir()
	t.Setenv(EnvPrefix+"CONFIG_DIR", dir)

	if err := os.WriteFile(filepath.Join(dir, ConfigFileName), []byte(`{"maxRetries": 99}`), 0600); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	if _, err := Load(); err == nil {
		t.Error("Expected validation error for out-of-range file value")
	}
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	t.Setenv(EnvPrefix+"CONFIG_DIR", t.TempDir())

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.DefaultProfile != "default" {
		t.Errorf("Expected defaults without a config file, got '%s'", cfg.DefaultProfile)
	}
}

func TestGetStatePath(t *testing.T) {
	dir := t.TempDir()
	t.Setenv(EnvPrefix+"CONFIG_DIR", dir)

	cfg := DefaultConfig()
	path, err := cfg.GetStatePath()
	if err != nil {
		t.Fatalf("GetStatePath failed: %v", err)
	}
	if path != filepath.Join(dir, "state.db") {
		t.Errorf("Expected state.db under the config dir, got %s", path)
	}

	cfg.StatePath = "/tmp/custom.db"
	path, err = cfg.GetStatePath()
	if err != nil {
		t.Fatalf("GetStatePath failed: %v", err)
	}
	if path != "/tmp/custom.db" {
		t.Errorf("Expected explicit state path to win, got %s", path)
	}
}

func TestParseBool(t *testing.T) {
	truthy := []string{"true", "1", "yes", "on", "TRUE", " Yes "}
	for _, v := range truthy {
		if !parseBool(v) {
			t.Errorf("Expected %q to parse as true", v)
		}
	}

	falsy := []string{"false", "0", "no", "off", "", "maybe"}
	for _, v := range falsy {
		if parseBool(v) {
			t.Errorf("Expected %q to parse as false", v)
		}
	}
}
