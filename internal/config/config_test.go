package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// UNIFIED CONFIG TESTS
// =============================================================================

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"NKU_MODEL_URL", "NKU_MODEL_SHA256", "NKU_MODEL_DIR", "GEMINI_API_KEY",
		"NKU_THROTTLE_C", "NKU_MQTT_BROKER", "NKU_OFFLINE", "NKU_MOCK_TEMP_C",
	} {
		t.Setenv(k, "")
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.Name != "nku" {
		t.Errorf("expected Name=nku, got %s", cfg.Name)
	}
	if cfg.Thermal.ThrottleC != 42.0 {
		t.Errorf("expected ThrottleC=42.0, got %.1f", cfg.Thermal.ThrottleC)
	}
	if cfg.Model.Name != DefaultModelName {
		t.Errorf("expected model name %s, got %s", DefaultModelName, cfg.Model.Name)
	}
	if cfg.Cycle.MaxLoadAttempts != 3 {
		t.Errorf("expected MaxLoadAttempts=3, got %d", cfg.Cycle.MaxLoadAttempts)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config should validate: %v", err)
	}
}

func TestConfig_SaveLoad(t *testing.T) {
	clearEnv(t)

	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "nested", "nku.yaml")

	cfg := DefaultConfig()
	cfg.Thermal.ThrottleC = 40.5
	cfg.Model.SideloadDirs = []string{"/sdcard/Download"}
	cfg.Cycle.Backoff = []string{"100ms", "200ms", "400ms"}

	if err := cfg.Save(path); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	assert.Equal(t, 40.5, loaded.Thermal.ThrottleC)
	assert.Equal(t, []string{"/sdcard/Download"}, loaded.Model.SideloadDirs)
	assert.Equal(t, []time.Duration{100 * time.Millisecond, 200 * time.Millisecond, 400 * time.Millisecond}, loaded.GetBackoff())
}

func TestLoad_MissingFileReturnsDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig().Thermal, cfg.Thermal)
}

func TestLoad_PartialFileKeepsDefaults(t *testing.T) {
	clearEnv(t)

	path := filepath.Join(t.TempDir(), "nku.yaml")
	yml := "thermal:\n  throttle_c: 39\nfusion:\n  inclusion_thresholds:\n    cardiac: 0.6\n"
	require.NoError(t, os.WriteFile(path, []byte(yml), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 39.0, cfg.Thermal.ThrottleC)
	assert.Equal(t, "30s", cfg.Thermal.Cooldown)
	assert.Equal(t, 0.6, cfg.Fusion.InclusionThresholds["cardiac"])
	assert.Equal(t, 0.4, cfg.Fusion.InclusionThresholds["pallor"])
}

func TestLoad_InvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("thermal: [unclosed"), 0644))

	if _, err := Load(path); err == nil {
		t.Fatal("expected parse error")
	}
}

// =============================================================================
// DURATION ACCESSORS
// =============================================================================

func TestDurationAccessorsFallBack(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Thermal.Cooldown = "soon"
	cfg.Thermal.CacheTTL = "-1s"
	cfg.Cycle.DisplayDelay = ""
	cfg.Cycle.Backoff = []string{"1s", "later"}

	assert.Equal(t, 30*time.Second, cfg.GetCooldown())
	assert.Equal(t, 2*time.Second, cfg.GetThermalCacheTTL())
	assert.Equal(t, 1500*time.Millisecond, cfg.GetDisplayDelay())
	assert.Equal(t, []time.Duration{500 * time.Millisecond, time.Second, 2 * time.Second}, cfg.GetBackoff())
}

// =============================================================================
// VALIDATION
// =============================================================================

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"defaults", func(*Config) {}, false},
		{"zero throttle", func(c *Config) { c.Thermal.ThrottleC = 0 }, true},
		{"zero min size", func(c *Config) { c.Model.MinSizeBytes = 0 }, true},
		{"empty model name", func(c *Config) { c.Model.Name = "" }, true},
		{"threshold above one", func(c *Config) { c.Fusion.InclusionThresholds["pallor"] = 1.2 }, true},
		{"negative threshold", func(c *Config) { c.Fusion.InclusionThresholds["edema"] = -0.1 }, true},
		{"prompt threshold below inclusion", func(c *Config) { c.Triage.PromptConfidenceThreshold = 0.45 }, true},
		{"prompt threshold equal to highest inclusion", func(c *Config) { c.Triage.PromptConfidenceThreshold = 0.5 }, false},
		{"empty backoff", func(c *Config) { c.Cycle.Backoff = nil }, true},
		{"backoff shorter than attempts", func(c *Config) { c.Cycle.Backoff = []string{"1s"} }, true},
		{"zero attempts", func(c *Config) { c.Cycle.MaxLoadAttempts = 0 }, true},
		{"zero input cap", func(c *Config) { c.Guard.MaxInputChars = 0 }, true},
		{"unknown provider", func(c *Config) { c.Translation.Provider = "babel" }, true},
		{"gemini without key", func(c *Config) { c.Translation.Provider = "gemini" }, true},
		{"gemini with key", func(c *Config) {
			c.Translation.Provider = "gemini"
			c.Translation.APIKey = "k"
		}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
