package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEnvOverrides_Model(t *testing.T) {
	t.Run("model download settings", func(t *testing.T) {
		t.Setenv("NKU_MODEL_URL", "https://example.org/m.gguf")
		t.Setenv("NKU_MODEL_SHA256", "ABCDEF")
		t.Setenv("NKU_MODEL_DIR", "/data/models")

		cfg := DefaultConfig()
		cfg.applyEnvOverrides()

		assert.Equal(t, "https://example.org/m.gguf", cfg.Model.DownloadURL)
		assert.Equal(t, "ABCDEF", cfg.Model.SHA256)
		assert.Equal(t, "/data/models", cfg.Model.CacheDir)
	})
}

func TestEnvOverrides_Translation(t *testing.T) {
	t.Run("GEMINI_API_KEY selects gemini when provider unset", func(t *testing.T) {
		t.Setenv("GEMINI_API_KEY", "g-key")

		cfg := &Config{}
		cfg.applyEnvOverrides()

		assert.Equal(t, "g-key", cfg.Translation.APIKey)
		assert.Equal(t, "gemini", cfg.Translation.Provider)
	})

	t.Run("NKU_OFFLINE parses booleans", func(t *testing.T) {
		t.Setenv("NKU_OFFLINE", "true")

		cfg := DefaultConfig()
		cfg.applyEnvOverrides()
		assert.True(t, cfg.Translation.Offline)
	})

	t.Run("NKU_OFFLINE ignores garbage", func(t *testing.T) {
		t.Setenv("NKU_OFFLINE", "maybe")

		cfg := DefaultConfig()
		cfg.applyEnvOverrides()
		assert.False(t, cfg.Translation.Offline)
	})
}

func TestEnvOverrides_Thermal(t *testing.T) {
	t.Setenv("NKU_THROTTLE_C", "38.5")
	t.Setenv("NKU_MOCK_TEMP_C", "44")

	cfg := DefaultConfig()
	cfg.applyEnvOverrides()

	assert.Equal(t, 38.5, cfg.Thermal.ThrottleC)
	assert.Equal(t, 44.0, cfg.Thermal.MockCelsius)
}

func TestEnvOverrides_Thermal_InvalidKeepsDefault(t *testing.T) {
	t.Setenv("NKU_THROTTLE_C", "hot")

	cfg := DefaultConfig()
	cfg.applyEnvOverrides()

	assert.Equal(t, 42.0, cfg.Thermal.ThrottleC)
}

func TestEnvOverrides_MQTT(t *testing.T) {
	t.Setenv("NKU_MQTT_BROKER", "tcp://broker:1883")

	cfg := DefaultConfig()
	cfg.applyEnvOverrides()

	assert.Equal(t, "tcp://broker:1883", cfg.Sensors.MQTT.Broker)
	assert.True(t, cfg.Sensors.MQTT.Enabled)
}
