package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all nku configuration.
type Config struct {
	// Core settings
	Name    string `yaml:"name"`
	Version string `yaml:"version"`

	Thermal     ThermalConfig     `yaml:"thermal"`
	Model       ModelConfig       `yaml:"model"`
	Runtime     RuntimeConfig     `yaml:"runtime"`
	Cycle       CycleConfig       `yaml:"cycle"`
	Fusion      FusionConfig      `yaml:"fusion"`
	Triage      TriageConfig      `yaml:"triage"`
	Guard       GuardConfig       `yaml:"guard"`
	Translation TranslationConfig `yaml:"translation"`
	Sensors     SensorsConfig     `yaml:"sensors"`
	Logging     LoggingConfig     `yaml:"logging"`
}

// ThermalConfig configures the thermal gate.
type ThermalConfig struct {
	ThrottleC       float64 `yaml:"throttle_c"`
	Cooldown        string  `yaml:"cooldown"`
	CacheTTL        string  `yaml:"cache_ttl"`
	BatteryPath     string  `yaml:"battery_path"`
	ThermalZoneBase string  `yaml:"thermal_zone_base"`
	// MockCelsius replaces both sensors with a fixed reading when > 0.
	MockCelsius float64 `yaml:"mock_celsius"`
}

// ModelConfig configures artifact resolution, validation and download.
type ModelConfig struct {
	Name         string   `yaml:"name"`
	CacheDir     string   `yaml:"cache_dir"`
	BundledDir   string   `yaml:"bundled_dir"`
	SideloadDirs []string `yaml:"sideload_dirs"`

	MinSizeBytes int64  `yaml:"min_size_bytes"`
	SHA256       string `yaml:"sha256"`

	DownloadURL           string `yaml:"download_url"`
	ExpectedSizeBytes     int64  `yaml:"expected_size_bytes"`
	DownloadHeadroomBytes int64  `yaml:"download_headroom_bytes"`
	MaxRedirects          int    `yaml:"max_redirects"`
	DownloadTimeout       string `yaml:"download_timeout"`

	// ValidationDB persists the validation cache; empty keeps it in memory.
	ValidationDB  string `yaml:"validation_db"`
	WatchSideload bool   `yaml:"watch_sideload"`
}

// RuntimeConfig configures the llama-server child process.
type RuntimeConfig struct {
	Binary           string   `yaml:"binary"`
	Host             string   `yaml:"host"`
	Port             int      `yaml:"port"`
	ContextSize      int      `yaml:"context_size"`
	Threads          int      `yaml:"threads"`
	ExtraArgs        []string `yaml:"extra_args"`
	LoadTimeout      string   `yaml:"load_timeout"`
	GenerateTimeout  string   `yaml:"generate_timeout"`
	MaxTokens        int      `yaml:"max_tokens"`
	Temperature      float64  `yaml:"temperature"`
	MemoryMultiplier float64  `yaml:"memory_multiplier"`
}

// CycleConfig configures the inference cycle.
type CycleConfig struct {
	MaxLoadAttempts int      `yaml:"max_load_attempts"`
	Backoff         []string `yaml:"backoff"`
	DisplayDelay    string   `yaml:"display_delay"`
	WorkingLanguage string   `yaml:"working_language"`
}

// FusionConfig holds the per-modality inclusion thresholds.
type FusionConfig struct {
	InclusionThresholds map[string]float64 `yaml:"inclusion_thresholds"`
}

// TriageConfig configures prompt construction and the rule-based path.
type TriageConfig struct {
	PromptConfidenceThreshold float64 `yaml:"prompt_confidence_threshold"`
}

// GuardConfig holds the text boundary caps.
type GuardConfig struct {
	MaxInputChars  int `yaml:"max_input_chars"`
	MaxOutputChars int `yaml:"max_output_chars"`
}

// TranslationConfig configures the translation collaborator.
type TranslationConfig struct {
	Provider string `yaml:"provider"` // gemini, none
	APIKey   string `yaml:"api_key"`
	Model    string `yaml:"model"`
	Timeout  string `yaml:"timeout"`
	// ProbeAddr is dialed to decide whether the device is online.
	ProbeAddr string `yaml:"probe_addr"`
	Offline   bool   `yaml:"offline"`
}

// SensorsConfig configures optional detector transports.
type SensorsConfig struct {
	MQTT MQTTConfig `yaml:"mqtt"`
}

// MQTTConfig configures the MQTT reading source.
type MQTTConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Broker      string `yaml:"broker"`
	TopicPrefix string `yaml:"topic_prefix"`
	ClientID    string `yaml:"client_id"`
	Settle      string `yaml:"settle"`
}

// LoggingConfig configures logging.
type LoggingConfig struct {
	Level      string          `yaml:"level"`  // debug, info, warn, error
	Format     string          `yaml:"format"` // json, console
	File       string          `yaml:"file"`
	DebugMode  bool            `yaml:"debug_mode"`
	Categories map[string]bool `yaml:"categories"`
}

// DefaultModelName is the reasoning artifact resolved across all storage tiers.
const DefaultModelName = "MedGemma-1.5-4B-PT-Q2_K.gguf"

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Name:    "nku",
		Version: "0.4.0",

		Thermal: ThermalConfig{
			ThrottleC:       42.0,
			Cooldown:        "30s",
			CacheTTL:        "2s",
			BatteryPath:     "/sys/class/power_supply/battery/temp",
			ThermalZoneBase: "/sys/class/thermal",
		},

		Model: ModelConfig{
			Name:                  DefaultModelName,
			CacheDir:              "data/models",
			BundledDir:            "assets/models",
			MinSizeBytes:          64 << 20,
			ExpectedSizeBytes:     1700 << 20,
			DownloadHeadroomBytes: 200 << 20,
			MaxRedirects:          5,
			DownloadTimeout:       "30m",
			ValidationDB:          "data/validation.db",
		},

		Runtime: RuntimeConfig{
			Binary:           "llama-server",
			Host:             "127.0.0.1",
			Port:             18080,
			ContextSize:      2048,
			Threads:          4,
			LoadTimeout:      "120s",
			GenerateTimeout:  "180s",
			MaxTokens:        512,
			Temperature:      0.2,
			MemoryMultiplier: 1.2,
		},

		Cycle: CycleConfig{
			MaxLoadAttempts: 3,
			Backoff:         []string{"500ms", "1s", "2s"},
			DisplayDelay:    "1500ms",
			WorkingLanguage: "en",
		},

		Fusion: FusionConfig{
			InclusionThresholds: map[string]float64{
				"cardiac":     0.5,
				"pallor":      0.4,
				"edema":       0.4,
				"jaundice":    0.4,
				"respiratory": 0.3,
			},
		},

		Triage: TriageConfig{
			PromptConfidenceThreshold: 0.75,
		},

		Guard: GuardConfig{
			MaxInputChars:  500,
			MaxOutputChars: 5000,
		},

		Translation: TranslationConfig{
			Provider:  "none",
			Model:     "gemini-2.5-flash",
			Timeout:   "30s",
			ProbeAddr: "generativelanguage.googleapis.com:443",
		},

		Sensors: SensorsConfig{
			MQTT: MQTTConfig{
				Broker:      "tcp://127.0.0.1:1883",
				TopicPrefix: "nku/readings",
				ClientID:    "nku-fusion",
				Settle:      "2s",
			},
		},

		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// Load loads configuration from a YAML file.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			// Return defaults if config file doesn't exist
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.applyEnvOverrides()

	return cfg, nil
}

// Save saves configuration to a YAML file.
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	return nil
}

// applyEnvOverrides applies environment variable overrides.
func (c *Config) applyEnvOverrides() {
	if url := os.Getenv("NKU_MODEL_URL"); url != "" {
		c.Model.DownloadURL = url
	}
	if sum := os.Getenv("NKU_MODEL_SHA256"); sum != "" {
		c.Model.SHA256 = sum
	}
	if dir := os.Getenv("NKU_MODEL_DIR"); dir != "" {
		c.Model.CacheDir = dir
	}

	if key := os.Getenv("GEMINI_API_KEY"); key != "" {
		c.Translation.APIKey = key
		if c.Translation.Provider == "" || c.Translation.Provider == "none" {
			c.Translation.Provider = "gemini"
		}
	}
	if v := os.Getenv("NKU_OFFLINE"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.Translation.Offline = b
		}
	}

	if v := os.Getenv("NKU_THROTTLE_C"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			c.Thermal.ThrottleC = f
		}
	}
	if v := os.Getenv("NKU_MOCK_TEMP_C"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			c.Thermal.MockCelsius = f
		}
	}

	if broker := os.Getenv("NKU_MQTT_BROKER"); broker != "" {
		c.Sensors.MQTT.Broker = broker
		c.Sensors.MQTT.Enabled = true
	}
}

func parseDurationOr(s string, def time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil || d < 0 {
		return def
	}
	return d
}

// GetCooldown returns the thermal cooldown as a duration.
func (c *Config) GetCooldown() time.Duration {
	return parseDurationOr(c.Thermal.Cooldown, 30*time.Second)
}

// GetThermalCacheTTL returns how long a temperature sample is reused.
func (c *Config) GetThermalCacheTTL() time.Duration {
	return parseDurationOr(c.Thermal.CacheTTL, 2*time.Second)
}

// GetDownloadTimeout returns the artifact download timeout.
func (c *Config) GetDownloadTimeout() time.Duration {
	return parseDurationOr(c.Model.DownloadTimeout, 30*time.Minute)
}

// GetLoadTimeout returns how long a model load may take.
func (c *Config) GetLoadTimeout() time.Duration {
	return parseDurationOr(c.Runtime.LoadTimeout, 120*time.Second)
}

// GetGenerateTimeout returns the per-generation timeout.
func (c *Config) GetGenerateTimeout() time.Duration {
	return parseDurationOr(c.Runtime.GenerateTimeout, 180*time.Second)
}

// GetDisplayDelay returns how long Complete is shown before returning to Idle.
func (c *Config) GetDisplayDelay() time.Duration {
	return parseDurationOr(c.Cycle.DisplayDelay, 1500*time.Millisecond)
}

// GetTranslationTimeout returns the per-call translation timeout.
func (c *Config) GetTranslationTimeout() time.Duration {
	return parseDurationOr(c.Translation.Timeout, 30*time.Second)
}

// GetMQTTSettle returns how long to wait for retained readings after subscribing.
func (c *Config) GetMQTTSettle() time.Duration {
	return parseDurationOr(c.Sensors.MQTT.Settle, 2*time.Second)
}

// GetBackoff returns the load retry schedule. Unparseable entries fall back
// to the default schedule as a whole.
func (c *Config) GetBackoff() []time.Duration {
	def := []time.Duration{500 * time.Millisecond, time.Second, 2 * time.Second}
	if len(c.Cycle.Backoff) == 0 {
		return def
	}
	out := make([]time.Duration, 0, len(c.Cycle.Backoff))
	for _, s := range c.Cycle.Backoff {
		d, err := time.ParseDuration(s)
		if err != nil || d < 0 {
			return def
		}
		out = append(out, d)
	}
	return out
}

// ValidTranslationProviders lists the supported translation backends.
var ValidTranslationProviders = []string{"none", "gemini"}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Thermal.ThrottleC <= 0 {
		return fmt.Errorf("thermal.throttle_c must be positive, got %.1f", c.Thermal.ThrottleC)
	}
	if c.Model.Name == "" {
		return fmt.Errorf("model.name is required")
	}
	if c.Model.MinSizeBytes <= 0 {
		return fmt.Errorf("model.min_size_bytes must be positive")
	}

	pt := c.Triage.PromptConfidenceThreshold
	if pt < 0 || pt > 1 {
		return fmt.Errorf("triage.prompt_confidence_threshold must be in [0,1], got %.2f", pt)
	}
	for modality, th := range c.Fusion.InclusionThresholds {
		if th < 0 || th > 1 {
			return fmt.Errorf("fusion.inclusion_thresholds.%s must be in [0,1], got %.2f", modality, th)
		}
		if th > pt {
			return fmt.Errorf("fusion.inclusion_thresholds.%s (%.2f) exceeds the prompt threshold (%.2f)", modality, th, pt)
		}
	}

	if c.Cycle.MaxLoadAttempts < 1 {
		return fmt.Errorf("cycle.max_load_attempts must be at least 1")
	}
	if len(c.Cycle.Backoff) == 0 {
		return fmt.Errorf("cycle.backoff must not be empty")
	}
	if len(c.GetBackoff()) < c.Cycle.MaxLoadAttempts {
		return fmt.Errorf("cycle.backoff has %d entries, need one per load attempt (%d)", len(c.GetBackoff()), c.Cycle.MaxLoadAttempts)
	}

	if c.Guard.MaxInputChars <= 0 || c.Guard.MaxOutputChars <= 0 {
		return fmt.Errorf("guard caps must be positive")
	}

	validProvider := false
	for _, p := range ValidTranslationProviders {
		if c.Translation.Provider == p {
			validProvider = true
			break
		}
	}
	if !validProvider {
		return fmt.Errorf("invalid translation provider: %s (valid: %v)", c.Translation.Provider, ValidTranslationProviders)
	}
	if c.Translation.Provider == "gemini" && c.Translation.APIKey == "" {
		return fmt.Errorf("translation provider gemini requires an API key (set GEMINI_API_KEY)")
	}

	return nil
}
