// Package logging provides config-driven categorized logging for nku.
// Every category shares one zap core; the category is attached as a field so
// log lines from the guard, the cycle and the model store can be filtered.
// Before Initialize is called every logger is a no-op.
//
// Text that came from a patient or from the model must never be passed to
// these loggers. Log lengths, counts and hash prefixes instead.
package logging

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Category represents a log category/system
type Category string

const (
	CategoryBoot       Category = "boot"       // Startup, config load
	CategoryGuard      Category = "guard"      // Input sanitization, output validation
	CategoryThermal    Category = "thermal"    // Temperature sampling, cooldown
	CategoryModelStore Category = "modelstore" // Resolve, validate, download
	CategoryRuntime    Category = "runtime"    // Model process lifecycle
	CategoryTranslate  Category = "translate"  // Translation collaborator
	CategoryCycle      Category = "cycle"      // Inference state machine
	CategoryFusion     Category = "fusion"     // Sensor merging
	CategoryTriage     Category = "triage"     // Prompting, rules, parsing
	CategoryCLI        Category = "cli"        // Command wiring
)

// AllCategories lists every category known to the logger.
var AllCategories = []Category{
	CategoryBoot, CategoryGuard, CategoryThermal, CategoryModelStore, CategoryRuntime,
	CategoryTranslate, CategoryCycle, CategoryFusion, CategoryTriage, CategoryCLI,
}

// Options mirrors config.LoggingConfig to avoid an import cycle.
type Options struct {
	Level      string
	Format     string // json or console
	File       string // empty writes to stderr
	DebugMode  bool   // forces debug level
	Categories map[string]bool
}

// Logger is a category-scoped printf-style logger.
type Logger struct {
	category Category
	sugar    *zap.SugaredLogger
}

var (
	loggers   = make(map[Category]*Logger)
	loggersMu sync.RWMutex
	base      *zap.Logger
	opts      Options
	configMu  sync.RWMutex
)

// Initialize builds the shared zap core. It may be called again to reconfigure.
func Initialize(o Options) error {
	level := zap.NewAtomicLevelAt(zapcore.InfoLevel)
	if o.Level != "" {
		if err := level.UnmarshalText([]byte(strings.ToLower(o.Level))); err != nil {
			return fmt.Errorf("invalid log level %q: %w", o.Level, err)
		}
	}
	if o.DebugMode {
		level.SetLevel(zapcore.DebugLevel)
	}

	zcfg := zap.NewProductionConfig()
	zcfg.Level = level
	zcfg.Encoding = "console"
	if o.Format == "json" {
		zcfg.Encoding = "json"
	}
	zcfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	zcfg.OutputPaths = []string{"stderr"}
	if o.File != "" {
		if err := os.MkdirAll(filepath.Dir(o.File), 0755); err != nil {
			return fmt.Errorf("failed to create log directory: %w", err)
		}
		zcfg.OutputPaths = []string{o.File}
	}

	l, err := zcfg.Build()
	if err != nil {
		return fmt.Errorf("failed to build logger: %w", err)
	}
	install(l, o)

	Get(CategoryBoot).Debug("logging initialized: level=%s format=%s file=%q", level.String(), zcfg.Encoding, o.File)
	return nil
}

// InitializeWithLogger installs an existing zap logger, for tests and for
// callers that already own one.
func InitializeWithLogger(l *zap.Logger, o Options) {
	install(l, o)
}

func install(l *zap.Logger, o Options) {
	configMu.Lock()
	old := base
	base = l
	opts = o
	configMu.Unlock()

	loggersMu.Lock()
	loggers = make(map[Category]*Logger)
	loggersMu.Unlock()

	if old != nil {
		_ = old.Sync()
	}
}

// IsCategoryEnabled returns whether a specific category is enabled
func IsCategoryEnabled(category Category) bool {
	configMu.RLock()
	defer configMu.RUnlock()

	if base == nil {
		return false
	}
	if opts.Categories == nil {
		return true
	}
	enabled, exists := opts.Categories[string(category)]
	if !exists {
		return true // Enable by default if not specified
	}
	return enabled
}

// Get returns (or creates) a logger for the given category.
// Returns a no-op logger if logging is not initialized or the category is disabled.
func Get(category Category) *Logger {
	if !IsCategoryEnabled(category) {
		return &Logger{category: category}
	}

	loggersMu.RLock()
	if l, ok := loggers[category]; ok {
		loggersMu.RUnlock()
		return l
	}
	loggersMu.RUnlock()

	loggersMu.Lock()
	defer loggersMu.Unlock()

	// Double-check after acquiring write lock
	if l, ok := loggers[category]; ok {
		return l
	}

	configMu.RLock()
	z := base
	configMu.RUnlock()
	if z == nil {
		return &Logger{category: category}
	}

	l := &Logger{
		category: category,
		sugar:    z.Named(string(category)).Sugar(),
	}
	loggers[category] = l
	return l
}

// Zap exposes the structured logger for callers that log fields.
// It is a no-op logger when the category is disabled.
func (l *Logger) Zap() *zap.Logger {
	if l.sugar == nil {
		return zap.NewNop()
	}
	return l.sugar.Desugar()
}

// With returns a logger carrying extra key/value context.
func (l *Logger) With(keysAndValues ...interface{}) *Logger {
	if l.sugar == nil {
		return l
	}
	return &Logger{category: l.category, sugar: l.sugar.With(keysAndValues...)}
}

func (l *Logger) Debug(format string, args ...interface{}) {
	if l.sugar == nil {
		return
	}
	l.sugar.Debugf(format, args...)
}

func (l *Logger) Info(format string, args ...interface{}) {
	if l.sugar == nil {
		return
	}
	l.sugar.Infof(format, args...)
}

func (l *Logger) Warn(format string, args ...interface{}) {
	if l.sugar == nil {
		return
	}
	l.sugar.Warnf(format, args...)
}

func (l *Logger) Error(format string, args ...interface{}) {
	if l.sugar == nil {
		return
	}
	l.sugar.Errorf(format, args...)
}

// Sync flushes buffered entries (call at shutdown).
func Sync() {
	configMu.RLock()
	z := base
	configMu.RUnlock()
	if z != nil {
		_ = z.Sync()
	}
}

// Reset drops the shared core so every logger becomes a no-op again.
func Reset() {
	configMu.Lock()
	base = nil
	opts = Options{}
	configMu.Unlock()

	loggersMu.Lock()
	loggers = make(map[Category]*Logger)
	loggersMu.Unlock()
}

// =============================================================================
// CONVENIENCE FUNCTIONS - Quick logging without getting a logger first
// These are no-ops if the category is disabled
// =============================================================================

func Boot(format string, args ...interface{})      { Get(CategoryBoot).Info(format, args...) }
func BootDebug(format string, args ...interface{}) { Get(CategoryBoot).Debug(format, args...) }
func BootWarn(format string, args ...interface{})  { Get(CategoryBoot).Warn(format, args...) }

func Guard(format string, args ...interface{})      { Get(CategoryGuard).Info(format, args...) }
func GuardDebug(format string, args ...interface{}) { Get(CategoryGuard).Debug(format, args...) }
func GuardWarn(format string, args ...interface{})  { Get(CategoryGuard).Warn(format, args...) }

func Thermal(format string, args ...interface{})      { Get(CategoryThermal).Info(format, args...) }
func ThermalDebug(format string, args ...interface{}) { Get(CategoryThermal).Debug(format, args...) }
func ThermalWarn(format string, args ...interface{})  { Get(CategoryThermal).Warn(format, args...) }

func ModelStore(format string, args ...interface{})      { Get(CategoryModelStore).Info(format, args...) }
func ModelStoreDebug(format string, args ...interface{}) { Get(CategoryModelStore).Debug(format, args...) }
func ModelStoreWarn(format string, args ...interface{})  { Get(CategoryModelStore).Warn(format, args...) }
func ModelStoreError(format string, args ...interface{}) { Get(CategoryModelStore).Error(format, args...) }

func Runtime(format string, args ...interface{})      { Get(CategoryRuntime).Info(format, args...) }
func RuntimeDebug(format string, args ...interface{}) { Get(CategoryRuntime).Debug(format, args...) }
func RuntimeWarn(format string, args ...interface{})  { Get(CategoryRuntime).Warn(format, args...) }
func RuntimeError(format string, args ...interface{}) { Get(CategoryRuntime).Error(format, args...) }

func Translate(format string, args ...interface{})      { Get(CategoryTranslate).Info(format, args...) }
func TranslateDebug(format string, args ...interface{}) { Get(CategoryTranslate).Debug(format, args...) }
func TranslateWarn(format string, args ...interface{})  { Get(CategoryTranslate).Warn(format, args...) }

func Cycle(format string, args ...interface{})      { Get(CategoryCycle).Info(format, args...) }
func CycleDebug(format string, args ...interface{}) { Get(CategoryCycle).Debug(format, args...) }
func CycleWarn(format string, args ...interface{})  { Get(CategoryCycle).Warn(format, args...) }
func CycleError(format string, args ...interface{}) { Get(CategoryCycle).Error(format, args...) }

func Fusion(format string, args ...interface{})      { Get(CategoryFusion).Info(format, args...) }
func FusionDebug(format string, args ...interface{}) { Get(CategoryFusion).Debug(format, args...) }
func FusionWarn(format string, args ...interface{})  { Get(CategoryFusion).Warn(format, args...) }

func Triage(format string, args ...interface{})      { Get(CategoryTriage).Info(format, args...) }
func TriageDebug(format string, args ...interface{}) { Get(CategoryTriage).Debug(format, args...) }
func TriageWarn(format string, args ...interface{})  { Get(CategoryTriage).Warn(format, args...) }

func CLI(format string, args ...interface{})      { Get(CategoryCLI).Info(format, args...) }
func CLIDebug(format string, args ...interface{}) { Get(CategoryCLI).Debug(format, args...) }

// =============================================================================
// TIMING
// =============================================================================

// Timer measures an operation and logs its duration on Stop.
type Timer struct {
	category  Category
	operation string
	start     time.Time
}

// StartTimer begins timing an operation.
func StartTimer(category Category, operation string) *Timer {
	return &Timer{category: category, operation: operation, start: time.Now()}
}

// Stop logs the elapsed time at debug level and returns it.
func (t *Timer) Stop() time.Duration {
	elapsed := time.Since(t.start)
	Get(t.category).Debug("%s completed in %v", t.operation, elapsed)
	return elapsed
}

// StopWithThreshold logs at warn level when the operation ran longer than threshold.
func (t *Timer) StopWithThreshold(threshold time.Duration) time.Duration {
	elapsed := time.Since(t.start)
	if elapsed > threshold {
		Get(t.category).Warn("%s slow: %v (threshold %v)", t.operation, elapsed, threshold)
	} else {
		Get(t.category).Debug("%s completed in %v", t.operation, elapsed)
	}
	return elapsed
}
