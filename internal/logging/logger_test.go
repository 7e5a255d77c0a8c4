package logging

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func observe(t *testing.T, o Options) *observer.ObservedLogs {
	t.Helper()
	core, logs := observer.New(zapcore.DebugLevel)
	InitializeWithLogger(zap.New(core), o)
	t.Cleanup(Reset)
	return logs
}

func TestNoOpBeforeInitialize(t *testing.T) {
	Reset()

	l := Get(CategoryGuard)
	if l.sugar != nil {
		t.Fatal("expected no-op logger before Initialize")
	}
	// Must not panic.
	l.Info("hello %d", 1)
	Guard("hello")
	assert.NotNil(t, l.Zap())
}

func TestAllCategoriesLog(t *testing.T) {
	logs := observe(t, Options{})

	for _, cat := range AllCategories {
		Get(cat).Info("message from %s", cat)
	}

	entries := logs.All()
	require.Len(t, entries, len(AllCategories))
	for i, cat := range AllCategories {
		assert.Equal(t, string(cat), entries[i].LoggerName)
		assert.Equal(t, "message from "+string(cat), entries[i].Message)
	}
}

func TestCategoryFilter(t *testing.T) {
	logs := observe(t, Options{Categories: map[string]bool{"fusion": false}})

	Fusion("dropped")
	Triage("kept")

	entries := logs.All()
	require.Len(t, entries, 1)
	assert.Equal(t, "kept", entries[0].Message)
	assert.False(t, IsCategoryEnabled(CategoryFusion))
	assert.True(t, IsCategoryEnabled(CategoryCycle))
}

func TestConvenienceLevels(t *testing.T) {
	logs := observe(t, Options{})

	CycleDebug("d")
	CycleWarn("w")
	CycleError("e")

	entries := logs.All()
	require.Len(t, entries, 3)
	assert.Equal(t, zapcore.DebugLevel, entries[0].Level)
	assert.Equal(t, zapcore.WarnLevel, entries[1].Level)
	assert.Equal(t, zapcore.ErrorLevel, entries[2].Level)
}

func TestWithAddsFields(t *testing.T) {
	logs := observe(t, Options{})

	Get(CategoryCycle).With("run_id", "abc").Info("state change")

	entries := logs.FilterField(zap.String("run_id", "abc")).All()
	require.Len(t, entries, 1)
}

func TestInitializeWritesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "logs", "nku.log")
	t.Cleanup(Reset)

	require.NoError(t, Initialize(Options{Level: "debug", Format: "json", File: path}))
	Thermal("probe %s", "ok")
	Sync()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(data), "probe ok"), "log file: %s", data)
	assert.True(t, strings.Contains(string(data), `"logger":"thermal"`))
}

func TestInitializeRejectsBadLevel(t *testing.T) {
	t.Cleanup(Reset)
	if err := Initialize(Options{Level: "loud"}); err == nil {
		t.Fatal("expected error for unknown level")
	}
}

func TestTimerThreshold(t *testing.T) {
	logs := observe(t, Options{})

	timer := StartTimer(CategoryRuntime, "load")
	time.Sleep(5 * time.Millisecond)
	timer.StopWithThreshold(time.Millisecond)

	entries := logs.FilterLevelExact(zapcore.WarnLevel).All()
	require.Len(t, entries, 1)
	assert.Contains(t, entries[0].Message, "load slow")
}

func TestConcurrentGet(t *testing.T) {
	observe(t, Options{})

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for _, cat := range AllCategories {
				Get(cat).Debug("x")
			}
		}()
	}
	wg.Wait()

	loggersMu.RLock()
	defer loggersMu.RUnlock()
	assert.Len(t, loggers, len(AllCategories))
}
