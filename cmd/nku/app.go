package main

import (
	"context"
	"fmt"
	"time"

	"nku/internal/config"
	"nku/internal/cycle"
	"nku/internal/guard"
	"nku/internal/logging"
	"nku/internal/modelstore"
	"nku/internal/runtime"
	"nku/internal/thermal"
	"nku/internal/translate"
	"nku/internal/triage"
	"nku/internal/ux"
)

// app holds the wired components for one CLI invocation.
type app struct {
	cfg *config.Config

	guard   *guard.Guard
	gate    *thermal.Gate
	store   *modelstore.Store
	backing *modelstore.SQLiteCacheStore
	watcher *modelstore.Watcher
	runtime runtime.Runtime
	cycle   *cycle.Cycle
	engine  *triage.Engine
	prefs   *ux.PreferencesManager
}

// newApp wires every component from cfg. The caller must call close.
func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	timer := logging.StartTimer(logging.CategoryBoot, "newApp")
	defer timer.Stop()

	a := &app{cfg: cfg}
	a.guard = guard.NewWithLimits(cfg.Guard.MaxInputChars, cfg.Guard.MaxOutputChars)
	a.gate = newGate(cfg)

	if err := a.openStore(ctx); err != nil {
		a.close()
		return nil, err
	}

	a.runtime = runtime.NewLlamaServerRuntime(runtime.LlamaServerOptions{
		Binary:           cfg.Runtime.Binary,
		Host:             cfg.Runtime.Host,
		Port:             cfg.Runtime.Port,
		ContextSize:      cfg.Runtime.ContextSize,
		Threads:          cfg.Runtime.Threads,
		ExtraArgs:        cfg.Runtime.ExtraArgs,
		LoadTimeout:      cfg.GetLoadTimeout(),
		GenerateTimeout:  cfg.GetGenerateTimeout(),
		MaxTokens:        cfg.Runtime.MaxTokens,
		Temperature:      cfg.Runtime.Temperature,
		MemoryMultiplier: cfg.Runtime.MemoryMultiplier,
	})

	tr, err := newTranslator(ctx, cfg)
	if err != nil {
		a.close()
		return nil, err
	}

	opts := cycle.DefaultOptions()
	opts.MaxLoadAttempts = cfg.Cycle.MaxLoadAttempts
	opts.Backoff = cfg.GetBackoff()
	opts.DisplayDelay = cfg.GetDisplayDelay()
	a.cycle = cycle.New(cycle.Deps{
		Models:     a.store,
		Runtime:    a.runtime,
		Gate:       a.gate,
		Translator: tr,
		Guard:      a.guard,
	}, opts)

	engineOpts := triage.EngineOptions{ModelName: cfg.Model.Name}
	if cfg.Model.DownloadURL != "" {
		engineOpts.Descriptor = &modelstore.Descriptor{
			Name:      cfg.Model.Name,
			URL:       cfg.Model.DownloadURL,
			SizeBytes: cfg.Model.ExpectedSizeBytes,
			SHA256:    cfg.Model.SHA256,
		}
	}
	a.engine = triage.NewEngine(
		triage.NewReasoner(a.guard, cfg.Triage.PromptConfidenceThreshold),
		a.cycle,
		engineOpts,
	)

	a.prefs = ux.NewPreferencesManager(prefsDir)
	if err := a.prefs.Load(); err != nil {
		logging.BootWarn("preferences unreadable, using defaults: %v", err)
	}

	logging.Boot("nku %s ready: model=%s translation=%s mqtt=%v", cfg.Version, cfg.Model.Name, cfg.Translation.Provider, cfg.Sensors.MQTT.Enabled)
	return a, nil
}

func newGate(cfg *config.Config) *thermal.Gate {
	var sensors []thermal.Sensor
	if cfg.Thermal.MockCelsius > 0 {
		logging.ThermalDebug("using mock temperature %.1fC", cfg.Thermal.MockCelsius)
		sensors = append(sensors, thermal.StaticSensor{Celsius: cfg.Thermal.MockCelsius})
	} else {
		sensors = append(sensors,
			thermal.NewBatterySensor(cfg.Thermal.BatteryPath),
			thermal.NewZoneSensor(cfg.Thermal.ThermalZoneBase),
		)
	}
	return thermal.NewGate(sensors,
		thermal.WithThrottle(cfg.Thermal.ThrottleC),
		thermal.WithCooldown(cfg.GetCooldown()),
		thermal.WithCacheTTL(cfg.GetThermalCacheTTL()),
	)
}

func (a *app) openStore(ctx context.Context) error {
	cfg := a.cfg
	cache := modelstore.NewValidationCache()
	if cfg.Model.ValidationDB != "" {
		backing, err := modelstore.OpenSQLiteCacheStore(cfg.Model.ValidationDB)
		if err != nil {
			logging.ModelStoreWarn("validation cache database unavailable, keeping cache in memory: %v", err)
		} else {
			a.backing = backing
			persistent, err := modelstore.NewPersistentValidationCache(backing)
			if err != nil {
				logging.ModelStoreWarn("failed to load validation cache: %v", err)
			} else {
				cache = persistent
			}
		}
	}

	a.store = modelstore.New(modelstore.Options{
		CacheDir:        cfg.Model.CacheDir,
		BundledDir:      cfg.Model.BundledDir,
		SideloadDirs:    cfg.Model.SideloadDirs,
		MinSizeBytes:    cfg.Model.MinSizeBytes,
		ExpectedHash:    cfg.Model.SHA256,
		HeadroomBytes:   cfg.Model.DownloadHeadroomBytes,
		MaxRedirects:    cfg.Model.MaxRedirects,
		DownloadTimeout: cfg.GetDownloadTimeout(),
	}, cache)

	if cfg.Model.WatchSideload && len(cfg.Model.SideloadDirs) > 0 {
		w, err := modelstore.NewWatcher(cache, cfg.Model.SideloadDirs)
		if err != nil {
			return fmt.Errorf("failed to create sideload watcher: %w", err)
		}
		if err := w.Start(ctx); err != nil {
			return fmt.Errorf("failed to start sideload watcher: %w", err)
		}
		a.watcher = w
	}
	return nil
}

func newTranslator(ctx context.Context, cfg *config.Config) (translate.Translator, error) {
	if cfg.Translation.Offline || cfg.Translation.Provider != "gemini" {
		logging.TranslateDebug("translation disabled (provider=%s offline=%v)", cfg.Translation.Provider, cfg.Translation.Offline)
		return translate.Offline{}, nil
	}
	var prober translate.Prober = translate.AlwaysOnline{}
	if cfg.Translation.ProbeAddr != "" {
		prober = translate.DialProber{Addr: cfg.Translation.ProbeAddr, Timeout: 3 * time.Second}
	}
	tr, err := translate.NewGeminiTranslator(ctx, translate.GeminiOptions{
		APIKey:  cfg.Translation.APIKey,
		Model:   cfg.Translation.Model,
		Timeout: cfg.GetTranslationTimeout(),
		Prober:  prober,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create translator: %w", err)
	}
	return tr, nil
}

// close releases the model, the watcher and the cache database.
func (a *app) close() {
	if a.cycle != nil {
		a.cycle.Stop()
	}
	if a.watcher != nil {
		a.watcher.Stop()
	}
	if a.backing != nil {
		if err := a.backing.Close(); err != nil {
			logging.ModelStoreWarn("closing validation cache: %v", err)
		}
	}
}
