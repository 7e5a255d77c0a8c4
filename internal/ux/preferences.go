package ux

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"nku/internal/translate"
	"nku/internal/types"
)

// PreferencesVersion is the current schema version for preferences.json.
const PreferencesVersion = "1.0"

// Preferences are per-device settings that the health worker changes from
// the CLI rather than from the config file.
type Preferences struct {
	Version string `json:"version"`

	// Language is the patient language used when --lang is not given.
	Language string `json:"language"`

	// Plain disables the styled report and the progress view.
	Plain bool `json:"plain"`

	Metrics UsageMetrics `json:"metrics"`
}

// UsageMetrics are local counters. They never leave the device.
type UsageMetrics struct {
	Assessments      int    `json:"assessments"`
	ModelAssessments int    `json:"model_assessments"`
	RuleAssessments  int    `json:"rule_assessments"`
	LastAssessmentAt string `json:"last_assessment_at,omitempty"`
}

// PreferencesManager handles loading/saving preferences.
type PreferencesManager struct {
	mu          sync.RWMutex
	path        string
	preferences *Preferences
}

// NewPreferencesManager stores preferences under dir.
func NewPreferencesManager(dir string) *PreferencesManager {
	return &PreferencesManager{
		path: filepath.Join(dir, "preferences.json"),
	}
}

// Path returns the preferences file location.
func (pm *PreferencesManager) Path() string { return pm.path }

// Load reads preferences from disk, creating defaults if not exists.
func (pm *PreferencesManager) Load() error {
	pm.mu.Lock()
	defer pm.mu.Unlock()

	data, err := os.ReadFile(pm.path)
	if err != nil {
		if os.IsNotExist(err) {
			pm.preferences = DefaultPreferences()
			return nil
		}
		return fmt.Errorf("failed to read preferences: %w", err)
	}

	prefs := DefaultPreferences()
	if err := json.Unmarshal(data, prefs); err != nil {
		return fmt.Errorf("failed to parse preferences: %w", err)
	}
	if _, err := translate.NormalizeLanguage(prefs.Language); err != nil {
		prefs.Language = translate.WorkingLanguage
	}

	pm.preferences = prefs
	return nil
}

// Save writes preferences to disk.
func (pm *PreferencesManager) Save() error {
	pm.mu.Lock()
	defer pm.mu.Unlock()

	if pm.preferences == nil {
		pm.preferences = DefaultPreferences()
	}

	if err := os.MkdirAll(filepath.Dir(pm.path), 0755); err != nil {
		return fmt.Errorf("failed to create preferences directory: %w", err)
	}

	data, err := json.MarshalIndent(pm.preferences, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal preferences: %w", err)
	}

	if err := os.WriteFile(pm.path, data, 0644); err != nil {
		return fmt.Errorf("failed to write preferences: %w", err)
	}
	return nil
}

// Get returns a copy of the current preferences.
func (pm *PreferencesManager) Get() Preferences {
	pm.mu.RLock()
	defer pm.mu.RUnlock()

	if pm.preferences == nil {
		return *DefaultPreferences()
	}
	return *pm.preferences
}

// SetLanguage normalizes and stores the default patient language.
func (pm *PreferencesManager) SetLanguage(code string) error {
	lang, err := translate.NormalizeLanguage(code)
	if err != nil {
		return err
	}

	pm.mu.Lock()
	defer pm.mu.Unlock()
	pm.ensureLocked()
	pm.preferences.Language = lang
	return nil
}

func (pm *PreferencesManager) SetPlain(plain bool) {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	pm.ensureLocked()
	pm.preferences.Plain = plain
}

// RecordAssessment counts a finished assessment by source.
func (pm *PreferencesManager) RecordAssessment(src types.Source) {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	pm.ensureLocked()

	m := &pm.preferences.Metrics
	m.Assessments++
	if src == types.SourceModel {
		m.ModelAssessments++
	} else {
		m.RuleAssessments++
	}
	m.LastAssessmentAt = time.Now().Format(time.RFC3339)
}

func (pm *PreferencesManager) ensureLocked() {
	if pm.preferences == nil {
		pm.preferences = DefaultPreferences()
	}
}

// DefaultPreferences returns the settings of a fresh device.
func DefaultPreferences() *Preferences {
	return &Preferences{
		Version:  PreferencesVersion,
		Language: translate.WorkingLanguage,
	}
}
