// Package fusion merges per-modality detector readings into one vitals
// snapshot, dropping any modality whose confidence is below its inclusion
// threshold.
package fusion

import (
	"context"
	"errors"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"nku/internal/logging"
	"nku/internal/types"
)

// ErrNoReading is returned by a detector that has nothing to report yet.
var ErrNoReading = errors.New("no reading available")

// Detector supplies the latest reading for one modality.
type Detector interface {
	Modality() types.Modality
	Latest(ctx context.Context) (types.SensorReading, error)
}

// DefaultThresholds are the inclusion thresholds per modality. Each is lower
// than the prompt-stage threshold the reasoner applies afterwards.
func DefaultThresholds() map[types.Modality]float64 {
	return map[types.Modality]float64{
		types.ModalityCardiac:     0.5,
		types.ModalityPallor:      0.4,
		types.ModalityEdema:       0.4,
		types.ModalityJaundice:    0.4,
		types.ModalityRespiratory: 0.3,
	}
}

// Fusion owns the current snapshot and the non-sensor inputs.
type Fusion struct {
	detectors  []Detector
	thresholds map[types.Modality]float64
	now        func() time.Time

	mu        sync.Mutex
	symptoms  []string
	pregnancy types.PregnancyContext
	latest    types.VitalsSnapshot
}

// New builds a Fusion. Modalities missing from thresholds use the defaults.
func New(detectors []Detector, thresholds map[types.Modality]float64) *Fusion {
	th := DefaultThresholds()
	for m, v := range thresholds {
		th[m] = v
	}
	return &Fusion{
		detectors:  detectors,
		thresholds: th,
		now:        time.Now,
		latest:     types.NewVitalsSnapshot(nil, nil, types.PregnancyContext{}, time.Time{}, false),
	}
}

// Threshold returns the inclusion threshold for m.
func (f *Fusion) Threshold(m types.Modality) float64 { return f.thresholds[m] }

// SetSymptoms replaces the free-text symptom list used by the next Update.
func (f *Fusion) SetSymptoms(symptoms []string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.symptoms = append([]string(nil), symptoms...)
}

// SetPregnancy sets the pregnancy context used by the next Update.
func (f *Fusion) SetPregnancy(p types.PregnancyContext) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pregnancy = p
}

// Update reads every detector concurrently and publishes a new snapshot.
// A detector error leaves its modality absent.
func (f *Fusion) Update(ctx context.Context) types.VitalsSnapshot {
	var mu sync.Mutex
	readings := make(map[types.Modality]types.SensorReading, len(f.detectors))

	eg, egCtx := errgroup.WithContext(ctx)
	for _, d := range f.detectors {
		eg.Go(func() error {
			r, err := d.Latest(egCtx)
			if err != nil {
				if !errors.Is(err, ErrNoReading) {
					logging.FusionWarn("%s detector failed: %v", d.Modality(), err)
				}
				return nil
			}
			if !f.include(d.Modality(), r) {
				logging.FusionDebug("%s excluded: confidence %.2f below %.2f", d.Modality(), r.Confidence, f.thresholds[d.Modality()])
				return nil
			}
			mu.Lock()
			readings[d.Modality()] = r
			mu.Unlock()
			return nil
		})
	}
	_ = eg.Wait()

	complete := true
	for _, m := range types.AllModalities {
		if _, ok := readings[m]; !ok {
			complete = false
			break
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.latest = types.NewVitalsSnapshot(readings, f.symptoms, f.pregnancy, f.now(), complete)
	logging.Fusion("snapshot updated: %d/%d modalities included", len(readings), len(types.AllModalities))
	return f.latest
}

// Snapshot returns the most recent snapshot.
func (f *Fusion) Snapshot() types.VitalsSnapshot {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.latest
}

// HasHighRiskIndicators evaluates the latest snapshot.
func (f *Fusion) HasHighRiskIndicators() bool {
	return HasHighRiskIndicators(f.Snapshot())
}

func (f *Fusion) include(m types.Modality, r types.SensorReading) bool {
	if !r.HasValue() && r.Class == "" {
		return false
	}
	th, ok := f.thresholds[m]
	if !ok {
		return false
	}
	return r.Confidence >= th
}

// HasHighRiskIndicators is true when the heart rate is outside [50,100],
// pallor is moderate or worse, or edema is significant (or moderate during
// pregnancy). Severe and Significant are the same tier, as in triage.
func HasHighRiskIndicators(s types.VitalsSnapshot) bool {
	if r, ok := s.Reading(types.ModalityCardiac); ok && r.HasValue() {
		if bpm := *r.Value; bpm < 50 || bpm > 100 {
			return true
		}
	}
	if r, ok := s.Reading(types.ModalityPallor); ok {
		switch r.Class {
		case types.ClassModerate, types.ClassSevere, types.ClassSignificant:
			return true
		}
	}
	if r, ok := s.Reading(types.ModalityEdema); ok {
		switch r.Class {
		case types.ClassSignificant, types.ClassSevere:
			return true
		case types.ClassModerate:
			return s.Pregnancy().IsPregnant
		}
	}
	return false
}
