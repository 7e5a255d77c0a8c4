package main

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"nku/internal/fusion"
	"nku/internal/types"
)

// snapshotFile is the on-disk form of one screening: detector readings
// keyed by modality, reported symptoms, pregnancy context and the patient
// language.
//
//	language: twi
//	readings:
//	  cardiac: {value: 118, confidence: 0.91}
//	  pallor: {class: moderate, confidence: 0.8}
//	symptoms:
//	  - "Me ti yɛ me ya"
//	pregnancy:
//	  is_pregnant: true
//	  gestational_weeks: 32
type snapshotFile struct {
	Language  string                         `yaml:"language"`
	Readings  map[string]types.SensorReading `yaml:"readings"`
	Symptoms  []string                       `yaml:"symptoms"`
	Pregnancy types.PregnancyContext         `yaml:"pregnancy"`
}

func loadSnapshotFile(path string) (*snapshotFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read snapshot: %w", err)
	}
	var f snapshotFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse snapshot %s: %w", path, err)
	}
	if err := f.validate(); err != nil {
		return nil, fmt.Errorf("invalid snapshot %s: %w", path, err)
	}
	return &f, nil
}

func (f *snapshotFile) validate() error {
	for name, r := range f.Readings {
		if _, err := types.ParseModality(name); err != nil {
			return err
		}
		if _, err := types.ParseSeverityClass(string(r.Class)); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
		if r.Confidence < 0 || r.Confidence > 1 {
			return fmt.Errorf("%s: confidence %.2f outside [0,1]", name, r.Confidence)
		}
	}
	if w := f.Pregnancy.GestationalWeeks; w != nil && (*w < 0 || *w > 45) {
		return fmt.Errorf("gestational_weeks %d out of range", *w)
	}
	return nil
}

// detectors adapts the file's readings to fixed detectors, one per modality.
// Modalities missing from the file read as absent.
func (f *snapshotFile) detectors() []fusion.Detector {
	out := make([]fusion.Detector, 0, len(types.AllModalities))
	for _, m := range types.AllModalities {
		d := fusion.StaticDetector{M: m}
		for name, r := range f.Readings {
			if parsed, _ := types.ParseModality(name); parsed == m {
				r.Class, _ = types.ParseSeverityClass(string(r.Class))
				reading := r
				d.Reading = &reading
				break
			}
		}
		out = append(out, d)
	}
	return out
}
