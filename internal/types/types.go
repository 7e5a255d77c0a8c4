// Package types holds the domain model shared by the triage pipeline:
// per-modality sensor readings, the fused vitals snapshot, and the
// clinical assessment produced at the end of a triage run.
package types

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// MODALITIES
// =============================================================================

// Modality is one independent sensing channel.
type Modality string

const (
	ModalityCardiac     Modality = "cardiac"
	ModalityPallor      Modality = "pallor"
	ModalityEdema       Modality = "edema"
	ModalityJaundice    Modality = "jaundice"
	ModalityRespiratory Modality = "respiratory"
)

// AllModalities lists every modality in prompt and report order.
var AllModalities = []Modality{
	ModalityCardiac,
	ModalityPallor,
	ModalityJaundice,
	ModalityEdema,
	ModalityRespiratory,
}

// ParseModality maps a string to a known modality.
func ParseModality(s string) (Modality, error) {
	m := Modality(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range AllModalities {
		if m == known {
			return m, nil
		}
	}
	return "", fmt.Errorf("unknown modality %q", s)
}

// SeverityClass is the coarse class a detector assigns to its reading.
// Edema uses Significant as its top tier, the other color modalities use Severe.
type SeverityClass string

const (
	ClassNone        SeverityClass = "none"
	ClassMild        SeverityClass = "mild"
	ClassModerate    SeverityClass = "moderate"
	ClassSevere      SeverityClass = "severe"
	ClassSignificant SeverityClass = "significant"
)

// ParseSeverityClass accepts the class names case-insensitively. Empty input
// yields an empty class, meaning the detector did not classify.
func ParseSeverityClass(s string) (SeverityClass, error) {
	switch c := SeverityClass(strings.ToLower(strings.TrimSpace(s))); c {
	case "", ClassNone, ClassMild, ClassModerate, ClassSevere, ClassSignificant:
		return c, nil
	default:
		return "", fmt.Errorf("unknown severity class %q", s)
	}
}

// SensorReading is one detector's latest output. Value carries the modality
// measurement: beats per minute for cardiac, a [0,1] score for the others.
type SensorReading struct {
	Value      *float64      `json:"value,omitempty" yaml:"value,omitempty"`
	Class      SeverityClass `json:"class,omitempty" yaml:"class,omitempty"`
	Confidence float64       `json:"confidence" yaml:"confidence"`
}

// HasValue reports whether the reading carries a measurement.
func (r SensorReading) HasValue() bool { return r.Value != nil }

func (r SensorReading) clone() SensorReading {
	out := r
	if r.Value != nil {
		v := *r.Value
		out.Value = &v
	}
	return out
}

// Float is a small helper for building readings in literals.
func Float(v float64) *float64 { return &v }

// =============================================================================
// VITALS SNAPSHOT
// =============================================================================

// PregnancyContext qualifies edema and symptom rules.
type PregnancyContext struct {
	IsPregnant       bool `json:"is_pregnant" yaml:"is_pregnant"`
	GestationalWeeks *int `json:"gestational_weeks,omitempty" yaml:"gestational_weeks,omitempty"`
}

// VitalsSnapshot is the fused, read-only view of all modalities at one
// capture instant. A new snapshot supersedes the previous one; it is never
// mutated after construction.
type VitalsSnapshot struct {
	readings              map[Modality]SensorReading
	symptoms              []string
	pregnancy             PregnancyContext
	capturedAt            time.Time
	allModalitiesComplete bool
}

// NewVitalsSnapshot copies its inputs so callers cannot mutate the snapshot.
func NewVitalsSnapshot(readings map[Modality]SensorReading, symptoms []string, pregnancy PregnancyContext, capturedAt time.Time, complete bool) VitalsSnapshot {
	copied := make(map[Modality]SensorReading, len(readings))
	for m, r := range readings {
		copied[m] = r.clone()
	}
	syms := make([]string, 0, len(symptoms))
	for _, s := range symptoms {
		if strings.TrimSpace(s) != "" {
			syms = append(syms, s)
		}
	}
	if pregnancy.GestationalWeeks != nil {
		w := *pregnancy.GestationalWeeks
		pregnancy.GestationalWeeks = &w
	}
	return VitalsSnapshot{
		readings:              copied,
		symptoms:              syms,
		pregnancy:             pregnancy,
		capturedAt:            capturedAt,
		allModalitiesComplete: complete,
	}
}

// Reading returns a copy of the modality's reading if it was included.
func (s VitalsSnapshot) Reading(m Modality) (SensorReading, bool) {
	r, ok := s.readings[m]
	if !ok {
		return SensorReading{}, false
	}
	return r.clone(), true
}

// Modalities returns the included modalities in canonical order.
func (s VitalsSnapshot) Modalities() []Modality {
	out := make([]Modality, 0, len(s.readings))
	for _, m := range AllModalities {
		if _, ok := s.readings[m]; ok {
			out = append(out, m)
		}
	}
	return out
}

// Symptoms returns a copy of the free-text symptom list.
func (s VitalsSnapshot) Symptoms() []string {
	return append([]string(nil), s.symptoms...)
}

// HasSymptoms reports whether any free-text symptom was recorded.
func (s VitalsSnapshot) HasSymptoms() bool { return len(s.symptoms) > 0 }

func (s VitalsSnapshot) Pregnancy() PregnancyContext {
	p := s.pregnancy
	if p.GestationalWeeks != nil {
		w := *p.GestationalWeeks
		p.GestationalWeeks = &w
	}
	return p
}

func (s VitalsSnapshot) CapturedAt() time.Time       { return s.capturedAt }
func (s VitalsSnapshot) AllModalitiesComplete() bool { return s.allModalitiesComplete }

// =============================================================================
// SEVERITY / URGENCY / CATEGORY
// =============================================================================

// Severity is ordered: a larger value is worse.
type Severity int

const (
	SeverityLow Severity = iota
	SeverityMedium
	SeverityHigh
	SeverityCritical
)

func (s Severity) String() string {
	switch s {
	case SeverityLow:
		return "LOW"
	case SeverityMedium:
		return "MEDIUM"
	case SeverityHigh:
		return "HIGH"
	case SeverityCritical:
		return "CRITICAL"
	}
	return fmt.Sprintf("Severity(%d)", int(s))
}

// ParseSeverity accepts the response-protocol tokens, case-insensitively.
func ParseSeverity(s string) (Severity, bool) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "LOW":
		return SeverityLow, true
	case "MEDIUM":
		return SeverityMedium, true
	case "HIGH":
		return SeverityHigh, true
	case "CRITICAL":
		return SeverityCritical, true
	}
	return 0, false
}

func (s Severity) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

func (s *Severity) UnmarshalText(b []byte) error {
	v, ok := ParseSeverity(string(b))
	if !ok {
		return fmt.Errorf("unknown severity %q", b)
	}
	*s = v
	return nil
}

// MaxSeverity is the ordinal max.
func MaxSeverity(a, b Severity) Severity {
	if b > a {
		return b
	}
	return a
}

// Urgency is ordered: a larger value is more urgent.
type Urgency int

const (
	UrgencyRoutine Urgency = iota
	UrgencyWithinWeek
	UrgencyWithin48Hours
	UrgencyImmediate
)

func (u Urgency) String() string {
	switch u {
	case UrgencyRoutine:
		return "ROUTINE"
	case UrgencyWithinWeek:
		return "WITHIN_WEEK"
	case UrgencyWithin48Hours:
		return "WITHIN_48_HOURS"
	case UrgencyImmediate:
		return "IMMEDIATE"
	}
	return fmt.Sprintf("Urgency(%d)", int(u))
}

// ParseUrgency accepts the response-protocol tokens, case-insensitively.
func ParseUrgency(s string) (Urgency, bool) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "ROUTINE":
		return UrgencyRoutine, true
	case "WITHIN_WEEK":
		return UrgencyWithinWeek, true
	case "WITHIN_48_HOURS":
		return UrgencyWithin48Hours, true
	case "IMMEDIATE":
		return UrgencyImmediate, true
	}
	return 0, false
}

func (u Urgency) MarshalText() ([]byte, error) { return []byte(u.String()), nil }

func (u *Urgency) UnmarshalText(b []byte) error {
	v, ok := ParseUrgency(string(b))
	if !ok {
		return fmt.Errorf("unknown urgency %q", b)
	}
	*u = v
	return nil
}

// MaxUrgency is the ordinal max.
func MaxUrgency(a, b Urgency) Urgency {
	if b > a {
		return b
	}
	return a
}

// TriageCategory is the color band shown to the health worker.
type TriageCategory string

const (
	TriageGreen  TriageCategory = "GREEN"
	TriageYellow TriageCategory = "YELLOW"
	TriageOrange TriageCategory = "ORANGE"
	TriageRed    TriageCategory = "RED"
)

// CategoryFor is the only mapping from severity to triage category.
func CategoryFor(s Severity) TriageCategory {
	switch s {
	case SeverityCritical:
		return TriageRed
	case SeverityHigh:
		return TriageOrange
	case SeverityMedium:
		return TriageYellow
	case SeverityLow:
		return TriageGreen
	}
	// Out-of-range values come only from bad casts; treat them as the worst case.
	return TriageRed
}

// Source records which path produced an assessment.
type Source string

const (
	SourceModel     Source = "model"
	SourceRuleBased Source = "rule_based"
)

// =============================================================================
// CLINICAL ASSESSMENT
// =============================================================================

// Disclaimer is attached to every assessment regardless of source.
const Disclaimer = "This is a screening aid, not a diagnosis. Always refer the patient to a qualified health worker for clinical evaluation."

// ClinicalAssessment is the immutable result of one triage run. Build it with
// NewAssessment so the category and disclaimer invariants hold.
type ClinicalAssessment struct {
	ID              string         `json:"id"`
	CreatedAt       time.Time      `json:"created_at"`
	Severity        Severity       `json:"severity"`
	Urgency         Urgency        `json:"urgency"`
	TriageCategory  TriageCategory `json:"triage_category"`
	Concerns        []string       `json:"concerns"`
	Recommendations []string       `json:"recommendations"`
	Disclaimer      string         `json:"disclaimer"`
	Source          Source         `json:"source"`
	Prompt          string         `json:"prompt,omitempty"`
	RawModelText    string         `json:"raw_model_text,omitempty"`
	// Localized is the model text in the patient's language, when it was
	// translated.
	Localized string `json:"localized,omitempty"`
	// Notice carries a fixed pipeline message (for example the thermal block)
	// when the rule-based path was taken because the model path was unavailable.
	Notice string `json:"notice,omitempty"`
}

// AssessmentInput gathers NewAssessment's arguments.
type AssessmentInput struct {
	ID              string
	CreatedAt       time.Time
	Severity        Severity
	Urgency         Urgency
	Concerns        []string
	Recommendations []string
	Source          Source
	Prompt          string
	RawModelText    string
	Localized       string
	Notice          string
}

// NewAssessment derives the triage category from severity and always sets
// the disclaimer. A missing ID or timestamp is filled in.
func NewAssessment(in AssessmentInput) ClinicalAssessment {
	if in.ID == "" {
		in.ID = uuid.NewString()
	}
	if in.CreatedAt.IsZero() {
		in.CreatedAt = time.Now()
	}
	return ClinicalAssessment{
		ID:              in.ID,
		CreatedAt:       in.CreatedAt,
		Severity:        in.Severity,
		Urgency:         in.Urgency,
		TriageCategory:  CategoryFor(in.Severity),
		Concerns:        append([]string(nil), in.Concerns...),
		Recommendations: append([]string(nil), in.Recommendations...),
		Disclaimer:      Disclaimer,
		Source:          in.Source,
		Prompt:          in.Prompt,
		RawModelText:    in.RawModelText,
		Localized:       in.Localized,
		Notice:          in.Notice,
	}
}
