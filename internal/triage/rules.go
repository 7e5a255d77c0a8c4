package triage

import (
	"fmt"
	"strings"

	"nku/internal/types"
)

// Fixed texts of the rule-based path.
const (
	AbstentionConcern        = "Insufficient data for assessment - all sensor readings below confidence threshold"
	AbstentionRecommendation = "Recapture measurements in good lighting with the device held steady, or record the patient's symptoms"
	NoAbnormalitiesConcern   = "No abnormalities detected in screened measurements"
)

var severityRecommendation = map[types.Severity]string{
	types.SeverityCritical: "URGENT: Refer to the nearest health facility immediately",
	types.SeverityHigh:     "Refer to a health facility within 48 hours",
	types.SeverityMedium:   "Schedule a clinic visit within one week",
	types.SeverityLow:      "Continue routine monitoring and rescreen if symptoms change",
}

// finding is one triggered rule.
type finding struct {
	severity types.Severity
	urgency  types.Urgency
	concern  string
	recs     []string
}

// RuleBased is the deterministic fallback. It never fails: every snapshot
// yields an assessment with at least one concern and one recommendation.
func (r *Reasoner) RuleBased(s types.VitalsSnapshot) types.ClinicalAssessment {
	if r.abstains(s) {
		return types.NewAssessment(types.AssessmentInput{
			Severity:        types.SeverityLow,
			Urgency:         types.UrgencyRoutine,
			Concerns:        []string{AbstentionConcern},
			Recommendations: []string{AbstentionRecommendation},
			Source:          types.SourceRuleBased,
		})
	}

	var findings []finding
	findings = append(findings, r.cardiacRules(s)...)
	findings = append(findings, r.pallorRules(s)...)
	findings = append(findings, r.jaundiceRules(s)...)
	findings = append(findings, r.edemaRules(s)...)
	findings = append(findings, r.respiratoryRules(s)...)
	findings = append(findings, r.symptomRules(s)...)

	if len(findings) == 0 {
		return types.NewAssessment(types.AssessmentInput{
			Severity:        types.SeverityLow,
			Urgency:         types.UrgencyRoutine,
			Concerns:        []string{NoAbnormalitiesConcern},
			Recommendations: []string{severityRecommendation[types.SeverityLow]},
			Source:          types.SourceRuleBased,
		})
	}

	sev, urg := types.SeverityLow, types.UrgencyRoutine
	var concerns, recs []string
	for _, f := range findings {
		sev = types.MaxSeverity(sev, f.severity)
		urg = types.MaxUrgency(urg, f.urgency)
		concerns = append(concerns, f.concern)
		recs = append(recs, f.recs...)
	}
	recs = append(recs, severityRecommendation[sev])

	return types.NewAssessment(types.AssessmentInput{
		Severity:        sev,
		Urgency:         urg,
		Concerns:        dedupe(concerns),
		Recommendations: dedupe(recs),
		Source:          types.SourceRuleBased,
	})
}

// abstains is true when no modality clears the threshold and no symptoms
// were reported.
func (r *Reasoner) abstains(s types.VitalsSnapshot) bool {
	if s.HasSymptoms() {
		return false
	}
	for _, m := range s.Modalities() {
		if _, ok := r.usable(s, m); ok {
			return false
		}
	}
	return true
}

func (r *Reasoner) cardiacRules(s types.VitalsSnapshot) []finding {
	rd, ok := r.usable(s, types.ModalityCardiac)
	if !ok || !rd.HasValue() {
		return nil
	}
	bpm := *rd.Value
	switch {
	case bpm < 50:
		return []finding{{types.SeverityMedium, types.UrgencyWithin48Hours,
			fmt.Sprintf("Bradycardia (%.0f bpm)", bpm),
			[]string{"Check for dizziness or fainting and recheck heart rate at rest"}}}
	case bpm > 120:
		return []finding{{types.SeverityHigh, types.UrgencyWithin48Hours,
			fmt.Sprintf("Significant tachycardia (%.0f bpm)", bpm),
			[]string{"Recheck heart rate after 10 minutes of rest", "Assess for fever, dehydration or blood loss"}}}
	case bpm > 100:
		return []finding{{types.SeverityMedium, types.UrgencyWithinWeek,
			fmt.Sprintf("Mild tachycardia (%.0f bpm)", bpm),
			[]string{"Recheck heart rate after 10 minutes of rest"}}}
	}
	return nil
}

func (r *Reasoner) pallorRules(s types.VitalsSnapshot) []finding {
	rd, ok := r.usable(s, types.ModalityPallor)
	if !ok {
		return nil
	}
	switch rd.Class {
	case types.ClassMild:
		return []finding{{types.SeverityLow, types.UrgencyRoutine,
			"Mild pallor - possible mild anemia",
			[]string{"Encourage iron-rich foods"}}}
	case types.ClassModerate:
		return []finding{{types.SeverityMedium, types.UrgencyWithinWeek,
			"Moderate pallor - possible anemia",
			[]string{"Hemoglobin test recommended"}}}
	case types.ClassSevere, types.ClassSignificant:
		return []finding{{types.SeverityHigh, types.UrgencyWithin48Hours,
			"Severe pallor - possible severe anemia",
			[]string{"Urgent hemoglobin test", "Consider malaria testing"}}}
	}
	return nil
}

func (r *Reasoner) jaundiceRules(s types.VitalsSnapshot) []finding {
	rd, ok := r.usable(s, types.ModalityJaundice)
	if !ok {
		return nil
	}
	switch rd.Class {
	case types.ClassMild:
		return []finding{{types.SeverityLow, types.UrgencyWithinWeek,
			"Mild jaundice signs",
			[]string{"Recheck eye color in daylight within a week"}}}
	case types.ClassModerate:
		return []finding{{types.SeverityMedium, types.UrgencyWithinWeek,
			"Moderate jaundice - possible liver dysfunction",
			[]string{"Liver function and malaria tests recommended"}}}
	case types.ClassSevere, types.ClassSignificant:
		return []finding{{types.SeverityHigh, types.UrgencyWithin48Hours,
			"Severe jaundice - urgent liver assessment needed",
			[]string{"Liver function and malaria tests recommended"}}}
	}
	return nil
}

func (r *Reasoner) edemaRules(s types.VitalsSnapshot) []finding {
	rd, ok := r.usable(s, types.ModalityEdema)
	if !ok {
		return nil
	}
	pregnant := s.Pregnancy().IsPregnant
	switch rd.Class {
	case types.ClassSignificant, types.ClassSevere:
		if pregnant {
			return []finding{{types.SeverityCritical, types.UrgencyImmediate,
				"Significant edema in pregnancy - possible preeclampsia",
				[]string{"Check blood pressure and urine protein now"}}}
		}
		return []finding{{types.SeverityHigh, types.UrgencyWithin48Hours,
			"Significant facial edema",
			[]string{"Check blood pressure", "Assess kidney and heart function"}}}
	case types.ClassModerate:
		if pregnant {
			return []finding{{types.SeverityHigh, types.UrgencyWithin48Hours,
				"Moderate edema in pregnancy - monitor for preeclampsia",
				[]string{"Check blood pressure and urine protein"}}}
		}
	case types.ClassMild:
		if pregnant {
			return []finding{{types.SeverityMedium, types.UrgencyWithinWeek,
				"Mild edema in pregnancy",
				[]string{"Monitor blood pressure at the next antenatal visit"}}}
		}
	}
	return nil
}

func (r *Reasoner) respiratoryRules(s types.VitalsSnapshot) []finding {
	rd, ok := r.usable(s, types.ModalityRespiratory)
	if !ok {
		return nil
	}
	switch rd.Class {
	case types.ClassMild:
		return []finding{{types.SeverityLow, types.UrgencyRoutine,
			"Mild respiratory abnormality",
			[]string{"Monitor cough and breathing"}}}
	case types.ClassModerate:
		return []finding{{types.SeverityMedium, types.UrgencyWithinWeek,
			"Moderate respiratory concern - possible infection",
			[]string{"Assess for pneumonia or tuberculosis"}}}
	case types.ClassSevere, types.ClassSignificant:
		return []finding{{types.SeverityHigh, types.UrgencyWithin48Hours,
			"Severe respiratory distress signs",
			[]string{"Assess for pneumonia or tuberculosis", "Check breathing rate and oxygen saturation"}}}
	}
	return nil
}

// symptomRules scans the lower-cased symptom text for keywords. Negations
// such as "no chest pain" still match.
func (r *Reasoner) symptomRules(s types.VitalsSnapshot) []finding {
	if !s.HasSymptoms() {
		return nil
	}
	text := strings.ToLower(strings.Join(s.Symptoms(), " "))
	has := func(words ...string) bool {
		for _, w := range words {
			if !strings.Contains(text, w) {
				return false
			}
		}
		return true
	}

	var out []finding
	if has("chest", "pain") {
		out = append(out, finding{types.SeverityCritical, types.UrgencyImmediate,
			"Chest pain reported - rule out cardiac emergency",
			[]string{"Do not leave the patient alone; arrange transport to a facility"}})
	}
	if has("short", "breath") {
		severePallor := false
		if rd, ok := r.usable(s, types.ModalityPallor); ok {
			severePallor = rd.Class == types.ClassSevere || rd.Class == types.ClassSignificant
		}
		if severePallor {
			out = append(out, finding{types.SeverityCritical, types.UrgencyImmediate,
				"Shortness of breath with severe pallor - possible severe anemia or heart failure",
				[]string{"Arrange immediate transfer for hemoglobin test and possible transfusion"}})
		} else {
			out = append(out, finding{types.SeverityHigh, types.UrgencyWithin48Hours,
				"Shortness of breath reported",
				[]string{"Check breathing rate and oxygen saturation"}})
		}
	}
	if has("seizure") || has("convuls") || has("unconscious") {
		out = append(out, finding{types.SeverityCritical, types.UrgencyImmediate,
			"Seizure or loss of consciousness reported",
			[]string{"Place the patient on their side and arrange emergency transport"}})
	}
	if has("bleed") {
		out = append(out, finding{types.SeverityHigh, types.UrgencyImmediate,
			"Bleeding reported",
			[]string{"Apply pressure to visible bleeding and refer immediately"}})
	}
	if s.Pregnancy().IsPregnant && (has("headache") || has("vision")) {
		out = append(out, finding{types.SeverityHigh, types.UrgencyWithin48Hours,
			"Headache or vision changes in pregnancy - possible preeclampsia",
			[]string{"Check blood pressure and urine protein"}})
	}
	if has("fever") {
		out = append(out, finding{types.SeverityMedium, types.UrgencyWithin48Hours,
			"Fever reported - possible infection",
			[]string{"Malaria rapid diagnostic test recommended"}})
	}
	return out
}

func dedupe(in []string) []string {
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}
