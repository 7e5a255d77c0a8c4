package triage

import (
	"regexp"
	"strings"

	"nku/internal/logging"
	"nku/internal/types"
)

// Placeholders for model replies whose list sections are empty.
const (
	NoConcernsPlaceholder        = "No specific concerns identified by the model"
	NoRecommendationsPlaceholder = "Consult a health worker for follow-up"
)

var (
	severityLine = regexp.MustCompile(`(?im)^[ \t*#>-]*severity[ \t*]*:([^\r\n]*)`)
	urgencyLine  = regexp.MustCompile(`(?im)^[ \t*#>-]*urgency[ \t*]*:([^\r\n]*)`)
	sectionLine  = regexp.MustCompile(`(?i)^[\s*#>]*(severity|urgency|primary_concerns|recommendations)\s*\**\s*:`)
)

// ParseModelOutput reads the structured reply. If either mandatory field is
// missing or unrecognised, or parsing panics, it returns RuleBased(s)
// unchanged.
func (r *Reasoner) ParseModelOutput(text string, s types.VitalsSnapshot) (out types.ClinicalAssessment) {
	defer func() {
		if rec := recover(); rec != nil {
			logging.TriageWarn("model output parse panicked, using rules: %v", rec)
			out = r.RuleBased(s)
		}
	}()

	sev, ok := matchField(severityLine, text, types.ParseSeverity)
	if !ok {
		logging.TriageDebug("model output has no valid SEVERITY, using rules")
		return r.RuleBased(s)
	}
	urg, ok := matchField(urgencyLine, text, types.ParseUrgency)
	if !ok {
		logging.TriageDebug("model output has no valid URGENCY, using rules")
		return r.RuleBased(s)
	}

	concerns := bulletSection(text, "primary_concerns")
	if len(concerns) == 0 {
		concerns = []string{NoConcernsPlaceholder}
	}
	recs := bulletSection(text, "recommendations")
	if len(recs) == 0 {
		recs = []string{NoRecommendationsPlaceholder}
	}

	return types.NewAssessment(types.AssessmentInput{
		Severity:        sev,
		Urgency:         urg,
		Concerns:        concerns,
		Recommendations: recs,
		Source:          types.SourceModel,
		RawModelText:    text,
	})
}

func matchField[T any](re *regexp.Regexp, text string, parse func(string) (T, bool)) (T, bool) {
	m := re.FindStringSubmatch(text)
	if m == nil {
		var zero T
		return zero, false
	}
	return parse(strings.Trim(m[1], " \t*.`'\"[]"))
}

// bulletSection collects "- " lines following the named label, up to the
// next label.
func bulletSection(text, label string) []string {
	var out []string
	in := false
	for _, line := range strings.Split(text, "\n") {
		if m := sectionLine.FindStringSubmatch(line); m != nil {
			in = strings.EqualFold(m[1], label)
			continue
		}
		if !in {
			continue
		}
		trimmed := strings.TrimSpace(line)
		for _, bullet := range []string{"- ", "* ", "• "} {
			if strings.HasPrefix(trimmed, bullet) {
				if item := strings.TrimSpace(trimmed[len(bullet):]); item != "" {
					out = append(out, item)
				}
				break
			}
		}
	}
	return out
}
