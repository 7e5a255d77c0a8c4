package guard

import (
	"strings"

	"nku/internal/logging"
)

// ValidateOutput reports whether model text may be shown. A false result
// means discard and fall back; callers never try to repair the text.
func (g *Guard) ValidateOutput(text string) bool {
	if strings.TrimSpace(text) == "" {
		logging.GuardDebug("model output rejected: empty")
		return false
	}
	if strings.Contains(text, DelimiterOpen) || strings.Contains(text, DelimiterClose) {
		logging.GuardWarn("model output rejected: delimiter leak [output_len=%d]", len(text))
		return false
	}
	for _, p := range outputCatalogue {
		if p.re.MatchString(text) {
			logging.GuardWarn("model output rejected: %s [output_len=%d]", p.category, len(text))
			return false
		}
	}
	return true
}

// SanitizeOutput trims and caps text that already passed ValidateOutput.
func (g *Guard) SanitizeOutput(text string) string {
	out, truncated := truncateRunes(strings.TrimSpace(text), g.maxOutput)
	if truncated {
		logging.GuardDebug("model output truncated to %d chars", g.maxOutput)
	}
	return out
}
