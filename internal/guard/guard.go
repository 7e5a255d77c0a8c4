// Package guard defends the free-text boundary of the triage prompt.
//
// Inbound text (patient-reported symptoms) runs through a fixed pipeline:
// invisible-rune stripping, homoglyph folding, whitespace collapse, encoded
// payload redaction, injection catalogue redaction, delimiter escaping and a
// hard length cap. Outbound model text is checked by ValidateOutput and, only
// when it passes, capped by SanitizeOutput.
package guard

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"sort"
	"strconv"
	"strings"
	"unicode/utf8"

	"nku/internal/logging"
)

const (
	// DefaultMaxInputChars caps sanitized input, in runes.
	DefaultMaxInputChars = 500
	// DefaultMaxOutputChars caps model output, in runes.
	DefaultMaxOutputChars = 5000

	// Redacted replaces every detected span.
	Redacted = "[REDACTED]"

	DelimiterOpen  = "<<<"
	DelimiterClose = ">>>"

	escapedOpen  = "‹‹‹"
	escapedClose = "›››"
)

// Guard applies the sanitization pipeline. The caps are fixed at construction.
type Guard struct {
	maxInput  int
	maxOutput int
}

// New returns a guard with the default caps.
func New() *Guard {
	return &Guard{maxInput: DefaultMaxInputChars, maxOutput: DefaultMaxOutputChars}
}

// NewWithLimits returns a guard with explicit caps. Non-positive values fall
// back to the defaults.
func NewWithLimits(maxInput, maxOutput int) *Guard {
	g := New()
	if maxInput > 0 {
		g.maxInput = maxInput
	}
	if maxOutput > 0 {
		g.maxOutput = maxOutput
	}
	return g
}

// Report is the audit record of one Inspect call. It never holds the raw input.
type Report struct {
	Text        string
	Detections  map[string]int
	InputLength int
	InputHash   string
	Truncated   bool
}

// Detected reports whether any injection category fired.
func (r Report) Detected() bool {
	for cat, n := range r.Detections {
		if n > 0 && cat != CategoryInvisible && cat != CategoryHomoglyph {
			return true
		}
	}
	return false
}

// Sanitize returns the cleaned form of raw.
func (g *Guard) Sanitize(raw string) string {
	return g.Inspect(raw).Text
}

// Inspect runs the inbound pipeline and reports what it found.
func (g *Guard) Inspect(raw string) Report {
	rep := Report{
		Detections:  make(map[string]int),
		InputLength: utf8.RuneCountInString(raw),
		InputHash:   hashPrefix(raw),
	}

	text, n := stripInvisible(raw)
	rep.add(CategoryInvisible, n)

	text, n = foldHomoglyphs(text)
	rep.add(CategoryHomoglyph, n)

	text = collapseWhitespace(text)

	text = redactEncodedPayloads(text, &rep)

	if hasOverrideIntent(text) {
		rep.add(CategoryOverrideIntent, 1)
	}
	text = redactCatalogue(text, &rep)

	if strings.Contains(text, DelimiterOpen) || strings.Contains(text, DelimiterClose) {
		rep.add(CategoryDelimiter, strings.Count(text, DelimiterOpen)+strings.Count(text, DelimiterClose))
		text = EscapeDelimiters(text)
	}

	text, rep.Truncated = truncateRunes(text, g.maxInput)
	rep.Text = text

	if rep.Detected() {
		logging.Get(logging.CategoryGuard).With(
			"input_hash", rep.InputHash,
			"input_len", rep.InputLength,
		).Warn("injection indicators redacted: %s", rep.summary())
	} else if rep.Truncated {
		logging.GuardDebug("input truncated to %d chars [input_hash=%s]", g.maxInput, rep.InputHash)
	}
	return rep
}

// WrapInDelimiters frames already-sanitized text for interpolation.
func (g *Guard) WrapInDelimiters(text string) string {
	return DelimiterOpen + text + DelimiterClose
}

// EscapeDelimiters rewrites literal delimiter markers without running the rest
// of the pipeline. It is for trusted text that must not be truncated, such as
// validated model output sent for translation.
func EscapeDelimiters(text string) string {
	text = strings.ReplaceAll(text, DelimiterOpen, escapedOpen)
	return strings.ReplaceAll(text, DelimiterClose, escapedClose)
}

func (r *Report) add(category string, n int) {
	if n > 0 {
		r.Detections[category] += n
	}
}

// summary renders category counts in a stable order, e.g. "markup=1 role_override=2".
func (r Report) summary() string {
	cats := make([]string, 0, len(r.Detections))
	for c := range r.Detections {
		cats = append(cats, c)
	}
	sort.Strings(cats)
	var b strings.Builder
	for i, c := range cats {
		if i > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(c)
		b.WriteByte('=')
		b.WriteString(strconv.Itoa(r.Detections[c]))
	}
	return b.String()
}

// redactEncodedPayloads replaces base64-looking runs whose decoded text
// matches the injection catalogue.
func redactEncodedPayloads(text string, rep *Report) string {
	return base64Candidate.ReplaceAllStringFunc(text, func(candidate string) string {
		decoded, ok := decodeBase64(candidate)
		if !ok {
			return candidate
		}
		if matchesAny(injectionCatalogue, decoded) || hasOverrideIntent(decoded) {
			rep.add(CategoryEncodedPayload, 1)
			return Redacted
		}
		return candidate
	})
}

func decodeBase64(s string) (string, bool) {
	for _, enc := range []*base64.Encoding{base64.StdEncoding, base64.RawStdEncoding} {
		b, err := enc.DecodeString(s)
		if err == nil {
			return strings.ToLower(string(b)), true
		}
	}
	// Trailing garbage: decode the longest prefix that is a multiple of four.
	trimmed := strings.TrimRight(s, "=")
	trimmed = trimmed[:len(trimmed)-len(trimmed)%4]
	if b, err := base64.StdEncoding.DecodeString(trimmed); err == nil {
		return strings.ToLower(string(b)), true
	}
	return "", false
}

type span struct{ start, end int }

// redactCatalogue replaces every catalogue match in text. Matches found in
// the leetspeak view redact the same byte range of the real text.
func redactCatalogue(text string, rep *Report) string {
	leet := leetView(text)
	var spans []span
	for _, p := range injectionCatalogue {
		seen := make(map[span]bool)
		for _, view := range []string{text, leet} {
			for _, loc := range p.re.FindAllStringIndex(view, -1) {
				sp := span{loc[0], loc[1]}
				if sp.start == sp.end || seen[sp] {
					continue
				}
				seen[sp] = true
				spans = append(spans, sp)
				rep.add(p.category, 1)
			}
		}
	}
	if len(spans) == 0 {
		return text
	}

	sort.Slice(spans, func(i, j int) bool {
		if spans[i].start != spans[j].start {
			return spans[i].start < spans[j].start
		}
		return spans[i].end > spans[j].end
	})
	merged := spans[:1]
	for _, sp := range spans[1:] {
		last := &merged[len(merged)-1]
		if sp.start <= last.end {
			if sp.end > last.end {
				last.end = sp.end
			}
			continue
		}
		merged = append(merged, sp)
	}

	var b strings.Builder
	prev := 0
	for _, sp := range merged {
		b.WriteString(text[prev:sp.start])
		b.WriteString(Redacted)
		prev = sp.end
	}
	b.WriteString(text[prev:])
	return b.String()
}

// hashPrefix identifies an input in logs without revealing it.
func hashPrefix(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])[:16]
}
