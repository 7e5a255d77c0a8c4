package ux

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/glamour"

	"nku/internal/types"
)

var modalityNames = map[types.Modality]string{
	types.ModalityCardiac:     "Heart rate",
	types.ModalityPallor:      "Pallor",
	types.ModalityJaundice:    "Jaundice",
	types.ModalityEdema:       "Edema",
	types.ModalityRespiratory: "Respiratory",
}

// Markdown renders the assessment and the measurements it was based on.
func Markdown(a types.ClinicalAssessment, s types.VitalsSnapshot) string {
	var b strings.Builder

	fmt.Fprintf(&b, "# Triage: %s\n\n", a.TriageCategory)
	fmt.Fprintf(&b, "**Severity:** %s  \n**Urgency:** %s  \n**Source:** %s\n\n", a.Severity, a.Urgency, sourceLabel(a.Source))
	if a.Notice != "" {
		fmt.Fprintf(&b, "> %s\n\n", a.Notice)
	}

	b.WriteString("## Concerns\n\n")
	writeList(&b, a.Concerns)
	b.WriteString("## Recommendations\n\n")
	writeList(&b, a.Recommendations)

	if a.Localized != "" {
		b.WriteString("## In the patient's language\n\n")
		b.WriteString(a.Localized)
		b.WriteString("\n\n")
	}

	if rows := measurementRows(s); len(rows) > 0 {
		b.WriteString("## Measurements\n\n| Modality | Reading | Confidence |\n|---|---|---|\n")
		for _, r := range rows {
			fmt.Fprintf(&b, "| %s | %s | %s |\n", r[0], r[1], r[2])
		}
		b.WriteString("\n")
	}

	fmt.Fprintf(&b, "---\n\n*%s*\n", a.Disclaimer)
	return b.String()
}

// RenderReport renders the markdown report for a terminal, prefixed by the
// colored triage badge.
func RenderReport(a types.ClinicalAssessment, s types.VitalsSnapshot, styles Styles, width int) (string, error) {
	if width <= 0 {
		width = 80
	}
	style := glamour.WithStylePath("light")
	if styles.Theme.IsDark {
		style = glamour.WithAutoStyle()
	}
	r, err := glamour.NewTermRenderer(style, glamour.WithWordWrap(width))
	if err != nil {
		return "", fmt.Errorf("failed to create markdown renderer: %w", err)
	}
	out, err := r.Render(Markdown(a, s))
	if err != nil {
		return "", fmt.Errorf("failed to render report: %w", err)
	}
	return Badge(a.TriageCategory) + "\n" + out, nil
}

// Plain renders the assessment without markup, for logs, pipes and
// screen readers.
func Plain(a types.ClinicalAssessment, s types.VitalsSnapshot) string {
	var b strings.Builder
	fmt.Fprintf(&b, "TRIAGE: %s\nSEVERITY: %s\nURGENCY: %s\nSOURCE: %s\n", a.TriageCategory, a.Severity, a.Urgency, sourceLabel(a.Source))
	if a.Notice != "" {
		fmt.Fprintf(&b, "NOTICE: %s\n", a.Notice)
	}
	b.WriteString("\nCONCERNS:\n")
	for _, c := range a.Concerns {
		fmt.Fprintf(&b, "- %s\n", c)
	}
	b.WriteString("\nRECOMMENDATIONS:\n")
	for _, r := range a.Recommendations {
		fmt.Fprintf(&b, "- %s\n", r)
	}
	if a.Localized != "" {
		fmt.Fprintf(&b, "\nLOCALIZED:\n%s\n", a.Localized)
	}
	if rows := measurementRows(s); len(rows) > 0 {
		b.WriteString("\nMEASUREMENTS:\n")
		for _, r := range rows {
			fmt.Fprintf(&b, "- %s: %s (%s)\n", r[0], r[1], r[2])
		}
	}
	fmt.Fprintf(&b, "\n%s\n", a.Disclaimer)
	return b.String()
}

func sourceLabel(s types.Source) string {
	if s == types.SourceModel {
		return "on-device model"
	}
	return "rule-based screening"
}

func writeList(b *strings.Builder, items []string) {
	for _, it := range items {
		fmt.Fprintf(b, "- %s\n", it)
	}
	b.WriteString("\n")
}

func measurementRows(s types.VitalsSnapshot) [][3]string {
	var rows [][3]string
	for _, m := range s.Modalities() {
		rd, _ := s.Reading(m)
		var reading []string
		if rd.HasValue() {
			if m == types.ModalityCardiac {
				reading = append(reading, fmt.Sprintf("%.0f bpm", *rd.Value))
			} else {
				reading = append(reading, fmt.Sprintf("%.2f", *rd.Value))
			}
		}
		if rd.Class != "" {
			reading = append(reading, string(rd.Class))
		}
		if len(reading) == 0 {
			reading = append(reading, "-")
		}
		rows = append(rows, [3]string{modalityNames[m], strings.Join(reading, ", "), fmt.Sprintf("%.0f%%", rd.Confidence*100)})
	}
	return rows
}
