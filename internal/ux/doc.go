// Package ux renders triage results for the health worker and follows an
// inference cycle while it runs.
//
// It provides:
//
//   - Markdown and plain-text assessment reports, with a colored triage badge
//   - A bubbletea progress view driven by cycle events
//   - Per-device preferences (default patient language, plain output)
package ux
