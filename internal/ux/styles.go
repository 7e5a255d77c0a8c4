package ux

import (
	"os"
	"strconv"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"nku/internal/types"
)

// Triage band colors.
var (
	ColorGreen  = lipgloss.Color("#2E7D32")
	ColorYellow = lipgloss.Color("#F9A825")
	ColorOrange = lipgloss.Color("#EF6C00")
	ColorRed    = lipgloss.Color("#C62828")

	LightForeground = lipgloss.Color("#101F38")
	DarkForeground  = lipgloss.Color("#f2f2f2")
	MutedLight      = lipgloss.Color("#6b7280")
	MutedDark       = lipgloss.Color("#9ca3af")
)

// Theme holds the current color scheme.
type Theme struct {
	Foreground lipgloss.Color
	Muted      lipgloss.Color
	IsDark     bool
}

func LightTheme() Theme {
	return Theme{Foreground: LightForeground, Muted: MutedLight}
}

func DarkTheme() Theme {
	return Theme{Foreground: DarkForeground, Muted: MutedDark, IsDark: true}
}

// DetectTheme reads COLORFGBG ("fg;bg") and NKU_DARK_MODE. Light is the default.
func DetectTheme() Theme {
	if parts := strings.Split(os.Getenv("COLORFGBG"), ";"); len(parts) == 2 {
		if bg, err := strconv.Atoi(parts[1]); err == nil && ((bg >= 0 && bg <= 6) || bg == 8) {
			return DarkTheme()
		}
	}
	if os.Getenv("NKU_DARK_MODE") == "1" {
		return DarkTheme()
	}
	return LightTheme()
}

// Styles holds the styled components of the CLI.
type Styles struct {
	Theme Theme

	Title   lipgloss.Style
	Muted   lipgloss.Style
	Status  lipgloss.Style
	Spinner lipgloss.Style
	Notice  lipgloss.Style
}

func NewStyles(theme Theme) Styles {
	return Styles{
		Theme: theme,
		Title: lipgloss.NewStyle().
			Foreground(theme.Foreground).
			Bold(true),
		Muted: lipgloss.NewStyle().
			Foreground(theme.Muted),
		Status: lipgloss.NewStyle().
			Foreground(theme.Foreground).
			PaddingLeft(1),
		Spinner: lipgloss.NewStyle().
			Foreground(ColorOrange),
		Notice: lipgloss.NewStyle().
			Foreground(ColorOrange).
			Bold(true),
	}
}

// DefaultStyles uses the detected terminal theme.
func DefaultStyles() Styles {
	return NewStyles(DetectTheme())
}

func categoryColor(c types.TriageCategory) lipgloss.Color {
	switch c {
	case types.TriageGreen:
		return ColorGreen
	case types.TriageYellow:
		return ColorYellow
	case types.TriageOrange:
		return ColorOrange
	default:
		return ColorRed
	}
}

// Badge renders the triage band as a colored label.
func Badge(c types.TriageCategory) string {
	fg := lipgloss.Color("#ffffff")
	if c == types.TriageYellow {
		fg = LightForeground
	}
	return lipgloss.NewStyle().
		Background(categoryColor(c)).
		Foreground(fg).
		Bold(true).
		Padding(0, 1).
		Render(string(c))
}
