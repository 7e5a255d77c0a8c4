package translate

import (
	"fmt"
	"strings"
)

// WorkingLanguage is the language the reasoning model reads and writes.
const WorkingLanguage = "en"

// languageNames maps supported codes to the names used in prompts.
var languageNames = map[string]string{
	"en":  "English",
	"twi": "Twi",
	"yo":  "Yoruba",
	"ha":  "Hausa",
	"sw":  "Swahili",
	"ewe": "Ewe",
	"ga":  "Ga",
	"ig":  "Igbo",
	"zu":  "Zulu",
	"xh":  "Xhosa",
	"am":  "Amharic",
	"om":  "Oromo",
	"ti":  "Tigrinya",
	"so":  "Somali",
	"fr":  "French",
	"pt":  "Portuguese",
	"ar":  "Arabic",
}

var aliases = map[string]string{
	"ak":      "twi",
	"akan":    "twi",
	"tw":      "twi",
	"ee":      "ewe",
	"english": "en",
	"":        WorkingLanguage,
}

// NormalizeLanguage maps a user-supplied code onto a supported one.
func NormalizeLanguage(code string) (string, error) {
	c := strings.ToLower(strings.TrimSpace(code))
	if a, ok := aliases[c]; ok {
		c = a
	}
	if _, ok := languageNames[c]; !ok {
		return "", fmt.Errorf("%w: %q", ErrUnsupportedLanguage, code)
	}
	return c, nil
}

// IsWorkingLanguage reports whether code needs no translation.
func IsWorkingLanguage(code string) bool {
	c, err := NormalizeLanguage(code)
	return err == nil && c == WorkingLanguage
}

// LanguageName returns the display name for a normalized code.
func LanguageName(code string) string {
	if n, ok := languageNames[code]; ok {
		return n
	}
	return code
}

// SupportedLanguages returns the normalized codes.
func SupportedLanguages() []string {
	out := make([]string, 0, len(languageNames))
	for c := range languageNames {
		out = append(out, c)
	}
	return out
}
