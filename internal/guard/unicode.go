package guard

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/width"
)

// invisible is the set of zero-width and bidi-control code points that can
// split a keyword without changing how it renders.
var invisible = runes.Predicate(func(r rune) bool {
	switch {
	case r >= 0x200B && r <= 0x200F:
		return true
	case r >= 0x202A && r <= 0x202E:
		return true
	case r >= 0x2060 && r <= 0x2064:
		return true
	case r == 0xFEFF, r == 0x00AD:
		return true
	}
	return false
})

// homoglyphs maps Cyrillic and Greek look-alikes to Latin letters.
var homoglyphs = map[rune]rune{
	// Cyrillic uppercase
	'А': 'A', 'В': 'B', 'С': 'C', 'Е': 'E',
	'Н': 'H', 'К': 'K', 'М': 'M', 'О': 'O',
	'Р': 'P', 'Т': 'T', 'Х': 'X', 'Ѕ': 'S',
	// Cyrillic lowercase
	'а': 'a', 'с': 'c', 'е': 'e', 'о': 'o',
	'р': 'p', 'х': 'x', 'у': 'y', 'ѕ': 's',
	'і': 'i', 'ј': 'j',
	// Greek uppercase
	'Α': 'A', 'Β': 'B', 'Ε': 'E', 'Ζ': 'Z',
	'Η': 'H', 'Ι': 'I', 'Κ': 'K', 'Μ': 'M',
	'Ν': 'N', 'Ο': 'O', 'Ρ': 'P', 'Τ': 'T',
	'Υ': 'Y', 'Χ': 'X',
	// Greek lowercase
	'ο': 'o',
}

// stripInvisible removes invisible code points and reports how many were dropped.
func stripInvisible(s string) (string, int) {
	out, _, err := transform.String(runes.Remove(invisible), s)
	if err != nil {
		out = s
	}
	return out, len([]rune(s)) - len([]rune(out))
}

// foldHomoglyphs folds full-width forms to ASCII and maps look-alike letters.
func foldHomoglyphs(s string) (string, int) {
	folded := width.Fold.String(s)
	n := 0
	mapped := strings.Map(func(r rune) rune {
		if latin, ok := homoglyphs[r]; ok {
			n++
			return latin
		}
		return r
	}, folded)
	return mapped, n
}

// collapseWhitespace replaces runs of whitespace with one space and trims.
func collapseWhitespace(s string) string {
	return strings.Join(strings.FieldsFunc(s, unicode.IsSpace), " ")
}

// truncateRunes caps s at n runes.
func truncateRunes(s string, n int) (string, bool) {
	if n <= 0 {
		return "", s != ""
	}
	count := 0
	for i := range s {
		if count == n {
			return s[:i], true
		}
		count++
	}
	return s, false
}
