package transcriber

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

var (
	// Hesitations are dropped wherever they stand as a word of their own.
	hesitation = regexp.MustCompile(`(?i)\b(?:u+m+|u+h+|e+r+m+|h+m+)\b,?`)
	// "you know" and "like" are dropped only when set off by commas.
	parenthetical = regexp.MustCompile(`(?i),\s*(?:you know|like)\s*,`)
	spacePunct    = regexp.MustCompile(`\s+([,.;:!?])`)
	repeatedComma = regexp.MustCompile(`,(\s*,)+`)
	leadingPunct  = regexp.MustCompile(`^[\s,;:]+`)
)

// CleanText removes filler words, normalizes whitespace and punctuation
// spacing, and upper-cases the first letter.
func CleanText(s string) string {
	s = hesitation.ReplaceAllString(s, "")
	s = parenthetical.ReplaceAllString(s, " ")
	s = strings.Join(strings.Fields(s), " ")
	s = spacePunct.ReplaceAllString(s, "$1")
	s = repeatedComma.ReplaceAllString(s, ",")
	s = leadingPunct.ReplaceAllString(s, "")
	return capitalize(strings.TrimSpace(s))
}

func capitalize(s string) string {
	r, size := utf8.DecodeRuneInString(s)
	if r == utf8.RuneError || unicode.IsUpper(r) {
		return s
	}
	return string(unicode.ToUpper(r)) + s[size:]
}
