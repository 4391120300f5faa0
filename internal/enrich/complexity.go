package enrich

import (
	"regexp"
	"strings"
	"unicode"
)

// sound cues and speaker tags such as "[Music]", "(laughs)" or "♪"
var cueRe = regexp.MustCompile(`\[[^\]]*\]|\([^)]*\)|[♪♫]`)

const (
	minComplexWords = 3
	minComplexRunes = 6
)

// IsComplex reports whether text is worth a grammar insight. Short utterances
// and pure sound cues are skipped. Scripts written without spaces are measured
// in letters instead of words.
func IsComplex(text string) bool {
	cleaned := strings.TrimSpace(cueRe.ReplaceAllString(text, " "))
	if cleaned == "" {
		return false
	}

	if len(strings.Fields(cleaned)) >= minComplexWords {
		return true
	}

	letters := 0
	spaceless := false
	for _, r := range cleaned {
		if unicode.IsLetter(r) {
			letters++
		}
		if unicode.In(r, unicode.Han, unicode.Hiragana, unicode.Katakana, unicode.Thai) {
			spaceless = true
		}
	}
	return spaceless && letters >= minComplexRunes
}
