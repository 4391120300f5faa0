package enrich

import (
	"fmt"

	"golang.org/x/text/language"
	"golang.org/x/text/language/display"
)

// DefaultLanguage replaces an unsupported source language.
var DefaultLanguage = language.English

// resolution is the outcome of checking a profile against a capability's
// language support.
type resolution struct {
	pair     LanguagePair
	ok       bool
	warnings []string
}

// resolveLanguages substitutes DefaultLanguage for an unsupported source and
// rejects an unsupported target. Target fallback is never attempted.
func resolveLanguages(kind Kind, profile Profile, supported []language.Tag) resolution {
	res := resolution{
		pair: LanguagePair{Source: profile.SourceLanguage, Target: profile.TargetLanguage},
		ok:   true,
	}

	if !isSupported(profile.SourceLanguage, supported) {
		res.pair.Source = DefaultLanguage
		res.warnings = append(res.warnings, fmt.Sprintf(
			"%s: source language %q is not supported, falling back to %q",
			kind, profile.SourceLanguage.String(), DefaultLanguage.String()))
	}

	if !isSupported(profile.TargetLanguage, supported) {
		res.ok = false
		res.warnings = append(res.warnings, fmt.Sprintf(
			"%s: target language %q is not supported, %s is unavailable",
			kind, profile.TargetLanguage.String(), kind))
	}

	return res
}

// isSupported compares base languages, so "pt-BR" is accepted by "pt".
func isSupported(tag language.Tag, supported []language.Tag) bool {
	if len(supported) == 0 {
		return tag != language.Und
	}
	if tag == language.Und {
		return false
	}
	base, _ := tag.Base()
	for _, s := range supported {
		if b, _ := s.Base(); b == base {
			return true
		}
	}
	return false
}

// LanguageName returns the English display name of tag, or its code.
func LanguageName(tag language.Tag) string {
	if name := display.English.Tags().Name(tag); name != "" {
		return name
	}
	return tag.String()
}
