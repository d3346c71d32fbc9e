// Package models defines the data structures shared across the intake workflow.
package models

import (
	"fmt"
	"strings"
)

// Language is a display-language selector.
type Language string

const (
	LanguageFrench  Language = "fr"
	LanguageEnglish Language = "en"
)

// DefaultLanguage is used when the presentation layer does not pick one.
const DefaultLanguage = LanguageFrench

// ParseLanguage validates a language code. Empty input yields the default.
func ParseLanguage(s string) (Language, error) {
	switch Language(strings.ToLower(strings.TrimSpace(s))) {
	case "":
		return DefaultLanguage, nil
	case LanguageFrench:
		return LanguageFrench, nil
	case LanguageEnglish:
		return LanguageEnglish, nil
	default:
		return "", fmt.Errorf("unsupported language %q", s)
	}
}

// Session identifies one patient encounter.
// Token is an externally issued bearer credential; it must never be logged or
// published.
type Session struct {
	ID        string
	Token     string
	Language  Language
	Anonymous bool
}

// AnonymousFlag renders the anonymity flag as the literal the backend expects.
func (s Session) AnonymousFlag() string {
	if s.Anonymous {
		return "true"
	}
	return "false"
}
