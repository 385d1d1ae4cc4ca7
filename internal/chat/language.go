package chat

import (
	"strings"
	"unicode"
)

// DetectLanguage returns a language hint for Cyrillic text: "uk" when
// Ukrainian-only letters appear, "be" for Belarusian ў, otherwise "ru".
// Text without Cyrillic letters yields "".
func DetectLanguage(text string) string {
	if strings.TrimSpace(text) == "" || !containsCyrillic(text) {
		return ""
	}
	lower := strings.ToLower(text)
	switch {
	case strings.ContainsAny(lower, "іїєґ"):
		return "uk"
	case strings.ContainsRune(lower, 'ў'):
		return "be"
	default:
		return "ru"
	}
}

func containsCyrillic(text string) bool {
	for _, r := range text {
		if unicode.Is(unicode.Cyrillic, r) {
			return true
		}
	}
	return false
}
