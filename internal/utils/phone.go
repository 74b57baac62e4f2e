package utils

import (
	"strings"
	"unicode"
)

// CleanPhone strips the WhatsApp JID domain and every non-digit rune.
func CleanPhone(raw string) string {
	if i := strings.IndexByte(raw, '@'); i >= 0 {
		raw = raw[:i]
	}
	return strings.Map(func(r rune) rune {
		if r >= '0' && r <= '9' {
			return r
		}
		return -1
	}, raw)
}

// AlphaNumeric keeps only letters and digits.
func AlphaNumeric(s string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			return r
		}
		return -1
	}, s)
}
