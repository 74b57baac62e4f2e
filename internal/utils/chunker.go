package utils

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

// sentenceEnd matches a sentence with its terminal punctuation and trailing space.
var sentenceEnd = regexp.MustCompile(`[^.!?]+[.!?]+\s*`)

// SplitMessage breaks text into parts of at most maxLen runes, cutting at
// sentence boundaries where possible. Sentences longer than maxLen are hard
// split. Text that already fits is returned as a single part.
func SplitMessage(text string, maxLen int) []string {
	if maxLen <= 0 || utf8.RuneCountInString(text) <= maxLen {
		return []string{text}
	}

	sentences := sentenceEnd.FindAllString(text, -1)
	consumed := 0
	for _, s := range sentences {
		consumed += len(s)
	}
	if rest := strings.TrimSpace(text[min(consumed, len(text)):]); rest != "" {
		sentences = append(sentences, rest)
	}
	if len(sentences) == 0 {
		sentences = []string{text}
	}

	var (
		parts   []string
		current strings.Builder
	)
	flush := func() {
		if s := strings.TrimSpace(current.String()); s != "" {
			parts = append(parts, s)
		}
		current.Reset()
	}

	for _, sentence := range sentences {
		if utf8.RuneCountInString(current.String())+utf8.RuneCountInString(sentence) <= maxLen {
			current.WriteString(sentence)
			continue
		}
		flush()
		if utf8.RuneCountInString(sentence) <= maxLen {
			current.WriteString(sentence)
			continue
		}
		parts = append(parts, hardSplit(sentence, maxLen)...)
	}
	flush()
	return parts
}

func hardSplit(s string, maxLen int) []string {
	runes := []rune(strings.TrimSpace(s))
	var out []string
	for len(runes) > 0 {
		n := min(maxLen, len(runes))
		if piece := strings.TrimSpace(string(runes[:n])); piece != "" {
			out = append(out, piece)
		}
		runes = runes[n:]
	}
	return out
}

// Truncate shortens s to n runes for log output.
func Truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n]) + "..."
}
