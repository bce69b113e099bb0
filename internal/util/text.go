package util

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

func HTMLEscape(input string) string {
	result := strings.ReplaceAll(input, "&", "&amp;")
	result = strings.ReplaceAll(result, "<", "&lt;")
	result = strings.ReplaceAll(result, ">", "&gt;")
	return result
}

// Capitalize lowercases the input and upper-cases its first rune.
func Capitalize(input string) string {
	lower := strings.ToLower(strings.TrimSpace(input))
	if lower == "" {
		return ""
	}
	first, size := utf8.DecodeRuneInString(lower)
	return string(unicode.ToUpper(first)) + lower[size:]
}

func SplitByLimit(text string, maxLen int) []string {
	if len(text) <= maxLen {
		return []string{text}
	}
	chunks := make([]string, 0, len(text)/maxLen+1)
	for len(text) > maxLen {
		cut := maxLen
		for cut > 0 && !utf8.RuneStart(text[cut]) {
			cut--
		}
		if cut == 0 {
			cut = maxLen
		}
		chunks = append(chunks, text[:cut])
		text = text[cut:]
	}
	if text != "" {
		chunks = append(chunks, text)
	}
	return chunks
}

// SplitByLineLimit splits on line boundaries where possible so HTML tags opened
// on a line are not cut in half.
func SplitByLineLimit(text string, maxLen int) []string {
	if len(text) <= maxLen {
		return []string{text}
	}
	lines := strings.Split(text, "\n")
	chunks := make([]string, 0, len(lines)/2+1)
	var current strings.Builder

	flush := func() {
		if current.Len() == 0 {
			return
		}
		chunks = append(chunks, current.String())
		current.Reset()
	}

	for _, line := range lines {
		if len(line) > maxLen {
			flush()
			chunks = append(chunks, SplitByLimit(line, maxLen)...)
			continue
		}
		if current.Len() == 0 {
			current.WriteString(line)
			continue
		}
		if current.Len()+1+len(line) > maxLen {
			flush()
			current.WriteString(line)
			continue
		}
		current.WriteByte('\n')
		current.WriteString(line)
	}
	flush()
	return chunks
}
