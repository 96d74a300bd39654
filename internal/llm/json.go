package llm

import "strings"

// ExtractJSONObject returns the first balanced {...} object in text, skipping
// any prose or code fences around it. Braces inside strings are ignored.
// Returns "" when no complete object exists.
func ExtractJSONObject(text string) string {
	for offset := 0; offset < len(text); {
		start := strings.IndexByte(text[offset:], '{')
		if start < 0 {
			return ""
		}
		start += offset
		if end := balancedEnd(text, start); end > 0 {
			return text[start:end]
		}
		offset = start + 1
	}
	return ""
}

func balancedEnd(text string, start int) int {
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(text); i++ {
		c := text[i]
		if escaped {
			escaped = false
			continue
		}
		if c == '\\' && inString {
			escaped = true
			continue
		}
		if c == '"' {
			inString = !inString
			continue
		}
		if inString {
			continue
		}
		switch c {
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return i + 1
			}
		}
	}
	return -1
}
