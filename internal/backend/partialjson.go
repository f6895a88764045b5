package backend

import "strings"

// CompletePartialJSON closes the open strings, objects, and arrays of a
// truncated JSON document so it parses as valid JSON. A trailing partial
// token (dangling key, lone comma, bare minus) is trimmed before closing.
// Returns the input unchanged when it is already balanced.
func CompletePartialJSON(partial string) string {
	trimmed := strings.TrimSpace(partial)
	if trimmed == "" {
		return trimmed
	}

	var stack []byte
	inString := false
	escaped := false

	for i := 0; i < len(trimmed); i++ {
		ch := trimmed[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case ch == '\\':
				escaped = true
			case ch == '"':
				inString = false
			}
			continue
		}
		switch ch {
		case '"':
			inString = true
		case '{', '[':
			stack = append(stack, ch)
		case '}', ']':
			if len(stack) > 0 {
				stack = stack[:len(stack)-1]
			}
		}
	}

	var sb strings.Builder
	sb.WriteString(trimmed)

	if inString {
		if escaped {
			// A dangling backslash would escape our closing quote.
			sb.WriteByte('\\')
		}
		sb.WriteByte('"')
	}

	out := trimDanglingToken(sb.String(), len(stack) > 0)

	for i := len(stack) - 1; i >= 0; i-- {
		if stack[i] == '{' {
			out += "}"
		} else {
			out += "]"
		}
	}
	return out
}

// trimDanglingToken removes a trailing fragment that cannot be completed
// into a value: a comma with nothing after it, a key missing its value, or
// a bare minus sign. Only applies while containers are still open.
func trimDanglingToken(s string, open bool) string {
	if !open {
		return s
	}
	s = strings.TrimRight(s, " \t\n\r")

	if strings.HasSuffix(s, ",") || strings.HasSuffix(s, "-") {
		return strings.TrimRight(s[:len(s)-1], " \t\n\r")
	}
	if strings.HasSuffix(s, ":") {
		// Key without a value: drop the key string as well.
		rest := strings.TrimRight(s[:len(s)-1], " \t\n\r")
		if strings.HasSuffix(rest, "\"") {
			if idx := openingQuoteIndex(rest); idx >= 0 {
				rest = strings.TrimRight(rest[:idx], " \t\n\r")
				rest = strings.TrimSuffix(rest, ",")
			}
		}
		return strings.TrimRight(rest, " \t\n\r")
	}
	return s
}

// openingQuoteIndex finds the index of the quote opening the string that
// ends at the last byte of s, accounting for escapes.
func openingQuoteIndex(s string) int {
	for i := len(s) - 2; i >= 0; i-- {
		if s[i] != '"' {
			continue
		}
		backslashes := 0
		for j := i - 1; j >= 0 && s[j] == '\\'; j-- {
			backslashes++
		}
		if backslashes%2 == 0 {
			return i
		}
	}
	return -1
}
