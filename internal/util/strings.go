// Package util provides shared utility functions used across the codebase.
package util

import (
	"strings"
	"unicode"

	"github.com/charmbracelet/x/ansi"
)

// TruncateString truncates a string to maxLen runes, adding "..." if truncated.
// This is a simple truncation that does not account for ANSI escape codes or
// wide characters. For tool output that may carry styling, use ClipOutput.
func TruncateString(s string, maxLen int) string {
	if maxLen <= 3 {
		return "..."
	}
	runes := []rune(s)
	if len(runes) <= maxLen {
		return s
	}
	return string(runes[:maxLen-3]) + "..."
}

// ClipOutput strips ANSI escape sequences from tool output and keeps at most
// maxLen runes of what remains. A maxLen of zero or less disables clipping.
// Test runners colorize their output; feedback sent back to an agent and
// messages carried in signals are kept plain and bounded.
func ClipOutput(s string, maxLen int) string {
	plain := strings.TrimSpace(ansi.Strip(s))
	if maxLen <= 0 {
		return plain
	}
	return TruncateString(plain, maxLen)
}

// Slug converts a dotted or slashed name such as "pkg.core.parse_line" into a
// string safe to use as a single path element.
func Slug(name string) string {
	var sb strings.Builder
	lastDash := false
	for _, r := range strings.TrimSpace(name) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_':
			sb.WriteRune(r)
			lastDash = false
		case !lastDash && sb.Len() > 0:
			sb.WriteRune('-')
			lastDash = true
		}
	}
	s := strings.TrimSuffix(sb.String(), "-")
	if s == "" {
		return "unnamed"
	}
	return s
}

// FirstLine returns the first non-empty line of s, trimmed.
func FirstLine(s string) string {
	for _, line := range strings.Split(s, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			return line
		}
	}
	return ""
}
