package crucible

import (
	"regexp"
	"strings"
)

// Locate finds the current line range of a top-level or nested def or class
// named name in Python source. The range ends at the last non-blank line
// indented deeper than the header; comment lines never extend it. ok is false when no header matches.
func Locate(source, name string) (start, end int, ok bool) {
	header := regexp.MustCompile(`^(\s*)(?:async\s+def|def|class)\s+` + regexp.QuoteMeta(name) + `\b`)
	lines := strings.Split(source, "\n")
	for i, line := range lines {
		m := header.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		indent := len(m[1])
		start, end = i+1, i+1
		depth := brackets(line)
		for j := i + 1; j < len(lines); j++ {
			trimmed := strings.TrimSpace(lines[j])
			if trimmed == "" {
				continue
			}
			if depth > 0 {
				// Parameters continue on this line.
				depth += brackets(lines[j])
				end = j + 1
				continue
			}
			if strings.HasPrefix(trimmed, "#") {
				continue
			}
			if leading(lines[j]) <= indent {
				break
			}
			end = j + 1
		}
		return start, end, true
	}
	return 0, 0, false
}

func leading(line string) int {
	return len(line) - len(strings.TrimLeft(line, " \t"))
}

// brackets returns the net count of opening brackets on a line, ignoring
// any trailing comment.
func brackets(line string) int {
	if i := strings.Index(line, "#"); i >= 0 {
		line = line[:i]
	}
	return strings.Count(line, "(") + strings.Count(line, "[") + strings.Count(line, "{") -
		strings.Count(line, ")") - strings.Count(line, "]") - strings.Count(line, "}")
}
