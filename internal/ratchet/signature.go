package ratchet

import "strings"

// Signature reduces a function or class to its header and docstring so the
// test writer never sees the prototype body. The header may span several
// lines; it ends at the first colon outside brackets.
func Signature(code string) string {
	lines := strings.Split(strings.TrimSpace(code), "\n")
	if lines[0] == "" {
		return ""
	}

	var out []string
	depth, i := 0, 0
header:
	for ; i < len(lines); i++ {
		line := lines[i]
		for j, c := range line {
			switch c {
			case '(', '[', '{':
				depth++
			case ')', ']', '}':
				depth--
			case ':':
				if depth > 0 {
					continue
				}
				if strings.TrimSpace(line[j+1:]) != "" {
					// One-liner: drop the inline body.
					out = append(out, line[:j+1])
					return strings.Join(append(out, "    ..."), "\n")
				}
				out = append(out, line)
				i++
				break header
			}
		}
		out = append(out, line)
	}

	if i < len(lines) {
		first := strings.TrimSpace(lines[i])
		if strings.HasPrefix(first, `"""`) || strings.HasPrefix(first, "'''") {
			quote := first[:3]
			out = append(out, lines[i])
			closed := len(first) > 3 && strings.Count(first, quote) >= 2
			for i++; !closed && i < len(lines); i++ {
				out = append(out, lines[i])
				closed = strings.Contains(lines[i], quote)
			}
		}
	}
	return strings.Join(append(out, "    ..."), "\n")
}
