package workspace

import (
	"fmt"
	"path/filepath"

	"github.com/gobwas/glob"
)

// Matcher reports whether a slash-separated relative path is excluded.
type Matcher struct {
	globs []glob.Glob
}

// NewMatcher compiles exclude patterns. A pattern matches a path, its base
// name, or the path prefixed with "./" so "**/x" also matches at the root.
func NewMatcher(patterns []string) (*Matcher, error) {
	m := &Matcher{globs: make([]glob.Glob, 0, len(patterns))}
	for _, p := range patterns {
		g, err := glob.Compile(p, '/')
		if err != nil {
			return nil, fmt.Errorf("exclude pattern %q: %w", p, err)
		}
		m.globs = append(m.globs, g)
	}
	return m, nil
}

// Match reports whether rel is excluded.
func (m *Matcher) Match(rel string) bool {
	if m == nil {
		return false
	}
	rel = filepath.ToSlash(rel)
	base := filepath.Base(rel)
	for _, g := range m.globs {
		if g.Match(rel) || g.Match(base) || g.Match("./"+rel) {
			return true
		}
	}
	return false
}
