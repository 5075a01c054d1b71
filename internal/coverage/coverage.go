// Package coverage reads coverage.py JSON reports and answers the one
// question the green phase asks of them: which lines of a unit were never
// executed by the suite.
package coverage

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/Iron-Ham/breakfix/internal/config"
	"github.com/Iron-Ham/breakfix/internal/errors"
	"github.com/Iron-Ham/breakfix/internal/util"
)

// ErrNoData indicates the coverage run produced no usable report.
var ErrNoData = errors.New("no coverage data")

// FileData is the per-file section of a coverage.py JSON report.
type FileData struct {
	ExecutedLines []int `json:"executed_lines"`
	MissingLines  []int `json:"missing_lines"`
	ExcludedLines []int `json:"excluded_lines,omitempty"`
}

// Report is a parsed coverage.py JSON report. Only the files section is kept.
type Report struct {
	Files map[string]FileData `json:"files"`
}

// Parse decodes a JSON report.
func Parse(data []byte) (*Report, error) {
	var r Report
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNoData, err)
	}
	if r.Files == nil {
		r.Files = map[string]FileData{}
	}
	return &r, nil
}

// ReadFile parses the report at path. A missing file wraps ErrNoData.
func ReadFile(path string) (*Report, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s not found", ErrNoData, path)
		}
		return nil, fmt.Errorf("read coverage report: %w", err)
	}
	return Parse(data)
}

// File finds the entry for module. Report keys may be absolute or relative,
// so either side being a suffix of the other counts as a match.
func (r *Report) File(module string) (FileData, bool) {
	module = filepath.ToSlash(module)
	if fd, ok := r.Files[module]; ok {
		return fd, true
	}
	keys := make([]string, 0, len(r.Files))
	for k := range r.Files {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		key := filepath.ToSlash(k)
		if strings.HasSuffix(key, module) || strings.HasSuffix(module, key) {
			return r.Files[k], true
		}
	}
	return FileData{}, false
}

// DeadLines returns the missing lines of module inside [start, end], sorted.
// A module absent from the report has no dead lines.
func (r *Report) DeadLines(module string, start, end int) []int {
	fd, ok := r.File(module)
	if !ok {
		return nil
	}
	return within(fd.MissingLines, start, end)
}

// ExecutedLines returns the executed lines of module inside [start, end], sorted.
func (r *Report) ExecutedLines(module string, start, end int) []int {
	fd, ok := r.File(module)
	if !ok {
		return nil
	}
	return within(fd.ExecutedLines, start, end)
}

func within(lines []int, start, end int) []int {
	seen := make(map[int]bool, len(lines))
	var out []int
	for _, ln := range lines {
		if ln >= start && ln <= end && !seen[ln] {
			seen[ln] = true
			out = append(out, ln)
		}
	}
	sort.Ints(out)
	return out
}

// Baseline records which lines of a unit were executed when it went green.
type Baseline struct {
	Unit          string `json:"unit"`
	ModulePath    string `json:"module_path"`
	ExecutedLines []int  `json:"executed_lines"`
}

// BaselinePath returns <root>/.breakfix/coverage/<unit slug>.json.
func BaselinePath(root, unit string) string {
	return filepath.Join(config.StateDir(root), "coverage", util.Slug(unit)+".json")
}

// SaveBaseline stores the executed lines of the unit's range. A module
// missing from the report is not an error; nothing is written.
func SaveBaseline(root, unit string, r *Report, module string, start, end int) error {
	if _, ok := r.File(module); !ok {
		return nil
	}
	b := Baseline{Unit: unit, ModulePath: module, ExecutedLines: r.ExecutedLines(module, start, end)}
	if b.ExecutedLines == nil {
		b.ExecutedLines = []int{}
	}
	data, err := json.MarshalIndent(b, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal baseline: %w", err)
	}

	path := BaselinePath(root, unit)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create coverage dir: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write baseline: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("rename baseline: %w", err)
	}
	return nil
}

// LoadBaseline reads a unit's baseline. ok is false when none was saved.
func LoadBaseline(root, unit string) (b Baseline, ok bool, err error) {
	data, err := os.ReadFile(BaselinePath(root, unit))
	if os.IsNotExist(err) {
		return Baseline{}, false, nil
	}
	if err != nil {
		return Baseline{}, false, fmt.Errorf("read baseline: %w", err)
	}
	if err := json.Unmarshal(data, &b); err != nil {
		return Baseline{}, false, fmt.Errorf("decode baseline: %w", err)
	}
	return b, true, nil
}

// Feedback renders dead lines for the implementing agent, quoting each line
// from source when it is available.
func Feedback(dead []int, module string, source []byte) string {
	nums := make([]string, len(dead))
	for i, ln := range dead {
		nums[i] = fmt.Sprint(ln)
	}

	var snippets []string
	if source != nil {
		lines := strings.Split(string(source), "\n")
		for _, ln := range dead {
			if ln > 0 && ln <= len(lines) {
				snippets = append(snippets, fmt.Sprintf("  Line %d: %s", ln, strings.TrimRight(lines[ln-1], " \t\r")))
			}
		}
	}
	quoted := "(source unavailable)"
	if len(snippets) > 0 {
		quoted = strings.Join(snippets, "\n")
	}

	var sb strings.Builder
	sb.WriteString("Coverage check failed: some of the code you wrote is never executed by the tests.\n\n")
	fmt.Fprintf(&sb, "Dead lines in %s: %s\n\n%s\n\n", module, strings.Join(nums, ", "), quoted)
	sb.WriteString("Remove the unexercised code or simplify the implementation so every line is needed by a test.\n")
	fmt.Fprintf(&sb, "You may only edit %s. Do not run the tests.", module)
	return sb.String()
}
