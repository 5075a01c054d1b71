// Package suite drives the target project's test suite through the shell
// commands configured under tests.*. Every command runs with the production
// directory as working directory.
package suite

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/Iron-Ham/breakfix/internal/config"
	"github.com/Iron-Ham/breakfix/internal/coverage"
	"github.com/Iron-Ham/breakfix/internal/errors"
	"github.com/Iron-Ham/breakfix/internal/logging"
)

// DefaultTimeout bounds a single suite command.
const DefaultTimeout = 3 * time.Minute

// Outcome is the result of one suite command.
type Outcome struct {
	Passed   bool
	ExitCode int
	Output   string
}

// Inventory is the set of collected test identifiers.
type Inventory struct {
	Tests map[string]bool
	// CollectionError holds the collector output when it reported broken test files.
	CollectionError string
}

// Added returns identifiers present in i but not in before, sorted.
func (i Inventory) Added(before Inventory) []string {
	var added []string
	for id := range i.Tests {
		if !before.Tests[id] {
			added = append(added, id)
		}
	}
	sort.Strings(added)
	return added
}

// Runner runs suite commands.
type Runner struct {
	dir     string
	cfg     config.TestsConfig
	timeout time.Duration
	logger  *logging.Logger
}

// NewRunner creates a Runner for the production directory dir.
func NewRunner(dir string, cfg config.TestsConfig, logger *logging.Logger) *Runner {
	if logger == nil {
		logger = logging.NopLogger()
	}
	return &Runner{dir: dir, cfg: cfg, timeout: DefaultTimeout, logger: logger.With("component", "suite")}
}

// SetTimeout overrides the per-command timeout. Zero disables it.
func (r *Runner) SetTimeout(d time.Duration) { r.timeout = d }

// Dir returns the production directory.
func (r *Runner) Dir() string { return r.dir }

// TestsDir returns the absolute unit test root.
func (r *Runner) TestsDir() string { return filepath.Join(r.dir, r.cfg.Dir) }

// TestFile returns the test file for a dotted unit name, relative to the
// production directory: <tests dir>/<package parts>/<file pattern>.
func (r *Runner) TestFile(unit string) string {
	parts := strings.Split(unit, ".")
	name := parts[len(parts)-1]
	file := strings.ReplaceAll(r.cfg.FilePattern, "{name}", name)
	elems := append([]string{r.cfg.Dir}, parts[:len(parts)-1]...)
	return filepath.ToSlash(filepath.Join(append(elems, file)...))
}

// Inventory collects the current test identifiers. A test identifier is any
// output line containing "::"; a non-zero exit is tolerated.
func (r *Runner) Inventory(ctx context.Context) (Inventory, error) {
	if err := os.MkdirAll(r.TestsDir(), 0o755); err != nil {
		return Inventory{}, fmt.Errorf("create tests dir: %w", err)
	}
	out, err := r.run(ctx, r.cfg.Inventory, nil)
	if err != nil {
		return Inventory{}, err
	}

	inv := Inventory{Tests: map[string]bool{}}
	for _, line := range strings.Split(out.Output, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || !strings.Contains(line, "::") {
			continue
		}
		if strings.HasPrefix(line, "=") || strings.HasPrefix(line, "-") || strings.HasPrefix(line, "no tests") {
			continue
		}
		inv.Tests[line] = true
	}
	if !out.Passed && strings.Contains(out.Output, "ERROR collecting") {
		inv.CollectionError = out.Output
	}
	r.logger.Debug("test inventory", "tests", len(inv.Tests))
	return inv, nil
}

// RunOne runs a single test identifier.
func (r *Runner) RunOne(ctx context.Context, test string) (Outcome, error) {
	return r.run(ctx, r.cfg.RunOne, map[string]string{"{test}": test})
}

// RunAll runs the unit suite.
func (r *Runner) RunAll(ctx context.Context) (Outcome, error) {
	return r.run(ctx, r.cfg.RunAll, nil)
}

// Coverage runs the suite under coverage and parses the report. A stale
// report is removed first so a crashed run cannot be mistaken for a good one.
// The report is nil, with coverage.ErrNoData, when none was produced.
func (r *Runner) Coverage(ctx context.Context) (Outcome, *coverage.Report, error) {
	report := filepath.Join(r.dir, r.cfg.CoverageReport)
	if err := os.Remove(report); err != nil && !os.IsNotExist(err) {
		return Outcome{}, nil, fmt.Errorf("remove stale coverage report: %w", err)
	}
	out, err := r.run(ctx, r.cfg.Coverage, map[string]string{"{report}": report})
	if err != nil {
		return out, nil, err
	}
	rep, err := coverage.ReadFile(report)
	if err != nil {
		return out, nil, err
	}
	return out, rep, nil
}

// run expands placeholders and runs command through sh -c. A command that
// exits non-zero is an Outcome, not an error; only failing to start, or
// the context ending, is an error.
func (r *Runner) run(ctx context.Context, command string, vars map[string]string) (Outcome, error) {
	if strings.TrimSpace(command) == "" {
		return Outcome{}, fmt.Errorf("suite command not configured")
	}
	expanded := strings.ReplaceAll(command, "{tests_dir}", Quote(r.cfg.Dir))
	for k, v := range vars {
		expanded = strings.ReplaceAll(expanded, k, Quote(v))
	}

	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	var buf bytes.Buffer
	cmd := exec.CommandContext(ctx, "sh", "-c", expanded)
	cmd.Dir = r.dir
	cmd.Stdout = &buf
	cmd.Stderr = &buf
	cmd.WaitDelay = time.Second

	start := time.Now()
	err := cmd.Run()
	out := Outcome{Output: buf.String()}
	r.logger.Debug("suite command", "command", expanded, "duration", time.Since(start))

	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		out.ExitCode = -1
		out.Output += fmt.Sprintf("\ncommand timed out after %s", r.timeout)
		return out, nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return out, ctxErr
	}
	if err != nil {
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			return out, fmt.Errorf("run %q: %w", expanded, err)
		}
		out.ExitCode = exitErr.ExitCode()
		return out, nil
	}
	out.Passed = true
	return out, nil
}

// Quote single-quotes s for sh.
func Quote(s string) string {
	if s != "" && strings.IndexFunc(s, func(c rune) bool {
		return !(c == '/' || c == '.' || c == '_' || c == '-' || c == ':' ||
			(c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9'))
	}) < 0 {
		return s
	}
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
