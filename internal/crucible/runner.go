package crucible

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/Iron-Ham/breakfix/internal/config"
	"github.com/Iron-Ham/breakfix/internal/errors"
	"github.com/Iron-Ham/breakfix/internal/flow"
	"github.com/Iron-Ham/breakfix/internal/logging"
	"github.com/Iron-Ham/breakfix/internal/suite"
	"github.com/Iron-Ham/breakfix/internal/util"
)

// Runner runs the configured mutation command against a unit.
type Runner struct {
	dir    string
	cfg    config.MutationConfig
	logger *logging.Logger
}

// NewRunner creates a Runner for the production directory dir.
func NewRunner(dir string, cfg config.MutationConfig, logger *logging.Logger) *Runner {
	if logger == nil {
		logger = logging.NopLogger()
	}
	return &Runner{dir: dir, cfg: cfg, logger: logger}
}

// Mutate implements flow.MutationRunner. The unit's range is looked up again
// in the current module, since green and the sentinel may have moved it;
// the recorded range is used when the unit cannot be found.
func (r *Runner) Mutate(ctx context.Context, unit flow.UnitWorkItem) (flow.MutationResult, error) {
	source, err := os.ReadFile(filepath.Join(r.dir, filepath.FromSlash(unit.ModulePath)))
	if err != nil {
		return flow.MutationResult{Error: fmt.Sprintf("read %s: %v", unit.ModulePath, err)}, nil
	}
	start, end, ok := Locate(string(source), unit.ShortName())
	if !ok {
		r.logger.Warn("unit not found in module, using recorded range",
			"unit", unit.Name, "module", unit.ModulePath)
		start, end = unit.LineNumber, unit.EndLineNumber
	}

	stdout, failure, err := r.run(ctx, unit.ModulePath, start, end)
	if err != nil {
		return flow.MutationResult{}, err
	}
	if failure != "" {
		return flow.MutationResult{Error: failure}, nil
	}

	a := ParseDump(stdout, start, end)
	if a.Skipped > 0 {
		r.logger.Warn("undecodable mutation dump lines", "unit", unit.Name, "lines", a.Skipped)
	}
	if a.Total == 0 {
		r.logger.Warn("no mutants in unit range", "unit", unit.Name, "start", start, "end", end)
	}
	r.logger.Debug("mutation analysis",
		"unit", unit.Name,
		"total", a.Total,
		"killed", a.Killed,
		"surviving", len(a.Surviving),
	)
	return flow.MutationResult{
		Success:          true,
		Score:            a.Score(),
		TotalMutants:     a.Total,
		KilledMutants:    a.Killed,
		SurvivingMutants: a.Surviving,
	}, nil
}

// run returns the command's stdout, or a failure message when the command
// timed out or exited non-zero. Only cancellation and a command that cannot
// start are errors.
func (r *Runner) run(ctx context.Context, module string, start, end int) (string, string, error) {
	if strings.TrimSpace(r.cfg.Command) == "" {
		return "", "", fmt.Errorf("%w: mutation command not configured", errors.ErrInvalidInput)
	}
	expanded := strings.NewReplacer(
		"{module}", suite.Quote(module),
		"{start}", strconv.Itoa(start),
		"{end}", strconv.Itoa(end),
	).Replace(r.cfg.Command)

	parent := ctx
	if timeout := r.cfg.Timeout(); timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, "sh", "-c", expanded)
	cmd.Dir = r.dir
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	cmd.WaitDelay = time.Second

	began := time.Now()
	err := cmd.Run()
	r.logger.Info("mutation command finished", "command", expanded, "duration", time.Since(began))

	if perr := parent.Err(); perr != nil {
		return "", "", perr
	}
	if ctx.Err() != nil {
		return "", fmt.Sprintf("Mutation testing timed out after %s", r.cfg.Timeout()), nil
	}
	if err != nil {
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			return "", "", fmt.Errorf("run %q: %w", expanded, err)
		}
		return "", fmt.Sprintf("mutation command failed with exit code %d: %s",
			exitErr.ExitCode(), util.ClipOutput(strings.TrimSpace(stderr.String()), 2000)), nil
	}
	return stdout.String(), "", nil
}
