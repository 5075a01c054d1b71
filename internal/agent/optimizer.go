package agent

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/Iron-Ham/breakfix/internal/flow"
	"github.com/Iron-Ham/breakfix/internal/retry"
	"github.com/Iron-Ham/breakfix/internal/suite"
	"github.com/Iron-Ham/breakfix/internal/workspace"
)

const optimizerSystem = `You improve the readability of one verified function or class.
Behaviour must not change and every existing test must keep passing.
Only edit the unit you are given. Do not edit tests.`

// SuiteRunner runs the whole unit suite.
type SuiteRunner interface {
	RunAll(ctx context.Context) (suite.Outcome, error)
}

// Optimizer asks the agent for a behaviour-preserving cleanup of a verified
// unit. Any attempt that breaks the suite or touches tests is rewound.
type Optimizer struct {
	agents   Opener
	dir      string
	testsDir string
	suite    SuiteRunner
	exclude  *workspace.Matcher
	attempts int
	opts     Options
}

// NewOptimizer creates an Optimizer working in the production directory dir.
// testsDir is relative to dir.
func NewOptimizer(agents Opener, dir, testsDir string, runner SuiteRunner, exclude *workspace.Matcher, attempts int, opts Options) *Optimizer {
	return &Optimizer{
		agents:   agents,
		dir:      dir,
		testsDir: filepath.ToSlash(filepath.Clean(testsDir)),
		suite:    runner,
		exclude:  exclude,
		attempts: attempts,
		opts:     opts,
	}
}

// Optimize implements flow.Optimizer.
func (o *Optimizer) Optimize(ctx context.Context, unit flow.UnitWorkItem) (flow.OptimizeResult, error) {
	module := filepath.Join(o.dir, filepath.FromSlash(unit.ModulePath))
	before, err := os.ReadFile(module)
	if err != nil {
		return flow.OptimizeResult{}, fmt.Errorf("read unit module: %w", err)
	}
	snap, err := workspace.Take(o.dir, o.exclude)
	if err != nil {
		return flow.OptimizeResult{}, err
	}

	conv := o.agents.Open(SessionOptions{Name: "optimizer", Dir: o.dir, SystemPrompt: optimizerSystem})
	base := optimizePrompt(unit)

	summary, err := o.opts.Loop("unit.optimize", o.attempts).Run(ctx,
		func(ctx context.Context, a retry.Attempt) (retry.Verdict, error) {
			if _, err := conv.Send(ctx, retry.WithFeedback(base, a)); err != nil {
				return retry.Verdict{}, err
			}

			changes, err := snap.Changes()
			if err != nil {
				return retry.Verdict{}, err
			}
			for _, p := range changes.All() {
				if strings.HasPrefix(p, o.testsDir+"/") {
					if _, err := snap.Restore(); err != nil {
						return retry.Verdict{}, err
					}
					return retry.Reject("tests must not be edited, %s was changed; all edits were undone", p), nil
				}
			}

			out, err := o.suite.RunAll(ctx)
			if err != nil {
				return retry.Verdict{}, err
			}
			if !out.Passed {
				if _, err := snap.Restore(); err != nil {
					return retry.Verdict{}, err
				}
				return retry.Reject("the suite failed, all edits were undone:\n%s", out.Output), nil
			}
			return retry.Accept(), nil
		})

	failure, err := Failure(ctx, summary, err)
	if err != nil {
		return flow.OptimizeResult{}, err
	}
	if failure != "" {
		if _, rerr := snap.Restore(); rerr != nil {
			return flow.OptimizeResult{}, rerr
		}
		return flow.OptimizeResult{Retries: summary.Retries(), Error: failure}, nil
	}

	after, err := os.ReadFile(module)
	if err != nil {
		return flow.OptimizeResult{}, fmt.Errorf("read unit module: %w", err)
	}
	code, _ := EditedSource(before, after, unit.LineNumber, unit.EndLineNumber)
	return flow.OptimizeResult{
		Success: true,
		Code:    code,
		Retries: summary.Retries(),
	}, nil
}

// EditedSource returns a unit's code and end line after its module was
// edited. Lines added to or removed from the module are assumed to fall
// inside the unit.
func EditedSource(before, after []byte, start, end int) (string, int) {
	end += lineCount(after) - lineCount(before)
	return unitSource(after, start, end), end
}

func lineCount(b []byte) int {
	return len(strings.Split(string(b), "\n"))
}

// unitSource returns lines [start, end] of src, clamped to the file.
func unitSource(src []byte, start, end int) string {
	lines := strings.Split(string(src), "\n")
	if start < 1 {
		start = 1
	}
	if end > len(lines) {
		end = len(lines)
	}
	if start > end {
		return ""
	}
	return strings.Join(lines[start-1:end], "\n")
}

func optimizePrompt(unit flow.UnitWorkItem) string {
	return fmt.Sprintf(`Improve the code quality of this unit without changing its behaviour.

## Unit
Name: %s
File: %s (lines %d-%d)

## Description
%s

## Rules
- Only edit %s, and only this unit.
- Keep the signature unchanged.
- Do not edit or read tests, and do not run them; the suite is run for you.
- If the unit is already clear, leave it as it is.`,
		unit.Name, unit.ModulePath, unit.LineNumber, unit.EndLineNumber, unit.Description, unit.ModulePath)
}
