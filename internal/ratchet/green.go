package ratchet

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/Iron-Ham/breakfix/internal/agent"
	"github.com/Iron-Ham/breakfix/internal/coverage"
	"github.com/Iron-Ham/breakfix/internal/errors"
	"github.com/Iron-Ham/breakfix/internal/flow"
	"github.com/Iron-Ham/breakfix/internal/retry"
	"github.com/Iron-Ham/breakfix/internal/util"
	"github.com/Iron-Ham/breakfix/internal/workspace"
)

const developerSystem = `You implement the MINIMAL code that makes a failing test pass.

Rules:
1. Implement only what the test needs, nothing more.
2. Replace the NotImplementedError stub with working code.
3. Do not anticipate future requirements.
4. Never read or edit test files.

You may read other source files for imports and types.
After implementing, say "Implementation complete" and stop.`

// outputClip bounds suite output quoted in a failure result.
const outputClip = 500

// Green drives an agent to the smallest passing implementation. It is only
// accepted once the whole suite passes and every line of the unit runs.
type Green struct {
	agents   agent.Opener
	root     string
	dir      string
	testsDir string
	suite    Suite
	exclude  *workspace.Matcher
	attempts int
	opts     agent.Options
}

// GreenConfig holds the collaborators of a Green phase. Root is the project
// root, where coverage baselines are stored.
type GreenConfig struct {
	Agents   agent.Opener
	Root     string
	Dir      string
	TestsDir string
	Suite    Suite
	Exclude  *workspace.Matcher
	Attempts int
}

// NewGreen creates a Green phase working in the production directory.
func NewGreen(cfg GreenConfig, opts agent.Options) *Green {
	return &Green{
		agents:   cfg.Agents,
		root:     cfg.Root,
		dir:      cfg.Dir,
		testsDir: filepath.ToSlash(filepath.Clean(cfg.TestsDir)),
		suite:    cfg.Suite,
		exclude:  cfg.Exclude,
		attempts: cfg.Attempts,
		opts:     opts,
	}
}

// Green implements flow.RatchetGreen. When the budget is spent every edit
// made during the phase is undone.
func (g *Green) Green(ctx context.Context, unit flow.UnitWorkItem, tc flow.TestCase, failureOutput string) (flow.GreenResult, error) {
	logger := g.opts.Log().WithUnit(unit.Name)
	module := filepath.Join(g.dir, filepath.FromSlash(unit.ModulePath))
	before, err := os.ReadFile(module)
	if err != nil {
		return flow.GreenResult{}, fmt.Errorf("read unit module: %w", err)
	}
	snap, err := workspace.Take(g.dir, g.exclude)
	if err != nil {
		return flow.GreenResult{}, err
	}
	conv := g.agents.Open(agent.SessionOptions{Name: "developer", Dir: g.dir, SystemPrompt: developerSystem})

	var (
		dead       []int
		lastOutput string
		noCoverage string
	)
	summary, err := g.opts.Loop("unit.green", g.attempts).Run(ctx,
		func(ctx context.Context, a retry.Attempt) (retry.Verdict, error) {
			prompt := greenPrompt(unit, tc, failureOutput)
			if !a.First() {
				prompt = a.Feedback
			}
			if _, err := conv.Send(ctx, prompt); err != nil {
				return retry.Verdict{}, err
			}

			changes, err := snap.Changes()
			if err != nil {
				return retry.Verdict{}, err
			}
			for _, p := range changes.All() {
				if strings.HasPrefix(p, g.testsDir+"/") {
					if _, err := snap.Restore(); err != nil {
						return retry.Verdict{}, err
					}
					dead = nil
					return retry.Reject("Tests must not be edited, %s was changed and all edits were undone.\n"+
						"You may only edit %s.", p, unit.ModulePath), nil
				}
			}

			out, err := g.suite.RunAll(ctx)
			if err != nil {
				return retry.Verdict{}, err
			}
			if !out.Passed {
				dead, lastOutput = nil, out.Output
				return retry.Reject("%s", testsFailedPrompt(out.Output, unit.ModulePath)), nil
			}

			covOut, report, err := g.suite.Coverage(ctx)
			if errors.Is(err, coverage.ErrNoData) {
				noCoverage = util.TruncateString(covOut.Output, outputClip)
				return retry.Verdict{}, err
			}
			if err != nil {
				return retry.Verdict{}, err
			}

			dead = report.DeadLines(unit.ModulePath, unit.LineNumber, unit.EndLineNumber)
			if len(dead) > 0 {
				logger.Warn("dead code detected", "lines", dead, "attempt", a.Number)
				source, _ := os.ReadFile(module)
				return retry.Reject("%s", coverage.Feedback(dead, unit.ModulePath, source)), nil
			}

			if err := coverage.SaveBaseline(g.root, unit.Name, report, unit.ModulePath, unit.LineNumber, unit.EndLineNumber); err != nil {
				return retry.Verdict{}, err
			}
			return retry.Accept(), nil
		})

	if errors.Is(err, coverage.ErrNoData) {
		logger.Error("coverage data missing", "output", noCoverage)
		return flow.GreenResult{
			Retries: summary.Retries(),
			Error:   "Coverage data could not be collected. Output:\n" + noCoverage,
		}, nil
	}
	exhausted := errors.Is(err, errors.ErrRetriesExhausted)
	failure, err := agent.Failure(ctx, summary, err)
	if err != nil {
		return flow.GreenResult{}, err
	}
	if failure == "" {
		after, err := os.ReadFile(module)
		if err != nil {
			return flow.GreenResult{}, fmt.Errorf("read unit module: %w", err)
		}
		code, end := agent.EditedSource(before, after, unit.LineNumber, unit.EndLineNumber)
		logger.Info("implementation accepted", "attempts", summary.Attempts, "end_line", end)
		return flow.GreenResult{Success: true, Retries: summary.Retries(), Code: code, EndLine: end}, nil
	}

	if _, rerr := snap.Restore(); rerr != nil {
		return flow.GreenResult{}, rerr
	}
	switch {
	case exhausted && len(dead) > 0:
		failure = fmt.Sprintf("Dead code on lines %v after %d attempts", dead, summary.Attempts)
	case exhausted && lastOutput != "":
		failure = fmt.Sprintf("Tests still failing after %d attempts. Last output:\n%s",
			summary.Attempts, util.TruncateString(lastOutput, outputClip))
	}
	return flow.GreenResult{Retries: summary.Attempts, Error: failure}, nil
}

func greenPrompt(unit flow.UnitWorkItem, tc flow.TestCase, failureOutput string) string {
	return fmt.Sprintf("Implement the MINIMAL code to make the failing test pass.\n\n"+
		"## Unit\nName: %s\nFile: %s\n\n"+
		"## Description\n%s\n\n"+
		"## Test case\n%s\n\n"+
		"## Current failure\n```\n%s\n```\n\n"+
		"## Instructions\n"+
		"1. Read %s to find the stubbed unit.\n"+
		"2. Replace the NotImplementedError with working code.\n"+
		"3. Implement only what the test needs.\n\n"+
		"You may only edit %s. Do not read test files and do not run the tests.",
		unit.Name, unit.ModulePath, unit.Description, tc.Description, failureOutput, unit.ModulePath, unit.ModulePath)
}

func testsFailedPrompt(output, module string) string {
	return fmt.Sprintf("Tests failed. Please fix the implementation.\n\n"+
		"## Test output\n```\n%s\n```\n\n"+
		"Read the error carefully and fix the code so every test passes.\n"+
		"Remember: you may only edit %s.", output, module)
}
