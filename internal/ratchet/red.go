package ratchet

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/Iron-Ham/breakfix/internal/agent"
	"github.com/Iron-Ham/breakfix/internal/errors"
	"github.com/Iron-Ham/breakfix/internal/flow"
	"github.com/Iron-Ham/breakfix/internal/retry"
	"github.com/Iron-Ham/breakfix/internal/workspace"
)

const testerSystem = `You write exactly ONE failing test for a unit.

Rules:
1. Write exactly one test function, no more and no less.
2. The test must fail against the current, stubbed implementation.
3. Only create or edit files under the tests directory.
4. Follow existing test patterns in the project.
5. Never read the implementation source of the unit.
6. Do not run any commands or tests.

After writing the test, say "Test written" and stop.`

// Red writes one failing test per test case.
type Red struct {
	agents   agent.Opener
	dir      string
	testsDir string
	suite    Suite
	reviewer Reviewer
	arbiter  Arbiter
	exclude  *workspace.Matcher
	attempts int
	opts     agent.Options
}

// RedConfig holds the collaborators of a Red phase.
type RedConfig struct {
	Agents   agent.Opener
	Dir      string
	TestsDir string
	Suite    Suite
	Reviewer Reviewer
	Arbiter  Arbiter
	Exclude  *workspace.Matcher
	Attempts int
}

// NewRed creates a Red phase working in the production directory.
func NewRed(cfg RedConfig, opts agent.Options) *Red {
	return &Red{
		agents:   cfg.Agents,
		dir:      cfg.Dir,
		testsDir: filepath.ToSlash(filepath.Clean(cfg.TestsDir)),
		suite:    cfg.Suite,
		reviewer: cfg.Reviewer,
		arbiter:  cfg.Arbiter,
		exclude:  cfg.Exclude,
		attempts: cfg.Attempts,
		opts:     opts,
	}
}

// Red implements flow.RatchetRed.
//
// A test that already passes is rejected once. When it passes again on a
// later attempt the arbiter decides: a kept test is recorded and green is
// skipped; a discarded test is rewound and green is skipped as well.
func (r *Red) Red(ctx context.Context, unit flow.UnitWorkItem, tc flow.TestCase) (flow.RedResult, error) {
	logger := r.opts.Log().WithUnit(unit.Name)
	testFile := r.suite.TestFile(unit.Name)
	conv := r.agents.Open(agent.SessionOptions{Name: "tester", Dir: r.dir, SystemPrompt: testerSystem})
	base := redPrompt(unit, tc, testFile)

	var result flow.RedResult
	summary, err := r.opts.Loop("unit.red", r.attempts).Run(ctx,
		func(ctx context.Context, a retry.Attempt) (retry.Verdict, error) {
			before, err := r.suite.Inventory(ctx)
			if err != nil {
				return retry.Verdict{}, err
			}
			snap, err := workspace.Take(r.dir, r.exclude)
			if err != nil {
				return retry.Verdict{}, err
			}
			rewind := func(format string, args ...any) (retry.Verdict, error) {
				if _, err := snap.Restore(); err != nil {
					return retry.Verdict{}, err
				}
				return retry.Reject(format, args...), nil
			}

			prompt := base
			if a.Feedback != "" {
				prompt = base + "\n\n" + a.Feedback
			}
			if _, err := conv.Send(ctx, prompt); err != nil {
				if ctx.Err() != nil || !errors.Is(err, errors.ErrCollaborator) {
					return retry.Verdict{}, err
				}
				return rewind("PREVIOUS ATTEMPT ERROR: %v\nPlease try again.", err)
			}

			if _, err := os.Stat(filepath.Join(r.dir, filepath.FromSlash(testFile))); err != nil {
				return rewind("PREVIOUS ATTEMPT FAILED: Test file was not created at expected path: %s\n"+
					"Make sure to create the file at the EXACT path specified.", testFile)
			}
			changes, err := snap.Changes()
			if err != nil {
				return retry.Verdict{}, err
			}
			for _, p := range changes.All() {
				if !strings.HasPrefix(p, r.testsDir+"/") {
					return rewind("PREVIOUS ATTEMPT FAILED: only files under %s may be edited, %s was changed.", r.testsDir, p)
				}
			}

			after, err := r.suite.Inventory(ctx)
			if err != nil {
				return retry.Verdict{}, err
			}
			if after.CollectionError != "" {
				return rewind("PREVIOUS ATTEMPT FAILED: the tests could not be collected:\n%s", after.CollectionError)
			}
			added := after.Added(before)
			if len(added) != 1 {
				msg := fmt.Sprintf("Expected exactly 1 new test, got %d", len(added))
				if len(added) > 0 {
					msg += ": " + strings.Join(added, ", ")
				}
				return rewind("PREVIOUS ATTEMPT FAILED: %s\nPlease write exactly ONE test function. Not zero, not two. Exactly one.", msg)
			}
			testID := added[0]
			logger.Info("new test collected", "test", testID, "attempt", a.Number)

			source, err := os.ReadFile(filepath.Join(r.dir, filepath.FromSlash(testFile)))
			if err != nil {
				return retry.Verdict{}, fmt.Errorf("read test file: %w", err)
			}
			review, err := r.reviewer.ReviewTest(ctx, TestReview{
				Unit:      unit.Name,
				Signature: Signature(unit.Code),
				Spec:      tc.Description,
				TestID:    testID,
				Source:    string(source),
			})
			if err != nil {
				if ctx.Err() != nil || !errors.Is(err, errors.ErrCollaborator) {
					return retry.Verdict{}, err
				}
				return rewind("PREVIOUS ATTEMPT ERROR: %v\nPlease try again.", err)
			}
			if !review.Valid {
				logger.Warn("test rejected by review", "test", testID, "reason", review.Reason)
				return rewind("PREVIOUS TEST REJECTED: %s\nPlease fix the test to correctly implement the specification.", review.Reason)
			}

			out, err := r.suite.RunOne(ctx, testID)
			if err != nil {
				return retry.Verdict{}, err
			}
			if !out.Passed {
				result = flow.RedResult{Success: true, TestFilePath: testID, FailureOutput: out.Output}
				return retry.Accept(), nil
			}

			if a.First() {
				return rewind("PREVIOUS ATTEMPT FAILED: The test passed but it should FAIL. " +
					"Ensure the test correctly verifies the expected behavior from the specification.")
			}

			decision, err := r.arbiter.Arbitrate(ctx, Arbitration{
				Spec:         tc.Description,
				TestID:       testID,
				TestFunction: tc.TestFunctionName,
				Source:       string(source),
			})
			if err != nil {
				if ctx.Err() != nil || !errors.Is(err, errors.ErrCollaborator) {
					return retry.Verdict{}, err
				}
				return rewind("PREVIOUS ATTEMPT ERROR: %v\nPlease try again.", err)
			}
			logger.Info("passing test arbitrated",
				"test", testID,
				"keep", decision.Keep,
				"confidence", decision.Confidence,
				"communication", decision.Communication,
				"reasoning", decision.Reasoning,
			)
			if decision.Keep {
				result = flow.RedResult{Success: true, TestFilePath: testID, SkippedGreen: true}
				return retry.Accept(), nil
			}
			if _, err := snap.Restore(); err != nil {
				return retry.Verdict{}, err
			}
			result = flow.RedResult{Success: true, SkippedGreen: true}
			return retry.Accept(), nil
		})

	failure, err := agent.Failure(ctx, summary, err)
	if err != nil {
		return flow.RedResult{}, err
	}
	if failure != "" {
		return flow.RedResult{Retries: summary.Attempts, Error: failure}, nil
	}
	result.Retries = summary.Retries()
	return result, nil
}

func redPrompt(unit flow.UnitWorkItem, tc flow.TestCase, testFile string) string {
	return fmt.Sprintf("Write exactly ONE failing test for this unit.\n\n"+
		"## Unit\nName: %s\nModule: %s\n\n"+
		"## Description\n%s\n\n"+
		"## Signature\n```python\n%s\n```\n\n"+
		"## Test case\n%s\n\n"+
		"## Required location\n"+
		"Create the test in this exact file: %s\n"+
		"Name the test function exactly: %s\n\n"+
		"## Instructions\n"+
		"1. Create missing directories and the file if needed.\n"+
		"2. Write exactly one test function with the name above.\n"+
		"3. Import and call the unit under test.\n\n"+
		"Do not run the tests. They are run for you and the output is sent back.",
		unit.Name, unit.ModulePath, unit.Description, Signature(unit.Code), tc.Description, testFile, tc.TestFunctionName)
}
