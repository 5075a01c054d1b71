package agent

import (
	"context"
	"fmt"
	"strings"

	"github.com/Iron-Ham/breakfix/internal/flow"
	"github.com/Iron-Ham/breakfix/internal/retry"
)

const refactorerSystem = `You restructure working code to follow a functional core / imperative shell layout.
Behaviour must not change. Do not create or edit tests.`

// Refactorer alternates architecture review and agent fixes, guarding every
// fix with the end-to-end harness.
type Refactorer struct {
	agents Opener
	opts   Options
}

// NewRefactorer creates a Refactorer.
func NewRefactorer(agents Opener, opts Options) *Refactorer {
	return &Refactorer{agents: agents, opts: opts}
}

// Refactor implements flow.Refactorer. Each attempt starts with a review;
// a clean review ends the loop. Otherwise the agent fixes the violations and
// the harness must still pass; one follow-up is allowed to repair a
// regression before the attempt is rejected.
func (r *Refactorer) Refactor(ctx context.Context, req flow.RefactorRequest, e2e flow.E2ERunner, reviewer flow.ArchitectureReviewer) (flow.LoopResult, error) {
	conv := r.agents.Open(SessionOptions{Name: "refactorer", Dir: req.Dir, SystemPrompt: refactorerSystem})

	var clean flow.ReviewResult
	summary, err := r.opts.Loop("project.refine", req.MaxAttempts).Run(ctx,
		func(ctx context.Context, a retry.Attempt) (retry.Verdict, error) {
			review, err := reviewer.ReviewArchitecture(ctx, req.Dir)
			if err != nil {
				return retry.Verdict{}, fmt.Errorf("architecture review: %w", err)
			}
			if review.IsClean {
				clean = review
				return retry.Accept(), nil
			}
			if a.Last() {
				return retry.Reject("remaining violations: %s", review.Summary), nil
			}

			if _, err := conv.Send(ctx, refactorPrompt(review)); err != nil {
				return retry.Verdict{}, err
			}
			res, err := e2e.RunE2E(ctx, req.HarnessDir)
			if err != nil {
				return retry.Verdict{}, fmt.Errorf("e2e: %w", err)
			}
			if !res.Success {
				if _, err := conv.Send(ctx, regressionPrompt(res.Detail())); err != nil {
					return retry.Verdict{}, err
				}
				if res, err = e2e.RunE2E(ctx, req.HarnessDir); err != nil {
					return retry.Verdict{}, fmt.Errorf("e2e: %w", err)
				}
				if !res.Success {
					return retry.Reject("end-to-end tests fail after refactoring: %s", res.Detail()), nil
				}
			}
			return retry.Reject("violations addressed, review pending: %s", review.Summary), nil
		})

	failure, err := Failure(ctx, summary, err)
	if err != nil {
		return flow.LoopResult{}, err
	}
	if failure != "" {
		return flow.LoopResult{Iterations: summary.Attempts, Error: failure}, nil
	}
	return flow.LoopResult{Success: true, Iterations: summary.Attempts, Summary: clean.Summary}, nil
}

func refactorPrompt(review flow.ReviewResult) string {
	var sb strings.Builder
	sb.WriteString("Refactor this code to follow the functional core / imperative shell pattern.\n\n")
	fmt.Fprintf(&sb, "## Review summary\n%s\n\n## Violations\n", review.Summary)
	for _, v := range review.Violations {
		fmt.Fprintf(&sb, "- %s\n", v)
	}
	sb.WriteString("\n## Rules\n")
	sb.WriteString("- core modules hold pure functions: no I/O, no globals, errors returned as values\n")
	sb.WriteString("- shell modules do all I/O and call into the core\n")
	sb.WriteString("- the command-line interface must keep working exactly as before\n")
	return sb.String()
}

func regressionPrompt(failure string) string {
	return fmt.Sprintf("The end-to-end tests failed after refactoring:\n\n```\n%s\n```\n\n"+
		"Fix the implementation while keeping the new structure.", failure)
}
