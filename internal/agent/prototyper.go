package agent

import (
	"context"
	"fmt"
	"strings"

	"github.com/Iron-Ham/breakfix/internal/flow"
	"github.com/Iron-Ham/breakfix/internal/retry"
)

const prototyperSystem = `You are implementing a working prototype from a specification.
Only write implementation code. Do not create or edit tests.`

// Prototyper drives one agent conversation until the end-to-end harness passes.
type Prototyper struct {
	agents Opener
	opts   Options
}

// NewPrototyper creates a Prototyper.
func NewPrototyper(agents Opener, opts Options) *Prototyper {
	return &Prototyper{agents: agents, opts: opts}
}

// Prototype implements flow.Prototyper. Each iteration sends a prompt, the
// initial one or the previous harness failure, then runs the harness.
func (p *Prototyper) Prototype(ctx context.Context, req flow.PrototypeRequest, e2e flow.E2ERunner) (flow.LoopResult, error) {
	conv := p.agents.Open(SessionOptions{Name: "prototyper", Dir: req.Dir, SystemPrompt: prototyperSystem})
	initial := prototypePrompt(req)

	summary, err := p.opts.Loop("project.prototype", req.MaxIterations).Run(ctx,
		func(ctx context.Context, a retry.Attempt) (retry.Verdict, error) {
			prompt := initial
			if !a.First() {
				prompt = fixPrompt(a.Feedback)
			}
			if _, err := conv.Send(ctx, prompt); err != nil {
				return retry.Verdict{}, err
			}
			res, err := e2e.RunE2E(ctx, req.HarnessDir)
			if err != nil {
				return retry.Verdict{}, fmt.Errorf("e2e: %w", err)
			}
			if !res.Success {
				return retry.Reject("%s", res.Detail()), nil
			}
			return retry.Accept(), nil
		})

	failure, err := Failure(ctx, summary, err)
	if err != nil {
		return flow.LoopResult{}, err
	}
	if failure != "" {
		return flow.LoopResult{Iterations: summary.Attempts, Error: failure}, nil
	}
	p.opts.Log().Info("prototype accepted", "iterations", summary.Attempts)
	return flow.LoopResult{Success: true, Iterations: summary.Attempts}, nil
}

func prototypePrompt(req flow.PrototypeRequest) string {
	var sb strings.Builder
	sb.WriteString("Implement a program based on the following specification.\n\n")
	fmt.Fprintf(&sb, "## Specification\n%s\n\n", req.Spec)

	sb.WriteString("## Expected behaviours\n")
	for i, f := range req.Fixtures {
		if i == 3 {
			break
		}
		fmt.Fprintf(&sb, "- %s: input %v, expected %v\n", f.Name, f.InputData, f.ExpectedOutput)
	}

	if req.InterfaceDescription != "" {
		fmt.Fprintf(&sb, "\n## Program interface (must match exactly)\n%s\n", req.InterfaceDescription)
	}

	sb.WriteString("\n## Requirements\n")
	fmt.Fprintf(&sb, "1. Read the existing project layout first; the package is %s.\n", req.Project.PackageName)
	sb.WriteString("2. Keep the existing command-line entry point.\n")
	sb.WriteString("3. Do not create any test files, only implementation code.\n")
	sb.WriteString("4. Record any new dependency in the project's packaging metadata.\n")
	return sb.String()
}

func fixPrompt(failure string) string {
	return fmt.Sprintf("The program has issues. Here is the output from running it:\n\n```\n%s\n```\n\n"+
		"Fix the implementation to resolve these issues. Do not create tests.", failure)
}
