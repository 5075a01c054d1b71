package collab

import (
	"context"

	"github.com/Iron-Ham/breakfix/internal/flow"
	"github.com/Iron-Ham/breakfix/internal/ratchet"
)

// dirRequest is the request of collaborators that only need a directory.
type dirRequest struct {
	Dir string `json:"dir"`
}

// Analyst implements flow.Analyst.
type Analyst struct{ *Command }

func (a Analyst) Analyze(ctx context.Context, req flow.AnalystRequest) (flow.AnalystResult, error) {
	var res flow.AnalystResult
	err := a.Call(ctx, req, &res)
	return res, err
}

// HarnessBuilder implements flow.HarnessBuilder.
type HarnessBuilder struct{ *Command }

func (h HarnessBuilder) BuildHarness(ctx context.Context, req flow.HarnessRequest) (flow.StepResult, error) {
	var res flow.StepResult
	err := h.Call(ctx, req, &res)
	return res, err
}

// HarnessVerifier implements flow.HarnessVerifier.
type HarnessVerifier struct{ *Command }

func (h HarnessVerifier) VerifyHarness(ctx context.Context, dir string) (flow.StepResult, error) {
	var res flow.StepResult
	err := h.Call(ctx, dirRequest{Dir: dir}, &res)
	return res, err
}

// InterfaceAnalyzer implements flow.InterfaceAnalyzer.
type InterfaceAnalyzer struct{ *Command }

func (i InterfaceAnalyzer) AnalyzeInterface(ctx context.Context, dir string) (flow.InterfaceDescription, error) {
	var res flow.InterfaceDescription
	err := i.Call(ctx, dirRequest{Dir: dir}, &res)
	return res, err
}

// Scaffolder implements flow.Scaffolder.
type Scaffolder struct{ *Command }

func (s Scaffolder) Scaffold(ctx context.Context, req flow.ScaffoldRequest) (flow.StepResult, error) {
	var res flow.StepResult
	err := s.Call(ctx, req, &res)
	return res, err
}

// E2E implements flow.E2ERunner.
type E2E struct{ *Command }

func (e E2E) RunE2E(ctx context.Context, dir string) (flow.StepResult, error) {
	var res flow.StepResult
	err := e.Call(ctx, dirRequest{Dir: dir}, &res)
	return res, err
}

// ArchitectureReviewer implements flow.ArchitectureReviewer.
type ArchitectureReviewer struct{ *Command }

func (a ArchitectureReviewer) ReviewArchitecture(ctx context.Context, dir string) (flow.ReviewResult, error) {
	var res flow.ReviewResult
	err := a.Call(ctx, dirRequest{Dir: dir}, &res)
	return res, err
}

// Distiller implements flow.Distiller.
type Distiller struct{ *Command }

func (d Distiller) Distill(ctx context.Context, dir, packageName string) (flow.DistillResult, error) {
	req := struct {
		Dir         string `json:"dir"`
		PackageName string `json:"package_name"`
	}{dir, packageName}
	var res flow.DistillResult
	err := d.Call(ctx, req, &res)
	return res, err
}

// Stubber implements flow.Stubber.
type Stubber struct{ *Command }

func (s Stubber) Stub(ctx context.Context, dir string, units []flow.UnitWorkItem) (flow.StubResult, error) {
	req := struct {
		Dir   string              `json:"dir"`
		Units []flow.UnitWorkItem `json:"units"`
	}{dir, units}
	var res flow.StubResult
	err := s.Call(ctx, req, &res)
	return res, err
}

// Oracle implements flow.Oracle.
type Oracle struct{ *Command }

func (o Oracle) Describe(ctx context.Context, unit flow.UnitWorkItem) (flow.OracleResult, error) {
	var res flow.OracleResult
	err := o.Call(ctx, unit, &res)
	return res, err
}

// Validator implements ratchet.Reviewer.
type Validator struct{ *Command }

func (v Validator) ReviewTest(ctx context.Context, req ratchet.TestReview) (ratchet.Review, error) {
	var res ratchet.Review
	err := v.Call(ctx, req, &res)
	return res, err
}

// Arbiter implements ratchet.Arbiter.
type Arbiter struct{ *Command }

func (a Arbiter) Arbitrate(ctx context.Context, req ratchet.Arbitration) (ratchet.Decision, error) {
	var res ratchet.Decision
	err := a.Call(ctx, req, &res)
	return res, err
}
