package flow

import (
	"context"
	"strings"
	"testing"

	"github.com/Iron-Ham/breakfix/internal/config"
)

// fakes implements every capability with scripted, deterministic answers.
type fakes struct {
	calls map[string]int

	answers         []string
	analyses        []AnalystResult
	analystRequests []AnalystRequest
	harnessBuilds   []StepResult
	harnessRequests []HarnessRequest
	harnessVerify   StepResult
	scaffold        StepResult
	prototype       LoopResult
	refactor        LoopResult
	units           []UnitWorkItem
	stubbedFiles    []string
	cases           []TestCase
	red             func(n int, u UnitWorkItem, tc TestCase) (RedResult, error)
	green           func(n int, u UnitWorkItem, tc TestCase, failure string) (GreenResult, error)
	greenFailures   []string
	mutations       []MutationResult
	guard           func(n int, m Mutant, feedback string) SentinelResult
	guardFeedback   []string
	verify          func(n int, id string) VerifyResult
	optimize        OptimizeResult
	optimizedUnits  []string
}

func newFakes() *fakes {
	return &fakes{
		calls: map[string]int{},
		analyses: []AnalystResult{{
			Specification: strings.Repeat("A calculator that adds numbers read from stdin. ", 4),
			Fixtures:      []Fixture{{Name: "happy"}, {Name: "edge"}, {Name: "error"}},
			Project:       ProjectMetadata{Name: "calc", PackageName: "calc"},
		}},
		harnessBuilds: []StepResult{{Success: true}},
		harnessVerify: StepResult{Success: true},
		scaffold:      StepResult{Success: true},
		prototype:     LoopResult{Success: true, Iterations: 2},
		refactor:      LoopResult{Success: true, Iterations: 1, Summary: "clean"},
		units: []UnitWorkItem{
			{Name: "calc.core.add", ModulePath: "src/calc/core.py", LineNumber: 3, EndLineNumber: 5, Kind: KindFunction},
			{Name: "calc.core.PI", ModulePath: "src/calc/core.py", LineNumber: 1, EndLineNumber: 1, Kind: KindConstant},
			{Name: "calc.util.fmt", ModulePath: "src/calc/util.py", LineNumber: 1, EndLineNumber: 4, Kind: KindFunction},
		},
		stubbedFiles: []string{"src/calc/core.py"},
		cases: []TestCase{
			{Description: "adds two positives"},
			{Description: "adds negatives"},
		},
		mutations: []MutationResult{{Success: true, Score: 1.0, TotalMutants: 4, KilledMutants: 4}},
		optimize:  OptimizeResult{Success: true, Code: "def add(a, b):\n    return a + b"},
	}
}

func (f *fakes) hit(name string) int {
	f.calls[name]++
	return f.calls[name]
}

// pick returns the n-th (1-based) scripted answer, repeating the last one.
func pick[T any](list []T, n int) T {
	if n > len(list) {
		return list[len(list)-1]
	}
	return list[n-1]
}

func (f *fakes) deps() Deps {
	return Deps{
		Input: f, Analyst: f, HarnessBuilder: f, HarnessVerifier: f, InterfaceAnalyzer: f,
		Scaffolder: f, E2E: f, Prototyper: f, ArchitectureReviewer: f, Refactorer: f,
		WorkspaceCopier: f, Distiller: f, Stubber: f, Oracle: f, RatchetRed: f,
		RatchetGreen: f, MutationRunner: f, Sentinel: f, MutantVerifier: f, Optimizer: f,
	}
}

func (f *fakes) Ask(_ context.Context, prompt string) (string, error) {
	n := f.hit("Ask")
	if len(f.answers) == 0 {
		return "an answer to " + prompt, nil
	}
	return pick(f.answers, n), nil
}

func (f *fakes) Analyze(_ context.Context, req AnalystRequest) (AnalystResult, error) {
	f.analystRequests = append(f.analystRequests, req)
	return pick(f.analyses, f.hit("Analyze")), nil
}

func (f *fakes) BuildHarness(_ context.Context, req HarnessRequest) (StepResult, error) {
	f.harnessRequests = append(f.harnessRequests, req)
	return pick(f.harnessBuilds, f.hit("BuildHarness")), nil
}

func (f *fakes) VerifyHarness(context.Context, string) (StepResult, error) {
	f.hit("VerifyHarness")
	return f.harnessVerify, nil
}

func (f *fakes) AnalyzeInterface(context.Context, string) (InterfaceDescription, error) {
	f.hit("AnalyzeInterface")
	return InterfaceDescription{Summary: "reads numbers", Invocation: "calc"}, nil
}

func (f *fakes) Scaffold(context.Context, ScaffoldRequest) (StepResult, error) {
	f.hit("Scaffold")
	return f.scaffold, nil
}

func (f *fakes) RunE2E(context.Context, string) (StepResult, error) {
	f.hit("RunE2E")
	return StepResult{Success: true}, nil
}

func (f *fakes) Prototype(context.Context, PrototypeRequest, E2ERunner) (LoopResult, error) {
	f.hit("Prototype")
	return f.prototype, nil
}

func (f *fakes) ReviewArchitecture(context.Context, string) (ReviewResult, error) {
	f.hit("ReviewArchitecture")
	return ReviewResult{IsClean: true}, nil
}

func (f *fakes) Refactor(context.Context, RefactorRequest, E2ERunner, ArchitectureReviewer) (LoopResult, error) {
	f.hit("Refactor")
	return f.refactor, nil
}

func (f *fakes) CopyPrototype(context.Context, string, string) (CopyResult, error) {
	f.hit("CopyPrototype")
	return CopyResult{Files: 7}, nil
}

func (f *fakes) Distill(context.Context, string, string) (DistillResult, error) {
	f.hit("Distill")
	return DistillResult{Success: true, Units: f.units}, nil
}

func (f *fakes) Stub(context.Context, string, []UnitWorkItem) (StubResult, error) {
	f.hit("Stub")
	return StubResult{Success: true, FilesModified: f.stubbedFiles, Stubbed: 2}, nil
}

func (f *fakes) Describe(_ context.Context, u UnitWorkItem) (OracleResult, error) {
	f.hit("Describe")
	return OracleResult{Success: true, Description: "adds " + u.ShortName(), TestCases: f.cases}, nil
}

func (f *fakes) Red(_ context.Context, u UnitWorkItem, tc TestCase) (RedResult, error) {
	n := f.hit("Red")
	if f.red != nil {
		return f.red(n, u, tc)
	}
	return RedResult{Success: true, TestFilePath: "tests/unit/test_x.py::" + tc.TestFunctionName, FailureOutput: "FAILED " + tc.TestFunctionName}, nil
}

func (f *fakes) Green(_ context.Context, u UnitWorkItem, tc TestCase, failure string) (GreenResult, error) {
	n := f.hit("Green")
	f.greenFailures = append(f.greenFailures, failure)
	if f.green != nil {
		return f.green(n, u, tc, failure)
	}
	return GreenResult{Success: true}, nil
}

func (f *fakes) Mutate(context.Context, UnitWorkItem) (MutationResult, error) {
	return pick(f.mutations, f.hit("Mutate")), nil
}

func (f *fakes) Guard(_ context.Context, _ UnitWorkItem, m Mutant, feedback string) (SentinelResult, error) {
	n := f.hit("Guard")
	f.guardFeedback = append(f.guardFeedback, feedback)
	if f.guard != nil {
		return f.guard(n, m, feedback), nil
	}
	return SentinelResult{Success: true, TestFilePath: "tests/unit/test_x.py"}, nil
}

func (f *fakes) VerifyKilled(_ context.Context, _ UnitWorkItem, id string) (VerifyResult, error) {
	n := f.hit("VerifyKilled")
	if f.verify != nil {
		return f.verify(n, id), nil
	}
	return VerifyResult{Killed: true}, nil
}

func (f *fakes) Optimize(_ context.Context, u UnitWorkItem) (OptimizeResult, error) {
	f.hit("Optimize")
	f.optimizedUnits = append(f.optimizedUnits, u.Name)
	return f.optimize, nil
}

func newTestRuntime(t *testing.T, f *fakes, tweak func(*config.Config)) *Runtime {
	t.Helper()
	cfg := config.Default()
	if tweak != nil {
		tweak(cfg)
	}
	rt, err := NewRuntime(t.TempDir(), cfg, f.deps())
	if err != nil {
		t.Fatalf("NewRuntime() failed: %v", err)
	}
	return rt
}
