package flow

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/gobwas/glob"
	"gopkg.in/yaml.v3"

	"github.com/Iron-Ham/breakfix/internal/config"
	"github.com/Iron-Ham/breakfix/internal/errors"
	"github.com/Iron-Ham/breakfix/internal/event"
	"github.com/Iron-Ham/breakfix/internal/graph"
	"github.com/Iron-Ham/breakfix/internal/retry"
)

// Project graph node names.
const (
	NodeSpecification = "project.specification"
	NodeHarness       = "project.harness"
	NodeScaffold      = "project.scaffold"
	NodePrototype     = "project.prototype"
	NodeRefine        = "project.refine"
	NodeDistill       = "project.distill"
	NodeUnits         = "project.units"
	NodeOracle        = "project.oracle"
	NodeUnit          = "project.unit"
)

// ProjectArtifact is the file written after specification, relative to the
// state directory.
const ProjectArtifact = "project.yaml"

// maxInterviewTurns bounds analyst questions within one specification attempt.
const maxInterviewTurns = 12

// ProjectGraph is the outer topology.
var ProjectGraph = graph.MustNew("project",
	graph.NewNode(NodeSpecification, specification),
	graph.NewNode(NodeHarness, harness),
	graph.NewNode(NodeScaffold, scaffold),
	graph.NewNode(NodePrototype, prototype),
	graph.NewNode(NodeRefine, refine),
	graph.NewNode(NodeDistill, distill),
	graph.NewNode(NodeUnits, units),
	graph.NewNode(NodeOracle, oracle),
	graph.NewNode(NodeUnit, unit),
)

// specification interviews the user through the analyst until it produces a
// specification and fixtures that pass validation.
func specification(ctx context.Context, s ProjectState, rt *Runtime) (graph.Result, error) {
	if strings.TrimSpace(s.Idea) == "" {
		idea, err := rt.Deps.Input.Ask(ctx, "Describe your software idea")
		if err != nil {
			return nil, fmt.Errorf("read idea: %w", err)
		}
		s.Idea = strings.TrimSpace(idea)
	}
	if s.Idea == "" {
		return graph.Fail("no software idea given"), nil
	}

	var out AnalystResult
	summary, err := rt.loop(NodeSpecification, rt.Config.Retry.SpecAttempts).Run(ctx,
		func(ctx context.Context, a retry.Attempt) (retry.Verdict, error) {
			var transcript []Exchange
			for turn := 0; ; turn++ {
				res, err := rt.Deps.Analyst.Analyze(ctx, AnalystRequest{
					Idea:       s.Idea,
					Transcript: transcript,
					Feedback:   a.Feedback,
				})
				if err != nil {
					return retry.Verdict{}, fmt.Errorf("analyst: %w", err)
				}
				if res.Question == "" {
					out = res
					break
				}
				if turn >= maxInterviewTurns {
					return retry.Reject("asked more than %d questions without producing a specification", maxInterviewTurns), nil
				}
				answer, err := rt.Deps.Input.Ask(ctx, res.Question)
				if err != nil {
					return retry.Verdict{}, fmt.Errorf("read answer: %w", err)
				}
				transcript = append(transcript, Exchange{Question: res.Question, Answer: answer})
			}
			return validateAnalysis(out, rt.Config.Pipeline), nil
		})
	if errors.Is(err, errors.ErrRetriesExhausted) {
		return graph.Fail("specification rejected after %d attempts: %s", summary.Attempts, summary.Feedback), nil
	}
	if err != nil {
		return nil, err
	}

	s.Spec = out.Specification
	s.Fixtures = out.Fixtures
	s.Project = out.Project
	if err := writeProjectArtifact(rt.Root, s); err != nil {
		return nil, err
	}
	rt.Logger.Info("specification captured",
		"project", s.Project.Name,
		"spec_chars", len(s.Spec),
		"fixtures", len(s.Fixtures),
	)
	return graph.MoveTo(NodeHarness, s), nil
}

func validateAnalysis(res AnalystResult, p config.PipelineConfig) retry.Verdict {
	var problems []string
	if n := len(strings.TrimSpace(res.Specification)); n < p.MinSpecLength {
		problems = append(problems, fmt.Sprintf("specification has %d characters, need at least %d", n, p.MinSpecLength))
	}
	if len(res.Fixtures) < p.MinFixtures {
		problems = append(problems, fmt.Sprintf("got %d fixtures, need at least %d", len(res.Fixtures), p.MinFixtures))
	}
	if res.Project.PackageName == "" {
		problems = append(problems, "project metadata has no package name")
	}
	if len(problems) > 0 {
		return retry.Reject("%s", strings.Join(problems, "; "))
	}
	return retry.Accept()
}

func writeProjectArtifact(root string, s ProjectState) error {
	dir := config.StateDir(root)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create state dir: %w", err)
	}
	data, err := yaml.Marshal(struct {
		Project  ProjectMetadata `yaml:"project"`
		Idea     string          `yaml:"idea"`
		Spec     string          `yaml:"specification"`
		Fixtures []Fixture       `yaml:"fixtures"`
	}{s.Project, s.Idea, s.Spec, s.Fixtures})
	if err != nil {
		return fmt.Errorf("marshal project artifact: %w", err)
	}
	return os.WriteFile(filepath.Join(dir, ProjectArtifact), data, 0o644)
}

// harness builds the end-to-end harness and stub program, checks the harness
// against the stub, then derives the interface description from the stub.
func harness(ctx context.Context, s ProjectState, rt *Runtime) (graph.Result, error) {
	dir := rt.HarnessDir()
	summary, err := rt.loop(NodeHarness, rt.Config.Retry.HarnessAttempts).Run(ctx,
		func(ctx context.Context, a retry.Attempt) (retry.Verdict, error) {
			built, err := rt.Deps.HarnessBuilder.BuildHarness(ctx, HarnessRequest{
				Dir:      dir,
				Spec:     s.Spec,
				Fixtures: s.Fixtures,
				Feedback: a.Feedback,
			})
			if err != nil {
				return retry.Verdict{}, fmt.Errorf("harness builder: %w", err)
			}
			if !built.Success {
				return retry.Reject("harness build failed: %s", built.Detail()), nil
			}
			verified, err := rt.Deps.HarnessVerifier.VerifyHarness(ctx, dir)
			if err != nil {
				return retry.Verdict{}, fmt.Errorf("harness verifier: %w", err)
			}
			if !verified.Success {
				return retry.Reject("harness verification against the stub program failed: %s", verified.Detail()), nil
			}
			return retry.Accept(), nil
		})
	if errors.Is(err, errors.ErrRetriesExhausted) {
		return graph.Fail("harness build failed after %d attempts: %s", summary.Attempts, summary.Feedback), nil
	}
	if err != nil {
		return nil, err
	}

	desc, err := rt.Deps.InterfaceAnalyzer.AnalyzeInterface(ctx, dir)
	if err != nil {
		return nil, fmt.Errorf("interface analyzer: %w", err)
	}
	s.InterfaceDescription = desc.Format()
	return graph.MoveTo(NodeScaffold, s), nil
}

// scaffold is not retried: a broken skeleton needs a human.
func scaffold(ctx context.Context, s ProjectState, rt *Runtime) (graph.Result, error) {
	res, err := rt.Deps.Scaffolder.Scaffold(ctx, ScaffoldRequest{
		Root:    rt.Root,
		Dir:     rt.PrototypeDir(),
		Project: s.Project,
		Spec:    s.Spec,
	})
	if err != nil {
		return nil, fmt.Errorf("scaffold: %w", err)
	}
	if !res.Success {
		return graph.Fail("scaffold failed: %s", rt.clip(res.Detail())), nil
	}
	return graph.MoveTo(NodePrototype, s), nil
}

func prototype(ctx context.Context, s ProjectState, rt *Runtime) (graph.Result, error) {
	res, err := rt.Deps.Prototyper.Prototype(ctx, PrototypeRequest{
		Dir:                  rt.PrototypeDir(),
		HarnessDir:           rt.HarnessDir(),
		Spec:                 s.Spec,
		Fixtures:             s.Fixtures,
		InterfaceDescription: s.InterfaceDescription,
		Project:              s.Project,
		MaxIterations:        rt.Config.Retry.PrototypeIterations,
	}, rt.Deps.E2E)
	if err != nil {
		return nil, fmt.Errorf("prototyper: %w", err)
	}
	if !res.Success {
		return graph.Fail("prototyping failed after %d iterations: %s", res.Iterations, rt.clip(res.Error)), nil
	}
	s.PrototypeIterations = res.Iterations
	rt.Logger.Info("prototype passes end-to-end tests", "iterations", res.Iterations)
	return graph.MoveTo(NodeRefine, s), nil
}

func refine(ctx context.Context, s ProjectState, rt *Runtime) (graph.Result, error) {
	res, err := rt.Deps.Refactorer.Refactor(ctx, RefactorRequest{
		Dir:         rt.PrototypeDir(),
		HarnessDir:  rt.HarnessDir(),
		MaxAttempts: rt.Config.Retry.RefinementAttempts,
	}, rt.Deps.E2E, rt.Deps.ArchitectureReviewer)
	if err != nil {
		return nil, fmt.Errorf("refactorer: %w", err)
	}
	if !res.Success {
		return graph.Fail("refinement failed after %d iterations: %s", res.Iterations, rt.clip(res.Error)), nil
	}
	s.RefinedArch = res.Summary
	return graph.MoveTo(NodeDistill, s), nil
}

// distill copies the refined prototype into production, asks for the unit
// queue, stubs the units and keeps only units living in stubbed files.
func distill(ctx context.Context, s ProjectState, rt *Runtime) (graph.Result, error) {
	if s.Project.PackageName == "" {
		return graph.Fail("project metadata is required for distillation"), nil
	}
	prod := rt.ProductionDir()

	copied, err := rt.Deps.WorkspaceCopier.CopyPrototype(ctx, rt.PrototypeDir(), prod)
	if err != nil {
		return nil, fmt.Errorf("copy prototype to production: %w", err)
	}
	rt.Logger.Info("prototype copied to production", "files", copied.Files)

	distilled, err := rt.Deps.Distiller.Distill(ctx, prod, s.Project.PackageName)
	if err != nil {
		return nil, fmt.Errorf("distiller: %w", err)
	}
	if !distilled.Success {
		return graph.Fail("distillation failed: %s", rt.clip(distilled.Error)), nil
	}

	stubbed, err := rt.Deps.Stubber.Stub(ctx, prod, distilled.Units)
	if err != nil {
		return nil, fmt.Errorf("stubber: %w", err)
	}
	if !stubbed.Success {
		return graph.Fail("stubbing failed: %s", rt.clip(stubbed.Error)), nil
	}

	queue, err := selectTargets(distilled.Units, stubbed.FilesModified, rt.Config.Pipeline.TargetPatterns)
	if err != nil {
		return nil, err
	}
	rt.Logger.Info("distilled unit queue",
		"units", len(distilled.Units),
		"targets", len(queue),
		"stubbed", stubbed.Stubbed,
		"files", len(stubbed.FilesModified),
	)
	s.UnitQueue = queue
	return graph.MoveTo(NodeUnits, s), nil
}

// selectTargets keeps units whose module file was stubbed, preserving queue
// order, optionally narrowed to files matching patterns.
func selectTargets(all []UnitWorkItem, stubbedFiles, patterns []string) ([]UnitWorkItem, error) {
	stubbed := make(map[string]bool, len(stubbedFiles))
	for _, f := range stubbedFiles {
		stubbed[filepath.ToSlash(filepath.Clean(f))] = true
	}
	matchers := make([]glob.Glob, 0, len(patterns))
	for _, p := range patterns {
		g, err := glob.Compile(p, '/')
		if err != nil {
			return nil, fmt.Errorf("target pattern %q: %w", p, err)
		}
		matchers = append(matchers, g)
	}

	queue := make([]UnitWorkItem, 0, len(all))
	for _, u := range all {
		module := filepath.ToSlash(filepath.Clean(u.ModulePath))
		if u.ModulePath == "" || !stubbed[module] {
			continue
		}
		if len(matchers) > 0 && !matchesAny(matchers, module) {
			continue
		}
		queue = append(queue, u)
	}
	return queue, nil
}

func matchesAny(matchers []glob.Glob, path string) bool {
	for _, m := range matchers {
		if m.Match(path) {
			return true
		}
	}
	return false
}

// units pops the next queued unit. Kinds outside pipeline.testable_kinds
// are recorded as skipped without running the unit graph.
func units(_ context.Context, s ProjectState, rt *Runtime) (graph.Result, error) {
	if len(s.UnitQueue) == 0 {
		return graph.Finish(Report{Project: s.Project.Name, FinishedUnits: s.FinishedUnits}), nil
	}
	next := s.UnitQueue[0]
	s.UnitQueue = s.UnitQueue[1:]

	if !testable(next.Kind, rt.Config.Pipeline.TestableKinds) {
		marker := SkippedMarker(next.Name, next.Kind)
		rt.Logger.Info("unit skipped", "unit", next.Name, "kind", string(next.Kind))
		s.FinishedUnits = append(s.FinishedUnits, marker)
		rt.Bus.Publish(event.NewUnitFinishedEvent(next.Name, marker))
		return graph.MoveTo(NodeUnits, s), nil
	}
	return graph.MoveTo(NodeOracle, UnitTask{Project: s, Unit: next}), nil
}

func testable(kind UnitKind, kinds []string) bool {
	for _, k := range kinds {
		if UnitKind(k) == kind {
			return true
		}
	}
	return false
}

// oracle asks for the unit's description and test cases. Its answer is
// checkpointed with the continuation so a resumed run does not ask again.
func oracle(ctx context.Context, t UnitTask, rt *Runtime) (graph.Result, error) {
	res, err := rt.Deps.Oracle.Describe(ctx, t.Unit)
	if err != nil {
		return nil, fmt.Errorf("oracle: %w", err)
	}
	if !res.Success {
		return graph.Fail("oracle failed for %s: %s", t.Unit.Name, rt.clip(res.Error)), nil
	}
	t.Unit.Description = res.Description
	t.Unit.Tests = numberTestCases(t.Unit, res.TestCases)
	return graph.MoveTo(NodeUnit, t), nil
}

// numberTestCases assigns sequential ids and default test function names
// where the oracle left them out.
func numberTestCases(u UnitWorkItem, cases []TestCase) []TestCase {
	out := make([]TestCase, len(cases))
	for i, tc := range cases {
		if tc.ID == 0 {
			tc.ID = i + 1
		}
		if tc.TestFunctionName == "" {
			tc.TestFunctionName = fmt.Sprintf("test_%s_%d", strings.TrimLeft(strings.ToLower(u.ShortName()), "_"), tc.ID)
		}
		out[i] = tc
	}
	return out
}

// unit runs the unit graph to completion on its own engine. A signal from
// the unit either aborts the project or marks the unit failed, depending on
// pipeline.unit_failure; a fault always aborts.
func unit(ctx context.Context, t UnitTask, rt *Runtime) (graph.Result, error) {
	s := t.Project
	rt.Bus.Publish(event.NewUnitStartedEvent(t.Unit.Name, len(t.Unit.Tests), len(s.UnitQueue)))
	rt.Logger.Info("unit started", "unit", t.Unit.Name, "test_cases", len(t.Unit.Tests), "remaining", len(s.UnitQueue))

	finished, err := RunUnit(ctx, rt, t.Unit)
	var marker string
	switch {
	case err == nil:
		marker = VerifiedMarker(finished.Name)
	case errors.IsSignal(err):
		msg, _ := errors.SignalMessage(err)
		if rt.Config.Pipeline.UnitFailure != config.UnitFailureContinue {
			return graph.Fail("unit %s failed: %s", t.Unit.Name, msg), nil
		}
		rt.Logger.Warn("unit failed, continuing with queue", "unit", t.Unit.Name, "reason", msg)
		marker = FailedMarker(t.Unit.Name, msg)
	default:
		return nil, fmt.Errorf("unit %s: %w", t.Unit.Name, err)
	}

	s.FinishedUnits = append(s.FinishedUnits, marker)
	rt.Bus.Publish(event.NewUnitFinishedEvent(t.Unit.Name, marker))
	return graph.MoveTo(NodeUnits, s), nil
}
