package flow

import (
	"context"
	"fmt"
	"strings"

	"github.com/Iron-Ham/breakfix/internal/errors"
)

// StepResult is the outcome of a collaborator action or check. An error
// returned next to a StepResult means the collaborator itself broke; a
// StepResult with Success false is an ordinary, retryable rejection.
type StepResult struct {
	Success bool   `json:"success"`
	Output  string `json:"output,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Detail returns the most useful failure text.
func (r StepResult) Detail() string {
	switch {
	case r.Error != "" && r.Output != "":
		return r.Error + "\n" + r.Output
	case r.Error != "":
		return r.Error
	case r.Output != "":
		return r.Output
	}
	return "no detail"
}

// Exchange is one analyst question and the user's answer.
type Exchange struct {
	Question string `json:"question"`
	Answer   string `json:"answer"`
}

// AnalystRequest asks the analyst for the next question or the final output.
type AnalystRequest struct {
	Idea       string     `json:"idea"`
	Transcript []Exchange `json:"transcript,omitempty"`
	Feedback   string     `json:"feedback,omitempty"`
}

// AnalystResult holds either a Question for the user or the final output.
type AnalystResult struct {
	Question      string          `json:"question,omitempty"`
	Specification string          `json:"specification,omitempty"`
	Fixtures      []Fixture       `json:"fixtures,omitempty"`
	Project       ProjectMetadata `json:"project"`
}

// HarnessRequest asks for a black-box test harness and a stub program.
type HarnessRequest struct {
	Dir      string    `json:"dir"`
	Spec     string    `json:"spec"`
	Fixtures []Fixture `json:"fixtures"`
	Feedback string    `json:"feedback,omitempty"`
}

// InterfaceDescription is the machine-readable interface derived from the stub program.
type InterfaceDescription struct {
	Summary            string `json:"summary"`
	InputMethod        string `json:"input_method"`
	OutputMethod       string `json:"output_method"`
	InputFormat        string `json:"input_format"`
	OutputFormat       string `json:"output_format"`
	ProtocolDetails    string `json:"protocol_details"`
	Invocation         string `json:"invocation"`
	ExampleInteraction string `json:"example_interaction"`
}

// Format renders the description for prompts.
func (d InterfaceDescription) Format() string {
	return fmt.Sprintf(`Summary: %s
Input method: %s
Output method: %s
Input format: %s
Output format: %s
Protocol details: %s
Invocation: %s
Example interaction:
%s`, d.Summary, d.InputMethod, d.OutputMethod, d.InputFormat, d.OutputFormat,
		d.ProtocolDetails, d.Invocation, d.ExampleInteraction)
}

// ScaffoldRequest asks for the package skeleton and its entry point.
type ScaffoldRequest struct {
	Root    string          `json:"root"`
	Dir     string          `json:"dir"`
	Project ProjectMetadata `json:"project"`
	Spec    string          `json:"spec"`
}

// PrototypeRequest is what the prototyper implements against.
type PrototypeRequest struct {
	Dir                  string          `json:"dir"`
	HarnessDir           string          `json:"harness_dir"`
	Spec                 string          `json:"spec"`
	Fixtures             []Fixture       `json:"fixtures"`
	InterfaceDescription string          `json:"interface_description"`
	Project              ProjectMetadata `json:"project"`
	MaxIterations        int             `json:"max_iterations"`
}

// RefactorRequest asks for architectural fixes to the prototype.
type RefactorRequest struct {
	Dir         string `json:"dir"`
	HarnessDir  string `json:"harness_dir"`
	MaxAttempts int    `json:"max_attempts"`
}

// LoopResult reports a collaborator that ran its own feedback loop.
type LoopResult struct {
	Success    bool   `json:"success"`
	Iterations int    `json:"iterations"`
	Summary    string `json:"summary,omitempty"`
	Error      string `json:"error,omitempty"`
}

// ReviewResult is an architecture compliance verdict.
type ReviewResult struct {
	IsClean    bool     `json:"is_clean"`
	Violations []string `json:"violations,omitempty"`
	Summary    string   `json:"summary,omitempty"`
}

// CopyResult reports the prototype to production copy.
type CopyResult struct {
	Files int `json:"files"`
}

// DistillResult is the dependency-ordered unit queue.
type DistillResult struct {
	Success bool           `json:"success"`
	Units   []UnitWorkItem `json:"units,omitempty"`
	Error   string         `json:"error,omitempty"`
}

// StubResult lists the files whose unit bodies were replaced by stubs.
type StubResult struct {
	Success       bool     `json:"success"`
	FilesModified []string `json:"files_modified,omitempty"`
	Stubbed       int      `json:"functions_stubbed"`
	Error         string   `json:"error,omitempty"`
}

// OracleResult describes a unit and the test cases it needs.
type OracleResult struct {
	Success     bool       `json:"success"`
	Description string     `json:"description,omitempty"`
	TestCases   []TestCase `json:"test_cases,omitempty"`
	Error       string     `json:"error,omitempty"`
}

// RedResult reports one ratchet-red cycle.
type RedResult struct {
	Success       bool
	TestFilePath  string
	FailureOutput string
	SkippedGreen  bool
	Retries       int
	Error         string
}

// GreenResult reports one ratchet-green cycle. On success Code holds the
// unit's implemented source and EndLine its last line in the module.
type GreenResult struct {
	Success bool
	Retries int
	Error   string
	Code    string
	EndLine int
}

// Mutant is a surviving mutation. ID has the form module:operator:occurrence.
type Mutant struct {
	ID   string `json:"id"`
	Diff string `json:"diff,omitempty"`
}

// MutationResult is one mutation analysis restricted to a unit's lines.
type MutationResult struct {
	Success          bool
	Score            float64
	TotalMutants     int
	KilledMutants    int
	SurvivingMutants []Mutant
	Error            string
}

// SentinelResult reports a sentinel attempt at writing a mutant-killing test.
type SentinelResult struct {
	Success      bool
	TestFilePath string
	Error        string
}

// VerifyResult reports whether a mutant is gone after the sentinel's test.
type VerifyResult struct {
	Killed       bool
	NewSurviving []string
	Error        string
}

// OptimizeResult reports the optimization pass over a verified unit.
type OptimizeResult struct {
	Success bool
	Code    string
	Retries int
	Error   string
}

// Capabilities. Each collaborator is one small interface.

type Input interface {
	Ask(ctx context.Context, prompt string) (string, error)
}

type Analyst interface {
	Analyze(ctx context.Context, req AnalystRequest) (AnalystResult, error)
}

type HarnessBuilder interface {
	BuildHarness(ctx context.Context, req HarnessRequest) (StepResult, error)
}

type HarnessVerifier interface {
	VerifyHarness(ctx context.Context, dir string) (StepResult, error)
}

type InterfaceAnalyzer interface {
	AnalyzeInterface(ctx context.Context, dir string) (InterfaceDescription, error)
}

type Scaffolder interface {
	Scaffold(ctx context.Context, req ScaffoldRequest) (StepResult, error)
}

// E2ERunner runs the end-to-end harness in dir against the current program.
type E2ERunner interface {
	RunE2E(ctx context.Context, dir string) (StepResult, error)
}

type Prototyper interface {
	Prototype(ctx context.Context, req PrototypeRequest, e2e E2ERunner) (LoopResult, error)
}

type ArchitectureReviewer interface {
	ReviewArchitecture(ctx context.Context, dir string) (ReviewResult, error)
}

type Refactorer interface {
	Refactor(ctx context.Context, req RefactorRequest, e2e E2ERunner, reviewer ArchitectureReviewer) (LoopResult, error)
}

type WorkspaceCopier interface {
	CopyPrototype(ctx context.Context, src, dst string) (CopyResult, error)
}

type Distiller interface {
	Distill(ctx context.Context, dir, packageName string) (DistillResult, error)
}

type Stubber interface {
	Stub(ctx context.Context, dir string, units []UnitWorkItem) (StubResult, error)
}

type Oracle interface {
	Describe(ctx context.Context, unit UnitWorkItem) (OracleResult, error)
}

type RatchetRed interface {
	Red(ctx context.Context, unit UnitWorkItem, tc TestCase) (RedResult, error)
}

type RatchetGreen interface {
	Green(ctx context.Context, unit UnitWorkItem, tc TestCase, failureOutput string) (GreenResult, error)
}

type MutationRunner interface {
	Mutate(ctx context.Context, unit UnitWorkItem) (MutationResult, error)
}

// Sentinel writes one test aimed at a surviving mutant. feedback is empty
// on the first attempt for a mutant.
type Sentinel interface {
	Guard(ctx context.Context, unit UnitWorkItem, mutant Mutant, feedback string) (SentinelResult, error)
}

type MutantVerifier interface {
	VerifyKilled(ctx context.Context, unit UnitWorkItem, mutantID string) (VerifyResult, error)
}

type Optimizer interface {
	Optimize(ctx context.Context, unit UnitWorkItem) (OptimizeResult, error)
}

// Deps is the capability bag. It is built once per run and passed to every
// node; nothing in the graphs reaches for global state.
type Deps struct {
	Input                Input
	Analyst              Analyst
	HarnessBuilder       HarnessBuilder
	HarnessVerifier      HarnessVerifier
	InterfaceAnalyzer    InterfaceAnalyzer
	Scaffolder           Scaffolder
	E2E                  E2ERunner
	Prototyper           Prototyper
	ArchitectureReviewer ArchitectureReviewer
	Refactorer           Refactorer
	WorkspaceCopier      WorkspaceCopier
	Distiller            Distiller
	Stubber              Stubber
	Oracle               Oracle
	RatchetRed           RatchetRed
	RatchetGreen         RatchetGreen
	MutationRunner       MutationRunner
	Sentinel             Sentinel
	MutantVerifier       MutantVerifier
	Optimizer            Optimizer
}

// Missing lists the capabilities that are not set.
func (d Deps) Missing() []string {
	var missing []string
	check := func(name string, set bool) {
		if !set {
			missing = append(missing, name)
		}
	}
	check("input", d.Input != nil)
	check("analyst", d.Analyst != nil)
	check("harness builder", d.HarnessBuilder != nil)
	check("harness verifier", d.HarnessVerifier != nil)
	check("interface analyzer", d.InterfaceAnalyzer != nil)
	check("scaffolder", d.Scaffolder != nil)
	check("e2e runner", d.E2E != nil)
	check("prototyper", d.Prototyper != nil)
	check("architecture reviewer", d.ArchitectureReviewer != nil)
	check("refactorer", d.Refactorer != nil)
	check("workspace copier", d.WorkspaceCopier != nil)
	check("distiller", d.Distiller != nil)
	check("stubber", d.Stubber != nil)
	check("oracle", d.Oracle != nil)
	check("ratchet red", d.RatchetRed != nil)
	check("ratchet green", d.RatchetGreen != nil)
	check("mutation runner", d.MutationRunner != nil)
	check("sentinel", d.Sentinel != nil)
	check("mutant verifier", d.MutantVerifier != nil)
	check("optimizer", d.Optimizer != nil)
	return missing
}

// Validate returns ErrMissingCapability naming every unset capability.
func (d Deps) Validate() error {
	if missing := d.Missing(); len(missing) > 0 {
		return fmt.Errorf("%w: %s", errors.ErrMissingCapability, strings.Join(missing, ", "))
	}
	return nil
}
