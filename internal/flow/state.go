package flow

import (
	"fmt"
	"strings"
)

// UnitKind is the syntactic kind of a distilled unit.
type UnitKind string

const (
	KindFunction UnitKind = "function"
	KindClass    UnitKind = "class"
	KindConstant UnitKind = "constant"
	KindImport   UnitKind = "import"
)

// TestCase is one scenario the oracle wants covered by a single test.
type TestCase struct {
	ID               int    `json:"id" yaml:"id"`
	Description      string `json:"description" yaml:"description"`
	TestFunctionName string `json:"test_function_name" yaml:"test_function_name"`
}

// UnitWorkItem is an atomic function or class being rebuilt test-first.
type UnitWorkItem struct {
	// Name is fully qualified, e.g. "pkg.parser.parse_line".
	Name          string     `json:"name" yaml:"name"`
	ModulePath    string     `json:"module_path" yaml:"module_path"`
	LineNumber    int        `json:"line_number" yaml:"line_number"`
	EndLineNumber int        `json:"end_line_number" yaml:"end_line_number"`
	Kind          UnitKind   `json:"symbol_type" yaml:"symbol_type"`
	Dependencies  []string   `json:"dependencies,omitempty" yaml:"dependencies,omitempty"`
	Code          string     `json:"code,omitempty" yaml:"code,omitempty"`
	Tests         []TestCase `json:"tests,omitempty" yaml:"tests,omitempty"`
	Description   string     `json:"description,omitempty" yaml:"description,omitempty"`
}

// ShortName returns the last dotted component of the unit name.
func (u UnitWorkItem) ShortName() string {
	if i := strings.LastIndex(u.Name, "."); i >= 0 {
		return u.Name[i+1:]
	}
	return u.Name
}

// Package returns the dotted components before the short name.
func (u UnitWorkItem) Package() []string {
	parts := strings.Split(u.Name, ".")
	return parts[:len(parts)-1]
}

// Covers reports whether line lies inside the unit's source range.
func (u UnitWorkItem) Covers(line int) bool {
	return line >= u.LineNumber && line <= u.EndLineNumber
}

// Fixture is a concrete input/output example produced by the analyst.
type Fixture struct {
	Name           string `json:"name" yaml:"name"`
	Description    string `json:"description" yaml:"description"`
	InputData      any    `json:"input_data" yaml:"input_data"`
	ExpectedOutput any    `json:"expected_output" yaml:"expected_output"`
}

// ProjectMetadata names the package being built.
type ProjectMetadata struct {
	Name        string `json:"name" yaml:"name"`
	PackageName string `json:"package_name" yaml:"package_name"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
}

// ProjectState is threaded through the project graph.
type ProjectState struct {
	Idea                 string          `json:"user_idea" yaml:"user_idea"`
	WorkingDirectory     string          `json:"working_directory" yaml:"working_directory"`
	Spec                 string          `json:"spec,omitempty" yaml:"spec,omitempty"`
	Fixtures             []Fixture       `json:"fixtures,omitempty" yaml:"fixtures,omitempty"`
	Project              ProjectMetadata `json:"project_metadata" yaml:"project_metadata"`
	InterfaceDescription string          `json:"interface_description,omitempty" yaml:"interface_description,omitempty"`
	PrototypeIterations  int             `json:"prototype_iterations,omitempty" yaml:"prototype_iterations,omitempty"`
	RefinedArch          string          `json:"refined_arch,omitempty" yaml:"refined_arch,omitempty"`
	UnitQueue            []UnitWorkItem  `json:"unit_queue,omitempty" yaml:"unit_queue,omitempty"`
	FinishedUnits        []string        `json:"finished_units,omitempty" yaml:"finished_units,omitempty"`
}

// UnitTask carries the unit being prepared or rebuilt alongside the project
// state it was popped from.
type UnitTask struct {
	Project ProjectState `json:"project"`
	Unit    UnitWorkItem `json:"unit"`
}

// UnitState is threaded through the unit graph.
type UnitState struct {
	Unit          UnitWorkItem `json:"unit"`
	Pending       []TestCase   `json:"pending,omitempty"`
	Current       *TestCase    `json:"current,omitempty"`
	FailureOutput string       `json:"failure_output,omitempty"`
	Round         int          `json:"round,omitempty"`
	Surviving     []Mutant     `json:"surviving,omitempty"`
}

// Finished-unit markers.

func VerifiedMarker(name string) string {
	return fmt.Sprintf("%s (Verified)", name)
}

func SkippedMarker(name string, kind UnitKind) string {
	return fmt.Sprintf("%s (Skipped - %s)", name, kind)
}

func FailedMarker(name, reason string) string {
	return fmt.Sprintf("%s (Failed - %s)", name, reason)
}

// Report is the project graph's terminal value.
type Report struct {
	Project       string   `json:"project,omitempty" yaml:"project,omitempty"`
	FinishedUnits []string `json:"finished_units" yaml:"finished_units"`
}

// Count tallies markers by outcome.
func (r Report) Count() (verified, skipped, failed int) {
	for _, m := range r.FinishedUnits {
		switch {
		case strings.HasSuffix(m, "(Verified)"):
			verified++
		case strings.Contains(m, "(Skipped - "):
			skipped++
		case strings.Contains(m, "(Failed - "):
			failed++
		}
	}
	return verified, skipped, failed
}

// String renders the report the way the run command prints it.
func (r Report) String() string {
	return fmt.Sprintf("Project Complete. Units: [%s]", strings.Join(r.FinishedUnits, ", "))
}
