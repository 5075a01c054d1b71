package crucible

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"

	"github.com/Iron-Ham/breakfix/internal/agent"
	"github.com/Iron-Ham/breakfix/internal/errors"
	"github.com/Iron-Ham/breakfix/internal/flow"
	"github.com/Iron-Ham/breakfix/internal/workspace"
)

const sentinelSystem = `A mutant survived mutation testing: the suite did not notice a change to the code.

Write ONE new test that passes on the original code and fails on the mutated code.
Add it to the existing test file; do not create new files.
Target the behaviour change shown in the mutant diff and name the test after it.
Do not modify implementation code and do not run any commands or tests.

After writing the test, say "Test written" and stop.`

var testDef = regexp.MustCompile(`(?m)^\s*(?:async\s+)?def (test_\w+)\(`)

// TestFiler maps a unit to its test file, relative to the production directory.
type TestFiler interface {
	TestFile(unit string) string
}

// Sentinel asks an agent for a test that kills one surviving mutant. Each
// mutant gets its own conversation, kept across retries for that mutant.
type Sentinel struct {
	agents  agent.Opener
	dir     string
	tests   TestFiler
	exclude *workspace.Matcher
	opts    agent.Options

	mutant string
	conv   agent.Conversation
}

// NewSentinel creates a Sentinel working in the production directory dir.
func NewSentinel(agents agent.Opener, dir string, tests TestFiler, exclude *workspace.Matcher, opts agent.Options) *Sentinel {
	return &Sentinel{agents: agents, dir: dir, tests: tests, exclude: exclude, opts: opts}
}

// Guard implements flow.Sentinel. Only the unit's test file may change, and
// it must gain at least one test function; otherwise the attempt is rewound.
func (s *Sentinel) Guard(ctx context.Context, unit flow.UnitWorkItem, mutant flow.Mutant, feedback string) (flow.SentinelResult, error) {
	logger := s.opts.Log().WithUnit(unit.Name)
	testFile := s.tests.TestFile(unit.Name)
	path := filepath.Join(s.dir, filepath.FromSlash(testFile))

	existing, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return flow.SentinelResult{Error: fmt.Sprintf("Test file does not exist: %s. The red phase should have created it.", testFile)}, nil
	}
	if err != nil {
		return flow.SentinelResult{}, fmt.Errorf("read test file: %w", err)
	}
	snap, err := workspace.Take(s.dir, s.exclude)
	if err != nil {
		return flow.SentinelResult{}, err
	}
	fail := func(format string, args ...any) (flow.SentinelResult, error) {
		if _, err := snap.Restore(); err != nil {
			return flow.SentinelResult{}, err
		}
		return flow.SentinelResult{Error: fmt.Sprintf(format, args...)}, nil
	}

	if s.conv == nil || s.mutant != mutant.ID {
		s.mutant = mutant.ID
		s.conv = s.agents.Open(agent.SessionOptions{Name: "sentinel", Dir: s.dir, SystemPrompt: sentinelSystem})
	}
	prompt := sentinelPrompt(unit, mutant, testFile, string(existing))
	if feedback != "" {
		prompt += "\n\nPREVIOUS ATTEMPT FAILED: " + feedback
	}
	logger.Info("targeting mutant", "mutant", mutant.ID, "test_file", testFile)
	if _, err := s.conv.Send(ctx, prompt); err != nil {
		if ctx.Err() != nil || !errors.Is(err, errors.ErrCollaborator) {
			return flow.SentinelResult{}, err
		}
		return fail("%v", err)
	}

	changes, err := snap.Changes()
	if err != nil {
		return flow.SentinelResult{}, err
	}
	for _, p := range changes.All() {
		if p != testFile {
			return fail("Only %s may be edited, %s was changed.", testFile, p)
		}
	}
	updated, err := os.ReadFile(path)
	if err != nil {
		return fail("Test file %s was removed.", testFile)
	}
	if string(updated) == string(existing) {
		return fail("Test file was not modified. Please add a new test.")
	}

	added := addedTests(string(existing), string(updated))
	if len(added) == 0 {
		return fail("No new test function was added.")
	}
	if len(added) > 1 {
		logger.Warn("sentinel added several tests, keeping them all", "tests", added)
	}
	return flow.SentinelResult{Success: true, TestFilePath: testFile}, nil
}

// addedTests returns test function names defined in after but not before.
func addedTests(before, after string) []string {
	old := map[string]bool{}
	for _, m := range testDef.FindAllStringSubmatch(before, -1) {
		old[m[1]] = true
	}
	var added []string
	for _, m := range testDef.FindAllStringSubmatch(after, -1) {
		if !old[m[1]] {
			old[m[1]] = true
			added = append(added, m[1])
		}
	}
	sort.Strings(added)
	return added
}

func sentinelPrompt(unit flow.UnitWorkItem, mutant flow.Mutant, testFile, existing string) string {
	return fmt.Sprintf("A mutant survived mutation testing. Write a test that kills it.\n\n"+
		"## Mutant %s\n```diff\n%s\n```\n\n"+
		"## Unit\nName: %s\nModule: %s\n\n%s\n\n```python\n%s\n```\n\n"+
		"## Test file\n%s\n\nCurrent contents:\n```python\n%s\n```\n\n"+
		"1. Work out which behaviour the diff changes.\n"+
		"2. Add ONE test function to the file above that passes on the original code and fails on the mutant.\n"+
		"3. Name it after the behaviour it pins down, e.g. test_<function>_<behaviour>.\n\n"+
		"If the mutant turns > into >=, test the boundary. Do not run the tests.",
		mutant.ID, mutant.Diff, unit.Name, unit.ModulePath, unit.Description, unit.Code, testFile, existing)
}
