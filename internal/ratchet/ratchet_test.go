package ratchet

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/Iron-Ham/breakfix/internal/agent"
	"github.com/Iron-Ham/breakfix/internal/coverage"
	"github.com/Iron-Ham/breakfix/internal/flow"
	"github.com/Iron-Ham/breakfix/internal/suite"
	"github.com/Iron-Ham/breakfix/internal/workspace"
)

const testPath = "tests/unit/calc/core/test_add.py"

// fakeAgent is an Opener whose conversations call send with the 1-based
// turn number.
type fakeAgent struct {
	prompts []string
	send    func(n int, prompt string) error
}

func (f *fakeAgent) Open(agent.SessionOptions) agent.Conversation { return f }

func (f *fakeAgent) Send(_ context.Context, prompt string) (string, error) {
	f.prompts = append(f.prompts, prompt)
	if f.send != nil {
		if err := f.send(len(f.prompts), prompt); err != nil {
			return "", err
		}
	}
	return "done", nil
}

// fakeSuite collects "def test_" lines from python files under tests/ as
// <path>::<name> identifiers.
type fakeSuite struct {
	dir      string
	passOne  func(test string) bool
	passAll  func(n int) bool
	coverage func(n int) (*coverage.Report, error)
	allRuns  int
	covRuns  int
}

func (s *fakeSuite) Inventory(context.Context) (suite.Inventory, error) {
	inv := suite.Inventory{Tests: map[string]bool{}}
	root := filepath.Join(s.dir, "tests")
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() || !strings.HasSuffix(path, ".py") {
			return err
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		rel, _ := filepath.Rel(s.dir, path)
		for _, line := range strings.Split(string(data), "\n") {
			if name, ok := strings.CutPrefix(line, "def "); ok && strings.HasPrefix(name, "test_") {
				inv.Tests[filepath.ToSlash(rel)+"::"+name[:strings.Index(name, "(")]] = true
			}
		}
		return nil
	})
	if os.IsNotExist(err) {
		err = nil
	}
	return inv, err
}

func (s *fakeSuite) RunOne(_ context.Context, test string) (suite.Outcome, error) {
	if s.passOne != nil && s.passOne(test) {
		return suite.Outcome{Passed: true, Output: "1 passed"}, nil
	}
	return suite.Outcome{ExitCode: 1, Output: "NotImplementedError"}, nil
}

func (s *fakeSuite) RunAll(context.Context) (suite.Outcome, error) {
	s.allRuns++
	if s.passAll == nil || s.passAll(s.allRuns) {
		return suite.Outcome{Passed: true, Output: "all passed"}, nil
	}
	return suite.Outcome{ExitCode: 1, Output: "assert 3 == 4"}, nil
}

func (s *fakeSuite) Coverage(context.Context) (suite.Outcome, *coverage.Report, error) {
	s.covRuns++
	if s.coverage == nil {
		return suite.Outcome{Passed: true}, cleanReport(), nil
	}
	rep, err := s.coverage(s.covRuns)
	return suite.Outcome{Passed: true, Output: "coverage run"}, rep, err
}

func (s *fakeSuite) TestFile(string) string { return testPath }

type fakeReviewer struct {
	verdicts []Review
	calls    int
}

func (f *fakeReviewer) ReviewTest(context.Context, TestReview) (Review, error) {
	f.calls++
	if f.calls > len(f.verdicts) {
		return Review{Valid: true}, nil
	}
	return f.verdicts[f.calls-1], nil
}

type fakeArbiter struct {
	keep  bool
	calls int
}

func (f *fakeArbiter) Arbitrate(context.Context, Arbitration) (Decision, error) {
	f.calls++
	return Decision{Keep: f.keep, Confidence: f.keep, Reasoning: "because"}, nil
}

func testUnit() flow.UnitWorkItem {
	return flow.UnitWorkItem{
		Name:          "calc.core.add",
		ModulePath:    "calc/core.py",
		LineNumber:    1,
		EndLineNumber: 3,
		Kind:          flow.KindFunction,
		Code:          "def add(a, b):\n    \"\"\"Add two numbers.\"\"\"\n    return a + b",
		Description:   "Adds two numbers.",
	}
}

func testCase() flow.TestCase {
	return flow.TestCase{ID: 1, Description: "adds positives", TestFunctionName: "test_adds"}
}

func newWorkspace(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	if err := os.MkdirAll(filepath.Join(dir, "calc"), 0o755); err != nil {
		t.Fatal(err)
	}
	stub := "def add(a, b):\n    \"\"\"Add two numbers.\"\"\"\n    raise NotImplementedError\n"
	if err := os.WriteFile(filepath.Join(dir, "calc", "core.py"), []byte(stub), 0o644); err != nil {
		t.Fatal(err)
	}
	return dir
}

func write(t *testing.T, dir, rel, content string) {
	t.Helper()
	path := filepath.Join(dir, filepath.FromSlash(rel))
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func exists(dir, rel string) bool {
	_, err := os.Stat(filepath.Join(dir, filepath.FromSlash(rel)))
	return err == nil
}

func cleanReport() *coverage.Report {
	return &coverage.Report{Files: map[string]coverage.FileData{
		"calc/core.py": {ExecutedLines: []int{1, 2, 3}},
	}}
}

func newRed(dir string, a *fakeAgent, s *fakeSuite, rv *fakeReviewer, ar *fakeArbiter) *Red {
	exclude, _ := workspace.NewMatcher([]string{"**/__pycache__"})
	return NewRed(RedConfig{
		Agents:   a,
		Dir:      dir,
		TestsDir: "tests",
		Suite:    s,
		Reviewer: rv,
		Arbiter:  ar,
		Exclude:  exclude,
		Attempts: 3,
	}, agent.Options{})
}

func TestRed_FailingTestAccepted(t *testing.T) {
	dir := newWorkspace(t)
	a := &fakeAgent{send: func(int, string) error {
		write(t, dir, testPath, "from calc.core import add\n\ndef test_adds():\n    assert add(1, 2) == 3\n")
		return nil
	}}
	r := newRed(dir, a, &fakeSuite{dir: dir}, &fakeReviewer{}, &fakeArbiter{})

	res, err := r.Red(context.Background(), testUnit(), testCase())
	if err != nil {
		t.Fatalf("Red() error = %v", err)
	}
	if !res.Success || res.SkippedGreen || res.Retries != 0 {
		t.Fatalf("Red() = %+v", res)
	}
	if res.TestFilePath != testPath+"::test_adds" {
		t.Errorf("TestFilePath = %q", res.TestFilePath)
	}
	if res.FailureOutput != "NotImplementedError" {
		t.Errorf("FailureOutput = %q", res.FailureOutput)
	}
	if !strings.Contains(a.prompts[0], "Create the test in this exact file: "+testPath) {
		t.Errorf("prompt does not name the test file:\n%s", a.prompts[0])
	}
	if strings.Contains(a.prompts[0], "return a + b") {
		t.Error("prompt leaks the prototype body")
	}
}

func TestRed_ZeroTestsThenOne(t *testing.T) {
	dir := newWorkspace(t)
	a := &fakeAgent{}
	a.send = func(n int, _ string) error {
		if n == 1 {
			write(t, dir, testPath, "from calc.core import add\n")
			return nil
		}
		if exists(dir, testPath) {
			t.Error("rejected attempt was not rewound")
		}
		write(t, dir, testPath, "def test_adds():\n    pass\n")
		return nil
	}
	r := newRed(dir, a, &fakeSuite{dir: dir}, &fakeReviewer{}, &fakeArbiter{})

	res, err := r.Red(context.Background(), testUnit(), testCase())
	if err != nil {
		t.Fatalf("Red() error = %v", err)
	}
	if !res.Success || res.Retries != 1 {
		t.Fatalf("Red() = %+v, want success after one retry", res)
	}
	if !strings.Contains(a.prompts[1], "Expected exactly 1 new test, got 0") {
		t.Errorf("retry prompt = %q", a.prompts[1])
	}
}

func TestRed_Rejections(t *testing.T) {
	tests := []struct {
		name     string
		write    func(t *testing.T, dir string)
		reviewer *fakeReviewer
		wantMsg  string
	}{
		{
			name:    "file missing",
			write:   func(t *testing.T, dir string) {},
			wantMsg: "Test file was not created at expected path: " + testPath,
		},
		{
			name: "two tests",
			write: func(t *testing.T, dir string) {
				write(t, dir, testPath, "def test_a():\n    pass\n\ndef test_b():\n    pass\n")
			},
			wantMsg: "Expected exactly 1 new test, got 2",
		},
		{
			name: "implementation edited",
			write: func(t *testing.T, dir string) {
				write(t, dir, testPath, "def test_adds():\n    pass\n")
				write(t, dir, "calc/core.py", "def add(a, b):\n    return 3\n")
			},
			wantMsg: "calc/core.py was changed",
		},
		{
			name: "review rejects",
			write: func(t *testing.T, dir string) {
				write(t, dir, testPath, "def test_adds():\n    pass\n")
			},
			reviewer: &fakeReviewer{verdicts: []Review{{Reason: "asserts nothing"}, {Reason: "asserts nothing"}, {Reason: "asserts nothing"}}},
			wantMsg:  "PREVIOUS TEST REJECTED: asserts nothing",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := newWorkspace(t)
			a := &fakeAgent{send: func(int, string) error {
				tt.write(t, dir)
				return nil
			}}
			rv := tt.reviewer
			if rv == nil {
				rv = &fakeReviewer{}
			}
			r := newRed(dir, a, &fakeSuite{dir: dir}, rv, &fakeArbiter{})

			res, err := r.Red(context.Background(), testUnit(), testCase())
			if err != nil {
				t.Fatalf("Red() error = %v", err)
			}
			if res.Success {
				t.Fatalf("Red() = %+v, want failure", res)
			}
			if res.Retries != 3 || len(a.prompts) != 3 {
				t.Errorf("Retries = %d, prompts = %d, want 3 and 3", res.Retries, len(a.prompts))
			}
			if !strings.Contains(res.Error, tt.wantMsg) {
				t.Errorf("Error = %q, want it to contain %q", res.Error, tt.wantMsg)
			}
			if exists(dir, testPath) {
				t.Error("test file left behind after rejection")
			}
			data, _ := os.ReadFile(filepath.Join(dir, "calc", "core.py"))
			if !strings.Contains(string(data), "NotImplementedError") {
				t.Error("implementation edit was not undone")
			}
		})
	}
}

func TestRed_PassingTest(t *testing.T) {
	tests := []struct {
		name     string
		keep     bool
		wantPath string
		wantFile bool
	}{
		{"arbiter keeps", true, testPath + "::test_adds", true},
		{"arbiter discards", false, "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := newWorkspace(t)
			a := &fakeAgent{send: func(int, string) error {
				write(t, dir, testPath, "def test_adds():\n    pass\n")
				return nil
			}}
			s := &fakeSuite{dir: dir, passOne: func(string) bool { return true }}
			ar := &fakeArbiter{keep: tt.keep}
			r := newRed(dir, a, s, &fakeReviewer{}, ar)

			res, err := r.Red(context.Background(), testUnit(), testCase())
			if err != nil {
				t.Fatalf("Red() error = %v", err)
			}
			if !res.Success || !res.SkippedGreen {
				t.Fatalf("Red() = %+v, want success skipping green", res)
			}
			if res.TestFilePath != tt.wantPath {
				t.Errorf("TestFilePath = %q, want %q", res.TestFilePath, tt.wantPath)
			}
			if ar.calls != 1 {
				t.Errorf("arbiter calls = %d, want 1", ar.calls)
			}
			if !strings.Contains(a.prompts[1], "The test passed but it should FAIL") {
				t.Errorf("second prompt = %q", a.prompts[1])
			}
			if got := exists(dir, testPath); got != tt.wantFile {
				t.Errorf("test file exists = %v, want %v", got, tt.wantFile)
			}
		})
	}
}

func newGreen(dir string, a *fakeAgent, s *fakeSuite) *Green {
	return NewGreen(GreenConfig{
		Agents:   a,
		Root:     dir,
		Dir:      dir,
		TestsDir: "tests",
		Suite:    s,
		Attempts: 3,
	}, agent.Options{})
}

func implement(t *testing.T, dir string) func(int, string) error {
	return func(int, string) error {
		write(t, dir, "calc/core.py", "def add(a, b):\n    \"\"\"Add two numbers.\"\"\"\n    return a + b\n")
		return nil
	}
}

func TestGreen_Accepted(t *testing.T) {
	dir := newWorkspace(t)
	a := &fakeAgent{send: implement(t, dir)}
	g := newGreen(dir, a, &fakeSuite{dir: dir})

	res, err := g.Green(context.Background(), testUnit(), testCase(), "NotImplementedError")
	if err != nil {
		t.Fatalf("Green() error = %v", err)
	}
	if !res.Success || res.Retries != 0 {
		t.Fatalf("Green() = %+v", res)
	}
	if !strings.Contains(a.prompts[0], "NotImplementedError") {
		t.Error("initial prompt does not carry the failure output")
	}
	if want := "def add(a, b):\n    \"\"\"Add two numbers.\"\"\"\n    return a + b"; res.Code != want {
		t.Errorf("Code = %q, want %q", res.Code, want)
	}
	if res.EndLine != 3 {
		t.Errorf("EndLine = %d, want 3", res.EndLine)
	}
	b, ok, err := coverage.LoadBaseline(dir, "calc.core.add")
	if err != nil || !ok {
		t.Fatalf("LoadBaseline() = %v, %v", ok, err)
	}
	if len(b.ExecutedLines) != 3 {
		t.Errorf("baseline lines = %v", b.ExecutedLines)
	}
}

func TestGreen_ReportsGrownUnit(t *testing.T) {
	dir := newWorkspace(t)
	write(t, dir, "calc/core.py", "def add(a, b):\n    \"\"\"Add two numbers.\"\"\"\n    raise NotImplementedError\n\n\ndef sub(a, b):\n    raise NotImplementedError\n")
	a := &fakeAgent{send: func(int, string) error {
		write(t, dir, "calc/core.py", "def add(a, b):\n    \"\"\"Add two numbers.\"\"\"\n    if a == 0:\n        return b\n    return a + b\n\n\ndef sub(a, b):\n    raise NotImplementedError\n")
		return nil
	}}
	g := newGreen(dir, a, &fakeSuite{dir: dir})

	res, err := g.Green(context.Background(), testUnit(), testCase(), "")
	if err != nil {
		t.Fatalf("Green() error = %v", err)
	}
	if !res.Success {
		t.Fatalf("Green() = %+v", res)
	}
	want := "def add(a, b):\n    \"\"\"Add two numbers.\"\"\"\n    if a == 0:\n        return b\n    return a + b"
	if res.Code != want || res.EndLine != 5 {
		t.Errorf("Green() code = %q end = %d, want %q end 5", res.Code, res.EndLine, want)
	}
}

func TestGreen_DeadLinesRejectedWhileTestsPass(t *testing.T) {
	dir := newWorkspace(t)
	a := &fakeAgent{send: implement(t, dir)}
	s := &fakeSuite{dir: dir, coverage: func(n int) (*coverage.Report, error) {
		if n == 1 {
			return &coverage.Report{Files: map[string]coverage.FileData{
				"calc/core.py": {ExecutedLines: []int{1, 2}, MissingLines: []int{3}},
			}}, nil
		}
		return cleanReport(), nil
	}}
	g := newGreen(dir, a, s)

	res, err := g.Green(context.Background(), testUnit(), testCase(), "")
	if err != nil {
		t.Fatalf("Green() error = %v", err)
	}
	if !res.Success || res.Retries != 1 {
		t.Fatalf("Green() = %+v, want success after one retry", res)
	}
	if s.allRuns != 2 {
		t.Errorf("suite runs = %d, want 2", s.allRuns)
	}
	if !strings.Contains(a.prompts[1], "Dead lines in calc/core.py: 3") {
		t.Errorf("coverage feedback = %q", a.prompts[1])
	}
}

func TestGreen_Failures(t *testing.T) {
	tests := []struct {
		name      string
		suite     func(dir string) *fakeSuite
		send      func(t *testing.T, dir string) func(int, string) error
		wantErr   string
		wantSends int
	}{
		{
			name: "tests keep failing",
			suite: func(dir string) *fakeSuite {
				return &fakeSuite{dir: dir, passAll: func(int) bool { return false }}
			},
			send:      implement,
			wantErr:   "Tests still failing after 3 attempts. Last output:\nassert 3 == 4",
			wantSends: 3,
		},
		{
			name: "dead code persists",
			suite: func(dir string) *fakeSuite {
				return &fakeSuite{dir: dir, coverage: func(int) (*coverage.Report, error) {
					return &coverage.Report{Files: map[string]coverage.FileData{
						"calc/core.py": {MissingLines: []int{2, 3}},
					}}, nil
				}}
			},
			send:      implement,
			wantErr:   "Dead code on lines [2 3] after 3 attempts",
			wantSends: 3,
		},
		{
			name: "no coverage data",
			suite: func(dir string) *fakeSuite {
				return &fakeSuite{dir: dir, coverage: func(int) (*coverage.Report, error) {
					return nil, coverage.ErrNoData
				}}
			},
			send:      implement,
			wantErr:   "Coverage data could not be collected",
			wantSends: 1,
		},
		{
			name:  "tests edited",
			suite: func(dir string) *fakeSuite { return &fakeSuite{dir: dir} },
			send: func(t *testing.T, dir string) func(int, string) error {
				return func(int, string) error {
					write(t, dir, testPath, "def test_adds():\n    pass\n")
					return nil
				}
			},
			wantErr:   "Tests must not be edited",
			wantSends: 3,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := newWorkspace(t)
			a := &fakeAgent{send: tt.send(t, dir)}
			g := newGreen(dir, a, tt.suite(dir))

			res, err := g.Green(context.Background(), testUnit(), testCase(), "")
			if err != nil {
				t.Fatalf("Green() error = %v", err)
			}
			if res.Success {
				t.Fatalf("Green() = %+v, want failure", res)
			}
			if !strings.Contains(res.Error, tt.wantErr) {
				t.Errorf("Error = %q, want it to contain %q", res.Error, tt.wantErr)
			}
			if len(a.prompts) != tt.wantSends {
				t.Errorf("prompts = %d, want %d", len(a.prompts), tt.wantSends)
			}
			if exists(dir, testPath) {
				t.Error("test edit survived")
			}
		})
	}
}

func TestGreen_RestoresOnExhaustion(t *testing.T) {
	dir := newWorkspace(t)
	a := &fakeAgent{send: implement(t, dir)}
	g := newGreen(dir, a, &fakeSuite{dir: dir, passAll: func(int) bool { return false }})

	if _, err := g.Green(context.Background(), testUnit(), testCase(), ""); err != nil {
		t.Fatalf("Green() error = %v", err)
	}
	data, _ := os.ReadFile(filepath.Join(dir, "calc", "core.py"))
	if !strings.Contains(string(data), "NotImplementedError") {
		t.Errorf("module not restored:\n%s", data)
	}
}

func TestSignature(t *testing.T) {
	tests := []struct {
		name string
		code string
		want string
	}{
		{"empty", "", ""},
		{
			"plain function",
			"def add(a, b):\n    return a + b",
			"def add(a, b):\n    ...",
		},
		{
			"docstring",
			"def add(a, b):\n    \"\"\"Add.\n\n    Returns the sum.\n    \"\"\"\n    return a + b",
			"def add(a, b):\n    \"\"\"Add.\n\n    Returns the sum.\n    \"\"\"\n    ...",
		},
		{
			"one-line docstring",
			"def add(a, b):\n    '''Add.'''\n    return a + b",
			"def add(a, b):\n    '''Add.'''\n    ...",
		},
		{
			"one-liner",
			"def ident(x): return x",
			"def ident(x):\n    ...",
		},
		{
			"annotated multi-line header",
			"def parse(\n    line: str,\n    strict: bool = False,\n) -> dict[str, int]:\n    return {}",
			"def parse(\n    line: str,\n    strict: bool = False,\n) -> dict[str, int]:\n    ...",
		},
		{
			"class",
			"class Stack:\n    def push(self, x):\n        pass",
			"class Stack:\n    ...",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Signature(tt.code); got != tt.want {
				t.Errorf("Signature() =\n%s\nwant\n%s", got, tt.want)
			}
		})
	}
}
