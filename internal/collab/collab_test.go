package collab

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/Iron-Ham/breakfix/internal/config"
	"github.com/Iron-Ham/breakfix/internal/errors"
	"github.com/Iron-Ham/breakfix/internal/flow"
	"github.com/Iron-Ham/breakfix/internal/ratchet"
)

func TestCommand_Call(t *testing.T) {
	dir := t.TempDir()
	c := NewCommand("e2e", `cat > request.json; echo '{"success": true, "output": "3 passed"}'`, dir, time.Minute, nil)

	res, err := E2E{c}.RunE2E(context.Background(), "/work/e2e-test")
	if err != nil {
		t.Fatalf("RunE2E() error = %v", err)
	}
	if !res.Success || res.Output != "3 passed" {
		t.Errorf("RunE2E() = %+v", res)
	}

	data, err := os.ReadFile(filepath.Join(dir, "request.json"))
	if err != nil {
		t.Fatal(err)
	}
	var req map[string]string
	if err := json.Unmarshal(data, &req); err != nil {
		t.Fatalf("request is not JSON: %v", err)
	}
	if req["dir"] != "/work/e2e-test" {
		t.Errorf("request = %v", req)
	}
}

func TestCommand_Failures(t *testing.T) {
	tests := []struct {
		name    string
		command string
		timeout time.Duration
		wantMsg string
	}{
		{"non-zero exit", "echo 'model unavailable' >&2; exit 2", time.Minute, "model unavailable"},
		{"invalid json", "echo 'I think the answer is yes'", time.Minute, "invalid JSON"},
		{"empty output", "true", time.Minute, "invalid JSON"},
		{"timeout", "sleep 5", 100 * time.Millisecond, "timed out"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewCommand("oracle", tt.command, t.TempDir(), tt.timeout, nil)
			_, err := Oracle{c}.Describe(context.Background(), flow.UnitWorkItem{Name: "calc.core.add"})
			if !errors.Is(err, errors.ErrCollaborator) {
				t.Fatalf("Describe() error = %v, want ErrCollaborator", err)
			}
			if !strings.Contains(err.Error(), tt.wantMsg) {
				t.Errorf("error = %q, want it to contain %q", err, tt.wantMsg)
			}
		})
	}
}

func TestCommand_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	c := NewCommand("arbiter", "sleep 5", t.TempDir(), time.Minute, nil)
	_, err := Arbiter{c}.Arbitrate(ctx, ratchet.Arbitration{TestID: "t::x"})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Arbitrate() error = %v, want context.Canceled", err)
	}
	if errors.Is(err, errors.ErrCollaborator) {
		t.Error("cancellation reported as a collaborator failure")
	}
}

func TestAdapters_DecodeResponses(t *testing.T) {
	ctx := context.Background()
	respond := func(t *testing.T, body string) *Command {
		return NewCommand("x", "cat >/dev/null; cat <<'EOF'\n"+body+"\nEOF", t.TempDir(), time.Minute, nil)
	}

	review, err := Validator{respond(t, `{"is_valid": false, "reason": "asserts nothing"}`)}.ReviewTest(ctx, ratchet.TestReview{})
	if err != nil || review.Valid || review.Reason != "asserts nothing" {
		t.Errorf("ReviewTest() = %+v, %v", review, err)
	}

	decision, err := Arbiter{respond(t, `{"keep_test": true, "confidence_value": true, "communication_value": false, "reasoning": "edge"}`)}.
		Arbitrate(ctx, ratchet.Arbitration{})
	if err != nil || !decision.Keep || !decision.Confidence || decision.Communication {
		t.Errorf("Arbitrate() = %+v, %v", decision, err)
	}

	distilled, err := Distiller{respond(t, `{"success": true, "units": [{"name": "calc.core.add", "module_path": "calc/core.py", "line_number": 1, "end_line_number": 3, "symbol_type": "function"}]}`)}.
		Distill(ctx, "/prod", "calc")
	if err != nil || !distilled.Success || len(distilled.Units) != 1 || distilled.Units[0].Kind != flow.KindFunction {
		t.Errorf("Distill() = %+v, %v", distilled, err)
	}

	stubbed, err := Stubber{respond(t, `{"success": true, "files_modified": ["calc/core.py"], "functions_stubbed": 2}`)}.
		Stub(ctx, "/prod", nil)
	if err != nil || stubbed.Stubbed != 2 || len(stubbed.FilesModified) != 1 {
		t.Errorf("Stub() = %+v, %v", stubbed, err)
	}

	iface, err := InterfaceAnalyzer{respond(t, `{"summary": "adds numbers", "input_method": "argv"}`)}.AnalyzeInterface(ctx, "/e2e")
	if err != nil || iface.InputMethod != "argv" {
		t.Errorf("AnalyzeInterface() = %+v, %v", iface, err)
	}

	arch, err := ArchitectureReviewer{respond(t, `{"is_clean": false, "violations": ["io in core"]}`)}.ReviewArchitecture(ctx, "/proto")
	if err != nil || arch.IsClean || len(arch.Violations) != 1 {
		t.Errorf("ReviewArchitecture() = %+v, %v", arch, err)
	}

	analysis, err := Analyst{respond(t, `{"question": "What inputs?", "project": {"name": "calc"}}`)}.Analyze(ctx, flow.AnalystRequest{Idea: "calc"})
	if err != nil || analysis.Question != "What inputs?" {
		t.Errorf("Analyze() = %+v, %v", analysis, err)
	}
}

func fullConfig() *config.Config {
	cfg := config.Default()
	for _, name := range config.ValidCollaborators() {
		cfg.Collaborators[name] = "echo {}"
	}
	return cfg
}

func TestBuild(t *testing.T) {
	deps, err := Build(t.TempDir(), fullConfig(), Options{In: strings.NewReader(""), Out: &bytes.Buffer{}})
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	if err := deps.Validate(); err != nil {
		t.Errorf("Validate() = %v", err)
	}
}

func TestBuild_MissingCollaborators(t *testing.T) {
	cfg := fullConfig()
	delete(cfg.Collaborators, config.CollabOracle)
	cfg.Collaborators[config.CollabArbiter] = "  "

	_, err := Build(t.TempDir(), cfg, Options{})
	if !errors.Is(err, errors.ErrMissingCapability) {
		t.Fatalf("Build() error = %v, want ErrMissingCapability", err)
	}
	if !strings.Contains(err.Error(), "collaborators.arbiter, collaborators.oracle") {
		t.Errorf("error = %q", err)
	}
}

func TestPrompter(t *testing.T) {
	var out bytes.Buffer
	p := NewPrompter(strings.NewReader("  a calculator  \nintegers only"), &out)
	if p.Interactive() {
		t.Error("Interactive() = true for a string reader")
	}
	ctx := context.Background()

	first, err := p.Ask(ctx, "Describe your software idea")
	if err != nil || first != "a calculator" {
		t.Errorf("Ask() = %q, %v", first, err)
	}
	second, err := p.Ask(ctx, "Which numbers?")
	if err != nil || second != "integers only" {
		t.Errorf("Ask() = %q, %v", second, err)
	}
	if _, err := p.Ask(ctx, "Anything else?"); !errors.Is(err, errors.ErrInvalidInput) {
		t.Errorf("Ask() at EOF error = %v, want ErrInvalidInput", err)
	}
	if !strings.Contains(out.String(), "Which numbers?\n") {
		t.Errorf("output = %q", out.String())
	}
}
