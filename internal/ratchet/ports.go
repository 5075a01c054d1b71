package ratchet

import (
	"context"

	"github.com/Iron-Ham/breakfix/internal/coverage"
	"github.com/Iron-Ham/breakfix/internal/suite"
)

// Suite is the part of suite.Runner the ratchet uses.
type Suite interface {
	Inventory(ctx context.Context) (suite.Inventory, error)
	RunOne(ctx context.Context, test string) (suite.Outcome, error)
	RunAll(ctx context.Context) (suite.Outcome, error)
	Coverage(ctx context.Context) (suite.Outcome, *coverage.Report, error)
	TestFile(unit string) string
}

// TestReview asks whether a new test implements its test case.
type TestReview struct {
	Unit      string `json:"unit"`
	Signature string `json:"signature"`
	Spec      string `json:"test_spec"`
	TestID    string `json:"test_id"`
	Source    string `json:"test_source"`
}

// Review is the reviewer's verdict.
type Review struct {
	Valid  bool   `json:"is_valid"`
	Reason string `json:"reason"`
}

// Reviewer validates a new test against its specification.
type Reviewer interface {
	ReviewTest(ctx context.Context, req TestReview) (Review, error)
}

// Arbitration asks whether a test that already passes is worth keeping.
type Arbitration struct {
	Spec         string `json:"test_spec"`
	TestID       string `json:"test_id"`
	TestFunction string `json:"test_function_name"`
	Source       string `json:"test_source"`
}

// Decision keeps a passing test when it adds confidence or documents a
// meaningfully different scenario.
type Decision struct {
	Keep          bool   `json:"keep_test"`
	Confidence    bool   `json:"confidence_value"`
	Communication bool   `json:"communication_value"`
	Reasoning     string `json:"reasoning"`
}

// Arbiter decides the fate of tests that pass before any implementation.
type Arbiter interface {
	Arbitrate(ctx context.Context, req Arbitration) (Decision, error)
}
