package errors

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestSeverity_String(t *testing.T) {
	tests := []struct {
		severity Severity
		want     string
	}{
		{SeverityWarning, "warning"},
		{SeverityError, "error"},
		{SeverityCritical, "critical"},
		{Severity(99), "unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			if got := tt.severity.String(); got != tt.want {
				t.Errorf("Severity.String() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestNewFault(t *testing.T) {
	cause := fmt.Errorf("boom")
	err := NewFault("project", "project.scaffold", cause)

	if err.Kind != KindFault {
		t.Errorf("Kind = %v, want %v", err.Kind, KindFault)
	}
	if !errors.Is(err, cause) {
		t.Error("errors.Is(err, cause) = false, want true")
	}
	if err.Severity() != SeverityCritical {
		t.Errorf("Severity() = %v, want %v", err.Severity(), SeverityCritical)
	}
	want := "fault [graph=project node=project.scaffold]: node execution failed: boom"
	if got := err.Error(); got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
}

func TestNewFault_InitialNode(t *testing.T) {
	err := NewFault("project", "", New("no input"))
	if !strings.Contains(err.Error(), "initial node failed") {
		t.Errorf("Error() = %q, want it to mention the initial node", err.Error())
	}
}

func TestNewSignal(t *testing.T) {
	err := NewSignal("unit", "unit.sentinel", "mutant survived")

	if err.Kind != KindSignal {
		t.Errorf("Kind = %v, want %v", err.Kind, KindSignal)
	}
	if err.Unwrap() != nil {
		t.Errorf("Unwrap() = %v, want nil", err.Unwrap())
	}
	want := "signal [graph=unit node=unit.sentinel]: mutant survived"
	if got := err.Error(); got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
}

func TestClassification(t *testing.T) {
	signal := NewSignal("unit", "unit.red", "bad")
	fault := NewFault("project", "project.units", New("crash"))
	nested := NewFault("project", "project.units", NewSignal("unit", "unit.red", "inner"))

	tests := []struct {
		name       string
		err        error
		wantFault  bool
		wantSignal bool
		wantMsg    string
	}{
		{"nil", nil, false, false, ""},
		{"plain error", New("plain"), false, false, ""},
		{"signal", signal, false, true, "bad"},
		{"wrapped signal", fmt.Errorf("outer: %w", signal), false, true, "bad"},
		{"fault", fault, true, false, ""},
		{"fault wrapping signal", nested, true, false, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsFault(tt.err); got != tt.wantFault {
				t.Errorf("IsFault() = %v, want %v", got, tt.wantFault)
			}
			if got := IsSignal(tt.err); got != tt.wantSignal {
				t.Errorf("IsSignal() = %v, want %v", got, tt.wantSignal)
			}
			msg, ok := SignalMessage(tt.err)
			if ok != tt.wantSignal || msg != tt.wantMsg {
				t.Errorf("SignalMessage() = (%q, %v), want (%q, %v)", msg, ok, tt.wantMsg, tt.wantSignal)
			}
		})
	}
}

func TestValidationError(t *testing.T) {
	err := NewValidationError("specification", "too short", 12)
	if !errors.Is(err, ErrInvalidInput) {
		t.Error("errors.Is(err, ErrInvalidInput) = false, want true")
	}
	if got := err.Error(); got != "validation failed [specification]: too short" {
		t.Errorf("Error() = %q", got)
	}
}

func TestWrap(t *testing.T) {
	if Wrap(nil, "msg") != nil {
		t.Error("Wrap(nil) should return nil")
	}
	if Wrapf(nil, "msg %d", 1) != nil {
		t.Error("Wrapf(nil) should return nil")
	}

	err := Wrapf(ErrCollaborator, "oracle %s", "x")
	if !errors.Is(err, ErrCollaborator) {
		t.Error("Wrapf() lost the cause")
	}
	if err.Error() != "oracle x: collaborator failed" {
		t.Errorf("Error() = %q", err.Error())
	}
}
