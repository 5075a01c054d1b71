// Package errors provides centralized error definitions and error handling utilities
// for breakfix. It defines sentinel errors, the run error returned by the graph
// engine, and classification helpers used by callers that invoke nested graphs.
//
// # Run Errors
//
// A graph run fails in exactly one of two ways:
//
//   - Fault: a node returned an error or panicked. This is the bug/crash class
//     and is always fatal to the whole run.
//   - Signal: a node deliberately returned an ErrorSignal, usually after its
//     local retries were exhausted. It is fatal to the engine instance that
//     produced it, but a node that started a nested engine may catch it and
//     decide locally.
//
// Both are represented by [RunError] and told apart with [IsFault] and
// [IsSignal]:
//
//	value, err := engine.Run(ctx, "unit.start", unit)
//	if errors.IsSignal(err) {
//	    msg, _ := errors.SignalMessage(err)
//	    // record the unit as failed and continue
//	}
//
// # Usage
//
// Checking errors:
//
//	if errors.Is(err, errors.ErrUnknownNode) { ... }
//
//	var runErr *errors.RunError
//	if errors.As(err, &runErr) { ... }
package errors

import (
	"errors"
	"fmt"
	"strings"
)

// Re-export standard library functions for convenience.
// This allows callers to import only this package for all error handling.
var (
	Is     = errors.Is
	As     = errors.As
	Unwrap = errors.Unwrap
	New    = errors.New
	Join   = errors.Join
)

// Severity represents the severity level of an error.
type Severity int

const (
	// SeverityWarning is for errors that might indicate a problem but aren't critical.
	SeverityWarning Severity = iota
	// SeverityError is for errors that indicate a real problem.
	SeverityError
	// SeverityCritical is for errors that require immediate attention.
	SeverityCritical
)

// String returns the string representation of the severity level.
func (s Severity) String() string {
	switch s {
	case SeverityWarning:
		return "warning"
	case SeverityError:
		return "error"
	case SeverityCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// -----------------------------------------------------------------------------
// Sentinel Errors
// -----------------------------------------------------------------------------

// Engine-related sentinel errors
var (
	// ErrUnknownNode indicates a continuation named a node the graph does not define.
	ErrUnknownNode = New("unknown node")
	// ErrUnknownResult indicates a node produced a value outside the three result variants.
	ErrUnknownResult = New("unknown node result")
	// ErrNilResult indicates a node returned neither a result nor an error.
	ErrNilResult = New("node returned no result")
	// ErrStateType indicates a continuation carried state of the wrong type for its node.
	ErrStateType = New("state type mismatch")
	// ErrDuplicateNode indicates a graph was built with two nodes of the same name.
	ErrDuplicateNode = New("duplicate node")
)

// Checkpoint-related sentinel errors
var (
	// ErrCheckpointCorrupt indicates a checkpoint record could not be decoded.
	ErrCheckpointCorrupt = New("checkpoint corrupted")
	// ErrCheckpointExists indicates an attempt to overwrite an existing checkpoint number.
	ErrCheckpointExists = New("checkpoint already exists")
	// ErrGraphMismatch indicates a checkpoint directory belongs to a different graph.
	ErrGraphMismatch = New("checkpoint belongs to a different graph")
)

// Pipeline-related sentinel errors
var (
	// ErrRetriesExhausted indicates a bounded retry loop ran out of attempts.
	ErrRetriesExhausted = New("retries exhausted")
	// ErrCollaborator indicates an external collaborator failed to produce a usable response.
	ErrCollaborator = New("collaborator failed")
	// ErrMissingCapability indicates the capability bag lacks a required collaborator.
	ErrMissingCapability = New("missing capability")
	// ErrInvalidInput indicates that input validation failed.
	ErrInvalidInput = New("invalid input")
)

// -----------------------------------------------------------------------------
// Run Errors
// -----------------------------------------------------------------------------

// Kind distinguishes the two ways a graph run can fail.
type Kind int

const (
	// KindFault is an unexpected error or panic inside a node.
	KindFault Kind = iota
	// KindSignal is a deliberate ErrorSignal that reached the top of a graph.
	KindSignal
)

// String returns the string representation of the kind.
func (k Kind) String() string {
	switch k {
	case KindFault:
		return "fault"
	case KindSignal:
		return "signal"
	default:
		return "unknown"
	}
}

// RunError is the error returned by a graph run.
//
// Example:
//
//	err := errors.NewSignal("unit", "unit.sentinel", "mutant survived")
//	fmt.Println(err) // "signal [graph=unit node=unit.sentinel]: mutant survived"
type RunError struct {
	Kind    Kind
	Graph   string
	Node    string
	Message string
	Err     error
}

// NewFault wraps an unexpected node error.
func NewFault(graph, node string, cause error) *RunError {
	msg := "node execution failed"
	if node == "" {
		msg = "initial node failed"
	}
	return &RunError{
		Kind:    KindFault,
		Graph:   graph,
		Node:    node,
		Message: msg,
		Err:     cause,
	}
}

// NewSignal creates a Signal carrying the message of an ErrorSignal.
func NewSignal(graph, node, message string) *RunError {
	return &RunError{
		Kind:    KindSignal,
		Graph:   graph,
		Node:    node,
		Message: message,
	}
}

// Error returns the error message with graph and node context.
func (e *RunError) Error() string {
	var sb strings.Builder
	sb.WriteString(e.Kind.String())

	var ctx []string
	if e.Graph != "" {
		ctx = append(ctx, fmt.Sprintf("graph=%s", e.Graph))
	}
	if e.Node != "" {
		ctx = append(ctx, fmt.Sprintf("node=%s", e.Node))
	}
	if len(ctx) > 0 {
		sb.WriteString(" [")
		sb.WriteString(strings.Join(ctx, " "))
		sb.WriteString("]")
	}

	sb.WriteString(": ")
	sb.WriteString(e.Message)

	if e.Err != nil {
		sb.WriteString(": ")
		sb.WriteString(e.Err.Error())
	}
	return sb.String()
}

// Unwrap returns the underlying cause of a Fault.
func (e *RunError) Unwrap() error {
	return e.Err
}

// Severity returns SeverityCritical for faults and SeverityError for signals.
func (e *RunError) Severity() Severity {
	if e.Kind == KindFault {
		return SeverityCritical
	}
	return SeverityError
}

// IsFault reports whether err is, or wraps, a Fault.
// A Signal wrapped inside a Fault (a nested engine fault) still counts as a Fault
// at the outermost level.
func IsFault(err error) bool {
	var runErr *RunError
	if As(err, &runErr) {
		return runErr.Kind == KindFault
	}
	return false
}

// IsSignal reports whether the outermost run error in err's chain is a Signal.
func IsSignal(err error) bool {
	var runErr *RunError
	if As(err, &runErr) {
		return runErr.Kind == KindSignal
	}
	return false
}

// SignalMessage returns the message of the outermost Signal in err's chain.
func SignalMessage(err error) (string, bool) {
	var runErr *RunError
	if As(err, &runErr) && runErr.Kind == KindSignal {
		return runErr.Message, true
	}
	return "", false
}

// -----------------------------------------------------------------------------
// Semantic Errors
// -----------------------------------------------------------------------------

// ValidationError represents invalid input or state.
type ValidationError struct {
	Field   string
	Value   any
	Message string
}

// NewValidationError creates a new ValidationError.
func NewValidationError(field, message string, value any) *ValidationError {
	return &ValidationError{Field: field, Value: value, Message: message}
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("validation failed: %s", e.Message)
	}
	return fmt.Sprintf("validation failed [%s]: %s", e.Field, e.Message)
}

// Is matches ErrInvalidInput.
func (e *ValidationError) Is(target error) bool {
	return target == ErrInvalidInput
}

// -----------------------------------------------------------------------------
// Wrapping Helpers
// -----------------------------------------------------------------------------

// Wrap wraps an error with a message. Returns nil if err is nil.
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// Wrapf wraps an error with a formatted message. Returns nil if err is nil.
func Wrapf(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)
}
