package graph

import "fmt"

// Result is the value a node returns. The only implementations are
// Continuation, Terminal and ErrorSignal.
type Result interface {
	isResult()
}

// Continuation names the next node and carries its input state. The state
// must be JSON-serializable when checkpointing is enabled.
type Continuation struct {
	Node  string
	State any
}

// Terminal ends the run with Value.
type Terminal struct {
	Value any
}

// ErrorSignal ends the run with a deliberate failure.
type ErrorSignal struct {
	Message string
}

func (Continuation) isResult() {}
func (Terminal) isResult()     {}
func (ErrorSignal) isResult()  {}

// MoveTo returns a Continuation to node with state.
func MoveTo(node string, state any) Continuation {
	return Continuation{Node: node, State: state}
}

// Finish returns a Terminal carrying v.
func Finish(v any) Terminal {
	return Terminal{Value: v}
}

// Fail returns an ErrorSignal with a formatted message.
func Fail(format string, args ...any) ErrorSignal {
	return ErrorSignal{Message: fmt.Sprintf(format, args...)}
}

// normalize converts pointer forms of the variants to values. Anything else,
// including a nil pointer, is returned unchanged for the engine to reject.
func normalize(r Result) Result {
	switch v := r.(type) {
	case *Continuation:
		if v != nil {
			return *v
		}
	case *Terminal:
		if v != nil {
			return *v
		}
	case *ErrorSignal:
		if v != nil {
			return *v
		}
	}
	return r
}
