package event

import "time"

// Event is the interface that all events must implement.
type Event interface {
	// EventType returns "category.action", e.g. "node.dispatched".
	EventType() string
	Timestamp() time.Time
}

type baseEvent struct {
	eventType string
	timestamp time.Time
}

func (e baseEvent) EventType() string    { return e.eventType }
func (e baseEvent) Timestamp() time.Time { return e.timestamp }

func newBaseEvent(eventType string) baseEvent {
	return baseEvent{eventType: eventType, timestamp: time.Now()}
}

// Event types published by the engine and the pipeline.
const (
	TypeGraphStarted      = "graph.started"
	TypeGraphFinished     = "graph.finished"
	TypeNodeDispatched    = "node.dispatched"
	TypeCheckpointWritten = "checkpoint.written"
	TypeCheckpointSkipped = "checkpoint.skipped"
	TypeUnitStarted       = "unit.started"
	TypeUnitFinished      = "unit.finished"
	TypeAttemptRejected   = "attempt.rejected"
	TypeMutationScored    = "mutation.scored"
	TypeAgentTurn         = "agent.turn"
)

// -----------------------------------------------------------------------------
// Engine Events
// -----------------------------------------------------------------------------

// GraphStartedEvent is emitted when an engine begins a run.
type GraphStartedEvent struct {
	baseEvent
	RunID   string
	Graph   string
	Start   string // start node, empty when resuming
	Resumed bool
}

// NewGraphStartedEvent creates a GraphStartedEvent.
func NewGraphStartedEvent(runID, graph, start string, resumed bool) GraphStartedEvent {
	return GraphStartedEvent{
		baseEvent: newBaseEvent(TypeGraphStarted),
		RunID:     runID,
		Graph:     graph,
		Start:     start,
		Resumed:   resumed,
	}
}

// Outcome values carried by GraphFinishedEvent.
const (
	OutcomeTerminal = "terminal"
	OutcomeSignal   = "signal"
	OutcomeFault    = "fault"
)

// GraphFinishedEvent is emitted once per run with how it ended.
type GraphFinishedEvent struct {
	baseEvent
	RunID   string
	Graph   string
	Outcome string
	Detail  string // signal message or fault text
	Steps   int    // nodes dispatched by this process
}

// NewGraphFinishedEvent creates a GraphFinishedEvent.
func NewGraphFinishedEvent(runID, graph, outcome, detail string, steps int) GraphFinishedEvent {
	return GraphFinishedEvent{
		baseEvent: newBaseEvent(TypeGraphFinished),
		RunID:     runID,
		Graph:     graph,
		Outcome:   outcome,
		Detail:    detail,
		Steps:     steps,
	}
}

// NodeDispatchedEvent is emitted right before a node runs.
type NodeDispatchedEvent struct {
	baseEvent
	RunID string
	Graph string
	Node  string
}

// NewNodeDispatchedEvent creates a NodeDispatchedEvent.
func NewNodeDispatchedEvent(runID, graph, node string) NodeDispatchedEvent {
	return NodeDispatchedEvent{
		baseEvent: newBaseEvent(TypeNodeDispatched),
		RunID:     runID,
		Graph:     graph,
		Node:      node,
	}
}

// CheckpointEvent is emitted when a checkpoint is written, or skipped on resume.
type CheckpointEvent struct {
	baseEvent
	Graph  string
	Number int
	Node   string
}

// NewCheckpointWrittenEvent creates a CheckpointEvent for a new record.
func NewCheckpointWrittenEvent(graph string, number int, node string) CheckpointEvent {
	return CheckpointEvent{baseEvent: newBaseEvent(TypeCheckpointWritten), Graph: graph, Number: number, Node: node}
}

// NewCheckpointSkippedEvent creates a CheckpointEvent for a superseded record.
func NewCheckpointSkippedEvent(graph string, number int, node string) CheckpointEvent {
	return CheckpointEvent{baseEvent: newBaseEvent(TypeCheckpointSkipped), Graph: graph, Number: number, Node: node}
}

// -----------------------------------------------------------------------------
// Pipeline Events
// -----------------------------------------------------------------------------

// UnitStartedEvent is emitted when the project graph hands a unit to the unit graph.
type UnitStartedEvent struct {
	baseEvent
	Unit      string
	TestCases int
	Remaining int // units still queued after this one
}

// NewUnitStartedEvent creates a UnitStartedEvent.
func NewUnitStartedEvent(unit string, testCases, remaining int) UnitStartedEvent {
	return UnitStartedEvent{
		baseEvent: newBaseEvent(TypeUnitStarted),
		Unit:      unit,
		TestCases: testCases,
		Remaining: remaining,
	}
}

// UnitFinishedEvent is emitted with the marker recorded for a unit.
type UnitFinishedEvent struct {
	baseEvent
	Unit   string
	Marker string
}

// NewUnitFinishedEvent creates a UnitFinishedEvent.
func NewUnitFinishedEvent(unit, marker string) UnitFinishedEvent {
	return UnitFinishedEvent{baseEvent: newBaseEvent(TypeUnitFinished), Unit: unit, Marker: marker}
}

// AttemptRejectedEvent is emitted when a bounded retry loop rejects an attempt.
type AttemptRejectedEvent struct {
	baseEvent
	Step     string
	Attempt  int
	Max      int
	Feedback string
}

// NewAttemptRejectedEvent creates an AttemptRejectedEvent.
func NewAttemptRejectedEvent(step string, attempt, max int, feedback string) AttemptRejectedEvent {
	return AttemptRejectedEvent{
		baseEvent: newBaseEvent(TypeAttemptRejected),
		Step:      step,
		Attempt:   attempt,
		Max:       max,
		Feedback:  feedback,
	}
}

// MutationScoredEvent is emitted after each mutation analysis of a unit.
type MutationScoredEvent struct {
	baseEvent
	Unit      string
	Round     int
	Score     float64
	Total     int
	Surviving int
}

// NewMutationScoredEvent creates a MutationScoredEvent.
func NewMutationScoredEvent(unit string, round int, score float64, total, surviving int) MutationScoredEvent {
	return MutationScoredEvent{
		baseEvent: newBaseEvent(TypeMutationScored),
		Unit:      unit,
		Round:     round,
		Score:     score,
		Total:     total,
		Surviving: surviving,
	}
}

// AgentTurnEvent is emitted after each prompt sent to a coding agent.
type AgentTurnEvent struct {
	baseEvent
	Session  string
	Name     string
	Turn     int
	Duration time.Duration
	Touched  []string // files written during the turn, relative to the session dir
}

// NewAgentTurnEvent creates an AgentTurnEvent.
func NewAgentTurnEvent(session, name string, turn int, d time.Duration, touched []string) AgentTurnEvent {
	return AgentTurnEvent{
		baseEvent: newBaseEvent(TypeAgentTurn),
		Session:   session,
		Name:      name,
		Turn:      turn,
		Duration:  d,
		Touched:   touched,
	}
}
