// Package graph implements the checkpointed graph-execution engine.
//
// A graph is a set of named nodes. Each node receives a typed state value
// and the engine's dependencies, and returns one of three results:
//
//   - [Continuation]: run another node next, with the given state.
//   - [Terminal]: the run is finished; the value is returned to the caller.
//   - [ErrorSignal]: a deliberate, expected failure such as exhausted retries.
//
// [Engine.Run] invokes the start node, then dispatches continuations until a
// Terminal or ErrorSignal appears. With a checkpoint store configured, every
// continuation is persisted before it is dispatched, so a later Run against
// the same store resumes from the highest-numbered record instead of
// invoking the start node. Lower-numbered records are logged as skipped and
// never re-executed.
//
// Failures come back as *errors.RunError: a Fault when a node returned an
// error, panicked, or produced something that is not a result, and a Signal
// when an ErrorSignal reached the top. A node that runs a nested engine can
// tell the two apart with errors.IsSignal and decide locally.
//
// # Usage
//
//	g := graph.MustNew[*Deps]("unit",
//	    graph.NewNode("unit.iterate", iterate),
//	    graph.NewNode("unit.red", red),
//	)
//	engine := graph.NewEngine(g, deps, graph.WithCheckpoints(store))
//	unit, err := graph.RunAs[Unit](ctx, engine, "unit.iterate", initial)
package graph
