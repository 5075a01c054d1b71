package graph

import (
	"context"
	"encoding/json"
	"fmt"
	"runtime/debug"

	"github.com/google/uuid"

	"github.com/Iron-Ham/breakfix/internal/checkpoint"
	"github.com/Iron-Ham/breakfix/internal/errors"
	"github.com/Iron-Ham/breakfix/internal/event"
	"github.com/Iron-Ham/breakfix/internal/logging"
)

// Engine runs one graph to completion. An Engine owns its checkpoint store
// and is not safe for concurrent Runs.
type Engine[D any] struct {
	graph  *Graph[D]
	deps   D
	store  *checkpoint.Store
	logger *logging.Logger
	bus    *event.Bus
	runID  string
}

type options struct {
	store  *checkpoint.Store
	logger *logging.Logger
	bus    *event.Bus
	runID  string
}

// Option configures an Engine.
type Option func(*options)

// WithCheckpoints enables checkpointing into store. A nil store disables it.
func WithCheckpoints(store *checkpoint.Store) Option {
	return func(o *options) { o.store = store }
}

// WithLogger sets the engine logger.
func WithLogger(l *logging.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithEvents publishes engine lifecycle events on bus.
func WithEvents(bus *event.Bus) Option {
	return func(o *options) { o.bus = bus }
}

// WithRunID sets the run identifier stamped on logs and checkpoints.
// By default a random UUID is generated.
func WithRunID(id string) Option {
	return func(o *options) {
		if id != "" {
			o.runID = id
		}
	}
}

// NewEngine creates an engine for g with the given dependencies.
func NewEngine[D any](g *Graph[D], deps D, opts ...Option) *Engine[D] {
	o := options{logger: logging.NopLogger()}
	for _, opt := range opts {
		opt(&o)
	}
	if o.runID == "" {
		o.runID = uuid.NewString()
	}
	return &Engine[D]{
		graph:  g,
		deps:   deps,
		store:  o.store,
		logger: o.logger.WithRun(o.runID).WithGraph(g.name),
		bus:    o.bus,
		runID:  o.runID,
	}
}

// RunID returns the run identifier.
func (e *Engine[D]) RunID() string { return e.runID }

// Graph returns the graph the engine runs.
func (e *Engine[D]) Graph() *Graph[D] { return e.graph }

// Run executes the graph and returns the terminal value.
//
// If the checkpoint store holds records, the highest-numbered one is taken
// as the just-produced result and start/args are ignored; every lower record
// is logged as skipped. Otherwise start is invoked with args.
//
// A resumed terminal value is returned as json.RawMessage; use RunAs or
// ValueAs to obtain a typed value either way.
func (e *Engine[D]) Run(ctx context.Context, start string, args any) (any, error) {
	current, from, resumed, err := e.begin(ctx, start, args)
	if err != nil {
		return nil, e.fault(from, err, 0)
	}

	// A restored continuation is already on disk under its own number.
	persist := !resumed
	steps := 0
	for {
		switch r := normalize(current).(type) {
		case Continuation:
			if err := ctx.Err(); err != nil {
				return nil, e.fault(from, fmt.Errorf("run cancelled before %s: %w", r.Node, err), steps)
			}
			node, err := e.graph.lookup(r.Node)
			if err != nil {
				return nil, e.fault(from, err, steps)
			}
			if persist {
				if err := e.persistContinuation(r); err != nil {
					return nil, e.fault(from, err, steps)
				}
			}
			persist = true

			e.logger.Info("dispatching", "node", r.Node)
			e.bus.Publish(event.NewNodeDispatchedEvent(e.runID, e.graph.name, r.Node))

			from = r.Node
			current, err = e.invoke(ctx, node, r.State)
			steps++
			if err != nil {
				return nil, e.fault(from, err, steps)
			}

		case Terminal:
			if !resumed || steps > 0 {
				if err := e.persistTerminal(r); err != nil {
					return nil, e.fault(from, err, steps)
				}
			}
			e.logger.Info("graph finished", "steps", steps)
			e.bus.Publish(event.NewGraphFinishedEvent(e.runID, e.graph.name, event.OutcomeTerminal, "", steps))
			return r.Value, nil

		case ErrorSignal:
			e.logger.Warn("graph signalled", "from", from, "message", r.Message, "steps", steps)
			e.bus.Publish(event.NewGraphFinishedEvent(e.runID, e.graph.name, event.OutcomeSignal, r.Message, steps))
			return nil, errors.NewSignal(e.graph.name, from, r.Message)

		case nil:
			return nil, e.fault(from, fmt.Errorf("%w from %s", errors.ErrNilResult, describe(from)), steps)

		default:
			return nil, e.fault(from, fmt.Errorf("%w: %T from %s", errors.ErrUnknownResult, current, describe(from)), steps)
		}
	}
}

func describe(node string) string {
	if node == "" {
		return "start node"
	}
	return node
}

// begin produces the first result: restored from the latest checkpoint, or
// from invoking the start node. from names the node the result came from.
func (e *Engine[D]) begin(ctx context.Context, start string, args any) (current Result, from string, resumed bool, err error) {
	if e.store != nil {
		records, err := e.store.Load()
		if err != nil {
			return nil, "", false, err
		}
		if len(records) > 0 {
			current, from, err := e.resume(records)
			return current, from, true, err
		}
	}

	e.logger.Info("graph started", "start", start)
	e.bus.Publish(event.NewGraphStartedEvent(e.runID, e.graph.name, start, false))

	node, err := e.graph.lookup(start)
	if err != nil {
		return nil, "", false, err
	}
	current, err = e.invoke(ctx, node, args)
	if err != nil {
		return nil, "", false, fmt.Errorf("%s: %w", start, err)
	}
	return current, start, false, nil
}

func (e *Engine[D]) resume(records []checkpoint.Record) (Result, string, error) {
	latest := records[len(records)-1]
	if latest.Graph != e.graph.name {
		return nil, "", fmt.Errorf("%w: %s holds graph %q, want %q",
			errors.ErrGraphMismatch, checkpoint.FileName(latest.Number), latest.Graph, e.graph.name)
	}

	for _, rec := range records[:len(records)-1] {
		e.logger.Info(fmt.Sprintf("skipping checkpoint %d", rec.Number), "checkpoint", rec.Number, "node", rec.Node)
		e.bus.Publish(event.NewCheckpointSkippedEvent(e.graph.name, rec.Number, rec.Node))
	}
	e.logger.Info(fmt.Sprintf("resuming from checkpoint %d", latest.Number),
		"checkpoint", latest.Number, "kind", string(latest.Kind), "node", latest.Node)
	e.bus.Publish(event.NewGraphStartedEvent(e.runID, e.graph.name, "", true))

	switch latest.Kind {
	case checkpoint.KindContinuation:
		node, err := e.graph.lookup(latest.Node)
		if err != nil {
			return nil, "", err
		}
		state, err := node.decode(latest.State)
		if err != nil {
			return nil, "", err
		}
		return Continuation{Node: latest.Node, State: state}, latest.Node, nil
	case checkpoint.KindTerminal:
		return Terminal{Value: latest.Value}, latest.Node, nil
	case checkpoint.KindSignal:
		return ErrorSignal{Message: latest.Message}, latest.Node, nil
	default:
		return nil, "", fmt.Errorf("%w: unknown kind %q", errors.ErrCheckpointCorrupt, latest.Kind)
	}
}

// invoke runs one node, converting a panic into an error.
func (e *Engine[D]) invoke(ctx context.Context, node Node[D], state any) (res Result, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("panic in node %s: %v\n%s", node.Name(), p, debug.Stack())
		}
	}()
	return node.run(ctx, state, e.deps)
}

func (e *Engine[D]) persistContinuation(c Continuation) error {
	if e.store == nil {
		return nil
	}
	raw, err := json.Marshal(c.State)
	if err != nil {
		return fmt.Errorf("serialize state for %s: %w", c.Node, err)
	}
	rec, err := e.store.Append(checkpoint.Record{
		RunID: e.runID,
		Graph: e.graph.name,
		Kind:  checkpoint.KindContinuation,
		Node:  c.Node,
		State: raw,
	})
	if err != nil {
		return fmt.Errorf("write checkpoint: %w", err)
	}
	e.logger.Debug("checkpoint written", "checkpoint", rec.Number, "node", c.Node)
	e.bus.Publish(event.NewCheckpointWrittenEvent(e.graph.name, rec.Number, c.Node))
	return nil
}

// persistTerminal records the final value so a rerun against the same store
// returns it without dispatching again.
func (e *Engine[D]) persistTerminal(t Terminal) error {
	if e.store == nil {
		return nil
	}
	raw, err := json.Marshal(t.Value)
	if err != nil {
		return fmt.Errorf("serialize terminal value: %w", err)
	}
	rec, err := e.store.Append(checkpoint.Record{
		RunID: e.runID,
		Graph: e.graph.name,
		Kind:  checkpoint.KindTerminal,
		Value: raw,
	})
	if err != nil {
		return fmt.Errorf("write checkpoint: %w", err)
	}
	e.logger.Debug("checkpoint written", "checkpoint", rec.Number, "kind", string(rec.Kind))
	e.bus.Publish(event.NewCheckpointWrittenEvent(e.graph.name, rec.Number, ""))
	return nil
}

func (e *Engine[D]) fault(node string, cause error, steps int) error {
	runErr := errors.NewFault(e.graph.name, node, cause)
	e.logger.Error("graph fault", "from", node, "error", cause.Error(), "steps", steps)
	e.bus.Publish(event.NewGraphFinishedEvent(e.runID, e.graph.name, event.OutcomeFault, cause.Error(), steps))
	return runErr
}

// RunAs runs the engine and converts the terminal value to T.
func RunAs[T, D any](ctx context.Context, e *Engine[D], start string, args any) (T, error) {
	v, err := e.Run(ctx, start, args)
	if err != nil {
		var zero T
		return zero, err
	}
	return ValueAs[T](v)
}

// ValueAs converts a terminal value to T. Values restored from a checkpoint
// arrive as json.RawMessage and are decoded.
func ValueAs[T any](v any) (T, error) {
	var zero T
	if t, ok := v.(T); ok {
		return t, nil
	}
	switch raw := v.(type) {
	case nil:
		return zero, nil
	case json.RawMessage:
		var t T
		if err := json.Unmarshal(raw, &t); err != nil {
			return zero, fmt.Errorf("decode terminal value as %T: %w", zero, err)
		}
		return t, nil
	}
	return zero, fmt.Errorf("%w: terminal value is %T, want %T", errors.ErrUnknownResult, v, zero)
}
