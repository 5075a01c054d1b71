// Package internal contains integration tests that drive the graph engine
// together with its checkpoint store, event bus and log files.
package internal

import (
	"context"
	"sync"
	"testing"

	"github.com/Iron-Ham/breakfix/internal/checkpoint"
	"github.com/Iron-Ham/breakfix/internal/errors"
	"github.com/Iron-Ham/breakfix/internal/event"
	"github.com/Iron-Ham/breakfix/internal/graph"
	"github.com/Iron-Ham/breakfix/internal/logging"
)

type trail struct {
	Steps []string `json:"steps"`
}

// flaky counts node invocations and fails "b" until told otherwise.
type flaky struct {
	mu    sync.Mutex
	calls map[string]int
	failB bool
}

func (f *flaky) visit(node string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[node]++
}

var demoGraph = graph.MustNew("demo",
	graph.NewNode("demo.a", func(_ context.Context, s trail, f *flaky) (graph.Result, error) {
		f.visit("a")
		s.Steps = append(s.Steps, "a")
		return graph.MoveTo("demo.b", s), nil
	}),
	graph.NewNode("demo.b", func(_ context.Context, s trail, f *flaky) (graph.Result, error) {
		f.visit("b")
		if f.failB {
			return nil, errors.New("collaborator crashed")
		}
		s.Steps = append(s.Steps, "b")
		return graph.MoveTo("demo.c", s), nil
	}),
	graph.NewNode("demo.c", func(_ context.Context, s trail, f *flaky) (graph.Result, error) {
		f.visit("c")
		s.Steps = append(s.Steps, "c")
		return graph.Finish(s), nil
	}),
)

// recorder collects event types in publish order.
type recorder struct {
	mu    sync.Mutex
	types []string
}

func (r *recorder) handle(e event.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.types = append(r.types, e.EventType())
}

func (r *recorder) count(eventType string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, t := range r.types {
		if t == eventType {
			n++
		}
	}
	return n
}

// TestResumeAfterFault runs a graph that faults midway, resumes it from its
// checkpoint in a fresh engine, then reruns the finished graph.
func TestResumeAfterFault(t *testing.T) {
	dir := t.TempDir()
	store := checkpoint.NewStore(dir + "/checkpoints")
	logger, err := logging.Open(dir, "debug", logging.DefaultRotationConfig())
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	bus := event.NewBus(logger)
	rec := &recorder{}
	bus.SubscribeAll(rec.handle)

	deps := &flaky{calls: map[string]int{}, failB: true}
	newEngine := func() *graph.Engine[*flaky] {
		return graph.NewEngine(demoGraph, deps,
			graph.WithCheckpoints(store),
			graph.WithLogger(logger),
			graph.WithEvents(bus),
		)
	}
	ctx := context.Background()

	// First run: b faults after a's continuation was checkpointed.
	_, err = graph.RunAs[trail](ctx, newEngine(), "demo.a", trail{})
	if !errors.IsFault(err) {
		t.Fatalf("first run error = %v, want a fault", err)
	}
	records, err := store.Load()
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 1 || records[0].Node != "demo.b" {
		t.Fatalf("records after fault = %+v", records)
	}

	// Second run: resumes at b without invoking a again.
	deps.failB = false
	got, err := graph.RunAs[trail](ctx, newEngine(), "demo.a", trail{})
	if err != nil {
		t.Fatalf("resumed run error = %v", err)
	}
	if want := []string{"a", "b", "c"}; len(got.Steps) != 3 || got.Steps[0] != want[0] || got.Steps[2] != want[2] {
		t.Errorf("resumed run = %v, want %v", got.Steps, want)
	}
	if deps.calls["a"] != 1 || deps.calls["b"] != 2 || deps.calls["c"] != 1 {
		t.Errorf("calls = %v", deps.calls)
	}

	// Third run: the terminal checkpoint is returned as is.
	again, err := graph.RunAs[trail](ctx, newEngine(), "demo.a", trail{})
	if err != nil {
		t.Fatalf("finished run error = %v", err)
	}
	if len(again.Steps) != 3 || deps.calls["c"] != 1 {
		t.Errorf("finished run = %v, calls = %v", again.Steps, deps.calls)
	}

	records, err = store.Load()
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 3 || records[2].Kind != checkpoint.KindTerminal {
		t.Errorf("records = %d, last kind = %s", len(records), records[len(records)-1].Kind)
	}
	if n := rec.count(event.TypeGraphFinished); n != 3 {
		t.Errorf("graph finished events = %d, want 3", n)
	}
	if n := rec.count(event.TypeCheckpointSkipped); n != 2 {
		t.Errorf("checkpoint skipped events = %d, want 2", n)
	}

	if err := logger.Close(); err != nil {
		t.Fatal(err)
	}
	entries, err := logging.AggregateLogs(dir)
	if err != nil {
		t.Fatal(err)
	}
	resumed := logging.FilterLogs(entries, logging.LogFilter{Graph: "demo", MessageContains: "resuming from checkpoint"})
	if len(resumed) != 2 {
		t.Errorf("resume log entries = %d, want 2", len(resumed))
	}
	faults := logging.FilterLogs(entries, logging.LogFilter{Level: "error"})
	if len(faults) != 1 || faults[0].Message != "graph fault" {
		t.Errorf("error entries = %+v", faults)
	}
}
