package graph

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"testing"

	"github.com/Iron-Ham/breakfix/internal/checkpoint"
	"github.com/Iron-Ham/breakfix/internal/errors"
	"github.com/Iron-Ham/breakfix/internal/event"
	"github.com/Iron-Ham/breakfix/internal/logging"
)

// deps records which nodes ran, so tests can assert nothing is re-executed.
type deps struct {
	calls []string
	// failAt makes the named node return an error the first time it runs.
	failAt string
}

func (d *deps) hit(name string) { d.calls = append(d.calls, name) }

type counter struct {
	N int `json:"n"`
}

// chain is start -> step1 -> step2 -> step3 -> Terminal(n).
func chain() *Graph[*deps] {
	step := func(name, next string) Node[*deps] {
		return NewNode(name, func(_ context.Context, c counter, d *deps) (Result, error) {
			d.hit(name)
			if d.failAt == name {
				d.failAt = ""
				return nil, fmt.Errorf("interrupted at %s", name)
			}
			c.N++
			if next == "" {
				return Finish(c.N), nil
			}
			return MoveTo(next, c), nil
		})
	}
	return MustNew("chain",
		step("start", "step1"),
		step("step1", "step2"),
		step("step2", "step3"),
		step("step3", ""),
	)
}

func TestRun_TerminalWithoutCheckpoints(t *testing.T) {
	dir := t.TempDir()
	g := MustNew("answer", NewNode("start", func(context.Context, any, *deps) (Result, error) {
		return Finish(42), nil
	}))

	v, err := NewEngine(g, &deps{}).Run(context.Background(), "start", nil)
	if err != nil {
		t.Fatalf("Run() failed: %v", err)
	}
	if v != 42 {
		t.Errorf("Run() = %v, want 42", v)
	}
	entries, _ := os.ReadDir(dir)
	if len(entries) != 0 {
		t.Errorf("checkpoint files written with checkpointing disabled: %v", entries)
	}
}

func TestRun_ErrorSignalSurfacesAsSignal(t *testing.T) {
	g := MustNew("sig",
		NewNode("start", func(context.Context, any, *deps) (Result, error) {
			return MoveTo("b", nil), nil
		}),
		NewNode("b", func(context.Context, any, *deps) (Result, error) {
			return Fail("bad"), nil
		}),
	)

	_, err := NewEngine(g, &deps{}).Run(context.Background(), "start", nil)
	if !errors.IsSignal(err) {
		t.Fatalf("Run() error = %v, want Signal", err)
	}
	if msg, _ := errors.SignalMessage(err); msg != "bad" {
		t.Errorf("signal message = %q, want %q", msg, "bad")
	}
	var runErr *errors.RunError
	if errors.As(err, &runErr) && runErr.Node != "b" {
		t.Errorf("signal node = %q, want b", runErr.Node)
	}
}

func TestRun_ResumeSkipsOlderCheckpoints(t *testing.T) {
	store := checkpoint.NewStore(t.TempDir())

	// First process: dies inside step3 after checkpoints 1 (step1), 2 (step2)
	// and 3 (step3) were written.
	first := &deps{failAt: "step3"}
	_, err := NewEngine(chain(), first, WithCheckpoints(store)).Run(context.Background(), "start", counter{})
	if !errors.IsFault(err) {
		t.Fatalf("first Run() error = %v, want Fault", err)
	}
	records, _ := store.Load()
	if len(records) != 3 {
		t.Fatalf("expected 3 checkpoints after interruption, got %d", len(records))
	}

	// Second process, same directory.
	var buf bytes.Buffer
	second := &deps{}
	v, err := NewEngine(chain(), second,
		WithCheckpoints(store),
		WithLogger(logging.New(&buf, logging.LevelInfo)),
	).Run(context.Background(), "start", counter{})
	if err != nil {
		t.Fatalf("resumed Run() failed: %v", err)
	}

	n, err := ValueAs[int](v)
	if err != nil || n != 4 {
		t.Errorf("resumed value = %v (%v), want 4", v, err)
	}
	if got := strings.Join(second.calls, ","); got != "step3" {
		t.Errorf("resumed run dispatched %q, want only step3", got)
	}
	logs := buf.String()
	for _, want := range []string{"skipping checkpoint 1", "skipping checkpoint 2", "resuming from checkpoint 3"} {
		if !strings.Contains(logs, want) {
			t.Errorf("logs missing %q:\n%s", want, logs)
		}
	}

	// The terminal value is recorded as checkpoint 4; numbers stay strictly increasing.
	records, _ = store.Load()
	for i, rec := range records {
		if rec.Number != i+1 {
			t.Errorf("records[%d].Number = %d", i, rec.Number)
		}
	}
	if last := records[len(records)-1]; last.Kind != checkpoint.KindTerminal {
		t.Errorf("last record kind = %s, want terminal", last.Kind)
	}
}

func TestRun_ReplayEquivalence(t *testing.T) {
	want, err := NewEngine(chain(), &deps{}).Run(context.Background(), "start", counter{})
	if err != nil {
		t.Fatalf("uninterrupted Run() failed: %v", err)
	}

	for _, interruptAt := range []string{"step1", "step2", "step3"} {
		t.Run(interruptAt, func(t *testing.T) {
			store := checkpoint.NewStore(t.TempDir())
			_, _ = NewEngine(chain(), &deps{failAt: interruptAt}, WithCheckpoints(store)).
				Run(context.Background(), "start", counter{})

			got, err := RunAs[int](context.Background(),
				NewEngine(chain(), &deps{}, WithCheckpoints(store)), "start", counter{})
			if err != nil {
				t.Fatalf("resumed Run() failed: %v", err)
			}
			if got != want {
				t.Errorf("resumed value = %d, want %v", got, want)
			}
		})
	}
}

func TestRun_CompletedRunReturnsRecordedValue(t *testing.T) {
	store := checkpoint.NewStore(t.TempDir())
	if _, err := NewEngine(chain(), &deps{}, WithCheckpoints(store)).Run(context.Background(), "start", counter{}); err != nil {
		t.Fatal(err)
	}

	again := &deps{}
	got, err := RunAs[int](context.Background(), NewEngine(chain(), again, WithCheckpoints(store)), "start", counter{})
	if err != nil {
		t.Fatalf("Run() failed: %v", err)
	}
	if got != 4 || len(again.calls) != 0 {
		t.Errorf("got %d with calls %v, want 4 and no dispatch", got, again.calls)
	}
}

func TestRun_Faults(t *testing.T) {
	tests := []struct {
		name    string
		nodes   []Node[*deps]
		wantErr error
		wantMsg string
	}{
		{
			name: "start node error",
			nodes: []Node[*deps]{NewNode("start", func(context.Context, any, *deps) (Result, error) {
				return nil, errors.New("no input")
			})},
			wantMsg: "initial node failed",
		},
		{
			name: "panic",
			nodes: []Node[*deps]{
				NewNode("start", func(context.Context, any, *deps) (Result, error) { return MoveTo("boom", nil), nil }),
				NewNode("boom", func(context.Context, any, *deps) (Result, error) { panic("kaboom") }),
			},
			wantMsg: "panic in node boom: kaboom",
		},
		{
			name: "unknown node",
			nodes: []Node[*deps]{NewNode("start", func(context.Context, any, *deps) (Result, error) {
				return MoveTo("nowhere", nil), nil
			})},
			wantErr: errors.ErrUnknownNode,
		},
		{
			name: "nil result",
			nodes: []Node[*deps]{NewNode("start", func(context.Context, any, *deps) (Result, error) {
				return nil, nil
			})},
			wantErr: errors.ErrNilResult,
		},
		{
			name: "nil pointer result",
			nodes: []Node[*deps]{NewNode("start", func(context.Context, any, *deps) (Result, error) {
				var c *Continuation
				return c, nil
			})},
			wantErr: errors.ErrUnknownResult,
		},
		{
			name: "state type mismatch",
			nodes: []Node[*deps]{
				NewNode("start", func(context.Context, any, *deps) (Result, error) { return MoveTo("typed", "text"), nil }),
				NewNode("typed", func(context.Context, counter, *deps) (Result, error) { return Finish(nil), nil }),
			},
			wantErr: errors.ErrStateType,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := MustNew("faulty", tt.nodes...)
			_, err := NewEngine(g, &deps{}).Run(context.Background(), "start", nil)
			if !errors.IsFault(err) {
				t.Fatalf("Run() error = %v, want Fault", err)
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Errorf("Run() error = %v, want %v", err, tt.wantErr)
			}
			if tt.wantMsg != "" && !strings.Contains(err.Error(), tt.wantMsg) {
				t.Errorf("Run() error = %q, want it to contain %q", err.Error(), tt.wantMsg)
			}
		})
	}
}

func TestRun_PointerResultsAreAccepted(t *testing.T) {
	g := MustNew("ptr",
		NewNode("start", func(context.Context, any, *deps) (Result, error) {
			return &Continuation{Node: "end"}, nil
		}),
		NewNode("end", func(context.Context, any, *deps) (Result, error) {
			return &Terminal{Value: "ok"}, nil
		}),
	)
	v, err := NewEngine(g, &deps{}).Run(context.Background(), "start", nil)
	if err != nil || v != "ok" {
		t.Errorf("Run() = (%v, %v), want (ok, nil)", v, err)
	}
}

func TestRun_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	g := MustNew("cancel",
		NewNode("start", func(context.Context, any, *deps) (Result, error) {
			cancel()
			return MoveTo("next", nil), nil
		}),
		NewNode("next", func(context.Context, any, *deps) (Result, error) {
			t.Error("node dispatched after cancellation")
			return Finish(nil), nil
		}),
	)
	_, err := NewEngine(g, &deps{}).Run(ctx, "start", nil)
	if !errors.IsFault(err) || !errors.Is(err, context.Canceled) {
		t.Errorf("Run() error = %v, want Fault wrapping context.Canceled", err)
	}
}

func TestRun_GraphMismatch(t *testing.T) {
	store := checkpoint.NewStore(t.TempDir())
	if _, err := store.Append(checkpoint.Record{Graph: "other", Kind: checkpoint.KindContinuation, Node: "x"}); err != nil {
		t.Fatal(err)
	}
	_, err := NewEngine(chain(), &deps{}, WithCheckpoints(store)).Run(context.Background(), "start", counter{})
	if !errors.Is(err, errors.ErrGraphMismatch) {
		t.Errorf("Run() error = %v, want ErrGraphMismatch", err)
	}
}

func TestRun_ResumeFromSignalRecord(t *testing.T) {
	store := checkpoint.NewStore(t.TempDir())
	if _, err := store.Append(checkpoint.Record{Graph: "chain", Kind: checkpoint.KindSignal, Message: "gave up"}); err != nil {
		t.Fatal(err)
	}
	_, err := NewEngine(chain(), &deps{}, WithCheckpoints(store)).Run(context.Background(), "start", counter{})
	if msg, ok := errors.SignalMessage(err); !ok || msg != "gave up" {
		t.Errorf("Run() error = %v, want Signal(gave up)", err)
	}
}

func TestRun_UnserializableStateIsFault(t *testing.T) {
	store := checkpoint.NewStore(t.TempDir())
	g := MustNew("chan",
		NewNode("start", func(context.Context, any, *deps) (Result, error) {
			return MoveTo("next", make(chan int)), nil
		}),
		NewNode("next", func(context.Context, any, *deps) (Result, error) { return Finish(nil), nil }),
	)
	_, err := NewEngine(g, &deps{}, WithCheckpoints(store)).Run(context.Background(), "start", nil)
	if !errors.IsFault(err) {
		t.Errorf("Run() error = %v, want Fault", err)
	}
}

func TestRun_PublishesEvents(t *testing.T) {
	bus := event.NewBus(nil)
	var types []string
	bus.SubscribeAll(func(e event.Event) { types = append(types, e.EventType()) })

	store := checkpoint.NewStore(t.TempDir())
	_, err := NewEngine(chain(), &deps{}, WithCheckpoints(store), WithEvents(bus), WithRunID("run-1")).
		Run(context.Background(), "start", counter{})
	if err != nil {
		t.Fatal(err)
	}

	got := strings.Join(types, ",")
	want := strings.Join([]string{
		event.TypeGraphStarted,
		event.TypeCheckpointWritten, event.TypeNodeDispatched,
		event.TypeCheckpointWritten, event.TypeNodeDispatched,
		event.TypeCheckpointWritten, event.TypeNodeDispatched,
		event.TypeCheckpointWritten, event.TypeGraphFinished,
	}, ",")
	if got != want {
		t.Errorf("events =\n%s\nwant\n%s", got, want)
	}

	records, _ := store.Load()
	for _, rec := range records {
		if rec.RunID != "run-1" {
			t.Errorf("record %d RunID = %q, want run-1", rec.Number, rec.RunID)
		}
	}
}

func TestValueAs(t *testing.T) {
	if v, err := ValueAs[string]("x"); err != nil || v != "x" {
		t.Errorf("ValueAs[string](x) = (%q, %v)", v, err)
	}
	if v, err := ValueAs[counter](json.RawMessage(`{"n":3}`)); err != nil || v.N != 3 {
		t.Errorf("ValueAs[counter](raw) = (%+v, %v)", v, err)
	}
	if v, err := ValueAs[*counter](nil); err != nil || v != nil {
		t.Errorf("ValueAs[*counter](nil) = (%v, %v)", v, err)
	}
	if _, err := ValueAs[int]("x"); !errors.Is(err, errors.ErrUnknownResult) {
		t.Errorf("ValueAs[int](string) error = %v", err)
	}
}
