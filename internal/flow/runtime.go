package flow

import (
	"context"
	"path/filepath"

	"github.com/Iron-Ham/breakfix/internal/checkpoint"
	"github.com/Iron-Ham/breakfix/internal/config"
	"github.com/Iron-Ham/breakfix/internal/event"
	"github.com/Iron-Ham/breakfix/internal/graph"
	"github.com/Iron-Ham/breakfix/internal/logging"
	"github.com/Iron-Ham/breakfix/internal/retry"
	"github.com/Iron-Ham/breakfix/internal/util"
)

// Runtime is the dependency value both graphs are parameterised over.
type Runtime struct {
	Deps   Deps
	Config *config.Config
	// Root is the run's working directory.
	Root  string
	RunID string

	Logger *logging.Logger
	// Store is the project graph's checkpoint store. Unit graphs nest under
	// it when checkpoint.nested is set. Nil disables checkpointing.
	Store   *checkpoint.Store
	Bus     *event.Bus
	Retries *retry.Manager
}

// NewRuntime validates deps and returns a Runtime with a no-op logger and a
// fresh retry manager.
func NewRuntime(root string, cfg *config.Config, deps Deps) (*Runtime, error) {
	if err := deps.Validate(); err != nil {
		return nil, err
	}
	if cfg == nil {
		cfg = config.Default()
	}
	return &Runtime{
		Deps:    deps,
		Config:  cfg,
		Root:    root,
		Logger:  logging.NopLogger(),
		Retries: retry.NewManager(),
	}, nil
}

func (rt *Runtime) dir(rel string) string {
	if filepath.IsAbs(rel) {
		return rel
	}
	return filepath.Join(rt.Root, rel)
}

// PrototypeDir returns the absolute prototype directory.
func (rt *Runtime) PrototypeDir() string { return rt.dir(rt.Config.Workspace.PrototypeDir) }

// ProductionDir returns the absolute production directory.
func (rt *Runtime) ProductionDir() string { return rt.dir(rt.Config.Workspace.ProductionDir) }

// HarnessDir returns the absolute end-to-end harness directory.
func (rt *Runtime) HarnessDir() string { return rt.dir(rt.Config.Workspace.HarnessDir) }

func (rt *Runtime) loop(name string, max int) retry.Loop {
	return retry.Loop{
		Name:          name,
		Max:           max,
		FeedbackLimit: rt.Config.Retry.FeedbackLimit,
		Manager:       rt.Retries,
		Logger:        rt.Logger,
		Bus:           rt.Bus,
	}
}

func (rt *Runtime) clip(s string) string {
	return util.ClipOutput(s, rt.Config.Retry.FeedbackLimit)
}

func (rt *Runtime) engineOptions(store *checkpoint.Store, logger *logging.Logger) []graph.Option {
	return []graph.Option{
		graph.WithCheckpoints(store),
		graph.WithLogger(logger),
		graph.WithEvents(rt.Bus),
		graph.WithRunID(rt.RunID),
	}
}

// RunProject runs, or resumes, the project graph from the specification step.
func RunProject(ctx context.Context, rt *Runtime, idea string) (Report, error) {
	engine := graph.NewEngine(ProjectGraph, rt, rt.engineOptions(rt.Store, rt.Logger)...)
	rt.RunID = engine.RunID()
	return graph.RunAs[Report](ctx, engine, NodeSpecification, ProjectState{
		Idea:             idea,
		WorkingDirectory: rt.Root,
	})
}

// RunUnit runs the unit graph for one unit on its own engine and returns
// the finalized unit.
func RunUnit(ctx context.Context, rt *Runtime, unit UnitWorkItem) (UnitWorkItem, error) {
	var store *checkpoint.Store
	if rt.Store != nil && rt.Config.Checkpoint.Nested {
		store = rt.Store.Sub("units").Sub(util.Slug(unit.Name))
	}
	engine := graph.NewEngine(UnitGraph, rt, rt.engineOptions(store, rt.Logger.WithUnit(unit.Name))...)
	return graph.RunAs[UnitWorkItem](ctx, engine, NodeIterate, UnitState{
		Unit:    unit,
		Pending: append([]TestCase(nil), unit.Tests...),
	})
}
