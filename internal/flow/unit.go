package flow

import (
	"context"
	"fmt"

	"github.com/Iron-Ham/breakfix/internal/errors"
	"github.com/Iron-Ham/breakfix/internal/event"
	"github.com/Iron-Ham/breakfix/internal/graph"
	"github.com/Iron-Ham/breakfix/internal/retry"
)

// Unit graph node names.
const (
	NodeIterate  = "unit.iterate"
	NodeRed      = "unit.red"
	NodeGreen    = "unit.green"
	NodeMutation = "unit.mutation"
	NodeSentinel = "unit.sentinel"
	NodeOptimize = "unit.optimize"
)

// UnitGraph is the inner topology, run once per testable unit.
var UnitGraph = graph.MustNew("unit",
	graph.NewNode(NodeIterate, iterate),
	graph.NewNode(NodeRed, red),
	graph.NewNode(NodeGreen, green),
	graph.NewNode(NodeMutation, mutation),
	graph.NewNode(NodeSentinel, sentinel),
	graph.NewNode(NodeOptimize, optimize),
)

// iterate pops the next test case in generation order.
func iterate(_ context.Context, s UnitState, _ *Runtime) (graph.Result, error) {
	s.Current = nil
	s.FailureOutput = ""
	if len(s.Pending) == 0 {
		return graph.MoveTo(NodeMutation, s), nil
	}
	tc := s.Pending[0]
	s.Pending = s.Pending[1:]
	s.Current = &tc
	return graph.MoveTo(NodeRed, s), nil
}

func red(ctx context.Context, s UnitState, rt *Runtime) (graph.Result, error) {
	if s.Current == nil {
		return nil, fmt.Errorf("%w: no current test case", errors.ErrInvalidInput)
	}
	res, err := rt.Deps.RatchetRed.Red(ctx, s.Unit, *s.Current)
	if err != nil {
		return nil, fmt.Errorf("ratchet red: %w", err)
	}
	if !res.Success {
		return graph.Fail("ratchet red failed for %s test case %d after %d retries: %s",
			s.Unit.Name, s.Current.ID, res.Retries, rt.clip(res.Error)), nil
	}
	if res.SkippedGreen {
		rt.Logger.Info("green skipped", "test_case", s.Current.ID, "kept", res.TestFilePath != "")
		return graph.MoveTo(NodeIterate, s), nil
	}
	s.FailureOutput = rt.clip(res.FailureOutput)
	return graph.MoveTo(NodeGreen, s), nil
}

func green(ctx context.Context, s UnitState, rt *Runtime) (graph.Result, error) {
	if s.Current == nil {
		return nil, fmt.Errorf("%w: no current test case", errors.ErrInvalidInput)
	}
	res, err := rt.Deps.RatchetGreen.Green(ctx, s.Unit, *s.Current, s.FailureOutput)
	if err != nil {
		return nil, fmt.Errorf("ratchet green: %w", err)
	}
	if !res.Success {
		return graph.Fail("ratchet green failed for %s test case %d after %d retries: %s",
			s.Unit.Name, s.Current.ID, res.Retries, rt.clip(res.Error)), nil
	}
	if res.Code != "" {
		s.Unit.Code = res.Code
	}
	if res.EndLine > 0 {
		s.Unit.EndLineNumber = res.EndLine
	}
	return graph.MoveTo(NodeIterate, s), nil
}

// mutation runs one mutation round. After retry.max_mutation_rounds rounds
// the unit moves on to optimization with a warning.
func mutation(ctx context.Context, s UnitState, rt *Runtime) (graph.Result, error) {
	s.Round++
	s.Surviving = nil
	if limit := rt.Config.Retry.MaxMutationRounds; s.Round > limit {
		rt.Logger.Warn("mutation round limit reached, proceeding to optimization", "rounds", limit)
		return graph.MoveTo(NodeOptimize, s), nil
	}

	res, err := rt.Deps.MutationRunner.Mutate(ctx, s.Unit)
	if err != nil {
		return nil, fmt.Errorf("mutation runner: %w", err)
	}
	if !res.Success {
		return graph.Fail("mutation testing failed for %s: %s", s.Unit.Name, rt.clip(res.Error)), nil
	}
	rt.Logger.Info("mutation score",
		"round", s.Round,
		"score", res.Score,
		"total", res.TotalMutants,
		"surviving", len(res.SurvivingMutants),
	)
	rt.Bus.Publish(event.NewMutationScoredEvent(s.Unit.Name, s.Round, res.Score, res.TotalMutants, len(res.SurvivingMutants)))

	if res.Score >= 1.0 || len(res.SurvivingMutants) == 0 {
		return graph.MoveTo(NodeOptimize, s), nil
	}
	s.Surviving = res.SurvivingMutants
	return graph.MoveTo(NodeSentinel, s), nil
}

// errMutantVerification stops the sentinel loop when the mutation tool
// itself fails; another test would not change the outcome.
var errMutantVerification = errors.New("mutant verification failed")

// sentinel handles one surviving mutant per dispatch: the sentinel writes a
// test, then mutation analysis is re-run to prove the mutant is gone.
func sentinel(ctx context.Context, s UnitState, rt *Runtime) (graph.Result, error) {
	if len(s.Surviving) == 0 {
		return graph.MoveTo(NodeMutation, s), nil
	}
	mutant := s.Surviving[0]
	s.Surviving = s.Surviving[1:]

	var (
		surviving     []string
		verifyFailure string
	)
	summary, err := rt.loop(NodeSentinel+":"+mutant.ID, rt.Config.Retry.SentinelAttempts).Run(ctx,
		func(ctx context.Context, a retry.Attempt) (retry.Verdict, error) {
			guarded, err := rt.Deps.Sentinel.Guard(ctx, s.Unit, mutant, a.Feedback)
			if err != nil {
				return retry.Verdict{}, fmt.Errorf("sentinel: %w", err)
			}
			if !guarded.Success {
				return retry.Reject("%s", guarded.Error), nil
			}
			verified, err := rt.Deps.MutantVerifier.VerifyKilled(ctx, s.Unit, mutant.ID)
			if err != nil {
				return retry.Verdict{}, fmt.Errorf("mutant verifier: %w", err)
			}
			if verified.Error != "" {
				verifyFailure = verified.Error
				return retry.Verdict{}, errMutantVerification
			}
			if !verified.Killed {
				return retry.Reject("mutant %s still survives with the test added in %s", mutant.ID, guarded.TestFilePath), nil
			}
			surviving = verified.NewSurviving
			return retry.Accept(), nil
		})
	if errors.Is(err, errMutantVerification) {
		return graph.Fail("mutant verification failed for %s: %s", mutant.ID, rt.clip(verifyFailure)), nil
	}
	if errors.Is(err, errors.ErrRetriesExhausted) {
		return graph.Fail("could not kill mutant %s after %d attempts: %s", mutant.ID, summary.Attempts, summary.Feedback), nil
	}
	if err != nil {
		return nil, err
	}

	s.Surviving = stillSurviving(s.Surviving, surviving)
	return graph.MoveTo(NodeSentinel, s), nil
}

// stillSurviving drops queued mutants that a previous sentinel test already killed.
func stillSurviving(queued []Mutant, surviving []string) []Mutant {
	alive := make(map[string]bool, len(surviving))
	for _, id := range surviving {
		alive[id] = true
	}
	kept := queued[:0:0]
	for _, m := range queued {
		if alive[m.ID] {
			kept = append(kept, m)
		}
	}
	return kept
}

// optimize is the last step. An optimizer that cannot improve the unit
// without breaking tests leaves the verified code in place.
func optimize(ctx context.Context, s UnitState, rt *Runtime) (graph.Result, error) {
	res, err := rt.Deps.Optimizer.Optimize(ctx, s.Unit)
	if err != nil {
		return nil, fmt.Errorf("optimizer: %w", err)
	}
	if !res.Success {
		rt.Logger.Warn("optimization left unit unchanged", "retries", res.Retries, "reason", rt.clip(res.Error))
		return graph.Finish(s.Unit), nil
	}
	if res.Code != "" {
		s.Unit.Code = res.Code
	}
	return graph.Finish(s.Unit), nil
}
