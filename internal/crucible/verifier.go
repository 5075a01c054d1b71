package crucible

import (
	"context"

	"github.com/Iron-Ham/breakfix/internal/flow"
	"github.com/Iron-Ham/breakfix/internal/logging"
)

// Verifier proves a mutant is gone by running the analysis again.
type Verifier struct {
	mutations flow.MutationRunner
	logger    *logging.Logger
}

// NewVerifier creates a Verifier on top of a mutation runner.
func NewVerifier(mutations flow.MutationRunner, logger *logging.Logger) *Verifier {
	if logger == nil {
		logger = logging.NopLogger()
	}
	return &Verifier{mutations: mutations, logger: logger}
}

// VerifyKilled implements flow.MutantVerifier.
func (v *Verifier) VerifyKilled(ctx context.Context, unit flow.UnitWorkItem, mutantID string) (flow.VerifyResult, error) {
	res, err := v.mutations.Mutate(ctx, unit)
	if err != nil {
		return flow.VerifyResult{}, err
	}
	if !res.Success {
		return flow.VerifyResult{Error: "mutation testing failed during verification: " + res.Error}, nil
	}

	ids := make([]string, 0, len(res.SurvivingMutants))
	killed := true
	for _, m := range res.SurvivingMutants {
		ids = append(ids, m.ID)
		if m.ID == mutantID {
			killed = false
		}
	}
	v.logger.Info("mutant verified", "unit", unit.Name, "mutant", mutantID, "killed", killed, "surviving", len(ids))
	return flow.VerifyResult{Killed: killed, NewSurviving: ids}, nil
}
