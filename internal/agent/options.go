package agent

import (
	"context"

	"github.com/Iron-Ham/breakfix/internal/errors"
	"github.com/Iron-Ham/breakfix/internal/event"
	"github.com/Iron-Ham/breakfix/internal/logging"
	"github.com/Iron-Ham/breakfix/internal/retry"
)

// Options carries the ambient dependencies shared by the agent collaborators.
type Options struct {
	Logger        *logging.Logger
	Bus           *event.Bus
	Retries       *retry.Manager
	FeedbackLimit int
}

// Log returns the logger, or a no-op logger when none is set.
func (o Options) Log() *logging.Logger {
	if o.Logger == nil {
		return logging.NopLogger()
	}
	return o.Logger
}

// Loop builds a bounded retry loop sharing these options.
func (o Options) Loop(name string, limit int) retry.Loop {
	return retry.Loop{
		Name:          name,
		Max:           limit,
		FeedbackLimit: o.FeedbackLimit,
		Manager:       o.Retries,
		Logger:        o.Logger,
		Bus:           o.Bus,
	}
}

// Failure sorts a loop error into a plain failure message, or an error that
// must propagate. Exhausted budgets and broken agent turns are failures the
// pipeline reports; cancellation and anything unexpected propagate.
func Failure(ctx context.Context, summary retry.Summary, err error) (string, error) {
	switch {
	case err == nil:
		return "", nil
	case ctx.Err() != nil:
		return "", err
	case errors.Is(err, errors.ErrRetriesExhausted):
		return summary.Feedback, nil
	case errors.Is(err, errors.ErrCollaborator):
		return err.Error(), nil
	default:
		return "", err
	}
}
