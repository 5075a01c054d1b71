package retry

import (
	"context"
	"fmt"

	"github.com/Iron-Ham/breakfix/internal/errors"
	"github.com/Iron-Ham/breakfix/internal/event"
	"github.com/Iron-Ham/breakfix/internal/logging"
	"github.com/Iron-Ham/breakfix/internal/util"
)

// Attempt describes the attempt about to be made.
type Attempt struct {
	// Number is 1-based.
	Number int
	Max    int
	// Feedback is the rejection detail of the previous attempt, empty on the first.
	Feedback string
}

// First reports whether this is the first attempt.
func (a Attempt) First() bool { return a.Number == 1 }

// Last reports whether no attempt follows this one.
func (a Attempt) Last() bool { return a.Number >= a.Max }

// Verdict is the verifier's decision on one attempt.
type Verdict struct {
	Accepted bool
	Feedback string
}

// Accept returns an accepting verdict.
func Accept() Verdict { return Verdict{Accepted: true} }

// Reject returns a rejecting verdict with formatted feedback.
func Reject(format string, args ...any) Verdict {
	return Verdict{Feedback: fmt.Sprintf(format, args...)}
}

// Summary reports how a loop ended.
type Summary struct {
	Attempts int
	Feedback string
}

// Retries returns the number of attempts after the first.
func (s Summary) Retries() int {
	if s.Attempts == 0 {
		return 0
	}
	return s.Attempts - 1
}

// Loop runs a bounded act-and-verify cycle.
type Loop struct {
	// Name identifies the loop in logs, events and the manager.
	Name string
	Max  int
	// FeedbackLimit truncates feedback carried forward; 0 keeps it whole.
	FeedbackLimit int
	Manager       *Manager
	Logger        *logging.Logger
	Bus           *event.Bus
}

// Run calls fn until it returns an accepting verdict or the budget is spent.
// An error from fn ends the loop immediately and is returned as is. When the
// budget is spent the returned error wraps errors.ErrRetriesExhausted and
// carries the last feedback.
func (l Loop) Run(ctx context.Context, fn func(ctx context.Context, a Attempt) (Verdict, error)) (Summary, error) {
	limit := l.Max
	if limit < 1 {
		limit = 1
	}
	logger := l.Logger
	if logger == nil {
		logger = logging.NopLogger()
	}
	if l.Manager != nil {
		l.Manager.Begin(l.Name, limit)
	}

	var summary Summary
	for n := 1; n <= limit; n++ {
		if err := ctx.Err(); err != nil {
			return summary, err
		}

		summary.Attempts = n
		verdict, err := fn(ctx, Attempt{Number: n, Max: limit, Feedback: summary.Feedback})
		if err != nil {
			if l.Manager != nil {
				l.Manager.RecordAttempt(l.Name, false, err.Error())
			}
			return summary, err
		}
		if l.Manager != nil {
			l.Manager.RecordAttempt(l.Name, verdict.Accepted, verdict.Feedback)
		}
		if verdict.Accepted {
			if n > 1 {
				logger.Info("attempt accepted", "step", l.Name, "attempt", n)
			}
			return summary, nil
		}

		summary.Feedback = l.clip(verdict.Feedback)
		logger.Warn("attempt rejected",
			"step", l.Name,
			"attempt", n,
			"max", limit,
			"feedback", util.FirstLine(summary.Feedback),
		)
		l.Bus.Publish(event.NewAttemptRejectedEvent(l.Name, n, limit, summary.Feedback))
	}

	return summary, fmt.Errorf("%s: %w after %d attempts: %s", l.Name, errors.ErrRetriesExhausted, limit, summary.Feedback)
}

func (l Loop) clip(s string) string {
	if l.FeedbackLimit <= 0 {
		return s
	}
	return util.ClipOutput(s, l.FeedbackLimit)
}

// WithFeedback appends the previous attempt's rejection to a base prompt.
// The first attempt gets the prompt unchanged.
func WithFeedback(prompt string, a Attempt) string {
	if a.Feedback == "" {
		return prompt
	}
	return fmt.Sprintf("%s\n\nPREVIOUS ATTEMPT FAILED: %s", prompt, a.Feedback)
}
