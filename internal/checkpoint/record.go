package checkpoint

import (
	"encoding/json"
	"fmt"
	"time"
)

// Kind identifies which result variant a record holds.
type Kind string

const (
	KindContinuation Kind = "continuation"
	KindTerminal     Kind = "terminal"
	KindSignal       Kind = "signal"
)

// Record is one persisted result.
type Record struct {
	Number    int             `json:"number" yaml:"number"`
	RunID     string          `json:"run_id,omitempty" yaml:"run_id,omitempty"`
	Graph     string          `json:"graph" yaml:"graph"`
	Kind      Kind            `json:"kind" yaml:"kind"`
	Node      string          `json:"node,omitempty" yaml:"node,omitempty"`
	State     json.RawMessage `json:"state,omitempty" yaml:"-"`
	Value     json.RawMessage `json:"value,omitempty" yaml:"-"`
	Message   string          `json:"message,omitempty" yaml:"message,omitempty"`
	WrittenAt time.Time       `json:"written_at" yaml:"written_at"`
}

// Validate checks that the record is internally consistent for its kind.
func (r Record) Validate() error {
	switch r.Kind {
	case KindContinuation:
		if r.Node == "" {
			return fmt.Errorf("continuation record %d has no node", r.Number)
		}
	case KindTerminal, KindSignal:
	default:
		return fmt.Errorf("record %d has unknown kind %q", r.Number, r.Kind)
	}
	return nil
}

// Summary returns a one-line description used by list output and logs.
func (r Record) Summary() string {
	switch r.Kind {
	case KindContinuation:
		return fmt.Sprintf("#%d %s -> %s", r.Number, r.Kind, r.Node)
	case KindSignal:
		return fmt.Sprintf("#%d %s: %s", r.Number, r.Kind, r.Message)
	default:
		return fmt.Sprintf("#%d %s", r.Number, r.Kind)
	}
}
