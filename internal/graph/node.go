package graph

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/Iron-Ham/breakfix/internal/errors"
)

// Node is one named step of a graph over dependencies of type D. Nodes are
// built with NewNode, which fixes the state type the node accepts.
type Node[D any] interface {
	Name() string
	run(ctx context.Context, state any, deps D) (Result, error)
	decode(raw json.RawMessage) (any, error)
}

// NodeFunc is the signature of a node body.
type NodeFunc[S, D any] func(ctx context.Context, state S, deps D) (Result, error)

type typedNode[S, D any] struct {
	name string
	fn   NodeFunc[S, D]
}

// NewNode binds a function to a node name. Continuations targeting the node
// must carry a state of type S; a nil state is passed as the zero S.
func NewNode[S, D any](name string, fn NodeFunc[S, D]) Node[D] {
	return typedNode[S, D]{name: name, fn: fn}
}

func (n typedNode[S, D]) Name() string { return n.name }

func (n typedNode[S, D]) run(ctx context.Context, state any, deps D) (Result, error) {
	var s S
	if state != nil {
		typed, ok := state.(S)
		if !ok {
			return nil, fmt.Errorf("%w: node %s expects %T, got %T", errors.ErrStateType, n.name, s, state)
		}
		s = typed
	}
	return n.fn(ctx, s, deps)
}

// decode rebuilds a checkpointed state as the node's state type.
func (n typedNode[S, D]) decode(raw json.RawMessage) (any, error) {
	var s S
	if len(raw) == 0 || bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
		return s, nil
	}
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, fmt.Errorf("%w: decode state for %s: %v", errors.ErrCheckpointCorrupt, n.name, err)
	}
	return s, nil
}
