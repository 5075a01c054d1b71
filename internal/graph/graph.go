package graph

import (
	"fmt"

	"github.com/Iron-Ham/breakfix/internal/errors"
)

// Graph is an immutable, named set of nodes.
type Graph[D any] struct {
	name  string
	nodes map[string]Node[D]
	order []string
}

// New builds a graph. Node names must be unique and non-empty.
func New[D any](name string, nodes ...Node[D]) (*Graph[D], error) {
	if name == "" {
		return nil, fmt.Errorf("graph name cannot be empty")
	}
	g := &Graph[D]{name: name, nodes: make(map[string]Node[D], len(nodes))}
	for _, n := range nodes {
		if n == nil || n.Name() == "" {
			return nil, fmt.Errorf("graph %s: node name cannot be empty", name)
		}
		if _, dup := g.nodes[n.Name()]; dup {
			return nil, fmt.Errorf("%w: %s in graph %s", errors.ErrDuplicateNode, n.Name(), name)
		}
		g.nodes[n.Name()] = n
		g.order = append(g.order, n.Name())
	}
	return g, nil
}

// MustNew is like New but panics on error. Use it for package-level graphs
// whose node set is fixed at compile time.
func MustNew[D any](name string, nodes ...Node[D]) *Graph[D] {
	g, err := New(name, nodes...)
	if err != nil {
		panic(err)
	}
	return g
}

// Name returns the graph name stamped on checkpoints and errors.
func (g *Graph[D]) Name() string { return g.name }

// Has reports whether the graph defines node.
func (g *Graph[D]) Has(node string) bool {
	_, ok := g.nodes[node]
	return ok
}

// Nodes returns node names in registration order.
func (g *Graph[D]) Nodes() []string {
	return append([]string(nil), g.order...)
}

func (g *Graph[D]) lookup(node string) (Node[D], error) {
	n, ok := g.nodes[node]
	if !ok {
		return nil, fmt.Errorf("%w: %q in graph %s", errors.ErrUnknownNode, node, g.name)
	}
	return n, nil
}
