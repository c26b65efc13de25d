package chat

import (
	"context"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/lapine/pkg/model"
)

// End is the terminal node name. A node returning End stops the run.
const End = "__end__"

// maxGraphSteps bounds total node executions per run as a safety net on
// top of the tool loop ceiling.
const maxGraphSteps = 64

// NodeFunc executes one node and returns the name of the next node
type NodeFunc func(ctx context.Context, st *State) (string, error)

// Builder assembles an execution graph. Nodes are named functions;
// edges declare the legal transitions between them.
type Builder struct {
	nodes map[string]NodeFunc
	edges map[string]map[string]bool
	start string
}

// NewBuilder creates an empty graph builder
func NewBuilder() *Builder {
	return &Builder{
		nodes: make(map[string]NodeFunc),
		edges: make(map[string]map[string]bool),
	}
}

// AddNode registers a node under a name
func (b *Builder) AddNode(name string, fn NodeFunc) *Builder {
	b.nodes[name] = fn
	return b
}

// AddEdge declares a legal transition from one node to another.
// End is always a legal target and needs no edge.
func (b *Builder) AddEdge(from, to string) *Builder {
	if b.edges[from] == nil {
		b.edges[from] = make(map[string]bool)
	}
	b.edges[from][to] = true
	return b
}

// SetStart declares the entry node
func (b *Builder) SetStart(name string) *Builder {
	b.start = name
	return b
}

// Compile validates the graph and returns a runnable form. It checks
// that the start node exists and that every edge references known nodes.
func (b *Builder) Compile() (*Graph, error) {
	if b.start == "" {
		return nil, goerr.New("start node is not set")
	}
	if _, ok := b.nodes[b.start]; !ok {
		return nil, goerr.New("start node is not registered", goerr.V("node", b.start))
	}

	for from, targets := range b.edges {
		if _, ok := b.nodes[from]; !ok {
			return nil, goerr.New("edge from unknown node", goerr.V("node", from))
		}
		for to := range targets {
			if to == End {
				continue
			}
			if _, ok := b.nodes[to]; !ok {
				return nil, goerr.New("edge to unknown node",
					goerr.V("from", from), goerr.V("to", to))
			}
		}
	}

	return &Graph{
		nodes: b.nodes,
		edges: b.edges,
		start: b.start,
	}, nil
}

// Graph is a compiled execution graph
type Graph struct {
	nodes map[string]NodeFunc
	edges map[string]map[string]bool
	start string
}

// Run executes the graph from the start node until a node returns End.
// Transitions not declared as edges are rejected.
func (g *Graph) Run(ctx context.Context, st *State) error {
	current := g.start

	for steps := 0; ; steps++ {
		if steps >= maxGraphSteps {
			return goerr.Wrap(model.ErrRecursionLimit, "graph step limit exceeded",
				goerr.V("node", current))
		}

		fn, ok := g.nodes[current]
		if !ok {
			return goerr.New("unknown node", goerr.V("node", current))
		}

		next, err := fn(ctx, st)
		if err != nil {
			return goerr.Wrap(err, "node execution failed", goerr.V("node", current))
		}

		if next == End {
			return nil
		}

		if !g.edges[current][next] {
			return goerr.New("illegal transition",
				goerr.V("from", current), goerr.V("to", next))
		}
		current = next
	}
}
