// Package plan builds the dependency graph of the queries of a search.
package plan

import (
	"errors"
	"fmt"
	"slices"

	"github.com/grafana/searchplan/pkg/engine/internal/util/dag"
	"github.com/grafana/searchplan/pkg/search"
)

// RootID is the id of the synthetic root node.
const RootID = "<root>"

// Node is a node of a Plan. It wraps one query, except for the root node
// which has none.
type Node struct {
	query *search.Query
}

// ID returns the id of the wrapped query, or RootID.
func (n *Node) ID() string {
	if n.query == nil {
		return RootID
	}
	return n.query.ID
}

// Query returns the wrapped query. It is nil for the root node.
func (n *Node) Query() *search.Query { return n.query }

// IsRoot reports whether n is the synthetic root.
func (n *Node) IsRoot() bool { return n.query == nil }

// Plan is an immutable directed acyclic graph over the queries of a search.
// Edges point from a query to the queries that depend on its result. Queries
// without dependencies hang off the synthetic root.
type Plan struct {
	search *search.Search
	graph  dag.Graph[*Node]
	root   *Node
	nodes  map[string]*Node
}

// Build creates the plan of s. Unknown query references and cyclic
// references are reported as *search.ConfigurationError.
func Build(s *search.Search) (*Plan, error) {
	p := &Plan{
		search: s,
		root:   &Node{},
		nodes:  make(map[string]*Node, len(s.Queries)),
	}
	p.graph.Add(p.root)

	for _, q := range s.Queries {
		if q == nil {
			continue
		}
		if q.ID == "" {
			return nil, &search.ConfigurationError{Reason: "query without id"}
		}
		if _, ok := p.nodes[q.ID]; ok {
			return nil, &search.ConfigurationError{QueryID: q.ID, Reason: "duplicate query id"}
		}
		n := &Node{query: q}
		p.nodes[q.ID] = n
		p.graph.Add(n)
	}

	for _, q := range s.Queries {
		if q == nil {
			continue
		}
		node := p.nodes[q.ID]
		refs := q.References()
		if len(refs) == 0 {
			if err := p.graph.AddEdge(dag.Edge[*Node]{Parent: p.root, Child: node}); err != nil {
				return nil, err
			}
			continue
		}
		for _, ref := range refs {
			dep, ok := p.nodes[ref]
			if !ok {
				return nil, &search.ConfigurationError{
					QueryID: q.ID,
					Reason:  fmt.Sprintf("parameter binding references unknown query %s", ref),
				}
			}
			err := p.graph.AddEdge(dag.Edge[*Node]{Parent: dep, Child: node})
			if errors.Is(err, dag.ErrSelfEdge) {
				return nil, &search.ConfigurationError{QueryID: q.ID, Reason: "query references its own result"}
			} else if err != nil {
				return nil, err
			}
		}
	}

	if err := p.graph.CheckAcyclic(); err != nil {
		return nil, &search.ConfigurationError{Reason: fmt.Sprintf("cyclic parameter bindings: %v", err)}
	}
	return p, nil
}

// Search returns the search the plan was built from.
func (p *Plan) Search() *search.Search { return p.search }

// Root returns the synthetic root node.
func (p *Plan) Root() *Node { return p.root }

// Node returns the node of the query with the given id.
func (p *Plan) Node(queryID string) (*Node, bool) {
	n, ok := p.nodes[queryID]
	return n, ok
}

// Len returns the number of queries in the plan, not counting the root.
func (p *Plan) Len() int { return len(p.nodes) }

// Predecessors returns the nodes whose results n depends on. For queries
// without dependencies this is the root.
func (p *Plan) Predecessors(n *Node) []*Node { return p.graph.Parents(n) }

// Successors returns the nodes depending on the result of n.
func (p *Plan) Successors(n *Node) []*Node { return p.graph.Children(n) }

// Dependents returns the nodes depending directly or transitively on the
// result of n, in breadth-first order.
func (p *Plan) Dependents(n *Node) []*Node {
	return slices.Collect(p.graph.Reachable(n))
}

// Queries returns all query nodes ordered so that every node comes after its
// predecessors.
func (p *Plan) Queries() []*Node {
	sorted, err := p.graph.TopologicalSort()
	if err != nil {
		// Build rejects cyclic plans.
		panic(err)
	}
	return sorted[1:]
}
