// Package dag provides a generic directed acyclic graph.
package dag

import (
	"errors"
	"fmt"
	"strings"
)

// Node is a vertex of a Graph. IDs must be unique within a graph.
type Node interface {
	comparable
	ID() string
}

// Edge points from Parent to Child.
type Edge[NodeType Node] struct {
	Parent, Child NodeType
}

var (
	ErrNodeNotFound = errors.New("node not found")
	ErrSelfEdge     = errors.New("node cannot be connected to itself")
)

// CycleError reports a cycle. Path starts and ends at the same node.
type CycleError[NodeType Node] struct {
	Path []NodeType
}

func (e *CycleError[NodeType]) Error() string {
	ids := make([]string, len(e.Path))
	for i, n := range e.Path {
		ids[i] = n.ID()
	}
	return fmt.Sprintf("cycle detected: %s", strings.Join(ids, " -> "))
}

type nodeSet[NodeType Node] map[NodeType]struct{}

func (s nodeSet[NodeType]) Add(n NodeType) { s[n] = struct{}{} }

func (s nodeSet[NodeType]) Contains(n NodeType) bool {
	_, ok := s[n]
	return ok
}

// Graph is a directed graph. Nodes and their edges keep insertion order so
// that traversals are deterministic.
type Graph[NodeType Node] struct {
	nodes    []NodeType
	index    nodeSet[NodeType]
	parents  map[NodeType][]NodeType
	children map[NodeType][]NodeType
}

// Add inserts n. Adding a node twice is a no-op.
func (g *Graph[NodeType]) Add(n NodeType) {
	if g.index == nil {
		g.index = make(nodeSet[NodeType])
		g.parents = make(map[NodeType][]NodeType)
		g.children = make(map[NodeType][]NodeType)
	}
	if g.index.Contains(n) {
		return
	}
	g.index.Add(n)
	g.nodes = append(g.nodes, n)
}

// AddEdge connects two nodes which are already part of the graph. Duplicate
// edges are ignored.
func (g *Graph[NodeType]) AddEdge(e Edge[NodeType]) error {
	if !g.index.Contains(e.Parent) {
		return fmt.Errorf("parent %s: %w", e.Parent.ID(), ErrNodeNotFound)
	}
	if !g.index.Contains(e.Child) {
		return fmt.Errorf("child %s: %w", e.Child.ID(), ErrNodeNotFound)
	}
	if e.Parent == e.Child {
		return fmt.Errorf("%s: %w", e.Parent.ID(), ErrSelfEdge)
	}
	for _, c := range g.children[e.Parent] {
		if c == e.Child {
			return nil
		}
	}
	g.children[e.Parent] = append(g.children[e.Parent], e.Child)
	g.parents[e.Child] = append(g.parents[e.Child], e.Parent)
	return nil
}

// Contains reports whether n is part of the graph.
func (g *Graph[NodeType]) Contains(n NodeType) bool { return g.index.Contains(n) }

// Len returns the number of nodes.
func (g *Graph[NodeType]) Len() int { return len(g.nodes) }

// Nodes returns all nodes in insertion order.
func (g *Graph[NodeType]) Nodes() []NodeType { return g.nodes }

// Children returns the nodes n has edges to.
func (g *Graph[NodeType]) Children(n NodeType) []NodeType { return g.children[n] }

// Parents returns the nodes with edges to n.
func (g *Graph[NodeType]) Parents(n NodeType) []NodeType { return g.parents[n] }

// Roots returns the nodes without parents.
func (g *Graph[NodeType]) Roots() []NodeType {
	var roots []NodeType
	for _, n := range g.nodes {
		if len(g.parents[n]) == 0 {
			roots = append(roots, n)
		}
	}
	return roots
}

// Leaves returns the nodes without children.
func (g *Graph[NodeType]) Leaves() []NodeType {
	var leaves []NodeType
	for _, n := range g.nodes {
		if len(g.children[n]) == 0 {
			leaves = append(leaves, n)
		}
	}
	return leaves
}

// TopologicalSort returns the nodes so that every parent precedes its
// children. It fails with a *CycleError if the graph has a cycle.
func (g *Graph[NodeType]) TopologicalSort() ([]NodeType, error) {
	if err := g.CheckAcyclic(); err != nil {
		return nil, err
	}

	pending := make(map[NodeType]int, len(g.nodes))
	var queue []NodeType
	for _, n := range g.nodes {
		pending[n] = len(g.parents[n])
		if pending[n] == 0 {
			queue = append(queue, n)
		}
	}

	sorted := make([]NodeType, 0, len(g.nodes))
	for len(queue) > 0 {
		n := queue[0]
		queue = queue[1:]
		sorted = append(sorted, n)
		for _, child := range g.children[n] {
			pending[child]--
			if pending[child] == 0 {
				queue = append(queue, child)
			}
		}
	}
	return sorted, nil
}

// CheckAcyclic returns a *CycleError describing the first cycle found.
func (g *Graph[NodeType]) CheckAcyclic() error {
	const (
		unvisited = iota
		onStack
		done
	)
	state := make(map[NodeType]int, len(g.nodes))
	var stack []NodeType

	var visit func(n NodeType) error
	visit = func(n NodeType) error {
		state[n] = onStack
		stack = append(stack, n)
		for _, child := range g.children[n] {
			switch state[child] {
			case onStack:
				start := 0
				for i := range stack {
					if stack[i] == child {
						start = i
						break
					}
				}
				path := append(append([]NodeType{}, stack[start:]...), child)
				return &CycleError[NodeType]{Path: path}
			case unvisited:
				if err := visit(child); err != nil {
					return err
				}
			}
		}
		stack = stack[:len(stack)-1]
		state[n] = done
		return nil
	}

	for _, n := range g.nodes {
		if state[n] != unvisited {
			continue
		}
		if err := visit(n); err != nil {
			return err
		}
	}
	return nil
}
