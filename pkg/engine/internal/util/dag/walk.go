package dag

import "iter"

// Reachable yields every node reachable from n through outgoing edges, in
// breadth-first order and once each. n itself is not yielded.
func (g *Graph[NodeType]) Reachable(n NodeType) iter.Seq[NodeType] {
	return func(yield func(NodeType) bool) {
		seen := nodeSet[NodeType]{n: struct{}{}}
		queue := append([]NodeType(nil), g.children[n]...)
		for len(queue) > 0 {
			next := queue[0]
			queue = queue[1:]
			if seen.Contains(next) {
				continue
			}
			seen.Add(next)
			if !yield(next) {
				return
			}
			queue = append(queue, g.children[next]...)
		}
	}
}
