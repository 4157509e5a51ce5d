package plan

import (
	"github.com/grafana/searchplan/pkg/engine/internal/util/tree"
)

// String renders the plan as a tree below the root. A query with several
// predecessors is printed below each of them.
func (p *Plan) String() string {
	return tree.Sprint(p.toTree(p.root))
}

func (p *Plan) toTree(n *Node) *tree.Node {
	var treeNode *tree.Node
	if n.IsRoot() {
		treeNode = tree.NewNode("Root", "")
	} else {
		q := n.Query()
		searchTypes := make([]any, 0, len(q.SearchTypes))
		for _, st := range q.SearchTypes {
			searchTypes = append(searchTypes, st.Type()+":"+st.ID())
		}
		treeNode = tree.NewNode("Query", q.ID,
			tree.NewProperty("backend", false, q.Query.Type),
			tree.NewProperty("search_types", true, searchTypes...),
		)
		if refs := q.References(); len(refs) > 0 {
			deps := make([]any, len(refs))
			for i, ref := range refs {
				deps[i] = ref
			}
			treeNode.Properties = append(treeNode.Properties, tree.NewProperty("depends_on", true, deps...))
		}
	}
	for _, child := range p.Successors(n) {
		treeNode.Children = append(treeNode.Children, p.toTree(child))
	}
	return treeNode
}
