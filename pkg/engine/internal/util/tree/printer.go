package tree

import (
	"fmt"
	"io"
	"strings"
)

const (
	symConn   = "│   "
	symSpace  = "    "
	symBranch = "├── "
	symLast   = "└── "
)

// Printer writes a [Node] and its descendants, one node per line.
type Printer struct {
	w io.Writer
}

func NewPrinter(w io.Writer) *Printer {
	return &Printer{w: w}
}

// Print writes the tree rooted at root.
func (p *Printer) Print(root *Node) {
	p.printNode(root, "", "")
}

func (p *Printer) printNode(n *Node, prefix, connector string) {
	fmt.Fprintf(p.w, "%s%s%s\n", prefix, connector, formatNode(n))

	childPrefix := prefix
	switch connector {
	case symBranch:
		childPrefix += symConn
	case symLast:
		childPrefix += symSpace
	}
	for i, child := range n.Children {
		conn := symBranch
		if i == len(n.Children)-1 {
			conn = symLast
		}
		p.printNode(child, childPrefix, conn)
	}
}

func formatNode(n *Node) string {
	var sb strings.Builder
	sb.WriteString(n.Name)
	if n.ID != "" {
		sb.WriteString(" #")
		sb.WriteString(n.ID)
	}
	for _, prop := range n.Properties {
		sb.WriteByte(' ')
		sb.WriteString(prop.Key)
		sb.WriteByte('=')
		if prop.IsMultiValue {
			sb.WriteByte('(')
		}
		for i, v := range prop.Values {
			if i > 0 {
				sb.WriteString(", ")
			}
			fmt.Fprint(&sb, v)
		}
		if prop.IsMultiValue {
			sb.WriteByte(')')
		}
	}
	return sb.String()
}

// Sprint returns the printed tree rooted at root.
func Sprint(root *Node) string {
	var sb strings.Builder
	NewPrinter(&sb).Print(root)
	return sb.String()
}
