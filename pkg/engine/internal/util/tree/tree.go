// Package tree renders hierarchical structures, such as query plans, as
// indented text for logs and debugging.
package tree

// Property is a key-value pair of a [Node]. A single-value property is
// printed as `key=value` and a multi-value property as
// `key=(value1, value2, ...)`.
type Property struct {
	Key          string
	Values       []any
	IsMultiValue bool
}

// NewProperty creates a new Property. multi marks a multi-value property.
func NewProperty(key string, multi bool, values ...any) Property {
	return Property{
		Key:          key,
		Values:       values,
		IsMultiValue: multi,
	}
}

// Node is a printable node with properties and children.
type Node struct {
	ID         string
	Name       string
	Properties []Property
	Children   []*Node
}

// NewNode creates a new node with the given name, id and properties.
func NewNode(name, id string, properties ...Property) *Node {
	return &Node{
		ID:         id,
		Name:       name,
		Properties: properties,
	}
}

// AddChild creates a node and appends it to the children of n.
func (n *Node) AddChild(name, id string, properties []Property) *Node {
	child := NewNode(name, id, properties...)
	n.Children = append(n.Children, child)
	return child
}
