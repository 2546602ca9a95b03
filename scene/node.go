package scene

import (
	"github.com/go-gl/mathgl/mgl64"
	"github.com/google/uuid"
)

// Node is one element of the scene graph. Transforms are column-major,
// translation in millimeters. Nodes are not synchronized; the Registry
// owns all mutation.
type Node struct {
	ID      uuid.UUID
	Name    string
	Local   mgl64.Mat4
	Visible bool

	parent   *Node
	children []*Node
}

// NewNode creates a detached node with an identity local transform.
func NewNode(name string) *Node {
	return &Node{
		ID:      uuid.New(),
		Name:    name,
		Local:   mgl64.Ident4(),
		Visible: true,
	}
}

// AddChild attaches child under n, detaching it from any previous parent.
func (n *Node) AddChild(child *Node) {
	if child == nil || child == n {
		return
	}
	if child.parent != nil {
		child.parent.RemoveChild(child)
	}
	child.parent = n
	n.children = append(n.children, child)
}

// RemoveChild detaches child from n.
func (n *Node) RemoveChild(child *Node) {
	for i, c := range n.children {
		if c == child {
			n.children = append(n.children[:i], n.children[i+1:]...)
			child.parent = nil
			return
		}
	}
}

// Parent returns the node's parent, nil at the root.
func (n *Node) Parent() *Node {
	return n.parent
}

// Children returns a copy of the child list.
func (n *Node) Children() []*Node {
	out := make([]*Node, len(n.children))
	copy(out, n.children)
	return out
}

// WorldTransform composes local transforms down from the root.
func (n *Node) WorldTransform() mgl64.Mat4 {
	if n.parent == nil {
		return n.Local
	}
	return n.parent.WorldTransform().Mul4(n.Local)
}

// WorldVisible reports whether the node and every ancestor are visible.
func (n *Node) WorldVisible() bool {
	for cur := n; cur != nil; cur = cur.parent {
		if !cur.Visible {
			return false
		}
	}
	return true
}
