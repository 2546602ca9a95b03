package scene

import (
	"testing"

	"github.com/go-gl/mathgl/mgl64"
)

func translate(x, y, z float64) mgl64.Mat4 {
	m := mgl64.Ident4()
	m[12], m[13], m[14] = x, y, z
	return m
}

func TestWorldTransformComposes(t *testing.T) {
	root := NewNode("root")
	parent := NewNode("parent")
	child := NewNode("child")
	root.AddChild(parent)
	parent.AddChild(child)

	parent.Local = translate(10, 0, 0)
	child.Local = translate(0, 5, 0)

	world := child.WorldTransform()
	if world[12] != 10 || world[13] != 5 || world[14] != 0 {
		t.Errorf("World translation wrong: got (%f, %f, %f), want (10, 5, 0)", world[12], world[13], world[14])
	}
}

func TestWorldVisible(t *testing.T) {
	root := NewNode("root")
	child := NewNode("child")
	root.AddChild(child)

	if !child.WorldVisible() {
		t.Errorf("Expected child visible by default")
	}
	root.Visible = false
	if child.WorldVisible() {
		t.Errorf("Expected child hidden when an ancestor is hidden")
	}
	root.Visible = true
	child.Visible = false
	if child.WorldVisible() {
		t.Errorf("Expected child hidden when itself hidden")
	}
}

func TestReparenting(t *testing.T) {
	a := NewNode("a")
	b := NewNode("b")
	child := NewNode("child")

	a.AddChild(child)
	if child.Parent() != a || len(a.Children()) != 1 {
		t.Fatalf("AddChild failed")
	}

	b.AddChild(child)
	if child.Parent() != b {
		t.Errorf("Expected child reparented to b")
	}
	if len(a.Children()) != 0 {
		t.Errorf("Expected child removed from a, still has %d children", len(a.Children()))
	}

	b.RemoveChild(child)
	if child.Parent() != nil || len(b.Children()) != 0 {
		t.Errorf("RemoveChild failed")
	}
}

func TestNodeIdentity(t *testing.T) {
	a := NewNode("x")
	b := NewNode("x")
	if a.ID == b.ID {
		t.Errorf("Expected distinct node ids")
	}
}
