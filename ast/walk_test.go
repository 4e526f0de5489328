package ast

import (
	"testing"
)

func TestWalkPreOrder(t *testing.T) {
	p := Prog(Expr(Bin("+", Ident("a"), Num(1))), Return(Ident("b")))
	var got []NodeType
	Walk(p, func(n Node) bool {
		got = append(got, n.NodeType())
		return true
	})
	want := []NodeType{
		NodeProgram, NodeExpressionStatement, NodeBinaryExpression, NodeIdentifier,
		NodeNumberLiteral, NodeReturnStatement, NodeIdentifier,
	}
	if len(got) != len(want) {
		t.Fatalf("visited %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("node %d = %s, want %s", i, got[i], want[i])
		}
	}
}

func TestWalkSkipsChildren(t *testing.T) {
	p := Prog(Fn("f", Params("x"), Return(Ident("x"))), Expr(Ident("y")))
	var idents []string
	Walk(p, func(n Node) bool {
		if _, ok := n.(*FunctionDeclaration); ok {
			return false
		}
		if id, ok := n.(*Identifier); ok {
			idents = append(idents, id.Name)
		}
		return true
	})
	if len(idents) != 1 || idents[0] != "y" {
		t.Errorf("identifiers = %v, want [y]", idents)
	}
}

func TestIndexStableAcrossDecode(t *testing.T) {
	p := sample()
	data, err := EncodeJSON(p)
	if err != nil {
		t.Fatal(err)
	}
	q, err := DecodeProgram(data)
	if err != nil {
		t.Fatal(err)
	}
	a, b := NewIndex(p), NewIndex(q)
	if a.Len() != b.Len() {
		t.Fatalf("index sizes differ: %d vs %d", a.Len(), b.Len())
	}
	for id := 0; id < a.Len(); id++ {
		n, _ := a.Node(id)
		m, _ := b.Node(id)
		if n.NodeType() != m.NodeType() {
			t.Fatalf("node %d: %s vs %s", id, n.NodeType(), m.NodeType())
		}
		if got, ok := a.ID(n); !ok || got != id {
			t.Fatalf("ID(node %d) = %d, %v", id, got, ok)
		}
	}
	if _, ok := a.Node(a.Len()); ok {
		t.Error("Node past the end succeeded")
	}
	if _, ok := a.ID(Ident("stranger")); ok {
		t.Error("ID of a foreign node succeeded")
	}
}
