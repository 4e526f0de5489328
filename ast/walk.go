package ast

import "reflect"

// Walk visits n and its descendants in pre-order, following field
// declaration order. Returning false from fn skips the node's children.
func Walk(n Node, fn func(Node) bool) {
	if isNilNode(n) || !fn(n) {
		return
	}
	v := reflect.ValueOf(n).Elem()
	for i := 0; i < v.NumField(); i++ {
		if !v.Type().Field(i).IsExported() || v.Type().Field(i).Anonymous {
			continue
		}
		walkValue(v.Field(i), fn)
	}
}

func walkValue(v reflect.Value, fn func(Node) bool) {
	switch v.Kind() {
	case reflect.Interface, reflect.Ptr:
		if v.IsNil() {
			return
		}
		if n, ok := v.Interface().(Node); ok {
			Walk(n, fn)
		}
	case reflect.Slice:
		for i := 0; i < v.Len(); i++ {
			walkValue(v.Index(i), fn)
		}
	}
}

// Index assigns every node of a tree a stable integer id, its pre-order
// position. Ids survive an Encode/Decode round trip, which is what lets a
// snapshot refer to functions and statements by number.
type Index struct {
	nodes []Node
	ids   map[Node]int
}

// NewIndex numbers the tree rooted at root.
func NewIndex(root Node) *Index {
	x := &Index{ids: make(map[Node]int)}
	Walk(root, func(n Node) bool {
		x.ids[n] = len(x.nodes)
		x.nodes = append(x.nodes, n)
		return true
	})
	return x
}

// ID returns the id of n, or false if n is not part of the tree.
func (x *Index) ID(n Node) (int, bool) {
	id, ok := x.ids[n]
	return id, ok
}

// Node returns the node with the given id.
func (x *Index) Node(id int) (Node, bool) {
	if id < 0 || id >= len(x.nodes) {
		return nil, false
	}
	return x.nodes[id], true
}

// Len reports the number of nodes in the tree.
func (x *Index) Len() int { return len(x.nodes) }
