// Package tree implements CART decision trees over gonum matrices: a
// classifier usable on its own or inside a random forest, and a
// second-order regression tree used by gradient boosting.
package tree

import (
	"gonum.org/v1/gonum/mat"
)

// Node is one node of a fitted tree. Nodes are stored in a flat slice and
// reference their children by index.
type Node struct {
	// Feature is the split feature, or -1 for a leaf.
	Feature   int
	Threshold float64
	Left      int
	Right     int
	Depth     int
	// Value holds class fractions for classification trees and a single
	// output for gradient trees.
	Value []float64
	// Cover is the weight of training data reaching the node: the
	// (bootstrap-weighted) sample count for classification trees and the
	// hessian sum for gradient trees.
	Cover    float64
	Samples  int
	Impurity float64
}

// IsLeaf reports whether the node has no children.
func (n *Node) IsLeaf() bool { return n.Feature < 0 }

// Tree is a fitted binary tree. Samples with x[Feature] <= Threshold go
// left.
type Tree struct {
	Nodes     []Node
	NFeatures int
}

// Leaf returns the index of the leaf reached by x.
func (t *Tree) Leaf(x []float64) int {
	i := 0
	for !t.Nodes[i].IsLeaf() {
		n := &t.Nodes[i]
		if x[n.Feature] <= n.Threshold {
			i = n.Left
		} else {
			i = n.Right
		}
	}
	return i
}

// Predict returns the leaf Value reached by x.
func (t *Tree) Predict(x []float64) []float64 {
	return t.Nodes[t.Leaf(x)].Value
}

// MaxDepth returns the depth of the deepest node (the root has depth 0).
func (t *Tree) MaxDepth() int {
	d := 0
	for i := range t.Nodes {
		if t.Nodes[i].Depth > d {
			d = t.Nodes[i].Depth
		}
	}
	return d
}

// NLeaves returns the number of leaves.
func (t *Tree) NLeaves() int {
	n := 0
	for i := range t.Nodes {
		if t.Nodes[i].IsLeaf() {
			n++
		}
	}
	return n
}

func (t *Tree) addLeaf(depth int, value []float64, cover float64, samples int, impurity float64) int {
	t.Nodes = append(t.Nodes, Node{
		Feature:  -1,
		Left:     -1,
		Right:    -1,
		Depth:    depth,
		Value:    value,
		Cover:    cover,
		Samples:  samples,
		Impurity: impurity,
	})
	return len(t.Nodes) - 1
}

// Columns is a column-major copy of a feature matrix. Split search reads a
// whole feature at a time, so this layout avoids repeated At calls.
type Columns struct {
	Data  [][]float64
	NRows int
}

// NewColumns copies X into column-major order.
func NewColumns(X mat.Matrix) Columns {
	r, c := X.Dims()
	cols := make([][]float64, c)
	for j := range cols {
		cols[j] = make([]float64, r)
		mat.Col(cols[j], j, X)
	}
	return Columns{Data: cols, NRows: r}
}

// NFeatures returns the number of columns.
func (c Columns) NFeatures() int { return len(c.Data) }

// Row copies row i into dst and returns it.
func (c Columns) Row(dst []float64, i int) []float64 {
	if dst == nil {
		dst = make([]float64, len(c.Data))
	}
	for j, col := range c.Data {
		dst[j] = col[i]
	}
	return dst
}

// threshold returns a split point strictly between a and b when possible.
func threshold(a, b float64) float64 {
	t := a + (b-a)/2
	if t >= b {
		t = a
	}
	return t
}
