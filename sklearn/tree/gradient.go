package tree

import (
	"container/heap"
	"math"
	"sort"
)

// GradientTreeParams controls FitGradientTree.
type GradientTreeParams struct {
	// MaxDepth limits depth; 0 means unlimited.
	MaxDepth int
	// MaxLeaves limits the leaf count; 0 means unlimited. With a limit the
	// tree grows leaf-wise, always splitting the leaf with the largest gain.
	MaxLeaves      int
	MinSamplesLeaf int
	MinChildWeight float64
	Lambda         float64
	// LearningRate scales every leaf value.
	LearningRate float64
}

// FitGradientTree fits a regression tree to first and second order
// gradients of a loss, over the rows in idx. Leaves hold the shrunken
// Newton step -G/(H+lambda)*LearningRate, and a split is taken only when
// its gain
//
//	GL²/(HL+λ) + GR²/(HR+λ) - G²/(H+λ)
//
// is positive. Node Cover is the hessian sum.
func FitGradientTree(cols Columns, grad, hess []float64, idx []int, p GradientTreeParams) *Tree {
	b := &gradBuilder{cols: cols, g: grad, h: hess, p: p, tree: &Tree{NFeatures: cols.NFeatures()}}

	root := b.leaf(idx, 0)
	pq := &gainQueue{}
	if c, ok := b.candidate(root, idx, 0); ok {
		heap.Push(pq, c)
	}

	leaves := 1
	for pq.Len() > 0 && (p.MaxLeaves <= 0 || leaves < p.MaxLeaves) {
		c := heap.Pop(pq).(*gradCandidate)
		l := b.leaf(c.left, c.depth+1)
		r := b.leaf(c.right, c.depth+1)
		nd := &b.tree.Nodes[c.node]
		nd.Feature = c.feature
		nd.Threshold = c.threshold
		nd.Left = l
		nd.Right = r
		leaves++

		if lc, ok := b.candidate(l, c.left, c.depth+1); ok {
			heap.Push(pq, lc)
		}
		if rc, ok := b.candidate(r, c.right, c.depth+1); ok {
			heap.Push(pq, rc)
		}
	}
	return b.tree
}

type gradBuilder struct {
	cols Columns
	g, h []float64
	p    GradientTreeParams
	tree *Tree
}

type gradCandidate struct {
	node      int
	depth     int
	feature   int
	threshold float64
	gain      float64
	left      []int
	right     []int
}

func (b *gradBuilder) sums(idx []int) (G, H float64) {
	for _, i := range idx {
		G += b.g[i]
		H += b.h[i]
	}
	return G, H
}

func (b *gradBuilder) leaf(idx []int, depth int) int {
	G, H := b.sums(idx)
	v := -G / (H + b.p.Lambda) * b.p.LearningRate
	return b.tree.addLeaf(depth, []float64{v}, H, len(idx), 0)
}

func (b *gradBuilder) score(G, H float64) float64 {
	return G * G / (H + b.p.Lambda)
}

func (b *gradBuilder) candidate(node int, idx []int, depth int) (*gradCandidate, bool) {
	p := b.p
	n := len(idx)
	minLeaf := max(p.MinSamplesLeaf, 1)
	if (p.MaxDepth > 0 && depth >= p.MaxDepth) || n < 2*minLeaf {
		return nil, false
	}
	G, H := b.sums(idx)
	parent := b.score(G, H)

	best := &gradCandidate{node: node, depth: depth, gain: 1e-12, feature: -1}
	sorted := make([]int, n)
	var bestOrder []int
	bestPos := 0
	for f, col := range b.cols.Data {
		copy(sorted, idx)
		sort.SliceStable(sorted, func(a, c int) bool { return col[sorted[a]] < col[sorted[c]] })

		var GL, HL float64
		for k := 0; k < n-1; k++ {
			i := sorted[k]
			GL += b.g[i]
			HL += b.h[i]
			nL := k + 1
			if col[i] == col[sorted[k+1]] || nL < minLeaf || n-nL < minLeaf {
				continue
			}
			GR, HR := G-GL, H-HL
			if HL < p.MinChildWeight || HR < p.MinChildWeight {
				continue
			}
			gain := b.score(GL, HL) + b.score(GR, HR) - parent
			if gain > best.gain && !math.IsNaN(gain) {
				best.gain = gain
				best.feature = f
				best.threshold = threshold(col[i], col[sorted[k+1]])
				bestOrder = append(bestOrder[:0], sorted...)
				bestPos = nL
			}
		}
	}
	if best.feature < 0 {
		return nil, false
	}
	best.left = append([]int(nil), bestOrder[:bestPos]...)
	best.right = append([]int(nil), bestOrder[bestPos:]...)
	sort.Ints(best.left)
	sort.Ints(best.right)
	return best, true
}

// gainQueue is a max-heap on gain; ties go to the older node.
type gainQueue []*gradCandidate

func (q gainQueue) Len() int { return len(q) }
func (q gainQueue) Less(i, j int) bool {
	if q[i].gain != q[j].gain {
		return q[i].gain > q[j].gain
	}
	return q[i].node < q[j].node
}
func (q gainQueue) Swap(i, j int) { q[i], q[j] = q[j], q[i] }
func (q *gainQueue) Push(x any)   { *q = append(*q, x.(*gradCandidate)) }
func (q *gainQueue) Pop() any {
	old := *q
	n := len(old)
	x := old[n-1]
	*q = old[:n-1]
	return x
}
