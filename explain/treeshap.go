// Package explain computes SHAP feature attributions for tree ensembles.
//
// TreeExplainer implements the exact path-dependent TreeSHAP algorithm
// (Lundberg et al., "Consistent Individualized Feature Attribution for Tree
// Ensembles"), which runs in O(T L D^2) per row and uses the training cover
// stored on each node to weight the paths not taken by a sample.
package explain

import (
	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/bcpipeline/core/parallel"
	"github.com/YuminosukeSato/bcpipeline/pkg/errors"
	"github.com/YuminosukeSato/bcpipeline/sklearn/tree"
)

// TreeModel is implemented by models that can be viewed as an additive
// tree ensemble.
type TreeModel interface {
	TreeEnsemble() tree.Ensemble
}

// Values holds SHAP values for a set of rows.
type Values struct {
	Values       *mat.Dense // samples x features
	BaseValue    float64    // expected model output
	FeatureNames []string
}

// Output returns BaseValue plus the attributions of row i, which equals the
// explained model output for that row.
func (v *Values) Output(i int) float64 {
	s := v.BaseValue
	for _, phi := range v.Values.RawRowView(i) {
		s += phi
	}
	return s
}

// TreeExplainer explains the output of a tree ensemble.
type TreeExplainer struct {
	ensemble tree.Ensemble
	expected float64
	nFeat    int
}

// NewTreeExplainer prepares an explainer for m.
func NewTreeExplainer(m TreeModel) (*TreeExplainer, error) {
	ens := m.TreeEnsemble()
	if len(ens.Trees) == 0 {
		return nil, errors.NewNotFittedError("TreeExplainer", "NewTreeExplainer")
	}
	var expected float64
	for _, t := range ens.Trees {
		expected += expectedValue(t, 0, ens.Output)
	}
	return &TreeExplainer{
		ensemble: ens,
		expected: ens.Base + ens.Scale*expected,
		nFeat:    ens.Trees[0].NFeatures,
	}, nil
}

// ExpectedValue returns the cover-weighted mean output of the ensemble.
func (e *TreeExplainer) ExpectedValue() float64 { return e.expected }

// Explain returns one row of attributions per row of X.
func (e *TreeExplainer) Explain(X mat.Matrix, featureNames []string) (*Values, error) {
	rows, cols := X.Dims()
	if cols != e.nFeat {
		return nil, errors.NewDimensionError("TreeExplainer.Explain", e.nFeat, cols, 1)
	}
	if featureNames != nil && len(featureNames) != cols {
		return nil, errors.NewDimensionError("TreeExplainer.Explain", cols, len(featureNames), 1)
	}

	out := mat.NewDense(rows, cols, nil)
	parallel.Parallelize(rows, func(start, end int) {
		x := make([]float64, cols)
		for i := start; i < end; i++ {
			mat.Row(x, i, X)
			phi := out.RawRowView(i)
			for _, t := range e.ensemble.Trees {
				treeShap(t, e.ensemble.Output, x, phi, 0, nil, 1, 1, -1)
			}
			for j := range phi {
				phi[j] *= e.ensemble.Scale
			}
		}
	})

	return &Values{
		Values:       out,
		BaseValue:    e.expected,
		FeatureNames: featureNames,
	}, nil
}

func expectedValue(t *tree.Tree, node, output int) float64 {
	n := &t.Nodes[node]
	if n.IsLeaf() {
		return n.Value[output]
	}
	l, r := &t.Nodes[n.Left], &t.Nodes[n.Right]
	return (l.Cover*expectedValue(t, n.Left, output) + r.Cover*expectedValue(t, n.Right, output)) / n.Cover
}

// pathElement is one feature on the unique path from the root. zero is the
// fraction of cover that flows through when the feature is unknown, one is
// 1 when the sample follows this branch and 0 otherwise.
type pathElement struct {
	feature int
	zero    float64
	one     float64
	weight  float64
}

func treeShap(t *tree.Tree, output int, x, phi []float64, node int, parent []pathElement, pz, po float64, pi int) {
	path := append(make([]pathElement, 0, len(parent)+1), parent...)
	path = extendPath(path, pz, po, pi)

	n := &t.Nodes[node]
	if n.IsLeaf() {
		v := n.Value[output]
		for i := 1; i < len(path); i++ {
			w := unwoundPathSum(path, i)
			el := path[i]
			phi[el.feature] += w * (el.one - el.zero) * v
		}
		return
	}

	hot, cold := n.Right, n.Left
	if x[n.Feature] <= n.Threshold {
		hot, cold = n.Left, n.Right
	}
	hotZero := t.Nodes[hot].Cover / n.Cover
	coldZero := t.Nodes[cold].Cover / n.Cover

	// a feature seen higher up is removed and its fractions carried down
	inZero, inOne := 1.0, 1.0
	for k := 1; k < len(path); k++ {
		if path[k].feature == n.Feature {
			inZero, inOne = path[k].zero, path[k].one
			path = unwindPath(path, k)
			break
		}
	}

	treeShap(t, output, x, phi, hot, path, hotZero*inZero, inOne, n.Feature)
	treeShap(t, output, x, phi, cold, path, coldZero*inZero, 0, n.Feature)
}

func extendPath(path []pathElement, pz, po float64, pi int) []pathElement {
	d := len(path)
	w := 0.0
	if d == 0 {
		w = 1
	}
	path = append(path, pathElement{feature: pi, zero: pz, one: po, weight: w})
	for i := d - 1; i >= 0; i-- {
		path[i+1].weight += po * path[i].weight * float64(i+1) / float64(d+1)
		path[i].weight = pz * path[i].weight * float64(d-i) / float64(d+1)
	}
	return path
}

func unwindPath(path []pathElement, idx int) []pathElement {
	d := len(path) - 1
	one, zero := path[idx].one, path[idx].zero
	next := path[d].weight
	for i := d - 1; i >= 0; i-- {
		if one != 0 {
			tmp := path[i].weight
			path[i].weight = next * float64(d+1) / (float64(i+1) * one)
			next = tmp - path[i].weight*zero*float64(d-i)/float64(d+1)
		} else {
			path[i].weight = path[i].weight * float64(d+1) / (zero * float64(d-i))
		}
	}
	for i := idx; i < d; i++ {
		path[i].feature = path[i+1].feature
		path[i].zero = path[i+1].zero
		path[i].one = path[i+1].one
	}
	return path[:d]
}

// unwoundPathSum is the total weight of the path with element idx removed,
// without modifying it.
func unwoundPathSum(path []pathElement, idx int) float64 {
	d := len(path) - 1
	one, zero := path[idx].one, path[idx].zero
	next := path[d].weight
	var total float64
	for i := d - 1; i >= 0; i-- {
		if one != 0 {
			tmp := next * float64(d+1) / (float64(i+1) * one)
			total += tmp
			next = path[i].weight - tmp*zero*float64(d-i)/float64(d+1)
		} else if zero != 0 {
			total += path[i].weight / zero / (float64(d-i) / float64(d+1))
		}
	}
	return total
}
