package tree

import (
	"encoding/gob"
	"fmt"
	"math"
	"math/rand/v2"
	"sort"

	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/bcpipeline/core/model"
	"github.com/YuminosukeSato/bcpipeline/pkg/errors"
)

func init() {
	gob.Register(&DecisionTreeClassifier{})
}

// DecisionTreeClassifier is a CART classifier compatible with
// scikit-learn's DecisionTreeClassifier.
//
// Fitted attributes carry a trailing underscore like their scikit-learn
// counterparts.
type DecisionTreeClassifier struct {
	model.BaseEstimator

	Criterion       string // "gini" or "entropy"
	MaxDepth        int    // 0 means unlimited
	MinSamplesSplit int
	MinSamplesLeaf  int
	// MaxFeatures is the number of features examined per split; 0 means all.
	MaxFeatures int
	RandomState uint64

	Tree_               *Tree
	Classes_            []int
	NClasses_           int
	NFeatures_          int
	FeatureImportances_ []float64
}

// DecisionTreeOption configures a DecisionTreeClassifier.
type DecisionTreeOption func(*DecisionTreeClassifier)

// WithCriterion sets the impurity measure ("gini" or "entropy").
func WithCriterion(criterion string) DecisionTreeOption {
	return func(dt *DecisionTreeClassifier) { dt.Criterion = criterion }
}

// WithMaxDepth limits tree depth; 0 means unlimited.
func WithMaxDepth(depth int) DecisionTreeOption {
	return func(dt *DecisionTreeClassifier) { dt.MaxDepth = depth }
}

// WithMinSamplesSplit sets the minimum samples required to split a node.
func WithMinSamplesSplit(n int) DecisionTreeOption {
	return func(dt *DecisionTreeClassifier) { dt.MinSamplesSplit = n }
}

// WithMinSamplesLeaf sets the minimum samples required in each leaf.
func WithMinSamplesLeaf(n int) DecisionTreeOption {
	return func(dt *DecisionTreeClassifier) { dt.MinSamplesLeaf = n }
}

// WithMaxFeatures sets the number of features examined per split.
func WithMaxFeatures(n int) DecisionTreeOption {
	return func(dt *DecisionTreeClassifier) { dt.MaxFeatures = n }
}

// WithRandomState seeds feature sampling.
func WithRandomState(seed uint64) DecisionTreeOption {
	return func(dt *DecisionTreeClassifier) { dt.RandomState = seed }
}

// NewDecisionTreeClassifier creates a classifier with scikit-learn defaults.
func NewDecisionTreeClassifier(opts ...DecisionTreeOption) *DecisionTreeClassifier {
	dt := &DecisionTreeClassifier{
		Criterion:       "gini",
		MinSamplesSplit: 2,
		MinSamplesLeaf:  1,
	}
	for _, opt := range opts {
		opt(dt)
	}
	return dt
}

// Fit builds the tree from X (n×p) and labels y (n×1).
func (dt *DecisionTreeClassifier) Fit(X, y mat.Matrix) (err error) {
	defer errors.Recover(&err, "DecisionTreeClassifier.Fit")

	classes, encoded, err := model.EncodeLabels("DecisionTreeClassifier.Fit", X, y)
	if err != nil {
		return err
	}
	cols := NewColumns(X)
	weights := make([]float64, cols.NRows)
	for i := range weights {
		weights[i] = 1
	}
	return dt.FitEncoded(cols, encoded, classes, weights)
}

// FitEncoded builds the tree from pre-encoded labels (indices into classes)
// and per-sample weights. Samples with zero weight are ignored. Random
// forests use it to fit bootstrap samples against the forest's classes.
func (dt *DecisionTreeClassifier) FitEncoded(cols Columns, y []int, classes []int, weights []float64) error {
	if err := dt.validate(); err != nil {
		return err
	}
	if len(y) != cols.NRows || len(weights) != cols.NRows {
		return errors.NewDimensionError("DecisionTreeClassifier.Fit", cols.NRows, len(y), 0)
	}

	idx := make([]int, 0, cols.NRows)
	for i, w := range weights {
		if w > 0 {
			idx = append(idx, i)
		}
	}
	if len(idx) == 0 {
		return errors.Wrap(errors.ErrEmptyData, "DecisionTreeClassifier.Fit")
	}

	b := &classBuilder{
		params:      dt,
		cols:        cols,
		y:           y,
		w:           weights,
		nClasses:    len(classes),
		importances: make([]float64, cols.NFeatures()),
		tree:        &Tree{NFeatures: cols.NFeatures()},
		rng:         rand.New(rand.NewPCG(dt.RandomState, dt.RandomState^0x9e3779b97f4a7c15)),
	}
	b.build(idx, 0)

	var total float64
	for _, v := range b.importances {
		total += v
	}
	if total > 0 {
		for j := range b.importances {
			b.importances[j] /= total
		}
	}

	dt.Tree_ = b.tree
	dt.Classes_ = append([]int(nil), classes...)
	dt.NClasses_ = len(classes)
	dt.NFeatures_ = cols.NFeatures()
	dt.FeatureImportances_ = b.importances
	dt.SetFitted()
	return nil
}

func (dt *DecisionTreeClassifier) validate() error {
	if dt.Criterion != "gini" && dt.Criterion != "entropy" {
		return errors.NewValidationError("criterion", "must be gini or entropy", dt.Criterion)
	}
	if dt.MinSamplesSplit < 2 {
		return errors.NewValidationError("min_samples_split", "must be >= 2", dt.MinSamplesSplit)
	}
	if dt.MinSamplesLeaf < 1 {
		return errors.NewValidationError("min_samples_leaf", "must be >= 1", dt.MinSamplesLeaf)
	}
	if dt.MaxDepth < 0 {
		return errors.NewValidationError("max_depth", "must be >= 0", dt.MaxDepth)
	}
	return nil
}

// Predict returns the most probable class for each row.
func (dt *DecisionTreeClassifier) Predict(X mat.Matrix) (mat.Matrix, error) {
	proba, err := dt.PredictProba(X)
	if err != nil {
		return nil, err
	}
	return model.ArgmaxClasses(proba, dt.Classes_), nil
}

// PredictProba returns class probabilities; columns follow Classes().
func (dt *DecisionTreeClassifier) PredictProba(X mat.Matrix) (mat.Matrix, error) {
	if !dt.IsFitted() {
		return nil, errors.NewNotFittedError("DecisionTreeClassifier", "PredictProba")
	}
	r, c := X.Dims()
	if c != dt.NFeatures_ {
		return nil, errors.NewDimensionError("DecisionTreeClassifier.PredictProba", dt.NFeatures_, c, 1)
	}
	out := mat.NewDense(r, dt.NClasses_, nil)
	row := make([]float64, c)
	for i := 0; i < r; i++ {
		mat.Row(row, i, X)
		out.SetRow(i, dt.Tree_.Predict(row))
	}
	return out, nil
}

// Score returns the mean accuracy on (X, y), or 0 if prediction fails.
func (dt *DecisionTreeClassifier) Score(X, y mat.Matrix) float64 {
	pred, err := dt.Predict(X)
	if err != nil {
		return 0
	}
	return model.MeanAccuracy(pred, y)
}

// Classes returns the labels seen during Fit.
func (dt *DecisionTreeClassifier) Classes() []int { return dt.Classes_ }

// GetFeatureImportances returns the normalized impurity decrease per feature.
func (dt *DecisionTreeClassifier) GetFeatureImportances() []float64 {
	return dt.FeatureImportances_
}

// GetDepth returns the depth of the fitted tree.
func (dt *DecisionTreeClassifier) GetDepth() int {
	if dt.Tree_ == nil {
		return 0
	}
	return dt.Tree_.MaxDepth()
}

// GetNLeaves returns the number of leaves of the fitted tree.
func (dt *DecisionTreeClassifier) GetNLeaves() int {
	if dt.Tree_ == nil {
		return 0
	}
	return dt.Tree_.NLeaves()
}

// GetParams returns the hyperparameters.
func (dt *DecisionTreeClassifier) GetParams() map[string]interface{} {
	return map[string]interface{}{
		"criterion":         dt.Criterion,
		"max_depth":         dt.MaxDepth,
		"min_samples_split": dt.MinSamplesSplit,
		"min_samples_leaf":  dt.MinSamplesLeaf,
		"max_features":      dt.MaxFeatures,
		"random_state":      dt.RandomState,
	}
}

// SetParams updates hyperparameters by name.
func (dt *DecisionTreeClassifier) SetParams(params map[string]interface{}) error {
	for k, v := range params {
		var err error
		switch k {
		case "criterion":
			if s, ok := v.(string); ok {
				dt.Criterion = s
			} else {
				err = errors.NewValidationError(k, "must be a string", v)
			}
		case "max_depth":
			dt.MaxDepth, err = model.IntParam(k, v)
		case "min_samples_split":
			dt.MinSamplesSplit, err = model.IntParam(k, v)
		case "min_samples_leaf":
			dt.MinSamplesLeaf, err = model.IntParam(k, v)
		case "max_features":
			dt.MaxFeatures, err = model.IntParam(k, v)
		case "random_state":
			var n int
			n, err = model.IntParam(k, v)
			dt.RandomState = uint64(n)
		default:
			err = errors.NewValidationError(k, "unknown parameter", v)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// String returns a short description.
func (dt *DecisionTreeClassifier) String() string {
	return fmt.Sprintf("DecisionTreeClassifier(criterion=%s, max_depth=%d, min_samples_split=%d, min_samples_leaf=%d)",
		dt.Criterion, dt.MaxDepth, dt.MinSamplesSplit, dt.MinSamplesLeaf)
}

// classBuilder grows a classification tree depth-first.
type classBuilder struct {
	params      *DecisionTreeClassifier
	cols        Columns
	y           []int
	w           []float64
	nClasses    int
	importances []float64
	tree        *Tree
	rng         *rand.Rand
}

type classSplit struct {
	feature   int
	threshold float64
	// position in the sorted index slice where the right child starts
	pos   int
	proxy float64
	order []int
}

func (b *classBuilder) build(idx []int, depth int) int {
	counts := make([]float64, b.nClasses)
	var W float64
	for _, i := range idx {
		counts[b.y[i]] += b.w[i]
		W += b.w[i]
	}
	impurity := b.impurity(counts, W)
	value := make([]float64, b.nClasses)
	for c := range counts {
		value[c] = counts[c] / W
	}
	node := b.tree.addLeaf(depth, value, W, len(idx), impurity)

	p := b.params
	n := len(idx)
	if impurity <= 1e-12 ||
		n < p.MinSamplesSplit ||
		n < 2*p.MinSamplesLeaf ||
		(p.MaxDepth > 0 && depth >= p.MaxDepth) {
		return node
	}

	split, ok := b.bestSplit(idx, counts, W)
	if !ok {
		return node
	}

	left := append([]int(nil), split.order[:split.pos]...)
	right := append([]int(nil), split.order[split.pos:]...)
	sort.Ints(left)
	sort.Ints(right)

	l := b.build(left, depth+1)
	r := b.build(right, depth+1)

	nd := &b.tree.Nodes[node]
	nd.Feature = split.feature
	nd.Threshold = split.threshold
	nd.Left = l
	nd.Right = r

	ln, rn := &b.tree.Nodes[l], &b.tree.Nodes[r]
	b.importances[split.feature] += W*impurity - ln.Cover*ln.Impurity - rn.Cover*rn.Impurity
	return node
}

// bestSplit scans candidate features. With MaxFeatures set, features are
// visited in random order and the search stops once MaxFeatures
// non-constant features have been examined and a split was found.
func (b *classBuilder) bestSplit(idx []int, counts []float64, W float64) (classSplit, bool) {
	nFeat := b.cols.NFeatures()
	order := make([]int, nFeat)
	for j := range order {
		order[j] = j
	}
	limit := nFeat
	if mf := b.params.MaxFeatures; mf > 0 && mf < nFeat {
		b.rng.Shuffle(nFeat, func(i, j int) { order[i], order[j] = order[j], order[i] })
		limit = mf
	}

	best := classSplit{proxy: math.Inf(-1)}
	found := false
	visited := 0
	sorted := make([]int, len(idx))
	left := make([]float64, b.nClasses)
	right := make([]float64, b.nClasses)
	minLeaf := b.params.MinSamplesLeaf

	for _, f := range order {
		if visited >= limit && found {
			break
		}
		col := b.cols.Data[f]
		copy(sorted, idx)
		sort.SliceStable(sorted, func(a, c int) bool { return col[sorted[a]] < col[sorted[c]] })
		if col[sorted[0]] == col[sorted[len(sorted)-1]] {
			continue
		}
		visited++

		for c := range left {
			left[c] = 0
		}
		var WL float64
		n := len(sorted)
		for k := 0; k < n-1; k++ {
			i := sorted[k]
			left[b.y[i]] += b.w[i]
			WL += b.w[i]
			nL := k + 1
			if col[i] == col[sorted[k+1]] || nL < minLeaf || n-nL < minLeaf {
				continue
			}
			WR := W - WL
			for c := range right {
				right[c] = counts[c] - left[c]
			}
			proxy := -(WL*b.impurity(left, WL) + WR*b.impurity(right, WR))
			if proxy > best.proxy {
				best = classSplit{
					feature:   f,
					threshold: threshold(col[i], col[sorted[k+1]]),
					pos:       nL,
					proxy:     proxy,
				}
				best.order = append(best.order[:0], sorted...)
				found = true
			}
		}
	}
	return best, found
}

func (b *classBuilder) impurity(counts []float64, W float64) float64 {
	if W <= 0 {
		return 0
	}
	if b.params.Criterion == "entropy" {
		var h float64
		for _, c := range counts {
			if c > 0 {
				p := c / W
				h -= p * math.Log2(p)
			}
		}
		return h
	}
	g := 1.0
	for _, c := range counts {
		p := c / W
		g -= p * p
	}
	return g
}
