package ensemble

import (
	"encoding/gob"
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/bcpipeline/core/model"
	"github.com/YuminosukeSato/bcpipeline/pkg/errors"
	"github.com/YuminosukeSato/bcpipeline/sklearn/tree"
)

func init() {
	gob.Register(&GradientBoostingClassifier{})
}

// Growth policies for GradientBoostingClassifier.
const (
	// GrowDepthwise expands every splittable node up to MaxDepth (XGBoost).
	GrowDepthwise = "depthwise"
	// GrowLeafwise always splits the leaf with the largest gain until
	// MaxLeaves is reached (LightGBM).
	GrowLeafwise = "lossguide"
)

// GradientBoostingClassifier is a binary classifier boosted on the logistic
// loss with second-order (Newton) leaf values. The two growth policies cover
// the XGBoost and LightGBM styles of tree construction.
type GradientBoostingClassifier struct {
	model.BaseEstimator

	NEstimators    int
	LearningRate   float64
	GrowPolicy     string
	MaxDepth       int // 0 means unlimited
	MaxLeaves      int // only used by GrowLeafwise
	MinSamplesLeaf int
	MinChildWeight float64
	Lambda         float64 // L2 penalty on leaf values

	BaseScore_ float64 // prior log-odds
	Trees_     []*tree.Tree
	Classes_   []int
	NFeatures_ int
	TrainLoss_ []float64 // log loss after each round
}

// GradientBoostingOption configures a GradientBoostingClassifier.
type GradientBoostingOption func(*GradientBoostingClassifier)

// WithBoostingRounds sets the number of trees.
func WithBoostingRounds(n int) GradientBoostingOption {
	return func(gb *GradientBoostingClassifier) { gb.NEstimators = n }
}

// WithLearningRate sets the shrinkage applied to every leaf.
func WithLearningRate(lr float64) GradientBoostingOption {
	return func(gb *GradientBoostingClassifier) { gb.LearningRate = lr }
}

// WithGrowPolicy selects depthwise or lossguide growth.
func WithGrowPolicy(policy string) GradientBoostingOption {
	return func(gb *GradientBoostingClassifier) { gb.GrowPolicy = policy }
}

// WithBoostingMaxDepth limits tree depth; 0 means unlimited.
func WithBoostingMaxDepth(depth int) GradientBoostingOption {
	return func(gb *GradientBoostingClassifier) { gb.MaxDepth = depth }
}

// WithMaxLeaves limits leaves per tree for leaf-wise growth.
func WithMaxLeaves(n int) GradientBoostingOption {
	return func(gb *GradientBoostingClassifier) { gb.MaxLeaves = n }
}

// WithBoostingMinSamplesLeaf sets the minimum rows per leaf.
func WithBoostingMinSamplesLeaf(n int) GradientBoostingOption {
	return func(gb *GradientBoostingClassifier) { gb.MinSamplesLeaf = n }
}

// WithMinChildWeight sets the minimum hessian sum per child.
func WithMinChildWeight(w float64) GradientBoostingOption {
	return func(gb *GradientBoostingClassifier) { gb.MinChildWeight = w }
}

// WithLambda sets the L2 penalty on leaf values.
func WithLambda(l float64) GradientBoostingOption {
	return func(gb *GradientBoostingClassifier) { gb.Lambda = l }
}

// NewGradientBoostingClassifier creates a classifier with XGBoost defaults.
func NewGradientBoostingClassifier(opts ...GradientBoostingOption) *GradientBoostingClassifier {
	gb := &GradientBoostingClassifier{
		NEstimators:    100,
		LearningRate:   0.3,
		GrowPolicy:     GrowDepthwise,
		MaxDepth:       6,
		MinSamplesLeaf: 1,
		MinChildWeight: 1,
		Lambda:         1,
	}
	for _, opt := range opts {
		opt(gb)
	}
	return gb
}

// NewXGBoostClassifier returns the XGBoost-style preset: depth-wise trees
// of depth 6, learning rate 0.3, lambda 1 and min_child_weight 1.
func NewXGBoostClassifier(opts ...GradientBoostingOption) *GradientBoostingClassifier {
	return NewGradientBoostingClassifier(opts...)
}

// NewLightGBMClassifier returns the LightGBM-style preset: leaf-wise trees
// with 31 leaves, learning rate 0.1, at least 20 rows and 1e-3 hessian per
// leaf, and no L2 penalty.
func NewLightGBMClassifier(opts ...GradientBoostingOption) *GradientBoostingClassifier {
	base := []GradientBoostingOption{
		WithLearningRate(0.1),
		WithGrowPolicy(GrowLeafwise),
		WithBoostingMaxDepth(0),
		WithMaxLeaves(31),
		WithBoostingMinSamplesLeaf(20),
		WithMinChildWeight(1e-3),
		WithLambda(0),
	}
	return NewGradientBoostingClassifier(append(base, opts...)...)
}

func (gb *GradientBoostingClassifier) validate() error {
	if gb.NEstimators < 1 {
		return errors.NewValidationError("n_estimators", "must be >= 1", gb.NEstimators)
	}
	if gb.LearningRate <= 0 {
		return errors.NewValidationError("learning_rate", "must be positive", gb.LearningRate)
	}
	if gb.Lambda < 0 {
		return errors.NewValidationError("reg_lambda", "must be >= 0", gb.Lambda)
	}
	switch gb.GrowPolicy {
	case GrowDepthwise:
		if gb.MaxDepth < 1 {
			return errors.NewValidationError("max_depth", "depthwise growth needs max_depth >= 1", gb.MaxDepth)
		}
	case GrowLeafwise:
		if gb.MaxLeaves < 2 {
			return errors.NewValidationError("num_leaves", "must be >= 2", gb.MaxLeaves)
		}
	default:
		return errors.NewValidationError("grow_policy", "must be depthwise or lossguide", gb.GrowPolicy)
	}
	return nil
}

func (gb *GradientBoostingClassifier) treeParams() tree.GradientTreeParams {
	p := tree.GradientTreeParams{
		MaxDepth:       gb.MaxDepth,
		MinSamplesLeaf: gb.MinSamplesLeaf,
		MinChildWeight: gb.MinChildWeight,
		Lambda:         gb.Lambda,
		LearningRate:   gb.LearningRate,
	}
	if gb.GrowPolicy == GrowLeafwise {
		p.MaxLeaves = gb.MaxLeaves
	}
	return p
}

// Fit boosts NEstimators trees on the logistic loss. Labels must take
// exactly two values; the larger one is the positive class.
func (gb *GradientBoostingClassifier) Fit(X, y mat.Matrix) (err error) {
	defer errors.Recover(&err, "GradientBoostingClassifier.Fit")

	if err := gb.validate(); err != nil {
		return err
	}
	classes, encoded, err := model.EncodeLabels("GradientBoostingClassifier.Fit", X, y)
	if err != nil {
		return err
	}
	if len(classes) != 2 {
		return errors.NewValueError("GradientBoostingClassifier.Fit",
			fmt.Sprintf("binary labels required, got %d classes", len(classes)))
	}

	cols := tree.NewColumns(X)
	n := cols.NRows
	target := make([]float64, n)
	idx := make([]int, n)
	var positives float64
	for i, c := range encoded {
		target[i] = float64(c)
		positives += target[i]
		idx[i] = i
	}
	prior := errors.ClipValue(positives/float64(n), 1e-15, 1-1e-15)
	base := math.Log(prior / (1 - prior))

	margin := make([]float64, n)
	for i := range margin {
		margin[i] = base
	}
	grad := make([]float64, n)
	hess := make([]float64, n)
	params := gb.treeParams()
	trees := make([]*tree.Tree, 0, gb.NEstimators)
	losses := make([]float64, 0, gb.NEstimators)
	row := make([]float64, cols.NFeatures())

	for round := 0; round < gb.NEstimators; round++ {
		for i := range margin {
			p := errors.Sigmoid(margin[i])
			grad[i] = p - target[i]
			hess[i] = math.Max(p*(1-p), 1e-16)
		}
		t := tree.FitGradientTree(cols, grad, hess, idx, params)
		trees = append(trees, t)

		var loss float64
		for i := range margin {
			margin[i] += t.Predict(cols.Row(row, i))[0]
			p := errors.Sigmoid(margin[i])
			loss -= target[i]*errors.StabilizeLog(p) + (1-target[i])*errors.StabilizeLog(1-p)
		}
		loss /= float64(n)
		if err := errors.CheckScalar("GradientBoostingClassifier.Fit", loss, round); err != nil {
			return err
		}
		losses = append(losses, loss)
	}

	gb.BaseScore_ = base
	gb.Trees_ = trees
	gb.Classes_ = classes
	gb.NFeatures_ = cols.NFeatures()
	gb.TrainLoss_ = losses
	gb.SetFitted()
	return nil
}

// DecisionFunction returns the raw log-odds margin (n×1).
func (gb *GradientBoostingClassifier) DecisionFunction(X mat.Matrix) (mat.Matrix, error) {
	if !gb.IsFitted() {
		return nil, errors.NewNotFittedError("GradientBoostingClassifier", "DecisionFunction")
	}
	r, c := X.Dims()
	if c != gb.NFeatures_ {
		return nil, errors.NewDimensionError("GradientBoostingClassifier.DecisionFunction", gb.NFeatures_, c, 1)
	}
	ens := gb.TreeEnsemble()
	out := mat.NewDense(r, 1, nil)
	row := make([]float64, c)
	for i := 0; i < r; i++ {
		mat.Row(row, i, X)
		out.Set(i, 0, ens.Predict(row))
	}
	return out, nil
}

// PredictProba returns [1-p, p] per row with p = sigmoid(margin).
func (gb *GradientBoostingClassifier) PredictProba(X mat.Matrix) (mat.Matrix, error) {
	margin, err := gb.DecisionFunction(X)
	if err != nil {
		return nil, err
	}
	r, _ := margin.Dims()
	out := mat.NewDense(r, 2, nil)
	for i := 0; i < r; i++ {
		p := errors.Sigmoid(margin.At(i, 0))
		out.Set(i, 0, 1-p)
		out.Set(i, 1, p)
	}
	return out, nil
}

// Predict returns the positive class where p > 0.5.
func (gb *GradientBoostingClassifier) Predict(X mat.Matrix) (mat.Matrix, error) {
	proba, err := gb.PredictProba(X)
	if err != nil {
		return nil, err
	}
	return model.ArgmaxClasses(proba, gb.Classes_), nil
}

// Score returns the mean accuracy on (X, y).
func (gb *GradientBoostingClassifier) Score(X, y mat.Matrix) float64 {
	pred, err := gb.Predict(X)
	if err != nil {
		return 0
	}
	return model.MeanAccuracy(pred, y)
}

// Classes returns the labels seen during Fit.
func (gb *GradientBoostingClassifier) Classes() []int { return gb.Classes_ }

// TreeEnsemble exposes the raw margin as an additive tree model.
func (gb *GradientBoostingClassifier) TreeEnsemble() tree.Ensemble {
	return tree.Ensemble{Trees: gb.Trees_, Scale: 1, Base: gb.BaseScore_}
}

// GetParams returns the hyperparameters.
func (gb *GradientBoostingClassifier) GetParams() map[string]interface{} {
	return map[string]interface{}{
		"n_estimators":     gb.NEstimators,
		"learning_rate":    gb.LearningRate,
		"grow_policy":      gb.GrowPolicy,
		"max_depth":        gb.MaxDepth,
		"num_leaves":       gb.MaxLeaves,
		"min_samples_leaf": gb.MinSamplesLeaf,
		"min_child_weight": gb.MinChildWeight,
		"reg_lambda":       gb.Lambda,
	}
}

// SetParams updates hyperparameters by name.
func (gb *GradientBoostingClassifier) SetParams(params map[string]interface{}) error {
	for k, v := range params {
		var err error
		switch k {
		case "n_estimators":
			gb.NEstimators, err = model.IntParam(k, v)
		case "learning_rate":
			gb.LearningRate, err = model.FloatParam(k, v)
		case "grow_policy":
			s, ok := v.(string)
			if !ok {
				return errors.NewValidationError(k, "must be a string", v)
			}
			gb.GrowPolicy = s
		case "max_depth":
			gb.MaxDepth, err = model.IntParam(k, v)
		case "num_leaves":
			gb.MaxLeaves, err = model.IntParam(k, v)
		case "min_samples_leaf":
			gb.MinSamplesLeaf, err = model.IntParam(k, v)
		case "min_child_weight":
			gb.MinChildWeight, err = model.FloatParam(k, v)
		case "reg_lambda":
			gb.Lambda, err = model.FloatParam(k, v)
		default:
			return errors.NewValidationError(k, "unknown parameter", v)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// String returns a short description.
func (gb *GradientBoostingClassifier) String() string {
	return fmt.Sprintf("GradientBoostingClassifier(grow_policy=%s, n_estimators=%d, learning_rate=%g, max_depth=%d, num_leaves=%d)",
		gb.GrowPolicy, gb.NEstimators, gb.LearningRate, gb.MaxDepth, gb.MaxLeaves)
}
