package ensemble

import (
	"encoding/gob"
	"fmt"
	"math"
	"math/rand/v2"
	"runtime"

	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/bcpipeline/core/model"
	"github.com/YuminosukeSato/bcpipeline/core/parallel"
	"github.com/YuminosukeSato/bcpipeline/pkg/errors"
	"github.com/YuminosukeSato/bcpipeline/sklearn/tree"
)

func init() {
	gob.Register(&RandomForestClassifier{})
}

// RandomForestClassifier averages the class probabilities of bootstrap-fitted
// CART trees, each split examining a random subset of features.
type RandomForestClassifier struct {
	model.BaseEstimator

	NEstimators     int
	MaxDepth        int // 0 means unlimited
	MinSamplesSplit int
	MinSamplesLeaf  int
	// MaxFeatures is "sqrt", "log2" or "all".
	MaxFeatures string
	Bootstrap   bool
	RandomState uint64
	// NJobs bounds the goroutines fitting trees; 0 uses every CPU.
	NJobs int

	Estimators_         []*tree.DecisionTreeClassifier
	Classes_            []int
	NClasses_           int
	NFeatures_          int
	FeatureImportances_ []float64
}

// RandomForestOption configures a RandomForestClassifier.
type RandomForestOption func(*RandomForestClassifier)

// WithNEstimators sets the number of trees.
func WithNEstimators(n int) RandomForestOption {
	return func(rf *RandomForestClassifier) { rf.NEstimators = n }
}

// WithForestMaxDepth limits the depth of every tree; 0 means unlimited.
func WithForestMaxDepth(depth int) RandomForestOption {
	return func(rf *RandomForestClassifier) { rf.MaxDepth = depth }
}

// WithForestMinSamplesSplit sets min_samples_split for every tree.
func WithForestMinSamplesSplit(n int) RandomForestOption {
	return func(rf *RandomForestClassifier) { rf.MinSamplesSplit = n }
}

// WithForestMinSamplesLeaf sets min_samples_leaf for every tree.
func WithForestMinSamplesLeaf(n int) RandomForestOption {
	return func(rf *RandomForestClassifier) { rf.MinSamplesLeaf = n }
}

// WithForestMaxFeatures sets the per-split feature budget rule.
func WithForestMaxFeatures(rule string) RandomForestOption {
	return func(rf *RandomForestClassifier) { rf.MaxFeatures = rule }
}

// WithBootstrap toggles bootstrap sampling.
func WithBootstrap(b bool) RandomForestOption {
	return func(rf *RandomForestClassifier) { rf.Bootstrap = b }
}

// WithForestRandomState seeds bootstrap and feature sampling.
func WithForestRandomState(seed uint64) RandomForestOption {
	return func(rf *RandomForestClassifier) { rf.RandomState = seed }
}

// WithNJobs bounds fitting parallelism.
func WithNJobs(n int) RandomForestOption {
	return func(rf *RandomForestClassifier) { rf.NJobs = n }
}

// NewRandomForestClassifier creates a forest with scikit-learn defaults.
func NewRandomForestClassifier(opts ...RandomForestOption) *RandomForestClassifier {
	rf := &RandomForestClassifier{
		NEstimators:     100,
		MinSamplesSplit: 2,
		MinSamplesLeaf:  1,
		MaxFeatures:     "sqrt",
		Bootstrap:       true,
	}
	for _, opt := range opts {
		opt(rf)
	}
	return rf
}

func (rf *RandomForestClassifier) validate() error {
	if rf.NEstimators < 1 {
		return errors.NewValidationError("n_estimators", "must be >= 1", rf.NEstimators)
	}
	switch rf.MaxFeatures {
	case "sqrt", "log2", "all":
	default:
		return errors.NewValidationError("max_features", "must be sqrt, log2 or all", rf.MaxFeatures)
	}
	return nil
}

func (rf *RandomForestClassifier) featureBudget(p int) int {
	switch rf.MaxFeatures {
	case "sqrt":
		return max(1, int(math.Sqrt(float64(p))))
	case "log2":
		return max(1, int(math.Log2(float64(p))))
	}
	return p
}

// Fit grows NEstimators trees. Tree i draws its bootstrap sample and its
// split seed from a generator keyed on (RandomState, i), so the fitted
// forest does not depend on scheduling.
func (rf *RandomForestClassifier) Fit(X, y mat.Matrix) (err error) {
	defer errors.Recover(&err, "RandomForestClassifier.Fit")

	if err := rf.validate(); err != nil {
		return err
	}
	classes, encoded, err := model.EncodeLabels("RandomForestClassifier.Fit", X, y)
	if err != nil {
		return err
	}
	cols := tree.NewColumns(X)
	n, p := cols.NRows, cols.NFeatures()
	budget := rf.featureBudget(p)

	workers := rf.NJobs
	if workers <= 0 {
		workers = runtime.NumCPU()
	}

	trees := make([]*tree.DecisionTreeClassifier, rf.NEstimators)
	errs := make([]error, rf.NEstimators)
	parallel.ForEach(rf.NEstimators, workers, func(i int) {
		rng := rand.New(rand.NewPCG(rf.RandomState, uint64(i)))
		weights := make([]float64, n)
		if rf.Bootstrap {
			for k := 0; k < n; k++ {
				weights[rng.IntN(n)]++
			}
		} else {
			for k := range weights {
				weights[k] = 1
			}
		}
		dt := tree.NewDecisionTreeClassifier(
			tree.WithMaxDepth(rf.MaxDepth),
			tree.WithMinSamplesSplit(rf.MinSamplesSplit),
			tree.WithMinSamplesLeaf(rf.MinSamplesLeaf),
			tree.WithMaxFeatures(budget),
			tree.WithRandomState(rng.Uint64()),
		)
		errs[i] = errors.SafeExecute(fmt.Sprintf("fit tree %d", i), func() error {
			return dt.FitEncoded(cols, encoded, classes, weights)
		})
		trees[i] = dt
	})
	for _, e := range errs {
		if e != nil {
			return e
		}
	}

	importances := make([]float64, p)
	for _, dt := range trees {
		for j, v := range dt.FeatureImportances_ {
			importances[j] += v / float64(len(trees))
		}
	}

	rf.Estimators_ = trees
	rf.Classes_ = classes
	rf.NClasses_ = len(classes)
	rf.NFeatures_ = p
	rf.FeatureImportances_ = importances
	rf.SetFitted()
	return nil
}

// PredictProba returns the mean of the trees' class probabilities.
func (rf *RandomForestClassifier) PredictProba(X mat.Matrix) (mat.Matrix, error) {
	if !rf.IsFitted() {
		return nil, errors.NewNotFittedError("RandomForestClassifier", "PredictProba")
	}
	r, c := X.Dims()
	if c != rf.NFeatures_ {
		return nil, errors.NewDimensionError("RandomForestClassifier.PredictProba", rf.NFeatures_, c, 1)
	}
	out := mat.NewDense(r, rf.NClasses_, nil)
	scale := 1 / float64(len(rf.Estimators_))
	row := make([]float64, c)
	acc := make([]float64, rf.NClasses_)
	for i := 0; i < r; i++ {
		mat.Row(row, i, X)
		for k := range acc {
			acc[k] = 0
		}
		for _, dt := range rf.Estimators_ {
			for k, v := range dt.Tree_.Predict(row) {
				acc[k] += v
			}
		}
		for k := range acc {
			out.Set(i, k, acc[k]*scale)
		}
	}
	return out, nil
}

// Predict returns the class with the highest mean probability.
func (rf *RandomForestClassifier) Predict(X mat.Matrix) (mat.Matrix, error) {
	proba, err := rf.PredictProba(X)
	if err != nil {
		return nil, err
	}
	return model.ArgmaxClasses(proba, rf.Classes_), nil
}

// Score returns the mean accuracy on (X, y).
func (rf *RandomForestClassifier) Score(X, y mat.Matrix) float64 {
	pred, err := rf.Predict(X)
	if err != nil {
		return 0
	}
	return model.MeanAccuracy(pred, y)
}

// Classes returns the labels seen during Fit.
func (rf *RandomForestClassifier) Classes() []int { return rf.Classes_ }

// GetFeatureImportances returns the mean impurity decrease per feature.
func (rf *RandomForestClassifier) GetFeatureImportances() []float64 {
	return rf.FeatureImportances_
}

// TreeEnsemble exposes the forest's positive-class probability as an
// additive tree model.
func (rf *RandomForestClassifier) TreeEnsemble() tree.Ensemble {
	trees := make([]*tree.Tree, len(rf.Estimators_))
	for i, dt := range rf.Estimators_ {
		trees[i] = dt.Tree_
	}
	return tree.Ensemble{
		Trees:  trees,
		Scale:  1 / float64(len(trees)),
		Output: rf.NClasses_ - 1,
	}
}

// GetParams returns the hyperparameters.
func (rf *RandomForestClassifier) GetParams() map[string]interface{} {
	return map[string]interface{}{
		"n_estimators":      rf.NEstimators,
		"max_depth":         rf.MaxDepth,
		"min_samples_split": rf.MinSamplesSplit,
		"min_samples_leaf":  rf.MinSamplesLeaf,
		"max_features":      rf.MaxFeatures,
		"bootstrap":         rf.Bootstrap,
		"random_state":      rf.RandomState,
	}
}

// SetParams updates hyperparameters by name.
func (rf *RandomForestClassifier) SetParams(params map[string]interface{}) error {
	for k, v := range params {
		var err error
		switch k {
		case "n_estimators":
			rf.NEstimators, err = model.IntParam(k, v)
		case "max_depth":
			rf.MaxDepth, err = model.IntParam(k, v)
		case "min_samples_split":
			rf.MinSamplesSplit, err = model.IntParam(k, v)
		case "min_samples_leaf":
			rf.MinSamplesLeaf, err = model.IntParam(k, v)
		case "max_features":
			s, ok := v.(string)
			if !ok {
				return errors.NewValidationError(k, "must be a string", v)
			}
			rf.MaxFeatures = s
		case "bootstrap":
			b, ok := v.(bool)
			if !ok {
				return errors.NewValidationError(k, "must be a bool", v)
			}
			rf.Bootstrap = b
		case "random_state":
			var n int
			n, err = model.IntParam(k, v)
			rf.RandomState = uint64(n)
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
func (rf *RandomForestClassifier) String() string {
	return fmt.Sprintf("RandomForestClassifier(n_estimators=%d, max_depth=%d, min_samples_split=%d, min_samples_leaf=%d, max_features=%s)",
		rf.NEstimators, rf.MaxDepth, rf.MinSamplesSplit, rf.MinSamplesLeaf, rf.MaxFeatures)
}
