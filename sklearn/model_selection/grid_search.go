package model_selection

import (
	"fmt"
	"math"
	"runtime"
	"sort"

	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/bcpipeline/core/model"
	"github.com/YuminosukeSato/bcpipeline/core/parallel"
	"github.com/YuminosukeSato/bcpipeline/metrics"
	"github.com/YuminosukeSato/bcpipeline/pkg/errors"
	"github.com/YuminosukeSato/bcpipeline/pkg/log"
)

// ParamGrid maps a hyperparameter name to the values to try.
type ParamGrid map[string][]interface{}

// Candidates expands the grid into every combination. Keys are taken in
// sorted order and the last key varies fastest. An empty grid yields a
// single empty candidate.
func (g ParamGrid) Candidates() []map[string]interface{} {
	keys := make([]string, 0, len(g))
	for k := range g {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := []map[string]interface{}{{}}
	for _, k := range keys {
		next := make([]map[string]interface{}, 0, len(out)*len(g[k]))
		for _, base := range out {
			for _, v := range g[k] {
				c := make(map[string]interface{}, len(base)+1)
				for bk, bv := range base {
					c[bk] = bv
				}
				c[k] = v
				next = append(next, c)
			}
		}
		out = next
	}
	return out
}

// GridSearchCV evaluates every candidate of a ParamGrid with k-fold cross
// validation scored by ROC AUC and refits the best one on all data.
type GridSearchCV struct {
	model.BaseEstimator

	// Estimator builds a fresh, unfitted model for every fit.
	Estimator func() model.TunableClassifier
	ParamGrid ParamGrid
	CV        KFoldSplitter
	NJobs     int
	Refit     bool
	// Logger receives progress; nil uses the package default.
	Logger log.Logger

	CVResults_     []CVResult
	BestIndex_     int
	BestParams_    map[string]interface{}
	BestScore_     float64
	BestEstimator_ model.TunableClassifier
}

// GridSearchOption configures a GridSearchCV.
type GridSearchOption func(*GridSearchCV)

// WithCV sets the fold splitter.
func WithCV(cv KFoldSplitter) GridSearchOption {
	return func(g *GridSearchCV) { g.CV = cv }
}

// WithSearchNJobs limits the number of candidate/fold fits run at once.
func WithSearchNJobs(n int) GridSearchOption {
	return func(g *GridSearchCV) { g.NJobs = n }
}

// WithSearchLogger sets the logger used for search progress.
func WithSearchLogger(l log.Logger) GridSearchOption {
	return func(g *GridSearchCV) { g.Logger = l }
}

// WithRefit controls whether the best candidate is refitted on all data.
func WithRefit(refit bool) GridSearchOption {
	return func(g *GridSearchCV) { g.Refit = refit }
}

// NewGridSearchCV creates a search over grid using fresh models from
// estimator. The default splitter is an unshuffled 5-fold StratifiedKFold.
func NewGridSearchCV(estimator func() model.TunableClassifier, grid ParamGrid, opts ...GridSearchOption) *GridSearchCV {
	g := &GridSearchCV{
		Estimator:  estimator,
		ParamGrid:  grid,
		CV:         NewStratifiedKFold(5, false, 0),
		NJobs:      runtime.NumCPU(),
		Refit:      true,
		BestIndex_: -1,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Fit runs the search. A candidate whose fit fails on any fold scores NaN
// and can never be selected; Fit fails only when every candidate does.
func (g *GridSearchCV) Fit(X, y mat.Matrix) (err error) {
	defer errors.Recover(&err, "GridSearchCV.Fit")

	if g.Estimator == nil {
		return errors.NewValidationError("estimator", "must not be nil", nil)
	}
	if g.CV == nil {
		return errors.NewValidationError("cv", "must not be nil", nil)
	}
	folds, err := g.CV.Split(X, y)
	if err != nil {
		return err
	}
	candidates := g.ParamGrid.Candidates()

	logger := g.Logger
	if logger == nil {
		logger = log.GetLogger()
	}
	logger = logger.With(log.ComponentKey, "model_selection.grid_search")
	logger.Debug("Grid search started",
		"candidates", len(candidates),
		"folds", len(folds),
	)

	scores := make([][]float64, len(candidates))
	errs := make([][]error, len(candidates))
	for c := range candidates {
		scores[c] = make([]float64, len(folds))
		errs[c] = make([]error, len(folds))
	}

	parallel.ForEach(len(candidates)*len(folds), g.NJobs, func(t int) {
		c, f := t/len(folds), t%len(folds)
		errs[c][f] = errors.SafeExecute("GridSearchCV.fold", func() error {
			s, err := g.scoreFold(candidates[c], X, y, folds[f])
			scores[c][f] = s
			return err
		})
	})

	g.CVResults_ = make([]CVResult, len(candidates))
	g.BestIndex_ = -1
	g.BestScore_ = math.NaN()
	for c, params := range candidates {
		res := CVResult{Params: params, TestScores: scores[c]}
		for _, e := range errs[c] {
			if e != nil {
				res.Err = e
				break
			}
		}
		g.CVResults_[c] = res

		mean := res.GetMeanScore()
		logger.Debug("Grid search candidate scored",
			log.ParamsKey, fmt.Sprint(params),
			log.CVScoreKey, mean,
		)
		if math.IsNaN(mean) {
			continue
		}
		if g.BestIndex_ < 0 || mean > g.BestScore_ {
			g.BestIndex_ = c
			g.BestScore_ = mean
		}
	}
	if g.BestIndex_ < 0 {
		cause := errors.New("no candidate produced a finite score")
		if first := g.CVResults_[0].Err; first != nil {
			cause = errors.Wrap(first, "every candidate failed")
		}
		return errors.NewModelError("GridSearchCV.Fit", "search", cause)
	}
	g.BestParams_ = candidates[g.BestIndex_]

	if g.Refit {
		best := g.Estimator()
		if err := best.SetParams(g.BestParams_); err != nil {
			return err
		}
		if err := best.Fit(X, y); err != nil {
			return errors.Wrap(err, "refit best candidate")
		}
		g.BestEstimator_ = best
	}

	g.SetFitted()
	return nil
}

func (g *GridSearchCV) scoreFold(params map[string]interface{}, X, y mat.Matrix, fold CVFold) (float64, error) {
	est := g.Estimator()
	if err := est.SetParams(params); err != nil {
		return math.NaN(), err
	}
	xTrain, yTrain := extractSubset(X, y, fold.TrainIndices)
	xTest, yTest := extractSubset(X, y, fold.TestIndices)
	if err := est.Fit(xTrain, yTrain); err != nil {
		return math.NaN(), err
	}
	proba, err := est.PredictProba(xTest)
	if err != nil {
		return math.NaN(), err
	}
	return rocAUC(est.Classes(), yTest, proba)
}

// rocAUC scores positive-class probabilities against y, taking the larger
// of the two fitted classes as positive.
func rocAUC(classes []int, y mat.Matrix, proba mat.Matrix) (float64, error) {
	if len(classes) != 2 {
		return math.NaN(), errors.NewValueError("GridSearchCV", "roc_auc scoring requires a binary problem")
	}
	n, _ := y.Dims()
	yBin := mat.NewVecDense(n, nil)
	for i := 0; i < n; i++ {
		if int(y.At(i, 0)) == classes[1] {
			yBin.SetVec(i, 1)
		}
	}
	return metrics.AUC(yBin, model.PositiveProba(proba))
}

// Predict delegates to the refitted best estimator.
func (g *GridSearchCV) Predict(X mat.Matrix) (mat.Matrix, error) {
	if g.BestEstimator_ == nil {
		return nil, errors.NewNotFittedError("GridSearchCV", "Predict")
	}
	return g.BestEstimator_.Predict(X)
}

// PredictProba delegates to the refitted best estimator.
func (g *GridSearchCV) PredictProba(X mat.Matrix) (mat.Matrix, error) {
	if g.BestEstimator_ == nil {
		return nil, errors.NewNotFittedError("GridSearchCV", "PredictProba")
	}
	return g.BestEstimator_.PredictProba(X)
}
