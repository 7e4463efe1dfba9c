package linear_model

import (
	"encoding/gob"
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/optimize"

	"github.com/YuminosukeSato/bcpipeline/core/model"
	"github.com/YuminosukeSato/bcpipeline/pkg/errors"
)

func init() {
	gob.Register(&LogisticRegression{})
}

// LogisticRegression implements logistic regression for classification
// Compatible with scikit-learn's LogisticRegression
//
// The L2-penalized objective is minimized with L-BFGS. Problems with more
// than two classes are fitted one-vs-rest.
type LogisticRegression struct {
	model.BaseEstimator

	// Hyperparameters
	Penalty      string  // Regularization: "l2" or "none"
	C            float64 // Inverse regularization strength (1/alpha)
	FitIntercept bool
	MaxIter      int
	Tol          float64 // Gradient norm tolerance

	// Model parameters
	Coef_      [][]float64 // n_classes x n_features, or 1 x n_features for binary
	Intercept_ []float64
	Classes_   []int
	NClasses_  int
	NFeatures_ int
	NIter_     []int // Iterations per fitted problem
}

// LogisticRegressionOption is a functional option for LogisticRegression
type LogisticRegressionOption func(*LogisticRegression)

// NewLogisticRegression creates a new LogisticRegression classifier
func NewLogisticRegression(opts ...LogisticRegressionOption) *LogisticRegression {
	lr := &LogisticRegression{
		Penalty:      "l2",
		C:            1.0,
		FitIntercept: true,
		MaxIter:      100,
		Tol:          1e-4,
	}
	for _, opt := range opts {
		opt(lr)
	}
	return lr
}

// WithLRPenalty sets the regularization type
func WithLRPenalty(penalty string) LogisticRegressionOption {
	return func(lr *LogisticRegression) {
		lr.Penalty = penalty
	}
}

// WithLRC sets the inverse regularization strength
func WithLRC(c float64) LogisticRegressionOption {
	return func(lr *LogisticRegression) {
		lr.C = c
	}
}

// WithLogisticFitIntercept sets whether to fit intercept
func WithLogisticFitIntercept(fit bool) LogisticRegressionOption {
	return func(lr *LogisticRegression) {
		lr.FitIntercept = fit
	}
}

// WithLRMaxIter sets the maximum number of iterations
func WithLRMaxIter(maxIter int) LogisticRegressionOption {
	return func(lr *LogisticRegression) {
		lr.MaxIter = maxIter
	}
}

// WithLRTol sets the tolerance for stopping criteria
func WithLRTol(tol float64) LogisticRegressionOption {
	return func(lr *LogisticRegression) {
		lr.Tol = tol
	}
}

func (lr *LogisticRegression) validate() error {
	if lr.Penalty != "l2" && lr.Penalty != "none" {
		return errors.NewValidationError("penalty", "must be l2 or none", lr.Penalty)
	}
	if lr.C <= 0 {
		return errors.NewValidationError("C", "must be positive", lr.C)
	}
	if lr.MaxIter < 1 {
		return errors.NewValidationError("max_iter", "must be >= 1", lr.MaxIter)
	}
	return nil
}

// Fit trains the logistic regression model
func (lr *LogisticRegression) Fit(X, y mat.Matrix) (err error) {
	defer errors.Recover(&err, "LogisticRegression.Fit")

	if err := lr.validate(); err != nil {
		return err
	}
	classes, encoded, err := model.EncodeLabels("LogisticRegression.Fit", X, y)
	if err != nil {
		return err
	}
	if len(classes) < 2 {
		return errors.NewValueError("LogisticRegression.Fit", "need samples of at least 2 classes")
	}

	_, nFeatures := X.Dims()
	lr.Classes_ = classes
	lr.NClasses_ = len(classes)
	lr.NFeatures_ = nFeatures

	// Binary problems fit a single weight vector for classes_[1].
	nProblems := lr.NClasses_
	if lr.NClasses_ == 2 {
		nProblems = 1
	}
	lr.Coef_ = make([][]float64, nProblems)
	lr.Intercept_ = make([]float64, nProblems)
	lr.NIter_ = make([]int, nProblems)

	rows := mat.DenseCopyOf(X)
	for p := 0; p < nProblems; p++ {
		positive := p
		if nProblems == 1 {
			positive = 1
		}
		target := make([]float64, len(encoded))
		for i, c := range encoded {
			if c == positive {
				target[i] = 1
			}
		}
		coef, intercept, iters, err := lr.fitBinary(rows, target)
		if err != nil {
			return errors.Wrapf(err, "failed to fit class %d", classes[positive])
		}
		lr.Coef_[p] = coef
		lr.Intercept_[p] = intercept
		lr.NIter_[p] = iters
	}

	lr.SetFitted()
	return nil
}

// fitBinary minimizes the mean log loss plus ||w||^2 / (2*C*n), which has
// the same minimizer as scikit-learn's C*sum(loss) + ||w||^2/2.
func (lr *LogisticRegression) fitBinary(X *mat.Dense, target []float64) ([]float64, float64, int, error) {
	nSamples, nFeatures := X.Dims()
	n := float64(nSamples)
	alpha := 0.0
	if lr.Penalty == "l2" {
		alpha = 1.0 / (lr.C * n)
	}

	// params = [w_0 .. w_{p-1}, b]
	z := make([]float64, nSamples)
	margins := func(params []float64) {
		w := mat.NewVecDense(nFeatures, params[:nFeatures])
		zv := mat.NewVecDense(nSamples, z)
		zv.MulVec(X, w)
		if lr.FitIntercept {
			floats.AddConst(params[nFeatures], z)
		}
	}

	problem := optimize.Problem{
		Func: func(params []float64) float64 {
			margins(params)
			var loss float64
			for i, zi := range z {
				// log(1+exp(zi)) - t*zi, computed without overflow
				if zi > 0 {
					loss += zi + math.Log1p(math.Exp(-zi)) - target[i]*zi
				} else {
					loss += math.Log1p(math.Exp(zi)) - target[i]*zi
				}
			}
			w := params[:nFeatures]
			return loss/n + 0.5*alpha*floats.Dot(w, w)
		},
		Grad: func(grad, params []float64) {
			margins(params)
			for j := range grad {
				grad[j] = 0
			}
			for i, zi := range z {
				r := (errors.Sigmoid(zi) - target[i]) / n
				row := X.RawRowView(i)
				floats.AddScaled(grad[:nFeatures], r, row)
				if lr.FitIntercept {
					grad[nFeatures] += r
				}
			}
			floats.AddScaled(grad[:nFeatures], alpha, params[:nFeatures])
		},
	}

	x0 := make([]float64, nFeatures+1)
	settings := &optimize.Settings{
		MajorIterations:   lr.MaxIter,
		GradientThreshold: lr.Tol,
	}
	result, err := optimize.Minimize(problem, x0, settings, &optimize.LBFGS{})
	if result == nil {
		return nil, 0, 0, errors.NewModelError("LogisticRegression.Fit", "optimization failed", err)
	}
	for _, v := range result.X {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, 0, 0, errors.NewNumericalInstabilityError("LogisticRegression.Fit", result.X, result.Stats.MajorIterations)
		}
	}
	if err != nil || result.Status == optimize.IterationLimit {
		msg := fmt.Sprintf("optimizer stopped with status %v", result.Status)
		errors.Warn(errors.NewConvergenceWarning("LogisticRegression", result.Stats.MajorIterations, msg))
	}

	coef := append([]float64(nil), result.X[:nFeatures]...)
	intercept := 0.0
	if lr.FitIntercept {
		intercept = result.X[nFeatures]
	}
	return coef, intercept, result.Stats.MajorIterations, nil
}

// DecisionFunction returns the signed distance to the separating hyperplane
// for binary problems (n×1) or one score per class otherwise.
func (lr *LogisticRegression) DecisionFunction(X mat.Matrix) (mat.Matrix, error) {
	if !lr.IsFitted() {
		return nil, errors.NewNotFittedError("LogisticRegression", "DecisionFunction")
	}
	nSamples, nFeatures := X.Dims()
	if nFeatures != lr.NFeatures_ {
		return nil, errors.NewDimensionError("LogisticRegression.DecisionFunction", lr.NFeatures_, nFeatures, 1)
	}
	scores := mat.NewDense(nSamples, len(lr.Coef_), nil)
	row := make([]float64, nFeatures)
	for i := 0; i < nSamples; i++ {
		mat.Row(row, i, X)
		for p, w := range lr.Coef_ {
			scores.Set(i, p, floats.Dot(row, w)+lr.Intercept_[p])
		}
	}
	return scores, nil
}

// Predict makes predictions for input data
func (lr *LogisticRegression) Predict(X mat.Matrix) (mat.Matrix, error) {
	probas, err := lr.PredictProba(X)
	if err != nil {
		return nil, err
	}
	return model.ArgmaxClasses(probas, lr.Classes_), nil
}

// PredictProba returns probability estimates for each class
func (lr *LogisticRegression) PredictProba(X mat.Matrix) (mat.Matrix, error) {
	scores, err := lr.DecisionFunction(X)
	if err != nil {
		return nil, err
	}
	nSamples, _ := scores.Dims()
	probas := mat.NewDense(nSamples, lr.NClasses_, nil)

	if lr.NClasses_ == 2 {
		for i := 0; i < nSamples; i++ {
			p1 := errors.Sigmoid(scores.At(i, 0))
			probas.Set(i, 0, 1.0-p1)
			probas.Set(i, 1, p1)
		}
		return probas, nil
	}

	// One-vs-rest scores normalized across classes
	for i := 0; i < nSamples; i++ {
		sum := 0.0
		for c := 0; c < lr.NClasses_; c++ {
			p := errors.Sigmoid(scores.At(i, c))
			probas.Set(i, c, p)
			sum += p
		}
		for c := 0; c < lr.NClasses_; c++ {
			probas.Set(i, c, probas.At(i, c)/sum)
		}
	}
	return probas, nil
}

// Score returns the mean accuracy on the given test data and labels
func (lr *LogisticRegression) Score(X, y mat.Matrix) float64 {
	predictions, err := lr.Predict(X)
	if err != nil {
		return 0.0
	}

	nSamples, _ := X.Dims()
	correct := 0
	for i := 0; i < nSamples; i++ {
		if predictions.At(i, 0) == y.At(i, 0) {
			correct++
		}
	}
	return float64(correct) / float64(nSamples)
}

// Classes returns the labels seen during Fit.
func (lr *LogisticRegression) Classes() []int { return lr.Classes_ }

// GetParams returns the model hyperparameters
func (lr *LogisticRegression) GetParams() map[string]interface{} {
	return map[string]interface{}{
		"penalty":       lr.Penalty,
		"C":             lr.C,
		"fit_intercept": lr.FitIntercept,
		"max_iter":      lr.MaxIter,
		"tol":           lr.Tol,
	}
}

// SetParams sets the model hyperparameters
func (lr *LogisticRegression) SetParams(params map[string]interface{}) error {
	for key, value := range params {
		var err error
		switch key {
		case "penalty":
			s, ok := value.(string)
			if !ok {
				return errors.NewValidationError(key, "must be a string", value)
			}
			lr.Penalty = s
		case "C":
			lr.C, err = model.FloatParam(key, value)
		case "fit_intercept":
			b, ok := value.(bool)
			if !ok {
				return errors.NewValidationError(key, "must be a bool", value)
			}
			lr.FitIntercept = b
		case "max_iter":
			lr.MaxIter, err = model.IntParam(key, value)
		case "tol":
			lr.Tol, err = model.FloatParam(key, value)
		default:
			return errors.NewValidationError(key, "unknown parameter", value)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// String returns a short description.
func (lr *LogisticRegression) String() string {
	return fmt.Sprintf("LogisticRegression(penalty=%s, C=%g, max_iter=%d)", lr.Penalty, lr.C, lr.MaxIter)
}
