// Package svm provides a support vector classifier trained with SMO.
package svm

import (
	"encoding/gob"
	"fmt"
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"github.com/YuminosukeSato/bcpipeline/core/model"
	"github.com/YuminosukeSato/bcpipeline/pkg/errors"
)

func init() {
	gob.Register(&SVC{})
}

// Kernels supported by SVC.
const (
	KernelRBF    = "rbf"
	KernelLinear = "linear"
)

// SVC is a binary C-support vector classifier compatible with
// scikit-learn's SVC.
//
// The dual problem is solved by sequential minimal optimization with
// maximal-violating-pair working sets. With Probability set, Platt scaling
// is fitted on decision values from an internal 5-fold cross validation.
type SVC struct {
	model.BaseEstimator

	C      float64
	Kernel string
	// Gamma is the RBF width; 0 selects scikit-learn's "scale" rule,
	// 1 / (n_features * X.var()).
	Gamma       float64
	Tol         float64
	MaxIter     int // 0 means no limit
	Probability bool
	RandomState uint64

	SupportVectors_ [][]float64
	DualCoef_       []float64 // alpha_i * y_i per support vector
	Intercept_      float64
	Gamma_          float64
	ProbA_          float64
	ProbB_          float64
	Classes_        []int
	NFeatures_      int
	NIter_          int
}

// SVCOption configures an SVC.
type SVCOption func(*SVC)

// WithC sets the penalty parameter.
func WithC(c float64) SVCOption {
	return func(s *SVC) { s.C = c }
}

// WithKernel selects "rbf" or "linear".
func WithKernel(kernel string) SVCOption {
	return func(s *SVC) { s.Kernel = kernel }
}

// WithGamma fixes the RBF width.
func WithGamma(gamma float64) SVCOption {
	return func(s *SVC) { s.Gamma = gamma }
}

// WithProbability enables PredictProba through Platt scaling.
func WithProbability(p bool) SVCOption {
	return func(s *SVC) { s.Probability = p }
}

// WithSVCRandomState seeds the cross-validation split used by Platt scaling.
func WithSVCRandomState(seed uint64) SVCOption {
	return func(s *SVC) { s.RandomState = seed }
}

// WithSVCMaxIter bounds SMO iterations.
func WithSVCMaxIter(n int) SVCOption {
	return func(s *SVC) { s.MaxIter = n }
}

// NewSVC creates an SVC with scikit-learn defaults (C=1, rbf, gamma=scale).
func NewSVC(opts ...SVCOption) *SVC {
	s := &SVC{
		C:      1.0,
		Kernel: KernelRBF,
		Tol:    1e-3,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *SVC) validate() error {
	if s.C <= 0 {
		return errors.NewValidationError("C", "must be positive", s.C)
	}
	if s.Kernel != KernelRBF && s.Kernel != KernelLinear {
		return errors.NewValidationError("kernel", "must be rbf or linear", s.Kernel)
	}
	if s.Gamma < 0 {
		return errors.NewValidationError("gamma", "must be >= 0", s.Gamma)
	}
	if s.Tol <= 0 {
		return errors.NewValidationError("tol", "must be positive", s.Tol)
	}
	return nil
}

func (s *SVC) kernel(a, b []float64) float64 {
	if s.Kernel == KernelLinear {
		return floats.Dot(a, b)
	}
	var d2 float64
	for k := range a {
		d := a[k] - b[k]
		d2 += d * d
	}
	return math.Exp(-s.Gamma_ * d2)
}

// Fit solves the dual problem on (X, y). Labels must take exactly two
// values; positive decision values mean the larger label.
func (s *SVC) Fit(X, y mat.Matrix) (err error) {
	defer errors.Recover(&err, "SVC.Fit")

	if err := s.validate(); err != nil {
		return err
	}
	classes, encoded, err := model.EncodeLabels("SVC.Fit", X, y)
	if err != nil {
		return err
	}
	if len(classes) != 2 {
		return errors.NewValueError("SVC.Fit", fmt.Sprintf("binary labels required, got %d classes", len(classes)))
	}

	r, c := X.Dims()
	rows := make([][]float64, r)
	for i := range rows {
		rows[i] = mat.Row(nil, i, X)
	}
	s.Gamma_ = s.Gamma
	if s.Gamma_ == 0 {
		all := make([]float64, 0, r*c)
		for _, row := range rows {
			all = append(all, row...)
		}
		v := stat.PopVariance(all, nil)
		s.Gamma_ = 1.0
		if v > 0 {
			s.Gamma_ = 1.0 / (float64(c) * v)
		}
	}

	labels := make([]float64, r)
	for i, e := range encoded {
		labels[i] = float64(2*e - 1)
	}

	sol, err := s.solve(rows, labels)
	if err != nil {
		return err
	}

	s.SupportVectors_ = s.SupportVectors_[:0]
	s.DualCoef_ = s.DualCoef_[:0]
	for i, a := range sol.alpha {
		if a > 0 {
			s.SupportVectors_ = append(s.SupportVectors_, rows[i])
			s.DualCoef_ = append(s.DualCoef_, a*labels[i])
		}
	}
	s.Intercept_ = -sol.rho
	s.NIter_ = sol.iters
	s.Classes_ = classes
	s.NFeatures_ = c

	if s.Probability {
		dec := s.crossValDecisions(rows, labels)
		s.ProbA_, s.ProbB_ = plattScale(dec, labels)
	}

	s.SetFitted()
	return nil
}

type solution struct {
	alpha []float64
	rho   float64
	iters int
}

// solve runs SMO on the full kernel matrix.
func (s *SVC) solve(rows [][]float64, y []float64) (*solution, error) {
	n := len(rows)
	K := make([][]float64, n)
	for i := range K {
		K[i] = make([]float64, n)
	}
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			v := s.kernel(rows[i], rows[j])
			K[i][j] = v
			K[j][i] = v
		}
	}

	alpha := make([]float64, n)
	// G = Q*alpha - e with Q_ij = y_i y_j K_ij
	G := make([]float64, n)
	for i := range G {
		G[i] = -1
	}
	C := s.C
	const tau = 1e-12

	iters := 0
	for {
		if s.MaxIter > 0 && iters >= s.MaxIter {
			errors.Warn(errors.NewConvergenceWarning("SVC", iters, "solver terminated early"))
			break
		}
		// maximal violating pair
		i, j := -1, -1
		gmax, gmin := math.Inf(-1), math.Inf(1)
		for t := 0; t < n; t++ {
			v := -y[t] * G[t]
			up := (y[t] > 0 && alpha[t] < C) || (y[t] < 0 && alpha[t] > 0)
			low := (y[t] > 0 && alpha[t] > 0) || (y[t] < 0 && alpha[t] < C)
			if up && v > gmax {
				gmax, i = v, t
			}
			if low && v < gmin {
				gmin, j = v, t
			}
		}
		if i < 0 || j < 0 || gmax-gmin < s.Tol {
			break
		}
		iters++

		a := K[i][i] + K[j][j] - 2*K[i][j]
		if a <= 0 {
			a = tau
		}
		// move alpha_i by y_i*step and alpha_j by -y_j*step
		step := (gmax - gmin) / a
		if y[i] > 0 {
			step = math.Min(step, C-alpha[i])
		} else {
			step = math.Min(step, alpha[i])
		}
		if y[j] > 0 {
			step = math.Min(step, alpha[j])
		} else {
			step = math.Min(step, C-alpha[j])
		}
		alpha[i] = errors.ClipValue(alpha[i]+y[i]*step, 0, C)
		alpha[j] = errors.ClipValue(alpha[j]-y[j]*step, 0, C)
		for t := 0; t < n; t++ {
			G[t] += y[t] * step * (K[t][i] - K[t][j])
		}
	}

	return &solution{alpha: alpha, rho: computeRho(alpha, G, y, C), iters: iters}, nil
}

// computeRho averages y_i*G_i over free support vectors, falling back to
// the midpoint of the feasible interval when none are free.
func computeRho(alpha, G, y []float64, C float64) float64 {
	ub, lb := math.Inf(1), math.Inf(-1)
	var sumFree float64
	nFree := 0
	for i := range alpha {
		yG := y[i] * G[i]
		switch {
		case alpha[i] >= C:
			if y[i] < 0 {
				ub = math.Min(ub, yG)
			} else {
				lb = math.Max(lb, yG)
			}
		case alpha[i] <= 0:
			if y[i] > 0 {
				ub = math.Min(ub, yG)
			} else {
				lb = math.Max(lb, yG)
			}
		default:
			nFree++
			sumFree += yG
		}
	}
	if nFree > 0 {
		return sumFree / float64(nFree)
	}
	return (ub + lb) / 2
}

// crossValDecisions returns out-of-fold decision values from a 5-fold split
// of a seeded permutation, the way libsvm prepares Platt scaling.
func (s *SVC) crossValDecisions(rows [][]float64, y []float64) []float64 {
	const nFolds = 5
	n := len(rows)
	perm := rand.New(rand.NewPCG(s.RandomState, 0x5eed)).Perm(n)
	dec := make([]float64, n)

	for f := 0; f < nFolds; f++ {
		start, end := f*n/nFolds, (f+1)*n/nFolds
		var trRows [][]float64
		var trY []float64
		for k, idx := range perm {
			if k < start || k >= end {
				trRows = append(trRows, rows[idx])
				trY = append(trY, y[idx])
			}
		}
		pos, neg := 0, 0
		for _, v := range trY {
			if v > 0 {
				pos++
			} else {
				neg++
			}
		}

		sub := &SVC{C: s.C, Kernel: s.Kernel, Tol: s.Tol, MaxIter: s.MaxIter, Gamma_: s.Gamma_}
		var sol *solution
		if pos > 0 && neg > 0 {
			sol, _ = sub.solve(trRows, trY)
		}
		for k := start; k < end; k++ {
			idx := perm[k]
			switch {
			case sol == nil && pos > 0:
				dec[idx] = 1
			case sol == nil:
				dec[idx] = -1
			default:
				v := -sol.rho
				for t, a := range sol.alpha {
					if a > 0 {
						v += a * trY[t] * sub.kernel(trRows[t], rows[idx])
					}
				}
				dec[idx] = v
			}
		}
	}
	return dec
}

// DecisionFunction returns signed distances to the separating surface (n×1).
func (s *SVC) DecisionFunction(X mat.Matrix) (mat.Matrix, error) {
	if !s.IsFitted() {
		return nil, errors.NewNotFittedError("SVC", "DecisionFunction")
	}
	r, c := X.Dims()
	if c != s.NFeatures_ {
		return nil, errors.NewDimensionError("SVC.DecisionFunction", s.NFeatures_, c, 1)
	}
	out := mat.NewDense(r, 1, nil)
	row := make([]float64, c)
	for i := 0; i < r; i++ {
		mat.Row(row, i, X)
		v := s.Intercept_
		for k, sv := range s.SupportVectors_ {
			v += s.DualCoef_[k] * s.kernel(sv, row)
		}
		out.Set(i, 0, v)
	}
	return out, nil
}

// Predict labels rows by the sign of the decision function, as
// scikit-learn does even when probabilities are enabled.
func (s *SVC) Predict(X mat.Matrix) (mat.Matrix, error) {
	dec, err := s.DecisionFunction(X)
	if err != nil {
		return nil, err
	}
	r, _ := dec.Dims()
	out := mat.NewDense(r, 1, nil)
	for i := 0; i < r; i++ {
		label := s.Classes_[0]
		if dec.At(i, 0) > 0 {
			label = s.Classes_[1]
		}
		out.Set(i, 0, float64(label))
	}
	return out, nil
}

// PredictProba returns Platt-scaled probabilities. The model must have been
// fitted with Probability set.
func (s *SVC) PredictProba(X mat.Matrix) (mat.Matrix, error) {
	if s.IsFitted() && !s.Probability {
		return nil, errors.NewValueError("SVC.PredictProba", "probability estimates must be enabled before Fit")
	}
	dec, err := s.DecisionFunction(X)
	if err != nil {
		return nil, err
	}
	r, _ := dec.Dims()
	out := mat.NewDense(r, 2, nil)
	for i := 0; i < r; i++ {
		p := errors.Sigmoid(-(s.ProbA_*dec.At(i, 0) + s.ProbB_))
		out.Set(i, 0, 1-p)
		out.Set(i, 1, p)
	}
	return out, nil
}

// Score returns the mean accuracy on (X, y).
func (s *SVC) Score(X, y mat.Matrix) float64 {
	pred, err := s.Predict(X)
	if err != nil {
		return 0
	}
	return model.MeanAccuracy(pred, y)
}

// Classes returns the labels seen during Fit.
func (s *SVC) Classes() []int { return s.Classes_ }

// GetParams returns the hyperparameters.
func (s *SVC) GetParams() map[string]interface{} {
	return map[string]interface{}{
		"C":            s.C,
		"kernel":       s.Kernel,
		"gamma":        s.Gamma,
		"tol":          s.Tol,
		"max_iter":     s.MaxIter,
		"probability":  s.Probability,
		"random_state": s.RandomState,
	}
}

// SetParams updates hyperparameters by name.
func (s *SVC) SetParams(params map[string]interface{}) error {
	for k, v := range params {
		var err error
		switch k {
		case "C":
			s.C, err = model.FloatParam(k, v)
		case "kernel":
			str, ok := v.(string)
			if !ok {
				return errors.NewValidationError(k, "must be a string", v)
			}
			s.Kernel = str
		case "gamma":
			if str, ok := v.(string); ok && str == "scale" {
				s.Gamma = 0
			} else {
				s.Gamma, err = model.FloatParam(k, v)
			}
		case "tol":
			s.Tol, err = model.FloatParam(k, v)
		case "max_iter":
			s.MaxIter, err = model.IntParam(k, v)
		case "probability":
			b, ok := v.(bool)
			if !ok {
				return errors.NewValidationError(k, "must be a bool", v)
			}
			s.Probability = b
		case "random_state":
			var n int
			n, err = model.IntParam(k, v)
			s.RandomState = uint64(n)
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
func (s *SVC) String() string {
	return fmt.Sprintf("SVC(C=%g, kernel=%s, gamma=%g, probability=%t)", s.C, s.Kernel, s.Gamma, s.Probability)
}
