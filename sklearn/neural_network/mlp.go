// Package neural_network provides a multilayer perceptron classifier.
package neural_network

import (
	"encoding/gob"
	"fmt"
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/bcpipeline/core/model"
	"github.com/YuminosukeSato/bcpipeline/pkg/errors"
)

func init() {
	gob.Register(&MLPClassifier{})
}

// MLPClassifier is a binary feed-forward classifier compatible with
// scikit-learn's MLPClassifier: ReLU hidden layers, one logistic output
// unit, log loss with an L2 penalty, and Adam over shuffled mini-batches.
type MLPClassifier struct {
	model.BaseEstimator

	HiddenLayerSizes []int
	Alpha            float64 // L2 penalty
	BatchSize        int     // 0 means min(200, n_samples)
	LearningRate     float64
	MaxIter          int // epochs
	Tol              float64
	NIterNoChange    int
	Beta1, Beta2     float64
	Epsilon          float64
	RandomState      uint64

	// Coefs_[l] is a row-major fan_in×fan_out weight matrix.
	Coefs_      [][]float64
	Intercepts_ [][]float64
	LayerSizes_ []int
	Classes_    []int
	NIter_      int
	Loss_       float64
	LossCurve_  []float64
}

// MLPOption configures an MLPClassifier.
type MLPOption func(*MLPClassifier)

// WithHiddenLayerSizes sets the width of each hidden layer.
func WithHiddenLayerSizes(sizes ...int) MLPOption {
	return func(m *MLPClassifier) { m.HiddenLayerSizes = append([]int(nil), sizes...) }
}

// WithMLPMaxIter sets the maximum number of epochs.
func WithMLPMaxIter(n int) MLPOption {
	return func(m *MLPClassifier) { m.MaxIter = n }
}

// WithMLPAlpha sets the L2 penalty.
func WithMLPAlpha(alpha float64) MLPOption {
	return func(m *MLPClassifier) { m.Alpha = alpha }
}

// WithMLPLearningRate sets Adam's step size.
func WithMLPLearningRate(lr float64) MLPOption {
	return func(m *MLPClassifier) { m.LearningRate = lr }
}

// WithMLPBatchSize sets the mini-batch size.
func WithMLPBatchSize(n int) MLPOption {
	return func(m *MLPClassifier) { m.BatchSize = n }
}

// WithMLPRandomState seeds weight initialization and shuffling.
func WithMLPRandomState(seed uint64) MLPOption {
	return func(m *MLPClassifier) { m.RandomState = seed }
}

// NewMLPClassifier creates a classifier with scikit-learn defaults.
func NewMLPClassifier(opts ...MLPOption) *MLPClassifier {
	m := &MLPClassifier{
		HiddenLayerSizes: []int{100},
		Alpha:            1e-4,
		LearningRate:     1e-3,
		MaxIter:          200,
		Tol:              1e-4,
		NIterNoChange:    10,
		Beta1:            0.9,
		Beta2:            0.999,
		Epsilon:          1e-8,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *MLPClassifier) validate() error {
	if len(m.HiddenLayerSizes) == 0 {
		return errors.NewValidationError("hidden_layer_sizes", "must not be empty", m.HiddenLayerSizes)
	}
	for _, s := range m.HiddenLayerSizes {
		if s < 1 {
			return errors.NewValidationError("hidden_layer_sizes", "layers must have at least one unit", m.HiddenLayerSizes)
		}
	}
	if m.MaxIter < 1 {
		return errors.NewValidationError("max_iter", "must be >= 1", m.MaxIter)
	}
	if m.LearningRate <= 0 {
		return errors.NewValidationError("learning_rate_init", "must be positive", m.LearningRate)
	}
	if m.Alpha < 0 {
		return errors.NewValidationError("alpha", "must be >= 0", m.Alpha)
	}
	return nil
}

// Fit trains the network. Training stops when the epoch loss has not
// improved by Tol for NIterNoChange consecutive epochs, or after MaxIter
// epochs with a ConvergenceWarning.
func (m *MLPClassifier) Fit(X, y mat.Matrix) (err error) {
	defer errors.Recover(&err, "MLPClassifier.Fit")

	if err := m.validate(); err != nil {
		return err
	}
	classes, encoded, err := model.EncodeLabels("MLPClassifier.Fit", X, y)
	if err != nil {
		return err
	}
	if len(classes) != 2 {
		return errors.NewValueError("MLPClassifier.Fit", fmt.Sprintf("binary labels required, got %d classes", len(classes)))
	}

	n, p := X.Dims()
	Xd := mat.DenseCopyOf(X)
	target := make([]float64, n)
	for i, c := range encoded {
		target[i] = float64(c)
	}

	rng := rand.New(rand.NewPCG(m.RandomState, m.RandomState^0x9e3779b97f4a7c15))
	m.LayerSizes_ = append(append([]int{p}, m.HiddenLayerSizes...), 1)
	m.initWeights(rng)

	batch := m.BatchSize
	if batch <= 0 {
		batch = min(200, n)
	}
	batch = min(batch, n)

	opt := newAdam(m)
	grads := m.zeroLike()
	bestLoss := math.Inf(1)
	noImprove := 0
	m.LossCurve_ = m.LossCurve_[:0]
	converged := false

	idx := make([]int, n)
	for i := range idx {
		idx[i] = i
	}
	for epoch := 0; epoch < m.MaxIter; epoch++ {
		rng.Shuffle(n, func(a, b int) { idx[a], idx[b] = idx[b], idx[a] })

		var epochLoss float64
		for start := 0; start < n; start += batch {
			end := min(start+batch, n)
			rows := idx[start:end]
			Xb := mat.NewDense(len(rows), p, nil)
			yb := make([]float64, len(rows))
			for k, i := range rows {
				Xb.SetRow(k, Xd.RawRowView(i))
				yb[k] = target[i]
			}
			loss := m.backprop(Xb, yb, grads)
			epochLoss += loss * float64(len(rows))
			opt.step(m, grads)
		}
		epochLoss /= float64(n)
		if err := errors.CheckScalar("MLPClassifier.Fit", epochLoss, epoch); err != nil {
			return err
		}
		m.LossCurve_ = append(m.LossCurve_, epochLoss)
		m.NIter_ = epoch + 1
		m.Loss_ = epochLoss

		if epochLoss > bestLoss-m.Tol {
			noImprove++
		} else {
			noImprove = 0
		}
		if epochLoss < bestLoss {
			bestLoss = epochLoss
		}
		if noImprove > m.NIterNoChange {
			converged = true
			break
		}
	}
	if !converged {
		errors.Warn(errors.NewConvergenceWarning("MLPClassifier", m.NIter_,
			"maximum iterations reached and the optimization hasn't converged yet"))
	}

	m.Classes_ = classes
	m.SetFitted()
	return nil
}

// initWeights draws Glorot-uniform weights; the logistic output layer uses
// the narrower bound sqrt(2/(fan_in+fan_out)).
func (m *MLPClassifier) initWeights(rng *rand.Rand) {
	L := len(m.LayerSizes_) - 1
	m.Coefs_ = make([][]float64, L)
	m.Intercepts_ = make([][]float64, L)
	for l := 0; l < L; l++ {
		fanIn, fanOut := m.LayerSizes_[l], m.LayerSizes_[l+1]
		factor := 6.0
		if l == L-1 {
			factor = 2.0
		}
		bound := math.Sqrt(factor / float64(fanIn+fanOut))
		w := make([]float64, fanIn*fanOut)
		for k := range w {
			w[k] = (2*rng.Float64() - 1) * bound
		}
		b := make([]float64, fanOut)
		for k := range b {
			b[k] = (2*rng.Float64() - 1) * bound
		}
		m.Coefs_[l] = w
		m.Intercepts_[l] = b
	}
}

type params struct {
	coefs      [][]float64
	intercepts [][]float64
}

func (m *MLPClassifier) zeroLike() *params {
	g := &params{
		coefs:      make([][]float64, len(m.Coefs_)),
		intercepts: make([][]float64, len(m.Intercepts_)),
	}
	for l := range m.Coefs_ {
		g.coefs[l] = make([]float64, len(m.Coefs_[l]))
		g.intercepts[l] = make([]float64, len(m.Intercepts_[l]))
	}
	return g
}

// forward returns the activations of every layer, input included. The last
// entry holds output probabilities.
func (m *MLPClassifier) forward(X *mat.Dense) []*mat.Dense {
	acts := []*mat.Dense{X}
	L := len(m.Coefs_)
	for l := 0; l < L; l++ {
		W := mat.NewDense(m.LayerSizes_[l], m.LayerSizes_[l+1], m.Coefs_[l])
		var Z mat.Dense
		Z.Mul(acts[l], W)
		b := m.Intercepts_[l]
		last := l == L-1
		Z.Apply(func(_, j int, v float64) float64 {
			v += b[j]
			if last {
				return errors.Sigmoid(v)
			}
			return math.Max(v, 0)
		}, &Z)
		acts = append(acts, &Z)
	}
	return acts
}

// backprop fills grads for one batch and returns its penalized loss.
func (m *MLPClassifier) backprop(X *mat.Dense, y []float64, grads *params) float64 {
	acts := m.forward(X)
	rows := float64(len(y))
	out := acts[len(acts)-1]

	var loss float64
	delta := mat.NewDense(len(y), 1, nil)
	for i, t := range y {
		pr := out.At(i, 0)
		loss -= t*errors.StabilizeLog(pr) + (1-t)*errors.StabilizeLog(1-pr)
		delta.Set(i, 0, (pr-t)/rows)
	}
	loss /= rows
	var sq float64
	for _, w := range m.Coefs_ {
		for _, v := range w {
			sq += v * v
		}
	}
	loss += 0.5 * m.Alpha * sq / rows

	for l := len(m.Coefs_) - 1; l >= 0; l-- {
		fanIn, fanOut := m.LayerSizes_[l], m.LayerSizes_[l+1]
		gW := mat.NewDense(fanIn, fanOut, grads.coefs[l])
		gW.Mul(acts[l].T(), delta)
		W := mat.NewDense(fanIn, fanOut, m.Coefs_[l])
		gW.Add(gW, scaled(W, m.Alpha/rows))

		gb := grads.intercepts[l]
		for j := range gb {
			gb[j] = 0
		}
		r, _ := delta.Dims()
		for i := 0; i < r; i++ {
			for j := 0; j < fanOut; j++ {
				gb[j] += delta.At(i, j)
			}
		}

		if l > 0 {
			var next mat.Dense
			next.Mul(delta, W.T())
			prev := acts[l]
			next.Apply(func(i, j int, v float64) float64 {
				if prev.At(i, j) <= 0 {
					return 0
				}
				return v
			}, &next)
			delta = &next
		}
	}
	return loss
}

func scaled(a mat.Matrix, s float64) *mat.Dense {
	var out mat.Dense
	out.Scale(s, a)
	return &out
}

// adam keeps first and second moment estimates for every parameter.
type adam struct {
	lr, beta1, beta2, eps float64
	t                     int
	m, v                  *params
}

func newAdam(c *MLPClassifier) *adam {
	return &adam{
		lr: c.LearningRate, beta1: c.Beta1, beta2: c.Beta2, eps: c.Epsilon,
		m: c.zeroLike(), v: c.zeroLike(),
	}
}

func (a *adam) step(c *MLPClassifier, g *params) {
	a.t++
	lrT := a.lr * math.Sqrt(1-math.Pow(a.beta2, float64(a.t))) / (1 - math.Pow(a.beta1, float64(a.t)))
	update := func(p, grad, m, v []float64) {
		for k := range p {
			m[k] = a.beta1*m[k] + (1-a.beta1)*grad[k]
			v[k] = a.beta2*v[k] + (1-a.beta2)*grad[k]*grad[k]
			p[k] -= lrT * m[k] / (math.Sqrt(v[k]) + a.eps)
		}
	}
	for l := range c.Coefs_ {
		update(c.Coefs_[l], g.coefs[l], a.m.coefs[l], a.v.coefs[l])
		update(c.Intercepts_[l], g.intercepts[l], a.m.intercepts[l], a.v.intercepts[l])
	}
}

// PredictProba returns [1-p, p] per row.
func (m *MLPClassifier) PredictProba(X mat.Matrix) (mat.Matrix, error) {
	if !m.IsFitted() {
		return nil, errors.NewNotFittedError("MLPClassifier", "PredictProba")
	}
	r, c := X.Dims()
	if c != m.LayerSizes_[0] {
		return nil, errors.NewDimensionError("MLPClassifier.PredictProba", m.LayerSizes_[0], c, 1)
	}
	acts := m.forward(mat.DenseCopyOf(X))
	out := acts[len(acts)-1]
	proba := mat.NewDense(r, 2, nil)
	for i := 0; i < r; i++ {
		p := out.At(i, 0)
		proba.Set(i, 0, 1-p)
		proba.Set(i, 1, p)
	}
	return proba, nil
}

// Predict returns the more probable class per row.
func (m *MLPClassifier) Predict(X mat.Matrix) (mat.Matrix, error) {
	proba, err := m.PredictProba(X)
	if err != nil {
		return nil, err
	}
	return model.ArgmaxClasses(proba, m.Classes_), nil
}

// Score returns the mean accuracy on (X, y).
func (m *MLPClassifier) Score(X, y mat.Matrix) float64 {
	pred, err := m.Predict(X)
	if err != nil {
		return 0
	}
	return model.MeanAccuracy(pred, y)
}

// Classes returns the labels seen during Fit.
func (m *MLPClassifier) Classes() []int { return m.Classes_ }

// GetParams returns the hyperparameters.
func (m *MLPClassifier) GetParams() map[string]interface{} {
	return map[string]interface{}{
		"hidden_layer_sizes": append([]int(nil), m.HiddenLayerSizes...),
		"alpha":              m.Alpha,
		"batch_size":         m.BatchSize,
		"learning_rate_init": m.LearningRate,
		"max_iter":           m.MaxIter,
		"tol":                m.Tol,
		"n_iter_no_change":   m.NIterNoChange,
		"random_state":       m.RandomState,
	}
}

// SetParams updates hyperparameters by name.
func (m *MLPClassifier) SetParams(params map[string]interface{}) error {
	for k, v := range params {
		var err error
		switch k {
		case "hidden_layer_sizes":
			sizes, ok := v.([]int)
			if !ok {
				return errors.NewValidationError(k, "must be a list of ints", v)
			}
			m.HiddenLayerSizes = append([]int(nil), sizes...)
		case "alpha":
			m.Alpha, err = model.FloatParam(k, v)
		case "batch_size":
			m.BatchSize, err = model.IntParam(k, v)
		case "learning_rate_init":
			m.LearningRate, err = model.FloatParam(k, v)
		case "max_iter":
			m.MaxIter, err = model.IntParam(k, v)
		case "tol":
			m.Tol, err = model.FloatParam(k, v)
		case "n_iter_no_change":
			m.NIterNoChange, err = model.IntParam(k, v)
		case "random_state":
			var n int
			n, err = model.IntParam(k, v)
			m.RandomState = uint64(n)
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
func (m *MLPClassifier) String() string {
	return fmt.Sprintf("MLPClassifier(hidden_layer_sizes=%v, alpha=%g, max_iter=%d)", m.HiddenLayerSizes, m.Alpha, m.MaxIter)
}
