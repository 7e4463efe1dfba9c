package ensemble

import (
	"bytes"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/bcpipeline/core/model"
)

// blobs returns n rows of two noisy clusters in p dimensions, labels 0/1.
func blobs(n, p int, seed uint64) (*mat.Dense, *mat.Dense) {
	rng := rand.New(rand.NewPCG(seed, 7))
	X := mat.NewDense(n, p, nil)
	y := mat.NewDense(n, 1, nil)
	for i := 0; i < n; i++ {
		label := i % 2
		center := 2.0
		if label == 1 {
			center = 6.0
		}
		for j := 0; j < p; j++ {
			X.Set(i, j, center+rng.NormFloat64())
		}
		y.Set(i, 0, float64(label))
	}
	return X, y
}

var (
	_ model.TunableClassifier = (*RandomForestClassifier)(nil)
	_ model.TunableClassifier = (*GradientBoostingClassifier)(nil)
)

func TestRandomForestFitPredict(t *testing.T) {
	X, y := blobs(120, 4, 1)
	rf := NewRandomForestClassifier(WithNEstimators(25), WithForestRandomState(42))
	require.NoError(t, rf.Fit(X, y))

	assert.Greater(t, rf.Score(X, y), 0.95)
	assert.Equal(t, []int{0, 1}, rf.Classes())
	assert.Len(t, rf.Estimators_, 25)

	proba, err := rf.PredictProba(X)
	require.NoError(t, err)
	r, c := proba.Dims()
	assert.Equal(t, 120, r)
	assert.Equal(t, 2, c)
	for i := 0; i < r; i++ {
		assert.InDelta(t, 1.0, proba.At(i, 0)+proba.At(i, 1), 1e-12)
	}

	var total float64
	for _, v := range rf.GetFeatureImportances() {
		total += v
	}
	assert.InDelta(t, 1.0, total, 1e-9)
}

func TestRandomForestDeterministicAcrossWorkers(t *testing.T) {
	X, y := blobs(80, 3, 2)
	serial := NewRandomForestClassifier(WithNEstimators(10), WithForestRandomState(7), WithNJobs(1))
	concurrent := NewRandomForestClassifier(WithNEstimators(10), WithForestRandomState(7), WithNJobs(4))
	require.NoError(t, serial.Fit(X, y))
	require.NoError(t, concurrent.Fit(X, y))

	a, err := serial.PredictProba(X)
	require.NoError(t, err)
	b, err := concurrent.PredictProba(X)
	require.NoError(t, err)
	assert.True(t, mat.Equal(a, b))
}

func TestRandomForestTreeEnsembleMatchesProba(t *testing.T) {
	X, y := blobs(60, 3, 3)
	rf := NewRandomForestClassifier(WithNEstimators(8), WithForestMaxDepth(4))
	require.NoError(t, rf.Fit(X, y))

	proba, err := rf.PredictProba(X)
	require.NoError(t, err)
	ens := rf.TreeEnsemble()
	for i := 0; i < 60; i++ {
		assert.InDelta(t, proba.At(i, 1), ens.Predict(X.RawRowView(i)), 1e-12)
	}
}

func TestRandomForestPersistence(t *testing.T) {
	X, y := blobs(50, 2, 4)
	rf := NewRandomForestClassifier(WithNEstimators(5))
	require.NoError(t, rf.Fit(X, y))

	var buf bytes.Buffer
	require.NoError(t, model.SaveModelToWriter(rf, &buf))
	var loaded RandomForestClassifier
	require.NoError(t, model.LoadModelFromReader(&loaded, &buf))

	want, err := rf.PredictProba(X)
	require.NoError(t, err)
	got, err := loaded.PredictProba(X)
	require.NoError(t, err)
	assert.True(t, mat.Equal(want, got))
}

func TestRandomForestParams(t *testing.T) {
	rf := NewRandomForestClassifier()
	require.NoError(t, rf.SetParams(map[string]interface{}{
		"n_estimators":      50,
		"max_depth":         10,
		"min_samples_split": 5,
		"min_samples_leaf":  2,
	}))
	params := rf.GetParams()
	assert.Equal(t, 50, params["n_estimators"])
	assert.Equal(t, 10, params["max_depth"])
	assert.Equal(t, 5, params["min_samples_split"])
	assert.Equal(t, 2, params["min_samples_leaf"])

	assert.Error(t, rf.SetParams(map[string]interface{}{"criterion_typo": 1}))

	rf.MaxFeatures = "half"
	X, y := blobs(10, 2, 5)
	assert.Error(t, rf.Fit(X, y))

	_, err := NewRandomForestClassifier().Predict(X)
	assert.Error(t, err)
}

func TestGradientBoostingPresets(t *testing.T) {
	X, y := blobs(100, 3, 6)

	tests := []struct {
		name string
		gb   *GradientBoostingClassifier
	}{
		{"xgboost", NewXGBoostClassifier(WithBoostingRounds(20))},
		{"lightgbm", NewLightGBMClassifier(WithBoostingRounds(20))},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.NoError(t, tt.gb.Fit(X, y))
			assert.Greater(t, tt.gb.Score(X, y), 0.95)
			require.Len(t, tt.gb.TrainLoss_, 20)
			assert.Less(t, tt.gb.TrainLoss_[19], tt.gb.TrainLoss_[0])

			margin, err := tt.gb.DecisionFunction(X)
			require.NoError(t, err)
			proba, err := tt.gb.PredictProba(X)
			require.NoError(t, err)
			ens := tt.gb.TreeEnsemble()
			for i := 0; i < 100; i++ {
				assert.InDelta(t, margin.At(i, 0), ens.Predict(X.RawRowView(i)), 1e-12)
				assert.InDelta(t, 1.0, proba.At(i, 0)+proba.At(i, 1), 1e-12)
			}
		})
	}
}

func TestLightGBMLeafLimit(t *testing.T) {
	X, y := blobs(200, 4, 8)
	gb := NewLightGBMClassifier(WithBoostingRounds(5), WithMaxLeaves(4), WithBoostingMinSamplesLeaf(5))
	require.NoError(t, gb.Fit(X, y))
	for _, tr := range gb.Trees_ {
		assert.LessOrEqual(t, tr.NLeaves(), 4)
	}
}

func TestXGBoostDepthLimit(t *testing.T) {
	X, y := blobs(200, 4, 9)
	gb := NewXGBoostClassifier(WithBoostingRounds(5), WithBoostingMaxDepth(2))
	require.NoError(t, gb.Fit(X, y))
	for _, tr := range gb.Trees_ {
		assert.LessOrEqual(t, tr.MaxDepth(), 2)
	}
}

func TestGradientBoostingBaseScoreIsPriorLogOdds(t *testing.T) {
	X := mat.NewDense(4, 1, []float64{1, 2, 3, 4})
	y := mat.NewDense(4, 1, []float64{0, 1, 1, 1})
	gb := NewXGBoostClassifier(WithBoostingRounds(1))
	require.NoError(t, gb.Fit(X, y))
	// log(0.75/0.25)
	assert.InDelta(t, 1.0986122886681098, gb.BaseScore_, 1e-12)
}

func TestGradientBoostingErrors(t *testing.T) {
	X := mat.NewDense(3, 1, []float64{1, 2, 3})
	y := mat.NewDense(3, 1, []float64{0, 1, 2})
	assert.Error(t, NewXGBoostClassifier().Fit(X, y))

	bad := NewGradientBoostingClassifier(WithGrowPolicy("random"))
	assert.Error(t, bad.Fit(X, mat.NewDense(3, 1, []float64{0, 1, 1})))

	_, err := NewLightGBMClassifier().PredictProba(X)
	assert.Error(t, err)

	gb := NewLightGBMClassifier()
	require.NoError(t, gb.SetParams(map[string]interface{}{"num_leaves": 15, "learning_rate": 0.05}))
	assert.Equal(t, 15, gb.MaxLeaves)
	assert.Equal(t, 0.05, gb.LearningRate)
	assert.Error(t, gb.SetParams(map[string]interface{}{"subsample": 0.5}))
}

func TestGradientBoostingPersistence(t *testing.T) {
	X, y := blobs(60, 2, 10)
	gb := NewLightGBMClassifier(WithBoostingRounds(10), WithBoostingMinSamplesLeaf(5))
	require.NoError(t, gb.Fit(X, y))

	var buf bytes.Buffer
	require.NoError(t, model.SaveModelToWriter(gb, &buf))
	var loaded GradientBoostingClassifier
	require.NoError(t, model.LoadModelFromReader(&loaded, &buf))

	want, err := gb.PredictProba(X)
	require.NoError(t, err)
	got, err := loaded.PredictProba(X)
	require.NoError(t, err)
	assert.True(t, mat.Equal(want, got))
}
