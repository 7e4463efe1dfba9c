package tree

import (
	"bytes"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/bcpipeline/core/model"
)

// squared-error gradients around a zero prediction: g = -y, h = 1
func squaredLossGrads(y []float64) ([]float64, []float64) {
	g := make([]float64, len(y))
	h := make([]float64, len(y))
	for i, v := range y {
		g[i] = -v
		h[i] = 1
	}
	return g, h
}

func allRows(n int) []int {
	idx := make([]int, n)
	for i := range idx {
		idx[i] = i
	}
	return idx
}

func TestFitGradientTreeStep(t *testing.T) {
	X := mat.NewDense(6, 1, []float64{1, 2, 3, 10, 11, 12})
	y := []float64{-1, -1, -1, 1, 1, 1}
	g, h := squaredLossGrads(y)

	tr := FitGradientTree(NewColumns(X), g, h, allRows(6), GradientTreeParams{
		MaxDepth:     1,
		Lambda:       0,
		LearningRate: 1,
	})

	require.Len(t, tr.Nodes, 3)
	root := tr.Nodes[0]
	assert.Equal(t, 0, root.Feature)
	assert.InDelta(t, 6.5, root.Threshold, 1e-12)
	assert.Equal(t, 6.0, root.Cover)
	assert.InDelta(t, -1, tr.Predict([]float64{2})[0], 1e-12)
	assert.InDelta(t, 1, tr.Predict([]float64{11})[0], 1e-12)
}

func TestFitGradientTreeLeafLimitAndShrinkage(t *testing.T) {
	n := 40
	X := mat.NewDense(n, 2, nil)
	y := make([]float64, n)
	for i := 0; i < n; i++ {
		X.Set(i, 0, float64(i))
		X.Set(i, 1, float64(i%5))
		y[i] = math.Sin(float64(i) / 3)
	}
	g, h := squaredLossGrads(y)

	tr := FitGradientTree(NewColumns(X), g, h, allRows(n), GradientTreeParams{
		MaxLeaves:    4,
		Lambda:       1,
		LearningRate: 0.1,
	})
	assert.LessOrEqual(t, tr.NLeaves(), 4)
	assert.Greater(t, tr.NLeaves(), 1)

	// leaf values are shrunken Newton steps: |v| <= 0.1 * max|y|
	for _, nd := range tr.Nodes {
		if nd.IsLeaf() {
			assert.LessOrEqual(t, math.Abs(nd.Value[0]), 0.1+1e-12)
		}
	}

	// min samples per leaf is respected
	tr = FitGradientTree(NewColumns(X), g, h, allRows(n), GradientTreeParams{
		MinSamplesLeaf: 15,
		Lambda:         1,
		LearningRate:   1,
	})
	for _, nd := range tr.Nodes {
		if nd.IsLeaf() {
			assert.GreaterOrEqual(t, nd.Samples, 15)
		}
	}
}

func TestFitGradientTreeNoGain(t *testing.T) {
	X := mat.NewDense(4, 1, []float64{1, 2, 3, 4})
	g, h := squaredLossGrads([]float64{1, 1, 1, 1})
	tr := FitGradientTree(NewColumns(X), g, h, allRows(4), GradientTreeParams{Lambda: 1, LearningRate: 1})
	assert.Len(t, tr.Nodes, 1)
	assert.InDelta(t, 4.0/5.0, tr.Nodes[0].Value[0], 1e-12)
}

func TestDecisionTreeClassifierPersistence(t *testing.T) {
	X := mat.NewDense(6, 2, []float64{0, 0, 0, 1, 1, 0, 2, 2, 2, 3, 3, 2})
	y := mat.NewDense(6, 1, []float64{0, 0, 0, 1, 1, 1})
	dt := NewDecisionTreeClassifier(WithMaxDepth(3))
	require.NoError(t, dt.Fit(X, y))

	var buf bytes.Buffer
	require.NoError(t, model.SaveModelToWriter(dt, &buf))
	var loaded DecisionTreeClassifier
	require.NoError(t, model.LoadModelFromReader(&loaded, &buf))

	want, err := dt.PredictProba(X)
	require.NoError(t, err)
	got, err := loaded.PredictProba(X)
	require.NoError(t, err)
	assert.True(t, mat.Equal(want, got))
	assert.Equal(t, []int{0, 1}, loaded.Classes())
}

func TestFitEncodedIgnoresZeroWeights(t *testing.T) {
	X := mat.NewDense(4, 1, []float64{0, 1, 2, 3})
	cols := NewColumns(X)
	dt := NewDecisionTreeClassifier()
	// only rows 0 and 3 take part
	require.NoError(t, dt.FitEncoded(cols, []int{0, 1, 1, 1}, []int{0, 1}, []float64{2, 0, 0, 1}))

	root := dt.Tree_.Nodes[0]
	assert.Equal(t, 3.0, root.Cover)
	assert.Equal(t, 2, root.Samples)
	assert.InDelta(t, 2.0/3.0, root.Value[0], 1e-12)
	assert.InDelta(t, 1.5, root.Threshold, 1e-12)
}

func TestSetParamsValidation(t *testing.T) {
	dt := NewDecisionTreeClassifier()
	assert.Error(t, dt.SetParams(map[string]interface{}{"criterion": 3}))
	assert.Error(t, dt.SetParams(map[string]interface{}{"max_depth": 2.5}))
	assert.Error(t, dt.SetParams(map[string]interface{}{"bogus": 1}))
	require.NoError(t, dt.SetParams(map[string]interface{}{"max_depth": float64(4)}))
	assert.Equal(t, 4, dt.MaxDepth)

	dt.Criterion = "mse"
	err := dt.Fit(mat.NewDense(2, 1, []float64{0, 1}), mat.NewDense(2, 1, []float64{0, 1}))
	assert.Error(t, err)
}
