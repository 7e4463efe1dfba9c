package explain

import (
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/bcpipeline/sklearn/ensemble"
	"github.com/YuminosukeSato/bcpipeline/sklearn/tree"
)

type fixedEnsemble tree.Ensemble

func (f fixedEnsemble) TreeEnsemble() tree.Ensemble { return tree.Ensemble(f) }

func leaf(v, cover float64) tree.Node {
	return tree.Node{Feature: -1, Left: -1, Right: -1, Value: []float64{v}, Cover: cover}
}

// andTree outputs 1 when x0 > 0.5 and x1 > 0.5, with every quadrant
// equally covered.
func andTree() *tree.Tree {
	return &tree.Tree{
		NFeatures: 2,
		Nodes: []tree.Node{
			{Feature: 0, Threshold: 0.5, Left: 1, Right: 2, Cover: 4},
			leaf(0, 2),
			{Feature: 1, Threshold: 0.5, Left: 3, Right: 4, Cover: 2},
			leaf(0, 1),
			leaf(1, 1),
		},
	}
}

func TestTreeExplainerStump(t *testing.T) {
	stump := &tree.Tree{
		NFeatures: 2,
		Nodes: []tree.Node{
			{Feature: 0, Threshold: 0.5, Left: 1, Right: 2, Cover: 10},
			leaf(1, 4),
			leaf(3, 6),
		},
	}
	e, err := NewTreeExplainer(fixedEnsemble{Trees: []*tree.Tree{stump}, Scale: 1})
	require.NoError(t, err)
	assert.InDelta(t, 2.2, e.ExpectedValue(), 1e-12)

	vals, err := e.Explain(mat.NewDense(2, 2, []float64{0, 9, 1, 9}), []string{"a", "b"})
	require.NoError(t, err)
	assert.InDelta(t, -1.2, vals.Values.At(0, 0), 1e-12)
	assert.InDelta(t, 0.8, vals.Values.At(1, 0), 1e-12)
	assert.Equal(t, 0.0, vals.Values.At(0, 1))
	assert.InDelta(t, 1.0, vals.Output(0), 1e-12)
	assert.InDelta(t, 3.0, vals.Output(1), 1e-12)
}

func TestTreeExplainerInteraction(t *testing.T) {
	e, err := NewTreeExplainer(fixedEnsemble{Trees: []*tree.Tree{andTree()}, Scale: 1})
	require.NoError(t, err)
	assert.InDelta(t, 0.25, e.ExpectedValue(), 1e-12)

	vals, err := e.Explain(mat.NewDense(2, 2, []float64{1, 1, 0, 1}), nil)
	require.NoError(t, err)
	// symmetric credit when both features are on
	assert.InDelta(t, 0.375, vals.Values.At(0, 0), 1e-12)
	assert.InDelta(t, 0.375, vals.Values.At(0, 1), 1e-12)
	assert.InDelta(t, -0.375, vals.Values.At(1, 0), 1e-12)
	assert.InDelta(t, 0.125, vals.Values.At(1, 1), 1e-12)
}

func TestTreeExplainerRepeatedFeature(t *testing.T) {
	// x0 is split twice on the same path
	tr := &tree.Tree{
		NFeatures: 2,
		Nodes: []tree.Node{
			{Feature: 0, Threshold: 0.5, Left: 1, Right: 4, Cover: 10},
			{Feature: 0, Threshold: 0.2, Left: 2, Right: 3, Cover: 6},
			leaf(-1, 2),
			leaf(0.5, 4),
			{Feature: 1, Threshold: 0.5, Left: 5, Right: 6, Cover: 4},
			leaf(1, 1),
			leaf(2, 3),
		},
	}
	ens := fixedEnsemble{Trees: []*tree.Tree{tr, andTree()}, Scale: 0.5, Base: 0.1}
	e, err := NewTreeExplainer(ens)
	require.NoError(t, err)

	X := mat.NewDense(4, 2, []float64{0.1, 0.9, 0.3, 0.1, 0.7, 0.7, 0.9, 0.2})
	vals, err := e.Explain(X, nil)
	require.NoError(t, err)
	for i := 0; i < 4; i++ {
		assert.InDelta(t, tree.Ensemble(ens).Predict(X.RawRowView(i)), vals.Output(i), 1e-12, "row %d", i)
	}
}

func blobs(n int, seed uint64) (*mat.Dense, *mat.Dense) {
	rng := rand.New(rand.NewPCG(seed, 5))
	X := mat.NewDense(n, 4, nil)
	y := mat.NewDense(n, 1, nil)
	for i := 0; i < n; i++ {
		c := float64(i % 2)
		X.Set(i, 0, 2*c+rng.NormFloat64())
		X.Set(i, 1, c+rng.NormFloat64())
		X.Set(i, 2, rng.NormFloat64())
		X.Set(i, 3, rng.NormFloat64())
		y.Set(i, 0, c)
	}
	return X, y
}

func TestTreeExplainerLocalAccuracy(t *testing.T) {
	X, y := blobs(120, 1)

	rf := ensemble.NewRandomForestClassifier(ensemble.WithNEstimators(10), ensemble.WithForestMaxDepth(5))
	require.NoError(t, rf.Fit(X, y))
	xgb := ensemble.NewXGBoostClassifier(ensemble.WithBoostingRounds(15))
	require.NoError(t, xgb.Fit(X, y))
	lgbm := ensemble.NewLightGBMClassifier(ensemble.WithBoostingRounds(15))
	require.NoError(t, lgbm.Fit(X, y))

	rfProba, err := rf.PredictProba(X)
	require.NoError(t, err)
	xgbMargin, err := xgb.DecisionFunction(X)
	require.NoError(t, err)
	lgbmMargin, err := lgbm.DecisionFunction(X)
	require.NoError(t, err)

	tests := []struct {
		name  string
		model TreeModel
		want  func(i int) float64
	}{
		{"random forest", rf, func(i int) float64 { return rfProba.At(i, 1) }},
		{"xgboost", xgb, func(i int) float64 { return xgbMargin.At(i, 0) }},
		{"lightgbm", lgbm, func(i int) float64 { return lgbmMargin.At(i, 0) }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e, err := NewTreeExplainer(tt.model)
			require.NoError(t, err)
			vals, err := e.Explain(X, []string{"a", "b", "c", "d"})
			require.NoError(t, err)
			for i := 0; i < 120; i++ {
				assert.InDelta(t, tt.want(i), vals.Output(i), 1e-9, "row %d", i)
			}

			ranking := vals.Importance()
			require.Len(t, ranking, 4)
			assert.Equal(t, "a", ranking[0].Feature)
		})
	}
}

func TestTreeExplainerErrors(t *testing.T) {
	_, err := NewTreeExplainer(fixedEnsemble{})
	assert.Error(t, err)

	e, err := NewTreeExplainer(fixedEnsemble{Trees: []*tree.Tree{andTree()}, Scale: 1})
	require.NoError(t, err)
	_, err = e.Explain(mat.NewDense(1, 3, nil), nil)
	assert.Error(t, err)
	_, err = e.Explain(mat.NewDense(1, 2, nil), []string{"only"})
	assert.Error(t, err)
}

func TestImportanceOrdering(t *testing.T) {
	v := &Values{
		Values:       mat.NewDense(2, 4, []float64{0.1, -2, 0.5, 0.5, -0.1, 2, -0.5, 0.5}),
		FeatureNames: []string{"w", "x", "y", "z"},
	}
	ranking := v.Importance()
	assert.Equal(t, []int{1, 2, 3, 0}, Order(ranking))
	assert.Equal(t, "x", ranking[0].Feature)
	assert.InDelta(t, 2.0, ranking[0].MeanAbs, 1e-12)
	// y and z tie; column order decides
	assert.Equal(t, "y", ranking[1].Feature)
}
