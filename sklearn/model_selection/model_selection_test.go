package model_selection

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/bcpipeline/core/model"
	"github.com/YuminosukeSato/bcpipeline/pkg/errors"
	"github.com/YuminosukeSato/bcpipeline/pkg/log"
)

// scoreModel outputs sigmoid(w*x0) and ignores training data.
type scoreModel struct {
	model.BaseEstimator
	w    float64
	fail bool
}

func (s *scoreModel) Fit(X, y mat.Matrix) error {
	if s.fail {
		return errors.New("boom")
	}
	s.SetFitted()
	return nil
}

func (s *scoreModel) PredictProba(X mat.Matrix) (mat.Matrix, error) {
	n, _ := X.Dims()
	out := mat.NewDense(n, 2, nil)
	for i := 0; i < n; i++ {
		p := 1 / (1 + math.Exp(-s.w*X.At(i, 0)))
		out.Set(i, 0, 1-p)
		out.Set(i, 1, p)
	}
	return out, nil
}

func (s *scoreModel) Predict(X mat.Matrix) (mat.Matrix, error) {
	proba, _ := s.PredictProba(X)
	return model.ArgmaxClasses(proba, s.Classes()), nil
}

func (s *scoreModel) Classes() []int { return []int{0, 1} }

func (s *scoreModel) GetParams() map[string]interface{} {
	return map[string]interface{}{"w": s.w, "fail": s.fail}
}

func (s *scoreModel) SetParams(params map[string]interface{}) error {
	for k, v := range params {
		switch k {
		case "w":
			f, err := model.FloatParam(k, v)
			if err != nil {
				return err
			}
			s.w = f
		case "fail":
			s.fail = v.(bool)
		default:
			return errors.NewValidationError(k, "unknown parameter", v)
		}
	}
	return nil
}

func separable(n int) (*mat.Dense, *mat.Dense) {
	X := mat.NewDense(n, 1, nil)
	y := mat.NewDense(n, 1, nil)
	for i := 0; i < n; i++ {
		X.Set(i, 0, float64(i)-float64(n)/2)
		if i >= n/2 {
			y.Set(i, 0, 1)
		}
	}
	return X, y
}

func TestStratifiedKFoldAllocation(t *testing.T) {
	X := mat.NewDense(15, 1, nil)
	y := mat.NewDense(15, 1, nil)
	for i := 10; i < 15; i++ {
		y.Set(i, 0, 1)
	}

	skf := NewStratifiedKFold(5, false, 0)
	folds, err := skf.Split(X, y)
	require.NoError(t, err)
	require.Len(t, folds, 5)

	assert.Equal(t, []int{0, 1, 10}, folds[0].TestIndices)
	assert.Equal(t, []int{8, 9, 14}, folds[4].TestIndices)

	seen := make(map[int]int)
	for _, f := range folds {
		assert.Len(t, f.TestIndices, 3)
		assert.Len(t, f.TrainIndices, 12)
		for _, i := range f.TestIndices {
			seen[i]++
		}
	}
	for i := 0; i < 15; i++ {
		assert.Equal(t, 1, seen[i], "index %d", i)
	}
}

func TestStratifiedKFoldTooFewMembers(t *testing.T) {
	X := mat.NewDense(6, 1, nil)
	y := mat.NewDense(6, 1, []float64{0, 0, 0, 0, 1, 1})
	_, err := NewStratifiedKFold(3, false, 0).Split(X, y)
	assert.Error(t, err)
}

func TestTrainTestSplitProportions(t *testing.T) {
	tests := []struct {
		name             string
		neg, pos         int
		testSize         float64
		wantNeg, wantPos int
	}{
		{"exact", 30, 20, 0.2, 6, 4},
		{"largest remainder", 7, 4, 0.25, 2, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			n := tt.neg + tt.pos
			y := mat.NewVecDense(n, nil)
			for i := tt.neg; i < n; i++ {
				y.SetVec(i, 1)
			}
			train, test, err := TrainTestSplit(y, tt.testSize, 42)
			require.NoError(t, err)
			assert.Len(t, test, int(math.Ceil(tt.testSize*float64(n))))
			assert.Len(t, train, n-len(test))

			var neg, pos int
			for _, i := range test {
				if y.AtVec(i) == 1 {
					pos++
				} else {
					neg++
				}
			}
			assert.Equal(t, tt.wantNeg, neg)
			assert.Equal(t, tt.wantPos, pos)
			assert.IsIncreasing(t, test)
			assert.IsIncreasing(t, train)
		})
	}
}

func TestTrainTestSplitDeterministic(t *testing.T) {
	y := mat.NewVecDense(60, nil)
	for i := 0; i < 60; i += 3 {
		y.SetVec(i, 1)
	}
	tr1, te1, err := TrainTestSplit(y, 0.2, 7)
	require.NoError(t, err)
	tr2, te2, err := TrainTestSplit(y, 0.2, 7)
	require.NoError(t, err)
	assert.Equal(t, tr1, tr2)
	assert.Equal(t, te1, te2)

	_, te3, err := TrainTestSplit(y, 0.2, 8)
	require.NoError(t, err)
	assert.NotEqual(t, te1, te3)
}

func TestTrainTestSplitErrors(t *testing.T) {
	y := mat.NewVecDense(4, []float64{0, 0, 1, 1})
	_, _, err := TrainTestSplit(y, 0, 1)
	assert.Error(t, err)
	_, _, err = TrainTestSplit(y, 1, 1)
	assert.Error(t, err)
	_, _, err = TrainTestSplit(mat.NewVecDense(4, []float64{0, 0, 0, 1}), 0.5, 1)
	assert.Error(t, err)
}

func TestParamGridCandidates(t *testing.T) {
	grid := ParamGrid{"b": {1, 2}, "a": {"x", "y"}}
	assert.Equal(t, []map[string]interface{}{
		{"a": "x", "b": 1},
		{"a": "x", "b": 2},
		{"a": "y", "b": 1},
		{"a": "y", "b": 2},
	}, grid.Candidates())

	assert.Equal(t, []map[string]interface{}{{}}, ParamGrid{}.Candidates())
}

func TestGridSearchCVSelectsBest(t *testing.T) {
	X, y := separable(40)
	factory := func() model.TunableClassifier { return &scoreModel{} }
	gs := NewGridSearchCV(factory, ParamGrid{"w": {-1.0, 0.0, 1.0, 2.0}}, WithSearchNJobs(3))
	require.NoError(t, gs.Fit(X, y))

	require.Len(t, gs.CVResults_, 4)
	assert.InDelta(t, 0.0, gs.CVResults_[0].GetMeanScore(), 1e-12)
	assert.InDelta(t, 0.5, gs.CVResults_[1].GetMeanScore(), 1e-12)
	// w=1 and w=2 tie at 1.0; the first wins
	assert.Equal(t, 2, gs.BestIndex_)
	assert.Equal(t, 1.0, gs.BestParams_["w"])
	assert.InDelta(t, 1.0, gs.BestScore_, 1e-12)
	require.NotNil(t, gs.BestEstimator_)
	assert.True(t, gs.BestEstimator_.IsFitted())
	assert.True(t, gs.IsFitted())

	proba, err := gs.PredictProba(X)
	require.NoError(t, err)
	assert.Greater(t, proba.At(39, 1), proba.At(0, 1))
}

func TestGridSearchCVUsesGivenLogger(t *testing.T) {
	X, y := separable(20)
	factory := func() model.TunableClassifier { return &scoreModel{} }
	logger, _ := log.NewTestLogger(log.LevelDebug)

	gs := NewGridSearchCV(factory, ParamGrid{"w": {1.0}},
		WithSearchLogger(logger.With(log.ModelNameKey, "Random Forest")))
	require.NoError(t, gs.Fit(X, y))

	assert.True(t, logger.ContainsMessage("Grid search started"))
	assert.True(t, logger.ContainsMessage("Grid search candidate scored"))
	assert.True(t, logger.ContainsField(log.ModelNameKey, "Random Forest"))
	assert.True(t, logger.ContainsField(log.ComponentKey, "model_selection.grid_search"))
}

func TestGridSearchCVFailureIsolation(t *testing.T) {
	X, y := separable(20)
	factory := func() model.TunableClassifier { return &scoreModel{w: 1} }

	gs := NewGridSearchCV(factory, ParamGrid{"fail": {true, false}})
	require.NoError(t, gs.Fit(X, y))
	assert.Error(t, gs.CVResults_[0].Err)
	assert.True(t, math.IsNaN(gs.CVResults_[0].GetMeanScore()))
	assert.Equal(t, 1, gs.BestIndex_)

	all := NewGridSearchCV(factory, ParamGrid{"fail": {true}})
	err := all.Fit(X, y)
	require.Error(t, err)
	var me *errors.ModelError
	assert.True(t, errors.As(err, &me))

	_, err = NewGridSearchCV(factory, nil).Predict(X)
	assert.Error(t, err)
}

func TestCVResultStd(t *testing.T) {
	r := CVResult{TestScores: []float64{1, 3}}
	assert.Equal(t, 2.0, r.GetMeanScore())
	assert.Equal(t, 1.0, r.GetStdScore())
	assert.True(t, math.IsNaN((&CVResult{}).GetMeanScore()))
}
