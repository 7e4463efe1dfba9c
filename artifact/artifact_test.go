package artifact

import (
	"math"
	"math/rand/v2"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/bcpipeline/pkg/errors"
	"github.com/YuminosukeSato/bcpipeline/preprocessing"
	"github.com/YuminosukeSato/bcpipeline/sklearn/ensemble"
	"github.com/YuminosukeSato/bcpipeline/sklearn/linear_model"
)

func blobs(n int) (*mat.Dense, *mat.Dense) {
	rng := rand.New(rand.NewPCG(9, 9))
	X := mat.NewDense(n, 3, nil)
	y := mat.NewDense(n, 1, nil)
	for i := 0; i < n; i++ {
		c := float64(i % 2)
		for j := 0; j < 3; j++ {
			X.Set(i, j, 1+9*c+rng.NormFloat64()*2)
		}
		y.Set(i, 0, c)
	}
	return X, y
}

func TestSlug(t *testing.T) {
	tests := map[string]string{
		"Logistic Regression": "logistic_regression",
		"Random Forest":       "random_forest",
		"SVM":                 "svm",
		"XGBoost":             "xgboost",
	}
	for name, want := range tests {
		assert.Equal(t, want, Slug(name))
	}
	assert.Equal(t, "random_forest_model.gob", FileName("Random Forest"))
}

func TestSaveLoadScaledBundle(t *testing.T) {
	X, y := blobs(60)
	scaler := preprocessing.NewStandardScalerDefault()
	Xs, err := scaler.FitTransform(X)
	require.NoError(t, err)
	lr := linear_model.NewLogisticRegression()
	require.NoError(t, lr.Fit(Xs, y))

	dir := filepath.Join(t.TempDir(), "models")
	b := &Bundle{
		Model:  lr,
		Scaler: scaler,
		Metadata: Metadata{
			Name:                "Logistic Regression",
			Features:            []string{"a", "b", "c"},
			Params:              map[string]interface{}{"C": 1.0},
			CVScore:             0.97,
			RequiresScaledInput: true,
			CreatedAt:           time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
			RunID:               "run-1",
		},
	}
	path, err := Save(dir, b)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "logistic_regression_model.gob"), path)

	loaded, err := Load(dir, "Logistic Regression")
	require.NoError(t, err)
	assert.Equal(t, b.Metadata, loaded.Metadata)
	require.NotNil(t, loaded.Scaler)

	want, err := b.PredictProba(X)
	require.NoError(t, err)
	got, err := loaded.PredictProba(X)
	require.NoError(t, err)
	assert.True(t, mat.Equal(want, got))

	wantLabels, err := b.Predict(X)
	require.NoError(t, err)
	gotLabels, err := loaded.Predict(X)
	require.NoError(t, err)
	assert.True(t, mat.Equal(wantLabels, gotLabels))
}

func TestSaveLoadUnscaledBundle(t *testing.T) {
	X, y := blobs(40)
	rf := ensemble.NewRandomForestClassifier(ensemble.WithNEstimators(5))
	require.NoError(t, rf.Fit(X, y))

	dir := t.TempDir()
	_, err := Save(dir, &Bundle{Model: rf, Metadata: Metadata{Name: "Random Forest", CVScore: math.NaN()}})
	require.NoError(t, err)

	loaded, err := Load(dir, "Random Forest")
	require.NoError(t, err)
	assert.Nil(t, loaded.Scaler)
	assert.False(t, loaded.Metadata.Tuned())
	_, ok := loaded.Model.(*ensemble.RandomForestClassifier)
	assert.True(t, ok)

	want, err := rf.PredictProba(X)
	require.NoError(t, err)
	got, err := loaded.PredictProba(X)
	require.NoError(t, err)
	assert.True(t, mat.Equal(want, got))
}

func TestLoadMissing(t *testing.T) {
	_, err := Load(t.TempDir(), "SVM")
	require.Error(t, err)
	var missing *errors.MissingArtifactError
	require.True(t, errors.As(err, &missing))
	assert.Equal(t, "SVM", missing.Model)
}

func TestLoadCorrupt(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(Path(dir, "SVM"), []byte("not gob"), 0o644))
	_, err := Load(dir, "SVM")
	require.Error(t, err)
	var missing *errors.MissingArtifactError
	assert.False(t, errors.As(err, &missing))
}

func TestSaveRejectsEmptyBundle(t *testing.T) {
	_, err := Save(t.TempDir(), &Bundle{})
	assert.Error(t, err)
}

func TestManifestRoundTrip(t *testing.T) {
	dir := t.TempDir()
	tuned := &Bundle{Metadata: Metadata{Name: "Random Forest", Params: map[string]interface{}{"max_depth": 10}, CVScore: 0.99}}
	plain := &Bundle{Metadata: Metadata{Name: "SVM", CVScore: math.NaN()}}

	m := &Manifest{
		RunID:     "abc",
		CreatedAt: time.Date(2026, 5, 6, 7, 8, 9, 0, time.UTC),
		Models:    []ManifestEntry{EntryFor(tuned), EntryFor(plain)},
	}
	require.NoError(t, WriteManifest(dir, m))

	got, err := ReadManifest(dir)
	require.NoError(t, err)
	assert.Equal(t, "abc", got.RunID)
	assert.True(t, m.CreatedAt.Equal(got.CreatedAt))
	require.Len(t, got.Models, 2)
	assert.Equal(t, "random_forest_model.gob", got.Models[0].File)
	require.NotNil(t, got.Models[0].CVAUC)
	assert.Equal(t, 0.99, *got.Models[0].CVAUC)
	assert.Equal(t, 10, got.Models[0].Params["max_depth"])
	assert.Nil(t, got.Models[1].CVAUC)
}

func savedLR(t *testing.T, dir, runID string) *Bundle {
	t.Helper()
	X, y := blobs(40)
	lr := linear_model.NewLogisticRegression()
	require.NoError(t, lr.Fit(X, y))
	b := &Bundle{Model: lr, Metadata: Metadata{Name: "Logistic Regression", CVScore: math.NaN(), RunID: runID}}
	_, err := Save(dir, b)
	require.NoError(t, err)
	return b
}

func TestLoadCurrent(t *testing.T) {
	t.Run("no manifest", func(t *testing.T) {
		dir := t.TempDir()
		savedLR(t, dir, "run-1")
		b, err := LoadCurrent(dir, "Logistic Regression")
		require.NoError(t, err)
		assert.Equal(t, "run-1", b.Metadata.RunID)
	})

	t.Run("listed by the same run", func(t *testing.T) {
		dir := t.TempDir()
		b := savedLR(t, dir, "run-1")
		require.NoError(t, WriteManifest(dir, &Manifest{RunID: "run-1", Models: []ManifestEntry{EntryFor(b)}}))
		_, err := LoadCurrent(dir, "Logistic Regression")
		assert.NoError(t, err)
	})

	t.Run("left over from an earlier run", func(t *testing.T) {
		dir := t.TempDir()
		savedLR(t, dir, "run-1")
		require.NoError(t, WriteManifest(dir, &Manifest{RunID: "run-2"}))
		_, err := LoadCurrent(dir, "Logistic Regression")
		var stale *errors.StaleArtifactError
		require.True(t, errors.As(err, &stale))
		assert.Equal(t, "run-1", stale.RunID)
		assert.Equal(t, "run-2", stale.ManifestRunID)
	})

	t.Run("missing", func(t *testing.T) {
		_, err := LoadCurrent(t.TempDir(), "SVM")
		var missing *errors.MissingArtifactError
		assert.True(t, errors.As(err, &missing))
	})
}

func TestRemove(t *testing.T) {
	dir := t.TempDir()
	savedLR(t, dir, "run-1")
	require.NoError(t, Remove(dir, "Logistic Regression"))
	assert.NoFileExists(t, Path(dir, "Logistic Regression"))
	assert.NoError(t, Remove(dir, "Logistic Regression"))
}
