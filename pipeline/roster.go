package pipeline

import (
	"github.com/YuminosukeSato/bcpipeline/config"
	"github.com/YuminosukeSato/bcpipeline/core/model"
	"github.com/YuminosukeSato/bcpipeline/sklearn/ensemble"
	"github.com/YuminosukeSato/bcpipeline/sklearn/linear_model"
	"github.com/YuminosukeSato/bcpipeline/sklearn/model_selection"
	"github.com/YuminosukeSato/bcpipeline/sklearn/neural_network"
	"github.com/YuminosukeSato/bcpipeline/sklearn/svm"
)

// Entry describes one model the pipeline can train.
type Entry struct {
	Name string
	// RequiresScaledInput marks models fitted on standardized features; their
	// bundle carries the scaler.
	RequiresScaledInput bool
	// New builds an unfitted estimator. nJobs bounds the estimator's own
	// parallelism.
	New func(seed uint64, nJobs int) model.TunableClassifier
	// Grid is searched with cross validation when non-empty.
	Grid model_selection.ParamGrid
}

// Roster returns every known model in config.DefaultModels order.
func Roster() []Entry {
	return []Entry{
		{
			Name:                config.ModelLogisticRegression,
			RequiresScaledInput: true,
			New: func(uint64, int) model.TunableClassifier {
				return linear_model.NewLogisticRegression()
			},
			Grid: model_selection.ParamGrid{"C": {0.01, 0.1, 1.0, 10.0}},
		},
		{
			Name: config.ModelRandomForest,
			New: func(seed uint64, nJobs int) model.TunableClassifier {
				return ensemble.NewRandomForestClassifier(
					ensemble.WithForestRandomState(seed),
					ensemble.WithNJobs(nJobs),
				)
			},
			Grid: model_selection.ParamGrid{
				"n_estimators":      {50, 100},
				"max_depth":         {10, 20},
				"min_samples_split": {2, 5},
				"min_samples_leaf":  {1, 2},
			},
		},
		{
			Name: config.ModelSVM,
			New: func(seed uint64, _ int) model.TunableClassifier {
				return svm.NewSVC(svm.WithProbability(true), svm.WithSVCRandomState(seed))
			},
		},
		{
			Name: config.ModelXGBoost,
			New: func(uint64, int) model.TunableClassifier {
				return ensemble.NewXGBoostClassifier()
			},
		},
		{
			Name: config.ModelLightGBM,
			New: func(uint64, int) model.TunableClassifier {
				return ensemble.NewLightGBMClassifier()
			},
		},
		{
			Name: config.ModelMLP,
			New: func(seed uint64, _ int) model.TunableClassifier {
				return neural_network.NewMLPClassifier(
					neural_network.WithHiddenLayerSizes(50),
					neural_network.WithMLPMaxIter(1000),
					neural_network.WithMLPRandomState(seed),
				)
			},
		},
	}
}

// Lookup returns the roster entry for name.
func Lookup(name string) (Entry, bool) {
	for _, e := range Roster() {
		if e.Name == name {
			return e, true
		}
	}
	return Entry{}, false
}
