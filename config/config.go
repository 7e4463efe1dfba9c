// Package config loads the pipeline configuration.
//
// Configuration precedence (highest to lowest):
//  1. Environment variables (BCPIPELINE_TRAINING_SEED, BCPIPELINE_LOG_LEVEL, ...)
//  2. YAML config file, when a path is given
//  3. Built-in defaults
package config

import (
	"strings"

	"github.com/YuminosukeSato/bcpipeline/dataset"
	"github.com/YuminosukeSato/bcpipeline/pkg/errors"
	"github.com/YuminosukeSato/bcpipeline/pkg/log"
)

// Model names, in the order the pipeline trains and reports them.
const (
	ModelLogisticRegression = "Logistic Regression"
	ModelRandomForest       = "Random Forest"
	ModelSVM                = "SVM"
	ModelXGBoost            = "XGBoost"
	ModelLightGBM           = "LightGBM"
	ModelMLP                = "MLP"
)

// DefaultModels lists every model the pipeline knows.
var DefaultModels = []string{
	ModelLogisticRegression,
	ModelRandomForest,
	ModelSVM,
	ModelXGBoost,
	ModelLightGBM,
	ModelMLP,
}

// Evaluation scopes.
const (
	// ScopeHoldout evaluates on the test partition recomputed from the
	// training split parameters.
	ScopeHoldout = "holdout"
	// ScopeFull evaluates on every cleaned row, including rows the models
	// were trained on.
	ScopeFull = "full"
)

// Config is the complete pipeline configuration.
type Config struct {
	Paths       PathsConfig       `koanf:"paths" yaml:"paths"`
	Preparation PreparationConfig `koanf:"preparation" yaml:"preparation"`
	Training    TrainingConfig    `koanf:"training" yaml:"training"`
	Evaluation  EvaluationConfig  `koanf:"evaluation" yaml:"evaluation"`
	Explanation ExplanationConfig `koanf:"explanation" yaml:"explanation"`
	Log         LogConfig         `koanf:"log" yaml:"log"`
}

// PathsConfig holds every file the pipeline reads or writes.
type PathsConfig struct {
	Raw               string `koanf:"raw" yaml:"raw"`
	Cleaned           string `koanf:"cleaned" yaml:"cleaned"`
	ModelsDir         string `koanf:"models_dir" yaml:"models_dir"`
	Results           string `koanf:"results" yaml:"results"`
	VisualizationsDir string `koanf:"visualizations_dir" yaml:"visualizations_dir"`
	MetricsFile       string `koanf:"metrics_file" yaml:"metrics_file"`
}

// PreparationConfig controls cleaning.
type PreparationConfig struct {
	CorrelationThreshold float64 `koanf:"correlation_threshold" yaml:"correlation_threshold"`
	TieBreak             string  `koanf:"tie_break" yaml:"tie_break"`
}

// TrainingConfig controls splitting and tuning.
type TrainingConfig struct {
	TestSize float64  `koanf:"test_size" yaml:"test_size"`
	Seed     uint64   `koanf:"seed" yaml:"seed"`
	CVFolds  int      `koanf:"cv_folds" yaml:"cv_folds"`
	Models   []string `koanf:"models" yaml:"models"`
	// NJobs bounds library parallelism; 0 uses every CPU.
	NJobs int `koanf:"n_jobs" yaml:"n_jobs"`
}

// EvaluationConfig controls the evaluation stage.
type EvaluationConfig struct {
	Scope  string   `koanf:"scope" yaml:"scope"`
	Models []string `koanf:"models" yaml:"models"`
}

// ExplanationConfig selects the explained model.
type ExplanationConfig struct {
	Model string `koanf:"model" yaml:"model"`
}

// LogConfig selects the log level and output format.
type LogConfig struct {
	Level  string `koanf:"level" yaml:"level"`
	Format string `koanf:"format" yaml:"format"`
}

// Default returns the built-in configuration. Paths are relative to the
// working directory.
func Default() *Config {
	return &Config{
		Paths: PathsConfig{
			Raw:               "breast_cancer_data.csv",
			Cleaned:           "cleaned_breast_cancer_data.csv",
			ModelsDir:         "models",
			Results:           "model_performance.csv",
			VisualizationsDir: "visualizations",
			MetricsFile:       "pipeline_metrics.prom",
		},
		Preparation: PreparationConfig{
			CorrelationThreshold: 0.9,
			TieBreak:             string(dataset.TieBreakLabelCorrelation),
		},
		Training: TrainingConfig{
			TestSize: 0.2,
			Seed:     42,
			CVFolds:  5,
			Models:   append([]string(nil), DefaultModels...),
		},
		Evaluation: EvaluationConfig{
			Scope:  ScopeHoldout,
			Models: append([]string(nil), DefaultModels...),
		},
		Explanation: ExplanationConfig{Model: ModelRandomForest},
		Log:         LogConfig{Level: "info", Format: "json"},
	}
}

// Validate checks value ranges and names.
func (c *Config) Validate() error {
	if c.Paths.Raw == "" || c.Paths.Cleaned == "" || c.Paths.ModelsDir == "" ||
		c.Paths.Results == "" || c.Paths.VisualizationsDir == "" {
		return errors.NewValidationError("paths", "must not be empty", c.Paths)
	}
	if t := c.Preparation.CorrelationThreshold; t <= 0 || t > 1 {
		return errors.NewValidationError("preparation.correlation_threshold", "must be in (0, 1]", t)
	}
	if !dataset.TieBreak(c.Preparation.TieBreak).Valid() {
		return errors.NewValidationError("preparation.tie_break", "must be label_correlation or position", c.Preparation.TieBreak)
	}
	if ts := c.Training.TestSize; ts <= 0 || ts >= 1 {
		return errors.NewValidationError("training.test_size", "must be in (0, 1)", ts)
	}
	if c.Training.CVFolds < 2 {
		return errors.NewValidationError("training.cv_folds", "must be at least 2", c.Training.CVFolds)
	}
	if c.Training.NJobs < 0 {
		return errors.NewValidationError("training.n_jobs", "must not be negative", c.Training.NJobs)
	}
	if err := validateModels("training.models", c.Training.Models); err != nil {
		return err
	}
	if c.Evaluation.Scope != ScopeHoldout && c.Evaluation.Scope != ScopeFull {
		return errors.NewValidationError("evaluation.scope", "must be holdout or full", c.Evaluation.Scope)
	}
	if err := validateModels("evaluation.models", c.Evaluation.Models); err != nil {
		return err
	}
	if !KnownModel(c.Explanation.Model) {
		return errors.NewValidationError("explanation.model", "unknown model", c.Explanation.Model)
	}
	if _, err := log.ParseLevel(c.Log.Level); err != nil {
		return errors.NewValidationError("log.level", err.Error(), c.Log.Level)
	}
	if c.Log.Format != "json" && c.Log.Format != "console" {
		return errors.NewValidationError("log.format", "must be json or console", c.Log.Format)
	}
	return nil
}

// KnownModel reports whether name is one of DefaultModels.
func KnownModel(name string) bool {
	for _, m := range DefaultModels {
		if m == name {
			return true
		}
	}
	return false
}

func validateModels(key string, names []string) error {
	if len(names) == 0 {
		return errors.NewValidationError(key, "must name at least one model", names)
	}
	seen := make(map[string]bool, len(names))
	for _, n := range names {
		if !KnownModel(n) {
			return errors.NewValidationError(key, "unknown model", n)
		}
		if seen[n] {
			return errors.NewValidationError(key, "duplicate model", n)
		}
		seen[n] = true
	}
	return nil
}

// splitList expands a single comma-separated entry, the form list values
// take when set through the environment.
func splitList(v []string) []string {
	if len(v) != 1 || !strings.Contains(v[0], ",") {
		return v
	}
	parts := strings.Split(v[0], ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
