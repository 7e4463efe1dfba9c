// Package artifact persists trained models between pipeline stages.
//
// Each model is stored as a gob-encoded Bundle holding the fitted
// classifier, the scaler it was trained behind (if any) and descriptive
// metadata. A YAML manifest lists the bundles written by a training run.
package artifact

import (
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/bcpipeline/core/model"
	"github.com/YuminosukeSato/bcpipeline/pkg/errors"
	"github.com/YuminosukeSato/bcpipeline/preprocessing"

	// Concrete estimator types must be registered with gob before a Bundle
	// can be decoded.
	_ "github.com/YuminosukeSato/bcpipeline/sklearn/ensemble"
	_ "github.com/YuminosukeSato/bcpipeline/sklearn/linear_model"
	_ "github.com/YuminosukeSato/bcpipeline/sklearn/neural_network"
	_ "github.com/YuminosukeSato/bcpipeline/sklearn/svm"
)

// Metadata describes how a bundled model was produced.
type Metadata struct {
	Name     string
	Features []string
	// Params are the hyperparameters chosen by grid search, or nil when
	// the model was fitted with its defaults.
	Params map[string]interface{}
	// CVScore is the mean cross-validated ROC AUC, NaN when not tuned.
	CVScore             float64
	RequiresScaledInput bool
	CreatedAt           time.Time
	RunID               string
}

// Bundle is the persisted unit for one model.
type Bundle struct {
	Model    model.Classifier
	Scaler   *preprocessing.StandardScaler
	Metadata Metadata
}

// Transform applies the bundled scaler, if any, to X.
func (b *Bundle) Transform(X mat.Matrix) (mat.Matrix, error) {
	if b.Scaler == nil {
		return X, nil
	}
	return b.Scaler.Transform(X)
}

// Predict returns hard labels for unscaled X.
func (b *Bundle) Predict(X mat.Matrix) (mat.Matrix, error) {
	Xt, err := b.Transform(X)
	if err != nil {
		return nil, err
	}
	return b.Model.Predict(Xt)
}

// PredictProba returns class probabilities for unscaled X.
func (b *Bundle) PredictProba(X mat.Matrix) (mat.Matrix, error) {
	Xt, err := b.Transform(X)
	if err != nil {
		return nil, err
	}
	return b.Model.PredictProba(Xt)
}

// Slug lowercases name and replaces spaces with underscores.
func Slug(name string) string {
	return strings.ReplaceAll(strings.ToLower(name), " ", "_")
}

// FileName returns the artifact file name for a model name.
func FileName(name string) string {
	return Slug(name) + "_model.gob"
}

// Path returns the artifact path for a model name inside dir.
func Path(dir, name string) string {
	return filepath.Join(dir, FileName(name))
}

// Save writes b into dir, overwriting any previous artifact for the same
// model, and returns the file path.
func Save(dir string, b *Bundle) (string, error) {
	if b == nil || b.Model == nil {
		return "", errors.NewValueError("artifact.Save", "bundle has no model")
	}
	if b.Metadata.Name == "" {
		return "", errors.NewValueError("artifact.Save", "bundle has no model name")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", errors.Wrapf(err, "create models directory %s", dir)
	}
	path := Path(dir, b.Metadata.Name)
	if err := model.SaveModel(b, path); err != nil {
		return "", errors.Wrapf(err, "save artifact for %s", b.Metadata.Name)
	}
	return path, nil
}

// Load reads the artifact for name from dir. A missing file yields a
// MissingArtifactError.
func Load(dir, name string) (*Bundle, error) {
	path := Path(dir, name)
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return nil, errors.NewMissingArtifactError(name, path)
		}
		return nil, errors.Wrapf(err, "stat %s", path)
	}
	var b Bundle
	if err := model.LoadModel(&b, path); err != nil {
		return nil, errors.Wrapf(err, "load artifact for %s", name)
	}
	if b.Model == nil {
		return nil, errors.NewValueError("artifact.Load", "artifact "+path+" holds no model")
	}
	return &b, nil
}

// Remove deletes the artifact for name from dir. A missing file is not an
// error.
func Remove(dir, name string) error {
	path := Path(dir, name)
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return errors.Wrapf(err, "remove %s", path)
	}
	return nil
}

// Tuned reports whether the metadata carries a cross-validation score.
func (m Metadata) Tuned() bool {
	return !math.IsNaN(m.CVScore)
}
