package pipeline

import (
	"context"
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/bcpipeline/artifact"
	"github.com/YuminosukeSato/bcpipeline/core/model"
	"github.com/YuminosukeSato/bcpipeline/dataset"
	"github.com/YuminosukeSato/bcpipeline/metrics"
	"github.com/YuminosukeSato/bcpipeline/pkg/errors"
	"github.com/YuminosukeSato/bcpipeline/pkg/log"
	"github.com/YuminosukeSato/bcpipeline/preprocessing"
	"github.com/YuminosukeSato/bcpipeline/sklearn/model_selection"
)

// TrainedModel is one successfully trained and saved model.
type TrainedModel struct {
	Name   string
	Path   string
	Bundle *artifact.Bundle
	// Holdout scores on the training stage's own test partition.
	Accuracy float64
	AUC      float64
}

// TrainResult summarizes a training run.
type TrainResult struct {
	TrainIndices []int
	TestIndices  []int
	Models       map[string]*TrainedModel
	// Order lists the trained models in roster order.
	Order    []string
	Failures map[string]error
}

// partition holds the split matrices of one training run.
type partition struct {
	features      []string
	Xtrain, Xtest *mat.Dense
	XtrainScaled  mat.Matrix
	ytrain, ytest *mat.VecDense
	scaler        *preprocessing.StandardScaler
}

// Train splits the cleaned table, fits every configured model and saves a
// bundle per model plus a manifest. A failing model is logged and skipped;
// the stage fails only when no model could be trained.
func (p *Pipeline) Train(ctx context.Context) (*TrainResult, error) {
	var res *TrainResult
	err := p.stage(ctx, errors.StageTrain, func(logger log.Logger) error {
		t, err := p.loadCleaned(logger)
		if err != nil {
			return err
		}
		part, trainIdx, testIdx, err := p.splitMatrices(t)
		if err != nil {
			return err
		}
		logger.Info("data split",
			"train_samples", len(trainIdx),
			"test_samples", len(testIdx),
			log.FeaturesKey, len(part.features),
			log.RandomSeedKey, p.cfg.Training.Seed,
		)
		p.recorder.SetRows("train", len(trainIdx))
		p.recorder.SetRows("test", len(testIdx))

		res = &TrainResult{
			TrainIndices: trainIdx,
			TestIndices:  testIdx,
			Models:       make(map[string]*TrainedModel),
			Failures:     make(map[string]error),
		}
		for _, name := range p.cfg.Training.Models {
			if err := ctx.Err(); err != nil {
				return err
			}
			entry, ok := p.lookup(name)
			if !ok {
				return errors.NewValidationError("training.models", "no roster entry", name)
			}
			mlog := logger.With(log.ModelNameKey, name)

			var tm *TrainedModel
			err := errors.SafeExecute("train "+name, func() error {
				var err error
				tm, err = p.trainModel(entry, part, mlog)
				return err
			})
			if err != nil {
				mlog.Error("model training failed", err)
				res.Failures[name] = err
				p.recorder.ModelFailed(errors.StageTrain)
				if rerr := artifact.Remove(p.cfg.Paths.ModelsDir, name); rerr != nil {
					mlog.Warn("stale artifact not removed", rerr, log.PathKey, artifact.Path(p.cfg.Paths.ModelsDir, name))
				}
				continue
			}
			res.Models[name] = tm
			res.Order = append(res.Order, name)
		}

		if len(res.Order) == 0 {
			return errors.NewModelError("Train", "training",
				errors.Wrapf(res.Failures[p.cfg.Training.Models[0]], "all %d models failed", len(p.cfg.Training.Models)))
		}
		return p.writeManifest(res, logger)
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

func (p *Pipeline) splitMatrices(t *dataset.Table) (*partition, []int, []int, error) {
	trainIdx, testIdx, err := p.split(t)
	if err != nil {
		return nil, nil, nil, err
	}
	label := p.schema.LabelColumn
	Xtr, ytr, names, err := t.Subset(trainIdx).XY(label)
	if err != nil {
		return nil, nil, nil, err
	}
	Xte, yte, _, err := t.Subset(testIdx).XY(label)
	if err != nil {
		return nil, nil, nil, err
	}

	// One scaler, fitted on the training rows only, serves every model that
	// needs standardized input.
	scaler := preprocessing.NewStandardScalerDefault()
	XtrS, err := scaler.FitTransform(Xtr)
	if err != nil {
		return nil, nil, nil, errors.Wrap(err, "fit scaler")
	}
	return &partition{
		features:     names,
		Xtrain:       Xtr,
		Xtest:        Xte,
		XtrainScaled: XtrS,
		ytrain:       ytr,
		ytest:        yte,
		scaler:       scaler,
	}, trainIdx, testIdx, nil
}

// trainModel fits one roster entry, scores it on the test partition and
// saves its bundle.
func (p *Pipeline) trainModel(entry Entry, part *partition, logger log.Logger) (*TrainedModel, error) {
	var X mat.Matrix = part.Xtrain
	if entry.RequiresScaledInput {
		X = part.XtrainScaled
	}
	seed := p.cfg.Training.Seed

	meta := artifact.Metadata{
		Name:                entry.Name,
		Features:            part.features,
		CVScore:             math.NaN(),
		RequiresScaledInput: entry.RequiresScaledInput,
		CreatedAt:           p.now().UTC(),
		RunID:               p.runID,
	}

	var clf model.Classifier
	if len(entry.Grid) > 0 {
		// Parallelism goes to the search; each candidate fits serially.
		gs := model_selection.NewGridSearchCV(
			func() model.TunableClassifier { return entry.New(seed, 1) },
			entry.Grid,
			model_selection.WithCV(model_selection.NewStratifiedKFold(p.cfg.Training.CVFolds, false, 0)),
			model_selection.WithSearchNJobs(p.workers()),
			model_selection.WithSearchLogger(logger),
		)
		if err := gs.Fit(X, part.ytrain); err != nil {
			return nil, err
		}
		clf = gs.BestEstimator_
		meta.Params = gs.BestParams_
		meta.CVScore = gs.BestScore_
		logger.Info("grid search finished",
			log.ParamsKey, gs.BestParams_,
			log.CVScoreKey, gs.BestScore_,
			"candidates", len(gs.CVResults_),
		)
		p.recorder.SetCVScore(entry.Name, gs.BestScore_)
	} else {
		est := entry.New(seed, p.cfg.Training.NJobs)
		if err := est.Fit(X, part.ytrain); err != nil {
			return nil, err
		}
		clf = est
	}

	bundle := &artifact.Bundle{Model: clf, Metadata: meta}
	if entry.RequiresScaledInput {
		bundle.Scaler = part.scaler
	}

	acc, auc, err := holdoutScores(bundle, part.Xtest, part.ytest)
	if err != nil {
		return nil, err
	}
	logger.Info("model trained",
		log.SamplesKey, part.ytrain.Len(),
		log.AccuracyKey, acc,
		log.AUCKey, auc,
	)

	path, err := artifact.Save(p.cfg.Paths.ModelsDir, bundle)
	if err != nil {
		return nil, err
	}
	logger.Debug("model saved", log.PathKey, path, log.OperationKey, log.OperationSave)

	return &TrainedModel{
		Name:     entry.Name,
		Path:     path,
		Bundle:   bundle,
		Accuracy: acc,
		AUC:      auc,
	}, nil
}

func holdoutScores(b *artifact.Bundle, X mat.Matrix, y *mat.VecDense) (acc, auc float64, err error) {
	pred, err := b.Predict(X)
	if err != nil {
		return 0, 0, err
	}
	proba, err := b.PredictProba(X)
	if err != nil {
		return 0, 0, err
	}
	acc, err = metrics.Accuracy(y, model.ColumnToVec(pred))
	if err != nil {
		return 0, 0, err
	}
	auc, err = metrics.AUC(y, model.PositiveProba(proba))
	if err != nil {
		return 0, 0, err
	}
	return acc, auc, nil
}

func (p *Pipeline) writeManifest(res *TrainResult, logger log.Logger) error {
	m := &artifact.Manifest{RunID: p.runID, CreatedAt: p.now().UTC()}
	for _, name := range res.Order {
		m.Models = append(m.Models, artifact.EntryFor(res.Models[name].Bundle))
	}
	if err := artifact.WriteManifest(p.cfg.Paths.ModelsDir, m); err != nil {
		return err
	}
	logger.Info("models saved",
		log.PathKey, p.cfg.Paths.ModelsDir,
		"trained", len(res.Order),
		"failed", len(res.Failures),
	)
	return nil
}
