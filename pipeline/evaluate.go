package pipeline

import (
	"context"
	"encoding/csv"
	"io"
	"os"
	"path/filepath"
	"strconv"

	"github.com/olekukonko/tablewriter"
	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/bcpipeline/artifact"
	"github.com/YuminosukeSato/bcpipeline/core/model"
	"github.com/YuminosukeSato/bcpipeline/dataset"
	"github.com/YuminosukeSato/bcpipeline/metrics"
	"github.com/YuminosukeSato/bcpipeline/pkg/errors"
	"github.com/YuminosukeSato/bcpipeline/pkg/log"
	"github.com/YuminosukeSato/bcpipeline/visualize"
)

// ModelScore holds the evaluation of one model.
type ModelScore struct {
	Name      string
	Accuracy  float64
	AUC       float64
	Confusion *mat.Dense
	Report    metrics.BinaryReport
	Samples   int
	// PlotPath is the confusion matrix chart.
	PlotPath string
}

// EvaluateResult lists the evaluated models in configuration order.
type EvaluateResult struct {
	Scope  string
	Scores []ModelScore
	// Skipped holds the models that could not be evaluated.
	Skipped map[string]error
}

// Evaluate scores every configured model that has an artifact, writes the
// results CSV and one confusion matrix chart per model, and prints a
// summary table.
func (p *Pipeline) Evaluate(ctx context.Context) (*EvaluateResult, error) {
	var res *EvaluateResult
	err := p.stage(ctx, errors.StageEvaluate, func(logger log.Logger) error {
		t, err := p.loadCleaned(logger)
		if err != nil {
			return err
		}
		rows, err := p.scopeRows(t, logger)
		if err != nil {
			return err
		}
		X, y, names, err := rows.XY(p.schema.LabelColumn)
		if err != nil {
			return err
		}
		logger.Info("evaluation data ready",
			"scope", p.cfg.Evaluation.Scope,
			log.SamplesKey, rows.NumRows(),
		)

		res = &EvaluateResult{Scope: p.cfg.Evaluation.Scope, Skipped: make(map[string]error)}
		for _, name := range p.cfg.Evaluation.Models {
			if err := ctx.Err(); err != nil {
				return err
			}
			mlog := logger.With(log.ModelNameKey, name)

			var score ModelScore
			err := errors.SafeExecute("evaluate "+name, func() error {
				var err error
				score, err = p.evaluateModel(name, X, y, names, mlog)
				return err
			})
			if err != nil {
				mlog.Error("model skipped", err)
				res.Skipped[name] = err
				p.recorder.ModelFailed(errors.StageEvaluate)
				continue
			}
			res.Scores = append(res.Scores, score)
		}

		if len(res.Scores) == 0 {
			first := res.Skipped[p.cfg.Evaluation.Models[0]]
			return errors.Wrap(first, "no model could be evaluated")
		}
		if err := writeResults(p.cfg.Paths.Results, res.Scores); err != nil {
			return err
		}
		logger.Info("results written",
			log.PathKey, p.cfg.Paths.Results,
			"evaluated", len(res.Scores),
			"skipped", len(res.Skipped),
		)
		renderReport(p.out, res)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

func (p *Pipeline) evaluateModel(name string, X *mat.Dense, y *mat.VecDense, features []string, logger log.Logger) (ModelScore, error) {
	b, err := artifact.LoadCurrent(p.cfg.Paths.ModelsDir, name)
	if err != nil {
		return ModelScore{}, err
	}
	if err := checkFeatures(b, features); err != nil {
		return ModelScore{}, err
	}

	pred, err := b.Predict(X)
	if err != nil {
		return ModelScore{}, err
	}
	proba, err := b.PredictProba(X)
	if err != nil {
		return ModelScore{}, err
	}
	yPred := model.ColumnToVec(pred)

	acc, err := metrics.Accuracy(y, yPred)
	if err != nil {
		return ModelScore{}, err
	}
	auc, err := metrics.AUC(y, model.PositiveProba(proba))
	if err != nil {
		return ModelScore{}, err
	}
	cm, err := metrics.ConfusionMatrix(y, yPred)
	if err != nil {
		return ModelScore{}, err
	}

	plotPath := filepath.Join(p.cfg.Paths.VisualizationsDir, "conf_matrix_"+artifact.Slug(name)+".png")
	if err := visualize.ConfusionMatrix(cm, "Confusion Matrix - "+name, plotPath); err != nil {
		return ModelScore{}, err
	}

	score := ModelScore{
		Name:      name,
		Accuracy:  acc,
		AUC:       auc,
		Confusion: cm,
		Report:    metrics.ReportFromConfusion(cm),
		Samples:   y.Len(),
		PlotPath:  plotPath,
	}
	logger.Info("model evaluated",
		log.AccuracyKey, acc,
		log.AUCKey, auc,
		log.SamplesKey, score.Samples,
		log.PathKey, plotPath,
	)
	p.recorder.SetModelScores(name, acc, auc)
	return score, nil
}

// checkFeatures rejects a bundle trained on different columns than the
// cleaned table now holds.
func checkFeatures(b *artifact.Bundle, features []string) error {
	want := b.Metadata.Features
	if len(want) == 0 {
		return nil
	}
	if len(want) != len(features) {
		return errors.NewDimensionError("pipeline.checkFeatures", len(want), len(features), 1)
	}
	for i := range want {
		if want[i] != features[i] {
			return errors.NewValueError("pipeline.checkFeatures",
				"model "+b.Metadata.Name+" expects feature "+want[i]+" at position "+strconv.Itoa(i)+", data has "+features[i])
		}
	}
	return nil
}

// writeResults writes Model,Accuracy,AUC rows in evaluation order.
func writeResults(path string, scores []ModelScore) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errors.Wrapf(err, "create directory for %s", path)
	}
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrapf(err, "create %s", path)
	}
	w := csv.NewWriter(f)
	records := [][]string{{"Model", "Accuracy", "AUC"}}
	for _, s := range scores {
		records = append(records, []string{s.Name, dataset.FormatValue(s.Accuracy), dataset.FormatValue(s.AUC)})
	}
	if err := w.WriteAll(records); err != nil {
		_ = f.Close()
		return errors.Wrapf(err, "write %s", path)
	}
	return errors.Wrapf(f.Close(), "close %s", path)
}

func renderReport(w io.Writer, res *EvaluateResult) {
	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"Model", "Accuracy", "AUC", "Precision", "Recall", "F1", "Samples"})
	for _, s := range res.Scores {
		table.Append([]string{
			s.Name,
			strconv.FormatFloat(s.Accuracy, 'f', 4, 64),
			strconv.FormatFloat(s.AUC, 'f', 4, 64),
			strconv.FormatFloat(s.Report.Precision, 'f', 4, 64),
			strconv.FormatFloat(s.Report.Recall, 'f', 4, 64),
			strconv.FormatFloat(s.Report.F1, 'f', 4, 64),
			strconv.Itoa(s.Samples),
		})
	}
	table.Render()
}

// ReadResults parses a results CSV written by Evaluate.
func ReadResults(path string) ([]ModelScore, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "open %s", path)
	}
	defer f.Close()
	records, err := csv.NewReader(f).ReadAll()
	if err != nil {
		return nil, errors.Wrapf(err, "parse %s", path)
	}
	if len(records) == 0 {
		return nil, errors.NewSchemaError(path, 1, "", "missing header")
	}
	out := make([]ModelScore, 0, len(records)-1)
	for i, r := range records[1:] {
		if len(r) != 3 {
			return nil, errors.NewSchemaError(path, i+2, "", "expected Model,Accuracy,AUC")
		}
		acc, err := strconv.ParseFloat(r[1], 64)
		if err != nil {
			return nil, errors.NewSchemaError(path, i+2, "Accuracy", err.Error())
		}
		auc, err := strconv.ParseFloat(r[2], 64)
		if err != nil {
			return nil, errors.NewSchemaError(path, i+2, "AUC", err.Error())
		}
		out = append(out, ModelScore{Name: r[0], Accuracy: acc, AUC: auc})
	}
	return out, nil
}
