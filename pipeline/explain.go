package pipeline

import (
	"context"
	"encoding/csv"
	"os"
	"path/filepath"
	"strconv"

	"github.com/YuminosukeSato/bcpipeline/artifact"
	"github.com/YuminosukeSato/bcpipeline/explain"
	"github.com/YuminosukeSato/bcpipeline/pkg/errors"
	"github.com/YuminosukeSato/bcpipeline/pkg/log"
	"github.com/YuminosukeSato/bcpipeline/visualize"
)

// Output file names inside the visualizations directory.
const (
	SHAPSummaryFile       = "shap_summary_plot.png"
	SHAPImportancePlot    = "shap_feature_importance.png"
	SHAPImportanceCSVFile = "shap_feature_importance.csv"
)

// ExplainResult holds the SHAP attributions of the explained model.
type ExplainResult struct {
	Model   string
	Values  *explain.Values
	Ranking []explain.FeatureImportance

	SummaryPath    string
	ImportancePath string
	CSVPath        string
}

// Explain computes SHAP values for the configured tree model and writes the
// summary chart, the importance chart and the importance ranking CSV.
func (p *Pipeline) Explain(ctx context.Context) (*ExplainResult, error) {
	var res *ExplainResult
	name := p.cfg.Explanation.Model
	err := p.stage(ctx, errors.StageExplain, func(logger log.Logger) error {
		logger = logger.With(log.ModelNameKey, name)

		b, err := artifact.LoadCurrent(p.cfg.Paths.ModelsDir, name)
		if err != nil {
			return err
		}
		tm, ok := b.Model.(explain.TreeModel)
		if !ok {
			return errors.NewUnsupportedModelError(name, "SHAP values are only computed for tree ensembles")
		}

		t, err := p.loadCleaned(logger)
		if err != nil {
			return err
		}
		rows, err := p.scopeRows(t, logger)
		if err != nil {
			return err
		}
		X, _, features, err := rows.XY(p.schema.LabelColumn)
		if err != nil {
			return err
		}
		if err := checkFeatures(b, features); err != nil {
			return err
		}
		Xt, err := b.Transform(X)
		if err != nil {
			return err
		}

		explainer, err := explain.NewTreeExplainer(tm)
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		vals, err := explainer.Explain(Xt, features)
		if err != nil {
			return err
		}
		ranking := vals.Importance()
		if len(ranking) == 0 {
			return errors.NewValueError("pipeline.Explain", "no features to explain")
		}
		logger.Info("SHAP values computed",
			log.SamplesKey, rows.NumRows(),
			log.FeaturesKey, len(features),
			"base_value", vals.BaseValue,
			"top_feature", ranking[0].Feature,
		)

		dir := p.cfg.Paths.VisualizationsDir
		res = &ExplainResult{
			Model:          name,
			Values:         vals,
			Ranking:        ranking,
			SummaryPath:    filepath.Join(dir, SHAPSummaryFile),
			ImportancePath: filepath.Join(dir, SHAPImportancePlot),
			CSVPath:        filepath.Join(dir, SHAPImportanceCSVFile),
		}
		if err := visualize.SHAPSummary(vals, Xt, res.SummaryPath); err != nil {
			return err
		}
		if err := visualize.FeatureImportance(ranking, res.ImportancePath); err != nil {
			return err
		}
		if err := writeImportance(res.CSVPath, ranking); err != nil {
			return err
		}
		logger.Info("explanations written", log.PathKey, dir)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

// writeImportance writes the ranking, most important feature first.
func writeImportance(path string, ranking []explain.FeatureImportance) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errors.Wrapf(err, "create directory for %s", path)
	}
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrapf(err, "create %s", path)
	}
	w := csv.NewWriter(f)
	records := [][]string{{"Feature", "MeanAbsSHAP"}}
	for _, fi := range ranking {
		records = append(records, []string{fi.Feature, strconv.FormatFloat(fi.MeanAbs, 'g', -1, 64)})
	}
	if err := w.WriteAll(records); err != nil {
		_ = f.Close()
		return errors.Wrapf(err, "write %s", path)
	}
	return errors.Wrapf(f.Close(), "close %s", path)
}
