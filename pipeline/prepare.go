package pipeline

import (
	"context"

	"github.com/YuminosukeSato/bcpipeline/dataset"
	"github.com/YuminosukeSato/bcpipeline/pkg/errors"
	"github.com/YuminosukeSato/bcpipeline/pkg/log"
)

// PrepareResult describes the cleaned table written by Prepare.
type PrepareResult struct {
	Table *dataset.Table
	// Dropped lists the features removed by the correlation filter.
	Dropped     []string
	RowsRead    int
	RowsDropped int
	LabelCounts map[int]int
}

// Prepare loads the raw file, cleans it and writes the cleaned table.
func (p *Pipeline) Prepare(ctx context.Context) (*PrepareResult, error) {
	var res *PrepareResult
	err := p.stage(ctx, errors.StagePrepare, func(logger log.Logger) error {
		raw, err := dataset.LoadRaw(p.cfg.Paths.Raw, p.schema)
		if err != nil {
			return err
		}
		logger.Info("raw data loaded",
			log.PathKey, p.cfg.Paths.Raw,
			log.SamplesKey, raw.NumRows(),
		)

		cleaned, report, err := dataset.Clean(raw, p.schema, dataset.CleanOptions{
			CorrelationThreshold: p.cfg.Preparation.CorrelationThreshold,
			TieBreak:             dataset.TieBreak(p.cfg.Preparation.TieBreak),
		})
		if err != nil {
			return err
		}
		if report.RowsDropped > 0 {
			logger.Info("rows with missing values dropped", log.RowsDroppedKey, report.RowsDropped)
		}
		if len(report.DroppedColumns) > 0 {
			logger.Info("highly correlated features dropped",
				log.ColumnsKey, report.DroppedColumns,
				"threshold", p.cfg.Preparation.CorrelationThreshold,
			)
		}

		if err := dataset.WriteCSV(p.cfg.Paths.Cleaned, cleaned); err != nil {
			return err
		}
		logger.Info("cleaned data written",
			log.PathKey, p.cfg.Paths.Cleaned,
			log.SamplesKey, cleaned.NumRows(),
			log.FeaturesKey, len(cleaned.Columns)-1,
			"benign", report.LabelCounts[0],
			"malignant", report.LabelCounts[1],
		)

		p.recorder.SetRows("read", report.RowsRead)
		p.recorder.SetRows("dropped", report.RowsDropped)
		p.recorder.SetRows("cleaned", cleaned.NumRows())
		p.recorder.SetDroppedFeatures(len(report.DroppedColumns))

		res = &PrepareResult{
			Table:       cleaned,
			Dropped:     report.DroppedColumns,
			RowsRead:    report.RowsRead,
			RowsDropped: report.RowsDropped,
			LabelCounts: report.LabelCounts,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}
