package dataset

import (
	"math"
	"strconv"

	"github.com/YuminosukeSato/bcpipeline/pkg/errors"
)

// CleanOptions controls Clean.
type CleanOptions struct {
	CorrelationThreshold float64
	TieBreak             TieBreak
}

// DefaultCleanOptions drops features correlated above 0.9.
func DefaultCleanOptions() CleanOptions {
	return CleanOptions{CorrelationThreshold: 0.9, TieBreak: TieBreakLabelCorrelation}
}

// CleanReport summarizes what Clean removed.
type CleanReport struct {
	RowsRead       int
	RowsDropped    int
	DroppedColumns []string
	// LabelCounts counts rows per binary target after remapping.
	LabelCounts map[int]int
}

// Clean turns a raw table into a model-ready one: it drops the identifier
// column and every row with a missing value, remaps the class codes to
// {0, 1}, and removes highly correlated features. The label column stays
// last.
func Clean(raw *Table, schema Schema, opts CleanOptions) (*Table, *CleanReport, error) {
	report := &CleanReport{RowsRead: raw.NumRows(), LabelCounts: map[int]int{}}

	t := raw.DropColumns(schema.IDColumn)
	t, report.RowsDropped = t.DropNaNRows()
	if t.NumRows() == 0 {
		return nil, report, errors.Wrap(errors.ErrEmptyData, "every row has a missing value")
	}

	if err := remapLabels(t, schema, report); err != nil {
		return nil, report, err
	}

	dropped, err := CorrelatedFeatures(t, schema.LabelColumn, opts.CorrelationThreshold, opts.TieBreak)
	if err != nil {
		return nil, report, err
	}
	report.DroppedColumns = dropped
	t = t.DropColumns(dropped...)

	if t.HasNaN() {
		return nil, report, errors.NewValueError("dataset.Clean", "NaN left after cleaning")
	}
	out := &Table{Columns: t.Columns, Rows: t.Rows}
	return out, report, nil
}

// remapLabels rewrites the label column in place. Rows are already private
// copies made by DropColumns.
func remapLabels(t *Table, schema Schema, report *CleanReport) error {
	j := t.ColumnIndex(schema.LabelColumn)
	if j < 0 {
		return errors.NewValueError("dataset.Clean", "label column "+schema.LabelColumn+" not found")
	}
	for i, r := range t.Rows {
		v := r[j]
		code := int(v)
		target, ok := schema.LabelMap[code]
		if !ok || float64(code) != v || math.IsInf(v, 0) {
			return errors.NewLabelError(t.line(i), strconv.FormatFloat(v, 'f', -1, 64), schema.AllowedLabels())
		}
		r[j] = float64(target)
		report.LabelCounts[target]++
	}
	return nil
}
