package dataset

import (
	"math"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"github.com/YuminosukeSato/bcpipeline/pkg/errors"
)

// TieBreak selects which member of a highly correlated feature pair is
// removed.
type TieBreak string

const (
	// TieBreakLabelCorrelation removes the member less correlated with the
	// label; on equal label correlation the later column goes.
	TieBreakLabelCorrelation TieBreak = "label_correlation"
	// TieBreakPosition always removes the later column.
	TieBreakPosition TieBreak = "position"
)

// Valid reports whether tb is a known policy.
func (tb TieBreak) Valid() bool {
	return tb == TieBreakLabelCorrelation || tb == TieBreakPosition
}

// CorrelationMatrix returns the Pearson correlation of every pair of
// columns. Constant columns produce NaN entries.
func CorrelationMatrix(t *Table) *mat.SymDense {
	var c mat.SymDense
	stat.CorrelationMatrix(&c, t.Dense(), nil)
	return &c
}

// CorrelatedFeatures returns the feature columns to drop so that no two
// remaining features have |r| > threshold. Pairs involving the label are
// never considered, so the label is never returned. Removals are collected
// over all pairs before anything is dropped; the result is in column order.
func CorrelatedFeatures(t *Table, label string, threshold float64, tb TieBreak) ([]string, error) {
	if threshold <= 0 || threshold > 1 {
		return nil, errors.NewValidationError("correlation_threshold", "must be in (0, 1]", threshold)
	}
	if !tb.Valid() {
		return nil, errors.NewValidationError("tie_break", "must be label_correlation or position", string(tb))
	}
	labelIdx := t.ColumnIndex(label)
	if labelIdx < 0 {
		return nil, errors.NewValueError("dataset.CorrelatedFeatures", "label column "+label+" not found")
	}
	if len(t.Rows) < 2 {
		return nil, nil
	}

	corr := CorrelationMatrix(t)
	labelCorr := func(j int) float64 {
		r := math.Abs(corr.At(j, labelIdx))
		if math.IsNaN(r) {
			return 0
		}
		return r
	}

	removed := make([]bool, len(t.Columns))
	for i := range t.Columns {
		if i == labelIdx {
			continue
		}
		for j := 0; j < i; j++ {
			if j == labelIdx {
				continue
			}
			r := math.Abs(corr.At(i, j))
			if math.IsNaN(r) || r <= threshold {
				continue
			}
			victim := i
			if tb == TieBreakLabelCorrelation && labelCorr(i) > labelCorr(j) {
				victim = j
			}
			removed[victim] = true
		}
	}

	var out []string
	for j, c := range t.Columns {
		if removed[j] {
			out = append(out, c)
		}
	}
	return out, nil
}
