package explain

import (
	"math"
	"sort"
)

// FeatureImportance is the mean absolute SHAP value of one feature.
type FeatureImportance struct {
	Feature string
	Index   int
	MeanAbs float64
}

// Importance ranks features by mean |SHAP value|, largest first. Equal
// scores keep column order.
func (v *Values) Importance() []FeatureImportance {
	rows, cols := v.Values.Dims()
	out := make([]FeatureImportance, cols)
	for j := 0; j < cols; j++ {
		var s float64
		for i := 0; i < rows; i++ {
			s += math.Abs(v.Values.At(i, j))
		}
		name := ""
		if j < len(v.FeatureNames) {
			name = v.FeatureNames[j]
		}
		mean := 0.0
		if rows > 0 {
			mean = s / float64(rows)
		}
		out[j] = FeatureImportance{Feature: name, Index: j, MeanAbs: mean}
	}
	sort.SliceStable(out, func(a, b int) bool { return out[a].MeanAbs > out[b].MeanAbs })
	return out
}

// Order returns the column indices in Importance order.
func Order(ranking []FeatureImportance) []int {
	idx := make([]int, len(ranking))
	for i, r := range ranking {
		idx[i] = r.Index
	}
	return idx
}
