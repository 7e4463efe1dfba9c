package tree

// Ensemble is an additive view of a tree model: its output for x is
//
//	Base + Scale * sum(t.Predict(x)[Output] for t in Trees)
//
// Random forests expose their averaged class probability this way and
// gradient boosting its raw margin.
type Ensemble struct {
	Trees  []*Tree
	Scale  float64
	Base   float64
	Output int
}

// Predict returns the ensemble output for a single row.
func (e Ensemble) Predict(x []float64) float64 {
	var s float64
	for _, t := range e.Trees {
		s += t.Predict(x)[e.Output]
	}
	return e.Base + e.Scale*s
}
