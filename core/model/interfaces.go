package model

import (
	"gonum.org/v1/gonum/mat"
)

// Classifier is a fitted-or-fittable classification model.
//
// PredictProba returns an n×k matrix whose columns follow Classes(). For
// the binary problems in this module k is 2 and column 1 is the positive
// class.
type Classifier interface {
	Estimator

	PredictProba(X mat.Matrix) (mat.Matrix, error)

	// Classes returns the sorted labels seen during fitting.
	Classes() []int
}

// ParameterGetter is the interface for models that expose their parameters.
type ParameterGetter interface {
	// GetParams returns the model's hyperparameters keyed by their
	// scikit-learn names.
	GetParams() map[string]interface{}
}

// ParameterSetter is the interface for models that allow parameter
// modification before Fit.
type ParameterSetter interface {
	SetParams(params map[string]interface{}) error
}

// TunableClassifier is a Classifier whose hyperparameters can be searched.
type TunableClassifier interface {
	Classifier
	ParameterGetter
	ParameterSetter
}

// PositiveProba extracts the positive-class column (index 1) of a
// PredictProba result.
func PositiveProba(proba mat.Matrix) *mat.VecDense {
	r, c := proba.Dims()
	out := mat.NewVecDense(r, nil)
	col := 1
	if c < 2 {
		col = 0
	}
	for i := 0; i < r; i++ {
		out.SetVec(i, proba.At(i, col))
	}
	return out
}

// ColumnToVec copies the first column of m into a vector.
func ColumnToVec(m mat.Matrix) *mat.VecDense {
	if v, ok := m.(*mat.VecDense); ok {
		return v
	}
	r, _ := m.Dims()
	out := mat.NewVecDense(r, nil)
	for i := 0; i < r; i++ {
		out.SetVec(i, m.At(i, 0))
	}
	return out
}
