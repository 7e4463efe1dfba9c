package model

import "gonum.org/v1/gonum/mat"

// Fitter は学習可能なモデルのインターフェース
type Fitter interface {
	// Fit trains the model. y is an n×1 column of labels.
	Fit(X, y mat.Matrix) error
}

// Predictor は予測可能なモデルのインターフェース
type Predictor interface {
	// Predict returns an n×1 column of hard labels.
	Predict(X mat.Matrix) (mat.Matrix, error)
}

// Estimator is a fittable model that can report whether it has been fitted.
type Estimator interface {
	Fitter
	Predictor
	IsFitted() bool
}
