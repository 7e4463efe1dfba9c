package model

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/bcpipeline/pkg/errors"
)

// EncodeLabels validates X and y and maps each label to its index in the
// sorted set of classes. Labels must be integral.
func EncodeLabels(op string, X, y mat.Matrix) ([]int, []int, error) {
	if X == nil || y == nil {
		return nil, nil, errors.NewValueError(op, "nil input")
	}
	r, c := X.Dims()
	if r == 0 || c == 0 {
		return nil, nil, errors.Wrap(errors.ErrEmptyData, op)
	}
	yr, _ := y.Dims()
	if yr != r {
		return nil, nil, errors.NewDimensionError(op, r, yr, 0)
	}
	if err := errors.CheckMatrix(op, X, r, c, 0); err != nil {
		return nil, nil, err
	}

	raw := make([]int, r)
	seen := map[int]bool{}
	for i := 0; i < r; i++ {
		v := y.At(i, 0)
		if v != math.Trunc(v) || math.IsInf(v, 0) || math.IsNaN(v) {
			return nil, nil, errors.NewValueError(op, "labels must be integers")
		}
		raw[i] = int(v)
		seen[raw[i]] = true
	}
	classes := make([]int, 0, len(seen))
	for k := range seen {
		classes = append(classes, k)
	}
	sort.Ints(classes)

	pos := make(map[int]int, len(classes))
	for i, k := range classes {
		pos[k] = i
	}
	encoded := make([]int, r)
	for i, v := range raw {
		encoded[i] = pos[v]
	}
	return classes, encoded, nil
}

// ArgmaxClasses turns a probability matrix into an n×1 matrix of labels.
// Ties go to the first (smallest) class.
func ArgmaxClasses(proba mat.Matrix, classes []int) *mat.Dense {
	r, c := proba.Dims()
	out := mat.NewDense(r, 1, nil)
	for i := 0; i < r; i++ {
		best := 0
		for j := 1; j < c; j++ {
			if proba.At(i, j) > proba.At(i, best) {
				best = j
			}
		}
		out.Set(i, 0, float64(classes[best]))
	}
	return out
}

// MeanAccuracy returns the fraction of rows where pred equals y, or 0 when
// the shapes disagree.
func MeanAccuracy(pred, y mat.Matrix) float64 {
	r, _ := pred.Dims()
	yr, _ := y.Dims()
	if r == 0 || r != yr {
		return 0
	}
	correct := 0
	for i := 0; i < r; i++ {
		if pred.At(i, 0) == y.At(i, 0) {
			correct++
		}
	}
	return float64(correct) / float64(r)
}

// IntParam converts a hyperparameter value to int. Whole float64 values are
// accepted since YAML and JSON decode numbers that way.
func IntParam(name string, v interface{}) (int, error) {
	switch n := v.(type) {
	case int:
		return n, nil
	case int64:
		return int(n), nil
	case uint64:
		return int(n), nil
	case float64:
		if n == math.Trunc(n) {
			return int(n), nil
		}
	}
	return 0, errors.NewValidationError(name, "must be an integer", v)
}

// FloatParam converts a hyperparameter value to float64.
func FloatParam(name string, v interface{}) (float64, error) {
	switch n := v.(type) {
	case float64:
		return n, nil
	case int:
		return float64(n), nil
	case int64:
		return float64(n), nil
	}
	return 0, errors.NewValidationError(name, "must be a number", v)
}
