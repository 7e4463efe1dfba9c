// Package model_selection provides data splitting and hyperparameter search
// for the classifiers in this module.
package model_selection

import (
	"math"
	"math/rand/v2"
	"sort"

	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/bcpipeline/pkg/errors"
)

// KFoldSplitter defines interface for cross-validation splitters
type KFoldSplitter interface {
	Split(X, y mat.Matrix) ([]CVFold, error)
	GetNSplits() int
}

// CVFold represents a single fold in cross-validation
type CVFold struct {
	TrainIndices []int
	TestIndices  []int
}

// StratifiedKFold implements stratified k-fold cross-validation with the
// fold allocation of scikit-learn: each class is cut into contiguous
// blocks whose sizes follow a round-robin deal of the sorted labels.
type StratifiedKFold struct {
	NSplits    int
	Shuffle    bool
	RandomSeed uint64
}

// NewStratifiedKFold creates a new stratified k-fold splitter
func NewStratifiedKFold(nSplits int, shuffle bool, randomSeed uint64) *StratifiedKFold {
	if nSplits < 2 {
		nSplits = 5
	}
	return &StratifiedKFold{
		NSplits:    nSplits,
		Shuffle:    shuffle,
		RandomSeed: randomSeed,
	}
}

// GetNSplits returns the number of splits
func (skf *StratifiedKFold) GetNSplits() int {
	return skf.NSplits
}

// Split generates stratified train/test indices for each fold. Every class
// must have at least NSplits members.
func (skf *StratifiedKFold) Split(X, y mat.Matrix) ([]CVFold, error) {
	nSamples, _ := X.Dims()
	if yr, _ := y.Dims(); yr != nSamples {
		return nil, errors.NewDimensionError("StratifiedKFold.Split", nSamples, yr, 0)
	}

	labels := make([]float64, nSamples)
	for i := range labels {
		labels[i] = y.At(i, 0)
	}
	classes := sortedUnique(labels)
	classPos := make(map[float64]int, len(classes))
	for k, c := range classes {
		classPos[c] = k
	}

	// Group indices by class, in original order
	classIndices := make([][]int, len(classes))
	for i, v := range labels {
		k := classPos[v]
		classIndices[k] = append(classIndices[k], i)
	}
	for _, idx := range classIndices {
		if len(idx) < skf.NSplits {
			return nil, errors.NewValueError("StratifiedKFold.Split",
				"n_splits cannot be greater than the number of members in each class")
		}
	}

	if skf.Shuffle {
		r := rand.New(rand.NewPCG(skf.RandomSeed, skf.RandomSeed))
		for _, indices := range classIndices {
			r.Shuffle(len(indices), func(i, j int) {
				indices[i], indices[j] = indices[j], indices[i]
			})
		}
	}

	// allocation[f][k]: members of class k in fold f, from dealing the
	// sorted label sequence round-robin over the folds
	ordered := make([]int, 0, nSamples)
	for k, idx := range classIndices {
		for range idx {
			ordered = append(ordered, k)
		}
	}
	allocation := make([][]int, skf.NSplits)
	for f := range allocation {
		allocation[f] = make([]int, len(classes))
		for i := f; i < len(ordered); i += skf.NSplits {
			allocation[f][ordered[i]]++
		}
	}

	testFold := make([]int, nSamples)
	for k, indices := range classIndices {
		pos := 0
		for f := 0; f < skf.NSplits; f++ {
			for c := 0; c < allocation[f][k]; c++ {
				testFold[indices[pos]] = f
				pos++
			}
		}
	}

	folds := make([]CVFold, skf.NSplits)
	for i := 0; i < nSamples; i++ {
		for f := range folds {
			if testFold[i] == f {
				folds[f].TestIndices = append(folds[f].TestIndices, i)
			} else {
				folds[f].TrainIndices = append(folds[f].TrainIndices, i)
			}
		}
	}
	return folds, nil
}

func sortedUnique(v []float64) []float64 {
	seen := make(map[float64]bool)
	out := make([]float64, 0)
	for _, x := range v {
		if !seen[x] {
			seen[x] = true
			out = append(out, x)
		}
	}
	sort.Float64s(out)
	return out
}

// CVResult stores cross-validation scores for one parameter candidate
type CVResult struct {
	Params     map[string]interface{}
	TestScores []float64
	// Err holds the first fold failure; a failed candidate scores NaN.
	Err error
}

// GetMeanScore returns mean test score
func (cv *CVResult) GetMeanScore() float64 {
	if len(cv.TestScores) == 0 || cv.Err != nil {
		return math.NaN()
	}

	sum := 0.0
	for _, score := range cv.TestScores {
		sum += score
	}
	return sum / float64(len(cv.TestScores))
}

// GetStdScore returns the population standard deviation of test scores, as
// reported in scikit-learn's cv_results_.
func (cv *CVResult) GetStdScore() float64 {
	if len(cv.TestScores) == 0 || cv.Err != nil {
		return math.NaN()
	}

	mean := cv.GetMeanScore()
	sumSq := 0.0
	for _, score := range cv.TestScores {
		diff := score - mean
		sumSq += diff * diff
	}
	return math.Sqrt(sumSq / float64(len(cv.TestScores)))
}

// extractSubset copies the rows of X and y named by indices, keeping their
// order.
func extractSubset(X, y mat.Matrix, indices []int) (*mat.Dense, *mat.Dense) {
	rows := len(indices)
	_, xCols := X.Dims()

	xSubset := mat.NewDense(rows, xCols, nil)
	ySubset := mat.NewDense(rows, 1, nil)
	row := make([]float64, xCols)
	for i, idx := range indices {
		mat.Row(row, idx, X)
		xSubset.SetRow(i, row)
		ySubset.Set(i, 0, y.At(idx, 0))
	}

	return xSubset, ySubset
}
