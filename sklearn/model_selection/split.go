package model_selection

import (
	"math"
	"math/rand/v2"
	"sort"

	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/bcpipeline/pkg/errors"
)

// TrainTestSplit returns stratified train and test row indices for the
// labels in y.
//
// The test partition holds ceil(testSize*n) rows. Each class contributes
// rows in proportion to its frequency; rows left over after flooring go to
// the classes with the largest remainders (ties to the smaller label). Rows
// inside a class are drawn after a PCG shuffle seeded by seed, so the same
// labels and seed always give the same split. Both slices are sorted.
func TrainTestSplit(y mat.Vector, testSize float64, seed uint64) (train, test []int, err error) {
	if testSize <= 0 || testSize >= 1 {
		return nil, nil, errors.NewValidationError("test_size", "must be in (0, 1)", testSize)
	}
	n := y.Len()
	nTest := int(math.Ceil(testSize * float64(n)))
	nTrain := n - nTest
	if nTest < 1 || nTrain < 1 {
		return nil, nil, errors.NewValueError("TrainTestSplit",
			"test_size leaves an empty train or test partition")
	}

	labels := make([]float64, n)
	for i := range labels {
		labels[i] = y.AtVec(i)
	}
	classes := sortedUnique(labels)
	if len(classes) < 2 {
		return nil, nil, errors.NewValueError("TrainTestSplit",
			"the least populated class has too few members to stratify")
	}
	classPos := make(map[float64]int, len(classes))
	for k, c := range classes {
		classPos[c] = k
	}
	members := make([][]int, len(classes))
	for i, v := range labels {
		k := classPos[v]
		members[k] = append(members[k], i)
	}
	for _, m := range members {
		if len(m) < 2 {
			return nil, nil, errors.NewValueError("TrainTestSplit",
				"the least populated class has too few members to stratify")
		}
	}

	alloc := allocate(members, nTest, n)

	r := rand.New(rand.NewPCG(seed, seed))
	for k, m := range members {
		idx := append([]int(nil), m...)
		r.Shuffle(len(idx), func(i, j int) { idx[i], idx[j] = idx[j], idx[i] })
		test = append(test, idx[:alloc[k]]...)
		train = append(train, idx[alloc[k]:]...)
	}
	sort.Ints(train)
	sort.Ints(test)
	return train, test, nil
}

// allocate distributes total draws over the classes by largest remainder.
func allocate(members [][]int, total, n int) []int {
	alloc := make([]int, len(members))
	rem := make([]float64, len(members))
	used := 0
	for k, m := range members {
		exact := float64(len(m)) * float64(total) / float64(n)
		alloc[k] = int(math.Floor(exact))
		rem[k] = exact - float64(alloc[k])
		used += alloc[k]
	}
	order := make([]int, len(members))
	for k := range order {
		order[k] = k
	}
	sort.SliceStable(order, func(a, b int) bool { return rem[order[a]] > rem[order[b]] })
	for i := 0; used < total; i++ {
		k := order[i%len(order)]
		if alloc[k] < len(members[k]) {
			alloc[k]++
			used++
		}
	}
	return alloc
}
