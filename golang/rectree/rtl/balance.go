package rtl

import (
	"math/rand"
	"sort"

	"gonum.org/v1/gonum/mat"
)

//balance builds the training set of a new split. Both sides are cut to the height of the smaller
//one by sampling rows without replacement from the larger side. Rows of old go first and are
//labelled 0, rows of incoming follow and are labelled 1.
//The inputs are never modified; a side that is not sampled is used as is.
func balance(old, incoming *mat.Dense, rng *rand.Rand) (*mat.Dense, []float64) {
	n := min(Height(old), Height(incoming))

	x := &mat.Dense{}
	x.Stack(sampleRows(old, n, rng), sampleRows(incoming, n, rng))

	y := make([]float64, 2*n)
	for ind := n; ind < 2*n; ind++ {
		y[ind] = 1
	}
	return x, y
}

//sampleRows returns n distinct rows of m in their original order.
func sampleRows(m *mat.Dense, n int, rng *rand.Rand) *mat.Dense {
	h, w := m.Dims()
	if h == n {
		return m
	}

	picked := rng.Perm(h)[:n]
	sort.Ints(picked)

	sample := mat.NewDense(n, w, nil)
	for ind, row := range picked {
		sample.SetRow(ind, m.RawRowView(row))
	}
	return sample
}
