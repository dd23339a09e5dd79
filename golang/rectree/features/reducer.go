package features

import (
	"errors"
	"fmt"

	"github.com/tarstars/recommendation_tree/golang/rectree/rtl"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

// Reducer projects rows onto the leading principal components of a training matrix.
type Reducer struct {
	mean       []float64
	components *mat.Dense // k x d, one component per row
}

// FitReducer computes the first k principal components of m.
func FitReducer(m *mat.Dense, k int) (*Reducer, error) {
	if err := rtl.CheckMatrix(m); err != nil {
		return nil, err
	}
	h, w := m.Dims()
	if k < 1 || k > min(h, w) {
		return nil, fmt.Errorf("cannot keep %d components of a %dx%d matrix", k, h, w)
	}

	var pc stat.PC
	if ok := pc.PrincipalComponents(m, nil); !ok {
		return nil, errors.New("principal component analysis failed")
	}
	var vectors mat.Dense
	pc.VectorsTo(&vectors)

	mean := make([]float64, w)
	column := make([]float64, h)
	for q := range mean {
		mat.Col(column, q, m)
		mean[q] = stat.Mean(column, nil)
	}

	components := mat.DenseCopyOf(vectors.Slice(0, w, 0, k).T())
	return &Reducer{mean: mean, components: components}, nil
}

// Components returns the number of output columns.
func (r *Reducer) Components() int {
	return rtl.Height(r.components)
}

// Width returns the number of input columns.
func (r *Reducer) Width() int {
	return len(r.mean)
}

// Transform centres m by the training mean and projects it on the components.
func (r *Reducer) Transform(m *mat.Dense) (*mat.Dense, error) {
	if err := rtl.CheckMatrix(m); err != nil {
		return nil, err
	}
	h, w := m.Dims()
	if w != r.Width() {
		return nil, &rtl.DimensionMismatchError{Expected: r.Width(), Actual: w}
	}

	centred := mat.NewDense(h, w, nil)
	centred.Apply(func(i, j int, v float64) float64 {
		return v - r.mean[j]
	}, m)

	var result mat.Dense
	result.Mul(centred, r.components.T())
	return &result, nil
}

// Save writes the reducer as one npy matrix: the mean row followed by the component rows.
func (r *Reducer) Save(fileName string) error {
	k, w := r.components.Dims()
	packed := mat.NewDense(k+1, w, nil)
	packed.SetRow(0, r.mean)
	packed.Slice(1, k+1, 0, w).(*mat.Dense).Copy(r.components)
	return rtl.WriteNpy(fileName, packed)
}

// LoadReducer reads a reducer written by Save.
func LoadReducer(fileName string) (*Reducer, error) {
	packed, err := rtl.ReadNpy(fileName)
	if err != nil {
		return nil, err
	}
	h, w := packed.Dims()
	if h < 2 {
		return nil, fmt.Errorf("reducer file %s holds %d rows, need at least 2", fileName, h)
	}
	return &Reducer{
		mean:       mat.Row(nil, 0, packed),
		components: mat.DenseCopyOf(packed.Slice(1, h, 0, w)),
	}, nil
}
