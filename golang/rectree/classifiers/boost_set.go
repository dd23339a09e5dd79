package classifiers

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
	"gorgonia.org/tensor"
)

//boostSet contains the training data of a booster: the features used for splits,
//the extra features that leaf models are linear in, the target,
//and the per-row outer products of the extra features.
type boostSet struct {
	features *mat.Dense
	extra    *mat.Dense
	target   []float64
	outer    *tensor.Dense
}

//designMatrix returns the extra features of x: a column of ones, followed by x itself for linear leaves.
func designMatrix(x *mat.Dense, linearLeaves bool) *mat.Dense {
	h, w := x.Dims()
	d := 1
	if linearLeaves {
		d += w
	}
	extra := mat.NewDense(h, d, nil)
	for p := 0; p < h; p++ {
		extra.Set(p, 0, 1)
		if linearLeaves {
			for q := 0; q < w; q++ {
				extra.Set(p, q+1, x.At(p, q))
			}
		}
	}
	return extra
}

func newBoostSet(x *mat.Dense, y []float64, linearLeaves bool) (*boostSet, error) {
	extra := designMatrix(x, linearLeaves)
	h, d := extra.Dims()

	outer := tensor.New(tensor.WithShape(h, d, d), tensor.Of(tensor.Float64))
	for p := 0; p < h; p++ {
		for q := 0; q < d; q++ {
			for r := 0; r < d; r++ {
				if err := outer.SetAt(extra.At(p, q)*extra.At(p, r), p, q, r); err != nil {
					return nil, fmt.Errorf("fill outer products: %w", err)
				}
			}
		}
	}

	return &boostSet{features: x, extra: extra, target: y, outer: outer}, nil
}

//depth returns the number of extra features.
func (set *boostSet) depth() int {
	_, d := set.extra.Dims()
	return d
}

//outerRow returns the d*d outer product of the extra features of a row in row-major order.
func (set *boostSet) outerRow(row int) []float64 {
	d := set.depth()
	return set.outer.Data().([]float64)[row*d*d : (row+1)*d*d]
}

//gradStats accumulates the gradient and the hessian of the loss with respect to leaf weights.
type gradStats struct {
	grad []float64
	hess []float64
}

func newGradStats(d int) gradStats {
	return gradStats{grad: make([]float64, d), hess: make([]float64, d*d)}
}

func (s gradStats) add(set *boostSet, row int, der1, der2 float64) {
	for q := range s.grad {
		s.grad[q] += der1 * set.extra.At(row, q)
	}
	for ind, v := range set.outerRow(row) {
		s.hess[ind] += der2 * v
	}
}

//minus returns s - other.
func (s gradStats) minus(other gradStats) gradStats {
	result := newGradStats(len(s.grad))
	for ind := range s.grad {
		result.grad[ind] = s.grad[ind] - other.grad[ind]
	}
	for ind := range s.hess {
		result.hess[ind] = s.hess[ind] - other.hess[ind]
	}
	return result
}

//newton returns the optimal leaf weights -(H + lambda*I)^-1 * G and the loss change they give,
//which is never positive.
func (s gradStats) newton(regLambda float64) (weights []float64, deltaLoss float64, err error) {
	d := len(s.grad)
	normHess := mat.NewDense(d, d, append([]float64(nil), s.hess...))
	for q := 0; q < d; q++ {
		normHess.Set(q, q, normHess.At(q, q)+regLambda)
	}
	grad := mat.NewVecDense(d, append([]float64(nil), s.grad...))

	var weight mat.VecDense
	if err := weight.SolveVec(normHess, grad); err != nil {
		return nil, 0, err
	}
	weight.ScaleVec(-1, &weight)

	return weight.RawVector().Data, 0.5 * mat.Dot(grad, &weight), nil
}
