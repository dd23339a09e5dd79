package classifiers

import (
	"errors"
	"fmt"
	"math"

	"github.com/tarstars/recommendation_tree/golang/rectree/rtl"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/optimize"
)

//LogisticParams configures the logistic regression.
type LogisticParams struct {
	Lambda        float64 `koanf:"lambda" json:"lambda" validate:"gte=0"`
	MaxIterations int     `koanf:"max_iterations" json:"max_iterations" validate:"gte=0"`
}

//Logistic is an L2 regularised logistic regression. Predict returns probabilities of class 1.
type Logistic struct {
	params    LogisticParams
	weights   []float64
	intercept float64
	width     int
	fitted    bool
}

//NewLogistic creates an untrained logistic regression.
func NewLogistic(params LogisticParams) *Logistic {
	return &Logistic{params: params}
}

func (l *Logistic) Name() string { return "logistic" }

//Fit minimises the mean logloss plus lambda/2*|w|^2 (the intercept is not penalised) with BFGS.
func (l *Logistic) Fit(x *mat.Dense, y []float64) error {
	if err := validateTraining(x, y, l.fitted); err != nil {
		return err
	}
	h, w := x.Dims()

	problem := optimize.Problem{
		Func: func(beta []float64) float64 {
			z := l.logits(x, beta)
			loss := 0.0
			for p := 0; p < h; p++ {
				loss += softplus(z.AtVec(p)) - y[p]*z.AtVec(p)
			}
			return loss/float64(h) + 0.5*l.params.Lambda*floats.Dot(beta[:w], beta[:w])
		},
		Grad: func(grad, beta []float64) {
			z := l.logits(x, beta)
			residual := mat.NewVecDense(h, nil)
			for p := 0; p < h; p++ {
				residual.SetVec(p, (sigmoid(z.AtVec(p))-y[p])/float64(h))
			}
			gradW := mat.NewVecDense(w, grad[:w])
			gradW.MulVec(x.T(), residual)
			floats.AddScaled(grad[:w], l.params.Lambda, beta[:w])
			grad[w] = mat.Sum(residual)
		},
	}

	settings := &optimize.Settings{MajorIterations: l.params.MaxIterations}
	result, err := optimize.Minimize(problem, make([]float64, w+1), settings, &optimize.BFGS{})
	if result == nil || !finite(result.X) {
		if err == nil {
			err = errors.New("optimizer diverged")
		}
		return fmt.Errorf("logistic fit: %w", err)
	}

	l.weights = append([]float64(nil), result.X[:w]...)
	l.intercept = result.X[w]
	l.width = w
	l.fitted = true
	return nil
}

func (l *Logistic) Predict(x *mat.Dense) ([]float64, error) {
	if err := validatePredict(x, l.width, l.fitted); err != nil {
		return nil, err
	}
	beta := append(append([]float64(nil), l.weights...), l.intercept)
	z := l.logits(x, beta)

	scores := make([]float64, rtl.Height(x))
	for p := range scores {
		scores[p] = sigmoid(z.AtVec(p))
	}
	return scores, nil
}

//logits computes x*w + b where beta = (w..., b).
func (l *Logistic) logits(x *mat.Dense, beta []float64) *mat.VecDense {
	h, w := x.Dims()
	z := mat.NewVecDense(h, nil)
	z.MulVec(x, mat.NewVecDense(w, beta[:w]))
	for p := 0; p < h; p++ {
		z.SetVec(p, z.AtVec(p)+beta[w])
	}
	return z
}

func sigmoid(z float64) float64 {
	if z >= 0 {
		return 1 / (1 + math.Exp(-z))
	}
	e := math.Exp(z)
	return e / (1 + e)
}

//softplus is log(1 + exp(z)) without overflow.
func softplus(z float64) float64 {
	return math.Max(z, 0) + math.Log1p(math.Exp(-math.Abs(z)))
}

func finite(values []float64) bool {
	for _, v := range values {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}
