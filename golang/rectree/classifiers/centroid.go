package classifiers

import (
	"github.com/tarstars/recommendation_tree/golang/rectree/rtl"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

//Centroid is a nearest centroid classifier. It scores a row with 1 when the row is strictly
//closer to the mean of class 1 than to the mean of class 0, otherwise with 0.
type Centroid struct {
	centroids [2][]float64
	width     int
	fitted    bool
}

func NewCentroid() *Centroid {
	return &Centroid{}
}

func (c *Centroid) Name() string { return "centroid" }

func (c *Centroid) Fit(x *mat.Dense, y []float64) error {
	if err := validateTraining(x, y, c.fitted); err != nil {
		return err
	}
	h, w := x.Dims()

	var counts [2]float64
	for class := range c.centroids {
		c.centroids[class] = make([]float64, w)
	}
	for p := 0; p < h; p++ {
		class := int(y[p])
		floats.Add(c.centroids[class], x.RawRowView(p))
		counts[class]++
	}
	for class := range c.centroids {
		floats.Scale(1/counts[class], c.centroids[class])
	}

	c.width = w
	c.fitted = true
	return nil
}

func (c *Centroid) Predict(x *mat.Dense) ([]float64, error) {
	if err := validatePredict(x, c.width, c.fitted); err != nil {
		return nil, err
	}
	scores := make([]float64, rtl.Height(x))
	for p := range scores {
		row := x.RawRowView(p)
		if floats.Distance(row, c.centroids[1], 2) < floats.Distance(row, c.centroids[0], 2) {
			scores[p] = 1
		}
	}
	return scores, nil
}
