package rtl

import "gonum.org/v1/gonum/mat"

//BinaryClassifier is the decision function of a Split.
//
//Fit is called at most once, before any Predict, with one label from {0, 1} per row of X.
//Predict returns one score per row; scores may be probabilities or hard 0/1 labels.
//Both return an error (DimensionMismatchError, ErrEmptyInput or any numerical failure)
//instead of panicking on input they cannot process.
type BinaryClassifier interface {
	Name() string
	Fit(X *mat.Dense, y []float64) error
	Predict(X *mat.Dense) ([]float64, error)
}

//ClassifierFactory produces a fresh untrained classifier for every new Split.
type ClassifierFactory func() BinaryClassifier
