package classifiers

import (
	"errors"
	"fmt"

	"github.com/tarstars/recommendation_tree/golang/rectree/rtl"
	"gonum.org/v1/gonum/mat"
)

var (
	// ErrNotFitted is returned by Predict before Fit succeeded.
	ErrNotFitted = errors.New("classifier is not fitted")
	// ErrAlreadyFitted is returned by a second call to Fit.
	ErrAlreadyFitted = errors.New("classifier is already fitted")
	// ErrSingleClass is returned when the training labels contain only one class.
	ErrSingleClass = errors.New("training labels contain a single class")
)

//validateTraining checks the shape and the labels of a training set.
func validateTraining(x *mat.Dense, y []float64, fitted bool) error {
	if fitted {
		return ErrAlreadyFitted
	}
	if err := rtl.CheckMatrix(x); err != nil {
		return err
	}
	h := rtl.Height(x)
	if len(y) != h {
		return fmt.Errorf("got %d labels for %d rows", len(y), h)
	}

	var seen [2]bool
	for ind, label := range y {
		switch label {
		case 0:
			seen[0] = true
		case 1:
			seen[1] = true
		default:
			return fmt.Errorf("label %v at row %d is not binary", label, ind)
		}
	}
	if !seen[0] || !seen[1] {
		return ErrSingleClass
	}
	return nil
}

//validatePredict checks that a fitted classifier of the given width can score x.
func validatePredict(x *mat.Dense, width int, fitted bool) error {
	if !fitted {
		return ErrNotFitted
	}
	if err := rtl.CheckMatrix(x); err != nil {
		return err
	}
	if w := rtl.Width(x); w != width {
		return &rtl.DimensionMismatchError{Expected: width, Actual: w}
	}
	return nil
}
