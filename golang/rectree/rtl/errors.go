package rtl

import (
	"errors"
	"fmt"
)

var (
	// ErrEmptyInput is returned for a feature matrix without rows.
	ErrEmptyInput = errors.New("empty feature matrix")

	// ErrEmptyTree is returned when a read-only query reaches a tree without leaves.
	ErrEmptyTree = errors.New("recommendation tree is empty")
)

//DimensionMismatchError reports a feature matrix whose column count differs from the one
//a classifier was trained with (or from the data it is about to be trained against).
type DimensionMismatchError struct {
	Expected int
	Actual   int
}

func (e *DimensionMismatchError) Error() string {
	return fmt.Sprintf("dimension mismatch: expected %d columns, got %d", e.Expected, e.Actual)
}

//ClassifierError wraps every failure surfaced by Fit or Predict of a split classifier.
type ClassifierError struct {
	Op         string
	Classifier string
	Err        error
}

func (e *ClassifierError) Error() string {
	if e.Classifier == "" {
		return fmt.Sprintf("classifier %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("classifier %s %s: %v", e.Classifier, e.Op, e.Err)
}

func (e *ClassifierError) Unwrap() error { return e.Err }

func wrapClassifierError(op string, classifier BinaryClassifier, err error) error {
	var classifierErr *ClassifierError
	if errors.As(err, &classifierErr) {
		return err
	}
	name := ""
	if classifier != nil {
		name = classifier.Name()
	}
	return &ClassifierError{Op: op, Classifier: name, Err: err}
}
