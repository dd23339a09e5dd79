package rtl

import (
	"fmt"
	"math"
	"strings"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

//Branch is one step of a route: the left (class 0) or the right (class 1) child of a Split.
type Branch int

const (
	Left Branch = iota
	Right
)

func (b Branch) String() string {
	if b == Left {
		return "left"
	}
	return "right"
}

//Node is a tree node. It is either a *Leaf or a *Split.
type Node interface {
	isNode()
}

//Leaf owns the feature matrix of one inserted item collection and its label.
//A Leaf is never edited; a split replaces it wholesale.
type Leaf struct {
	Data  *mat.Dense
	Label string
}

//Split owns a trained classifier and exactly two children.
type Split struct {
	Classifier  BinaryClassifier
	Left, Right Node
}

func (*Leaf) isNode()  {}
func (*Split) isNode() {}

//GraphDescription returns the description of a leaf for tree rendering.
func (leaf *Leaf) GraphDescription() string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintln(leaf.Label))
	sb.WriteString(fmt.Sprintf("# %d", Height(leaf.Data)))
	return sb.String()
}

//GraphDescription returns the description of a split for tree rendering.
func (split *Split) GraphDescription() string {
	return split.Classifier.Name()
}

//child returns the slot holding the child on the given side.
func (split *Split) child(branch Branch) *Node {
	if branch == Left {
		return &split.Left
	}
	return &split.Right
}

//decide averages the classifier scores over all rows of data and chooses a side:
//a mean strictly below 0.5 goes left, anything else goes right.
func (split *Split) decide(data *mat.Dense) (Branch, error) {
	scores, err := split.Classifier.Predict(data)
	if err != nil {
		return Left, wrapClassifierError("predict", split.Classifier, err)
	}
	if len(scores) != Height(data) {
		return Left, wrapClassifierError("predict", split.Classifier,
			fmt.Errorf("got %d scores for %d rows", len(scores), Height(data)))
	}

	branch := stat.Mean(scores, nil)
	if math.IsNaN(branch) {
		return Left, wrapClassifierError("predict", split.Classifier, fmt.Errorf("scores average to NaN"))
	}
	if branch < 0.5 {
		return Left, nil
	}
	return Right, nil
}
