package rtl

import (
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/rs/zerolog"
	"gonum.org/v1/gonum/mat"
)

//Tree is the online binary recommendation tree. Every Push routes the incoming matrix down to a
//leaf and replaces that leaf with a split trained to separate the leaf data from the incoming data.
//
//Tree is not safe for concurrent use; see SafeTree.
type Tree struct {
	root    Node
	factory ClassifierFactory
	rng     *rand.Rand
	logger  zerolog.Logger

	leaves, splits int
}

//Option configures a Tree.
type Option func(*Tree)

//WithRand sets the random source used for class balancing.
func WithRand(rng *rand.Rand) Option {
	return func(tree *Tree) {
		tree.rng = rng
	}
}

//WithSeed seeds the random source used for class balancing.
func WithSeed(seed int64) Option {
	return WithRand(rand.New(rand.NewSource(seed))) //nolint:gosec // sampling, not security
}

//WithLogger sets the logger that receives split events at debug level.
func WithLogger(logger zerolog.Logger) Option {
	return func(tree *Tree) {
		tree.logger = logger
	}
}

//NewTree creates an empty tree whose splits are backed by classifiers made by factory.
func NewTree(factory ClassifierFactory, options ...Option) (*Tree, error) {
	if factory == nil {
		return nil, errors.New("rtl: nil classifier factory")
	}
	tree := &Tree{
		factory: factory,
		logger:  zerolog.Nop(),
	}
	for _, opt := range options {
		opt(tree)
	}
	if tree.rng == nil {
		tree.rng = rand.New(rand.NewSource(time.Now().UnixNano())) //nolint:gosec // sampling, not security
	}
	return tree, nil
}

//Push inserts data under label. The first push only creates the root leaf and returns nothing.
//Every later push routes data to a leaf, remembers that leaf's label, and converts the leaf into
//a split with the old data on the left and the new data on the right. The remembered label is
//returned with found == true when ret is set.
//
//On error the tree is left exactly as it was before the call.
func (tree *Tree) Push(data *mat.Dense, label string, ret bool) (recommended string, found bool, err error) {
	if err := CheckMatrix(data); err != nil {
		return "", false, err
	}

	if tree.root == nil {
		tree.root = &Leaf{Data: data, Label: label}
		tree.leaves = 1
		tree.logger.Debug().Str("label", label).Int("rows", Height(data)).Msg("created root leaf")
		return "", false, nil
	}

	path, leaf, err := tree.route(data)
	if err != nil {
		return "", false, err
	}
	recommended = leaf.Label

	split, err := tree.newSplit(leaf, data, label)
	if err != nil {
		return "", false, err
	}
	*tree.slot(path) = split
	tree.leaves++
	tree.splits++

	tree.logger.Debug().
		Str("label", label).
		Str("sibling", recommended).
		Int("depth", len(path)).
		Str("classifier", split.Classifier.Name()).
		Msg("split leaf")

	if !ret {
		return "", false, nil
	}
	return recommended, true, nil
}

//Query routes data to a leaf without changing the tree and returns the leaf label.
func (tree *Tree) Query(data *mat.Dense) (string, error) {
	if err := CheckMatrix(data); err != nil {
		return "", err
	}
	if tree.root == nil {
		return "", ErrEmptyTree
	}
	_, leaf, err := tree.route(data)
	if err != nil {
		return "", err
	}
	return leaf.Label, nil
}

//route descends from the root, asking every split on the way, and returns the branches taken
//together with the leaf where the descent ended.
func (tree *Tree) route(data *mat.Dense) (path []Branch, leaf *Leaf, err error) {
	current := tree.root
	for {
		switch node := current.(type) {
		case *Leaf:
			return path, node, nil
		case *Split:
			branch, err := node.decide(data)
			if err != nil {
				return nil, nil, err
			}
			path = append(path, branch)
			current = *node.child(branch)
		default:
			return nil, nil, fmt.Errorf("rtl: unexpected node %T", current)
		}
	}
}

//slot walks path from the root and returns the position that holds the node at its end.
func (tree *Tree) slot(path []Branch) *Node {
	slot := &tree.root
	for _, branch := range path {
		slot = (*slot).(*Split).child(branch)
	}
	return slot
}

//newSplit trains a classifier separating the data of leaf (class 0) from data (class 1)
//and wraps both data sets into new leaves under a new split.
func (tree *Tree) newSplit(leaf *Leaf, data *mat.Dense, label string) (*Split, error) {
	classifier := tree.factory()
	if classifier == nil {
		return nil, &ClassifierError{Op: "create", Err: errors.New("factory returned nil")}
	}

	if Width(leaf.Data) != Width(data) {
		return nil, wrapClassifierError("fit", classifier,
			&DimensionMismatchError{Expected: Width(leaf.Data), Actual: Width(data)})
	}

	x, y := balance(leaf.Data, data, tree.rng)
	if err := classifier.Fit(x, y); err != nil {
		return nil, wrapClassifierError("fit", classifier, err)
	}

	return &Split{
		Classifier: classifier,
		Left:       &Leaf{Data: leaf.Data, Label: leaf.Label},
		Right:      &Leaf{Data: data, Label: label},
	}, nil
}

//Stats describes the shape of a tree.
type Stats struct {
	Leaves int `json:"leaves"`
	Splits int `json:"splits"`
	Depth  int `json:"depth"`
	Rows   int `json:"rows"`
}

//Stats counts leaves, splits, stored rows and the depth of the deepest leaf.
func (tree *Tree) Stats() Stats {
	stats := Stats{Leaves: tree.leaves, Splits: tree.splits}
	tree.Walk(func(node Node, depth int) {
		if leaf, ok := node.(*Leaf); ok {
			stats.Rows += Height(leaf.Data)
			stats.Depth = max(stats.Depth, depth)
		}
	})
	return stats
}

//Walk visits every node in pre-order, left before right. The root has depth 0.
func (tree *Tree) Walk(visit func(node Node, depth int)) {
	if tree.root != nil {
		walk(tree.root, 0, visit)
	}
}

func walk(node Node, depth int, visit func(node Node, depth int)) {
	visit(node, depth)
	if split, ok := node.(*Split); ok {
		walk(split.Left, depth+1, visit)
		walk(split.Right, depth+1, visit)
	}
}

//Len returns the number of leaves.
func (tree *Tree) Len() int {
	return tree.leaves
}
