package rtl

import (
	"bytes"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"testing"

	"github.com/goccy/go-graphviz"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

//centroidStub separates the two classes by the nearer class mean. It records what it was trained on.
type centroidStub struct {
	centroids [2][]float64
	fitRows   int
	fitLabels []float64
	fitErr    error
	fitted    bool
}

func (c *centroidStub) Name() string { return "centroid-stub" }

func (c *centroidStub) Fit(x *mat.Dense, y []float64) error {
	if c.fitErr != nil {
		return c.fitErr
	}
	h, w := x.Dims()
	c.fitRows = h
	c.fitLabels = append([]float64(nil), y...)
	counts := [2]float64{}
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
	c.fitted = true
	return nil
}

func (c *centroidStub) Predict(x *mat.Dense) ([]float64, error) {
	if !c.fitted {
		return nil, errors.New("not fitted")
	}
	h, w := x.Dims()
	if w != len(c.centroids[0]) {
		return nil, &DimensionMismatchError{Expected: len(c.centroids[0]), Actual: w}
	}
	scores := make([]float64, h)
	for p := 0; p < h; p++ {
		row := x.RawRowView(p)
		if floats.Distance(row, c.centroids[1], 2) < floats.Distance(row, c.centroids[0], 2) {
			scores[p] = 1
		}
	}
	return scores, nil
}

func stubFactory(made *[]*centroidStub) ClassifierFactory {
	return func() BinaryClassifier {
		stub := &centroidStub{}
		if made != nil {
			*made = append(*made, stub)
		}
		return stub
	}
}

func newTestTree(t *testing.T, factory ClassifierFactory) *Tree {
	t.Helper()
	tree, err := NewTree(factory, WithSeed(7))
	require.NoError(t, err)
	return tree
}

func countNodes(tree *Tree) (leaves, splits int) {
	tree.Walk(func(node Node, _ int) {
		switch node.(type) {
		case *Leaf:
			leaves++
		case *Split:
			splits++
		}
	})
	return
}

func TestNewTreeRejectsNilFactory(t *testing.T) {
	_, err := NewTree(nil)
	require.Error(t, err)
}

func TestFirstPushReturnsNothing(t *testing.T) {
	tree := newTestTree(t, stubFactory(nil))

	label, found, err := tree.Push(mat.NewDense(1, 2, []float64{0.1, 0.2}), "p1", true)
	require.NoError(t, err)
	assert.False(t, found)
	assert.Empty(t, label)
	assert.Equal(t, Stats{Leaves: 1, Splits: 0, Depth: 0, Rows: 1}, tree.Stats())
}

func TestPushScenario(t *testing.T) {
	tree := newTestTree(t, stubFactory(nil))

	_, found, err := tree.Push(mat.NewDense(1, 2, []float64{0.1, 0.2}), "p1", false)
	require.NoError(t, err)
	require.False(t, found)

	label, found, err := tree.Push(mat.NewDense(1, 2, []float64{9.0, 9.0}), "p2", true)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "p1", label)

	root, ok := tree.root.(*Split)
	require.True(t, ok)
	assert.Equal(t, "p1", root.Left.(*Leaf).Label)
	assert.Equal(t, "p2", root.Right.(*Leaf).Label)

	label, found, err = tree.Push(mat.NewDense(1, 2, []float64{8.5, 9.2}), "p3", true)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "p2", label)

	stats := tree.Stats()
	assert.Equal(t, 3, stats.Leaves)
	assert.Equal(t, 2, stats.Splits)
	assert.Equal(t, 2, stats.Depth)

	right, ok := root.Right.(*Split)
	require.True(t, ok, "the right leaf must have been replaced in place")
	assert.Equal(t, "p2", right.Left.(*Leaf).Label)
	assert.Equal(t, "p3", right.Right.(*Leaf).Label)
}

func TestPushWithoutReturnFlag(t *testing.T) {
	tree := newTestTree(t, stubFactory(nil))
	_, _, err := tree.Push(mat.NewDense(1, 1, []float64{0}), "a", false)
	require.NoError(t, err)

	label, found, err := tree.Push(mat.NewDense(1, 1, []float64{5}), "b", false)
	require.NoError(t, err)
	assert.False(t, found)
	assert.Empty(t, label)
	assert.Equal(t, 2, tree.Len())
}

func TestLeafAndSplitCounts(t *testing.T) {
	rng := rand.New(rand.NewSource(11))
	tree := newTestTree(t, stubFactory(nil))

	for n := 1; n <= 40; n++ {
		rows := 1 + rng.Intn(6)
		data := mat.NewDense(rows, 3, nil)
		for p := 0; p < rows; p++ {
			for q := 0; q < 3; q++ {
				data.Set(p, q, float64(n)*10+rng.Float64())
			}
		}
		_, _, err := tree.Push(data, fmt.Sprintf("p%d", n), true)
		require.NoError(t, err)

		leaves, splits := countNodes(tree)
		require.Equal(t, n, leaves)
		require.Equal(t, n-1, splits)
		require.Equal(t, Stats{Leaves: n, Splits: n - 1}, Stats{Leaves: tree.Stats().Leaves, Splits: tree.Stats().Splits})
	}
}

func TestPushedDataRoutesToItsOwnLeaf(t *testing.T) {
	tree := newTestTree(t, stubFactory(nil))
	points := [][]float64{{0, 0}, {10, 10}, {10, -10}, {-10, 10}, {20, 0}, {-3, -7}}

	for ind, point := range points {
		data := mat.NewDense(2, 2, []float64{point[0], point[1], point[0] + 0.5, point[1] - 0.5})
		label := fmt.Sprintf("p%d", ind)
		_, _, err := tree.Push(data, label, false)
		require.NoError(t, err)

		routed, err := tree.Query(data)
		require.NoError(t, err)
		assert.Equal(t, label, routed)
	}
}

func TestQueryDoesNotMutate(t *testing.T) {
	tree := newTestTree(t, stubFactory(nil))

	_, err := tree.Query(mat.NewDense(1, 1, []float64{1}))
	require.ErrorIs(t, err, ErrEmptyTree)

	_, _, err = tree.Push(mat.NewDense(1, 1, []float64{1}), "a", false)
	require.NoError(t, err)
	_, _, err = tree.Push(mat.NewDense(1, 1, []float64{9}), "b", false)
	require.NoError(t, err)

	label, err := tree.Query(mat.NewDense(1, 1, []float64{8}))
	require.NoError(t, err)
	assert.Equal(t, "b", label)
	assert.Equal(t, 2, tree.Stats().Leaves)
}

func TestBalancingKeepsStoredData(t *testing.T) {
	var made []*centroidStub
	tree := newTestTree(t, stubFactory(&made))

	big := mat.NewDense(7, 2, nil)
	for p := 0; p < 7; p++ {
		big.SetRow(p, []float64{float64(p), 0})
	}
	small := mat.NewDense(2, 2, []float64{50, 50, 51, 51})

	_, _, err := tree.Push(big, "big", false)
	require.NoError(t, err)
	_, _, err = tree.Push(small, "small", false)
	require.NoError(t, err)

	require.Len(t, made, 1)
	assert.Equal(t, 4, made[0].fitRows)
	assert.Equal(t, []float64{0, 0, 1, 1}, made[0].fitLabels)

	root := tree.root.(*Split)
	assert.Same(t, big, root.Left.(*Leaf).Data)
	assert.Same(t, small, root.Right.(*Leaf).Data)
	assert.Equal(t, 9, tree.Stats().Rows)
}

func TestFitFailureLeavesTreeUntouched(t *testing.T) {
	fail := false
	tree := newTestTree(t, func() BinaryClassifier {
		if fail {
			return &centroidStub{fitErr: errors.New("singular matrix")}
		}
		return &centroidStub{}
	})

	_, _, err := tree.Push(mat.NewDense(1, 1, []float64{0}), "a", false)
	require.NoError(t, err)
	_, _, err = tree.Push(mat.NewDense(1, 1, []float64{10}), "b", false)
	require.NoError(t, err)
	before := tree.Stats()
	rootBefore := tree.root

	fail = true
	_, _, err = tree.Push(mat.NewDense(1, 1, []float64{11}), "c", true)
	var classifierErr *ClassifierError
	require.ErrorAs(t, err, &classifierErr)
	assert.Equal(t, "fit", classifierErr.Op)
	assert.Equal(t, before, tree.Stats())
	assert.Same(t, rootBefore, tree.root)
	assert.Equal(t, "b", tree.root.(*Split).Right.(*Leaf).Label)
}

func TestDimensionMismatch(t *testing.T) {
	tree := newTestTree(t, stubFactory(nil))
	_, _, err := tree.Push(mat.NewDense(1, 2, []float64{0, 0}), "a", false)
	require.NoError(t, err)

	_, _, err = tree.Push(mat.NewDense(1, 3, []float64{1, 1, 1}), "b", false)
	var mismatch *DimensionMismatchError
	require.ErrorAs(t, err, &mismatch)
	assert.Equal(t, 2, mismatch.Expected)
	assert.Equal(t, 3, mismatch.Actual)
	var classifierErr *ClassifierError
	require.ErrorAs(t, err, &classifierErr)
	assert.Equal(t, 1, tree.Stats().Leaves)

	_, _, err = tree.Push(mat.NewDense(1, 2, []float64{5, 5}), "b", false)
	require.NoError(t, err)

	_, _, err = tree.Push(mat.NewDense(1, 4, []float64{1, 1, 1, 1}), "c", false)
	require.ErrorAs(t, err, &mismatch)
	require.ErrorAs(t, err, &classifierErr)
	assert.Equal(t, "predict", classifierErr.Op)
	assert.Equal(t, Stats{Leaves: 2, Splits: 1, Depth: 1, Rows: 2}, tree.Stats())
}

func TestEmptyInputRejected(t *testing.T) {
	tree := newTestTree(t, stubFactory(nil))

	_, _, err := tree.Push(nil, "a", false)
	require.ErrorIs(t, err, ErrEmptyInput)
	_, _, err = tree.Push(&mat.Dense{}, "a", false)
	require.ErrorIs(t, err, ErrEmptyInput)
	assert.Equal(t, 0, tree.Len())

	_, _, err = tree.Push(mat.NewDense(1, 1, []float64{1}), "a", false)
	require.NoError(t, err)
	_, _, err = tree.Push(&mat.Dense{}, "b", true)
	require.ErrorIs(t, err, ErrEmptyInput)
	assert.Equal(t, 1, tree.Len())
}

type scoreStub struct {
	scores []float64
	err    error
}

func (s *scoreStub) Name() string                        { return "score-stub" }
func (s *scoreStub) Fit(_ *mat.Dense, _ []float64) error { return nil }
func (s *scoreStub) Predict(x *mat.Dense) ([]float64, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.scores[:Height(x)], nil
}

func TestRoutingUsesMeanScore(t *testing.T) {
	split := &Split{Classifier: &scoreStub{scores: []float64{1, 0, 0, 1}}}
	branch, err := split.decide(mat.NewDense(4, 1, nil))
	require.NoError(t, err)
	assert.Equal(t, Right, branch, "a mean of exactly 0.5 goes right")

	split = &Split{Classifier: &scoreStub{scores: []float64{0.2, 0.7, 0.4}}}
	branch, err = split.decide(mat.NewDense(3, 1, nil))
	require.NoError(t, err)
	assert.Equal(t, Left, branch)

	split = &Split{Classifier: &scoreStub{err: errors.New("boom")}}
	_, err = split.decide(mat.NewDense(1, 1, nil))
	var classifierErr *ClassifierError
	require.ErrorAs(t, err, &classifierErr)
	assert.Equal(t, "score-stub", classifierErr.Classifier)
}

func TestSafeTreeSerializesPushes(t *testing.T) {
	tree := newTestTree(t, stubFactory(nil))
	safe := NewSafeTree(tree)

	var wg sync.WaitGroup
	for n := 0; n < 16; n++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			data := mat.NewDense(1, 2, []float64{float64(n), float64(n * n)})
			_, _, err := safe.Push(data, fmt.Sprintf("p%d", n), true)
			assert.NoError(t, err)
		}(n)
	}
	wg.Wait()

	stats := safe.Stats()
	assert.Equal(t, 16, stats.Leaves)
	assert.Equal(t, 15, stats.Splits)
}

func TestRenderSvg(t *testing.T) {
	tree := newTestTree(t, stubFactory(nil))
	_, _, err := tree.Push(mat.NewDense(1, 1, []float64{0}), "first", false)
	require.NoError(t, err)
	_, _, err = tree.Push(mat.NewDense(1, 1, []float64{3}), "second", false)
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, tree.Render(&buf, graphviz.SVG))
	assert.Contains(t, buf.String(), "<svg")
	assert.Contains(t, buf.String(), "second")

	_, err = ParseFormat("gif")
	require.Error(t, err)
}
