package classifiers

import (
	"gonum.org/v1/gonum/mat"
)

//boostNode is a node of a boosted tree. Nodes are stored in an array. LeftIndex and RightIndex
//are -1 when the node is a leaf, otherwise they contain array indices of children.
//A leaf node contains LeafIndex that is an index of the leaves array.
type boostNode struct {
	FeatureNumber         int
	Threshold             float64
	LeftIndex, RightIndex int
	LeafIndex             int
	NumberOfObjects       int
	CurrentLoss           float64
}

func (node boostNode) isLeaf() bool {
	return node.LeafIndex != -1
}

//boostLeaf holds the weights of the linear model over the extra features of a leaf.
type boostLeaf struct {
	Weights         []float64
	NumberOfObjects int
}

//boostTree is one tree of a booster. The root is the first node.
type boostTree struct {
	Nodes  []boostNode
	Leaves []boostLeaf
}

//boostStage holds what is needed to grow one tree: derivatives of the loss per training row.
type boostStage struct {
	set    *boostSet
	params BoostParams
	der1   []float64
	der2   []float64
}

func (stage *boostStage) gradStats(rows []int) gradStats {
	stats := newGradStats(stage.set.depth())
	for _, row := range rows {
		stats.add(stage.set, row, stage.der1[row], stage.der2[row])
	}
	return stats
}

//buildTree recurrently builds a tree node over rows and returns its index.
func (tree *boostTree) buildTree(stage *boostStage, rows []int, depth int) (int, error) {
	total := stage.gradStats(rows)
	weights, currentLoss, err := total.newton(stage.params.RegLambda)
	if err != nil {
		return -1, err
	}

	nodeId := len(tree.Nodes)
	tree.Nodes = append(tree.Nodes, boostNode{
		LeftIndex:       -1,
		RightIndex:      -1,
		LeafIndex:       -1,
		NumberOfObjects: len(rows),
		CurrentLoss:     currentLoss,
	})

	if depth < stage.params.MaxDepth && len(rows) >= 2*max(stage.params.MinLeafSize, 1) {
		if split := stage.theBestSplit(rows, total, currentLoss); split != nil {
			tree.Nodes[nodeId].FeatureNumber = split.featureIndex
			tree.Nodes[nodeId].Threshold = split.threshold

			leftRows, rightRows := stage.partition(rows, split)
			leftId, err := tree.buildTree(stage, leftRows, depth+1)
			if err != nil {
				return -1, err
			}
			tree.Nodes[nodeId].LeftIndex = leftId

			rightId, err := tree.buildTree(stage, rightRows, depth+1)
			if err != nil {
				return -1, err
			}
			tree.Nodes[nodeId].RightIndex = rightId
			return nodeId, nil
		}
	}

	for ind := range weights {
		weights[ind] *= stage.params.LearningRate
	}
	tree.Nodes[nodeId].LeafIndex = len(tree.Leaves)
	tree.Leaves = append(tree.Leaves, boostLeaf{Weights: weights, NumberOfObjects: len(rows)})
	return nodeId, nil
}

//predictValue walks every row to its leaf and applies the leaf model to the extra features of the row.
func (tree *boostTree) predictValue(features, extra *mat.Dense, prediction []float64) {
	h, d := extra.Dims()
	for p := 0; p < h; p++ {
		ind := 0
		for !tree.Nodes[ind].isLeaf() {
			if features.At(p, tree.Nodes[ind].FeatureNumber) < tree.Nodes[ind].Threshold {
				ind = tree.Nodes[ind].LeftIndex
			} else {
				ind = tree.Nodes[ind].RightIndex
			}
		}
		weights := tree.Leaves[tree.Nodes[ind].LeafIndex].Weights
		s := 0.0
		for q := 0; q < d; q++ {
			s += weights[q] * extra.At(p, q)
		}
		prediction[p] += s
	}
}
