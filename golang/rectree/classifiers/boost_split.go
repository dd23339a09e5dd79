package classifiers

import (
	"sort"

	"golang.org/x/sync/errgroup"
)

//bestSplit contains results of the split selection algorithm for one feature.
type bestSplit struct {
	featureIndex int
	threshold    float64
	loss         float64
	validSplit   bool
}

//columnArgsort returns rows ordered by the value of feature q.
func (stage *boostStage) columnArgsort(rows []int, q int) []int {
	order := append([]int(nil), rows...)
	sort.SliceStable(order, func(i, j int) bool {
		return stage.set.features.At(order[i], q) < stage.set.features.At(order[j], q)
	})
	return order
}

//scanForSplit iterates through the thresholds of feature q between distinct values,
//incrementally accumulating the gradient and the hessian of the lower part,
//and selects the threshold with the smallest total loss of both parts.
func (stage *boostStage) scanForSplit(rows []int, q int, total gradStats) (result bestSplit) {
	result.featureIndex = q
	order := stage.columnArgsort(rows, q)
	lower := newGradStats(stage.set.depth())
	minLeaf := max(stage.params.MinLeafSize, 1)
	features := stage.set.features

	for ind := 0; ind < len(order)-1; ind++ {
		row := order[ind]
		lower.add(stage.set, row, stage.der1[row], stage.der2[row])

		current, next := features.At(row, q), features.At(order[ind+1], q)
		if current == next || ind+1 < minLeaf || len(order)-ind-1 < minLeaf {
			continue
		}

		_, lowerLoss, err := lower.newton(stage.params.RegLambda)
		if err != nil {
			continue
		}
		_, upperLoss, err := total.minus(lower).newton(stage.params.RegLambda)
		if err != nil {
			continue
		}

		if loss := lowerLoss + upperLoss; !result.validSplit || loss < result.loss {
			result.validSplit = true
			result.loss = loss
			result.threshold = (current + next) / 2
		}
	}
	return result
}

//theBestSplit finds the best possible split of rows. Features are scanned concurrently.
//It returns nil when no split lowers the loss of the unsplit rows.
func (stage *boostStage) theBestSplit(rows []int, total gradStats, currentLoss float64) *bestSplit {
	width := stage.set.features.RawMatrix().Cols
	result := make([]bestSplit, width)

	var group errgroup.Group
	group.SetLimit(max(stage.params.ThreadsNum, 1))
	for q := 0; q < width; q++ {
		group.Go(func() error {
			result[q] = stage.scanForSplit(rows, q, total)
			return nil
		})
	}
	_ = group.Wait()

	var best *bestSplit
	for ind := range result {
		current := &result[ind]
		if current.validSplit && (best == nil || current.loss < best.loss) {
			best = current
		}
	}
	if best == nil || best.loss >= currentLoss-1e-12 {
		return nil
	}
	return best
}

//partition splits rows by the threshold of a split; lower values go left.
func (stage *boostStage) partition(rows []int, split *bestSplit) (left, right []int) {
	for _, row := range rows {
		if stage.set.features.At(row, split.featureIndex) < split.threshold {
			left = append(left, row)
		} else {
			right = append(right, row)
		}
	}
	return left, right
}
