package classifiers

import (
	"math"

	"github.com/rs/zerolog/log"
	"github.com/tarstars/recommendation_tree/golang/rectree/rtl"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

//BoostParams collect arguments required to construct a booster.
type BoostParams struct {
	NStages      int     `koanf:"n_stages" json:"n_stages" validate:"gte=1"`
	MaxDepth     int     `koanf:"max_depth" json:"max_depth" validate:"gte=0"`
	LearningRate float64 `koanf:"learning_rate" json:"learning_rate" validate:"gt=0"`
	RegLambda    float64 `koanf:"reg_lambda" json:"reg_lambda" validate:"gt=0"`
	MinLeafSize  int     `koanf:"min_leaf_size" json:"min_leaf_size" validate:"gte=1"`
	LinearLeaves bool    `koanf:"linear_leaves" json:"linear_leaves"`
	ThreadsNum   int     `koanf:"threads_num" json:"threads_num" validate:"gte=1"`
}

//Booster is a gradient boosted ensemble of trees over the logloss.
//With LinearLeaves every leaf holds a linear model over the features instead of a constant.
type Booster struct {
	params        BoostParams
	trees         []boostTree
	bias          float64
	learningCurve []float64
	width         int
	fitted        bool
}

//NewBooster creates an untrained booster.
func NewBooster(params BoostParams) *Booster {
	return &Booster{params: params}
}

func (b *Booster) Name() string { return "boost" }

//Fit trains NStages trees, each one a Newton step from the sum of the previous ones.
func (b *Booster) Fit(x *mat.Dense, y []float64) error {
	if err := validateTraining(x, y, b.fitted); err != nil {
		return err
	}
	set, err := newBoostSet(x, y, b.params.LinearLeaves)
	if err != nil {
		return err
	}
	h, w := x.Dims()

	prior := math.Min(math.Max(stat.Mean(y, nil), 1e-6), 1-1e-6)
	bias := math.Log(prior / (1 - prior))
	logits := make([]float64, h)
	for p := range logits {
		logits[p] = bias
	}

	rows := make([]int, h)
	for p := range rows {
		rows[p] = p
	}

	trees := make([]boostTree, 0, b.params.NStages)
	curve := make([]float64, 0, b.params.NStages)
	for stageInd := 0; stageInd < b.params.NStages; stageInd++ {
		stage := &boostStage{
			set:    set,
			params: b.params,
			der1:   make([]float64, h),
			der2:   make([]float64, h),
		}
		for p := 0; p < h; p++ {
			stage.der1[p] = lossDer1(y[p], logits[p])
			stage.der2[p] = lossDer2(logits[p])
		}

		var tree boostTree
		if _, err := tree.buildTree(stage, rows, 0); err != nil {
			return err
		}
		tree.predictValue(set.features, set.extra, logits)
		trees = append(trees, tree)

		loss := logloss(y, logits)
		curve = append(curve, loss)
		log.Debug().Int("stage", stageInd).Float64("logloss", loss).Int("leaves", len(tree.Leaves)).Msg("boost stage")
	}

	b.trees = trees
	b.bias = bias
	b.learningCurve = curve
	b.width = w
	b.fitted = true
	return nil
}

func (b *Booster) Predict(x *mat.Dense) ([]float64, error) {
	if err := validatePredict(x, b.width, b.fitted); err != nil {
		return nil, err
	}
	extra := designMatrix(x, b.params.LinearLeaves)

	scores := make([]float64, rtl.Height(x))
	for p := range scores {
		scores[p] = b.bias
	}
	for ind := range b.trees {
		b.trees[ind].predictValue(x, extra, scores)
	}
	for p := range scores {
		scores[p] = sigmoid(scores[p])
	}
	return scores, nil
}

//LearningCurve returns the training logloss after every stage.
func (b *Booster) LearningCurve() []float64 {
	return append([]float64(nil), b.learningCurve...)
}

//lossDer1 is the derivative of the logloss by the logit.
func lossDer1(target, logit float64) float64 {
	return sigmoid(logit) - target
}

//lossDer2 is the second derivative of the logloss by the logit, bounded away from zero.
func lossDer2(logit float64) float64 {
	p := sigmoid(logit)
	return math.Max(p*(1-p), 1e-6)
}

func logloss(target, logits []float64) float64 {
	s := 0.0
	for p := range target {
		s += softplus(logits[p]) - target[p]*logits[p]
	}
	return s / float64(len(target))
}
