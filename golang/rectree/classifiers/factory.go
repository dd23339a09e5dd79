package classifiers

import (
	"fmt"
	"runtime"

	"github.com/tarstars/recommendation_tree/golang/rectree/rtl"
)

const (
	KindLogistic = "logistic"
	KindCentroid = "centroid"
	KindBoost    = "boost"
)

//Config selects the classifier kind that a tree uses for its splits.
type Config struct {
	Kind     string         `koanf:"kind" json:"kind" validate:"oneof=logistic centroid boost"`
	Logistic LogisticParams `koanf:"logistic" json:"logistic"`
	Boost    BoostParams    `koanf:"boost" json:"boost"`
}

func DefaultConfig() Config {
	return Config{
		Kind: KindLogistic,
		Logistic: LogisticParams{
			Lambda:        1e-2,
			MaxIterations: 200,
		},
		Boost: BoostParams{
			NStages:      20,
			MaxDepth:     3,
			LearningRate: 0.3,
			RegLambda:    1,
			MinLeafSize:  1,
			ThreadsNum:   runtime.NumCPU(),
		},
	}
}

//NewFactory returns a factory of untrained classifiers of the configured kind.
func NewFactory(cfg Config) (rtl.ClassifierFactory, error) {
	switch cfg.Kind {
	case KindLogistic:
		params := cfg.Logistic
		return func() rtl.BinaryClassifier { return NewLogistic(params) }, nil
	case KindCentroid:
		return func() rtl.BinaryClassifier { return NewCentroid() }, nil
	case KindBoost:
		params := cfg.Boost
		return func() rtl.BinaryClassifier { return NewBooster(params) }, nil
	default:
		return nil, fmt.Errorf("unknown classifier kind %q", cfg.Kind)
	}
}
