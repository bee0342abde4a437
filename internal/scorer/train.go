package scorer

import (
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// TrainOptions configures Train. Zero values select defaults.
type TrainOptions struct {
	Algorithm Algorithm `json:"algorithm" yaml:"algorithm"`

	// Linear. Iterations caps the L-BFGS major iterations.
	Iterations int     `json:"iterations" yaml:"iterations"`
	L2         float64 `json:"l2" yaml:"l2"`

	// Forest
	Trees           int     `json:"trees" yaml:"trees"`
	MaxDepth        int     `json:"max_depth" yaml:"max_depth"`
	MinSamplesLeaf  int     `json:"min_samples_leaf" yaml:"min_samples_leaf"`
	FeatureFraction float64 `json:"feature_fraction" yaml:"feature_fraction"`
	Seed            uint64  `json:"seed" yaml:"seed"`
}

// DefaultTrainOptions returns the default options (forest, 50 trees).
func DefaultTrainOptions() TrainOptions {
	return TrainOptions{
		Algorithm:      AlgorithmForest,
		Iterations:     500,
		L2:             0.01,
		Trees:          50,
		MaxDepth:       8,
		MinSamplesLeaf: 1,
		Seed:           42,
	}
}

func (o TrainOptions) withDefaults() TrainOptions {
	d := DefaultTrainOptions()
	if o.Algorithm == "" {
		o.Algorithm = d.Algorithm
	}
	if o.Iterations <= 0 {
		o.Iterations = d.Iterations
	}
	if o.L2 < 0 || math.IsNaN(o.L2) {
		o.L2 = 0
	}
	if o.Trees <= 0 {
		o.Trees = d.Trees
	}
	if o.MaxDepth <= 0 {
		o.MaxDepth = d.MaxDepth
	}
	if o.MinSamplesLeaf <= 0 {
		o.MinSamplesLeaf = d.MinSamplesLeaf
	}
	return o
}

// Train fits a model on labelled vectors. Labels must be 0 (legitimate) or 1
// (bot) and both classes must be present.
func Train(vectors []domain.FeatureVector, labels []int, opts TrainOptions) (*Model, error) {
	opts = opts.withDefaults()
	if !opts.Algorithm.Valid() {
		return nil, &domain.ValidationError{Field: "algorithm", Reason: fmt.Sprintf("unknown algorithm %q", opts.Algorithm)}
	}

	if len(vectors) != len(labels) {
		return nil, &domain.TrainingDataError{Reason: fmt.Sprintf("%d vectors but %d labels", len(vectors), len(labels))}
	}
	if len(vectors) == 0 {
		return nil, &domain.TrainingDataError{Reason: "empty training set"}
	}

	ys := make([]float64, len(labels))
	var positives int
	for i, l := range labels {
		if l != 0 && l != 1 {
			return nil, &domain.TrainingDataError{Reason: fmt.Sprintf("label %d at index %d is not 0 or 1", l, i)}
		}
		ys[i] = float64(l)
		positives += l
	}
	if positives == 0 || positives == len(labels) {
		return nil, &domain.TrainingDataError{Reason: "training set contains a single class"}
	}

	for i, v := range vectors {
		for j, x := range v {
			if math.IsNaN(x) || math.IsInf(x, 0) {
				return nil, &domain.TrainingDataError{Reason: fmt.Sprintf("feature %s of sample %d is not finite", domain.Feature(j), i)}
			}
		}
	}

	m := &Model{
		ID:              uuid.New().String(),
		Algorithm:       opts.Algorithm,
		CreatedAt:       time.Now().UTC(),
		TrainingSamples: len(vectors),
	}

	switch opts.Algorithm {
	case AlgorithmLinear:
		var err error
		m.linear, m.importances, err = trainLinear(vectors, ys, opts)
		if err != nil {
			return nil, err
		}
	case AlgorithmForest:
		m.forest, m.importances = trainForest(vectors, ys, opts)
	}

	return m, nil
}
