package scorer

import (
	"sort"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// Algorithm names a training algorithm.
type Algorithm string

const (
	AlgorithmLinear Algorithm = "linear"
	AlgorithmForest Algorithm = "forest"
)

// Valid reports whether a is a known algorithm.
func (a Algorithm) Valid() bool {
	return a == AlgorithmLinear || a == AlgorithmForest
}

// Model is a trained classifier. It is read-only after construction and may be
// shared by concurrent detections.
type Model struct {
	ID              string
	Algorithm       Algorithm
	CreatedAt       time.Time
	TrainingSamples int

	linear *linearModel
	forest *forestModel

	importances domain.FeatureVector
}

// Probability returns the bot probability for fv.
func (m *Model) Probability(fv domain.FeatureVector) float64 {
	switch m.Algorithm {
	case AlgorithmLinear:
		return m.linear.probability(fv)
	case AlgorithmForest:
		return m.forest.probability(fv)
	}
	return 0
}

// Importance is the share of the model's decision attributed to one feature.
type Importance struct {
	Feature string  `json:"feature"`
	Value   float64 `json:"importance"`
}

// FeatureImportance returns per-feature importances summing to 1 (or all zero),
// highest first. Ties keep canonical feature order.
func (m *Model) FeatureImportance() []Importance {
	names := domain.FeatureNames()
	out := make([]Importance, domain.NumFeatures)
	for i := range out {
		out[i] = Importance{Feature: names[i], Value: m.importances[i]}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Value > out[j].Value
	})
	return out
}

// normalize scales v so its entries sum to 1. An all-zero vector stays zero.
func normalize(v domain.FeatureVector) domain.FeatureVector {
	var sum float64
	for _, x := range v {
		sum += x
	}
	if sum <= 0 {
		return domain.FeatureVector{}
	}
	for i := range v {
		v[i] /= sum
	}
	return v
}
