// Package scorer provides the statistical bot scorer. A Scorer runs either a
// fixed heuristic (no trained model available) or a trained Model.
package scorer

import (
	"errors"
	"math"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// Mode identifies which variant a Scorer runs.
type Mode int

const (
	ModeFallback Mode = iota
	ModeTrained
)

func (m Mode) String() string {
	switch m {
	case ModeTrained:
		return "trained"
	default:
		return "fallback"
	}
}

// TrainedThreshold is the bot probability at or above which a trained model
// reports is_bot.
const TrainedThreshold = 0.5

// Scorer produces an MLVerdict from a feature vector. It is immutable and safe
// for concurrent use.
type Scorer struct {
	mode  Mode
	model *Model
}

// NewFallback returns a scorer running the built-in heuristic.
func NewFallback() *Scorer {
	return &Scorer{mode: ModeFallback}
}

// New returns a scorer backed by a trained model.
func New(model *Model) (*Scorer, error) {
	if model == nil {
		return nil, errors.New("scorer: nil model")
	}
	return &Scorer{mode: ModeTrained, model: model}, nil
}

// Mode reports the variant this scorer runs.
func (s *Scorer) Mode() Mode {
	return s.mode
}

// Model returns the trained model, or nil in fallback mode.
func (s *Scorer) Model() *Model {
	return s.model
}

// Score returns the verdict for fv. Confidence is always the bot probability.
func (s *Scorer) Score(fv domain.FeatureVector) domain.MLVerdict {
	if s.mode == ModeFallback {
		return fallbackScore(fv)
	}

	p := clamp01(s.model.Probability(fv))
	return domain.MLVerdict{
		IsBot:      p >= TrainedThreshold,
		Confidence: p,
	}
}

func clamp01(v float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	return math.Max(0, math.Min(1, v))
}
