// Package fusion combines the rule verdict and the statistical verdict into a
// final decision.
package fusion

import (
	"errors"
	"fmt"
	"log/slog"
	"math"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// ErrNoVerdict is returned by Combine when neither verdict is present.
var ErrNoVerdict = errors.New("fusion: no verdict to combine")

// weightTolerance is the drift from 1 tolerated before weights are rescaled.
const weightTolerance = 1e-9

// Policy holds normalised fusion weights. A Policy is immutable.
type Policy struct {
	// MLWeight and RuleWeight always sum to 1.
	MLWeight   float64
	RuleWeight float64

	// Threshold at or above which the combined confidence is a bot.
	Threshold float64
}

// Decision is the fused verdict.
type Decision struct {
	IsBot      bool
	Confidence float64
	Method     domain.Method
}

// NewPolicy validates the configured weights and rescales them to sum to 1.
func NewPolicy(cfg domain.FusionConfig) (*Policy, error) {
	for _, f := range []struct {
		name string
		val  float64
	}{
		{"ml_weight", cfg.MLWeight},
		{"rule_weight", cfg.RuleWeight},
	} {
		if math.IsNaN(f.val) || math.IsInf(f.val, 0) || f.val < 0 {
			return nil, &domain.ValidationError{Field: f.name, Reason: fmt.Sprintf("must be a non-negative number, got %v", f.val)}
		}
	}

	total := cfg.MLWeight + cfg.RuleWeight
	if total == 0 {
		return nil, &domain.ValidationError{Field: "ml_weight", Reason: "ml_weight and rule_weight cannot both be 0"}
	}
	if math.IsNaN(cfg.Threshold) || cfg.Threshold < 0 || cfg.Threshold > 1 {
		return nil, &domain.ValidationError{Field: "fusion_threshold", Reason: fmt.Sprintf("must be in [0,1], got %v", cfg.Threshold)}
	}

	p := &Policy{
		MLWeight:   cfg.MLWeight,
		RuleWeight: cfg.RuleWeight,
		Threshold:  cfg.Threshold,
	}

	if math.Abs(total-1) > weightTolerance {
		p.MLWeight = cfg.MLWeight / total
		p.RuleWeight = cfg.RuleWeight / total
		slog.Warn("fusion weights do not sum to 1, renormalising",
			"ml_weight", cfg.MLWeight,
			"rule_weight", cfg.RuleWeight,
			"normalised_ml_weight", p.MLWeight,
			"normalised_rule_weight", p.RuleWeight,
		)
	}

	return p, nil
}

// Combine fuses whichever verdicts are present. With both, the confidence is the
// weighted sum; with one, that verdict passes through unchanged.
func (p *Policy) Combine(rule *domain.RuleVerdict, ml *domain.MLVerdict) (Decision, error) {
	switch {
	case rule != nil && ml != nil:
		conf := clamp01(p.RuleWeight*rule.Confidence + p.MLWeight*ml.Confidence)
		return Decision{
			IsBot:      conf >= p.Threshold,
			Confidence: conf,
			Method:     domain.MethodCombined,
		}, nil
	case rule != nil:
		return Decision{IsBot: rule.IsBot, Confidence: rule.Confidence, Method: domain.MethodRuleOnly}, nil
	case ml != nil:
		return Decision{IsBot: ml.IsBot, Confidence: ml.Confidence, Method: domain.MethodMLOnly}, nil
	default:
		return Decision{}, ErrNoVerdict
	}
}

// clamp01 maps NaN to 0.
func clamp01(v float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	return math.Max(0, math.Min(1, v))
}
