package fusion

import (
	"errors"
	"math"
	"testing"

	"github.com/opensource-finance/kestrel/internal/domain"
)

func defaultPolicy(t *testing.T) *Policy {
	t.Helper()
	p, err := NewPolicy(domain.FusionConfig{MLWeight: 0.6, RuleWeight: 0.4, Threshold: 0.5})
	if err != nil {
		t.Fatalf("NewPolicy failed: %v", err)
	}
	return p
}

func TestCombine(t *testing.T) {
	p := defaultPolicy(t)

	t.Run("Combined", func(t *testing.T) {
		rule := &domain.RuleVerdict{IsBot: true, Confidence: 2.0 / 3.0, TriggeredRules: []string{"a"}}
		ml := &domain.MLVerdict{IsBot: true, Confidence: 0.85}

		d, err := p.Combine(rule, ml)
		if err != nil {
			t.Fatalf("Combine failed: %v", err)
		}
		want := 0.4*(2.0/3.0) + 0.6*0.85
		if math.Abs(d.Confidence-want) > 1e-12 {
			t.Errorf("expected confidence %.4f, got %.4f", want, d.Confidence)
		}
		if !d.IsBot || d.Method != domain.MethodCombined {
			t.Errorf("unexpected decision %+v", d)
		}
	})

	t.Run("CombinedLegitimate", func(t *testing.T) {
		d, err := p.Combine(&domain.RuleVerdict{}, &domain.MLVerdict{})
		if err != nil {
			t.Fatalf("Combine failed: %v", err)
		}
		if d.IsBot || d.Confidence != 0 {
			t.Errorf("expected legitimate with confidence 0, got %+v", d)
		}
	})

	t.Run("ThresholdInclusive", func(t *testing.T) {
		d, _ := p.Combine(&domain.RuleVerdict{Confidence: 0.5}, &domain.MLVerdict{Confidence: 0.5})
		if !d.IsBot {
			t.Errorf("confidence equal to threshold should be a bot, got %+v", d)
		}
	})

	t.Run("RuleOnly", func(t *testing.T) {
		d, err := p.Combine(&domain.RuleVerdict{IsBot: false, Confidence: 0.3}, nil)
		if err != nil {
			t.Fatalf("Combine failed: %v", err)
		}
		if d.Method != domain.MethodRuleOnly || d.Confidence != 0.3 || d.IsBot {
			t.Errorf("expected rule pass-through, got %+v", d)
		}
	})

	t.Run("MLOnly", func(t *testing.T) {
		d, err := p.Combine(nil, &domain.MLVerdict{IsBot: true, Confidence: 0.9})
		if err != nil {
			t.Fatalf("Combine failed: %v", err)
		}
		if d.Method != domain.MethodMLOnly || d.Confidence != 0.9 || !d.IsBot {
			t.Errorf("expected ml pass-through, got %+v", d)
		}
	})

	t.Run("NaNInputStaysInRange", func(t *testing.T) {
		d, err := p.Combine(&domain.RuleVerdict{Confidence: math.NaN()}, &domain.MLVerdict{Confidence: math.NaN()})
		if err != nil {
			t.Fatalf("Combine failed: %v", err)
		}
		if d.Confidence != 0 || d.IsBot {
			t.Errorf("expected NaN to clamp to 0, got %+v", d)
		}
	})

	t.Run("Nothing", func(t *testing.T) {
		if _, err := p.Combine(nil, nil); !errors.Is(err, ErrNoVerdict) {
			t.Errorf("expected ErrNoVerdict, got %v", err)
		}
	})
}

func TestNewPolicyRenormalises(t *testing.T) {
	p, err := NewPolicy(domain.FusionConfig{MLWeight: 3, RuleWeight: 1, Threshold: 0.5})
	if err != nil {
		t.Fatalf("NewPolicy failed: %v", err)
	}
	if p.MLWeight != 0.75 || p.RuleWeight != 0.25 {
		t.Errorf("expected 0.75/0.25, got %.3f/%.3f", p.MLWeight, p.RuleWeight)
	}

	p, err = NewPolicy(domain.FusionConfig{MLWeight: 0, RuleWeight: 0.2, Threshold: 0.5})
	if err != nil {
		t.Fatalf("NewPolicy failed: %v", err)
	}
	if p.MLWeight != 0 || p.RuleWeight != 1 {
		t.Errorf("expected 0/1, got %.3f/%.3f", p.MLWeight, p.RuleWeight)
	}
}

func TestNewPolicyRejects(t *testing.T) {
	tests := []struct {
		name string
		cfg  domain.FusionConfig
	}{
		{"both zero", domain.FusionConfig{Threshold: 0.5}},
		{"negative", domain.FusionConfig{MLWeight: -0.1, RuleWeight: 1, Threshold: 0.5}},
		{"NaN", domain.FusionConfig{MLWeight: math.NaN(), RuleWeight: 1, Threshold: 0.5}},
		{"threshold above 1", domain.FusionConfig{MLWeight: 0.5, RuleWeight: 0.5, Threshold: 1.2}},
		{"threshold negative", domain.FusionConfig{MLWeight: 0.5, RuleWeight: 0.5, Threshold: -0.1}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewPolicy(tt.cfg); !errors.Is(err, domain.ErrValidation) {
				t.Errorf("expected ErrValidation, got %v", err)
			}
		})
	}
}
