package rules

import (
	"errors"
	"math"
	"reflect"
	"testing"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// legitVector is a profile no built-in rule should flag.
func legitVector() domain.FeatureVector {
	var fv domain.FeatureVector
	fv[domain.FeatureAccountAgeDays] = 365
	fv[domain.FeatureHasProfileImage] = 1
	fv[domain.FeatureHasBio] = 1
	fv[domain.FeatureBioLength] = 50
	fv[domain.FeatureHasVerifiedBadge] = 1
	fv[domain.FeatureUsernameLength] = 9
	fv[domain.FeatureFollowerCount] = 450
	fv[domain.FeatureFollowingCount] = 320
	fv[domain.FeatureFollowerFollowingRatio] = 1.4
	fv[domain.FeaturePostFollowerRatio] = 0.55
	fv[domain.FeatureAvgPostLength] = 80
	fv[domain.FeaturePostFrequency] = 0.7
	fv[domain.FeatureDuplicateContentRatio] = 0
	fv[domain.FeatureURLRatio] = 0.2
	fv[domain.FeatureHashtagRatio] = 0.3
	fv[domain.FeatureAvgReplyTime] = 120
	fv[domain.FeatureInteractionDiversity] = 0.8
	return fv
}

func newDefaultEngine(t *testing.T) *Engine {
	t.Helper()
	engine, err := NewEngine(domain.DefaultRuleConfig(), domain.DefaultRules())
	if err != nil {
		t.Fatalf("failed to create engine: %v", err)
	}
	return engine
}

func TestEngineCreation(t *testing.T) {
	engine := newDefaultEngine(t)

	if engine.RulesCount() != len(domain.DefaultRules()) {
		t.Errorf("expected %d rules, got %d", len(domain.DefaultRules()), engine.RulesCount())
	}
}

func TestLegitimateAccountTriggersNothing(t *testing.T) {
	engine := newDefaultEngine(t)

	verdict := engine.Evaluate(legitVector())

	if len(verdict.TriggeredRules) != 0 {
		t.Errorf("expected no triggered rules, got %v", verdict.TriggeredRules)
	}
	if verdict.Confidence != 0 {
		t.Errorf("expected confidence 0, got %.2f", verdict.Confidence)
	}
	if verdict.IsBot {
		t.Error("expected is_bot=false")
	}
}

func TestNewHighActivityAccount(t *testing.T) {
	engine := newDefaultEngine(t)

	fv := legitVector()
	fv[domain.FeatureAccountAgeDays] = 2
	fv[domain.FeaturePostFrequency] = 250
	fv[domain.FeatureFollowerFollowingRatio] = 3.0 / 900
	fv[domain.FeatureHasProfileImage] = 0
	fv[domain.FeatureHasBio] = 0
	fv[domain.FeatureBioLength] = 0

	verdict := engine.Evaluate(fv)

	want := []string{"new_account_high_activity", "poor_follower_ratio", "missing_profile_elements", "excessive_posting"}
	if !reflect.DeepEqual(verdict.TriggeredRules, want) {
		t.Errorf("expected %v, got %v", want, verdict.TriggeredRules)
	}
	if verdict.Confidence <= 0.6 {
		t.Errorf("expected confidence > 0.6, got %.3f", verdict.Confidence)
	}
	if !verdict.IsBot {
		t.Error("expected is_bot=true")
	}
}

func TestEveryBuiltinFamily(t *testing.T) {
	engine := newDefaultEngine(t)

	tests := []struct {
		rule   string
		mutate func(*domain.FeatureVector)
	}{
		{"poor_follower_ratio", func(fv *domain.FeatureVector) { fv[domain.FeatureFollowerFollowingRatio] = 0.05 }},
		{"missing_profile_elements", func(fv *domain.FeatureVector) { fv[domain.FeatureBioLength] = 4 }},
		{"random_username", func(fv *domain.FeatureVector) { fv[domain.FeatureUsernameRandomPattern] = 1 }},
		{"excessive_posting", func(fv *domain.FeatureVector) { fv[domain.FeaturePostFrequency] = 51 }},
		{"duplicate_content", func(fv *domain.FeatureVector) { fv[domain.FeatureDuplicateContentRatio] = 0.9 }},
		{"url_spam", func(fv *domain.FeatureVector) { fv[domain.FeatureURLRatio] = 0.95 }},
		{"fast_reply_time", func(fv *domain.FeatureVector) { fv[domain.FeatureAvgReplyTime] = 2 }},
		{"low_interaction_diversity", func(fv *domain.FeatureVector) { fv[domain.FeatureInteractionDiversity] = 0.05 }},
	}

	for _, tt := range tests {
		t.Run(tt.rule, func(t *testing.T) {
			fv := legitVector()
			tt.mutate(&fv)

			verdict := engine.Evaluate(fv)
			if len(verdict.TriggeredRules) != 1 || verdict.TriggeredRules[0] != tt.rule {
				t.Errorf("expected only %s, got %v", tt.rule, verdict.TriggeredRules)
			}
		})
	}
}

func TestFastReplyIgnoresZero(t *testing.T) {
	engine := newDefaultEngine(t)

	fv := legitVector()
	fv[domain.FeatureAvgReplyTime] = 0

	if verdict := engine.Evaluate(fv); len(verdict.TriggeredRules) != 0 {
		t.Errorf("zero reply time should not trigger, got %v", verdict.TriggeredRules)
	}
}

func TestConfidenceIsWeightNormalized(t *testing.T) {
	table := []domain.Rule{
		{ID: "a", Kind: domain.KindRandomUsername, Weight: 1},
		{ID: "b", Kind: domain.KindURLSpam, Weight: 3},
	}
	engine, err := NewEngine(domain.DefaultRuleConfig(), table)
	if err != nil {
		t.Fatalf("failed to create engine: %v", err)
	}

	fv := legitVector()
	fv[domain.FeatureUsernameRandomPattern] = 1

	verdict := engine.Evaluate(fv)
	if verdict.Confidence != 0.25 {
		t.Errorf("expected confidence 0.25, got %.3f", verdict.Confidence)
	}
	if verdict.IsBot {
		t.Error("0.25 is below the default threshold")
	}
}

func TestTriggeredOrderFollowsTable(t *testing.T) {
	table := []domain.Rule{
		{ID: "urls", Kind: domain.KindURLSpam, Weight: 1},
		{ID: "random", Kind: domain.KindRandomUsername, Weight: 1},
	}
	engine, err := NewEngine(domain.DefaultRuleConfig(), table)
	if err != nil {
		t.Fatalf("failed to create engine: %v", err)
	}

	fv := legitVector()
	fv[domain.FeatureUsernameRandomPattern] = 1
	fv[domain.FeatureURLRatio] = 1

	verdict := engine.Evaluate(fv)
	if !reflect.DeepEqual(verdict.TriggeredRules, []string{"urls", "random"}) {
		t.Errorf("expected table order, got %v", verdict.TriggeredRules)
	}
}

func TestExpressionRule(t *testing.T) {
	table := append(domain.DefaultRules(), domain.Rule{
		ID:          "hashtag-flood",
		Kind:        domain.KindExpression,
		Weight:      0.5,
		Description: "Hashtag flooding",
		Expression:  "hashtag_ratio > 5.0 && avg_post_length < 40.0",
	})
	engine, err := NewEngine(domain.DefaultRuleConfig(), table)
	if err != nil {
		t.Fatalf("failed to create engine: %v", err)
	}

	fv := legitVector()
	if verdict := engine.Evaluate(fv); len(verdict.TriggeredRules) != 0 {
		t.Fatalf("expected no triggers, got %v", verdict.TriggeredRules)
	}

	fv[domain.FeatureHashtagRatio] = 8
	fv[domain.FeatureAvgPostLength] = 20
	verdict := engine.Evaluate(fv)
	if !reflect.DeepEqual(verdict.TriggeredRules, []string{"hashtag-flood"}) {
		t.Errorf("expected hashtag-flood, got %v", verdict.TriggeredRules)
	}
}

func TestInvalidRules(t *testing.T) {
	tests := []struct {
		name string
		rule domain.Rule
	}{
		{"bad CEL", domain.Rule{ID: "x", Kind: domain.KindExpression, Weight: 1, Expression: "this is not valid CEL !!!"}},
		{"non-bool CEL", domain.Rule{ID: "x", Kind: domain.KindExpression, Weight: 1, Expression: "url_ratio * 2.0"}},
		{"unknown variable", domain.Rule{ID: "x", Kind: domain.KindExpression, Weight: 1, Expression: "amount > 1.0"}},
		{"missing expression", domain.Rule{ID: "x", Kind: domain.KindExpression, Weight: 1}},
		{"unknown kind", domain.Rule{ID: "x", Kind: "velocity", Weight: 1}},
		{"zero weight", domain.Rule{ID: "x", Kind: domain.KindURLSpam, Weight: 0}},
		{"infinite weight", domain.Rule{ID: "x", Kind: domain.KindRandomUsername, Weight: math.Inf(1)}},
		{"NaN weight", domain.Rule{ID: "x", Kind: domain.KindRandomUsername, Weight: math.NaN()}},
		{"missing id", domain.Rule{Kind: domain.KindURLSpam, Weight: 1}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewEngine(domain.DefaultRuleConfig(), []domain.Rule{tt.rule})
			if err == nil {
				t.Fatal("expected error")
			}
			if !errors.Is(err, domain.ErrValidation) {
				t.Errorf("expected ErrValidation, got %v", err)
			}
		})
	}
}

func TestClampMapsNaNToZero(t *testing.T) {
	for _, tt := range []struct{ in, want float64 }{
		{math.NaN(), 0},
		{math.Inf(1), 1},
		{-0.5, 0},
		{0.4, 0.4},
	} {
		if got := clamp01(tt.in); got != tt.want {
			t.Errorf("clamp01(%v) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestDuplicateRuleID(t *testing.T) {
	table := []domain.Rule{
		{ID: "dup", Kind: domain.KindURLSpam, Weight: 1},
		{ID: "dup", Kind: domain.KindRandomUsername, Weight: 1},
	}
	if _, err := NewEngine(domain.DefaultRuleConfig(), table); !errors.Is(err, domain.ErrValidation) {
		t.Errorf("expected ErrValidation for duplicate id, got %v", err)
	}
}

func TestDisabledRulesSkipped(t *testing.T) {
	table := domain.DefaultRules()
	table[0].Disabled = true

	engine, err := NewEngine(domain.DefaultRuleConfig(), table)
	if err != nil {
		t.Fatalf("failed to create engine: %v", err)
	}
	if engine.RulesCount() != len(table)-1 {
		t.Errorf("expected %d rules, got %d", len(table)-1, engine.RulesCount())
	}
}

func TestInvalidThresholds(t *testing.T) {
	cfg := domain.DefaultRuleConfig()
	cfg.BotScoreThreshold = 1.5

	if _, err := NewEngine(cfg, domain.DefaultRules()); !errors.Is(err, domain.ErrValidation) {
		t.Errorf("expected ErrValidation, got %v", err)
	}
}

func TestEmptyTable(t *testing.T) {
	engine, err := NewEngine(domain.DefaultRuleConfig(), nil)
	if err != nil {
		t.Fatalf("failed to create engine: %v", err)
	}

	verdict := engine.Evaluate(legitVector())
	if verdict.Confidence != 0 || verdict.IsBot {
		t.Errorf("expected zero verdict, got %+v", verdict)
	}
}

func TestParseTable(t *testing.T) {
	data := []byte(`
- id: url-heavy
  kind: url_spam
  weight: 0.4
  description: Mostly links
- id: night-owl
  kind: expression
  weight: 0.2
  expression: "avg_reply_time < 2.0"
`)
	table, err := ParseTable(data)
	if err != nil {
		t.Fatalf("ParseTable failed: %v", err)
	}
	if len(table) != 2 || table[1].Kind != domain.KindExpression {
		t.Fatalf("unexpected table: %+v", table)
	}

	if _, err := ParseTable([]byte("- id: a\n  kind: url_spam\n  weight: 1\n  colour: red\n")); err == nil {
		t.Error("expected error for unknown key")
	}
}
