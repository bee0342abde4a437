// Package rules provides the rule evaluation engine: built-in predicate families
// plus CEL-Go expression rules over the feature vector.
package rules

import (
	"fmt"
	"log/slog"
	"math"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// Engine evaluates a fixed, ordered rule table. An Engine is immutable once
// built; reconfiguration builds a new one.
type Engine struct {
	env         *cel.Env
	cfg         domain.RuleConfig
	rules       []*CompiledRule
	totalWeight float64
}

// CompiledRule is a rule bound to its evaluation function.
type CompiledRule struct {
	Rule      domain.Rule
	predicate predicate
	program   cel.Program
}

// NewEngine validates and compiles the rule table. Disabled rules are dropped.
func NewEngine(cfg domain.RuleConfig, table []domain.Rule) (*Engine, error) {
	if err := validateThresholds(cfg); err != nil {
		return nil, err
	}

	env, err := newEnv()
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	e := &Engine{
		env: env,
		cfg: cfg,
	}

	seen := make(map[string]bool, len(table))
	for _, r := range table {
		if r.Disabled {
			continue
		}
		if seen[r.ID] {
			return nil, &domain.ValidationError{Field: "rules.id", Reason: fmt.Sprintf("duplicate rule id %q", r.ID)}
		}
		seen[r.ID] = true

		compiled, err := e.compileRule(r)
		if err != nil {
			return nil, err
		}
		e.rules = append(e.rules, compiled)
		e.totalWeight += r.Weight
	}

	return e, nil
}

// newEnv declares one double variable per feature name.
func newEnv() (*cel.Env, error) {
	opts := make([]cel.EnvOption, 0, domain.NumFeatures)
	for _, name := range domain.FeatureNames() {
		opts = append(opts, cel.Variable(name, cel.DoubleType))
	}
	return cel.NewEnv(opts...)
}

// ValidateRule compiles a rule against this engine's environment without
// changing the engine.
func (e *Engine) ValidateRule(r domain.Rule) error {
	_, err := e.compileRule(r)
	return err
}

func (e *Engine) compileRule(r domain.Rule) (*CompiledRule, error) {
	if err := r.Validate(); err != nil {
		return nil, err
	}

	if r.Kind != domain.KindExpression {
		return &CompiledRule{Rule: r, predicate: builtinPredicates[r.Kind]}, nil
	}

	ast, issues := e.env.Compile(r.Expression)
	if issues != nil && issues.Err() != nil {
		return nil, &domain.ValidationError{Field: "rules." + r.ID + ".expression", Reason: "failed to compile", Err: issues.Err()}
	}

	if ast.OutputType() != cel.BoolType {
		return nil, &domain.ValidationError{
			Field:  "rules." + r.ID + ".expression",
			Reason: fmt.Sprintf("expression must return bool, got %s", ast.OutputType()),
		}
	}

	program, err := e.env.Program(ast)
	if err != nil {
		return nil, &domain.ValidationError{Field: "rules." + r.ID + ".expression", Reason: "failed to create program", Err: err}
	}

	return &CompiledRule{Rule: r, program: program}, nil
}

// Evaluate runs every rule against fv independently and aggregates the
// triggered weights. Triggered ids follow table order.
func (e *Engine) Evaluate(fv domain.FeatureVector) domain.RuleVerdict {
	verdict := domain.RuleVerdict{TriggeredRules: []string{}}

	var activation map[string]any
	var triggeredWeight float64

	for _, r := range e.rules {
		var hit bool
		if r.program != nil {
			if activation == nil {
				activation = activationFor(fv)
			}
			hit = e.evalExpression(r, activation)
		} else {
			hit = r.predicate(e.cfg, fv)
		}

		if hit {
			verdict.TriggeredRules = append(verdict.TriggeredRules, r.Rule.ID)
			triggeredWeight += r.Rule.Weight
		}
	}

	if e.totalWeight > 0 {
		verdict.Confidence = clamp01(triggeredWeight / e.totalWeight)
	}
	verdict.IsBot = verdict.Confidence >= e.cfg.BotScoreThreshold

	return verdict
}

// evalExpression evaluates a CEL rule; runtime errors count as not triggered.
func (e *Engine) evalExpression(r *CompiledRule, activation map[string]any) bool {
	out, _, err := r.program.Eval(activation)
	if err != nil {
		slog.Debug("rule evaluation failed",
			"rule_id", r.Rule.ID,
			"error", err,
		)
		return false
	}
	b, ok := out.(types.Bool)
	return ok && bool(b)
}

func activationFor(fv domain.FeatureVector) map[string]any {
	activation := make(map[string]any, domain.NumFeatures)
	for i, name := range domain.FeatureNames() {
		activation[name] = fv[i]
	}
	return activation
}

// Rules returns the active rules in reporting order.
func (e *Engine) Rules() []domain.Rule {
	out := make([]domain.Rule, len(e.rules))
	for i, r := range e.rules {
		out[i] = r.Rule
	}
	return out
}

// RulesCount returns the number of active rules.
func (e *Engine) RulesCount() int {
	return len(e.rules)
}

// Config returns the thresholds the engine was built with.
func (e *Engine) Config() domain.RuleConfig {
	return e.cfg
}

// Descriptions maps rule ids to their descriptions.
func (e *Engine) Descriptions() map[string]string {
	m := make(map[string]string, len(e.rules))
	for _, r := range e.rules {
		m[r.Rule.ID] = r.Rule.Description
	}
	return m
}

func validateThresholds(cfg domain.RuleConfig) error {
	fields := []struct {
		name string
		val  float64
		max  float64
	}{
		{"min_account_age_days", cfg.MinAccountAgeDays, math.Inf(1)},
		{"suspicious_post_frequency", cfg.SuspiciousPostFrequency, math.Inf(1)},
		{"max_post_frequency", cfg.MaxPostFrequency, math.Inf(1)},
		{"min_follower_following_ratio", cfg.MinFollowerFollowingRatio, math.Inf(1)},
		{"min_bio_length", cfg.MinBioLength, math.Inf(1)},
		{"max_duplicate_ratio", cfg.MaxDuplicateRatio, 1},
		{"max_url_ratio", cfg.MaxURLRatio, 1},
		{"fast_reply_seconds", cfg.FastReplySeconds, math.Inf(1)},
		{"min_interaction_diversity", cfg.MinInteractionDiversity, 1},
		{"bot_score_threshold", cfg.BotScoreThreshold, 1},
	}
	for _, f := range fields {
		if math.IsNaN(f.val) || f.val < 0 || f.val > f.max {
			return &domain.ValidationError{Field: f.name, Reason: fmt.Sprintf("out of range: %v", f.val)}
		}
	}
	return nil
}

// clamp01 maps NaN to 0.
func clamp01(v float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	return math.Max(0, math.Min(1, v))
}
