package domain

import (
	"fmt"
	"math"
)

// RuleKind selects the predicate evaluated for a rule.
type RuleKind string

// Built-in rule families plus the CEL expression kind.
const (
	KindNewAccountHighActivity  RuleKind = "new_account_high_activity"
	KindPoorFollowerRatio       RuleKind = "poor_follower_ratio"
	KindMissingProfileElements  RuleKind = "missing_profile_elements"
	KindRandomUsername          RuleKind = "random_username"
	KindExcessivePosting        RuleKind = "excessive_posting"
	KindDuplicateContent        RuleKind = "duplicate_content"
	KindURLSpam                 RuleKind = "url_spam"
	KindFastReplyTime           RuleKind = "fast_reply_time"
	KindLowInteractionDiversity RuleKind = "low_interaction_diversity"
	KindExpression              RuleKind = "expression"
)

// BuiltinKinds lists the built-in families in default reporting order.
func BuiltinKinds() []RuleKind {
	return []RuleKind{
		KindNewAccountHighActivity,
		KindPoorFollowerRatio,
		KindMissingProfileElements,
		KindRandomUsername,
		KindExcessivePosting,
		KindDuplicateContent,
		KindURLSpam,
		KindFastReplyTime,
		KindLowInteractionDiversity,
	}
}

// Valid reports whether k is a known kind.
func (k RuleKind) Valid() bool {
	if k == KindExpression {
		return true
	}
	for _, b := range BuiltinKinds() {
		if k == b {
			return true
		}
	}
	return false
}

// Rule is one weighted suspicion signal.
type Rule struct {
	ID          string   `json:"id" yaml:"id" validate:"required"`
	Kind        RuleKind `json:"kind" yaml:"kind" validate:"required"`
	Weight      float64  `json:"weight" yaml:"weight" validate:"gt=0"`
	Description string   `json:"description" yaml:"description"`

	// Expression is a CEL boolean over feature names; only for KindExpression.
	Expression string `json:"expression,omitempty" yaml:"expression"`

	// Disabled rules are skipped at engine construction.
	Disabled bool `json:"disabled,omitempty" yaml:"disabled"`
}

// Validate checks the static shape of a rule.
func (r *Rule) Validate() error {
	if r.ID == "" {
		return &ValidationError{Field: "rules.id", Reason: "is required"}
	}
	if !r.Kind.Valid() {
		return &ValidationError{Field: "rules." + r.ID + ".kind", Reason: fmt.Sprintf("unknown kind %q", r.Kind)}
	}
	if !(r.Weight > 0) || math.IsInf(r.Weight, 0) {
		return &ValidationError{Field: "rules." + r.ID + ".weight", Reason: "must be finite and > 0"}
	}
	if r.Kind == KindExpression && r.Expression == "" {
		return &ValidationError{Field: "rules." + r.ID + ".expression", Reason: "is required for expression rules"}
	}
	return nil
}

// DefaultRules returns the built-in rule table.
func DefaultRules() []Rule {
	return []Rule{
		{ID: "new_account_high_activity", Kind: KindNewAccountHighActivity, Weight: 0.30, Description: "New account with suspicious posting frequency"},
		{ID: "poor_follower_ratio", Kind: KindPoorFollowerRatio, Weight: 0.25, Description: "Low follower to following ratio"},
		{ID: "missing_profile_elements", Kind: KindMissingProfileElements, Weight: 0.20, Description: "Missing profile image or bio"},
		{ID: "random_username", Kind: KindRandomUsername, Weight: 0.10, Description: "Random username pattern"},
		{ID: "excessive_posting", Kind: KindExcessivePosting, Weight: 0.25, Description: "Extremely high posting frequency"},
		{ID: "duplicate_content", Kind: KindDuplicateContent, Weight: 0.10, Description: "High duplicate content ratio"},
		{ID: "url_spam", Kind: KindURLSpam, Weight: 0.10, Description: "Excessive URL posting"},
		{ID: "fast_reply_time", Kind: KindFastReplyTime, Weight: 0.10, Description: "Suspiciously fast reply times"},
		{ID: "low_interaction_diversity", Kind: KindLowInteractionDiversity, Weight: 0.10, Description: "Low interaction diversity"},
	}
}

// RuleConfig holds the thresholds of the built-in rule families.
type RuleConfig struct {
	MinAccountAgeDays         float64 `json:"min_account_age_days" yaml:"min_account_age_days" validate:"gte=0"`
	SuspiciousPostFrequency   float64 `json:"suspicious_post_frequency" yaml:"suspicious_post_frequency" validate:"gte=0"`
	MaxPostFrequency          float64 `json:"max_post_frequency" yaml:"max_post_frequency" validate:"gte=0"`
	MinFollowerFollowingRatio float64 `json:"min_follower_following_ratio" yaml:"min_follower_following_ratio" validate:"gte=0"`
	MinBioLength              float64 `json:"min_bio_length" yaml:"min_bio_length" validate:"gte=0"`
	MaxDuplicateRatio         float64 `json:"max_duplicate_ratio" yaml:"max_duplicate_ratio" validate:"gte=0,lte=1"`
	MaxURLRatio               float64 `json:"max_url_ratio" yaml:"max_url_ratio" validate:"gte=0,lte=1"`
	FastReplySeconds          float64 `json:"fast_reply_seconds" yaml:"fast_reply_seconds" validate:"gte=0"`
	MinInteractionDiversity   float64 `json:"min_interaction_diversity" yaml:"min_interaction_diversity" validate:"gte=0,lte=1"`

	// BotScoreThreshold is the rule engine's own decision threshold.
	BotScoreThreshold float64 `json:"bot_score_threshold" yaml:"bot_score_threshold" validate:"gte=0,lte=1"`
}

// DefaultRuleConfig returns the default thresholds.
func DefaultRuleConfig() RuleConfig {
	return RuleConfig{
		MinAccountAgeDays:         30,
		SuspiciousPostFrequency:   20,
		MaxPostFrequency:          50,
		MinFollowerFollowingRatio: 0.1,
		MinBioLength:              10,
		MaxDuplicateRatio:         0.5,
		MaxURLRatio:               0.8,
		FastReplySeconds:          5,
		MinInteractionDiversity:   0.1,
		BotScoreThreshold:         0.5,
	}
}

// RuleVerdict is the rule engine output.
type RuleVerdict struct {
	IsBot          bool     `json:"is_bot"`
	Confidence     float64  `json:"confidence"`
	TriggeredRules []string `json:"triggered_rules"`
}

// MLVerdict is the statistical scorer output. Confidence is the bot probability.
type MLVerdict struct {
	IsBot      bool    `json:"is_bot"`
	Confidence float64 `json:"confidence"`
}
