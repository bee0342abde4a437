package domain

import (
	"runtime"
	"time"
)

// Config holds the complete Kestrel configuration.
type Config struct {
	// Rule engine thresholds exposed at the top level.
	MinAccountAgeDays float64 `yaml:"min_account_age_days" validate:"gte=0"`
	MaxPostFrequency  float64 `yaml:"max_post_frequency" validate:"gte=0"`
	BotScoreThreshold float64 `yaml:"bot_score_threshold" validate:"gte=0,lte=1"`

	// Fusion weights and decision threshold.
	MLWeight        float64 `yaml:"ml_weight" validate:"gte=0,lte=1"`
	RuleWeight      float64 `yaml:"rule_weight" validate:"gte=0,lte=1"`
	FusionThreshold float64 `yaml:"fusion_threshold" validate:"gte=0,lte=1"`

	// Enabled methods; at least one must be on.
	UseML    bool `yaml:"use_ml"`
	UseRules bool `yaml:"use_rules"`

	// Workers bounds batch parallelism.
	Workers int `yaml:"workers" validate:"gte=0"`

	Rules   RulesConfig   `yaml:"rules"`
	Model   ModelConfig   `yaml:"model"`
	Logging LoggingConfig `yaml:"logging"`
	Tracing TracingConfig `yaml:"tracing"`
}

// RulesConfig holds the remaining rule thresholds and the rule table.
type RulesConfig struct {
	SuspiciousPostFrequency   float64 `yaml:"suspicious_post_frequency" validate:"gte=0"`
	MinFollowerFollowingRatio float64 `yaml:"min_follower_following_ratio" validate:"gte=0"`
	MinBioLength              float64 `yaml:"min_bio_length" validate:"gte=0"`
	MaxDuplicateRatio         float64 `yaml:"max_duplicate_ratio" validate:"gte=0,lte=1"`
	MaxURLRatio               float64 `yaml:"max_url_ratio" validate:"gte=0,lte=1"`
	FastReplySeconds          float64 `yaml:"fast_reply_seconds" validate:"gte=0"`
	MinInteractionDiversity   float64 `yaml:"min_interaction_diversity" validate:"gte=0,lte=1"`

	// Table replaces the built-in rules when non-empty.
	Table []Rule `yaml:"table" validate:"dive"`
}

// FusionConfig configures how rule and statistical verdicts are combined.
type FusionConfig struct {
	MLWeight   float64
	RuleWeight float64
	Threshold  float64
}

// ModelConfig selects where model artifacts live.
type ModelConfig struct {
	// Store is "file", "sqlite", "postgres" or "redis". Empty means no model is
	// loaded and the scorer runs in fallback mode.
	Store string `yaml:"store" validate:"omitempty,oneof=file sqlite postgres redis"`

	// Name is the artifact name inside the store.
	Name string `yaml:"name"`

	// Path is the artifact directory (file) or database path (sqlite).
	Path string `yaml:"path"`

	PostgresHost     string `yaml:"postgres_host"`
	PostgresPort     int    `yaml:"postgres_port"`
	PostgresUser     string `yaml:"postgres_user"`
	PostgresPassword string `yaml:"postgres_password"`
	PostgresDB       string `yaml:"postgres_db"`
	PostgresSSLMode  string `yaml:"postgres_ssl_mode"`

	RedisAddr     string `yaml:"redis_addr"`
	RedisPassword string `yaml:"redis_password"`
	RedisDB       int    `yaml:"redis_db"`

	MaxOpenConns    int           `yaml:"max_open_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level" validate:"omitempty,oneof=debug info warn error"`
	Format string `yaml:"format" validate:"omitempty,oneof=json text"`
}

// TracingConfig holds OpenTelemetry settings.
type TracingConfig struct {
	Enabled     bool   `yaml:"enabled"`
	ServiceName string `yaml:"service_name"`
}

// DefaultConfig returns the default configuration: both methods on, no trained
// model, rules from DefaultRules.
func DefaultConfig() *Config {
	rc := DefaultRuleConfig()
	return &Config{
		MinAccountAgeDays: rc.MinAccountAgeDays,
		MaxPostFrequency:  rc.MaxPostFrequency,
		BotScoreThreshold: rc.BotScoreThreshold,
		MLWeight:          0.6,
		RuleWeight:        0.4,
		FusionThreshold:   0.5,
		UseML:             true,
		UseRules:          true,
		Workers:           runtime.NumCPU(),
		Rules: RulesConfig{
			SuspiciousPostFrequency:   rc.SuspiciousPostFrequency,
			MinFollowerFollowingRatio: rc.MinFollowerFollowingRatio,
			MinBioLength:              rc.MinBioLength,
			MaxDuplicateRatio:         rc.MaxDuplicateRatio,
			MaxURLRatio:               rc.MaxURLRatio,
			FastReplySeconds:          rc.FastReplySeconds,
			MinInteractionDiversity:   rc.MinInteractionDiversity,
		},
		Model: ModelConfig{
			Name: "default",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Tracing: TracingConfig{
			Enabled:     false,
			ServiceName: "kestrel",
		},
	}
}

// RuleConfig assembles the rule engine thresholds.
func (c *Config) RuleConfig() RuleConfig {
	return RuleConfig{
		MinAccountAgeDays:         c.MinAccountAgeDays,
		SuspiciousPostFrequency:   c.Rules.SuspiciousPostFrequency,
		MaxPostFrequency:          c.MaxPostFrequency,
		MinFollowerFollowingRatio: c.Rules.MinFollowerFollowingRatio,
		MinBioLength:              c.Rules.MinBioLength,
		MaxDuplicateRatio:         c.Rules.MaxDuplicateRatio,
		MaxURLRatio:               c.Rules.MaxURLRatio,
		FastReplySeconds:          c.Rules.FastReplySeconds,
		MinInteractionDiversity:   c.Rules.MinInteractionDiversity,
		BotScoreThreshold:         c.BotScoreThreshold,
	}
}

// RuleTable returns the configured rules, or the built-in table.
func (c *Config) RuleTable() []Rule {
	if len(c.Rules.Table) > 0 {
		out := make([]Rule, len(c.Rules.Table))
		copy(out, c.Rules.Table)
		return out
	}
	return DefaultRules()
}

// FusionConfig assembles the fusion settings.
func (c *Config) FusionConfig() FusionConfig {
	return FusionConfig{
		MLWeight:   c.MLWeight,
		RuleWeight: c.RuleWeight,
		Threshold:  c.FusionThreshold,
	}
}
