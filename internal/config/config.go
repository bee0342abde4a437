// Package config loads Kestrel configuration from YAML files and the environment.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// Environment overrides applied after the file is read.
const (
	EnvDebug      = "KESTREL_DEBUG"
	EnvUseML      = "KESTREL_USE_ML"
	EnvUseRules   = "KESTREL_USE_RULES"
	EnvModelStore = "KESTREL_MODEL_STORE"
	EnvModelPath  = "KESTREL_MODEL_PATH"
)

// Load reads configuration from a YAML file over the defaults, applies
// environment overrides and validates the result. An empty path yields the
// defaults.
func Load(path string) (*domain.Config, error) {
	var data []byte
	if path != "" {
		var err error
		data, err = os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	cfg, err := decode(data)
	if err != nil {
		return nil, err
	}

	if err := applyEnv(cfg, os.LookupEnv); err != nil {
		return nil, err
	}

	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Parse decodes and validates YAML without consulting the environment.
func Parse(data []byte) (*domain.Config, error) {
	cfg, err := decode(data)
	if err != nil {
		return nil, err
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// decode overlays data on the defaults. Keys not present keep their default;
// unknown keys are an error.
func decode(data []byte) (*domain.Config, error) {
	cfg := domain.DefaultConfig()
	if len(bytes.TrimSpace(data)) == 0 {
		return cfg, nil
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, &domain.ValidationError{Field: "config", Reason: "failed to parse", Err: err}
	}
	return cfg, nil
}

func applyEnv(cfg *domain.Config, lookup func(string) (string, bool)) error {
	if v, ok := lookup(EnvDebug); ok && v == "true" {
		cfg.Logging.Level = "debug"
	}

	for _, b := range []struct {
		env string
		dst *bool
	}{
		{EnvUseML, &cfg.UseML},
		{EnvUseRules, &cfg.UseRules},
	} {
		v, ok := lookup(b.env)
		if !ok || v == "" {
			continue
		}
		parsed, err := strconv.ParseBool(v)
		if err != nil {
			return &domain.ValidationError{Field: b.env, Reason: fmt.Sprintf("not a boolean: %q", v)}
		}
		*b.dst = parsed
	}

	if v, ok := lookup(EnvModelStore); ok && v != "" {
		cfg.Model.Store = v
	}
	if v, ok := lookup(EnvModelPath); ok && v != "" {
		cfg.Model.Path = v
	}
	return nil
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks field ranges, the rule table and that at least one detection
// method is enabled.
func Validate(cfg *domain.Config) error {
	if err := validate.Struct(cfg); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return &domain.ValidationError{
				Field:  fe.Namespace(),
				Reason: fmt.Sprintf("failed %q constraint (value %v)", fe.Tag(), fe.Value()),
			}
		}
		return &domain.ValidationError{Field: "config", Err: err}
	}

	if !cfg.UseML && !cfg.UseRules {
		return &domain.ValidationError{Field: "use_ml", Reason: "at least one of use_ml and use_rules must be enabled"}
	}
	if cfg.MLWeight+cfg.RuleWeight == 0 {
		return &domain.ValidationError{Field: "ml_weight", Reason: "ml_weight and rule_weight cannot both be 0"}
	}

	for i := range cfg.Rules.Table {
		if err := cfg.Rules.Table[i].Validate(); err != nil {
			return err
		}
	}

	if cfg.Model.Store != "" && cfg.Model.Store != "redis" && cfg.Model.Store != "postgres" && cfg.Model.Path == "" {
		return &domain.ValidationError{Field: "model.path", Reason: fmt.Sprintf("required for %s store", cfg.Model.Store)}
	}

	return nil
}
