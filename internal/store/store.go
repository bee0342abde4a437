// Package store provides model artifact persistence implementations.
package store

import (
	"errors"
	"fmt"
	"regexp"

	"github.com/opensource-finance/kestrel/internal/domain"
)

var (
	ErrNotFound     = errors.New("artifact not found")
	ErrInvalidInput = errors.New("invalid input")
)

var namePattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]{0,127}$`)

// New creates a model store based on configuration.
func New(cfg domain.ModelConfig) (domain.ModelStore, error) {
	var (
		s   domain.ModelStore
		err error
	)
	switch cfg.Store {
	case "file":
		s, err = NewFileStore(cfg.Path)
	case "sqlite", "postgres":
		s, err = NewSQLStore(cfg)
	case "redis":
		s, err = NewRedisStore(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	default:
		return nil, fmt.Errorf("unsupported model store: %q", cfg.Store)
	}
	if err != nil {
		return nil, err
	}
	return s, nil
}

func checkName(name string) error {
	if !namePattern.MatchString(name) {
		return fmt.Errorf("%w: artifact name %q", ErrInvalidInput, name)
	}
	return nil
}

func checkArtifact(artifact []byte) error {
	if len(artifact) == 0 {
		return fmt.Errorf("%w: empty artifact", ErrInvalidInput)
	}
	return nil
}
