package domain

import (
	"errors"
	"fmt"
)

// Sentinels matched by the typed errors below via errors.Is.
var (
	ErrValidation         = errors.New("validation error")
	ErrModelCompatibility = errors.New("model compatibility error")
	ErrTrainingData       = errors.New("training data error")
)

// ValidationError reports a malformed account record or configuration value.
type ValidationError struct {
	Field  string
	Reason string
	Err    error
}

func (e *ValidationError) Error() string {
	msg := "validation error"
	if e.Field != "" {
		msg += ": " + e.Field
	}
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

func (e *ValidationError) Unwrap() error { return e.Err }

// ModelCompatibilityError reports a model whose recorded feature order cannot be
// reconciled with the running feature contract.
type ModelCompatibilityError struct {
	ModelID string
	Reason  string
}

func (e *ModelCompatibilityError) Error() string {
	if e.ModelID == "" {
		return fmt.Sprintf("model compatibility error: %s", e.Reason)
	}
	return fmt.Sprintf("model compatibility error: model %s: %s", e.ModelID, e.Reason)
}

func (e *ModelCompatibilityError) Is(target error) bool { return target == ErrModelCompatibility }

// TrainingDataError reports unusable training input.
type TrainingDataError struct {
	Reason string
}

func (e *TrainingDataError) Error() string {
	return "training data error: " + e.Reason
}

func (e *TrainingDataError) Is(target error) bool { return target == ErrTrainingData }
