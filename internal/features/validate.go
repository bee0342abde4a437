package features

import (
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// Validator checks account records before extraction.
type Validator struct {
	validate *validator.Validate
}

// NewValidator creates a record Validator.
func NewValidator() *Validator {
	return &Validator{validate: validator.New(validator.WithRequiredStructEnabled())}
}

// Validate returns a *domain.ValidationError describing the first problem found
// in rec, or nil.
func (v *Validator) Validate(rec *domain.AccountRecord) error {
	if rec == nil {
		return &domain.ValidationError{Reason: "account record is nil"}
	}

	if err := v.validate.Struct(rec); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return &domain.ValidationError{
				Field:  fe.Namespace(),
				Reason: fmt.Sprintf("failed %q constraint", fe.Tag()),
			}
		}
		return &domain.ValidationError{Reason: "invalid account record", Err: err}
	}

	if _, err := ParseTimestamp(rec.CreatedAt); err != nil {
		return &domain.ValidationError{Field: "created_at", Reason: fmt.Sprintf("malformed timestamp %q", rec.CreatedAt)}
	}

	for i, p := range rec.RecentPosts {
		if p.Timestamp == "" {
			continue
		}
		if _, err := ParseTimestamp(p.Timestamp); err != nil {
			return &domain.ValidationError{
				Field:  fmt.Sprintf("recent_posts[%d].timestamp", i),
				Reason: fmt.Sprintf("malformed timestamp %q", p.Timestamp),
			}
		}
	}

	return nil
}
