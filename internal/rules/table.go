package rules

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"gopkg.in/yaml.v3"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// ParseTable decodes a YAML list of rules. Unknown keys are rejected so a typo in
// a rule file never silently disables a predicate.
func ParseTable(data []byte) ([]domain.Rule, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var table []domain.Rule
	if err := dec.Decode(&table); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil
		}
		return nil, &domain.ValidationError{Field: "rules", Reason: "failed to parse rule table", Err: err}
	}

	for i := range table {
		if err := table[i].Validate(); err != nil {
			return nil, fmt.Errorf("rule %d: %w", i, err)
		}
	}
	return table, nil
}
