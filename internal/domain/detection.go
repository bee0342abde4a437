package domain

// Method names the signals that produced a verdict.
type Method string

const (
	MethodRuleOnly Method = "rule_only"
	MethodMLOnly   Method = "ml_only"
	MethodCombined Method = "combined"
)

// DetectionResult is the verdict for one account.
type DetectionResult struct {
	Username   string           `json:"username,omitempty"`
	IsBot      bool             `json:"is_bot"`
	Confidence float64          `json:"confidence"`
	Method     Method           `json:"method"`
	Features   FeatureVector    `json:"features"`
	Details    DetectionDetails `json:"details"`
}

// DetectionDetails carries the per-method verdicts. Absent methods are nil.
type DetectionDetails struct {
	ML    *MLVerdict   `json:"ml,omitempty"`
	Rules *RuleVerdict `json:"rules,omitempty"`
}

// BatchResult is one entry of a batch run. Exactly one of Result and Err is set.
type BatchResult struct {
	Index  int              `json:"index"`
	Result *DetectionResult `json:"result,omitempty"`
	Err    error            `json:"-"`
}
