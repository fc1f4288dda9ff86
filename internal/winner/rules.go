package winner

import (
	"errors"
	"fmt"
	"math"

	"github.com/foxzi/sendry-lab/internal/models"
)

// ErrInvalidRule is returned when a business rule cannot be evaluated
var ErrInvalidRule = errors.New("invalid business rule")

// Business rule types
const (
	RuleMinimumImprovement = "minimum_improvement"
	RuleMinimumSampleSize  = "minimum_sample_size"
	RuleMinimumConfidence  = "minimum_confidence"
	RuleMaximumBounceRate  = "maximum_bounce_rate"
)

// Rule conditions
const (
	ConditionGreaterThan = "greater_than"
	ConditionLessThan    = "less_than"
	ConditionEquals      = "equals"
)

const equalsTolerance = 1e-9

// Rule is a business constraint a winner must satisfy before it is applied
type Rule struct {
	Type      string  `json:"type"`
	Condition string  `json:"condition"`
	Value     float64 `json:"value"`
}

// RuleResult is the evaluation of one rule against a candidate
type RuleResult struct {
	Rule   Rule    `json:"rule"`
	Passed bool    `json:"passed"`
	Actual float64 `json:"actual"`
	Reason string  `json:"reason,omitempty"`
}

// DefaultRules returns the rules used when a caller supplies none
func DefaultRules(cfg *models.AutomationConfiguration) []Rule {
	sample := 100.0
	if cfg != nil && cfg.MinimumSampleSize > 0 {
		sample = float64(cfg.MinimumSampleSize)
	}
	return []Rule{
		{Type: RuleMinimumImprovement, Condition: ConditionGreaterThan, Value: 5},
		{Type: RuleMinimumSampleSize, Condition: ConditionGreaterThan, Value: sample},
	}
}

// ValidateRules rejects rules with unknown types or conditions
func ValidateRules(rules []Rule) error {
	for i, r := range rules {
		if _, ok := ruleValue(r.Type, Analysis{}); !ok {
			return fmt.Errorf("%w: rule %d has unknown type %q", ErrInvalidRule, i, r.Type)
		}
		switch r.Condition {
		case ConditionGreaterThan, ConditionLessThan, ConditionEquals:
		default:
			return fmt.Errorf("%w: rule %d has unknown condition %q", ErrInvalidRule, i, r.Condition)
		}
	}
	return nil
}

// EvaluateRules checks every rule against the candidate. It reports whether
// all rules passed.
func EvaluateRules(rules []Rule, a Analysis) ([]RuleResult, bool) {
	results := make([]RuleResult, 0, len(rules))
	passed := true

	for _, r := range rules {
		res := RuleResult{Rule: r}

		actual, ok := ruleValue(r.Type, a)
		if !ok {
			res.Reason = fmt.Sprintf("unknown rule type %q", r.Type)
		} else {
			res.Actual = actual
			switch r.Condition {
			case ConditionGreaterThan:
				res.Passed = actual > r.Value
			case ConditionLessThan:
				res.Passed = actual < r.Value
			case ConditionEquals:
				res.Passed = math.Abs(actual-r.Value) < equalsTolerance
			default:
				res.Reason = fmt.Sprintf("unknown condition %q", r.Condition)
			}
			if !res.Passed && res.Reason == "" {
				res.Reason = fmt.Sprintf("%s is %.2f, required %s %.2f", r.Type, actual, r.Condition, r.Value)
			}
		}

		if !res.Passed {
			passed = false
		}
		results = append(results, res)
	}
	return results, passed
}

func ruleValue(ruleType string, a Analysis) (float64, bool) {
	switch ruleType {
	case RuleMinimumImprovement:
		return a.Test.Improvement, true
	case RuleMinimumSampleSize:
		return float64(a.Counters.Delivered), true
	case RuleMinimumConfidence:
		return a.Test.Confidence * 100, true
	case RuleMaximumBounceRate:
		return a.Counters.BounceRate(), true
	}
	return 0, false
}

// failedSampleSize reports whether a sample size rule failed
func failedSampleSize(results []RuleResult) bool {
	for _, r := range results {
		if !r.Passed && r.Rule.Type == RuleMinimumSampleSize {
			return true
		}
	}
	return false
}
