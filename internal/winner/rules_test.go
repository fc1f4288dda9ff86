package winner

import (
	"errors"
	"testing"

	"github.com/foxzi/sendry-lab/internal/models"
	"github.com/foxzi/sendry-lab/internal/stats"
)

func TestEvaluateRules(t *testing.T) {
	a := Analysis{
		Counters: stats.Counters{Sent: 200, Delivered: 190, Bounced: 10},
		Test:     stats.ZTestResult{Improvement: 12, Confidence: 0.97},
	}

	tests := []struct {
		name string
		rule Rule
		want bool
	}{
		{"improvement above", Rule{RuleMinimumImprovement, ConditionGreaterThan, 5}, true},
		{"improvement below", Rule{RuleMinimumImprovement, ConditionGreaterThan, 15}, false},
		{"sample size", Rule{RuleMinimumSampleSize, ConditionGreaterThan, 100}, true},
		{"sample size too small", Rule{RuleMinimumSampleSize, ConditionGreaterThan, 190}, false},
		{"confidence percent", Rule{RuleMinimumConfidence, ConditionGreaterThan, 95}, true},
		{"bounce rate", Rule{RuleMaximumBounceRate, ConditionLessThan, 10}, true},
		{"bounce rate equals", Rule{RuleMaximumBounceRate, ConditionEquals, 5}, true},
		{"unknown type", Rule{"open_rate", ConditionGreaterThan, 1}, false},
		{"unknown condition", Rule{RuleMinimumImprovement, "between", 1}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			results, passed := EvaluateRules([]Rule{tt.rule}, a)
			if passed != tt.want || results[0].Passed != tt.want {
				t.Errorf("expected passed=%v, got %+v", tt.want, results[0])
			}
			if !tt.want && results[0].Reason == "" {
				t.Error("expected a reason for a failed rule")
			}
		})
	}
}

func TestEvaluateRulesAllMustPass(t *testing.T) {
	a := Analysis{
		Counters: stats.Counters{Delivered: 90},
		Test:     stats.ZTestResult{Improvement: 20},
	}

	results, passed := EvaluateRules(DefaultRules(nil), a)
	if passed {
		t.Fatal("expected sample size rule to fail")
	}
	if !failedSampleSize(results) {
		t.Error("expected failed sample size rule to be reported")
	}
}

func TestDefaultRulesUseConfiguredSampleSize(t *testing.T) {
	cfg := models.DefaultAutomationConfiguration("salon-1")
	cfg.MinimumSampleSize = 250

	rules := DefaultRules(cfg)
	if len(rules) != 2 || rules[1].Value != 250 {
		t.Errorf("unexpected default rules %+v", rules)
	}
}

func TestValidateRules(t *testing.T) {
	if err := ValidateRules(DefaultRules(nil)); err != nil {
		t.Errorf("expected default rules to be valid, got %v", err)
	}
	if err := ValidateRules([]Rule{{Type: "nope", Condition: ConditionEquals}}); !errors.Is(err, ErrInvalidRule) {
		t.Errorf("expected ErrInvalidRule for type, got %v", err)
	}
	if err := ValidateRules([]Rule{{Type: RuleMinimumConfidence, Condition: "gte"}}); !errors.Is(err, ErrInvalidRule) {
		t.Errorf("expected ErrInvalidRule for condition, got %v", err)
	}
}
