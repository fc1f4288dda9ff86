package stats

import "math"

// MinSampleSize is the smallest delivered count per arm the z-test accepts
const MinSampleSize = 30

const (
	ReasonInsufficientSample = "insufficient sample size"
	ReasonZeroStdError       = "zero standard error"
)

// Sample is one arm of a two-proportion test
type Sample struct {
	Delivered   int
	Conversions int
}

// Rate returns the conversion proportion of the sample
func (s Sample) Rate() float64 {
	if s.Delivered == 0 {
		return 0
	}
	return float64(s.Conversions) / float64(s.Delivered)
}

// ZTestResult is the outcome of comparing a variant against control
type ZTestResult struct {
	IsSignificant bool    `json:"is_significant"`
	PValue        float64 `json:"p_value"`
	ZScore        float64 `json:"z_score"`
	Confidence    float64 `json:"confidence"`
	Improvement   float64 `json:"improvement"` // percent lift of variant over control
	Reason        string  `json:"reason,omitempty"`
}

// ZTest performs a pooled two-proportion z-test of variant against control.
// confidenceLevel is a percentage (90, 95, 99); fractions are accepted too.
func ZTest(control, variant Sample, confidenceLevel float64) ZTestResult {
	if control.Delivered < MinSampleSize || variant.Delivered < MinSampleSize {
		return ZTestResult{
			PValue:     1,
			Confidence: 0.5,
			Reason:     ReasonInsufficientSample,
		}
	}

	p1 := control.Rate()
	p2 := variant.Rate()
	n1 := float64(control.Delivered)
	n2 := float64(variant.Delivered)

	pooled := float64(control.Conversions+variant.Conversions) / (n1 + n2)
	se := math.Sqrt(pooled * (1 - pooled) * (1/n1 + 1/n2))

	improvement := 0.0
	if p1 > 0 {
		improvement = (p2 - p1) / p1 * 100
	}

	if se == 0 {
		return ZTestResult{
			PValue:      1,
			Confidence:  0,
			Improvement: improvement,
			Reason:      ReasonZeroStdError,
		}
	}

	z := math.Abs(p2-p1) / se
	pValue := 2 * (1 - NormalCDF(z))
	pValue = math.Max(0, math.Min(1, pValue))

	return ZTestResult{
		IsSignificant: z >= RequiredZ(confidenceLevel) && improvement > 0,
		PValue:        pValue,
		ZScore:        z,
		Confidence:    1 - pValue,
		Improvement:   improvement,
	}
}

// NormalCDF approximates the standard normal CDF with the
// Abramowitz and Stegun polynomial (formula 26.2.17).
func NormalCDF(x float64) float64 {
	t := 1 / (1 + 0.2316419*math.Abs(x))
	d := 0.3989423 * math.Exp(-x*x/2)
	prob := d * t * (0.3193815 + t*(-0.3565638+t*(1.781478+t*(-1.821256+t*1.330274))))
	if x > 0 {
		return 1 - prob
	}
	return prob
}

// RequiredZ returns the critical z value for a two-tailed test.
// Unknown levels fall back to 95%.
func RequiredZ(confidenceLevel float64) float64 {
	switch normalizeLevel(confidenceLevel) {
	case 90:
		return 1.645
	case 99:
		return 2.576
	default:
		return 1.96
	}
}

// normalizeLevel converts 0.95 style levels into percentages
func normalizeLevel(level float64) float64 {
	if level > 0 && level <= 1 {
		level *= 100
	}
	return math.Round(level*100) / 100
}

// SampleSizeConfidence is a heuristic confidence for a single sample size,
// used where a full z-test does not apply.
func SampleSizeConfidence(n int) float64 {
	switch {
	case n >= 1000:
		return 0.99
	case n >= 400:
		return 0.95
	case n >= 100:
		return 0.90
	case n >= MinSampleSize:
		return 0.80
	default:
		return 0.5
	}
}
