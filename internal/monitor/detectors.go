package monitor

import (
	"fmt"
	"time"

	"github.com/foxzi/sendry-lab/internal/models"
	"github.com/foxzi/sendry-lab/internal/stats"
)

const (
	// earlyWinnerImprovement is the lift in percent an early winner must exceed
	earlyWinnerImprovement = 10.0
	// lowConversionRate is the conversion rate in percent below which a variant is flagged
	lowConversionRate = 1.0
)

// VariantPerformance is the aggregated state of one variant
type VariantPerformance struct {
	VariantID string         `json:"variant_id"`
	Name      string         `json:"name"`
	IsControl bool           `json:"is_control"`
	Counters  stats.Counters `json:"counters"`
	Rates     stats.Rates    `json:"rates"`
}

// detectInput is what every detector reads
type detectInput struct {
	campaign *models.TestCampaign
	cfg      *models.AutomationConfiguration
	control  *VariantPerformance
	variants []VariantPerformance
	now      time.Time
}

type detector func(in detectInput) *models.Alert

var detectors = []detector{
	detectEarlyWinner,
	detectSignificantChange,
	detectPerformanceDrop,
	detectTestCompletion,
}

func newAlert(in detectInput, t models.AlertType, sev models.Severity) *models.Alert {
	return &models.Alert{
		CampaignID: in.campaign.ID,
		SalonID:    in.campaign.SalonID,
		Type:       t,
		Severity:   sev,
		CreatedAt:  in.now,
	}
}

// detectEarlyWinner fires when a variant beats control significantly, by more
// than earlyWinnerImprovement, with both arms at the minimum sample size
func detectEarlyWinner(in detectInput) *models.Alert {
	if in.control == nil || in.control.Counters.Delivered < in.cfg.MinimumSampleSize {
		return nil
	}

	var best *VariantPerformance
	var bestTest stats.ZTestResult
	for i := range in.variants {
		v := &in.variants[i]
		if v.VariantID == in.control.VariantID || v.Counters.Delivered < in.cfg.MinimumSampleSize {
			continue
		}
		test := stats.ZTest(in.control.Counters.Sample(), v.Counters.Sample(), in.cfg.AutoWinnerConfidenceLevel)
		if !test.IsSignificant || test.Improvement <= earlyWinnerImprovement {
			continue
		}
		if best == nil || test.Improvement*test.Confidence > bestTest.Improvement*bestTest.Confidence {
			best, bestTest = v, test
		}
	}
	if best == nil {
		return nil
	}

	a := newAlert(in, models.AlertEarlyWinner, models.SeverityHigh)
	a.VariantID = best.VariantID
	a.Message = fmt.Sprintf("Variant %q converts %.1f%% better than control (p=%.4f)",
		best.Name, bestTest.Improvement, bestTest.PValue)
	a.RecommendedAction = "Review the results and consider selecting the winner"
	a.Data = map[string]any{
		"improvement": bestTest.Improvement,
		"p_value":     bestTest.PValue,
		"z_score":     bestTest.ZScore,
		"confidence":  bestTest.Confidence,
	}
	return a
}

// detectSignificantChange fires when the conversion rate gap between the best
// and worst variant exceeds the salon's alert threshold
func detectSignificantChange(in detectInput) *models.Alert {
	var best, worst *VariantPerformance
	for i := range in.variants {
		v := &in.variants[i]
		if v.Counters.Delivered == 0 {
			continue
		}
		if best == nil || v.Rates.ConversionRate > best.Rates.ConversionRate {
			best = v
		}
		if worst == nil || v.Rates.ConversionRate < worst.Rates.ConversionRate {
			worst = v
		}
	}
	if best == nil || best == worst {
		return nil
	}

	gap := best.Rates.ConversionRate - worst.Rates.ConversionRate
	if gap <= in.cfg.PerformanceAlertThreshold {
		return nil
	}

	a := newAlert(in, models.AlertSignificantChange, models.SeverityMedium)
	a.VariantID = best.VariantID
	a.Message = fmt.Sprintf("Conversion gap of %.1f points between %q (%.1f%%) and %q (%.1f%%)",
		gap, best.Name, best.Rates.ConversionRate, worst.Name, worst.Rates.ConversionRate)
	a.RecommendedAction = "Check whether the weaker variant should be paused"
	a.Data = map[string]any{
		"gap":              gap,
		"best_variant_id":  best.VariantID,
		"worst_variant_id": worst.VariantID,
		"threshold":        in.cfg.PerformanceAlertThreshold,
	}
	return a
}

// detectPerformanceDrop fires when a variant with deliveries converts below
// lowConversionRate
func detectPerformanceDrop(in detectInput) *models.Alert {
	var low []string
	var worst *VariantPerformance
	for i := range in.variants {
		v := &in.variants[i]
		if v.Counters.Delivered == 0 || v.Rates.ConversionRate >= lowConversionRate {
			continue
		}
		low = append(low, v.VariantID)
		if worst == nil || v.Rates.ConversionRate < worst.Rates.ConversionRate {
			worst = v
		}
	}
	if worst == nil {
		return nil
	}

	a := newAlert(in, models.AlertPerformanceDrop, models.SeverityMedium)
	a.VariantID = worst.VariantID
	a.Message = fmt.Sprintf("%d variant(s) convert below %.0f%%, lowest is %q at %.2f%%",
		len(low), lowConversionRate, worst.Name, worst.Rates.ConversionRate)
	a.RecommendedAction = "Review the message content and audience of the low performing variants"
	a.Data = map[string]any{
		"variant_ids": low,
		"threshold":   lowConversionRate,
	}
	return a
}

// detectTestCompletion fires when the minimum duration has elapsed and every
// variant could have reached the minimum sample size
func detectTestCompletion(in detectInput) *models.Alert {
	elapsed := in.campaign.Elapsed(in.now)
	if elapsed < in.cfg.MinimumTestDuration() {
		return nil
	}

	total := 0
	for _, v := range in.variants {
		total += v.Counters.Delivered
	}
	required := in.cfg.MinimumSampleSize * len(in.variants)
	if total < required {
		return nil
	}

	a := newAlert(in, models.AlertTestComplete, models.SeverityLow)
	a.Message = fmt.Sprintf("Test has run for %s with %d samples across %d variants",
		elapsed.Round(time.Minute), total, len(in.variants))
	a.RecommendedAction = "Run the winner analysis and complete the test"
	a.Data = map[string]any{
		"elapsed_hours":    elapsed.Hours(),
		"total_samples":    total,
		"required_samples": required,
	}
	return a
}
