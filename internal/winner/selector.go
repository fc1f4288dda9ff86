package winner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/foxzi/sendry-lab/internal/actionlog"
	"github.com/foxzi/sendry-lab/internal/metrics"
	"github.com/foxzi/sendry-lab/internal/models"
	"github.com/foxzi/sendry-lab/internal/stats"
	"github.com/foxzi/sendry-lab/internal/variants"
)

// Recommendations derived from an analysis
const (
	RecommendImplementWinner = "implement_winner"
	RecommendContinueTest    = "continue_test"
	RecommendInconclusive    = "inconclusive"
	RecommendManualReview    = "manual_review"
)

// Data sources an analysis reads counters from
const (
	SourceSnapshots  = "snapshots"
	SourceDeliveries = "deliveries"
)

// inconclusiveConfidence is the confidence at which a non-significant test
// stops being worth running
const inconclusiveConfidence = 0.8

// Store is the record store the selector needs
type Store interface {
	GetCampaign(ctx context.Context, id string) (*models.TestCampaign, error)
	ListCampaigns(ctx context.Context, filter models.CampaignListFilter) ([]models.TestCampaign, error)
	ListVariants(ctx context.Context, campaignID string) ([]models.Variant, error)
	ListSnapshots(ctx context.Context, variantID string) ([]models.MetricSnapshot, error)
	ListDeliveries(ctx context.Context, filter models.DeliveryFilter) ([]models.DeliveryRecord, error)
	GetTemplate(ctx context.Context, id string) (*models.Template, error)
	GetAutomationConfig(ctx context.Context, salonID string) (*models.AutomationConfiguration, error)
	CompleteCampaign(ctx context.Context, commit models.WinnerCommit) error
}

// Options controls a single analysis
type Options struct {
	ConfidenceLevel float64 `json:"confidence_level,omitempty"` // percent, defaults to the salon setting
	Rules           []Rule  `json:"business_rules,omitempty"`
	Force           bool    `json:"force_selection,omitempty"`
	DryRun          bool    `json:"dry_run,omitempty"`
	TriggeredBy     string  `json:"triggered_by,omitempty"`
}

// Analysis is the performance of one variant against control
type Analysis struct {
	VariantID string            `json:"variant_id"`
	Name      string            `json:"name"`
	Counters  stats.Counters    `json:"counters"`
	Rates     stats.Rates       `json:"rates"`
	Test      stats.ZTestResult `json:"test"`
}

// Result is the outcome of a winner analysis
type Result struct {
	CampaignID       string             `json:"campaign_id"`
	Success          bool               `json:"success"`
	Recommendation   string             `json:"recommendation"`
	Reason           string             `json:"reason,omitempty"`
	ControlVariantID string             `json:"control_variant_id,omitempty"`
	DataSource       string             `json:"data_source,omitempty"`
	Winner           *Analysis          `json:"winner,omitempty"`
	Variants         []Analysis         `json:"variants,omitempty"`
	RuleResults      []RuleResult       `json:"rule_results,omitempty"`
	Committed        bool               `json:"committed"`
	TestResult       *models.TestResult `json:"test_result,omitempty"`
}

// Selector analyses campaigns and commits winners
type Selector struct {
	store   Store
	actions actionlog.Sink
	logger  *slog.Logger
	now     func() time.Time
}

// NewSelector creates a new winner selector
func NewSelector(store Store, actions actionlog.Sink, logger *slog.Logger) *Selector {
	if actions == nil {
		actions = actionlog.Nop{}
	}
	return &Selector{
		store:   store,
		actions: actions,
		logger:  logger.With("component", "winner"),
		now:     time.Now,
	}
}

// Analyze compares every variant of a campaign against its control and
// decides whether to end the test. A winner is committed when the
// recommendation is implement_winner and automatic selection is enabled for
// the salon. Missing data is reported through Result, not as an error.
func (s *Selector) Analyze(ctx context.Context, campaignID string, opts Options) (*Result, error) {
	result := &Result{CampaignID: campaignID, Recommendation: RecommendContinueTest}

	campaign, err := s.store.GetCampaign(ctx, campaignID)
	if err != nil {
		return nil, fmt.Errorf("failed to get campaign: %w", err)
	}
	if campaign == nil {
		result.Reason = "campaign not found"
		return result, nil
	}

	stored, err := s.store.GetAutomationConfig(ctx, campaign.SalonID)
	if err != nil {
		return nil, fmt.Errorf("failed to get automation config: %w", err)
	}
	cfg := models.EffectiveAutomationConfiguration(stored, campaign.SalonID)

	level := opts.ConfidenceLevel
	if level == 0 {
		level = cfg.AutoWinnerConfidenceLevel
	}
	rules := opts.Rules
	if len(rules) == 0 {
		rules = DefaultRules(cfg)
	}

	vs, err := s.store.ListVariants(ctx, campaignID)
	if err != nil {
		return nil, fmt.Errorf("failed to list variants: %w", err)
	}
	if len(vs) < 2 {
		result.Reason = "campaign needs at least two variants"
		return result, nil
	}

	control := models.ControlVariant(vs)
	result.ControlVariantID = control.ID

	byVariant, source, err := s.campaignCounters(ctx, vs)
	if err != nil {
		return nil, err
	}
	result.DataSource = source
	controlCounters := byVariant[control.ID]

	var best, candidate *Analysis
	for i := range vs {
		v := &vs[i]
		if v.ID == control.ID {
			continue
		}
		counters := byVariant[v.ID]
		a := Analysis{
			VariantID: v.ID,
			Name:      v.Name,
			Counters:  counters,
			Rates:     counters.Rates(),
			Test:      stats.ZTest(controlCounters.Sample(), counters.Sample(), level),
		}
		result.Variants = append(result.Variants, a)
	}

	for i := range result.Variants {
		a := &result.Variants[i]
		if candidate == nil || a.Test.Confidence > candidate.Test.Confidence {
			candidate = a
		}
		if !a.Test.IsSignificant || a.Test.Improvement <= 0 {
			continue
		}
		if best == nil || score(a) > score(best) {
			best = a
		}
	}

	if best == nil {
		result.Reason = "no variant is significantly better than control"
		if candidate != nil && candidate.Test.Confidence >= inconclusiveConfidence {
			result.Recommendation = RecommendInconclusive
			if candidate.Test.Improvement < 0 {
				result.Reason = fmt.Sprintf("control is outperforming: %q converts %.1f%% worse than control",
					candidate.Name, -candidate.Test.Improvement)
			}
		}
		metrics.IncWinnerAnalysis(result.Recommendation)
		return result, nil
	}

	result.Success = true
	result.Winner = best

	ruleResults, passed := EvaluateRules(rules, *best)
	result.RuleResults = ruleResults

	switch {
	case opts.Force, passed:
		result.Recommendation = RecommendImplementWinner
	case failedSampleSize(ruleResults):
		result.Recommendation = RecommendContinueTest
		result.Reason = "winner does not meet the sample size rule"
	default:
		result.Recommendation = RecommendManualReview
		result.Reason = "winner failed business rules"
	}
	metrics.IncWinnerAnalysis(result.Recommendation)

	if result.Recommendation != RecommendImplementWinner || opts.DryRun || !cfg.EnableAutoWinnerSelection {
		return result, nil
	}

	tr := &models.TestResult{
		Significance: best.Test.IsSignificant,
		PValue:       best.Test.PValue,
		Improvement:  best.Test.Improvement,
		ActionTaken:  models.ActionAutoWinner,
	}
	winner := findVariant(vs, best.VariantID)
	if err := s.commit(ctx, campaign, winner, tr, opts.TriggeredBy); err != nil {
		if errors.Is(err, models.ErrCampaignNotRunning) {
			result.Reason = "campaign is no longer running"
			return result, nil
		}
		return nil, err
	}

	result.Committed = true
	result.TestResult = tr
	return result, nil
}

// SelectManually completes a running campaign with the chosen variant. The
// z-test against control is recorded with the result; automation settings are
// not consulted.
func (s *Selector) SelectManually(ctx context.Context, campaignID, variantID, triggeredBy string) (*models.TestResult, error) {
	campaign, err := s.store.GetCampaign(ctx, campaignID)
	if err != nil {
		return nil, fmt.Errorf("failed to get campaign: %w", err)
	}
	if campaign == nil {
		return nil, models.ErrCampaignNotFound
	}
	if campaign.Status != models.CampaignRunning {
		return nil, models.ErrCampaignNotRunning
	}

	vs, err := s.store.ListVariants(ctx, campaignID)
	if err != nil {
		return nil, fmt.Errorf("failed to list variants: %w", err)
	}
	winner := findVariant(vs, variantID)
	if winner == nil {
		return nil, models.ErrVariantNotFound
	}

	stored, err := s.store.GetAutomationConfig(ctx, campaign.SalonID)
	if err != nil {
		return nil, fmt.Errorf("failed to get automation config: %w", err)
	}
	cfg := models.EffectiveAutomationConfiguration(stored, campaign.SalonID)

	tr := &models.TestResult{PValue: 1, ActionTaken: models.ActionManualSelection}
	if control := models.ControlVariant(vs); control != nil && control.ID != winner.ID {
		counters, _, err := s.campaignCounters(ctx, vs)
		if err != nil {
			return nil, err
		}
		test := stats.ZTest(counters[control.ID].Sample(), counters[winner.ID].Sample(), cfg.AutoWinnerConfidenceLevel)
		tr.Significance = test.IsSignificant
		tr.PValue = test.PValue
		tr.Improvement = test.Improvement
	}

	if err := s.commit(ctx, campaign, winner, tr, triggeredBy); err != nil {
		return nil, err
	}
	return tr, nil
}

// RunAutomaticWinnerAnalysis analyses every running campaign of a salon whose
// minimum test duration has elapsed. Per-campaign failures are logged and do
// not stop the run.
func (s *Selector) RunAutomaticWinnerAnalysis(ctx context.Context, salonID string) ([]*Result, error) {
	stored, err := s.store.GetAutomationConfig(ctx, salonID)
	if err != nil {
		return nil, fmt.Errorf("failed to get automation config: %w", err)
	}
	cfg := models.EffectiveAutomationConfiguration(stored, salonID)
	if !cfg.EnableAutoWinnerSelection {
		return nil, nil
	}

	campaigns, err := s.store.ListCampaigns(ctx, models.CampaignListFilter{
		SalonID: salonID,
		Status:  models.CampaignRunning,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list campaigns: %w", err)
	}

	now := s.now()
	var results []*Result
	for i := range campaigns {
		c := &campaigns[i]
		if c.Elapsed(now) < cfg.MinimumTestDuration() {
			continue
		}

		res, err := s.Analyze(ctx, c.ID, Options{TriggeredBy: "scheduler"})
		if err != nil {
			s.logger.Error("winner analysis failed", "salon_id", salonID, "campaign_id", c.ID, "error", err)
			continue
		}
		results = append(results, res)
	}

	s.logger.Info("automatic winner analysis finished",
		"salon_id", salonID,
		"campaigns", len(campaigns),
		"analyzed", len(results),
	)
	return results, nil
}

func (s *Selector) commit(ctx context.Context, campaign *models.TestCampaign, winner *models.Variant, tr *models.TestResult, triggeredBy string) error {
	var tpl *models.Template
	if campaign.BaseTemplateID != "" {
		base, err := s.store.GetTemplate(ctx, campaign.BaseTemplateID)
		if err != nil {
			return fmt.Errorf("failed to get template: %w", err)
		}
		tpl = variants.ApplyOverrides(base, winner)
	}

	err := s.store.CompleteCampaign(ctx, models.WinnerCommit{
		CampaignID:      campaign.ID,
		WinnerVariantID: winner.ID,
		Result:          tr,
		Template:        tpl,
		CompletedAt:     s.now(),
	})
	if err != nil {
		if errors.Is(err, models.ErrCampaignNotRunning) || errors.Is(err, models.ErrCampaignNotFound) || errors.Is(err, models.ErrVariantNotFound) {
			return err
		}
		return fmt.Errorf("failed to commit winner: %w", err)
	}

	metrics.IncWinnerCommitted(tr.ActionTaken)

	entry := actionlog.Entry{
		SalonID:     campaign.SalonID,
		ActionType:  actionlog.ActionWinnerSelected,
		Description: fmt.Sprintf("Variant %s selected as winner of campaign %s", winner.Name, campaign.Name),
		Data: map[string]any{
			"campaign_id":       campaign.ID,
			"winner_variant_id": winner.ID,
			"action_taken":      tr.ActionTaken,
			"p_value":           tr.PValue,
			"improvement":       tr.Improvement,
			"significant":       tr.Significance,
			"template_updated":  tpl != nil,
		},
		TriggeredBy: triggeredBy,
	}
	if err := s.actions.Record(ctx, entry); err != nil {
		s.logger.Error("failed to record action", "campaign_id", campaign.ID, "error", err)
	}

	s.logger.Info("winner committed",
		"campaign_id", campaign.ID,
		"winner_variant_id", winner.ID,
		"action", tr.ActionTaken,
		"improvement", tr.Improvement,
	)
	return nil
}

// campaignCounters aggregates every variant of a campaign from one source:
// the daily snapshots when each variant has at least one, the raw delivery
// history otherwise. Control and variants are never measured differently.
func (s *Selector) campaignCounters(ctx context.Context, vs []models.Variant) (map[string]stats.Counters, string, error) {
	counters := make(map[string]stats.Counters, len(vs))
	for _, v := range vs {
		snaps, err := s.store.ListSnapshots(ctx, v.ID)
		if err != nil {
			return nil, "", fmt.Errorf("failed to list snapshots: %w", err)
		}
		if len(snaps) == 0 {
			return s.deliveryCounters(ctx, vs)
		}
		counters[v.ID] = stats.FromSnapshots(snaps)
	}
	return counters, SourceSnapshots, nil
}

func (s *Selector) deliveryCounters(ctx context.Context, vs []models.Variant) (map[string]stats.Counters, string, error) {
	counters := make(map[string]stats.Counters, len(vs))
	for _, v := range vs {
		records, err := s.store.ListDeliveries(ctx, models.DeliveryFilter{VariantID: v.ID})
		if err != nil {
			return nil, "", fmt.Errorf("failed to list deliveries: %w", err)
		}
		counters[v.ID] = stats.FromDeliveries(records)
	}
	return counters, SourceDeliveries, nil
}

func score(a *Analysis) float64 {
	return a.Test.Improvement * a.Test.Confidence
}

func findVariant(vs []models.Variant, id string) *models.Variant {
	for i := range vs {
		if vs[i].ID == id {
			return &vs[i]
		}
	}
	return nil
}
