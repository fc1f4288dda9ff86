package variants

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/foxzi/sendry-lab/internal/actionlog"
	"github.com/foxzi/sendry-lab/internal/metrics"
	"github.com/foxzi/sendry-lab/internal/models"
)

// Store is the record store the generator needs
type Store interface {
	GetCampaign(ctx context.Context, id string) (*models.TestCampaign, error)
	GetTemplate(ctx context.Context, id string) (*models.Template, error)
	ListVariants(ctx context.Context, campaignID string) ([]models.Variant, error)
	CreateVariant(ctx context.Context, v *models.Variant) error
	GetAutomationConfig(ctx context.Context, salonID string) (*models.AutomationConfiguration, error)

	ListRules(ctx context.Context, salonID string) ([]models.VariantRule, error)
	GetRule(ctx context.Context, id string) (*models.VariantRule, error)
	CreateRule(ctx context.Context, r *models.VariantRule) error
	UpdateRule(ctx context.Context, r *models.VariantRule) error
	DeleteRule(ctx context.Context, id string) error
}

// Request describes a generation run
type Request struct {
	TestType    models.TestType `json:"test_type,omitempty"` // defaults to the campaign's
	Audience    Audience        `json:"audience"`
	TriggeredBy string          `json:"triggered_by,omitempty"`
}

// Generator persists generated variants for draft campaigns
type Generator struct {
	store   Store
	actions actionlog.Sink
	logger  *slog.Logger
	now     func() time.Time
}

// NewGenerator creates a new variant generator
func NewGenerator(store Store, actions actionlog.Sink, logger *slog.Logger) *Generator {
	if actions == nil {
		actions = actionlog.Nop{}
	}
	return &Generator{
		store:   store,
		actions: actions,
		logger:  logger.With("component", "variants"),
		now:     time.Now,
	}
}

// GenerateVariants creates variants for a draft campaign from the salon's
// rules. It returns the created variants, control included when one had to be
// added, and nothing when variant generation is disabled for the salon.
func (g *Generator) GenerateVariants(ctx context.Context, campaignID string, req Request) ([]models.Variant, error) {
	campaign, err := g.store.GetCampaign(ctx, campaignID)
	if err != nil {
		return nil, fmt.Errorf("failed to get campaign: %w", err)
	}
	if campaign == nil {
		return nil, models.ErrCampaignNotFound
	}

	stored, err := g.store.GetAutomationConfig(ctx, campaign.SalonID)
	if err != nil {
		return nil, fmt.Errorf("failed to get automation config: %w", err)
	}
	cfg := models.EffectiveAutomationConfiguration(stored, campaign.SalonID)
	if !cfg.EnableVariantGeneration {
		g.logger.Debug("variant generation disabled", "salon_id", campaign.SalonID, "campaign_id", campaignID)
		return nil, nil
	}

	if campaign.Status != models.CampaignDraft {
		return nil, models.ErrCampaignNotDraft
	}

	testType := req.TestType
	if testType == "" {
		testType = campaign.TestType
	}
	if !testType.Valid() {
		return nil, fmt.Errorf("unknown test type %q", testType)
	}

	if campaign.BaseTemplateID == "" {
		return nil, models.ErrTemplateNotFound
	}
	base, err := g.store.GetTemplate(ctx, campaign.BaseTemplateID)
	if err != nil {
		return nil, fmt.Errorf("failed to get template: %w", err)
	}
	if base == nil {
		return nil, models.ErrTemplateNotFound
	}

	existing, err := g.store.ListVariants(ctx, campaignID)
	if err != nil {
		return nil, fmt.Errorf("failed to list variants: %w", err)
	}
	needControl := models.ControlVariant(existing) == nil

	slots := cfg.MaxVariantsPerTest - len(existing)
	if needControl {
		slots--
	}
	if slots < 1 {
		g.logger.Info("campaign has no free variant slots",
			"campaign_id", campaignID,
			"existing", len(existing),
			"max_variants", cfg.MaxVariantsPerTest,
		)
		return nil, nil
	}

	rules, err := g.store.ListRules(ctx, campaign.SalonID)
	if err != nil {
		return nil, fmt.Errorf("failed to list rules: %w", err)
	}

	candidates := Generate(base, testType, req.Audience, rules, slots+1)
	if len(candidates) == 0 {
		return nil, nil
	}

	now := g.now().UTC()
	priority := len(existing)
	var created []models.Variant

	create := func(v models.Variant) error {
		priority++
		v.CampaignID = campaignID
		v.Priority = priority
		v.Status = models.VariantActive
		// staggered so control resolution by creation time stays stable
		v.CreatedAt = now.Add(time.Duration(priority) * time.Millisecond)
		if err := g.store.CreateVariant(ctx, &v); err != nil {
			return fmt.Errorf("failed to create variant: %w", err)
		}
		created = append(created, v)
		return nil
	}

	if needControl {
		if err := create(models.Variant{
			Name:               "Control",
			IsControl:          true,
			AudiencePercentage: candidates[0].AudiencePercentage,
		}); err != nil {
			return created, err
		}
	}

	for _, c := range candidates {
		if err := create(models.Variant{
			Name:               c.Name,
			TemplateOverrides:  c.TemplateOverrides,
			ChannelOverride:    c.ChannelOverride,
			AudiencePercentage: c.AudiencePercentage,
		}); err != nil {
			return created, err
		}
	}

	metrics.AddVariantsGenerated(string(testType), len(candidates))

	ids := make([]string, 0, len(created))
	for _, v := range created {
		ids = append(ids, v.ID)
	}
	entry := actionlog.Entry{
		SalonID:     campaign.SalonID,
		ActionType:  actionlog.ActionVariantsGenerated,
		Description: fmt.Sprintf("Generated %d %s variants for campaign %s", len(candidates), testType, campaign.Name),
		Data: map[string]any{
			"campaign_id": campaignID,
			"test_type":   string(testType),
			"segment":     req.Audience.Segment,
			"variant_ids": ids,
		},
		TriggeredBy: req.TriggeredBy,
	}
	if err := g.actions.Record(ctx, entry); err != nil {
		g.logger.Error("failed to record action", "campaign_id", campaignID, "error", err)
	}

	g.logger.Info("variants generated",
		"campaign_id", campaignID,
		"test_type", testType,
		"count", len(candidates),
		"control_created", needControl,
	)
	return created, nil
}
