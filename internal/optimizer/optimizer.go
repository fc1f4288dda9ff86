// Package optimizer turns a salon's delivery history into ranked, expiring
// optimization recommendations.
package optimizer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/foxzi/sendry-lab/internal/actionlog"
	"github.com/foxzi/sendry-lab/internal/metrics"
	"github.com/foxzi/sendry-lab/internal/models"
)

// DefaultTTL is how long a recommendation stays active
const DefaultTTL = 7 * 24 * time.Hour

// ErrInvalidWindow is returned for an unknown history window
var ErrInvalidWindow = errors.New("invalid history window")

// Window is the trailing history range an optimization run reads
type Window string

const (
	Window7d  Window = "7d"
	Window30d Window = "30d"
	Window90d Window = "90d"
	WindowAll Window = "all"
)

// ParseWindow validates a window name. Empty means 30d.
func ParseWindow(s string) (Window, error) {
	switch w := Window(s); w {
	case "":
		return Window30d, nil
	case Window7d, Window30d, Window90d, WindowAll:
		return w, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidWindow, s)
}

// Duration returns the length of the window. "all" is capped at one year.
func (w Window) Duration() time.Duration {
	day := 24 * time.Hour
	switch w {
	case Window7d:
		return 7 * day
	case Window90d:
		return 90 * day
	case WindowAll:
		return 365 * day
	default:
		return 30 * day
	}
}

// typeWeights scale expected improvement into an impact score
var typeWeights = map[models.RecommendationType]float64{
	models.RecommendContent:   0.9,
	models.RecommendAudience:  0.8,
	models.RecommendFrequency: 0.75,
	models.RecommendSendTime:  0.7,
	models.RecommendChannel:   0.6,
}

// Store is the record store the optimizer needs
type Store interface {
	GetAutomationConfig(ctx context.Context, salonID string) (*models.AutomationConfiguration, error)
	ListDeliveries(ctx context.Context, filter models.DeliveryFilter) ([]models.DeliveryRecord, error)
	ListTemplates(ctx context.Context, salonID string) ([]models.Template, error)
	CreateRecommendation(ctx context.Context, r *models.OptimizationRecommendation) error
	ListRecommendations(ctx context.Context, filter models.RecommendationFilter) ([]models.OptimizationRecommendation, error)
}

// Options narrows an optimization run
type Options struct {
	Window      Window
	CampaignID  string
	TriggeredBy string
}

// history is the input shared by every analysis
type history struct {
	salonID    string
	campaignID string
	deliveries []models.DeliveryRecord
	templates  map[string]*models.Template
}

// analysis produces at most one recommendation from history
type analysis func(h *history) *models.OptimizationRecommendation

// Optimizer generates optimization recommendations
type Optimizer struct {
	store   Store
	ttl     time.Duration
	actions actionlog.Sink
	logger  *slog.Logger
	now     func() time.Time
}

// New creates an optimizer. A zero ttl uses DefaultTTL.
func New(store Store, ttl time.Duration, actions actionlog.Sink, logger *slog.Logger) *Optimizer {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if actions == nil {
		actions = actionlog.Nop{}
	}
	return &Optimizer{
		store:   store,
		ttl:     ttl,
		actions: actions,
		logger:  logger.With("component", "optimizer"),
		now:     time.Now,
	}
}

// GenerateOptimizations analyzes the salon's history and persists the
// resulting recommendations, best first. It returns an empty slice when
// optimization is disabled for the salon.
func (o *Optimizer) GenerateOptimizations(ctx context.Context, salonID string, opts Options) ([]models.OptimizationRecommendation, error) {
	stored, err := o.store.GetAutomationConfig(ctx, salonID)
	if err != nil {
		return nil, fmt.Errorf("failed to get automation config: %w", err)
	}
	cfg := models.EffectiveAutomationConfiguration(stored, salonID)
	if !cfg.EnableCampaignOptimization {
		o.logger.Debug("campaign optimization disabled", "salon_id", salonID)
		return []models.OptimizationRecommendation{}, nil
	}

	window := opts.Window
	if window == "" {
		window = Window30d
	}
	now := o.now().UTC()

	h, err := o.load(ctx, salonID, opts.CampaignID, now.Add(-window.Duration()))
	if err != nil {
		return nil, err
	}

	analyses := []analysis{
		analyzeSendTime,
		analyzeAudience,
		analyzeContent,
		analyzeChannel,
		analyzeFrequency,
	}

	recs := []models.OptimizationRecommendation{}
	for _, analyze := range analyses {
		rec := analyze(h)
		if rec == nil {
			continue
		}
		score(rec)
		rec.ID = uuid.New().String()
		rec.SalonID = salonID
		rec.CampaignID = opts.CampaignID
		rec.Status = models.RecommendationActive
		rec.CreatedAt = now
		rec.ExpiresAt = now.Add(o.ttl)
		recs = append(recs, *rec)
	}

	sort.SliceStable(recs, func(i, j int) bool {
		return recs[i].ImpactScore*recs[i].ConfidenceScore > recs[j].ImpactScore*recs[j].ConfidenceScore
	})

	triggeredBy := opts.TriggeredBy
	if triggeredBy == "" {
		triggeredBy = "system"
	}
	for i := range recs {
		rec := &recs[i]
		if err := o.store.CreateRecommendation(ctx, rec); err != nil {
			return nil, fmt.Errorf("failed to save recommendation: %w", err)
		}
		metrics.IncRecommendation(string(rec.Type))

		entry := actionlog.Entry{
			SalonID:     salonID,
			ActionType:  actionlog.ActionOptimizationGenerated,
			Description: rec.Title,
			Data: map[string]any{
				"recommendation_id":    rec.ID,
				"recommendation_type":  string(rec.Type),
				"campaign_id":          rec.CampaignID,
				"window":               string(window),
				"expected_improvement": rec.ExpectedImprovement,
				"confidence_score":     rec.ConfidenceScore,
				"priority":             rec.Priority,
			},
			TriggeredBy: triggeredBy,
		}
		if err := o.actions.Record(ctx, entry); err != nil {
			o.logger.Error("failed to record action", "salon_id", salonID, "error", err)
		}
	}

	o.logger.Info("optimizations generated",
		"salon_id", salonID,
		"window", window,
		"deliveries", len(h.deliveries),
		"recommendations", len(recs),
	)
	return recs, nil
}

// Recommendations lists stored recommendations
func (o *Optimizer) Recommendations(ctx context.Context, filter models.RecommendationFilter) ([]models.OptimizationRecommendation, error) {
	recs, err := o.store.ListRecommendations(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to list recommendations: %w", err)
	}
	return recs, nil
}

// load reads the delivery history and the salon's templates concurrently
func (o *Optimizer) load(ctx context.Context, salonID, campaignID string, since time.Time) (*history, error) {
	h := &history{
		salonID:    salonID,
		campaignID: campaignID,
		templates:  make(map[string]*models.Template),
	}
	var templates []models.Template

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		records, err := o.store.ListDeliveries(gctx, models.DeliveryFilter{
			SalonID:    salonID,
			CampaignID: campaignID,
			Since:      since,
		})
		if err != nil {
			return fmt.Errorf("failed to load delivery history: %w", err)
		}
		h.deliveries = records
		return nil
	})
	g.Go(func() error {
		list, err := o.store.ListTemplates(gctx, salonID)
		if err != nil {
			return fmt.Errorf("failed to load templates: %w", err)
		}
		templates = list
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	for i := range templates {
		h.templates[templates[i].ID] = &templates[i]
	}
	return h, nil
}

// score fills ImpactScore and Priority from the expected improvement and
// confidence of a recommendation
func score(rec *models.OptimizationRecommendation) {
	expected := rec.ExpectedImprovement / 100

	impact := expected * typeWeights[rec.Type]
	if impact > 1 {
		impact = 1
	}
	if impact < 0 {
		impact = 0
	}
	rec.ImpactScore = impact

	s := expected * rec.ConfidenceScore
	switch {
	case s >= 0.2:
		rec.Priority = 9
	case s >= 0.15:
		rec.Priority = 7
	case s >= 0.1:
		rec.Priority = 5
	default:
		rec.Priority = 3
	}
}
