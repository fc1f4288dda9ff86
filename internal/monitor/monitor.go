package monitor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/foxzi/sendry-lab/internal/actionlog"
	"github.com/foxzi/sendry-lab/internal/metrics"
	"github.com/foxzi/sendry-lab/internal/models"
	"github.com/foxzi/sendry-lab/internal/notify"
	"github.com/foxzi/sendry-lab/internal/stats"
	"github.com/foxzi/sendry-lab/internal/winner"
)

// ErrAlreadyMonitoring is returned when a campaign already has a monitoring loop
var ErrAlreadyMonitoring = errors.New("campaign is already monitored")

// Store is the record store the monitor needs
type Store interface {
	GetCampaign(ctx context.Context, id string) (*models.TestCampaign, error)
	ListCampaigns(ctx context.Context, filter models.CampaignListFilter) ([]models.TestCampaign, error)
	ListVariants(ctx context.Context, campaignID string) ([]models.Variant, error)
	ListDeliveries(ctx context.Context, filter models.DeliveryFilter) ([]models.DeliveryRecord, error)
	UpsertSnapshot(ctx context.Context, snap *models.MetricSnapshot) error
	ListSnapshots(ctx context.Context, variantID string) ([]models.MetricSnapshot, error)
	GetAutomationConfig(ctx context.Context, salonID string) (*models.AutomationConfiguration, error)
	ListActiveChannels(ctx context.Context, salonID string) ([]models.NotificationChannel, error)
}

// Analyzer runs a winner analysis when an early winner shows up
type Analyzer interface {
	Analyze(ctx context.Context, campaignID string, opts winner.Options) (*winner.Result, error)
}

// CheckResult is the outcome of one monitoring check
type CheckResult struct {
	CampaignID string               `json:"campaign_id"`
	Skipped    bool                 `json:"skipped"`
	Running    bool                 `json:"running"`
	Variants   []VariantPerformance `json:"variants,omitempty"`
	Alerts     []models.Alert       `json:"alerts,omitempty"`
	Dispatched int                  `json:"dispatched"`
	Suppressed int                  `json:"suppressed"`
	Failed     int                  `json:"failed"`
	Winner     *winner.Result       `json:"winner_analysis,omitempty"`
}

// Monitor runs periodic performance checks for running campaigns
type Monitor struct {
	store      Store
	registry   *Registry
	dispatcher notify.Dispatcher
	analyzer   Analyzer
	actions    actionlog.Sink
	logger     *slog.Logger
	now        func() time.Time

	// interval overrides the per-salon check interval when set
	interval time.Duration
}

// New creates a new monitor. analyzer may be nil to disable automatic winner
// analysis on early winners.
func New(store Store, registry *Registry, dispatcher notify.Dispatcher, analyzer Analyzer, actions actionlog.Sink, logger *slog.Logger) *Monitor {
	if registry == nil {
		registry = NewRegistry()
	}
	if actions == nil {
		actions = actionlog.Nop{}
	}
	return &Monitor{
		store:      store,
		registry:   registry,
		dispatcher: dispatcher,
		analyzer:   analyzer,
		actions:    actions,
		logger:     logger.With("component", "monitor"),
		now:        time.Now,
	}
}

// Registry returns the monitor's registry
func (m *Monitor) Registry() *Registry {
	return m.registry
}

// StartMonitoring starts the periodic check loop of a running campaign. It
// reports false without error when monitoring is disabled for the salon.
func (m *Monitor) StartMonitoring(ctx context.Context, campaignID, triggeredBy string) (bool, error) {
	campaign, err := m.store.GetCampaign(ctx, campaignID)
	if err != nil {
		return false, fmt.Errorf("failed to get campaign: %w", err)
	}
	if campaign == nil {
		return false, models.ErrCampaignNotFound
	}

	stored, err := m.store.GetAutomationConfig(ctx, campaign.SalonID)
	if err != nil {
		return false, fmt.Errorf("failed to get automation config: %w", err)
	}
	cfg := models.EffectiveAutomationConfiguration(stored, campaign.SalonID)
	if !cfg.EnablePerformanceMonitoring {
		m.logger.Debug("performance monitoring disabled", "salon_id", campaign.SalonID, "campaign_id", campaignID)
		return false, nil
	}
	if campaign.Status != models.CampaignRunning {
		return false, models.ErrCampaignNotRunning
	}

	interval := cfg.MonitoringInterval()
	if m.interval > 0 {
		interval = m.interval
	}

	loopCtx, cancel := context.WithCancel(context.Background())
	l := &loop{cancel: cancel, done: make(chan struct{})}
	if !m.registry.register(campaignID, l) {
		cancel()
		return false, ErrAlreadyMonitoring
	}
	metrics.SetMonitoredCampaigns(m.registry.Count())

	go m.run(loopCtx, campaignID, interval, l)

	m.record(ctx, campaign.SalonID, actionlog.ActionMonitoringStarted,
		fmt.Sprintf("Started monitoring campaign %s", campaign.Name),
		map[string]any{"campaign_id": campaignID, "interval_minutes": interval.Minutes()},
		triggeredBy,
	)
	m.logger.Info("monitoring started", "campaign_id", campaignID, "interval", interval)
	return true, nil
}

// StopMonitoring cancels the loop of a campaign and waits for it to exit.
// It reports whether the campaign was monitored.
func (m *Monitor) StopMonitoring(ctx context.Context, campaignID, triggeredBy string) bool {
	l := m.registry.remove(campaignID)
	if l == nil {
		return false
	}
	l.cancel()
	<-l.done
	metrics.SetMonitoredCampaigns(m.registry.Count())

	salonID := ""
	if c, err := m.store.GetCampaign(ctx, campaignID); err == nil && c != nil {
		salonID = c.SalonID
	}
	m.record(ctx, salonID, actionlog.ActionMonitoringStopped,
		fmt.Sprintf("Stopped monitoring campaign %s", campaignID),
		map[string]any{"campaign_id": campaignID},
		triggeredBy,
	)
	m.logger.Info("monitoring stopped", "campaign_id", campaignID)
	return true
}

// StopAll cancels every loop and waits for them to exit
func (m *Monitor) StopAll() {
	loops := m.registry.removeAll()
	for _, l := range loops {
		l.cancel()
	}
	for _, l := range loops {
		<-l.done
	}
	metrics.SetMonitoredCampaigns(0)
	if len(loops) > 0 {
		m.logger.Info("all monitoring stopped", "campaigns", len(loops))
	}
}

// ResumeAll starts monitoring for every running campaign. Campaigns of
// salons with monitoring disabled are skipped.
func (m *Monitor) ResumeAll(ctx context.Context) (int, error) {
	campaigns, err := m.store.ListCampaigns(ctx, models.CampaignListFilter{Status: models.CampaignRunning})
	if err != nil {
		return 0, fmt.Errorf("failed to list running campaigns: %w", err)
	}

	started := 0
	for _, c := range campaigns {
		ok, err := m.StartMonitoring(ctx, c.ID, "system")
		if err != nil && !errors.Is(err, ErrAlreadyMonitoring) {
			m.logger.Error("failed to resume monitoring", "campaign_id", c.ID, "error", err)
			continue
		}
		if ok {
			started++
		}
	}
	return started, nil
}

func (m *Monitor) run(ctx context.Context, campaignID string, interval time.Duration, l *loop) {
	defer close(l.done)
	defer func() {
		m.registry.deregister(campaignID, l)
		metrics.SetMonitoredCampaigns(m.registry.Count())
	}()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			res, err := m.CheckCampaign(ctx, campaignID)
			if err != nil {
				if errors.Is(err, models.ErrCampaignNotFound) {
					m.logger.Warn("monitored campaign disappeared", "campaign_id", campaignID)
					return
				}
				if ctx.Err() == nil {
					m.logger.Error("monitoring check failed", "campaign_id", campaignID, "error", err)
				}
				continue
			}
			if !res.Skipped && !res.Running {
				m.logger.Info("campaign no longer running, monitoring ends", "campaign_id", campaignID)
				return
			}
		}
	}
}

// CheckCampaign rebuilds the campaign's daily snapshots, runs the detectors and
// dispatches alerts. A check already in flight for the campaign makes this
// call return Skipped.
func (m *Monitor) CheckCampaign(ctx context.Context, campaignID string) (*CheckResult, error) {
	res := &CheckResult{CampaignID: campaignID}
	if !m.registry.tryBegin(campaignID) {
		res.Skipped = true
		metrics.IncMonitoringCheck("skipped")
		return res, nil
	}
	defer m.registry.end(campaignID)

	start := time.Now()
	err := m.check(ctx, res)
	metrics.ObserveMonitoringCheck(time.Since(start).Seconds())
	if err != nil {
		metrics.IncMonitoringCheck("error")
		return nil, err
	}
	metrics.IncMonitoringCheck("ok")
	return res, nil
}

func (m *Monitor) check(ctx context.Context, res *CheckResult) error {
	campaign, err := m.store.GetCampaign(ctx, res.CampaignID)
	if err != nil {
		return fmt.Errorf("failed to get campaign: %w", err)
	}
	if campaign == nil {
		return models.ErrCampaignNotFound
	}
	if campaign.Status != models.CampaignRunning {
		return nil
	}
	res.Running = true

	stored, err := m.store.GetAutomationConfig(ctx, campaign.SalonID)
	if err != nil {
		return fmt.Errorf("failed to get automation config: %w", err)
	}
	cfg := models.EffectiveAutomationConfiguration(stored, campaign.SalonID)

	vs, err := m.store.ListVariants(ctx, campaign.ID)
	if err != nil {
		return fmt.Errorf("failed to list variants: %w", err)
	}
	if len(vs) == 0 {
		return nil
	}

	now := m.now().UTC()
	if err := m.refreshSnapshots(ctx, campaign, vs, now); err != nil {
		return err
	}

	perf, err := m.performance(ctx, vs)
	if err != nil {
		return err
	}
	res.Variants = perf

	in := detectInput{
		campaign: campaign,
		cfg:      cfg,
		variants: perf,
		now:      now,
	}
	if control := models.ControlVariant(vs); control != nil {
		for i := range perf {
			if perf[i].VariantID == control.ID {
				in.control = &perf[i]
			}
		}
	}

	earlyWinner := false
	for _, detect := range detectors {
		if a := detect(in); a != nil {
			res.Alerts = append(res.Alerts, *a)
			if a.Type == models.AlertEarlyWinner {
				earlyWinner = true
			}
		}
	}

	if earlyWinner && cfg.EnableAutoWinnerSelection && m.analyzer != nil {
		wr, err := m.analyzer.Analyze(ctx, campaign.ID, winner.Options{TriggeredBy: "monitor"})
		if err != nil {
			m.logger.Error("winner analysis failed", "campaign_id", campaign.ID, "error", err)
		} else {
			res.Winner = wr
		}
	}

	if len(res.Alerts) > 0 {
		m.dispatch(ctx, campaign, cfg, res)
	}

	m.logger.Debug("monitoring check complete",
		"campaign_id", campaign.ID,
		"variants", len(perf),
		"alerts", len(res.Alerts),
	)
	return nil
}

// refreshSnapshots rebuilds the daily snapshots of every variant from the
// delivery history since the campaign started. A record belongs to the UTC day
// it was sent, so deliveries ingested late and events that arrive after
// midnight still land in their day.
func (m *Monitor) refreshSnapshots(ctx context.Context, campaign *models.TestCampaign, vs []models.Variant, now time.Time) error {
	var since time.Time
	if campaign.StartedAt != nil {
		since = utcDay(*campaign.StartedAt)
	}
	until := utcDay(now).Add(24 * time.Hour)

	for _, v := range vs {
		records, err := m.store.ListDeliveries(ctx, models.DeliveryFilter{
			VariantID: v.ID,
			Since:     since,
			Until:     until,
		})
		if err != nil {
			return fmt.Errorf("failed to list deliveries: %w", err)
		}

		byDay := make(map[string][]models.DeliveryRecord)
		for _, r := range records {
			sent := r.CreatedAt
			if r.SentAt != nil {
				sent = *r.SentAt
			}
			date := sent.UTC().Format(models.SnapshotDateLayout)
			byDay[date] = append(byDay[date], r)
		}

		dates := make([]string, 0, len(byDay))
		for date := range byDay {
			dates = append(dates, date)
		}
		sort.Strings(dates)

		for _, date := range dates {
			snap := stats.FromDeliveries(byDay[date]).Snapshot(v.ID, date)
			if err := m.store.UpsertSnapshot(ctx, &snap); err != nil {
				return fmt.Errorf("failed to upsert snapshot: %w", err)
			}
		}
	}
	return nil
}

// utcDay returns the start of the UTC day containing t
func utcDay(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

func (m *Monitor) performance(ctx context.Context, vs []models.Variant) ([]VariantPerformance, error) {
	perf := make([]VariantPerformance, 0, len(vs))
	for _, v := range vs {
		snaps, err := m.store.ListSnapshots(ctx, v.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to list snapshots: %w", err)
		}
		counters := stats.FromSnapshots(snaps)
		perf = append(perf, VariantPerformance{
			VariantID: v.ID,
			Name:      v.Name,
			IsControl: v.IsControl,
			Counters:  counters,
			Rates:     counters.Rates(),
		})
	}
	return perf, nil
}

var severityRank = map[models.Severity]int{
	models.SeverityCritical: 0,
	models.SeverityHigh:     1,
	models.SeverityMedium:   2,
	models.SeverityLow:      3,
}

// dispatch sends alerts to the salon's active channels, most severe first.
// A channel in cooldown is skipped for that alert only.
func (m *Monitor) dispatch(ctx context.Context, campaign *models.TestCampaign, cfg *models.AutomationConfiguration, res *CheckResult) {
	channels, err := m.store.ListActiveChannels(ctx, campaign.SalonID)
	if err != nil {
		m.logger.Error("failed to list notification channels", "salon_id", campaign.SalonID, "error", err)
		return
	}

	sort.SliceStable(res.Alerts, func(i, j int) bool {
		return severityRank[res.Alerts[i].Severity] < severityRank[res.Alerts[j].Severity]
	})

	for i := range res.Alerts {
		alert := &res.Alerts[i]
		var sent, suppressed, failed []string

		for _, ch := range channels {
			// nothing leaves after the loop has been stopped
			if ctx.Err() != nil {
				return
			}
			if !m.registry.AllowAlert(channelKey(campaign.SalonID, ch.ID), m.now(), cfg.AlertCooldown()) {
				suppressed = append(suppressed, ch.ID)
				res.Suppressed++
				metrics.IncAlertSuppressed(string(alert.Type), ch.Type)
				continue
			}
			if err := m.send(ctx, alert, campaign, ch); err != nil {
				failed = append(failed, ch.ID)
				res.Failed++
				metrics.IncAlertFailed(string(alert.Type), ch.Type)
				m.logger.Error("failed to dispatch alert",
					"campaign_id", campaign.ID,
					"channel_id", ch.ID,
					"alert_type", alert.Type,
					"error", err,
				)
				continue
			}
			sent = append(sent, ch.ID)
			res.Dispatched++
			metrics.IncAlertDispatched(string(alert.Type), ch.Type)
		}

		data := map[string]any{
			"campaign_id":         campaign.ID,
			"alert_type":          string(alert.Type),
			"severity":            string(alert.Severity),
			"variant_id":          alert.VariantID,
			"dispatched_channels": sent,
			"suppressed_channels": suppressed,
			"failed_channels":     failed,
		}
		for k, v := range alert.Data {
			data[k] = v
		}
		status := actionlog.StatusCompleted
		if len(failed) > 0 && len(sent) == 0 {
			status = actionlog.StatusFailed
		}
		entry := actionlog.Entry{
			SalonID:     campaign.SalonID,
			ActionType:  actionlog.ActionAlert,
			Description: alert.Message,
			Data:        data,
			TriggeredBy: "monitor",
			Status:      status,
		}
		if err := m.actions.Record(ctx, entry); err != nil {
			m.logger.Error("failed to record action", "campaign_id", campaign.ID, "error", err)
		}
	}
}

func (m *Monitor) send(ctx context.Context, alert *models.Alert, campaign *models.TestCampaign, ch models.NotificationChannel) error {
	if m.dispatcher == nil {
		return notify.ErrChannelNotConfigured
	}
	msg, err := notify.RenderAlert(alert, campaign.Name, ch.Type, ch.Destination)
	if err != nil {
		return err
	}
	return m.dispatcher.Send(ctx, msg)
}

func (m *Monitor) record(ctx context.Context, salonID, actionType, description string, data map[string]any, triggeredBy string) {
	entry := actionlog.Entry{
		SalonID:     salonID,
		ActionType:  actionType,
		Description: description,
		Data:        data,
		TriggeredBy: triggeredBy,
	}
	if err := m.actions.Record(ctx, entry); err != nil {
		m.logger.Error("failed to record action", "action_type", actionType, "error", err)
	}
}
