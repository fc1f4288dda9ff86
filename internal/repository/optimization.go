package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/foxzi/sendry-lab/internal/models"
	"github.com/google/uuid"
)

// CreateRecommendation stores an optimization recommendation
func (s *Store) CreateRecommendation(ctx context.Context, r *models.OptimizationRecommendation) error {
	r.ID = uuid.New().String()
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now()
	}
	r.CreatedAt = r.CreatedAt.UTC()
	r.ExpiresAt = r.ExpiresAt.UTC()
	if r.Status == "" {
		r.Status = models.RecommendationActive
	}

	data, err := encodeJSON(r.Data)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO optimization_recommendations (id, salon_id, campaign_id, recommendation_type, title, description, data, confidence_score, expected_improvement, impact_score, priority, status, expires_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.SalonID, nullString(r.CampaignID), r.Type, r.Title, r.Description, data,
		r.ConfidenceScore, r.ExpectedImprovement, r.ImpactScore, r.Priority, r.Status, r.ExpiresAt, r.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create recommendation: %w", err)
	}
	return nil
}

// ListRecommendations returns recommendations ordered by priority
func (s *Store) ListRecommendations(ctx context.Context, filter models.RecommendationFilter) ([]models.OptimizationRecommendation, error) {
	query := `
		SELECT id, salon_id, campaign_id, recommendation_type, title, description, data, confidence_score, expected_improvement, impact_score, priority, status, expires_at, created_at
		FROM optimization_recommendations WHERE 1=1`
	args := []any{}

	if filter.SalonID != "" {
		query += " AND salon_id = ?"
		args = append(args, filter.SalonID)
	}
	if filter.CampaignID != "" {
		query += " AND campaign_id = ?"
		args = append(args, filter.CampaignID)
	}
	if filter.Status != "" {
		query += " AND status = ?"
		args = append(args, filter.Status)
	}
	query += " ORDER BY priority DESC, impact_score * confidence_score DESC, created_at DESC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	recs := []models.OptimizationRecommendation{}
	for rows.Next() {
		var r models.OptimizationRecommendation
		var campaignID, description, data sql.NullString
		err := rows.Scan(&r.ID, &r.SalonID, &campaignID, &r.Type, &r.Title, &description, &data,
			&r.ConfidenceScore, &r.ExpectedImprovement, &r.ImpactScore, &r.Priority, &r.Status, &r.ExpiresAt, &r.CreatedAt)
		if err != nil {
			return nil, err
		}
		if err := decodeJSON(data, &r.Data); err != nil {
			return nil, err
		}
		r.CampaignID = campaignID.String
		r.Description = description.String
		recs = append(recs, r)
	}
	return recs, rows.Err()
}

// ExpireRecommendations marks active recommendations past their expiry as expired
func (s *Store) ExpireRecommendations(ctx context.Context, now time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE optimization_recommendations SET status = ?
		WHERE status = ? AND expires_at <= ?`,
		models.RecommendationExpired, models.RecommendationActive, now.UTC(),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to expire recommendations: %w", err)
	}
	return res.RowsAffected()
}

// GetAutomationConfig returns the stored configuration of a salon
func (s *Store) GetAutomationConfig(ctx context.Context, salonID string) (*models.AutomationConfiguration, error) {
	c := &models.AutomationConfiguration{}
	err := s.db.QueryRowContext(ctx, `
		SELECT salon_id, enable_variant_generation, enable_performance_monitoring, enable_auto_winner_selection, enable_campaign_optimization,
			auto_winner_confidence_level, minimum_sample_size, minimum_test_duration_hours, monitoring_interval_minutes,
			max_variants_per_test, performance_alert_threshold, alert_cooldown_minutes, updated_at
		FROM automation_configurations WHERE salon_id = ?`, salonID,
	).Scan(&c.SalonID, &c.EnableVariantGeneration, &c.EnablePerformanceMonitoring, &c.EnableAutoWinnerSelection,
		&c.EnableCampaignOptimization, &c.AutoWinnerConfidenceLevel, &c.MinimumSampleSize, &c.MinimumTestDurationHours,
		&c.MonitoringIntervalMinutes, &c.MaxVariantsPerTest, &c.PerformanceAlertThreshold, &c.AlertCooldownMinutes, &c.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return c, nil
}

// SaveAutomationConfig inserts or replaces the configuration of a salon
func (s *Store) SaveAutomationConfig(ctx context.Context, c *models.AutomationConfiguration) error {
	c.ApplyDefaults()
	c.UpdatedAt = time.Now().UTC()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO automation_configurations (salon_id, enable_variant_generation, enable_performance_monitoring, enable_auto_winner_selection,
			enable_campaign_optimization, auto_winner_confidence_level, minimum_sample_size, minimum_test_duration_hours,
			monitoring_interval_minutes, max_variants_per_test, performance_alert_threshold, alert_cooldown_minutes, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(salon_id) DO UPDATE SET
			enable_variant_generation = excluded.enable_variant_generation,
			enable_performance_monitoring = excluded.enable_performance_monitoring,
			enable_auto_winner_selection = excluded.enable_auto_winner_selection,
			enable_campaign_optimization = excluded.enable_campaign_optimization,
			auto_winner_confidence_level = excluded.auto_winner_confidence_level,
			minimum_sample_size = excluded.minimum_sample_size,
			minimum_test_duration_hours = excluded.minimum_test_duration_hours,
			monitoring_interval_minutes = excluded.monitoring_interval_minutes,
			max_variants_per_test = excluded.max_variants_per_test,
			performance_alert_threshold = excluded.performance_alert_threshold,
			alert_cooldown_minutes = excluded.alert_cooldown_minutes,
			updated_at = excluded.updated_at`,
		c.SalonID, c.EnableVariantGeneration, c.EnablePerformanceMonitoring, c.EnableAutoWinnerSelection,
		c.EnableCampaignOptimization, c.AutoWinnerConfidenceLevel, c.MinimumSampleSize, c.MinimumTestDurationHours,
		c.MonitoringIntervalMinutes, c.MaxVariantsPerTest, c.PerformanceAlertThreshold, c.AlertCooldownMinutes, c.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save automation configuration: %w", err)
	}
	return nil
}

// ListSalonIDs returns every salon with a stored automation configuration
func (s *Store) ListSalonIDs(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT salon_id FROM automation_configurations ORDER BY salon_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	ids := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// CreateNotificationChannel adds an alert channel to a salon
func (s *Store) CreateNotificationChannel(ctx context.Context, ch *models.NotificationChannel) error {
	ch.ID = uuid.New().String()
	ch.CreatedAt = time.Now().UTC()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO notification_channels (id, salon_id, type, destination, active, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		ch.ID, ch.SalonID, ch.Type, ch.Destination, ch.Active, ch.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create notification channel: %w", err)
	}
	return nil
}

// ListActiveChannels returns the active alert channels of a salon
func (s *Store) ListActiveChannels(ctx context.Context, salonID string) ([]models.NotificationChannel, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, salon_id, type, destination, active, created_at
		FROM notification_channels WHERE salon_id = ? AND active = 1
		ORDER BY created_at`, salonID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	channels := []models.NotificationChannel{}
	for rows.Next() {
		var ch models.NotificationChannel
		if err := rows.Scan(&ch.ID, &ch.SalonID, &ch.Type, &ch.Destination, &ch.Active, &ch.CreatedAt); err != nil {
			return nil, err
		}
		channels = append(channels, ch)
	}
	return channels, rows.Err()
}
