package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/foxzi/sendry-lab/internal/models"
	"github.com/google/uuid"
)

// CreateVariant adds a variant to a campaign
func (s *Store) CreateVariant(ctx context.Context, v *models.Variant) error {
	v.ID = uuid.New().String()
	if v.CreatedAt.IsZero() {
		v.CreatedAt = time.Now()
	}
	v.CreatedAt = v.CreatedAt.UTC()
	if v.Status == "" {
		v.Status = models.VariantActive
	}

	overrides, err := encodeJSON(v.TemplateOverrides)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO variants (id, campaign_id, name, is_control, template_overrides, channel_override, audience_percentage, priority, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		v.ID, v.CampaignID, v.Name, v.IsControl, overrides, nullString(v.ChannelOverride),
		v.AudiencePercentage, v.Priority, v.Status, v.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create variant: %w", err)
	}
	return nil
}

// ListVariants returns the variants of a campaign in creation order
func (s *Store) ListVariants(ctx context.Context, campaignID string) ([]models.Variant, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, campaign_id, name, is_control, template_overrides, channel_override, audience_percentage, priority, status, created_at
		FROM variants WHERE campaign_id = ?
		ORDER BY created_at, priority, id`, campaignID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	variants := []models.Variant{}
	for rows.Next() {
		var v models.Variant
		var overrides, channel sql.NullString
		err := rows.Scan(&v.ID, &v.CampaignID, &v.Name, &v.IsControl, &overrides, &channel,
			&v.AudiencePercentage, &v.Priority, &v.Status, &v.CreatedAt)
		if err != nil {
			return nil, err
		}
		if err := decodeJSON(overrides, &v.TemplateOverrides); err != nil {
			return nil, err
		}
		v.ChannelOverride = channel.String
		variants = append(variants, v)
	}
	return variants, rows.Err()
}
