package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/foxzi/sendry-lab/internal/models"
	"github.com/google/uuid"
)

// UpsertSnapshot writes the counters of a variant for one calendar day.
// A second write for the same (variant, date) replaces the counters.
func (s *Store) UpsertSnapshot(ctx context.Context, snap *models.MetricSnapshot) error {
	if snap.ID == "" {
		snap.ID = uuid.New().String()
	}
	snap.UpdatedAt = time.Now().UTC()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO metric_snapshots (id, variant_id, snapshot_date, sent_count, delivered_count, open_count, click_count, conversion_count, bounce_count, participant_count, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(variant_id, snapshot_date) DO UPDATE SET
			sent_count = excluded.sent_count,
			delivered_count = excluded.delivered_count,
			open_count = excluded.open_count,
			click_count = excluded.click_count,
			conversion_count = excluded.conversion_count,
			bounce_count = excluded.bounce_count,
			participant_count = excluded.participant_count,
			updated_at = excluded.updated_at`,
		snap.ID, snap.VariantID, snap.Date, snap.Sent, snap.Delivered, snap.Opened, snap.Clicked,
		snap.Conversions, snap.Bounced, snap.Participants, snap.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert snapshot: %w", err)
	}
	return nil
}

// ListSnapshots returns every daily snapshot of a variant, oldest first
func (s *Store) ListSnapshots(ctx context.Context, variantID string) ([]models.MetricSnapshot, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, variant_id, snapshot_date, sent_count, delivered_count, open_count, click_count, conversion_count, bounce_count, participant_count, updated_at
		FROM metric_snapshots WHERE variant_id = ?
		ORDER BY snapshot_date`, variantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	snapshots := []models.MetricSnapshot{}
	for rows.Next() {
		var m models.MetricSnapshot
		err := rows.Scan(&m.ID, &m.VariantID, &m.Date, &m.Sent, &m.Delivered, &m.Opened, &m.Clicked,
			&m.Conversions, &m.Bounced, &m.Participants, &m.UpdatedAt)
		if err != nil {
			return nil, err
		}
		snapshots = append(snapshots, m)
	}
	return snapshots, rows.Err()
}

// CreateDelivery stores a raw delivery record
func (s *Store) CreateDelivery(ctx context.Context, d *models.DeliveryRecord) error {
	if d.ID == "" {
		d.ID = uuid.New().String()
	}
	if d.CreatedAt.IsZero() {
		d.CreatedAt = time.Now()
	}
	d.CreatedAt = d.CreatedAt.UTC()
	if d.Channel == "" {
		d.Channel = models.ChannelEmail
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO delivery_history (id, salon_id, campaign_id, variant_id, template_id, customer_id, segment, channel, status, subject, sent_at, opened_at, clicked_at, booking_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		d.ID, d.SalonID, nullString(d.CampaignID), nullString(d.VariantID), nullString(d.TemplateID),
		nullString(d.CustomerID), nullString(d.Segment), d.Channel, d.Status, nullString(d.Subject),
		utcPtr(d.SentAt), utcPtr(d.OpenedAt), utcPtr(d.ClickedAt), nullString(d.BookingID), d.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create delivery record: %w", err)
	}
	return nil
}

// ListDeliveries returns delivery records matching the filter.
// Since/Until apply to the send time, falling back to the creation time.
func (s *Store) ListDeliveries(ctx context.Context, filter models.DeliveryFilter) ([]models.DeliveryRecord, error) {
	query := `
		SELECT id, salon_id, campaign_id, variant_id, template_id, customer_id, segment, channel, status, subject, sent_at, opened_at, clicked_at, booking_id, created_at
		FROM delivery_history WHERE 1=1`
	args := []any{}

	for _, f := range []struct {
		column string
		value  string
	}{
		{"salon_id", filter.SalonID},
		{"campaign_id", filter.CampaignID},
		{"variant_id", filter.VariantID},
		{"template_id", filter.TemplateID},
		{"segment", filter.Segment},
	} {
		if f.value != "" {
			query += " AND " + f.column + " = ?"
			args = append(args, f.value)
		}
	}
	if !filter.Since.IsZero() {
		query += " AND COALESCE(sent_at, created_at) >= ?"
		args = append(args, filter.Since.UTC())
	}
	if !filter.Until.IsZero() {
		query += " AND COALESCE(sent_at, created_at) < ?"
		args = append(args, filter.Until.UTC())
	}
	query += " ORDER BY created_at"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	records := []models.DeliveryRecord{}
	for rows.Next() {
		var d models.DeliveryRecord
		var campaignID, variantID, templateID, customerID, segment, subject, bookingID sql.NullString
		err := rows.Scan(&d.ID, &d.SalonID, &campaignID, &variantID, &templateID, &customerID, &segment,
			&d.Channel, &d.Status, &subject, &d.SentAt, &d.OpenedAt, &d.ClickedAt, &bookingID, &d.CreatedAt)
		if err != nil {
			return nil, err
		}
		d.CampaignID = campaignID.String
		d.VariantID = variantID.String
		d.TemplateID = templateID.String
		d.CustomerID = customerID.String
		d.Segment = segment.String
		d.Subject = subject.String
		d.BookingID = bookingID.String
		records = append(records, d)
	}
	return records, rows.Err()
}
