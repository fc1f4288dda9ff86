package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/foxzi/sendry-lab/internal/models"
	"github.com/google/uuid"
)

const campaignColumns = `id, salon_id, name, base_template_id, test_type, status, started_at, completed_at, created_at, updated_at`

func scanCampaign(row interface{ Scan(...any) error }) (*models.TestCampaign, error) {
	c := &models.TestCampaign{}
	var baseTemplate sql.NullString
	err := row.Scan(&c.ID, &c.SalonID, &c.Name, &baseTemplate, &c.TestType, &c.Status,
		&c.StartedAt, &c.CompletedAt, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, err
	}
	c.BaseTemplateID = baseTemplate.String
	return c, nil
}

// CreateCampaign creates a new test campaign in draft status
func (s *Store) CreateCampaign(ctx context.Context, c *models.TestCampaign) error {
	c.ID = uuid.New().String()
	c.CreatedAt = time.Now().UTC()
	c.UpdatedAt = c.CreatedAt
	if c.Status == "" {
		c.Status = models.CampaignDraft
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO test_campaigns (id, salon_id, name, base_template_id, test_type, status, started_at, completed_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.SalonID, c.Name, nullString(c.BaseTemplateID), c.TestType, c.Status,
		utcPtr(c.StartedAt), utcPtr(c.CompletedAt), c.CreatedAt, c.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create campaign: %w", err)
	}
	return nil
}

// GetCampaign returns a campaign by ID
func (s *Store) GetCampaign(ctx context.Context, id string) (*models.TestCampaign, error) {
	c, err := scanCampaign(s.db.QueryRowContext(ctx,
		`SELECT `+campaignColumns+` FROM test_campaigns WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return c, nil
}

// ListCampaigns returns campaigns with optional filtering
func (s *Store) ListCampaigns(ctx context.Context, filter models.CampaignListFilter) ([]models.TestCampaign, error) {
	query := `SELECT ` + campaignColumns + ` FROM test_campaigns WHERE 1=1`
	args := []any{}

	if filter.SalonID != "" {
		query += " AND salon_id = ?"
		args = append(args, filter.SalonID)
	}
	if filter.Status != "" {
		query += " AND status = ?"
		args = append(args, filter.Status)
	}

	query += " ORDER BY created_at DESC"

	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
		if filter.Offset > 0 {
			query += " OFFSET ?"
			args = append(args, filter.Offset)
		}
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	campaigns := []models.TestCampaign{}
	for rows.Next() {
		c, err := scanCampaign(rows)
		if err != nil {
			return nil, err
		}
		campaigns = append(campaigns, *c)
	}
	return campaigns, rows.Err()
}

// StartCampaign moves a draft campaign to running
func (s *Store) StartCampaign(ctx context.Context, id string, at time.Time) error {
	at = at.UTC()
	res, err := s.db.ExecContext(ctx, `
		UPDATE test_campaigns SET status = ?, started_at = ?, updated_at = ?
		WHERE id = ? AND status = ?`,
		models.CampaignRunning, at, at, id, models.CampaignDraft,
	)
	if err != nil {
		return fmt.Errorf("failed to start campaign: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return s.statusConflict(ctx, id, models.ErrCampaignNotDraft)
	}
	return nil
}

// CancelCampaign moves a running or draft campaign to cancelled
func (s *Store) CancelCampaign(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE test_campaigns SET status = ?, updated_at = ?
		WHERE id = ? AND status IN (?, ?)`,
		models.CampaignCancelled, time.Now().UTC(), id, models.CampaignDraft, models.CampaignRunning,
	)
	if err != nil {
		return fmt.Errorf("failed to cancel campaign: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return s.statusConflict(ctx, id, models.ErrCampaignNotRunning)
	}
	return nil
}

// statusConflict distinguishes a missing campaign from a lost transition
func (s *Store) statusConflict(ctx context.Context, id string, conflict error) error {
	c, err := s.GetCampaign(ctx, id)
	if err != nil {
		return err
	}
	if c == nil {
		return models.ErrCampaignNotFound
	}
	return conflict
}
