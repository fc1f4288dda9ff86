package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/foxzi/sendry-lab/internal/models"
	"github.com/google/uuid"
)

// CreateTemplate creates a new base template
func (s *Store) CreateTemplate(ctx context.Context, t *models.Template) error {
	t.ID = uuid.New().String()
	t.CreatedAt = time.Now().UTC()
	t.UpdatedAt = t.CreatedAt
	if t.Channel == "" {
		t.Channel = models.ChannelEmail
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO templates (id, salon_id, name, subject, content, channel, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.SalonID, t.Name, t.Subject, t.Content, t.Channel, t.CreatedAt, t.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create template: %w", err)
	}
	return nil
}

// GetTemplate returns a template by ID
func (s *Store) GetTemplate(ctx context.Context, id string) (*models.Template, error) {
	t := &models.Template{}
	err := s.db.QueryRowContext(ctx, `
		SELECT id, salon_id, name, subject, content, channel, created_at, updated_at
		FROM templates WHERE id = ?`, id,
	).Scan(&t.ID, &t.SalonID, &t.Name, &t.Subject, &t.Content, &t.Channel, &t.CreatedAt, &t.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return t, nil
}

// ListTemplates returns all templates of a salon
func (s *Store) ListTemplates(ctx context.Context, salonID string) ([]models.Template, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, salon_id, name, subject, content, channel, created_at, updated_at
		FROM templates WHERE salon_id = ? ORDER BY name`, salonID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	templates := []models.Template{}
	for rows.Next() {
		var t models.Template
		if err := rows.Scan(&t.ID, &t.SalonID, &t.Name, &t.Subject, &t.Content, &t.Channel, &t.CreatedAt, &t.UpdatedAt); err != nil {
			return nil, err
		}
		templates = append(templates, t)
	}
	return templates, rows.Err()
}

const ruleColumns = `id, salon_id, name, test_type, transformation, params, priority, active, created_at, updated_at`

func scanRule(row interface{ Scan(...any) error }) (*models.VariantRule, error) {
	r := &models.VariantRule{}
	var params sql.NullString
	err := row.Scan(&r.ID, &r.SalonID, &r.Name, &r.TestType, &r.Transformation, &params,
		&r.Priority, &r.Active, &r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if err := decodeJSON(params, &r.Params); err != nil {
		return nil, err
	}
	return r, nil
}

// CreateRule creates a variant generation rule
func (s *Store) CreateRule(ctx context.Context, r *models.VariantRule) error {
	r.ID = uuid.New().String()
	r.CreatedAt = time.Now().UTC()
	r.UpdatedAt = r.CreatedAt

	params, err := encodeJSON(r.Params)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO variant_rules (`+ruleColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.SalonID, r.Name, r.TestType, r.Transformation, params, r.Priority, r.Active, r.CreatedAt, r.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create rule: %w", err)
	}
	return nil
}

// GetRule returns a rule by ID
func (s *Store) GetRule(ctx context.Context, id string) (*models.VariantRule, error) {
	r, err := scanRule(s.db.QueryRowContext(ctx, `SELECT `+ruleColumns+` FROM variant_rules WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return r, nil
}

// ListRules returns every rule of a salon
func (s *Store) ListRules(ctx context.Context, salonID string) ([]models.VariantRule, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+ruleColumns+` FROM variant_rules WHERE salon_id = ?
		ORDER BY priority DESC, id`, salonID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	rules := []models.VariantRule{}
	for rows.Next() {
		r, err := scanRule(rows)
		if err != nil {
			return nil, err
		}
		rules = append(rules, *r)
	}
	return rules, rows.Err()
}

// UpdateRule updates a rule
func (s *Store) UpdateRule(ctx context.Context, r *models.VariantRule) error {
	r.UpdatedAt = time.Now().UTC()

	params, err := encodeJSON(r.Params)
	if err != nil {
		return err
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE variant_rules SET name = ?, test_type = ?, transformation = ?, params = ?, priority = ?, active = ?, updated_at = ?
		WHERE id = ?`,
		r.Name, r.TestType, r.Transformation, params, r.Priority, r.Active, r.UpdatedAt, r.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update rule: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return models.ErrRuleNotFound
	}
	return nil
}

// DeleteRule deletes a rule
func (s *Store) DeleteRule(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM variant_rules WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to delete rule: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return models.ErrRuleNotFound
	}
	return nil
}
