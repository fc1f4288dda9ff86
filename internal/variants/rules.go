package variants

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/foxzi/sendry-lab/internal/models"
)

// ErrInvalidRule is returned when a variant rule fails validation
var ErrInvalidRule = errors.New("invalid variant rule")

const (
	minRulePriority = 1
	maxRulePriority = 10
)

// ValidateRule checks test type, transformation and priority of a rule
func ValidateRule(r *models.VariantRule) error {
	if strings.TrimSpace(r.SalonID) == "" {
		return fmt.Errorf("%w: salon_id is required", ErrInvalidRule)
	}
	if strings.TrimSpace(r.Name) == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidRule)
	}
	if !r.TestType.Valid() {
		return fmt.Errorf("%w: unknown test type %q", ErrInvalidRule, r.TestType)
	}
	if !KnownTransformation(r.Transformation) {
		return fmt.Errorf("%w: unknown transformation %q", ErrInvalidRule, r.Transformation)
	}
	if r.Priority < minRulePriority || r.Priority > maxRulePriority {
		return fmt.Errorf("%w: priority must be between %d and %d", ErrInvalidRule, minRulePriority, maxRulePriority)
	}
	if r.Transformation == TransformSendTime {
		if at := r.Params["time"]; at != "" && !sendTimePattern.MatchString(at) {
			return fmt.Errorf("%w: send time must be HH:MM", ErrInvalidRule)
		}
	}
	if r.Transformation == TransformChannelSwap {
		if ch := r.Params["channel"]; ch != "" && ch != models.ChannelEmail && ch != models.ChannelSMS {
			return fmt.Errorf("%w: unknown channel %q", ErrInvalidRule, ch)
		}
	}
	return nil
}

// ListRules returns the salon's rules, highest priority first
func (g *Generator) ListRules(ctx context.Context, salonID string) ([]models.VariantRule, error) {
	rules, err := g.store.ListRules(ctx, salonID)
	if err != nil {
		return nil, fmt.Errorf("failed to list rules: %w", err)
	}
	return rules, nil
}

// CreateRule validates and stores a new rule
func (g *Generator) CreateRule(ctx context.Context, r *models.VariantRule) error {
	if err := ValidateRule(r); err != nil {
		return err
	}
	if err := g.store.CreateRule(ctx, r); err != nil {
		return fmt.Errorf("failed to create rule: %w", err)
	}
	g.logger.Info("variant rule created", "rule_id", r.ID, "salon_id", r.SalonID, "transformation", r.Transformation)
	return nil
}

// UpdateRule validates and replaces an existing rule. The salon of a rule
// cannot change.
func (g *Generator) UpdateRule(ctx context.Context, r *models.VariantRule) error {
	existing, err := g.store.GetRule(ctx, r.ID)
	if err != nil {
		return fmt.Errorf("failed to get rule: %w", err)
	}
	if existing == nil {
		return models.ErrRuleNotFound
	}
	r.SalonID = existing.SalonID
	r.CreatedAt = existing.CreatedAt

	if err := ValidateRule(r); err != nil {
		return err
	}
	if err := g.store.UpdateRule(ctx, r); err != nil {
		return fmt.Errorf("failed to update rule: %w", err)
	}
	return nil
}

// DeleteRule removes a rule
func (g *Generator) DeleteRule(ctx context.Context, id string) error {
	if err := g.store.DeleteRule(ctx, id); err != nil {
		if errors.Is(err, models.ErrRuleNotFound) {
			return err
		}
		return fmt.Errorf("failed to delete rule: %w", err)
	}
	return nil
}
