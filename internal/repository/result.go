package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/foxzi/sendry-lab/internal/models"
	"github.com/google/uuid"
)

// CompleteCampaign commits a winner in a single transaction. The campaign is
// moved from running to completed with a compare-and-swap, so concurrent
// commits for the same campaign result in exactly one TestResult.
func (s *Store) CompleteCampaign(ctx context.Context, commit models.WinnerCommit) error {
	if commit.CompletedAt.IsZero() {
		commit.CompletedAt = time.Now()
	}
	completedAt := commit.CompletedAt.UTC()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		UPDATE test_campaigns SET status = ?, completed_at = ?, updated_at = ?
		WHERE id = ? AND status = ?`,
		models.CampaignCompleted, completedAt, completedAt, commit.CampaignID, models.CampaignRunning,
	)
	if err != nil {
		return fmt.Errorf("failed to complete campaign: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		tx.Rollback()
		return s.statusConflict(ctx, commit.CampaignID, models.ErrCampaignNotRunning)
	}

	// the winner must belong to the campaign
	var exists int
	err = tx.QueryRowContext(ctx, `SELECT 1 FROM variants WHERE id = ? AND campaign_id = ?`,
		commit.WinnerVariantID, commit.CampaignID).Scan(&exists)
	if err == sql.ErrNoRows {
		return models.ErrVariantNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to look up winner: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `UPDATE variants SET status = ? WHERE campaign_id = ? AND id != ?`,
		models.VariantLoser, commit.CampaignID, commit.WinnerVariantID); err != nil {
		return fmt.Errorf("failed to mark losing variants: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `UPDATE variants SET status = ? WHERE id = ?`,
		models.VariantWinner, commit.WinnerVariantID); err != nil {
		return fmt.Errorf("failed to mark winning variant: %w", err)
	}

	if r := commit.Result; r != nil {
		r.ID = uuid.New().String()
		r.CampaignID = commit.CampaignID
		r.WinnerVariantID = commit.WinnerVariantID
		r.CreatedAt = completedAt
		_, err := tx.ExecContext(ctx, `
			INSERT INTO test_results (id, campaign_id, winner_variant_id, statistical_significance, p_value, performance_improvement, action_taken, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			r.ID, r.CampaignID, nullString(r.WinnerVariantID), r.Significance, r.PValue, r.Improvement, r.ActionTaken, r.CreatedAt,
		)
		if err != nil {
			return fmt.Errorf("failed to insert test result: %w", err)
		}
	}

	if t := commit.Template; t != nil {
		t.UpdatedAt = completedAt
		_, err := tx.ExecContext(ctx, `
			UPDATE templates SET subject = ?, content = ?, channel = ?, updated_at = ? WHERE id = ?`,
			t.Subject, t.Content, t.Channel, t.UpdatedAt, t.ID,
		)
		if err != nil {
			return fmt.Errorf("failed to update base template: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit winner: %w", err)
	}
	return nil
}

// GetTestResult returns the result of a completed campaign
func (s *Store) GetTestResult(ctx context.Context, campaignID string) (*models.TestResult, error) {
	r := &models.TestResult{}
	var winner sql.NullString
	err := s.db.QueryRowContext(ctx, `
		SELECT id, campaign_id, winner_variant_id, statistical_significance, p_value, performance_improvement, action_taken, created_at
		FROM test_results WHERE campaign_id = ?`, campaignID,
	).Scan(&r.ID, &r.CampaignID, &winner, &r.Significance, &r.PValue, &r.Improvement, &r.ActionTaken, &r.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	r.WinnerVariantID = winner.String
	return r, nil
}
