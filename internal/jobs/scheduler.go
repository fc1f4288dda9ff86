// Package jobs runs the periodic entry points of the engine: hourly winner
// analysis, daily optimization and cleanup of expired records.
package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/foxzi/sendry-lab/internal/models"
	"github.com/foxzi/sendry-lab/internal/optimizer"
	"github.com/foxzi/sendry-lab/internal/winner"
)

// SalonLister enumerates the salons to process
type SalonLister interface {
	ListSalonIDs(ctx context.Context) ([]string, error)
}

// WinnerAnalyzer runs the automatic winner analysis of a salon
type WinnerAnalyzer interface {
	RunAutomaticWinnerAnalysis(ctx context.Context, salonID string) ([]*winner.Result, error)
}

// Optimizer generates the recommendations of a salon
type Optimizer interface {
	GenerateOptimizations(ctx context.Context, salonID string, opts optimizer.Options) ([]models.OptimizationRecommendation, error)
}

// RecommendationExpirer marks recommendations past their expiry
type RecommendationExpirer interface {
	ExpireRecommendations(ctx context.Context, now time.Time) (int64, error)
}

// ActionPruner removes old action log entries
type ActionPruner interface {
	Prune(ctx context.Context, cutoff time.Time) (int, error)
}

// Config holds scheduler configuration
type Config struct {
	WinnerInterval       time.Duration
	OptimizationInterval time.Duration
	OptimizationWindow   optimizer.Window
	CleanupInterval      time.Duration
	ActionRetention      time.Duration
}

// DefaultConfig returns default scheduler configuration
func DefaultConfig() Config {
	return Config{
		WinnerInterval:       time.Hour,
		OptimizationInterval: 24 * time.Hour,
		OptimizationWindow:   optimizer.Window30d,
		CleanupInterval:      time.Hour,
		ActionRetention:      90 * 24 * time.Hour,
	}
}

// Scheduler runs each job on its own ticker
type Scheduler struct {
	cfg       Config
	salons    SalonLister
	winners   WinnerAnalyzer
	optimizer Optimizer
	expirer   RecommendationExpirer
	pruner    ActionPruner
	logger    *slog.Logger
	now       func() time.Time

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a new scheduler. pruner may be nil.
func New(cfg Config, salons SalonLister, winners WinnerAnalyzer, opt Optimizer, expirer RecommendationExpirer, pruner ActionPruner, logger *slog.Logger) *Scheduler {
	def := DefaultConfig()
	if cfg.WinnerInterval <= 0 {
		cfg.WinnerInterval = def.WinnerInterval
	}
	if cfg.OptimizationInterval <= 0 {
		cfg.OptimizationInterval = def.OptimizationInterval
	}
	if cfg.OptimizationWindow == "" {
		cfg.OptimizationWindow = def.OptimizationWindow
	}
	if cfg.CleanupInterval <= 0 {
		cfg.CleanupInterval = def.CleanupInterval
	}
	if cfg.ActionRetention <= 0 {
		cfg.ActionRetention = def.ActionRetention
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		cfg:       cfg,
		salons:    salons,
		winners:   winners,
		optimizer: opt,
		expirer:   expirer,
		pruner:    pruner,
		logger:    logger.With("component", "scheduler"),
		now:       time.Now,
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Start starts the job loops
func (s *Scheduler) Start() {
	s.loop("winner_analysis", s.cfg.WinnerInterval, s.RunWinnerAnalysis)
	s.loop("optimization", s.cfg.OptimizationInterval, s.RunOptimizations)
	s.loop("cleanup", s.cfg.CleanupInterval, s.RunCleanup)
	s.logger.Info("scheduler started",
		"winner_interval", s.cfg.WinnerInterval,
		"optimization_interval", s.cfg.OptimizationInterval,
		"cleanup_interval", s.cfg.CleanupInterval,
	)
}

// Stop stops the scheduler gracefully
func (s *Scheduler) Stop() {
	s.logger.Info("stopping scheduler...")
	s.cancel()
	s.wg.Wait()
	s.logger.Info("scheduler stopped")
}

func (s *Scheduler) loop(name string, interval time.Duration, job func(ctx context.Context) error) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-s.ctx.Done():
				return
			case <-ticker.C:
				if err := job(s.ctx); err != nil && s.ctx.Err() == nil {
					s.logger.Error("scheduled job failed", "job", name, "error", err)
				}
			}
		}
	}()
}

// forEachSalon runs fn for every salon. A salon's failure is logged and the
// remaining salons are still processed.
func (s *Scheduler) forEachSalon(ctx context.Context, job string, fn func(ctx context.Context, salonID string) error) error {
	ids, err := s.salons.ListSalonIDs(ctx)
	if err != nil {
		return fmt.Errorf("failed to list salons: %w", err)
	}

	failed := 0
	for _, id := range ids {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := fn(ctx, id); err != nil {
			failed++
			s.logger.Error("salon job failed", "job", job, "salon_id", id, "error", err)
		}
	}
	s.logger.Debug("salon job finished", "job", job, "salons", len(ids), "failed", failed)
	return nil
}

// RunWinnerAnalysis runs the automatic winner analysis for every salon
func (s *Scheduler) RunWinnerAnalysis(ctx context.Context) error {
	return s.forEachSalon(ctx, "winner_analysis", func(ctx context.Context, salonID string) error {
		results, err := s.winners.RunAutomaticWinnerAnalysis(ctx, salonID)
		if err != nil {
			return err
		}
		committed := 0
		for _, r := range results {
			if r != nil && r.Committed {
				committed++
			}
		}
		if len(results) > 0 {
			s.logger.Info("winner analysis complete", "salon_id", salonID, "campaigns", len(results), "committed", committed)
		}
		return nil
	})
}

// RunOptimizations generates recommendations for every salon
func (s *Scheduler) RunOptimizations(ctx context.Context) error {
	return s.forEachSalon(ctx, "optimization", func(ctx context.Context, salonID string) error {
		_, err := s.optimizer.GenerateOptimizations(ctx, salonID, optimizer.Options{
			Window:      s.cfg.OptimizationWindow,
			TriggeredBy: "scheduler",
		})
		return err
	})
}

// RunCleanup expires old recommendations and prunes the action log
func (s *Scheduler) RunCleanup(ctx context.Context) error {
	now := s.now().UTC()

	expired, err := s.expirer.ExpireRecommendations(ctx, now)
	if err != nil {
		return fmt.Errorf("failed to expire recommendations: %w", err)
	}

	pruned := 0
	if s.pruner != nil {
		pruned, err = s.pruner.Prune(ctx, now.Add(-s.cfg.ActionRetention))
		if err != nil {
			return fmt.Errorf("failed to prune action log: %w", err)
		}
	}

	if expired > 0 || pruned > 0 {
		s.logger.Info("cleanup complete", "expired_recommendations", expired, "pruned_actions", pruned)
	}
	return nil
}
