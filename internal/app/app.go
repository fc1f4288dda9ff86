package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/foxzi/sendry-lab/internal/actionlog"
	"github.com/foxzi/sendry-lab/internal/api"
	"github.com/foxzi/sendry-lab/internal/config"
	"github.com/foxzi/sendry-lab/internal/db"
	"github.com/foxzi/sendry-lab/internal/jobs"
	"github.com/foxzi/sendry-lab/internal/metrics"
	"github.com/foxzi/sendry-lab/internal/monitor"
	"github.com/foxzi/sendry-lab/internal/notify"
	"github.com/foxzi/sendry-lab/internal/optimizer"
	"github.com/foxzi/sendry-lab/internal/repository"
	"github.com/foxzi/sendry-lab/internal/variants"
	"github.com/foxzi/sendry-lab/internal/winner"
)

// App is the main application
type App struct {
	config        *config.Config
	db            *db.DB
	actions       *actionlog.BoltLog
	store         *repository.Store
	monitor       *monitor.Monitor
	scheduler     *jobs.Scheduler
	apiServer     *api.Server
	metricsServer *metrics.Server
	collector     *metrics.Collector
	logger        *slog.Logger
}

// Engines are the domain engines over one store, shared by the server and
// the one-shot CLI commands
type Engines struct {
	Store     *repository.Store
	Generator *variants.Generator
	Selector  *winner.Selector
	Optimizer *optimizer.Optimizer
}

// NewEngines creates the engines that do not run background loops
func NewEngines(store *repository.Store, cfg *config.Config, actions actionlog.Sink, logger *slog.Logger) *Engines {
	return &Engines{
		Store:     store,
		Generator: variants.NewGenerator(store, actions, logger),
		Selector:  winner.NewSelector(store, actions, logger),
		Optimizer: optimizer.New(store, cfg.Scheduler.RecommendationTTL, actions, logger),
	}
}

// OpenStore opens and migrates the record store
func OpenStore(cfg *config.Config) (*db.DB, *repository.Store, error) {
	database, err := db.New(cfg.Database.Path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := database.Migrate(); err != nil {
		database.Close()
		return nil, nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return database, repository.New(database.DB), nil
}

// New creates a new application
func New(cfg *config.Config, version string) (*App, error) {
	logger := SetupLogger(cfg.Logging)

	database, store, err := OpenStore(cfg)
	if err != nil {
		return nil, err
	}

	actions, err := actionlog.Open(cfg.ActionLog.Path)
	if err != nil {
		database.Close()
		return nil, fmt.Errorf("failed to open action log: %w", err)
	}

	dispatcher, err := newDispatcher(cfg, logger)
	if err != nil {
		actions.Close()
		database.Close()
		return nil, err
	}

	engines := NewEngines(store, cfg, actions, logger)
	mon := monitor.New(store, nil, dispatcher, engines.Selector, actions, logger)

	window, err := optimizer.ParseWindow(cfg.Scheduler.OptimizationWindow)
	if err != nil {
		actions.Close()
		database.Close()
		return nil, err
	}
	scheduler := jobs.New(jobs.Config{
		WinnerInterval:       cfg.Scheduler.WinnerInterval,
		OptimizationInterval: cfg.Scheduler.OptimizationInterval,
		OptimizationWindow:   window,
		CleanupInterval:      cfg.Scheduler.CleanupInterval,
		ActionRetention:      cfg.ActionLog.Retention,
	}, store, engines.Selector, engines.Optimizer, store, actions, logger)

	a := &App{
		config:    cfg,
		db:        database,
		actions:   actions,
		store:     store,
		monitor:   mon,
		scheduler: scheduler,
		logger:    logger,
	}

	if cfg.Metrics.Enabled {
		m := metrics.New()
		metrics.SetGlobal(m)

		a.collector, err = metrics.NewCollector(actions.DB(), m, mon.Registry(), cfg.Metrics.StoragePath, cfg.Metrics.FlushInterval)
		if err != nil {
			actions.Close()
			database.Close()
			return nil, fmt.Errorf("failed to create metrics collector: %w", err)
		}
		a.metricsServer = metrics.NewServer(m, cfg.Metrics.ListenAddr, cfg.Metrics.Path, cfg.Metrics.AllowedIPs, logger)
	}

	a.apiServer = api.NewServer(api.Deps{
		Store:     store,
		Generator: engines.Generator,
		Monitor:   mon,
		Selector:  engines.Selector,
		Optimizer: engines.Optimizer,
	}, cfg, version, logger)

	return a, nil
}

// newDispatcher builds the alert router from the configured senders
func newDispatcher(cfg *config.Config, logger *slog.Logger) (*notify.Router, error) {
	var email, sms notify.Dispatcher

	if cfg.EmailEnabled() {
		smtpCfg := cfg.Notify.SMTP

		var signer *notify.DKIMSigner
		if smtpCfg.DKIM.Enabled {
			var err error
			signer, err = notify.LoadDKIMSigner(smtpCfg.DKIM.KeyFile, smtpCfg.DKIM.Domain, smtpCfg.DKIM.Selector)
			if err != nil {
				return nil, fmt.Errorf("failed to load DKIM key: %w", err)
			}
			logger.Info("DKIM signing enabled", "domain", smtpCfg.DKIM.Domain, "selector", smtpCfg.DKIM.Selector)
		}

		email = notify.NewEmailSender(notify.EmailConfig{
			Addr:          smtpCfg.Addr,
			Username:      smtpCfg.Username,
			Password:      smtpCfg.Password,
			From:          smtpCfg.From,
			Hostname:      smtpCfg.Hostname,
			Timeout:       smtpCfg.Timeout,
			SkipTLSVerify: smtpCfg.SkipTLSVerify,
		}, signer, logger)
		logger.Info("email alerts enabled", "relay", smtpCfg.Addr)
	}

	if cfg.SMSEnabled() {
		sms = notify.NewSMSSender(notify.SMSConfig{
			GatewayURL: cfg.Notify.SMS.GatewayURL,
			APIKey:     cfg.Notify.SMS.APIKey,
			Sender:     cfg.Notify.SMS.Sender,
			Timeout:    cfg.Notify.SMS.Timeout,
		}, logger)
		logger.Info("sms alerts enabled")
	}

	return notify.NewRouter(email, sms), nil
}

// Run starts all components and waits for shutdown
func (a *App) Run(ctx context.Context) error {
	a.logger.Info("starting sendry-lab",
		"api_addr", a.config.Server.ListenAddr,
		"database", a.config.Database.Path,
		"metrics", a.config.Metrics.Enabled,
	)

	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if a.collector != nil {
		a.collector.Start(ctx)
	}

	if !a.config.Monitor.SkipResume {
		resumed, err := a.monitor.ResumeAll(ctx)
		if err != nil {
			a.logger.Error("failed to resume monitoring", "error", err)
		} else {
			a.logger.Info("monitoring resumed", "campaigns", resumed)
		}
	}

	if !a.config.Scheduler.Disabled {
		a.scheduler.Start()
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := a.apiServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("api server: %w", err)
		}
		return nil
	})

	if a.metricsServer != nil {
		g.Go(func() error {
			if err := a.metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		a.logger.Info("shutdown signal received")
		return a.Shutdown(context.Background())
	})

	return g.Wait()
}

// Shutdown gracefully shuts down all components
func (a *App) Shutdown(ctx context.Context) error {
	a.logger.Info("shutting down")

	timeout := a.config.Server.ShutdownTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	// Stop background work before closing the stores it writes to
	a.scheduler.Stop()
	a.monitor.StopAll()

	if err := a.apiServer.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("api server shutdown error", "error", err)
	}

	if a.metricsServer != nil {
		if err := a.metricsServer.Shutdown(shutdownCtx); err != nil {
			a.logger.Error("metrics server shutdown error", "error", err)
		}
	}

	// Persists counters into the action log database
	if a.collector != nil {
		if err := a.collector.Stop(); err != nil {
			a.logger.Error("metrics collector stop error", "error", err)
		}
	}

	if err := a.actions.Close(); err != nil {
		a.logger.Error("action log close error", "error", err)
	}

	if err := a.db.Close(); err != nil {
		a.logger.Error("database close error", "error", err)
	}

	a.logger.Info("shutdown complete")
	return nil
}

// SetupLogger creates a logger based on configuration
func SetupLogger(cfg config.LoggingConfig) *slog.Logger {
	var handler slog.Handler

	level := slog.LevelInfo
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	opts := &slog.HandlerOptions{
		Level: level,
	}

	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	return slog.New(handler)
}
