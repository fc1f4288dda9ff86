package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/foxzi/sendry-lab/internal/config"
	"github.com/foxzi/sendry-lab/internal/metrics"
	"github.com/foxzi/sendry-lab/internal/monitor"
	"github.com/foxzi/sendry-lab/internal/optimizer"
	"github.com/foxzi/sendry-lab/internal/repository"
	"github.com/foxzi/sendry-lab/internal/variants"
	"github.com/foxzi/sendry-lab/internal/winner"
)

// Deps are the engines the API exposes
type Deps struct {
	Store     *repository.Store
	Generator *variants.Generator
	Monitor   *monitor.Monitor
	Selector  *winner.Selector
	Optimizer *optimizer.Optimizer
}

// Server is the HTTP admin API server
type Server struct {
	router     *chi.Mux
	httpServer *http.Server
	store      *repository.Store
	generator  *variants.Generator
	monitor    *monitor.Monitor
	selector   *winner.Selector
	optimizer  *optimizer.Optimizer
	server     config.ServerConfig
	tokenHash  string
	version    string
	logger     *slog.Logger
	startTime  time.Time
}

// NewServer creates a new API server
func NewServer(deps Deps, cfg *config.Config, version string, logger *slog.Logger) *Server {
	s := &Server{
		router:    chi.NewRouter(),
		store:     deps.Store,
		generator: deps.Generator,
		monitor:   deps.Monitor,
		selector:  deps.Selector,
		optimizer: deps.Optimizer,
		server:    cfg.Server,
		tokenHash: cfg.API.TokenHash,
		version:   version,
		logger:    logger.With("component", "api"),
		startTime: time.Now(),
	}

	s.setupRoutes()
	return s
}

// setupRoutes configures the HTTP routes
func (s *Server) setupRoutes() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(s.loggingMiddleware)
	s.router.Use(middleware.Recoverer)
	s.router.Use(metrics.HTTPMiddleware)

	// Health check (no auth required)
	s.router.Get("/health", s.handleHealth)

	s.router.Route("/api/v1", func(r chi.Router) {
		r.Use(s.authMiddleware)

		r.Post("/deliveries", s.handleIngestDeliveries)
		r.Post("/templates", s.handleCreateTemplate)

		r.Route("/campaigns", func(r chi.Router) {
			r.Get("/", s.handleListCampaigns)
			r.Post("/", s.handleCreateCampaign)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.handleGetCampaign)
				r.Post("/start", s.handleStartCampaign)
				r.Post("/cancel", s.handleCancelCampaign)
				r.Post("/variants", s.handleCreateVariant)
				r.Post("/variants/generate", s.handleGenerateVariants)
				r.Post("/monitoring", s.handleStartMonitoring)
				r.Delete("/monitoring", s.handleStopMonitoring)
				r.Post("/check", s.handleCheckCampaign)
				r.Post("/analyze", s.handleAnalyze)
				r.Post("/winner", s.handleSelectWinner)
			})
		})

		r.Route("/salons/{salonID}", func(r chi.Router) {
			r.Get("/templates", s.handleListTemplates)
			r.Get("/rules", s.handleListRules)
			r.Post("/rules", s.handleCreateRule)
			r.Get("/config", s.handleGetConfig)
			r.Put("/config", s.handleSaveConfig)
			r.Get("/channels", s.handleListChannels)
			r.Post("/channels", s.handleCreateChannel)
			r.Get("/optimizations", s.handleListOptimizations)
			r.Post("/optimizations", s.handleGenerateOptimizations)
		})

		r.Put("/rules/{id}", s.handleUpdateRule)
		r.Delete("/rules/{id}", s.handleDeleteRule)
	})
}

// Handler returns the HTTP handler of the server
func (s *Server) Handler() http.Handler {
	return s.router
}

// ListenAndServe starts the HTTP server
func (s *Server) ListenAndServe() error {
	s.httpServer = &http.Server{
		Addr:           s.server.ListenAddr,
		Handler:        s.router,
		ReadTimeout:    s.server.ReadTimeout,
		WriteTimeout:   s.server.WriteTimeout,
		IdleTimeout:    s.server.IdleTimeout,
		MaxHeaderBytes: s.server.MaxHeaderBytes,
	}

	s.logger.Info("starting HTTP API server", "addr", s.server.ListenAddr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP API server")
	if s.httpServer != nil {
		return s.httpServer.Shutdown(ctx)
	}
	return nil
}
