package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/foxzi/sendry-lab/internal/models"
	"github.com/foxzi/sendry-lab/internal/optimizer"
	"github.com/foxzi/sendry-lab/internal/variants"
	"github.com/foxzi/sendry-lab/internal/winner"
)

// MonitoringResponse is the response for the monitoring endpoints
type MonitoringResponse struct {
	CampaignID string `json:"campaign_id"`
	Monitoring bool   `json:"monitoring"`
}

// SelectWinnerRequest is the request body for POST /campaigns/{id}/winner
type SelectWinnerRequest struct {
	VariantID string `json:"variant_id"`
}

// GenerateOptimizationsRequest is the request body for POST /salons/{salonID}/optimizations
type GenerateOptimizationsRequest struct {
	Window     string `json:"window,omitempty"` // 7d, 30d, 90d, all
	CampaignID string `json:"campaign_id,omitempty"`
}

// decodeOptional decodes a JSON body when one was sent
func (s *Server) decodeOptional(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil && !errors.Is(err, io.EOF) {
		s.sendError(w, http.StatusBadRequest, "Invalid request body")
		return false
	}
	return true
}

// handleGenerateVariants handles POST /api/v1/campaigns/{id}/variants/generate
func (s *Server) handleGenerateVariants(w http.ResponseWriter, r *http.Request) {
	var req variants.Request
	if !s.decodeOptional(w, r, &req) {
		return
	}
	if req.TestType != "" && !req.TestType.Valid() {
		s.sendError(w, http.StatusBadRequest, "invalid test_type")
		return
	}
	req.TriggeredBy = triggeredByAPI

	vs, err := s.generator.GenerateVariants(r.Context(), chi.URLParam(r, "id"), req)
	if err != nil {
		s.handleEngineError(w, err)
		return
	}
	if vs == nil {
		vs = []models.Variant{}
	}
	s.sendJSON(w, http.StatusCreated, vs)
}

// handleStartMonitoring handles POST /api/v1/campaigns/{id}/monitoring
func (s *Server) handleStartMonitoring(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	started, err := s.monitor.StartMonitoring(r.Context(), id, triggeredByAPI)
	if err != nil {
		s.handleEngineError(w, err)
		return
	}
	s.sendJSON(w, http.StatusOK, MonitoringResponse{CampaignID: id, Monitoring: started})
}

// handleStopMonitoring handles DELETE /api/v1/campaigns/{id}/monitoring
func (s *Server) handleStopMonitoring(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if !s.monitor.StopMonitoring(r.Context(), id, triggeredByAPI) {
		s.sendError(w, http.StatusNotFound, "campaign is not monitored")
		return
	}
	s.sendJSON(w, http.StatusOK, MonitoringResponse{CampaignID: id, Monitoring: false})
}

// handleCheckCampaign handles POST /api/v1/campaigns/{id}/check
func (s *Server) handleCheckCampaign(w http.ResponseWriter, r *http.Request) {
	res, err := s.monitor.CheckCampaign(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.handleEngineError(w, err)
		return
	}
	s.sendJSON(w, http.StatusOK, res)
}

// handleAnalyze handles POST /api/v1/campaigns/{id}/analyze
func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	var opts winner.Options
	if !s.decodeOptional(w, r, &opts) {
		return
	}
	if opts.ConfidenceLevel < 0 || opts.ConfidenceLevel >= 100 {
		s.sendError(w, http.StatusBadRequest, "confidence_level must be a percentage below 100")
		return
	}
	opts.TriggeredBy = triggeredByAPI

	res, err := s.selector.Analyze(r.Context(), chi.URLParam(r, "id"), opts)
	if err != nil {
		s.handleEngineError(w, err)
		return
	}
	s.sendJSON(w, http.StatusOK, res)
}

// handleSelectWinner handles POST /api/v1/campaigns/{id}/winner
func (s *Server) handleSelectWinner(w http.ResponseWriter, r *http.Request) {
	var req SelectWinnerRequest
	if !s.decode(w, r, &req) {
		return
	}
	if req.VariantID == "" {
		s.sendError(w, http.StatusBadRequest, "variant_id is required")
		return
	}

	id := chi.URLParam(r, "id")
	result, err := s.selector.SelectManually(r.Context(), id, req.VariantID, triggeredByAPI)
	if err != nil {
		s.handleEngineError(w, err)
		return
	}
	s.monitor.StopMonitoring(r.Context(), id, triggeredByAPI)
	s.sendJSON(w, http.StatusOK, result)
}

// handleListRules handles GET /api/v1/salons/{salonID}/rules
func (s *Server) handleListRules(w http.ResponseWriter, r *http.Request) {
	rules, err := s.generator.ListRules(r.Context(), chi.URLParam(r, "salonID"))
	if err != nil {
		s.handleEngineError(w, err)
		return
	}
	if rules == nil {
		rules = []models.VariantRule{}
	}
	s.sendJSON(w, http.StatusOK, rules)
}

// handleCreateRule handles POST /api/v1/salons/{salonID}/rules
func (s *Server) handleCreateRule(w http.ResponseWriter, r *http.Request) {
	var rule models.VariantRule
	if !s.decode(w, r, &rule) {
		return
	}
	rule.SalonID = chi.URLParam(r, "salonID")

	if err := s.generator.CreateRule(r.Context(), &rule); err != nil {
		s.handleEngineError(w, err)
		return
	}
	s.sendJSON(w, http.StatusCreated, rule)
}

// handleUpdateRule handles PUT /api/v1/rules/{id}
func (s *Server) handleUpdateRule(w http.ResponseWriter, r *http.Request) {
	var rule models.VariantRule
	if !s.decode(w, r, &rule) {
		return
	}
	rule.ID = chi.URLParam(r, "id")

	if err := s.generator.UpdateRule(r.Context(), &rule); err != nil {
		s.handleEngineError(w, err)
		return
	}
	s.sendJSON(w, http.StatusOK, rule)
}

// handleDeleteRule handles DELETE /api/v1/rules/{id}
func (s *Server) handleDeleteRule(w http.ResponseWriter, r *http.Request) {
	if err := s.generator.DeleteRule(r.Context(), chi.URLParam(r, "id")); err != nil {
		s.handleEngineError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleGenerateOptimizations handles POST /api/v1/salons/{salonID}/optimizations
func (s *Server) handleGenerateOptimizations(w http.ResponseWriter, r *http.Request) {
	var req GenerateOptimizationsRequest
	if !s.decodeOptional(w, r, &req) {
		return
	}
	window, err := optimizer.ParseWindow(req.Window)
	if err != nil {
		s.handleEngineError(w, err)
		return
	}

	recs, err := s.optimizer.GenerateOptimizations(r.Context(), chi.URLParam(r, "salonID"), optimizer.Options{
		Window:      window,
		CampaignID:  req.CampaignID,
		TriggeredBy: triggeredByAPI,
	})
	if err != nil {
		s.handleEngineError(w, err)
		return
	}
	s.sendJSON(w, http.StatusOK, recs)
}

// handleListOptimizations handles GET /api/v1/salons/{salonID}/optimizations
func (s *Server) handleListOptimizations(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := models.RecommendationFilter{
		SalonID:    chi.URLParam(r, "salonID"),
		CampaignID: q.Get("campaign_id"),
		Status:     q.Get("status"),
		Limit:      100,
	}
	if filter.Status == "" {
		filter.Status = models.RecommendationActive
	}
	if v := q.Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 1000 {
			filter.Limit = n
		}
	}

	recs, err := s.optimizer.Recommendations(r.Context(), filter)
	if err != nil {
		s.handleEngineError(w, err)
		return
	}
	if recs == nil {
		recs = []models.OptimizationRecommendation{}
	}
	s.sendJSON(w, http.StatusOK, recs)
}
