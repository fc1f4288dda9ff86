package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/foxzi/sendry-lab/internal/models"
	"github.com/foxzi/sendry-lab/internal/monitor"
	"github.com/foxzi/sendry-lab/internal/optimizer"
	"github.com/foxzi/sendry-lab/internal/variants"
	"github.com/foxzi/sendry-lab/internal/winner"
)

const triggeredByAPI = "api"

// maxIngestBatch bounds one delivery ingestion request
const maxIngestBatch = 1000

// HealthResponse is the response for GET /health
type HealthResponse struct {
	Status             string `json:"status"`
	Version            string `json:"version"`
	Uptime             string `json:"uptime"`
	MonitoredCampaigns int    `json:"monitored_campaigns"`
}

// ErrorResponse is the error response
type ErrorResponse struct {
	Error string `json:"error"`
}

// IngestRequest is the request body for POST /deliveries
type IngestRequest struct {
	Deliveries []models.DeliveryRecord `json:"deliveries"`
}

// IngestResponse is the response for POST /deliveries
type IngestResponse struct {
	Accepted int `json:"accepted"`
}

// CampaignResponse is the response for GET /campaigns/{id}
type CampaignResponse struct {
	Campaign   *models.TestCampaign `json:"campaign"`
	Variants   []models.Variant     `json:"variants"`
	Result     *models.TestResult   `json:"result,omitempty"`
	Monitoring bool                 `json:"monitoring"`
}

// StartResponse is the response for POST /campaigns/{id}/start
type StartResponse struct {
	Status     string `json:"status"`
	Monitoring bool   `json:"monitoring"`
}

// handleHealth handles GET /health
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{
		Status:  "ok",
		Version: s.version,
		Uptime:  time.Since(s.startTime).Round(time.Second).String(),
	}
	if s.monitor != nil {
		resp.MonitoredCampaigns = s.monitor.Registry().Count()
	}
	s.sendJSON(w, http.StatusOK, resp)
}

// handleIngestDeliveries handles POST /api/v1/deliveries
func (s *Server) handleIngestDeliveries(w http.ResponseWriter, r *http.Request) {
	var req IngestRequest
	if !s.decode(w, r, &req) {
		return
	}
	if len(req.Deliveries) == 0 {
		s.sendError(w, http.StatusBadRequest, "deliveries is required")
		return
	}
	if len(req.Deliveries) > maxIngestBatch {
		s.sendError(w, http.StatusBadRequest, "too many deliveries in one request")
		return
	}
	for i := range req.Deliveries {
		d := &req.Deliveries[i]
		if d.SalonID == "" || d.Status == "" {
			s.sendError(w, http.StatusBadRequest, "salon_id and status are required for every delivery")
			return
		}
	}

	accepted := 0
	for i := range req.Deliveries {
		if err := s.store.CreateDelivery(r.Context(), &req.Deliveries[i]); err != nil {
			s.logger.Error("failed to ingest delivery", "error", err)
			s.sendError(w, http.StatusInternalServerError, "Failed to store deliveries")
			return
		}
		accepted++
	}

	s.sendJSON(w, http.StatusAccepted, IngestResponse{Accepted: accepted})
}

// handleCreateTemplate handles POST /api/v1/templates
func (s *Server) handleCreateTemplate(w http.ResponseWriter, r *http.Request) {
	var t models.Template
	if !s.decode(w, r, &t) {
		return
	}
	if t.SalonID == "" || t.Name == "" {
		s.sendError(w, http.StatusBadRequest, "salon_id and name are required")
		return
	}
	if t.Channel != "" && t.Channel != models.ChannelEmail && t.Channel != models.ChannelSMS {
		s.sendError(w, http.StatusBadRequest, "channel must be email or sms")
		return
	}

	if err := s.store.CreateTemplate(r.Context(), &t); err != nil {
		s.handleEngineError(w, err)
		return
	}
	s.sendJSON(w, http.StatusCreated, t)
}

// handleListTemplates handles GET /api/v1/salons/{salonID}/templates
func (s *Server) handleListTemplates(w http.ResponseWriter, r *http.Request) {
	templates, err := s.store.ListTemplates(r.Context(), chi.URLParam(r, "salonID"))
	if err != nil {
		s.handleEngineError(w, err)
		return
	}
	s.sendJSON(w, http.StatusOK, templates)
}

// handleCreateCampaign handles POST /api/v1/campaigns
func (s *Server) handleCreateCampaign(w http.ResponseWriter, r *http.Request) {
	var c models.TestCampaign
	if !s.decode(w, r, &c) {
		return
	}
	if c.SalonID == "" || c.Name == "" {
		s.sendError(w, http.StatusBadRequest, "salon_id and name are required")
		return
	}
	if !c.TestType.Valid() {
		s.sendError(w, http.StatusBadRequest, "invalid test_type")
		return
	}
	if c.BaseTemplateID != "" {
		t, err := s.store.GetTemplate(r.Context(), c.BaseTemplateID)
		if err != nil {
			s.handleEngineError(w, err)
			return
		}
		if t == nil {
			s.handleEngineError(w, models.ErrTemplateNotFound)
			return
		}
	}

	c.Status = models.CampaignDraft
	c.StartedAt, c.CompletedAt = nil, nil
	if err := s.store.CreateCampaign(r.Context(), &c); err != nil {
		s.handleEngineError(w, err)
		return
	}
	s.sendJSON(w, http.StatusCreated, c)
}

// handleListCampaigns handles GET /api/v1/campaigns
func (s *Server) handleListCampaigns(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := models.CampaignListFilter{
		SalonID: q.Get("salon_id"),
		Status:  models.CampaignStatus(q.Get("status")),
		Limit:   100,
	}
	if v := q.Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 1000 {
			filter.Limit = n
		}
	}
	if v := q.Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			filter.Offset = n
		}
	}

	campaigns, err := s.store.ListCampaigns(r.Context(), filter)
	if err != nil {
		s.handleEngineError(w, err)
		return
	}
	s.sendJSON(w, http.StatusOK, campaigns)
}

// handleGetCampaign handles GET /api/v1/campaigns/{id}
func (s *Server) handleGetCampaign(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	c, err := s.store.GetCampaign(r.Context(), id)
	if err != nil {
		s.handleEngineError(w, err)
		return
	}
	if c == nil {
		s.handleEngineError(w, models.ErrCampaignNotFound)
		return
	}

	vs, err := s.store.ListVariants(r.Context(), id)
	if err != nil {
		s.handleEngineError(w, err)
		return
	}
	result, err := s.store.GetTestResult(r.Context(), id)
	if err != nil {
		s.handleEngineError(w, err)
		return
	}

	s.sendJSON(w, http.StatusOK, CampaignResponse{
		Campaign:   c,
		Variants:   vs,
		Result:     result,
		Monitoring: s.monitor.Registry().IsMonitoring(id),
	})
}

// handleStartCampaign handles POST /api/v1/campaigns/{id}/start
func (s *Server) handleStartCampaign(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	c, err := s.store.GetCampaign(r.Context(), id)
	if err != nil {
		s.handleEngineError(w, err)
		return
	}
	if c == nil {
		s.handleEngineError(w, models.ErrCampaignNotFound)
		return
	}
	if c.Status != models.CampaignDraft {
		s.handleEngineError(w, models.ErrCampaignNotDraft)
		return
	}

	vs, err := s.store.ListVariants(r.Context(), id)
	if err != nil {
		s.handleEngineError(w, err)
		return
	}
	if len(vs) < 2 {
		s.sendError(w, http.StatusBadRequest, "a campaign needs at least two variants to start")
		return
	}

	if err := s.store.StartCampaign(r.Context(), id, time.Now()); err != nil {
		s.handleEngineError(w, err)
		return
	}

	monitoring, err := s.monitor.StartMonitoring(r.Context(), id, triggeredByAPI)
	if err != nil {
		// the campaign is running, monitoring can be started later
		s.logger.Error("failed to start monitoring", "campaign_id", id, "error", err)
	}

	s.sendJSON(w, http.StatusOK, StartResponse{Status: string(models.CampaignRunning), Monitoring: monitoring})
}

// handleCancelCampaign handles POST /api/v1/campaigns/{id}/cancel
func (s *Server) handleCancelCampaign(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.store.CancelCampaign(r.Context(), id); err != nil {
		s.handleEngineError(w, err)
		return
	}
	s.monitor.StopMonitoring(r.Context(), id, triggeredByAPI)
	s.sendJSON(w, http.StatusOK, map[string]string{"status": string(models.CampaignCancelled)})
}

// handleCreateVariant handles POST /api/v1/campaigns/{id}/variants
func (s *Server) handleCreateVariant(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var v models.Variant
	if !s.decode(w, r, &v) {
		return
	}
	if v.Name == "" {
		s.sendError(w, http.StatusBadRequest, "name is required")
		return
	}
	if v.AudiencePercentage < 0 || v.AudiencePercentage > 100 {
		s.sendError(w, http.StatusBadRequest, "audience_percentage must be between 0 and 100")
		return
	}

	c, err := s.store.GetCampaign(r.Context(), id)
	if err != nil {
		s.handleEngineError(w, err)
		return
	}
	if c == nil {
		s.handleEngineError(w, models.ErrCampaignNotFound)
		return
	}
	if c.Status != models.CampaignDraft {
		s.handleEngineError(w, models.ErrCampaignNotDraft)
		return
	}

	v.CampaignID = id
	v.Status = models.VariantActive
	if err := s.store.CreateVariant(r.Context(), &v); err != nil {
		s.handleEngineError(w, err)
		return
	}
	s.sendJSON(w, http.StatusCreated, v)
}

// handleGetConfig handles GET /api/v1/salons/{salonID}/config
func (s *Server) handleGetConfig(w http.ResponseWriter, r *http.Request) {
	salonID := chi.URLParam(r, "salonID")
	stored, err := s.store.GetAutomationConfig(r.Context(), salonID)
	if err != nil {
		s.handleEngineError(w, err)
		return
	}
	s.sendJSON(w, http.StatusOK, models.EffectiveAutomationConfiguration(stored, salonID))
}

// handleSaveConfig handles PUT /api/v1/salons/{salonID}/config
func (s *Server) handleSaveConfig(w http.ResponseWriter, r *http.Request) {
	var c models.AutomationConfiguration
	if !s.decode(w, r, &c) {
		return
	}
	c.SalonID = chi.URLParam(r, "salonID")

	if c.AutoWinnerConfidenceLevel < 0 || c.AutoWinnerConfidenceLevel >= 100 {
		s.sendError(w, http.StatusBadRequest, "auto_winner_confidence_level must be a percentage below 100")
		return
	}
	if c.MinimumSampleSize < 0 || c.MinimumTestDurationHours < 0 || c.MonitoringIntervalMinutes < 0 ||
		c.MaxVariantsPerTest < 0 || c.PerformanceAlertThreshold < 0 || c.AlertCooldownMinutes < 0 {
		s.sendError(w, http.StatusBadRequest, "thresholds must not be negative")
		return
	}

	if err := s.store.SaveAutomationConfig(r.Context(), &c); err != nil {
		s.handleEngineError(w, err)
		return
	}
	s.sendJSON(w, http.StatusOK, c)
}

// handleListChannels handles GET /api/v1/salons/{salonID}/channels
func (s *Server) handleListChannels(w http.ResponseWriter, r *http.Request) {
	channels, err := s.store.ListActiveChannels(r.Context(), chi.URLParam(r, "salonID"))
	if err != nil {
		s.handleEngineError(w, err)
		return
	}
	s.sendJSON(w, http.StatusOK, channels)
}

// handleCreateChannel handles POST /api/v1/salons/{salonID}/channels
func (s *Server) handleCreateChannel(w http.ResponseWriter, r *http.Request) {
	var ch models.NotificationChannel
	if !s.decode(w, r, &ch) {
		return
	}
	ch.SalonID = chi.URLParam(r, "salonID")
	ch.Active = true

	if ch.Type != models.ChannelEmail && ch.Type != models.ChannelSMS {
		s.sendError(w, http.StatusBadRequest, "type must be email or sms")
		return
	}
	if ch.Destination == "" {
		s.sendError(w, http.StatusBadRequest, "destination is required")
		return
	}

	if err := s.store.CreateNotificationChannel(r.Context(), &ch); err != nil {
		s.handleEngineError(w, err)
		return
	}
	s.sendJSON(w, http.StatusCreated, ch)
}

// decode reads a JSON body into v, answering 400 on failure
func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		s.sendError(w, http.StatusBadRequest, "Invalid request body")
		return false
	}
	return true
}

// handleEngineError maps engine errors to HTTP statuses
func (s *Server) handleEngineError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, models.ErrCampaignNotFound),
		errors.Is(err, models.ErrVariantNotFound),
		errors.Is(err, models.ErrTemplateNotFound),
		errors.Is(err, models.ErrRuleNotFound):
		s.sendError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, models.ErrCampaignNotRunning),
		errors.Is(err, models.ErrCampaignNotDraft),
		errors.Is(err, monitor.ErrAlreadyMonitoring):
		s.sendError(w, http.StatusConflict, err.Error())
	case errors.Is(err, variants.ErrInvalidRule),
		errors.Is(err, winner.ErrInvalidRule),
		errors.Is(err, optimizer.ErrInvalidWindow):
		s.sendError(w, http.StatusBadRequest, err.Error())
	default:
		s.logger.Error("request failed", "error", err)
		s.sendError(w, http.StatusInternalServerError, "Internal server error")
	}
}

// sendJSON sends a JSON response
func (s *Server) sendJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// sendError sends an error response
func (s *Server) sendError(w http.ResponseWriter, status int, message string) {
	s.sendJSON(w, status, ErrorResponse{Error: message})
}
