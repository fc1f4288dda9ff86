package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/foxzi/sendry-lab/internal/actionlog"
	"github.com/foxzi/sendry-lab/internal/config"
	"github.com/foxzi/sendry-lab/internal/db"
	"github.com/foxzi/sendry-lab/internal/models"
	"github.com/foxzi/sendry-lab/internal/monitor"
	"github.com/foxzi/sendry-lab/internal/notify"
	"github.com/foxzi/sendry-lab/internal/optimizer"
	"github.com/foxzi/sendry-lab/internal/repository"
	"github.com/foxzi/sendry-lab/internal/variants"
	"github.com/foxzi/sendry-lab/internal/winner"
)

// mockDispatcher records sent alerts
type mockDispatcher struct {
	mu   sync.Mutex
	sent []notify.Message
}

func (m *mockDispatcher) Send(ctx context.Context, msg notify.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, msg)
	return nil
}

func setupTestServer(t *testing.T, tokenHash string) (*Server, *repository.Store) {
	t.Helper()

	database, err := db.New(db.MemoryPath)
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	t.Cleanup(func() { database.Close() })
	if err := database.Migrate(); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := repository.New(database.DB)
	actions := actionlog.Nop{}

	selector := winner.NewSelector(store, actions, logger)
	mon := monitor.New(store, nil, &mockDispatcher{}, selector, actions, logger)
	t.Cleanup(mon.StopAll)

	cfg := &config.Config{API: config.APIConfig{TokenHash: tokenHash}}
	srv := NewServer(Deps{
		Store:     store,
		Generator: variants.NewGenerator(store, actions, logger),
		Monitor:   mon,
		Selector:  selector,
		Optimizer: optimizer.New(store, optimizer.DefaultTTL, actions, logger),
	}, cfg, "test", logger)

	return srv, store
}

func doRequest(t *testing.T, srv *Server, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("failed to encode body: %v", err)
		}
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	srv.router.ServeHTTP(w, req)
	return w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.NewDecoder(w.Body).Decode(v); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
}

func TestHealthEndpoint(t *testing.T) {
	srv, _ := setupTestServer(t, "")

	w := doRequest(t, srv, http.MethodGet, "/health", nil)
	if w.Code != http.StatusOK {
		t.Errorf("expected status 200, got %d", w.Code)
	}

	var resp HealthResponse
	decodeBody(t, w, &resp)
	if resp.Status != "ok" || resp.Version != "test" || resp.MonitoredCampaigns != 0 {
		t.Errorf("unexpected health response %+v", resp)
	}
}

func TestAuthMiddleware(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("secret-token"), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("failed to hash token: %v", err)
	}
	srv, _ := setupTestServer(t, string(hash))

	tests := []struct {
		name   string
		header string
		value  string
		want   int
	}{
		{"no token", "", "", http.StatusUnauthorized},
		{"wrong bearer", "Authorization", "Bearer wrong", http.StatusUnauthorized},
		{"valid bearer", "Authorization", "Bearer secret-token", http.StatusOK},
		{"valid api key", "X-API-Key", "secret-token", http.StatusOK},
		{"basic scheme", "Authorization", "Basic secret-token", http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/v1/campaigns", nil)
			if tt.header != "" {
				req.Header.Set(tt.header, tt.value)
			}
			w := httptest.NewRecorder()
			srv.router.ServeHTTP(w, req)
			if w.Code != tt.want {
				t.Errorf("expected status %d, got %d", tt.want, w.Code)
			}
		})
	}

	// health stays public
	w := doRequest(t, srv, http.MethodGet, "/health", nil)
	if w.Code != http.StatusOK {
		t.Errorf("expected health to bypass auth, got %d", w.Code)
	}
}

func TestAuthMiddlewareNoTokenConfigured(t *testing.T) {
	srv, _ := setupTestServer(t, "")

	w := doRequest(t, srv, http.MethodGet, "/api/v1/campaigns", nil)
	if w.Code != http.StatusOK {
		t.Errorf("expected status 200 without configured token, got %d", w.Code)
	}
}

func TestCreateCampaignValidation(t *testing.T) {
	srv, _ := setupTestServer(t, "")

	tests := []struct {
		name string
		body map[string]any
		want int
	}{
		{"missing salon", map[string]any{"name": "x", "test_type": "subject_line"}, http.StatusBadRequest},
		{"missing name", map[string]any{"salon_id": "salon-1", "test_type": "subject_line"}, http.StatusBadRequest},
		{"bad test type", map[string]any{"salon_id": "salon-1", "name": "x", "test_type": "color"}, http.StatusBadRequest},
		{"unknown template", map[string]any{"salon_id": "salon-1", "name": "x", "test_type": "content", "base_template_id": "missing"}, http.StatusNotFound},
		{"valid", map[string]any{"salon_id": "salon-1", "name": "x", "test_type": "content"}, http.StatusCreated},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := doRequest(t, srv, http.MethodPost, "/api/v1/campaigns", tt.body)
			if w.Code != tt.want {
				t.Errorf("expected status %d, got %d: %s", tt.want, w.Code, w.Body.String())
			}
		})
	}

	req := httptest.NewRequest(http.MethodPost, "/api/v1/campaigns", bytes.NewReader([]byte("{not json")))
	w := httptest.NewRecorder()
	srv.router.ServeHTTP(w, req)
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for malformed body, got %d", w.Code)
	}
}

func TestCampaignLifecycle(t *testing.T) {
	srv, store := setupTestServer(t, "")
	ctx := context.Background()

	w := doRequest(t, srv, http.MethodPost, "/api/v1/templates", models.Template{
		SalonID: "salon-1", Name: "Spring promo", Subject: "Spring sale", Content: "Book now", Channel: models.ChannelEmail,
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("create template: expected 201, got %d: %s", w.Code, w.Body.String())
	}
	var tmpl models.Template
	decodeBody(t, w, &tmpl)

	w = doRequest(t, srv, http.MethodPut, "/api/v1/salons/salon-1/config", models.AutomationConfiguration{
		EnableVariantGeneration:     true,
		EnablePerformanceMonitoring: true,
	})
	if w.Code != http.StatusOK {
		t.Fatalf("save config: expected 200, got %d: %s", w.Code, w.Body.String())
	}

	w = doRequest(t, srv, http.MethodPost, "/api/v1/salons/salon-1/rules", models.VariantRule{
		Name: "Urgency", TestType: models.TestSubjectLine, Transformation: variants.TransformUrgencyPrefix, Priority: 5, Active: true,
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("create rule: expected 201, got %d: %s", w.Code, w.Body.String())
	}

	w = doRequest(t, srv, http.MethodPost, "/api/v1/campaigns", models.TestCampaign{
		SalonID: "salon-1", Name: "Subject test", BaseTemplateID: tmpl.ID, TestType: models.TestSubjectLine,
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("create campaign: expected 201, got %d: %s", w.Code, w.Body.String())
	}
	var campaign models.TestCampaign
	decodeBody(t, w, &campaign)
	if campaign.Status != models.CampaignDraft {
		t.Errorf("expected draft campaign, got %s", campaign.Status)
	}
	base := "/api/v1/campaigns/" + campaign.ID

	// starting needs variants
	w = doRequest(t, srv, http.MethodPost, base+"/start", nil)
	if w.Code != http.StatusBadRequest {
		t.Errorf("start without variants: expected 400, got %d", w.Code)
	}

	w = doRequest(t, srv, http.MethodPost, base+"/variants/generate", nil)
	if w.Code != http.StatusCreated {
		t.Fatalf("generate variants: expected 201, got %d: %s", w.Code, w.Body.String())
	}
	var generated []models.Variant
	decodeBody(t, w, &generated)
	if len(generated) != 2 || !generated[0].IsControl {
		t.Fatalf("expected control and one variant, got %+v", generated)
	}

	w = doRequest(t, srv, http.MethodPost, base+"/start", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("start: expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var started StartResponse
	decodeBody(t, w, &started)
	if !started.Monitoring {
		t.Error("expected monitoring to start with the campaign")
	}

	w = doRequest(t, srv, http.MethodPost, base+"/monitoring", nil)
	if w.Code != http.StatusConflict {
		t.Errorf("duplicate monitoring: expected 409, got %d", w.Code)
	}

	// variants cannot be added once running
	w = doRequest(t, srv, http.MethodPost, base+"/variants", models.Variant{Name: "Late", AudiencePercentage: 10})
	if w.Code != http.StatusConflict {
		t.Errorf("variant on running campaign: expected 409, got %d", w.Code)
	}

	sentAt := time.Now().UTC()
	var deliveries []models.DeliveryRecord
	for i, v := range generated {
		for n := 0; n < 10; n++ {
			d := models.DeliveryRecord{
				SalonID: "salon-1", CampaignID: campaign.ID, VariantID: v.ID,
				Channel: models.ChannelEmail, Status: models.DeliveryDelivered, SentAt: &sentAt,
			}
			if n < 2+i*3 {
				d.OpenedAt = &sentAt
			}
			deliveries = append(deliveries, d)
		}
	}
	w = doRequest(t, srv, http.MethodPost, "/api/v1/deliveries", IngestRequest{Deliveries: deliveries})
	if w.Code != http.StatusAccepted {
		t.Fatalf("ingest: expected 202, got %d: %s", w.Code, w.Body.String())
	}

	w = doRequest(t, srv, http.MethodPost, base+"/check", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("check: expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var check monitor.CheckResult
	decodeBody(t, w, &check)
	if !check.Running || len(check.Variants) != 2 {
		t.Errorf("unexpected check result %+v", check)
	}

	w = doRequest(t, srv, http.MethodPost, base+"/analyze", winner.Options{DryRun: true})
	if w.Code != http.StatusOK {
		t.Fatalf("analyze: expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var analysis winner.Result
	decodeBody(t, w, &analysis)
	if analysis.Committed {
		t.Error("dry run must not commit")
	}

	w = doRequest(t, srv, http.MethodPost, base+"/winner", SelectWinnerRequest{VariantID: generated[1].ID})
	if w.Code != http.StatusOK {
		t.Fatalf("select winner: expected 200, got %d: %s", w.Code, w.Body.String())
	}

	w = doRequest(t, srv, http.MethodGet, base, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("get campaign: expected 200, got %d", w.Code)
	}
	var resp CampaignResponse
	decodeBody(t, w, &resp)
	if resp.Campaign.Status != models.CampaignCompleted {
		t.Errorf("expected completed campaign, got %s", resp.Campaign.Status)
	}
	if resp.Result == nil || resp.Result.WinnerVariantID != generated[1].ID || resp.Result.ActionTaken != models.ActionManualSelection {
		t.Errorf("unexpected test result %+v", resp.Result)
	}
	if resp.Monitoring {
		t.Error("expected monitoring to stop once a winner is selected")
	}

	w = doRequest(t, srv, http.MethodPost, base+"/winner", SelectWinnerRequest{VariantID: generated[1].ID})
	if w.Code != http.StatusConflict {
		t.Errorf("second selection: expected 409, got %d", w.Code)
	}

	stored, err := store.ListDeliveries(ctx, models.DeliveryFilter{CampaignID: campaign.ID})
	if err != nil {
		t.Fatalf("ListDeliveries() error = %v", err)
	}
	if len(stored) != 20 {
		t.Errorf("expected 20 stored deliveries, got %d", len(stored))
	}
}

func TestCampaignNotFound(t *testing.T) {
	srv, _ := setupTestServer(t, "")

	tests := []struct {
		method string
		path   string
		body   any
	}{
		{http.MethodGet, "/api/v1/campaigns/missing", nil},
		{http.MethodPost, "/api/v1/campaigns/missing/start", nil},
		{http.MethodPost, "/api/v1/campaigns/missing/cancel", nil},
		{http.MethodPost, "/api/v1/campaigns/missing/variants", models.Variant{Name: "B"}},
		{http.MethodPost, "/api/v1/campaigns/missing/monitoring", nil},
		{http.MethodPost, "/api/v1/campaigns/missing/winner", SelectWinnerRequest{VariantID: "v"}},
		{http.MethodDelete, "/api/v1/campaigns/missing/monitoring", nil},
	}

	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			w := doRequest(t, srv, tt.method, tt.path, tt.body)
			if w.Code != http.StatusNotFound {
				t.Errorf("expected 404, got %d: %s", w.Code, w.Body.String())
			}
		})
	}
}

func TestAnalyzeMissingCampaign(t *testing.T) {
	srv, _ := setupTestServer(t, "")

	w := doRequest(t, srv, http.MethodPost, "/api/v1/campaigns/missing/analyze", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var res winner.Result
	decodeBody(t, w, &res)
	if res.Success || res.Reason != "campaign not found" {
		t.Errorf("unexpected analysis %+v", res)
	}

	w = doRequest(t, srv, http.MethodPost, "/api/v1/campaigns/missing/analyze", winner.Options{ConfidenceLevel: 120})
	if w.Code != http.StatusBadRequest {
		t.Errorf("confidence 120: expected 400, got %d", w.Code)
	}
}

func TestCancelCampaign(t *testing.T) {
	srv, store := setupTestServer(t, "")
	ctx := context.Background()

	c := &models.TestCampaign{SalonID: "salon-1", Name: "Cancel me", TestType: models.TestContent}
	if err := store.CreateCampaign(ctx, c); err != nil {
		t.Fatalf("CreateCampaign() error = %v", err)
	}

	w := doRequest(t, srv, http.MethodPost, "/api/v1/campaigns/"+c.ID+"/cancel", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	w = doRequest(t, srv, http.MethodPost, "/api/v1/campaigns/"+c.ID+"/cancel", nil)
	if w.Code != http.StatusConflict {
		t.Errorf("second cancel: expected 409, got %d", w.Code)
	}
}

func TestIngestDeliveriesValidation(t *testing.T) {
	srv, _ := setupTestServer(t, "")

	tests := []struct {
		name string
		body IngestRequest
	}{
		{"empty", IngestRequest{}},
		{"missing salon", IngestRequest{Deliveries: []models.DeliveryRecord{{Status: models.DeliverySent}}}},
		{"missing status", IngestRequest{Deliveries: []models.DeliveryRecord{{SalonID: "salon-1"}}}},
		{"too many", IngestRequest{Deliveries: make([]models.DeliveryRecord, maxIngestBatch+1)}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := doRequest(t, srv, http.MethodPost, "/api/v1/deliveries", tt.body)
			if w.Code != http.StatusBadRequest {
				t.Errorf("expected 400, got %d", w.Code)
			}
		})
	}
}

func TestRuleEndpoints(t *testing.T) {
	srv, _ := setupTestServer(t, "")

	w := doRequest(t, srv, http.MethodPost, "/api/v1/salons/salon-1/rules", models.VariantRule{
		Name: "Shout", TestType: models.TestSubjectLine, Transformation: "shout", Priority: 5,
	})
	if w.Code != http.StatusBadRequest {
		t.Errorf("invalid rule: expected 400, got %d", w.Code)
	}

	w = doRequest(t, srv, http.MethodPost, "/api/v1/salons/salon-1/rules", models.VariantRule{
		Name: "Emoji", TestType: models.TestSubjectLine, Transformation: variants.TransformEmoji, Priority: 3, Active: true,
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("create rule: expected 201, got %d: %s", w.Code, w.Body.String())
	}
	var rule models.VariantRule
	decodeBody(t, w, &rule)
	if rule.ID == "" || rule.SalonID != "salon-1" {
		t.Fatalf("unexpected rule %+v", rule)
	}

	rule.Priority = 9
	w = doRequest(t, srv, http.MethodPut, "/api/v1/rules/"+rule.ID, rule)
	if w.Code != http.StatusOK {
		t.Errorf("update rule: expected 200, got %d: %s", w.Code, w.Body.String())
	}

	w = doRequest(t, srv, http.MethodGet, "/api/v1/salons/salon-1/rules", nil)
	var rules []models.VariantRule
	decodeBody(t, w, &rules)
	if len(rules) != 1 || rules[0].Priority != 9 {
		t.Errorf("unexpected rules %+v", rules)
	}

	w = doRequest(t, srv, http.MethodDelete, "/api/v1/rules/"+rule.ID, nil)
	if w.Code != http.StatusNoContent {
		t.Errorf("delete rule: expected 204, got %d", w.Code)
	}
	w = doRequest(t, srv, http.MethodDelete, "/api/v1/rules/"+rule.ID, nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("second delete: expected 404, got %d", w.Code)
	}
	w = doRequest(t, srv, http.MethodPut, "/api/v1/rules/"+rule.ID, rule)
	if w.Code != http.StatusNotFound {
		t.Errorf("update deleted rule: expected 404, got %d", w.Code)
	}
}

func TestConfigEndpoints(t *testing.T) {
	srv, _ := setupTestServer(t, "")

	w := doRequest(t, srv, http.MethodGet, "/api/v1/salons/salon-1/config", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var cfg models.AutomationConfiguration
	decodeBody(t, w, &cfg)
	if cfg.SalonID != "salon-1" || cfg.AutoWinnerConfidenceLevel != 95 || cfg.EnablePerformanceMonitoring {
		t.Errorf("unexpected default config %+v", cfg)
	}

	w = doRequest(t, srv, http.MethodPut, "/api/v1/salons/salon-1/config", models.AutomationConfiguration{AutoWinnerConfidenceLevel: 100})
	if w.Code != http.StatusBadRequest {
		t.Errorf("confidence 100: expected 400, got %d", w.Code)
	}
	w = doRequest(t, srv, http.MethodPut, "/api/v1/salons/salon-1/config", models.AutomationConfiguration{MinimumSampleSize: -1})
	if w.Code != http.StatusBadRequest {
		t.Errorf("negative sample size: expected 400, got %d", w.Code)
	}
}

func TestChannelEndpoints(t *testing.T) {
	srv, _ := setupTestServer(t, "")

	w := doRequest(t, srv, http.MethodPost, "/api/v1/salons/salon-1/channels", models.NotificationChannel{Type: "fax", Destination: "1"})
	if w.Code != http.StatusBadRequest {
		t.Errorf("bad type: expected 400, got %d", w.Code)
	}

	w = doRequest(t, srv, http.MethodPost, "/api/v1/salons/salon-1/channels", models.NotificationChannel{Type: models.ChannelSMS, Destination: "+15550100"})
	if w.Code != http.StatusCreated {
		t.Fatalf("create channel: expected 201, got %d: %s", w.Code, w.Body.String())
	}

	w = doRequest(t, srv, http.MethodGet, "/api/v1/salons/salon-1/channels", nil)
	var channels []models.NotificationChannel
	decodeBody(t, w, &channels)
	if len(channels) != 1 || channels[0].Destination != "+15550100" || !channels[0].Active {
		t.Errorf("unexpected channels %+v", channels)
	}
}

func TestOptimizationEndpoints(t *testing.T) {
	srv, _ := setupTestServer(t, "")

	w := doRequest(t, srv, http.MethodPost, "/api/v1/salons/salon-1/optimizations", GenerateOptimizationsRequest{Window: "14d"})
	if w.Code != http.StatusBadRequest {
		t.Errorf("bad window: expected 400, got %d", w.Code)
	}

	// optimization is disabled by default
	w = doRequest(t, srv, http.MethodPost, "/api/v1/salons/salon-1/optimizations", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("generate: expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var recs []models.OptimizationRecommendation
	decodeBody(t, w, &recs)
	if recs == nil || len(recs) != 0 {
		t.Errorf("expected empty recommendation list, got %+v", recs)
	}

	w = doRequest(t, srv, http.MethodGet, "/api/v1/salons/salon-1/optimizations", nil)
	if w.Code != http.StatusOK || w.Body.String() != "[]\n" {
		t.Errorf("list: expected empty JSON array, got %d %q", w.Code, w.Body.String())
	}
}
