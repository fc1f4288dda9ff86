package optimizer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/foxzi/sendry-lab/internal/actionlog"
	"github.com/foxzi/sendry-lab/internal/models"
)

var testNow = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type mockStore struct {
	mu              sync.Mutex
	config          *models.AutomationConfiguration
	deliveries      []models.DeliveryRecord
	templates       []models.Template
	saved           []models.OptimizationRecommendation
	deliveryCalls   int
	templateCalls   int
	lastFilter      models.DeliveryFilter
	deliveriesError error
}

func (m *mockStore) GetAutomationConfig(_ context.Context, _ string) (*models.AutomationConfiguration, error) {
	return m.config, nil
}

func (m *mockStore) ListDeliveries(_ context.Context, f models.DeliveryFilter) ([]models.DeliveryRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deliveryCalls++
	m.lastFilter = f
	if m.deliveriesError != nil {
		return nil, m.deliveriesError
	}
	return m.deliveries, nil
}

func (m *mockStore) ListTemplates(_ context.Context, _ string) ([]models.Template, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.templateCalls++
	return m.templates, nil
}

func (m *mockStore) CreateRecommendation(_ context.Context, r *models.OptimizationRecommendation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saved = append(m.saved, *r)
	return nil
}

func (m *mockStore) ListRecommendations(_ context.Context, _ models.RecommendationFilter) ([]models.OptimizationRecommendation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saved, nil
}

type recordingSink struct {
	mu      sync.Mutex
	entries []actionlog.Entry
}

func (s *recordingSink) Record(_ context.Context, e actionlog.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, e)
	return nil
}

func enabledConfig() *models.AutomationConfiguration {
	return &models.AutomationConfiguration{SalonID: "salon-1", EnableCampaignOptimization: true}
}

func newTestOptimizer(store *mockStore, sink actionlog.Sink) *Optimizer {
	o := New(store, 0, sink, testLogger())
	o.now = func() time.Time { return testNow }
	return o
}

// sent builds n records sent at hour of consecutive days, the first engaged
// of which are opened
func sent(n, engaged, hour int) []models.DeliveryRecord {
	out := make([]models.DeliveryRecord, n)
	for i := range out {
		at := time.Date(2026, 3, 1+i%7, hour, 15, 0, 0, time.UTC)
		out[i] = models.DeliveryRecord{
			ID:        fmt.Sprintf("d-%02d-%03d", hour, i),
			SalonID:   "salon-1",
			Channel:   models.ChannelEmail,
			Status:    models.DeliveryDelivered,
			SentAt:    &at,
			CreatedAt: at,
		}
		if i < engaged {
			opened := at.Add(time.Hour)
			out[i].OpenedAt = &opened
		}
	}
	return out
}

// eveningHistory is 200 messages: 50 at 18:00 with 40% engagement and 150
// spread over the morning, 15% engagement overall
func eveningHistory() []models.DeliveryRecord {
	var records []models.DeliveryRecord
	records = append(records, sent(50, 20, 18)...)
	for hour := 8; hour < 14; hour++ {
		engaged := 2
		if hour >= 12 {
			engaged = 1
		}
		records = append(records, sent(25, engaged, hour)...)
	}
	return records
}

func TestGenerateOptimizationsDisabled(t *testing.T) {
	for name, cfg := range map[string]*models.AutomationConfiguration{
		"no config": nil,
		"disabled":  {SalonID: "salon-1"},
	} {
		t.Run(name, func(t *testing.T) {
			store := &mockStore{config: cfg, deliveries: eveningHistory()}
			recs, err := newTestOptimizer(store, nil).GenerateOptimizations(context.Background(), "salon-1", Options{})
			if err != nil {
				t.Fatalf("GenerateOptimizations failed: %v", err)
			}
			if recs == nil || len(recs) != 0 {
				t.Errorf("expected empty non-nil result, got %v", recs)
			}
			if store.deliveryCalls != 0 || store.templateCalls != 0 || len(store.saved) != 0 {
				t.Error("expected history to stay untouched")
			}
		})
	}
}

func TestAnalyzeSendTimeBelowMinimum(t *testing.T) {
	h := &history{deliveries: sent(49, 30, 18)}
	if rec := analyzeSendTime(h); rec != nil {
		t.Errorf("expected no recommendation below 50 messages, got %+v", rec)
	}
}

func TestAnalyzeSendTimeEveningPeak(t *testing.T) {
	rec := analyzeSendTime(&history{deliveries: eveningHistory()})
	if rec == nil {
		t.Fatal("expected a send time recommendation")
	}
	if got := rec.Data["recommendedTime"]; got != "18:00" {
		t.Errorf("expected recommendedTime 18:00, got %v", got)
	}
	if got := rec.Data["timezone"]; got != "UTC" {
		t.Errorf("expected hours to be reported in UTC, got %v", got)
	}
	if rec.Title != "Send campaigns at 18:00 UTC" {
		t.Errorf("unexpected title %q", rec.Title)
	}
	if math.Abs(rec.ExpectedImprovement-166.67) > 0.01 {
		t.Errorf("expected improvement ~166.67, got %.4f", rec.ExpectedImprovement)
	}

	// 200 messages across 7 hours
	wantConfidence := 0.6 + 0.15*200.0/500 + 0.15*7.0/24
	if math.Abs(rec.ConfidenceScore-wantConfidence) > 1e-9 {
		t.Errorf("expected confidence %.5f, got %.5f", wantConfidence, rec.ConfidenceScore)
	}
	if _, ok := rec.Data["recommendedDay"]; !ok {
		t.Error("expected recommendedDay in data")
	}
}

func TestAnalyzeSendTimeFlatEngagement(t *testing.T) {
	var records []models.DeliveryRecord
	for hour := 9; hour < 13; hour++ {
		records = append(records, sent(20, 4, hour)...)
	}
	if rec := analyzeSendTime(&history{deliveries: records}); rec != nil {
		t.Errorf("expected no recommendation for flat engagement, got %+v", rec)
	}
}

func TestAnalyzeSendTimeSmallBucketsIgnored(t *testing.T) {
	records := sent(60, 6, 10)
	// 4 messages at 22:00, all engaged, below the bucket minimum
	records = append(records, sent(4, 4, 22)...)
	if rec := analyzeSendTime(&history{deliveries: records}); rec != nil {
		t.Errorf("expected small bucket to be ignored, got %+v", rec)
	}
}

func segmented(segment string, n, engaged int) []models.DeliveryRecord {
	records := sent(n, engaged, 10)
	for i := range records {
		records[i].ID = segment + records[i].ID
		records[i].Segment = segment
	}
	return records
}

func TestAnalyzeAudience(t *testing.T) {
	var records []models.DeliveryRecord
	records = append(records, segmented("vip", 20, 10)...)
	records = append(records, segmented("regular", 20, 4)...)
	records = append(records, segmented("new", 20, 2)...)
	records = append(records, segmented("lapsed", 5, 5)...)

	rec := analyzeAudience(&history{deliveries: records})
	if rec == nil {
		t.Fatal("expected an audience recommendation")
	}
	// mean of 50%, 20% and 10%
	if math.Abs(rec.ExpectedImprovement-87.5) > 0.01 {
		t.Errorf("expected improvement 87.5, got %.4f", rec.ExpectedImprovement)
	}
	if rec.ConfidenceScore != 0.8 {
		t.Errorf("expected confidence 0.8, got %v", rec.ConfidenceScore)
	}
	top := rec.Data["topSegments"].([]map[string]any)
	if len(top) != 3 || top[0]["segment"] != "vip" {
		t.Errorf("unexpected top segments %v", top)
	}
	if rec.Data["segmentsTested"] != 3 {
		t.Errorf("expected small segment to be excluded, got %v", rec.Data["segmentsTested"])
	}
}

func TestAnalyzeAudienceSingleSegment(t *testing.T) {
	rec := analyzeAudience(&history{deliveries: segmented("vip", 30, 10)})
	if rec != nil {
		t.Errorf("expected no recommendation without a comparison, got %+v", rec)
	}
}

func templated(templateID string, n, engaged int) []models.DeliveryRecord {
	records := sent(n, engaged, 10)
	for i := range records {
		records[i].ID = templateID + records[i].ID
		records[i].TemplateID = templateID
	}
	return records
}

func contentHistory() *history {
	var records []models.DeliveryRecord
	records = append(records, templated("tpl-urgent", 10, 6)...)
	records = append(records, templated("tpl-plain", 10, 3)...)
	records = append(records, templated("tpl-long", 10, 1)...)
	records = append(records, templated("tpl-rare", 3, 3)...)

	return &history{
		deliveries: records,
		templates: map[string]*models.Template{
			"tpl-urgent": {ID: "tpl-urgent", Subject: "Last chance today 🎉 20% off", Content: "Book a visit."},
			"tpl-plain":  {ID: "tpl-plain", Subject: "Spring offers", Content: "Book a visit."},
			"tpl-long":   {ID: "tpl-long", Subject: "Discover our complete range of seasonal hair and beauty treatments for you", Content: "Book a visit."},
		},
	}
}

func TestAnalyzeContent(t *testing.T) {
	rec := analyzeContent(contentHistory())
	if rec == nil {
		t.Fatal("expected a content recommendation")
	}
	// 8 + 12 + 6 is capped
	if rec.ExpectedImprovement != 25 {
		t.Errorf("expected capped improvement 25, got %v", rec.ExpectedImprovement)
	}
	if rec.ConfidenceScore != 0.75 {
		t.Errorf("expected confidence 0.75, got %v", rec.ConfidenceScore)
	}

	performing := rec.Data["performingElements"].([]string)
	if len(performing) != 3 {
		t.Errorf("expected 3 performing elements, got %v", performing)
	}
	under := rec.Data["underperformingElements"].([]string)
	want := []string{"long_subject", "no_urgency", "no_emoji"}
	if len(under) != len(want) {
		t.Fatalf("expected %v, got %v", want, under)
	}
	for i := range want {
		if under[i] != want[i] {
			t.Errorf("element %d: expected %s, got %s", i, want[i], under[i])
		}
	}
	if rec.Data["templatesAnalyzed"] != 3 {
		t.Errorf("expected rare template to be excluded, got %v", rec.Data["templatesAnalyzed"])
	}
}

func TestAnalyzeContentTooFewTemplates(t *testing.T) {
	var records []models.DeliveryRecord
	records = append(records, templated("tpl-a", 10, 6)...)
	records = append(records, templated("tpl-b", 10, 1)...)
	if rec := analyzeContent(&history{deliveries: records}); rec != nil {
		t.Errorf("expected no recommendation with two templates, got %+v", rec)
	}
}

func TestHasUrgency(t *testing.T) {
	tests := []struct {
		text string
		want bool
	}{
		{"Book now", true},
		{"Offer ends tonight", true},
		{"Today only: 20% off", true},
		{"LAST CHANCE for spring colour", true},
		{"Don't miss our new stylists", true},
		{"Don’t miss our new stylists", true},
		{"Now booking: autumn slots", true},
		{"Let us know how your visit went", false},
		{"Snow day treatments", false},
		{"Bring your friends this weekend", false},
		{"Weekends are commonly busy", false},
		{"Finally, a new look", false},
		{"Unlimited blow-dries for members", false},
		{"", false},
	}

	for _, tt := range tests {
		if got := hasUrgency(tt.text); got != tt.want {
			t.Errorf("hasUrgency(%q) = %v, want %v", tt.text, got, tt.want)
		}
	}
}

func TestScore(t *testing.T) {
	tests := []struct {
		name         string
		recType      models.RecommendationType
		expected     float64
		confidence   float64
		wantImpact   float64
		wantPriority int
	}{
		{"priority 9", models.RecommendSendTime, 40, 0.5, 0.28, 9},
		{"priority 7", models.RecommendAudience, 30, 0.5, 0.24, 7},
		{"priority 5", models.RecommendChannel, 20, 0.5, 0.12, 5},
		{"priority 3", models.RecommendFrequency, 10, 0.5, 0.075, 3},
		{"impact capped", models.RecommendContent, 200, 0.75, 1, 9},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := &models.OptimizationRecommendation{
				Type:                tt.recType,
				ExpectedImprovement: tt.expected,
				ConfidenceScore:     tt.confidence,
			}
			score(rec)
			if math.Abs(rec.ImpactScore-tt.wantImpact) > 1e-9 {
				t.Errorf("expected impact %v, got %v", tt.wantImpact, rec.ImpactScore)
			}
			if rec.Priority != tt.wantPriority {
				t.Errorf("expected priority %d, got %d", tt.wantPriority, rec.Priority)
			}
		})
	}
}

func TestGenerateOptimizationsPersists(t *testing.T) {
	h := contentHistory()
	records := append(eveningHistory(), h.deliveries...)
	var templates []models.Template
	for _, tpl := range h.templates {
		templates = append(templates, *tpl)
	}

	store := &mockStore{config: enabledConfig(), deliveries: records, templates: templates}
	sink := &recordingSink{}
	o := newTestOptimizer(store, sink)

	recs, err := o.GenerateOptimizations(context.Background(), "salon-1", Options{Window: Window7d, CampaignID: "camp-1"})
	if err != nil {
		t.Fatalf("GenerateOptimizations failed: %v", err)
	}
	if len(recs) != 2 {
		t.Fatalf("expected send time and content recommendations, got %d", len(recs))
	}
	for i := 1; i < len(recs); i++ {
		prev := recs[i-1].ImpactScore * recs[i-1].ConfidenceScore
		cur := recs[i].ImpactScore * recs[i].ConfidenceScore
		if cur > prev {
			t.Errorf("recommendations not sorted at %d", i)
		}
	}

	for _, r := range recs {
		if r.ID == "" || r.SalonID != "salon-1" || r.CampaignID != "camp-1" {
			t.Errorf("unexpected identity %+v", r)
		}
		if r.Status != models.RecommendationActive || !r.ExpiresAt.Equal(testNow.Add(DefaultTTL)) {
			t.Errorf("unexpected lifecycle %s %v", r.Status, r.ExpiresAt)
		}
	}
	if len(store.saved) != 2 {
		t.Errorf("expected 2 saved recommendations, got %d", len(store.saved))
	}
	if len(sink.entries) != 2 || sink.entries[0].ActionType != actionlog.ActionOptimizationGenerated {
		t.Errorf("expected one action entry per recommendation, got %+v", sink.entries)
	}

	if want := testNow.Add(-7 * 24 * time.Hour); !store.lastFilter.Since.Equal(want) || store.lastFilter.CampaignID != "camp-1" {
		t.Errorf("unexpected history filter %+v", store.lastFilter)
	}
}

func TestGenerateOptimizationsLoadError(t *testing.T) {
	store := &mockStore{config: enabledConfig(), deliveriesError: errors.New("disk I/O error")}
	_, err := newTestOptimizer(store, nil).GenerateOptimizations(context.Background(), "salon-1", Options{})
	if err == nil {
		t.Fatal("expected load error")
	}
	if len(store.saved) != 0 {
		t.Error("expected nothing saved")
	}
}

func TestParseWindow(t *testing.T) {
	tests := []struct {
		in      string
		want    Window
		days    int
		wantErr bool
	}{
		{"", Window30d, 30, false},
		{"7d", Window7d, 7, false},
		{"90d", Window90d, 90, false},
		{"all", WindowAll, 365, false},
		{"14d", "", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			w, err := ParseWindow(tt.in)
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidWindow) {
					t.Errorf("expected ErrInvalidWindow, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if w != tt.want || w.Duration() != time.Duration(tt.days)*24*time.Hour {
				t.Errorf("got %s (%v)", w, w.Duration())
			}
		})
	}
}
