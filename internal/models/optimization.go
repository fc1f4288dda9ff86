package models

import "time"

// AlertType classifies monitoring alerts
type AlertType string

const (
	AlertEarlyWinner       AlertType = "early_winner"
	AlertSignificantChange AlertType = "significant_change"
	AlertPerformanceDrop   AlertType = "performance_drop"
	AlertTestComplete      AlertType = "test_complete"
)

// Severity of an alert
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Alert is an ephemeral monitoring finding
type Alert struct {
	CampaignID        string         `json:"campaign_id"`
	SalonID           string         `json:"salon_id"`
	Type              AlertType      `json:"alert_type"`
	Severity          Severity       `json:"severity"`
	Message           string         `json:"message"`
	RecommendedAction string         `json:"recommended_action"`
	VariantID         string         `json:"variant_id,omitempty"`
	Data              map[string]any `json:"data,omitempty"`
	CreatedAt         time.Time      `json:"created_at"`
}

// RecommendationType classifies optimization recommendations
type RecommendationType string

const (
	RecommendSendTime  RecommendationType = "send_time"
	RecommendAudience  RecommendationType = "audience"
	RecommendContent   RecommendationType = "content"
	RecommendChannel   RecommendationType = "channel"
	RecommendFrequency RecommendationType = "frequency"
)

// OptimizationRecommendation is an output of the campaign optimizer.
// ExpectedImprovement is a percentage.
type OptimizationRecommendation struct {
	ID                  string             `json:"id"`
	SalonID             string             `json:"salon_id"`
	CampaignID          string             `json:"campaign_id,omitempty"`
	Type                RecommendationType `json:"recommendation_type"`
	Title               string             `json:"title"`
	Description         string             `json:"description"`
	Data                map[string]any     `json:"data,omitempty"`
	ConfidenceScore     float64            `json:"confidence_score"`
	ExpectedImprovement float64            `json:"expected_improvement"`
	ImpactScore         float64            `json:"impact_score"`
	Priority            int                `json:"priority"`
	Status              string             `json:"status"` // active, expired
	ExpiresAt           time.Time          `json:"expires_at"`
	CreatedAt           time.Time          `json:"created_at"`
}

const (
	RecommendationActive  = "active"
	RecommendationExpired = "expired"
)

// RecommendationFilter for listing recommendations
type RecommendationFilter struct {
	SalonID    string
	CampaignID string
	Status     string
	Limit      int
}
