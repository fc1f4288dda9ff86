package models

import (
	"sort"
	"time"
)

// CampaignStatus is the lifecycle state of a test campaign
type CampaignStatus string

const (
	CampaignDraft     CampaignStatus = "draft"
	CampaignRunning   CampaignStatus = "running"
	CampaignCompleted CampaignStatus = "completed"
	CampaignCancelled CampaignStatus = "cancelled"
)

// TestType identifies what a campaign experiments on
type TestType string

const (
	TestSubjectLine     TestType = "subject_line"
	TestContent         TestType = "content"
	TestSendTime        TestType = "send_time"
	TestChannel         TestType = "channel"
	TestPersonalization TestType = "personalization"
)

// Valid reports whether t is a known test type
func (t TestType) Valid() bool {
	switch t {
	case TestSubjectLine, TestContent, TestSendTime, TestChannel, TestPersonalization:
		return true
	}
	return false
}

// VariantStatus is the outcome state of a variant
type VariantStatus string

const (
	VariantActive VariantStatus = "active"
	VariantWinner VariantStatus = "winner"
	VariantLoser  VariantStatus = "loser"
)

// TestCampaign represents an A/B experiment owned by a salon
type TestCampaign struct {
	ID             string         `json:"id"`
	SalonID        string         `json:"salon_id"`
	Name           string         `json:"name"`
	BaseTemplateID string         `json:"base_template_id,omitempty"`
	TestType       TestType       `json:"test_type"`
	Status         CampaignStatus `json:"status"`
	StartedAt      *time.Time     `json:"started_at,omitempty"`
	CompletedAt    *time.Time     `json:"completed_at,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
}

// Elapsed returns how long the campaign has been running at now
func (c *TestCampaign) Elapsed(now time.Time) time.Duration {
	if c.StartedAt == nil {
		return 0
	}
	end := now
	if c.CompletedAt != nil {
		end = *c.CompletedAt
	}
	if end.Before(*c.StartedAt) {
		return 0
	}
	return end.Sub(*c.StartedAt)
}

// Variant is one treatment within a campaign
type Variant struct {
	ID                 string            `json:"id"`
	CampaignID         string            `json:"campaign_id"`
	Name               string            `json:"name"`
	IsControl          bool              `json:"is_control"`
	TemplateOverrides  map[string]string `json:"template_overrides,omitempty"`
	ChannelOverride    string            `json:"channel_override,omitempty"`
	AudiencePercentage int               `json:"audience_percentage"`
	Priority           int               `json:"priority"`
	Status             VariantStatus     `json:"status"`
	CreatedAt          time.Time         `json:"created_at"`
}

// Override keys recognised on a base template
const (
	OverrideSubject  = "subject"
	OverrideContent  = "content"
	OverrideChannel  = "channel"
	OverrideSendTime = "send_time"
)

// ControlVariant returns the control of a variant set.
// The variant flagged IsControl wins; otherwise the earliest created variant
// is used, with ties broken by priority and then ID.
func ControlVariant(variants []Variant) *Variant {
	if len(variants) == 0 {
		return nil
	}
	for i := range variants {
		if variants[i].IsControl {
			return &variants[i]
		}
	}

	ordered := make([]int, len(variants))
	for i := range ordered {
		ordered[i] = i
	}
	sort.SliceStable(ordered, func(a, b int) bool {
		va, vb := variants[ordered[a]], variants[ordered[b]]
		if !va.CreatedAt.Equal(vb.CreatedAt) {
			return va.CreatedAt.Before(vb.CreatedAt)
		}
		if va.Priority != vb.Priority {
			return va.Priority < vb.Priority
		}
		return va.ID < vb.ID
	})
	return &variants[ordered[0]]
}

// TestResult is the terminal record of a completed campaign
type TestResult struct {
	ID              string    `json:"id"`
	CampaignID      string    `json:"campaign_id"`
	WinnerVariantID string    `json:"winner_variant_id,omitempty"`
	Significance    bool      `json:"statistical_significance"`
	PValue          float64   `json:"p_value"`
	Improvement     float64   `json:"performance_improvement"`
	ActionTaken     string    `json:"action_taken"` // auto_winner, manual_selection
	CreatedAt       time.Time `json:"created_at"`
}

const (
	ActionAutoWinner      = "auto_winner"
	ActionManualSelection = "manual_selection"
)

// CampaignListFilter for filtering campaigns
type CampaignListFilter struct {
	SalonID string
	Status  CampaignStatus
	Limit   int
	Offset  int
}

// WinnerCommit is the terminal write of a campaign: the status transition,
// the result row, variant outcomes and the updated base template.
type WinnerCommit struct {
	CampaignID      string
	WinnerVariantID string
	Result          *TestResult
	Template        *Template // nil when the campaign has no base template
	CompletedAt     time.Time
}
