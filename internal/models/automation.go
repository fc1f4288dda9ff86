package models

import "time"

// AutomationConfiguration holds per-salon automation toggles and thresholds
type AutomationConfiguration struct {
	SalonID                     string    `json:"salon_id"`
	EnableVariantGeneration     bool      `json:"enable_variant_generation"`
	EnablePerformanceMonitoring bool      `json:"enable_performance_monitoring"`
	EnableAutoWinnerSelection   bool      `json:"enable_auto_winner_selection"`
	EnableCampaignOptimization  bool      `json:"enable_campaign_optimization"`
	AutoWinnerConfidenceLevel   float64   `json:"auto_winner_confidence_level"` // percent
	MinimumSampleSize           int       `json:"minimum_sample_size"`
	MinimumTestDurationHours    int       `json:"minimum_test_duration_hours"`
	MonitoringIntervalMinutes   int       `json:"monitoring_interval_minutes"`
	MaxVariantsPerTest          int       `json:"max_variants_per_test"`
	PerformanceAlertThreshold   float64   `json:"performance_alert_threshold"` // percentage points
	AlertCooldownMinutes        int       `json:"alert_cooldown_minutes"`
	UpdatedAt                   time.Time `json:"updated_at"`
}

// DefaultAutomationConfiguration returns the configuration used when a salon
// has no stored record. Every automation is off.
func DefaultAutomationConfiguration(salonID string) *AutomationConfiguration {
	cfg := &AutomationConfiguration{SalonID: salonID}
	cfg.ApplyDefaults()
	return cfg
}

// EffectiveAutomationConfiguration returns the stored configuration with
// defaults applied, or the default configuration when none is stored.
func EffectiveAutomationConfiguration(stored *AutomationConfiguration, salonID string) *AutomationConfiguration {
	if stored == nil {
		return DefaultAutomationConfiguration(salonID)
	}
	cfg := *stored
	cfg.ApplyDefaults()
	return &cfg
}

// ApplyDefaults fills zero thresholds with their defaults
func (c *AutomationConfiguration) ApplyDefaults() {
	if c.AutoWinnerConfidenceLevel == 0 {
		c.AutoWinnerConfidenceLevel = 95
	}
	if c.MinimumSampleSize == 0 {
		c.MinimumSampleSize = 100
	}
	if c.MinimumTestDurationHours == 0 {
		c.MinimumTestDurationHours = 24
	}
	if c.MonitoringIntervalMinutes == 0 {
		c.MonitoringIntervalMinutes = 15
	}
	if c.MaxVariantsPerTest == 0 {
		c.MaxVariantsPerTest = 4
	}
	if c.PerformanceAlertThreshold == 0 {
		c.PerformanceAlertThreshold = 5
	}
	if c.AlertCooldownMinutes == 0 {
		c.AlertCooldownMinutes = 60
	}
}

// MonitoringInterval returns the monitoring cadence as a duration
func (c *AutomationConfiguration) MonitoringInterval() time.Duration {
	return time.Duration(c.MonitoringIntervalMinutes) * time.Minute
}

// AlertCooldown returns the per-channel alert cooldown as a duration
func (c *AutomationConfiguration) AlertCooldown() time.Duration {
	return time.Duration(c.AlertCooldownMinutes) * time.Minute
}

// MinimumTestDuration returns the minimum test duration as a duration
func (c *AutomationConfiguration) MinimumTestDuration() time.Duration {
	return time.Duration(c.MinimumTestDurationHours) * time.Hour
}

// NotificationChannel is a salon's alert destination
type NotificationChannel struct {
	ID          string    `json:"id"`
	SalonID     string    `json:"salon_id"`
	Type        string    `json:"type"` // email, sms
	Destination string    `json:"destination"`
	Active      bool      `json:"active"`
	CreatedAt   time.Time `json:"created_at"`
}

const (
	ChannelEmail = "email"
	ChannelSMS   = "sms"
)
